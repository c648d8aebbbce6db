package sensor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sweeney/desertbus-sensor/internal/mqtt"
)

// Availability payloads on the availability topic.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics configures where sensors are published.
type Topics struct {
	// DiscoveryPrefix is the Home Assistant discovery prefix.
	DiscoveryPrefix string
	// Prefix is the root of state and availability topics.
	Prefix string
}

// Availability returns the daemon's online/offline topic.
func (t Topics) Availability() string {
	return t.Prefix + "/availability"
}

// OfflineMessage is the retained offline availability message, also used as
// the broker will.
func (t Topics) OfflineMessage() mqtt.Message {
	return mqtt.Message{Topic: t.Availability(), Payload: []byte(PayloadOffline), QoS: 1, Retained: true}
}

// Device groups all sensors in Home Assistant.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	EntryType    string   `json:"entry_type,omitempty"`
}

// Availability is one entry of a discovery config's availability list.
type Availability struct {
	Topic         string `json:"topic"`
	ValueTemplate string `json:"value_template,omitempty"`
}

// DiscoveryConfig is the retained discovery message for one sensor.
type DiscoveryConfig struct {
	Name                   string         `json:"name"`
	UniqueID               string         `json:"unique_id"`
	ObjectID               string         `json:"object_id"`
	StateTopic             string         `json:"state_topic"`
	ValueTemplate          string         `json:"value_template"`
	JSONAttributesTopic    string         `json:"json_attributes_topic"`
	JSONAttributesTemplate string         `json:"json_attributes_template"`
	Availability           []Availability `json:"availability"`
	AvailabilityMode       string         `json:"availability_mode"`
	Icon                   string         `json:"icon,omitempty"`
	Unit                   string         `json:"unit_of_measurement,omitempty"`
	DeviceClass            string         `json:"device_class,omitempty"`
	StateClass             string         `json:"state_class,omitempty"`
	Options                []string       `json:"options,omitempty"`
	Device                 Device         `json:"device"`
}

// StatePayload is the JSON published on a sensor's state topic.
type StatePayload struct {
	State      any            `json:"state"`
	Attributes map[string]any `json:"attributes"`
	Available  bool           `json:"available"`
}

var device = Device{
	Identifiers:  []string{"desertbus"},
	Name:         "Desert Bus",
	Manufacturer: "Desert Bus for Hope",
	EntryType:    "service",
}

// Publisher publishes sensor discovery configs and states.
type Publisher struct {
	pub    mqtt.Publisher
	topics Topics
	log    zerolog.Logger
}

// NewPublisher creates a Publisher writing to pub.
func NewPublisher(pub mqtt.Publisher, topics Topics, log zerolog.Logger) *Publisher {
	return &Publisher{
		pub:    pub,
		topics: topics,
		log:    log.With().Str("component", "sensor").Logger(),
	}
}

// AvailabilityTopic is where the daemon's online/offline status goes.
func (p *Publisher) AvailabilityTopic() string {
	return p.topics.Availability()
}

// StateTopic returns the state topic for a sensor key.
func (p *Publisher) StateTopic(key string) string {
	return p.topics.Prefix + "/" + key + "/state"
}

// ConfigTopic returns the discovery topic for a sensor.
func (p *Publisher) ConfigTopic(def Definition) string {
	return p.topics.DiscoveryPrefix + "/sensor/" + def.UniqueID() + "/config"
}

// Discovery builds the discovery config for def.
func (p *Publisher) Discovery(def Definition) DiscoveryConfig {
	state := p.StateTopic(def.Key)
	return DiscoveryConfig{
		Name:                   def.Name,
		UniqueID:               def.UniqueID(),
		ObjectID:               def.UniqueID(),
		StateTopic:             state,
		ValueTemplate:          "{{ value_json.state }}",
		JSONAttributesTopic:    state,
		JSONAttributesTemplate: "{{ value_json.attributes | tojson }}",
		Availability: []Availability{
			{Topic: p.AvailabilityTopic()},
			{Topic: state, ValueTemplate: "{{ 'online' if value_json.available else 'offline' }}"},
		},
		AvailabilityMode: "all",
		Icon:             def.Icon,
		Unit:             def.Unit,
		DeviceClass:      def.DeviceClass,
		StateClass:       def.StateClass,
		Options:          def.Options,
		Device:           device,
	}
}

// PublishDiscovery publishes the retained discovery config of every sensor.
func (p *Publisher) PublishDiscovery() error {
	var errs []error
	for _, def := range Definitions {
		data, err := json.Marshal(p.Discovery(def))
		if err != nil {
			errs = append(errs, fmt.Errorf("discovery %s: %w", def.Key, err))
			continue
		}
		msg := mqtt.Message{Topic: p.ConfigTopic(def), Payload: data, QoS: 1, Retained: true}
		if err := p.pub.Publish(msg); err != nil {
			errs = append(errs, fmt.Errorf("discovery %s: %w", def.Key, err))
		}
	}
	return errors.Join(errs...)
}

// PublishAvailability publishes the retained daemon availability.
func (p *Publisher) PublishAvailability(online bool) error {
	if !online {
		return p.pub.Publish(p.topics.OfflineMessage())
	}
	return p.pub.Publish(mqtt.Message{Topic: p.AvailabilityTopic(), Payload: []byte(PayloadOnline), QoS: 1, Retained: true})
}

// PublishStates publishes each state, retained, to its state topic. It
// keeps going past failures and returns them joined.
func (p *Publisher) PublishStates(states []State) error {
	var errs []error
	for _, s := range states {
		attrs := s.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		data, err := json.Marshal(StatePayload{State: s.Value, Attributes: attrs, Available: s.Available})
		if err != nil {
			errs = append(errs, fmt.Errorf("state %s: %w", s.Key, err))
			continue
		}
		if err := p.pub.Publish(mqtt.Message{Topic: p.StateTopic(s.Key), Payload: data, QoS: 1, Retained: true}); err != nil {
			errs = append(errs, fmt.Errorf("state %s: %w", s.Key, err))
		}
	}
	if len(errs) > 0 {
		p.log.Warn().Int("failed", len(errs)).Msg("publishing sensor states")
	}
	return errors.Join(errs...)
}
