package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/desertbus-sensor/internal/logic"
	"github.com/sweeney/desertbus-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"money": func(v float64) string {
		return fmt.Sprintf("$%.2f", v)
	},
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Desert Bus Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; padding: 4px 8px; color: #fff; background: {{.Primary}}; border-bottom: 4px solid {{.Secondary}}; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Desert Bus{{if .HasData}} {{.Data.DBYear}}{{end}}</h1>

<h2>Run</h2>
{{if .HasData}}<table>
<tr><th>Bussing</th><td id="now-bussing" class="{{if .Data.NowBussing}}on{{else}}off{{end}}">{{if .Data.NowBussing}}yes{{else}}no{{end}}</td></tr>
<tr><th>Shift</th><td id="shift">{{if .Data.CurrentShift}}{{.Data.CurrentShift}}{{else}}unknown{{end}}</td></tr>
<tr><th>Start</th><td>{{.Data.StartTime.Format "2006-01-02 15:04 MST"}}</td></tr>
<tr><th>Hours purchased</th><td>{{.Data.RunPurchased}}</td></tr>
<tr><th>Total raised (stats)</th><td>{{money .Data.TotalRaised}}</td></tr>
<tr><th>Next hour</th><td>{{money .Data.NextHourPriceTotal}} ({{money .Data.NextHourPriceRemaining}} to go)</td></tr>
</table>{{else}}<p class="unknown">No stats fetched yet.</p>{{end}}
{{if .LastError}}<p class="unknown">Last error: {{.LastError}}</p>{{end}}

<h2>Live</h2>
<table>
<tr><th>Feed</th><td class="{{if .Live.Online}}connected{{else}}disconnected{{end}}">{{if .Live.Online}}online{{else}}offline{{end}}</td></tr>
{{if .Live.Online}}<tr><th>Total raised</th><td id="live-total">{{money .Live.TotalRaised}}</td></tr>{{end}}
<tr><th>Channel</th><td>{{.Config.Channel}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Stats</th><td>{{.Config.StatsURL}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollInterval}}</td></tr>
<tr><th>Last stats check</th><td>{{when .Poll.LastStatsCheck}}</td></tr>
<tr><th>Last omega check</th><td>{{when .Poll.LastOmegaCheck}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">Metrics</a></p>
</body>
</html>
`

var neutral = logic.ShiftColors{
	Primary:   logic.RGB{51, 51, 51},
	Secondary: logic.RGB{136, 136, 136},
}

func css(c logic.RGB) template.CSS {
	return template.CSS(fmt.Sprintf("rgb(%d, %d, %d)", c[0], c[1], c[2]))
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	colors := neutral
	if snap.HasData {
		if c, ok := logic.ColorsFor(snap.Data.CurrentShift); ok {
			colors = c
		}
	}
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime    time.Duration
		Primary   template.CSS
		Secondary template.CSS
	}{
		Snapshot:  snap,
		Uptime:    snap.Uptime(),
		Primary:   css(colors.Primary),
		Secondary: css(colors.Secondary),
	}
	indexTmpl.Execute(w, data)
}
