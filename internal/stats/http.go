package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sweeney/desertbus-sensor/internal/logic"
)

// HTTPClient implements Fetcher and OmegaChecker against the stats host.
type HTTPClient struct {
	Client  *http.Client
	BaseURL string
}

// NewHTTPClient creates a client for baseURL. timeout bounds every request;
// a stalled request holds its caller until it fires.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		Client:  &http.Client{Timeout: timeout},
		BaseURL: strings.TrimRight(baseURL, "/"),
	}
}

// StatsURL returns the stats file location for the given edition.
func (c *HTTPClient) StatsURL(year int) string {
	return fmt.Sprintf("%s/DB%d/data/DB%d_stats.json", c.BaseURL, year, year)
}

// OmegaURL returns the Omega flag location.
func (c *HTTPClient) OmegaURL() string {
	return c.BaseURL + "/Resources/isitomegashift.html"
}

// FetchStats downloads and decodes the stats file for year.
func (c *HTTPClient) FetchStats(ctx context.Context, year int) (logic.Record, error) {
	body, err := c.get(ctx, c.StatsURL(year))
	if err != nil {
		return logic.Record{}, err
	}

	var records []logic.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return logic.Record{}, fmt.Errorf("decode stats for DB%d: %w", year, err)
	}
	if len(records) == 0 {
		return logic.Record{}, fmt.Errorf("DB%d: %w", year, ErrEmptyRecord)
	}
	return records[0], nil
}

// OmegaActive reads the flag page; a body of "1" means Omega Shift is on.
func (c *HTTPClient) OmegaActive(ctx context.Context) (bool, error) {
	body, err := c.get(ctx, c.OmegaURL())
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(body)) == "1", nil
}

func (c *HTTPClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("GET %s: %w", url, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("GET %s: http %d: %s", url, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}
