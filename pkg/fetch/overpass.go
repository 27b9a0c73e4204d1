package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// DefaultOverpassURL is the public Overpass API interpreter.
const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// OverpassClient fetches highway ways and their nodes from an Overpass API.
type OverpassClient struct {
	URL           string
	HTTP          *http.Client
	ServerTimeout time.Duration // [timeout:N] sent to the server
	UserAgent     string
}

// NewOverpassClient returns a client for the given interpreter URL.
func NewOverpassClient(endpoint string) *OverpassClient {
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	return &OverpassClient{
		URL:           endpoint,
		HTTP:          &http.Client{},
		ServerTimeout: 25 * time.Second,
		UserAgent:     "astar_router",
	}
}

// Query renders the Overpass QL for every highway way inside bbox.
func (c *OverpassClient) Query(bbox orb.Bound) string {
	return fmt.Sprintf(
		`[out:json][timeout:%d];(way["highway"](%f,%f,%f,%f););(._;>;);out body;`,
		int(c.ServerTimeout.Seconds()),
		bbox.Min.Lat(), bbox.Min.Lon(), bbox.Max.Lat(), bbox.Max.Lon(),
	)
}

// Fetch posts the query and returns the response body on HTTP 200.
// 429 and 504 are reported as ErrRateLimited.
func (c *OverpassClient) Fetch(ctx context.Context, bbox orb.Bound) (io.ReadCloser, error) {
	form := url.Values{"data": {c.Query(bbox)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	resp.Body.Close()

	statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusGatewayTimeout {
		return nil, fmt.Errorf("%w: %w", ErrRateLimited, statusErr)
	}
	return nil, statusErr
}
