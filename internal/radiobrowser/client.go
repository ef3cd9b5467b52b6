// Package radiobrowser searches the public radio-browser.info station
// directory.
package radiobrowser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/wluberti/denonAVR-vTuner/internal/domain"
)

const (
	searchPath     = "/json/stations/search"
	searchLimit    = 20
	requestTimeout = 5 * time.Second
	maxBodySize    = 4 << 20
)

type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// NewClient retries transient failures; the directory is a public service
// behind DNS round-robin and the odd 5xx is normal.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.HTTPClient.Timeout = requestTimeout
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = logger

	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: rc}
}

// Search returns up to 20 working stations matching name, most clicked
// first. An empty name yields an empty slice without a request.
func (c *Client) Search(ctx context.Context, name string) ([]domain.Station, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return []domain.Station{}, nil
	}

	q := url.Values{}
	q.Set("name", name)
	q.Set("limit", fmt.Sprint(searchLimit))
	q.Set("hidebroken", "true")
	q.Set("order", "clickcount")
	q.Set("reverse", "true")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+searchPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, domain.NewError(domain.CodeInternal, "build search request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "denon-vtuner")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.CodeUpstreamUnavailable, "station search failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewError(domain.CodeUpstreamUnavailable, fmt.Sprintf("station search returned http %d", resp.StatusCode), nil)
	}

	stations := []domain.Station{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&stations); err != nil {
		return nil, domain.NewError(domain.CodeUpstreamUnavailable, "decode station search", err)
	}
	return stations, nil
}
