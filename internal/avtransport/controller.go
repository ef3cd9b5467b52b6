// Package avtransport drives a renderer's AVTransport service with the two
// SOAP actions needed to start a stream: SetAVTransportURI, then Play.
package avtransport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/wluberti/denonAVR-vTuner/internal/domain"
)

const (
	actionTimeout       = 5 * time.Second
	maxResponseBodySize = 64 << 10
)

// Result carries the HTTP outcome of each action. Non-2xx statuses are
// recorded, never turned into errors.
type Result struct {
	SetURIStatus int
	SetURIBody   string
	PlayStatus   int
	PlayBody     string
}

func (r *Result) OK() bool {
	return r != nil && is2xx(r.SetURIStatus) && is2xx(r.PlayStatus)
}

type Controller struct {
	client *http.Client
	logger *slog.Logger
}

func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		client: &http.Client{Transport: cleanhttp.DefaultPooledTransport(), Timeout: actionTimeout},
		logger: logger,
	}
}

// Play loads streamURL on the renderer at controlURL and starts it. Play is
// sent even when SetAVTransportURI came back with an error status, since
// some receivers reject the first call yet still take the URI.
func (c *Controller) Play(ctx context.Context, controlURL, streamURL, displayName string) (*Result, error) {
	result := &Result{}

	status, body, err := c.post(ctx, controlURL, ActionSetAVTransportURI, SetAVTransportURIEnvelope(streamURL, displayName))
	if err != nil {
		return nil, err
	}
	result.SetURIStatus, result.SetURIBody = status, body
	c.logAction(ActionSetAVTransportURI, controlURL, status, body)

	status, body, err = c.post(ctx, controlURL, ActionPlay, PlayEnvelope())
	if err != nil {
		return nil, err
	}
	result.PlayStatus, result.PlayBody = status, body
	c.logAction(ActionPlay, controlURL, status, body)

	return result, nil
}

func (c *Controller) post(ctx context.Context, controlURL, action, envelope string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, strings.NewReader(envelope))
	if err != nil {
		return 0, "", transportError(action, controlURL, "build request", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("SOAPAction", SOAPAction(action))

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", transportError(action, controlURL, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return 0, "", transportError(action, controlURL, "malformed response", err)
	}
	return resp.StatusCode, string(body), nil
}

func (c *Controller) logAction(action, controlURL string, status int, body string) {
	level := slog.LevelDebug
	if !is2xx(status) {
		level = slog.LevelWarn
	}
	c.logger.Log(context.Background(), level, "soap_action_response",
		slog.String("action", action),
		slog.String("control_url", controlURL),
		slog.Int("status", status),
		slog.String("body", body),
	)
}

func transportError(action, controlURL, what string, cause error) *domain.Error {
	e := domain.NewError(domain.CodeTransport, action+": "+what, cause)
	e.Details = map[string]any{"action": action, "control_url": controlURL}
	return e
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}
