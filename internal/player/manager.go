// Package player turns a play request into a running stream on the
// receiver: resolve the AVTransport endpoint, route HTTPS sources through
// the local bridge, then issue SetAVTransportURI and Play.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/wluberti/denonAVR-vTuner/internal/adapters"
	"github.com/wluberti/denonAVR-vTuner/internal/avtransport"
	"github.com/wluberti/denonAVR-vTuner/internal/bridge"
	"github.com/wluberti/denonAVR-vTuner/internal/config"
	"github.com/wluberti/denonAVR-vTuner/internal/discovery"
	"github.com/wluberti/denonAVR-vTuner/internal/domain"
	"github.com/wluberti/denonAVR-vTuner/internal/metrics"
)

const (
	DefaultDisplayName = "vTuner Stream"

	statusProbePath    = "/goform/formNetAudio_StatusXml.xml"
	statusProbeTimeout = 2 * time.Second
	statusProbeMaxBody = 4 << 10

	outcomeOK             = "ok"
	outcomeConfigError    = "config_error"
	outcomeInvalid        = "invalid_request"
	outcomeTransportError = "transport_error"
)

type endpointResolver interface {
	Resolve(ctx context.Context, target string) discovery.Resolution
}

type transportController interface {
	Play(ctx context.Context, controlURL, streamURL, displayName string) (*avtransport.Result, error)
}

type Manager struct {
	cfg       *config.Config
	resolver  endpointResolver
	transport transportController
	inspector adapters.StreamInspector
	metrics   *metrics.Metrics
	logger    *slog.Logger

	localAddress func(explicit, receiver string, logger *slog.Logger) string
	statusClient *http.Client
}

type Options struct {
	Config    *config.Config
	Resolver  endpointResolver
	Transport transportController
	Inspector adapters.StreamInspector
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		cfg:          opts.Config,
		resolver:     opts.Resolver,
		transport:    opts.Transport,
		inspector:    opts.Inspector,
		metrics:      opts.Metrics,
		logger:       logger,
		localAddress: bridge.LocalAddress,
		statusClient: &http.Client{Transport: cleanhttp.DefaultPooledTransport(), Timeout: statusProbeTimeout},
	}
}

// PlayURL starts req on the configured receiver. Only a missing receiver,
// a bad URL or a transport-level SOAP failure is returned as an error;
// endpoint resolution always yields something to try.
func (m *Manager) PlayURL(ctx context.Context, req domain.PlaybackRequest) (*domain.PlayResult, error) {
	if m.resolver == nil || m.transport == nil {
		return nil, toolError(domain.CodeInternal, "player is not configured")
	}
	if err := m.cfg.RequireReceiver(); err != nil {
		m.metrics.PlayRequest(outcomeConfigError, "")
		return nil, domain.NewError(domain.CodeConfig, err.Error(), err)
	}

	source, err := validateSourceURL(req.StreamURL)
	if err != nil {
		m.metrics.PlayRequest(outcomeInvalid, "")
		return nil, err
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = DefaultDisplayName
	}

	logger := m.logger.With(slog.String("url", source), slog.String("receiver", m.cfg.ReceiverAddress))
	logger.Info("play_request", slog.String("name", name))

	resolution := m.resolver.Resolve(ctx, m.cfg.ReceiverAddress)

	var warnings []string
	played := source
	if isHTTPS(source) {
		local := m.localAddress(m.cfg.PublicHost, m.cfg.ReceiverAddress, logger)
		played = bridge.RewriteIfHTTPS(source, local, m.cfg.PublicPort)
		logger.Debug("stream_rewritten_to_proxy", slog.String("played", played))
		if local == "0.0.0.0" {
			warnings = append(warnings, "could not infer a local address the receiver can reach; set HOST_IP")
		}
	}
	if m.inspector != nil && m.inspector.IsHLS(source) {
		warnings = append(warnings, "source looks like an HLS playlist; the receiver expects a plain MP3 stream")
	}

	result, err := m.transport.Play(ctx, resolution.ControlURL, played, name)
	if err != nil {
		m.metrics.PlayRequest(outcomeTransportError, resolution.Strategy)
		logger.Error("play_failed",
			slog.String("control_url", resolution.ControlURL),
			slog.String("strategy", resolution.Strategy),
			slog.String("error", err.Error()),
		)
		return nil, withResolution(err, resolution)
	}

	if result.SetURIStatus >= http.StatusBadRequest {
		warnings = append(warnings, fmt.Sprintf("receiver answered SetAVTransportURI with http %d", result.SetURIStatus))
	}
	if result.PlayStatus >= http.StatusBadRequest {
		warnings = append(warnings, fmt.Sprintf("receiver answered Play with http %d", result.PlayStatus))
	}

	if m.cfg.Debug {
		m.probeStatus(ctx, logger)
	}

	m.metrics.PlayRequest(outcomeOK, resolution.Strategy)
	logger.Info("play_started",
		slog.String("played", played),
		slog.String("control_url", resolution.ControlURL),
		slog.String("strategy", resolution.Strategy),
	)

	return &domain.PlayResult{
		Status:       "success",
		Played:       played,
		ControlURL:   resolution.ControlURL,
		Strategy:     resolution.Strategy,
		SetURIStatus: result.SetURIStatus,
		PlayStatus:   result.PlayStatus,
		Warnings:     warnings,
	}, nil
}

// probeStatus logs the receiver's NetAudio status page. Some firmwares
// accept both SOAP actions and then show the real problem only there.
func (m *Manager) probeStatus(ctx context.Context, logger *slog.Logger) {
	statusURL := m.cfg.ReceiverURL(80) + statusProbePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return
	}
	resp, err := m.statusClient.Do(req)
	if err != nil {
		logger.Debug("receiver_status_unavailable", slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, statusProbeMaxBody))
	logger.Debug("receiver_status", slog.Int("status", resp.StatusCode), slog.String("body", string(body)))
}

func validateSourceURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", toolError(domain.CodeInvalidRequest, "Missing 'url' parameter")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", toolError(domain.CodeInvalidRequest, "stream url is invalid")
	}
	if !strings.EqualFold(u.Scheme, "http") && !strings.EqualFold(u.Scheme, "https") {
		return "", toolError(domain.CodeInvalidRequest, "stream url must use http or https")
	}
	if u.Hostname() == "" {
		return "", toolError(domain.CodeInvalidRequest, "stream url must include a host")
	}
	return raw, nil
}

func isHTTPS(raw string) bool {
	return strings.HasPrefix(strings.ToLower(raw), "https://")
}

func toolError(code, message string) *domain.Error {
	return &domain.Error{Code: code, Message: message}
}

func withResolution(err error, resolution discovery.Resolution) error {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = domain.NewError(domain.CodeTransport, "play failed", err)
	}
	if de.Details == nil {
		de.Details = map[string]any{}
	}
	de.Details["control_url"] = resolution.ControlURL
	de.Details["strategy"] = resolution.Strategy
	return de
}
