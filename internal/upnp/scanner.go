package upnp

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/wluberti/denonAVR-vTuner/internal/domain"
)

const probeTimeout = time.Second

var (
	// DefaultPorts and DefaultPaths are where Denon/Marantz firmwares have
	// been seen serving their device description, tried in this order.
	DefaultPorts = []int{8080, 80, 55000, 38067}
	DefaultPaths = []string{
		"/description.xml",
		"/upnp/desc/aios_device/aios_device.xml",
		"/DeviceDescription.xml",
	}
)

// FallbackControlURL is the last-resort guess used when nothing answered.
func FallbackControlURL(target string) string {
	return "http://" + net.JoinHostPort(target, "8080") + "/AVTransport/control"
}

// Scanner walks a fixed port/path matrix looking for a device description.
type Scanner struct {
	client    *http.Client
	describer *Describer
	ports     []int
	paths     []string
	logger    *slog.Logger
}

func NewScanner(describer *Describer, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if describer == nil {
		describer = NewDescriber(logger)
	}
	return &Scanner{
		client:    &http.Client{Transport: cleanhttp.DefaultPooledTransport(), Timeout: probeTimeout},
		describer: describer,
		ports:     DefaultPorts,
		paths:     DefaultPaths,
		logger:    logger,
	}
}

// Scan always returns a control URL: the first one found by Probe, or the
// hardcoded guess. A wrong guess surfaces later as a failed SOAP call.
func (s *Scanner) Scan(ctx context.Context, target string) string {
	if desc, ok := s.Probe(ctx, target); ok {
		return desc.ControlURL
	}
	return FallbackControlURL(target)
}

// Probe tries every port/path pair in order and stops at the first
// description that yields a control URL.
func (s *Scanner) Probe(ctx context.Context, target string) (domain.DeviceDescriptor, bool) {
	for _, port := range s.ports {
		for _, path := range s.paths {
			if ctx.Err() != nil {
				return domain.DeviceDescriptor{}, false
			}
			candidate := "http://" + net.JoinHostPort(target, strconv.Itoa(port)) + path
			if !s.answers(ctx, candidate) {
				continue
			}
			s.logger.Debug("scan_description_found", slog.String("url", candidate))
			desc, err := s.describer.Describe(ctx, candidate)
			if err != nil {
				s.logger.Debug("scan_description_unusable", slog.String("url", candidate), slog.String("error", err.Error()))
				continue
			}
			return desc, true
		}
	}
	return domain.DeviceDescriptor{}, false
}

func (s *Scanner) answers(ctx context.Context, candidate string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("scan_probe_error", slog.String("url", candidate), slog.String("error", err.Error()))
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDescriptionBodySize))
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
