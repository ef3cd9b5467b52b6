package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"go2tv.app/go2tv/v2/devices"

	"github.com/wluberti/denonAVR-vTuner/internal/adapters"
	"github.com/wluberti/denonAVR-vTuner/internal/domain"
)

const (
	defaultTimeoutMS             = 2500
	reachabilityWait             = 400 * time.Millisecond
	defaultDiscoveryDelaySeconds = 1
	maxPerAttemptTimeoutMS       = 3000
)

var isReachableAddress = defaultReachableAddress

// Service lists DLNA media renderers on the LAN so a user can find the
// receiver address to configure. It plays no part in endpoint resolution.
type Service struct {
	adapter adapters.Discovery
}

func NewService(adapter adapters.Discovery) *Service {
	return &Service{adapter: adapter}
}

func (s *Service) ListRenderers(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error) {
	if s.adapter == nil {
		return nil, domain.NewError(domain.CodeInternal, "renderer discovery is not configured", nil)
	}
	if timeoutMS <= 0 {
		timeoutMS = defaultTimeoutMS
	}

	type loadResult struct {
		devices []devices.Device
		err     error
	}
	resultCh := make(chan loadResult, 1)

	go func() {
		loaded, err := s.loadAllDevicesUntilTimeout(ctx, timeoutMS)
		resultCh <- loadResult{devices: loaded, err: err}
	}()

	timeout := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return []domain.Device{}, nil
	case result := <-resultCh:
		if result.err != nil {
			if errors.Is(result.err, devices.ErrNoDeviceAvailable) {
				return []domain.Device{}, nil
			}
			return nil, result.err
		}

		renderers := normalizeDevices(result.devices)
		if !includeUnreachable {
			renderers = filterReachable(renderers)
		}
		sortDevices(renderers)
		return renderers, nil
	}
}

func (s *Service) loadAllDevicesUntilTimeout(ctx context.Context, timeoutMS int) ([]devices.Device, error) {
	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remainingMS := int(time.Until(deadline).Milliseconds())
		if remainingMS <= 0 {
			if errors.Is(lastErr, devices.ErrNoDeviceAvailable) || lastErr == nil {
				return []devices.Device{}, nil
			}
			return nil, lastErr
		}

		attemptDelaySeconds := timeoutToDelaySeconds(min(remainingMS, maxPerAttemptTimeoutMS))

		loaded, err := s.adapter.LoadAllDevices(attemptDelaySeconds)
		if err == nil {
			return loaded, nil
		}
		if !errors.Is(err, devices.ErrNoDeviceAvailable) {
			return nil, err
		}
		lastErr = err
	}
}

func timeoutToDelaySeconds(timeoutMS int) int {
	seconds := int(math.Ceil(float64(timeoutMS) / 1000.0))
	if seconds <= 0 {
		return defaultDiscoveryDelaySeconds
	}
	return seconds
}

// normalizeDevices keeps DLNA renderers only; a Chromecast cannot be driven
// over AVTransport.
func normalizeDevices(discovered []devices.Device) []domain.Device {
	result := make([]domain.Device, 0, len(discovered))
	for _, raw := range discovered {
		if !isDLNA(raw.Type) {
			continue
		}
		location := strings.TrimSpace(raw.Addr)
		result = append(result, domain.Device{
			ID:          stableID(location),
			Name:        strings.TrimSpace(raw.Name),
			Type:        strings.TrimSpace(raw.Type),
			Location:    location,
			Host:        hostOf(location),
			IsAudioOnly: raw.IsAudioOnly,
		})
	}
	return result
}

func filterReachable(all []domain.Device) []domain.Device {
	filtered := make([]domain.Device, 0, len(all))
	for _, dev := range all {
		if isReachableAddress(dev.Location, reachabilityWait) {
			filtered = append(filtered, dev)
		}
	}
	return filtered
}

func sortDevices(all []domain.Device) {
	sort.Slice(all, func(i, j int) bool {
		if !strings.EqualFold(all[i].Name, all[j].Name) {
			return strings.ToLower(all[i].Name) < strings.ToLower(all[j].Name)
		}
		if !strings.EqualFold(all[i].Location, all[j].Location) {
			return strings.ToLower(all[i].Location) < strings.ToLower(all[j].Location)
		}
		return all[i].ID < all[j].ID
	})
}

func isDLNA(kind string) bool {
	return strings.Contains(strings.ToLower(kind), "dlna")
}

func stableID(location string) string {
	sum := sha1.Sum([]byte(canonicalAddress(location)))
	return "dev_" + hex.EncodeToString(sum[:8])
}

func hostOf(location string) string {
	parsed, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

func canonicalAddress(address string) string {
	parsed, err := url.Parse(address)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(address))
	}

	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()
	if port == "" {
		if strings.EqualFold(parsed.Scheme, "https") {
			port = "443"
		} else {
			port = "80"
		}
	}

	path := strings.TrimSpace(strings.ToLower(parsed.EscapedPath()))
	if path == "" {
		path = "/"
	}

	return fmt.Sprintf("%s://%s%s", strings.ToLower(parsed.Scheme), net.JoinHostPort(host, port), path)
}

func defaultReachableAddress(address string, timeout time.Duration) bool {
	parsed, err := url.Parse(address)
	if err != nil || parsed.Host == "" {
		return false
	}

	hostPort := parsed.Host
	if parsed.Port() == "" {
		if strings.EqualFold(parsed.Scheme, "https") {
			hostPort = net.JoinHostPort(parsed.Hostname(), "443")
		} else {
			hostPort = net.JoinHostPort(parsed.Hostname(), "80")
		}
	}

	conn, err := net.DialTimeout("tcp", hostPort, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
