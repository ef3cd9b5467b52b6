package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/wluberti/denonAVR-vTuner/internal/domain"
	"github.com/wluberti/denonAVR-vTuner/internal/upnp"
)

const (
	StrategySSDP     = "ssdp"
	StrategyPinned   = "pinned_description"
	StrategyScan     = "scan"
	StrategyFallback = "fallback"
)

type locator interface {
	Discover(ctx context.Context, target string, timeout time.Duration) (string, bool)
}

type describer interface {
	Describe(ctx context.Context, locationURL string) (domain.DeviceDescriptor, error)
}

type prober interface {
	Probe(ctx context.Context, target string) (domain.DeviceDescriptor, bool)
}

// Strategy is one way of finding the receiver's AVTransport endpoint.
type Strategy struct {
	Name    string
	Resolve func(ctx context.Context, target string) (domain.DeviceDescriptor, bool)
}

// Resolution always carries a control URL; Strategy says how it was found.
type Resolution struct {
	ControlURL  string `json:"control_url"`
	LocationURL string `json:"location_url,omitempty"`
	Strategy    string `json:"strategy"`
}

// Resolver runs its strategies in order and stops at the first hit. When all
// of them miss it returns the hardcoded guess rather than an error.
type Resolver struct {
	strategies []Strategy
	logger     *slog.Logger
}

type ResolverOptions struct {
	Locator        locator
	Describer      describer
	Prober         prober
	SSDPTimeout    time.Duration
	DescriptionURL string
	Logger         *slog.Logger
}

func NewResolver(opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var strategies []Strategy
	if opts.Locator != nil && opts.Describer != nil {
		strategies = append(strategies, SSDPStrategy(opts.Locator, opts.Describer, opts.SSDPTimeout, logger))
	}
	if opts.DescriptionURL != "" && opts.Describer != nil {
		strategies = append(strategies, PinnedStrategy(opts.Describer, opts.DescriptionURL, logger))
	}
	if opts.Prober != nil {
		strategies = append(strategies, ScanStrategy(opts.Prober))
	}
	return &Resolver{strategies: strategies, logger: logger}
}

// NewResolverWith is for callers that assemble their own strategy list.
func NewResolverWith(logger *slog.Logger, strategies ...Strategy) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{strategies: strategies, logger: logger}
}

func (r *Resolver) Strategies() []string {
	names := make([]string, 0, len(r.strategies)+1)
	for _, s := range r.strategies {
		names = append(names, s.Name)
	}
	return append(names, StrategyFallback)
}

func (r *Resolver) Resolve(ctx context.Context, target string) Resolution {
	for _, s := range r.strategies {
		if ctx.Err() != nil {
			break
		}
		started := time.Now()
		desc, ok := s.Resolve(ctx, target)
		if ok && desc.ControlURL != "" {
			r.logger.Info("endpoint_resolved",
				slog.String("strategy", s.Name),
				slog.String("control_url", desc.ControlURL),
				slog.Duration("elapsed", time.Since(started)),
			)
			return Resolution{ControlURL: desc.ControlURL, LocationURL: desc.LocationURL, Strategy: s.Name}
		}
		r.logger.Debug("endpoint_strategy_missed", slog.String("strategy", s.Name), slog.Duration("elapsed", time.Since(started)))
	}

	guess := upnp.FallbackControlURL(target)
	r.logger.Warn("endpoint_fallback_guess", slog.String("target", target), slog.String("control_url", guess))
	return Resolution{ControlURL: guess, Strategy: StrategyFallback}
}

func SSDPStrategy(l locator, d describer, timeout time.Duration, logger *slog.Logger) Strategy {
	return Strategy{
		Name: StrategySSDP,
		Resolve: func(ctx context.Context, target string) (domain.DeviceDescriptor, bool) {
			location, ok := l.Discover(ctx, target, timeout)
			if !ok {
				return domain.DeviceDescriptor{}, false
			}
			return describe(ctx, d, location, logger)
		},
	}
}

// PinnedStrategy reads a description at a configured location, for
// receivers that do not answer M-SEARCH.
func PinnedStrategy(d describer, locationURL string, logger *slog.Logger) Strategy {
	return Strategy{
		Name: StrategyPinned,
		Resolve: func(ctx context.Context, _ string) (domain.DeviceDescriptor, bool) {
			return describe(ctx, d, locationURL, logger)
		},
	}
}

func ScanStrategy(p prober) Strategy {
	return Strategy{Name: StrategyScan, Resolve: p.Probe}
}

func describe(ctx context.Context, d describer, location string, logger *slog.Logger) (domain.DeviceDescriptor, bool) {
	desc, err := d.Describe(ctx, location)
	if err != nil {
		logger.Debug("description_unusable", slog.String("location", location), slog.String("error", err.Error()))
		return domain.DeviceDescriptor{}, false
	}
	return desc, true
}
