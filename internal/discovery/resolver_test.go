package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wluberti/denonAVR-vTuner/internal/domain"
)

type fakeLocator struct {
	location string
	calls    int
	timeout  time.Duration
}

func (f *fakeLocator) Discover(_ context.Context, _ string, timeout time.Duration) (string, bool) {
	f.calls++
	f.timeout = timeout
	return f.location, f.location != ""
}

type fakeDescriber struct {
	byLocation map[string]string
	asked      []string
}

func (f *fakeDescriber) Describe(_ context.Context, location string) (domain.DeviceDescriptor, error) {
	f.asked = append(f.asked, location)
	control, ok := f.byLocation[location]
	if !ok {
		return domain.DeviceDescriptor{}, errors.New("no AVTransport service")
	}
	return domain.DeviceDescriptor{LocationURL: location, ControlURL: control}, nil
}

type fakeProber struct {
	desc  domain.DeviceDescriptor
	calls int
}

func (f *fakeProber) Probe(context.Context, string) (domain.DeviceDescriptor, bool) {
	f.calls++
	return f.desc, f.desc.ControlURL != ""
}

func TestResolveStopsAtSSDP(t *testing.T) {
	loc := &fakeLocator{location: "http://10.0.0.5:8080/desc.xml"}
	desc := &fakeDescriber{byLocation: map[string]string{
		"http://10.0.0.5:8080/desc.xml": "http://10.0.0.5:8080/upnp/control/AVTransport",
	}}
	scan := &fakeProber{}

	r := NewResolver(ResolverOptions{Locator: loc, Describer: desc, Prober: scan, SSDPTimeout: 2 * time.Second})
	got := r.Resolve(context.Background(), "10.0.0.5")

	want := Resolution{
		ControlURL:  "http://10.0.0.5:8080/upnp/control/AVTransport",
		LocationURL: "http://10.0.0.5:8080/desc.xml",
		Strategy:    StrategySSDP,
	}
	if got != want {
		t.Fatalf("Resolve = %+v, want %+v", got, want)
	}
	if scan.calls != 0 {
		t.Fatal("scanner must not run after SSDP succeeded")
	}
	if loc.timeout != 2*time.Second {
		t.Fatalf("expected the configured SSDP timeout, got %s", loc.timeout)
	}
}

func TestResolveFallsThroughInOrder(t *testing.T) {
	loc := &fakeLocator{location: "http://10.0.0.5:8080/broken.xml"}
	desc := &fakeDescriber{byLocation: map[string]string{
		"http://10.0.0.5/pinned.xml": "http://10.0.0.5/AVTransport/ctrl",
	}}
	scan := &fakeProber{}

	r := NewResolver(ResolverOptions{Locator: loc, Describer: desc, Prober: scan, DescriptionURL: "http://10.0.0.5/pinned.xml"})
	got := r.Resolve(context.Background(), "10.0.0.5")

	if got.Strategy != StrategyPinned || got.ControlURL != "http://10.0.0.5/AVTransport/ctrl" {
		t.Fatalf("expected the pinned description to win, got %+v", got)
	}
	if len(desc.asked) != 2 || desc.asked[0] != "http://10.0.0.5:8080/broken.xml" {
		t.Fatalf("expected SSDP location to be tried first, asked %v", desc.asked)
	}
	if scan.calls != 0 {
		t.Fatal("scanner must not run after the pinned description succeeded")
	}
}

func TestResolveUsesScanner(t *testing.T) {
	scan := &fakeProber{desc: domain.DeviceDescriptor{
		LocationURL: "http://10.0.0.5:80/description.xml",
		ControlURL:  "http://10.0.0.5:80/MediaRenderer/AVTransport/Control",
	}}
	r := NewResolver(ResolverOptions{Locator: &fakeLocator{}, Describer: &fakeDescriber{}, Prober: scan})

	got := r.Resolve(context.Background(), "10.0.0.5")
	if got.Strategy != StrategyScan || got.ControlURL != scan.desc.ControlURL {
		t.Fatalf("expected the scanner result, got %+v", got)
	}
}

func TestResolveAlwaysReturnsControlURL(t *testing.T) {
	r := NewResolver(ResolverOptions{Locator: &fakeLocator{}, Describer: &fakeDescriber{}, Prober: &fakeProber{}})

	got := r.Resolve(context.Background(), "10.0.0.5")
	if got.ControlURL != "http://10.0.0.5:8080/AVTransport/control" || got.Strategy != StrategyFallback {
		t.Fatalf("expected the hardcoded guess, got %+v", got)
	}
}

func TestResolveCancelledContextStillGuesses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loc := &fakeLocator{location: "http://10.0.0.5:8080/desc.xml"}

	got := NewResolver(ResolverOptions{Locator: loc, Describer: &fakeDescriber{}}).Resolve(ctx, "10.0.0.5")
	if got.Strategy != StrategyFallback || got.ControlURL == "" {
		t.Fatalf("expected a fallback guess, got %+v", got)
	}
	if loc.calls != 0 {
		t.Fatal("no strategy should run on a cancelled context")
	}
}

func TestStrategiesListsFallbackLast(t *testing.T) {
	r := NewResolver(ResolverOptions{
		Locator:        &fakeLocator{},
		Describer:      &fakeDescriber{},
		Prober:         &fakeProber{},
		DescriptionURL: "http://10.0.0.5/pinned.xml",
	})
	want := []string{StrategySSDP, StrategyPinned, StrategyScan, StrategyFallback}
	got := r.Strategies()
	if len(got) != len(want) {
		t.Fatalf("Strategies = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Strategies = %v, want %v", got, want)
		}
	}
}
