package diagnostics

import (
	"log/slog"

	"github.com/wluberti/denonAVR-vTuner/internal/bridge"
	"github.com/wluberti/denonAVR-vTuner/internal/buildinfo"
	"github.com/wluberti/denonAVR-vTuner/internal/config"
)

var localAddress = bridge.LocalAddress

type ReceiverStatus struct {
	Configured     bool   `json:"configured"`
	Address        string `json:"address,omitempty"`
	DescriptionURL string `json:"description_url,omitempty"`
}

type ProxyStatus struct {
	LocalAddress string `json:"local_address"`
	Source       string `json:"source"`
	BaseURL      string `json:"base_url"`
	Routable     bool   `json:"routable"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type AdapterStatus struct {
	DiscoveryWired bool `json:"discovery_wired"`
	InspectorWired bool `json:"inspector_wired"`
}

type Report struct {
	Server               ServerInfo     `json:"server"`
	Receiver             ReceiverStatus `json:"receiver"`
	Proxy                ProxyStatus    `json:"proxy"`
	ResolutionStrategies []string       `json:"resolution_strategies"`
	Go2TVAdapters        AdapterStatus  `json:"go2tv_adapters"`
	Ready                bool           `json:"ready"`
}

type Wiring struct {
	Strategies     []string
	DiscoveryWired bool
	InspectorWired bool
}

// SelfTest reports what the process would do with the current configuration
// without contacting the receiver. Inferring the local address only dials
// UDP, which sends nothing.
func SelfTest(cfg *config.Config, wiring Wiring, logger *slog.Logger) Report {
	r := Report{
		Server:               ServerInfo{Name: "denon-vtuner", Version: buildinfo.Version},
		ResolutionStrategies: wiring.Strategies,
		Go2TVAdapters: AdapterStatus{
			DiscoveryWired: wiring.DiscoveryWired,
			InspectorWired: wiring.InspectorWired,
		},
	}

	r.Receiver.Configured = cfg.RequireReceiver() == nil
	r.Receiver.Address = cfg.ReceiverAddress
	r.Receiver.DescriptionURL = cfg.DescriptionURL

	switch {
	case cfg.PublicHost != "":
		r.Proxy.LocalAddress = cfg.PublicHost
		r.Proxy.Source = "config"
	case r.Receiver.Configured:
		r.Proxy.LocalAddress = localAddress("", cfg.ReceiverAddress, logger)
		r.Proxy.Source = "inferred"
	default:
		r.Proxy.LocalAddress = "0.0.0.0"
		r.Proxy.Source = "unavailable"
	}
	r.Proxy.Routable = r.Proxy.LocalAddress != "0.0.0.0"
	r.Proxy.BaseURL = bridge.BaseURL(r.Proxy.LocalAddress, cfg.PublicPort) + bridge.ProxyPath

	r.Ready = r.Receiver.Configured && r.Proxy.Routable
	return r
}
