package go2tv

import (
	"go2tv.app/go2tv/v2/devices"
	"go2tv.app/go2tv/v2/utils"

	"github.com/wluberti/denonAVR-vTuner/internal/adapters"
)

// Bundle wires all external go2tv-backed adapters in one place.
type Bundle struct {
	Discovery adapters.Discovery
	Inspector adapters.StreamInspector
}

func NewBundle() Bundle {
	return Bundle{
		Discovery: DiscoveryAdapter{},
		Inspector: StreamInspector{},
	}
}

type DiscoveryAdapter struct{}

func (DiscoveryAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	return devices.LoadAllDevices(delaySeconds)
}

type StreamInspector struct{}

// IsHLS reports playlist URLs, which a receiver expecting a raw MP3 stream
// cannot play.
func (StreamInspector) IsHLS(streamURL string) bool {
	return utils.IsHLSStream(streamURL, "")
}

var (
	_ adapters.Discovery       = DiscoveryAdapter{}
	_ adapters.StreamInspector = StreamInspector{}
)
