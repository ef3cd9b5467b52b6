package adapters

import "go2tv.app/go2tv/v2/devices"

// Discovery lists UPnP/DLNA renderers on the LAN.
type Discovery interface {
	LoadAllDevices(delaySeconds int) ([]devices.Device, error)
}

// StreamInspector answers questions about a source URL before it is handed
// to the receiver.
type StreamInspector interface {
	IsHLS(streamURL string) bool
}
