package domain

// PlaybackRequest is one inbound play trigger.
type PlaybackRequest struct {
	StreamURL   string `json:"url"`
	DisplayName string `json:"name"`
}

type PlayResult struct {
	Status       string   `json:"status"`
	Played       string   `json:"played"`
	ControlURL   string   `json:"control_url"`
	Strategy     string   `json:"strategy"`
	SetURIStatus int      `json:"set_uri_status"`
	PlayStatus   int      `json:"play_status"`
	Warnings     []string `json:"warnings,omitempty"`
}

// DeviceDescriptor is built fresh for every resolution attempt. ControlURL is
// always absolute once set.
type DeviceDescriptor struct {
	LocationURL string `json:"location_url,omitempty"`
	ControlURL  string `json:"control_url,omitempty"`
}

// StreamMetadata is a one-shot snapshot of what an ICY stream announces.
type StreamMetadata struct {
	ServerName string `json:"server_name"`
	Genre      string `json:"genre"`
	Bitrate    string `json:"bitrate"`
	NowPlaying string `json:"now_playing"`
}

const UnknownTitle = "Unknown"
