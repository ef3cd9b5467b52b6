package domain

// Device is a media renderer seen on the LAN.
type Device struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Location    string `json:"location"`
	Host        string `json:"host"`
	IsAudioOnly bool   `json:"is_audio_only"`
}

type Favorite struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Favicon string `json:"favicon,omitempty"`
	Bitrate int    `json:"bitrate,omitempty"`
	Codec   string `json:"codec,omitempty"`
	Country string `json:"countrycode,omitempty"`
}

// Station is a radio-browser search hit.
type Station struct {
	UUID        string `json:"stationuuid"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	URLResolved string `json:"url_resolved"`
	Homepage    string `json:"homepage"`
	Favicon     string `json:"favicon"`
	Tags        string `json:"tags"`
	CountryCode string `json:"countrycode"`
	Codec       string `json:"codec"`
	Bitrate     int    `json:"bitrate"`
}
