package avtransport

import (
	"html"
	"strings"
)

const (
	// DLNAFlags marks the stream as streaming-transfer, connection-stall
	// capable live content.
	DLNAFlags    = "01700000000000000000000000000000"
	DLNAFeatures = "DLNA.ORG_PN=MP3;DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=" + DLNAFlags
	ProtocolInfo = "http-get:*:audio/mpeg:" + DLNAFeatures

	audioBroadcastClass = "object.item.audioItem.audioBroadcast"
)

// Item is the single DIDL-Lite entry describing the stream handed to the
// renderer.
type Item struct {
	ID           string
	ParentID     string
	Title        string
	StreamURI    string
	ProtocolInfo string
}

func NewItem(title, streamURI string) Item {
	return Item{
		ID:           "0",
		ParentID:     "0",
		Title:        title,
		StreamURI:    streamURI,
		ProtocolInfo: ProtocolInfo,
	}
}

// Render produces the DIDL-Lite document. Title and URI are escaped here,
// once, as element text.
func (i Item) Render() string {
	var b strings.Builder
	b.WriteString(`<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns:dlna="urn:schemas-dlna-org:metadata-1-0/">`)
	b.WriteString("\n")
	b.WriteString(`<item id="` + html.EscapeString(i.ID) + `" parentID="` + html.EscapeString(i.ParentID) + `" restricted="1">`)
	b.WriteString("\n<dc:title>" + html.EscapeString(i.Title) + "</dc:title>\n")
	b.WriteString("<upnp:class>" + audioBroadcastClass + "</upnp:class>\n")
	b.WriteString(`<res protocolInfo="` + html.EscapeString(i.ProtocolInfo) + `">` + html.EscapeString(i.StreamURI) + "</res>\n")
	b.WriteString("</item>\n</DIDL-Lite>")
	return b.String()
}

// EscapeDocument is the second, independent pass: the rendered DIDL-Lite
// document becomes text content of CurrentURIMetaData.
func EscapeDocument(doc string) string {
	return html.EscapeString(doc)
}
