package avtransport

import (
	"fmt"
	"html"
)

const (
	ServiceType = "urn:schemas-upnp-org:service:AVTransport:1"

	ActionSetAVTransportURI = "SetAVTransportURI"
	ActionPlay              = "Play"

	ContentType = `text/xml; charset="utf-8"`
)

// SOAPAction is the quoted header value for action.
func SOAPAction(action string) string {
	return `"` + ServiceType + "#" + action + `"`
}

func envelope(action, args string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <u:%s xmlns:u="%s">
%s
    </u:%s>
  </s:Body>
</s:Envelope>`, action, ServiceType, args, action)
}

// SetAVTransportURIEnvelope embeds the DIDL-Lite metadata as escaped text,
// so the title ends up escaped twice on the wire.
func SetAVTransportURIEnvelope(streamURL, displayName string) string {
	didl := NewItem(displayName, streamURL).Render()
	args := "      <InstanceID>0</InstanceID>\n" +
		"      <CurrentURI>" + html.EscapeString(streamURL) + "</CurrentURI>\n" +
		"      <CurrentURIMetaData>" + EscapeDocument(didl) + "</CurrentURIMetaData>"
	return envelope(ActionSetAVTransportURI, args)
}

func PlayEnvelope() string {
	return envelope(ActionPlay, "      <InstanceID>0</InstanceID>\n      <Speed>1</Speed>")
}
