package avtransport

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/wluberti/denonAVR-vTuner/internal/domain"
)

type capturedCall struct {
	soapAction  string
	contentType string
	body        string
}

type fakeRenderer struct {
	mu       sync.Mutex
	calls    []capturedCall
	statuses []int
}

func (f *fakeRenderer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	idx := len(f.calls)
	f.calls = append(f.calls, capturedCall{
		soapAction:  r.Header.Get("SOAPAction"),
		contentType: r.Header.Get("Content-Type"),
		body:        string(body),
	})
	status := http.StatusOK
	if idx < len(f.statuses) {
		status = f.statuses[idx]
	}
	f.mu.Unlock()
	w.WriteHeader(status)
	_, _ = w.Write([]byte("<ok/>"))
}

func (f *fakeRenderer) snapshot() []capturedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedCall{}, f.calls...)
}

type setURIEnvelope struct {
	Body struct {
		SetAVTransportURI struct {
			InstanceID         string `xml:"InstanceID"`
			CurrentURI         string `xml:"CurrentURI"`
			CurrentURIMetaData string `xml:"CurrentURIMetaData"`
		} `xml:"SetAVTransportURI"`
	} `xml:"Body"`
}

type didlDocument struct {
	Items []struct {
		ID       string `xml:"id,attr"`
		ParentID string `xml:"parentID,attr"`
		Title    string `xml:"title"`
		Class    string `xml:"class"`
		Res      struct {
			ProtocolInfo string `xml:"protocolInfo,attr"`
			URI          string `xml:",chardata"`
		} `xml:"res"`
	} `xml:"item"`
}

func decodeSetURI(t *testing.T, body string) (setURIEnvelope, didlDocument) {
	t.Helper()
	var env setURIEnvelope
	if err := xml.Unmarshal([]byte(body), &env); err != nil {
		t.Fatalf("SOAP body is not well-formed XML: %v\n%s", err, body)
	}
	var didl didlDocument
	if err := xml.Unmarshal([]byte(env.Body.SetAVTransportURI.CurrentURIMetaData), &didl); err != nil {
		t.Fatalf("metadata is not well-formed DIDL-Lite: %v\n%s", err, env.Body.SetAVTransportURI.CurrentURIMetaData)
	}
	return env, didl
}

func TestPlaySendsBothActions(t *testing.T) {
	renderer := &fakeRenderer{}
	srv := httptest.NewServer(renderer)
	defer srv.Close()

	result, err := NewController(nil).Play(context.Background(), srv.URL+"/AVTransport/control", "http://radio.example/live.mp3", "Radio One")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if !result.OK() {
		t.Fatalf("expected OK result, got %+v", result)
	}

	calls := renderer.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected 2 SOAP calls, got %d", len(calls))
	}
	if calls[0].soapAction != `"urn:schemas-upnp-org:service:AVTransport:1#SetAVTransportURI"` {
		t.Fatalf("unexpected first SOAPAction: %s", calls[0].soapAction)
	}
	if calls[1].soapAction != `"urn:schemas-upnp-org:service:AVTransport:1#Play"` {
		t.Fatalf("unexpected second SOAPAction: %s", calls[1].soapAction)
	}
	for _, call := range calls {
		if call.contentType != `text/xml; charset="utf-8"` {
			t.Fatalf("unexpected content type: %s", call.contentType)
		}
	}
	if !strings.Contains(calls[1].body, "<InstanceID>0</InstanceID>") || !strings.Contains(calls[1].body, "<Speed>1</Speed>") {
		t.Fatalf("unexpected Play body:\n%s", calls[1].body)
	}

	env, didl := decodeSetURI(t, calls[0].body)
	if env.Body.SetAVTransportURI.InstanceID != "0" {
		t.Fatalf("unexpected InstanceID: %q", env.Body.SetAVTransportURI.InstanceID)
	}
	if env.Body.SetAVTransportURI.CurrentURI != "http://radio.example/live.mp3" {
		t.Fatalf("unexpected CurrentURI: %q", env.Body.SetAVTransportURI.CurrentURI)
	}
	if len(didl.Items) != 1 {
		t.Fatalf("expected a single DIDL item, got %d", len(didl.Items))
	}
	item := didl.Items[0]
	if item.ID != "0" || item.ParentID != "0" || item.Title != "Radio One" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.Class != "object.item.audioItem.audioBroadcast" {
		t.Fatalf("unexpected class: %q", item.Class)
	}
	if item.Res.ProtocolInfo != ProtocolInfo || item.Res.URI != "http://radio.example/live.mp3" {
		t.Fatalf("unexpected res: %+v", item.Res)
	}
}

func TestPlayContinuesAfterErrorStatus(t *testing.T) {
	renderer := &fakeRenderer{statuses: []int{http.StatusInternalServerError, http.StatusOK}}
	srv := httptest.NewServer(renderer)
	defer srv.Close()

	result, err := NewController(nil).Play(context.Background(), srv.URL, "http://radio.example/a.mp3", "A")
	if err != nil {
		t.Fatalf("error status must not fail the call: %v", err)
	}
	if len(renderer.snapshot()) != 2 {
		t.Fatal("expected Play to be sent after a failed SetAVTransportURI")
	}
	if result.SetURIStatus != http.StatusInternalServerError || result.PlayStatus != http.StatusOK {
		t.Fatalf("unexpected statuses: %+v", result)
	}
	if result.OK() {
		t.Fatal("expected OK() to report the failed status")
	}
}

func TestPlayTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	controlURL := srv.URL + "/AVTransport/control"
	srv.Close()

	_, err := NewController(nil).Play(context.Background(), controlURL, "http://radio.example/a.mp3", "A")
	if err == nil {
		t.Fatal("expected a transport error")
	}
	if domain.CodeOf(err) != domain.CodeTransport {
		t.Fatalf("expected TRANSPORT_ERROR, got %v", err)
	}
}

func TestTitleEscapedTwiceRoundTrips(t *testing.T) {
	title := `Rock & <Roll> "Live" 'FM'`
	streamURL := "http://192.168.1.10:5000/proxy?url=https://radio.example/a.mp3?x=1&y=2"

	body := SetAVTransportURIEnvelope(streamURL, title)
	if !strings.Contains(body, "Rock &amp;amp; &amp;lt;Roll&amp;gt;") {
		t.Fatalf("expected the title to be escaped twice:\n%s", body)
	}

	env, didl := decodeSetURI(t, body)
	if got := didl.Items[0].Title; got != title {
		t.Fatalf("title round trip = %q, want %q", got, title)
	}
	if got := didl.Items[0].Res.URI; got != streamURL {
		t.Fatalf("res round trip = %q, want %q", got, streamURL)
	}
	if got := env.Body.SetAVTransportURI.CurrentURI; got != streamURL {
		t.Fatalf("CurrentURI round trip = %q, want %q", got, streamURL)
	}

	// Re-escaping the recovered document gives back the exact wire text.
	if EscapeDocument(env.Body.SetAVTransportURI.CurrentURIMetaData) != EscapeDocument(NewItem(title, streamURL).Render()) {
		t.Fatal("escape -> unescape -> escape is not stable")
	}
}

func TestRenderEscapesOnce(t *testing.T) {
	doc := NewItem("A&B", "http://x/y").Render()
	if !strings.Contains(doc, "<dc:title>A&amp;B</dc:title>") {
		t.Fatalf("unexpected title rendering:\n%s", doc)
	}
	if strings.Contains(EscapeDocument(doc), "<") {
		t.Fatal("escaped document must not contain raw markup")
	}
}
