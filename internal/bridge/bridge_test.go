package bridge

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wluberti/denonAVR-vTuner/internal/avtransport"
	"github.com/wluberti/denonAVR-vTuner/internal/metrics"
)

type upstreamRecorder struct {
	mu      sync.Mutex
	headers []http.Header
	queries []string
}

func (u *upstreamRecorder) record(r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.headers = append(u.headers, r.Header.Clone())
	u.queries = append(u.queries, r.URL.RawQuery)
}

func (u *upstreamRecorder) last(t *testing.T) (http.Header, string) {
	t.Helper()
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.headers) == 0 {
		t.Fatal("upstream was never contacted")
	}
	return u.headers[len(u.headers)-1], u.queries[len(u.queries)-1]
}

func newUpstream(t *testing.T, contentType string, body []byte) (*httptest.Server, *upstreamRecorder) {
	t.Helper()
	rec := &upstreamRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("icy-metaint", "16000")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestProxyRelaysWithoutICYAndForcesMPEG(t *testing.T) {
	payload := bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x00}, 20000)
	upstream, rec := newUpstream(t, "application/octet-stream", payload)

	m := metrics.New()
	b := New(m, nil)
	b.newSessionID = func() string { return "session-1" }

	resp := httptest.NewRecorder()
	b.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/proxy?url="+upstream.URL+"/live.mp3?sid=1&fmt=mp3", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Content-Type"); got != "audio/mpeg" {
		t.Fatalf("expected forced audio/mpeg, got %q", got)
	}
	if got := resp.Header()["contentFeatures.dlna.org"]; len(got) != 1 || got[0] != avtransport.DLNAFeatures {
		t.Fatalf("unexpected contentFeatures header: %v", got)
	}
	if got := resp.Header()["transferMode.dlna.org"]; len(got) != 1 || got[0] != "Streaming" {
		t.Fatalf("unexpected transferMode header: %v", got)
	}
	if !bytes.Equal(resp.Body.Bytes(), payload) {
		t.Fatalf("relayed body differs: got %d bytes, want %d", resp.Body.Len(), len(payload))
	}

	headers, query := rec.last(t)
	if v := headers.Get("Icy-MetaData"); v != "" {
		t.Fatalf("proxy must not request ICY metadata, sent %q", v)
	}
	if query != "sid=1&fmt=mp3" {
		t.Fatalf("expected the upstream query string to survive, got %q", query)
	}
}

func TestProxyMetricsCountRelayedBytes(t *testing.T) {
	upstream, _ := newUpstream(t, "audio/aac", []byte("not really audio"))
	m := metrics.New()
	b := New(m, nil)

	resp := httptest.NewRecorder()
	b.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/stream.mp3?url="+upstream.URL, nil))

	out, err := testutil.GatherAndCount(m.Registry(), "vtuner_proxy_sessions_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if out != 1 {
		t.Fatalf("expected one session series, got %d", out)
	}
	expected := `
# HELP vtuner_proxy_bytes_total Bytes relayed from upstream sources to clients.
# TYPE vtuner_proxy_bytes_total counter
vtuner_proxy_bytes_total 16
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "vtuner_proxy_bytes_total"); err != nil {
		t.Fatal(err)
	}
}

func TestProxyMissingURL(t *testing.T) {
	for _, target := range []string{"/proxy", "/proxy?url=", "/proxy?url=ftp://example.com/a.mp3", "/proxy?url=not-a-url"} {
		resp := httptest.NewRecorder()
		New(nil, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, resp.Code)
		}
		var body map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode error body: %v", target, err)
		}
		if body["error"] != "Missing 'url' parameter" {
			t.Fatalf("%s: unexpected error body %v", target, body)
		}
	}
}

func TestProxyUpstreamFailure(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(failing.Close)

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	for _, source := range []string{failing.URL + "/stream", closedURL + "/stream"} {
		resp := httptest.NewRecorder()
		New(nil, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/proxy?url="+source, nil))
		if resp.Code != http.StatusBadGateway {
			t.Fatalf("%s: expected 502, got %d", source, resp.Code)
		}
		if ct := resp.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s: expected a JSON error, got %q", source, ct)
		}
	}
}

func TestProxyHeadDoesNotContactUpstream(t *testing.T) {
	upstream, rec := newUpstream(t, "audio/mpeg", []byte("abc"))

	resp := httptest.NewRecorder()
	New(nil, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodHead, "/proxy?url="+upstream.URL, nil))

	if resp.Code != http.StatusOK || resp.Body.Len() != 0 {
		t.Fatalf("unexpected HEAD response %d with %d body bytes", resp.Code, resp.Body.Len())
	}
	if resp.Header().Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("HEAD must advertise audio/mpeg, got %q", resp.Header().Get("Content-Type"))
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.headers) != 0 {
		t.Fatalf("HEAD contacted upstream %d times", len(rec.headers))
	}
}

func TestProxyRejectsOtherMethods(t *testing.T) {
	resp := httptest.NewRecorder()
	New(nil, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/proxy?url=http://example.com/", nil))
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

type failingWriter struct {
	header http.Header
	writes int
}

func (f *failingWriter) Header() http.Header { return f.header }
func (f *failingWriter) WriteHeader(int)     {}
func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	return 0, io.ErrClosedPipe
}

type endlessReader struct{ reads int }

func (e *endlessReader) Read(p []byte) (int, error) {
	e.reads++
	return copy(p, bytes.Repeat([]byte{0xAA}, len(p))), nil
}

func TestRelayStopsOnDownstreamError(t *testing.T) {
	b := New(nil, nil)
	w := &failingWriter{header: http.Header{}}
	src := &endlessReader{}

	n, err := b.relay(w, src, b.logger)
	if err == nil || !strings.Contains(err.Error(), errDownstream.Error()) {
		t.Fatalf("expected a downstream error, got %v", err)
	}
	if n != 0 || w.writes != 1 || src.reads != 1 {
		t.Fatalf("relay kept going after the client left: n=%d writes=%d reads=%d", n, w.writes, src.reads)
	}
}

func TestSourceURL(t *testing.T) {
	cases := []struct {
		target string
		want   string
		ok     bool
	}{
		{target: "/proxy?url=https://radio.example/stream?type=.mp3&x=1", want: "https://radio.example/stream?type=.mp3&x=1", ok: true},
		{target: "/proxy?url=https%3A%2F%2Fradio.example%2Flive", want: "https://radio.example/live", ok: true},
		{target: "/proxy?foo=1&url=http://radio.example/a", want: "http://radio.example/a", ok: true},
		{target: "/proxy?url=/relative", ok: false},
		{target: "/proxy", ok: false},
	}
	for _, tc := range cases {
		got, ok := SourceURL(httptest.NewRequest(http.MethodGet, tc.target, nil))
		if got != tc.want || ok != tc.ok {
			t.Fatalf("SourceURL(%q) = %q,%v want %q,%v", tc.target, got, ok, tc.want, tc.ok)
		}
	}
}

func TestProxyAbortsDownstreamWhenUpstreamBreaks(t *testing.T) {
	partial := bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x00}, 1000)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Announce more than is sent so the client sees an unexpected EOF.
		w.Header().Set("Content-Length", strconv.Itoa(len(partial)*4))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(partial)
	}))
	t.Cleanup(upstream.Close)

	m := metrics.New()
	proxy := httptest.NewServer(New(m, nil))
	t.Cleanup(proxy.Close)

	resp, err := http.Get(proxy.URL + "/proxy?url=" + upstream.URL + "/live.mp3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 before the break, got %d", resp.StatusCode)
	}

	got, err := io.ReadAll(resp.Body)
	if err == nil {
		t.Fatalf("expected a truncated response, got a clean end after %d bytes", len(got))
	}
	if !bytes.Equal(got, partial) {
		t.Fatalf("expected the %d bytes relayed before the break, got %d", len(partial), len(got))
	}

	expected := `
# HELP vtuner_proxy_sessions_total Finished proxy relays by outcome.
# TYPE vtuner_proxy_sessions_total counter
vtuner_proxy_sessions_total{outcome="upstream_error"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "vtuner_proxy_sessions_total"); err != nil {
		t.Fatal(err)
	}
}
