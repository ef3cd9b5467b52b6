// Package bridge re-serves (usually TLS) radio streams as plain HTTP so that
// receivers without a TLS stack can play them.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/wluberti/denonAVR-vTuner/internal/avtransport"
	"github.com/wluberti/denonAVR-vTuner/internal/domain"
	"github.com/wluberti/denonAVR-vTuner/internal/metrics"
)

const (
	ProxyPath  = "/proxy"
	LegacyPath = "/stream.mp3"

	ChunkSize = 32 * 1024

	// Only the wait for upstream headers is bounded; the body is a live
	// stream with no natural end.
	upstreamHeaderTimeout = 10 * time.Second

	outcomeCompleted     = "completed"
	outcomeClientClosed  = "client_closed"
	outcomeUpstreamError = "upstream_error"
	outcomeRejected      = "rejected"
)

type Bridge struct {
	client       *http.Client
	metrics      *metrics.Metrics
	logger       *slog.Logger
	newSessionID func() string
}

func New(m *metrics.Metrics, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	transport := cleanhttp.DefaultPooledTransport()
	transport.ResponseHeaderTimeout = upstreamHeaderTimeout
	transport.DisableCompression = true
	return &Bridge{
		client:       &http.Client{Transport: transport},
		metrics:      m,
		logger:       logger,
		newSessionID: uuid.NewString,
	}
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	source, ok := SourceURL(r)
	if !ok {
		b.metrics.ProxyRejected(outcomeRejected)
		writeError(w, http.StatusBadRequest, "Missing 'url' parameter")
		return
	}

	if r.Method == http.MethodHead {
		setStreamHeaders(w.Header())
		w.WriteHeader(http.StatusOK)
		return
	}

	id := b.newSessionID()
	logger := b.logger.With(slog.String("session_id", id), slog.String("url", source))

	body, err := b.open(r.Context(), source)
	if err != nil {
		b.metrics.ProxyRejected(outcomeUpstreamError)
		logger.Warn("proxy_upstream_unavailable", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer body.Close()

	b.metrics.ProxyStarted()
	logger.Info("proxy_session_start", slog.String("remote", r.RemoteAddr))
	started := time.Now()

	setStreamHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	n, err := b.relay(w, body, logger)
	outcome := outcomeCompleted
	switch {
	case r.Context().Err() != nil, errors.Is(err, errDownstream):
		outcome = outcomeClientClosed
	case err != nil:
		outcome = outcomeUpstreamError
	}
	b.metrics.ProxyFinished(outcome)

	attrs := []any{
		slog.String("outcome", outcome),
		slog.Int64("bytes", n),
		slog.Duration("duration", time.Since(started)),
	}
	if err != nil && outcome == outcomeUpstreamError {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	logger.Info("proxy_session_end", attrs...)

	if outcome == outcomeUpstreamError {
		// Abort instead of returning so the chunked response is left
		// unterminated and the connection is closed: the receiver must see
		// a broken stream, not a clean end of file.
		panic(http.ErrAbortHandler)
	}
}

// open connects upstream. The request deliberately carries no Icy-MetaData
// header: inline metadata would be relayed into the audio and corrupt it.
func (b *Bridge) open(ctx context.Context, source string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, domain.NewError(domain.CodeInvalidRequest, "invalid source url", err)
	}
	req.Header.Set("User-Agent", "denon-vtuner")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.CodeUpstreamUnavailable, "upstream unreachable", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		_ = resp.Body.Close()
		return nil, domain.NewError(domain.CodeUpstreamUnavailable, fmt.Sprintf("upstream returned http %d", resp.StatusCode), nil)
	}
	return resp.Body, nil
}

var errDownstream = errors.New("downstream write failed")

// relay copies body to w one chunk at a time, flushing after each so a slow
// client throttles the upstream read.
func (b *Bridge) relay(w http.ResponseWriter, body io.Reader, logger *slog.Logger) (int64, error) {
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	buf := make([]byte, ChunkSize)
	var total int64
	sniffed := false
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if !sniffed {
				sniffed = true
				sniff(buf[:n], logger)
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("%w: %v", errDownstream, err)
			}
			total += int64(n)
			b.metrics.ProxyBytes(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return total, nil
			}
			return total, readErr
		}
	}
}

// sniff only logs: the content type sent downstream is audio/mpeg regardless.
func sniff(head []byte, logger *slog.Logger) {
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		logger.Debug("proxy_source_unrecognised")
		return
	}
	if kind.MIME.Value != "audio/mpeg" {
		logger.Warn("proxy_source_not_mp3", slog.String("detected", kind.MIME.Value))
	}
}

func setStreamHeaders(h http.Header) {
	h.Set("Content-Type", "audio/mpeg")
	h.Set("Cache-Control", "no-cache")
	// DLNA clients look these up with the exact casing below.
	h["contentFeatures.dlna.org"] = []string{avtransport.DLNAFeatures}
	h["transferMode.dlna.org"] = []string{"Streaming"}
	h.Set("DAAP-Server", "iTunes/10.0")
}

// SourceURL extracts the upstream URL. The value after "url=" is taken
// verbatim when it is an absolute http(s) URL, since rewritten URLs embed the
// original unencoded, query string included.
func SourceURL(r *http.Request) (string, bool) {
	if rest, ok := strings.CutPrefix(r.URL.RawQuery, "url="); ok && isAbsoluteHTTP(rest) {
		return rest, true
	}
	if v := strings.TrimSpace(r.URL.Query().Get("url")); isAbsoluteHTTP(v) {
		return v, true
	}
	return "", false
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Scheme, "http") || strings.EqualFold(u.Scheme, "https")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
