// Package icy takes a one-shot now-playing snapshot from a SHOUTcast/Icecast
// style stream by reading its first inline metadata block.
package icy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/wluberti/denonAVR-vTuner/internal/domain"
)

const (
	// readTimeout bounds connecting and then every gap between body reads,
	// not the whole read: a low bitrate stream can take longer than this to
	// deliver one metaint worth of audio.
	readTimeout = 3 * time.Second
	userAgent   = "VLC/3.0.0"

	// metaint is advertised by the server; anything larger is not a real
	// radio stream and would make us read megabytes just to skip audio.
	maxMetaInt = 1 << 20
)

var streamTitle = regexp.MustCompile(`StreamTitle='(.*?)';`)

type Reader struct {
	client      *http.Client
	idleTimeout time.Duration
	logger      *slog.Logger
}

func NewReader(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	transport := cleanhttp.DefaultPooledTransport()
	transport.DisableCompression = true
	transport.ResponseHeaderTimeout = readTimeout
	return &Reader{
		client:      &http.Client{Transport: transport},
		idleTimeout: readTimeout,
		logger:      logger,
	}
}

// ReadNowPlaying never fails: on any error it logs and returns an empty
// StreamMetadata.
func (r *Reader) ReadNowPlaying(ctx context.Context, streamURL string) domain.StreamMetadata {
	meta, err := r.Read(ctx, streamURL)
	if err != nil {
		r.logger.Warn("metadata_fetch_error", slog.String("url", streamURL), slog.String("error", err.Error()))
		return domain.StreamMetadata{}
	}
	return meta
}

// Read connects with ICY metadata negotiation enabled, skips exactly one
// audio interval and decodes the first metadata block.
func (r *Reader) Read(ctx context.Context, streamURL string) (domain.StreamMetadata, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Armed for the connect, pushed back by every read that makes progress.
	stall := time.AfterFunc(r.idleTimeout, cancel)
	defer stall.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return domain.StreamMetadata{}, domain.NewError(domain.CodeInvalidRequest, "invalid stream url", err)
	}
	req.Header.Set("Icy-MetaData", "1")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.StreamMetadata{}, domain.NewError(domain.CodeUpstreamUnavailable, "connect to stream", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return domain.StreamMetadata{}, domain.NewError(domain.CodeUpstreamUnavailable, fmt.Sprintf("stream http %d", resp.StatusCode), nil)
	}

	meta := domain.StreamMetadata{
		ServerName: resp.Header.Get("icy-name"),
		Genre:      resp.Header.Get("icy-genre"),
		Bitrate:    resp.Header.Get("icy-br"),
		NowPlaying: domain.UnknownTitle,
	}

	metaInt := ParseMetaInt(resp.Header.Get("icy-metaint"))
	if metaInt == 0 {
		return meta, nil
	}

	block, err := ReadFirstBlock(&idleReader{r: resp.Body, timer: stall, idle: r.idleTimeout}, metaInt)
	if err != nil {
		r.logger.Debug("metadata_block_unreadable", slog.String("url", streamURL), slog.String("error", err.Error()))
		return meta, nil
	}
	if title, ok := ExtractStreamTitle(block); ok {
		meta.NowPlaying = title
	}
	return meta, nil
}

// idleReader resets timer whenever a read returns data, so only a stream
// that goes silent for idle is cut off.
type idleReader struct {
	r     io.Reader
	timer *time.Timer
	idle  time.Duration
}

func (i *idleReader) Read(p []byte) (int, error) {
	n, err := i.r.Read(p)
	if n > 0 {
		i.timer.Reset(i.idle)
	}
	return n, err
}

// ParseMetaInt returns the metadata interval, or 0 when the header is
// missing, malformed or out of range.
func ParseMetaInt(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 || n > maxMetaInt {
		return 0
	}
	return n
}

// ReadFirstBlock discards metaInt bytes of audio, reads the length byte and
// returns the following length*16 bytes. A zero length yields an empty block.
func ReadFirstBlock(body io.Reader, metaInt int) ([]byte, error) {
	if _, err := io.CopyN(io.Discard, body, int64(metaInt)); err != nil {
		return nil, fmt.Errorf("skip audio: %w", err)
	}
	var length [1]byte
	if _, err := io.ReadFull(body, length[:]); err != nil {
		return nil, fmt.Errorf("read length byte: %w", err)
	}
	size := int(length[0]) * 16
	if size == 0 {
		return nil, nil
	}
	block := make([]byte, size)
	if _, err := io.ReadFull(body, block); err != nil {
		return nil, fmt.Errorf("read metadata block: %w", err)
	}
	return block, nil
}

// ExtractStreamTitle decodes block as UTF-8, dropping invalid bytes, and
// returns the StreamTitle value.
func ExtractStreamTitle(block []byte) (string, bool) {
	text := strings.ToValidUTF8(strings.TrimRight(string(block), "\x00"), "")
	m := streamTitle.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	title := strings.TrimSpace(m[1])
	if title == "" {
		return "", false
	}
	return title, true
}
