// Package upnp reads UPnP device descriptions and locates the AVTransport
// control endpoint, either from a known location or by probing the
// receiver's usual description paths.
package upnp

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/net/html/charset"

	"github.com/wluberti/denonAVR-vTuner/internal/domain"
)

const (
	avTransportMarker      = "AVTransport"
	descriptionTimeout     = 5 * time.Second
	maxDescriptionBodySize = 1 << 20
)

var defaultNamespace = regexp.MustCompile(` xmlns="[^"]+"`)

type service struct {
	ServiceType string `xml:"serviceType"`
	ControlURL  string `xml:"controlURL"`
}

// Describer fetches device descriptions.
type Describer struct {
	client *http.Client
	logger *slog.Logger
}

func NewDescriber(logger *slog.Logger) *Describer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Describer{
		client: &http.Client{Transport: cleanhttp.DefaultPooledTransport(), Timeout: descriptionTimeout},
		logger: logger,
	}
}

// ResolveControlURL returns the absolute AVTransport control URL announced by
// the description at locationURL. Every failure is absorbed into false.
func (d *Describer) ResolveControlURL(ctx context.Context, locationURL string) (string, bool) {
	desc, err := d.Describe(ctx, locationURL)
	if err != nil {
		d.logger.Debug("description_unusable",
			slog.String("location", locationURL),
			slog.String("code", domain.CodeOf(err)),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	return desc.ControlURL, true
}

// Describe is ResolveControlURL with the failure reason kept.
func (d *Describer) Describe(ctx context.Context, locationURL string) (domain.DeviceDescriptor, error) {
	base, err := url.Parse(strings.TrimSpace(locationURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return domain.DeviceDescriptor{}, domain.NewError(domain.CodeMalformedDescription, "location is not an absolute URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return domain.DeviceDescriptor{}, domain.NewError(domain.CodeMalformedDescription, "build description request", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return domain.DeviceDescriptor{}, domain.NewError(domain.CodeUpstreamUnavailable, "fetch description", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.DeviceDescriptor{}, domain.NewError(domain.CodeUpstreamUnavailable, fmt.Sprintf("description http %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptionBodySize))
	if err != nil {
		return domain.DeviceDescriptor{}, domain.NewError(domain.CodeUpstreamUnavailable, "read description", err)
	}

	controlPath, err := findAVTransportControl(body)
	if err != nil {
		return domain.DeviceDescriptor{}, err
	}
	ref, err := url.Parse(controlPath)
	if err != nil {
		return domain.DeviceDescriptor{}, domain.NewError(domain.CodeMalformedDescription, "controlURL is not a URL reference", err)
	}

	return domain.DeviceDescriptor{
		LocationURL: base.String(),
		ControlURL:  base.ResolveReference(ref).String(),
	}, nil
}

// StripDefaultNamespace removes the first default namespace declaration so
// elements can be matched by their bare names.
func StripDefaultNamespace(doc []byte) []byte {
	loc := defaultNamespace.FindIndex(doc)
	if loc == nil {
		return doc
	}
	out := make([]byte, 0, len(doc)-(loc[1]-loc[0]))
	out = append(out, doc[:loc[0]]...)
	return append(out, doc[loc[1]:]...)
}

func findAVTransportControl(doc []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(StripDefaultNamespace(doc)))
	dec.CharsetReader = charset.NewReaderLabel

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", domain.NewError(domain.CodeMalformedDescription, "no AVTransport service in description", nil)
		}
		if err != nil {
			return "", domain.NewError(domain.CodeMalformedDescription, "parse description", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "service" {
			continue
		}
		var svc service
		if err := dec.DecodeElement(&svc, &start); err != nil {
			return "", domain.NewError(domain.CodeMalformedDescription, "parse service element", err)
		}
		if !strings.Contains(svc.ServiceType, avTransportMarker) {
			continue
		}
		control := strings.TrimSpace(svc.ControlURL)
		if control == "" {
			return "", domain.NewError(domain.CodeMalformedDescription, "AVTransport service has no controlURL", nil)
		}
		return control, nil
	}
}
