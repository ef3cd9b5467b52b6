// Package ssdp finds a UPnP device's description location with a single
// M-SEARCH and accepts replies only from the expected address.
package ssdp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"
)

const (
	MulticastAddr = "239.255.255.250:1900"
	SearchTarget  = "urn:schemas-upnp-org:service:AVTransport:1"

	readBufferSize = 2048
)

// SearchRequest is the exact M-SEARCH datagram sent to the multicast group.
func SearchRequest() []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + MulticastAddr + "\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 1\r\n" +
		"ST: " + SearchTarget + "\r\n" +
		"\r\n")
}

type Prober struct {
	groupAddr string
	listen    func() (net.PacketConn, error)
	lookupIP  func(ctx context.Context, host string) ([]net.IP, error)
	logger    *slog.Logger
}

func NewProber(logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Prober{
		groupAddr: MulticastAddr,
		listen: func() (net.PacketConn, error) {
			return net.ListenPacket("udp4", ":0")
		},
		lookupIP: func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip4", host)
		},
		logger: logger,
	}
}

// Discover sends one M-SEARCH and waits up to timeout for a reply whose
// source IP is target. It returns the reply's LOCATION header. There are no
// retries; a silent device simply yields false.
func (p *Prober) Discover(ctx context.Context, target string, timeout time.Duration) (string, bool) {
	accepted := p.acceptedIPs(ctx, target)
	if len(accepted) == 0 {
		p.logger.Debug("ssdp_target_unresolved", slog.String("target", target))
		return "", false
	}

	conn, err := p.listen()
	if err != nil {
		p.logger.Debug("ssdp_listen_error", slog.String("error", err.Error()))
		return "", false
	}
	defer conn.Close()

	group, err := net.ResolveUDPAddr("udp4", p.groupAddr)
	if err != nil {
		p.logger.Debug("ssdp_group_error", slog.String("error", err.Error()))
		return "", false
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", false
	}

	// A past deadline unblocks the pending read once ctx is done.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.WriteTo(SearchRequest(), group); err != nil {
		p.logger.Debug("ssdp_send_error", slog.String("error", err.Error()))
		return "", false
	}

	buf := make([]byte, readBufferSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				p.logger.Debug("ssdp_timeout", slog.String("target", target))
			} else {
				p.logger.Debug("ssdp_read_error", slog.String("error", err.Error()))
			}
			return "", false
		}

		from := sourceIP(addr)
		if from == nil || !containsIP(accepted, from) {
			p.logger.Debug("ssdp_reply_ignored", slog.String("from", addr.String()))
			continue
		}
		if location, ok := ParseLocation(buf[:n]); ok {
			p.logger.Debug("ssdp_location_found", slog.String("location", location))
			return location, true
		}
	}
}

// ParseLocation extracts the LOCATION header (any case) from an SSDP reply.
func ParseLocation(reply []byte) (string, bool) {
	for _, line := range strings.Split(string(reply), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "location") {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return "", false
		}
		return value, true
	}
	return "", false
}

func (p *Prober) acceptedIPs(ctx context.Context, target string) []net.IP {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil
	}
	if ip := net.ParseIP(target); ip != nil {
		return []net.IP{ip}
	}
	ips, err := p.lookupIP(ctx, target)
	if err != nil {
		return nil
	}
	return ips
}

func sourceIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}

func containsIP(set []net.IP, ip net.IP) bool {
	for _, candidate := range set {
		if candidate.Equal(ip) {
			return true
		}
	}
	return false
}
