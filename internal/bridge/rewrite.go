package bridge

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
)

const unroutableAddress = "0.0.0.0"

// outboundIP reports the local address the kernel routes from toward host.
// Connecting a UDP socket only selects the route; nothing is sent and no
// port is bound for listening.
var outboundIP = func(host string) (net.IP, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(host, "80"))
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.IP, nil
}

// RewriteIfHTTPS points HTTPS sources at the local proxy. Other URLs are
// returned untouched.
func RewriteIfHTTPS(sourceURL, localAddress string, localPort int) string {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(sourceURL)), "https://") {
		return sourceURL
	}
	return BaseURL(localAddress, localPort) + ProxyPath + "?url=" + sourceURL
}

func BaseURL(localAddress string, localPort int) string {
	return "http://" + net.JoinHostPort(localAddress, strconv.Itoa(localPort))
}

// LocalAddress returns the address the receiver should use to reach this
// process. An explicit address wins; otherwise it is the interface that
// routes toward the receiver, which inside a container may well be a bridge
// address the receiver cannot reach.
func LocalAddress(explicit, receiver string, logger *slog.Logger) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ip, err := outboundIP(receiver)
	if err != nil {
		logger.Warn("local_address_inference_failed", slog.String("receiver", receiver), slog.String("error", err.Error()))
		return unroutableAddress
	}
	if ip == nil || ip.IsUnspecified() {
		logger.Warn("local_address_inference_failed", slog.String("receiver", receiver), slog.String("reason", "no route"))
		return unroutableAddress
	}
	return ip.String()
}
