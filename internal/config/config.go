// Package config turns process environment into the read-only Config shared
// by every component for the lifetime of the process.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHostPort        = 5000
	defaultListenAddr      = ":5000"
	defaultFavoritesFile   = "favorites.json"
	defaultRadioBrowserURL = "https://de1.api.radio-browser.info"
	defaultSSDPTimeout     = 3 * time.Second
)

var ErrReceiverNotConfigured = errors.New("DENON_IP not configured")

type Config struct {
	// ReceiverAddress is the IP (or host name) of the AV receiver.
	ReceiverAddress string
	// DescriptionURL pins a device description location, skipping the guesswork.
	DescriptionURL string
	// PublicHost and PublicPort are what the receiver uses to reach the proxy.
	// An empty PublicHost means infer it from the outbound interface.
	PublicHost string
	PublicPort int

	ListenAddr      string
	FavoritesFile   string
	RadioBrowserURL string
	SSDPTimeout     time.Duration

	Debug    bool
	LogLevel slog.Level
}

// LoadEnvFile merges a dotenv file into the process environment. A missing
// file is fine; existing variables win.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FromEnv builds a Config from lookup, which is usually os.LookupEnv.
// Problems with optional values fall back to defaults and are returned as
// warnings; only malformed required values are errors.
func FromEnv(lookup func(string) (string, bool)) (*Config, []string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	var warnings []string
	cfg := &Config{
		ReceiverAddress: get("DENON_IP"),
		DescriptionURL:  get("DENON_DESCRIPTION_URL"),
		PublicHost:      get("HOST_IP"),
		PublicPort:      defaultHostPort,
		ListenAddr:      defaultListenAddr,
		FavoritesFile:   defaultFavoritesFile,
		RadioBrowserURL: defaultRadioBrowserURL,
		SSDPTimeout:     defaultSSDPTimeout,
		Debug:           parseBool(get("DEBUG")),
	}

	if v := get("HOST_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, nil, fmt.Errorf("invalid HOST_PORT=%q", v)
		}
		cfg.PublicPort = port
	}
	if v := get("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := get("FAVORITES_FILE"); v != "" {
		cfg.FavoritesFile = v
	}
	if v := get("RADIO_BROWSER_URL"); v != "" {
		cfg.RadioBrowserURL = strings.TrimRight(v, "/")
	}
	if v := get("SSDP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			warnings = append(warnings, fmt.Sprintf("invalid SSDP_TIMEOUT=%q; defaulting to %s", v, defaultSSDPTimeout))
		} else {
			cfg.SSDPTimeout = d
		}
	}

	level, ok := ParseLogLevel(get("VTUNER_LOG_LEVEL"))
	if !ok {
		warnings = append(warnings, fmt.Sprintf("invalid VTUNER_LOG_LEVEL=%q; defaulting to info", get("VTUNER_LOG_LEVEL")))
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}
	cfg.LogLevel = level

	if cfg.ReceiverAddress != "" && strings.ContainsAny(cfg.ReceiverAddress, "/ ") {
		return nil, nil, fmt.Errorf("invalid DENON_IP=%q: expected an address, not a URL", cfg.ReceiverAddress)
	}
	return cfg, warnings, nil
}

// RequireReceiver is checked before any network call that targets the receiver.
func (c *Config) RequireReceiver() error {
	if c == nil || strings.TrimSpace(c.ReceiverAddress) == "" {
		return ErrReceiverNotConfigured
	}
	return nil
}

// ReceiverURL is the receiver address as an http URL on port, used when only
// a routable URL is needed (interface inference, status probes).
func (c *Config) ReceiverURL(port int) string {
	return "http://" + net.JoinHostPort(c.ReceiverAddress, strconv.Itoa(port))
}

func ParseLogLevel(raw string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, true
	case "debug":
		return slog.LevelDebug, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	}
	return false
}
