// Package config loads runtime configuration for the signaling coordinator
// from environment variables, with a small set of flags overriding the most
// commonly changed values.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "LIVECAST_LISTEN_ADDR"
	envVarPublicBaseURL   = "LIVECAST_PUBLIC_BASE_URL"
	envVarMode            = "LIVECAST_MODE"
	envVarLogFormat       = "LIVECAST_LOG_FORMAT"
	envVarLogLevel        = "LIVECAST_LOG_LEVEL"
	envVarShutdownTimeout = "LIVECAST_SHUTDOWN_TIMEOUT"

	envVarAllowedOrigins = "ALLOWED_ORIGINS"
	envVarICEServers     = "ICE_SERVERS"

	// Signaling WebSocket hardening.
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarSignalingSendQueueSize        = "SIGNALING_SEND_QUEUE_SIZE"

	// Optional LAN advertisement via mDNS.
	envVarMDNSEnable   = "MDNS_ENABLE"
	envVarMDNSInstance = "MDNS_INSTANCE"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxSignalingMessageBytes      = 64 * 1024
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingSendQueueSize        = 64

	DefaultMDNSInstance = "livecast-signaling"
)

// DefaultICEServers matches what browser clients used before the coordinator
// started serving the list.
var DefaultICEServers = []string{
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr    string
	PublicBaseURL string
	Mode          Mode

	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	// AllowedOrigins is the browser origin allowlist. Empty means same-host
	// only; a single "*" allows everything (the dev default).
	AllowedOrigins []string

	// ICEServers is served to clients at GET /ice. Entries are STUN/TURN URIs.
	ICEServers []string

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	SignalingSendQueueSize        int

	MDNSEnable   bool
	MDNSInstance string
}

// Load builds a Config from the environment plus command-line flags. Flags
// win over environment variables.
func Load(args []string) (Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{
		ListenAddr:      envOrDefault(lookup, envVarListenAddr, DefaultListenAddr),
		PublicBaseURL:   envOrDefault(lookup, envVarPublicBaseURL, ""),
		Mode:            Mode(strings.ToLower(envOrDefault(lookup, envVarMode, string(ModeDev)))),
		ShutdownTimeout: DefaultShutdownTimeout,

		MaxSignalingMessageBytes:      DefaultMaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: DefaultMaxSignalingMessagesPerSecond,
		SignalingWSIdleTimeout:        DefaultSignalingWSIdleTimeout,
		SignalingSendQueueSize:        DefaultSignalingSendQueueSize,

		MDNSInstance: envOrDefault(lookup, envVarMDNSInstance, DefaultMDNSInstance),
	}

	var err error
	if cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SignalingWSIdleTimeout, err = envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SignalingWSPingInterval, err = envDurationOrDefault(lookup, envVarSignalingWSPingInterval, 0); err != nil {
		return Config{}, err
	}

	maxBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSignalingMessageBytes = int64(maxBytes)

	if cfg.MaxSignalingMessagesPerSecond, err = envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.SignalingSendQueueSize, err = envIntOrDefault(lookup, envVarSignalingSendQueueSize, DefaultSignalingSendQueueSize); err != nil {
		return Config{}, err
	}

	cfg.AllowedOrigins = splitList(envOrDefault(lookup, envVarAllowedOrigins, ""))
	cfg.ICEServers = splitList(envOrDefault(lookup, envVarICEServers, ""))
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = append([]string(nil), DefaultICEServers...)
	}

	if cfg.MDNSEnable, err = envBoolOrDefault(lookup, envVarMDNSEnable, false); err != nil {
		return Config{}, err
	}

	logFormat := envOrDefault(lookup, envVarLogFormat, "")
	logLevel := envOrDefault(lookup, envVarLogLevel, "info")

	fs := flag.NewFlagSet("livecast-signaling", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP listen address")
	fs.StringVar((*string)(&cfg.Mode), "mode", string(cfg.Mode), "run mode: dev or prod")
	fs.StringVar(&logFormat, "log-format", logFormat, "log format: text or json")
	fs.StringVar(&logLevel, "log-level", logLevel, "log level: debug, info, warn, error")
	fs.BoolVar(&cfg.MDNSEnable, "mdns", cfg.MDNSEnable, "advertise the coordinator on the local network via mDNS")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Mode = Mode(strings.ToLower(string(cfg.Mode)))
	switch cfg.Mode {
	case ModeDev, ModeProd:
	default:
		return Config{}, fmt.Errorf("invalid %s %q (want dev or prod)", envVarMode, cfg.Mode)
	}

	if logFormat == "" {
		if cfg.Mode == ModeProd {
			logFormat = string(LogFormatJSON)
		} else {
			logFormat = string(LogFormatText)
		}
	}
	cfg.LogFormat = LogFormat(strings.ToLower(logFormat))
	switch cfg.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return Config{}, fmt.Errorf("invalid %s %q (want text or json)", envVarLogFormat, logFormat)
	}

	if cfg.LogLevel, err = parseLogLevel(logLevel); err != nil {
		return Config{}, err
	}

	if cfg.ListenAddr == "" {
		return Config{}, fmt.Errorf("%s must not be empty", envVarListenAddr)
	}
	if cfg.PublicBaseURL != "" {
		if _, err := url.Parse(cfg.PublicBaseURL); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envVarPublicBaseURL, err)
		}
	}
	if cfg.MaxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxSignalingMessagesPerSecond)
	}
	if cfg.SignalingWSPingInterval != 0 && cfg.SignalingWSPingInterval >= cfg.SignalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s must be shorter than %s",
			envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}

	return cfg, nil
}

// NewLogger builds the process logger from the configured format and level.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid %s %q", envVarLogLevel, raw)
	}
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return b, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
