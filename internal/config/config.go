// Package config loads runtime configuration for the call client and the
// signaling store server from environment variables and flags.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarMode            = "CALL_MODE"
	envVarListenAddr      = "CALL_LISTEN_ADDR"
	envVarStoreURL        = "CALL_STORE_URL"
	envVarLogFormat       = "CALL_LOG_FORMAT"
	envVarLogLevel        = "CALL_LOG_LEVEL"
	envVarShutdownTimeout = "CALL_SHUTDOWN_TIMEOUT"

	// Store server hardening knobs.
	envVarMaxSignalMessageBytes      = "CALL_MAX_SIGNAL_MESSAGE_BYTES"
	envVarMaxSignalMessagesPerSecond = "CALL_MAX_SIGNAL_MESSAGES_PER_SECOND"
)

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

const (
	DefaultMode       = ModeDev
	DefaultListenAddr = ":8787"
	DefaultStoreURL   = "ws://127.0.0.1:8787/signal"

	DefaultShutdownTimeout = 10 * time.Second

	DefaultMaxSignalMessageBytes      = 64 * 1024
	DefaultMaxSignalMessagesPerSecond = 50
)

type Config struct {
	Mode Mode

	// ListenAddr is the store server's bind address.
	ListenAddr string

	// StoreURL is the WebSocket URL clients use to reach the store server.
	StoreURL string

	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	// ICEServers is the STUN/TURN set handed to the negotiation engine.
	ICEServers []webrtc.ICEServer

	MaxSignalMessageBytes      int64
	MaxSignalMessagesPerSecond int
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	mode := Mode(strings.ToLower(envOrDefault(lookup, envVarMode, string(DefaultMode))))
	switch mode {
	case ModeDev, ModeProd:
	default:
		return Config{}, fmt.Errorf("invalid %s %q (want dev or prod)", envVarMode, mode)
	}

	logFormat := LogFormat(strings.ToLower(envOrDefault(lookup, envVarLogFormat, string(defaultLogFormat(mode)))))
	switch logFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return Config{}, fmt.Errorf("invalid %s %q (want text or json)", envVarLogFormat, logFormat)
	}

	logLevel, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, defaultLogLevel(mode)))
	if err != nil {
		return Config{}, err
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	maxMsgBytes, err := envIntOrDefault(lookup, envVarMaxSignalMessageBytes, DefaultMaxSignalMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMsgRate, err := envIntOrDefault(lookup, envVarMaxSignalMessagesPerSecond, DefaultMaxSignalMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	iceServers, err := parseICEServersFromEnv(lookup)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:            mode,
		ListenAddr:      envOrDefault(lookup, envVarListenAddr, DefaultListenAddr),
		StoreURL:        envOrDefault(lookup, envVarStoreURL, DefaultStoreURL),
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		ICEServers:      iceServers,

		MaxSignalMessageBytes:      int64(maxMsgBytes),
		MaxSignalMessagesPerSecond: maxMsgRate,
	}

	fs := flag.NewFlagSet("webrtc-call", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "store server bind address")
	fs.StringVar(&cfg.StoreURL, "store-url", cfg.StoreURL, "signaling store WebSocket URL")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

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

func defaultLogFormat(mode Mode) LogFormat {
	if mode == ModeProd {
		return LogFormatJSON
	}
	return LogFormatText
}

func defaultLogLevel(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
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
