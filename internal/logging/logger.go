// Package logging wraps slog.Logger with domain-specific helper methods
// for the broker and its camera/drone/monitor agents, adapted from the
// teacher's internal/logger/logger.go (component groups, structured
// attrs) with file rotation wired in via lumberjack.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration for one executable.
type Config struct {
	Level     string // "debug", "info", "warn", "error"
	Format    string // "json" or "text"
	Component string
	AddSource bool
	Service   string
	Version   string

	// File rotation (spec §2 "long-running broker/drone processes can log
	// to a rotated file instead of only stdout"). FilePath empty means
	// stdout only.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger wraps slog.Logger with domain helper methods.
type Logger struct {
	*slog.Logger
	component string
}

// New builds a Logger from cfg, writing to a rotated file when FilePath is
// set (mirroring the teacher's stdout-only New, extended per spec §2).
func New(cfg Config) *Logger {
	var out io.Writer = os.Stdout
	if cfg.FilePath != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	attrs := make([]slog.Attr, 0, 2)
	if cfg.Service != "" {
		attrs = append(attrs, slog.String("service", cfg.Service))
	}
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	if len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}
	if cfg.Component != "" {
		handler = handler.WithGroup(cfg.Component)
	}

	return &Logger{Logger: slog.New(handler), component: cfg.Component}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogConnection logs a broker client connection lifecycle event.
func (l *Logger) LogConnection(clientID, remoteAddr, action string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("client_id", clientID),
		slog.String("remote_addr", remoteAddr),
		slog.String("action", action),
	}
	l.LogAttrs(context.Background(), slog.LevelInfo, "connection event", append(base, attrs...)...)
}

// LogPublish logs a PUBLISH send/receive.
func (l *Logger) LogPublish(clientID, topic string, qos int, retain bool, payloadSize int, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("client_id", clientID),
		slog.String("topic", topic),
		slog.Int("qos", qos),
		slog.Bool("retain", retain),
		slog.Int("payload_size", payloadSize),
	}
	l.LogAttrs(context.Background(), slog.LevelInfo, "message published", append(base, attrs...)...)
}

// LogIncident logs a camera/drone/monitor incident lifecycle transition.
func (l *Logger) LogIncident(incidentID uint8, source string, action string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.Int("incident_id", int(incidentID)),
		slog.String("source", source),
		slog.String("action", action), // "raised", "activated", "resolved"
	}
	l.LogAttrs(context.Background(), slog.LevelInfo, "incident event", append(base, attrs...)...)
}

// LogDroneState logs a drone state machine transition.
func (l *Logger) LogDroneState(droneID uint8, state string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.Int("drone_id", int(droneID)),
		slog.String("state", state),
	}
	l.LogAttrs(context.Background(), slog.LevelInfo, "drone state transition", append(base, attrs...)...)
}

// LogAuth logs an authentication attempt.
func (l *Logger) LogAuth(clientID, username string, success bool, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("client_id", clientID),
		slog.String("username", username),
		slog.Bool("success", success),
	}
	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	l.LogAttrs(context.Background(), level, "authentication attempt", append(base, attrs...)...)
}

// LogError logs err with context.
func (l *Logger) LogError(err error, message string, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.LogAttrs(context.Background(), slog.LevelError, message, attrs...)
}

// With returns a new Logger carrying additional attributes.
func (l *Logger) With(attrs ...slog.Attr) *Logger {
	any := make([]any, len(attrs))
	for i, a := range attrs {
		any[i] = a
	}
	return &Logger{Logger: l.Logger.With(any...), component: l.component}
}
