package metrics

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"time"
)

// Level is a logger threshold. LevelSilent suppresses everything.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent
)

var levels = [...]struct {
	name  string
	level slog.Level
}{
	LevelDebug:  {"DEBUG", slog.LevelDebug},
	LevelInfo:   {"INFO", slog.LevelInfo},
	LevelWarn:   {"WARN", slog.LevelWarn},
	LevelError:  {"ERROR", slog.LevelError},
	LevelSilent: {"SILENT", slog.LevelError + 64}, // above any record level
}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levels) {
		return levels[l].name
	}
	return "UNKNOWN"
}

func (l Level) slogLevel() slog.Level {
	if l >= 0 && int(l) < len(levels) {
		return levels[l].level
	}
	return slog.LevelInfo
}

// ParseLevel accepts the names printed by String plus WARNING, OFF and
// NONE, ignoring case. Anything else is LevelInfo.
func ParseLevel(s string) Level {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "WARNING":
		return LevelWarn
	case "OFF", "NONE":
		return LevelSilent
	}
	for l := range levels {
		if levels[l].name == name {
			return Level(l)
		}
	}
	return LevelInfo
}

// Format selects the slog handler.
type Format int

const (
	FormatText Format = iota // logfmt-style key=value lines
	FormatJSON               // one JSON object per line
)

// ParseFormat parses a format name; anything other than "json" is text.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Fields are attached to a log entry as slog attributes.
type Fields map[string]any

// Logger is a leveled structured logger over log/slog. Fields whose names
// denote key material are redacted before they reach the handler.
type Logger struct {
	level  *slog.LevelVar
	base   slog.Handler
	h      slog.Handler
	name   string
	fields Fields
}

type loggerConfig struct {
	out    io.Writer
	level  Level
	format Format
	fields Fields
	name   string
}

type LoggerOption func(*loggerConfig)

func WithOutput(w io.Writer) LoggerOption { return func(c *loggerConfig) { c.out = w } }
func WithLevel(level Level) LoggerOption { return func(c *loggerConfig) { c.level = level } }
func WithFormat(format Format) LoggerOption { return func(c *loggerConfig) { c.format = format } }

// WithFields attaches fields to every entry.
func WithFields(fields Fields) LoggerOption {
	return func(c *loggerConfig) { c.fields = fields }
}

// WithName is reported as the "logger" field.
func WithName(name string) LoggerOption {
	return func(c *loggerConfig) { c.name = name }
}

// NewLogger creates a logger. The default writes INFO and above as text to
// stdout.
func NewLogger(opts ...LoggerOption) *Logger {
	cfg := loggerConfig{out: os.Stdout, level: LevelInfo, format: FormatText}
	for _, opt := range opts {
		opt(&cfg)
	}

	lv := new(slog.LevelVar)
	lv.Set(cfg.level.slogLevel())
	hopts := &slog.HandlerOptions{Level: lv, ReplaceAttr: replaceTime(cfg.format)}

	var h slog.Handler
	if cfg.format == FormatJSON {
		h = slog.NewJSONHandler(cfg.out, hopts)
	} else {
		h = slog.NewTextHandler(cfg.out, hopts)
	}
	return newLogger(lv, &redactingHandler{next: h}, cfg.name, cfg.fields)
}

func newLogger(lv *slog.LevelVar, base slog.Handler, name string, fields Fields) *Logger {
	attrs := make([]slog.Attr, 0, len(fields)+1)
	if name != "" {
		attrs = append(attrs, slog.String("logger", name))
	}
	attrs = append(attrs, toAttrs(fields)...)
	return &Logger{
		level:  lv,
		base:   base,
		h:      base.WithAttrs(attrs),
		name:   name,
		fields: fields,
	}
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	maps.Copy(merged, l.fields)
	maps.Copy(merged, fields)
	return newLogger(l.level, l.base, l.name, merged)
}

// Named returns a child logger; names nest with dots.
func (l *Logger) Named(name string) *Logger {
	if l.name != "" {
		name = l.name + "." + name
	}
	return newLogger(l.level, l.base, name, l.fields)
}

// SetLevel changes the level of this logger and every logger derived from
// the same root.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level.slogLevel())
}

func (l *Logger) Debug(msg string, fields ...Fields) { l.log(slog.LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Fields) { l.log(slog.LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Fields) { l.log(slog.LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Fields) { l.log(slog.LevelError, msg, fields) }

func (l *Logger) log(level slog.Level, msg string, extra []Fields) {
	ctx := context.Background()
	if !l.h.Enabled(ctx, level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	switch len(extra) {
	case 0:
	case 1:
		r.AddAttrs(toAttrs(extra[0])...)
	default:
		merged := make(Fields)
		for _, f := range extra {
			maps.Copy(merged, f)
		}
		r.AddAttrs(toAttrs(merged)...)
	}
	_ = l.h.Handle(ctx, r)
}

// toAttrs converts fields in key order so text output is stable.
func toAttrs(fields Fields) []slog.Attr {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]slog.Attr, 0, len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	return attrs
}

// replaceTime shortens text timestamps to a wall clock.
func replaceTime(format Format) func([]string, slog.Attr) slog.Attr {
	if format == FormatJSON {
		return nil
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
			return slog.String(slog.TimeKey, a.Value.Time().Format("15:04:05.000"))
		}
		return a
	}
}

const redacted = "[REDACTED]"

// sensitiveFields never reach the log output.
var sensitiveFields = map[string]bool{
	"key":           true,
	"private_key":   true,
	"shared_secret": true,
	"seed":          true,
	"session_key":   true,
	"tx_key":        true,
	"rx_key":        true,
}

func isSensitive(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	return sensitiveFields[k] || strings.Contains(k, "secret") || strings.Contains(k, "private")
}

// redactingHandler replaces the value of sensitive attributes, including
// those attached through WithAttrs.
type redactingHandler struct {
	next slog.Handler
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(clean)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if isSensitive(a.Key) {
		return slog.String(a.Key, redacted)
	}
	return a
}

var globalLogger atomic.Pointer[Logger]

func init() { globalLogger.Store(NewLogger()) }

// SetLogger replaces the process-wide logger.
func SetLogger(l *Logger) { globalLogger.Store(l) }

// GetLogger returns the process-wide logger, INFO text on stdout unless
// replaced.
func GetLogger() *Logger { return globalLogger.Load() }

// NullLogger discards everything.
func NullLogger() *Logger {
	return NewLogger(WithOutput(io.Discard), WithLevel(LevelSilent))
}

// TestLogger returns a debug-level text logger writing to w.
func TestLogger(w io.Writer) *Logger {
	return NewLogger(WithOutput(w), WithLevel(LevelDebug))
}
