package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Logger is a context-aware front for slog. Records pass through a handler
// that stamps the identifiers found on the context and masks secrets, so
// callers can hand it errors and DSNs without scrubbing them first.
type Logger struct {
	logger *slog.Logger
}

// LogConfig configures a Logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level"`

	// Format is json or text. Default: json
	Format string `yaml:"format"`

	// Output defaults to stderr.
	Output io.Writer `yaml:"-"`

	AddSource bool `yaml:"add_source"`

	// RedactPatterns extend DefaultRedactPatterns.
	RedactPatterns []string `yaml:"redact_patterns"`
}

// ContextKey is the type of context keys read by the logger.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	SessionIDKey ContextKey = "session_id"
	UserIDKey    ContextKey = "user_id"
	TurnIDKey    ContextKey = "turn_id"
)

var contextKeys = []ContextKey{RequestIDKey, SessionIDKey, UserIDKey, TurnIDKey}

// DefaultRedactPatterns match common credential formats.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`AKIA[0-9A-Z]{16}`,
	`AIza[0-9A-Za-z_\-]{35}`,
	`(?i)postgres(ql)?://[^:\s]+:[^@\s]+@`,
}

// sensitiveKeys are attribute names whose values are never printed.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"dsn":           true,
	"authorization": true,
}

// NewLogger builds a Logger writing to config.Output.
func NewLogger(config LogConfig) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: LogLevelFromString(config.Level), AddSource: config.AddSource}

	var base slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(config.Format, "text") {
		base = slog.NewTextHandler(out, opts)
	}

	h := &redactingHandler{next: base}
	for _, pattern := range append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			h.patterns = append(h.patterns, re)
		}
	}
	return &Logger{logger: slog.New(h)}
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return &Logger{logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// Slog exposes the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args)
}

// WithFields returns a logger that adds args to every record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args []any) {
	if ctx == nil {
		ctx = context.Background()
	}
	l.logger.Log(ctx, level, msg, args...)
}

// redactingHandler adds context identifiers and masks secrets before
// delegating to next.
type redactingHandler struct {
	next     slog.Handler
	patterns []*regexp.Regexp
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.scrub(r.Message), r.PC)
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			out.AddAttrs(slog.String(string(key), v))
		}
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		out.AddAttrs(slog.String("trace_id", traceID))
	}
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.attr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.attr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(clean), patterns: h.patterns}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), patterns: h.patterns}
}

func (h *redactingHandler) attr(a slog.Attr) slog.Attr {
	if sensitiveKeys[normalizeKey(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.scrub(v.String()))
	case slog.KindGroup:
		group := v.Group()
		clean := make([]any, len(group))
		for i, g := range group {
			clean[i] = h.attr(g)
		}
		return slog.Group(a.Key, clean...)
	case slog.KindAny:
		return slog.Any(a.Key, h.any(v.Any()))
	default:
		return slog.Attr{Key: a.Key, Value: v}
	}
}

func (h *redactingHandler) any(v any) any {
	switch val := v.(type) {
	case error:
		return h.scrub(val.Error())
	case []byte:
		return h.scrub(string(val))
	case map[string]any:
		clean := make(map[string]any, len(val))
		for k, inner := range val {
			if sensitiveKeys[normalizeKey(k)] {
				clean[k] = redacted
			} else {
				clean[k] = h.any(inner)
			}
		}
		return clean
	case string:
		return h.scrub(val)
	case nil, bool, int, int64, float64:
		return v
	default:
		if b, err := json.Marshal(v); err == nil {
			return h.scrub(string(b))
		}
		return v
	}
}

func (h *redactingHandler) scrub(s string) string {
	for _, re := range h.patterns {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "-", "_"))
}

func AddRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func AddSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func AddUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func AddTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// GetSessionID returns the session ID stored on ctx, if any.
func GetSessionID(ctx context.Context) string {
	id, _ := ctx.Value(SessionIDKey).(string)
	return id
}

// LogLevelFromString parses a level name, defaulting to info.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
