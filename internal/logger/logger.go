// Package logger builds the zerolog root logger and carries per-request
// fields (request id, map, query type, query file) through contexts.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int
	Map       string
	Component string
}

type ctxKey string

const (
	ctxReqIDKey  ctxKey = "request_id"
	ctxQueryType ctxKey = "query_type"
	ctxQueryFile ctxKey = "query_file"
	ctxComponent ctxKey = "component"
	ctxMap       ctxKey = "map"
)

// contextFields are copied onto every record, in this order.
var contextFields = []ctxKey{ctxReqIDKey, ctxMap, ctxComponent, ctxQueryType, ctxQueryFile}

func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return context.WithValue(ctx, ctxReqIDKey, reqID)
}

func WithQueryType(ctx context.Context, qt string) context.Context {
	return withField(ctx, ctxQueryType, qt)
}

// WithQueryFile tags records about a saved query file.
func WithQueryFile(ctx context.Context, name string) context.Context {
	return withField(ctx, ctxQueryFile, name)
}

func WithMap(ctx context.Context, name string) context.Context {
	return withField(ctx, ctxMap, name)
}

func WithComponent(ctx context.Context, component string) context.Context {
	return withField(ctx, ctxComponent, component)
}

func withField(ctx context.Context, k ctxKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, k, v)
}

// RequestID returns the id set by WithRequestID, if any.
func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(ctxReqIDKey).(string)
	return s
}

func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func safeUint32(n int) uint32 {
	if n <= 0 {
		return 0
	}
	if n > int(math.MaxUint32) {
		return math.MaxUint32
	}
	return uint32(n)
}

// ParseLevel maps a config level name to zerolog. Unknown names are info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Build configures zerolog globally and returns the root logger.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out)
	if n := safeUint32(cfg.SampleN); n > 0 {
		base = base.Sample(&zerolog.BasicSampler{N: n})
	}

	ctx := base.With().Timestamp()
	if cfg.Map != "" {
		ctx = ctx.Str(string(ctxMap), cfg.Map)
	}
	if cfg.Component != "" {
		ctx = ctx.Str(string(ctxComponent), cfg.Component)
	}
	return ctx.Logger()
}

// FromContext returns a child of parent carrying the context fields.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	var base zerolog.Logger
	if parent == nil {
		base = zerolog.New(io.Discard)
	} else {
		base = *parent
	}
	w := base.With()
	for _, k := range contextFields {
		if s, ok := ctx.Value(k).(string); ok && s != "" {
			w = w.Str(string(k), s)
		}
	}
	l := w.Logger()
	return &l
}
