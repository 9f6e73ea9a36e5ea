package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogBridge_CarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Map: "world"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithQueryType(ctx, "point")
	ctx = WithComponent(ctx, "query")
	log.LogAttrs(ctx, slog.LevelWarn, "limit reached", slog.Int("limit", 3), slog.Any("err", errors.New("boom")))

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"level":      "warn",
		"msg":        "limit reached",
		"map":        "world",
		"request_id": "req-1",
		"query_type": "point",
		"component":  "query",
		"limit":      float64(3),
		"err":        "boom",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s=%v want %v (line %s)", k, got[k], v, buf.String())
		}
	}
}

func TestSlogBridge_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	t.Cleanup(func() { Build(Config{Level: "info"}, &bytes.Buffer{}) })
	log := NewSlog(&zl)

	log.Debug("hidden")
	log.Info("hidden")
	log.Error("shown")
	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Fatalf("lines=%d want 1: %s", n, buf.String())
	}
}

func TestSlogBridge_GroupsAndQueryFile(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	log := NewSlog(&zl).WithGroup("layer").With(slog.String("name", "wells"))

	ctx := WithQueryFile(context.Background(), "near.qy")
	log.InfoContext(ctx, "replayed", slog.Group("bounds", slog.Float64("minx", 1)), slog.Int("results", 2))

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"query_file":        "near.qy",
		"layer.name":        "wells",
		"layer.bounds.minx": float64(1),
		"layer.results":     float64(2),
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s=%v want %v (line %s)", k, got[k], v, buf.String())
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestRequestID(t *testing.T) {
	if RequestID(context.Background()) != "" {
		t.Fatal("empty context should have no request id")
	}
	ctx := WithRequestID(context.Background(), "")
	if id := RequestID(ctx); len(id) != 16 {
		t.Fatalf("generated id=%q", id)
	}
}
