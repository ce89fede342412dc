package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNewSlog_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Component: "wms"}, &buf)
	l := NewSlog(&zl).With("source", "http://x/wms")

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithTile(ctx, "3/4/2")
	l.WarnContext(ctx, "no image", "uri", "http://x/wms?BBOX=1,2,3,4")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	for k, want := range map[string]string{
		"level":      "warn",
		"msg":        "no image",
		"component":  "wms",
		"request_id": "req-1",
		"tile":       "3/4/2",
		"source":     "http://x/wms",
		"uri":        "http://x/wms?BBOX=1,2,3,4",
	} {
		if got, _ := line[k].(string); got != want {
			t.Fatalf("%s=%q want %q (line %s)", k, got, want, buf.String())
		}
	}
}

func TestWithTile_Empty(t *testing.T) {
	ctx := context.Background()
	if WithTile(ctx, "") != ctx {
		t.Fatal("empty tile must not wrap the context")
	}
}

func TestNewSlog_LevelAndGroups(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	l := NewSlog(&zl)

	if l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug enabled at info level")
	}
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record written: %s", buf.String())
	}

	l.WithGroup("fetch").Info("tile",
		slog.Duration("elapsed", 1500*time.Millisecond),
		slog.Group("bbox", slog.Float64("minx", -180)),
		slog.Any("err", errors.New("boom")))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	if line["fetch.bbox.minx"] != -180.0 {
		t.Fatalf("grouped float missing: %s", buf.String())
	}
	if line["fetch.err"] != "boom" {
		t.Fatalf("error attr=%v", line["fetch.err"])
	}
	if line["fetch.elapsed"] != 1500.0 {
		t.Fatalf("duration attr=%v want 1500 (ms)", line["fetch.elapsed"])
	}
}

func TestBuild_SamplesDebugOnly(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", SampleN: 3}, &buf)
	l := NewSlog(&zl)

	for range 6 {
		l.Debug("upstream done")
	}
	for range 3 {
		l.Info("wms source ready")
	}
	if n := strings.Count(buf.String(), `"upstream done"`); n != 2 {
		t.Fatalf("debug lines=%d want 2 of 6", n)
	}
	if n := strings.Count(buf.String(), `"wms source ready"`); n != 3 {
		t.Fatalf("info lines=%d want 3", n)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{
		"debug":   "debug",
		" WARN ":  "warn",
		"trace":   "trace",
		"":        "info",
		"verbose": "info",
	} {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q)=%s want %s", in, got, want)
		}
	}
}

func TestFromContext_NilParent(t *testing.T) {
	ctx := WithComponent(WithRequestID(context.Background(), ""), "http")
	if RequestID(ctx) == "" {
		t.Fatal("empty request ID must be generated")
	}
	FromContext(ctx, nil).Info().Msg("discarded")
}
