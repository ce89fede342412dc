// Package logger builds the zerolog logger shared by the tile server and the
// URI tool, and carries per-request fields (request ID, component, tile
// address) through contexts.
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
	// Level is a zerolog level name; unknown names mean info.
	Level   string
	Console bool
	// SampleN keeps one in N debug lines. Tile fetches log at debug once per
	// upstream request, so busy servers thin them here. Info and above are
	// never sampled.
	SampleN   int
	Component string
}

type ctxKey string

const (
	ctxReqIDKey  ctxKey = "request_id"
	ctxComponent ctxKey = "component"
	ctxTile      ctxKey = "tile"
)

// contextFields lists the context values copied onto every log line, in
// output order.
var contextFields = []ctxKey{ctxReqIDKey, ctxComponent, ctxTile}

func withValue(ctx context.Context, k ctxKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, k, v)
}

func value(ctx context.Context, k ctxKey) string {
	s, _ := ctx.Value(k).(string)
	return s
}

// WithRequestID tags ctx with reqID, generating one when it is empty.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return withValue(ctx, ctxReqIDKey, reqID)
}

// RequestID returns the request ID carried by ctx, or "".
func RequestID(ctx context.Context) string { return value(ctx, ctxReqIDKey) }

// WithTile tags log lines with a tile address such as "3/4/2".
func WithTile(ctx context.Context, tile string) context.Context {
	return withValue(ctx, ctxTile, tile)
}

func WithComponent(ctx context.Context, component string) context.Context {
	return withValue(ctx, ctxComponent, component)
}

func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Build returns a JSON logger writing to out (stdout when nil), or a
// human-readable one when cfg.Console is set. It sets the zerolog global
// level, which the slog bridge also honours.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out)
	if cfg.SampleN > 1 {
		n := uint32(min(int64(cfg.SampleN), math.MaxUint32))
		base = base.Sample(zerolog.LevelSampler{DebugSampler: &zerolog.BasicSampler{N: n}})
	}

	zctx := base.With().Timestamp()
	if cfg.Component != "" {
		zctx = zctx.Str("component", cfg.Component)
	}
	return zctx.Logger()
}

// FromContext returns a child of parent carrying the request fields found in
// ctx. A nil parent discards everything.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	base := zerolog.Nop()
	if parent != nil {
		base = *parent
	}
	w := base.With()
	for _, k := range contextFields {
		if s := value(ctx, k); s != "" {
			w = w.Str(string(k), s)
		}
	}
	l := w.Logger()
	return &l
}
