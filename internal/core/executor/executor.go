// Package executor fetches capabilities documents and tile images from WMS
// servers or the local filesystem.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/mohammed-shakir/wms-tilesource/internal/core/observability"
)

// maxDocumentBytes bounds capabilities and tile-service documents.
const maxDocumentBytes = 16 << 20

var (
	ErrUpstreamStatus = errors.New("upstream status")
	ErrTooLarge       = errors.New("document too large")
)

// Progress is called as a response body is read. total is -1 when the size
// is unknown.
type Progress func(read, total int64)

type Interface interface {
	FetchDocument(ctx context.Context, uri string) ([]byte, error)
	FetchImage(ctx context.Context, uri string, progress Progress) (image.Image, error)
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	docLimit int64
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{
		logger:   logger,
		client:   client,
		docLimit: maxDocumentBytes,
		startNow: time.Now,
	}
}

// FetchDocument returns the body at uri. A missing document is an error, and
// so is one larger than 16 MiB.
func (e *Executor) FetchDocument(ctx context.Context, uri string) ([]byte, error) {
	b, err := e.fetch(ctx, uri, e.docLimit, nil)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: no document at %s", ErrUpstreamStatus, uri)
	}
	return b, nil
}

// FetchImage fetches and decodes the image at uri. It returns (nil, nil) when
// the server has no image for the request: a 204 or 404, an empty body, or a
// body that does not decode as an image (typically a WMS ServiceException).
func (e *Executor) FetchImage(ctx context.Context, uri string, progress Progress) (image.Image, error) {
	b, err := e.fetch(ctx, uri, -1, progress)
	if err != nil || len(b) == 0 {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		e.logger.DebugContext(ctx, "response is not an image",
			"uri", uri,
			"err", err,
			"body", snippet(b))
		return nil, nil
	}
	e.logger.DebugContext(ctx, "image decoded", "uri", uri, "format", format, "bounds", img.Bounds().String())
	return img, nil
}

// fetch reads uri. A nil slice and nil error mean nothing is there.
func (e *Executor) fetch(ctx context.Context, uri string, limit int64, progress Progress) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse uri: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return e.fetchHTTP(ctx, uri, limit, progress)
	case "file":
		return readFile(u.Path, limit)
	case "":
		return readFile(uri, limit)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func (e *Executor) fetchHTTP(ctx context.Context, uri string, limit int64, progress Progress) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := e.startNow()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency("wms", dur.Seconds())
	e.logger.DebugContext(ctx, "upstream done",
		"uri", uri,
		"status", resp.StatusCode,
		"duration", dur.String())

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("%w %d: %s", ErrUpstreamStatus, resp.StatusCode, string(b))
	}

	if limit > 0 && resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, uri, resp.ContentLength, limit)
	}
	var body io.Reader = resp.Body
	if limit > 0 {
		// One byte past the limit tells a full document from a cut one.
		body = io.LimitReader(body, limit+1)
	}
	if progress != nil {
		body = &progressReader{r: body, total: resp.ContentLength, fn: progress}
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, uri, limit)
	}
	return b, nil
}

func readFile(path string, limit int64) ([]byte, error) {
	if limit > 0 {
		if fi, err := os.Stat(path); err == nil && fi.Size() > limit {
			return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, path, fi.Size(), limit)
		}
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return b, nil
}

type progressReader struct {
	r     io.Reader
	read  int64
	total int64
	fn    Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.fn(p.read, p.total)
	}
	return n, err
}

func snippet(b []byte) string {
	const n = 256
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
