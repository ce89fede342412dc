// Package router exposes an initialized WMS source over HTTP.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/model"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/observability"
	"github.com/mohammed-shakir/wms-tilesource/internal/heightfield"
	mylog "github.com/mohammed-shakir/wms-tilesource/internal/logger"
	"github.com/mohammed-shakir/wms-tilesource/internal/profile"
	"github.com/mohammed-shakir/wms-tilesource/internal/tilekey"
	"github.com/mohammed-shakir/wms-tilesource/internal/wms"
)

// maxZoom bounds XYZ requests; maptile keys are uint32 per axis.
const maxZoom = 30

type handlers struct {
	logger    *slog.Logger
	source    wms.TileSource
	projector *tilekey.Projector
}

// New returns the tile routes of source:
//
//	GET /tiles/{z}/{x}/{y}         image in the profile's pyramid
//	GET /heightfields/{z}/{x}/{y}  heights in metres, JSON
//	GET /uris/{z}/{x}/{y}          the GetMap request of a tile
//	GET /uris?bbox=minx,miny,maxx,maxy
//	GET /xyz/{z}/{x}/{y}           web-map tile reprojected into the profile
//	GET /profile                   profile description, JSON
func New(logger *slog.Logger, source wms.TileSource, projector *tilekey.Projector) chi.Router {
	h := &handlers{logger: logger, source: source, projector: projector}
	r := chi.NewRouter()
	r.Use(instrument)
	r.Get("/tiles/{z}/{x}/{y}", h.tile)
	r.Get("/heightfields/{z}/{x}/{y}", h.heightField)
	r.Get("/uris/{z}/{x}/{y}", h.uri)
	r.Get("/uris", h.uriForBBox)
	r.Get("/xyz/{z}/{x}/{y}", h.xyz)
	r.Get("/profile", h.profile)
	return r
}

// instrument records request metrics under the matched route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *handlers) tile(w http.ResponseWriter, r *http.Request) {
	key, ctx, ok := h.profileKey(w, r)
	if !ok {
		return
	}
	h.serveImage(ctx, w, r, key)
}

func (h *handlers) xyz(w http.ResponseWriter, r *http.Request) {
	z, x, y, err := parseTileAddress(r)
	if err == nil && (z > maxZoom || uint64(x) >= 1<<z || uint64(y) >= 1<<z) {
		err = fmt.Errorf("tile %d/%d/%d outside the web-map grid", z, x, y)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := mylog.WithTile(r.Context(), fmt.Sprintf("xyz/%d/%d/%d", z, x, y))
	key, err := h.projector.ToProfile(tilekey.FromMapTile(maptile.New(x, y, maptile.Zoom(z))), h.source.Profile())
	if err != nil {
		h.logger.ErrorContext(ctx, "reproject tile", "err", err)
		http.Error(w, "reproject tile: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.serveImage(ctx, w, r, key)
}

func (h *handlers) serveImage(ctx context.Context, w http.ResponseWriter, r *http.Request, key wms.TileKey) {
	img, err := h.source.FetchImage(ctx, key, nil)
	if err != nil {
		h.upstreamError(ctx, w, err)
		return
	}
	if img == nil {
		h.logger.DebugContext(ctx, "no image for tile", "uri", h.source.CreateURI(key))
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var buf bytes.Buffer
	contentType, err := encodeImage(&buf, img, h.source.Extension())
	if err != nil {
		h.logger.ErrorContext(ctx, "encode tile", "err", err)
		http.Error(w, "encode tile: "+err.Error(), http.StatusInternalServerError)
		return
	}
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(buf.Bytes()))
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

func (h *handlers) heightField(w http.ResponseWriter, r *http.Request) {
	key, ctx, ok := h.profileKey(w, r)
	if !ok {
		return
	}
	hf, err := h.source.FetchHeightField(ctx, key, nil)
	if err != nil {
		h.upstreamError(ctx, w, err)
		return
	}
	if hf == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, heightFieldResponse{HeightField: hf, Bounds: bboxJSON(key.Bounds())})
}

func (h *handlers) uri(w http.ResponseWriter, r *http.Request) {
	key, _, ok := h.profileKey(w, r)
	if !ok {
		return
	}
	writeText(w, h.source.CreateURI(key))
}

func (h *handlers) uriForBBox(w http.ResponseWriter, r *http.Request) {
	bb, err := parseBBOX(r.URL.Query().Get("bbox"))
	if err != nil {
		http.Error(w, "invalid bbox: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeText(w, h.source.CreateURI(bboxKey(bb)))
}

func (h *handlers) profile(w http.ResponseWriter, _ *http.Request) {
	p := h.source.Profile()
	wide, high := p.TilesAtLOD0()
	writeJSON(w, profileResponse{
		Kind:          p.Kind().String(),
		SRS:           p.SRS().Canonical(),
		Extent:        bboxJSON(p.Extent()),
		TilesWide:     wide,
		TilesHigh:     high,
		PixelsPerTile: h.source.PixelsPerTile(),
		Extension:     h.source.Extension(),
	})
}

// profileKey parses {z}/{x}/{y} against the source profile. It writes the
// error response itself and reports whether the caller should go on.
func (h *handlers) profileKey(w http.ResponseWriter, r *http.Request) (tilekey.Key, context.Context, bool) {
	z, x, y, err := parseTileAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return tilekey.Key{}, nil, false
	}
	key, err := tilekey.ForProfile(h.source.Profile(), z, x, y)
	if errors.Is(err, profile.ErrOutOfRange) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return tilekey.Key{}, nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return tilekey.Key{}, nil, false
	}
	return key, mylog.WithTile(r.Context(), key.String()), true
}

func (h *handlers) upstreamError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		h.logger.DebugContext(ctx, "tile request canceled")
		return
	}
	h.logger.WarnContext(ctx, "tile fetch failed", "err", err)
	http.Error(w, "upstream error: "+err.Error(), http.StatusBadGateway)
}

type bboxKey model.BBox

func (k bboxKey) Bounds() model.BBox { return model.BBox(k) }

type bboxResponse struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
	SRS  string  `json:"srs,omitempty"`
}

func bboxJSON(b model.BBox) bboxResponse {
	return bboxResponse{MinX: b.X1, MinY: b.Y1, MaxX: b.X2, MaxY: b.Y2, SRS: b.SRID}
}

type heightFieldResponse struct {
	*heightfield.HeightField
	Bounds bboxResponse `json:"bounds"`
}

type profileResponse struct {
	Kind          string       `json:"kind"`
	SRS           string       `json:"srs"`
	Extent        bboxResponse `json:"extent"`
	TilesWide     int          `json:"tiles_wide"`
	TilesHigh     int          `json:"tiles_high"`
	PixelsPerTile int          `json:"pixels_per_tile"`
	Extension     string       `json:"extension"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, s+"\n")
}

// encodeImage writes img in the format named by ext. Formats without an
// encoder are served as PNG.
func encodeImage(w io.Writer, img image.Image, ext string) (string, error) {
	switch ext {
	case "jpg":
		return "image/jpeg", jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case "gif":
		return "image/gif", gif.Encode(w, img, nil)
	case "tif":
		return "image/tiff", tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case "bmp":
		return "image/bmp", bmp.Encode(w, img)
	default:
		return "image/png", png.Encode(w, img)
	}
}

func parseTileAddress(r *http.Request) (z, x, y uint32, err error) {
	var v [3]uint32
	for i, name := range []string{"z", "x", "y"} {
		n, perr := strconv.ParseUint(chi.URLParam(r, name), 10, 32)
		if perr != nil {
			return 0, 0, 0, fmt.Errorf("invalid tile %s: %q", name, chi.URLParam(r, name))
		}
		v[i] = uint32(n)
	}
	return v[0], v[1], v[2], nil
}

func parseBBOX(bboxParam string) (model.BBox, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) != 4 {
		return model.BBox{}, errors.New("expected 4 comma-separated values: minx,miny,maxx,maxy")
	}
	var v [4]float64
	for i, name := range []string{"minx", "miny", "maxx", "maxy"} {
		f, err := parseFloat(parts[i])
		if err != nil {
			return model.BBox{}, fmt.Errorf("%s: %w", name, err)
		}
		v[i] = f
	}
	return model.BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}
