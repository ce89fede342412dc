package wms

import (
	"context"
	"image"
	"log/slog"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/executor"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/model"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/observability"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/tileservice"
	"github.com/mohammed-shakir/wms-tilesource/internal/heightfield"
	"github.com/mohammed-shakir/wms-tilesource/internal/profile"
)

// A TileKey addresses one tile by its bounds in the profile's SRS.
type TileKey interface {
	Bounds() model.BBox
}

// TileSource is what a host needs from an initialized WMS source.
type TileSource interface {
	Profile() *profile.Profile
	CreateURI(key TileKey) string
	FetchImage(ctx context.Context, key TileKey, progress executor.Progress) (image.Image, error)
	FetchHeightField(ctx context.Context, key TileKey, progress executor.Progress) (*heightfield.HeightField, error)
	PixelsPerTile() int
	Extension() string
}

var _ TileSource = (*Ready)(nil)

// Ready is an initialized source. It is immutable and safe for concurrent
// use; only a successful Source.Initialize creates one.
type Ready struct {
	profile     *profile.Profile
	prototype   *Prototype
	format      string
	tileSize    int
	scale       float64
	tileService *tileservice.Service
	fetcher     ImageFetcher
	converter   HeightFieldConverter
	logger      *slog.Logger
}

func (r *Ready) Profile() *profile.Profile { return r.profile }

// Prototype returns the request prototype every tile URI is expanded from.
func (r *Ready) Prototype() *Prototype { return r.prototype }

// TileService returns the tile-service description found at initialization,
// or nil.
func (r *Ready) TileService() *tileservice.Service { return r.tileService }

func (r *Ready) PixelsPerTile() int { return r.tileSize }

// Extension is the image format requested from the server, e.g. "png".
func (r *Ready) Extension() string { return r.format }

// ScaleFactor is the multiplier turning fetched elevations into metres.
func (r *Ready) ScaleFactor() float64 { return r.scale }

// CreateURI returns the request URI for key.
func (r *Ready) CreateURI(key TileKey) string {
	b := key.Bounds()
	return r.prototype.Expand(b.X1, b.Y1, b.X2, b.Y2)
}

// FetchImage fetches the tile image for key. A nil image with a nil error
// means the server has no image for the tile.
func (r *Ready) FetchImage(ctx context.Context, key TileKey, progress executor.Progress) (image.Image, error) {
	img, err := r.fetcher.FetchImage(ctx, r.CreateURI(key), progress)
	observability.IncTileFetch("image", outcome(img, err))
	return img, err
}

// FetchHeightField fetches the tile for key and converts it to heights in
// metres. When the server has no image the converter decides what to return
// for a nil image.
func (r *Ready) FetchHeightField(ctx context.Context, key TileKey, progress executor.Progress) (*heightfield.HeightField, error) {
	uri := r.CreateURI(key)
	img, err := r.fetcher.FetchImage(ctx, uri, progress)
	observability.IncTileFetch("heightfield", outcome(img, err))
	if err != nil {
		return nil, err
	}
	if img == nil {
		r.logger.InfoContext(ctx, "failed to read heightfield", "uri", uri)
	}
	return r.converter.Convert(img, r.scale), nil
}

func outcome(img image.Image, err error) string {
	switch {
	case err != nil:
		return observability.OutcomeError
	case img == nil:
		return observability.OutcomeEmpty
	default:
		return observability.OutcomeOK
	}
}

// ScaleFactor maps an elevation unit to the factor converting it to metres.
func ScaleFactor(unit string) float64 {
	if unit == "ft" {
		return 0.3048
	}
	return 1
}
