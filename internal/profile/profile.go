// Package profile models tiling profiles: a spatial reference, the extent it
// tiles, and the layout of the tile pyramid at its coarsest level.
package profile

import (
	"errors"
	"fmt"
	"math"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/model"
	"github.com/mohammed-shakir/wms-tilesource/internal/srs"
)

// MercatorHalfExtent is half the width of the spherical-Mercator world in metres.
const MercatorHalfExtent = 20037508.342789244

const maxLOD = 30

var (
	ErrNoSRS         = errors.New("profile: unknown spatial reference")
	ErrInvalidExtent = errors.New("profile: invalid extent")
	ErrOutOfRange    = errors.New("profile: tile out of range")
)

type Kind int

const (
	Custom Kind = iota
	GlobalGeodetic
	GlobalMercator
)

func (k Kind) String() string {
	switch k {
	case GlobalGeodetic:
		return "global-geodetic"
	case GlobalMercator:
		return "global-mercator"
	default:
		return "custom"
	}
}

// A Profile is immutable once created.
type Profile struct {
	kind      Kind
	srs       *srs.SpatialReference
	extent    model.BBox
	tilesWide int
	tilesHigh int
}

func (p *Profile) Kind() Kind { return p.kind }
func (p *Profile) SRS() *srs.SpatialReference { return p.srs }

// Extent returns the tiled extent, tagged with the canonical SRS.
func (p *Profile) Extent() model.BBox { return p.extent }

// TilesAtLOD0 returns the number of tiles across and down at level 0.
func (p *Profile) TilesAtLOD0() (wide, high int) { return p.tilesWide, p.tilesHigh }

// NumTiles returns the number of tiles across and down at lod.
func (p *Profile) NumTiles(lod uint32) (wide, high uint64) {
	return uint64(p.tilesWide) << lod, uint64(p.tilesHigh) << lod
}

// TileBounds returns the extent of tile (x, y) at lod. Row 0 is the northern
// edge of the profile.
func (p *Profile) TileBounds(lod, x, y uint32) (model.BBox, error) {
	if lod > maxLOD {
		return model.BBox{}, fmt.Errorf("%w: lod %d", ErrOutOfRange, lod)
	}
	wide, high := p.NumTiles(lod)
	if uint64(x) >= wide || uint64(y) >= high {
		return model.BBox{}, fmt.Errorf("%w: %d/%d/%d", ErrOutOfRange, lod, x, y)
	}
	w := p.extent.Width() / float64(wide)
	h := p.extent.Height() / float64(high)
	minx := p.extent.X1 + float64(x)*w
	maxy := p.extent.Y2 - float64(y)*h
	return model.BBox{X1: minx, Y1: maxy - h, X2: minx + w, Y2: maxy, SRID: p.extent.SRID}, nil
}

func (p *Profile) String() string {
	return fmt.Sprintf("%s(%s %s)", p.kind, p.srs, p.extent)
}

// A Registry hands out the two well-known global profiles and creates custom
// ones. It is read-only after construction and safe for concurrent use.
type Registry struct {
	factory  *srs.Factory
	mercator *Profile
	geodetic *Profile
}

// NewRegistry returns a Registry resolving identifiers through factory.
func NewRegistry(factory *srs.Factory) *Registry {
	geo := factory.Create(srs.Geodetic)
	merc := factory.Create(srs.Mercator)
	return &Registry{
		factory: factory,
		geodetic: &Profile{
			kind:      GlobalGeodetic,
			srs:       geo,
			extent:    model.BBox{X1: -180, Y1: -90, X2: 180, Y2: 90, SRID: geo.Canonical()},
			tilesWide: 2,
			tilesHigh: 1,
		},
		mercator: &Profile{
			kind: GlobalMercator,
			srs:  merc,
			extent: model.BBox{
				X1: -MercatorHalfExtent, Y1: -MercatorHalfExtent,
				X2: MercatorHalfExtent, Y2: MercatorHalfExtent,
				SRID: merc.Canonical(),
			},
			tilesWide: 1,
			tilesHigh: 1,
		},
	}
}

func (r *Registry) GlobalMercator() *Profile { return r.mercator }
func (r *Registry) GlobalGeodetic() *Profile { return r.geodetic }

// SRS resolves id through the registry's factory.
func (r *Registry) SRS(id string) *srs.SpatialReference { return r.factory.Create(id) }

// Create returns a profile tiling the given extent of srsID. When the request
// describes one of the global profiles exactly, that profile is returned.
func (r *Registry) Create(srsID string, minx, miny, maxx, maxy float64) (*Profile, error) {
	return r.CreateTiled(srsID, minx, miny, maxx, maxy, 0, 0)
}

// CreateTiled is Create with an explicit level-0 layout of wide by high
// tiles. A zero layout is chosen to keep tiles close to square.
func (r *Registry) CreateTiled(srsID string, minx, miny, maxx, maxy float64, wide, high int) (*Profile, error) {
	ref := r.factory.Create(srsID)
	if ref == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoSRS, srsID)
	}
	extent := model.BBox{X1: minx, Y1: miny, X2: maxx, Y2: maxy, SRID: ref.Canonical()}
	if !extent.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidExtent, extent)
	}
	if wide < 0 || high < 0 || (wide == 0) != (high == 0) {
		return nil, fmt.Errorf("%w: layout %dx%d", ErrInvalidExtent, wide, high)
	}
	if wide == 0 {
		wide, high = tileLayout(extent)
	}
	for _, g := range []*Profile{r.geodetic, r.mercator} {
		if ref.IsEquivalentTo(g.srs) && extent == g.extent && wide == g.tilesWide && high == g.tilesHigh {
			return g, nil
		}
	}
	return &Profile{
		kind:      Custom,
		srs:       ref,
		extent:    extent,
		tilesWide: wide,
		tilesHigh: high,
	}, nil
}

// tileLayout keeps level-0 tiles as close to square as possible.
func tileLayout(extent model.BBox) (wide, high int) {
	w, h := extent.Width(), extent.Height()
	if w >= h {
		return max(1, int(math.Round(w/h))), 1
	}
	return 1, max(1, int(math.Round(h/w)))
}
