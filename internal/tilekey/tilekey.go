// Package tilekey addresses tiles of a profile pyramid and of the web-map XYZ
// scheme, and moves XYZ tiles into the coordinates of a profile.
package tilekey

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/model"
	"github.com/mohammed-shakir/wms-tilesource/internal/profile"
	"github.com/mohammed-shakir/wms-tilesource/internal/srs"
)

// A Key is a tile address together with its bounds.
type Key struct {
	Z, X, Y uint32
	bounds  model.BBox
}

func (k Key) Bounds() model.BBox { return k.bounds }

func (k Key) String() string { return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y) }

// ForProfile returns the key of tile x,y at level z of p. Row 0 is the
// northern edge.
func ForProfile(p *profile.Profile, z, x, y uint32) (Key, error) {
	b, err := p.TileBounds(z, x, y)
	if err != nil {
		return Key{}, err
	}
	return Key{Z: z, X: x, Y: y, bounds: b}, nil
}

// FromMapTile returns the key of a web-map tile, bounded in longitude and
// latitude.
func FromMapTile(t maptile.Tile) Key {
	return Key{Z: uint32(t.Z), X: t.X, Y: t.Y, bounds: fromBound(t.Bound(), srs.Geodetic)}
}

// Mercator reprojects the longitude/latitude bounds of k to spherical
// Mercator metres.
func Mercator(k Key) Key {
	b := k.bounds
	lo := project.WGS84.ToMercator(orb.Point{b.X1, b.Y1})
	hi := project.WGS84.ToMercator(orb.Point{b.X2, b.Y2})
	k.bounds = fromBound(orb.Bound{Min: lo, Max: hi}, srs.Mercator)
	return k
}

func fromBound(b orb.Bound, srid string) model.BBox {
	return model.BBox{X1: b.Min[0], Y1: b.Min[1], X2: b.Max[0], Y2: b.Max[1], SRID: srid}
}
