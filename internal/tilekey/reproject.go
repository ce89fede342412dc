package tilekey

import (
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/twpayne/go-proj/v10"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/model"
	"github.com/mohammed-shakir/wms-tilesource/internal/profile"
	"github.com/mohammed-shakir/wms-tilesource/internal/srs"
)

// lonLat is the source of every reprojection. A PROJ string keeps the axis
// order longitude first, unlike "EPSG:4326".
const lonLat = "+proj=longlat +datum=WGS84 +no_defs"

// A Reprojector moves longitude/latitude keys into one target CRS.
type Reprojector struct {
	pj *proj.PJ
	to string
}

// NewReprojector returns a Reprojector from longitude/latitude to the CRS
// named by to, e.g. "EPSG:32633". Results are in the target's authority axis
// order, which is easting first for most projected systems.
func NewReprojector(to string) (*Reprojector, error) {
	pj, err := proj.NewCRSToCRS(lonLat, to, nil)
	if err != nil {
		return nil, fmt.Errorf("reprojector to %s: %w", to, err)
	}
	return &Reprojector{pj: pj, to: to}, nil
}

// Reproject returns k with its bounds replaced by the envelope of its four
// reprojected corners.
func (r *Reprojector) Reproject(k Key) (Key, error) {
	b := k.bounds
	coords := [][]float64{
		{b.X1, b.Y1},
		{b.X2, b.Y1},
		{b.X2, b.Y2},
		{b.X1, b.Y2},
	}
	if err := r.pj.ForwardFloat64Slices(coords); err != nil {
		return Key{}, fmt.Errorf("reproject %s: %w", k, err)
	}
	env := model.BBox{X1: math.Inf(1), Y1: math.Inf(1), X2: math.Inf(-1), Y2: math.Inf(-1), SRID: r.to}
	for _, c := range coords {
		env.X1, env.Y1 = math.Min(env.X1, c[0]), math.Min(env.Y1, c[1])
		env.X2, env.Y2 = math.Max(env.X2, c[0]), math.Max(env.Y2, c[1])
	}
	k.bounds = env
	return k, nil
}

// A Projector moves web-map keys into profiles, keeping recently used
// reprojectors.
type Projector struct {
	cache *lru.Cache[string, *Reprojector]
}

func NewProjector(size int) (*Projector, error) {
	if size <= 0 {
		size = 16
	}
	cache, err := lru.New[string, *Reprojector](size)
	if err != nil {
		return nil, err
	}
	return &Projector{cache: cache}, nil
}

// ToProfile expresses the longitude/latitude bounds of k in the SRS of p.
// Geographic profiles take the bounds as they are; the global Mercator
// profile uses the spherical formulas; anything else goes through PROJ.
func (pr *Projector) ToProfile(k Key, p *profile.Profile) (Key, error) {
	ref := p.SRS()
	switch {
	case ref.IsGeographic():
		k.bounds.SRID = ref.Canonical()
		return k, nil
	case ref.Canonical() == srs.Mercator:
		return Mercator(k), nil
	}
	to := ref.Canonical()
	r, ok := pr.cache.Get(to)
	if !ok {
		var err error
		if r, err = NewReprojector(to); err != nil {
			return Key{}, err
		}
		pr.cache.Add(to, r)
	}
	return r.Reproject(k)
}
