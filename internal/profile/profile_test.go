package profile

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/model"
	"github.com/mohammed-shakir/wms-tilesource/internal/srs"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	f, err := srs.NewFactory(16)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	return NewRegistry(f)
}

func TestRegistry_GlobalProfiles(t *testing.T) {
	r := newRegistry(t)

	geo := r.GlobalGeodetic()
	if geo.Kind() != GlobalGeodetic || geo.SRS().Canonical() != srs.Geodetic {
		t.Fatalf("unexpected geodetic profile %s", geo)
	}
	if w, h := geo.TilesAtLOD0(); w != 2 || h != 1 {
		t.Fatalf("geodetic lod0 = %dx%d want 2x1", w, h)
	}

	merc := r.GlobalMercator()
	if merc.Kind() != GlobalMercator || merc.SRS().Canonical() != srs.Mercator {
		t.Fatalf("unexpected mercator profile %s", merc)
	}
	if w, h := merc.TilesAtLOD0(); w != 1 || h != 1 {
		t.Fatalf("mercator lod0 = %dx%d want 1x1", w, h)
	}
}

func TestRegistry_Create(t *testing.T) {
	r := newRegistry(t)

	p, err := r.Create("EPSG:32633", 0, 0, 200000, 100000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := model.BBox{X1: 0, Y1: 0, X2: 200000, Y2: 100000, SRID: "EPSG:32633"}
	if diff := cmp.Diff(want, p.Extent()); diff != "" {
		t.Fatalf("extent mismatch (-want +got):\n%s", diff)
	}
	if p.Kind() != Custom {
		t.Fatalf("kind=%s want custom", p.Kind())
	}
	if w, h := p.TilesAtLOD0(); w != 2 || h != 1 {
		t.Fatalf("lod0 = %dx%d want 2x1", w, h)
	}

	if g, err := r.Create("epsg:4326", -180, -90, 180, 90); err != nil || g != r.GlobalGeodetic() {
		t.Fatalf("whole-globe 4326 should be the geodetic singleton, got %v %v", g, err)
	}

	if _, err := r.Create("", 0, 0, 1, 1); !errors.Is(err, ErrNoSRS) {
		t.Fatalf("err=%v want ErrNoSRS", err)
	}
	if _, err := r.Create("EPSG:4326", 0, 0, 0, 0); !errors.Is(err, ErrInvalidExtent) {
		t.Fatalf("err=%v want ErrInvalidExtent", err)
	}
}

func TestProfile_TileBounds(t *testing.T) {
	r := newRegistry(t)
	geo := r.GlobalGeodetic()

	for _, tc := range []struct {
		lod, x, y uint32
		want      model.BBox
	}{
		{0, 0, 0, model.BBox{X1: -180, Y1: -90, X2: 0, Y2: 90, SRID: srs.Geodetic}},
		{0, 1, 0, model.BBox{X1: 0, Y1: -90, X2: 180, Y2: 90, SRID: srs.Geodetic}},
		{1, 3, 1, model.BBox{X1: 90, Y1: -90, X2: 180, Y2: 0, SRID: srs.Geodetic}},
	} {
		got, err := geo.TileBounds(tc.lod, tc.x, tc.y)
		if err != nil {
			t.Fatalf("TileBounds(%d,%d,%d): %v", tc.lod, tc.x, tc.y, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("TileBounds(%d,%d,%d) mismatch (-want +got):\n%s", tc.lod, tc.x, tc.y, diff)
		}
	}

	if _, err := geo.TileBounds(0, 2, 0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("err=%v want ErrOutOfRange", err)
	}
	if _, err := geo.TileBounds(31, 0, 0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("err=%v want ErrOutOfRange", err)
	}
}
