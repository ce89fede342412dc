// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"math"
)

// BBox is an axis-aligned extent in the coordinates of SRID.
type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wms bbox format
func (b BBox) String() string {
	if b.SRID == "" {
		return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.X1, b.Y1, b.X2, b.Y2)
	}
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

// IsZero reports whether all four coordinates are zero. Capabilities documents
// use an all-zero box to mean "extent not reported".
func (b BBox) IsZero() bool {
	return b.X1 == 0 && b.Y1 == 0 && b.X2 == 0 && b.Y2 == 0
}

func (b BBox) Width() float64  { return b.X2 - b.X1 }
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Valid reports whether b is finite and has a positive area.
func (b BBox) Valid() bool {
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Union returns the smallest box containing b and o. A zero box is treated as
// empty. The SRID of b wins unless b is empty.
func (b BBox) Union(o BBox) BBox {
	if b.IsZero() {
		return o
	}
	if o.IsZero() {
		return b
	}
	return BBox{
		X1:   math.Min(b.X1, o.X1),
		Y1:   math.Min(b.Y1, o.Y1),
		X2:   math.Max(b.X2, o.X2),
		Y2:   math.Max(b.Y2, o.Y2),
		SRID: b.SRID,
	}
}
