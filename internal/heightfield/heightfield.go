// Package heightfield converts raster tiles into elevation grids.
package heightfield

import (
	"image"
	"image/color"
	"math"
)

// NoData marks a sample without a height.
const NoData = float32(-math.MaxFloat32)

// Raw 16-bit samples that servers use for "no height here".
const (
	rawNoData    = -32768
	rawNoDataAlt = -32767
)

// A HeightField is a grid of heights in metres. Heights are row major and
// row 0 is the southern edge.
type HeightField struct {
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Heights []float32 `json:"heights"`
}

// New returns a width×height field filled with NoData.
func New(width, height int) *HeightField {
	hf := &HeightField{Width: width, Height: height, Heights: make([]float32, width*height)}
	for i := range hf.Heights {
		hf.Heights[i] = NoData
	}
	return hf
}

// At returns the height at column c, row r (row 0 south).
func (hf *HeightField) At(c, r int) float32 {
	return hf.Heights[r*hf.Width+c]
}

func (hf *HeightField) Set(c, r int, h float32) {
	hf.Heights[r*hf.Width+c] = h
}

// MinMax returns the lowest and highest heights, ignoring NoData. ok is false
// when every sample is NoData.
func (hf *HeightField) MinMax() (lo, hi float32, ok bool) {
	lo, hi = math.MaxFloat32, -math.MaxFloat32
	for _, h := range hf.Heights {
		if h == NoData {
			continue
		}
		lo, hi, ok = min(lo, h), max(hi, h), true
	}
	return lo, hi, ok
}

// Converter turns decoded tiles into height fields.
type Converter struct{}

// Convert reads every sample of img as a height and multiplies it by scale.
// 16-bit gray samples are signed; 8-bit gray samples are unsigned; anything
// else is read through its luminance. A nil image yields a nil field, which
// callers treat as "no tile".
func (Converter) Convert(img image.Image, scale float64) *HeightField {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	hf := New(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := b.Max.Y - 1 - y
		for x := b.Min.X; x < b.Max.X; x++ {
			raw := sample(img, x, y)
			if raw == rawNoData || raw == rawNoDataAlt {
				continue
			}
			hf.Set(x-b.Min.X, row, float32(raw*scale))
		}
	}
	return hf
}

func sample(img image.Image, x, y int) float64 {
	switch im := img.(type) {
	case *image.Gray16:
		return float64(int16(im.Gray16At(x, y).Y))
	case *image.Gray:
		return float64(im.GrayAt(x, y).Y)
	default:
		return float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
	}
}
