package wms

import (
	"log/slog"
	"strings"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/model"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/ogc"
	"github.com/mohammed-shakir/wms-tilesource/internal/profile"
)

// resolveProfile picks the profile for srsID, preferring the well-known
// global profiles over ones computed from layer extents. It returns nil when
// nothing fits.
func resolveProfile(reg *profile.Registry, srsID, layers string, caps *ogc.Capabilities, logger *slog.Logger) *profile.Profile {
	ref := reg.SRS(srsID)
	if ref == nil {
		return nil
	}
	switch {
	case ref.IsEquivalentTo(reg.GlobalMercator().SRS()):
		return reg.GlobalMercator()
	case ref.IsEquivalentTo(reg.GlobalGeodetic().SRS()):
		return reg.GlobalGeodetic()
	}

	if layer := lookupLayers(caps, layers, srsID); layer != nil {
		box := layer.Extent(srsID)
		if ref.IsGeographic() && box.IsZero() {
			box = layer.LatLonExtent
			if box.IsZero() {
				return reg.GlobalGeodetic()
			}
		}
		p, err := reg.Create(srsID, box.X1, box.Y1, box.X2, box.Y2)
		if err == nil {
			return p
		}
		logger.Warn("layer extent unusable for a profile",
			"layers", layers,
			"srs", srsID,
			"extent", box.String(),
			"err", err)
	}

	if ref.IsGeographic() {
		return reg.GlobalGeodetic()
	}
	return nil
}

// lookupLayers finds layers by name. A comma-separated list that is not
// itself a layer name resolves to a layer covering the union of the listed
// layers that exist. Only native boxes in srsID take part in the union.
func lookupLayers(caps *ogc.Capabilities, layers, srsID string) *ogc.Layer {
	if l := caps.LayerByName(layers); l != nil {
		return l
	}
	if !strings.Contains(layers, ",") {
		return nil
	}
	var (
		merged      *ogc.Layer
		native, geo model.BBox
	)
	for _, name := range strings.Split(layers, ",") {
		l := caps.LayerByName(strings.TrimSpace(name))
		if l == nil {
			continue
		}
		if merged == nil {
			merged = &ogc.Layer{Name: layers, SRS: l.SRS}
		}
		if e := l.Extent(srsID); strings.EqualFold(e.SRID, srsID) {
			native = native.Union(e)
		}
		geo = geo.Union(l.LatLonExtent)
	}
	if merged == nil {
		return nil
	}
	if !native.IsZero() {
		merged.Extents = []model.BBox{native}
	}
	merged.LatLonExtent = geo
	return merged
}
