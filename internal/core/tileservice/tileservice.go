// Package tileservice reads WMS tile-service descriptions (the response to
// request=GetTileService) and turns their tile patterns into profiles and
// request prototypes.
package tileservice

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/model"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/ogc"
	"github.com/mohammed-shakir/wms-tilesource/internal/profile"
)

var (
	ErrNoBBox      = errors.New("tile pattern has no bbox")
	ErrNoPatterns  = errors.New("no tile patterns")
	errBadBBox     = errors.New("bbox needs four numbers")
	errBadTileSize = errors.New("invalid tile size")
)

// Pattern is one tile request the server answers from its tile cache.
type Pattern struct {
	Layers string
	Format string
	Styles string
	SRS    string
	Width  int
	Height int
	// Extent is the bbox of the sample tile, in SRS coordinates.
	Extent model.BBox
	// Prototype is the query fragment with the bbox replaced by placeholders.
	Prototype string
}

type Group struct {
	Name     string
	Title    string
	Extent   model.BBox
	Patterns []Pattern
}

// Service is a parsed tile-service description. Nested groups are flattened
// depth first.
type Service struct {
	Name   string
	Title  string
	Extent model.BBox
	Groups []Group
}

// Patterns returns every pattern in document order.
func (s *Service) Patterns() []Pattern {
	var out []Pattern
	for _, g := range s.Groups {
		out = append(out, g.Patterns...)
	}
	return out
}

// MatchingPatterns returns the patterns serving exactly the given request, in
// document order. Names compare case-insensitively and formats compare after
// MIME normalization, so "image/jpeg", "jpeg" and "jpg" are the same.
func (s *Service) MatchingPatterns(layers, format, styles, srsID string, width, height int) []Pattern {
	var out []Pattern
	for _, p := range s.Patterns() {
		if !strings.EqualFold(p.Layers, layers) ||
			!strings.EqualFold(p.Styles, styles) ||
			!strings.EqualFold(p.SRS, srsID) ||
			!sameFormat(p.Format, format) ||
			p.Width != width || p.Height != height {
			continue
		}
		out = append(out, p)
	}
	return out
}

func sameFormat(a, b string) bool {
	ea, eb := ogc.ExtensionForFormat(a), ogc.ExtensionForFormat(b)
	if ea != "" || eb != "" {
		return ea == eb
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// CreateProfile builds the profile implied by patterns. Level-0 tiles have
// the largest size any pattern describes and are anchored at the top-left-most
// corner among patterns of that size. For geographic patterns the level-0 grid
// grows east and south until it covers the data extent advertised by the
// service and by the groups holding the patterns. The SRS of the first
// pattern is used.
func (s *Service) CreateProfile(reg *profile.Registry, patterns []Pattern) (*profile.Profile, error) {
	if len(patterns) == 0 {
		return nil, ErrNoPatterns
	}
	var w, h float64
	for _, p := range patterns {
		w = math.Max(w, p.Extent.Width())
		h = math.Max(h, p.Extent.Height())
	}
	minx, maxy := math.Inf(1), math.Inf(-1)
	for _, p := range patterns {
		if p.Extent.Width() == w && p.Extent.Height() == h {
			minx = math.Min(minx, p.Extent.X1)
			maxy = math.Max(maxy, p.Extent.Y2)
		}
	}
	if math.IsInf(minx, 0) {
		// No single pattern has both the widest and the tallest tile.
		minx, maxy = patterns[0].Extent.X1, patterns[0].Extent.Y2
	}

	wide, high := 1, 1
	if data := s.dataExtent(patterns); data.Valid() && w > 0 && h > 0 && reg.SRS(patterns[0].SRS).IsGeographic() {
		wide = max(1, int(math.Ceil((data.X2-minx)/w)))
		high = max(1, int(math.Ceil((maxy-data.Y1)/h)))
	}
	return reg.CreateTiled(patterns[0].SRS, minx, maxy-float64(high)*h, minx+float64(wide)*w, maxy, wide, high)
}

// dataExtent is the union of the service box and the boxes of every group
// holding one of patterns. It is zero when none is advertised.
func (s *Service) dataExtent(patterns []Pattern) model.BBox {
	data := s.Extent
	for _, g := range s.Groups {
		if g.Extent.IsZero() || !holdsAny(g, patterns) {
			continue
		}
		data = data.Union(g.Extent)
	}
	return data
}

func holdsAny(g Group, patterns []Pattern) bool {
	for _, gp := range g.Patterns {
		if slices.Contains(patterns, gp) {
			return true
		}
	}
	return false
}

// ParsePattern reads one tile pattern such as
// "request=GetMap&layers=global&srs=EPSG:4326&format=image/jpeg&styles=&width=512&height=512&bbox=-180,-166,76,90".
// Keys are case-insensitive; values are kept verbatim.
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "?")
	parts := strings.Split(s, "&")
	var p Pattern
	hasBBox := false
	for i, part := range parts {
		key, value, _ := strings.Cut(part, "=")
		var err error
		switch strings.ToLower(key) {
		case "layers":
			p.Layers = value
		case "format":
			p.Format = value
		case "styles":
			p.Styles = value
		case "srs", "crs":
			p.SRS = value
		case "width":
			p.Width, err = tileSize(value)
		case "height":
			p.Height, err = tileSize(value)
		case "bbox":
			p.Extent, err = parseBBox(value)
			parts[i] = key + "=" + ogc.BBoxPlaceholders
			hasBBox = true
		}
		if err != nil {
			return Pattern{}, fmt.Errorf("pattern %s: %w", key, err)
		}
	}
	if !hasBBox {
		return Pattern{}, ErrNoBBox
	}
	p.Extent.SRID = p.SRS
	p.Prototype = strings.Join(parts, "&")
	return p, nil
}

func tileSize(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", errBadTileSize, v)
	}
	return n, nil
}

func parseBBox(v string) (model.BBox, error) {
	f := strings.Split(v, ",")
	if len(f) != 4 {
		return model.BBox{}, fmt.Errorf("%w: %q", errBadBBox, v)
	}
	var n [4]float64
	for i, s := range f {
		x, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("%w: %q", errBadBBox, v)
		}
		n[i] = x
	}
	return model.BBox{X1: n[0], Y1: n[1], X2: n[2], Y2: n[3]}, nil
}

type xmlService struct {
	XMLName xml.Name
	Service struct {
		Name  string `xml:"Name"`
		Title string `xml:"Title"`
	} `xml:"Service"`
	TiledPatterns struct {
		LatLonBBox *xmlBBox   `xml:"LatLonBoundingBox"`
		Groups     []xmlGroup `xml:"TiledGroup"`
	} `xml:"TiledPatterns"`
}

type xmlGroup struct {
	Name       string     `xml:"Name"`
	Title      string     `xml:"Title"`
	LatLonBBox *xmlBBox   `xml:"LatLonBoundingBox"`
	Patterns   []string   `xml:"TilePattern"`
	Groups     []xmlGroup `xml:"TiledGroup"`
}

type xmlBBox struct {
	MinX float64 `xml:"minx,attr"`
	MinY float64 `xml:"miny,attr"`
	MaxX float64 `xml:"maxx,attr"`
	MaxY float64 `xml:"maxy,attr"`
}

func (b *xmlBBox) box() model.BBox {
	if b == nil {
		return model.BBox{}
	}
	return model.BBox{X1: b.MinX, Y1: b.MinY, X2: b.MaxX, Y2: b.MaxY, SRID: "EPSG:4326"}
}

// Parse decodes a WMS_Tile_Service document. A TilePattern element may list
// several equivalent patterns separated by whitespace; only the first is
// used. Patterns that cannot be read are left out of their group.
func Parse(r io.Reader) (*Service, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	var doc xmlService
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode tile service: %w", err)
	}
	if doc.XMLName.Local != "WMS_Tile_Service" {
		return nil, fmt.Errorf("decode tile service: unexpected root element %q", doc.XMLName.Local)
	}
	s := &Service{
		Name:   strings.TrimSpace(doc.Service.Name),
		Title:  strings.TrimSpace(doc.Service.Title),
		Extent: doc.TiledPatterns.LatLonBBox.box(),
	}
	for i := range doc.TiledPatterns.Groups {
		flatten(&doc.TiledPatterns.Groups[i], &s.Groups)
	}
	return s, nil
}

// ParseBytes is Parse for an in-memory document.
func ParseBytes(b []byte) (*Service, error) {
	return Parse(bytes.NewReader(b))
}

func flatten(x *xmlGroup, out *[]Group) {
	g := Group{
		Name:   strings.TrimSpace(x.Name),
		Title:  strings.TrimSpace(x.Title),
		Extent: x.LatLonBBox.box(),
	}
	for _, text := range x.Patterns {
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if p, err := ParsePattern(fields[0]); err == nil {
			g.Patterns = append(g.Patterns, p)
		}
	}
	*out = append(*out, g)
	for i := range x.Groups {
		flatten(&x.Groups[i], out)
	}
}
