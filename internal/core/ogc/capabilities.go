package ogc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/model"
)

// Capabilities is the part of a WMS GetCapabilities document the tile source
// needs. Both 1.1.1 (WMT_MS_Capabilities) and 1.3.0 (WMS_Capabilities) are
// understood.
type Capabilities struct {
	Version string
	Title   string
	// Formats lists the GetMap output formats in document order.
	Formats []string
	// Layers holds every layer of the tree, depth first.
	Layers []*Layer
}

type Layer struct {
	Name  string
	Title string
	SRS   []string
	// Extents holds the BoundingBox entries in native coordinates.
	Extents []model.BBox
	// LatLonExtent is the geographic box, zero when not reported.
	LatLonExtent model.BBox
}

// Extent returns the native box matching srsID, falling back to the first
// native box. The zero box means the layer reports none.
func (l *Layer) Extent(srsID string) model.BBox {
	for _, e := range l.Extents {
		if strings.EqualFold(e.SRID, srsID) {
			return e
		}
	}
	if len(l.Extents) > 0 {
		return l.Extents[0]
	}
	return model.BBox{}
}

// LayerByName returns the named layer or nil.
func (c *Capabilities) LayerByName(name string) *Layer {
	for _, l := range c.Layers {
		if l.Name == name {
			return l
		}
	}
	for _, l := range c.Layers {
		if l.Name != "" && strings.EqualFold(l.Name, name) {
			return l
		}
	}
	return nil
}

// SuggestExtension returns the file extension for the first GetMap format
// with a known image type, or "" when none is recognized.
func (c *Capabilities) SuggestExtension() string {
	for _, f := range c.Formats {
		if ext := ExtensionForFormat(f); ext != "" {
			return ext
		}
	}
	return ""
}

var mimeExtensions = map[string]string{
	"image/png":     "png",
	"image/png8":    "png",
	"image/png24":   "png",
	"image/png32":   "png",
	"image/jpeg":    "jpg",
	"image/jpg":     "jpg",
	"image/gif":     "gif",
	"image/tiff":    "tif",
	"image/tif":     "tif",
	"image/geotiff": "tif",
	"image/webp":    "webp",
	"image/bmp":     "bmp",
}

var bareExtensions = map[string]string{
	"png":  "png",
	"jpg":  "jpg",
	"jpeg": "jpg",
	"gif":  "gif",
	"tif":  "tif",
	"tiff": "tif",
	"webp": "webp",
	"bmp":  "bmp",
}

// ExtensionForFormat maps a MIME type ("image/jpeg", "image/png; mode=8bit")
// or a bare extension ("jpeg") to a file extension. It returns "" for
// formats that are not raster images.
func ExtensionForFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if i := strings.IndexByte(f, ';'); i >= 0 {
		f = strings.TrimSpace(f[:i])
	}
	if ext, ok := mimeExtensions[f]; ok {
		return ext
	}
	return bareExtensions[f]
}

type xmlCapabilities struct {
	XMLName xml.Name
	Version string `xml:"version,attr"`
	Service struct {
		Title string `xml:"Title"`
	} `xml:"Service"`
	Capability struct {
		Request struct {
			GetMap struct {
				Formats []string `xml:"Format"`
			} `xml:"GetMap"`
		} `xml:"Request"`
		Layers []xmlLayer `xml:"Layer"`
	} `xml:"Capability"`
}

type xmlLayer struct {
	Name        string      `xml:"Name"`
	Title       string      `xml:"Title"`
	SRS         []string    `xml:"SRS"`
	CRS         []string    `xml:"CRS"`
	LatLonBBox  *xmlBBox    `xml:"LatLonBoundingBox"`
	GeoBBox     *xmlGeoBBox `xml:"EX_GeographicBoundingBox"`
	BoundingBox []xmlBBox   `xml:"BoundingBox"`
	Layers      []xmlLayer  `xml:"Layer"`
}

type xmlBBox struct {
	SRS  string  `xml:"SRS,attr"`
	CRS  string  `xml:"CRS,attr"`
	MinX float64 `xml:"minx,attr"`
	MinY float64 `xml:"miny,attr"`
	MaxX float64 `xml:"maxx,attr"`
	MaxY float64 `xml:"maxy,attr"`
}

type xmlGeoBBox struct {
	West  float64 `xml:"westBoundLongitude"`
	East  float64 `xml:"eastBoundLongitude"`
	South float64 `xml:"southBoundLatitude"`
	North float64 `xml:"northBoundLatitude"`
}

// ParseCapabilities decodes a GetCapabilities document.
func ParseCapabilities(r io.Reader) (*Capabilities, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	var doc xmlCapabilities
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}
	if root := doc.XMLName.Local; root != "WMT_MS_Capabilities" && root != "WMS_Capabilities" {
		return nil, fmt.Errorf("decode capabilities: unexpected root element %q", root)
	}

	caps := &Capabilities{
		Version: doc.Version,
		Title:   strings.TrimSpace(doc.Service.Title),
	}
	for _, f := range doc.Capability.Request.GetMap.Formats {
		if f = strings.TrimSpace(f); f != "" {
			caps.Formats = append(caps.Formats, f)
		}
	}
	for i := range doc.Capability.Layers {
		flatten(&doc.Capability.Layers[i], nil, &caps.Layers)
	}
	return caps, nil
}

// ParseCapabilitiesBytes is ParseCapabilities for an in-memory document.
func ParseCapabilitiesBytes(b []byte) (*Capabilities, error) {
	return ParseCapabilities(bytes.NewReader(b))
}

// flatten appends x and its descendants to out. SRS lists and the geographic
// box are inherited from the parent when a layer does not declare its own.
func flatten(x *xmlLayer, parent *Layer, out *[]*Layer) {
	l := &Layer{
		Name:  strings.TrimSpace(x.Name),
		Title: strings.TrimSpace(x.Title),
	}
	for _, s := range append(x.SRS, x.CRS...) {
		l.SRS = append(l.SRS, strings.Fields(s)...)
	}
	for _, b := range x.BoundingBox {
		id := b.SRS
		if id == "" {
			id = b.CRS
		}
		l.Extents = append(l.Extents, model.BBox{X1: b.MinX, Y1: b.MinY, X2: b.MaxX, Y2: b.MaxY, SRID: strings.TrimSpace(id)})
	}
	switch {
	case x.LatLonBBox != nil:
		l.LatLonExtent = model.BBox{X1: x.LatLonBBox.MinX, Y1: x.LatLonBBox.MinY, X2: x.LatLonBBox.MaxX, Y2: x.LatLonBBox.MaxY, SRID: "EPSG:4326"}
	case x.GeoBBox != nil:
		l.LatLonExtent = model.BBox{X1: x.GeoBBox.West, Y1: x.GeoBBox.South, X2: x.GeoBBox.East, Y2: x.GeoBBox.North, SRID: "EPSG:4326"}
	}
	if parent != nil {
		if len(l.SRS) == 0 {
			l.SRS = parent.SRS
		}
		if l.LatLonExtent.IsZero() {
			l.LatLonExtent = parent.LatLonExtent
		}
	}
	*out = append(*out, l)
	for i := range x.Layers {
		flatten(&x.Layers[i], l, out)
	}
}
