// Package srs identifies spatial reference systems from the identifiers found
// in WMS configuration and capabilities documents.
package srs

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/twpayne/go-proj/v10"
)

// Canonical identifiers of the two well-known global references.
const (
	Geodetic = "EPSG:4326"
	Mercator = "EPSG:3857"
)

var aliases = map[string]string{
	"EPSG:900913": Mercator,
	"EPSG:3785":   Mercator,
	"EPSG:3587":   Mercator,
	"EPSG:102100": Mercator,
	"EPSG:102113": Mercator,
	"EPSG:41001":  Mercator,
	"OSGEO:41001": Mercator,
	"ESRI:102100": Mercator,
	"ESRI:102113": Mercator,
	"CRS:84":      Geodetic,
	"OGC:CRS84":   Geodetic,
	"WGS84":       Geodetic,
	"WGS:84":      Geodetic,
}

// EPSG geographic CRS codes answered without consulting the PROJ database.
var geographicCodes = map[int]struct{}{
	4019: {}, 4030: {}, 4171: {}, 4230: {}, 4258: {}, 4267: {}, 4269: {},
	4283: {}, 4326: {}, 4490: {}, 4612: {}, 4617: {}, 4674: {}, 4979: {},
}

// A SpatialReference is an immutable, normalized spatial reference identity.
type SpatialReference struct {
	id         string
	canonical  string
	geographic bool
}

// ID returns the identifier s was created from.
func (s *SpatialReference) ID() string { return s.id }

// Canonical returns the normalized identifier, e.g. "EPSG:3857" for
// "epsg:900913".
func (s *SpatialReference) Canonical() string { return s.canonical }

// IsGeographic reports whether coordinates are longitude/latitude degrees.
func (s *SpatialReference) IsGeographic() bool { return s != nil && s.geographic }

// IsEquivalentTo reports whether s and o denote the same reference.
func (s *SpatialReference) IsEquivalentTo(o *SpatialReference) bool {
	if s == nil || o == nil {
		return false
	}
	return s.canonical != "" && s.canonical == o.canonical
}

func (s *SpatialReference) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.canonical
}

// Normalize maps an identifier to its canonical form. URNs and OGC http URIs
// are reduced to AUTHORITY:CODE and known aliases are resolved.
func Normalize(id string) string {
	s := strings.TrimSpace(id)
	if s == "" {
		return ""
	}
	up := strings.ToUpper(s)
	switch {
	case strings.HasPrefix(up, "URN:OGC:DEF:CRS:"):
		parts := strings.Split(up[len("URN:OGC:DEF:CRS:"):], ":")
		up = parts[0] + ":" + parts[len(parts)-1]
	case strings.HasPrefix(up, "HTTP://WWW.OPENGIS.NET/DEF/CRS/"):
		parts := strings.Split(strings.TrimSuffix(up[len("HTTP://WWW.OPENGIS.NET/DEF/CRS/"):], "/"), "/")
		up = parts[0] + ":" + parts[len(parts)-1]
	case strings.Contains(up, "+PROJ="):
		return normalizeProj4(s)
	case isWKT(up):
		return s
	}
	if canonical, ok := aliases[up]; ok {
		return canonical
	}
	return up
}

func normalizeProj4(def string) string {
	params := proj4Params(def)
	switch params["+proj"] {
	case "merc":
		if params["+a"] == "6378137" && params["+b"] == "6378137" {
			return Mercator
		}
	case "longlat", "latlong":
		if params["+datum"] == "WGS84" || params["+ellps"] == "WGS84" {
			return Geodetic
		}
	}
	return strings.Join(strings.Fields(def), " ")
}

func proj4Params(def string) map[string]string {
	out := map[string]string{}
	for _, f := range strings.Fields(def) {
		k, v, _ := strings.Cut(f, "=")
		out[strings.ToLower(k)] = v
	}
	return out
}

func isWKT(up string) bool {
	for _, p := range []string{"GEOGCS[", "GEOGCRS[", "GEODCRS[", "PROJCS[", "PROJCRS["} {
		if strings.HasPrefix(up, p) {
			return true
		}
	}
	return false
}

func isGeographic(canonical string) bool {
	up := strings.ToUpper(canonical)
	switch {
	case strings.HasPrefix(up, "GEOGCS[") || strings.HasPrefix(up, "GEOGCRS[") || strings.HasPrefix(up, "GEODCRS["):
		return true
	case strings.HasPrefix(up, "PROJCS[") || strings.HasPrefix(up, "PROJCRS["):
		return false
	case strings.Contains(up, "+PROJ=LONGLAT") || strings.Contains(up, "+PROJ=LATLONG"):
		return true
	case strings.Contains(up, "+PROJ="):
		return false
	}
	authority, code, ok := strings.Cut(up, ":")
	if !ok || authority == "" || code == "" {
		return false
	}
	if authority == "EPSG" {
		n, err := strconv.Atoi(code)
		if err != nil {
			return false
		}
		if _, ok := geographicCodes[n]; ok {
			return true
		}
		if n == 3857 {
			return false
		}
	}
	return geographicCRS(up)
}

// geographicCRS asks PROJ for the type of the CRS named by an
// AUTHORITY:CODE identifier. Unknown identifiers are not geographic.
func geographicCRS(id string) bool {
	pj, err := proj.New(id)
	if err != nil {
		return false
	}
	defer pj.Destroy()
	switch pj.GetType() {
	case proj.TypeGeographicCRS, proj.TypeGeographic2DCRS, proj.TypeGeographic3DCRS:
		return true
	}
	return false
}

// New returns the spatial reference for id, or nil when id is blank.
func New(id string) *SpatialReference {
	canonical := Normalize(id)
	if canonical == "" {
		return nil
	}
	return &SpatialReference{
		id:         strings.TrimSpace(id),
		canonical:  canonical,
		geographic: isGeographic(canonical),
	}
}

// A Factory creates spatial references, memoizing recent identifiers.
type Factory struct {
	cache *lru.Cache[string, *SpatialReference]
}

// NewFactory returns a Factory remembering up to size identifiers.
func NewFactory(size int) (*Factory, error) {
	if size <= 0 {
		size = 64
	}
	cache, err := lru.New[string, *SpatialReference](size)
	if err != nil {
		return nil, err
	}
	return &Factory{cache: cache}, nil
}

// Create returns the spatial reference for id, or nil when id is blank.
func (f *Factory) Create(id string) *SpatialReference {
	if s, ok := f.cache.Get(id); ok {
		return s
	}
	s := New(id)
	if s != nil {
		f.cache.Add(id, s)
	}
	return s
}
