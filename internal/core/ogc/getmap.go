// Package ogc builds WMS request URLs and reads WMS capabilities documents.
package ogc

import (
	"strconv"
	"strings"
)

// Placeholders for the per-tile bounds, in the order they are substituted.
const (
	PlaceholderMinX = "{minx}"
	PlaceholderMinY = "{miny}"
	PlaceholderMaxX = "{maxx}"
	PlaceholderMaxY = "{maxy}"

	BBoxPlaceholders = PlaceholderMinX + "," + PlaceholderMinY + "," + PlaceholderMaxX + "," + PlaceholderMaxY
)

// Separator returns the character that appends a query parameter to base.
func Separator(base string) string {
	if strings.Contains(base, "?") {
		return "&"
	}
	return "?"
}

// CapabilitiesURL derives the GetCapabilities URL of a WMS endpoint.
func CapabilitiesURL(base string) string {
	return base + Separator(base) + "SERVICE=WMS&VERSION=1.1.1&REQUEST=GetCapabilities"
}

// TileServiceURL derives the GetTileService URL of a WMS endpoint.
func TileServiceURL(base string) string {
	return base + Separator(base) + "request=GetTileService"
}

type GetMapParams struct {
	Version string
	Layers  string
	// Format is a file extension such as "png"; WMSFormat, when set, is sent
	// verbatim instead of "image/"+Format.
	Format    string
	WMSFormat string
	Style     string
	SRS       string
	TileSize  int
}

// MIMEType returns the FORMAT value sent to the server.
func (p GetMapParams) MIMEType() string {
	if p.WMSFormat != "" {
		return p.WMSFormat
	}
	return "image/" + p.Format
}

// GetMapPrototype builds the GetMap request for base with the bbox left as
// placeholders. Parameter order is fixed and nothing is validated or escaped;
// the server reports bad values when a tile is fetched.
func GetMapPrototype(base string, p GetMapParams) string {
	size := strconv.Itoa(p.TileSize)
	var b strings.Builder
	b.WriteString(base)
	b.WriteString(Separator(base))
	b.WriteString("SERVICE=WMS&VERSION=")
	b.WriteString(p.Version)
	b.WriteString("&REQUEST=GetMap&LAYERS=")
	b.WriteString(p.Layers)
	b.WriteString("&FORMAT=")
	b.WriteString(p.MIMEType())
	b.WriteString("&STYLES=")
	b.WriteString(p.Style)
	b.WriteString("&SRS=")
	b.WriteString(p.SRS)
	b.WriteString("&WIDTH=")
	b.WriteString(size)
	b.WriteString("&HEIGHT=")
	b.WriteString(size)
	b.WriteString("&BBOX=")
	b.WriteString(BBoxPlaceholders)
	return b.String()
}

// FormatSuffix is appended after all protocol parameters so that the fetch
// layer can sniff the image format from the URL.
func FormatSuffix(format string) string {
	return "&." + format
}
