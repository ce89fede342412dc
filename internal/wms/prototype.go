package wms

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/ogc"
)

var ErrPrototype = errors.New("invalid request prototype")

var placeholders = [4]string{
	ogc.PlaceholderMinX,
	ogc.PlaceholderMinY,
	ogc.PlaceholderMaxX,
	ogc.PlaceholderMaxY,
}

// A Prototype is a request URI with the tile bounds left open. It is split
// once into the literal text around the four placeholders, so expanding it
// is a handful of appends.
type Prototype struct {
	text     string
	segments [5]string
	size     int
}

// CompilePrototype accepts text containing {minx}, {miny}, {maxx} and
// {maxy} exactly once each and in that order. When text addresses a network
// resource its spaces are escaped as %20 up front; nothing else is escaped.
func CompilePrototype(text string) (*Prototype, error) {
	p := &Prototype{text: text}
	rest := text
	for i, ph := range placeholders {
		idx := strings.Index(rest, ph)
		if idx < 0 {
			return nil, fmt.Errorf("%w: missing %s", ErrPrototype, ph)
		}
		p.segments[i] = rest[:idx]
		rest = rest[idx+len(ph):]
	}
	p.segments[4] = rest
	for _, seg := range p.segments {
		for _, ph := range placeholders {
			if strings.Contains(seg, ph) {
				return nil, fmt.Errorf("%w: %s repeated or out of order", ErrPrototype, ph)
			}
		}
	}
	if isServerAddress(text) {
		for i, seg := range p.segments {
			p.segments[i] = strings.ReplaceAll(seg, " ", "%20")
		}
	}
	for _, seg := range p.segments {
		p.size += len(seg)
	}
	return p, nil
}

// String returns the prototype as configured, before escaping.
func (p *Prototype) String() string { return p.text }

// Expand substitutes the bounds with six fixed decimals. The values are not
// checked; NaN or reversed bounds go to the server as given.
func (p *Prototype) Expand(minx, miny, maxx, maxy float64) string {
	vals := [4]float64{minx, miny, maxx, maxy}
	buf := make([]byte, 0, p.size+4*24)
	for i, v := range vals {
		buf = append(buf, p.segments[i]...)
		buf = strconv.AppendFloat(buf, v, 'f', 6, 64)
	}
	buf = append(buf, p.segments[4]...)
	return string(buf)
}

func isServerAddress(s string) bool {
	i := strings.Index(s, "://")
	if i <= 0 {
		return false
	}
	switch strings.ToLower(s[:i]) {
	case "http", "https", "ftp":
		return true
	}
	return false
}
