package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Keys understood by ParseSource.
const (
	KeyURL             = "url"
	KeyCapabilitiesURL = "capabilities_url"
	KeyTileServiceURL  = "tileservice_url"
	KeyLayers          = "layers"
	KeyStyle           = "style"
	KeyFormat          = "format"
	KeyWMSFormat       = "wms_format"
	KeyWMSVersion      = "wms_version"
	KeyTileSize        = "tile_size"
	KeyDefaultTileSize = "default_tile_size"
	KeyElevationUnit   = "elevation_unit"
	KeySRS             = "srs"
)

var sourceKeys = []string{
	KeyURL, KeyCapabilitiesURL, KeyTileServiceURL, KeyLayers, KeyStyle, KeyFormat,
	KeyWMSFormat, KeyWMSVersion, KeyTileSize, KeyDefaultTileSize, KeyElevationUnit, KeySRS,
}

const (
	DefaultWMSVersion = "1.1.1"
	DefaultTileSize   = 256
	MaxTileSize       = 8192
)

var (
	ErrMissingURL      = errors.New("config: url is required")
	ErrInvalidTileSize = errors.New("config: invalid tile size")
)

// SourceConfig describes one WMS source. Empty fields are derived during
// source initialization.
type SourceConfig struct {
	URL             string
	CapabilitiesURL string
	TileServiceURL  string
	Layers          string
	Style           string
	Format          string
	WMSFormat       string
	WMSVersion      string
	TileSize        int
	SRS             string
	ElevationUnit   string
}

// ParseSource validates opts and applies defaults. Unlike a lenient option
// reader it rejects tile sizes that are not integers in [1, MaxTileSize].
func ParseSource(opts map[string]string) (SourceConfig, error) {
	get := func(k string) string { return strings.TrimSpace(opts[k]) }

	cfg := SourceConfig{
		URL:             get(KeyURL),
		CapabilitiesURL: get(KeyCapabilitiesURL),
		TileServiceURL:  get(KeyTileServiceURL),
		Layers:          get(KeyLayers),
		Style:           get(KeyStyle),
		Format:          get(KeyFormat),
		WMSFormat:       get(KeyWMSFormat),
		WMSVersion:      get(KeyWMSVersion),
		SRS:             get(KeySRS),
		ElevationUnit:   NormalizeUnit(get(KeyElevationUnit)),
		TileSize:        DefaultTileSize,
	}
	if cfg.URL == "" {
		return SourceConfig{}, ErrMissingURL
	}
	if cfg.WMSVersion == "" {
		cfg.WMSVersion = DefaultWMSVersion
	}

	sizeKey := KeyTileSize
	if get(sizeKey) == "" {
		sizeKey = KeyDefaultTileSize
	}
	if raw := get(sizeKey); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return SourceConfig{}, fmt.Errorf("%w: %s=%q", ErrInvalidTileSize, sizeKey, raw)
		}
		if n <= 0 || n > MaxTileSize {
			return SourceConfig{}, fmt.Errorf("%w: %s=%d out of range [1,%d]", ErrInvalidTileSize, sizeKey, n, MaxTileSize)
		}
		cfg.TileSize = n
	}
	return cfg, nil
}

// SourceOptionsFromEnv collects WMS_<KEY> variables, e.g. WMS_URL and
// WMS_TILE_SIZE, into source options.
func SourceOptionsFromEnv() map[string]string {
	opts := make(map[string]string, len(sourceKeys))
	for _, k := range sourceKeys {
		if v, ok := os.LookupEnv("WMS_" + strings.ToUpper(k)); ok {
			opts[k] = v
		}
	}
	return opts
}

func SourceFromEnv() (SourceConfig, error) {
	return ParseSource(SourceOptionsFromEnv())
}

// IsSourceKey reports whether k is an option ParseSource understands.
func IsSourceKey(k string) bool {
	return slices.Contains(sourceKeys, k)
}

// NormalizeUnit maps an elevation unit label to "ft" or "m".
func NormalizeUnit(unit string) string {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "ft", "feet", "foot":
		return "ft"
	default:
		return "m"
	}
}
