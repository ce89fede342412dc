package wms

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/config"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/executor"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/model"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/ogc"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/tileservice"
	"github.com/mohammed-shakir/wms-tilesource/internal/heightfield"
	"github.com/mohammed-shakir/wms-tilesource/internal/profile"
	"github.com/mohammed-shakir/wms-tilesource/internal/srs"
)

type fakeCaps struct {
	mu   sync.Mutex
	caps *ogc.Capabilities
	err  error
	urls []string
}

func (f *fakeCaps) Read(_ context.Context, url string) (*ogc.Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return f.caps, f.err
}

type fakeTileService struct {
	svc  *tileservice.Service
	err  error
	urls []string
}

func (f *fakeTileService) Read(_ context.Context, url string) (*tileservice.Service, error) {
	f.urls = append(f.urls, url)
	return f.svc, f.err
}

type fakeFetcher struct {
	img image.Image
	err error

	mu   sync.Mutex
	uris []string
}

func (f *fakeFetcher) FetchImage(_ context.Context, uri string, _ executor.Progress) (image.Image, error) {
	f.mu.Lock()
	f.uris = append(f.uris, uri)
	f.mu.Unlock()
	return f.img, f.err
}

type recordingConverter struct {
	gotImg   image.Image
	gotScale float64
	calls    int
}

func (c *recordingConverter) Convert(img image.Image, scale float64) *heightfield.HeightField {
	c.calls++
	c.gotImg, c.gotScale = img, scale
	return heightfield.Converter{}.Convert(img, scale)
}

type bboxKey model.BBox

func (k bboxKey) Bounds() model.BBox { return model.BBox(k) }

func newRegistry(t *testing.T) *profile.Registry {
	t.Helper()
	f, err := srs.NewFactory(16)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	return profile.NewRegistry(f)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sourceConfig(t *testing.T, opts map[string]string) config.SourceConfig {
	t.Helper()
	cfg, err := config.ParseSource(opts)
	if err != nil {
		t.Fatalf("ParseSource: %v", err)
	}
	return cfg
}

// capsL1 reports layer L1 with a degenerate native box and a whole-world
// geographic box; GetMap offers KML first, then JPEG.
func capsL1() *ogc.Capabilities {
	return &ogc.Capabilities{
		Version: "1.1.1",
		Formats: []string{"application/vnd.google-earth.kml+xml", "image/jpeg", "image/png"},
		Layers: []*ogc.Layer{{
			Name:         "L1",
			SRS:          []string{"EPSG:4326", "EPSG:4269"},
			Extents:      []model.BBox{{SRID: "EPSG:4326"}},
			LatLonExtent: model.BBox{X1: -180, Y1: -90, X2: 180, Y2: 90, SRID: "EPSG:4326"},
		}},
	}
}

type harness struct {
	caps    *fakeCaps
	tiles   *fakeTileService
	fetcher *fakeFetcher
	conv    *recordingConverter
	source  *Source
}

func newHarness(t *testing.T, opts map[string]string, caps *ogc.Capabilities, capsErr error) *harness {
	t.Helper()
	h := &harness{
		caps:    &fakeCaps{caps: caps, err: capsErr},
		tiles:   &fakeTileService{err: errors.New("404 page not found")},
		fetcher: &fakeFetcher{},
		conv:    &recordingConverter{},
	}
	src, err := New(sourceConfig(t, opts),
		WithRegistry(newRegistry(t)),
		WithCapabilitiesReader(h.caps),
		WithTileServiceReader(h.tiles),
		WithFetcher(h.fetcher),
		WithConverter(h.conv),
		WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if src.State() != StateUnconfigured {
		t.Fatalf("state=%s want unconfigured", src.State())
	}
	h.source = src
	return h
}

func TestInitialize_CapabilitiesUnreachable(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	h := newHarness(t, map[string]string{config.KeyURL: "http://x/wms", config.KeyLayers: "L1"}, nil, boom)

	ready, err := h.source.Initialize(context.Background())
	if ready != nil {
		t.Fatal("no Ready may exist after a capabilities failure")
	}
	if !errors.Is(err, ErrCapabilities) || !errors.Is(err, boom) {
		t.Fatalf("err=%v want ErrCapabilities wrapping %v", err, boom)
	}
	if h.source.State() != StateFailed || h.source.Profile() != nil {
		t.Fatalf("state=%s profile=%v want failed without profile", h.source.State(), h.source.Profile())
	}
	if want := []string{"http://x/wms?SERVICE=WMS&VERSION=1.1.1&REQUEST=GetCapabilities"}; !cmp.Equal(want, h.caps.urls) {
		t.Fatalf("capabilities urls=%v want %v", h.caps.urls, want)
	}
	if len(h.tiles.urls) != 0 {
		t.Fatalf("tile service probed after capabilities failure: %v", h.tiles.urls)
	}

	again, err2 := h.source.Initialize(context.Background())
	if again != nil || !errors.Is(err2, ErrCapabilities) || len(h.caps.urls) != 1 {
		t.Fatalf("second Initialize must return the first result without refetching")
	}
}

func TestInitialize_NilCapabilities(t *testing.T) {
	h := newHarness(t, map[string]string{config.KeyURL: "http://x/wms"}, nil, nil)
	if _, err := h.source.Initialize(context.Background()); !errors.Is(err, ErrCapabilities) {
		t.Fatalf("err=%v want ErrCapabilities for a nil document", err)
	}
}

func TestInitialize_SuggestedFormat(t *testing.T) {
	h := newHarness(t, map[string]string{config.KeyURL: "http://x/wms?", config.KeyLayers: "L1"}, capsL1(), nil)

	ready, err := h.source.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if ready.Extension() != "jpg" {
		t.Fatalf("extension=%q want jpg", ready.Extension())
	}
	proto := ready.Prototype().String()
	if !strings.HasPrefix(proto, "http://x/wms?&SERVICE=WMS&VERSION=1.1.1&REQUEST=GetMap&LAYERS=L1&FORMAT=image/jpg&") {
		t.Fatalf("prototype=%s", proto)
	}
	if !strings.HasSuffix(proto, "&BBOX={minx},{miny},{maxx},{maxy}&.jpg") {
		t.Fatalf("prototype must end with bbox placeholders and format suffix: %s", proto)
	}
	if want := []string{"http://x/wms?&request=GetTileService"}; !cmp.Equal(want, h.tiles.urls) {
		t.Fatalf("tile service urls=%v want %v", h.tiles.urls, want)
	}
	if h.source.State() != StateReady || h.source.Profile() != ready.Profile() {
		t.Fatalf("state=%s want ready with the Ready's profile", h.source.State())
	}
	if got := h.source.Config().Format; got != "jpg" {
		t.Fatalf("completed config format=%q want jpg", got)
	}
}

func TestInitialize_FormatFallbackAndOverride(t *testing.T) {
	caps := capsL1()
	caps.Formats = []string{"text/html"}
	h := newHarness(t, map[string]string{config.KeyURL: "http://x/wms", config.KeyLayers: "L1"}, caps, nil)
	ready, err := h.source.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if ready.Extension() != "png" {
		t.Fatalf("extension=%q want png fallback", ready.Extension())
	}

	h = newHarness(t, map[string]string{
		config.KeyURL:       "http://x/wms",
		config.KeyLayers:    "L1",
		config.KeyFormat:    "tif",
		config.KeyWMSFormat: "image/geotiff",
	}, capsL1(), nil)
	ready, err = h.source.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	proto := ready.Prototype().String()
	if !strings.Contains(proto, "&FORMAT=image/geotiff&") || !strings.HasSuffix(proto, "&.tif") {
		t.Fatalf("prototype=%s want wms_format override and .tif suffix", proto)
	}
}

func TestInitialize_DegenerateNativeBox(t *testing.T) {
	h := newHarness(t, map[string]string{config.KeyURL: "http://x/wms", config.KeyLayers: "L1", config.KeySRS: "EPSG:4326"}, capsL1(), nil)
	ready, err := h.source.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	want := model.BBox{X1: -180, Y1: -90, X2: 180, Y2: 90, SRID: "EPSG:4326"}
	if diff := cmp.Diff(want, ready.Profile().Extent()); diff != "" {
		t.Fatalf("profile extent mismatch (-want +got):\n%s", diff)
	}
}

func TestInitialize_MercatorIgnoresLayerExtents(t *testing.T) {
	for _, id := range []string{"EPSG:3857", "EPSG:900913", "epsg:102100"} {
		caps := capsL1()
		caps.Layers[0].Extents = []model.BBox{{X1: 1000, Y1: 2000, X2: 3000, Y2: 4000, SRID: id}}
		h := newHarness(t, map[string]string{config.KeyURL: "http://x/wms", config.KeyLayers: "L1", config.KeySRS: id}, caps, nil)
		ready, err := h.source.Initialize(context.Background())
		if err != nil {
			t.Fatalf("%s: Initialize: %v", id, err)
		}
		if ready.Profile().Kind() != profile.GlobalMercator {
			t.Fatalf("%s: profile=%s want global mercator", id, ready.Profile())
		}
	}
}

func TestInitialize_ProjectedLayer(t *testing.T) {
	caps := &ogc.Capabilities{
		Formats: []string{"image/png"},
		Layers: []*ogc.Layer{{
			Name:    "utm",
			Extents: []model.BBox{{X1: 300000, Y1: 5500000, X2: 500000, Y2: 5800000, SRID: "EPSG:32633"}},
		}},
	}
	h := newHarness(t, map[string]string{config.KeyURL: "http://x/wms", config.KeyLayers: "utm", config.KeySRS: "EPSG:32633"}, caps, nil)
	ready, err := h.source.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	p := ready.Profile()
	if p.Kind() != profile.Custom || p.Extent().X1 != 300000 || p.Extent().Y2 != 5800000 {
		t.Fatalf("profile=%s want custom utm extent", p)
	}
}

func TestInitialize_NoProfile(t *testing.T) {
	h := newHarness(t, map[string]string{config.KeyURL: "http://x/wms", config.KeyLayers: "missing", config.KeySRS: "EPSG:32633"}, capsL1(), nil)
	ready, err := h.source.Initialize(context.Background())
	if ready != nil || !errors.Is(err, ErrNoProfile) {
		t.Fatalf("ready=%v err=%v want ErrNoProfile", ready, err)
	}
	if h.source.State() != StateFailed {
		t.Fatalf("state=%s want failed", h.source.State())
	}
	if len(h.tiles.urls) != 1 {
		t.Fatal("tile service must still be probed when no profile was resolved")
	}
}

func TestInitialize_TileServiceOverride(t *testing.T) {
	var patterns []tileservice.Pattern
	for _, s := range []string{
		"request=GetMap&layers=L1&srs=EPSG:4326&format=image/png&styles=&width=256&height=256&bbox=-180,-90,0,90",
		"request=GetMap&layers=L1&srs=EPSG:4326&format=image/png&styles=&width=256&height=256&bbox=0,-90,180,90",
	} {
		p, err := tileservice.ParsePattern(s)
		if err != nil {
			t.Fatalf("ParsePattern: %v", err)
		}
		patterns = append(patterns, p)
	}

	h := newHarness(t, map[string]string{config.KeyURL: "http://x/wms", config.KeyLayers: "L1", config.KeyFormat: "png"}, capsL1(), nil)
	h.tiles.err = nil
	h.tiles.svc = &tileservice.Service{Groups: []tileservice.Group{{Name: "L1", Patterns: patterns}}}

	ready, err := h.source.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if want := "http://x/wms?" + patterns[0].Prototype + "&.png"; ready.Prototype().String() != want {
		t.Fatalf("prototype\n got %s\nwant %s", ready.Prototype(), want)
	}
	wantExtent := model.BBox{X1: -180, Y1: -90, X2: 0, Y2: 90, SRID: "EPSG:4326"}
	if diff := cmp.Diff(wantExtent, ready.Profile().Extent()); diff != "" {
		t.Fatalf("profile extent mismatch (-want +got):\n%s", diff)
	}
	if ready.TileService() == nil {
		t.Fatal("tile service must be retained")
	}

	uri := ready.CreateURI(bboxKey{X1: -180, Y1: -90, X2: 0, Y2: 90})
	want := "http://x/wms?request=GetMap&layers=L1&srs=EPSG:4326&format=image/png&styles=&width=256&height=256" +
		"&bbox=-180.000000,-90.000000,0.000000,90.000000&.png"
	if uri != want {
		t.Fatalf("uri\n got %s\nwant %s", uri, want)
	}
}

func TestInitialize_TileServiceWithoutMatch(t *testing.T) {
	p, err := tileservice.ParsePattern("layers=other&srs=EPSG:4326&format=image/png&styles=&width=256&height=256&bbox=-180,-90,0,90")
	if err != nil {
		t.Fatalf("ParsePattern: %v", err)
	}
	h := newHarness(t, map[string]string{config.KeyURL: "http://x/wms", config.KeyLayers: "L1", config.KeyFormat: "png"}, capsL1(), nil)
	h.tiles.err = nil
	h.tiles.svc = &tileservice.Service{Groups: []tileservice.Group{{Patterns: []tileservice.Pattern{p}}}}

	ready, err := h.source.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if ready.Profile().Kind() != profile.GlobalGeodetic {
		t.Fatalf("profile=%s want global geodetic", ready.Profile())
	}
	if !strings.Contains(ready.Prototype().String(), "REQUEST=GetMap") {
		t.Fatalf("standard prototype expected, got %s", ready.Prototype())
	}
}

func TestNew_MissingURL(t *testing.T) {
	if _, err := New(config.SourceConfig{}); !errors.Is(err, config.ErrMissingURL) {
		t.Fatalf("err=%v want ErrMissingURL", err)
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{
		StateUnconfigured:         "unconfigured",
		StateAwaitingCapabilities: "awaiting-capabilities",
		StateProfileResolved:      "profile-resolved",
		StateReady:                "ready",
		StateFailed:               "failed",
	} {
		if st.String() != want {
			t.Fatalf("State(%d)=%q want %q", st, st.String(), want)
		}
	}
}
