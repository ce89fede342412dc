// Package wms resolves the profile and request prototype of a WMS server and
// turns tile keys into GetMap requests, images and height fields.
package wms

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/config"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/executor"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/httpclient"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/ogc"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/observability"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/tileservice"
	"github.com/mohammed-shakir/wms-tilesource/internal/heightfield"
	"github.com/mohammed-shakir/wms-tilesource/internal/profile"
	"github.com/mohammed-shakir/wms-tilesource/internal/srs"
)

var (
	ErrCapabilities = errors.New("wms capabilities unavailable")
	ErrNoProfile    = errors.New("wms profile unresolved")
)

type CapabilitiesReader interface {
	Read(ctx context.Context, url string) (*ogc.Capabilities, error)
}

type TileServiceReader interface {
	Read(ctx context.Context, url string) (*tileservice.Service, error)
}

// ImageFetcher returns (nil, nil) when there is no image at uri.
type ImageFetcher interface {
	FetchImage(ctx context.Context, uri string, progress executor.Progress) (image.Image, error)
}

type HeightFieldConverter interface {
	Convert(img image.Image, scale float64) *heightfield.HeightField
}

type State int32

const (
	StateUnconfigured State = iota
	StateAwaitingCapabilities
	StateProfileResolved
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateAwaitingCapabilities:
		return "awaiting-capabilities"
	case StateProfileResolved:
		return "profile-resolved"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Option func(*Source)

func WithRegistry(r *profile.Registry) Option { return func(s *Source) { s.registry = r } }

func WithCapabilitiesReader(r CapabilitiesReader) Option {
	return func(s *Source) { s.capsReader = r }
}

func WithTileServiceReader(r TileServiceReader) Option {
	return func(s *Source) { s.tileReader = r }
}

func WithFetcher(f ImageFetcher) Option { return func(s *Source) { s.fetcher = f } }

func WithConverter(c HeightFieldConverter) Option { return func(s *Source) { s.converter = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Source) { s.logger = l } }

// A Source walks a WMS configuration through initialization. Tile requests
// are served by the *Ready it produces, never by the Source itself.
type Source struct {
	cfg        config.SourceConfig
	registry   *profile.Registry
	capsReader CapabilitiesReader
	tileReader TileServiceReader
	fetcher    ImageFetcher
	converter  HeightFieldConverter
	logger     *slog.Logger

	state atomic.Int32
	once  sync.Once
	ready *Ready
	err   error
}

// New returns an unconfigured source for cfg. Collaborators not supplied as
// options are built from the shared outbound HTTP client.
func New(cfg config.SourceConfig, opts ...Option) (*Source, error) {
	if cfg.URL == "" {
		return nil, config.ErrMissingURL
	}
	if cfg.WMSVersion == "" {
		cfg.WMSVersion = config.DefaultWMSVersion
	}
	if cfg.TileSize <= 0 {
		cfg.TileSize = config.DefaultTileSize
	}
	s := &Source{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.registry == nil {
		f, err := srs.NewFactory(0)
		if err != nil {
			return nil, fmt.Errorf("srs factory: %w", err)
		}
		s.registry = profile.NewRegistry(f)
	}
	if s.fetcher == nil || s.capsReader == nil || s.tileReader == nil {
		exec := executor.New(s.logger, httpclient.NewOutbound())
		if s.fetcher == nil {
			s.fetcher = exec
		}
		if s.capsReader == nil {
			s.capsReader = ogc.NewCapabilitiesReader(exec)
		}
		if s.tileReader == nil {
			s.tileReader = tileservice.NewReader(exec)
		}
	}
	if s.converter == nil {
		s.converter = heightfield.Converter{}
	}
	s.setState(StateUnconfigured)
	return s, nil
}

// State reports where initialization stands. It is safe to call while
// Initialize runs.
func (s *Source) State() State { return State(s.state.Load()) }

// Profile returns the resolved profile, or nil unless the source is ready.
func (s *Source) Profile() *profile.Profile {
	if s.State() != StateReady {
		return nil
	}
	return s.ready.profile
}

// Config returns the configuration, completed with derived values once
// Initialize has returned.
func (s *Source) Config() config.SourceConfig { return s.cfg }

func (s *Source) setState(st State) {
	s.state.Store(int32(st))
	observability.SetSourceState(int(st))
}

// Initialize fetches the capabilities document, resolves the profile, probes
// for a tile service and builds the request prototype. It runs once; later
// calls return the first result.
func (s *Source) Initialize(ctx context.Context) (*Ready, error) {
	s.once.Do(func() {
		var ready *Ready
		ready, s.err = s.initialize(ctx)
		kind := ""
		if ready != nil {
			kind = ready.profile.Kind().String()
		}
		observability.ObserveSourceInit(s.State().String(), kind)
	})
	return s.ready, s.err
}

func (s *Source) initialize(ctx context.Context) (*Ready, error) {
	cfg := s.cfg
	sep := ogc.Separator(cfg.URL)
	s.setState(StateAwaitingCapabilities)

	capsURL := cfg.CapabilitiesURL
	if capsURL == "" {
		capsURL = ogc.CapabilitiesURL(cfg.URL)
	}
	caps, err := s.capsReader.Read(ctx, capsURL)
	if err == nil && caps == nil {
		err = errors.New("empty document")
	}
	if err != nil {
		s.logger.WarnContext(ctx, "unable to read WMS GetCapabilities; failing", "url", capsURL, "err", err)
		return s.fail(fmt.Errorf("%w: %w", ErrCapabilities, err))
	}
	s.logger.InfoContext(ctx, "got capabilities", "url", capsURL, "layers", len(caps.Layers))

	if cfg.Format == "" {
		cfg.Format = caps.SuggestExtension()
		s.logger.InfoContext(ctx, "no format specified, capabilities suggested extension", "format", cfg.Format)
	}
	if cfg.Format == "" {
		cfg.Format = "png"
	}
	if cfg.SRS == "" {
		cfg.SRS = srs.Geodetic
	}
	cfg.ElevationUnit = config.NormalizeUnit(cfg.ElevationUnit)

	prototype := ogc.GetMapPrototype(cfg.URL, ogc.GetMapParams{
		Version:   cfg.WMSVersion,
		Layers:    cfg.Layers,
		Format:    cfg.Format,
		WMSFormat: cfg.WMSFormat,
		Style:     cfg.Style,
		SRS:       cfg.SRS,
		TileSize:  cfg.TileSize,
	})
	prof := resolveProfile(s.registry, cfg.SRS, cfg.Layers, caps, s.logger)
	if prof != nil {
		s.setState(StateProfileResolved)
	}

	tsURL := cfg.TileServiceURL
	if tsURL == "" {
		tsURL = ogc.TileServiceURL(cfg.URL)
	}
	s.logger.InfoContext(ctx, "testing for tile service", "url", tsURL)
	ts, err := s.tileReader.Read(ctx, tsURL)
	switch {
	case err != nil || ts == nil:
		s.logger.InfoContext(ctx, "no tile service found; assuming standard WMS", "url", tsURL, "err", err)
		ts = nil
	default:
		patterns := ts.MatchingPatterns(cfg.Layers, cfg.Format, cfg.Style, cfg.SRS, cfg.TileSize, cfg.TileSize)
		s.logger.InfoContext(ctx, "found tile service", "url", tsURL, "matching_patterns", len(patterns))
		if len(patterns) > 0 {
			p, err := ts.CreateProfile(s.registry, patterns)
			if err != nil {
				s.logger.WarnContext(ctx, "tile service patterns give no profile", "err", err)
			} else {
				prof = p
				prototype = cfg.URL + sep + patterns[0].Prototype
				s.setState(StateProfileResolved)
			}
		}
	}

	if prof == nil {
		s.logger.WarnContext(ctx, "no profile for WMS source; failing", "srs", cfg.SRS, "layers", cfg.Layers)
		return s.fail(fmt.Errorf("%w: srs %q layers %q", ErrNoProfile, cfg.SRS, cfg.Layers))
	}

	compiled, err := CompilePrototype(prototype + ogc.FormatSuffix(cfg.Format))
	if err != nil {
		s.logger.WarnContext(ctx, "unusable request prototype", "prototype", prototype, "err", err)
		return s.fail(err)
	}

	s.cfg = cfg
	ready := &Ready{
		profile:     prof,
		prototype:   compiled,
		format:      cfg.Format,
		tileSize:    cfg.TileSize,
		scale:       ScaleFactor(cfg.ElevationUnit),
		tileService: ts,
		fetcher:     s.fetcher,
		converter:   s.converter,
		logger:      s.logger,
	}
	s.ready = ready
	s.setState(StateReady)
	s.logger.InfoContext(ctx, "wms source ready",
		"profile", prof.String(),
		"prototype", compiled.String())
	return ready, nil
}

func (s *Source) fail(err error) (*Ready, error) {
	s.setState(StateFailed)
	return nil, err
}

// Readiness reports whether the source is ready, for health probes.
func (s *Source) Readiness() (bool, string) {
	st := s.State()
	return st == StateReady, st.String()
}
