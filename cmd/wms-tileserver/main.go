package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/config"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/executor"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/httpclient"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/observability"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/ogc"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/router"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/server"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/tileservice"
	"github.com/mohammed-shakir/wms-tilesource/internal/logger"
	"github.com/mohammed-shakir/wms-tilesource/internal/metrics"
	"github.com/mohammed-shakir/wms-tilesource/internal/profile"
	"github.com/mohammed-shakir/wms-tilesource/internal/srs"
	"github.com/mohammed-shakir/wms-tilesource/internal/tilekey"
	"github.com/mohammed-shakir/wms-tilesource/internal/wms"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "wms-tileserver",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	srcCfg, err := config.SourceFromEnv()
	if err != nil {
		appLog.Error("invalid source configuration", "err", err)
		return 1
	}

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting wms-tileserver",
		"addr", cfg.Addr,
		"version", Version,
		"wms", srcCfg.URL,
		"layers", srcCfg.Layers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var mp *metrics.Provider
	if cfg.Metrics.Enabled {
		mp = metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.Metrics.Addr,
			Path:    cfg.Metrics.Path,
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		observability.Init(mp.Registerer(), true)
		go func() {
			if err := mp.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	} else {
		observability.Init(nil, false)
	}

	factory, err := srs.NewFactory(cfg.SRSCacheSize)
	if err != nil {
		appLog.Error("failed to initialize srs factory", "err", err)
		return 1
	}
	exec := executor.New(appLog, httpclient.NewOutbound(
		httpclient.WithTimeout(cfg.HTTPTimeout),
		httpclient.WithUserAgent(cfg.UserAgent+"/"+Version),
	))
	source, err := wms.New(srcCfg,
		wms.WithRegistry(profile.NewRegistry(factory)),
		wms.WithFetcher(exec),
		wms.WithCapabilitiesReader(ogc.NewCapabilitiesReader(exec)),
		wms.WithTileServiceReader(tileservice.NewReader(exec)),
		wms.WithLogger(appLog),
	)
	if err != nil {
		appLog.Error("failed to create source", "err", err)
		return 1
	}

	projector, err := tilekey.NewProjector(cfg.ProjCacheSize)
	if err != nil {
		appLog.Error("failed to initialize projector", "err", err)
		return 1
	}

	// Serve health checks while the source initializes; tile routes answer 503
	// until it is ready.
	tiles := router.NewPending(source)
	srvErr := make(chan error, 1)
	go func() { srvErr <- server.Run(ctx, cfg, appLog, tiles, source) }()

	initCtx, cancel := context.WithTimeout(ctx, cfg.InitTimeout)
	ready, err := source.Initialize(initCtx)
	cancel()
	if err != nil {
		appLog.Error("source initialization failed", "err", err, "state", source.State().String())
		stop()
		<-srvErr
		return 1
	}
	appLog.Info("source ready",
		"profile", ready.Profile().String(),
		"prototype", ready.Prototype().String())
	if mp != nil {
		mp.SetSource(metrics.SourceInfo{
			Server:  srcCfg.URL,
			Layers:  srcCfg.Layers,
			Format:  ready.Extension(),
			SRS:     ready.Profile().SRS().Canonical(),
			Profile: ready.Profile().Kind().String(),
		})
	}
	tiles.Set(router.New(appLog, ready, projector))

	if err := <-srvErr; err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
