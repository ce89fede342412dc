// Command wms-uri initializes a WMS source and prints the GetMap request of
// one tile, optionally fetching it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/config"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/model"
	"github.com/mohammed-shakir/wms-tilesource/internal/logger"
	"github.com/mohammed-shakir/wms-tilesource/internal/tilekey"
	"github.com/mohammed-shakir/wms-tilesource/internal/wms"
)

type bboxKey model.BBox

func (k bboxKey) Bounds() model.BBox { return model.BBox(k) }

func main() {
	os.Exit(run())
}

func run() int {
	opts := config.SourceOptionsFromEnv()
	flag.Func("opt", "source option key=value, e.g. -opt layers=topo (repeatable)", func(s string) error {
		k, v, ok := strings.Cut(s, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if !ok || !config.IsSourceKey(k) {
			return fmt.Errorf("unknown option %q", s)
		}
		opts[k] = v
		return nil
	})
	z := flag.Uint("z", 0, "tile level")
	x := flag.Uint("x", 0, "tile column")
	y := flag.Uint("y", 0, "tile row, 0 at the north edge")
	bbox := flag.String("bbox", "", "minx,miny,maxx,maxy in the profile SRS; overrides -z/-x/-y")
	out := flag.String("out", "", "fetch the tile and write it to this file as png")
	timeout := flag.Duration("timeout", 30*time.Second, "initialization and fetch timeout")
	verbose := flag.Bool("v", false, "log to stderr")
	flag.Parse()

	level := "error"
	if *verbose {
		level = "debug"
	}
	zl := logger.Build(logger.Config{Level: level, Console: true, Component: "wms-uri"}, os.Stderr)
	appLog := logger.NewSlog(&zl)

	cfg, err := config.ParseSource(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}
	source, err := wms.New(cfg, wms.WithLogger(appLog))
	if err != nil {
		fmt.Fprintln(os.Stderr, "source:", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ready, err := source.Initialize(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize (%s): %v\n", source.State(), err)
		return 1
	}

	var key wms.TileKey
	if *bbox != "" {
		bb, err := parseBBox(*bbox)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bbox:", err)
			return 2
		}
		key = bboxKey(bb)
	} else {
		k, err := tilekey.ForProfile(ready.Profile(), uint32(*z), uint32(*x), uint32(*y))
		if err != nil {
			fmt.Fprintln(os.Stderr, "tile:", err)
			return 2
		}
		key = k
	}
	fmt.Println(ready.CreateURI(key))

	if *out == "" {
		return 0
	}
	img, err := ready.FetchImage(ctx, key, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fetch:", err)
		return 1
	}
	if img == nil {
		fmt.Fprintln(os.Stderr, "fetch: no image")
		return 1
	}
	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := errors.Join(png.Encode(f, img), f.Close()); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		return 1
	}
	return 0
}

func parseBBox(s string) (model.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return model.BBox{}, errors.New("expected minx,miny,maxx,maxy")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.BBox{}, err
		}
		v[i] = f
	}
	return model.BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}
