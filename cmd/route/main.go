// Command route builds a graph from a feature file and runs one search,
// printing each progress snapshot as it happens.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"astar_router/pkg/config"
	osmparser "astar_router/pkg/osm"
	"astar_router/pkg/routing"
)

func main() {
	input := flag.String("input", "", "Feature file: Overpass JSON or .osm.pbf")
	from := flag.String("from", "", "Start point: lat,lng")
	to := flag.String("to", "", "End point: lat,lng")
	speed := flag.Int("speed", routing.DefaultSpeed, "Animation speed 1..10")
	every := flag.Int("every", 1, "Print one snapshot per N expansions")
	bbox := flag.String("bbox", "", "PBF only: keep points inside south,west,north,east")
	radius := flag.Float64("radius", routing.DefaultConfig().SearchRadius, "Max snap distance in meters")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if *input == "" || *from == "" || *to == "" {
		fmt.Fprintln(os.Stderr, "Usage: route --input <file.json|file.osm.pbf> --from lat,lng --to lat,lng [--speed 1..10] [--every N]")
		os.Exit(2)
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger, err := config.LogConfig{Level: level, Development: true}.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	start, err := parseLatLng(*from)
	if err != nil {
		logger.Fatal("invalid --from", zap.Error(err))
	}
	end, err := parseLatLng(*to)
	if err != nil {
		logger.Fatal("invalid --to", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fc, err := readFeatures(ctx, *input, *bbox, logger)
	if err != nil {
		logger.Fatal("failed to read features", zap.Error(err))
	}

	cfg := routing.DefaultConfig()
	cfg.SearchRadius = *radius
	engine := routing.NewEngine(cfg, routing.WithLogger(logger))

	built := time.Now()
	stats, err := engine.LoadFeatures(ctx, fc)
	if err != nil {
		logger.Fatal("failed to build graph", zap.Error(err))
	}
	logger.Info("graph built",
		zap.Int("nodes", stats.Nodes),
		zap.Int("edges", stats.Edges),
		zap.Duration("elapsed", time.Since(built)))

	pacing := routing.PacingForSpeed(*speed)
	pacing.EmitEvery = *every

	out, err := search(ctx, engine, start, end, routing.RunOptions{Pacing: pacing}, os.Stdout)
	if err != nil {
		logger.Fatal("search aborted", zap.Error(err))
	}

	switch {
	case errors.Is(out.Err, routing.ErrCancelled):
		logger.Warn("search cancelled")
		os.Exit(130)
	case out.Err != nil:
		logger.Fatal("search failed", zap.Error(out.Err))
	case !out.Result.Found:
		fmt.Printf("no path (%d nodes explored)\n", out.Result.NodesExplored)
		os.Exit(1)
	}
	printResult(os.Stdout, out.Result)
}

// search streams one run into w. The search feeds the renderer through an
// unbuffered channel; both run until the search ends, the renderer fails or
// ctx is cancelled.
func search(ctx context.Context, r routing.Router, start, end routing.LatLng, opts routing.RunOptions, w io.Writer) (routing.Outcome, error) {
	g, gctx := errgroup.WithContext(ctx)
	events, outcome, err := r.Stream(gctx, start, end, opts)
	if err != nil {
		return routing.Outcome{}, fmt.Errorf("start search: %w", err)
	}

	g.Go(func() error {
		return render(w, events)
	})

	var out routing.Outcome
	g.Go(func() error {
		out = <-outcome
		return nil
	})
	if err := g.Wait(); err != nil {
		return out, fmt.Errorf("render: %w", err)
	}
	return out, nil
}

func render(w io.Writer, events <-chan routing.StepEvent) error {
	for ev := range events {
		_, err := fmt.Fprintf(w, "explored=%-6d current=%-12d open=%-5d closed=%-5d g=%9.1f h=%9.1f f=%9.1f\n",
			ev.NodesExplored, ev.Current, len(ev.Open), len(ev.Closed), ev.Scores.G, ev.Scores.H, ev.Scores.F)
		if err != nil {
			return err
		}
	}
	return nil
}

func printResult(w io.Writer, res *routing.PathResult) {
	fmt.Fprintf(w, "\n%d nodes, %.0f m, %s, %d nodes explored\n",
		len(res.Nodes), res.TotalDistance, res.TotalTime.Round(time.Second), res.NodesExplored)

	// Collapse consecutive segments of the same road.
	var name string
	var dist float64
	flush := func() {
		if dist > 0 {
			label := name
			if label == "" {
				label = "(unnamed)"
			}
			fmt.Fprintf(w, "  %-40s %8.0f m\n", label, dist)
		}
	}
	for _, seg := range res.Segments {
		if seg.Name != name {
			flush()
			name, dist = seg.Name, 0
		}
		dist += seg.Distance
	}
	flush()
}

func readFeatures(ctx context.Context, path, bbox string, logger *zap.Logger) (*osmparser.FeatureCollection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !strings.HasSuffix(path, ".pbf") {
		return osmparser.Decode(f, osmparser.DecodeOptions{Logger: logger})
	}

	opts := osmparser.ParseOptions{Logger: logger}
	if bbox != "" {
		var south, west, north, east float64
		if _, err := fmt.Sscanf(bbox, "%f,%f,%f,%f", &south, &west, &north, &east); err != nil {
			return nil, fmt.Errorf("invalid bbox (expected south,west,north,east): %w", err)
		}
		opts.BBox = orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
	}
	return osmparser.ParsePBF(ctx, f, opts)
}

func parseLatLng(s string) (routing.LatLng, error) {
	var ll routing.LatLng
	if _, err := fmt.Sscanf(s, "%f,%f", &ll.Lat, &ll.Lng); err != nil {
		return ll, fmt.Errorf("expected lat,lng: %w", err)
	}
	if ll.Lat < -90 || ll.Lat > 90 || ll.Lng < -180 || ll.Lng > 180 {
		return ll, fmt.Errorf("coordinates out of range: %v", s)
	}
	return ll, nil
}
