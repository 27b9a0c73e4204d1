package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"astar_router/pkg/api"
	"astar_router/pkg/config"
	"astar_router/pkg/fetch"
	"astar_router/pkg/metrics"
	osmparser "astar_router/pkg/osm"
	"astar_router/pkg/routing"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	corsOrigin := flag.String("cors-origin", "", "CORS allowed origin (overrides config)")
	features := flag.String("features", "", "Feature file (.json or .osm.pbf) to load at startup")
	bbox := flag.String("bbox", "", "Fetch this box at startup: south,west,north,east")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *corsOrigin != "" {
		cfg.Server.CORSOrigin = *corsOrigin
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	m := metrics.NewCollector("astar_router")
	engine := routing.NewEngine(cfg.EngineConfig(),
		routing.WithFetcher(newFetcher(cfg, logger, m)),
		routing.WithLogger(logger),
		routing.WithMetrics(m),
	)

	ctx := context.Background()
	switch {
	case *features != "":
		fc, err := readFeatures(ctx, *features, logger)
		if err != nil {
			logger.Fatal("failed to read features", zap.String("path", *features), zap.Error(err))
		}
		if _, err := engine.LoadFeatures(ctx, fc); err != nil {
			logger.Fatal("failed to build graph", zap.Error(err))
		}
	case *bbox != "":
		b, err := parseBBox(*bbox)
		if err != nil {
			logger.Fatal("invalid bbox", zap.Error(err))
		}
		if _, err := engine.Load(ctx, b); err != nil {
			// The server still starts; a later POST /api/v1/graph can retry.
			logger.Error("initial load failed", zap.Error(err))
		}
	}

	srvCfg := api.DefaultConfig(cfg.Server.Addr)
	srvCfg.ReadTimeout = cfg.Server.ReadTimeout
	srvCfg.WriteTimeout = cfg.Server.WriteTimeout
	srvCfg.RequestTimeout = cfg.Server.RequestTimeout
	srvCfg.MaxConcurrent = cfg.Server.MaxConcurrent
	srvCfg.CORSOrigin = cfg.Server.CORSOrigin
	srvCfg.Logger = logger
	srvCfg.Metrics = m

	handlers := api.NewHandlers(engine, api.Options{
		DefaultSpeed: cfg.Routing.DefaultSpeed,
		EmitEvery:    cfg.Routing.EmitEvery,
		Logger:       logger,
	})
	srv := api.NewServer(srvCfg, handlers)

	if err := api.ListenAndServe(srv, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

// newFetcher stacks retry over the circuit breaker over the Overpass client.
// Each attempt, including those the breaker rejects, is counted.
func newFetcher(cfg config.Config, logger *zap.Logger, m *metrics.Collector) fetch.Fetcher {
	client := fetch.NewOverpassClient(cfg.Overpass.URL)
	client.ServerTimeout = cfg.Overpass.ServerTimeout

	var f fetch.Fetcher = client
	if cfg.Breaker.Enabled {
		f = fetch.NewBreaker(f, cfg.BreakerConfig(), logger)
	}
	f = fetch.Observe(f, m.FetchAttempt)
	return fetch.NewRetrying(f, cfg.RetryConfig(), logger)
}

func readFeatures(ctx context.Context, path string, logger *zap.Logger) (*osmparser.FeatureCollection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.HasSuffix(path, ".pbf") {
		return osmparser.ParsePBF(ctx, f, osmparser.ParseOptions{Logger: logger})
	}
	return osmparser.Decode(f, osmparser.DecodeOptions{Logger: logger})
}

func parseBBox(s string) (orb.Bound, error) {
	var south, west, north, east float64
	if _, err := fmt.Sscanf(s, "%f,%f,%f,%f", &south, &west, &north, &east); err != nil {
		return orb.Bound{}, fmt.Errorf("expected south,west,north,east: %w", err)
	}
	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}, nil
}
