package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"astar_router/pkg/fetch"
	"astar_router/pkg/graph"
	"astar_router/pkg/metrics"
	osmparser "astar_router/pkg/osm"
	"astar_router/pkg/spatial"
)

// LatLng represents a geographic coordinate.
type LatLng struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Router is the interface the HTTP layer talks to.
type Router interface {
	Load(ctx context.Context, bbox orb.Bound) (Stats, error)
	Route(ctx context.Context, start, end LatLng, opts RunOptions) (*PathResult, error)
	Stream(ctx context.Context, start, end LatLng, opts RunOptions) (<-chan StepEvent, <-chan Outcome, error)
	Status() (Status, error)
	Stats() Stats
}

// Config holds the engine tunables.
type Config struct {
	SearchRadius         float64 // meters; endpoints farther from any node are rejected
	MaxBBoxSpan          float64 // degrees, per axis
	LargestComponentOnly bool
}

// DefaultConfig returns a 100m search radius and a 0.5 degree bbox limit.
func DefaultConfig() Config {
	return Config{SearchRadius: 100, MaxBBoxSpan: 0.5}
}

// Stats describes the published graph.
type Stats struct {
	Nodes    int                  `json:"nodes"`
	Edges    int                  `json:"edges"`
	BBox     [4]float64           `json:"bbox"` // south, west, north, east
	Dropped  osmparser.DropCounts `json:"dropped"`
	LoadedAt time.Time            `json:"loaded_at"`
}

// snapshot is a graph and its index, published together.
type snapshot struct {
	g     *graph.Graph
	idx   *spatial.Index
	stats Stats
}

// Engine owns the current graph and runs searches over it. A rebuild is
// refused while a search or lookup is active and vice versa. The previous
// graph stays published until a replacement is fully built.
type Engine struct {
	cfg     Config
	fetcher fetch.Fetcher
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer

	mu        sync.Mutex
	loading   bool
	active    int // searches and lookups holding the snapshot
	searching int
	snap      *snapshot
	status    Status
	lastErr   error
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFetcher sets the source used by Load.
func WithFetcher(f fetch.Fetcher) EngineOption {
	return func(e *Engine) { e.fetcher = f }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithTracerProvider sets where search and load spans are recorded. The
// global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

const tracerName = "astar_router/routing"

// NewEngine returns an idle engine with no graph.
func NewEngine(cfg Config, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:    cfg,
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
		status: StatusIdle,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Status returns the current phase and the error of the last failed
// operation, if the phase is StatusFailed.
func (e *Engine) Status() (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusFailed {
		return e.status, e.lastErr
	}
	return e.status, nil
}

// Stats returns the published graph's statistics, zero before the first load.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap == nil {
		return Stats{}
	}
	return e.snap.stats
}

// ValidateBBox checks that bbox is well formed and within the configured span.
func (e *Engine) ValidateBBox(bbox orb.Bound) error {
	s, w := bbox.Min.Lat(), bbox.Min.Lon()
	n, east := bbox.Max.Lat(), bbox.Max.Lon()
	for _, v := range []float64{s, w, n, east} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidBBox
		}
	}
	if s < -90 || n > 90 || w < -180 || east > 180 || s >= n || w >= east {
		return ErrInvalidBBox
	}
	if e.cfg.MaxBBoxSpan > 0 && (n-s > e.cfg.MaxBBoxSpan || east-w > e.cfg.MaxBBoxSpan) {
		return fmt.Errorf("%w: %.3f x %.3f degrees, limit %.3f",
			ErrBBoxTooLarge, n-s, east-w, e.cfg.MaxBBoxSpan)
	}
	return nil
}

// Load fetches the features inside bbox and replaces the graph with one
// built from them.
func (e *Engine) Load(ctx context.Context, bbox orb.Bound) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, "routing.Load", trace.WithAttributes(
		attribute.Float64Slice("bbox", []float64{bbox.Min.Lat(), bbox.Min.Lon(), bbox.Max.Lat(), bbox.Max.Lon()}),
	))
	defer span.End()

	if err := e.ValidateBBox(bbox); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Stats{}, err
	}
	if e.fetcher == nil {
		return Stats{}, errors.New("no fetcher configured")
	}
	if err := e.beginLoad(StatusFetching); err != nil {
		return Stats{}, err
	}

	start := time.Now()
	fc, err := e.fetchFeatures(ctx, bbox)
	if err != nil {
		return Stats{}, e.failLoad(span, err)
	}
	if fc.BBox == (orb.Bound{}) {
		fc.BBox = bbox
	}
	e.logger.Info("features fetched",
		zap.Int("points", len(fc.Nodes)),
		zap.Int("ways", len(fc.Ways)),
		zap.Duration("elapsed", time.Since(start)))

	return e.build(ctx, span, fc)
}

// LoadFeatures replaces the graph with one built from an already decoded
// collection.
func (e *Engine) LoadFeatures(ctx context.Context, fc *osmparser.FeatureCollection) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, "routing.LoadFeatures")
	defer span.End()

	if err := e.beginLoad(StatusBuilding); err != nil {
		return Stats{}, err
	}
	return e.build(ctx, span, fc)
}

func (e *Engine) fetchFeatures(ctx context.Context, bbox orb.Bound) (*osmparser.FeatureCollection, error) {
	body, err := e.fetcher.Fetch(ctx, bbox)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	e.setStatus(StatusBuilding)
	return osmparser.Decode(body, osmparser.DecodeOptions{Logger: e.logger})
}

func (e *Engine) build(ctx context.Context, span trace.Span, fc *osmparser.FeatureCollection) (Stats, error) {
	start := time.Now()

	g, err := graph.Build(fc, graph.BuildOptions{
		LargestComponentOnly: e.cfg.LargestComponentOnly,
		Logger:               e.logger,
	})
	if err != nil {
		return Stats{}, e.failLoad(span, err)
	}
	if err := ctx.Err(); err != nil {
		return Stats{}, e.failLoad(span, err)
	}
	idx := spatial.New(g)

	snap := &snapshot{
		g:   g,
		idx: idx,
		stats: Stats{
			Nodes:    g.NumNodes(),
			Edges:    g.NumEdges(),
			BBox:     [4]float64{g.BBox.Min.Lat(), g.BBox.Min.Lon(), g.BBox.Max.Lat(), g.BBox.Max.Lon()},
			Dropped:  fc.Dropped,
			LoadedAt: time.Now(),
		},
	}

	e.mu.Lock()
	e.snap = snap
	e.loading = false
	e.status = StatusReady
	e.lastErr = nil
	e.mu.Unlock()

	e.metrics.GraphLoaded("ok", snap.stats.Nodes, snap.stats.Edges)
	span.SetAttributes(attribute.Int("nodes", snap.stats.Nodes), attribute.Int("edges", snap.stats.Edges))
	e.logger.Info("graph ready",
		zap.Int("nodes", snap.stats.Nodes),
		zap.Int("edges", snap.stats.Edges),
		zap.Duration("elapsed", time.Since(start)))

	return snap.stats, nil
}

func (e *Engine) beginLoad(status Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loading {
		return fmt.Errorf("%w: graph load in progress", ErrBusy)
	}
	if e.active > 0 {
		return fmt.Errorf("%w: %d search(es) running", ErrBusy, e.active)
	}
	e.loading = true
	e.status = status
	return nil
}

// failLoad ends a load without touching the published snapshot.
func (e *Engine) failLoad(span trace.Span, err error) error {
	e.mu.Lock()
	e.loading = false
	e.status = StatusFailed
	e.lastErr = err
	kept := e.snap != nil
	e.mu.Unlock()

	e.metrics.GraphLoaded(loadResult(err), 0, 0)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.logger.Error("graph load failed", zap.Error(err), zap.Bool("previous_graph_kept", kept))
	return err
}

func loadResult(err error) string {
	switch {
	case errors.Is(err, fetch.ErrDataFetch):
		return "fetch_error"
	case errors.Is(err, osmparser.ErrDataFormat):
		return "format_error"
	case errors.Is(err, graph.ErrGraphEmpty):
		return "empty"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// enter registers an active reader of the published snapshot.
func (e *Engine) enter(search bool) (*snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loading {
		return nil, fmt.Errorf("%w: graph load in progress", ErrBusy)
	}
	if e.snap == nil {
		return nil, ErrNotReady
	}
	e.active++
	if search {
		e.searching++
		e.status = StatusSearching
	}
	return e.snap, nil
}

// leave releases a reader. For a search, status becomes the run's outcome
// once no other search is running.
func (e *Engine) leave(search bool, status Status, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active--
	if !search {
		return
	}
	e.searching--
	if e.searching == 0 {
		e.status = status
		e.lastErr = err
	}
}

// Nearest returns the node closest to p within the search radius.
func (e *Engine) Nearest(p LatLng) (*graph.Node, error) {
	snap, err := e.enter(false)
	if err != nil {
		return nil, err
	}
	defer e.leave(false, StatusIdle, nil)

	n, ok := snap.idx.Nearest(p.Lat, p.Lng, e.cfg.SearchRadius)
	if !ok {
		return nil, &InvalidQueryError{Endpoint: "point", Lat: p.Lat, Lng: p.Lng, Radius: e.cfg.SearchRadius}
	}
	return n, nil
}

// resolve maps both endpoints to graph nodes.
func (e *Engine) resolve(snap *snapshot, start, end LatLng) (*Search, error) {
	from, ok := snap.idx.Nearest(start.Lat, start.Lng, e.cfg.SearchRadius)
	if !ok {
		return nil, &InvalidQueryError{Endpoint: "start", Lat: start.Lat, Lng: start.Lng, Radius: e.cfg.SearchRadius}
	}
	to, ok := snap.idx.Nearest(end.Lat, end.Lng, e.cfg.SearchRadius)
	if !ok {
		return nil, &InvalidQueryError{Endpoint: "end", Lat: end.Lat, Lng: end.Lng, Radius: e.cfg.SearchRadius}
	}
	return NewSearch(snap.g, from, to), nil
}

// begin returns ctx carrying the search span, so work done by the run
// nests under it.
func (e *Engine) begin(ctx context.Context, start, end LatLng) (context.Context, *Search, trace.Span, error) {
	ctx, span := e.tracer.Start(ctx, "routing.Route", trace.WithAttributes(
		attribute.Float64Slice("start", []float64{start.Lat, start.Lng}),
		attribute.Float64Slice("end", []float64{end.Lat, end.Lng}),
	))

	snap, err := e.enter(true)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, nil, nil, err
	}
	s, err := e.resolve(snap, start, end)
	if err != nil {
		e.leave(true, StatusReady, nil)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, nil, nil, err
	}
	return ctx, s, span, nil
}

func (e *Engine) finish(span trace.Span, res *PathResult, err error, explored int) {
	status := outcomeStatus(res, err)
	e.leave(true, status, err)
	e.metrics.SearchFinished(status.String(), explored)

	span.SetAttributes(
		attribute.String("outcome", status.String()),
		attribute.Int("nodes_explored", explored),
	)
	if err != nil && !errors.Is(err, ErrCancelled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	fields := []zap.Field{zap.Stringer("outcome", status), zap.Int("nodes_explored", explored)}
	if res != nil && res.Found {
		fields = append(fields, zap.Float64("distance_m", res.TotalDistance), zap.Duration("travel_time", res.TotalTime))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	e.logger.Info("search finished", fields...)
}

func outcomeStatus(res *PathResult, err error) Status {
	switch {
	case errors.Is(err, ErrCancelled):
		return StatusCancelled
	case err != nil:
		return StatusFailed
	case res != nil && res.Found:
		return StatusFound
	default:
		return StatusNoPath
	}
}

// Route finds a shortest path between the nodes nearest to start and end.
// An unreachable goal yields a result with Found false and no error.
func (e *Engine) Route(ctx context.Context, start, end LatLng, opts RunOptions) (*PathResult, error) {
	ctx, s, span, err := e.begin(ctx, start, end)
	if err != nil {
		return nil, err
	}
	res, err := Run(ctx, s, opts)
	e.finish(span, res, err, s.NodesExplored())
	return res, err
}

// Stream is Route with progress delivered on a channel. Endpoint and
// readiness errors are returned before the search starts.
func (e *Engine) Stream(ctx context.Context, start, end LatLng, opts RunOptions) (<-chan StepEvent, <-chan Outcome, error) {
	ctx, s, span, err := e.begin(ctx, start, end)
	if err != nil {
		return nil, nil, err
	}

	events, inner := Stream(ctx, s, opts)
	outcome := make(chan Outcome, 1)
	go func() {
		defer close(outcome)
		out := <-inner
		e.finish(span, out.Result, out.Err, s.NodesExplored())
		outcome <- out
	}()
	return events, outcome, nil
}
