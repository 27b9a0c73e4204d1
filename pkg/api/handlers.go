package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"astar_router/pkg/fetch"
	"astar_router/pkg/graph"
	osmparser "astar_router/pkg/osm"
	"astar_router/pkg/routing"
)

const maxBodyBytes = 4096

// Options configures Handlers.
type Options struct {
	DefaultSpeed int // used when a stream request omits speed
	EmitEvery    int // used when a stream request omits emit_every
	Logger       *zap.Logger
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	router   routing.Router
	opts     Options
	runs     *runRegistry
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandlers creates handlers with the given router.
func NewHandlers(router routing.Router, opts Options) *Handlers {
	if opts.DefaultSpeed == 0 {
		opts.DefaultSpeed = routing.DefaultSpeed
	}
	if opts.EmitEvery == 0 {
		opts.EmitEvery = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handlers{
		router:   router,
		opts:     opts,
		runs:     newRunRegistry(),
		validate: v,
		logger:   logger,
	}
}

// HandleLoadGraph handles POST /api/v1/graph.
func (h *Handlers) HandleLoadGraph(w http.ResponseWriter, r *http.Request) {
	var req GraphRequest
	if !h.decode(w, r, &req) {
		return
	}

	stats, err := h.router.Load(r.Context(), req.Bound())
	if err != nil {
		h.writeRouterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleRoute handles POST /api/v1/route. With ?format=geojson the path is
// returned as a GeoJSON FeatureCollection of its segments.
func (h *Handlers) HandleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.router.Route(r.Context(), req.Start.latLng(), req.End.latLng(), routing.RunOptions{})
	if err != nil {
		h.writeRouterError(w, err)
		return
	}
	if !result.Found {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no_route_found"})
		return
	}

	if r.URL.Query().Get("format") == "geojson" {
		w.Header().Set("Content-Type", "application/geo+json")
		json.NewEncoder(w).Encode(routeGeoJSON(result))
		return
	}
	writeJSON(w, http.StatusOK, newRouteResponse(result))
}

// HandleRouteStream handles POST /api/v1/route/stream. The response is
// NDJSON: one "step" line per progress event, then a "result" or "error"
// line. The X-Run-ID header names the run for the pause, resume and cancel
// endpoints.
func (h *Handlers) HandleRouteStream(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if !h.decode(w, r, &req) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "streaming_unsupported"})
		return
	}

	speed := req.Speed
	if speed == 0 {
		speed = h.opts.DefaultSpeed
	}
	pacing := routing.PacingForSpeed(speed)
	pacing.EmitEvery = req.EmitEvery
	if pacing.EmitEvery == 0 {
		pacing.EmitEvery = h.opts.EmitEvery
	}

	ctrl := routing.NewControl()
	id := h.runs.add(ctrl)
	defer h.runs.remove(id)
	w.Header().Set("X-Run-ID", id)

	events := make(chan routing.StepEvent)
	g, ctx := errgroup.WithContext(r.Context())

	var result *routing.PathResult
	g.Go(func() error {
		defer close(events)
		var err error
		result, err = h.router.Route(ctx, req.Start.latLng(), req.End.latLng(), routing.RunOptions{
			Pacing:  pacing,
			Control: ctrl,
			Progress: func(ctx context.Context, ev routing.StepEvent) error {
				select {
				case events <- ev:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
		return err
	})

	started := false
	enc := json.NewEncoder(w)
	g.Go(func() error {
		for ev := range events {
			if !started {
				started = true
				w.Header().Set("Content-Type", "application/x-ndjson")
				w.WriteHeader(http.StatusOK)
			}
			if err := enc.Encode(StreamLine{Type: "step", Step: newStepJSON(ev)}); err != nil {
				return err
			}
			flusher.Flush()
		}
		return nil
	})

	err := g.Wait()
	if !started {
		// Nothing was streamed, so the status line is still ours.
		if err != nil {
			h.writeRouterError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}

	line := StreamLine{Type: "result"}
	if err != nil {
		code, _ := classify(err)
		line = StreamLine{Type: "error", Error: code, Detail: err.Error()}
		h.logger.Info("streamed run ended early", zap.String("run_id", id), zap.Error(err))
	} else {
		resp := newRouteResponse(result)
		line.Route = &resp
	}
	enc.Encode(line)
	flusher.Flush()
}

// HandleRunControl handles POST /api/v1/runs/{id}/{action}.
func (h *Handlers) HandleRunControl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctrl, ok := h.runs.get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "run_not_found", Field: "id"})
		return
	}

	state := "running"
	switch chi.URLParam(r, "action") {
	case "pause":
		ctrl.Pause()
		state = "paused"
	case "resume":
		ctrl.Resume()
	case "cancel":
		ctrl.Cancel()
		state = "cancelled"
	default:
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown_action", Field: "action"})
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{ID: id, Paused: ctrl.Paused(), State: state})
}

// HandleStatus handles GET /api/v1/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.router.Status()
	resp := StatusResponse{Status: status, ActiveRuns: h.runs.len()}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.router.Stats())
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: time.Now().UTC()})
}

// decode reads and validates a JSON body, writing the error response itself
// when it returns false.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Detail: "content type must be application/json"})
		return false
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request_too_large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request"})
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:  "invalid_field",
				Field:  fieldPath(fe.Namespace()),
				Detail: fe.Tag(),
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request"})
		return false
	}
	return true
}

// fieldPath drops the struct name from a validator namespace:
// "RouteRequest.start.lat" becomes "start.lat".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// classify maps a router error to an error code and HTTP status.
func classify(err error) (string, int) {
	var iq *routing.InvalidQueryError
	switch {
	case errors.As(err, &iq):
		return "point_too_far_from_road", http.StatusUnprocessableEntity
	case errors.Is(err, routing.ErrInvalidBBox):
		return "invalid_bbox", http.StatusBadRequest
	case errors.Is(err, routing.ErrBBoxTooLarge):
		return "bbox_too_large", http.StatusRequestEntityTooLarge
	case errors.Is(err, routing.ErrBusy):
		return "busy", http.StatusConflict
	case errors.Is(err, routing.ErrNotReady):
		return "graph_not_ready", http.StatusServiceUnavailable
	case errors.Is(err, osmparser.ErrDataFormat):
		return "invalid_map_data", http.StatusUnprocessableEntity
	case errors.Is(err, graph.ErrGraphEmpty):
		return "empty_graph", http.StatusUnprocessableEntity
	case errors.Is(err, fetch.ErrDataFetch):
		return "upstream_unavailable", http.StatusBadGateway
	case errors.Is(err, routing.ErrCancelled):
		return "cancelled", http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "request_timeout", http.StatusServiceUnavailable
	default:
		return "internal_error", http.StatusInternalServerError
	}
}

func (h *Handlers) writeRouterError(w http.ResponseWriter, err error) {
	code, status := classify(err)
	resp := ErrorResponse{Error: code}

	var iq *routing.InvalidQueryError
	if errors.As(err, &iq) {
		resp.Field = iq.Endpoint
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	} else {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

func routeGeoJSON(res *routing.PathResult) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, seg := range res.Segments {
		f := geojson.NewFeature(seg.Points)
		f.Properties["from"] = int64(seg.From)
		f.Properties["to"] = int64(seg.To)
		f.Properties["name"] = seg.Name
		f.Properties["road_type"] = seg.RoadType.String()
		f.Properties["distance_meters"] = seg.Distance
		f.Properties["time_seconds"] = seg.Time.Seconds()
		fc.Append(f)
	}
	fc.ExtraMembers = geojson.Properties{
		"total_distance_meters": res.TotalDistance,
		"total_time_seconds":    res.TotalTime.Seconds(),
		"nodes_explored":        res.NodesExplored,
	}
	return fc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
