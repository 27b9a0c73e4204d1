package api

import (
	"time"

	"github.com/paulmach/orb"

	"astar_router/pkg/routing"
)

// GraphRequest is the JSON body for POST /api/v1/graph.
type GraphRequest struct {
	South float64 `json:"south" validate:"gte=-90,lte=90"`
	West  float64 `json:"west" validate:"gte=-180,lte=180"`
	North float64 `json:"north" validate:"gte=-90,lte=90,gtfield=South"`
	East  float64 `json:"east" validate:"gte=-180,lte=180,gtfield=West"`
}

// Bound converts the request to an orb bound.
func (r GraphRequest) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{r.West, r.South}, Max: orb.Point{r.East, r.North}}
}

// RouteRequest is the JSON body for POST /api/v1/route and /route/stream.
type RouteRequest struct {
	Start     *LatLngJSON `json:"start" validate:"required"`
	End       *LatLngJSON `json:"end" validate:"required"`
	Speed     int         `json:"speed" validate:"omitempty,gte=1,lte=10"`
	EmitEvery int         `json:"emit_every" validate:"omitempty,gte=1,lte=10000"`
}

// LatLngJSON represents a lat/lng pair in JSON.
type LatLngJSON struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

func (ll LatLngJSON) latLng() routing.LatLng {
	return routing.LatLng{Lat: ll.Lat, Lng: ll.Lng}
}

// RouteResponse is the JSON response for a finished search.
type RouteResponse struct {
	Found               bool          `json:"found"`
	Nodes               []int64       `json:"nodes"`
	Segments            []SegmentJSON `json:"segments"`
	TotalDistanceMeters float64       `json:"total_distance_meters"`
	TotalTimeSeconds    float64       `json:"total_time_seconds"`
	NodesExplored       int           `json:"nodes_explored"`
}

// SegmentJSON represents one traversed edge in the response.
type SegmentJSON struct {
	From           int64        `json:"from"`
	To             int64        `json:"to"`
	Name           string       `json:"name,omitempty"`
	RoadType       string       `json:"road_type"`
	DistanceMeters float64      `json:"distance_meters"`
	TimeSeconds    float64      `json:"time_seconds"`
	Geometry       []LatLngJSON `json:"geometry"`
}

func newRouteResponse(res *routing.PathResult) RouteResponse {
	resp := RouteResponse{
		Found:               res.Found,
		Nodes:               make([]int64, len(res.Nodes)),
		Segments:            make([]SegmentJSON, 0, len(res.Segments)),
		TotalDistanceMeters: res.TotalDistance,
		TotalTimeSeconds:    res.TotalTime.Seconds(),
		NodesExplored:       res.NodesExplored,
	}
	for i, id := range res.Nodes {
		resp.Nodes[i] = int64(id)
	}
	for _, seg := range res.Segments {
		geom := make([]LatLngJSON, len(seg.Points))
		for i, p := range seg.Points {
			geom[i] = LatLngJSON{Lat: p.Lat(), Lng: p.Lon()}
		}
		resp.Segments = append(resp.Segments, SegmentJSON{
			From:           int64(seg.From),
			To:             int64(seg.To),
			Name:           seg.Name,
			RoadType:       seg.RoadType.String(),
			DistanceMeters: seg.Distance,
			TimeSeconds:    seg.Time.Seconds(),
			Geometry:       geom,
		})
	}
	return resp
}

// StreamLine is one NDJSON line of a streamed run. Type is "step",
// "result" or "error".
type StreamLine struct {
	Type   string         `json:"type"`
	Step   *StepJSON      `json:"step,omitempty"`
	Route  *RouteResponse `json:"route,omitempty"`
	Error  string         `json:"error,omitempty"`
	Detail string         `json:"detail,omitempty"`
}

// StepJSON is a progress snapshot.
type StepJSON struct {
	Current       int64      `json:"current"`
	Open          []int64    `json:"open"`
	Closed        []int64    `json:"closed"`
	NodesExplored int        `json:"nodes_explored"`
	Scores        ScoresJSON `json:"scores"`
	Done          bool       `json:"done"`
	Found         bool       `json:"found"`
}

// ScoresJSON carries the A* costs of the current node, in meters.
type ScoresJSON struct {
	G float64 `json:"g"`
	H float64 `json:"h"`
	F float64 `json:"f"`
}

func newStepJSON(ev routing.StepEvent) *StepJSON {
	s := &StepJSON{
		Current:       int64(ev.Current),
		Open:          make([]int64, len(ev.Open)),
		Closed:        make([]int64, len(ev.Closed)),
		NodesExplored: ev.NodesExplored,
		Scores:        ScoresJSON{G: ev.Scores.G, H: ev.Scores.H, F: ev.Scores.F},
		Done:          ev.Done,
		Found:         ev.Found,
	}
	for i, id := range ev.Open {
		s.Open[i] = int64(id)
	}
	for i, id := range ev.Closed {
		s.Closed[i] = int64(id)
	}
	return s
}

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// StatusResponse is the JSON response for GET /api/v1/status.
type StatusResponse struct {
	Status     routing.Status `json:"status"`
	Error      string         `json:"error,omitempty"`
	ActiveRuns int            `json:"active_runs"`
}

// RunResponse is the JSON response for run control requests.
type RunResponse struct {
	ID     string `json:"id"`
	Paused bool   `json:"paused"`
	State  string `json:"state"`
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}
