package osm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"go.uber.org/zap"
)

// ErrDataFormat matches every FormatError.
var ErrDataFormat = errors.New("malformed feature collection")

// FormatError reports input that is not a feature collection at all.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrDataFormat, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrDataFormat, e.Reason)
}

func (e *FormatError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDataFormat, e.Err}
	}
	return []error{ErrDataFormat}
}

// Way is a validated way ready for graph construction.
type Way struct {
	ID       osm.WayID
	NodeIDs  []osm.NodeID
	RoadType RoadType
	Name     string
	Forward  bool
	Backward bool
}

// DropCounts records the features discarded while decoding.
type DropCounts struct {
	Points int // missing or invalid coordinates
	Ways   int // too short, unusable or without a travel direction
	Other  int // element types that carry no routing data
}

// FeatureCollection holds the points and ways of one bounding-box fetch.
type FeatureCollection struct {
	BBox    orb.Bound
	Nodes   map[osm.NodeID]*osm.Node
	Ways    []Way
	Dropped DropCounts
}

// DecodeOptions configures Decode.
type DecodeOptions struct {
	Logger *zap.Logger
}

type rawBBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

type rawElement struct {
	Type  string            `json:"type"`
	ID    int64             `json:"id"`
	Lat   json.RawMessage   `json:"lat"`
	Lon   json.RawMessage   `json:"lon"`
	Lng   json.RawMessage   `json:"lng"`
	Nodes []int64           `json:"nodes"`
	Tags  map[string]string `json:"tags"`
}

// rawFeature is one entry of the kind-tagged "features" layout.
type rawFeature struct {
	Kind     string          `json:"kind"`
	ID       int64           `json:"id"`
	Lat      json.RawMessage `json:"lat"`
	Lng      json.RawMessage `json:"lng"`
	PointIDs []int64         `json:"pointIds"`
	Tags     struct {
		RoadType string `json:"roadType"`
		Name     string `json:"name"`
		OneWay   bool   `json:"oneWay"`
	} `json:"tags"`
}

type rawCollection struct {
	BBox        *rawBBox      `json:"bbox"`
	BoundingBox *rawBBox      `json:"boundingBox"`
	Elements    *[]rawElement `json:"elements"`
	Features    *[]rawFeature `json:"features"`
}

// elements returns the document's entries in Overpass form.
func (raw *rawCollection) elements() ([]rawElement, error) {
	if raw.Elements != nil {
		return *raw.Elements, nil
	}
	if raw.Features == nil {
		return nil, &FormatError{Reason: "missing elements or features array"}
	}

	out := make([]rawElement, 0, len(*raw.Features))
	for i, f := range *raw.Features {
		switch f.Kind {
		case "point":
			out = append(out, rawElement{Type: "node", ID: f.ID, Lat: f.Lat, Lng: f.Lng})
		case "way":
			id := f.ID
			if id == 0 {
				id = int64(i + 1)
			}
			tags := map[string]string{"highway": f.Tags.RoadType, "oneway": "no"}
			if f.Tags.OneWay {
				tags["oneway"] = "yes"
			}
			if f.Tags.Name != "" {
				tags["name"] = f.Tags.Name
			}
			out = append(out, rawElement{Type: "way", ID: id, Nodes: f.PointIDs, Tags: tags})
		case "":
			return nil, &FormatError{Reason: fmt.Sprintf("feature %d has no kind", i)}
		default:
			return nil, &FormatError{Reason: fmt.Sprintf("feature %d has unknown kind %q", i, f.Kind)}
		}
	}
	return out, nil
}

// Decode reads a JSON feature collection, either Overpass output
// ({"elements": [...]}) or the kind-tagged layout
// ({"boundingBox": {...}, "features": [...]}). Invalid points and ways are
// dropped with a warning; only a structurally broken document fails.
func Decode(r io.Reader, opts ...DecodeOptions) (*FeatureCollection, error) {
	var opt DecodeOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var raw rawCollection
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, &FormatError{Reason: "decode json", Err: err}
	}
	elements, err := raw.elements()
	if err != nil {
		return nil, err
	}

	fc := &FeatureCollection{
		Nodes: make(map[osm.NodeID]*osm.Node),
	}
	bbox := raw.BBox
	if bbox == nil {
		bbox = raw.BoundingBox
	}
	if bbox != nil {
		fc.BBox = orb.Bound{
			Min: orb.Point{bbox.West, bbox.South},
			Max: orb.Point{bbox.East, bbox.North},
		}
	}

	for i, el := range elements {
		switch el.Type {
		case "node":
			lat, latOK := parseCoord(el.Lat, 90)
			lon := el.Lon
			if len(lon) == 0 {
				lon = el.Lng
			}
			lng, lngOK := parseCoord(lon, 180)
			if !latOK || !lngOK {
				fc.Dropped.Points++
				logger.Warn("dropping point without numeric coordinates", zap.Int64("id", el.ID))
				continue
			}
			fc.Nodes[osm.NodeID(el.ID)] = &osm.Node{ID: osm.NodeID(el.ID), Lat: lat, Lon: lng}
		case "way":
			w, ok := newWay(el)
			if !ok {
				fc.Dropped.Ways++
				logger.Warn("dropping way", zap.Int64("id", el.ID), zap.Int("refs", len(el.Nodes)))
				continue
			}
			fc.Ways = append(fc.Ways, w)
		case "relation", "area":
			fc.Dropped.Other++
		case "":
			return nil, &FormatError{Reason: fmt.Sprintf("element %d has no type", i)}
		default:
			return nil, &FormatError{Reason: fmt.Sprintf("element %d has unknown type %q", i, el.Type)}
		}
	}

	logger.Info("decoded feature collection",
		zap.Int("points", len(fc.Nodes)),
		zap.Int("ways", len(fc.Ways)),
		zap.Int("dropped_points", fc.Dropped.Points),
		zap.Int("dropped_ways", fc.Dropped.Ways))

	return fc, nil
}

// parseCoord accepts only a finite JSON number within [-limit, limit].
func parseCoord(raw json.RawMessage, limit float64) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < -limit || v > limit {
		return 0, false
	}
	return v, true
}

func newWay(el rawElement) (Way, bool) {
	if len(el.Nodes) < 2 {
		return Way{}, false
	}

	tags := tagsFromMap(el.Tags)
	if !isUsable(tags) {
		return Way{}, false
	}
	fwd, bwd := directionFlags(tags)
	if !fwd && !bwd {
		return Way{}, false
	}

	ids := make([]osm.NodeID, len(el.Nodes))
	for i, id := range el.Nodes {
		ids[i] = osm.NodeID(id)
	}

	return Way{
		ID:       osm.WayID(el.ID),
		NodeIDs:  ids,
		RoadType: ParseRoadType(tags.Find("highway")),
		Name:     tags.Find("name"),
		Forward:  fwd,
		Backward: bwd,
	}, true
}

// tagsFromMap converts decoded JSON tags into osm.Tags sorted by key.
func tagsFromMap(m map[string]string) osm.Tags {
	tags := make(osm.Tags, 0, len(m))
	for k, v := range m {
		tags = append(tags, osm.Tag{Key: k, Value: v})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}
