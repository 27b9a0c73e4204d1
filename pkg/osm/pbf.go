package osm

import (
	"context"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"go.uber.org/zap"
)

// ParseOptions configures ParsePBF.
type ParseOptions struct {
	BBox   orb.Bound // if non-zero, points outside the box are dropped
	Logger *zap.Logger
}

// ParsePBF reads an OSM PBF extract into a FeatureCollection. The reader is
// consumed twice (seeks back to start for the second pass), so it must
// implement io.ReadSeeker.
func ParsePBF(ctx context.Context, rs io.ReadSeeker, opts ...ParseOptions) (*FeatureCollection, error) {
	var opt ParseOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	useBBox := !opt.BBox.IsZero()

	fc := &FeatureCollection{
		BBox:  opt.BBox,
		Nodes: make(map[osm.NodeID]*osm.Node),
	}

	// Pass 1: Scan ways to collect referenced node IDs and way info.
	referencedNodes := make(map[osm.NodeID]struct{})

	scanner := osmpbf.New(ctx, rs, 1)
	scanner.SkipNodes = true
	scanner.SkipRelations = true

	for scanner.Scan() {
		w, ok := scanner.Object().(*osm.Way)
		if !ok {
			continue
		}
		if w.Tags.Find("highway") == "" {
			continue
		}

		way, ok := wayFromOSM(w)
		if !ok {
			fc.Dropped.Ways++
			continue
		}
		for _, id := range way.NodeIDs {
			referencedNodes[id] = struct{}{}
		}
		fc.Ways = append(fc.Ways, way)
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, &FormatError{Reason: "pass 1 (ways)", Err: err}
	}
	scanner.Close()

	logger.Info("pbf pass 1 complete", zap.Int("ways", len(fc.Ways)), zap.Int("referenced_nodes", len(referencedNodes)))

	// Pass 2: Scan nodes to collect coordinates for referenced nodes only.
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek for pass 2: %w", err)
	}

	scanner = osmpbf.New(ctx, rs, 1)
	scanner.SkipWays = true
	scanner.SkipRelations = true

	for scanner.Scan() {
		n, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		if _, needed := referencedNodes[n.ID]; !needed {
			continue
		}
		if useBBox && !opt.BBox.Contains(orb.Point{n.Lon, n.Lat}) {
			fc.Dropped.Points++
			continue
		}
		fc.Nodes[n.ID] = &osm.Node{ID: n.ID, Lat: n.Lat, Lon: n.Lon}
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return nil, &FormatError{Reason: "pass 2 (nodes)", Err: err}
	}
	scanner.Close()

	logger.Info("pbf pass 2 complete", zap.Int("points", len(fc.Nodes)), zap.Int("outside_bbox", fc.Dropped.Points))

	return fc, nil
}

// wayFromOSM validates a decoded OSM way the same way Decode does for JSON.
func wayFromOSM(w *osm.Way) (Way, bool) {
	if len(w.Nodes) < 2 || !isUsable(w.Tags) {
		return Way{}, false
	}
	fwd, bwd := directionFlags(w.Tags)
	if !fwd && !bwd {
		return Way{}, false
	}
	return Way{
		ID:       w.ID,
		NodeIDs:  w.Nodes.NodeIDs(),
		RoadType: ParseRoadType(w.Tags.Find("highway")),
		Name:     w.Tags.Find("name"),
		Forward:  fwd,
		Backward: bwd,
	}, true
}
