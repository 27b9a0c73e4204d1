package graph

import (
	"errors"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"astar_router/pkg/geo"
	osmparser "astar_router/pkg/osm"
)

// ErrGraphEmpty is returned when a build yields no nodes or no edges.
var ErrGraphEmpty = errors.New("graph is empty")

// BuildOptions configures Build.
type BuildOptions struct {
	LargestComponentOnly bool // drop nodes outside the largest weakly connected component
	Logger               *zap.Logger
}

// Build creates a Graph from a decoded feature collection. The returned
// graph is either complete or nil; no partial graph escapes on error.
func Build(fc *osmparser.FeatureCollection, opts ...BuildOptions) (*Graph, error) {
	var opt BuildOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	g := newGraph(fc.BBox)
	var skippedSegments int

	for _, w := range fc.Ways {
		attrs := edgeAttrs{wayID: w.ID, roadType: w.RoadType, name: w.Name}

		for i := 0; i < len(w.NodeIDs)-1; i++ {
			fromPt, fromOK := fc.Nodes[w.NodeIDs[i]]
			toPt, toOK := fc.Nodes[w.NodeIDs[i+1]]
			if !fromOK || !toOK || w.NodeIDs[i] == w.NodeIDs[i+1] {
				skippedSegments++
				continue
			}

			from := g.addNode(fromPt.ID, fromPt.Lat, fromPt.Lon)
			to := g.addNode(toPt.ID, toPt.Lat, toPt.Lon)
			dist := geo.Haversine(from.Lat, from.Lng, to.Lat, to.Lng)

			if w.Forward {
				g.addEdge(from, to, dist, attrs, orb.LineString{from.Point(), to.Point()})
			}
			if w.Backward {
				g.addEdge(to, from, dist, attrs, orb.LineString{to.Point(), from.Point()})
			}
		}
	}

	if skippedSegments > 0 {
		logger.Warn("skipped segments referencing missing points", zap.Int("segments", skippedSegments))
	}

	if g.NumNodes() == 0 || g.NumEdges() == 0 {
		return nil, ErrGraphEmpty
	}

	if g.BBox.IsZero() {
		g.BBox = nodeBound(g.Nodes)
	}

	if opt.LargestComponentOnly {
		before := g.NumNodes()
		logger.Debug("weakly connected components", zap.Int("count", Components(g)))
		g = FilterToComponent(g, LargestComponent(g))
		logger.Info("kept largest component",
			zap.Int("nodes", g.NumNodes()),
			zap.Int("dropped_nodes", before-g.NumNodes()))
	}

	logger.Info("built graph", zap.Int("nodes", g.NumNodes()), zap.Int("edges", g.NumEdges()))
	return g, nil
}

// nodeBound is the smallest bound covering every node.
func nodeBound(nodes []*Node) orb.Bound {
	b := orb.Bound{Min: nodes[0].Point(), Max: nodes[0].Point()}
	for _, n := range nodes[1:] {
		b = b.Extend(n.Point())
	}
	return b
}
