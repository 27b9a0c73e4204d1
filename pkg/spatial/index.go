// Package spatial provides nearest-node lookup over a built road graph.
package spatial

import (
	"math"

	"github.com/tidwall/rtree"

	"astar_router/pkg/geo"
	"astar_router/pkg/graph"
)

// Index is an R-tree over node coordinates. It is built once per graph and
// must be rebuilt together with it.
type Index struct {
	tr rtree.RTreeG[*graph.Node]
}

// New indexes every node of g. Points are stored as degenerate boxes in
// (lng, lat) order.
func New(g *graph.Graph) *Index {
	idx := &Index{}
	for _, n := range g.Nodes {
		p := [2]float64{n.Lng, n.Lat}
		idx.tr.Insert(p, p, n)
	}
	return idx
}

// Len returns the number of indexed nodes.
func (idx *Index) Len() int { return idx.tr.Len() }

// Nearest returns the node closest to (lat, lng) if one lies within
// maxRadius meters. Candidates come from a degree box around the query;
// the winner is chosen by exact haversine distance, ties by lower index.
func (idx *Index) Nearest(lat, lng, maxRadius float64) (*graph.Node, bool) {
	if maxRadius < 0 || math.IsNaN(maxRadius) {
		return nil, false
	}
	dLat, dLng := geo.DegreesDelta(lat, maxRadius)
	lo := [2]float64{lng - dLng, lat - dLat}
	hi := [2]float64{lng + dLng, lat + dLat}

	var best *graph.Node
	bestDist := math.Inf(1)

	idx.tr.Search(lo, hi, func(_, _ [2]float64, n *graph.Node) bool {
		d := geo.Haversine(lat, lng, n.Lat, n.Lng)
		if d < bestDist || (d == bestDist && best != nil && n.Index < best.Index) {
			best = n
			bestDist = d
		}
		return true
	})

	if best == nil || bestDist > maxRadius {
		return nil, false
	}
	return best, true
}
