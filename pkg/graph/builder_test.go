package graph

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astar_router/pkg/geo"
	osmparser "astar_router/pkg/osm"
)

func points(coords map[osm.NodeID][2]float64) map[osm.NodeID]*osm.Node {
	nodes := make(map[osm.NodeID]*osm.Node, len(coords))
	for id, c := range coords {
		nodes[id] = &osm.Node{ID: id, Lat: c[0], Lon: c[1]}
	}
	return nodes
}

func twoWay(id osm.WayID, rt osmparser.RoadType, ids ...osm.NodeID) osmparser.Way {
	return osmparser.Way{ID: id, NodeIDs: ids, RoadType: rt, Forward: true, Backward: true}
}

func TestBuildTwoWay(t *testing.T) {
	fc := &osmparser.FeatureCollection{
		Nodes: points(map[osm.NodeID][2]float64{100: {1.0, 103.0}, 200: {1.1, 103.0}, 300: {1.1, 103.1}}),
		Ways:  []osmparser.Way{twoWay(1, osmparser.RoadPrimary, 100, 200, 300)},
	}

	g, err := Build(fc)
	require.NoError(t, err)

	assert.Equal(t, 3, g.NumNodes())
	assert.Equal(t, 4, g.NumEdges())

	fwd, ok := g.EdgeBetween(100, 200)
	require.True(t, ok)
	rev, ok := g.EdgeBetween(200, 100)
	require.True(t, ok)
	assert.Equal(t, fwd.Distance, rev.Distance)
	assert.InDelta(t, geo.Haversine(1.0, 103.0, 1.1, 103.0), fwd.Distance, 1e-9)
	assert.Equal(t, osmparser.RoadPrimary, fwd.RoadType)
	assert.Equal(t, fwd.Geometry[0], rev.Geometry[1])
}

func TestBuildOneWay(t *testing.T) {
	fc := &osmparser.FeatureCollection{
		Nodes: points(map[osm.NodeID][2]float64{1: {1.0, 103.0}, 2: {1.1, 103.0}}),
		Ways: []osmparser.Way{
			{ID: 1, NodeIDs: []osm.NodeID{1, 2}, RoadType: osmparser.RoadMotorway, Forward: true},
		},
	}

	g, err := Build(fc)
	require.NoError(t, err)

	assert.Equal(t, 1, g.NumEdges())
	_, ok := g.EdgeBetween(1, 2)
	assert.True(t, ok)
	_, ok = g.EdgeBetween(2, 1)
	assert.False(t, ok)
}

func TestBuildDropsSegmentWithMissingPoint(t *testing.T) {
	fc := &osmparser.FeatureCollection{
		Nodes: points(map[osm.NodeID][2]float64{1: {1.0, 103.0}, 2: {1.1, 103.0}, 3: {1.2, 103.0}}),
		Ways: []osmparser.Way{
			twoWay(1, osmparser.RoadResidential, 1, 2),
			twoWay(2, osmparser.RoadResidential, 2, 99, 3),
		},
	}

	g, err := Build(fc)
	require.NoError(t, err)

	assert.Equal(t, 2, g.NumNodes())
	assert.Equal(t, 2, g.NumEdges())
	_, ok := g.Node(3)
	assert.False(t, ok, "node 3 is only reachable through the missing point")
}

func TestBuildEmpty(t *testing.T) {
	tests := []struct {
		name string
		fc   *osmparser.FeatureCollection
	}{
		{
			name: "no features",
			fc:   &osmparser.FeatureCollection{Nodes: map[osm.NodeID]*osm.Node{}},
		},
		{
			name: "points only",
			fc: &osmparser.FeatureCollection{
				Nodes: points(map[osm.NodeID][2]float64{1: {1.0, 103.0}}),
			},
		},
		{
			name: "every way references a missing point",
			fc: &osmparser.FeatureCollection{
				Nodes: points(map[osm.NodeID][2]float64{1: {1.0, 103.0}}),
				Ways:  []osmparser.Way{twoWay(1, osmparser.RoadPrimary, 1, 2)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Build(tt.fc)
			assert.Nil(t, g)
			assert.True(t, errors.Is(err, ErrGraphEmpty), "got %v", err)
		})
	}
}

func TestBuildParallelWaysKeepShorter(t *testing.T) {
	fc := &osmparser.FeatureCollection{
		Nodes: points(map[osm.NodeID][2]float64{1: {1.0, 103.0}, 2: {1.1, 103.0}}),
		Ways: []osmparser.Way{
			twoWay(1, osmparser.RoadService, 1, 2),
			twoWay(2, osmparser.RoadPrimary, 1, 2),
		},
	}

	g, err := Build(fc)
	require.NoError(t, err)

	// Same node pair, same distance: the first way wins.
	assert.Equal(t, 2, g.NumEdges())
	e, _ := g.EdgeBetween(1, 2)
	assert.Equal(t, osm.WayID(1), e.WayID)
}

func TestBuildEdgeInvariants(t *testing.T) {
	g := buildSquare(t)

	for i, n := range g.Nodes {
		assert.Equal(t, uint32(i), n.Index)
		assert.Len(t, n.Outgoing(), len(n.Edges))
	}
	for i, e := range g.Edges {
		assert.Equal(t, uint32(i), e.ID)
		assert.Greater(t, e.Distance, 0.0)
		_, ok := g.Node(e.From)
		assert.True(t, ok, "edge %d source missing", e.ID)
		_, ok = g.Node(e.To)
		assert.True(t, ok, "edge %d target missing", e.ID)
	}
}

func TestEdgeTravelTime(t *testing.T) {
	e := &Edge{Distance: 1000, RoadType: osmparser.RoadSecondary} // 50 km/h
	got := e.TravelTime().Seconds()
	if math.Abs(got-72) > 1e-6 {
		t.Errorf("TravelTime = %fs, want 72s", got)
	}
}

// buildSquare builds A(0,0) B(0,1) C(1,0) D(1,1) with A-B, A-C, B-D, C-D.
func buildSquare(t *testing.T) *Graph {
	t.Helper()
	fc := &osmparser.FeatureCollection{
		Nodes: points(map[osm.NodeID][2]float64{1: {0, 0}, 2: {0, 1}, 3: {1, 0}, 4: {1, 1}}),
		Ways: []osmparser.Way{
			twoWay(1, osmparser.RoadResidential, 1, 2),
			twoWay(2, osmparser.RoadResidential, 1, 3),
			twoWay(3, osmparser.RoadResidential, 2, 4),
			twoWay(4, osmparser.RoadResidential, 3, 4),
		},
	}
	g, err := Build(fc)
	require.NoError(t, err)
	return g
}

func TestBuildBBoxFromNodes(t *testing.T) {
	g := buildSquare(t)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}, g.BBox)

	fc := &osmparser.FeatureCollection{
		BBox:  orb.Bound{Min: orb.Point{102, -1}, Max: orb.Point{104, 2}},
		Nodes: points(map[osm.NodeID][2]float64{1: {0, 0}, 2: {0, 1}}),
		Ways:  []osmparser.Way{twoWay(1, osmparser.RoadService, 1, 2)},
	}
	g2, err := Build(fc)
	require.NoError(t, err)
	assert.Equal(t, fc.BBox, g2.BBox, "a fetched bbox is kept as is")
}
