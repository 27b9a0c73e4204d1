package routing

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astar_router/pkg/geo"
	"astar_router/pkg/graph"
	osmparser "astar_router/pkg/osm"
)

const gridStep = 0.001 // roughly 111m

func gridID(n, r, c int) osm.NodeID { return osm.NodeID(r*n + c + 1) }

// gridFeatures lays out an n x n lattice of two-way residential streets.
// skip lists undirected segments to leave out.
func gridFeatures(n int, skip map[[2]osm.NodeID]bool) *osmparser.FeatureCollection {
	fc := &osmparser.FeatureCollection{Nodes: make(map[osm.NodeID]*osm.Node)}
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			id := gridID(n, r, c)
			fc.Nodes[id] = &osm.Node{ID: id, Lat: 1.3 + float64(r)*gridStep, Lon: 103.8 + float64(c)*gridStep}
		}
	}

	wayID := osm.WayID(1)
	add := func(a, b osm.NodeID) {
		if skip[[2]osm.NodeID{a, b}] || skip[[2]osm.NodeID{b, a}] {
			return
		}
		fc.Ways = append(fc.Ways, osmparser.Way{
			ID: wayID, NodeIDs: []osm.NodeID{a, b}, RoadType: osmparser.RoadResidential,
			Forward: true, Backward: true,
		})
		wayID++
	}
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			if c+1 < n {
				add(gridID(n, r, c), gridID(n, r, c+1))
			}
			if r+1 < n {
				add(gridID(n, r, c), gridID(n, r+1, c))
			}
		}
	}
	return fc
}

func buildGraph(t *testing.T, fc *osmparser.FeatureCollection) *graph.Graph {
	t.Helper()
	g, err := graph.Build(fc)
	require.NoError(t, err)
	return g
}

func mustNode(t *testing.T, g *graph.Graph, id osm.NodeID) *graph.Node {
	t.Helper()
	n, ok := g.Node(id)
	require.True(t, ok, "node %d", id)
	return n
}

// allPairs returns Floyd-Warshall shortest distances indexed by node index.
func allPairs(g *graph.Graph) [][]float64 {
	n := g.NumNodes()
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
		for j := range d[i] {
			if i != j {
				d[i][j] = math.Inf(1)
			}
		}
	}
	for _, e := range g.Edges {
		from, _ := g.Node(e.From)
		to, _ := g.Node(e.To)
		d[from.Index][to.Index] = math.Min(d[from.Index][to.Index], e.Distance)
	}
	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if d[i][k]+d[k][j] < d[i][j] {
					d[i][j] = d[i][k] + d[k][j]
				}
			}
		}
	}
	return d
}

// squareFeatures is A(0,0) B(0,1) C(1,0) D(1,1) joined A-B, A-C, B-D, C-D.
func squareFeatures() *osmparser.FeatureCollection {
	pt := func(id osm.NodeID, lat, lon float64) *osm.Node { return &osm.Node{ID: id, Lat: lat, Lon: lon} }
	way := func(id osm.WayID, a, b osm.NodeID) osmparser.Way {
		return osmparser.Way{ID: id, NodeIDs: []osm.NodeID{a, b}, RoadType: osmparser.RoadPrimary, Name: "Side", Forward: true, Backward: true}
	}
	return &osmparser.FeatureCollection{
		Nodes: map[osm.NodeID]*osm.Node{1: pt(1, 0, 0), 2: pt(2, 0, 1), 3: pt(3, 1, 0), 4: pt(4, 1, 1)},
		Ways:  []osmparser.Way{way(1, 1, 2), way(2, 1, 3), way(3, 2, 4), way(4, 3, 4)},
	}
}

func TestSquareRoute(t *testing.T) {
	g := buildGraph(t, squareFeatures())
	s := NewSearch(g, mustNode(t, g, 1), mustNode(t, g, 4))

	res, err := Run(context.Background(), s, RunOptions{})
	require.NoError(t, err)
	require.True(t, res.Found)

	// The northern edge C-D is shorter than the equatorial A-B.
	assert.Equal(t, []osm.NodeID{1, 3, 4}, res.Nodes)
	require.Len(t, res.Segments, 2)
	want := geo.Haversine(0, 0, 1, 0) + geo.Haversine(1, 0, 1, 1)
	assert.InDelta(t, want, res.TotalDistance, 1e-6)
	assert.Equal(t, "Side", res.Segments[0].Name)
	assert.Equal(t, osmparser.RoadPrimary, res.Segments[1].RoadType)
	assert.LessOrEqual(t, res.NodesExplored, 4)
}

func TestTotalsEqualSumOfSegments(t *testing.T) {
	g := buildGraph(t, gridFeatures(6, nil))
	s := NewSearch(g, mustNode(t, g, gridID(6, 0, 0)), mustNode(t, g, gridID(6, 5, 4)))

	res, err := Run(context.Background(), s, RunOptions{})
	require.NoError(t, err)
	require.True(t, res.Found)

	var dist float64
	var tt time.Duration
	for i, seg := range res.Segments {
		assert.Equal(t, res.Nodes[i], seg.From)
		assert.Equal(t, res.Nodes[i+1], seg.To)
		assert.Greater(t, seg.Distance, 0.0)
		dist += seg.Distance
		tt += seg.Time
	}
	assert.Len(t, res.Segments, len(res.Nodes)-1)
	assert.InDelta(t, dist, res.TotalDistance, 1e-9)
	assert.Equal(t, tt, res.TotalTime)
}

func TestAStarIsOptimalAndAdmissible(t *testing.T) {
	skip := map[[2]osm.NodeID]bool{
		{gridID(5, 1, 1), gridID(5, 1, 2)}: true,
		{gridID(5, 2, 1), gridID(5, 2, 2)}: true,
		{gridID(5, 3, 1), gridID(5, 3, 2)}: true,
		{gridID(5, 1, 2), gridID(5, 2, 2)}: true,
	}
	g := buildGraph(t, gridFeatures(5, skip))
	d := allPairs(g)

	tests := []struct {
		name       string
		start, end osm.NodeID
	}{
		{"corner to corner", gridID(5, 0, 0), gridID(5, 4, 4)},
		{"around the wall", gridID(5, 2, 1), gridID(5, 2, 2)},
		{"same row", gridID(5, 3, 0), gridID(5, 3, 4)},
		{"reverse", gridID(5, 4, 4), gridID(5, 0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, goal := mustNode(t, g, tt.start), mustNode(t, g, tt.end)

			for _, n := range g.Nodes {
				h := geo.Haversine(n.Lat, n.Lng, goal.Lat, goal.Lng)
				assert.LessOrEqual(t, h, d[n.Index][goal.Index]+1e-9, "h overestimates at %d", n.ID)
			}

			progress := func(_ context.Context, ev StepEvent) error {
				cur := mustNode(t, g, ev.Current)
				assert.LessOrEqual(t, ev.Scores.H, d[cur.Index][goal.Index]+1e-9)
				assert.InDelta(t, ev.Scores.G+ev.Scores.H, ev.Scores.F, 1e-9)
				return nil
			}
			res, err := Run(context.Background(), NewSearch(g, start, goal), RunOptions{Progress: progress})
			require.NoError(t, err)
			require.True(t, res.Found)
			assert.InDelta(t, d[start.Index][goal.Index], res.TotalDistance, 1e-6)
			assert.Equal(t, tt.start, res.Nodes[0])
			assert.Equal(t, tt.end, res.Nodes[len(res.Nodes)-1])
		})
	}
}

func TestDeterministic(t *testing.T) {
	g := buildGraph(t, gridFeatures(6, nil))
	start, goal := mustNode(t, g, gridID(6, 0, 0)), mustNode(t, g, gridID(6, 5, 5))

	run := func() ([]StepEvent, *PathResult) {
		var events []StepEvent
		res, err := Run(context.Background(), NewSearch(g, start, goal), RunOptions{
			Progress: func(_ context.Context, ev StepEvent) error {
				events = append(events, ev)
				return nil
			},
		})
		require.NoError(t, err)
		return events, res
	}

	ev1, res1 := run()
	ev2, res2 := run()
	assert.Equal(t, res1, res2)
	assert.Equal(t, ev1, ev2)
	assert.True(t, ev1[len(ev1)-1].Done)
}

func TestNoPath(t *testing.T) {
	fc := &osmparser.FeatureCollection{
		Nodes: map[osm.NodeID]*osm.Node{
			1: {ID: 1, Lat: 1.300, Lon: 103.800},
			2: {ID: 2, Lat: 1.301, Lon: 103.800},
			3: {ID: 3, Lat: 1.302, Lon: 103.800},
		},
		Ways: []osmparser.Way{
			{ID: 1, NodeIDs: []osm.NodeID{1, 2, 3}, RoadType: osmparser.RoadTrunk, Forward: true},
		},
	}
	g := buildGraph(t, fc)

	s := NewSearch(g, mustNode(t, g, 3), mustNode(t, g, 1))
	var last StepEvent
	res, err := Run(context.Background(), s, RunOptions{
		Progress: func(_ context.Context, ev StepEvent) error { last = ev; return nil },
	})
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Empty(t, res.Nodes)
	assert.Zero(t, res.TotalDistance)
	assert.Equal(t, 1, res.NodesExplored)
	assert.True(t, last.Done)
	assert.False(t, last.Found)
}

func TestStartIsGoal(t *testing.T) {
	g := buildGraph(t, squareFeatures())
	n := mustNode(t, g, 2)

	res, err := Run(context.Background(), NewSearch(g, n, n), RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, []osm.NodeID{2}, res.Nodes)
	assert.Empty(t, res.Segments)
	assert.Equal(t, 1, res.NodesExplored)
}

func TestStepSnapshots(t *testing.T) {
	g := buildGraph(t, squareFeatures())
	s := NewSearch(g, mustNode(t, g, 1), mustNode(t, g, 4))

	ev := s.Event()
	assert.Equal(t, []osm.NodeID{1}, ev.Open)
	assert.Empty(t, ev.Closed)

	require.True(t, s.Step())
	ev = s.Event()
	assert.Equal(t, osm.NodeID(1), ev.Current)
	assert.Equal(t, 1, ev.NodesExplored)
	assert.Equal(t, []osm.NodeID{1}, ev.Closed)
	assert.Equal(t, []osm.NodeID{2, 3}, ev.Open)
	assert.Zero(t, ev.Scores.G)
	assert.False(t, ev.Done)

	for !s.Done() {
		s.Step()
	}
	assert.False(t, s.Step(), "finished search must not advance")
	final := s.Event()
	assert.True(t, final.Found)
	assert.Contains(t, final.Closed, osm.NodeID(4))
	assert.NotContains(t, final.Open, osm.NodeID(4))
	assert.Len(t, final.Closed, final.NodesExplored)
}

func TestRunEmitEvery(t *testing.T) {
	g := buildGraph(t, gridFeatures(6, nil))
	start, goal := mustNode(t, g, gridID(6, 0, 0)), mustNode(t, g, gridID(6, 5, 5))

	calls := 0
	res, err := Run(context.Background(), NewSearch(g, start, goal), RunOptions{
		Pacing:   Pacing{EmitEvery: 3},
		Progress: func(_ context.Context, ev StepEvent) error { calls++; return nil },
	})
	require.NoError(t, err)
	// One call per three non-final expansions, plus the final snapshot.
	assert.Equal(t, (res.NodesExplored-1)/3+1, calls)
}

func TestRunProgressErrorAborts(t *testing.T) {
	g := buildGraph(t, gridFeatures(4, nil))
	boom := errors.New("consumer gone")

	_, err := Run(context.Background(), NewSearch(g, mustNode(t, g, 1), mustNode(t, g, 16)), RunOptions{
		Progress: func(context.Context, StepEvent) error { return boom },
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrCancelled)
}

func TestPacingForSpeed(t *testing.T) {
	tests := []struct {
		speed int
		want  time.Duration
	}{
		{1, 500 * time.Millisecond},
		{5, 300 * time.Millisecond},
		{10, 50 * time.Millisecond},
		{0, 500 * time.Millisecond},
		{-3, 500 * time.Millisecond},
		{42, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		p := PacingForSpeed(tt.speed)
		assert.Equal(t, tt.want, p.Delay, "speed %d", tt.speed)
		assert.Equal(t, 1, p.EmitEvery)
	}
}
