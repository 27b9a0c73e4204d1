package routing

import (
	"math"
	"slices"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"astar_router/pkg/geo"
	"astar_router/pkg/graph"
	osmparser "astar_router/pkg/osm"
)

// nodeMark is the per-run lifecycle of a node: unseen -> open -> closed.
type nodeMark uint8

const (
	unseen nodeMark = iota
	open
	closed
)

const noParent = -1

// nodeState is the per-run scratch data for one graph node. It lives in an
// arena owned by the Search, never on the graph, so runs cannot leak into
// each other and several runs may share one graph.
type nodeState struct {
	g, h, f float64
	parent  int64
	mark    nodeMark
}

// Scores are the A* costs of a node, in meters.
type Scores struct {
	G float64
	H float64
	F float64
}

// StepEvent is a progress snapshot taken after an expansion.
type StepEvent struct {
	Current       osm.NodeID
	Open          []osm.NodeID
	Closed        []osm.NodeID
	NodesExplored int
	Scores        Scores
	Done          bool
	Found         bool
}

// Segment is one traversed edge of a route.
type Segment struct {
	From     osm.NodeID
	To       osm.NodeID
	Name     string
	RoadType osmparser.RoadType
	Points   orb.LineString
	Distance float64 // meters
	Time     time.Duration
}

// PathResult is the outcome of a search. Found is false when the goal is
// unreachable, which is a valid answer rather than an error.
type PathResult struct {
	Found         bool
	Nodes         []osm.NodeID
	Segments      []Segment
	TotalDistance float64 // meters
	TotalTime     time.Duration
	NodesExplored int
}

// Search is one A* run over a graph. Step advances it one expansion at a
// time; the graph is only read.
type Search struct {
	g        *graph.Graph
	start    *graph.Node
	goal     *graph.Node
	states   []nodeState
	queue    *PriorityQueue[uint32]
	closed   []uint32
	current  int64
	explored int
	done     bool
	found    bool
}

// NewSearch prepares a run from start to goal. Every node starts unseen with
// g = f = +Inf.
func NewSearch(g *graph.Graph, start, goal *graph.Node) *Search {
	states := make([]nodeState, len(g.Nodes))
	for i := range states {
		states[i] = nodeState{g: math.Inf(1), f: math.Inf(1), parent: noParent}
	}

	s := &Search{
		g:       g,
		start:   start,
		goal:    goal,
		states:  states,
		queue:   NewPriorityQueue[uint32](),
		current: noParent,
	}

	st := &s.states[start.Index]
	st.g = 0
	st.h = s.heuristic(start)
	st.f = st.h
	st.mark = open
	s.queue.Push(start.Index, st.f)

	return s
}

func (s *Search) heuristic(n *graph.Node) float64 {
	return geo.Haversine(n.Lat, n.Lng, s.goal.Lat, s.goal.Lng)
}

// Done reports whether the search has finished.
func (s *Search) Done() bool { return s.done }

// NodesExplored returns the number of distinct nodes taken off the queue.
func (s *Search) NodesExplored() int { return s.explored }

// Step expands the next node. It returns false when nothing was expanded
// because the queue ran dry.
func (s *Search) Step() bool {
	if s.done {
		return false
	}

	for !s.queue.Empty() {
		idx, _ := s.queue.Pop()
		cur := &s.states[idx]
		if cur.mark == closed {
			// Stale entry left behind by a later improvement.
			continue
		}

		s.explored++
		s.current = int64(idx)

		cur.mark = closed
		s.closed = append(s.closed, idx)
		if idx == s.goal.Index {
			s.done = true
			s.found = true
			return true
		}

		node := s.g.Nodes[idx]

		for _, e := range node.Outgoing() {
			nb, ok := s.g.Node(e.To)
			if !ok {
				continue
			}
			ns := &s.states[nb.Index]
			if ns.mark == closed {
				continue
			}

			tentative := cur.g + e.Distance
			if tentative < ns.g {
				ns.parent = int64(idx)
				ns.g = tentative
				ns.h = s.heuristic(nb)
				ns.f = ns.g + ns.h
				ns.mark = open
				s.queue.Push(nb.Index, ns.f)
			}
		}
		return true
	}

	s.done = true
	return false
}

// Event snapshots the open and closed sets, in node index order.
func (s *Search) Event() StepEvent {
	ev := StepEvent{
		NodesExplored: s.explored,
		Done:          s.done,
		Found:         s.found,
	}

	var frontier []uint32
	for _, idx := range s.queue.Items() {
		// Closed nodes may still have stale entries queued.
		if s.states[idx].mark != closed {
			frontier = append(frontier, idx)
		}
	}
	ev.Open = s.nodeIDs(frontier)
	ev.Closed = s.nodeIDs(slices.Clone(s.closed))

	if s.current != noParent {
		st := s.states[s.current]
		ev.Current = s.g.Nodes[s.current].ID
		ev.Scores = Scores{G: st.g, H: st.h, F: st.f}
	}
	return ev
}

// nodeIDs sorts indices in place and maps them to OSM ids.
func (s *Search) nodeIDs(indices []uint32) []osm.NodeID {
	if len(indices) == 0 {
		return nil
	}
	slices.Sort(indices)
	ids := make([]osm.NodeID, len(indices))
	for i, idx := range indices {
		ids[i] = s.g.Nodes[idx].ID
	}
	return ids
}

// Result returns the path once the search is done. An unfinished or failed
// search yields a result with Found false.
func (s *Search) Result() *PathResult {
	res := &PathResult{NodesExplored: s.explored}
	if !s.found {
		return res
	}

	var rev []*graph.Node
	for idx := int64(s.goal.Index); idx != noParent; idx = s.states[idx].parent {
		rev = append(rev, s.g.Nodes[idx])
	}

	res.Found = true
	res.Nodes = make([]osm.NodeID, len(rev))
	for i, n := range rev {
		res.Nodes[len(rev)-1-i] = n.ID
	}

	for i := 0; i < len(res.Nodes)-1; i++ {
		e, ok := s.g.EdgeBetween(res.Nodes[i], res.Nodes[i+1])
		if !ok {
			continue
		}
		seg := Segment{
			From:     e.From,
			To:       e.To,
			Name:     e.Name,
			RoadType: e.RoadType,
			Points:   e.Geometry,
			Distance: e.Distance,
			Time:     e.TravelTime(),
		}
		res.Segments = append(res.Segments, seg)
		res.TotalDistance += seg.Distance
		res.TotalTime += seg.Time
	}

	return res
}
