package graph

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	osmparser "astar_router/pkg/osm"
)

// minEdgeMeters keeps every edge weight strictly positive.
const minEdgeMeters = 0.001

// Node is a road graph vertex.
type Node struct {
	ID    osm.NodeID
	Index uint32 // dense position in Graph.Nodes, used to key per-search state
	Lat   float64
	Lng   float64

	// Edges maps a neighbor node ID to the edge leading to it.
	Edges map[osm.NodeID]*Edge
	out   []*Edge // same edges as Edges, in insertion order
}

// Point returns the node position in orb (lon, lat) order.
func (n *Node) Point() orb.Point {
	return orb.Point{n.Lng, n.Lat}
}

// Outgoing returns the node's outgoing edges in a stable order.
func (n *Node) Outgoing() []*Edge {
	return n.out
}

// Edge is a directed road segment between two nodes.
type Edge struct {
	ID       uint32
	From     osm.NodeID
	To       osm.NodeID
	WayID    osm.WayID
	Distance float64 // meters, always > 0
	RoadType osmparser.RoadType
	Name     string
	Geometry orb.LineString
}

// TravelTime is the time to drive the edge at its road class speed.
func (e *Edge) TravelTime() time.Duration {
	secs := e.Distance / e.RoadType.SpeedMps()
	return time.Duration(secs * float64(time.Second))
}

// Graph holds every node and edge of one bounding-box fetch.
type Graph struct {
	BBox  orb.Bound
	Nodes []*Node // indexed by Node.Index
	Edges []*Edge // indexed by Edge.ID

	byID map[osm.NodeID]*Node
}

func newGraph(bbox orb.Bound) *Graph {
	return &Graph{
		BBox: bbox,
		byID: make(map[osm.NodeID]*Node),
	}
}

// NumNodes returns the node count.
func (g *Graph) NumNodes() int { return len(g.Nodes) }

// NumEdges returns the directed edge count.
func (g *Graph) NumEdges() int { return len(g.Edges) }

// Node looks up a node by OSM ID.
func (g *Graph) Node(id osm.NodeID) (*Node, bool) {
	n, ok := g.byID[id]
	return n, ok
}

// EdgeBetween returns the directed edge from -> to.
func (g *Graph) EdgeBetween(from, to osm.NodeID) (*Edge, bool) {
	n, ok := g.byID[from]
	if !ok {
		return nil, false
	}
	e, ok := n.Edges[to]
	return e, ok
}

// addNode returns the node with the given ID, creating it on first use.
func (g *Graph) addNode(id osm.NodeID, lat, lng float64) *Node {
	if n, ok := g.byID[id]; ok {
		return n
	}
	n := &Node{
		ID:    id,
		Index: uint32(len(g.Nodes)),
		Lat:   lat,
		Lng:   lng,
		Edges: make(map[osm.NodeID]*Edge),
	}
	g.Nodes = append(g.Nodes, n)
	g.byID[id] = n
	return n
}

// addEdge links from -> to. A second way over the same node pair only
// replaces the edge when it is shorter.
func (g *Graph) addEdge(from, to *Node, dist float64, way edgeAttrs, geom orb.LineString) {
	if dist < minEdgeMeters {
		dist = minEdgeMeters
	}
	if existing, ok := from.Edges[to.ID]; ok {
		if dist < existing.Distance {
			existing.Distance = dist
			existing.WayID = way.wayID
			existing.RoadType = way.roadType
			existing.Name = way.name
			existing.Geometry = geom
		}
		return
	}
	e := &Edge{
		ID:       uint32(len(g.Edges)),
		From:     from.ID,
		To:       to.ID,
		WayID:    way.wayID,
		Distance: dist,
		RoadType: way.roadType,
		Name:     way.name,
		Geometry: geom,
	}
	g.Edges = append(g.Edges, e)
	from.Edges[to.ID] = e
	from.out = append(from.out, e)
}

type edgeAttrs struct {
	wayID    osm.WayID
	roadType osmparser.RoadType
	name     string
}
