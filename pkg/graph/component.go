package graph

// UnionFind implements a disjoint-set data structure with path compression
// and union by rank.
type UnionFind struct {
	parent []uint32
	rank   []byte
	size   []uint32
}

// NewUnionFind creates a UnionFind for n elements.
func NewUnionFind(n uint32) *UnionFind {
	parent := make([]uint32, n)
	size := make([]uint32, n)
	for i := range n {
		parent[i] = i
		size[i] = 1
	}
	return &UnionFind{
		parent: parent,
		rank:   make([]byte, n),
		size:   size,
	}
}

// Find returns the representative of the set containing x, with path halving.
func (uf *UnionFind) Find(x uint32) uint32 {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

// Union merges the sets containing x and y. Returns false if already same set.
func (uf *UnionFind) Union(x, y uint32) bool {
	rx := uf.Find(x)
	ry := uf.Find(y)
	if rx == ry {
		return false
	}

	if uf.rank[rx] < uf.rank[ry] {
		rx, ry = ry, rx
	}
	uf.parent[ry] = rx
	uf.size[rx] += uf.size[ry]
	if uf.rank[rx] == uf.rank[ry] {
		uf.rank[rx]++
	}
	return true
}

// Components returns the number of weakly connected components.
func Components(g *Graph) int {
	uf := unionEdges(g)
	count := 0
	for i := range uint32(len(g.Nodes)) {
		if uf.Find(i) == i {
			count++
		}
	}
	return count
}

// LargestComponent returns the node indices belonging to the largest
// weakly connected component (treating the directed graph as undirected).
// Ties go to the component containing the lowest node index.
func LargestComponent(g *Graph) []uint32 {
	if len(g.Nodes) == 0 {
		return nil
	}

	uf := unionEdges(g)
	n := uint32(len(g.Nodes))

	bestRoot := uf.Find(0)
	bestSize := uf.size[bestRoot]
	for i := uint32(1); i < n; i++ {
		root := uf.Find(i)
		if uf.size[root] > bestSize {
			bestRoot = root
			bestSize = uf.size[root]
		}
	}

	nodes := make([]uint32, 0, bestSize)
	for i := uint32(0); i < n; i++ {
		if uf.Find(i) == bestRoot {
			nodes = append(nodes, i)
		}
	}
	return nodes
}

func unionEdges(g *Graph) *UnionFind {
	uf := NewUnionFind(uint32(len(g.Nodes)))
	for _, e := range g.Edges {
		uf.Union(g.byID[e.From].Index, g.byID[e.To].Index)
	}
	return uf
}

// FilterToComponent creates a new graph containing only the specified nodes
// and the edges between them. Node and edge order is preserved.
func FilterToComponent(g *Graph, nodes []uint32) *Graph {
	out := newGraph(g.BBox)
	if len(nodes) == 0 {
		return out
	}

	keep := make(map[uint32]bool, len(nodes))
	for _, idx := range nodes {
		keep[idx] = true
		n := g.Nodes[idx]
		out.addNode(n.ID, n.Lat, n.Lng)
	}

	for _, e := range g.Edges {
		from, to := g.byID[e.From], g.byID[e.To]
		if !keep[from.Index] || !keep[to.Index] {
			continue
		}
		attrs := edgeAttrs{wayID: e.WayID, roadType: e.RoadType, name: e.Name}
		out.addEdge(out.byID[e.From], out.byID[e.To], e.Distance, attrs, e.Geometry)
	}

	return out
}
