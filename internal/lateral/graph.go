package lateral

import (
	"sort"
	"sync"
)

// DefaultFeatureDim is the node feature vector length. Feature index 0
// encodes privilege level by convention; use the accessors below instead of
// indexing directly.
const DefaultFeatureDim = 8

// Edge is one access event between two graph nodes.
type Edge struct {
	Src            string  `json:"src"`
	Dst            string  `json:"dst"`
	Action         string  `json:"action"`
	Timestamp      float64 `json:"timestamp"`
	CredentialType string  `json:"credential_type"`
	Success        bool    `json:"success"`
	RiskScore      float64 `json:"risk_score"`
}

// Degree holds a node's in/out/total edge endpoint counts.
type Degree struct {
	In    int `json:"in"`
	Out   int `json:"out"`
	Total int `json:"total"`
}

// CentralityEntry describes one node in a centrality ranking.
type CentralityEntry struct {
	NodeID    string `json:"node_id"`
	NodeType  string `json:"node_type"`
	Degree    int    `json:"degree"`
	InDegree  int    `json:"in_degree"`
	OutDegree int    `json:"out_degree"`
}

// AccessGraph is a directed multigraph of access events between entities
// and resources. Matrix exports order nodes lexicographically so indices
// are stable across calls.
type AccessGraph struct {
	mu        sync.RWMutex
	edges     []Edge
	adjacency map[string]map[string][]Edge
	nodeTypes map[string]string
	features  map[string][]float64
}

func NewAccessGraph() *AccessGraph {
	return &AccessGraph{
		adjacency: make(map[string]map[string][]Edge),
		nodeTypes: make(map[string]string),
		features:  make(map[string][]float64),
	}
}

// PrivilegeLevel reads the privilege feature from a node feature vector.
func PrivilegeLevel(features []float64) float64 {
	if len(features) == 0 {
		return 0
	}
	return features[0]
}

// SetPrivilegeLevel writes the privilege feature into a node feature vector.
func SetPrivilegeLevel(features []float64, level float64) {
	if len(features) > 0 {
		features[0] = level
	}
}

// AddNode registers a node. A nil feature vector gets a zero-filled default.
func (g *AccessGraph) AddNode(id, nodeType string, features []float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(id, nodeType, features)
}

func (g *AccessGraph) addNodeLocked(id, nodeType string, features []float64) {
	g.nodeTypes[id] = nodeType
	if features == nil {
		features = make([]float64, DefaultFeatureDim)
	}
	g.features[id] = features
}

// AddEdge appends an edge, auto-inserting unknown endpoints: sources as
// "entity" nodes, destinations as "resource" nodes.
func (g *AccessGraph) AddEdge(e Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges = append(g.edges, e)
	if g.adjacency[e.Src] == nil {
		g.adjacency[e.Src] = make(map[string][]Edge)
	}
	g.adjacency[e.Src][e.Dst] = append(g.adjacency[e.Src][e.Dst], e)

	if _, ok := g.nodeTypes[e.Src]; !ok {
		g.addNodeLocked(e.Src, "entity", nil)
	}
	if _, ok := g.nodeTypes[e.Dst]; !ok {
		g.addNodeLocked(e.Dst, "resource", nil)
	}
}

// Neighbors returns the sorted outbound neighbor ids of a node.
func (g *AccessGraph) Neighbors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.neighborsLocked(id)
}

func (g *AccessGraph) neighborsLocked(id string) []string {
	out := make([]string, 0, len(g.adjacency[id]))
	for dst := range g.adjacency[id] {
		out = append(out, dst)
	}
	sort.Strings(out)
	return out
}

// EdgesBetween returns all edges from src to dst in insertion order.
func (g *AccessGraph) EdgesBetween(src, dst string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edges := g.adjacency[src][dst]
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}

// Edges returns a copy of the full edge log in insertion order.
func (g *AccessGraph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// NodeType returns a node's type label.
func (g *AccessGraph) NodeType(id string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.nodeTypes[id]
	return t, ok
}

// NodeFeatures returns a copy of a node's feature vector.
func (g *AccessGraph) NodeFeatures(id string) ([]float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f, ok := g.features[id]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(f))
	copy(out, f)
	return out, true
}

// NodeIDs returns every node id sorted lexicographically.
func (g *AccessGraph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodeIDsLocked()
}

func (g *AccessGraph) nodeIDsLocked() []string {
	ids := make([]string, 0, len(g.nodeTypes))
	for id := range g.nodeTypes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeCount and EdgeCount report graph size.
func (g *AccessGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodeTypes)
}

func (g *AccessGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// AdjacencyMatrix builds the weighted adjacency matrix over sorted node ids;
// cell [i][j] is the number of edges i→j.
func (g *AccessGraph) AdjacencyMatrix() ([]string, [][]float64) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := g.nodeIDsLocked()
	idx := make(map[string]int, len(nodes))
	for i, id := range nodes {
		idx[id] = i
	}

	mat := make([][]float64, len(nodes))
	for i := range mat {
		mat[i] = make([]float64, len(nodes))
	}
	for src, dsts := range g.adjacency {
		i, ok := idx[src]
		if !ok {
			continue
		}
		for dst, edges := range dsts {
			if j, ok := idx[dst]; ok {
				mat[i][j] = float64(len(edges))
			}
		}
	}
	return nodes, mat
}

// FeatureMatrix stacks feature vectors over sorted node ids.
func (g *AccessGraph) FeatureMatrix() ([]string, [][]float64) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := g.nodeIDsLocked()
	mat := make([][]float64, len(nodes))
	for i, id := range nodes {
		row := make([]float64, len(g.features[id]))
		copy(row, g.features[id])
		mat[i] = row
	}
	return nodes, mat
}

// ShortestPath runs BFS from src to dst. Returns [src] when src == dst and
// nil when no path exists.
func (g *AccessGraph) ShortestPath(src, dst string) []string {
	if src == dst {
		return []string{src}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{src: true}
	type queued struct {
		node string
		path []string
	}
	queue := []queued{{src, []string{src}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range g.neighborsLocked(cur.node) {
			if nb == dst {
				return append(append([]string{}, cur.path...), nb)
			}
			if !visited[nb] {
				visited[nb] = true
				queue = append(queue, queued{nb, append(append([]string{}, cur.path...), nb)})
			}
		}
	}
	return nil
}

// AllPaths enumerates simple paths from src to dst up to maxDepth nodes via
// DFS. Non-positive maxDepth uses the default of 5.
func (g *AccessGraph) AllPaths(src, dst string, maxDepth int) [][]string {
	if maxDepth <= 0 {
		maxDepth = 5
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var paths [][]string
	visited := map[string]bool{src: true}
	path := []string{src}

	var dfs func(current string)
	dfs = func(current string) {
		if len(path) > maxDepth {
			return
		}
		if current == dst {
			paths = append(paths, append([]string{}, path...))
			return
		}
		for _, nb := range g.neighborsLocked(current) {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			path = append(path, nb)
			dfs(nb)
			path = path[:len(path)-1]
			visited[nb] = false
		}
	}
	dfs(src)
	return paths
}

// NodeDegree counts distinct inbound and outbound neighbors.
func (g *AccessGraph) NodeDegree(id string) Degree {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodeDegreeLocked(id)
}

func (g *AccessGraph) nodeDegreeLocked(id string) Degree {
	out := len(g.adjacency[id])
	in := 0
	for _, dsts := range g.adjacency {
		if _, ok := dsts[id]; ok {
			in++
		}
	}
	return Degree{In: in, Out: out, Total: in + out}
}

// TopCentrality ranks nodes by total degree, descending, ties broken by id.
func (g *AccessGraph) TopCentrality(k int) []CentralityEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()

	entries := make([]CentralityEntry, 0, len(g.nodeTypes))
	for _, id := range g.nodeIDsLocked() {
		deg := g.nodeDegreeLocked(id)
		entries = append(entries, CentralityEntry{
			NodeID:    id,
			NodeType:  g.nodeTypes[id],
			Degree:    deg.Total,
			InDegree:  deg.In,
			OutDegree: deg.Out,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Degree > entries[j].Degree
	})
	if k > 0 && k < len(entries) {
		entries = entries[:k]
	}
	return entries
}
