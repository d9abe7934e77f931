package microseg

import (
	"fmt"
	"sort"
	"sync"
)

// Flow is a single observed network flow between two endpoints.
type Flow struct {
	Src       string  `json:"src"`
	Dst       string  `json:"dst"`
	Port      int     `json:"port"`
	Protocol  string  `json:"protocol"`
	BytesSent int64   `json:"bytes_sent"`
	BytesRecv int64   `json:"bytes_recv"`
	Timestamp float64 `json:"timestamp"`
	Duration  float64 `json:"duration"`
	Allowed   bool    `json:"allowed"`
}

// CrossFlow describes a flow whose endpoints sit in different segments.
type CrossFlow struct {
	Src        string `json:"src"`
	Dst        string `json:"dst"`
	SrcSegment string `json:"src_segment"`
	DstSegment string `json:"dst_segment"`
	Port       int    `json:"port"`
	Protocol   string `json:"protocol"`
}

// Talker summarizes one endpoint's flow volume.
type Talker struct {
	Endpoint string `json:"endpoint"`
	Outbound int    `json:"outbound"`
	Inbound  int    `json:"inbound"`
	Total    int    `json:"total"`
}

// PortCount pairs a destination port with its flow count.
type PortCount struct {
	Port  int `json:"port"`
	Count int `json:"count"`
}

// FlowAnalyzer aggregates flows into adjacency counts and per-pair port and
// protocol sets, and discovers communication clusters from them.
type FlowAnalyzer struct {
	mu        sync.RWMutex
	flows     []Flow
	adjacency map[string]map[string]int
	portMap   map[string]map[int]bool
	protoMap  map[string]map[string]bool
}

func NewFlowAnalyzer() *FlowAnalyzer {
	return &FlowAnalyzer{
		adjacency: make(map[string]map[string]int),
		portMap:   make(map[string]map[int]bool),
		protoMap:  make(map[string]map[string]bool),
	}
}

// AddFlow records one flow.
func (a *FlowAnalyzer) AddFlow(f Flow) {
	if f.Protocol == "" {
		f.Protocol = "tcp"
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.flows = append(a.flows, f)
	if a.adjacency[f.Src] == nil {
		a.adjacency[f.Src] = make(map[string]int)
	}
	a.adjacency[f.Src][f.Dst]++

	key := pairKey(f.Src, f.Dst)
	if a.portMap[key] == nil {
		a.portMap[key] = make(map[int]bool)
		a.protoMap[key] = make(map[string]bool)
	}
	a.portMap[key][f.Port] = true
	a.protoMap[key][f.Protocol] = true
}

// AddFlows records a batch of flows.
func (a *FlowAnalyzer) AddFlows(flows []Flow) {
	for _, f := range flows {
		a.AddFlow(f)
	}
}

func pairKey(src, dst string) string { return fmt.Sprintf("%s->%s", src, dst) }

// FlowCount reports the number of recorded flows.
func (a *FlowAnalyzer) FlowCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.flows)
}

// Flows returns a copy of the flow log.
func (a *FlowAnalyzer) Flows() []Flow {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Flow, len(a.flows))
	copy(out, a.flows)
	return out
}

// Endpoints returns every endpoint seen in any flow, sorted.
func (a *FlowAnalyzer) Endpoints() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.endpointsLocked()
}

func (a *FlowAnalyzer) endpointsLocked() []string {
	set := make(map[string]bool)
	for _, f := range a.flows {
		set[f.Src] = true
		set[f.Dst] = true
	}
	out := make([]string, 0, len(set))
	for ep := range set {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}

// CommunicationMatrix builds the flow count matrix over sorted endpoints.
func (a *FlowAnalyzer) CommunicationMatrix() ([]string, [][]float64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.communicationMatrixLocked()
}

func (a *FlowAnalyzer) communicationMatrixLocked() ([]string, [][]float64) {
	endpoints := a.endpointsLocked()
	idx := make(map[string]int, len(endpoints))
	for i, ep := range endpoints {
		idx[ep] = i
	}

	mat := make([][]float64, len(endpoints))
	for i := range mat {
		mat[i] = make([]float64, len(endpoints))
	}
	for src, dsts := range a.adjacency {
		i, ok := idx[src]
		if !ok {
			continue
		}
		for dst, count := range dsts {
			if j, ok := idx[dst]; ok {
				mat[i][j] = float64(count)
			}
		}
	}
	return endpoints, mat
}

// DiscoverClusters groups endpoints by communication affinity. The affinity
// matrix is (A + Aᵀ) / (2·maxRowSum); an unassigned endpoint starts a new
// cluster and pulls in unassigned endpoints with affinity above the
// threshold in either direction. Iteration is in sorted endpoint order.
func (a *FlowAnalyzer) DiscoverClusters(threshold float64) [][]string {
	a.mu.RLock()
	endpoints, mat := a.communicationMatrixLocked()
	a.mu.RUnlock()

	if len(endpoints) == 0 {
		return nil
	}
	if len(endpoints) < 2 {
		return [][]string{endpoints}
	}

	maxRowSum := 0.0
	for _, row := range mat {
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		if sum > maxRowSum {
			maxRowSum = sum
		}
	}
	if maxRowSum == 0 {
		maxRowSum = 1
	}

	n := len(endpoints)
	affinity := make([][]float64, n)
	for i := range affinity {
		affinity[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			affinity[i][j] = (mat[i][j] + mat[j][i]) / (2 * maxRowSum)
		}
	}

	assigned := make(map[string]bool)
	var clusters [][]string
	for i, ep := range endpoints {
		if assigned[ep] {
			continue
		}
		cluster := []string{ep}
		assigned[ep] = true
		for j, other := range endpoints {
			if assigned[other] {
				continue
			}
			if affinity[i][j] > threshold || affinity[j][i] > threshold {
				cluster = append(cluster, other)
				assigned[other] = true
			}
		}
		sort.Strings(cluster)
		clusters = append(clusters, cluster)
	}
	return clusters
}

// CrossSegmentFlows lists flows crossing segment boundaries under a
// member→segment map. Unmapped endpoints count as segment "unknown".
func (a *FlowAnalyzer) CrossSegmentFlows(membership map[string]string) []CrossFlow {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var cross []CrossFlow
	for _, f := range a.flows {
		srcSeg, ok := membership[f.Src]
		if !ok {
			srcSeg = "unknown"
		}
		dstSeg, ok := membership[f.Dst]
		if !ok {
			dstSeg = "unknown"
		}
		if srcSeg == dstSeg {
			continue
		}
		cross = append(cross, CrossFlow{
			Src: f.Src, Dst: f.Dst,
			SrcSegment: srcSeg, DstSegment: dstSeg,
			Port: f.Port, Protocol: f.Protocol,
		})
	}
	return cross
}

// TopTalkers ranks endpoints by total flow count, descending, ties broken
// by endpoint name.
func (a *FlowAnalyzer) TopTalkers(n int) []Talker {
	a.mu.RLock()
	defer a.mu.RUnlock()

	outCount := make(map[string]int)
	inCount := make(map[string]int)
	for _, f := range a.flows {
		outCount[f.Src]++
		inCount[f.Dst]++
	}

	talkers := make([]Talker, 0, len(outCount)+len(inCount))
	for _, ep := range a.endpointsLocked() {
		talkers = append(talkers, Talker{
			Endpoint: ep,
			Outbound: outCount[ep],
			Inbound:  inCount[ep],
			Total:    outCount[ep] + inCount[ep],
		})
	}
	sort.SliceStable(talkers, func(i, j int) bool {
		return talkers[i].Total > talkers[j].Total
	})
	if n > 0 && n < len(talkers) {
		talkers = talkers[:n]
	}
	return talkers
}

// PortSummary counts flows by destination port, most frequent first, ties
// broken by port number.
func (a *FlowAnalyzer) PortSummary() []PortCount {
	a.mu.RLock()
	defer a.mu.RUnlock()

	counts := make(map[int]int)
	for _, f := range a.flows {
		counts[f.Port]++
	}
	out := make([]PortCount, 0, len(counts))
	for port, count := range counts {
		out = append(out, PortCount{Port: port, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Port < out[j].Port
	})
	return out
}
