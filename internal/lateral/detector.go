package lateral

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Detection defaults.
const (
	DefaultHopThreshold     = 3
	DefaultAnomalyThreshold = 2.0
	DefaultSeed             = 42
	defaultHiddenDim        = 16
)

// Alert is one detected lateral movement pattern.
type Alert struct {
	AlertType string                 `json:"alert_type"`
	Severity  float64                `json:"severity"`
	Path      []string               `json:"path"`
	Details   map[string]interface{} `json:"details"`
}

// MovementDetector runs GNN-embedding and heuristic detection over an access
// graph. Embeddings come from a two-layer fixed-weight GNN seeded for
// reproducibility.
type MovementDetector struct {
	mu               sync.Mutex
	graph            *AccessGraph
	layer1           *GNNLayer
	layer2           *GNNLayer
	hopThreshold     int
	anomalyThreshold float64
	baseline         map[string][]float64
}

// DetectorOption tweaks a MovementDetector at construction.
type DetectorOption func(*detectorConfig)

type detectorConfig struct {
	featureDim   int
	hiddenDim    int
	outputDim    int
	hopThreshold int
	seed         int64
}

func WithDims(feature, hidden, output int) DetectorOption {
	return func(c *detectorConfig) {
		c.featureDim, c.hiddenDim, c.outputDim = feature, hidden, output
	}
}

func WithHopThreshold(n int) DetectorOption {
	return func(c *detectorConfig) { c.hopThreshold = n }
}

func WithSeed(seed int64) DetectorOption {
	return func(c *detectorConfig) { c.seed = seed }
}

func NewMovementDetector(opts ...DetectorOption) *MovementDetector {
	cfg := detectorConfig{
		featureDim:   DefaultFeatureDim,
		hiddenDim:    defaultHiddenDim,
		outputDim:    DefaultFeatureDim,
		hopThreshold: DefaultHopThreshold,
		seed:         DefaultSeed,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MovementDetector{
		graph:            NewAccessGraph(),
		layer1:           NewGNNLayer(cfg.featureDim, cfg.hiddenDim, cfg.seed),
		layer2:           NewGNNLayer(cfg.hiddenDim, cfg.outputDim, cfg.seed+1),
		hopThreshold:     cfg.hopThreshold,
		anomalyThreshold: DefaultAnomalyThreshold,
		baseline:         make(map[string][]float64),
	}
}

// Graph exposes the underlying access graph.
func (d *MovementDetector) Graph() *AccessGraph { return d.graph }

// AddAccessEvent appends an edge to the graph.
func (d *MovementDetector) AddAccessEvent(e Edge) {
	d.graph.AddEdge(e)
}

// ComputeEmbeddings runs the two-layer forward pass over the current graph.
func (d *MovementDetector) ComputeEmbeddings() ([]string, [][]float64) {
	nodes, features := d.graph.FeatureMatrix()
	if len(nodes) == 0 {
		return nil, nil
	}
	_, adj := d.graph.AdjacencyMatrix()
	h1 := d.layer1.Forward(features, adj)
	h2 := d.layer2.Forward(h1, adj)
	return nodes, h2
}

// LearnBaseline stores the current embeddings as the reference point for
// anomaly detection and returns the number of nodes captured.
func (d *MovementDetector) LearnBaseline() int {
	nodes, embeddings := d.ComputeEmbeddings()

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, node := range nodes {
		ref := make([]float64, len(embeddings[i]))
		copy(ref, embeddings[i])
		d.baseline[node] = ref
	}
	log.Info().Int("nodes", len(nodes)).Msg("lateral movement baseline learned")
	return len(nodes)
}

// Detect runs the three detection methods and returns alerts sorted by
// severity descending. The pass can be CPU-heavy on large graphs, so it
// checks ctx between phases and inside the embedding comparison loop.
func (d *MovementDetector) Detect(ctx context.Context) ([]Alert, error) {
	alerts := d.detectCredentialHopping()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	alerts = append(alerts, d.detectPrivilegeEscalation()...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	anomalies, err := d.detectEmbeddingAnomalies(ctx)
	if err != nil {
		return nil, err
	}
	alerts = append(alerts, anomalies...)

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity != alerts[j].Severity {
			return alerts[i].Severity > alerts[j].Severity
		}
		if alerts[i].AlertType != alerts[j].AlertType {
			return alerts[i].AlertType < alerts[j].AlertType
		}
		return alerts[i].Path[0] < alerts[j].Path[0]
	})
	return alerts, nil
}

// detectCredentialHopping flags sources reaching many distinct targets in
// timestamp order.
func (d *MovementDetector) detectCredentialHopping() []Alert {
	bySource := make(map[string][]Edge)
	for _, e := range d.graph.Edges() {
		bySource[e.Src] = append(bySource[e.Src], e)
	}

	sources := make([]string, 0, len(bySource))
	for src := range bySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	var alerts []Alert
	for _, src := range sources {
		edges := bySource[src]
		sort.SliceStable(edges, func(i, j int) bool {
			return edges[i].Timestamp < edges[j].Timestamp
		})

		seen := make(map[string]bool)
		var targets []string
		for _, e := range edges {
			if !seen[e.Dst] {
				seen[e.Dst] = true
				targets = append(targets, e.Dst)
			}
		}
		if len(targets) < d.hopThreshold {
			continue
		}

		severity := math.Min(1.0, float64(len(targets))/float64(d.hopThreshold*2))
		pathTargets := targets
		if max := d.hopThreshold + 2; len(pathTargets) > max {
			pathTargets = pathTargets[:max]
		}
		alerts = append(alerts, Alert{
			AlertType: "credential_hopping",
			Severity:  round4(severity),
			Path:      append([]string{src}, pathTargets...),
			Details: map[string]interface{}{
				"source":    src,
				"hop_count": len(targets),
				"threshold": d.hopThreshold,
			},
		})
	}
	return alerts
}

// detectPrivilegeEscalation finds multi-hop paths from low-privilege to
// high-privilege nodes.
func (d *MovementDetector) detectPrivilegeEscalation() []Alert {
	var highPriv, lowPriv []string
	for _, id := range d.graph.NodeIDs() {
		features, ok := d.graph.NodeFeatures(id)
		if !ok {
			continue
		}
		switch level := PrivilegeLevel(features); {
		case level > 0.7:
			highPriv = append(highPriv, id)
		case level < 0.3:
			lowPriv = append(lowPriv, id)
		}
	}

	var alerts []Alert
	for _, low := range lowPriv {
		for _, high := range highPriv {
			for _, path := range d.graph.AllPaths(low, high, 4) {
				if len(path) < 3 {
					continue
				}
				alerts = append(alerts, Alert{
					AlertType: "privilege_escalation",
					Severity:  round4(0.6 + 0.1*float64(len(path))),
					Path:      path,
					Details: map[string]interface{}{
						"source": low,
						"target": high,
						"hops":   len(path) - 1,
					},
				})
			}
		}
	}
	return alerts
}

// detectEmbeddingAnomalies compares current embeddings against the stored
// baseline.
func (d *MovementDetector) detectEmbeddingAnomalies(ctx context.Context) ([]Alert, error) {
	d.mu.Lock()
	baseline := make(map[string][]float64, len(d.baseline))
	for node, emb := range d.baseline {
		baseline[node] = emb
	}
	threshold := d.anomalyThreshold
	d.mu.Unlock()

	if len(baseline) == 0 {
		return nil, nil
	}

	nodes, current := d.ComputeEmbeddings()
	var alerts []Alert
	for i, node := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ref, ok := baseline[node]
		if !ok {
			continue
		}
		distance := l2Distance(current[i], ref)
		if distance <= threshold {
			continue
		}
		alerts = append(alerts, Alert{
			AlertType: "embedding_anomaly",
			Severity:  round4(math.Min(1.0, distance/(threshold*3))),
			Path:      []string{node},
			Details: map[string]interface{}{
				"node":               node,
				"embedding_distance": round4(distance),
				"threshold":          threshold,
			},
		})
	}
	return alerts, nil
}

// AnalyzePath scores one concrete traversal for risk based on its length,
// credential switching, and failed attempts along the way.
func (d *MovementDetector) AnalyzePath(path []string) map[string]interface{} {
	if len(path) < 2 {
		return map[string]interface{}{"risk": 0.0, "reason": "path_too_short"}
	}

	totalEdges := 0
	failedEdges := 0
	credentialChanges := 0
	prevCred := ""

	for i := 0; i < len(path)-1; i++ {
		edges := d.graph.EdgesBetween(path[i], path[i+1])
		totalEdges += len(edges)
		for _, e := range edges {
			if !e.Success {
				failedEdges++
			}
			if prevCred != "" && e.CredentialType != prevCred {
				credentialChanges++
			}
			prevCred = e.CredentialType
		}
	}

	risk := math.Min(0.3, float64(len(path))*0.05) +
		math.Min(0.3, float64(credentialChanges)*0.1) +
		math.Min(0.3, float64(failedEdges)*0.05)

	return map[string]interface{}{
		"path":               path,
		"path_length":        len(path),
		"total_edges":        totalEdges,
		"credential_changes": credentialChanges,
		"failed_attempts":    failedEdges,
		"risk_score":         round4(math.Min(1.0, risk)),
	}
}

func round4(x float64) float64 { return math.Round(x*10000) / 10000 }
