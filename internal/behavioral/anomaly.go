package behavioral

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zerotrust/access-engine/internal/models"
)

const (
	// DefaultAnomalyThreshold marks the composite score at which an event
	// is flagged.
	DefaultAnomalyThreshold = 0.7

	// MinBaselineObservations is how many events a profile needs before the
	// detector trusts it. Below this the detector stays deliberately neutral.
	MinBaselineObservations = 10

	// minDurationSamples gates the session-duration component; a z-score
	// over fewer samples is noise.
	minDurationSamples = 5
)

// ComponentWeights controls how much each behavioral dimension contributes
// to the composite anomaly score.
type ComponentWeights struct {
	Time     float64 `json:"time"`
	Resource float64 `json:"resource"`
	Location float64 `json:"location"`
	IP       float64 `json:"ip"`
	Duration float64 `json:"duration"`
}

// DefaultComponentWeights returns the standard weighting.
func DefaultComponentWeights() ComponentWeights {
	return ComponentWeights{Time: 0.20, Resource: 0.25, Location: 0.25, IP: 0.15, Duration: 0.15}
}

// AnomalyResult is the outcome of scoring one event against a baseline.
type AnomalyResult struct {
	EntityID        string                 `json:"entity_id"`
	AnomalyScore    float64                `json:"anomaly_score"`
	IsAnomalous     bool                   `json:"is_anomalous"`
	ComponentScores map[string]float64     `json:"component_scores"`
	Details         map[string]interface{} `json:"details"`
	EvaluatedAt     time.Time              `json:"evaluated_at"`
}

// AnomalyDetector scores access events against learned baselines. It never
// mutates the store; every read goes through the store's copying accessors,
// so detectors are safe to share across goroutines.
type AnomalyDetector struct {
	store     *BaselineStore
	threshold float64
	weights   ComponentWeights
}

// NewAnomalyDetector wires a detector to a baseline store with default
// threshold and weights.
func NewAnomalyDetector(store *BaselineStore) *AnomalyDetector {
	return &AnomalyDetector{
		store:     store,
		threshold: DefaultAnomalyThreshold,
		weights:   DefaultComponentWeights(),
	}
}

// SetThreshold overrides the flagging threshold; values outside [0,1] are ignored.
func (d *AnomalyDetector) SetThreshold(t float64) {
	if t < 0 || t > 1 {
		return
	}
	d.threshold = t
}

// SetWeights overrides the component weights.
func (d *AnomalyDetector) SetWeights(w ComponentWeights) { d.weights = w }

// Threshold reports the active flagging threshold.
func (d *AnomalyDetector) Threshold() float64 { return d.threshold }

// Analyze scores one event. Only the components whose fields are present in
// the event participate; an event carrying nothing scoreable comes back 0.
func (d *AnomalyDetector) Analyze(entityID string, ev models.AccessEvent) AnomalyResult {
	res := AnomalyResult{
		EntityID:        entityID,
		ComponentScores: make(map[string]float64),
		Details:         make(map[string]interface{}),
		EvaluatedAt:     time.Now(),
	}

	prof, ok := d.store.GetProfile(entityID)
	if !ok || prof.ObservationCount < MinBaselineObservations {
		res.AnomalyScore = 0.5
		res.IsAnomalous = false
		res.Details["reason"] = "insufficient_baseline"
		if ok {
			res.Details["observation_count"] = prof.ObservationCount
		} else {
			res.Details["observation_count"] = int64(0)
		}
		return res
	}
	res.Details["observation_count"] = prof.ObservationCount

	if h, ok := ev.HourValue(); ok {
		res.ComponentScores["time"] = d.timeScore(prof, h)
	}
	if ev.Resource != "" {
		score, novel := d.resourceScore(prof, ev.Resource)
		res.ComponentScores["resource"] = score
		if novel {
			res.Details["novel_resource"] = ev.Resource
		}
	}
	if ev.Location != "" {
		score, novel := d.locationScore(prof, ev.Location)
		res.ComponentScores["location"] = score
		if novel {
			res.Details["novel_location"] = ev.Location
		}
	}
	if ev.SourceIP != "" {
		score, novel := d.ipScore(prof, ev.SourceIP)
		res.ComponentScores["ip"] = score
		if novel {
			res.Details["novel_ip"] = ev.SourceIP
		}
	}
	if ev.SessionDuration != nil {
		if prof.DurationStats.Count >= minDurationSamples {
			score, z := d.durationScore(prof, *ev.SessionDuration)
			res.ComponentScores["duration"] = score
			res.Details["duration_zscore"] = round2(z)
		} else {
			res.Details["duration_skipped"] = "insufficient_samples"
		}
	}

	res.AnomalyScore = d.composite(res.ComponentScores)
	res.IsAnomalous = res.AnomalyScore >= d.threshold
	if res.IsAnomalous {
		log.Info().
			Str("entity_id", entityID).
			Float64("anomaly_score", res.AnomalyScore).
			Msg("anomalous access detected")
	}
	return res
}

// AnalyzeBatch scores events in input order; each event is matched against
// its own entity's baseline.
func (d *AnomalyDetector) AnalyzeBatch(events []models.AccessEvent) []AnomalyResult {
	results := make([]AnomalyResult, 0, len(events))
	for _, ev := range events {
		results = append(results, d.Analyze(ev.EntityID, ev))
	}
	return results
}

// timeScore compares the event hour to the profile's hour distribution. A
// never-seen hour takes a fixed novelty bump on top of the frequency gap.
func (d *AnomalyDetector) timeScore(prof *BaselineProfile, hour int) float64 {
	probs := prof.HourProbabilities()
	maxP := 0.0
	for _, p := range probs {
		if p > maxP {
			maxP = p
		}
	}
	score := 0.0
	if maxP > 0 {
		score = 1 - probs[hour]/maxP
	}
	if prof.HourCounts[hour] == 0 {
		score = math.Min(score+0.3, 1.0)
	}
	return score
}

// resourceScore dampens the penalty for rare-but-seen resources; true novelty
// scores high, scaled down slightly for entities that legitimately touch a
// wide resource surface.
func (d *AnomalyDetector) resourceScore(prof *BaselineProfile, resource string) (float64, bool) {
	count := prof.ResourceCounts[resource]
	if count == 0 {
		return math.Max(0.6, 1-float64(len(prof.ResourceCounts))/100), true
	}
	total := sumCounts(prof.ResourceCounts)
	fMax := maxCount(prof.ResourceCounts) / total
	f := count / total
	return 0.5 * (1 - f/fMax), false
}

func (d *AnomalyDetector) locationScore(prof *BaselineProfile, location string) (float64, bool) {
	count := prof.LocationCounts[location]
	if count == 0 {
		return 0.9, true
	}
	f := count / sumCounts(prof.LocationCounts)
	return math.Max(0, 1-5*f), false
}

func (d *AnomalyDetector) ipScore(prof *BaselineProfile, ip string) (float64, bool) {
	count := prof.IPCounts[ip]
	if count == 0 {
		return 0.8, true
	}
	f := count / sumCounts(prof.IPCounts)
	return math.Max(0, 1-3*f), false
}

// durationScore pushes a logistic curve over the z-score so that roughly two
// standard deviations is the inflection point.
func (d *AnomalyDetector) durationScore(prof *BaselineProfile, duration float64) (float64, float64) {
	sigma := math.Max(prof.DurationStats.Std(), 1)
	z := math.Abs(duration-prof.DurationStats.Mean) / sigma
	return 1 / (1 + math.Exp(-1.5*(z-2))), z
}

func (d *AnomalyDetector) composite(scores map[string]float64) float64 {
	weightFor := map[string]float64{
		"time":     d.weights.Time,
		"resource": d.weights.Resource,
		"location": d.weights.Location,
		"ip":       d.weights.IP,
		"duration": d.weights.Duration,
	}
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	weighted, totalWeight := 0.0, 0.0
	for _, name := range names {
		w := weightFor[name]
		weighted += scores[name] * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return round4(weighted / totalWeight)
}
