package behavioral

import (
	"math"
	"sort"
)

// PatternAnalyzer answers read-only questions about learned baselines that
// the anomaly detector does not: habit spread, distribution shape, and
// after-the-fact outlier hunts over recorded durations.
type PatternAnalyzer struct {
	store *BaselineStore
}

func NewPatternAnalyzer(store *BaselineStore) *PatternAnalyzer {
	return &PatternAnalyzer{store: store}
}

// UnusualHours lists the hours an entity has been seen active despite their
// probability sitting below the floor. Hours never observed are not unusual,
// just unknown.
func (a *PatternAnalyzer) UnusualHours(entityID string, probabilityFloor float64) []int {
	prof, ok := a.store.GetProfile(entityID)
	if !ok {
		return nil
	}
	probs := prof.HourProbabilities()
	hours := make([]int, 0)
	for h := 0; h < 24; h++ {
		if prof.HourCounts[h] > 0 && probs[h] < probabilityFloor {
			hours = append(hours, h)
		}
	}
	return hours
}

// LocationEntropy returns the Shannon entropy (bits) of the entity's location
// distribution. 0 means a single location; higher values mean roaming.
func (a *PatternAnalyzer) LocationEntropy(entityID string) float64 {
	prof, ok := a.store.GetProfile(entityID)
	if !ok {
		return 0
	}
	total := sumCounts(prof.LocationCounts)
	if total <= 0 {
		return 0
	}
	entropy := 0.0
	for _, c := range prof.LocationCounts {
		if c <= 0 {
			continue
		}
		f := c / total
		entropy -= f * math.Log2(f)
	}
	return entropy
}

// ResourceConcentration is the Herfindahl index of resource frequencies:
// 1 when all access hits one resource, approaching 0 as usage spreads out.
func (a *PatternAnalyzer) ResourceConcentration(entityID string) float64 {
	prof, ok := a.store.GetProfile(entityID)
	if !ok {
		return 0
	}
	total := sumCounts(prof.ResourceCounts)
	if total <= 0 {
		return 0
	}
	sum := 0.0
	for _, c := range prof.ResourceCounts {
		f := c / total
		sum += f * f
	}
	return sum
}

// TopKResources returns the entity's k most-touched resources, most frequent
// first, names breaking ties.
func (a *PatternAnalyzer) TopKResources(entityID string, k int) []string {
	prof, ok := a.store.GetProfile(entityID)
	if !ok || k <= 0 {
		return nil
	}
	return topCounts(prof.ResourceCounts, k)
}

// ActivitySpread counts the distinct hours of day the entity has ever been
// active in.
func (a *PatternAnalyzer) ActivitySpread(entityID string) int {
	prof, ok := a.store.GetProfile(entityID)
	if !ok {
		return 0
	}
	spread := 0
	for _, c := range prof.HourCounts {
		if c > 0 {
			spread++
		}
	}
	return spread
}

// DurationOutliers filters the given durations down to those whose z-score
// against the entity's session baseline exceeds zLimit. It needs at least
// five recorded sessions to say anything.
func (a *PatternAnalyzer) DurationOutliers(entityID string, durations []float64, zLimit float64) []float64 {
	prof, ok := a.store.GetProfile(entityID)
	if !ok || prof.DurationStats.Count < minDurationSamples {
		return nil
	}
	sigma := math.Max(prof.DurationStats.Std(), 1)
	outliers := make([]float64, 0)
	for _, x := range durations {
		if math.Abs(x-prof.DurationStats.Mean)/sigma > zLimit {
			outliers = append(outliers, x)
		}
	}
	sort.Float64s(outliers)
	return outliers
}
