package behavioral

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zerotrust/access-engine/internal/models"
)

// DefaultDecayFactor is applied to the periodic (hour / day-of-week)
// distributions on each DecayProfiles call.
const DefaultDecayFactor = 0.995

// RunningStat accumulates mean and variance incrementally using Welford's
// algorithm, so profiles never retain raw samples.
type RunningStat struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
}

// Update folds one sample into the accumulator.
func (s *RunningStat) Update(x float64) {
	s.Count++
	delta := x - s.Mean
	s.Mean += delta / float64(s.Count)
	s.M2 += delta * (x - s.Mean)
}

// Variance returns the sample variance, 0 with fewer than two samples.
func (s *RunningStat) Variance() float64 {
	if s.Count < 2 {
		return 0
	}
	return s.M2 / float64(s.Count-1)
}

// Std returns the sample standard deviation.
func (s *RunningStat) Std() float64 {
	return math.Sqrt(s.Variance())
}

// BaselineProfile is the learned behavior of a single entity. Counts are
// nonnegative; hour and day totals never exceed the observation count
// (decay can only shrink them).
type BaselineProfile struct {
	EntityID         string                  `json:"entity_id"`
	EntityType       string                  `json:"entity_type"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
	ObservationCount int64                   `json:"observation_count"`
	HourCounts       [24]float64             `json:"hour_counts"`
	DayCounts        [7]float64              `json:"day_counts"`
	ResourceCounts   map[string]float64      `json:"resource_counts"`
	ActionCounts     map[string]float64      `json:"action_counts"`
	LocationCounts   map[string]float64      `json:"location_counts"`
	IPCounts         map[string]float64      `json:"ip_counts"`
	FeatureStats     map[string]*RunningStat `json:"feature_stats"`
	DurationStats    RunningStat             `json:"duration_stats"`
}

func newProfile(entityID, entityType string, now time.Time) *BaselineProfile {
	if entityType == "" {
		entityType = models.EntityKindUser
	}
	return &BaselineProfile{
		EntityID:       entityID,
		EntityType:     entityType,
		CreatedAt:      now,
		UpdatedAt:      now,
		ResourceCounts: make(map[string]float64),
		ActionCounts:   make(map[string]float64),
		LocationCounts: make(map[string]float64),
		IPCounts:       make(map[string]float64),
		FeatureStats:   make(map[string]*RunningStat),
	}
}

func (p *BaselineProfile) clone() *BaselineProfile {
	cp := *p
	cp.ResourceCounts = copyCounts(p.ResourceCounts)
	cp.ActionCounts = copyCounts(p.ActionCounts)
	cp.LocationCounts = copyCounts(p.LocationCounts)
	cp.IPCounts = copyCounts(p.IPCounts)
	cp.FeatureStats = make(map[string]*RunningStat, len(p.FeatureStats))
	for name, st := range p.FeatureStats {
		c := *st
		cp.FeatureStats[name] = &c
	}
	return &cp
}

// HourProbabilities normalizes the hour distribution to sum 1, falling back
// to uniform when nothing has been observed yet.
func (p *BaselineProfile) HourProbabilities() [24]float64 {
	var probs [24]float64
	total := 0.0
	for _, c := range p.HourCounts {
		total += c
	}
	if total <= 0 {
		for i := range probs {
			probs[i] = 1.0 / 24.0
		}
		return probs
	}
	for i, c := range p.HourCounts {
		probs[i] = c / total
	}
	return probs
}

// DayProbabilities is the day-of-week analog of HourProbabilities.
func (p *BaselineProfile) DayProbabilities() [7]float64 {
	var probs [7]float64
	total := 0.0
	for _, c := range p.DayCounts {
		total += c
	}
	if total <= 0 {
		for i := range probs {
			probs[i] = 1.0 / 7.0
		}
		return probs
	}
	for i, c := range p.DayCounts {
		probs[i] = c / total
	}
	return probs
}

// BaselineStore owns every entity profile. All mutation happens under a
// single RWMutex; read accessors return deep copies so callers can never
// race the observer.
type BaselineStore struct {
	mu          sync.RWMutex
	profiles    map[string]*BaselineProfile
	decayFactor float64
	now         func() time.Time
}

// NewBaselineStore creates an empty store with the default decay factor.
func NewBaselineStore() *BaselineStore {
	log.Info().Float64("decay_factor", DefaultDecayFactor).Msg("baseline store initialized")
	return &BaselineStore{
		profiles:    make(map[string]*BaselineProfile),
		decayFactor: DefaultDecayFactor,
		now:         time.Now,
	}
}

// SetDecayFactor overrides the decay factor; values outside (0,1] are ignored.
func (s *BaselineStore) SetDecayFactor(f float64) {
	if f <= 0 || f > 1 {
		return
	}
	s.mu.Lock()
	s.decayFactor = f
	s.mu.Unlock()
}

// Observe folds a single access event into the entity's profile, creating
// the profile on first sight. Every event field is optional; malformed or
// absent fields are skipped, never rejected.
func (s *BaselineStore) Observe(entityID string, ev models.AccessEvent) {
	if entityID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	prof, ok := s.profiles[entityID]
	if !ok {
		prof = newProfile(entityID, ev.EntityType, now)
		s.profiles[entityID] = prof
	}

	if h, ok := ev.HourValue(); ok {
		prof.HourCounts[h]++
	}
	if d, ok := ev.DayValue(); ok {
		prof.DayCounts[d]++
	}
	if ev.Resource != "" {
		prof.ResourceCounts[ev.Resource]++
	}
	if ev.Action != "" {
		prof.ActionCounts[ev.Action]++
	}
	if ev.Location != "" {
		prof.LocationCounts[ev.Location]++
	}
	if ev.SourceIP != "" {
		prof.IPCounts[ev.SourceIP]++
	}
	if ev.SessionDuration != nil {
		prof.DurationStats.Update(*ev.SessionDuration)
	}
	for name, value := range ev.Features {
		st, ok := prof.FeatureStats[name]
		if !ok {
			st = &RunningStat{}
			prof.FeatureStats[name] = st
		}
		st.Update(value)
	}

	prof.ObservationCount++
	prof.UpdatedAt = now
}

// DecayProfiles ages the periodic hour and day-of-week distributions of every
// profile. Count maps and Welford statistics are left intact: decay models
// drift in time-of-day habits, not in the set of things an entity touches.
func (s *BaselineStore) DecayProfiles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, prof := range s.profiles {
		for i := range prof.HourCounts {
			prof.HourCounts[i] *= s.decayFactor
		}
		for i := range prof.DayCounts {
			prof.DayCounts[i] *= s.decayFactor
		}
	}
	log.Debug().Int("profiles", len(s.profiles)).Float64("factor", s.decayFactor).Msg("baseline profiles decayed")
}

// StartDecayLoop applies DecayProfiles on a ticker until ctx is cancelled.
// Nothing depends on the loop running; it only keeps long-lived deployments
// from treating stale habits as current ones.
func (s *BaselineStore) StartDecayLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.DecayProfiles()
			}
		}
	}()
}

// GetProfile returns a deep copy of the entity's profile.
func (s *BaselineStore) GetProfile(entityID string) (*BaselineProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prof, ok := s.profiles[entityID]
	if !ok {
		return nil, false
	}
	return prof.clone(), true
}

// ObservationCount reports how many events the entity's profile has absorbed.
func (s *BaselineStore) ObservationCount(entityID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if prof, ok := s.profiles[entityID]; ok {
		return prof.ObservationCount
	}
	return 0
}

// EntityIDs lists every profiled entity in lexicographic order.
func (s *BaselineStore) EntityIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ProfileSummary renders the profile as a wire-friendly map.
func (s *BaselineStore) ProfileSummary(entityID string) (map[string]interface{}, bool) {
	prof, ok := s.GetProfile(entityID)
	if !ok {
		return nil, false
	}

	peakHour, peakVal := 0, prof.HourCounts[0]
	for i, c := range prof.HourCounts {
		if c > peakVal {
			peakHour, peakVal = i, c
		}
	}
	peakDay, peakDayVal := 0, prof.DayCounts[0]
	for i, c := range prof.DayCounts {
		if c > peakDayVal {
			peakDay, peakDayVal = i, c
		}
	}

	return map[string]interface{}{
		"entity_id":            prof.EntityID,
		"entity_type":          prof.EntityType,
		"observation_count":    prof.ObservationCount,
		"peak_hour":            peakHour,
		"peak_day":             peakDay,
		"top_resources":        topCounts(prof.ResourceCounts, 5),
		"unique_locations":     len(prof.LocationCounts),
		"unique_ips":           len(prof.IPCounts),
		"avg_session_duration": round2(prof.DurationStats.Mean),
		"session_duration_std": round2(prof.DurationStats.Std()),
		"created_at":           prof.CreatedAt,
		"updated_at":           prof.UpdatedAt,
	}, true
}

func copyCounts(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// topCounts returns up to k names ordered by count descending, name ascending
// on ties, so summaries stay stable run to run.
func topCounts(counts map[string]float64, k int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > k {
		names = names[:k]
	}
	return names
}

func sumCounts(counts map[string]float64) float64 {
	total := 0.0
	for _, v := range counts {
		total += v
	}
	return total
}

func maxCount(counts map[string]float64) float64 {
	max := 0.0
	for _, v := range counts {
		if v > max {
			max = v
		}
	}
	return max
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }

func round4(x float64) float64 { return math.Round(x*10000) / 10000 }
