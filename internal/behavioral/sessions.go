package behavioral

import (
	"sort"
	"sync"
	"time"

	"github.com/zerotrust/access-engine/internal/models"
)

// Session flag names surfaced by FlagSession.
const (
	FlagRapidEvents   = "rapid_events"
	FlagResourceSweep = "resource_sweep"
	FlagMultiIP       = "multi_ip"
	FlagLongSession   = "long_session"
)

const (
	rapidEventsPerMinute = 10
	sweepResourceLimit   = 10
	longSessionLimit     = 8 * time.Hour
)

type sessionState struct {
	EntityID   string
	StartedAt  time.Time
	LastEvent  time.Time
	EventCount int
	Resources  map[string]struct{}
	Actions    map[string]struct{}
	SourceIPs  map[string]struct{}
}

// SessionAnalyzer tracks live sessions and flags the shapes that baselines
// cannot see: bursts, sweeps, and address churn inside one session. Closing
// a session feeds its final duration back into the baseline store.
type SessionAnalyzer struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	store    *BaselineStore
	now      func() time.Time
}

// NewSessionAnalyzer creates an analyzer; store may be nil when duration
// feedback is not wanted.
func NewSessionAnalyzer(store *BaselineStore) *SessionAnalyzer {
	return &SessionAnalyzer{
		sessions: make(map[string]*sessionState),
		store:    store,
		now:      time.Now,
	}
}

// RecordEvent registers one event against a session, opening the session on
// first sight.
func (a *SessionAnalyzer) RecordEvent(sessionID, entityID string, ev models.AccessEvent) {
	if sessionID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	st, ok := a.sessions[sessionID]
	if !ok {
		st = &sessionState{
			EntityID:  entityID,
			StartedAt: now,
			Resources: make(map[string]struct{}),
			Actions:   make(map[string]struct{}),
			SourceIPs: make(map[string]struct{}),
		}
		a.sessions[sessionID] = st
	}
	st.LastEvent = now
	st.EventCount++
	if ev.Resource != "" {
		st.Resources[ev.Resource] = struct{}{}
	}
	if ev.Action != "" {
		st.Actions[ev.Action] = struct{}{}
	}
	if ev.SourceIP != "" {
		st.SourceIPs[ev.SourceIP] = struct{}{}
	}
}

// FlagSession reports which suspicious shapes the session currently matches.
// Unknown sessions flag nothing.
func (a *SessionAnalyzer) FlagSession(sessionID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.sessions[sessionID]
	if !ok {
		return nil
	}
	now := a.now()
	flags := make([]string, 0, 4)

	elapsedMin := now.Sub(st.StartedAt).Minutes()
	if elapsedMin < 1 {
		elapsedMin = 1
	}
	if float64(st.EventCount)/elapsedMin > rapidEventsPerMinute {
		flags = append(flags, FlagRapidEvents)
	}
	if len(st.Resources) > sweepResourceLimit {
		flags = append(flags, FlagResourceSweep)
	}
	if len(st.SourceIPs) > 1 {
		flags = append(flags, FlagMultiIP)
	}
	if now.Sub(st.StartedAt) > longSessionLimit {
		flags = append(flags, FlagLongSession)
	}
	return flags
}

// SessionSnapshot renders the live state of a session for callers outside
// the package.
func (a *SessionAnalyzer) SessionSnapshot(sessionID string) (map[string]interface{}, bool) {
	a.mu.Lock()
	st, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return nil, false
	}
	snapshot := map[string]interface{}{
		"session_id":       sessionID,
		"entity_id":        st.EntityID,
		"event_count":      st.EventCount,
		"unique_resources": len(st.Resources),
		"unique_actions":   len(st.Actions),
		"unique_ips":       len(st.SourceIPs),
		"started_at":       st.StartedAt,
		"last_event":       st.LastEvent,
		"duration_seconds": round2(a.now().Sub(st.StartedAt).Seconds()),
	}
	a.mu.Unlock()

	flags := a.FlagSession(sessionID)
	if flags == nil {
		flags = []string{}
	}
	snapshot["flags"] = flags
	return snapshot, true
}

// CloseSession ends a session, returns its duration in seconds, and feeds
// that duration into the entity's baseline when a store is attached.
func (a *SessionAnalyzer) CloseSession(sessionID string) (float64, bool) {
	a.mu.Lock()
	st, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return 0, false
	}
	delete(a.sessions, sessionID)
	duration := a.now().Sub(st.StartedAt).Seconds()
	entityID := st.EntityID
	a.mu.Unlock()

	if a.store != nil && entityID != "" {
		d := duration
		a.store.Observe(entityID, models.AccessEvent{SessionDuration: &d})
	}
	return duration, true
}

// ActiveSessionIDs lists open sessions in lexicographic order.
func (a *SessionAnalyzer) ActiveSessionIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
