package access

import (
	"context"
	"testing"
	"time"
)

func newTestVerifier(start time.Time) (*ContinuousVerifier, *time.Time) {
	clock := start
	v := NewContinuousVerifier(nil)
	v.now = func() time.Time { return clock }
	v.engine.now = func() time.Time { return clock }
	return v, &clock
}

func TestInitializeSession(t *testing.T) {
	v, _ := newTestVerifier(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	ctx := strongContext()
	ctx.SessionID = "sess-1"

	result := v.InitializeSession(ctx)

	if result["session_id"] != "sess-1" {
		t.Errorf("session_id = %v", result["session_id"])
	}
	if result["initial_decision"] != DecisionAllow {
		t.Errorf("initial_decision = %v, want allow", result["initial_decision"])
	}
	if _, ok := result["next_verification"].(time.Time); !ok {
		t.Errorf("next_verification missing or wrong type: %v", result["next_verification"])
	}
	if v.ActiveSessionCount() != 1 {
		t.Errorf("active sessions = %d, want 1", v.ActiveSessionCount())
	}
}

func TestReverifyUnknownSessionInitializes(t *testing.T) {
	v, _ := newTestVerifier(time.Now())
	ctx := strongContext()
	ctx.SessionID = "new-sess"

	result := v.Reverify(ctx)
	if _, ok := result["initial_decision"]; !ok {
		t.Errorf("unknown session should initialize, got %v", result)
	}
}

func TestReverifyEscalation(t *testing.T) {
	v, _ := newTestVerifier(time.Now())
	ctx := strongContext()
	ctx.SessionID = "sess-esc"
	v.InitializeSession(ctx)

	// Degrade the context to something that restricts, then denies.
	degraded := ctx
	degraded.AuthMethod = "password"
	degraded.MFAVerified = false
	degraded.BehaviorScore = 0.9
	degraded.RiskScore = 0.9
	degraded.NetworkZone = "external"
	degraded.Device = DeviceHealth{}

	result := v.Reverify(degraded)
	if result["previous_decision"] != DecisionAllow {
		t.Errorf("previous_decision = %v, want allow", result["previous_decision"])
	}
	if result["current_decision"] != DecisionDeny {
		t.Errorf("current_decision = %v, want deny", result["current_decision"])
	}
	if result["escalated"] != true {
		t.Errorf("escalated = %v, want true", result["escalated"])
	}

	state, ok := v.SessionState(ctx.EntityID, ctx.SessionID)
	if !ok {
		t.Fatal("session state missing")
	}
	if state["escalation_count"] != 1 {
		t.Errorf("escalation_count = %v, want 1", state["escalation_count"])
	}
}

func TestReverifyImprovementIsNotEscalation(t *testing.T) {
	v, _ := newTestVerifier(time.Now())

	weak := weakContext()
	weak.SessionID = "sess-improve"
	v.InitializeSession(weak)

	recovered := strongContext()
	recovered.EntityID = weak.EntityID
	recovered.SessionID = weak.SessionID

	result := v.Reverify(recovered)
	if result["current_decision"] != DecisionAllow {
		t.Errorf("current_decision = %v, want allow", result["current_decision"])
	}
	if result["escalated"] != false {
		t.Errorf("allow after deny reported as escalation")
	}
}

func TestNeedsReverificationTiming(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	v, clock := newTestVerifier(start)
	ctx := strongContext()
	ctx.SessionID = "sess-time"
	v.InitializeSession(ctx)

	if v.NeedsReverification(ctx.EntityID, ctx.SessionID) {
		t.Error("fresh session flagged as stale")
	}
	*clock = start.Add(DefaultReverifyInterval + time.Second)
	if !v.NeedsReverification(ctx.EntityID, ctx.SessionID) {
		t.Error("stale session not flagged")
	}
	if !v.NeedsReverification("ghost", "nope") {
		t.Error("unknown session should need verification")
	}
}

func TestTrustTrend(t *testing.T) {
	tests := []struct {
		name    string
		history []float64
		want    string
	}{
		{"single point", []float64{0.9}, "unknown"},
		{"empty", nil, "unknown"},
		{"degrading", []float64{0.9, 0.5, 0.4}, "degrading"},
		{"improving", []float64{0.3, 0.7, 0.8}, "improving"},
		{"stable", []float64{0.6, 0.62, 0.61}, "stable"},
		{"long history uses last three", []float64{0.1, 0.1, 0.9, 0.5, 0.4}, "degrading"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trustTrend(tt.history); got != tt.want {
				t.Errorf("trustTrend(%v) = %q, want %q", tt.history, got, tt.want)
			}
		})
	}
}

func TestSessionKeysAreDistinct(t *testing.T) {
	v, _ := newTestVerifier(time.Now())

	a := strongContext()
	a.EntityID = "a:b"
	a.SessionID = "c"
	v.InitializeSession(a)

	b := weakContext()
	b.EntityID = "a"
	b.SessionID = "b:c"
	v.InitializeSession(b)

	if v.ActiveSessionCount() != 2 {
		t.Fatalf("active sessions = %d, want 2 distinct keys", v.ActiveSessionCount())
	}
	sa, _ := v.SessionState("a:b", "c")
	sb, _ := v.SessionState("a", "b:c")
	if sa["initial_decision"] == sb["initial_decision"] {
		t.Errorf("states collided: %v vs %v", sa, sb)
	}
}

func TestSweepDue(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	v, clock := newTestVerifier(start)

	for _, id := range []string{"s1", "s2", "s3"} {
		ctx := strongContext()
		ctx.SessionID = id
		v.InitializeSession(ctx)
	}
	*clock = start.Add(DefaultReverifyInterval + time.Minute)

	var order []string
	swept := v.SweepDue(context.Background(), func(entityID, sessionID string) error {
		order = append(order, sessionID)
		return nil
	})
	if swept != 3 {
		t.Errorf("swept = %d, want 3", swept)
	}
	for i := 1; i < len(order); i++ {
		if order[i-1] > order[i] {
			t.Errorf("sweep order not sorted: %v", order)
		}
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if n := v.SweepDue(cancelled, func(string, string) error { return nil }); n != 0 {
		t.Errorf("cancelled sweep processed %d sessions", n)
	}
}

func TestEndSession(t *testing.T) {
	v, _ := newTestVerifier(time.Now())
	ctx := strongContext()
	ctx.SessionID = "sess-end"
	v.InitializeSession(ctx)

	if !v.EndSession(ctx.EntityID, ctx.SessionID) {
		t.Error("EndSession returned false for live session")
	}
	if v.EndSession(ctx.EntityID, ctx.SessionID) {
		t.Error("EndSession returned true for dead session")
	}
	if v.ActiveSessionCount() != 0 {
		t.Errorf("active sessions = %d after end", v.ActiveSessionCount())
	}
}
