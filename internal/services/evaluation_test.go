package services

import (
	"context"
	"testing"
	"time"

	"github.com/zerotrust/access-engine/internal/access"
	"github.com/zerotrust/access-engine/internal/behavioral"
	"github.com/zerotrust/access-engine/internal/identity"
	"github.com/zerotrust/access-engine/internal/models"
	"github.com/zerotrust/access-engine/internal/risk"
)

func newTestService() *EvaluationService {
	store := behavioral.NewBaselineStore()
	engine := access.NewDecisionEngine()
	return NewEvaluationService(Deps{
		Baselines:  store,
		Detector:   behavioral.NewAnomalyDetector(store),
		Risk:       risk.NewEngine(nil),
		Decisions:  engine,
		Verifier:   access.NewContinuousVerifier(engine),
		Identities: identity.NewRegistry(),
	})
}

func intPtr(v int) *int { return &v }

func trustedEvent(entity string) models.AccessEvent {
	return models.AccessEvent{
		EntityID:    entity,
		Resource:    "crm",
		Action:      "read",
		Location:    "office",
		SourceIP:    "10.0.0.5",
		Hour:        intPtr(10),
		DayOfWeek:   intPtr(2),
		AuthMethod:  "certificate",
		MFAVerified: true,
		NetworkZone: "internal",
	}
}

func warmBaseline(s *EvaluationService, entity string, n int) {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		ev := trustedEvent(entity)
		if _, err := s.ProcessEvent(ctx, &ev); err != nil {
			panic(err)
		}
	}
}

func TestProcessEventStateless(t *testing.T) {
	s := newTestService()
	warmBaseline(s, "alice", 20)

	ev := trustedEvent("alice")
	result, err := s.ProcessEvent(context.Background(), &ev)
	if err != nil {
		t.Fatalf("ProcessEvent error: %v", err)
	}

	if result.Decision != access.DecisionAllow {
		t.Errorf("decision = %q, want allow (trust %.4f, anomaly %.4f)",
			result.Decision, result.TrustScore, result.Anomaly.AnomalyScore)
	}
	if result.Anomaly.AnomalyScore > 0.3 {
		t.Errorf("habitual event scored anomalous: %.4f", result.Anomaly.AnomalyScore)
	}
	if result.Verification != nil {
		t.Error("stateless event produced verification state")
	}
	if result.Risk.EntityID != "alice" {
		t.Errorf("risk entity = %q", result.Risk.EntityID)
	}
}

func TestProcessEventRejectsMissingEntity(t *testing.T) {
	s := newTestService()
	ev := models.AccessEvent{Resource: "crm"}
	if _, err := s.ProcessEvent(context.Background(), &ev); err == nil {
		t.Error("event without entity_id accepted")
	}
}

func TestProcessEventHonorsCancellation(t *testing.T) {
	s := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := trustedEvent("alice")
	if _, err := s.ProcessEvent(ctx, &ev); err == nil {
		t.Error("cancelled context not honored")
	}
}

func TestProcessEventTracksSession(t *testing.T) {
	s := newTestService()
	warmBaseline(s, "alice", 20)

	ev := trustedEvent("alice")
	ev.SessionID = "sess-1"
	result, err := s.ProcessEvent(context.Background(), &ev)
	if err != nil {
		t.Fatalf("ProcessEvent error: %v", err)
	}

	if result.Verification == nil {
		t.Fatal("session event missing verification payload")
	}
	if result.Decision == "" {
		t.Error("decision not extracted from verification payload")
	}
	if s.Verifier().ActiveSessionCount() != 1 {
		t.Errorf("tracked sessions = %d, want 1", s.Verifier().ActiveSessionCount())
	}
	if got := s.Identities().ActiveSessions("alice"); len(got) != 1 {
		t.Errorf("registry sessions = %d, want 1", len(got))
	}

	// Same session again counts as a re-verification, not a new session.
	ev2 := trustedEvent("alice")
	ev2.SessionID = "sess-1"
	result2, err := s.ProcessEvent(context.Background(), &ev2)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := result2.Verification["escalated"]; !ok {
		t.Errorf("second evaluation missing escalated flag: %v", result2.Verification)
	}
	if s.Verifier().ActiveSessionCount() != 1 {
		t.Errorf("tracked sessions = %d after reverify, want 1", s.Verifier().ActiveSessionCount())
	}
}

func TestReverifySweep(t *testing.T) {
	s := newTestService()
	warmBaseline(s, "alice", 20)

	ev := trustedEvent("alice")
	ev.SessionID = "sess-1"
	if _, err := s.ProcessEvent(context.Background(), &ev); err != nil {
		t.Fatal(err)
	}

	// Shrink the freshness window so the session is immediately stale.
	s.Verifier().SetReverifyInterval(time.Nanosecond)
	time.Sleep(2 * time.Millisecond)

	if swept := s.ReverifySweep(context.Background()); swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}

	state, ok := s.Verifier().SessionState("alice", "sess-1")
	if !ok {
		t.Fatal("session state lost after sweep")
	}
	if state["verification_count"].(int) < 1 {
		t.Errorf("verification_count = %v, want >= 1", state["verification_count"])
	}
}

func TestEndSession(t *testing.T) {
	s := newTestService()
	ev := trustedEvent("alice")
	ev.SessionID = "sess-1"
	if _, err := s.ProcessEvent(context.Background(), &ev); err != nil {
		t.Fatal(err)
	}

	if !s.EndSession("alice", "sess-1") {
		t.Error("EndSession returned false for tracked session")
	}
	if s.Verifier().ActiveSessionCount() != 0 {
		t.Error("verifier still tracks ended session")
	}
	if s.EndSession("alice", "sess-1") {
		t.Error("EndSession returned true for unknown session")
	}
}

func TestContextFromEventDefaults(t *testing.T) {
	ev := models.AccessEvent{EntityID: "alice"}
	actx := ContextFromEvent(&ev)

	if actx.NetworkZone != "internal" {
		t.Errorf("default zone = %q", actx.NetworkZone)
	}
	if actx.AuthMethod != "password" {
		t.Errorf("default auth method = %q", actx.AuthMethod)
	}
	if actx.Device.HealthScore() != 1.0 {
		t.Errorf("default device health = %v", actx.Device.HealthScore())
	}

	compliance := 0.4
	patched := false
	ev2 := models.AccessEvent{
		EntityID:         "bob",
		DeviceCompliance: &compliance,
		OSPatched:        &patched,
		NetworkZone:      "external",
		AuthMethod:       "totp",
	}
	actx2 := ContextFromEvent(&ev2)
	if actx2.Device.ComplianceScore != 0.4 || actx2.Device.OSPatched {
		t.Errorf("device signals not applied: %+v", actx2.Device)
	}
	if actx2.NetworkZone != "external" || actx2.AuthMethod != "totp" {
		t.Errorf("explicit signals overridden: %+v", actx2)
	}
}
