package analytics

import (
	"context"
	"testing"

	"github.com/zerotrust/access-engine/internal/access"
	"github.com/zerotrust/access-engine/internal/behavioral"
	"github.com/zerotrust/access-engine/internal/identity"
	"github.com/zerotrust/access-engine/internal/lateral"
	"github.com/zerotrust/access-engine/internal/microseg"
	"github.com/zerotrust/access-engine/internal/models"
	"github.com/zerotrust/access-engine/internal/policy"
	"github.com/zerotrust/access-engine/internal/risk"
)

func newTestDashboard() *DashboardService {
	baselines := behavioral.NewBaselineStore()
	engine := access.NewDecisionEngine()
	return NewDashboardService(
		baselines,
		risk.NewEngine(nil),
		engine,
		access.NewContinuousVerifier(engine),
		lateral.NewMovementDetector(),
		policy.NewEngine(),
		microseg.NewSegmentManager(),
		identity.NewRegistry(),
		nil,
	)
}

func TestSnapshotEmptyEngines(t *testing.T) {
	s := newTestDashboard()

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}

	if snap.ProfiledEntities != 0 || snap.ActiveSessions != 0 {
		t.Errorf("empty snapshot = %+v", snap)
	}
	if snap.DecisionStats[access.DecisionAllow] != 0 {
		t.Errorf("decision stats = %v", snap.DecisionStats)
	}
	if len(snap.LateralAlerts) != 0 {
		t.Errorf("alerts on empty graph: %v", snap.LateralAlerts)
	}
	if snap.PolicySummary["total_policies"] != 0 {
		t.Errorf("policy summary = %v", snap.PolicySummary)
	}
}

func TestSnapshotReflectsActivity(t *testing.T) {
	s := newTestDashboard()

	s.baselines.Observe("alice", models.AccessEvent{EntityID: "alice", Resource: "crm"})
	s.decisions.Evaluate(access.Context{
		EntityID: "alice", Resource: "crm", Action: "read",
		Device: access.HealthyDevice(), AuthMethod: "certificate",
		MFAVerified: true, NetworkZone: "internal",
	})
	s.riskEngine.Calculate(context.Background(), risk.RiskInput{
		EntityID: "alice", DeviceHealth: 1, NetworkTrust: 0.7, AuthStrength: 1,
	})
	s.identities.RegisterIdentity(identity.Identity{ID: "alice", Kind: identity.KindUser})

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if snap.ProfiledEntities != 1 {
		t.Errorf("profiled entities = %d", snap.ProfiledEntities)
	}
	if snap.DecisionStats[access.DecisionAllow] != 1 {
		t.Errorf("allow count = %d", snap.DecisionStats[access.DecisionAllow])
	}
	if len(snap.RecentDecisions) != 1 {
		t.Errorf("recent decisions = %d", len(snap.RecentDecisions))
	}
	if snap.PopulationRisk["total_entities"] != 1 {
		t.Errorf("population risk = %v", snap.PopulationRisk)
	}
	if len(snap.TopRiskEntities) != 1 || snap.TopRiskEntities[0].EntityID != "alice" {
		t.Errorf("top risk = %v", snap.TopRiskEntities)
	}
	if snap.IdentitySummary["total_identities"] != 1 {
		t.Errorf("identity summary = %v", snap.IdentitySummary)
	}
}

func TestSnapshotHonorsCancellation(t *testing.T) {
	s := newTestDashboard()
	s.detector.AddAccessEvent(lateral.Edge{Src: "a", Dst: "b", Success: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Snapshot(ctx); err == nil {
		t.Error("cancelled context not honored")
	}
}

func TestAlertCounts(t *testing.T) {
	snap := &DashboardSnapshot{LateralAlerts: []lateral.Alert{
		{AlertType: "credential_hopping"},
		{AlertType: "credential_hopping"},
		{AlertType: "privilege_escalation"},
	}}
	counts := snap.AlertCounts()
	if counts["credential_hopping"] != 2 || counts["privilege_escalation"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
