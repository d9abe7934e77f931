package lateral

import (
	"context"
	"fmt"
	"reflect"
	"testing"
)

func TestDetectCredentialHopping(t *testing.T) {
	d := NewMovementDetector()
	for i := 0; i < 6; i++ {
		d.AddAccessEvent(Edge{
			Src:            "attacker",
			Dst:            fmt.Sprintf("target-%d", i),
			Action:         "access",
			Timestamp:      float64(i),
			CredentialType: "password",
			Success:        true,
		})
	}

	alerts, err := d.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts = %v, want exactly one", alerts)
	}

	a := alerts[0]
	if a.AlertType != "credential_hopping" {
		t.Errorf("alert_type = %q", a.AlertType)
	}
	// 6 unique targets over threshold 3 -> min(1, 6/6) = 1.0
	if a.Severity != 1.0 {
		t.Errorf("severity = %v, want 1.0", a.Severity)
	}
	// Path is capped at threshold+2 targets, in timestamp order.
	wantPath := []string{"attacker", "target-0", "target-1", "target-2", "target-3", "target-4"}
	if !reflect.DeepEqual(a.Path, wantPath) {
		t.Errorf("path = %v, want %v", a.Path, wantPath)
	}
	if a.Details["hop_count"] != 6 || a.Details["threshold"] != 3 {
		t.Errorf("details = %v", a.Details)
	}
}

func TestDetectBelowHopThreshold(t *testing.T) {
	d := NewMovementDetector()
	d.AddAccessEvent(Edge{Src: "user", Dst: "r1", Timestamp: 1, Success: true})
	d.AddAccessEvent(Edge{Src: "user", Dst: "r2", Timestamp: 2, Success: true})

	alerts, err := d.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("alerts = %v, want none below threshold", alerts)
	}
}

func TestDetectPrivilegeEscalation(t *testing.T) {
	d := NewMovementDetector()
	g := d.Graph()

	lowFeatures := make([]float64, DefaultFeatureDim)
	SetPrivilegeLevel(lowFeatures, 0.1)
	g.AddNode("intern", "entity", lowFeatures)

	highFeatures := make([]float64, DefaultFeatureDim)
	SetPrivilegeLevel(highFeatures, 0.95)
	g.AddNode("domain-admin", "entity", highFeatures)

	g.AddEdge(Edge{Src: "intern", Dst: "jump-host", Timestamp: 1, Success: true})
	g.AddEdge(Edge{Src: "jump-host", Dst: "domain-admin", Timestamp: 2, Success: true})

	alerts, err := d.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}

	var found *Alert
	for i := range alerts {
		if alerts[i].AlertType == "privilege_escalation" {
			found = &alerts[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("no privilege_escalation alert in %v", alerts)
	}
	wantPath := []string{"intern", "jump-host", "domain-admin"}
	if !reflect.DeepEqual(found.Path, wantPath) {
		t.Errorf("path = %v, want %v", found.Path, wantPath)
	}
	// 3-node path -> 0.6 + 0.1*3
	if found.Severity != 0.9 {
		t.Errorf("severity = %v, want 0.9", found.Severity)
	}
	if found.Details["hops"] != 2 {
		t.Errorf("hops = %v, want 2", found.Details["hops"])
	}
}

func TestDetectEmbeddingAnomaly(t *testing.T) {
	d := NewMovementDetector()
	features := make([]float64, DefaultFeatureDim)
	features[1] = 0.5
	d.Graph().AddNode("svc", "entity", features)
	d.AddAccessEvent(Edge{Src: "svc", Dst: "db", Timestamp: 1, Success: true})

	if n := d.LearnBaseline(); n != 2 {
		t.Fatalf("LearnBaseline = %d, want 2", n)
	}

	// Blow up svc's features so its embedding drifts past the threshold.
	drifted := make([]float64, DefaultFeatureDim)
	for i := range drifted {
		drifted[i] = 50
	}
	d.Graph().AddNode("svc", "entity", drifted)

	alerts, err := d.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}

	var found *Alert
	for i := range alerts {
		if alerts[i].AlertType == "embedding_anomaly" {
			found = &alerts[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("no embedding_anomaly alert in %v", alerts)
	}
	if !reflect.DeepEqual(found.Path, []string{"svc"}) {
		t.Errorf("path = %v, want [svc]", found.Path)
	}
	if found.Severity <= 0 || found.Severity > 1 {
		t.Errorf("severity = %v out of (0,1]", found.Severity)
	}
}

func TestDetectSortedBySeverity(t *testing.T) {
	d := NewMovementDetector()
	for i := 0; i < 4; i++ {
		d.AddAccessEvent(Edge{Src: "hopper", Dst: fmt.Sprintf("r%d", i), Timestamp: float64(i), Success: true})
	}
	low := make([]float64, DefaultFeatureDim)
	SetPrivilegeLevel(low, 0.1)
	d.Graph().AddNode("low", "entity", low)
	high := make([]float64, DefaultFeatureDim)
	SetPrivilegeLevel(high, 0.9)
	d.Graph().AddNode("high", "entity", high)
	d.Graph().AddEdge(Edge{Src: "low", Dst: "mid", Timestamp: 1, Success: true})
	d.Graph().AddEdge(Edge{Src: "mid", Dst: "high", Timestamp: 2, Success: true})

	alerts, err := d.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	for i := 1; i < len(alerts); i++ {
		if alerts[i-1].Severity < alerts[i].Severity {
			t.Errorf("alerts not sorted by severity desc: %v", alerts)
		}
	}
}

func TestDetectCancellation(t *testing.T) {
	d := NewMovementDetector()
	d.AddAccessEvent(Edge{Src: "a", Dst: "b", Timestamp: 1, Success: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Detect(ctx); err == nil {
		t.Error("Detect with cancelled context returned nil error")
	}
}

func TestEmbeddingsDeterministicForSeed(t *testing.T) {
	build := func() *MovementDetector {
		d := NewMovementDetector(WithSeed(99))
		d.AddAccessEvent(Edge{Src: "a", Dst: "b", Timestamp: 1, Success: true})
		d.AddAccessEvent(Edge{Src: "b", Dst: "c", Timestamp: 2, Success: true})
		f := make([]float64, DefaultFeatureDim)
		f[2] = 0.4
		d.Graph().AddNode("a", "entity", f)
		return d
	}

	n1, e1 := build().ComputeEmbeddings()
	n2, e2 := build().ComputeEmbeddings()
	if !reflect.DeepEqual(n1, n2) || !reflect.DeepEqual(e1, e2) {
		t.Error("embeddings differ across identical seeded runs")
	}
}

func TestAnalyzePath(t *testing.T) {
	d := NewMovementDetector()
	g := d.Graph()
	g.AddEdge(Edge{Src: "a", Dst: "b", Timestamp: 1, CredentialType: "password", Success: true})
	g.AddEdge(Edge{Src: "b", Dst: "c", Timestamp: 2, CredentialType: "api_key", Success: false})
	g.AddEdge(Edge{Src: "c", Dst: "d", Timestamp: 3, CredentialType: "certificate", Success: true})

	result := d.AnalyzePath([]string{"a", "b", "c", "d"})
	if result["path_length"] != 4 {
		t.Errorf("path_length = %v", result["path_length"])
	}
	if result["credential_changes"] != 2 {
		t.Errorf("credential_changes = %v, want 2", result["credential_changes"])
	}
	if result["failed_attempts"] != 1 {
		t.Errorf("failed_attempts = %v, want 1", result["failed_attempts"])
	}
	// 4*0.05 + 2*0.1 + 1*0.05 = 0.45
	if result["risk_score"] != 0.45 {
		t.Errorf("risk_score = %v, want 0.45", result["risk_score"])
	}

	short := d.AnalyzePath([]string{"a"})
	if short["reason"] != "path_too_short" || short["risk"] != 0.0 {
		t.Errorf("short path result = %v", short)
	}
}
