package ingestion

import (
	"context"
	"testing"

	"github.com/zerotrust/access-engine/internal/models"
)

func intPtr(v int) *int             { return &v }
func floatPtr(v float64) *float64   { return &v }

func TestValidateEventRequiresEntity(t *testing.T) {
	ev := models.AccessEvent{Resource: "db"}
	if err := ValidateEvent(&ev); err == nil {
		t.Error("missing entity_id accepted")
	}
}

func TestValidateEventDropsBadFields(t *testing.T) {
	ev := models.AccessEvent{
		EntityID:        "alice",
		Hour:            intPtr(25),
		DayOfWeek:       intPtr(9),
		SessionDuration: floatPtr(-5),
	}
	if err := ValidateEvent(&ev); err != nil {
		t.Fatalf("ValidateEvent error: %v", err)
	}
	if ev.Hour != nil || ev.DayOfWeek != nil || ev.SessionDuration != nil {
		t.Errorf("out-of-range fields kept: hour=%v dow=%v dur=%v", ev.Hour, ev.DayOfWeek, ev.SessionDuration)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
}

func TestValidateEventKeepsGoodFields(t *testing.T) {
	ev := models.AccessEvent{EntityID: "alice", Hour: intPtr(9), DayOfWeek: intPtr(2)}
	if err := ValidateEvent(&ev); err != nil {
		t.Fatalf("ValidateEvent error: %v", err)
	}
	if ev.Hour == nil || *ev.Hour != 9 || ev.DayOfWeek == nil || *ev.DayOfWeek != 2 {
		t.Errorf("valid fields dropped: %+v", ev)
	}
}

func TestIngestEventWithoutStream(t *testing.T) {
	s := NewService(nil, nil)
	ev := models.AccessEvent{EntityID: "alice", Resource: "db", Action: "read"}

	resp, err := s.IngestEvent(context.Background(), &ev, "req-1")
	if err != nil {
		t.Fatalf("IngestEvent error: %v", err)
	}
	if resp.Status != "accepted" || resp.EntityID != "alice" {
		t.Errorf("response = %+v", resp)
	}

	trail := s.AuditTrail("alice", 10)
	if len(trail) != 1 || trail[0].EventType != models.AuditEventObservation {
		t.Errorf("audit trail = %v", trail)
	}
}

func TestIngestBatchPartialFailure(t *testing.T) {
	s := NewService(nil, nil)
	req := &BatchRequest{Events: []models.AccessEvent{
		{EntityID: "alice", Resource: "db"},
		{Resource: "no-entity"},
		{EntityID: "bob", Resource: "api"},
	}}

	resp := s.IngestBatch(context.Background(), req, "req-2")
	if resp.Successful != 2 || resp.Failed != 1 {
		t.Errorf("batch = %+v", resp)
	}
	if resp.Results[1].Status != "rejected" {
		t.Errorf("bad event result = %+v", resp.Results[1])
	}
}

func TestAuditTrailFilterAndOrder(t *testing.T) {
	s := NewService(nil, nil)
	for i := 0; i < 3; i++ {
		ev := models.AccessEvent{EntityID: "alice", Resource: "db"}
		s.IngestEvent(context.Background(), &ev, "req")
	}
	ev := models.AccessEvent{EntityID: "bob", Resource: "api"}
	s.IngestEvent(context.Background(), &ev, "req")
	s.RecordDecision("alice", "deny", models.JSONMap{"trust": 0.2}, "req")

	alice := s.AuditTrail("alice", 0)
	if len(alice) != 4 {
		t.Fatalf("alice trail = %d records", len(alice))
	}
	// Newest first.
	if alice[0].EventType != models.AuditEventDecision {
		t.Errorf("newest record = %+v", alice[0])
	}

	limited := s.AuditTrail("alice", 2)
	if len(limited) != 2 {
		t.Errorf("limited trail = %d records", len(limited))
	}

	all := s.AuditTrail("", 0)
	if len(all) != 5 {
		t.Errorf("full trail = %d records", len(all))
	}
}

func TestAuditSummary(t *testing.T) {
	s := NewService(nil, nil)
	ev := models.AccessEvent{EntityID: "alice"}
	s.IngestEvent(context.Background(), &ev, "req")
	s.RecordDecision("alice", "allow", nil, "req")

	summary := s.AuditSummary()
	if summary["total_records"] != 2 {
		t.Errorf("total_records = %v", summary["total_records"])
	}
	byType := summary["by_type"].(map[string]int)
	if byType[models.AuditEventObservation] != 1 || byType[models.AuditEventDecision] != 1 {
		t.Errorf("by_type = %v", byType)
	}
}
