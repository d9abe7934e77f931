package behavioral

import (
	"testing"

	"github.com/zerotrust/access-engine/internal/models"
)

func TestAnalyzeInsufficientBaseline(t *testing.T) {
	store := NewBaselineStore()
	det := NewAnomalyDetector(store)

	tests := []struct {
		name    string
		entity  string
		prepare func()
	}{
		{name: "unknown entity", entity: "ghost", prepare: func() {}},
		{name: "under-observed entity", entity: "newbie", prepare: func() {
			trainEntity(store, "newbie", MinBaselineObservations-1)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.prepare()
			res := det.Analyze(tt.entity, models.AccessEvent{Hour: intPtr(3), Location: "nowhere"})
			if res.AnomalyScore != 0.5 {
				t.Errorf("score = %v, want 0.5", res.AnomalyScore)
			}
			if res.IsAnomalous {
				t.Error("under-baselined entity must not be flagged")
			}
			if res.Details["reason"] != "insufficient_baseline" {
				t.Errorf("reason = %v, want insufficient_baseline", res.Details["reason"])
			}
		})
	}
}

func TestAnalyzeRoutineEventScoresLow(t *testing.T) {
	store := NewBaselineStore()
	trainEntity(store, "alice", 50)
	det := NewAnomalyDetector(store)

	res := det.Analyze("alice", models.AccessEvent{
		Hour:            intPtr(10),
		Resource:        "db-prod",
		Location:        "us-east",
		SourceIP:        "10.0.1.10",
		SessionDuration: floatPtr(3600),
	})

	if res.AnomalyScore > 0.2 {
		t.Errorf("routine event scored %v, want <= 0.2", res.AnomalyScore)
	}
	if res.IsAnomalous {
		t.Error("routine event flagged anomalous")
	}
	for _, component := range []string{"time", "resource", "location", "ip", "duration"} {
		if _, ok := res.ComponentScores[component]; !ok {
			t.Errorf("missing component %q", component)
		}
	}
}

func TestAnalyzeNovelEverythingScoresHigh(t *testing.T) {
	store := NewBaselineStore()
	trainEntity(store, "alice", 50)
	det := NewAnomalyDetector(store)

	res := det.Analyze("alice", models.AccessEvent{
		Hour:            intPtr(3),
		Resource:        "secrets-vault",
		Location:        "ru-central",
		SourceIP:        "203.0.113.50",
		SessionDuration: floatPtr(30000),
	})

	if !res.IsAnomalous {
		t.Fatalf("fully novel event not flagged, score %v", res.AnomalyScore)
	}
	if res.AnomalyScore < 0.7 {
		t.Errorf("score = %v, want >= 0.7", res.AnomalyScore)
	}
	if res.Details["novel_location"] != "ru-central" {
		t.Errorf("novel_location detail = %v", res.Details["novel_location"])
	}
	if res.Details["novel_ip"] != "203.0.113.50" {
		t.Errorf("novel_ip detail = %v", res.Details["novel_ip"])
	}
	if res.Details["novel_resource"] != "secrets-vault" {
		t.Errorf("novel_resource detail = %v", res.Details["novel_resource"])
	}
}

func TestComponentScores(t *testing.T) {
	store := NewBaselineStore()
	trainEntity(store, "alice", 50)
	det := NewAnomalyDetector(store)

	tests := []struct {
		name      string
		event     models.AccessEvent
		component string
		want      float64
	}{
		{
			name:      "unseen location scores fixed novelty",
			event:     models.AccessEvent{Location: "antarctica"},
			component: "location",
			want:      0.9,
		},
		{
			name:      "unseen ip scores fixed novelty",
			event:     models.AccessEvent{SourceIP: "198.51.100.99"},
			component: "ip",
			want:      0.8,
		},
		{
			name:      "dominant location is fully normal",
			event:     models.AccessEvent{Location: "us-east"},
			component: "location",
			want:      0,
		},
		{
			name:      "habitual hour is fully normal",
			event:     models.AccessEvent{Hour: intPtr(10)},
			component: "time",
			want:      0,
		},
		{
			name:      "never-seen hour maxes out",
			event:     models.AccessEvent{Hour: intPtr(3)},
			component: "time",
			want:      1,
		},
		{
			name:      "evenly-shared resource is mild",
			event:     models.AccessEvent{Resource: "db-prod"},
			component: "resource",
			want:      0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := det.Analyze("alice", tt.event)
			got, ok := res.ComponentScores[tt.component]
			if !ok {
				t.Fatalf("component %q missing: %v", tt.component, res.ComponentScores)
			}
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("%s score = %v, want %v", tt.component, got, tt.want)
			}
		})
	}
}

func TestNovelResourceDampedByWideSurface(t *testing.T) {
	store := NewBaselineStore()
	// An entity that touches 80 distinct resources.
	for i := 0; i < 80; i++ {
		store.Observe("crawler", models.AccessEvent{Resource: string(rune('a'+i%26)) + string(rune('0'+i/26))})
	}
	det := NewAnomalyDetector(store)

	res := det.Analyze("crawler", models.AccessEvent{Resource: "brand-new"})
	got := res.ComponentScores["resource"]
	if got < 0.6 {
		t.Errorf("novel resource score = %v, want >= 0.6 floor", got)
	}
	if got >= 0.98 {
		t.Errorf("novel resource score = %v, want dampened below a narrow-surface entity's", got)
	}
}

func TestDurationComponent(t *testing.T) {
	store := NewBaselineStore()
	trainEntity(store, "alice", 50)
	det := NewAnomalyDetector(store)

	t.Run("typical duration scores low", func(t *testing.T) {
		res := det.Analyze("alice", models.AccessEvent{SessionDuration: floatPtr(3600)})
		if got := res.ComponentScores["duration"]; got > 0.1 {
			t.Errorf("duration score = %v, want near zero", got)
		}
	})

	t.Run("extreme duration saturates", func(t *testing.T) {
		res := det.Analyze("alice", models.AccessEvent{SessionDuration: floatPtr(86400)})
		if got := res.ComponentScores["duration"]; got < 0.95 {
			t.Errorf("duration score = %v, want near 1", got)
		}
	})

	t.Run("skipped under five samples", func(t *testing.T) {
		for i := 0; i < 12; i++ {
			store.Observe("nodur", models.AccessEvent{Hour: intPtr(9)})
		}
		res := det.Analyze("nodur", models.AccessEvent{SessionDuration: floatPtr(3600)})
		if _, ok := res.ComponentScores["duration"]; ok {
			t.Error("duration component present despite insufficient samples")
		}
		if res.Details["duration_skipped"] != "insufficient_samples" {
			t.Errorf("duration_skipped detail = %v", res.Details["duration_skipped"])
		}
	})
}

func TestCompositeWeighting(t *testing.T) {
	store := NewBaselineStore()
	trainEntity(store, "alice", 50)
	det := NewAnomalyDetector(store)

	// Location-only event: composite equals the single component exactly.
	res := det.Analyze("alice", models.AccessEvent{Location: "mars"})
	if !almostEqual(res.AnomalyScore, 0.9, 1e-9) {
		t.Errorf("single-component composite = %v, want 0.9", res.AnomalyScore)
	}

	// No scoreable field at all.
	empty := det.Analyze("alice", models.AccessEvent{})
	if empty.AnomalyScore != 0 {
		t.Errorf("empty event composite = %v, want 0", empty.AnomalyScore)
	}
	if empty.IsAnomalous {
		t.Error("empty event flagged anomalous")
	}
}

func TestSetThreshold(t *testing.T) {
	store := NewBaselineStore()
	trainEntity(store, "alice", 50)
	det := NewAnomalyDetector(store)
	det.SetThreshold(0.6)
	if det.Threshold() != 0.6 {
		t.Fatalf("threshold = %v, want 0.6", det.Threshold())
	}
	det.SetThreshold(1.5)
	if det.Threshold() != 0.6 {
		t.Errorf("out-of-range threshold accepted: %v", det.Threshold())
	}

	res := det.Analyze("alice", models.AccessEvent{Location: "mars", SourceIP: "8.8.8.8"})
	if !res.IsAnomalous {
		t.Errorf("score %v should flag at threshold 0.6", res.AnomalyScore)
	}
}

func TestAnalyzeBatchKeepsOrder(t *testing.T) {
	store := NewBaselineStore()
	trainEntity(store, "alice", 50)
	trainEntity(store, "bob", 50)
	det := NewAnomalyDetector(store)

	results := det.AnalyzeBatch([]models.AccessEvent{
		{EntityID: "alice", Location: "us-east"},
		{EntityID: "bob", Location: "mars"},
	})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].EntityID != "alice" || results[1].EntityID != "bob" {
		t.Errorf("batch order not preserved: %v, %v", results[0].EntityID, results[1].EntityID)
	}
	if results[0].AnomalyScore >= results[1].AnomalyScore {
		t.Errorf("expected novel location to outscore home location: %v vs %v",
			results[0].AnomalyScore, results[1].AnomalyScore)
	}
}
