package behavioral

import (
	"testing"

	"github.com/zerotrust/access-engine/internal/models"
)

func TestUnusualHours(t *testing.T) {
	store := NewBaselineStore()
	for i := 0; i < 99; i++ {
		store.Observe("alice", models.AccessEvent{Hour: intPtr(10)})
	}
	store.Observe("alice", models.AccessEvent{Hour: intPtr(3)})
	pa := NewPatternAnalyzer(store)

	hours := pa.UnusualHours("alice", 0.05)
	if len(hours) != 1 || hours[0] != 3 {
		t.Errorf("unusual hours = %v, want [3]", hours)
	}

	if got := pa.UnusualHours("nobody", 0.05); got != nil {
		t.Errorf("unknown entity hours = %v, want nil", got)
	}
}

func TestLocationEntropy(t *testing.T) {
	tests := []struct {
		name      string
		locations []string
		want      float64
	}{
		{name: "single location", locations: []string{"us-east", "us-east", "us-east"}, want: 0},
		{name: "two equal locations", locations: []string{"us-east", "eu-west"}, want: 1},
		{name: "four equal locations", locations: []string{"a", "b", "c", "d"}, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewBaselineStore()
			for _, loc := range tt.locations {
				store.Observe("ent", models.AccessEvent{Location: loc})
			}
			pa := NewPatternAnalyzer(store)
			if got := pa.LocationEntropy("ent"); !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("entropy = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResourceConcentration(t *testing.T) {
	tests := []struct {
		name      string
		resources []string
		want      float64
	}{
		{name: "single resource", resources: []string{"db", "db", "db"}, want: 1},
		{name: "two equal resources", resources: []string{"db", "api"}, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewBaselineStore()
			for _, r := range tt.resources {
				store.Observe("ent", models.AccessEvent{Resource: r})
			}
			pa := NewPatternAnalyzer(store)
			if got := pa.ResourceConcentration("ent"); !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("concentration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTopKResourcesAndSpread(t *testing.T) {
	store := NewBaselineStore()
	for i := 0; i < 5; i++ {
		store.Observe("alice", models.AccessEvent{Resource: "db", Hour: intPtr(9)})
	}
	for i := 0; i < 3; i++ {
		store.Observe("alice", models.AccessEvent{Resource: "api", Hour: intPtr(14)})
	}
	store.Observe("alice", models.AccessEvent{Resource: "wiki"})
	pa := NewPatternAnalyzer(store)

	top := pa.TopKResources("alice", 2)
	if len(top) != 2 || top[0] != "db" || top[1] != "api" {
		t.Errorf("top resources = %v, want [db api]", top)
	}
	if got := pa.ActivitySpread("alice"); got != 2 {
		t.Errorf("activity spread = %d, want 2", got)
	}
}

func TestDurationOutliers(t *testing.T) {
	store := NewBaselineStore()
	pa := NewPatternAnalyzer(store)

	t.Run("insufficient sessions", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			store.Observe("short", models.AccessEvent{SessionDuration: floatPtr(3600)})
		}
		if got := pa.DurationOutliers("short", []float64{99999}, 3); got != nil {
			t.Errorf("outliers = %v, want nil under five sessions", got)
		}
	})

	t.Run("flags extreme values only", func(t *testing.T) {
		for i := 0; i < 6; i++ {
			store.Observe("steady", models.AccessEvent{SessionDuration: floatPtr(3600)})
		}
		got := pa.DurationOutliers("steady", []float64{3600, 3601, 40000}, 3)
		if len(got) != 1 || got[0] != 40000 {
			t.Errorf("outliers = %v, want [40000]", got)
		}
	})
}

func TestEntropyOfUnknownEntity(t *testing.T) {
	pa := NewPatternAnalyzer(NewBaselineStore())
	if got := pa.LocationEntropy("ghost"); got != 0 {
		t.Errorf("entropy = %v, want 0", got)
	}
	if got := pa.ResourceConcentration("ghost"); got != 0 {
		t.Errorf("concentration = %v, want 0", got)
	}
	if got := pa.ActivitySpread("ghost"); got != 0 {
		t.Errorf("spread = %v, want 0", got)
	}
	if got := pa.TopKResources("ghost", 3); got != nil {
		t.Errorf("top resources = %v, want nil", got)
	}
}
