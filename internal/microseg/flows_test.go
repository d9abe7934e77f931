package microseg

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
)

// twoClusterAnalyzer builds two tight clusters with a few cross-cluster
// flows between them.
func twoClusterAnalyzer(seed int64) *FlowAnalyzer {
	rng := rand.New(rand.NewSource(seed))
	fa := NewFlowAnalyzer()

	hostsA := []string{"10.1.1.1", "10.1.1.2", "10.1.1.3"}
	hostsB := []string{"10.1.2.1", "10.1.2.2", "10.1.2.3"}
	for i := 0; i < 20; i++ {
		fa.AddFlow(Flow{Src: hostsA[rng.Intn(3)], Dst: hostsA[rng.Intn(3)], Port: 8080})
		fa.AddFlow(Flow{Src: hostsB[rng.Intn(3)], Dst: hostsB[rng.Intn(3)], Port: 3306})
	}
	for i := 0; i < 5; i++ {
		fa.AddFlow(Flow{Src: hostsA[rng.Intn(3)], Dst: hostsB[rng.Intn(3)], Port: 443})
	}
	return fa
}

func TestAddFlow(t *testing.T) {
	fa := NewFlowAnalyzer()
	fa.AddFlow(Flow{Src: "a", Dst: "b", Port: 80})

	if fa.FlowCount() != 1 {
		t.Errorf("FlowCount = %d, want 1", fa.FlowCount())
	}
	if got := fa.Endpoints(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Endpoints = %v", got)
	}
	// Protocol defaults to tcp.
	if fa.Flows()[0].Protocol != "tcp" {
		t.Errorf("default protocol = %q", fa.Flows()[0].Protocol)
	}
}

func TestCommunicationMatrix(t *testing.T) {
	fa := twoClusterAnalyzer(1)
	endpoints, mat := fa.CommunicationMatrix()

	if len(endpoints) != 6 {
		t.Fatalf("endpoints = %v, want 6", endpoints)
	}
	if len(mat) != 6 || len(mat[0]) != 6 {
		t.Fatalf("matrix shape = %dx%d", len(mat), len(mat[0]))
	}
	total := 0.0
	for _, row := range mat {
		for _, v := range row {
			total += v
		}
	}
	if total != 45 {
		t.Errorf("matrix total = %v, want 45 flows", total)
	}
}

func TestDiscoverClusters(t *testing.T) {
	fa := twoClusterAnalyzer(1)
	clusters := fa.DiscoverClusters(0.05)

	if len(clusters) < 1 {
		t.Fatal("no clusters discovered")
	}
	seen := make(map[string]int)
	for _, cluster := range clusters {
		for _, ep := range cluster {
			seen[ep]++
		}
	}
	if len(seen) != 6 {
		t.Errorf("clusters cover %d endpoints, want 6", len(seen))
	}
	for ep, n := range seen {
		if n != 1 {
			t.Errorf("endpoint %s in %d clusters", ep, n)
		}
	}

	// Deterministic for the same input.
	again := twoClusterAnalyzer(1).DiscoverClusters(0.05)
	if !reflect.DeepEqual(clusters, again) {
		t.Error("DiscoverClusters not deterministic")
	}
}

func TestDiscoverClustersSmallInputs(t *testing.T) {
	if got := NewFlowAnalyzer().DiscoverClusters(0.1); got != nil {
		t.Errorf("empty analyzer clusters = %v, want nil", got)
	}

	fa := NewFlowAnalyzer()
	fa.AddFlow(Flow{Src: "solo", Dst: "solo", Port: 1})
	clusters := fa.DiscoverClusters(0.1)
	if len(clusters) != 1 || !reflect.DeepEqual(clusters[0], []string{"solo"}) {
		t.Errorf("single endpoint clusters = %v", clusters)
	}
}

func TestCrossSegmentFlows(t *testing.T) {
	fa := twoClusterAnalyzer(1)
	membership := map[string]string{
		"10.1.1.1": "web", "10.1.1.2": "web", "10.1.1.3": "web",
		"10.1.2.1": "app", "10.1.2.2": "app", "10.1.2.3": "app",
	}

	cross := fa.CrossSegmentFlows(membership)
	if len(cross) != 5 {
		t.Errorf("cross flows = %d, want 5", len(cross))
	}
	for _, c := range cross {
		if c.SrcSegment == c.DstSegment {
			t.Errorf("same-segment flow reported as cross: %+v", c)
		}
	}
}

func TestTopTalkers(t *testing.T) {
	fa := NewFlowAnalyzer()
	for i := 0; i < 5; i++ {
		fa.AddFlow(Flow{Src: "chatty", Dst: fmt.Sprintf("peer-%d", i), Port: 80})
	}
	fa.AddFlow(Flow{Src: "quiet", Dst: "chatty", Port: 80})

	talkers := fa.TopTalkers(3)
	if len(talkers) != 3 {
		t.Fatalf("talkers = %v", talkers)
	}
	if talkers[0].Endpoint != "chatty" || talkers[0].Total != 6 {
		t.Errorf("top talker = %+v, want chatty with 6", talkers[0])
	}
	for i := 1; i < len(talkers); i++ {
		if talkers[i-1].Total < talkers[i].Total {
			t.Errorf("talkers not sorted: %v", talkers)
		}
	}
}

func TestPortSummary(t *testing.T) {
	fa := NewFlowAnalyzer()
	fa.AddFlow(Flow{Src: "a", Dst: "b", Port: 443})
	fa.AddFlow(Flow{Src: "a", Dst: "b", Port: 443})
	fa.AddFlow(Flow{Src: "a", Dst: "c", Port: 22})

	summary := fa.PortSummary()
	want := []PortCount{{Port: 443, Count: 2}, {Port: 22, Count: 1}}
	if !reflect.DeepEqual(summary, want) {
		t.Errorf("PortSummary = %v, want %v", summary, want)
	}
}
