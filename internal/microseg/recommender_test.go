package microseg

import (
	"reflect"
	"testing"
)

func TestRecommend(t *testing.T) {
	fa := NewFlowAnalyzer()
	sm := threeTierManager()

	// web -> app traffic over two ports, enough volume to recommend.
	for i := 0; i < 6; i++ {
		fa.AddFlow(Flow{Src: "10.1.1.1", Dst: "10.1.2.1", Port: 8080})
	}
	fa.AddFlow(Flow{Src: "10.1.1.2", Dst: "10.1.2.2", Port: 8443})
	// app -> data below the evidence bar.
	fa.AddFlow(Flow{Src: "10.1.2.1", Dst: "10.1.3.1", Port: 3306})
	// Same-segment traffic never recommended.
	fa.AddFlow(Flow{Src: "10.1.1.1", Dst: "10.1.1.2", Port: 22})
	// Unsegmented endpoints skipped.
	fa.AddFlow(Flow{Src: "mystery", Dst: "10.1.2.1", Port: 9999})

	recs := NewPolicyRecommender(fa, sm, 5).Recommend()
	if len(recs) != 1 {
		t.Fatalf("recommendations = %v, want exactly one", recs)
	}

	rec := recs[0]
	if rec.SrcSegment != "web" || rec.DstSegment != "app" {
		t.Errorf("pair = %s->%s", rec.SrcSegment, rec.DstSegment)
	}
	if !reflect.DeepEqual(rec.AllowedPorts, []int{8080, 8443}) {
		t.Errorf("ports = %v", rec.AllowedPorts)
	}
	// 7 flows -> min(1, 7/100)
	if rec.Confidence != 0.07 {
		t.Errorf("confidence = %v, want 0.07", rec.Confidence)
	}
	if rec.Reason != "Observed 7 flows across 2 ports" {
		t.Errorf("reason = %q", rec.Reason)
	}
}

func TestRecommendSortedByConfidence(t *testing.T) {
	fa := NewFlowAnalyzer()
	sm := threeTierManager()

	for i := 0; i < 20; i++ {
		fa.AddFlow(Flow{Src: "10.1.2.1", Dst: "10.1.3.1", Port: 3306})
	}
	for i := 0; i < 6; i++ {
		fa.AddFlow(Flow{Src: "10.1.1.1", Dst: "10.1.2.1", Port: 8080})
	}

	recs := NewPolicyRecommender(fa, sm, 5).Recommend()
	if len(recs) != 2 {
		t.Fatalf("recommendations = %v", recs)
	}
	if recs[0].SrcSegment != "app" || recs[1].SrcSegment != "web" {
		t.Errorf("order = %s, %s; want app first", recs[0].SrcSegment, recs[1].SrcSegment)
	}
}

func TestRecommendSegments(t *testing.T) {
	fa := NewFlowAnalyzer()
	sm := NewSegmentManager()

	// Unsegmented cluster of chatty hosts.
	for i := 0; i < 10; i++ {
		fa.AddFlow(Flow{Src: "svc-a", Dst: "svc-b", Port: 9000})
		fa.AddFlow(Flow{Src: "svc-b", Dst: "svc-a", Port: 9000})
	}

	proposals := NewPolicyRecommender(fa, sm, 5).RecommendSegments(0.05)
	if len(proposals) == 0 {
		t.Fatal("no segment proposals for unsegmented cluster")
	}
	p := proposals[0]
	if p.SuggestedSegment != "auto-seg-0" {
		t.Errorf("suggested name = %q", p.SuggestedSegment)
	}
	if !reflect.DeepEqual(p.Members, []string{"svc-a", "svc-b"}) {
		t.Errorf("members = %v", p.Members)
	}

	// Clusters overlapping existing segments are not proposed.
	sm.CreateSegment("existing", "Existing", "", 0.5)
	sm.AddMember("existing", "svc-a")
	if got := NewPolicyRecommender(fa, sm, 5).RecommendSegments(0.05); len(got) != 0 {
		t.Errorf("proposals for covered cluster = %v", got)
	}
}

func TestCoverageReport(t *testing.T) {
	fa := NewFlowAnalyzer()
	sm := threeTierManager()

	fa.AddFlow(Flow{Src: "10.1.1.1", Dst: "10.1.2.1", Port: 8080})
	fa.AddFlow(Flow{Src: "10.1.1.1", Dst: "rogue-host", Port: 22})

	report := NewPolicyRecommender(fa, sm, 5).CoverageReport()
	if report["total_flows"] != 2 || report["covered_flows"] != 1 {
		t.Errorf("report = %v", report)
	}
	if report["coverage_pct"] != 50.0 {
		t.Errorf("coverage_pct = %v, want 50.0", report["coverage_pct"])
	}
	if got := report["unsegmented_endpoints"].([]string); !reflect.DeepEqual(got, []string{"rogue-host"}) {
		t.Errorf("unsegmented = %v", got)
	}
	if report["segments_defined"] != 3 {
		t.Errorf("segments_defined = %v", report["segments_defined"])
	}
}

func TestCoverageReportEmpty(t *testing.T) {
	report := NewPolicyRecommender(NewFlowAnalyzer(), NewSegmentManager(), 0).CoverageReport()
	if report["total_flows"] != 0 || report["coverage_pct"] != 0.0 {
		t.Errorf("empty report = %v", report)
	}
}
