package microseg

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DefaultMinFlowCount is the evidence bar for recommending a segment pair
// policy.
const DefaultMinFlowCount = 5

// Recommendation proposes allowing traffic between two segments based on
// observed flows.
type Recommendation struct {
	SrcSegment   string  `json:"src_segment"`
	DstSegment   string  `json:"dst_segment"`
	AllowedPorts []int   `json:"allowed_ports"`
	Protocol     string  `json:"protocol"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
}

// SegmentProposal suggests a new segment around a discovered cluster.
type SegmentProposal struct {
	SuggestedSegment string   `json:"suggested_segment"`
	Members          []string `json:"members"`
	Reason           string   `json:"reason"`
	Confidence       float64  `json:"confidence"`
}

// PolicyRecommender turns observed flows plus segment definitions into
// least-privilege policy proposals.
type PolicyRecommender struct {
	flows        *FlowAnalyzer
	segments     *SegmentManager
	minFlowCount int
}

func NewPolicyRecommender(flows *FlowAnalyzer, segments *SegmentManager, minFlowCount int) *PolicyRecommender {
	if minFlowCount <= 0 {
		minFlowCount = DefaultMinFlowCount
	}
	return &PolicyRecommender{flows: flows, segments: segments, minFlowCount: minFlowCount}
}

// Recommend groups cross-segment flows by (src segment, dst segment) and
// emits one recommendation per pair with enough observed traffic. Sorted by
// confidence descending, ties by segment pair.
func (r *PolicyRecommender) Recommend() []Recommendation {
	membership := r.segments.MembershipMap()

	type pair struct{ src, dst string }
	type agg struct {
		count  int
		ports  map[int]bool
		protos map[string]bool
	}
	grouped := make(map[pair]*agg)

	for _, f := range r.flows.Flows() {
		srcSeg, srcOK := membership[f.Src]
		dstSeg, dstOK := membership[f.Dst]
		if !srcOK || !dstOK || srcSeg == dstSeg {
			continue
		}
		key := pair{srcSeg, dstSeg}
		if grouped[key] == nil {
			grouped[key] = &agg{ports: make(map[int]bool), protos: make(map[string]bool)}
		}
		grouped[key].count++
		grouped[key].ports[f.Port] = true
		grouped[key].protos[f.Protocol] = true
	}

	var recs []Recommendation
	for key, data := range grouped {
		if data.count < r.minFlowCount {
			continue
		}
		ports := make([]int, 0, len(data.ports))
		for p := range data.ports {
			ports = append(ports, p)
		}
		sort.Ints(ports)

		recs = append(recs, Recommendation{
			SrcSegment:   key.src,
			DstSegment:   key.dst,
			AllowedPorts: ports,
			Protocol:     strings.Join(sortedSet(data.protos), ","),
			Confidence:   math.Round(math.Min(1.0, float64(data.count)/100.0)*10000) / 10000,
			Reason:       fmt.Sprintf("Observed %d flows across %d ports", data.count, len(data.ports)),
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Confidence != recs[j].Confidence {
			return recs[i].Confidence > recs[j].Confidence
		}
		if recs[i].SrcSegment != recs[j].SrcSegment {
			return recs[i].SrcSegment < recs[j].SrcSegment
		}
		return recs[i].DstSegment < recs[j].DstSegment
	})
	return recs
}

// RecommendSegments wraps cluster discovery into proposals for clusters
// with no existing segment overlap.
func (r *PolicyRecommender) RecommendSegments(threshold float64) []SegmentProposal {
	clusters := r.flows.DiscoverClusters(threshold)

	var proposals []SegmentProposal
	for i, cluster := range clusters {
		hasExisting := false
		for _, member := range cluster {
			if _, ok := r.segments.MemberSegment(member); ok {
				hasExisting = true
				break
			}
		}
		if hasExisting {
			continue
		}
		proposals = append(proposals, SegmentProposal{
			SuggestedSegment: fmt.Sprintf("auto-seg-%d", i),
			Members:          cluster,
			Reason:           fmt.Sprintf("Cluster of %d frequently communicating endpoints", len(cluster)),
			Confidence:       math.Min(1.0, float64(len(cluster))/5.0),
		})
	}
	return proposals
}

// CoverageReport measures how much observed traffic current segments
// account for.
func (r *PolicyRecommender) CoverageReport() map[string]interface{} {
	membership := r.segments.MembershipMap()
	flows := r.flows.Flows()

	covered := 0
	unsegmented := make(map[string]bool)
	for _, f := range flows {
		_, srcOK := membership[f.Src]
		_, dstOK := membership[f.Dst]
		if srcOK && dstOK {
			covered++
		}
		if !srcOK {
			unsegmented[f.Src] = true
		}
		if !dstOK {
			unsegmented[f.Dst] = true
		}
	}

	coveragePct := 0.0
	if len(flows) > 0 {
		coveragePct = math.Round(float64(covered)/float64(len(flows))*1000) / 10
	}
	return map[string]interface{}{
		"total_flows":           len(flows),
		"covered_flows":         covered,
		"coverage_pct":          coveragePct,
		"unsegmented_endpoints": sortedSet(unsegmented),
		"segments_defined":      r.segments.SegmentCount(),
	}
}
