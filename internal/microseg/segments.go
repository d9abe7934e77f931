package microseg

import (
	"math"
	"sort"
	"sync"
)

// Segment is a zero-trust zone with explicit membership and communication
// allowances.
type Segment struct {
	SegmentID       string
	Name            string
	Description     string
	TrustLevel      float64
	Members         map[string]bool
	AllowedInbound  map[string]bool
	AllowedOutbound map[string]bool
	AllowedPorts    map[int]bool
	Tags            map[string]string
}

// SegmentSummary is the wire form of a segment.
type SegmentSummary struct {
	SegmentID       string   `json:"segment_id"`
	Name            string   `json:"name"`
	TrustLevel      float64  `json:"trust_level"`
	MemberCount     int      `json:"member_count"`
	AllowedInbound  []string `json:"allowed_inbound"`
	AllowedOutbound []string `json:"allowed_outbound"`
}

// SegmentManager owns segment definitions, membership, and the
// inter-segment allow list. Everything is default-deny: unknown members and
// unsanctioned cross-segment traffic are refused.
type SegmentManager struct {
	mu       sync.RWMutex
	segments map[string]*Segment
}

func NewSegmentManager() *SegmentManager {
	return &SegmentManager{segments: make(map[string]*Segment)}
}

// CreateSegment registers a new segment, replacing any previous definition
// with the same id.
func (m *SegmentManager) CreateSegment(id, name, description string, trustLevel float64) *Segment {
	seg := &Segment{
		SegmentID:       id,
		Name:            name,
		Description:     description,
		TrustLevel:      trustLevel,
		Members:         make(map[string]bool),
		AllowedInbound:  make(map[string]bool),
		AllowedOutbound: make(map[string]bool),
		AllowedPorts:    make(map[int]bool),
		Tags:            make(map[string]string),
	}
	m.mu.Lock()
	m.segments[id] = seg
	m.mu.Unlock()
	return seg
}

// AddMember puts an endpoint into a segment; false for unknown segments.
func (m *SegmentManager) AddMember(segmentID, member string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, ok := m.segments[segmentID]
	if !ok {
		return false
	}
	seg.Members[member] = true
	return true
}

// RemoveMember drops an endpoint from a segment.
func (m *SegmentManager) RemoveMember(segmentID, member string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, ok := m.segments[segmentID]
	if !ok {
		return false
	}
	delete(seg.Members, member)
	return true
}

// MemberSegment finds which segment an endpoint belongs to.
func (m *SegmentManager) MemberSegment(member string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memberSegmentLocked(member)
}

func (m *SegmentManager) memberSegmentLocked(member string) (string, bool) {
	ids := make([]string, 0, len(m.segments))
	for id := range m.segments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if m.segments[id].Members[member] {
			return id, true
		}
	}
	return "", false
}

// MembershipMap returns member → segment id for every known member.
func (m *SegmentManager) MembershipMap() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string)
	for id, seg := range m.segments {
		for member := range seg.Members {
			out[member] = id
		}
	}
	return out
}

// AllowCommunication opens a directed allowance between segments and
// optionally pins the destination's allowed ports.
func (m *SegmentManager) AllowCommunication(fromSeg, toSeg string, ports []int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, srcOK := m.segments[fromSeg]
	dst, dstOK := m.segments[toSeg]
	if !srcOK || !dstOK {
		return false
	}
	src.AllowedOutbound[toSeg] = true
	dst.AllowedInbound[fromSeg] = true
	for _, p := range ports {
		dst.AllowedPorts[p] = true
	}
	return true
}

// IsAllowed checks whether traffic from one member to another on a port is
// permitted: both must belong to segments, same segment always passes, and
// cross-segment traffic needs an outbound allowance plus, when the
// destination restricts ports, a listed port.
func (m *SegmentManager) IsAllowed(srcMember, dstMember string, port int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	srcSegID, ok := m.memberSegmentLocked(srcMember)
	if !ok {
		return false
	}
	dstSegID, ok := m.memberSegmentLocked(dstMember)
	if !ok {
		return false
	}
	if srcSegID == dstSegID {
		return true
	}

	srcSeg := m.segments[srcSegID]
	dstSeg := m.segments[dstSegID]
	if !srcSeg.AllowedOutbound[dstSegID] {
		return false
	}
	if port > 0 && len(dstSeg.AllowedPorts) > 0 && !dstSeg.AllowedPorts[port] {
		return false
	}
	return true
}

// SegmentCount reports how many segments exist.
func (m *SegmentManager) SegmentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.segments)
}

// Summaries lists all segments sorted by id.
func (m *SegmentManager) Summaries() []SegmentSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.segments))
	for id := range m.segments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]SegmentSummary, 0, len(ids))
	for _, id := range ids {
		seg := m.segments[id]
		out = append(out, SegmentSummary{
			SegmentID:       seg.SegmentID,
			Name:            seg.Name,
			TrustLevel:      seg.TrustLevel,
			MemberCount:     len(seg.Members),
			AllowedInbound:  sortedSet(seg.AllowedInbound),
			AllowedOutbound: sortedSet(seg.AllowedOutbound),
		})
	}
	return out
}

// IsolationScore measures how closed the segment topology is: 1 minus the
// fraction of ordered cross-segment pairs with an outbound allowance. No
// segments scores 0; a single segment scores 1.
func (m *SegmentManager) IsolationScore() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.segments) == 0 {
		return 0.0
	}
	totalPossible := len(m.segments) * (len(m.segments) - 1)
	if totalPossible == 0 {
		return 1.0
	}
	actual := 0
	for _, seg := range m.segments {
		actual += len(seg.AllowedOutbound)
	}
	return math.Round((1.0-float64(actual)/float64(totalPossible))*10000) / 10000
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
