package risk

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ThreatIntel is an in-memory threat intelligence store: malicious IPs,
// compromised entities, and Tor exit nodes. External feeds populate it;
// the risk engine only reads.
type ThreatIntel struct {
	mu           sync.RWMutex
	maliciousIPs map[string]struct{}
	compromised  map[string]struct{}
	torExitNodes map[string]struct{}
}

func NewThreatIntel() *ThreatIntel {
	return &ThreatIntel{
		maliciousIPs: make(map[string]struct{}),
		compromised:  make(map[string]struct{}),
		torExitNodes: make(map[string]struct{}),
	}
}

func (t *ThreatIntel) AddMaliciousIP(ip string) {
	t.mu.Lock()
	t.maliciousIPs[ip] = struct{}{}
	t.mu.Unlock()
	log.Info().Str("ip", ip).Msg("malicious IP added to threat intel")
}

func (t *ThreatIntel) RemoveMaliciousIP(ip string) {
	t.mu.Lock()
	delete(t.maliciousIPs, ip)
	t.mu.Unlock()
}

func (t *ThreatIntel) AddCompromisedEntity(entityID string) {
	t.mu.Lock()
	t.compromised[entityID] = struct{}{}
	t.mu.Unlock()
	log.Info().Str("entity_id", entityID).Msg("compromised entity added to threat intel")
}

func (t *ThreatIntel) RemoveCompromisedEntity(entityID string) {
	t.mu.Lock()
	delete(t.compromised, entityID)
	t.mu.Unlock()
}

func (t *ThreatIntel) AddTorExitNode(ip string) {
	t.mu.Lock()
	t.torExitNodes[ip] = struct{}{}
	t.mu.Unlock()
}

func (t *ThreatIntel) RemoveTorExitNode(ip string) {
	t.mu.Lock()
	delete(t.torExitNodes, ip)
	t.mu.Unlock()
}

// CheckIP returns 1.0 for a known-malicious IP, 0.7 for a Tor exit node,
// 0 otherwise.
func (t *ThreatIntel) CheckIP(ip string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.maliciousIPs[ip]; ok {
		return 1.0
	}
	if _, ok := t.torExitNodes[ip]; ok {
		return 0.7
	}
	return 0
}

// CheckCredential returns 0.9 when the entity's credentials are known
// compromised, 0 otherwise.
func (t *ThreatIntel) CheckCredential(entityID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.compromised[entityID]; ok {
		return 0.9
	}
	return 0
}

// Summary reports store sizes plus sorted samples for dashboards.
func (t *ThreatIntel) Summary() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return map[string]interface{}{
		"malicious_ips":        len(t.maliciousIPs),
		"compromised_entities": len(t.compromised),
		"tor_exit_nodes":       len(t.torExitNodes),
	}
}

// CompromisedEntities lists flagged entities in lexicographic order.
func (t *ThreatIntel) CompromisedEntities() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.compromised))
	for id := range t.compromised {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
