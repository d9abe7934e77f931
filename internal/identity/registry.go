package identity

import (
	"sort"
	"sync"
	"time"
)

// Identity kinds.
const (
	KindUser    = "user"
	KindService = "service"
	KindSystem  = "system"
)

// Identity is a user, service, or system principal.
type Identity struct {
	ID         string            `json:"identity_id"`
	Name       string            `json:"name"`
	Kind       string            `json:"identity_type"`
	Email      string            `json:"email,omitempty"`
	Department string            `json:"department,omitempty"`
	Roles      []string          `json:"roles,omitempty"`
	Groups     []string          `json:"groups,omitempty"`
	Enabled    bool              `json:"enabled"`
	RiskLevel  string            `json:"risk_level,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	LastActive time.Time         `json:"last_active"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Device is a managed endpoint tied to an owner identity.
type Device struct {
	ID         string    `json:"device_id"`
	Name       string    `json:"name"`
	Kind       string    `json:"device_type"`
	OS         string    `json:"os,omitempty"`
	OSVersion  string    `json:"os_version,omitempty"`
	OwnerID    string    `json:"owner_id,omitempty"`
	Managed    bool      `json:"managed"`
	Compliant  bool      `json:"compliant"`
	Encrypted  bool      `json:"encrypted"`
	TrustScore float64   `json:"trust_score"`
	LastSeen   time.Time `json:"last_seen"`
}

// Session is one tracked login session.
type Session struct {
	SessionID  string    `json:"session_id"`
	IdentityID string    `json:"identity_id"`
	DeviceID   string    `json:"device_id,omitempty"`
	SourceIP   string    `json:"source_ip,omitempty"`
	Started    time.Time `json:"started"`
	Active     bool      `json:"active"`
}

// Registry is the central identity, device, and session store. It also
// correlates external aliases (emails, usernames from other systems) back
// to canonical identity ids.
type Registry struct {
	mu           sync.RWMutex
	identities   map[string]*Identity
	devices      map[string]*Device
	correlations map[string]map[string]bool
	sessions     map[string]*Session
	now          func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		identities:   make(map[string]*Identity),
		devices:      make(map[string]*Device),
		correlations: make(map[string]map[string]bool),
		sessions:     make(map[string]*Session),
		now:          time.Now,
	}
}

// RegisterIdentity inserts or replaces an identity. An empty kind defaults
// to "user"; timestamps are filled when zero.
func (r *Registry) RegisterIdentity(id Identity) {
	if id.Kind == "" {
		id.Kind = KindUser
	}
	now := r.now()
	if id.CreatedAt.IsZero() {
		id.CreatedAt = now
	}
	if id.LastActive.IsZero() {
		id.LastActive = now
	}
	r.mu.Lock()
	r.identities[id.ID] = &id
	r.mu.Unlock()
}

// GetIdentity returns a copy of an identity.
func (r *Registry) GetIdentity(id string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ident, ok := r.identities[id]
	if !ok {
		return Identity{}, false
	}
	return *ident, true
}

// FindByEmail locates the identity with a matching email. Ties are broken
// by id so lookups are deterministic.
func (r *Registry) FindByEmail(email string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.sortedIdentityIDs() {
		if r.identities[id].Email == email {
			return *r.identities[id], true
		}
	}
	return Identity{}, false
}

// FindByRole lists identities holding a role, sorted by id.
func (r *Registry) FindByRole(role string) []Identity {
	return r.filterIdentities(func(i *Identity) bool {
		for _, have := range i.Roles {
			if have == role {
				return true
			}
		}
		return false
	})
}

// FindByGroup lists identities in a group, sorted by id.
func (r *Registry) FindByGroup(group string) []Identity {
	return r.filterIdentities(func(i *Identity) bool {
		for _, have := range i.Groups {
			if have == group {
				return true
			}
		}
		return false
	})
}

func (r *Registry) filterIdentities(keep func(*Identity) bool) []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Identity
	for _, id := range r.sortedIdentityIDs() {
		if keep(r.identities[id]) {
			out = append(out, *r.identities[id])
		}
	}
	return out
}

func (r *Registry) sortedIdentityIDs() []string {
	ids := make([]string, 0, len(r.identities))
	for id := range r.identities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DisableIdentity marks an identity disabled; false for unknown ids.
func (r *Registry) DisableIdentity(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.identities[id]
	if !ok {
		return false
	}
	ident.Enabled = false
	return true
}

// RegisterDevice inserts or replaces a device.
func (r *Registry) RegisterDevice(d Device) {
	if d.LastSeen.IsZero() {
		d.LastSeen = r.now()
	}
	r.mu.Lock()
	r.devices[d.ID] = &d
	r.mu.Unlock()
}

// GetDevice returns a copy of a device.
func (r *Registry) GetDevice(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// UserDevices lists an owner's devices sorted by device id.
func (r *Registry) UserDevices(ownerID string) []Device {
	return r.filterDevices(func(d *Device) bool { return d.OwnerID == ownerID })
}

// NonCompliantDevices lists devices failing compliance, sorted by id.
func (r *Registry) NonCompliantDevices() []Device {
	return r.filterDevices(func(d *Device) bool { return !d.Compliant })
}

func (r *Registry) filterDevices(keep func(*Device) bool) []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []Device
	for _, id := range ids {
		if keep(r.devices[id]) {
			out = append(out, *r.devices[id])
		}
	}
	return out
}

// AddCorrelation links an external alias to an identity id.
func (r *Registry) AddCorrelation(alias, identityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.correlations[alias] == nil {
		r.correlations[alias] = make(map[string]bool)
	}
	r.correlations[alias][identityID] = true
}

// ResolveAlias returns the sorted identity ids linked to an alias.
func (r *Registry) ResolveAlias(alias string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.correlations[alias]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TrackSession records a session start and bumps the identity's last
// activity.
func (r *Registry) TrackSession(sessionID, identityID, deviceID, sourceIP string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = &Session{
		SessionID:  sessionID,
		IdentityID: identityID,
		DeviceID:   deviceID,
		SourceIP:   sourceIP,
		Started:    now,
		Active:     true,
	}
	if ident, ok := r.identities[identityID]; ok {
		ident.LastActive = now
	}
}

// EndSession deactivates a session; false for unknown sessions.
func (r *Registry) EndSession(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	s.Active = false
	return true
}

// ActiveSessions lists live sessions, optionally filtered to one identity,
// sorted by session id.
func (r *Registry) ActiveSessions(identityID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for sid := range r.sessions {
		ids = append(ids, sid)
	}
	sort.Strings(ids)
	var out []Session
	for _, sid := range ids {
		s := r.sessions[sid]
		if !s.Active {
			continue
		}
		if identityID != "" && s.IdentityID != identityID {
			continue
		}
		out = append(out, *s)
	}
	return out
}

// Summary aggregates registry counts.
func (r *Registry) Summary() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enabled := 0
	kinds := map[string]int{KindUser: 0, KindService: 0, KindSystem: 0}
	for _, i := range r.identities {
		if i.Enabled {
			enabled++
		}
		kinds[i.Kind]++
	}
	compliant := 0
	for _, d := range r.devices {
		if d.Compliant {
			compliant++
		}
	}
	active := 0
	for _, s := range r.sessions {
		if s.Active {
			active++
		}
	}
	return map[string]interface{}{
		"total_identities":   len(r.identities),
		"enabled_identities": enabled,
		"total_devices":      len(r.devices),
		"compliant_devices":  compliant,
		"active_sessions":    active,
		"identity_types":     kinds,
	}
}
