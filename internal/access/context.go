package access

import (
	"math"
	"time"
)

// Decision kinds, ordered by strictness via decisionSeverity.
const (
	DecisionAllow     = "allow"
	DecisionRestrict  = "restrict"
	DecisionChallenge = "challenge"
	DecisionDeny      = "deny"
)

// decisionSeverity is the explicit strictness order used for escalation
// detection. String comparison of the decision names happens to produce the
// same order today; never rely on that.
var decisionSeverity = map[string]int{
	DecisionAllow:     0,
	DecisionRestrict:  1,
	DecisionChallenge: 2,
	DecisionDeny:      3,
}

// Stricter reports whether decision a is stricter than decision b.
func Stricter(a, b string) bool {
	return decisionSeverity[a] > decisionSeverity[b]
}

// DeviceHealth captures a device's security posture at evaluation time.
type DeviceHealth struct {
	DeviceID        string  `json:"device_id,omitempty"`
	OSPatched       bool    `json:"os_patched"`
	AntivirusActive bool    `json:"antivirus_active"`
	DiskEncrypted   bool    `json:"disk_encrypted"`
	FirewallEnabled bool    `json:"firewall_enabled"`
	ComplianceScore float64 `json:"compliance_score"`
}

// HealthyDevice is the neutral posture assumed when no device signals arrive.
func HealthyDevice() DeviceHealth {
	return DeviceHealth{
		OSPatched:       true,
		AntivirusActive: true,
		DiskEncrypted:   true,
		FirewallEnabled: true,
		ComplianceScore: 1.0,
	}
}

// HealthScore blends the four boolean checks (60%) with the continuous
// compliance score (40%), rounded to 4 decimals.
func (d DeviceHealth) HealthScore() float64 {
	passed := 0
	for _, ok := range []bool{d.OSPatched, d.AntivirusActive, d.DiskEncrypted, d.FirewallEnabled} {
		if ok {
			passed++
		}
	}
	binary := float64(passed) / 4
	return math.Round((binary*0.6+d.ComplianceScore*0.4)*10000) / 10000
}

// Context carries every signal that feeds one access decision.
type Context struct {
	EntityID      string       `json:"entity_id"`
	Resource      string       `json:"resource"`
	Action        string       `json:"action"`
	SourceIP      string       `json:"source_ip,omitempty"`
	Location      string       `json:"location,omitempty"`
	Hour          int          `json:"hour"`
	DayOfWeek     int          `json:"day_of_week"`
	Device        DeviceHealth `json:"device"`
	BehaviorScore float64      `json:"behavior_score"`
	RiskScore     float64      `json:"risk_score"`
	SessionID     string       `json:"session_id,omitempty"`
	AuthMethod    string       `json:"auth_method"`
	MFAVerified   bool         `json:"mfa_verified"`
	NetworkZone   string       `json:"network_zone"`
	Timestamp     time.Time    `json:"timestamp,omitempty"`
}

// authStrengthTable maps authentication methods to base strength scores.
var authStrengthTable = map[string]float64{
	"certificate":    0.9,
	"hardware_token": 0.85,
	"biometric":      0.8,
	"totp":           0.7,
	"api_key":        0.5,
	"password":       0.4,
	"session_cookie": 0.3,
}

// networkTrustTable maps network zones to trust scores.
var networkTrustTable = map[string]float64{
	"internal": 0.7,
	"vpn":      0.6,
	"dmz":      0.4,
	"external": 0.2,
}

// AuthStrength scores the authentication method, adding 0.2 for verified
// MFA, capped at 1.0. Unknown methods score 0.3.
func (c Context) AuthStrength() float64 {
	base, ok := authStrengthTable[c.AuthMethod]
	if !ok {
		base = 0.3
	}
	if c.MFAVerified {
		base = math.Min(1.0, base+0.2)
	}
	return base
}

// NetworkTrust scores the network zone; unknown zones score 0.1.
func (c Context) NetworkTrust() float64 {
	if trust, ok := networkTrustTable[c.NetworkZone]; ok {
		return trust
	}
	return 0.1
}

// Summary renders the context signals as a wire-friendly map.
func (c Context) Summary() map[string]interface{} {
	return map[string]interface{}{
		"entity_id":      c.EntityID,
		"resource":       c.Resource,
		"action":         c.Action,
		"source_ip":      c.SourceIP,
		"location":       c.Location,
		"device_health":  c.Device.HealthScore(),
		"behavior_score": c.BehaviorScore,
		"risk_score":     c.RiskScore,
		"auth_strength":  c.AuthStrength(),
		"network_trust":  c.NetworkTrust(),
		"mfa_verified":   c.MFAVerified,
	}
}
