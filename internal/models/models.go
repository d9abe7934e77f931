package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityKind enum values
const (
	EntityKindUser    = "user"
	EntityKindService = "service"
	EntityKindSystem  = "system"
)

// RiskLevel enum values
const (
	RiskLevelLow      = "low"
	RiskLevelMedium   = "medium"
	RiskLevelHigh     = "high"
	RiskLevelCritical = "critical"
)

// AccessEvent is the canonical wire event: the HTTP facade, the Redis Stream,
// the Kafka topic and the demo generator all speak this shape. Every field
// except EntityID is optional; pointer fields distinguish "absent" from zero.
type AccessEvent struct {
	EntityID        string             `json:"entity_id"`
	EntityType      string             `json:"entity_type,omitempty"`
	SessionID       string             `json:"session_id,omitempty"`
	Resource        string             `json:"resource,omitempty"`
	Action          string             `json:"action,omitempty"`
	Location        string             `json:"location,omitempty"`
	SourceIP        string             `json:"source_ip,omitempty"`
	Hour            *int               `json:"hour,omitempty"`
	DayOfWeek       *int               `json:"day_of_week,omitempty"`
	SessionDuration *float64           `json:"session_duration,omitempty"`
	Features        map[string]float64 `json:"features,omitempty"`

	// Signals consumed by the decision pipeline.
	AuthMethod       string   `json:"auth_method,omitempty"`
	MFAVerified      bool     `json:"mfa_verified,omitempty"`
	NetworkZone      string   `json:"network_zone,omitempty"`
	DeviceCompliance *float64 `json:"device_compliance,omitempty"`
	OSPatched        *bool    `json:"os_patched,omitempty"`
	AntivirusActive  *bool    `json:"antivirus_active,omitempty"`
	DiskEncrypted    *bool    `json:"disk_encrypted,omitempty"`
	FirewallEnabled  *bool    `json:"firewall_enabled,omitempty"`

	Timestamp  time.Time `json:"timestamp,omitempty"`
	RetryCount int       `json:"retry_count,omitempty"`
}

// HourValue returns the hour field and whether it was present and in range.
func (e *AccessEvent) HourValue() (int, bool) {
	if e.Hour == nil || *e.Hour < 0 || *e.Hour > 23 {
		return 0, false
	}
	return *e.Hour, true
}

// DayValue returns the day-of-week field and whether it was present and in range.
func (e *AccessEvent) DayValue() (int, bool) {
	if e.DayOfWeek == nil || *e.DayOfWeek < 0 || *e.DayOfWeek > 6 {
		return 0, false
	}
	return *e.DayOfWeek, true
}

// JSONMap is a helper type for loosely structured payloads (audit records,
// websocket envelopes, diagnostic details).
type JSONMap map[string]interface{}

func (j JSONMap) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// AuditRecord is an entry in the in-process audit ring kept by the
// ingestion service.
type AuditRecord struct {
	ID        uuid.UUID `json:"id"`
	EventType string    `json:"event_type"`
	EntityID  string    `json:"entity_id"`
	Action    string    `json:"action"`
	Payload   JSONMap   `json:"payload,omitempty"`
	RequestID string    `json:"request_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEventType enum values
const (
	AuditEventObservation = "observation"
	AuditEventDecision    = "decision"
	AuditEventPolicy      = "policy_update"
	AuditEventIntel       = "intel_update"
	AuditEventLogin       = "operator_login"
)

// Pagination represents pagination parameters
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}
