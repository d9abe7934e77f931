package ingestion

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zerotrust/access-engine/internal/models"
	"github.com/zerotrust/access-engine/internal/queue"
)

// maxAuditRecords bounds the in-process audit ring.
const maxAuditRecords = 10000

// BatchRequest wraps a batch of access events.
type BatchRequest struct {
	Events []models.AccessEvent `json:"events" binding:"required,min=1,max=1000"`
}

// IngestResponse reports the outcome of ingesting one event.
type IngestResponse struct {
	EntityID  string    `json:"entity_id"`
	Status    string    `json:"status"`
	MessageID string    `json:"message_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message,omitempty"`
}

// BatchResponse reports per-event outcomes for a batch.
type BatchResponse struct {
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Results    []IngestResponse `json:"results"`
}

// Service validates incoming access events, keeps an audit trail, and
// optionally forwards events onto the Redis stream for async processing.
// Stream and cache clients may be nil in single-process deployments.
type Service struct {
	streamClient *queue.RedisStreamClient
	cacheClient  *queue.CacheClient

	mu    sync.RWMutex
	audit []models.AuditRecord
}

func NewService(streamClient *queue.RedisStreamClient, cacheClient *queue.CacheClient) *Service {
	return &Service{streamClient: streamClient, cacheClient: cacheClient}
}

// ValidateEvent checks an event's required field and drops out-of-range
// optional fields in place. EntityID is the only hard requirement; bad
// hour/day values are cleared rather than rejected so one malformed field
// never loses the whole observation.
func ValidateEvent(ev *models.AccessEvent) error {
	if ev.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if ev.Hour != nil && (*ev.Hour < 0 || *ev.Hour > 23) {
		log.Debug().Str("entity_id", ev.EntityID).Int("hour", *ev.Hour).Msg("dropping out-of-range hour")
		ev.Hour = nil
	}
	if ev.DayOfWeek != nil && (*ev.DayOfWeek < 0 || *ev.DayOfWeek > 6) {
		log.Debug().Str("entity_id", ev.EntityID).Int("day_of_week", *ev.DayOfWeek).Msg("dropping out-of-range day_of_week")
		ev.DayOfWeek = nil
	}
	if ev.SessionDuration != nil && *ev.SessionDuration < 0 {
		ev.SessionDuration = nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return nil
}

// IngestEvent validates one event, records it in the audit trail, and
// publishes it to the stream when one is configured.
func (s *Service) IngestEvent(ctx context.Context, ev *models.AccessEvent, requestID string) (*IngestResponse, error) {
	if err := ValidateEvent(ev); err != nil {
		return nil, err
	}

	s.recordAudit(models.AuditEventObservation, ev.EntityID, ev.Action, models.JSONMap{
		"resource":  ev.Resource,
		"source_ip": ev.SourceIP,
		"location":  ev.Location,
	}, requestID)

	resp := &IngestResponse{
		EntityID:  ev.EntityID,
		Status:    "accepted",
		CreatedAt: time.Now(),
	}

	if s.streamClient != nil {
		msgID, err := s.streamClient.Publish(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue event: %w", err)
		}
		resp.MessageID = msgID
		resp.Status = "queued"
	}

	return resp, nil
}

// IngestBatch processes events independently; one bad event does not fail
// the batch.
func (s *Service) IngestBatch(ctx context.Context, req *BatchRequest, requestID string) *BatchResponse {
	out := &BatchResponse{Results: make([]IngestResponse, 0, len(req.Events))}
	for i := range req.Events {
		resp, err := s.IngestEvent(ctx, &req.Events[i], requestID)
		if err != nil {
			out.Failed++
			out.Results = append(out.Results, IngestResponse{
				EntityID:  req.Events[i].EntityID,
				Status:    "rejected",
				CreatedAt: time.Now(),
				Message:   err.Error(),
			})
			continue
		}
		out.Successful++
		out.Results = append(out.Results, *resp)
	}

	log.Info().
		Int("successful", out.Successful).
		Int("failed", out.Failed).
		Str("request_id", requestID).
		Msg("batch ingested")
	return out
}

// RecordDecision appends a decision audit entry.
func (s *Service) RecordDecision(entityID, action string, payload models.JSONMap, requestID string) {
	s.recordAudit(models.AuditEventDecision, entityID, action, payload, requestID)
}

func (s *Service) recordAudit(eventType, entityID, action string, payload models.JSONMap, requestID string) {
	record := models.AuditRecord{
		ID:        uuid.New(),
		EventType: eventType,
		EntityID:  entityID,
		Action:    action,
		Payload:   payload,
		RequestID: requestID,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.audit = append(s.audit, record)
	if len(s.audit) > maxAuditRecords {
		s.audit = s.audit[len(s.audit)-maxAuditRecords:]
	}
	s.mu.Unlock()
}

// AuditTrail returns the most recent n audit records for an entity,
// newest first. An empty entity id matches everything.
func (s *Service) AuditTrail(entityID string, n int) []models.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AuditRecord
	for i := len(s.audit) - 1; i >= 0; i-- {
		if entityID != "" && s.audit[i].EntityID != entityID {
			continue
		}
		out = append(out, s.audit[i])
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out
}

// AuditSummary counts audit records per event type, keys sorted.
func (s *Service) AuditSummary() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, r := range s.audit {
		counts[r.EventType]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	byType := make(map[string]int, len(types))
	for _, t := range types {
		byType[t] = counts[t]
	}
	return map[string]interface{}{
		"total_records": len(s.audit),
		"by_type":       byType,
	}
}
