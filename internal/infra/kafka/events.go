package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
	"github.com/CharbellTrad/biometric-service/internal/infra/config"
)

const schemaVersion = "1.0"

const (
	topicAuthLogged   = "biometric.auth.logged"
	topicSessionEnded = "biometric.session.ended"
)

// DeviceEventType returns the event type for a device lifecycle transition.
func DeviceEventType(kind domain.DeviceAuditKind) string {
	return "biometric.device." + string(kind)
}

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Key:   sarama.StringEncoder(userID),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishDeviceLifecycle publishes biometric.device.<kind> events.
func (p *EventPublisher) PublishDeviceLifecycle(ctx context.Context, event domain.DeviceLifecycleEvent) error {
	payload := struct {
		DeviceID   string         `json:"device_id"`
		OwnerID    string         `json:"owner_id"`
		DeviceUUID string         `json:"device_uuid"`
		DeviceName string         `json:"device_name"`
		Platform   string         `json:"platform"`
		Kind       string         `json:"kind"`
		Actor      string         `json:"actor"`
		OccurredAt time.Time      `json:"occurred_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		DeviceID:   event.DeviceID,
		OwnerID:    event.OwnerID,
		DeviceUUID: event.DeviceUUID,
		DeviceName: event.DeviceName,
		Platform:   string(event.Platform),
		Kind:       string(event.Kind),
		Actor:      event.Actor,
		OccurredAt: event.OccurredAt.UTC(),
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, DeviceEventType(event.Kind), event.OwnerID, event.OccurredAt, payload)
}

// PublishAuthLogged publishes biometric.auth.logged events.
func (p *EventPublisher) PublishAuthLogged(ctx context.Context, event domain.AuthLoggedEvent) error {
	payload := struct {
		EntryID   string         `json:"entry_id"`
		UserID    string         `json:"user_id"`
		DeviceID  *string        `json:"device_id,omitempty"`
		AuthType  string         `json:"auth_type"`
		Success   bool           `json:"success"`
		ErrorCode *string        `json:"error_code,omitempty"`
		SessionID *string        `json:"session_id,omitempty"`
		LoggedAt  time.Time      `json:"logged_at"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		EntryID:   event.EntryID,
		UserID:    event.UserID,
		DeviceID:  event.DeviceID,
		AuthType:  string(event.AuthType),
		Success:   event.Success,
		ErrorCode: event.ErrorCode,
		SessionID: event.SessionID,
		LoggedAt:  event.LoggedAt.UTC(),
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, topicAuthLogged, event.UserID, event.LoggedAt, payload)
}

// PublishSessionEnded publishes biometric.session.ended events.
func (p *EventPublisher) PublishSessionEnded(ctx context.Context, event domain.SessionEndedEvent) error {
	payload := struct {
		UserID        string         `json:"user_id"`
		SessionID     *string        `json:"session_id,omitempty"`
		DeviceID      *string        `json:"device_id,omitempty"`
		SessionsEnded int            `json:"sessions_ended"`
		EndedAt       time.Time      `json:"ended_at"`
		Metadata      map[string]any `json:"metadata,omitempty"`
	}{
		UserID:        event.UserID,
		SessionID:     event.SessionID,
		DeviceID:      event.DeviceID,
		SessionsEnded: event.SessionsEnded,
		EndedAt:       event.EndedAt.UTC(),
		Metadata:      event.Metadata,
	}

	return p.publish(ctx, event.EventID, topicSessionEnded, event.UserID, event.EndedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
