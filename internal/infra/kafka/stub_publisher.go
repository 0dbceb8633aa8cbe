package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Debug("Stub event published", append([]zap.Field{
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
	}, fields...)...)
}

// PublishDeviceLifecycle logs biometric.device.<kind> events.
func (p *StubPublisher) PublishDeviceLifecycle(_ context.Context, event domain.DeviceLifecycleEvent) error {
	p.logEvent(DeviceEventType(event.Kind), event.OwnerID, event.OccurredAt,
		zap.String("device_id", event.DeviceID),
		zap.String("actor", event.Actor),
	)
	return nil
}

// PublishAuthLogged logs biometric.auth.logged events.
func (p *StubPublisher) PublishAuthLogged(_ context.Context, event domain.AuthLoggedEvent) error {
	p.logEvent(topicAuthLogged, event.UserID, event.LoggedAt,
		zap.String("entry_id", event.EntryID),
		zap.String("auth_type", string(event.AuthType)),
		zap.Bool("success", event.Success),
	)
	return nil
}

// PublishSessionEnded logs biometric.session.ended events.
func (p *StubPublisher) PublishSessionEnded(_ context.Context, event domain.SessionEndedEvent) error {
	p.logEvent(topicSessionEnded, event.UserID, event.EndedAt,
		zap.Int("sessions_ended", event.SessionsEnded),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
