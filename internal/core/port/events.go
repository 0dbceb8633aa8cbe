package port

import (
	"context"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishDeviceLifecycle(ctx context.Context, event domain.DeviceLifecycleEvent) error
	PublishAuthLogged(ctx context.Context, event domain.AuthLoggedEvent) error
	PublishSessionEnded(ctx context.Context, event domain.SessionEndedEvent) error
}
