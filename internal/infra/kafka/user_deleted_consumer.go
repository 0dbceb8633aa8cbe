package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/CharbellTrad/biometric-service/internal/core/domain"
	"github.com/CharbellTrad/biometric-service/internal/infra/config"
)

// OwnerDeviceRemover deletes every device of a user.
type OwnerDeviceRemover interface {
	DeleteDevicesForOwner(ctx context.Context, ownerID, actor string) (int, error)
}

// UserDeletedConsumer removes the devices of users deleted from the identity
// directory. Their authentication history is kept.
type UserDeletedConsumer struct {
	remover OwnerDeviceRemover
	logger  *zap.Logger
}

// NewUserDeletedConsumer constructs the consumer.
func NewUserDeletedConsumer(remover OwnerDeviceRemover, logger *zap.Logger) *UserDeletedConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserDeletedConsumer{remover: remover, logger: logger}
}

// HandleMessage decodes a Kafka message and applies it. Both bare events and
// envelopes carrying the event under "payload" are accepted.
func (c *UserDeletedConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	body := msg.Value
	if err := json.Unmarshal(msg.Value, &envelope); err == nil && len(envelope.Payload) > 0 {
		body = envelope.Payload
	}

	var event domain.UserDeletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode user deleted event: %w", err)
	}

	return c.HandleEvent(ctx, event)
}

// HandleEvent deletes the user's devices.
func (c *UserDeletedConsumer) HandleEvent(ctx context.Context, event domain.UserDeletedEvent) error {
	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		return fmt.Errorf("user deleted event without user id")
	}

	actor := strings.TrimSpace(event.DeletedBy)
	if actor == "" {
		actor = "identity-directory"
	}

	count, err := c.remover.DeleteDevicesForOwner(ctx, userID, actor)
	if err != nil {
		c.logger.Warn("failed to delete devices of removed user", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("delete devices for user: %w", err)
	}

	c.logger.Info("processed user deleted event",
		zap.String("event_id", event.EventID),
		zap.String("user_id", userID),
		zap.Int("devices_deleted", count),
	)
	return nil
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *UserDeletedConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *UserDeletedConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler. Undecodable messages are
// logged and committed so a poison message cannot stall the partition.
func (c *UserDeletedConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.HandleMessage(session.Context(), msg); err != nil {
				c.logger.Error("user deleted message failed",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// ConsumerGroup runs a sarama consumer group for one handler.
type ConsumerGroup struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler sarama.ConsumerGroupHandler
	logger  *zap.Logger
}

// NewConsumerGroup joins the configured consumer group.
func NewConsumerGroup(cfg config.KafkaSettings, topics []string, handler sarama.ConsumerGroupHandler, logger *zap.Logger) (*ConsumerGroup, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.ClientID = "biometric-service"
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &ConsumerGroup{group: group, topics: topics, handler: handler, logger: logger}, nil
}

// Run consumes until ctx is cancelled.
func (g *ConsumerGroup) Run(ctx context.Context) error {
	go func() {
		for err := range g.group.Errors() {
			g.logger.Warn("kafka consumer group error", zap.Error(err))
		}
	}()

	g.logger.Info("Kafka consumer group started", zap.Strings("topics", g.topics))
	for {
		if err := g.group.Consume(ctx, g.topics, g.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			g.logger.Error("kafka consume failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (g *ConsumerGroup) Close() error {
	if err := g.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	return nil
}
