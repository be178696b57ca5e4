package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"

	"auth-platform/backend/internal/platform/apperr"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaGateway publishes notifications to a Kafka topic consumed by the notification service.
type KafkaGateway struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	backoff func() retry.Backoff
	logger  *slog.Logger
}

// NewKafkaGateway creates a gateway writing to topic on brokers. timeout bounds each Notify call
// including retries. Call Close when shutting down.
func NewKafkaGateway(brokers []string, topic string, timeout time.Duration, logger *slog.Logger) *KafkaGateway {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaGateway(writer, topic, timeout, logger)
}

func newKafkaGateway(w messageWriter, topic string, timeout time.Duration, logger *slog.Logger) *KafkaGateway {
	return &KafkaGateway{
		writer:  w,
		topic:   topic,
		timeout: timeout,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewExponential(100*time.Millisecond))
		},
		logger: logger,
	}
}

// Notify publishes one message keyed by email so a user's notifications stay ordered on one partition.
func (g *KafkaGateway) Notify(ctx context.Context, email, message string) error {
	payload, err := json.Marshal(Message{Message: message, UserEmail: email})
	if err != nil {
		return apperr.Wrap(apperr.ErrNotificationDelivery, err, "email", email)
	}
	writeCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	attempts := 0
	err = retry.Do(writeCtx, g.backoff(), func(ctx context.Context) error {
		attempts++
		if err := g.writer.WriteMessages(ctx, kafka.Message{Key: []byte(email), Value: payload}); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		g.logger.WarnContext(ctx, "notification publish failed",
			"topic", g.topic, "email", email, "attempts", attempts, "error", err)
		return apperr.Wrap(apperr.ErrNotificationDelivery, err, "email", email, "topic", g.topic)
	}
	return nil
}

// Close flushes and closes the writer.
func (g *KafkaGateway) Close() error {
	return g.writer.Close()
}
