// Package notification delivers user-facing messages (verification codes, session warnings, block notices)
// to the notification service.
package notification

import (
	"context"
	"log/slog"
)

// Gateway delivers message to the owner of email. A returned error means the message was not accepted
// for delivery and wraps apperr.ErrNotificationDelivery.
type Gateway interface {
	Notify(ctx context.Context, email, message string) error
}

// Message is the JSON payload published for the notification service.
type Message struct {
	Message   string `json:"message"`
	UserEmail string `json:"userEmail"`
}

// LogGateway writes notifications to the logger instead of a broker. Development only.
type LogGateway struct {
	logger *slog.Logger
}

// NewLogGateway returns a Gateway that logs every notification.
func NewLogGateway(logger *slog.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Notify(ctx context.Context, email, message string) error {
	g.logger.InfoContext(ctx, "notification", "email", email, "message", message)
	return nil
}
