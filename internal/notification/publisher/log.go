package publisher

import (
	"context"

	"github.com/smallbiznis/ticketpay/internal/notification/domain"
	"go.uber.org/zap"
)

// LogPublisher writes messages to the log. It is used when no broker is
// configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("notification.log")}
}

func (p *LogPublisher) Publish(_ context.Context, msg domain.Message) error {
	p.log.Info("order notification",
		zap.String("message_id", msg.ID),
		zap.String("event_type", string(msg.Type)),
		zap.ByteString("body", msg.Body),
	)
	return nil
}
