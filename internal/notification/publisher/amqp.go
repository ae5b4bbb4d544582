package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/ticketpay/internal/notification/domain"
	"github.com/smallbiznis/ticketpay/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

const exchangeKind = "topic"

// AMQPPublisher publishes persistent JSON messages to a topic exchange,
// routed by event type. The connection is dialled lazily and re-dialled
// after the broker closes it.
type AMQPPublisher struct {
	url      string
	exchange string
	log      *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAMQPPublisher(url, exchange string, log *zap.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		url:      url,
		exchange: exchange,
		log:      log.Named("notification.amqp"),
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, msg domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureConnection(); err != nil {
		return err
	}
	err := p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey(msg),
		false,
		false,
		buildPublishing(ctx, msg),
	)
	if err != nil {
		p.closeLocked()
		return fmt.Errorf("amqp publish %s: %w", msg.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) ensureConnection() error {
	if p.conn != nil && !p.conn.IsClosed() && p.channel != nil && !p.channel.IsClosed() {
		return nil
	}
	p.closeLocked()

	if p.url == "" {
		return errors.New("amqp url is empty")
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if p.exchange != "" {
		if err := ch.ExchangeDeclare(p.exchange, exchangeKind, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("amqp declare exchange: %w", err)
		}
	}
	p.conn = conn
	p.channel = ch
	p.log.Info("amqp publisher connected", zap.String("exchange", p.exchange))
	return nil
}

func (p *AMQPPublisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func routingKey(msg domain.Message) string {
	if msg.Key != "" {
		return msg.Key
	}
	return string(msg.Type)
}

func buildPublishing(ctx context.Context, msg domain.Message) amqp.Publishing {
	headers := correlation.InjectTraceIntoHeaders(ctx, map[string]any{
		"event_type": string(msg.Type),
	})
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.ID,
		CorrelationId: correlation.ExtractCorrelationID(ctx),
		Timestamp:     msg.OccurredAt.UTC(),
		Type:          string(msg.Type),
		Headers:       amqp.Table(headers),
		Body:          msg.Body,
	}
}
