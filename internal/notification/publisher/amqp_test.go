package publisher

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/ticketpay/internal/notification/domain"
	"github.com/smallbiznis/ticketpay/pkg/telemetry/correlation"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildPublishingCarriesIdentifiers(t *testing.T) {
	ctx := correlation.ContextWithCorrelationID(context.Background(), "01J0CORRELATION")
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := domain.Message{
		ID:         "01J0MESSAGE",
		Type:       domain.EventOrderPaid,
		Body:       []byte(`{"order_id":"1"}`),
		OccurredAt: at,
	}

	pub := buildPublishing(ctx, msg)
	require.Equal(t, "application/json", pub.ContentType)
	require.Equal(t, amqp.Persistent, pub.DeliveryMode)
	require.Equal(t, "01J0MESSAGE", pub.MessageId)
	require.Equal(t, "01J0CORRELATION", pub.CorrelationId)
	require.Equal(t, "order.paid", pub.Type)
	require.Equal(t, at, pub.Timestamp)
	require.Equal(t, "01J0CORRELATION", pub.Headers["correlation_id"])
	require.Equal(t, "order.paid", pub.Headers["event_type"])
	require.Equal(t, "order.paid", routingKey(msg))
}

func TestAMQPPublisherWithoutURLFails(t *testing.T) {
	pub := NewAMQPPublisher("", "ticketpay.orders", zap.NewNop())
	err := pub.Publish(context.Background(), domain.Message{ID: "x", Type: domain.EventOrderFailed})
	require.Error(t, err)
	require.NoError(t, pub.Close())
}
