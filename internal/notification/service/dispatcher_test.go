package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/ticketpay/internal/clock"
	"github.com/smallbiznis/ticketpay/internal/notification/domain"
	"github.com/smallbiznis/ticketpay/internal/notification/repository"
	"github.com/smallbiznis/ticketpay/pkg/db/dbtest"
	"github.com/smallbiznis/ticketpay/pkg/telemetry"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []domain.Message
	failures int
}

func (p *recordingPublisher) Publish(_ context.Context, msg domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func TestDispatchPendingPublishesOnceAndRetriesFailures(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	fc := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	repo := repository.Provide()

	n := &domain.Notification{
		ID:        100,
		OrderID:   1,
		AttemptID: 2,
		EventType: domain.EventOrderPaid,
		Payload:   datatypes.JSON(`{"order_id":"1"}`),
		CreatedAt: fc.Now(),
	}
	inserted, err := repo.Insert(ctx, db, n)
	require.NoError(t, err)
	require.True(t, inserted)

	dup := *n
	dup.ID = 101
	inserted, err = repo.Insert(ctx, db, &dup)
	require.NoError(t, err)
	require.False(t, inserted)

	pub := &recordingPublisher{failures: 1}
	d := NewDispatcher(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     fc,
		Repo:      repo,
		Publisher: pub,
		Metrics:   telemetry.NewMetricsWithRegisterer(prometheus.NewRegistry()),
	})

	sent, err := d.DispatchPending(ctx, 10)
	require.Error(t, err)
	require.Equal(t, 0, sent)

	sent, err = d.DispatchPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	sent, err = d.DispatchPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, sent)

	require.Len(t, pub.messages, 1)
	require.Equal(t, "100", pub.messages[0].ID)
	require.Equal(t, domain.EventOrderPaid, pub.messages[0].Type)
	require.JSONEq(t, `{"order_id":"1"}`, string(pub.messages[0].Body))

	rows, err := repo.ListByOrder(ctx, db, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].DispatchedAt)
	require.Equal(t, 2, rows[0].Attempts)
}

func TestClaimedNotificationIsSkippedUntilLeaseExpires(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	fc := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	repo := repository.Provide()

	_, err := repo.Insert(ctx, db, &domain.Notification{
		ID:        200,
		OrderID:   1,
		AttemptID: 2,
		EventType: domain.EventOrderFailed,
		Payload:   datatypes.JSON(`{}`),
		CreatedAt: fc.Now(),
	})
	require.NoError(t, err)

	// Another dispatcher holds the row.
	claimed, err := repo.Claim(ctx, db, 200, fc.Now(), fc.Now().Add(claimLease))
	require.NoError(t, err)
	require.True(t, claimed)
	claimed, err = repo.Claim(ctx, db, 200, fc.Now(), fc.Now().Add(claimLease))
	require.NoError(t, err)
	require.False(t, claimed)

	pub := &recordingPublisher{}
	d := NewDispatcher(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     fc,
		Repo:      repo,
		Publisher: pub,
	})

	sent, err := d.DispatchPending(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, sent)
	require.Empty(t, pub.messages)

	fc.Advance(claimLease + time.Second)
	sent, err = d.DispatchPending(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, sent)
	require.Len(t, pub.messages, 1)
	require.Equal(t, "200", pub.messages[0].ID)

	rows, err := repo.ListByOrder(ctx, db, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].DispatchedAt)
	require.Nil(t, rows[0].ClaimedUntil)
}

func TestKickDoesNotBlock(t *testing.T) {
	d := &Dispatcher{kick: make(chan struct{}, 1)}
	d.Kick()
	d.Kick()
	d.Kick()
	require.Len(t, d.kick, 1)

	var nilDispatcher *Dispatcher
	nilDispatcher.Kick()
}
