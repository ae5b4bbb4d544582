package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ticketpay/internal/clock"
	notificationdomain "github.com/smallbiznis/ticketpay/internal/notification/domain"
	notificationrepo "github.com/smallbiznis/ticketpay/internal/notification/repository"
	orderdomain "github.com/smallbiznis/ticketpay/internal/order/domain"
	orderrepo "github.com/smallbiznis/ticketpay/internal/order/repository"
	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/ticketpay/internal/payment/repository"
	"github.com/smallbiznis/ticketpay/internal/reconciliation/domain"
	"github.com/smallbiznis/ticketpay/internal/reconciliation/repository"
	registrationdomain "github.com/smallbiznis/ticketpay/internal/registration/domain"
	registrationrepo "github.com/smallbiznis/ticketpay/internal/registration/repository"
	"github.com/smallbiznis/ticketpay/pkg/db/dbtest"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type countingNotifier struct {
	kicks atomic.Int32
}

func (n *countingNotifier) Kick() { n.kicks.Add(1) }

type fixture struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	engine   domain.Engine
	events   domain.Repository
	attempts paymentdomain.Repository
	orders   orderdomain.Repository
	sessions registrationdomain.Repository
	outbox   notificationdomain.Repository
	notifier *countingNotifier
}

const (
	orderID   snowflake.ID = 100
	attemptID snowflake.ID = 200
	token                  = "session-token"
)

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	fc := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	f := fixture{
		db:       db,
		clock:    fc,
		events:   repository.Provide(),
		attempts: paymentrepo.Provide(),
		orders:   orderrepo.Provide(),
		sessions: registrationrepo.Provide(),
		outbox:   notificationrepo.Provide(),
		notifier: &countingNotifier{},
	}
	f.engine = New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    fc,
		GenID:    node,
		Events:   f.events,
		Attempts: f.attempts,
		Orders:   f.orders,
		Sessions: f.sessions,
		Outbox:   f.outbox,
		Notifier: f.notifier,
	})
	f.seed(t)
	return f
}

// seed stores an order awaiting payment of 49.99 USD by card, with a pending
// attempt on invoice inv-1.
func (f fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()

	session := &registrationdomain.Session{
		Token:         token,
		EventID:       10,
		AttendeeName:  "Ada Lovelace",
		AttendeeEmail: "ada@example.com",
		Items:         []registrationdomain.LineItem{{TicketTypeID: 11, Name: "Standard", Quantity: 1, UnitPrice: 4999}},
		Total:         4999,
		Currency:      "USD",
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(30 * time.Minute),
	}
	if err := f.sessions.Insert(ctx, f.db, session); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	if _, err := f.sessions.MarkPaymentStarted(ctx, f.db, token, orderID, now, now.Add(15*time.Minute)); err != nil {
		t.Fatalf("mark payment started: %v", err)
	}
	order := &orderdomain.Order{
		ID:            orderID,
		SessionToken:  token,
		EventID:       10,
		AttendeeName:  "Ada Lovelace",
		AttendeeEmail: "ada@example.com",
		Total:         4999,
		Currency:      "USD",
		Status:        orderdomain.StatusAwaitingPayment,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := f.orders.Insert(ctx, f.db, order, []orderdomain.Item{{TicketTypeID: 11, Name: "Standard", Quantity: 1, UnitPrice: 4999}}); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	f.insertAttempt(t, attemptID, paymentdomain.MethodCard, paymentdomain.StatusPending, "inv-1")
}

func (f fixture) insertAttempt(t *testing.T, id snowflake.ID, method paymentdomain.Method, status paymentdomain.AttemptStatus, invoiceID string) {
	t.Helper()
	now := f.clock.Now()
	attempt := &paymentdomain.Attempt{
		ID:               id,
		OrderID:          orderID,
		Method:           method,
		Status:           status,
		Amount:           4999,
		Currency:         "USD",
		GatewayInvoiceID: invoiceID,
		ExpiresAt:        now.Add(15 * time.Minute),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := f.attempts.Insert(context.Background(), f.db, attempt); err != nil {
		t.Fatalf("insert attempt: %v", err)
	}
}

func (f fixture) attempt(t *testing.T, id snowflake.ID) *paymentdomain.Attempt {
	t.Helper()
	attempt, err := f.attempts.FindByID(context.Background(), f.db, id)
	if err != nil || attempt == nil {
		t.Fatalf("find attempt %d: %+v err=%v", id, attempt, err)
	}
	return attempt
}

func (f fixture) order(t *testing.T) *orderdomain.Order {
	t.Helper()
	order, err := f.orders.FindByID(context.Background(), f.db, orderID)
	if err != nil || order == nil {
		t.Fatalf("find order: %+v err=%v", order, err)
	}
	return order
}

func (f fixture) notifications(t *testing.T) []notificationdomain.Notification {
	t.Helper()
	items, err := f.outbox.ListByOrder(context.Background(), f.db, orderID)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return items
}

func webhook(eventID, invoiceID string, status paymentdomain.AttemptStatus, amount string) domain.Report {
	return domain.Report{
		Source:    domain.SourceWebhook,
		EventID:   eventID,
		InvoiceID: invoiceID,
		Status:    status,
		Amount:    decimal.RequireFromString(amount),
		Currency:  "usd",
		HasAmount: true,
		Payload:   []byte(`{"event_id":"` + eventID + `"}`),
	}
}

func TestWebhookSuccessFinalizesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Apply(ctx, webhook("evt-1", "inv-1", paymentdomain.StatusSucceeded, "49.99"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Outcome != domain.OutcomeApplied || !res.Notified {
		t.Fatalf("expected applied with notification, got %+v", res)
	}

	res, err = f.engine.Apply(ctx, webhook("evt-1", "inv-1", paymentdomain.StatusSucceeded, "49.99"))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Outcome != domain.OutcomeDuplicate || !errors.Is(res.Reason, domain.ErrDuplicateWebhook) {
		t.Fatalf("expected duplicate, got %+v", res)
	}

	// A second event id with the same status is a terminal no-op.
	res, err = f.engine.Apply(ctx, webhook("evt-2", "inv-1", paymentdomain.StatusSucceeded, "49.99"))
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if res.Outcome != domain.OutcomeIgnored || res.Reason != nil {
		t.Fatalf("expected ignored no-op, got %+v", res)
	}

	attempt := f.attempt(t, attemptID)
	if attempt.Status != paymentdomain.StatusSucceeded || attempt.FinalizedAt == nil {
		t.Fatalf("unexpected attempt %+v", attempt)
	}
	order := f.order(t)
	if order.Status != orderdomain.StatusPaid || order.PaidAt == nil {
		t.Fatalf("unexpected order %+v", order)
	}
	session, err := f.sessions.FindByToken(ctx, f.db, token)
	if err != nil || session == nil || !session.Consumed() {
		t.Fatalf("expected consumed session, got %+v err=%v", session, err)
	}
	notes := f.notifications(t)
	if len(notes) != 1 || notes[0].EventType != notificationdomain.EventOrderPaid {
		t.Fatalf("expected one order.paid notification, got %+v", notes)
	}
	if got := f.notifier.kicks.Load(); got != 1 {
		t.Fatalf("expected one dispatcher kick, got %d", got)
	}

	stored, err := f.events.FindEvent(ctx, f.db, "evt-1")
	if err != nil || stored == nil || !stored.Processed() || stored.Outcome != domain.OutcomeApplied {
		t.Fatalf("unexpected stored event %+v err=%v", stored, err)
	}
}

func TestOrphanWebhookAppliesAfterInvoiceAttached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Apply(ctx, webhook("evt-9", "inv-late", paymentdomain.StatusPending, "49.99"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Outcome != domain.OutcomeOrphan || !errors.Is(res.Reason, domain.ErrOrphanWebhook) {
		t.Fatalf("expected orphan, got %+v", res)
	}
	stored, err := f.events.FindEvent(ctx, f.db, "evt-9")
	if err != nil || stored == nil || stored.Processed() || stored.Outcome != domain.OutcomeOrphan {
		t.Fatalf("expected unprocessed orphan record, got %+v err=%v", stored, err)
	}

	// The visitor moved to crypto; the new invoice is attached after the gateway already fired.
	if _, err := f.attempts.CompareAndSetStatus(ctx, f.db, attemptID, paymentdomain.StatusPending, paymentdomain.StatusCancelled, nil, f.clock.Now()); err != nil {
		t.Fatalf("cancel first attempt: %v", err)
	}
	f.insertAttempt(t, 300, paymentdomain.MethodCrypto, paymentdomain.StatusCreated, "")
	ok, err := f.attempts.AttachInvoice(ctx, f.db, 300, paymentdomain.InvoiceDetails{InvoiceID: "inv-late"}, f.clock.Now())
	if err != nil || !ok {
		t.Fatalf("attach invoice: ok=%v err=%v", ok, err)
	}

	res, err = f.engine.Apply(ctx, webhook("evt-9", "inv-late", paymentdomain.StatusConfirming, "49.99"))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Outcome != domain.OutcomeApplied || res.Attempt.Status != paymentdomain.StatusConfirming {
		t.Fatalf("expected applied confirming, got %+v", res)
	}
}

func TestAmountMismatchIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Apply(ctx, webhook("evt-3", "inv-1", paymentdomain.StatusSucceeded, "0.01"))
	if !errors.Is(err, paymentdomain.ErrInvalidAmountOrCurrency) {
		t.Fatalf("expected amount rejection, got %v", err)
	}
	if res == nil || res.Outcome != domain.OutcomeRejected {
		t.Fatalf("expected rejected result, got %+v", res)
	}

	report := webhook("evt-4", "inv-1", paymentdomain.StatusSucceeded, "49.99")
	report.Currency = "EUR"
	if _, err := f.engine.Apply(ctx, report); !errors.Is(err, paymentdomain.ErrInvalidAmountOrCurrency) {
		t.Fatalf("expected currency rejection, got %v", err)
	}

	if attempt := f.attempt(t, attemptID); attempt.Status != paymentdomain.StatusPending {
		t.Fatalf("attempt must not move on mismatch, got %s", attempt.Status)
	}
	if order := f.order(t); order.Status != orderdomain.StatusAwaitingPayment {
		t.Fatalf("order must not move on mismatch, got %s", order.Status)
	}
	stored, err := f.events.FindEvent(ctx, f.db, "evt-3")
	if err != nil || stored == nil || stored.Processed() || stored.Outcome != domain.OutcomeRejected {
		t.Fatalf("expected unprocessed rejected record, got %+v err=%v", stored, err)
	}
	if notes := f.notifications(t); len(notes) != 0 {
		t.Fatalf("expected no notifications, got %+v", notes)
	}
}

func TestGatewayReadWithoutAmountIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, report := range []domain.Report{
		{Source: domain.SourcePoll, InvoiceID: "inv-1", AttemptID: attemptID, Status: paymentdomain.StatusSucceeded},
		{Source: domain.SourceCallback, InvoiceID: "inv-1", AttemptID: attemptID, Status: paymentdomain.StatusSucceeded, HasAmount: true, Amount: decimal.Zero, Currency: "USD"},
		{Source: domain.SourcePoll, InvoiceID: "inv-1", AttemptID: attemptID, Status: paymentdomain.StatusSucceeded, HasAmount: true, Amount: decimal.RequireFromString("49.99")},
	} {
		res, err := f.engine.Apply(ctx, report)
		if !errors.Is(err, paymentdomain.ErrInvalidAmountOrCurrency) {
			t.Fatalf("%s report %+v: expected amount rejection, got %v", report.Source, report, err)
		}
		if res == nil || res.Outcome != domain.OutcomeRejected {
			t.Fatalf("expected rejected result, got %+v", res)
		}
	}
	if attempt := f.attempt(t, attemptID); attempt.Status != paymentdomain.StatusPending {
		t.Fatalf("attempt must not move without a verified amount, got %s", attempt.Status)
	}
	if order := f.order(t); order.Status != orderdomain.StatusAwaitingPayment {
		t.Fatalf("order must not move without a verified amount, got %s", order.Status)
	}

	res, err := f.engine.Apply(ctx, domain.Report{
		Source:    domain.SourcePoll,
		InvoiceID: "inv-1",
		AttemptID: attemptID,
		Status:    paymentdomain.StatusSucceeded,
		Amount:    decimal.RequireFromString("49.99"),
		Currency:  "USD",
		HasAmount: true,
	})
	if err != nil {
		t.Fatalf("apply matching poll: %v", err)
	}
	if res.Outcome != domain.OutcomeApplied {
		t.Fatalf("expected applied, got %+v", res)
	}
}

// racingAttempts loses the first status write to a concurrent applier.
type racingAttempts struct {
	paymentdomain.Repository
	winner func(ctx context.Context, tx *gorm.DB) error
	writes int
}

func (r *racingAttempts) CompareAndSetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to paymentdomain.AttemptStatus, raw datatypes.JSON, now time.Time) (bool, error) {
	r.writes++
	if r.winner != nil {
		winner := r.winner
		r.winner = nil
		if err := winner(ctx, db); err != nil {
			return false, err
		}
		return false, nil
	}
	return r.Repository.CompareAndSetStatus(ctx, db, id, from, to, raw, now)
}

func (f fixture) engineWith(t *testing.T, attempts paymentdomain.Repository) domain.Engine {
	t.Helper()
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return New(Params{
		DB:       f.db,
		Log:      zap.NewNop(),
		Clock:    f.clock,
		GenID:    node,
		Events:   f.events,
		Attempts: attempts,
		Orders:   f.orders,
		Sessions: f.sessions,
		Outbox:   f.outbox,
		Notifier: f.notifier,
	})
}

func TestLostStatusRaceReloadsAndRedecides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	attempts := &racingAttempts{Repository: f.attempts}
	attempts.winner = func(ctx context.Context, tx *gorm.DB) error {
		now := f.clock.Now()
		if _, err := f.attempts.CompareAndSetStatus(ctx, tx, attemptID, paymentdomain.StatusPending, paymentdomain.StatusSucceeded, nil, now); err != nil {
			return err
		}
		if _, err := f.orders.UpdateStatus(ctx, tx, orderID, []orderdomain.Status{orderdomain.StatusAwaitingPayment}, orderdomain.StatusPaid, now); err != nil {
			return err
		}
		_, err := f.outbox.Insert(ctx, tx, &notificationdomain.Notification{
			ID:        1,
			OrderID:   orderID,
			AttemptID: attemptID,
			EventType: notificationdomain.EventOrderPaid,
			Payload:   datatypes.JSON(`{}`),
			CreatedAt: now,
		})
		return err
	}
	engine := f.engineWith(t, attempts)

	res, err := engine.Apply(ctx, webhook("evt-2", "inv-1", paymentdomain.StatusFailed, "49.99"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Outcome != domain.OutcomeIgnored || !errors.Is(res.Reason, domain.ErrIllegalStateTransition) {
		t.Fatalf("expected illegal transition after reload, got %+v", res)
	}
	if res.Previous != paymentdomain.StatusSucceeded || res.Notified {
		t.Fatalf("expected decision on reloaded state, got %+v", res)
	}
	if attempts.writes != 1 {
		t.Fatalf("expected one status write, got %d", attempts.writes)
	}
	if attempt := f.attempt(t, attemptID); attempt.Status != paymentdomain.StatusSucceeded {
		t.Fatalf("expected winner state to stick, got %s", attempt.Status)
	}
	if order := f.order(t); order.Status != orderdomain.StatusPaid {
		t.Fatalf("expected paid order, got %s", order.Status)
	}
	if notes := f.notifications(t); len(notes) != 1 || notes[0].EventType != notificationdomain.EventOrderPaid {
		t.Fatalf("expected exactly the winner's notification, got %+v", notes)
	}
	stored, err := f.events.FindEvent(ctx, f.db, "evt-2")
	if err != nil || stored == nil || !stored.Processed() || stored.Outcome != domain.OutcomeIgnored {
		t.Fatalf("expected processed ignored event, got %+v err=%v", stored, err)
	}
}

// contendedAttempts never wins a status write.
type contendedAttempts struct {
	paymentdomain.Repository
	writes int
}

func (r *contendedAttempts) CompareAndSetStatus(context.Context, *gorm.DB, snowflake.ID, paymentdomain.AttemptStatus, paymentdomain.AttemptStatus, datatypes.JSON, time.Time) (bool, error) {
	r.writes++
	return false, nil
}

func TestPersistentContentionGivesUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	attempts := &contendedAttempts{Repository: f.attempts}
	engine := f.engineWith(t, attempts)

	res, err := engine.Apply(ctx, webhook("evt-1", "inv-1", paymentdomain.StatusSucceeded, "49.99"))
	if !errors.Is(err, domain.ErrConcurrentUpdate) || res != nil {
		t.Fatalf("expected concurrent update error, got res=%+v err=%v", res, err)
	}
	if attempts.writes != maxCASRetries {
		t.Fatalf("expected %d status writes, got %d", maxCASRetries, attempts.writes)
	}
	// The transaction rolled back, so a redelivery is not a duplicate.
	stored, err := f.events.FindEvent(ctx, f.db, "evt-1")
	if err != nil || stored != nil {
		t.Fatalf("expected no stored event, got %+v err=%v", stored, err)
	}
	if notes := f.notifications(t); len(notes) != 0 {
		t.Fatalf("expected no notifications, got %+v", notes)
	}
	if got := f.notifier.kicks.Load(); got != 0 {
		t.Fatalf("expected no kick, got %d", got)
	}

	res, err = f.engine.Apply(ctx, webhook("evt-1", "inv-1", paymentdomain.StatusSucceeded, "49.99"))
	if err != nil || res.Outcome != domain.OutcomeApplied {
		t.Fatalf("expected redelivery to apply, got res=%+v err=%v", res, err)
	}
}

func TestTerminalStateIsStickyAgainstLateWebhooks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Apply(ctx, webhook("evt-1", "inv-1", paymentdomain.StatusSucceeded, "49.99")); err != nil {
		t.Fatalf("apply success: %v", err)
	}
	res, err := f.engine.Apply(ctx, webhook("evt-2", "inv-1", paymentdomain.StatusFailed, "49.99"))
	if err != nil {
		t.Fatalf("apply failure: %v", err)
	}
	if res.Outcome != domain.OutcomeIgnored || !errors.Is(res.Reason, domain.ErrIllegalStateTransition) {
		t.Fatalf("expected illegal transition ignored, got %+v", res)
	}
	if attempt := f.attempt(t, attemptID); attempt.Status != paymentdomain.StatusSucceeded {
		t.Fatalf("expected succeeded to stick, got %s", attempt.Status)
	}
	if order := f.order(t); order.Status != orderdomain.StatusPaid {
		t.Fatalf("expected paid to stick, got %s", order.Status)
	}
}

func TestOutOfOrderWebhookIsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Apply(ctx, webhook("evt-1", "inv-1", paymentdomain.StatusConfirming, "49.99")); err != nil {
		t.Fatalf("apply confirming: %v", err)
	}
	res, err := f.engine.Apply(ctx, webhook("evt-0", "inv-1", paymentdomain.StatusPending, "49.99"))
	if err != nil {
		t.Fatalf("apply pending: %v", err)
	}
	if res.Outcome != domain.OutcomeIgnored || res.Decision.Kind != domain.Stale {
		t.Fatalf("expected stale, got %+v", res)
	}
	if attempt := f.attempt(t, attemptID); attempt.Status != paymentdomain.StatusConfirming {
		t.Fatalf("expected confirming, got %s", attempt.Status)
	}
}

func TestSwitchCancelKeepsOrderAwaitingPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var res *domain.Result
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = f.engine.ApplyTx(ctx, tx, domain.Report{
			Source:    domain.SourceSwitch,
			AttemptID: attemptID,
			Status:    paymentdomain.StatusCancelled,
		})
		return err
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	f.engine.Committed(res)

	if res.Outcome != domain.OutcomeApplied || res.Notified {
		t.Fatalf("expected silent cancel, got %+v", res)
	}
	if attempt := f.attempt(t, attemptID); attempt.Status != paymentdomain.StatusCancelled {
		t.Fatalf("expected cancelled attempt, got %s", attempt.Status)
	}
	if order := f.order(t); order.Status != orderdomain.StatusAwaitingPayment {
		t.Fatalf("expected order untouched, got %s", order.Status)
	}
	if got := f.notifier.kicks.Load(); got != 0 {
		t.Fatalf("expected no kick, got %d", got)
	}
}

func TestVisitorCancelCancelsOrder(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Apply(context.Background(), domain.Report{
		Source:    domain.SourceVisitor,
		AttemptID: attemptID,
		Status:    paymentdomain.StatusCancelled,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Notified {
		t.Fatalf("expected notification, got %+v", res)
	}
	if order := f.order(t); order.Status != orderdomain.StatusCancelled {
		t.Fatalf("expected cancelled order, got %s", order.Status)
	}
	notes := f.notifications(t)
	if len(notes) != 1 || notes[0].EventType != notificationdomain.EventOrderCancelled {
		t.Fatalf("expected order.cancelled, got %+v", notes)
	}
}

func TestTimeoutExpiresAttemptAndFailsOrder(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(16 * time.Minute)

	res, err := f.engine.Apply(context.Background(), domain.Report{
		Source:    domain.SourceTimeout,
		AttemptID: attemptID,
		Status:    paymentdomain.StatusExpired,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Outcome != domain.OutcomeApplied || res.Attempt.Status != paymentdomain.StatusExpired {
		t.Fatalf("unexpected result %+v", res)
	}
	if order := f.order(t); order.Status != orderdomain.StatusFailed {
		t.Fatalf("expected failed order, got %s", order.Status)
	}
	notes := f.notifications(t)
	if len(notes) != 1 || notes[0].EventType != notificationdomain.EventOrderFailed {
		t.Fatalf("expected order.failed, got %+v", notes)
	}

	// A success arriving after the deadline cannot revive the attempt.
	res, err = f.engine.Apply(context.Background(), webhook("evt-late", "inv-1", paymentdomain.StatusSucceeded, "49.99"))
	if err != nil {
		t.Fatalf("late webhook: %v", err)
	}
	if !errors.Is(res.Reason, domain.ErrIllegalStateTransition) {
		t.Fatalf("expected illegal transition, got %+v", res)
	}
}
