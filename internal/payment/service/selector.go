package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/ticketpay/internal/catalog/domain"
	"github.com/smallbiznis/ticketpay/internal/clock"
	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/smallbiznis/ticketpay/internal/money"
	"github.com/smallbiznis/ticketpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/ticketpay/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/ticketpay/internal/order/domain"
	"github.com/smallbiznis/ticketpay/internal/payment/adapters"
	"github.com/smallbiznis/ticketpay/internal/payment/adapters/crypto"
	"github.com/smallbiznis/ticketpay/internal/payment/domain"
	reconciliationdomain "github.com/smallbiznis/ticketpay/internal/reconciliation/domain"
	registrationdomain "github.com/smallbiznis/ticketpay/internal/registration/domain"
	"github.com/smallbiznis/ticketpay/internal/security"
	"github.com/smallbiznis/ticketpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const methodsCacheTTL = 2 * time.Minute

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	GenID         *snowflake.Node
	Cfg           config.PaymentConfig
	Repo          domain.Repository
	Orders        orderdomain.Repository
	Sessions      registrationdomain.Repository
	Registrations registrationdomain.Service
	Catalog       catalogdomain.Service
	Gate          *security.Gate
	Engine        reconciliationdomain.Engine
	Adapters      *adapters.Registry
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	genID         *snowflake.Node
	cfg           config.PaymentConfig
	repo          domain.Repository
	orders        orderdomain.Repository
	sessions      registrationdomain.Repository
	registrations registrationdomain.Service
	catalog       catalogdomain.Service
	gate          *security.Gate
	engine        reconciliationdomain.Engine
	adapters      *adapters.Registry
	metrics       *obsmetrics.Metrics
	methods       *methodsCache
}

func New(p Params) domain.Selector {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.selector"),
		clock:         p.Clock,
		genID:         p.GenID,
		cfg:           p.Cfg,
		repo:          p.Repo,
		orders:        p.Orders,
		sessions:      p.Sessions,
		registrations: p.Registrations,
		catalog:       p.Catalog,
		gate:          p.Gate,
		engine:        p.Engine,
		adapters:      p.Adapters,
		metrics:       p.Metrics,
		methods:       newMethodsCache(methodsCacheTTL, p.Clock),
	}
}

func (s *Service) ListAvailableMethods(ctx context.Context, eventID snowflake.ID, amount decimal.Decimal, currency string) ([]domain.MethodOption, error) {
	currency = money.NormalizeCurrency(currency)
	key := fmt.Sprintf("%d:%s:%s", eventID, amount.String(), currency)
	if cached, ok := s.methods.Get(key); ok {
		return cached, nil
	}

	event, err := s.catalog.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	options := make([]domain.MethodOption, 0, len(s.cfg.Methods))
	for _, name := range s.cfg.MethodNames() {
		method := domain.Method(name)
		if !s.adapters.Supports(method) || !event.Accepts(name) {
			continue
		}
		if !s.gate.MethodAllows(name, amount, currency) {
			continue
		}
		mc := s.cfg.Methods[name]
		options = append(options, domain.MethodOption{
			Method:    method,
			MinAmount: mc.MinAmount.StringFixed(money.Exponent(currency)),
			MaxAmount: mc.MaxAmount.StringFixed(money.Exponent(currency)),
		})
	}
	s.methods.Set(key, options)
	return options, nil
}

// Select starts payment for the session with the given method. Selecting the
// method of the attempt already in flight returns that attempt.
func (s *Service) Select(ctx context.Context, token string, method domain.Method) (*domain.Initiation, error) {
	session, adapter, err := s.prepare(ctx, token, method)
	if err != nil {
		return nil, err
	}

	var (
		order   *orderdomain.Order
		attempt *domain.Attempt
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.ensureOrder(ctx, tx, session)
		if err != nil {
			return err
		}
		if order.Status.Final() {
			return domain.ErrOrderFinalized
		}

		active, err := s.repo.FindActiveByOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if active != nil {
			if active.Method != method {
				return domain.ErrPaymentInProgress
			}
			attempt = active
			return nil
		}

		if _, err := s.orders.UpdateStatus(ctx, tx, order.ID,
			[]orderdomain.Status{orderdomain.StatusPending, orderdomain.StatusFailed},
			orderdomain.StatusAwaitingPayment, s.clock.Now().UTC(),
		); err != nil {
			return err
		}
		order.Status = orderdomain.StatusAwaitingPayment

		deadline, err := s.startPayment(ctx, tx, session, order.ID)
		if err != nil {
			return err
		}
		attempt, err = s.insertAttempt(ctx, tx, order, method, deadline)
		return err
	})
	if err != nil {
		return nil, err
	}

	init, err := adapter.Initiate(ctx, attempt, order)
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, method, "initiated")
	logger.WithAttempt(logger.WithContext(ctx, s.log), int64(init.Attempt.ID), init.Attempt.GatewayInvoiceID).
		Info("payment method selected", zap.String("method", string(method)))
	return init, nil
}

// Switch cancels the in-flight attempt and starts a new one with another
// method in the same transaction, so two attempts never race to finalize the
// order. A confirming attempt can no longer be switched.
func (s *Service) Switch(ctx context.Context, token string, method domain.Method) (*domain.Initiation, error) {
	session, adapter, err := s.prepare(ctx, token, method)
	if err != nil {
		return nil, err
	}

	var (
		order    *orderdomain.Order
		previous *domain.Attempt
		attempt  *domain.Attempt
		result   *reconciliationdomain.Result
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.orders.FindBySessionToken(ctx, tx, session.Token)
		if err != nil {
			return err
		}
		if order == nil || order.Status.Final() {
			return domain.ErrInvalidMethodSwitch
		}
		previous, err = s.repo.FindActiveByOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if previous == nil || previous.Method == method || previous.Status == domain.StatusConfirming {
			return domain.ErrInvalidMethodSwitch
		}

		result, err = s.engine.ApplyTx(ctx, tx, reconciliationdomain.Report{
			Source:    reconciliationdomain.SourceSwitch,
			AttemptID: previous.ID,
			Status:    domain.StatusCancelled,
		})
		if err != nil {
			return err
		}
		if result.Outcome != reconciliationdomain.OutcomeApplied {
			return domain.ErrInvalidMethodSwitch
		}

		attempt, err = s.insertAttempt(ctx, tx, order, method, session.ExpiresAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.engine.Committed(result)

	if old, err := s.adapters.Get(previous.Method); err == nil {
		old.Cancel(ctx, previous)
	}
	s.recordEvent(ctx, previous.Method, "switched")

	init, err := adapter.Initiate(ctx, attempt, order)
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, method, "initiated")
	logger.WithAttempt(logger.WithContext(ctx, s.log), int64(init.Attempt.ID), init.Attempt.GatewayInvoiceID).
		Info("payment method switched",
			zap.String("from", string(previous.Method)),
			zap.String("to", string(method)),
		)
	return init, nil
}

// Cancel abandons the registration. The active attempt is cancelled through
// the reconciliation engine; an attempt already confirming on chain cannot be
// abandoned.
func (s *Service) Cancel(ctx context.Context, token string) error {
	session, err := s.registrations.Read(ctx, token)
	if err != nil {
		return err
	}

	order, err := s.orders.FindBySessionToken(ctx, s.db, session.Token)
	if err != nil {
		return err
	}
	if order != nil {
		if order.Status == orderdomain.StatusPaid {
			return domain.ErrOrderFinalized
		}
		active, err := s.repo.FindActiveByOrder(ctx, s.db, order.ID)
		if err != nil {
			return err
		}
		if active != nil {
			result, err := s.engine.Apply(ctx, reconciliationdomain.Report{
				Source:    reconciliationdomain.SourceVisitor,
				AttemptID: active.ID,
				Status:    domain.StatusCancelled,
			})
			if err != nil {
				return err
			}
			if result.Outcome != reconciliationdomain.OutcomeApplied {
				return domain.ErrPaymentInProgress
			}
			if adapter, err := s.adapters.Get(active.Method); err == nil {
				adapter.Cancel(ctx, active)
			}
			s.recordEvent(ctx, active.Method, "cancelled")
		} else if _, err := s.orders.UpdateStatus(ctx, s.db, order.ID,
			[]orderdomain.Status{orderdomain.StatusPending, orderdomain.StatusAwaitingPayment, orderdomain.StatusFailed},
			orderdomain.StatusCancelled, s.clock.Now().UTC(),
		); err != nil {
			return err
		}
	}
	return s.registrations.Destroy(ctx, session.Token)
}

// Confirm re-checks the gateway once for the invoice. It is what the card
// callback and the visitor's confirm action call; the verdict always comes
// from the reconciliation engine.
func (s *Service) Confirm(ctx context.Context, invoiceID string) (*domain.StatusView, error) {
	return s.refresh(ctx, invoiceID, true)
}

// Status returns the current attempt state. Crypto attempts are polled on
// read, subject to the per-invoice poll throttle.
func (s *Service) Status(ctx context.Context, invoiceID string) (*domain.StatusView, error) {
	return s.refresh(ctx, invoiceID, false)
}

func (s *Service) refresh(ctx context.Context, invoiceID string, force bool) (*domain.StatusView, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	attempt, err := s.repo.FindByInvoiceID(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, domain.ErrAttemptNotFound
	}

	switch {
	case attempt.Status.Terminal():
	case attempt.Overdue(s.clock.Now()):
		attempt, err = s.expire(ctx, attempt)
		if err != nil {
			return nil, err
		}
	case force || attempt.Method == domain.MethodCrypto:
		adapter, err := s.adapters.Get(attempt.Method)
		if err != nil {
			return nil, err
		}
		attempt, err = adapter.Refresh(ctx, attempt)
		if err != nil {
			return nil, err
		}
	}
	return s.view(ctx, attempt)
}

// ExpireOverdue moves attempts past their payment deadline to expired. It is
// housekeeping; reads expire attempts lazily as well.
func (s *Service) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	items, err := s.repo.ListOverdue(ctx, s.db, s.clock.Now().UTC(), limit)
	if err != nil {
		return 0, err
	}
	var (
		expired int
		errs    []error
	)
	for i := range items {
		attempt, err := s.expire(ctx, &items[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if attempt.Status == domain.StatusExpired {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// PollPending reads pending and confirming crypto invoices not polled within
// the minimum interval.
func (s *Service) PollPending(ctx context.Context, limit int) (int, error) {
	adapter, err := s.adapters.Get(domain.MethodCrypto)
	if err != nil {
		return 0, nil
	}
	now := s.clock.Now().UTC()
	items, err := s.repo.ListPollable(ctx, s.db, domain.MethodCrypto, now.Add(-s.cfg.Polling.MinInterval), limit)
	if err != nil {
		return 0, err
	}
	var (
		polled int
		errs   []error
	)
	for i := range items {
		attempt := &items[i]
		if attempt.Overdue(now) {
			if _, err := s.expire(ctx, attempt); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if _, err := adapter.Refresh(ctx, attempt); err != nil {
			errs = append(errs, err)
			continue
		}
		polled++
	}
	return polled, errors.Join(errs...)
}

func (s *Service) expire(ctx context.Context, attempt *domain.Attempt) (*domain.Attempt, error) {
	result, err := s.engine.Apply(ctx, reconciliationdomain.Report{
		Source:    reconciliationdomain.SourceTimeout,
		AttemptID: attempt.ID,
		Status:    domain.StatusExpired,
	})
	if err != nil {
		return nil, err
	}
	if result.Attempt != nil {
		return result.Attempt, nil
	}
	return attempt, nil
}

// prepare runs the checks shared by select and switch before any write or
// gateway call.
func (s *Service) prepare(ctx context.Context, token string, method domain.Method) (*registrationdomain.Session, domain.MethodAdapter, error) {
	if !method.Valid() {
		return nil, nil, domain.ErrInvalidMethod
	}
	session, err := s.registrations.Read(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := s.adapters.Get(method)
	if err != nil {
		return nil, nil, err
	}
	event, err := s.catalog.GetEvent(ctx, session.EventID)
	if err != nil {
		return nil, nil, err
	}
	if !event.Accepts(string(method)) {
		return nil, nil, domain.ErrMethodUnavailable
	}
	amount := money.FromMinor(session.Total, session.Currency)
	if err := s.gate.CheckAmount(ctx, string(method), amount, session.Currency); err != nil {
		return nil, nil, err
	}
	return session, adapter, nil
}

func (s *Service) ensureOrder(ctx context.Context, tx *gorm.DB, session *registrationdomain.Session) (*orderdomain.Order, error) {
	order, err := s.orders.FindBySessionToken(ctx, tx, session.Token)
	if err != nil || order != nil {
		return order, err
	}

	now := s.clock.Now().UTC()
	order = &orderdomain.Order{
		ID:            s.genID.Generate(),
		SessionToken:  session.Token,
		EventID:       session.EventID,
		AttendeeName:  session.AttendeeName,
		AttendeeEmail: session.AttendeeEmail,
		Total:         session.Total,
		Currency:      session.Currency,
		Status:        orderdomain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	items := make([]orderdomain.Item, 0, len(session.Items))
	for _, line := range session.Items {
		items = append(items, orderdomain.Item{
			OrderID:      order.ID,
			TicketTypeID: line.TicketTypeID,
			Name:         line.Name,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
		})
	}
	if err := s.orders.Insert(ctx, tx, order, items); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrPaymentInProgress
		}
		return nil, err
	}
	return order, nil
}

// startPayment fixes the payment deadline on first selection; later attempts
// share it.
func (s *Service) startPayment(ctx context.Context, tx *gorm.DB, session *registrationdomain.Session, orderID snowflake.ID) (time.Time, error) {
	if session.PaymentStarted() {
		return session.ExpiresAt, nil
	}
	now := s.clock.Now().UTC()
	deadline := now.Add(s.cfg.PaymentTimeout)
	started, err := s.sessions.MarkPaymentStarted(ctx, tx, session.Token, orderID, now, deadline)
	if err != nil {
		return time.Time{}, err
	}
	if !started {
		stored, err := s.sessions.FindByToken(ctx, tx, session.Token)
		if err != nil {
			return time.Time{}, err
		}
		if stored == nil {
			return time.Time{}, registrationdomain.ErrSessionNotFound
		}
		return stored.ExpiresAt, nil
	}
	session.PaymentStartedAt = &now
	session.ExpiresAt = deadline
	session.OrderID = &orderID
	return deadline, nil
}

func (s *Service) insertAttempt(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, method domain.Method, deadline time.Time) (*domain.Attempt, error) {
	now := s.clock.Now().UTC()
	attempt := &domain.Attempt{
		ID:        s.genID.Generate(),
		OrderID:   order.ID,
		Method:    method,
		Status:    domain.StatusCreated,
		Amount:    order.Total,
		Currency:  order.Currency,
		ExpiresAt: deadline.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, tx, attempt); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrPaymentInProgress
		}
		return nil, err
	}
	return attempt, nil
}

func (s *Service) view(ctx context.Context, attempt *domain.Attempt) (*domain.StatusView, error) {
	order, err := s.orders.FindByID(ctx, s.db, attempt.OrderID)
	if err != nil {
		return nil, err
	}
	view := &domain.StatusView{
		AttemptID: attempt.ID,
		InvoiceID: attempt.GatewayInvoiceID,
		Method:    attempt.Method,
		Status:    attempt.Status,
		ExpiresAt: attempt.ExpiresAt,
		Crypto:    crypto.Details(attempt),
	}
	if order != nil {
		view.OrderStatus = string(order.Status)
	}
	return view, nil
}

func (s *Service) recordEvent(ctx context.Context, method domain.Method, event string) {
	if s.metrics != nil {
		s.metrics.RecordPaymentEvent(ctx, string(method), event)
	}
}
