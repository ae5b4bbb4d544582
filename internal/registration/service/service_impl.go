package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	catalogdomain "github.com/smallbiznis/ticketpay/internal/catalog/domain"
	"github.com/smallbiznis/ticketpay/internal/clock"
	"github.com/smallbiznis/ticketpay/internal/config"
	"github.com/smallbiznis/ticketpay/internal/money"
	"github.com/smallbiznis/ticketpay/internal/registration/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Cfg     config.PaymentConfig
	Repo    domain.Repository
	Catalog catalogdomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	cfg     config.PaymentConfig
	repo    domain.Repository
	catalog catalogdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("registration.service"),
		clock:   p.Clock,
		cfg:     p.Cfg,
		repo:    p.Repo,
		catalog: p.Catalog,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Session, error) {
	attendee, err := normalizeAttendee(req.Attendee)
	if err != nil {
		return nil, err
	}

	quantities, order, err := collapseItems(req.Items)
	if err != nil {
		return nil, err
	}

	event, err := s.catalog.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	priced, err := s.catalog.PriceTicketTypes(ctx, event.ID, order)
	if err != nil {
		return nil, err
	}

	currency := money.NormalizeCurrency(event.Currency)
	items := make([]domain.LineItem, 0, len(order))
	var total int64
	for _, id := range order {
		tt := priced[id]
		item := domain.LineItem{
			TicketTypeID: id,
			Name:         tt.Name,
			Quantity:     quantities[id],
			UnitPrice:    tt.UnitPrice,
		}
		total += item.Subtotal()
		items = append(items, item)
	}
	if total <= 0 {
		return nil, domain.ErrInvalidTotal
	}

	now := s.clock.Now()
	session := &domain.Session{
		Token:         uuid.NewString(),
		EventID:       event.ID,
		AttendeeName:  attendee.Name,
		AttendeeEmail: attendee.Email,
		AttendeePhone: attendee.Phone,
		Items:         datatypes.NewJSONSlice(items),
		Total:         total,
		Currency:      currency,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.RegistrationTimeout),
	}
	if err := s.repo.Insert(ctx, s.db, session); err != nil {
		return nil, err
	}

	s.log.Info("registration session created",
		zap.String("event_id", event.ID.String()),
		zap.Int64("total", total),
		zap.String("currency", currency),
		zap.Time("expires_at", session.ExpiresAt),
	)
	return session, nil
}

// Extend pushes the registration deadline forward. Once payment has started
// the payment deadline governs and the session is returned unchanged.
func (s *Service) Extend(ctx context.Context, token string) (*domain.Session, error) {
	session, err := s.Read(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.PaymentStarted() {
		return session, nil
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.cfg.RegistrationTimeout)
	updated, err := s.repo.UpdateExpiry(ctx, s.db, session.Token, expiresAt, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return s.Read(ctx, token)
	}
	session.ExpiresAt = expiresAt
	session.UpdatedAt = now
	return session, nil
}

// Read evaluates expiry lazily: a session past its deadline is never returned.
func (s *Service) Read(ctx context.Context, token string) (*domain.Session, error) {
	session, err := s.repo.FindByToken(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	if session.Expired(s.clock.Now()) {
		return nil, domain.ErrSessionExpired
	}
	if session.Consumed() {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) Destroy(ctx context.Context, token string) error {
	return s.repo.Delete(ctx, s.db, strings.TrimSpace(token))
}

func (s *Service) ReapExpired(ctx context.Context, limit int) (int64, error) {
	return s.repo.DeleteStale(ctx, s.db, s.clock.Now(), limit)
}

func normalizeAttendee(in domain.Attendee) (domain.Attendee, error) {
	out := domain.Attendee{
		Name:  strings.TrimSpace(in.Name),
		Email: strings.ToLower(strings.TrimSpace(in.Email)),
		Phone: strings.TrimSpace(in.Phone),
	}
	if out.Name == "" || len(out.Name) > 200 {
		return domain.Attendee{}, domain.ErrInvalidAttendee
	}
	if _, err := mail.ParseAddress(out.Email); err != nil {
		return domain.Attendee{}, domain.ErrInvalidAttendee
	}
	return out, nil
}

// collapseItems merges repeated ticket types, keeping first-seen order.
func collapseItems(items []domain.ItemRequest) (map[snowflake.ID]int, []snowflake.ID, error) {
	if len(items) == 0 {
		return nil, nil, domain.ErrInvalidItems
	}
	quantities := make(map[snowflake.ID]int, len(items))
	order := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		if item.TicketTypeID == 0 || item.Quantity <= 0 {
			return nil, nil, domain.ErrInvalidItems
		}
		if _, seen := quantities[item.TicketTypeID]; !seen {
			order = append(order, item.TicketTypeID)
		}
		quantities[item.TicketTypeID] += item.Quantity
		if quantities[item.TicketTypeID] > domain.MaxQuantityPerItem {
			return nil, nil, domain.ErrInvalidItems
		}
	}
	return quantities, order, nil
}
