package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ticketpay/internal/catalog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("catalog.service"),
		repo: p.Repo,
	}
}

func (s *Service) GetEvent(ctx context.Context, id snowflake.ID) (*domain.Event, error) {
	if id == 0 {
		return nil, domain.ErrEventNotFound
	}
	event, err := s.repo.FindEvent(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrEventNotFound
	}
	return event, nil
}

func (s *Service) ListTicketTypes(ctx context.Context, eventID snowflake.ID) ([]domain.TicketType, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.repo.ListTicketTypes(ctx, s.db, eventID)
}

func (s *Service) PriceTicketTypes(ctx context.Context, eventID snowflake.ID, ticketTypeIDs []snowflake.ID) (map[snowflake.ID]domain.TicketType, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.IsActive {
		return nil, domain.ErrEventInactive
	}

	types, err := s.repo.ListTicketTypes(ctx, s.db, eventID)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]domain.TicketType, len(types))
	for _, t := range types {
		byID[t.ID] = t
	}

	out := make(map[snowflake.ID]domain.TicketType, len(ticketTypeIDs))
	for _, id := range ticketTypeIDs {
		t, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrTicketTypeNotFound, id)
		}
		if !strings.EqualFold(t.Currency, event.Currency) {
			s.log.Warn("ticket type currency differs from event",
				zap.String("ticket_type_id", id.String()),
				zap.String("currency", t.Currency),
				zap.String("event_currency", event.Currency),
			)
			return nil, fmt.Errorf("%w: %s", domain.ErrTicketTypeNotFound, id)
		}
		out[id] = t
	}
	return out, nil
}
