package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"assistec/backend/internal/cart"
	"assistec/backend/internal/domain"
	"assistec/backend/internal/events"
	"assistec/backend/internal/metrics"
	"assistec/backend/internal/store"
	"assistec/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	publisher events.Publisher
	metrics   *metrics.SaleMetrics
	logger    *log.Entry
	now       func() time.Time

	// commitMu serializes every pipeline that mutates stock or sale status.
	commitMu sync.Mutex
}

type Option func(*Service)

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

func WithMetrics(m *metrics.SaleMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		publisher: events.Noop{},
		logger:    log.WithField("component", "sales"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Products exposes the catalog for building carts.
func (s *Service) Products() cart.ProductReader {
	return s.repo
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// ListSales returns sales in creation order. An empty status lists all.
func (s *Service) ListSales(ctx context.Context, status domain.SaleStatus) ([]domain.Sale, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown sale status %q", domain.ErrInvalidRequest, status)
	}
	sales, err := s.repo.ListSales(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return sales, nil
	}
	filtered := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		if sale.Status == status {
			filtered = append(filtered, sale)
		}
	}
	return filtered, nil
}

// ResumeQuote loads a stored quote into a fresh cart for conversion.
func (s *Service) ResumeQuote(ctx context.Context, quoteID string) (*cart.Cart, error) {
	quote, err := s.repo.GetSale(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.Status != domain.SaleStatusQuote {
		return nil, fmt.Errorf("%w: sale %s is %s", domain.ErrInvalidTransition, quote.ID, quote.Status)
	}
	return cart.FromQuote(s.repo, *quote), nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, domain.ErrUnauthorized
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) publish(ctx context.Context, eventType domain.SaleEventType, sale domain.Sale) {
	event := domain.SaleEvent{
		Type:          eventType,
		SaleID:        sale.ID,
		Status:        sale.Status,
		TotalCents:    sale.TotalCents,
		OriginQuoteID: sale.OriginQuoteID,
		OccurredAt:    s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"type":    eventType,
			"sale_id": sale.ID,
		}).Warn("failed to publish sale event")
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).Warn("failed to write audit log")
	}
}

func (s *Service) persistenceFailure(op string, saleID string, err error) error {
	if s.metrics != nil {
		s.metrics.RecordPersistenceFailure(strings.ReplaceAll(op, " ", "_"))
	}
	s.logger.WithError(err).WithFields(log.Fields{
		"op":      op,
		"sale_id": saleID,
	}).Error("persistence failure")
	return &domain.PersistenceError{Op: op, SaleID: saleID, Err: err}
}

// isCallerError reports errors that describe a bad request rather than a
// storage failure.
func isCallerError(err error) bool {
	return errors.Is(err, domain.ErrInvalidRequest) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrEmptyCart)
}
