package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"assistec/backend/internal/domain"
	"assistec/backend/internal/store"
)

// Refund reverses a completed sale. The status flip is written first so a
// retried refund can never restore stock twice; failures after the flip are
// returned as PersistenceError carrying the sale id.
func (s *Service) Refund(ctx context.Context, saleID string, reason string) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Sale{}, domain.ErrUnauthorized
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	current, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	switch current.Status {
	case domain.SaleStatusCompleted:
	case domain.SaleStatusRefunded:
		return domain.Sale{}, fmt.Errorf("%w: %s", domain.ErrAlreadyRefunded, saleID)
	case domain.SaleStatusQuote:
		return domain.Sale{}, fmt.Errorf("%w: quote %s cannot be refunded", domain.ErrInvalidTransition, saleID)
	default:
		return domain.Sale{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, current.Status)
	}

	now := s.now()
	sale := domain.CloneSale(*current)
	sale.Status = domain.SaleStatusRefunded
	sale.RefundedBy = actor.Username
	sale.RefundedAt = &now
	sale.RefundReason = strings.TrimSpace(reason)
	sale.UpdatedAt = now

	if err := s.repo.UpdateSale(ctx, sale); err != nil {
		if isCallerError(err) {
			return domain.Sale{}, err
		}
		return domain.Sale{}, s.persistenceFailure("mark refunded", "", err)
	}

	if err := s.reverseSale(ctx, sale); err != nil {
		return sale, err
	}

	s.publish(ctx, domain.SaleEventRefunded, sale)
	if s.metrics != nil {
		s.metrics.RecordRefund()
	}
	s.logAudit(ctx, "refund", "sale", sale.ID, fmt.Sprintf("total=%d,reason=%s", sale.TotalCents, sale.RefundReason))
	s.logger.WithFields(log.Fields{
		"sale_id": sale.ID,
		"by":      actor.Username,
	}).Info("sale refunded")

	return sale, nil
}

// reverseSale restores exactly the writes made by a completed checkout.
// Catalog rows or service orders removed since the sale are skipped.
func (s *Service) reverseSale(ctx context.Context, sale domain.Sale) error {
	for _, line := range sale.Lines {
		switch line.Kind {
		case domain.LineKindProduct:
			_, err := s.repo.AdjustStock(ctx, line.ProductID, line.Qty)
			if errors.Is(err, store.ErrNotFound) {
				s.logger.WithFields(log.Fields{
					"sale_id":    sale.ID,
					"product_id": line.ProductID,
				}).Warn("refunded product no longer in catalog, stock not restored")
				continue
			}
			if err != nil {
				return s.persistenceFailure("restore stock", sale.ID, err)
			}
		case domain.LineKindServiceOrder:
			err := s.repo.SetSituation(ctx, line.ServiceOrderID, domain.SituationDone)
			if errors.Is(err, store.ErrNotFound) {
				s.logger.WithFields(log.Fields{
					"sale_id":          sale.ID,
					"service_order_id": line.ServiceOrderID,
				}).Warn("refunded service order no longer exists")
				continue
			}
			if err != nil {
				return s.persistenceFailure("revert service order", sale.ID, err)
			}
		}
	}

	voided, err := s.repo.VoidSaleEntry(ctx, sale.ID)
	if err != nil {
		return s.persistenceFailure("void ledger entry", sale.ID, err)
	}
	if !voided {
		s.logger.WithField("sale_id", sale.ID).Debug("no ledger entry to void")
	}
	return nil
}
