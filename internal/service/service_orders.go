package service

import (
	"context"

	log "github.com/sirupsen/logrus"

	"assistec/backend/internal/cart"
	"assistec/backend/internal/domain"
)

// HealServiceOrder reverts a billed order to done when no completed sale
// references it, e.g. after a crash between the sale write and a refund.
func (s *Service) HealServiceOrder(ctx context.Context, id string) (domain.ServiceOrder, error) {
	order, err := s.repo.GetServiceOrder(ctx, id)
	if err != nil {
		return domain.ServiceOrder{}, err
	}
	if order.Situation != domain.SituationBilled {
		return *order, nil
	}
	sales, err := s.repo.ListSales(ctx)
	if err != nil {
		return domain.ServiceOrder{}, err
	}
	return s.healWith(ctx, *order, sales)
}

func (s *Service) healWith(ctx context.Context, order domain.ServiceOrder, sales []domain.Sale) (domain.ServiceOrder, error) {
	if order.Situation != domain.SituationBilled || hasActiveSale(sales, order.ID) {
		return order, nil
	}
	if err := s.repo.SetSituation(ctx, order.ID, domain.SituationDone); err != nil {
		return domain.ServiceOrder{}, err
	}
	order.Situation = domain.SituationDone
	order.UpdatedAt = s.now()

	s.logger.WithFields(log.Fields{
		"service_order_id": order.ID,
	}).Warn("billed service order had no active sale, reverted to done")
	s.logAudit(ctx, "heal_service_order", "service_order", order.ID, "from="+domain.SituationBilled)
	return order, nil
}

func hasActiveSale(sales []domain.Sale, orderID string) bool {
	for _, sale := range sales {
		if sale.Status == domain.SaleStatusCompleted && sale.ReferencesServiceOrder(orderID) {
			return true
		}
	}
	return false
}

// ChargeableServiceOrders heals stale billed orders, then lists every order
// that can be added to a cart.
func (s *Service) ChargeableServiceOrders(ctx context.Context) ([]domain.ServiceOrder, error) {
	orders, err := s.repo.ListServiceOrders(ctx)
	if err != nil {
		return nil, err
	}

	var sales []domain.Sale
	result := make([]domain.ServiceOrder, 0, len(orders))
	for _, order := range orders {
		if order.Situation == domain.SituationBilled {
			if sales == nil {
				if sales, err = s.repo.ListSales(ctx); err != nil {
					return nil, err
				}
			}
			if order, err = s.healWith(ctx, order, sales); err != nil {
				return nil, err
			}
		}
		if domain.IsPayable(order.Situation) && order.ValTotalCents > 0 {
			result = append(result, order)
		}
	}
	return result, nil
}

// AddServiceOrderToCart loads and heals the order before adding it.
func (s *Service) AddServiceOrderToCart(ctx context.Context, c *cart.Cart, orderID string) (domain.CartLine, error) {
	order, err := s.HealServiceOrder(ctx, orderID)
	if err != nil {
		return domain.CartLine{}, err
	}
	return c.AddServiceOrder(order)
}
