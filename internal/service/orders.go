package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"github.com/mmeshcher/barpoints-system/internal/model"
	"github.com/mmeshcher/barpoints-system/internal/repository"
	"github.com/mmeshcher/barpoints-system/internal/role"
)

const deliveryEstimate = 7 * 24 * time.Hour

func newOrderNumber() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("generate order number: %w", err)
	}
	return "BP-" + strings.ToUpper(id.String()[:8]), nil
}

// Checkout обменивает содержимое корзины на заказ. Предусловия проверяются
// здесь для понятной ошибки и перепроверяются хранилищем атомарно; там же
// корзина сверяется со снимком и потребляется, поэтому конкурентный чекаут
// той же корзины или за последнюю единицу приза получит Conflict.
func (s *Service) Checkout(ctx context.Context, userID int64) (*model.Order, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, model.ErrEmptyCart
	}

	now := time.Now()
	items := make([]model.OrderItem, 0, len(cart.Items))
	for _, it := range cart.Items {
		prize, err := s.repo.GetPrize(ctx, it.PrizeID)
		if err != nil {
			return nil, err
		}
		if !prize.IsAvailable(now) {
			return nil, fmt.Errorf("%w: %s", model.ErrPrizeUnavailable, prize.Name)
		}
		if prize.Quantity < it.Quantity {
			return nil, fmt.Errorf("%w: %s has %d left, requested %d",
				model.ErrInsufficientStock, prize.Name, prize.Quantity, it.Quantity)
		}
		items = append(items, model.OrderItem{
			PrizeID:  it.PrizeID,
			Name:     it.PrizeName,
			Quantity: it.Quantity,
			Price:    it.PriceAtTime,
		})
	}

	number, err := newOrderNumber()
	if err != nil {
		return nil, err
	}
	txnID, err := newTxnID()
	if err != nil {
		return nil, err
	}

	return s.repo.Checkout(ctx, repository.CheckoutOrder{
		UserID:            userID,
		Number:            number,
		Items:             items,
		TotalCost:         cart.TotalCost(),
		TxnID:             txnID,
		EstimatedDelivery: now.Add(deliveryEstimate),
	})
}

// CancelOrder отменяет заказ с возвратом баллов и остатков призов.
// Чужой заказ может отменить только администратор.
func (s *Service) CancelOrder(ctx context.Context, actor role.Scope, orderID int64, reason string) (*model.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.AllowsUser(order.UserID) {
		return nil, fmt.Errorf("order %s is out of scope: %w", order.Number, model.ErrForbidden)
	}

	txnID, err := newTxnID()
	if err != nil {
		return nil, err
	}

	return s.repo.CancelOrder(ctx, repository.CancelUpdate{
		OrderID:     orderID,
		Note:        reason,
		CancelledAt: time.Now(),
		TxnID:       txnID,
	})
}

// UpdateOrderStatus продвигает заказ к следующему статусу исполнения
// (административная операция). Отмена выполняется отдельной операцией
// CancelOrder, потому что затрагивает баланс и остатки.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor role.Scope, orderID int64, target model.OrderStatus, note string) (*model.Order, error) {
	if actor.Role != model.RoleAdmin {
		return nil, fmt.Errorf("order fulfillment requires admin role: %w", model.ErrForbidden)
	}
	if target == model.OrderCancelled {
		return nil, fmt.Errorf("use the cancel operation to cancel an order: %w", model.ErrValidation)
	}

	return s.repo.AdvanceOrder(ctx, repository.AdvanceUpdate{
		OrderID:   orderID,
		Target:    target,
		Note:      note,
		ChangedAt: time.Now(),
	})
}

// GetOrder возвращает заказ; чужие заказы видит только администратор.
func (s *Service) GetOrder(ctx context.Context, actor role.Scope, orderID int64) (*model.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.AllowsUser(order.UserID) {
		return nil, fmt.Errorf("order %s is out of scope: %w", order.Number, model.ErrForbidden)
	}
	return order, nil
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (s *Service) ListOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.ListOrdersByUser(ctx, userID)
}
