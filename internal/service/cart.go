package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/barpoints-system/internal/model"
)

// GetCart возвращает корзину пользователя; сумма пересчитывается по строкам.
func (s *Service) GetCart(ctx context.Context, userID int64) (*model.Cart, error) {
	return s.repo.GetCart(ctx, userID)
}

// AddToCart добавляет приз в корзину или увеличивает количество существующей
// строки. Цена строки фиксируется при первом добавлении и не меняется при
// последующих правках стоимости приза.
func (s *Service) AddToCart(ctx context.Context, userID, prizeID, quantity int64) (*model.Cart, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d: %w", quantity, model.ErrValidation)
	}

	prize, err := s.repo.GetPrize(ctx, prizeID)
	if err != nil {
		return nil, err
	}
	if !prize.IsAvailable(time.Now()) {
		return nil, fmt.Errorf("%w: %s", model.ErrPrizeUnavailable, prize.Name)
	}

	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	item := model.CartItem{
		PrizeID:     prizeID,
		PrizeName:   prize.Name,
		Quantity:    quantity,
		PriceAtTime: prize.Cost,
	}
	for _, it := range cart.Items {
		if it.PrizeID == prizeID {
			item.Quantity += it.Quantity
			item.PriceAtTime = it.PriceAtTime
			break
		}
	}

	if item.Quantity > prize.Quantity {
		return nil, fmt.Errorf("%w: %s has %d left, requested %d",
			model.ErrInsufficientStock, prize.Name, prize.Quantity, item.Quantity)
	}

	if err := s.repo.SetCartItem(ctx, userID, item); err != nil {
		return nil, err
	}

	return s.repo.GetCart(ctx, userID)
}

// UpdateCartItem меняет количество строки корзины; ноль удаляет строку.
func (s *Service) UpdateCartItem(ctx context.Context, userID, prizeID, quantity int64) (*model.Cart, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("quantity must not be negative, got %d: %w", quantity, model.ErrValidation)
	}

	if quantity == 0 {
		return s.RemoveCartItem(ctx, userID, prizeID)
	}

	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	var existing *model.CartItem
	for i := range cart.Items {
		if cart.Items[i].PrizeID == prizeID {
			existing = &cart.Items[i]
			break
		}
	}
	if existing == nil {
		return nil, fmt.Errorf("cart item for prize %d: %w", prizeID, model.ErrNotFound)
	}

	prize, err := s.repo.GetPrize(ctx, prizeID)
	if err != nil {
		return nil, err
	}
	if quantity > prize.Quantity {
		return nil, fmt.Errorf("%w: %s has %d left, requested %d",
			model.ErrInsufficientStock, prize.Name, prize.Quantity, quantity)
	}

	existing.Quantity = quantity
	if err := s.repo.SetCartItem(ctx, userID, *existing); err != nil {
		return nil, err
	}

	return s.repo.GetCart(ctx, userID)
}

// RemoveCartItem удаляет строку приза из корзины.
func (s *Service) RemoveCartItem(ctx context.Context, userID, prizeID int64) (*model.Cart, error) {
	if err := s.repo.RemoveCartItem(ctx, userID, prizeID); err != nil {
		return nil, err
	}
	return s.repo.GetCart(ctx, userID)
}

// ClearCart очищает корзину пользователя.
func (s *Service) ClearCart(ctx context.Context, userID int64) error {
	return s.repo.ClearCart(ctx, userID)
}
