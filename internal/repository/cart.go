package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/barpoints-system/internal/model"
)

// GetCart собирает корзину пользователя из её строк. Отсутствие строк —
// пустая корзина, отдельной сущности под неё не заводится.
func (r *Postgres) GetCart(ctx context.Context, userID int64) (*model.Cart, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, prize_id, prize_name, quantity, price_at_time, updated_at
		 FROM cart_items
		 WHERE user_id = $1
		 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart items: %w", err)
	}
	defer rows.Close()

	cart := &model.Cart{UserID: userID}
	for rows.Next() {
		var it model.CartItem
		var updatedAt time.Time
		if err := rows.Scan(&it.ID, &it.PrizeID, &it.PrizeName, &it.Quantity, &it.PriceAtTime, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		if updatedAt.After(cart.UpdatedAt) {
			cart.UpdatedAt = updatedAt
		}
		cart.Items = append(cart.Items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return cart, nil
}

// SetCartItem записывает строку корзины: существующая строка того же приза
// заменяется целиком, priceAtTime при этом сохраняется от первого добавления.
func (r *Postgres) SetCartItem(ctx context.Context, userID int64, item model.CartItem) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO cart_items (user_id, prize_id, prize_name, quantity, price_at_time, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (user_id, prize_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()`,
		userID, item.PrizeID, item.PrizeName, item.Quantity, item.PriceAtTime,
	)
	if err != nil {
		return fmt.Errorf("set cart item: %w", err)
	}
	return nil
}

// consumeCart удаляет строки корзины пользователя внутри транзакции чекаута
// и возвращает их для сверки со снимком заказа.
func consumeCart(ctx context.Context, tx pgx.Tx, userID int64) ([]model.CartItem, error) {
	rows, err := tx.Query(ctx,
		`DELETE FROM cart_items WHERE user_id = $1
		 RETURNING prize_id, quantity, price_at_time`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("consume cart: %w", err)
	}
	defer rows.Close()

	var items []model.CartItem
	for rows.Next() {
		var it model.CartItem
		if err := rows.Scan(&it.PrizeID, &it.Quantity, &it.PriceAtTime); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// RemoveCartItem удаляет строку приза из корзины пользователя.
func (r *Postgres) RemoveCartItem(ctx context.Context, userID, prizeID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND prize_id = $2`,
		userID, prizeID,
	)
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cart item for prize %d: %w", prizeID, model.ErrNotFound)
	}
	return nil
}

// ClearCart удаляет все строки корзины пользователя.
func (r *Postgres) ClearCart(ctx context.Context, userID int64) error {
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM cart_items WHERE user_id = $1`, userID,
	); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
