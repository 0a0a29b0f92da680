package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/barpoints-system/internal/model"
)

// Checkout атомарно превращает подготовленный снимок заказа в заказ:
// потребляет корзину и сверяет её со снимком, перепроверяет предусловия
// под блокировками строк, списывает баллы, уменьшает остатки призов и
// пишет запись журнала. Любая несработавшая проверка откатывает
// транзакцию целиком.
func (r *Postgres) Checkout(ctx context.Context, co CheckoutOrder) (*model.Order, error) {
	var order *model.Order

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			var points int64
			err := tx.QueryRow(ctx,
				`SELECT points FROM users WHERE id = $1 FOR UPDATE`, co.UserID,
			).Scan(&points)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return model.ErrUserNotFound
				}
				return fmt.Errorf("lock user: %w", err)
			}

			// Корзина потребляется внутри транзакции и сверяется со
			// снимком: конкурентный чекаут той же корзины увидит
			// расхождение и откатится, списание не применится дважды.
			cartItems, err := consumeCart(ctx, tx, co.UserID)
			if err != nil {
				return err
			}
			if !cartMatchesOrder(cartItems, co.Items) {
				return model.ErrCartChanged
			}

			if points < co.TotalCost {
				return fmt.Errorf("%w: need %d more points", model.ErrInsufficientPoints, co.TotalCost-points)
			}

			// Призы блокируются в порядке возрастания id, чтобы два
			// конкурентных чекаута с пересекающимися корзинами не
			// зашли в дедлок.
			items := make([]model.OrderItem, len(co.Items))
			copy(items, co.Items)
			sort.Slice(items, func(i, j int) bool { return items[i].PrizeID < items[j].PrizeID })

			now := time.Now()
			for _, it := range items {
				p, err := scanPrize(tx.QueryRow(ctx,
					`SELECT `+prizeColumns+` FROM prizes WHERE id = $1 FOR UPDATE`, it.PrizeID))
				if err != nil {
					return err
				}
				if !p.IsAvailable(now) {
					return fmt.Errorf("%w: %s", model.ErrPrizeUnavailable, p.Name)
				}
				if p.Quantity < it.Quantity {
					return fmt.Errorf("%w: %s has %d left, requested %d",
						model.ErrInsufficientStock, p.Name, p.Quantity, it.Quantity)
				}
			}

			var orderID int64
			var createdAt time.Time
			err = tx.QueryRow(ctx,
				`INSERT INTO orders (user_id, number, total_cost, status, transaction_id, estimated_delivery)
				 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
				co.UserID, co.Number, co.TotalCost, string(model.OrderPending), co.TxnID, co.EstimatedDelivery,
			).Scan(&orderID, &createdAt)
			if err != nil {
				return fmt.Errorf("insert order: %w", err)
			}

			for _, it := range co.Items {
				if _, err := tx.Exec(ctx,
					`INSERT INTO order_items (order_id, prize_id, name, quantity, price)
					 VALUES ($1, $2, $3, $4, $5)`,
					orderID, it.PrizeID, it.Name, it.Quantity, it.Price,
				); err != nil {
					return fmt.Errorf("insert order item: %w", err)
				}

				if _, err := tx.Exec(ctx,
					`UPDATE prizes SET quantity = quantity - $2 WHERE id = $1`,
					it.PrizeID, it.Quantity,
				); err != nil {
					return fmt.Errorf("decrement prize stock: %w", err)
				}
			}

			if _, err := tx.Exec(ctx,
				`UPDATE users SET points = points - $2 WHERE id = $1`,
				co.UserID, co.TotalCost,
			); err != nil {
				return fmt.Errorf("deduct points: %w", err)
			}

			if err := insertTransaction(ctx, tx, &model.Transaction{
				ID:          co.TxnID,
				UserID:      co.UserID,
				Type:        model.TxnRedemption,
				Amount:      co.TotalCost,
				Status:      model.TxnCompleted,
				OrderID:     &orderID,
				Description: fmt.Sprintf("redemption for order %s", co.Number),
			}); err != nil {
				return err
			}

			if _, err := tx.Exec(ctx,
				`INSERT INTO order_status_history (order_id, status, note, changed_at)
				 VALUES ($1, $2, $3, $4)`,
				orderID, string(model.OrderPending), "order created", createdAt,
			); err != nil {
				return fmt.Errorf("insert status history: %w", err)
			}

			order = &model.Order{
				ID:                orderID,
				UserID:            co.UserID,
				Number:            co.Number,
				Items:             co.Items,
				TotalCost:         co.TotalCost,
				Status:            model.OrderPending,
				History:           []model.StatusChange{{Status: model.OrderPending, ChangedAt: createdAt, Note: "order created"}},
				TransactionID:     co.TxnID,
				EstimatedDelivery: co.EstimatedDelivery,
				CreatedAt:         createdAt,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// CancelOrder атомарно отменяет заказ: возвращает баллы, восстанавливает
// остатки призов и пишет запись refund. Допустимость отмены перепроверяется
// по заблокированной строке заказа.
func (r *Postgres) CancelOrder(ctx context.Context, upd CancelUpdate) (*model.Order, error) {
	var order *model.Order

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			o, err := r.lockOrder(ctx, tx, upd.OrderID)
			if err != nil {
				return err
			}

			if !model.CanCancelOrder(o.Status) {
				return fmt.Errorf("order %s cannot be cancelled from status %q: %w",
					o.Number, o.Status, model.ErrInvalidState)
			}

			var dummy int
			if err := tx.QueryRow(ctx,
				`SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, o.UserID,
			).Scan(&dummy); err != nil {
				return fmt.Errorf("lock user: %w", err)
			}

			if _, err := tx.Exec(ctx,
				`UPDATE users SET points = points + $2 WHERE id = $1`,
				o.UserID, o.TotalCost,
			); err != nil {
				return fmt.Errorf("refund points: %w", err)
			}

			for _, it := range o.Items {
				if _, err := tx.Exec(ctx,
					`UPDATE prizes SET quantity = quantity + $2 WHERE id = $1`,
					it.PrizeID, it.Quantity,
				); err != nil {
					return fmt.Errorf("restore prize stock: %w", err)
				}
			}

			if err := insertTransaction(ctx, tx, &model.Transaction{
				ID:          upd.TxnID,
				UserID:      o.UserID,
				Type:        model.TxnRefund,
				Amount:      o.TotalCost,
				Status:      model.TxnCompleted,
				OrderID:     &o.ID,
				Description: fmt.Sprintf("refund for cancelled order %s", o.Number),
			}); err != nil {
				return err
			}

			if _, err := tx.Exec(ctx,
				`UPDATE orders SET status = $2 WHERE id = $1`,
				o.ID, string(model.OrderCancelled),
			); err != nil {
				return fmt.Errorf("update order status: %w", err)
			}

			if _, err := tx.Exec(ctx,
				`INSERT INTO order_status_history (order_id, status, note, changed_at)
				 VALUES ($1, $2, $3, $4)`,
				o.ID, string(model.OrderCancelled), upd.Note, upd.CancelledAt,
			); err != nil {
				return fmt.Errorf("insert status history: %w", err)
			}

			o.Status = model.OrderCancelled
			o.History = append(o.History, model.StatusChange{
				Status:    model.OrderCancelled,
				ChangedAt: upd.CancelledAt,
				Note:      upd.Note,
			})
			order = o
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// AdvanceOrder продвигает заказ к следующему статусу исполнения. Переход
// проверяется по заблокированной строке; delivered дополнительно ставит
// отметку фактической доставки.
func (r *Postgres) AdvanceOrder(ctx context.Context, upd AdvanceUpdate) (*model.Order, error) {
	var order *model.Order

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			o, err := r.lockOrder(ctx, tx, upd.OrderID)
			if err != nil {
				return err
			}

			if !model.CanAdvanceOrder(o.Status, upd.Target) {
				return fmt.Errorf("order %s cannot move from %q to %q: %w",
					o.Number, o.Status, upd.Target, model.ErrInvalidState)
			}

			var actualDelivery *time.Time
			if upd.Target == model.OrderDelivered {
				actualDelivery = &upd.ChangedAt
			}

			if _, err := tx.Exec(ctx,
				`UPDATE orders SET status = $2, actual_delivery = COALESCE($3, actual_delivery) WHERE id = $1`,
				o.ID, string(upd.Target), actualDelivery,
			); err != nil {
				return fmt.Errorf("update order status: %w", err)
			}

			if _, err := tx.Exec(ctx,
				`INSERT INTO order_status_history (order_id, status, note, changed_at)
				 VALUES ($1, $2, $3, $4)`,
				o.ID, string(upd.Target), upd.Note, upd.ChangedAt,
			); err != nil {
				return fmt.Errorf("insert status history: %w", err)
			}

			o.Status = upd.Target
			o.ActualDelivery = actualDelivery
			o.History = append(o.History, model.StatusChange{
				Status:    upd.Target,
				ChangedAt: upd.ChangedAt,
				Note:      upd.Note,
			})
			order = o
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *Postgres) lockOrder(ctx context.Context, tx pgx.Tx, orderID int64) (*model.Order, error) {
	var o model.Order
	var status string
	err := tx.QueryRow(ctx,
		`SELECT id, user_id, number, total_cost, status, transaction_id,
		        estimated_delivery, actual_delivery, created_at
		 FROM orders WHERE id = $1 FOR UPDATE`,
		orderID,
	).Scan(&o.ID, &o.UserID, &o.Number, &o.TotalCost, &status, &o.TransactionID,
		&o.EstimatedDelivery, &o.ActualDelivery, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	o.Status = model.OrderStatus(status)

	items, err := r.orderItems(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	history, err := r.orderHistory(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	o.History = history

	return &o, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Postgres) orderItems(ctx context.Context, q queryer, orderID int64) ([]model.OrderItem, error) {
	rows, err := q.Query(ctx,
		`SELECT prize_id, name, quantity, price FROM order_items WHERE order_id = $1 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.PrizeID, &it.Name, &it.Quantity, &it.Price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func (r *Postgres) orderHistory(ctx context.Context, q queryer, orderID int64) ([]model.StatusChange, error) {
	rows, err := q.Query(ctx,
		`SELECT status, note, changed_at FROM order_status_history WHERE order_id = $1 ORDER BY changed_at, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select status history: %w", err)
	}
	defer rows.Close()

	var history []model.StatusChange
	for rows.Next() {
		var ch model.StatusChange
		var status string
		if err := rows.Scan(&status, &ch.Note, &ch.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		ch.Status = model.OrderStatus(status)
		history = append(history, ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return history, nil
}

// GetOrder возвращает заказ со строками и историей статусов.
func (r *Postgres) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	var o model.Order
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, number, total_cost, status, transaction_id,
		        estimated_delivery, actual_delivery, created_at
		 FROM orders WHERE id = $1`,
		orderID,
	).Scan(&o.ID, &o.UserID, &o.Number, &o.TotalCost, &status, &o.TransactionID,
		&o.EstimatedDelivery, &o.ActualDelivery, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = model.OrderStatus(status)

	items, err := r.orderItems(ctx, r.pool, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	history, err := r.orderHistory(ctx, r.pool, orderID)
	if err != nil {
		return nil, err
	}
	o.History = history

	return &o, nil
}

// ListOrdersByUser возвращает заказы пользователя, новые первыми, без истории.
func (r *Postgres) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, number, total_cost, status, transaction_id,
		        estimated_delivery, actual_delivery, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		var o model.Order
		var status string
		if err := rows.Scan(&o.ID, &o.UserID, &o.Number, &o.TotalCost, &status, &o.TransactionID,
			&o.EstimatedDelivery, &o.ActualDelivery, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range res {
		items, err := r.orderItems(ctx, r.pool, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Items = items
	}

	return res, nil
}
