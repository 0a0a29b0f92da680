package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/barpoints-system/internal/model"
)

// CreateSale сохраняет продажу со снятыми при создании ценой и баллами.
func (r *Postgres) CreateSale(ctx context.Context, s *model.Sale) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO sales (user_id, bar_id, bar, product, brand, quantity, price,
		     points_earned, proof_ref, verification_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		s.UserID, s.BarID, s.Bar, s.Product, s.Brand, s.Quantity, s.Price,
		s.PointsEarned, s.ProofRef, string(s.VerificationStatus),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create sale: %w", err)
	}
	return id, nil
}

const saleColumns = `id, user_id, bar_id, bar, product, brand, quantity, price, points_earned,
	proof_ref, verification_status, verified_by, verified_at, verification_notes, revisions, created_at`

func scanSale(row pgx.Row) (*model.Sale, error) {
	var s model.Sale
	var status string
	err := row.Scan(&s.ID, &s.UserID, &s.BarID, &s.Bar, &s.Product, &s.Brand, &s.Quantity,
		&s.Price, &s.PointsEarned, &s.ProofRef, &status, &s.VerifiedBy, &s.VerifiedAt,
		&s.VerificationNotes, &s.Revisions, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSaleNotFound
		}
		return nil, fmt.Errorf("scan sale: %w", err)
	}
	s.VerificationStatus = model.VerificationStatus(status)
	return &s, nil
}

// GetSale возвращает продажу по идентификатору.
func (r *Postgres) GetSale(ctx context.Context, id int64) (*model.Sale, error) {
	return scanSale(r.pool.QueryRow(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
}

// ListSales возвращает продажи по фильтру, новые первыми. Фильтр собирается
// сервисом из области видимости роли, поэтому ограничения применяются в SQL,
// а не после выборки.
func (r *Postgres) ListSales(ctx context.Context, f SaleFilter) ([]model.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE TRUE`
	var args []any

	if f.UserID != nil {
		args = append(args, *f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.BarID != nil {
		args = append(args, *f.BarID)
		query += fmt.Sprintf(" AND bar_id = $%d", len(args))
	}
	if f.Brands != nil {
		args = append(args, f.Brands)
		query += fmt.Sprintf(" AND brand = ANY($%d)", len(args))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		query += fmt.Sprintf(" AND verification_status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select sales: %w", err)
	}
	defer rows.Close()

	var res []model.Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ApplyVerification выполняет переход статуса продажи. Эффект на баланс
// вычисляется по текущему статусу, прочитанному под блокировкой строки,
// поэтому два конкурентных одинаковых перехода не начислят баллы дважды:
// второй увидит уже применённый статус и запишет только метаданные.
func (r *Postgres) ApplyVerification(ctx context.Context, upd VerificationUpdate) (*model.Sale, error) {
	var sale *model.Sale

	err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			s, err := scanSale(tx.QueryRow(ctx,
				`SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, upd.SaleID))
			if err != nil {
				return err
			}

			effect, statusChanges, err := model.VerificationEffect(s.VerificationStatus, upd.Target)
			if err != nil {
				return err
			}

			revisions := s.Revisions
			if model.IsDecisionChange(s.VerificationStatus, upd.Target) {
				if revisions >= 1 {
					return fmt.Errorf("sale %d: moderation decision already corrected once: %w",
						s.ID, model.ErrInvalidState)
				}
				revisions++
			}

			if effect != model.EffectNone {
				var dummy int
				if err := tx.QueryRow(ctx,
					`SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, s.UserID,
				).Scan(&dummy); err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						return model.ErrUserNotFound
					}
					return fmt.Errorf("lock user: %w", err)
				}
			}

			switch effect {
			case model.EffectCredit:
				_, err = tx.Exec(ctx,
					`UPDATE users SET points = points + $2, total_earnings = total_earnings + $2 WHERE id = $1`,
					s.UserID, s.PointsEarned,
				)
				if err != nil {
					return fmt.Errorf("credit points: %w", err)
				}
				if err := insertTransaction(ctx, tx, &model.Transaction{
					ID:          upd.TxnID,
					UserID:      s.UserID,
					Type:        model.TxnEarning,
					Amount:      s.PointsEarned,
					Status:      model.TxnCompleted,
					SaleID:      &s.ID,
					Description: fmt.Sprintf("points for sale of %s", s.Product),
				}); err != nil {
					return err
				}
			case model.EffectReverse:
				// Списание с отсечкой в ноле: баланс не уходит в минус,
				// даже если часть начисленного уже потрачена.
				_, err = tx.Exec(ctx,
					`UPDATE users
					 SET points = GREATEST(points - $2, 0),
					     total_earnings = GREATEST(total_earnings - $2, 0)
					 WHERE id = $1`,
					s.UserID, s.PointsEarned,
				)
				if err != nil {
					return fmt.Errorf("reverse points: %w", err)
				}
				if err := insertTransaction(ctx, tx, &model.Transaction{
					ID:          upd.TxnID,
					UserID:      s.UserID,
					Type:        model.TxnReversal,
					Amount:      s.PointsEarned,
					Status:      model.TxnCompleted,
					SaleID:      &s.ID,
					Description: fmt.Sprintf("reversal for rejected sale of %s", s.Product),
				}); err != nil {
					return err
				}
			}

			status := s.VerificationStatus
			if statusChanges {
				status = upd.Target
			}

			updated, err := scanSale(tx.QueryRow(ctx,
				`UPDATE sales
				 SET verification_status = $2, verified_by = $3, verified_at = $4,
				     verification_notes = $5, revisions = $6
				 WHERE id = $1
				 RETURNING `+saleColumns,
				s.ID, string(status), upd.VerifiedBy, upd.VerifiedAt, upd.Notes, revisions,
			))
			if err != nil {
				return err
			}

			sale = updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return sale, nil
}
