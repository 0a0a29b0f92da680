package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/barpoints-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres предоставляет доступ к хранилищу данных в PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres создаёт репозиторий и инициализирует схему БД через миграции.
func NewPostgres(dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &Postgres{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *Postgres) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *Postgres) Close() error {
	r.pool.Close()
	return nil
}

// withRetry повторяет fn при сбоях сериализации и дедлоках. Конкурентные
// транзакции движка блокируют одни и те же строки пользователей и призов,
// поэтому такие сбои ожидаемы и безопасны для повтора целиком.
func (r *Postgres) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
			return retry.RetryableError(err)
		}

		return err
	})
}

// inTx выполняет fn в транзакции с откатом при ошибке.
func (r *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// CreateUser создаёт нового пользователя.
func (r *Postgres) CreateUser(ctx context.Context, u *model.User) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role_ref, bar_id, brands)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		u.Login, u.PasswordHash, u.RoleRef, u.BarID, u.Brands,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", model.ErrUserExists, u.Login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const userColumns = `id, login, password_hash, role_ref, bar_id, brands, points,
	total_earnings, available_balance, withdrawn_amount, is_active, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.RoleRef, &u.BarID, &u.Brands,
		&u.Points, &u.TotalEarnings, &u.AvailableBalance, &u.WithdrawnAmount, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *Postgres) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE login = $1`, login))
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *Postgres) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// DeactivateUser помечает пользователя неактивным; записи не удаляются.
func (r *Postgres) DeactivateUser(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// CreateProduct сохраняет конфигурацию товара.
func (r *Postgres) CreateProduct(ctx context.Context, p *model.Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (name, brand, calculation_type, points_per_ruble,
		     points_per_portion, portion_size_grams, bottle_price, portions_per_bottle)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		p.Name, p.Brand, string(p.CalculationType), p.PointsPerRuble,
		p.PointsPerPortion, p.PortionSizeGrams, p.BottlePrice, p.PortionsPerBottle,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create product: %w", err)
	}
	return id, nil
}

// GetProduct возвращает конфигурацию товара.
func (r *Postgres) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	var p model.Product
	var calcType string
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, brand, calculation_type, points_per_ruble, points_per_portion,
		        portion_size_grams, bottle_price, portions_per_bottle, created_at
		 FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Brand, &calcType, &p.PointsPerRuble, &p.PointsPerPortion,
		&p.PortionSizeGrams, &p.BottlePrice, &p.PortionsPerBottle, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("product %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	p.CalculationType = model.PointsCalculationType(calcType)
	return &p, nil
}

// CreatePrize сохраняет новый приз.
func (r *Postgres) CreatePrize(ctx context.Context, p *model.Prize) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO prizes (name, description, cost, quantity, original_quantity, is_active, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.Name, p.Description, p.Cost, p.Quantity, p.OriginalQuantity, p.IsActive, p.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create prize: %w", err)
	}
	return id, nil
}

const prizeColumns = `id, name, description, cost, quantity, original_quantity, is_active, expires_at, created_at`

func scanPrize(row pgx.Row) (*model.Prize, error) {
	var p model.Prize
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Cost, &p.Quantity,
		&p.OriginalQuantity, &p.IsActive, &p.ExpiresAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPrizeNotFound
		}
		return nil, fmt.Errorf("scan prize: %w", err)
	}
	return &p, nil
}

// GetPrize возвращает приз по идентификатору.
func (r *Postgres) GetPrize(ctx context.Context, id int64) (*model.Prize, error) {
	return scanPrize(r.pool.QueryRow(ctx,
		`SELECT `+prizeColumns+` FROM prizes WHERE id = $1`, id))
}

// ListPrizes возвращает призы; при activeOnly — только активные.
func (r *Postgres) ListPrizes(ctx context.Context, activeOnly bool) ([]model.Prize, error) {
	query := `SELECT ` + prizeColumns + ` FROM prizes ORDER BY id`
	if activeOnly {
		query = `SELECT ` + prizeColumns + ` FROM prizes WHERE is_active ORDER BY id`
	}

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select prizes: %w", err)
	}
	defer rows.Close()

	var res []model.Prize
	for rows.Next() {
		p, err := scanPrize(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdatePrize обновляет описание и остатки приза (административная операция).
func (r *Postgres) UpdatePrize(ctx context.Context, p *model.Prize) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE prizes
		 SET name = $2, description = $3, cost = $4, quantity = $5,
		     original_quantity = $6, is_active = $7, expires_at = $8
		 WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Cost, p.Quantity, p.OriginalQuantity, p.IsActive, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("update prize: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrPrizeNotFound
	}
	return nil
}

// CreateTransaction добавляет запись журнала с одновременным применением её
// эффекта к балансу пользователя (используется для бонусов и списаний вне
// чекаута). Запись и баланс меняются одной транзакцией.
func (r *Postgres) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			var dummy int
			if err := tx.QueryRow(ctx,
				`SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, t.UserID,
			).Scan(&dummy); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return model.ErrUserNotFound
				}
				return fmt.Errorf("lock user: %w", err)
			}

			if err := insertTransaction(ctx, tx, t); err != nil {
				return err
			}

			effect := t.BalanceEffect()
			if effect == 0 {
				return nil
			}

			tag, err := tx.Exec(ctx,
				`UPDATE users
				 SET points = GREATEST(points + $2, 0),
				     total_earnings = CASE WHEN $2 > 0 THEN total_earnings + $2 ELSE total_earnings END
				 WHERE id = $1`,
				t.UserID, effect,
			)
			if err != nil {
				return fmt.Errorf("apply balance effect: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return model.ErrUserNotFound
			}
			return nil
		})
	})
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t *model.Transaction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, status, sale_id, order_id, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.UserID, string(t.Type), t.Amount, string(t.Status), t.SaleID, t.OrderID, t.Description,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", model.ErrDuplicateTransaction, t.ID)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// ListTransactions возвращает записи журнала по фильтру, новые первыми.
func (r *Postgres) ListTransactions(ctx context.Context, f TxnFilter) ([]model.Transaction, error) {
	query := `SELECT id, user_id, type, amount, status, sale_id, order_id, description, created_at
	          FROM transactions WHERE TRUE`
	var args []any

	if f.UserID != nil {
		args = append(args, *f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.Type != nil {
		args = append(args, string(*f.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var txnType, status string
		if err := rows.Scan(&t.ID, &t.UserID, &txnType, &t.Amount, &status,
			&t.SaleID, &t.OrderID, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = model.TransactionType(txnType)
		t.Status = model.TransactionStatus(status)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SumTransactionsByType агрегирует суммы журнала пользователя по типам записей.
func (r *Postgres) SumTransactionsByType(ctx context.Context, userID int64) (map[model.TransactionType]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT type, COALESCE(SUM(amount), 0)
		 FROM transactions
		 WHERE user_id = $1
		 GROUP BY type`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sum transactions: %w", err)
	}
	defer rows.Close()

	res := make(map[model.TransactionType]int64)
	for rows.Next() {
		var txnType string
		var sum int64
		if err := rows.Scan(&txnType, &sum); err != nil {
			return nil, fmt.Errorf("scan sum: %w", err)
		}
		res[model.TransactionType(txnType)] = sum
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
