// Package service реализует бизнес-логику движка баллов: модерацию продаж,
// корзину, обмен баллов на призы и жизненный цикл заказов.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"

	"github.com/mmeshcher/barpoints-system/internal/model"
	"github.com/mmeshcher/barpoints-system/internal/repository"
	"github.com/mmeshcher/barpoints-system/internal/role"
)

// Repository описывает контракт доступа к данным, используемый движком.
// Методы ApplyVerification, Checkout, CancelOrder и AdvanceOrder атомарны:
// реализация обязана применять все их эффекты как одну транзакцию.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, u *model.User) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	DeactivateUser(ctx context.Context, id int64) error

	CreateProduct(ctx context.Context, p *model.Product) (int64, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)

	CreatePrize(ctx context.Context, p *model.Prize) (int64, error)
	GetPrize(ctx context.Context, id int64) (*model.Prize, error)
	ListPrizes(ctx context.Context, activeOnly bool) ([]model.Prize, error)
	UpdatePrize(ctx context.Context, p *model.Prize) error

	CreateSale(ctx context.Context, s *model.Sale) (int64, error)
	GetSale(ctx context.Context, id int64) (*model.Sale, error)
	ListSales(ctx context.Context, f repository.SaleFilter) ([]model.Sale, error)
	ApplyVerification(ctx context.Context, upd repository.VerificationUpdate) (*model.Sale, error)

	GetCart(ctx context.Context, userID int64) (*model.Cart, error)
	SetCartItem(ctx context.Context, userID int64, item model.CartItem) error
	RemoveCartItem(ctx context.Context, userID, prizeID int64) error
	ClearCart(ctx context.Context, userID int64) error

	Checkout(ctx context.Context, co repository.CheckoutOrder) (*model.Order, error)
	CancelOrder(ctx context.Context, upd repository.CancelUpdate) (*model.Order, error)
	AdvanceOrder(ctx context.Context, upd repository.AdvanceUpdate) (*model.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)

	CreateTransaction(ctx context.Context, t *model.Transaction) error
	ListTransactions(ctx context.Context, f repository.TxnFilter) ([]model.Transaction, error)
	SumTransactionsByType(ctx context.Context, userID int64) (map[model.TransactionType]int64, error)
}

// Service содержит бизнес-логику движка баллов.
type Service struct {
	repo Repository
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func newTxnID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("generate transaction id: %w", err)
	}
	return id.String(), nil
}

// RegisterUser регистрирует нового пользователя. Ссылка на роль разбирается
// сразу, чтобы некорректная роль не попала в хранилище.
func (s *Service) RegisterUser(ctx context.Context, login, password, roleRef string, barID *int64, brands []string) (int64, error) {
	if login == "" || password == "" {
		return 0, fmt.Errorf("login and password are required: %w", model.ErrValidation)
	}
	if _, err := role.Resolve(roleRef); err != nil {
		return 0, err
	}

	id, err := s.repo.CreateUser(ctx, &model.User{
		Login:        login,
		PasswordHash: hashPassword(login, password),
		RoleRef:      roleRef,
		BarID:        barID,
		Brands:       brands,
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return nil, errors.New("invalid credentials")
	}
	if !u.IsActive {
		return nil, fmt.Errorf("user is deactivated: %w", model.ErrForbidden)
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// ScopeForUser строит область видимости для пользователя по идентификатору.
// Вызывается на границе аутентификации; дальше по операциям ходит готовый Scope.
func (s *Service) ScopeForUser(ctx context.Context, userID int64) (role.Scope, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return role.Scope{}, err
	}
	return role.ScopeFor(u)
}

// GetBalance возвращает баланс пользователя. Чужой баланс видит только администратор.
func (s *Service) GetBalance(ctx context.Context, actor role.Scope, userID int64) (*model.Balance, error) {
	if !actor.AllowsUser(userID) {
		return nil, fmt.Errorf("balance of user %d is out of scope: %w", actor.UserID, model.ErrForbidden)
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &model.Balance{
		Points:           u.Points,
		TotalEarnings:    u.TotalEarnings,
		AvailableBalance: u.AvailableBalance,
		WithdrawnAmount:  u.WithdrawnAmount,
	}, nil
}

// LedgerFilter задаёт фильтр выборки журнала для пользователя.
type LedgerFilter struct {
	Type   *model.TransactionType
	Status *model.TransactionStatus
}

// ListLedger возвращает записи журнала пользователя. Чужой журнал доступен
// только администратору.
func (s *Service) ListLedger(ctx context.Context, actor role.Scope, userID int64, f LedgerFilter) ([]model.Transaction, error) {
	if !actor.AllowsUser(userID) {
		return nil, fmt.Errorf("ledger of another user is out of scope: %w", model.ErrForbidden)
	}

	return s.repo.ListTransactions(ctx, repository.TxnFilter{
		UserID: &userID,
		Type:   f.Type,
		Status: f.Status,
	})
}

// LedgerSummary возвращает суммы журнала пользователя по типам записей.
func (s *Service) LedgerSummary(ctx context.Context, actor role.Scope, userID int64) (map[model.TransactionType]int64, error) {
	if !actor.AllowsUser(userID) {
		return nil, fmt.Errorf("ledger of another user is out of scope: %w", model.ErrForbidden)
	}
	return s.repo.SumTransactionsByType(ctx, userID)
}

// GrantBonus начисляет пользователю бонусные баллы (административная операция).
func (s *Service) GrantBonus(ctx context.Context, actor role.Scope, userID, amount int64, description string) error {
	if actor.Role != model.RoleAdmin {
		return fmt.Errorf("bonus grant requires admin role: %w", model.ErrForbidden)
	}
	if amount <= 0 {
		return fmt.Errorf("bonus amount must be positive, got %d: %w", amount, model.ErrValidation)
	}

	txnID, err := newTxnID()
	if err != nil {
		return err
	}

	return s.repo.CreateTransaction(ctx, &model.Transaction{
		ID:          txnID,
		UserID:      userID,
		Type:        model.TxnBonus,
		Amount:      amount,
		Status:      model.TxnCompleted,
		Description: description,
	})
}

// CreateProduct сохраняет конфигурацию товара (административная операция).
func (s *Service) CreateProduct(ctx context.Context, actor role.Scope, p *model.Product) (int64, error) {
	if actor.Role != model.RoleAdmin {
		return 0, fmt.Errorf("product management requires admin role: %w", model.ErrForbidden)
	}
	if p.PortionsPerBottle <= 0 {
		return 0, fmt.Errorf("portionsPerBottle must be positive: %w", model.ErrValidation)
	}
	return s.repo.CreateProduct(ctx, p)
}

// CreatePrize сохраняет новый приз (административная операция).
func (s *Service) CreatePrize(ctx context.Context, actor role.Scope, p *model.Prize) (int64, error) {
	if actor.Role != model.RoleAdmin {
		return 0, fmt.Errorf("prize management requires admin role: %w", model.ErrForbidden)
	}
	if p.Cost <= 0 {
		return 0, fmt.Errorf("prize cost must be positive: %w", model.ErrValidation)
	}
	if p.Quantity < 0 {
		return 0, fmt.Errorf("prize quantity must not be negative: %w", model.ErrValidation)
	}
	if p.OriginalQuantity == 0 {
		p.OriginalQuantity = p.Quantity
	}
	return s.repo.CreatePrize(ctx, p)
}

// UpdatePrize обновляет приз (административная операция).
func (s *Service) UpdatePrize(ctx context.Context, actor role.Scope, p *model.Prize) error {
	if actor.Role != model.RoleAdmin {
		return fmt.Errorf("prize management requires admin role: %w", model.ErrForbidden)
	}
	if p.Quantity < 0 {
		return fmt.Errorf("prize quantity must not be negative: %w", model.ErrValidation)
	}
	return s.repo.UpdatePrize(ctx, p)
}

// ListPrizes возвращает каталог призов; не-администраторы видят только активные.
func (s *Service) ListPrizes(ctx context.Context, actor role.Scope) ([]model.Prize, error) {
	return s.repo.ListPrizes(ctx, actor.Role != model.RoleAdmin)
}
