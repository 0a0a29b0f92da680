// Package model содержит доменные сущности движка баллов и призов.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает каноническую роль пользователя в системе.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleBrandRep   Role = "brand_representative"
	RoleBarManager Role = "bar_manager"
	RoleBartender  Role = "bartender"
)

// User представляет зарегистрированного участника программы лояльности.
// Балансовые поля изменяются только движком (верификация продаж и чекаут),
// обработчики запросов не пишут в них напрямую.
type User struct {
	ID               int64
	Login            string
	PasswordHash     []byte
	RoleRef          string
	BarID            *int64
	Brands           []string
	Points           int64
	TotalEarnings    int64
	AvailableBalance decimal.Decimal
	WithdrawnAmount  decimal.Decimal
	IsActive         bool
	CreatedAt        time.Time
}

// PointsCalculationType задаёт способ начисления баллов за продажу.
type PointsCalculationType string

const (
	CalcPerRuble   PointsCalculationType = "per_ruble"
	CalcPerPortion PointsCalculationType = "per_portion"
	CalcPerVolume  PointsCalculationType = "per_volume"
)

// Product описывает конфигурацию цены и начисления баллов для товара.
// Продажа снимает с товара рассчитанные цену и баллы, а не живую ссылку,
// поэтому правка товара не меняет исторические продажи.
type Product struct {
	ID                int64
	Name              string
	Brand             string
	CalculationType   PointsCalculationType
	PointsPerRuble    decimal.Decimal
	PointsPerPortion  int64
	PortionSizeGrams  int64
	BottlePrice       decimal.Decimal
	PortionsPerBottle int64
	CreatedAt         time.Time
}

// VerificationStatus описывает статус модерации продажи.
type VerificationStatus string

const (
	SalePending  VerificationStatus = "pending"
	SaleApproved VerificationStatus = "approved"
	SaleRejected VerificationStatus = "rejected"
)

// Sale описывает одну продажу. Поля price и pointsEarned фиксируются при
// создании и никогда не пересчитываются; от статуса зависит только эффект
// pointsEarned на баланс владельца.
type Sale struct {
	ID                 int64
	UserID             int64
	BarID              int64
	Bar                string
	Product            string
	Brand              string
	Quantity           int64
	Price              decimal.Decimal
	PointsEarned       int64
	ProofRef           string
	VerificationStatus VerificationStatus
	VerifiedBy         *int64
	VerifiedAt         *time.Time
	VerificationNotes  string
	Revisions          int64
	CreatedAt          time.Time
}

// TransactionType описывает тип записи журнала баланса.
type TransactionType string

const (
	TxnEarning    TransactionType = "earning"
	TxnReversal   TransactionType = "reversal"
	TxnRedemption TransactionType = "redemption"
	TxnRefund     TransactionType = "refund"
	TxnWithdrawal TransactionType = "withdrawal"
	TxnBonus      TransactionType = "bonus"
)

// TransactionStatus описывает состояние записи журнала.
type TransactionStatus string

const (
	TxnCompleted TransactionStatus = "completed"
	TxnPending   TransactionStatus = "pending"
)

// Transaction — неизменяемая запись о событии, повлиявшем на баланс.
// Сумма всегда положительна, знак эффекта определяется типом записи.
type Transaction struct {
	ID          string
	UserID      int64
	Type        TransactionType
	Amount      int64
	Status      TransactionStatus
	SaleID      *int64
	OrderID     *int64
	Description string
	CreatedAt   time.Time
}

// BalanceEffect возвращает знаковый эффект записи на баланс пользователя.
func (t Transaction) BalanceEffect() int64 {
	switch t.Type {
	case TxnEarning, TxnRefund, TxnBonus:
		return t.Amount
	case TxnReversal, TxnRedemption, TxnWithdrawal:
		return -t.Amount
	}
	return 0
}

// Prize описывает приз, доступный к обмену на баллы.
type Prize struct {
	ID               int64
	Name             string
	Description      string
	Cost             int64
	Quantity         int64
	OriginalQuantity int64
	IsActive         bool
	ExpiresAt        *time.Time
	CreatedAt        time.Time
}

// IsAvailable сообщает, доступен ли приз к обмену прямо сейчас.
func (p Prize) IsAvailable(now time.Time) bool {
	if !p.IsActive || p.Quantity <= 0 {
		return false
	}
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return false
	}
	return true
}

// CartItem — строка корзины. priceAtTime фиксирует стоимость приза в момент
// добавления, чтобы правка цены приза не меняла сумму уже собранной корзины.
type CartItem struct {
	ID          int64
	PrizeID     int64
	PrizeName   string
	Quantity    int64
	PriceAtTime int64
}

// Cart — единственная на пользователя корзина выбранных призов.
type Cart struct {
	UserID    int64
	Items     []CartItem
	UpdatedAt time.Time
}

// TotalCost пересчитывает сумму корзины по строкам; отдельно сумма не хранится.
func (c Cart) TotalCost() int64 {
	var total int64
	for _, it := range c.Items {
		total += it.PriceAtTime * it.Quantity
	}
	return total
}

// Balance содержит балльный и денежный баланс пользователя.
type Balance struct {
	Points           int64           `json:"points"`
	TotalEarnings    int64           `json:"total_earnings"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	WithdrawnAmount  decimal.Decimal `json:"withdrawn_amount"`
}

// OrderStatus описывает стадию исполнения заказа.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// OrderItem — снимок строки заказа на момент чекаута.
type OrderItem struct {
	PrizeID  int64
	Name     string
	Quantity int64
	Price    int64
}

// StatusChange — запись аудита смены статуса заказа.
type StatusChange struct {
	Status    OrderStatus
	ChangedAt time.Time
	Note      string
}

// Order — неизменяемый результат чекаута; меняются только статус,
// история статусов и отметка фактической доставки.
type Order struct {
	ID                int64
	UserID            int64
	Number            string
	Items             []OrderItem
	TotalCost         int64
	Status            OrderStatus
	History           []StatusChange
	TransactionID     string
	EstimatedDelivery time.Time
	ActualDelivery    *time.Time
	CreatedAt         time.Time
}
