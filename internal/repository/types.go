// Package repository содержит реализации хранилища движка: PostgreSQL и
// память (для тестов и запуска без БД).
package repository

import (
	"time"

	"github.com/mmeshcher/barpoints-system/internal/model"
)

// SaleFilter ограничивает выборку продаж. Nil-поле означает отсутствие
// ограничения; ненулевой пустой список брендов не совпадает ни с чем.
type SaleFilter struct {
	UserID *int64
	BarID  *int64
	Brands []string
	Status *model.VerificationStatus
}

// TxnFilter ограничивает выборку записей журнала.
type TxnFilter struct {
	UserID *int64
	Type   *model.TransactionType
	Status *model.TransactionStatus
}

// VerificationUpdate описывает переход статуса продажи. Эффект на баланс
// вычисляется внутри транзакции хранилища по заблокированному текущему
// статусу, чтобы два конкурентных перехода не применили эффект дважды.
type VerificationUpdate struct {
	SaleID     int64
	Target     model.VerificationStatus
	VerifiedBy int64
	VerifiedAt time.Time
	Notes      string
	// TxnID используется для записи журнала, если переход имеет эффект.
	TxnID string
}

// CheckoutOrder — подготовленный сервисом снимок заказа. Хранилище атомарно
// потребляет корзину, перепроверяет предусловия (совпадение корзины со
// снимком, активность призов, остатки, баланс) и применяет все изменения
// одной транзакцией.
type CheckoutOrder struct {
	UserID            int64
	Number            string
	Items             []model.OrderItem
	TotalCost         int64
	TxnID             string
	EstimatedDelivery time.Time
}

// cartMatchesOrder сообщает, совпадают ли строки корзины со снимком заказа
// по призам, количеству и зафиксированной цене.
func cartMatchesOrder(items []model.CartItem, snapshot []model.OrderItem) bool {
	if len(items) != len(snapshot) {
		return false
	}
	byPrize := make(map[int64]model.CartItem, len(items))
	for _, it := range items {
		byPrize[it.PrizeID] = it
	}
	for _, it := range snapshot {
		got, ok := byPrize[it.PrizeID]
		if !ok || got.Quantity != it.Quantity || got.PriceAtTime != it.Price {
			return false
		}
	}
	return true
}

// CancelUpdate описывает отмену заказа с возвратом баллов и остатков.
type CancelUpdate struct {
	OrderID     int64
	Note        string
	CancelledAt time.Time
	TxnID       string
}

// AdvanceUpdate описывает продвижение заказа к следующему статусу исполнения.
type AdvanceUpdate struct {
	OrderID   int64
	Target    model.OrderStatus
	Note      string
	ChangedAt time.Time
}
