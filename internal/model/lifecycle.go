package model

import "fmt"

// BalanceEffect описывает действие перехода статуса продажи на баланс владельца.
type BalanceEffect int

const (
	// EffectNone — переход без изменения баланса, пишутся только заметки и метаданные.
	EffectNone BalanceEffect = iota
	// EffectCredit — начислить pointsEarned и добавить запись earning.
	EffectCredit
	// EffectReverse — списать pointsEarned с отсечкой в ноле и добавить запись reversal.
	EffectReverse
)

// VerificationEffect возвращает эффект перехода продажи из текущего статуса в
// целевой и признак смены статуса. Баллы начисляются при одобрении, а не при
// создании продажи, поэтому отклонение ещё не одобренной продажи баланс не
// трогает. Переходы вне контракта (pending→pending и подобные) — запись
// заметок и метаданных без смены статуса и эффекта.
func VerificationEffect(current, target VerificationStatus) (BalanceEffect, bool, error) {
	switch target {
	case SalePending, SaleApproved, SaleRejected:
	default:
		return EffectNone, false, fmt.Errorf("invalid target verification status %q: %w", target, ErrValidation)
	}

	switch {
	case current != SaleApproved && target == SaleApproved:
		return EffectCredit, true, nil
	case current == SaleApproved && target == SaleRejected:
		return EffectReverse, true, nil
	case current == SalePending && target == SaleRejected:
		return EffectNone, true, nil
	}

	return EffectNone, false, nil
}

// IsDecisionChange сообщает, меняет ли переход уже принятое решение модерации.
// Такое исправление допускается не более одного раза на продажу.
func IsDecisionChange(current, target VerificationStatus) bool {
	if current == SalePending || target == SalePending {
		return false
	}
	return target != current
}

// orderFlow задаёт строгую линейную последовательность статусов заказа.
var orderFlow = map[OrderStatus]OrderStatus{
	OrderPending:    OrderConfirmed,
	OrderConfirmed:  OrderProcessing,
	OrderProcessing: OrderShipped,
	OrderShipped:    OrderDelivered,
}

// CanAdvanceOrder проверяет допустимость перехода заказа к следующему статусу.
func CanAdvanceOrder(from, to OrderStatus) bool {
	return orderFlow[from] == to
}

// CanCancelOrder проверяет, допускает ли текущий статус отмену заказа.
// Заказ, уже взятый в обработку, отменить нельзя.
func CanCancelOrder(from OrderStatus) bool {
	return from == OrderPending || from == OrderConfirmed
}
