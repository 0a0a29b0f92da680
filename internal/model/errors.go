package model

import (
	"errors"
	"fmt"
)

// Базовые категории ошибок движка. Конкретные ошибки ниже оборачивают
// категорию, поэтому вызывающий код может проверять как конкретную ошибку,
// так и категорию через errors.Is.
var (
	// ErrValidation возвращается при некорректных входных данных до каких-либо изменений.
	ErrValidation = errors.New("validation error")
	// ErrNotFound возвращается, если запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrForbidden возвращается, если область видимости роли не допускает операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict возвращается при конфликте состояния: нехватка баллов или остатков, дубликат записи журнала.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState возвращается при недопустимом переходе статуса заказа или продажи.
	ErrInvalidState = errors.New("invalid state")
)

var (
	ErrUserExists   = fmt.Errorf("user already exists: %w", ErrConflict)
	ErrUserNotFound = fmt.Errorf("user: %w", ErrNotFound)

	ErrSaleNotFound  = fmt.Errorf("sale: %w", ErrNotFound)
	ErrPrizeNotFound = fmt.Errorf("prize: %w", ErrNotFound)
	ErrOrderNotFound = fmt.Errorf("order: %w", ErrNotFound)

	ErrEmptyCart         = fmt.Errorf("cart is empty: %w", ErrValidation)
	ErrPrizeUnavailable  = fmt.Errorf("prize is not available: %w", ErrConflict)
	ErrInsufficientStock = fmt.Errorf("insufficient prize stock: %w", ErrConflict)

	// ErrCartChanged означает, что корзина изменилась между подготовкой
	// снимка заказа и его применением, в том числе была потреблена
	// конкурентным чекаутом.
	ErrCartChanged = fmt.Errorf("cart changed during checkout: %w", ErrConflict)

	// ErrInsufficientPoints сопровождается размером нехватки через fmt-обёртку в сервисе.
	ErrInsufficientPoints = fmt.Errorf("insufficient points: %w", ErrConflict)

	// ErrDuplicateTransaction означает коллизию идентификатора записи журнала.
	// Это фатальная ошибка конфигурации, а не повод для повтора.
	ErrDuplicateTransaction = fmt.Errorf("duplicate transaction id: %w", ErrConflict)
)
