// Package points вычисляет цену продажи и количество начисляемых баллов.
package points

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/barpoints-system/internal/model"
)

// Calculate возвращает денежную стоимость продажи и целое число баллов по
// конфигурации товара. Функция чистая: результат снимается на продажу при
// создании и для этой продажи больше не пересчитывается.
func Calculate(p model.Product, quantity int64) (decimal.Decimal, int64, error) {
	if quantity <= 0 {
		return decimal.Zero, 0, fmt.Errorf("quantity must be positive, got %d: %w", quantity, model.ErrValidation)
	}
	if p.PortionsPerBottle <= 0 {
		return decimal.Zero, 0, fmt.Errorf("product %q: portionsPerBottle must be positive, got %d: %w",
			p.Name, p.PortionsPerBottle, model.ErrValidation)
	}

	price := p.BottlePrice.
		Div(decimal.NewFromInt(p.PortionsPerBottle)).
		Mul(decimal.NewFromInt(quantity)).
		Round(2)

	var earned int64
	switch p.CalculationType {
	case model.CalcPerPortion:
		earned = quantity * p.PointsPerPortion
	default:
		// per_ruble и per_volume считаются от денежной стоимости;
		// неизвестный тип трактуется как per_ruble.
		earned = price.Mul(p.PointsPerRuble).Floor().IntPart()
	}

	if earned < 0 {
		return decimal.Zero, 0, fmt.Errorf("product %q: negative points rate: %w", p.Name, model.ErrValidation)
	}

	return price, earned, nil
}
