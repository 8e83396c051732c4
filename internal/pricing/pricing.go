// Package pricing содержит расчёт стоимости корзины.
package pricing

import (
	"fmt"

	"github.com/mariko-app/cart-system/internal/model"
)

const (
	// MinOrder — минимальная сумма заказа в рублях.
	MinOrder = 500
	// FreeDeliveryFrom — сумма, начиная с которой доставка бесплатна.
	FreeDeliveryFrom = 2000
	// DeliveryFee — фиксированная стоимость доставки.
	DeliveryFee = 199
)

// Quote содержит результат пересчёта корзины.
type Quote struct {
	Subtotal    float64
	DeliveryFee float64
	Total       float64
	MinOrder    float64
	CanSubmit   bool
	Warnings    []string
}

// Recalculate вычисляет стоимость корзины для указанного способа получения.
// Расчёт детерминирован и не имеет побочных эффектов; отсутствующие цены и
// количества трактуются как ноль.
func Recalculate(items []model.OrderItem, orderType model.OrderType) Quote {
	var subtotal float64
	for _, item := range items {
		subtotal += item.Price * item.Amount
	}

	q := Quote{
		Subtotal: subtotal,
		MinOrder: MinOrder,
		Warnings: []string{},
	}

	q.CanSubmit = subtotal >= MinOrder
	if !q.CanSubmit {
		q.Warnings = append(q.Warnings, fmt.Sprintf("Минимальная сумма заказа %d₽", MinOrder))
	}

	if orderType == model.OrderTypeDelivery && subtotal < FreeDeliveryFrom {
		q.DeliveryFee = DeliveryFee
	}

	q.Total = q.Subtotal + q.DeliveryFee

	return q
}
