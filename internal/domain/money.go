package domain

import (
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places kept for every monetary value.
const MoneyScale = 2

// RoundMoney rounds to two places, half away from zero.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyScale)
}

// LineTotal computes quantity * unitPrice rounded to money scale.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return RoundMoney(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// RecalculateCart refreshes every line total and the cart total from scratch.
func RecalculateCart(cart Cart) Cart {
	total := decimal.Zero
	if len(cart.Items) > 0 {
		items := make([]CartItem, len(cart.Items))
		for i, item := range cart.Items {
			item.UnitPrice = RoundMoney(item.UnitPrice)
			item.TotalPrice = LineTotal(item.UnitPrice, item.Quantity)
			total = total.Add(item.TotalPrice)
			items[i] = item
		}
		cart.Items = items
	}
	cart.TotalPrice = RoundMoney(total)
	return cart
}

// MinorUnits converts a two-decimal amount into integer minor units (e.g. cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return RoundMoney(amount).Shift(MoneyScale).IntPart()
}

// FromMinorUnits converts integer minor units back into a two-decimal amount.
func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -MoneyScale)
}
