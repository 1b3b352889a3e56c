package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// 金额与余额的表示范围与 decimal(20,2) 列一致：整数部分最多 18 位，小数最多 2 位
var MaxAmount = decimal.RequireFromString("999999999999999999.99")

const (
	minAmountExponent = -18
	maxAmountExponent = 18
)

// CheckMoneyRange 先看指数再比较大小，超大指数不会触发任何大数运算
func CheckMoneyRange(d decimal.Decimal) error {
	if exp := d.Exponent(); exp < minAmountExponent || exp > maxAmountExponent {
		return fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	if d.Abs().GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: exceeds %s", ErrInvalidAmount, MaxAmount.StringFixed(2))
	}
	return nil
}

// CheckCents 最多两位小数；调用前必须已通过 CheckMoneyRange
func CheckCents(d decimal.Decimal) error {
	if !d.Round(2).Equal(d) {
		return fmt.Errorf("%w: at most 2 decimal places", ErrInvalidAmount)
	}
	return nil
}
