package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places every monetary amount is rounded to.
const Places = 2

var (
	DefaultTaxRate      = decimal.RequireFromString("0.18")
	DefaultShippingFlat = decimal.RequireFromString("50.00")
)

var ErrNegativeRate = errors.New("tax rate and shipping must not be negative")

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

func (l Line) Total() decimal.Decimal {
	return Round(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

type Breakdown struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Gross is the amount before discount.
func (b Breakdown) Gross() decimal.Decimal {
	return b.Subtotal.Add(b.Tax).Add(b.Shipping)
}

// Valid reports whether Total == Subtotal + Tax + Shipping - Discount.
func (b Breakdown) Valid() bool {
	return b.Total.Equal(b.Gross().Sub(b.Discount))
}

type Calculator struct {
	TaxRate      decimal.Decimal
	ShippingFlat decimal.Decimal
}

func NewCalculator(taxRate, shippingFlat decimal.Decimal) (*Calculator, error) {
	if taxRate.IsNegative() || shippingFlat.IsNegative() {
		return nil, ErrNegativeRate
	}
	return &Calculator{TaxRate: taxRate, ShippingFlat: Round(shippingFlat)}, nil
}

// Calculate prices one store group. The discount is clamped to
// [0, subtotal+tax+shipping].
func (c *Calculator) Calculate(lines []Line, discount decimal.Decimal) Breakdown {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Total())
	}

	b := Breakdown{
		Subtotal: Round(subtotal),
		Shipping: Round(c.ShippingFlat),
	}
	b.Tax = Round(b.Subtotal.Mul(c.TaxRate))
	b.Discount = Clamp(Round(discount), decimal.Zero, b.Gross())
	b.Total = b.Gross().Sub(b.Discount)

	return b
}

// Round applies the single rounding policy: half-up at Places decimals.
// Amounts are never negative so half-away-from-zero is half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}
