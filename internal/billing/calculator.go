// Package billing holds the pure bill-calculation rules shared by real
// invoice creation and side-effect-free previews. Everything here is
// deterministic and works on exact decimal arithmetic; binary floating point
// never touches a monetary amount.
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"pahanabooks/backend/internal/domain"
)

// TaxRatePercent is the flat sales tax applied when a bill opts in to tax.
const TaxRatePercent = 5

var (
	ErrDiscountPercentOutOfRange = errors.New("line discount percent must be between 0 and 100")
	ErrNonPositiveQuantity       = errors.New("line quantity must be greater than zero")
	ErrNegativeUnitPrice         = errors.New("line unit price must not be negative")
	ErrNegativeDiscount          = errors.New("invoice discount must not be negative")
)

var (
	hundred = decimal.NewFromInt(100)
	taxRate = decimal.NewFromInt(TaxRatePercent)
)

// Totals is the result of calculating a bill. DiscountClamped reports that
// the requested invoice discount exceeded the subtotal and was reduced to it.
type Totals struct {
	Subtotal        decimal.Decimal
	DiscountAmount  decimal.Decimal
	TaxAmount       decimal.Decimal
	TotalAmount     decimal.Decimal
	DiscountClamped bool
}

// LineTotal computes round2(unitPrice * (1 - discountPercent/100) * quantity),
// rounding half-up at the cent boundary. Out-of-range inputs are caller
// errors and are rejected rather than clamped, so bad input is never masked.
func LineTotal(unitPrice decimal.Decimal, discountPercent decimal.Decimal, quantity int) (decimal.Decimal, error) {
	if quantity < 1 {
		return decimal.Zero, fmt.Errorf("%w: got %d", ErrNonPositiveQuantity, quantity)
	}
	if unitPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: got %s", ErrNegativeUnitPrice, unitPrice)
	}
	if discountPercent.IsNegative() || discountPercent.GreaterThan(hundred) {
		return decimal.Zero, fmt.Errorf("%w: got %s", ErrDiscountPercentOutOfRange, discountPercent)
	}

	factor := hundred.Sub(discountPercent).Div(hundred)
	total := unitPrice.Mul(factor).Mul(decimal.NewFromInt(int64(quantity)))
	return total.Round(2), nil
}

// Calculate derives invoice totals from the line items plus the invoice-level
// discount and tax flag. Line totals are always re-derived here from
// quantity, unit price, and discount percent; a caller-supplied TotalPrice is
// never trusted. Tax, when applied, is TaxRatePercent of the subtotal.
func Calculate(items []domain.InvoiceLineItem, invoiceDiscount decimal.Decimal, applyTax bool) (Totals, error) {
	if invoiceDiscount.IsNegative() {
		return Totals{}, fmt.Errorf("%w: got %s", ErrNegativeDiscount, invoiceDiscount)
	}

	subtotal := decimal.Zero
	for _, item := range items {
		lineTotal, err := LineTotal(item.UnitPrice, item.DiscountPercent, item.Quantity)
		if err != nil {
			return Totals{}, fmt.Errorf("book %d: %w", item.BookID, err)
		}
		subtotal = subtotal.Add(lineTotal)
	}

	totals := Totals{
		Subtotal:       subtotal,
		DiscountAmount: invoiceDiscount,
	}
	if invoiceDiscount.GreaterThan(subtotal) {
		totals.DiscountAmount = subtotal
		totals.DiscountClamped = true
	}

	if applyTax {
		totals.TaxAmount = subtotal.Mul(taxRate).Div(hundred).Round(2)
	} else {
		totals.TaxAmount = decimal.Zero
	}

	totals.TotalAmount = subtotal.Sub(totals.DiscountAmount).Add(totals.TaxAmount)
	return totals, nil
}
