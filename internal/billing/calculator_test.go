package billing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"pahanabooks/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLineTotalAppliesDiscountAndRounds(t *testing.T) {
	total, err := LineTotal(dec("25.00"), dec("10"), 2)
	if err != nil {
		t.Fatalf("line total failed: %v", err)
	}
	if !total.Equal(dec("45.00")) {
		t.Fatalf("expected 45.00, got %s", total)
	}
}

func TestLineTotalRoundsHalfUp(t *testing.T) {
	// 3 * 3.375 * 0.5 = 5.0625, which rounds down at the cent boundary.
	total, err := LineTotal(dec("3.375"), dec("50"), 3)
	if err != nil {
		t.Fatalf("line total failed: %v", err)
	}
	if !total.Equal(dec("5.06")) {
		t.Fatalf("expected 5.06, got %s", total)
	}

	// An exact half cent rounds up.
	halfCase, err := LineTotal(dec("0.335"), decimal.Zero, 1)
	if err != nil {
		t.Fatalf("line total failed: %v", err)
	}
	if !halfCase.Equal(dec("0.34")) {
		t.Fatalf("expected 0.335 to round up to 0.34, got %s", halfCase)
	}
}

func TestLineTotalRejectsBadInput(t *testing.T) {
	if _, err := LineTotal(dec("10"), dec("101"), 1); !errors.Is(err, ErrDiscountPercentOutOfRange) {
		t.Fatalf("expected discount range error, got %v", err)
	}
	if _, err := LineTotal(dec("10"), dec("-1"), 1); !errors.Is(err, ErrDiscountPercentOutOfRange) {
		t.Fatalf("expected discount range error, got %v", err)
	}
	if _, err := LineTotal(dec("10"), decimal.Zero, 0); !errors.Is(err, ErrNonPositiveQuantity) {
		t.Fatalf("expected quantity error, got %v", err)
	}
	if _, err := LineTotal(dec("-0.01"), decimal.Zero, 1); !errors.Is(err, ErrNegativeUnitPrice) {
		t.Fatalf("expected unit price error, got %v", err)
	}
}

func TestCalculateWithTax(t *testing.T) {
	items := []domain.InvoiceLineItem{
		{BookID: 1, Quantity: 2, UnitPrice: dec("25.00"), DiscountPercent: dec("10")},
	}

	totals, err := Calculate(items, decimal.Zero, true)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if !totals.Subtotal.Equal(dec("45.00")) {
		t.Fatalf("expected subtotal 45.00, got %s", totals.Subtotal)
	}
	if !totals.TaxAmount.Equal(dec("2.25")) {
		t.Fatalf("expected tax 2.25, got %s", totals.TaxAmount)
	}
	if !totals.TotalAmount.Equal(dec("47.25")) {
		t.Fatalf("expected total 47.25, got %s", totals.TotalAmount)
	}
	if totals.DiscountClamped {
		t.Fatalf("no clamp expected")
	}
}

func TestCalculateClampsOversizedDiscount(t *testing.T) {
	items := []domain.InvoiceLineItem{
		{BookID: 1, Quantity: 2, UnitPrice: dec("25.00"), DiscountPercent: dec("10")},
	}

	totals, err := Calculate(items, dec("60.00"), false)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if !totals.DiscountClamped {
		t.Fatalf("expected clamp to be reported")
	}
	if !totals.DiscountAmount.Equal(dec("45.00")) {
		t.Fatalf("expected discount clamped to 45.00, got %s", totals.DiscountAmount)
	}
	if !totals.TotalAmount.Equal(dec("0.00")) {
		t.Fatalf("expected total 0.00, got %s", totals.TotalAmount)
	}
}

func TestCalculateTaxIsOnSubtotalNotDiscountedBase(t *testing.T) {
	items := []domain.InvoiceLineItem{
		{BookID: 1, Quantity: 1, UnitPrice: dec("100.00"), DiscountPercent: decimal.Zero},
	}

	totals, err := Calculate(items, dec("50.00"), true)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	// 5% of the 100.00 subtotal, not of the 50.00 discounted base.
	if !totals.TaxAmount.Equal(dec("5.00")) {
		t.Fatalf("expected tax 5.00, got %s", totals.TaxAmount)
	}
	if !totals.TotalAmount.Equal(dec("55.00")) {
		t.Fatalf("expected total 55.00, got %s", totals.TotalAmount)
	}
}

func TestCalculateRejectsNegativeDiscount(t *testing.T) {
	items := []domain.InvoiceLineItem{
		{BookID: 1, Quantity: 1, UnitPrice: dec("10.00")},
	}
	if _, err := Calculate(items, dec("-1"), false); !errors.Is(err, ErrNegativeDiscount) {
		t.Fatalf("expected negative discount error, got %v", err)
	}
}

func TestCalculateEmptyItemsYieldsZeroTotals(t *testing.T) {
	totals, err := Calculate(nil, decimal.Zero, true)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if !totals.Subtotal.IsZero() || !totals.TaxAmount.IsZero() || !totals.TotalAmount.IsZero() {
		t.Fatalf("expected all-zero totals, got %+v", totals)
	}
}

func TestCalculateIgnoresSuppliedTotalPrice(t *testing.T) {
	items := []domain.InvoiceLineItem{
		{BookID: 1, Quantity: 1, UnitPrice: dec("10.00"), TotalPrice: dec("999.99")},
	}
	totals, err := Calculate(items, decimal.Zero, false)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if !totals.Subtotal.Equal(dec("10.00")) {
		t.Fatalf("expected subtotal re-derived as 10.00, got %s", totals.Subtotal)
	}
}
