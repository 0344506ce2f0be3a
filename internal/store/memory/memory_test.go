package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pahanabooks/backend/internal/domain"
	"pahanabooks/backend/internal/store"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testInvoice(number string, bookID int64, qty int) domain.Invoice {
	unit := dec("100.00")
	lineTotal := unit.Mul(decimal.NewFromInt(int64(qty)))
	return domain.Invoice{
		InvoiceNumber: number,
		CashierID:     2,
		CashierName:   "Front Desk Cashier",
		InvoiceDate:   time.Now().UTC(),
		Subtotal:      lineTotal,
		TotalAmount:   lineTotal,
		PaymentMethod: domain.PaymentMethodCash,
		Items: []domain.InvoiceLineItem{
			{BookID: bookID, BookTitle: "Test", Quantity: qty, UnitPrice: unit, TotalPrice: lineTotal},
		},
	}
}

func TestAdjustStockGuardsNonNegative(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	book, err := s.GetBookByID(ctx, 7) // seeded with 15
	if err != nil {
		t.Fatalf("get book: %v", err)
	}

	err = s.AdjustStock(ctx, 7, -(book.StockQuantity + 1))
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var detail *store.InsufficientStockError
	if !errors.As(err, &detail) {
		t.Fatalf("expected detailed error, got %v", err)
	}
	if detail.Available != book.StockQuantity {
		t.Fatalf("expected available %d, got %d", book.StockQuantity, detail.Available)
	}

	after, _ := s.GetBookByID(ctx, 7)
	if after.StockQuantity != book.StockQuantity {
		t.Fatalf("failed guard must not change stock")
	}

	if err := s.AdjustStock(ctx, 7, -book.StockQuantity); err != nil {
		t.Fatalf("draining to exactly zero must succeed: %v", err)
	}
	if err := s.AdjustStock(ctx, 999, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown book, got %v", err)
	}
}

func TestNextInvoiceNumberScopedByDay(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	day1 := time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 11, 0, 1, 0, 0, time.UTC)

	first, err := s.NextInvoiceNumber(ctx, "INV", day1)
	if err != nil {
		t.Fatalf("next number: %v", err)
	}
	if first != "INV-20250310-0001" {
		t.Fatalf("unexpected first number: %s", first)
	}

	second, err := s.NextInvoiceNumber(ctx, "INV", day1)
	if err != nil {
		t.Fatalf("next number: %v", err)
	}
	if second != "INV-20250310-0002" {
		t.Fatalf("unexpected second number: %s", second)
	}

	nextDay, err := s.NextInvoiceNumber(ctx, "INV", day2)
	if err != nil {
		t.Fatalf("next number: %v", err)
	}
	if nextDay != "INV-20250311-0001" {
		t.Fatalf("counter must reset per day, got %s", nextDay)
	}

	otherPrefix, err := s.NextInvoiceNumber(ctx, "POS", day1)
	if err != nil {
		t.Fatalf("next number: %v", err)
	}
	if otherPrefix != "POS-20250310-0001" {
		t.Fatalf("counter must be scoped per prefix, got %s", otherPrefix)
	}
}

func TestNextInvoiceNumberExhaustsAt9999(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 9999; i++ {
		if _, err := s.NextInvoiceNumber(ctx, "INV", day); err != nil {
			t.Fatalf("number %d failed: %v", i, err)
		}
	}

	_, err := s.NextInvoiceNumber(ctx, "INV", day)
	if !errors.Is(err, store.ErrSequenceExhausted) {
		t.Fatalf("expected sequence exhaustion, got %v", err)
	}

	// The next day starts fresh.
	if _, err := s.NextInvoiceNumber(ctx, "INV", day.Add(24*time.Hour)); err != nil {
		t.Fatalf("next day must not be exhausted: %v", err)
	}
}

func TestCreateInvoiceRejectsDuplicateNumber(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.CreateInvoice(ctx, testInvoice("INV-20250310-0001", 4, 1)); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	_, err := s.CreateInvoice(ctx, testInvoice("INV-20250310-0001", 4, 1))
	if !errors.Is(err, store.ErrInvalidInvoice) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestCreateInvoiceRejectsBrokenTotals(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	invoice := testInvoice("INV-20250310-0002", 4, 1)
	invoice.TotalAmount = dec("1.00") // subtotal is 100.00
	_, err := s.CreateInvoice(ctx, invoice)
	if !errors.Is(err, store.ErrInvalidInvoice) {
		t.Fatalf("expected totals invariant rejection, got %v", err)
	}
}

func TestCreateInvoiceAggregatesQuantityAcrossDuplicateLines(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	book, _ := s.GetBookByID(ctx, 7) // 15 in stock

	invoice := testInvoice("INV-20250310-0003", 7, 8)
	invoice.Items = append(invoice.Items, domain.InvoiceLineItem{
		BookID: 7, BookTitle: "Test", Quantity: 8, UnitPrice: dec("100.00"), TotalPrice: dec("800.00"),
	})
	invoice.Subtotal = dec("1600.00")
	invoice.TotalAmount = dec("1600.00")

	// 8 + 8 exceeds the 15 available even though each line alone fits.
	_, err := s.CreateInvoice(ctx, invoice)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected aggregated shortfall, got %v", err)
	}

	after, _ := s.GetBookByID(ctx, 7)
	if after.StockQuantity != book.StockQuantity {
		t.Fatalf("failed create must not change stock")
	}
}

func TestDeleteInvoiceRemovesAndRestores(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	before, _ := s.GetBookByID(ctx, 4)
	created, err := s.CreateInvoice(ctx, testInvoice("INV-20250310-0004", 4, 3))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := s.DeleteInvoice(ctx, created.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := s.DeleteInvoice(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := s.FindInvoiceByNumber(ctx, created.InvoiceNumber); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("number lookup must fail after delete, got %v", err)
	}

	after, _ := s.GetBookByID(ctx, 4)
	if after.StockQuantity != before.StockQuantity {
		t.Fatalf("expected stock restored to %d, got %d", before.StockQuantity, after.StockQuantity)
	}
}

func TestFindInvoiceReturnsClone(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	created, err := s.CreateInvoice(ctx, testInvoice("INV-20250310-0005", 4, 1))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	found, err := s.FindInvoiceByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	found.Items[0].Quantity = 999
	found.InvoiceNumber = "tampered"

	again, err := s.FindInvoiceByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if again.Items[0].Quantity == 999 || again.InvoiceNumber == "tampered" {
		t.Fatalf("store handed out internal state")
	}
}

func TestCreateUserAssignsIDsAndRejectsDuplicates(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	err := s.CreateUser(ctx, domain.UserAccount{
		Username: "kasuni",
		Password: "$2a$10$notarealhashbutlookslikeone",
		FullName: "Kasuni Perera",
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	for _, u := range users {
		if u.ID == 0 {
			t.Fatalf("user %s has no id", u.Username)
		}
	}

	err = s.CreateUser(ctx, domain.UserAccount{Username: "kasuni", Password: "x"})
	if !errors.Is(err, store.ErrInvalidInvoice) {
		t.Fatalf("expected duplicate username rejection, got %v", err)
	}
}

func TestListInvoicesOrderingAndFilter(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	customerID := int64(1)
	for i := 1; i <= 3; i++ {
		invoice := testInvoice(fmt.Sprintf("INV-20250310-%04d", i), 4, 1)
		invoice.InvoiceDate = time.Date(2025, 3, 10, 9+i, 0, 0, 0, time.UTC)
		if i == 2 {
			invoice.CustomerID = &customerID
		}
		if _, err := s.CreateInvoice(ctx, invoice); err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
	}

	all, err := s.ListInvoices(ctx, nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 invoices, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].InvoiceDate.After(all[i-1].InvoiceDate) {
			t.Fatalf("expected most recent first ordering")
		}
	}

	filtered, err := s.ListInvoices(ctx, &customerID)
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].InvoiceNumber != "INV-20250310-0002" {
		t.Fatalf("unexpected filter result: %+v", filtered)
	}
}
