// Package receipt renders committed or previewed invoices into fixed-width
// printable bills. Rendering is deterministic: the same invoice always
// produces the same text, and the input is never mutated.
package receipt

import (
	"fmt"
	"strings"
	"time"

	"pahanabooks/backend/internal/domain"
)

const (
	titleWidth = 23
	storeName  = "PAHANA EDU BOOKSHOP"
)

// displayZone is the fixed receipt timezone. Receipts must render the same
// regardless of the server's local timezone, so a fixed offset is used
// instead of the process-local zone.
var displayZone = time.FixedZone("IST", 5*3600+30*60)

// Format renders the invoice as a printable bill. Line items are
// de-duplicated by book id (first occurrence wins) before rendering.
func Format(invoice domain.Invoice) string {
	items := dedupeByBook(invoice.Items)

	var bill strings.Builder
	bill.WriteString("==================================================\n")
	bill.WriteString("               " + storeName + "              \n")
	bill.WriteString("==================================================\n\n")
	fmt.Fprintf(&bill, "Invoice #: %s\n", invoice.InvoiceNumber)
	fmt.Fprintf(&bill, "Date: %s\n", formatDate(invoice.InvoiceDate))

	if invoice.CustomerID != nil && invoice.CustomerName != "" {
		fmt.Fprintf(&bill, "Customer: %s\n", invoice.CustomerName)
	} else {
		bill.WriteString("Customer: Walk-in Customer\n")
	}
	fmt.Fprintf(&bill, "Cashier: %s\n", invoice.CashierName)

	bill.WriteString("\n--------------------------------------------------\n")
	bill.WriteString("Item                      Qty    Price     Total\n")
	bill.WriteString("--------------------------------------------------\n")

	for _, item := range items {
		fmt.Fprintf(&bill, "%s %4d %10s  %8s\n",
			fitTitle(item.BookTitle),
			item.Quantity,
			item.UnitPrice.StringFixed(2),
			item.TotalPrice.StringFixed(2),
		)
	}

	bill.WriteString("--------------------------------------------------\n")
	fmt.Fprintf(&bill, "Subtotal:                        %8s\n", invoice.Subtotal.StringFixed(2))
	if invoice.DiscountAmount.IsPositive() {
		fmt.Fprintf(&bill, "Discount:                        %8s\n", invoice.DiscountAmount.StringFixed(2))
	}
	if invoice.TaxAmount.IsPositive() {
		fmt.Fprintf(&bill, "Tax (5%%):                        %8s\n", invoice.TaxAmount.StringFixed(2))
	}
	fmt.Fprintf(&bill, "TOTAL:                           %8s\n", invoice.TotalAmount.StringFixed(2))
	bill.WriteString("==================================================\n")
	bill.WriteString("           Thank You For Your Purchase           \n")
	bill.WriteString("==================================================\n")

	return bill.String()
}

func formatDate(at time.Time) string {
	if at.IsZero() {
		return "N/A"
	}
	return at.In(displayZone).Format("2006-01-02 03:04:05 PM")
}

// fitTitle truncates long titles and pads short ones to a fixed column width.
func fitTitle(title string) string {
	if len(title) > titleWidth-1 {
		return title[:titleWidth-1] + "."
	}
	return title + strings.Repeat(" ", titleWidth-len(title))
}

func dedupeByBook(items []domain.InvoiceLineItem) []domain.InvoiceLineItem {
	seen := make(map[int64]bool, len(items))
	unique := make([]domain.InvoiceLineItem, 0, len(items))
	for _, item := range items {
		if seen[item.BookID] {
			continue
		}
		seen[item.BookID] = true
		unique = append(unique, item)
	}
	return unique
}
