package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Book is the stock-relevant slice of the catalog record. The billing core
// reads price/title/ISBN and mutates stock quantity; book lifecycle is owned
// by the catalog layer.
type Book struct {
	ID            int64           `json:"id"`
	Title         string          `json:"title"`
	Author        string          `json:"author"`
	ISBN          string          `json:"isbn"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
}

type Customer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// InvoiceLineItem is one (book, quantity, price, discount) entry. TotalPrice
// is always re-derived from quantity/unit price/discount percent before a
// real sale is persisted; the book title and ISBN are snapshots captured at
// sale time for display.
type InvoiceLineItem struct {
	ID              int64           `json:"id"`
	InvoiceID       int64           `json:"invoice_id"`
	BookID          int64           `json:"book_id"`
	BookTitle       string          `json:"book_title"`
	BookISBN        string          `json:"book_isbn"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TotalPrice      decimal.Decimal `json:"total_price"`
}

// Invoice is a committed (or previewed) customer bill. Number and totals are
// immutable once persisted; deleting an invoice reverses its stock effect and
// removes it permanently.
type Invoice struct {
	ID             int64             `json:"id"`
	InvoiceNumber  string            `json:"invoice_number"`
	CustomerID     *int64            `json:"customer_id,omitempty"`
	CustomerName   string            `json:"customer_name,omitempty"`
	CashierID      int64             `json:"cashier_id"`
	CashierName    string            `json:"cashier_name"`
	InvoiceDate    time.Time         `json:"invoice_date"`
	Subtotal       decimal.Decimal   `json:"subtotal"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	TaxAmount      decimal.Decimal   `json:"tax_amount"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	PaymentMethod  string            `json:"payment_method"`
	Notes          string            `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Items          []InvoiceLineItem `json:"items"`
}

type InvoiceLineRequest struct {
	BookID          int64            `json:"book_id"`
	Quantity        int              `json:"quantity"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	// BookTitle is only honored on the preview path, where no persisted
	// book state may exist yet.
	BookTitle string `json:"book_title,omitempty"`
}

type InvoiceCreateRequest struct {
	InvoiceNumber  string               `json:"invoice_number,omitempty"`
	CustomerID     *int64               `json:"customer_id,omitempty"`
	PaymentMethod  string               `json:"payment_method,omitempty"`
	Notes          string               `json:"notes,omitempty"`
	DiscountAmount decimal.Decimal      `json:"discount_amount"`
	ApplyTax       bool                 `json:"apply_tax"`
	Items          []InvoiceLineRequest `json:"items"`
}

type InvoiceResponse struct {
	Invoice         Invoice `json:"invoice"`
	DiscountClamped bool    `json:"discount_clamped,omitempty"`
}

type InvoicePreviewResponse struct {
	Invoice         Invoice `json:"invoice"`
	DiscountClamped bool    `json:"discount_clamped,omitempty"`
	PrintableBill   string  `json:"printable_bill"`
}

type InvoiceListResponse struct {
	Invoices []Invoice `json:"invoices"`
}

type ReceiptResponse struct {
	InvoiceID     int64  `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
	PrintableBill string `json:"printable_bill"`
	FileName      string `json:"file_name"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	FullName    string `json:"full_name"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated cashier attached to each request. The billing
// core trusts this identity and does not re-verify it.
type Actor struct {
	ID       int64
	Username string
	FullName string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type CashierUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        int64
	Username  string
	Password  string
	FullName  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	PaymentMethodCash = "CASH"
	PaymentMethodCard = "CARD"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
