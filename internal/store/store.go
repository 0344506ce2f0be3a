package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pahanabooks/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInvoice    = errors.New("invalid invoice")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSequenceExhausted = errors.New("invoice sequence exhausted for day")
)

// InsufficientStockError reports exactly which book fell short and by how
// much, so callers can show a precise shortage message. It matches
// ErrInsufficientStock under errors.Is.
type InsufficientStockError struct {
	BookID    int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for book %d: available %d, requested %d",
		e.BookID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Repository is the transaction-capable data-access surface injected into the
// service layer. CreateInvoice and DeleteInvoice are the only multi-statement
// operations; each implementation must execute them as one atomic unit.
type Repository interface {
	GetBookByID(ctx context.Context, id int64) (*domain.Book, error)
	GetBooksByIDs(ctx context.Context, ids []int64) (map[int64]domain.Book, error)
	ListBooks(ctx context.Context) ([]domain.Book, error)
	// AdjustStock applies delta to a book's stock as a single guarded
	// statement; it fails rather than drive stock negative.
	AdjustStock(ctx context.Context, bookID int64, delta int) error

	GetCustomerByID(ctx context.Context, id int64) (*domain.Customer, error)

	// NextInvoiceNumber atomically increments and returns the day-scoped
	// counter for prefix, formatted as PREFIX-YYYYMMDD-NNNN.
	NextInvoiceNumber(ctx context.Context, prefix string, day time.Time) (string, error)

	// CreateInvoice persists the header, its line items, and the matching
	// stock decrements; nothing partially committed is ever observable.
	CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	// DeleteInvoice restores stock for every line item and removes the
	// invoice with its items, atomically.
	DeleteInvoice(ctx context.Context, id int64) error
	FindInvoiceByID(ctx context.Context, id int64) (*domain.Invoice, error)
	FindInvoiceByNumber(ctx context.Context, number string) (*domain.Invoice, error)
	// ListInvoices returns headers with their items, most recent first,
	// optionally filtered by customer.
	ListInvoices(ctx context.Context, customerID *int64) ([]domain.Invoice, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
