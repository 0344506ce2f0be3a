package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"pahanabooks/backend/internal/billing"
	"pahanabooks/backend/internal/cache"
	"pahanabooks/backend/internal/domain"
	"pahanabooks/backend/internal/receipt"
	"pahanabooks/backend/internal/store"
	"pahanabooks/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo          store.Repository
	receipts      cache.ReceiptCache
	invoicePrefix string
	receiptTTL    time.Duration
	now           func() time.Time
}

func New(repo store.Repository, receipts cache.ReceiptCache, invoicePrefix string, receiptTTL time.Duration) *Service {
	if receipts == nil {
		receipts = cache.NoopReceiptCache{}
	}
	invoicePrefix = strings.TrimSpace(invoicePrefix)
	if invoicePrefix == "" {
		invoicePrefix = "INV"
	}
	if receiptTTL <= 0 {
		receiptTTL = 5 * time.Minute
	}

	return &Service{
		repo:          repo,
		receipts:      receipts,
		invoicePrefix: invoicePrefix,
		receiptTTL:    receiptTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return s.repo.ListBooks(ctx)
}

func (s *Service) GetBookByID(ctx context.Context, id int64) (domain.Book, error) {
	book, err := s.repo.GetBookByID(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	return *book, nil
}

// CreateInvoice validates the request, derives totals, claims the next invoice
// number, and commits the sale. The repository performs header insert, item
// inserts, and stock decrements as one atomic unit; a failure on any line
// leaves stock and the invoice tables untouched.
func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.InvoiceResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID == 0 {
		return domain.InvoiceResponse{}, fmt.Errorf("authenticated cashier required")
	}

	if len(req.Items) == 0 {
		return domain.InvoiceResponse{}, fmt.Errorf("%w: at least one line item required", store.ErrInvalidInvoice)
	}

	paymentMethod, err := normalizePaymentMethod(req.PaymentMethod)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	customerName := ""
	if req.CustomerID != nil {
		customer, err := s.repo.GetCustomerByID(ctx, *req.CustomerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.InvoiceResponse{}, fmt.Errorf("%w: customer %d does not exist", store.ErrInvalidInvoice, *req.CustomerID)
			}
			return domain.InvoiceResponse{}, err
		}
		customerName = customer.Name
	}

	items, err := s.buildLineItems(ctx, req.Items)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	totals, err := billing.Calculate(items, req.DiscountAmount, req.ApplyTax)
	if err != nil {
		return domain.InvoiceResponse{}, fmt.Errorf("%w: %s", store.ErrInvalidInvoice, err)
	}

	now := s.now()
	number := strings.TrimSpace(req.InvoiceNumber)
	if number == "" {
		number, err = s.repo.NextInvoiceNumber(ctx, s.invoicePrefix, now)
		if err != nil {
			return domain.InvoiceResponse{}, err
		}
	}

	invoice := domain.Invoice{
		InvoiceNumber:  number,
		CustomerID:     req.CustomerID,
		CustomerName:   customerName,
		CashierID:      actor.ID,
		CashierName:    actor.FullName,
		InvoiceDate:    now,
		Subtotal:       totals.Subtotal,
		DiscountAmount: totals.DiscountAmount,
		TaxAmount:      totals.TaxAmount,
		TotalAmount:    totals.TotalAmount,
		PaymentMethod:  paymentMethod,
		Notes:          strings.TrimSpace(req.Notes),
		Items:          items,
	}

	created, err := s.repo.CreateInvoice(ctx, invoice)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	return domain.InvoiceResponse{
		Invoice:         *created,
		DiscountClamped: totals.DiscountClamped,
	}, nil
}

// PreviewInvoice runs the exact calculation pipeline of CreateInvoice without
// touching stock, the sequence counter, or any table. Because nothing is read
// from the catalog, every preview line must carry an explicit unit price.
func (s *Service) PreviewInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.InvoicePreviewResponse, error) {
	if len(req.Items) == 0 {
		return domain.InvoicePreviewResponse{}, fmt.Errorf("%w: at least one line item required", store.ErrInvalidInvoice)
	}

	paymentMethod, err := normalizePaymentMethod(req.PaymentMethod)
	if err != nil {
		return domain.InvoicePreviewResponse{}, err
	}

	items := make([]domain.InvoiceLineItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.UnitPrice == nil {
			return domain.InvoicePreviewResponse{}, fmt.Errorf("%w: unit price required for preview of book %d", store.ErrInvalidInvoice, line.BookID)
		}
		title := strings.TrimSpace(line.BookTitle)
		if title == "" {
			title = fmt.Sprintf("Book #%d", line.BookID)
		}
		lineTotal, err := billing.LineTotal(*line.UnitPrice, line.DiscountPercent, line.Quantity)
		if err != nil {
			return domain.InvoicePreviewResponse{}, fmt.Errorf("%w: book %d: %s", store.ErrInvalidInvoice, line.BookID, err)
		}
		items = append(items, domain.InvoiceLineItem{
			BookID:          line.BookID,
			BookTitle:       title,
			Quantity:        line.Quantity,
			UnitPrice:       *line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			TotalPrice:      lineTotal,
		})
	}

	totals, err := billing.Calculate(items, req.DiscountAmount, req.ApplyTax)
	if err != nil {
		return domain.InvoicePreviewResponse{}, fmt.Errorf("%w: %s", store.ErrInvalidInvoice, err)
	}

	cashierName := "N/A"
	if actor, ok := ActorFromContext(ctx); ok && actor.FullName != "" {
		cashierName = actor.FullName
	}

	invoice := domain.Invoice{
		InvoiceNumber:  xid.New("PREVIEW"),
		CustomerID:     req.CustomerID,
		CashierName:    cashierName,
		InvoiceDate:    s.now(),
		Subtotal:       totals.Subtotal,
		DiscountAmount: totals.DiscountAmount,
		TaxAmount:      totals.TaxAmount,
		TotalAmount:    totals.TotalAmount,
		PaymentMethod:  paymentMethod,
		Notes:          strings.TrimSpace(req.Notes),
		Items:          items,
	}

	return domain.InvoicePreviewResponse{
		Invoice:         invoice,
		DiscountClamped: totals.DiscountClamped,
		PrintableBill:   receipt.Format(invoice),
	}, nil
}

// DeleteInvoice reverses the sale: stock for every line item is restored and
// the invoice disappears permanently. Admin only.
func (s *Service) DeleteInvoice(ctx context.Context, id int64) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.DeleteInvoice(ctx, id); err != nil {
		return err
	}

	if err := s.receipts.Delete(ctx, receiptCacheKey(id)); err != nil {
		log.Printf("[service] WARN: failed to invalidate receipt cache invoice=%d: %v", id, err)
	}
	return nil
}

func (s *Service) GetInvoiceByID(ctx context.Context, id int64) (domain.Invoice, error) {
	invoice, err := s.repo.FindInvoiceByID(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) GetInvoiceByNumber(ctx context.Context, number string) (domain.Invoice, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return domain.Invoice{}, fmt.Errorf("%w: invoice number required", store.ErrInvalidInvoice)
	}
	invoice, err := s.repo.FindInvoiceByNumber(ctx, number)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) ListInvoices(ctx context.Context, customerID *int64) ([]domain.Invoice, error) {
	return s.repo.ListInvoices(ctx, customerID)
}

// RenderReceipt returns the printable bill for a committed invoice. Committed
// invoices never change, so rendered bills are cached until the invoice is
// deleted.
func (s *Service) RenderReceipt(ctx context.Context, id int64) (domain.ReceiptResponse, error) {
	key := receiptCacheKey(id)

	if cached, hit, err := s.receipts.Get(ctx, key); err != nil {
		log.Printf("[service] WARN: receipt cache read failed invoice=%d: %v", id, err)
	} else if hit {
		invoice, err := s.repo.FindInvoiceByID(ctx, id)
		if err != nil {
			return domain.ReceiptResponse{}, err
		}
		return domain.ReceiptResponse{
			InvoiceID:     invoice.ID,
			InvoiceNumber: invoice.InvoiceNumber,
			PrintableBill: cached,
			FileName:      receiptFileName(invoice.InvoiceNumber),
		}, nil
	}

	invoice, err := s.repo.FindInvoiceByID(ctx, id)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	bill := receipt.Format(*invoice)
	if err := s.receipts.Set(ctx, key, bill, s.receiptTTL); err != nil {
		log.Printf("[service] WARN: receipt cache write failed invoice=%d: %v", id, err)
	}

	return domain.ReceiptResponse{
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		PrintableBill: bill,
		FileName:      receiptFileName(invoice.InvoiceNumber),
	}, nil
}

// buildLineItems resolves each requested line against the catalog, snapshots
// title/ISBN, fills in the catalog price when the request omits one, and
// computes the authoritative line total.
func (s *Service) buildLineItems(ctx context.Context, lines []domain.InvoiceLineRequest) ([]domain.InvoiceLineItem, error) {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: book %d: quantity must be at least 1", store.ErrInvalidInvoice, line.BookID)
		}
		if !seen[line.BookID] {
			seen[line.BookID] = true
			ids = append(ids, line.BookID)
		}
	}

	books, err := s.repo.GetBooksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]domain.InvoiceLineItem, 0, len(lines))
	for _, line := range lines {
		book, exists := books[line.BookID]
		if !exists {
			return nil, fmt.Errorf("%w: book %d does not exist", store.ErrInvalidInvoice, line.BookID)
		}

		unitPrice := book.Price
		if line.UnitPrice != nil {
			unitPrice = *line.UnitPrice
		}

		lineTotal, err := billing.LineTotal(unitPrice, line.DiscountPercent, line.Quantity)
		if err != nil {
			return nil, fmt.Errorf("%w: book %d: %s", store.ErrInvalidInvoice, line.BookID, err)
		}

		items = append(items, domain.InvoiceLineItem{
			BookID:          line.BookID,
			BookTitle:       book.Title,
			BookISBN:        book.ISBN,
			Quantity:        line.Quantity,
			UnitPrice:       unitPrice,
			DiscountPercent: line.DiscountPercent,
			TotalPrice:      lineTotal,
		})
	}

	return items, nil
}

func normalizePaymentMethod(method string) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	switch method {
	case "":
		return domain.PaymentMethodCash, nil
	case domain.PaymentMethodCash, domain.PaymentMethodCard:
		return method, nil
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidInvoice, method)
	}
}

func receiptCacheKey(invoiceID int64) string {
	return fmt.Sprintf("receipt:%d", invoiceID)
}

func receiptFileName(number string) string {
	return fmt.Sprintf("invoice-%s.txt", number)
}
