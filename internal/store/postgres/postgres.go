package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pahanabooks/backend/internal/domain"
	"pahanabooks/backend/internal/store"
)

// maxDailySequence is the largest counter value the 4-digit invoice number
// format can carry.
const maxDailySequence = 9999

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetBookByID(ctx context.Context, id int64) (*domain.Book, error) {
	var book domain.Book
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, author, isbn, price, stock_quantity
		FROM books
		WHERE id = $1
	`, id).Scan(&book.ID, &book.Title, &book.Author, &book.ISBN, &book.Price, &book.StockQuantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &book, nil
}

func (s *Store) GetBooksByIDs(ctx context.Context, ids []int64) (map[int64]domain.Book, error) {
	result := make(map[int64]domain.Book, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, author, isbn, price, stock_quantity
		FROM books
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var book domain.Book
		if err := rows.Scan(&book.ID, &book.Title, &book.Author, &book.ISBN, &book.Price, &book.StockQuantity); err != nil {
			return nil, err
		}
		result[book.ID] = book
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) ListBooks(ctx context.Context) ([]domain.Book, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, author, isbn, price, stock_quantity
		FROM books
		ORDER BY title
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	books := make([]domain.Book, 0, 128)
	for rows.Next() {
		var book domain.Book
		if err := rows.Scan(&book.ID, &book.Title, &book.Author, &book.ISBN, &book.Price, &book.StockQuantity); err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return books, nil
}

// AdjustStock applies delta in a single guarded statement so the
// non-negative invariant is enforced by the storage layer itself, not by a
// read-check that can go stale between statements.
func (s *Store) AdjustStock(ctx context.Context, bookID int64, delta int) error {
	return adjustStock(ctx, s.db, bookID, delta)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func adjustStock(ctx context.Context, db execer, bookID int64, delta int) error {
	res, err := db.ExecContext(ctx, `
		UPDATE books
		SET stock_quantity = stock_quantity + $1, updated_at = now()
		WHERE id = $2 AND stock_quantity + $1 >= 0
	`, delta, bookID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// The guard refused: either the row is missing or the delta would
	// drive stock negative. Distinguish the two for the caller.
	var available int
	err = db.QueryRowContext(ctx, `
		SELECT stock_quantity FROM books WHERE id = $1
	`, bookID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return &store.InsufficientStockError{BookID: bookID, Available: available, Requested: -delta}
}

func (s *Store) GetCustomerByID(ctx context.Context, id int64) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &customer, nil
}

// NextInvoiceNumber increments and reads the day-scoped counter in one
// statement. Two cashiers issuing invoices concurrently can never observe
// the same value; a plain SELECT MAX + INSERT would race here.
func (s *Store) NextInvoiceNumber(ctx context.Context, prefix string, day time.Time) (string, error) {
	dateKey := day.UTC().Format("20060102")

	var seq int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (prefix, date_key, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, date_key)
		DO UPDATE SET seq = invoice_sequences.seq + 1
		RETURNING seq
	`, prefix, dateKey).Scan(&seq)
	if err != nil {
		return "", err
	}
	if seq > maxDailySequence {
		return "", store.ErrSequenceExhausted
	}

	return fmt.Sprintf("%s-%s-%04d", prefix, dateKey, seq), nil
}

func (s *Store) CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if len(invoice.Items) == 0 {
		return nil, store.ErrInvalidInvoice
	}
	if invoice.InvoiceNumber == "" || invoice.CashierID == 0 {
		return nil, store.ErrInvalidInvoice
	}
	// Totals must satisfy total = subtotal - discount + tax; the service
	// computes them, the storage layer refuses to persist a broken set.
	expected := invoice.Subtotal.Sub(invoice.DiscountAmount).Add(invoice.TaxAmount)
	if !invoice.TotalAmount.Equal(expected) || invoice.TotalAmount.IsNegative() {
		return nil, store.ErrInvalidInvoice
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	bookIDs := uniqueBookIDs(invoice.Items)

	// Lock the stock rows up front so two concurrent sales of the same
	// book serialize instead of both passing a stale sufficiency check.
	stockRows, err := pgTx.QueryContext(ctx, `
		SELECT id, stock_quantity
		FROM books
		WHERE id = ANY($1)
		FOR UPDATE
	`, bookIDs)
	if err != nil {
		return nil, err
	}
	stockMap := make(map[int64]int, len(bookIDs))
	for stockRows.Next() {
		var id int64
		var qty int
		if err := stockRows.Scan(&id, &qty); err != nil {
			_ = stockRows.Close()
			return nil, err
		}
		stockMap[id] = qty
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, err
	}
	_ = stockRows.Close()

	requested := make(map[int64]int, len(bookIDs))
	for _, item := range invoice.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidInvoice
		}
		requested[item.BookID] += item.Quantity
	}
	for _, bookID := range bookIDs {
		available, exists := stockMap[bookID]
		if !exists {
			return nil, fmt.Errorf("book %d: %w", bookID, store.ErrNotFound)
		}
		if available < requested[bookID] {
			return nil, &store.InsufficientStockError{
				BookID:    bookID,
				Available: available,
				Requested: requested[bookID],
			}
		}
	}

	if invoice.InvoiceDate.IsZero() {
		invoice.InvoiceDate = time.Now().UTC()
	}
	if invoice.PaymentMethod == "" {
		invoice.PaymentMethod = domain.PaymentMethodCash
	}

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO invoices (
			invoice_number, customer_id, cashier_id, invoice_date,
			subtotal, discount_amount, tax_amount, total_amount,
			payment_method, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
		RETURNING id, created_at
	`, invoice.InvoiceNumber, nullInt64(invoice.CustomerID), invoice.CashierID, invoice.InvoiceDate,
		invoice.Subtotal, invoice.DiscountAmount, invoice.TaxAmount, invoice.TotalAmount,
		invoice.PaymentMethod, invoice.Notes).Scan(&invoice.ID, &invoice.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("invoice number %s already exists: %w", invoice.InvoiceNumber, store.ErrInvalidInvoice)
		}
		return nil, err
	}

	for i := range invoice.Items {
		item := &invoice.Items[i]
		item.InvoiceID = invoice.ID
		err := pgTx.QueryRowContext(ctx, `
			INSERT INTO invoice_items (
				invoice_id, book_id, book_title, book_isbn,
				quantity, unit_price, discount_percent, total_price, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
			RETURNING id
		`, item.InvoiceID, item.BookID, item.BookTitle, item.BookISBN,
			item.Quantity, item.UnitPrice, item.DiscountPercent, item.TotalPrice).Scan(&item.ID)
		if err != nil {
			return nil, err
		}

		if err := adjustStock(ctx, pgTx, item.BookID, -item.Quantity); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	invoice.CreatedAt = invoice.CreatedAt.UTC()
	return &invoice, nil
}

func (s *Store) DeleteInvoice(ctx context.Context, id int64) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	var invoiceID int64
	err = pgTx.QueryRowContext(ctx, `
		SELECT id FROM invoices WHERE id = $1 FOR UPDATE
	`, id).Scan(&invoiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT book_id, quantity
		FROM invoice_items
		WHERE invoice_id = $1
	`, id)
	if err != nil {
		return err
	}
	type reversal struct {
		bookID   int64
		quantity int
	}
	reversals := make([]reversal, 0, 8)
	for itemRows.Next() {
		var r reversal
		if err := itemRows.Scan(&r.bookID, &r.quantity); err != nil {
			_ = itemRows.Close()
			return err
		}
		reversals = append(reversals, r)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return err
	}
	_ = itemRows.Close()

	for _, r := range reversals {
		if err := adjustStock(ctx, pgTx, r.bookID, r.quantity); err != nil {
			return fmt.Errorf("restore stock for book %d: %w", r.bookID, err)
		}
	}

	// Items go with the header via ON DELETE CASCADE.
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id); err != nil {
		return err
	}

	return pgTx.Commit()
}

func (s *Store) FindInvoiceByID(ctx context.Context, id int64) (*domain.Invoice, error) {
	return s.findInvoice(ctx, "i.id", id)
}

func (s *Store) FindInvoiceByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	return s.findInvoice(ctx, "i.invoice_number", number)
}

func (s *Store) findInvoice(ctx context.Context, column string, value any) (*domain.Invoice, error) {
	if column != "i.id" && column != "i.invoice_number" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	query := fmt.Sprintf(`
		SELECT i.id, i.invoice_number, i.customer_id, COALESCE(c.name, ''),
			i.cashier_id, COALESCE(u.full_name, ''), i.invoice_date,
			i.subtotal, i.discount_amount, i.tax_amount, i.total_amount,
			i.payment_method, COALESCE(i.notes, ''), i.created_at
		FROM invoices i
		LEFT JOIN customers c ON i.customer_id = c.id
		LEFT JOIN users u ON i.cashier_id = u.id
		WHERE %s = $1
	`, column)

	invoice, err := scanInvoice(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		return nil, err
	}

	items, err := s.loadItems(ctx, []int64{invoice.ID})
	if err != nil {
		return nil, err
	}
	invoice.Items = items[invoice.ID]

	return invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context, customerID *int64) ([]domain.Invoice, error) {
	query := `
		SELECT i.id, i.invoice_number, i.customer_id, COALESCE(c.name, ''),
			i.cashier_id, COALESCE(u.full_name, ''), i.invoice_date,
			i.subtotal, i.discount_amount, i.tax_amount, i.total_amount,
			i.payment_method, COALESCE(i.notes, ''), i.created_at
		FROM invoices i
		LEFT JOIN customers c ON i.customer_id = c.id
		LEFT JOIN users u ON i.cashier_id = u.id
		WHERE ($1::bigint IS NULL OR i.customer_id = $1)
		ORDER BY i.invoice_date DESC, i.id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, nullInt64(customerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 64)
	ids := make([]int64, 0, 64)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *invoice)
		ids = append(ids, invoice.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		invoices[i].Items = items[invoices[i].ID]
	}

	return invoices, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var invoice domain.Invoice
	var customerID sql.NullInt64

	err := row.Scan(
		&invoice.ID,
		&invoice.InvoiceNumber,
		&customerID,
		&invoice.CustomerName,
		&invoice.CashierID,
		&invoice.CashierName,
		&invoice.InvoiceDate,
		&invoice.Subtotal,
		&invoice.DiscountAmount,
		&invoice.TaxAmount,
		&invoice.TotalAmount,
		&invoice.PaymentMethod,
		&invoice.Notes,
		&invoice.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		invoice.CustomerID = &customerID.Int64
	}
	invoice.InvoiceDate = invoice.InvoiceDate.UTC()
	invoice.CreatedAt = invoice.CreatedAt.UTC()

	return &invoice, nil
}

// loadItems fetches the ordered line items for a set of invoices in one
// query; an invoice is never returned to callers without its items.
func (s *Store) loadItems(ctx context.Context, invoiceIDs []int64) (map[int64][]domain.InvoiceLineItem, error) {
	result := make(map[int64][]domain.InvoiceLineItem, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, book_id, book_title, book_isbn,
			quantity, unit_price, discount_percent, total_price
		FROM invoice_items
		WHERE invoice_id = ANY($1)
		ORDER BY id ASC
	`, invoiceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.InvoiceLineItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.BookID, &item.BookTitle, &item.BookISBN,
			&item.Quantity, &item.UnitPrice, &item.DiscountPercent, &item.TotalPrice); err != nil {
			return nil, err
		}
		result[item.InvoiceID] = append(result[item.InvoiceID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, full_name, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.Password, user.FullName, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("username %s already exists: %w", user.Username, store.ErrInvalidInvoice)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, full_name, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.FullName, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueBookIDs(items []domain.InvoiceLineItem) []int64 {
	seen := make(map[int64]bool, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if seen[item.BookID] {
			continue
		}
		seen[item.BookID] = true
		ids = append(ids, item.BookID)
	}
	return ids
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
