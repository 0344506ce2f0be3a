package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"pahanabooks/backend/internal/domain"
	"pahanabooks/backend/internal/store"
)

const maxDailySequence = 9999

type Store struct {
	mu               sync.RWMutex
	books            map[int64]domain.Book
	customers        map[int64]domain.Customer
	invoicesByID     map[int64]*domain.Invoice
	invoicesByNumber map[string]int64
	sequences        map[string]int
	usersByUsername  map[string]domain.UserAccount
	nextInvoiceID    int64
	nextItemID       int64
	nextUserID       int64
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for i, u := range []struct {
		username string
		password string
		fullName string
		role     string
	}{
		{"admin", adminPwd, "Store Admin", domain.RoleAdmin},
		{"cashier", cashierPwd, "Front Desk Cashier", domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        int64(i + 1),
			Username:  u.username,
			Password:  string(hash),
			FullName:  u.fullName,
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	books := []domain.Book{
		{ID: 1, Title: "Advanced Mathematics Grade 12", Author: "K. Perera", ISBN: "978-955-0001-01-9", Price: decimal.RequireFromString("1250.00"), StockQuantity: 40},
		{ID: 2, Title: "Physics Practical Handbook", Author: "S. Fernando", ISBN: "978-955-0001-02-6", Price: decimal.RequireFromString("980.00"), StockQuantity: 35},
		{ID: 3, Title: "English Grammar in Use", Author: "R. Murphy", ISBN: "978-1-108-45765-1", Price: decimal.RequireFromString("2150.00"), StockQuantity: 25},
		{ID: 4, Title: "Chemistry Past Papers", Author: "N. Jayasinghe", ISBN: "978-955-0001-04-0", Price: decimal.RequireFromString("750.00"), StockQuantity: 60},
		{ID: 5, Title: "Introduction to Accounting", Author: "D. Silva", ISBN: "978-955-0001-05-7", Price: decimal.RequireFromString("1450.00"), StockQuantity: 20},
		{ID: 6, Title: "Sinhala Literature Anthology", Author: "W. Gunasekara", ISBN: "978-955-0001-06-4", Price: decimal.RequireFromString("680.00"), StockQuantity: 50},
		{ID: 7, Title: "Biology Illustrated Guide", Author: "M. Wickramasinghe", ISBN: "978-955-0001-07-1", Price: decimal.RequireFromString("1890.00"), StockQuantity: 15},
		{ID: 8, Title: "ICT for Beginners", Author: "T. Bandara", ISBN: "978-955-0001-08-8", Price: decimal.RequireFromString("1100.00"), StockQuantity: 30},
	}

	customers := []domain.Customer{
		{ID: 1, Name: "Nimal Perera", Phone: "0771234567"},
		{ID: 2, Name: "Kamala Dissanayake", Phone: "0719876543"},
		{ID: 3, Name: "Royal College Library", Phone: "0112695340"},
	}

	bookMap := make(map[int64]domain.Book, len(books))
	for _, b := range books {
		bookMap[b.ID] = b
	}
	customerMap := make(map[int64]domain.Customer, len(customers))
	for _, c := range customers {
		customerMap[c.ID] = c
	}

	return &Store{
		books:            bookMap,
		customers:        customerMap,
		invoicesByID:     make(map[int64]*domain.Invoice),
		invoicesByNumber: make(map[string]int64),
		sequences:        make(map[string]int),
		usersByUsername:  seedUsers(),
		nextUserID:       3, // seed users occupy ids 1 and 2
	}
}

func (s *Store) GetBookByID(_ context.Context, id int64) (*domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, exists := s.books[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyBook := book
	return &copyBook, nil
}

func (s *Store) GetBooksByIDs(_ context.Context, ids []int64) (map[int64]domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.Book, len(ids))
	for _, id := range ids {
		if b, ok := s.books[id]; ok {
			result[id] = b
		}
	}
	return result, nil
}

func (s *Store) ListBooks(_ context.Context) ([]domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	books := make([]domain.Book, 0, len(s.books))
	for _, b := range s.books {
		books = append(books, b)
	}
	slices.SortFunc(books, func(a, b domain.Book) int {
		return cmpString(a.Title, b.Title)
	})
	return books, nil
}

func (s *Store) AdjustStock(_ context.Context, bookID int64, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.adjustStockLocked(bookID, delta)
}

// adjustStockLocked applies delta only when the result stays non-negative.
// Callers must hold s.mu.
func (s *Store) adjustStockLocked(bookID int64, delta int) error {
	book, exists := s.books[bookID]
	if !exists {
		return store.ErrNotFound
	}
	if book.StockQuantity+delta < 0 {
		return &store.InsufficientStockError{
			BookID:    bookID,
			Available: book.StockQuantity,
			Requested: -delta,
		}
	}
	book.StockQuantity += delta
	s.books[bookID] = book
	return nil
}

func (s *Store) GetCustomerByID(_ context.Context, id int64) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) NextInvoiceNumber(_ context.Context, prefix string, day time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dateKey := day.UTC().Format("20060102")
	key := prefix + "::" + dateKey
	s.sequences[key]++
	seq := s.sequences[key]
	if seq > maxDailySequence {
		return "", store.ErrSequenceExhausted
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, dateKey, seq), nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(invoice.Items) == 0 || invoice.InvoiceNumber == "" || invoice.CashierID == 0 {
		return nil, store.ErrInvalidInvoice
	}
	expected := invoice.Subtotal.Sub(invoice.DiscountAmount).Add(invoice.TaxAmount)
	if !invoice.TotalAmount.Equal(expected) || invoice.TotalAmount.IsNegative() {
		return nil, store.ErrInvalidInvoice
	}
	if _, exists := s.invoicesByNumber[invoice.InvoiceNumber]; exists {
		return nil, fmt.Errorf("invoice number %s already exists: %w", invoice.InvoiceNumber, store.ErrInvalidInvoice)
	}

	// Validate every line before touching stock so a failure leaves no
	// partial deduction behind.
	requested := make(map[int64]int, len(invoice.Items))
	for _, item := range invoice.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidInvoice
		}
		requested[item.BookID] += item.Quantity
	}
	for bookID, qty := range requested {
		book, exists := s.books[bookID]
		if !exists {
			return nil, fmt.Errorf("book %d: %w", bookID, store.ErrNotFound)
		}
		if book.StockQuantity < qty {
			return nil, &store.InsufficientStockError{
				BookID:    bookID,
				Available: book.StockQuantity,
				Requested: qty,
			}
		}
	}

	for _, item := range invoice.Items {
		if err := s.adjustStockLocked(item.BookID, -item.Quantity); err != nil {
			return nil, err
		}
	}

	s.nextInvoiceID++
	invoice.ID = s.nextInvoiceID
	if invoice.InvoiceDate.IsZero() {
		invoice.InvoiceDate = time.Now().UTC()
	}
	if invoice.PaymentMethod == "" {
		invoice.PaymentMethod = domain.PaymentMethodCash
	}
	invoice.CreatedAt = time.Now().UTC()
	for i := range invoice.Items {
		s.nextItemID++
		invoice.Items[i].ID = s.nextItemID
		invoice.Items[i].InvoiceID = invoice.ID
	}

	saved := cloneInvoice(&invoice)
	s.invoicesByID[invoice.ID] = saved
	s.invoicesByNumber[invoice.InvoiceNumber] = invoice.ID

	return cloneInvoice(saved), nil
}

func (s *Store) DeleteInvoice(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, exists := s.invoicesByID[id]
	if !exists {
		return store.ErrNotFound
	}

	for _, item := range invoice.Items {
		if err := s.adjustStockLocked(item.BookID, item.Quantity); err != nil {
			return fmt.Errorf("restore stock for book %d: %w", item.BookID, err)
		}
	}

	delete(s.invoicesByID, id)
	delete(s.invoicesByNumber, invoice.InvoiceNumber)
	return nil
}

func (s *Store) FindInvoiceByID(_ context.Context, id int64) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, exists := s.invoicesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneInvoice(invoice), nil
}

func (s *Store) FindInvoiceByNumber(_ context.Context, number string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.invoicesByNumber[number]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneInvoice(s.invoicesByID[id]), nil
}

func (s *Store) ListInvoices(_ context.Context, customerID *int64) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, invoice := range s.invoicesByID {
		if customerID != nil {
			if invoice.CustomerID == nil || *invoice.CustomerID != *customerID {
				continue
			}
		}
		invoices = append(invoices, *cloneInvoice(invoice))
	}

	slices.SortFunc(invoices, func(a, b domain.Invoice) int {
		if a.InvoiceDate.Equal(b.InvoiceDate) {
			return int(b.ID - a.ID)
		}
		if a.InvoiceDate.After(b.InvoiceDate) {
			return -1
		}
		return 1
	})

	return invoices, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInvoice
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInvoice
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.ID = s.nextUserID
	s.nextUserID++
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInvoice
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneInvoice(src *domain.Invoice) *domain.Invoice {
	if src == nil {
		return nil
	}
	dup := *src
	if src.CustomerID != nil {
		id := *src.CustomerID
		dup.CustomerID = &id
	}
	items := make([]domain.InvoiceLineItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return &dup
}
