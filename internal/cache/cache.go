package cache

import (
	"context"
	"time"
)

// ReceiptCache stores rendered printable bills keyed by invoice id. Invoices
// are immutable after commit, so cached receipts only need invalidation when
// an invoice is deleted.
type ReceiptCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopReceiptCache struct{}

func (NoopReceiptCache) Get(_ context.Context, _ string) (string, bool, error) {
	return "", false, nil
}

func (NoopReceiptCache) Set(_ context.Context, _ string, _ string, _ time.Duration) error {
	return nil
}

func (NoopReceiptCache) Delete(_ context.Context, _ string) error {
	return nil
}
