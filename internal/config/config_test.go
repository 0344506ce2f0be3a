package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("INVOICE_PREFIX", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "")
	t.Setenv("RECEIPT_CACHE_TTL_SECONDS", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.InvoicePrefix != "INV" {
		t.Fatalf("expected default prefix INV, got %q", cfg.InvoicePrefix)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ReceiptCacheTTLSeconds != 300 {
		t.Fatalf("expected default receipt ttl 300, got %d", cfg.ReceiptCacheTTLSeconds)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadRejectsGarbageTTLs(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")
	t.Setenv("RECEIPT_CACHE_TTL_SECONDS", "zero")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected fallback ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.ReceiptCacheTTLSeconds != 300 {
		t.Fatalf("expected fallback receipt ttl 300, got %d", cfg.ReceiptCacheTTLSeconds)
	}
}
