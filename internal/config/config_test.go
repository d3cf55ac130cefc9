package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"SERVER_PORT", "PORT", "SETTLEMENT_CURRENCY", "LOOKUP_TIMEOUT_SECONDS", "MAX_CONCURRENT_STARTS", "SWEEP_SCHEDULE", "DATABASE_URL", "PAYER_FUNDS_CHECK"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.SettlementCurrency != "XOF" {
		t.Fatalf("expected default currency XOF, got %q", cfg.SettlementCurrency)
	}
	if cfg.LookupTimeout() != 30*time.Second {
		t.Fatalf("expected 30s lookup timeout, got %s", cfg.LookupTimeout())
	}
	if cfg.MaxConcurrentStarts != 16 {
		t.Fatalf("expected 16 concurrent starts, got %d", cfg.MaxConcurrentStarts)
	}
	if cfg.SubmissionRateLimit != 0 || cfg.SubmissionRateWindow() != time.Minute {
		t.Fatalf("expected submission limiter disabled with a 1m window, got %d/%s", cfg.SubmissionRateLimit, cfg.SubmissionRateWindow())
	}
	if !cfg.PayerFundsCheck {
		t.Fatal("expected payer funds check enabled by default")
	}
	if cfg.SweepSchedule != "@every 5s" {
		t.Fatalf("expected default sweep schedule, got %q", cfg.SweepSchedule)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("expected empty database url, got %q", cfg.DatabaseURL)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "9100")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9100" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_UsesInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "DISBURSEMENT_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InvalidTimeoutsFallBackToDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "QUOTE_TIMEOUT_SECONDS", "0")
	setEnvWithCleanup(t, "MAX_CONCURRENT_STARTS", "-3")
	setEnvWithCleanup(t, "SETTLEMENT_CURRENCY", " xaf ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.QuoteTimeout() != 30*time.Second {
		t.Fatalf("expected fallback quote timeout, got %s", cfg.QuoteTimeout())
	}
	if cfg.MaxConcurrentStarts != 16 {
		t.Fatalf("expected fallback concurrency, got %d", cfg.MaxConcurrentStarts)
	}
	if cfg.SettlementCurrency != "XAF" {
		t.Fatalf("expected normalized currency XAF, got %q", cfg.SettlementCurrency)
	}
}

func TestLoadConfig_DisablesPayerFundsCheck(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PAYER_FUNDS_CHECK", "false")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PayerFundsCheck {
		t.Fatal("expected payer funds check disabled")
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "DFSP_ID")
	unsetEnvWithCleanup(t, "HUB_BASE_URL")

	dir := t.TempDir()
	content := "DFSP_ID=caisse-retraite\nHUB_BASE_URL=http://hub.local:3000/\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DFSPID != "caisse-retraite" {
		t.Fatalf("expected DFSP id from .env, got %q", cfg.DFSPID)
	}
	if cfg.HubBaseURL != "http://hub.local:3000" {
		t.Fatalf("expected trimmed hub url, got %q", cfg.HubBaseURL)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
