package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.FetchInitialBatch != 15 {
		t.Errorf("FetchInitialBatch = %d, want 15", cfg.FetchInitialBatch)
	}
	if cfg.FetchBackoffStart != 100*time.Millisecond || cfg.FetchBackoffMax != 5*time.Second {
		t.Errorf("backoff = %v..%v, want 100ms..5s", cfg.FetchBackoffStart, cfg.FetchBackoffMax)
	}
	if cfg.LedgerMaxEvents != 1500 {
		t.Errorf("LedgerMaxEvents = %d, want 1500", cfg.LedgerMaxEvents)
	}
	if cfg.FetchMaxOffset != 10000 {
		t.Errorf("FetchMaxOffset = %d, want 10000", cfg.FetchMaxOffset)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("TRADES_PAGE_SIZE", "250")
	t.Setenv("DASHBOARD_CACHE_TTL_SEC", "30")
	t.Setenv("DATA_API_EXTRA_HEADERS", `{"User-Agent":"walletpnl-test"}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TradesPageSize != 250 {
		t.Errorf("TradesPageSize = %d, want 250", cfg.TradesPageSize)
	}
	if cfg.DashboardTTL != 30*time.Second {
		t.Errorf("DashboardTTL = %v, want 30s", cfg.DashboardTTL)
	}
	if cfg.DataAPIExtraHeaders["User-Agent"] != "walletpnl-test" {
		t.Errorf("extra headers = %v", cfg.DataAPIExtraHeaders)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StorageDriver:     StorageMemory,
			DataAPIAuthMode:   AuthModeNone,
			FetchInitialBatch: 15,
			FetchMinBatch:     2,
			TradesPageSize:    500,
			ActivityPageSize:  500,
			PositionsPageSize: 500,
			ClosedPageSize:    50,
			CacheMaxEntries:   100,
			RequestTimeout:    time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown storage driver", func(c *Config) { c.StorageDriver = "sqlite" }, true},
		{"mysql without dsn", func(c *Config) { c.StorageDriver = StorageMySQL }, true},
		{"bearer without token", func(c *Config) { c.DataAPIAuthMode = AuthModeBearer }, true},
		{"bearer with token", func(c *Config) {
			c.DataAPIAuthMode = AuthModeBearer
			c.DataAPIBearerToken = "t"
		}, false},
		{"invalid auth mode", func(c *Config) { c.DataAPIAuthMode = "oauth" }, true},
		{"min batch above initial", func(c *Config) { c.FetchMinBatch = 20 }, true},
		{"page size too large", func(c *Config) { c.TradesPageSize = 5000 }, true},
		{"zero cache", func(c *Config) { c.CacheMaxEntries = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
