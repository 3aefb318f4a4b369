// Package storage persists leaderboard snapshots and the set of tracked
// wallets. MySQL (GORM) is the default backend; PostgreSQL (pgx) and an
// in-memory store are selectable by configuration.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/liamashdown/walletpnl/internal/config"
	"github.com/liamashdown/walletpnl/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Snapshot is the last computed summary for one wallet, keyed by address
type Snapshot struct {
	Wallet        string    `json:"wallet"`
	Name          string    `json:"name,omitempty"`
	TotalPnL      float64   `json:"total_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Volume        float64   `json:"volume"`
	WinRate       float64   `json:"win_rate"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	TotalTrades   int       `json:"total_trades"`
	PnLSource     string    `json:"pnl_source"`
	RunID         string    `json:"run_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store is the persistence interface for the leaderboard
type Store interface {
	// TrackWallet adds a wallet to the periodic refresh set. Re-adding is a no-op.
	TrackWallet(ctx context.Context, wallet string) error

	// ListTrackedWallets returns every tracked wallet, oldest first.
	ListTrackedWallets(ctx context.Context) ([]string, error)

	// UpsertSnapshot inserts or replaces the snapshot for snap.Wallet.
	UpsertSnapshot(ctx context.Context, snap *Snapshot) error

	// GetSnapshot returns nil, nil when the wallet has no snapshot.
	GetSnapshot(ctx context.Context, wallet string) (*Snapshot, error)

	// ListSnapshots returns up to limit snapshots ordered by total PnL, best first.
	ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the backend selected by cfg.StorageDriver and ensures the schema exists
func Open(ctx context.Context, cfg *config.Config, log *logrus.Logger) (Store, error) {
	switch cfg.StorageDriver {
	case config.StorageMySQL:
		db, err := NewGormStore(cfg, log)
		if err != nil {
			return nil, err
		}
		if err := db.AutoMigrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return db, nil
	case config.StoragePostgres:
		db, err := NewPostgresStore(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return db, nil
	case config.StorageMemory:
		log.Warn("Using in-memory storage; leaderboard will not survive restarts")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func timed(operation string, start time.Time, err error) {
	metrics.RecordDatabaseQuery(operation, time.Since(start), err)
}
