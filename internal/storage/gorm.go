package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liamashdown/walletpnl/internal/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore implements Store on MySQL through GORM
type GormStore struct {
	conn *gorm.DB
	log  *logrus.Logger
}

// NewGormStore creates a new database connection with GORM
func NewGormStore(cfg *config.Config, log *logrus.Logger) (*GormStore, error) {
	gormLogger := logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("Database connection established")

	return &GormStore{conn: conn, log: log}, nil
}

// Close closes the database connection
func (db *GormStore) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the connection is alive
func (db *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AutoMigrate creates or updates the leaderboard tables
func (db *GormStore) AutoMigrate() error {
	return db.conn.AutoMigrate(
		&TrackedWallet{},
		&LeaderboardEntry{},
	)
}

// TrackWallet adds a wallet to the refresh set
func (db *GormStore) TrackWallet(ctx context.Context, wallet string) error {
	start := time.Now()
	result := db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&TrackedWallet{WalletAddress: wallet})
	timed("track_wallet", start, result.Error)
	return result.Error
}

// ListTrackedWallets returns all tracked wallets, oldest first
func (db *GormStore) ListTrackedWallets(ctx context.Context) ([]string, error) {
	start := time.Now()
	var wallets []string
	result := db.conn.WithContext(ctx).
		Model(&TrackedWallet{}).
		Order("created_ts ASC").
		Pluck("wallet_address", &wallets)
	timed("list_tracked_wallets", start, result.Error)
	return wallets, result.Error
}

// UpsertSnapshot inserts or replaces the snapshot for a wallet
func (db *GormStore) UpsertSnapshot(ctx context.Context, snap *Snapshot) error {
	start := time.Now()
	result := db.conn.WithContext(ctx).Save(entryFromSnapshot(snap))
	timed("upsert_snapshot", start, result.Error)
	return result.Error
}

// GetSnapshot retrieves the snapshot for a wallet
func (db *GormStore) GetSnapshot(ctx context.Context, wallet string) (*Snapshot, error) {
	start := time.Now()
	var entry LeaderboardEntry
	result := db.conn.WithContext(ctx).Where("wallet_address = ?", wallet).First(&entry)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		timed("get_snapshot", start, nil)
		return nil, nil
	}
	timed("get_snapshot", start, result.Error)
	if result.Error != nil {
		return nil, result.Error
	}
	snap := entry.snapshot()
	return &snap, nil
}

// ListSnapshots returns the top snapshots by total PnL
func (db *GormStore) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	start := time.Now()
	var entries []LeaderboardEntry
	result := db.conn.WithContext(ctx).
		Order("total_pnl_usd DESC").
		Limit(limit).
		Find(&entries)
	timed("list_snapshots", start, result.Error)
	if result.Error != nil {
		return nil, result.Error
	}

	snaps := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		snaps = append(snaps, e.snapshot())
	}
	return snaps, nil
}

// gormLogAdapter adapts logrus to GORM's logger interface
type gormLogAdapter struct {
	log *logrus.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}
