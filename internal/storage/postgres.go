package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/liamashdown/walletpnl/internal/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tracked_wallets (
	wallet_address VARCHAR(64) PRIMARY KEY,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS leaderboard_entries (
	wallet_address     VARCHAR(64) PRIMARY KEY,
	display_name       VARCHAR(255) NOT NULL DEFAULT '',
	total_pnl_usd      NUMERIC(20,6) NOT NULL DEFAULT 0,
	realized_pnl_usd   NUMERIC(20,6) NOT NULL DEFAULT 0,
	unrealized_pnl_usd NUMERIC(20,6) NOT NULL DEFAULT 0,
	volume_usd         NUMERIC(20,6) NOT NULL DEFAULT 0,
	win_rate           NUMERIC(5,4) NOT NULL DEFAULT 0,
	wins               INTEGER NOT NULL DEFAULT 0,
	losses             INTEGER NOT NULL DEFAULT 0,
	total_trades       INTEGER NOT NULL DEFAULT 0,
	pnl_source         VARCHAR(32) NOT NULL DEFAULT '',
	run_id             VARCHAR(36) NOT NULL DEFAULT '',
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leaderboard_total_pnl ON leaderboard_entries (total_pnl_usd DESC);
`

// PostgresStore implements Store on PostgreSQL. Money columns are NUMERIC
// and cross the driver boundary as text.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

// NewPostgresStore opens a connection pool and verifies connectivity
func NewPostgresStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.DatabaseMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DatabaseMaxConns)
	}
	poolCfg.MaxConnIdleTime = cfg.DatabaseMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Info("PostgreSQL connection established")
	return &PostgresStore{pool: pool, log: log}, nil
}

// Migrate creates the tables if they do not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) TrackWallet(ctx context.Context, wallet string) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tracked_wallets (wallet_address) VALUES ($1)
		 ON CONFLICT (wallet_address) DO NOTHING`, wallet)
	timed("track_wallet", start, err)
	return err
}

func (s *PostgresStore) ListTrackedWallets(ctx context.Context) ([]string, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT wallet_address FROM tracked_wallets ORDER BY created_at ASC`)
	if err != nil {
		timed("list_tracked_wallets", start, err)
		return nil, err
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	timed("list_tracked_wallets", start, rows.Err())
	return wallets, rows.Err()
}

func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap *Snapshot) error {
	start := time.Now()
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO leaderboard_entries
		   (wallet_address, display_name, total_pnl_usd, realized_pnl_usd, unrealized_pnl_usd,
		    volume_usd, win_rate, wins, losses, total_trades, pnl_source, run_id, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (wallet_address) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   total_pnl_usd = EXCLUDED.total_pnl_usd,
		   realized_pnl_usd = EXCLUDED.realized_pnl_usd,
		   unrealized_pnl_usd = EXCLUDED.unrealized_pnl_usd,
		   volume_usd = EXCLUDED.volume_usd,
		   win_rate = EXCLUDED.win_rate,
		   wins = EXCLUDED.wins,
		   losses = EXCLUDED.losses,
		   total_trades = EXCLUDED.total_trades,
		   pnl_source = EXCLUDED.pnl_source,
		   run_id = EXCLUDED.run_id,
		   updated_at = EXCLUDED.updated_at`,
		snap.Wallet, snap.Name,
		money(snap.TotalPnL), money(snap.RealizedPnL), money(snap.UnrealizedPnL),
		money(snap.Volume), decimal.NewFromFloat(snap.WinRate).StringFixed(4),
		snap.Wins, snap.Losses, snap.TotalTrades, snap.PnLSource, snap.RunID, updatedAt,
	)
	timed("upsert_snapshot", start, err)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.Wallet, err)
	}
	return nil
}

const snapshotColumns = `wallet_address, display_name,
	total_pnl_usd::TEXT, realized_pnl_usd::TEXT, unrealized_pnl_usd::TEXT, volume_usd::TEXT, win_rate::TEXT,
	wins, losses, total_trades, pnl_source, run_id, updated_at`

func (s *PostgresStore) GetSnapshot(ctx context.Context, wallet string) (*Snapshot, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM leaderboard_entries WHERE wallet_address = $1`, wallet)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		timed("get_snapshot", start, nil)
		return nil, nil
	}
	timed("get_snapshot", start, err)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", wallet, err)
	}
	return &snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM leaderboard_entries ORDER BY total_pnl_usd DESC LIMIT $1`, limit)
	if err != nil {
		timed("list_snapshots", start, err)
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	timed("list_snapshots", start, rows.Err())
	return snaps, rows.Err()
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var snap Snapshot
	var total, realized, unrealized, volume, winRate string
	err := row.Scan(&snap.Wallet, &snap.Name,
		&total, &realized, &unrealized, &volume, &winRate,
		&snap.Wins, &snap.Losses, &snap.TotalTrades, &snap.PnLSource, &snap.RunID, &snap.UpdatedAt)
	if err != nil {
		return Snapshot{}, err
	}
	snap.TotalPnL = parseMoney(total)
	snap.RealizedPnL = parseMoney(realized)
	snap.UnrealizedPnL = parseMoney(unrealized)
	snap.Volume = parseMoney(volume)
	snap.WinRate = parseMoney(winRate)
	snap.UpdatedAt = snap.UpdatedAt.UTC()
	return snap, nil
}

// money renders a USD amount at the column's precision
func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(6)
}

func parseMoney(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
