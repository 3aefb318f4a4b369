package storage

import (
	"time"

	"gorm.io/gorm"
)

// TrackedWallet is a wallet included in the periodic leaderboard refresh
type TrackedWallet struct {
	WalletAddress string `gorm:"primaryKey;size:64"`
	CreatedTS     int64  `gorm:"not null;index"`
}

func (TrackedWallet) TableName() string {
	return "tracked_wallets"
}

// LeaderboardEntry is the persisted form of a Snapshot
type LeaderboardEntry struct {
	WalletAddress    string  `gorm:"primaryKey;size:64"`
	DisplayName      string  `gorm:"size:255"`
	TotalPnLUSD      float64 `gorm:"column:total_pnl_usd;type:decimal(20,6);not null;default:0;index"`
	RealizedPnLUSD   float64 `gorm:"column:realized_pnl_usd;type:decimal(20,6);not null;default:0"`
	UnrealizedPnLUSD float64 `gorm:"column:unrealized_pnl_usd;type:decimal(20,6);not null;default:0"`
	VolumeUSD        float64 `gorm:"type:decimal(20,6);not null;default:0"`
	WinRate          float64 `gorm:"type:decimal(5,4);not null;default:0.0000"`
	Wins             int     `gorm:"not null;default:0"`
	Losses           int     `gorm:"not null;default:0"`
	TotalTrades      int     `gorm:"not null;default:0"`
	PnLSource        string  `gorm:"column:pnl_source;size:32"`
	RunID            string  `gorm:"size:36"`
	UpdatedTS        int64   `gorm:"not null;index"`
}

func (LeaderboardEntry) TableName() string {
	return "leaderboard_entries"
}

func (t *TrackedWallet) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedTS == 0 {
		t.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (e *LeaderboardEntry) BeforeSave(tx *gorm.DB) error {
	if e.UpdatedTS == 0 {
		e.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func entryFromSnapshot(s *Snapshot) *LeaderboardEntry {
	e := &LeaderboardEntry{
		WalletAddress:    s.Wallet,
		DisplayName:      s.Name,
		TotalPnLUSD:      s.TotalPnL,
		RealizedPnLUSD:   s.RealizedPnL,
		UnrealizedPnLUSD: s.UnrealizedPnL,
		VolumeUSD:        s.Volume,
		WinRate:          s.WinRate,
		Wins:             s.Wins,
		Losses:           s.Losses,
		TotalTrades:      s.TotalTrades,
		PnLSource:        s.PnLSource,
		RunID:            s.RunID,
	}
	if !s.UpdatedAt.IsZero() {
		e.UpdatedTS = s.UpdatedAt.Unix()
	}
	return e
}

func (e LeaderboardEntry) snapshot() Snapshot {
	return Snapshot{
		Wallet:        e.WalletAddress,
		Name:          e.DisplayName,
		TotalPnL:      e.TotalPnLUSD,
		RealizedPnL:   e.RealizedPnLUSD,
		UnrealizedPnL: e.UnrealizedPnLUSD,
		Volume:        e.VolumeUSD,
		WinRate:       e.WinRate,
		Wins:          e.Wins,
		Losses:        e.Losses,
		TotalTrades:   e.TotalTrades,
		PnLSource:     e.PnLSource,
		RunID:         e.RunID,
		UpdatedAt:     time.Unix(e.UpdatedTS, 0).UTC(),
	}
}
