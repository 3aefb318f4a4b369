package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/liamashdown/walletpnl/internal/cache"
	"github.com/liamashdown/walletpnl/internal/metrics"
	"github.com/liamashdown/walletpnl/internal/model"
	"github.com/liamashdown/walletpnl/internal/storage"
	"github.com/sirupsen/logrus"
)

// TrackWallet adds a wallet to the leaderboard and computes its first snapshot
func (p *Processor) TrackWallet(ctx context.Context, rawWallet string) (*storage.Snapshot, error) {
	subject, err := model.ParseSubject(rawWallet)
	if err != nil {
		return nil, err
	}
	if err := p.store.TrackWallet(ctx, subject.String()); err != nil {
		return nil, fmt.Errorf("track wallet: %w", err)
	}
	return p.RefreshWallet(ctx, subject)
}

// Leaderboard returns the persisted snapshots, best total PnL first
func (p *Processor) Leaderboard(ctx context.Context, limit int) ([]storage.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	snaps, err := p.store.ListSnapshots(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

// refreshedResources are dropped from the cache before a wallet refresh
var refreshedResources = []string{
	resourceDashboard,
	resourcePositions,
	resourceTrades,
	resourceActivity,
	resourceClosed,
	resourceClosedPaged,
	resourceValue,
	resourceProfit,
	resourceVolume,
	resourceProfile,
}

// RefreshWallet recomputes one wallet from fresh upstream data and upserts its snapshot
func (p *Processor) RefreshWallet(ctx context.Context, subject model.Subject) (*storage.Snapshot, error) {
	lockVal, _ := p.walletLocks.LoadOrStore(subject.String(), &sync.Mutex{})
	lock := lockVal.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	for _, resource := range refreshedResources {
		p.caches.Invalidate(ctx, cache.Key{Resource: resource, Subject: subject.String()})
	}

	dash, err := p.BuildDashboard(ctx, subject.String(), 0)
	if err != nil {
		return nil, err
	}

	snap := &storage.Snapshot{
		Wallet:        subject.String(),
		Name:          dash.Profile.Name,
		TotalPnL:      dash.Stats.TotalPnL,
		RealizedPnL:   dash.Stats.RealizedPnL,
		UnrealizedPnL: dash.Stats.UnrealizedPnL,
		Volume:        dash.Stats.Volume,
		WinRate:       dash.Stats.WinRate,
		Wins:          dash.Stats.Wins,
		Losses:        dash.Stats.Losses,
		TotalTrades:   dash.Stats.TotalTrades,
		PnLSource:     string(dash.Stats.PnLSource),
		RunID:         dash.RunID,
		UpdatedAt:     p.now().UTC(),
	}
	if err := p.store.UpsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("upsert snapshot: %w", err)
	}
	return snap, nil
}

// RefreshLeaderboard recomputes every tracked wallet using the worker pool
func (p *Processor) RefreshLeaderboard(ctx context.Context) error {
	start := time.Now()
	p.log.Info("Starting leaderboard refresh")

	wallets, err := p.store.ListTrackedWallets(ctx)
	if err != nil {
		return fmt.Errorf("list tracked wallets: %w", err)
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		ok, failed int
	)
	for _, w := range wallets {
		subject, err := model.ParseSubject(w)
		if err != nil {
			p.log.WithField("wallet", w).Warn("Skipping malformed tracked wallet")
			continue
		}

		wg.Add(1)
		go func(s model.Subject) {
			defer wg.Done()

			// Acquire worker
			select {
			case <-p.workerPool:
			case <-ctx.Done():
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			defer func() { p.workerPool <- struct{}{} }()

			_, err := p.RefreshWallet(ctx, s)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				p.log.WithError(err).WithField("wallet", s.Short()).Error("Failed to refresh wallet")
				return
			}
			ok++
		}(subject)
	}
	wg.Wait()

	metrics.RecordLeaderboardRefresh(time.Since(start), ok, failed)
	p.log.WithFields(logrus.Fields{
		"wallets":     len(wallets),
		"refreshed":   ok,
		"failed":      failed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Leaderboard refresh complete")

	return ctx.Err()
}
