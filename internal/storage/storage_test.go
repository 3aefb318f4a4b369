package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/liamashdown/walletpnl/internal/config"
	"github.com/sirupsen/logrus"
)

func TestMemoryStoreTracking(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, w := range []string{"0xa", "0xb", "0xa"} {
		if err := s.TrackWallet(ctx, w); err != nil {
			t.Fatalf("TrackWallet: %v", err)
		}
	}

	wallets, _ := s.ListTrackedWallets(ctx)
	if len(wallets) != 2 || wallets[0] != "0xa" || wallets[1] != "0xb" {
		t.Errorf("wallets = %v", wallets)
	}
}

func TestMemoryStoreUpsertByKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if snap, err := s.GetSnapshot(ctx, "0xa"); snap != nil || err != nil {
		t.Fatalf("missing snapshot = %v, %v", snap, err)
	}

	s.UpsertSnapshot(ctx, &Snapshot{Wallet: "0xa", TotalPnL: 10, RunID: "r1"})
	s.UpsertSnapshot(ctx, &Snapshot{Wallet: "0xa", TotalPnL: 25, RunID: "r2"})

	snap, err := s.GetSnapshot(ctx, "0xa")
	if err != nil || snap == nil {
		t.Fatalf("GetSnapshot: %v, %v", snap, err)
	}
	if snap.TotalPnL != 25 || snap.RunID != "r2" || snap.UpdatedAt.IsZero() {
		t.Errorf("snapshot = %+v", snap)
	}

	all, _ := s.ListSnapshots(ctx, 0)
	if len(all) != 1 {
		t.Errorf("upsert should replace, got %d rows", len(all))
	}
}

func TestMemoryStoreListOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for w, pnl := range map[string]float64{"0xa": 5, "0xb": 50, "0xc": -3, "0xd": 50} {
		s.UpsertSnapshot(ctx, &Snapshot{Wallet: w, TotalPnL: pnl})
	}

	top, _ := s.ListSnapshots(ctx, 3)
	want := []string{"0xb", "0xd", "0xa"}
	if len(top) != len(want) {
		t.Fatalf("got %d snapshots", len(top))
	}
	for i, w := range want {
		if top[i].Wallet != w {
			t.Errorf("rank %d = %s, want %s", i, top[i].Wallet, w)
		}
	}
}

func TestSnapshotEntryRoundTrip(t *testing.T) {
	at := time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC)
	snap := &Snapshot{Wallet: "0xa", Name: "whale", TotalPnL: 12.5, WinRate: 0.6, Wins: 3, Losses: 2, PnLSource: "ledger", UpdatedAt: at}

	got := entryFromSnapshot(snap).snapshot()
	if got != *snap {
		t.Errorf("got %+v, want %+v", got, *snap)
	}
}

func TestMoney(t *testing.T) {
	if got := money(1.5); got != "1.500000" {
		t.Errorf("money = %s", got)
	}
	if got := parseMoney("-42.125000"); got != -42.125 {
		t.Errorf("parseMoney = %v", got)
	}
	if got := parseMoney("garbage"); got != 0 {
		t.Errorf("parseMoney(garbage) = %v", got)
	}
}

func TestOpenMemory(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	s, err := Open(context.Background(), &config.Config{StorageDriver: config.StorageMemory}, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("store = %T", s)
	}

	if _, err := Open(context.Background(), &config.Config{StorageDriver: "sqlite"}, log); err == nil {
		t.Error("expected error for unknown driver")
	}
}
