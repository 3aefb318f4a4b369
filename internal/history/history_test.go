package history

import (
	"math"
	"testing"
	"time"

	"github.com/liamashdown/walletpnl/internal/model"
)

var now = time.Date(2024, 12, 1, 15, 0, 0, 0, time.UTC)

func assertSeries(t *testing.T, points []model.PnLPoint, final float64) {
	t.Helper()
	if len(points) < 2 {
		t.Fatalf("series too short: %d", len(points))
	}
	if got := points[len(points)-1].Value; math.Abs(got-final) > 1e-6 {
		t.Errorf("last value = %v, want %v", got, final)
	}
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp.Before(points[i-1].Timestamp) {
			t.Errorf("point %d (%v) precedes point %d (%v)", i, points[i].Timestamp, i-1, points[i-1].Timestamp)
		}
	}
}

func TestBuildFromClosedPositions(t *testing.T) {
	closed := []model.ClosedPosition{
		{Market: "c", RealizedPnL: -5, EndDate: now.Add(-24 * time.Hour)},
		{Market: "a", RealizedPnL: 10, EndDate: now.Add(-72 * time.Hour)},
		{Market: "z", RealizedPnL: 99}, // undated
		{Market: "b", RealizedPnL: 20, EndDate: now.Add(-48 * time.Hour)},
	}

	points := Build(closed, nil, 123.45, now)

	assertSeries(t, points, 123.45)
	if len(points) != 4 {
		t.Fatalf("points = %d, want 3 records + terminal", len(points))
	}
	want := []float64{10, 30, 25}
	for i, v := range want {
		if math.Abs(points[i].Value-v) > 1e-9 {
			t.Errorf("point %d = %v, want %v", i, points[i].Value, v)
		}
	}
	if !points[3].Timestamp.Equal(now) {
		t.Errorf("terminal at %v, want now", points[3].Timestamp)
	}
}

func TestBuildEmptyIsTwoPointFlatLine(t *testing.T) {
	points := Build(nil, nil, 42, now)

	if len(points) != 2 {
		t.Fatalf("points = %d, want 2", len(points))
	}
	assertSeries(t, points, 42)
	if points[0].Value != 42 || !points[0].Timestamp.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("first point = %+v", points[0])
	}
}

func TestBuildFutureEndDate(t *testing.T) {
	future := now.Add(48 * time.Hour)
	points := Build([]model.ClosedPosition{{RealizedPnL: 5, EndDate: future}}, nil, 7, now)

	assertSeries(t, points, 7)
	if !points[len(points)-1].Timestamp.Equal(future) {
		t.Errorf("terminal should move to %v, got %v", future, points[len(points)-1].Timestamp)
	}
}

func TestBuildFallsBackToTrades(t *testing.T) {
	win, loss := 3.0, -1.0
	trades := []model.Trade{
		{ID: "s2", Timestamp: now.Add(-time.Hour), PnL: &loss},
		{ID: "b1", Timestamp: now.Add(-3 * time.Hour)},
		{ID: "s1", Timestamp: now.Add(-2 * time.Hour), PnL: &win},
	}

	points := Build(nil, trades, 10, now)

	assertSeries(t, points, 10)
	if len(points) != 3 || points[0].Value != 3 || points[1].Value != 2 {
		t.Errorf("points = %+v", points)
	}
}

func TestBuildOnlyUndatedRecordsFallsBackToFlatLine(t *testing.T) {
	points := Build([]model.ClosedPosition{{RealizedPnL: 1}}, nil, -3, now)
	if len(points) != 2 {
		t.Errorf("points = %d, want 2", len(points))
	}
	assertSeries(t, points, -3)
}

func TestDaily(t *testing.T) {
	day := time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC)
	points := []model.PnLPoint{
		{Timestamp: day.Add(2 * time.Hour), Value: 1},
		{Timestamp: day.Add(20 * time.Hour), Value: 4},
		{Timestamp: day.Add(30 * time.Hour), Value: 6},
	}

	got := Daily(points)
	if len(got) != 2 || got[0].Value != 4 || got[1].Value != 6 {
		t.Errorf("daily = %+v", got)
	}
	if !got[0].Timestamp.Equal(day) {
		t.Errorf("bucket = %v", got[0].Timestamp)
	}
}
