// Package history reconstructs a cumulative PnL series from the sparse
// realized results the upstream exposes.
package history

import (
	"sort"
	"time"

	"github.com/liamashdown/walletpnl/internal/model"
)

// flatLineSpan is how far back the two-point series starts when there is nothing to plot
const flatLineSpan = 24 * time.Hour

type sample struct {
	at  time.Time
	pnl float64
}

// Build returns a non-decreasing series whose last point equals finalPnL.
// Closed positions are preferred; FIFO-annotated trades are used when
// there are none. With neither, the series is a flat line over the last day.
func Build(closed []model.ClosedPosition, trades []model.Trade, finalPnL float64, now time.Time) []model.PnLPoint {
	samples := fromClosed(closed)
	if len(samples) == 0 {
		samples = fromTrades(trades)
	}

	if len(samples) == 0 {
		return []model.PnLPoint{
			{Timestamp: now.Add(-flatLineSpan), Value: finalPnL},
			{Timestamp: now, Value: finalPnL},
		}
	}

	points := make([]model.PnLPoint, 0, len(samples)+1)
	var cumulative float64
	var last time.Time
	for _, s := range samples {
		cumulative += s.pnl
		at := s.at
		if at.Before(last) {
			at = last
		}
		last = at
		points = append(points, model.PnLPoint{Timestamp: at, Value: cumulative})
	}

	end := now
	if last.After(end) {
		end = last
	}
	return append(points, model.PnLPoint{Timestamp: end, Value: finalPnL})
}

func fromClosed(closed []model.ClosedPosition) []sample {
	samples := make([]sample, 0, len(closed))
	for _, c := range closed {
		if c.EndDate.IsZero() {
			continue
		}
		samples = append(samples, sample{at: c.EndDate, pnl: c.RealizedPnL})
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].at.Before(samples[j].at)
	})
	return samples
}

func fromTrades(trades []model.Trade) []sample {
	samples := make([]sample, 0, len(trades))
	for _, t := range trades {
		if t.PnL == nil || t.Timestamp.IsZero() {
			continue
		}
		samples = append(samples, sample{at: t.Timestamp, pnl: *t.PnL})
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].at.Before(samples[j].at)
	})
	return samples
}

// Daily collapses a series to the last value of each UTC day
func Daily(points []model.PnLPoint) []model.PnLPoint {
	var out []model.PnLPoint
	for _, p := range points {
		day := p.Timestamp.UTC().Truncate(24 * time.Hour)
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(day) {
			out[n-1].Value = p.Value
			continue
		}
		out = append(out, model.PnLPoint{Timestamp: day, Value: p.Value})
	}
	return out
}
