// Package fifo attributes realized profit to individual sells by matching
// them against earlier buys in first-in-first-out order.
package fifo

import (
	"sort"

	"github.com/liamashdown/walletpnl/internal/model"
)

// dust below this size counts as fully consumed
const epsilon = 1e-6

// lot is a remaining slice of one buy
type lot struct {
	size float64
	cost float64
}

type groupKey struct {
	market  string
	outcome string
}

// OpenLot summarises unmatched inventory for one market outcome
type OpenLot struct {
	Market    string
	Outcome   string
	Size      float64
	CostBasis float64
}

// Result is the output of a FIFO matching pass
type Result struct {
	RealizedPnL float64
	WinRate     float64
	Wins        int
	Losses      int
	WinStreak   int
	BestTrade   *model.TradeExtreme
	WorstTrade  *model.TradeExtreme
	// Trades is a chronologically ordered copy with PnL set on matched sells
	Trades  []model.Trade
	Matched int
	// UnmatchedSize is sell size that had no earlier buy to match against
	UnmatchedSize float64
	OpenLots      []OpenLot
}

// MatchTrades runs FIFO matching over the given trades. The input is not modified.
func MatchTrades(trades []model.Trade) Result {
	ordered := make([]model.Trade, len(trades))
	copy(ordered, trades)
	// Timestamps have one-second resolution, so a buy and the sell it funds
	// can share one. Buys go first within a second.
	sort.SliceStable(ordered, func(i, j int) bool {
		ti, tj := ordered[i].Timestamp, ordered[j].Timestamp
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return ordered[i].Side == model.SideBuy && ordered[j].Side != model.SideBuy
	})

	var res Result
	var keyOrder []groupKey
	books := make(map[groupKey][]lot)
	streak := 0

	for i := range ordered {
		t := &ordered[i]
		t.PnL = nil
		key := groupKey{market: t.Market, outcome: t.Outcome}
		if _, ok := books[key]; !ok {
			books[key] = nil
			keyOrder = append(keyOrder, key)
		}

		switch t.Side {
		case model.SideBuy:
			if t.Size <= 0 {
				continue
			}
			books[key] = append(books[key], lot{size: t.Size, cost: t.Size * t.Price})

		case model.SideSell:
			if t.Size <= 0 {
				continue
			}
			matchedSize, consumedCost, remaining := consume(books[key], t.Size)
			books[key] = remaining

			if excess := t.Size - matchedSize; excess > epsilon {
				res.UnmatchedSize += excess
			}
			if matchedSize <= epsilon {
				continue
			}

			pnl := matchedSize*t.Price - consumedCost
			t.PnL = &pnl
			res.Matched++
			res.RealizedPnL += pnl

			switch {
			case pnl > 0:
				res.Wins++
				streak++
				if streak > res.WinStreak {
					res.WinStreak = streak
				}
			case pnl < 0:
				res.Losses++
				streak = 0
			default:
				streak = 0
			}

			if res.BestTrade == nil || pnl > res.BestTrade.PnL {
				res.BestTrade = extreme(t, pnl)
			}
			if res.WorstTrade == nil || pnl < res.WorstTrade.PnL {
				res.WorstTrade = extreme(t, pnl)
			}
		}
	}

	if decided := res.Wins + res.Losses; decided > 0 {
		res.WinRate = float64(res.Wins) / float64(decided)
	}

	for _, key := range keyOrder {
		var size, cost float64
		for _, l := range books[key] {
			size += l.size
			cost += l.cost
		}
		if size > epsilon {
			res.OpenLots = append(res.OpenLots, OpenLot{Market: key.market, Outcome: key.outcome, Size: size, CostBasis: cost})
		}
	}

	res.Trades = ordered
	return res
}

// consume takes up to size units from the front of the queue. Each lot is
// charged at its own average unit cost.
func consume(lots []lot, size float64) (matched, cost float64, remaining []lot) {
	need := size
	for len(lots) > 0 && need > epsilon {
		head := &lots[0]
		take := need
		if head.size < take {
			take = head.size
		}
		unit := head.cost / head.size
		cost += take * unit
		matched += take
		need -= take

		head.size -= take
		head.cost -= take * unit
		if head.size < epsilon {
			lots = lots[1:]
		}
	}
	return matched, cost, lots
}

func extreme(t *model.Trade, pnl float64) *model.TradeExtreme {
	return &model.TradeExtreme{Market: t.Market, Title: t.Title, Outcome: t.Outcome, PnL: pnl}
}

// Annotated returns the most recent n trades, newest first
func (r Result) Annotated(n int) []model.Trade {
	if n <= 0 || n > len(r.Trades) {
		n = len(r.Trades)
	}
	out := make([]model.Trade, 0, n)
	for i := len(r.Trades) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.Trades[i])
	}
	return out
}
