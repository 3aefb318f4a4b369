// Package stats reconciles the independent PnL estimators into one
// PortfolioStats, recording which source produced each figure.
package stats

import (
	"math"
	"sort"

	"github.com/liamashdown/walletpnl/internal/fifo"
	"github.com/liamashdown/walletpnl/internal/ledger"
	"github.com/liamashdown/walletpnl/internal/model"
)

// Authoritative holds figures published upstream. Nil means unavailable.
type Authoritative struct {
	PnL    *float64
	Volume *float64
	Value  *float64
}

// Inputs is everything fetched for one wallet
type Inputs struct {
	Positions   []model.Position
	Trades      []model.Trade
	Activity    []model.ActivityEvent
	Closed      []model.ClosedPosition // first page of the closed-positions endpoint
	ClosedPaged []model.ClosedPosition // further pages, deeper but slower
	Authoritative

	TradesComplete   bool
	ActivityComplete bool
	// LedgerWindow caps how many activity events are replayed
	LedgerWindow int
}

// Result carries the reconciled stats plus the intermediate estimators
type Result struct {
	Stats   model.PortfolioStats
	Matches fifo.Result
	Balance ledger.Balance
}

// Aggregate computes portfolio stats. Activity is expected newest first.
func Aggregate(in Inputs) Result {
	matches := fifo.MatchTrades(in.Trades)
	balance := ledger.ComputeBalanceWindow(in.Activity, in.LedgerWindow, true)
	hasLedger := balance.Applied > 0

	var s model.PortfolioStats
	var holdingsValue float64
	for _, p := range in.Positions {
		s.UnrealizedPnL += p.UnrealizedPnL
		holdingsValue += p.Value()
		if p.Status == model.PositionActive {
			s.ActivePositions++
		}
	}

	if hasLedger {
		s.CashBalance = balance.CashBalance
		s.NetDeposits = balance.NetDeposits
	}

	// Headline PnL: first provider with usable output wins. An authoritative
	// zero often means the leaderboard has not caught up, so it only wins when
	// no other provider has data.
	useLedger := hasLedger && (!balance.Truncated || matches.Matched == 0)
	useFIFO := matches.Matched > 0 || len(in.Positions) > 0
	switch {
	case in.PnL != nil && (*in.PnL != 0 || (!useLedger && !useFIFO)):
		s.TotalPnL = *in.PnL
		s.RealizedPnL = s.TotalPnL - s.UnrealizedPnL
		s.PnLSource = model.SourceAuthoritative
	case useLedger:
		// Open purchases are already debited from cash, so holdings go back in at market value
		s.TotalPnL = balance.RealizedPnL + holdingsValue
		s.RealizedPnL = s.TotalPnL - s.UnrealizedPnL
		s.PnLSource = model.SourceLedger
	case useFIFO:
		s.RealizedPnL = matches.RealizedPnL
		s.TotalPnL = s.RealizedPnL + s.UnrealizedPnL
		s.PnLSource = model.SourceFIFO
	default:
		s.PnLSource = model.SourceNone
	}

	if in.Value != nil {
		s.PortfolioValue = *in.Value
		s.ValueSource = model.SourceAuthoritative
	} else {
		s.PortfolioValue = holdingsValue + s.CashBalance
		s.ValueSource = model.SourcePositionsValue
	}

	s.BestTrade, s.WorstTrade, s.BestWorstSource = bestWorst(in, matches)

	if in.Volume != nil && *in.Volume > 0 {
		s.Volume = *in.Volume
		s.VolumeSource = model.SourceAuthoritative
	} else {
		for _, t := range in.Trades {
			s.Volume += t.Notional()
		}
		s.VolumeSource = model.SourceTradeNotional
	}

	if matches.Wins+matches.Losses > 0 {
		s.Wins = matches.Wins
		s.Losses = matches.Losses
		s.WinRate = matches.WinRate
		s.WinStreak = matches.WinStreak
	} else {
		closed := in.ClosedPaged
		if len(in.Closed) > len(closed) {
			closed = in.Closed
		}
		s.Wins, s.Losses, s.WinStreak = closedRecord(closed)
		if decided := s.Wins + s.Losses; decided > 0 {
			s.WinRate = float64(s.Wins) / float64(decided)
		}
	}

	s.TotalTrades = len(in.Trades)
	s.LedgerWindowTruncated = balance.Truncated
	s.TradesComplete = in.TradesComplete
	s.ActivityComplete = in.ActivityComplete
	s.UnmatchedSellSize = matches.UnmatchedSize

	return Result{Stats: s, Matches: matches, Balance: balance}
}

func bestWorst(in Inputs, matches fifo.Result) (model.TradeExtreme, model.TradeExtreme, model.Source) {
	if best, worst, ok := extremesFromClosed(in.Closed); ok {
		return best, worst, model.SourceClosedList
	}
	if best, worst, ok := extremesFromClosed(in.ClosedPaged); ok {
		return best, worst, model.SourceClosedPaged
	}
	if matches.BestTrade != nil && (matches.BestTrade.PnL != 0 || matches.WorstTrade.PnL != 0) {
		return *matches.BestTrade, *matches.WorstTrade, model.SourceFIFO
	}

	var best, worst model.TradeExtreme
	found := false
	for _, p := range in.Positions {
		if p.UnrealizedPnL == 0 {
			continue
		}
		e := model.TradeExtreme{Market: p.Market, Title: p.Title, Outcome: p.Outcome, PnL: p.UnrealizedPnL}
		if !found || e.PnL > best.PnL {
			best = e
		}
		if !found || e.PnL < worst.PnL {
			worst = e
		}
		found = true
	}
	if found {
		return best, worst, model.SourceOpenPositions
	}
	return model.TradeExtreme{}, model.TradeExtreme{}, model.SourceNone
}

func extremesFromClosed(closed []model.ClosedPosition) (best, worst model.TradeExtreme, ok bool) {
	best.PnL = math.Inf(-1)
	worst.PnL = math.Inf(1)
	for _, c := range closed {
		if c.RealizedPnL == 0 {
			continue
		}
		e := model.TradeExtreme{Market: c.Market, Title: c.Title, Outcome: c.Outcome, PnL: c.RealizedPnL}
		if e.PnL > best.PnL {
			best = e
		}
		if e.PnL < worst.PnL {
			worst = e
		}
		ok = true
	}
	if !ok {
		return model.TradeExtreme{}, model.TradeExtreme{}, false
	}
	return best, worst, true
}

// closedRecord counts wins and losses over closed positions and the longest
// run of consecutive wins by end date
func closedRecord(closed []model.ClosedPosition) (wins, losses, streak int) {
	ordered := make([]model.ClosedPosition, len(closed))
	copy(ordered, closed)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EndDate.Before(ordered[j].EndDate)
	})

	run := 0
	for _, c := range ordered {
		switch {
		case c.RealizedPnL > 0:
			wins++
			run++
			if run > streak {
				streak = run
			}
		case c.RealizedPnL < 0:
			losses++
			run = 0
		default:
			run = 0
		}
	}
	return wins, losses, streak
}
