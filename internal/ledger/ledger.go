// Package ledger derives cash balance and realized PnL from the wallet
// activity feed by replaying cash flows in arrival order.
package ledger

import (
	"github.com/liamashdown/walletpnl/internal/model"
	"github.com/shopspring/decimal"
)

// DefaultWindow is the number of most recent events replayed by default
const DefaultWindow = 1500

// Balance is the result of replaying a sequence of activity events
type Balance struct {
	CashBalance float64
	NetDeposits float64
	RealizedPnL float64

	Deposits    decimal.Decimal
	Withdrawals decimal.Decimal
	Cash        decimal.Decimal

	Applied int
	Ignored int
	// Truncated is set when older events fell outside the replay window
	Truncated bool
}

// Realized returns cash minus net deposits at full precision
func (b Balance) Realized() decimal.Decimal {
	return b.Cash.Sub(b.Deposits.Sub(b.Withdrawals))
}

// ComputeBalance replays every event in the order given
func ComputeBalance(events []model.ActivityEvent) Balance {
	var (
		cash        = decimal.Zero
		deposits    = decimal.Zero
		withdrawals = decimal.Zero
		applied     int
		ignored     int
	)

	for _, ev := range events {
		amount := decimal.NewFromFloat(ev.Amount)

		switch ev.Kind {
		case model.EventDeposit:
			cash = cash.Add(amount)
			deposits = deposits.Add(amount)
		case model.EventConversion:
			// Only inbound conversions fund the account
			if !amount.IsPositive() {
				ignored++
				continue
			}
			cash = cash.Add(amount)
			deposits = deposits.Add(amount)
		case model.EventWithdrawal:
			cash = cash.Sub(amount)
			withdrawals = withdrawals.Add(amount)
		case model.EventTrade:
			switch ev.Side {
			case model.SideBuy:
				cash = cash.Sub(amount)
			case model.SideSell:
				cash = cash.Add(amount)
			default:
				ignored++
				continue
			}
		case model.EventRedeem, model.EventReward, model.EventClaim:
			cash = cash.Add(amount)
		case model.EventFee:
			cash = cash.Sub(amount)
		default:
			ignored++
			continue
		}
		applied++
	}

	b := Balance{
		Deposits:    deposits,
		Withdrawals: withdrawals,
		Cash:        cash,
		Applied:     applied,
		Ignored:     ignored,
	}
	net := deposits.Sub(withdrawals)
	b.CashBalance = cash.InexactFloat64()
	b.NetDeposits = net.InexactFloat64()
	b.RealizedPnL = cash.Sub(net).InexactFloat64()
	return b
}

// ComputeBalanceWindow replays at most the window most recent events.
// The feed is newest-first upstream, so the kept window is re-ordered
// oldest-first only when newestFirst is set.
func ComputeBalanceWindow(events []model.ActivityEvent, window int, newestFirst bool) Balance {
	if window <= 0 {
		window = DefaultWindow
	}

	truncated := false
	if len(events) > window {
		truncated = true
		if newestFirst {
			events = events[:window]
		} else {
			events = events[len(events)-window:]
		}
	}

	if newestFirst {
		ordered := make([]model.ActivityEvent, len(events))
		for i, ev := range events {
			ordered[len(events)-1-i] = ev
		}
		events = ordered
	}

	b := ComputeBalance(events)
	b.Truncated = truncated
	return b
}
