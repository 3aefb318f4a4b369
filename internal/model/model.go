// Package model defines the domain types shared by the PnL engine.
package model

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidSubject is returned when a wallet identifier cannot be normalized
var ErrInvalidSubject = errors.New("invalid wallet address")

var walletPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// Subject is a normalized wallet address
type Subject string

// ParseSubject normalizes a raw wallet identifier
func ParseSubject(raw string) (Subject, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !walletPattern.MatchString(s) {
		return "", ErrInvalidSubject
	}
	return Subject(s), nil
}

func (s Subject) String() string { return string(s) }

// Short returns the abbreviated form used in logs
func (s Subject) Short() string {
	if len(s) < 10 {
		return string(s)
	}
	return string(s[:6]) + "..." + string(s[len(s)-4:])
}

// EventKind is the type of a cash-affecting activity event
type EventKind string

const (
	EventDeposit    EventKind = "DEPOSIT"
	EventWithdrawal EventKind = "WITHDRAWAL"
	EventTrade      EventKind = "TRADE"
	EventRedeem     EventKind = "REDEEM"
	EventReward     EventKind = "REWARD"
	EventFee        EventKind = "FEE"
	EventConversion EventKind = "CONVERSION"
	EventClaim      EventKind = "CLAIM"
)

// Side is the direction of a trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ActivityEvent is one ledger entry reported by the upstream activity feed.
// Amount is the USDC value of the event.
type ActivityEvent struct {
	Kind      EventKind `json:"kind"`
	Amount    float64   `json:"amount"`
	Side      Side      `json:"side,omitempty"`
	Market    string    `json:"market,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Trade is a single fill. PnL is only set on SELL trades matched against earlier buys.
type Trade struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Market    string    `json:"market"`
	Title     string    `json:"title,omitempty"`
	Side      Side      `json:"side"`
	Outcome   string    `json:"outcome"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	PnL       *float64  `json:"pnl,omitempty"`
}

// Notional returns price times size
func (t Trade) Notional() float64 {
	return t.Price * t.Size
}

// PositionStatus is the lifecycle state of a position
type PositionStatus string

const (
	PositionActive PositionStatus = "ACTIVE"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is an open or recently closed holding in one market outcome
type Position struct {
	Market        string         `json:"market"`
	Title         string         `json:"title,omitempty"`
	Outcome       string         `json:"outcome"`
	EntryPrice    float64        `json:"entry_price"`
	CurrentPrice  float64        `json:"current_price"`
	Size          float64        `json:"size"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	Status        PositionStatus `json:"status"`
}

// StatusFor derives the position status from its size
func StatusFor(size float64) PositionStatus {
	if size > 0 {
		return PositionActive
	}
	return PositionClosed
}

// Value is the mark-to-market value of the position
func (p Position) Value() float64 {
	return p.Size * p.CurrentPrice
}

// ClosedPosition is a realized result reported by the closed-positions endpoint.
// Upstream caps these lists far below the true count.
type ClosedPosition struct {
	Market      string    `json:"market"`
	Title       string    `json:"title,omitempty"`
	Outcome     string    `json:"outcome"`
	RealizedPnL float64   `json:"realized_pnl"`
	EndDate     time.Time `json:"end_date"`
}

// PnLPoint is one sample of the cumulative PnL series
type PnLPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Source names which estimator produced a figure
type Source string

const (
	SourceNone           Source = "none"
	SourceAuthoritative  Source = "authoritative"
	SourceLedger         Source = "ledger"
	SourceFIFO           Source = "fifo"
	SourceClosedList     Source = "closed_list"
	SourceClosedPaged    Source = "closed_paginated"
	SourceOpenPositions  Source = "open_positions"
	SourceTradeNotional  Source = "trade_notional"
	SourcePositionsValue Source = "positions_value"
)

// TradeExtreme is a best or worst single result
type TradeExtreme struct {
	Market  string  `json:"market,omitempty"`
	Title   string  `json:"title,omitempty"`
	Outcome string  `json:"outcome,omitempty"`
	PnL     float64 `json:"pnl"`
}

// PortfolioStats is the reconciled summary for one wallet
type PortfolioStats struct {
	RealizedPnL     float64      `json:"realized_pnl"`
	UnrealizedPnL   float64      `json:"unrealized_pnl"`
	TotalPnL        float64      `json:"total_pnl"`
	PortfolioValue  float64      `json:"portfolio_value"`
	CashBalance     float64      `json:"cash_balance"`
	NetDeposits     float64      `json:"net_deposits"`
	Volume          float64      `json:"volume"`
	WinRate         float64      `json:"win_rate"`
	Wins            int          `json:"wins"`
	Losses          int          `json:"losses"`
	WinStreak       int          `json:"win_streak"`
	BestTrade       TradeExtreme `json:"best_trade"`
	WorstTrade      TradeExtreme `json:"worst_trade"`
	TotalTrades     int          `json:"total_trades"`
	ActivePositions int          `json:"active_positions"`

	PnLSource       Source `json:"pnl_source"`
	BestWorstSource Source `json:"best_worst_source"`
	VolumeSource    Source `json:"volume_source"`
	ValueSource     Source `json:"value_source"`

	// Coverage signals
	LedgerWindowTruncated bool    `json:"ledger_window_truncated"`
	TradesComplete        bool    `json:"trades_complete"`
	ActivityComplete      bool    `json:"activity_complete"`
	UnmatchedSellSize     float64 `json:"unmatched_sell_size"`
}

// Profile is the public identity of a wallet
type Profile struct {
	Subject      Subject `json:"wallet"`
	Name         string  `json:"name,omitempty"`
	Pseudonym    string  `json:"pseudonym,omitempty"`
	ProfileImage string  `json:"profile_image,omitempty"`
	Placeholder  bool    `json:"placeholder"`
}

// Dashboard is the single aggregate returned for a wallet request
type Dashboard struct {
	RunID        string         `json:"run_id"`
	Profile      Profile        `json:"profile"`
	Stats        PortfolioStats `json:"stats"`
	History      []PnLPoint     `json:"history"`
	Positions    []Position     `json:"positions"`
	RecentTrades []Trade        `json:"recent_trades"`
	Degraded     bool           `json:"degraded"`
	GeneratedAt  time.Time      `json:"generated_at"`
}
