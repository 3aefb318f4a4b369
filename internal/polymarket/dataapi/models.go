package dataapi

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/liamashdown/walletpnl/internal/model"
	"github.com/liamashdown/walletpnl/internal/polymarket"
)

// Trade represents a trade from the Data API
type Trade struct {
	ProxyWallet     string            `json:"proxyWallet"`
	Side            string            `json:"side"` // BUY, SELL
	Asset           string            `json:"asset"`
	ConditionID     string            `json:"conditionId"`
	Size            polymarket.Number `json:"size"`
	Price           polymarket.Number `json:"price"`
	Timestamp       int64             `json:"timestamp"` // Unix timestamp in seconds
	Outcome         string            `json:"outcome"`   // YES, NO or a named outcome
	OutcomeIndex    int               `json:"outcomeIndex"`
	Title           string            `json:"title"`
	Slug            string            `json:"slug"`
	EventSlug       string            `json:"eventSlug"`
	TransactionHash string            `json:"transactionHash"`
}

// Model converts the upstream trade into the engine's trade type
func (t Trade) Model() model.Trade {
	return model.Trade{
		ID:        tradeID(t),
		Timestamp: time.Unix(t.Timestamp, 0).UTC(),
		Market:    t.ConditionID,
		Title:     t.Title,
		Side:      model.Side(strings.ToUpper(t.Side)),
		Outcome:   t.Outcome,
		Price:     t.Price.Float(),
		Size:      t.Size.Float(),
	}
}

// tradeID is stable across pages; one transaction can fill several outcomes
func tradeID(t Trade) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d|%f|%f",
		t.TransactionHash, t.ConditionID, t.Asset, t.Side, t.Timestamp, t.Size.Float(), t.Price.Float())
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:12])
}

// Activity represents one entry of the wallet activity feed
type Activity struct {
	ProxyWallet     string            `json:"proxyWallet"`
	Timestamp       int64             `json:"timestamp"`
	ConditionID     string            `json:"conditionId"`
	Type            string            `json:"type"` // TRADE, REDEEM, REWARD, CONVERSION, SPLIT, MERGE, ...
	Size            polymarket.Number `json:"size"`
	USDCSize        polymarket.Number `json:"usdcSize"`
	TransactionHash string            `json:"transactionHash"`
	Price           polymarket.Number `json:"price"`
	Side            string            `json:"side"`
	Outcome         string            `json:"outcome"`
	Title           string            `json:"title"`
	Name            string            `json:"name"`
	Pseudonym       string            `json:"pseudonym"`
	ProfileImage    string            `json:"profileImage"`
}

// Model converts the upstream activity row into a ledger event
func (a Activity) Model() model.ActivityEvent {
	amount := a.USDCSize.Float()
	if amount == 0 && a.Price != 0 {
		amount = a.Size.Float() * a.Price.Float()
	}
	return model.ActivityEvent{
		Kind:      model.EventKind(strings.ToUpper(a.Type)),
		Amount:    amount,
		Side:      model.Side(strings.ToUpper(a.Side)),
		Market:    a.ConditionID,
		Outcome:   a.Outcome,
		Timestamp: time.Unix(a.Timestamp, 0).UTC(),
	}
}

// Position represents an open position from the Data API
type Position struct {
	ProxyWallet  string            `json:"proxyWallet"`
	Asset        string            `json:"asset"`
	ConditionID  string            `json:"conditionId"`
	Size         polymarket.Number `json:"size"`
	AvgPrice     polymarket.Number `json:"avgPrice"`
	InitialValue polymarket.Number `json:"initialValue"`
	CurrentValue polymarket.Number `json:"currentValue"`
	CashPnl      polymarket.Number `json:"cashPnl"`
	RealizedPnl  polymarket.Number `json:"realizedPnl"`
	CurPrice     polymarket.Number `json:"curPrice"`
	Redeemable   bool              `json:"redeemable"`
	Title        string            `json:"title"`
	Outcome      string            `json:"outcome"`
	EndDate      string            `json:"endDate"`
}

// Model converts the upstream position
func (p Position) Model() model.Position {
	size := p.Size.Float()
	unrealized := p.CashPnl.Float()
	if unrealized == 0 && size > 0 {
		unrealized = size * (p.CurPrice.Float() - p.AvgPrice.Float())
	}
	return model.Position{
		Market:        p.ConditionID,
		Title:         p.Title,
		Outcome:       p.Outcome,
		EntryPrice:    p.AvgPrice.Float(),
		CurrentPrice:  p.CurPrice.Float(),
		Size:          size,
		UnrealizedPnL: unrealized,
		Status:        model.StatusFor(size),
	}
}

// ClosedPosition represents one row of the capped closed-positions endpoint
type ClosedPosition struct {
	ProxyWallet string            `json:"proxyWallet"`
	Asset       string            `json:"asset"`
	ConditionID string            `json:"conditionId"`
	AvgPrice    polymarket.Number `json:"avgPrice"`
	TotalBought polymarket.Number `json:"totalBought"`
	RealizedPnl polymarket.Number `json:"realizedPnl"`
	CurPrice    polymarket.Number `json:"curPrice"`
	Timestamp   int64             `json:"timestamp"`
	Title       string            `json:"title"`
	Outcome     string            `json:"outcome"`
	EndDate     string            `json:"endDate"`
}

// Model converts the upstream closed position. The end date falls back to
// the close timestamp when the market has no end date.
func (c ClosedPosition) Model() model.ClosedPosition {
	end := polymarket.ParseTime(c.EndDate)
	if end.IsZero() && c.Timestamp > 0 {
		end = time.Unix(c.Timestamp, 0).UTC()
	}
	return model.ClosedPosition{
		Market:      c.ConditionID,
		Title:       c.Title,
		Outcome:     c.Outcome,
		RealizedPnL: c.RealizedPnl.Float(),
		EndDate:     end,
	}
}

// Value is the /value response row
type Value struct {
	User  string            `json:"user"`
	Value polymarket.Number `json:"value"`
}

// PageParams holds the common pagination parameters
type PageParams struct {
	User   string
	Limit  int
	Offset int
}

// TradeParams holds parameters for the GetTrades call
type TradeParams struct {
	PageParams
	TakerOnly bool
	Market    string
	Side      string // BUY, SELL
}
