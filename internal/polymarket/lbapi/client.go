// Package lbapi reads the authoritative profit and volume figures published
// by the Polymarket leaderboard API.
package lbapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/PaesslerAG/jsonpath"
	"github.com/liamashdown/walletpnl/internal/config"
	"github.com/liamashdown/walletpnl/internal/polymarket"
	"github.com/liamashdown/walletpnl/internal/ratelimit"
)

const apiName = "leaderboard"

// The endpoint answers either with a one-element array or a bare object,
// and has been seen to quote the amount.
var amountPaths = []string{"$[0].amount", "$.amount", "$[0].value", "$.value"}

// Client handles communication with the leaderboard API
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewClient creates a new leaderboard API client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    cfg.LeaderboardAPIBaseURL,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:    ratelimit.New(cfg.LeaderboardAPIRPS, 0),
	}
}

// GetProfit returns the all-time realized+unrealized profit for a wallet
func (c *Client) GetProfit(ctx context.Context, address string) (float64, error) {
	return c.getAmount(ctx, "/profit", address)
}

// GetVolume returns the all-time traded volume for a wallet
func (c *Client) GetVolume(ctx context.Context, address string) (float64, error) {
	return c.getAmount(ctx, "/volume", address)
}

func (c *Client) getAmount(ctx context.Context, endpoint, address string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return 0, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("window", "all")
	q.Set("limit", "1")
	q.Set("address", address)
	u.RawQuery = q.Encode()

	body, err := polymarket.Get(ctx, c.httpClient, apiName, endpoint, u.String(), nil)
	if err != nil {
		return 0, err
	}

	amount, err := ExtractAmount(body)
	if err != nil {
		return 0, fmt.Errorf("%s for %s: %w", endpoint, address, err)
	}
	return amount, nil
}

// ExtractAmount pulls the amount out of any of the known response shapes
func ExtractAmount(body []byte) (float64, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	if list, ok := doc.([]any); ok && len(list) == 0 {
		return 0, polymarket.ErrNotFound
	}

	for _, path := range amountPaths {
		val, err := jsonpath.Get(path, doc)
		if err != nil {
			continue
		}
		// jsonpath may wrap a single answer in a list
		if list, ok := val.([]any); ok {
			if len(list) == 0 {
				continue
			}
			val = list[0]
		}

		switch v := val.(type) {
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return 0, fmt.Errorf("amount %q is not numeric: %w", v, err)
			}
			return f, nil
		}
	}

	return 0, polymarket.ErrNotFound
}
