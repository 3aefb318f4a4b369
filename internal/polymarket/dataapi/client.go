package dataapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/liamashdown/walletpnl/internal/config"
	"github.com/liamashdown/walletpnl/internal/polymarket"
	"github.com/liamashdown/walletpnl/internal/ratelimit"
)

const apiName = "data"

// Client handles communication with the Polymarket Data API
type Client struct {
	baseURL          string
	httpClient       *http.Client
	authMode         config.AuthMode
	bearerToken      string
	apiKey           string
	extraHeaders     map[string]string
	tradesLimiter    *ratelimit.Limiter
	activityLimiter  *ratelimit.Limiter
	positionsLimiter *ratelimit.Limiter
}

// NewClient creates a new Data API client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:          cfg.DataAPIBaseURL,
		httpClient:       &http.Client{Timeout: cfg.HTTPTimeout},
		authMode:         cfg.DataAPIAuthMode,
		bearerToken:      cfg.DataAPIBearerToken,
		apiKey:           cfg.DataAPIAPIKey,
		extraHeaders:     cfg.DataAPIExtraHeaders,
		tradesLimiter:    ratelimit.New(cfg.DataAPITradesRPS, cfg.RateLimitBurst),
		activityLimiter:  ratelimit.New(cfg.DataAPIActivityRPS, cfg.RateLimitBurst),
		positionsLimiter: ratelimit.New(cfg.DataAPIPositionsRPS, cfg.RateLimitBurst),
	}
}

// GetTrades fetches one page of trades
func (c *Client) GetTrades(ctx context.Context, params TradeParams) ([]Trade, error) {
	q := pageQuery(params.PageParams)
	q.Set("takerOnly", strconv.FormatBool(params.TakerOnly))
	if params.Market != "" {
		q.Set("market", params.Market)
	}
	if params.Side != "" {
		q.Set("side", params.Side)
	}

	var trades []Trade
	if err := c.getJSON(ctx, c.tradesLimiter, "/trades", q, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// GetActivity fetches one page of the wallet activity feed, newest first
func (c *Client) GetActivity(ctx context.Context, params PageParams) ([]Activity, error) {
	q := pageQuery(params)
	q.Set("sortBy", "TIMESTAMP")
	q.Set("sortDirection", "DESC")

	var activity []Activity
	if err := c.getJSON(ctx, c.activityLimiter, "/activity", q, &activity); err != nil {
		return nil, err
	}
	return activity, nil
}

// GetPositions fetches one page of open positions
func (c *Client) GetPositions(ctx context.Context, params PageParams) ([]Position, error) {
	q := pageQuery(params)
	q.Set("sizeThreshold", "0")

	var positions []Position
	if err := c.getJSON(ctx, c.positionsLimiter, "/positions", q, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetClosedPositions fetches one page of closed positions
func (c *Client) GetClosedPositions(ctx context.Context, params PageParams) ([]ClosedPosition, error) {
	q := pageQuery(params)
	q.Set("sortBy", "REALIZEDPNL")
	q.Set("sortDirection", "DESC")

	var closed []ClosedPosition
	if err := c.getJSON(ctx, c.positionsLimiter, "/closed-positions", q, &closed); err != nil {
		return nil, err
	}
	return closed, nil
}

// GetValue fetches the current portfolio value of a wallet
func (c *Client) GetValue(ctx context.Context, user string) (float64, error) {
	q := url.Values{}
	q.Set("user", user)

	var values []Value
	if err := c.getJSON(ctx, c.positionsLimiter, "/value", q, &values); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("value for %s: %w", user, polymarket.ErrNotFound)
	}
	return values[0].Value.Float(), nil
}

func (c *Client) getJSON(ctx context.Context, limiter *ratelimit.Limiter, endpoint string, q url.Values, out any) error {
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}
	u.RawQuery = q.Encode()

	body, err := polymarket.Get(ctx, c.httpClient, apiName, endpoint, u.String(), c.authHeaders())
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) authHeaders() map[string]string {
	headers := make(map[string]string, len(c.extraHeaders)+1)
	for k, v := range c.extraHeaders {
		headers[k] = v
	}

	switch c.authMode {
	case config.AuthModeBearer:
		headers["Authorization"] = "Bearer " + c.bearerToken
	case config.AuthModeAPIKey:
		headers["X-API-KEY"] = c.apiKey
	case config.AuthModeNone:
		// No auth headers
	}
	return headers
}

func pageQuery(params PageParams) url.Values {
	q := url.Values{}
	q.Set("user", params.User)
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	return q
}
