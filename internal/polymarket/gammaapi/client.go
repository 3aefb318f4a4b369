package gammaapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/liamashdown/walletpnl/internal/config"
	"github.com/liamashdown/walletpnl/internal/polymarket"
	"github.com/liamashdown/walletpnl/internal/ratelimit"
)

const apiName = "gamma"

// Client handles communication with the Polymarket Gamma API
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewClient creates a new Gamma API client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    cfg.GammaAPIBaseURL,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:    ratelimit.New(cfg.GammaAPIProfileRPS, 0),
	}
}

// GetPublicProfile fetches the public profile of a wallet.
// Unknown wallets yield an error matching polymarket.ErrNotFound.
func (c *Client) GetPublicProfile(ctx context.Context, address string) (*Profile, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u, err := url.Parse(c.baseURL + "/public-profile")
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	q := u.Query()
	q.Set("address", address)
	u.RawQuery = q.Encode()

	// Gamma API is public - no auth headers
	body, err := polymarket.Get(ctx, c.httpClient, apiName, "/public-profile", u.String(), nil)
	if err != nil {
		return nil, err
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if profile.ProxyWallet == "" && profile.Name == "" && profile.Pseudonym == "" {
		return nil, fmt.Errorf("profile for %s: %w", address, polymarket.ErrNotFound)
	}

	return &profile, nil
}
