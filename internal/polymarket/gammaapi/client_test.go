package gammaapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liamashdown/walletpnl/internal/config"
	"github.com/liamashdown/walletpnl/internal/polymarket"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.Config{GammaAPIBaseURL: srv.URL, HTTPTimeout: 5 * time.Second, GammaAPIProfileRPS: 1000})
}

func TestGetPublicProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/public-profile" || r.URL.Query().Get("address") != "0xabc" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Write([]byte(`{"proxyWallet":"0xabc","name":"whale","pseudonym":"Quiet-Otter","displayUsernamePublic":true}`))
	})

	p, err := c.GetPublicProfile(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetPublicProfile: %v", err)
	}
	if p.DisplayLabel() != "whale" {
		t.Errorf("label = %q", p.DisplayLabel())
	}
}

func TestGetPublicProfileNotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"404", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"empty object", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{}`)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.GetPublicProfile(context.Background(), "0xabc")
			if !errors.Is(err, polymarket.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestDisplayLabelFallsBackToPseudonym(t *testing.T) {
	p := Profile{Name: "hidden", Pseudonym: "Quiet-Otter"}
	if p.DisplayLabel() != "Quiet-Otter" {
		t.Errorf("label = %q", p.DisplayLabel())
	}
}
