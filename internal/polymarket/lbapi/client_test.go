package lbapi

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

func TestExtractAmount(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    float64
		wantErr error
	}{
		{"array of objects", `[{"proxyWallet":"0xabc","amount":1520.75}]`, 1520.75, nil},
		{"bare object", `{"amount":-42.5}`, -42.5, nil},
		{"quoted amount", `[{"amount":"99.5"}]`, 99.5, nil},
		{"value key", `{"value":7}`, 7, nil},
		{"empty array", `[]`, 0, polymarket.ErrNotFound},
		{"no amount", `{"name":"x"}`, 0, polymarket.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractAmount([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractAmountMalformed(t *testing.T) {
	if _, err := ExtractAmount([]byte(`not json`)); err == nil {
		t.Error("expected decode error")
	}
	if _, err := ExtractAmount([]byte(`{"amount":"abc"}`)); err == nil {
		t.Error("expected numeric error")
	}
}

func TestGetProfitAndVolume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("window") != "all" || r.URL.Query().Get("address") != "0xabc" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		switch r.URL.Path {
		case "/profit":
			w.Write([]byte(`[{"amount":250.5}]`))
		case "/volume":
			w.Write([]byte(`{"amount":"10000"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(&config.Config{LeaderboardAPIBaseURL: srv.URL, HTTPTimeout: 5 * time.Second, LeaderboardAPIRPS: 1000})

	profit, err := c.GetProfit(context.Background(), "0xabc")
	if err != nil || profit != 250.5 {
		t.Errorf("GetProfit = %v, %v", profit, err)
	}
	volume, err := c.GetVolume(context.Background(), "0xabc")
	if err != nil || volume != 10000 {
		t.Errorf("GetVolume = %v, %v", volume, err)
	}
}
