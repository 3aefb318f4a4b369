package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/liamashdown/walletpnl/internal/model"
)

func TestUSD(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0.00"},
		{12.345, "$12.35"},
		{1234.5, "$1,234.50"},
		{-12.34, "-$12.34"},
	}
	for _, tt := range tests {
		if got := usd(tt.in); got != tt.want {
			t.Errorf("usd(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrintStats(t *testing.T) {
	dash := &model.Dashboard{
		Profile: model.Profile{Subject: "0x56687bf447db6ffa42ffe2204a05edaa20f55839", Name: "whale"},
		Stats: model.PortfolioStats{
			TotalPnL:  20,
			PnLSource: model.SourceLedger,
			Wins:      3,
			Losses:    1,
			WinRate:   0.75,
		},
		Degraded: true,
	}

	var buf bytes.Buffer
	printStats(&buf, dash)
	out := buf.String()

	for _, want := range []string{"$20.00", "(ledger)", "75.0%", "3 W / 1 L", "partial data"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
