package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/subcommands"
	"github.com/liamashdown/walletpnl/internal/cache"
	"github.com/liamashdown/walletpnl/internal/config"
	"github.com/liamashdown/walletpnl/internal/fetcher"
	"github.com/liamashdown/walletpnl/internal/history"
	"github.com/liamashdown/walletpnl/internal/model"
	"github.com/liamashdown/walletpnl/internal/polymarket/dataapi"
	"github.com/liamashdown/walletpnl/internal/polymarket/gammaapi"
	"github.com/liamashdown/walletpnl/internal/polymarket/lbapi"
	"github.com/liamashdown/walletpnl/internal/processor"
	"github.com/liamashdown/walletpnl/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var commands = []subcommands.Command{
	&statsCmd{},
	&historyCmd{},
	&tradesCmd{},
}

// walletFlags are shared by every command
type walletFlags struct {
	wallet  string
	asJSON  bool
	verbose bool
}

func (w *walletFlags) register(f *flag.FlagSet) {
	f.StringVar(&w.wallet, "wallet", "", "Wallet address (0x followed by 40 hex characters).")
	f.BoolVar(&w.asJSON, "json", false, "Print the raw JSON result.")
	f.BoolVar(&w.verbose, "v", false, "Log upstream requests to stderr.")
}

// newProcessor wires the engine against the live upstream APIs with in-memory storage
func (w *walletFlags) newProcessor() (*processor.Processor, func(), error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	if w.verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	caches, err := cache.NewStore(cfg.CacheMaxEntries, nil, log)
	if err != nil {
		return nil, nil, err
	}

	proc := processor.New(cfg, storage.NewMemoryStore(), dataapi.NewClient(cfg), gammaapi.NewClient(cfg),
		lbapi.NewClient(cfg), fetcher.NewFromConfig(cfg, log), caches, log)
	return proc, caches.Close, nil
}

type statsCmd struct{ walletFlags }

func (*statsCmd) Name() string     { return "stats" }
func (*statsCmd) Synopsis() string { return "print the reconciled portfolio stats of a wallet" }
func (*statsCmd) Usage() string {
	return `pnlctl stats -wallet <address> [-json]

  Fetches positions, trades and activity for the wallet and prints total,
  realized and unrealized PnL along with the source each figure came from.
`
}
func (c *statsCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *statsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	proc, done, err := c.newProcessor()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer done()

	dash, err := proc.BuildDashboard(ctx, c.wallet, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFor(err)
	}
	if c.asJSON {
		return printJSON(dash.Stats)
	}
	printStats(os.Stdout, dash)
	return subcommands.ExitSuccess
}

type historyCmd struct {
	walletFlags
	daily bool
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "print the cumulative PnL series of a wallet" }
func (*historyCmd) Usage() string {
	return `pnlctl history -wallet <address> [-daily] [-json]

  Prints the reconstructed cumulative PnL line. The last point always equals
  the wallet's current total PnL.
`
}
func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
	f.BoolVar(&c.daily, "daily", false, "Collapse the series to one point per UTC day.")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	proc, done, err := c.newProcessor()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer done()

	points, err := proc.History(ctx, c.wallet)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFor(err)
	}
	if c.daily {
		points = history.Daily(points)
	}
	if c.asJSON {
		return printJSON(points)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Time\tPnL\t")
	for _, p := range points {
		fmt.Fprintf(tw, "%s\t%s\t\n", p.Timestamp.Format(time.RFC3339), usd(p.Value))
	}
	tw.Flush()
	return subcommands.ExitSuccess
}

type tradesCmd struct {
	walletFlags
	limit int
}

func (*tradesCmd) Name() string     { return "trades" }
func (*tradesCmd) Synopsis() string { return "print recent trades with matched PnL" }
func (*tradesCmd) Usage() string {
	return `pnlctl trades -wallet <address> [-n <count>] [-json]

  Prints the most recent trades, newest first. SELL trades carry the PnL
  realized against earlier buys of the same outcome.
`
}
func (c *tradesCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
	f.IntVar(&c.limit, "n", 20, "Number of trades to print.")
}

func (c *tradesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	proc, done, err := c.newProcessor()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer done()

	trades, err := proc.RecentTrades(ctx, c.wallet, c.limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFor(err)
	}
	if c.asJSON {
		return printJSON(trades)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Time\tSide\tOutcome\tSize\tPrice\tPnL\tMarket")
	for _, t := range trades {
		pnl := ""
		if t.PnL != nil {
			pnl = usd(*t.PnL)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.3f\t%s\t%s\n",
			t.Timestamp.Format(time.DateTime), t.Side, t.Outcome, t.Size, t.Price, pnl, marketLabel(t))
	}
	tw.Flush()
	return subcommands.ExitSuccess
}

func printStats(w io.Writer, dash *model.Dashboard) {
	s := dash.Stats
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Wallet\t%s\t%s\n", dash.Profile.Subject, dash.Profile.Name)
	fmt.Fprintf(tw, "Total PnL\t%s\t(%s)\n", usd(s.TotalPnL), s.PnLSource)
	fmt.Fprintf(tw, "Realized\t%s\t\n", usd(s.RealizedPnL))
	fmt.Fprintf(tw, "Unrealized\t%s\t\n", usd(s.UnrealizedPnL))
	fmt.Fprintf(tw, "Portfolio value\t%s\t(%s)\n", usd(s.PortfolioValue), s.ValueSource)
	fmt.Fprintf(tw, "Volume\t%s\t(%s)\n", usd(s.Volume), s.VolumeSource)
	fmt.Fprintf(tw, "Win rate\t%.1f%%\t%d W / %d L, best streak %d\n", s.WinRate*100, s.Wins, s.Losses, s.WinStreak)
	fmt.Fprintf(tw, "Best\t%s\t%s\n", usd(s.BestTrade.PnL), s.BestTrade.Title)
	fmt.Fprintf(tw, "Worst\t%s\t%s\n", usd(s.WorstTrade.PnL), s.WorstTrade.Title)
	fmt.Fprintf(tw, "Trades\t%d\t%d active positions\n", s.TotalTrades, s.ActivePositions)
	if dash.Degraded {
		fmt.Fprintf(tw, "Warning\tpartial data\tledger truncated=%t trades complete=%t\n", s.LedgerWindowTruncated, s.TradesComplete)
	}
	tw.Flush()
}

func marketLabel(t model.Trade) string {
	if t.Title != "" {
		return t.Title
	}
	return t.Market
}

// usd formats a dollar amount rounded to cents
func usd(v float64) string {
	cents := decimal.NewFromFloat(v).Shift(2).Round(0).IntPart()
	return money.New(cents, money.USD).Display()
}

func printJSON(v any) subcommands.ExitStatus {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func exitFor(err error) subcommands.ExitStatus {
	if errors.Is(err, processor.ErrInvalidSubject) {
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}
