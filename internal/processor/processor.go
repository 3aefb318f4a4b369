package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liamashdown/walletpnl/internal/cache"
	"github.com/liamashdown/walletpnl/internal/config"
	"github.com/liamashdown/walletpnl/internal/fetcher"
	"github.com/liamashdown/walletpnl/internal/history"
	"github.com/liamashdown/walletpnl/internal/metrics"
	"github.com/liamashdown/walletpnl/internal/model"
	"github.com/liamashdown/walletpnl/internal/polymarket"
	"github.com/liamashdown/walletpnl/internal/polymarket/dataapi"
	"github.com/liamashdown/walletpnl/internal/polymarket/gammaapi"
	"github.com/liamashdown/walletpnl/internal/stats"
	"github.com/liamashdown/walletpnl/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidSubject is returned for malformed wallet addresses
	ErrInvalidSubject = model.ErrInvalidSubject
	// ErrUpstreamUnavailable means no primary resource could be read at all
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrComputationTimeout means the request deadline passed before the dashboard was ready
	ErrComputationTimeout = errors.New("computation still running, try again")
)

// Cache resource names
const (
	resourceDashboard   = "dashboard"
	resourcePositions   = "positions"
	resourceTrades      = "trades"
	resourceActivity    = "activity"
	resourceClosed      = "closed"
	resourceClosedPaged = "closed_paged"
	resourceValue       = "value"
	resourceProfit      = "profit"
	resourceVolume      = "volume"
	resourceProfile     = "profile"
)

// DataSource is the part of the Data API the processor reads
type DataSource interface {
	GetTrades(ctx context.Context, params dataapi.TradeParams) ([]dataapi.Trade, error)
	GetActivity(ctx context.Context, params dataapi.PageParams) ([]dataapi.Activity, error)
	GetPositions(ctx context.Context, params dataapi.PageParams) ([]dataapi.Position, error)
	GetClosedPositions(ctx context.Context, params dataapi.PageParams) ([]dataapi.ClosedPosition, error)
	GetValue(ctx context.Context, user string) (float64, error)
}

// ProfileSource resolves public profiles
type ProfileSource interface {
	GetPublicProfile(ctx context.Context, address string) (*gammaapi.Profile, error)
}

// LeaderboardSource publishes authoritative profit and volume
type LeaderboardSource interface {
	GetProfit(ctx context.Context, address string) (float64, error)
	GetVolume(ctx context.Context, address string) (float64, error)
}

// Collection is a fetched resource plus whether every page was retrieved
type Collection[T any] struct {
	Items    []T  `json:"items"`
	Complete bool `json:"complete"`
}

// Processor builds wallet dashboards and maintains the leaderboard
type Processor struct {
	cfg      *config.Config
	store    storage.Store
	data     DataSource
	profiles ProfileSource
	board    LeaderboardSource
	fetch    *fetcher.Fetcher
	caches   *cache.Store
	log      *logrus.Logger

	dashboards *cache.Cache[*model.Dashboard]
	positions  *cache.Cache[Collection[model.Position]]
	trades     *cache.Cache[Collection[model.Trade]]
	activity   *cache.Cache[Collection[model.ActivityEvent]]
	closed     *cache.Cache[Collection[model.ClosedPosition]]
	figures    *cache.Cache[float64]
	profileMem *cache.Cache[model.Profile]

	workerPool  chan struct{}
	walletLocks sync.Map // Per-wallet locks so one wallet is never refreshed twice at once
	now         func() time.Time
}

// New creates a new processor
func New(
	cfg *config.Config,
	store storage.Store,
	data DataSource,
	profiles ProfileSource,
	board LeaderboardSource,
	fetch *fetcher.Fetcher,
	caches *cache.Store,
	log *logrus.Logger,
) *Processor {
	workers := cfg.LeaderboardWorkers
	if workers < 1 {
		workers = 1
	}
	workerPool := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		workerPool <- struct{}{}
	}

	return &Processor{
		cfg:        cfg,
		store:      store,
		data:       data,
		profiles:   profiles,
		board:      board,
		fetch:      fetch,
		caches:     caches,
		log:        log,
		dashboards: cache.New[*model.Dashboard](caches),
		positions:  cache.New[Collection[model.Position]](caches),
		trades:     cache.New[Collection[model.Trade]](caches),
		activity:   cache.New[Collection[model.ActivityEvent]](caches),
		closed:     cache.New[Collection[model.ClosedPosition]](caches),
		figures:    cache.New[float64](caches),
		profileMem: cache.New[model.Profile](caches),
		workerPool: workerPool,
		now:        time.Now,
	}
}

// BuildDashboard returns the dashboard for a wallet with at most recentTrades
// annotated trades. The aggregate keeps running after the request deadline so
// a retry can be served from cache.
func (p *Processor) BuildDashboard(ctx context.Context, rawWallet string, recentTrades int) (*model.Dashboard, error) {
	subject, err := model.ParseSubject(rawWallet)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	type outcome struct {
		dash *model.Dashboard
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		aggCtx, aggCancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.AggregateTimeout)
		defer aggCancel()

		key := cache.Key{Resource: resourceDashboard, Subject: subject.String()}
		dash, err := p.dashboards.GetOrFetch(aggCtx, key, p.cfg.DashboardTTL, func(ctx context.Context) (*model.Dashboard, error) {
			return p.computeDashboard(ctx, subject)
		})
		done <- outcome{dash: dash, err: err}
	}()

	select {
	case <-reqCtx.Done():
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			p.log.WithField("wallet", subject.Short()).Warn("Dashboard not ready before request deadline")
			return nil, ErrComputationTimeout
		}
		return nil, reqCtx.Err()
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", ErrComputationTimeout, out.err)
			}
			return nil, out.err
		}
		return withRecentTrades(out.dash, recentTrades, p.cfg.DashboardTradesMax), nil
	}
}

// withRecentTrades returns a shallow copy limited to n trades; the cached value is never modified
func withRecentTrades(dash *model.Dashboard, n, limit int) *model.Dashboard {
	if n <= 0 || n > limit {
		n = limit
	}
	out := *dash
	if len(out.RecentTrades) > n {
		out.RecentTrades = out.RecentTrades[:n]
	}
	return &out
}

// Stats returns only the portfolio stats for a wallet
func (p *Processor) Stats(ctx context.Context, rawWallet string) (*model.PortfolioStats, error) {
	dash, err := p.BuildDashboard(ctx, rawWallet, 0)
	if err != nil {
		return nil, err
	}
	return &dash.Stats, nil
}

// History returns the reconstructed PnL series for a wallet
func (p *Processor) History(ctx context.Context, rawWallet string) ([]model.PnLPoint, error) {
	dash, err := p.BuildDashboard(ctx, rawWallet, 0)
	if err != nil {
		return nil, err
	}
	return dash.History, nil
}

// RecentTrades returns up to limit annotated trades, newest first
func (p *Processor) RecentTrades(ctx context.Context, rawWallet string, limit int) ([]model.Trade, error) {
	dash, err := p.BuildDashboard(ctx, rawWallet, limit)
	if err != nil {
		return nil, err
	}
	return dash.RecentTrades, nil
}

// computeDashboard fans out every upstream read, then reconciles the results
func (p *Processor) computeDashboard(ctx context.Context, subject model.Subject) (*model.Dashboard, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := p.log.WithFields(logrus.Fields{
		"wallet": subject.Short(),
		"run_id": runID,
	})

	var (
		positions              Collection[model.Position]
		trades                 Collection[model.Trade]
		activity               Collection[model.ActivityEvent]
		closedList, closedDeep Collection[model.ClosedPosition]
		profile                model.Profile
		auth                   stats.Authoritative

		positionsErr, tradesErr, activityErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		positions, positionsErr = p.loadPositions(gctx, subject)
		return nil
	})
	g.Go(func() error {
		trades, tradesErr = p.loadTrades(gctx, subject)
		return nil
	})
	g.Go(func() error {
		activity, activityErr = p.loadActivity(gctx, subject)
		return nil
	})
	g.Go(func() error {
		var err error
		if closedList, err = p.loadClosedList(gctx, subject); err != nil {
			log.WithError(err).Debug("Closed position list unavailable")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if closedDeep, err = p.loadClosedPaged(gctx, subject); err != nil {
			log.WithError(err).Debug("Paginated closed positions unavailable")
		}
		return nil
	})
	g.Go(func() error {
		auth.PnL = p.loadFigure(gctx, subject, resourceProfit, p.board.GetProfit)
		return nil
	})
	g.Go(func() error {
		auth.Volume = p.loadFigure(gctx, subject, resourceVolume, p.board.GetVolume)
		return nil
	})
	g.Go(func() error {
		auth.Value = p.loadFigure(gctx, subject, resourceValue, p.data.GetValue)
		return nil
	})
	g.Go(func() error {
		profile = p.loadProfile(gctx, subject)
		return nil
	})
	_ = g.Wait()

	if positionsErr != nil && tradesErr != nil && activityErr != nil {
		err := fmt.Errorf("%w: positions: %v; trades: %v; activity: %v",
			ErrUpstreamUnavailable, positionsErr, tradesErr, activityErr)
		metrics.RecordDashboard(time.Since(start), err, "")
		log.WithError(err).Error("All primary resources failed")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordDashboard(time.Since(start), err, "")
		return nil, err
	}

	res := stats.Aggregate(stats.Inputs{
		Positions:        positions.Items,
		Trades:           trades.Items,
		Activity:         activity.Items,
		Closed:           closedList.Items,
		ClosedPaged:      closedDeep.Items,
		Authoritative:    auth,
		TradesComplete:   tradesErr == nil && trades.Complete,
		ActivityComplete: activityErr == nil && activity.Complete,
		LedgerWindow:     p.cfg.LedgerMaxEvents,
	})

	closedForHistory := closedDeep.Items
	if len(closedForHistory) == 0 {
		closedForHistory = closedList.Items
	}
	now := p.now().UTC()

	dash := &model.Dashboard{
		RunID:        runID,
		Profile:      profile,
		Stats:        res.Stats,
		History:      history.Build(closedForHistory, res.Matches.Trades, res.Stats.TotalPnL, now),
		Positions:    activePositions(positions.Items),
		RecentTrades: res.Matches.Annotated(p.cfg.DashboardTradesMax),
		Degraded:     positionsErr != nil || tradesErr != nil || activityErr != nil || !res.Stats.TradesComplete || !res.Stats.ActivityComplete,
		GeneratedAt:  now,
	}

	metrics.RecordDashboard(time.Since(start), nil, string(res.Stats.PnLSource))
	log.WithFields(logrus.Fields{
		"total_pnl":   res.Stats.TotalPnL,
		"pnl_source":  res.Stats.PnLSource,
		"trades":      len(trades.Items),
		"activity":    len(activity.Items),
		"positions":   len(positions.Items),
		"degraded":    dash.Degraded,
		"placeholder": profile.Placeholder,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Dashboard computed")

	return dash, nil
}

func activePositions(all []model.Position) []model.Position {
	out := make([]model.Position, 0, len(all))
	for _, pos := range all {
		if pos.Status == model.PositionActive {
			out = append(out, pos)
		}
	}
	return out
}

// collect runs a paginated fetch and converts the upstream rows. Losing every page is an error so it is never cached.
func collect[R, T any](ctx context.Context, p *Processor, resource string, pageSize, maxPages int,
	page fetcher.PageFunc[R], convert func(R) T) (Collection[T], error) {
	res := fetcher.Fetch(ctx, p.fetch, resource, page, pageSize, maxPages)
	if res.Failed {
		return Collection[T]{}, fmt.Errorf("%s: %w", resource, ErrUpstreamUnavailable)
	}
	items := make([]T, 0, len(res.Records))
	for _, r := range res.Records {
		items = append(items, convert(r))
	}
	return Collection[T]{Items: items, Complete: res.Complete}, nil
}

func (p *Processor) loadPositions(ctx context.Context, subject model.Subject) (Collection[model.Position], error) {
	key := cache.Key{Resource: resourcePositions, Subject: subject.String()}
	return p.positions.GetOrFetch(ctx, key, p.cfg.ResourceCacheTTL, func(ctx context.Context) (Collection[model.Position], error) {
		page := func(ctx context.Context, limit, offset int) ([]dataapi.Position, error) {
			return p.data.GetPositions(ctx, dataapi.PageParams{User: subject.String(), Limit: limit, Offset: offset})
		}
		return collect(ctx, p, resourcePositions, p.cfg.PositionsPageSize, 0, page, dataapi.Position.Model)
	})
}

func (p *Processor) loadTrades(ctx context.Context, subject model.Subject) (Collection[model.Trade], error) {
	key := cache.Key{Resource: resourceTrades, Subject: subject.String()}
	return p.trades.GetOrFetch(ctx, key, p.cfg.ResourceCacheTTL, func(ctx context.Context) (Collection[model.Trade], error) {
		page := func(ctx context.Context, limit, offset int) ([]dataapi.Trade, error) {
			return p.data.GetTrades(ctx, dataapi.TradeParams{
				PageParams: dataapi.PageParams{User: subject.String(), Limit: limit, Offset: offset},
			})
		}
		return collect(ctx, p, resourceTrades, p.cfg.TradesPageSize, 0, page, dataapi.Trade.Model)
	})
}

func (p *Processor) loadActivity(ctx context.Context, subject model.Subject) (Collection[model.ActivityEvent], error) {
	key := cache.Key{Resource: resourceActivity, Subject: subject.String()}
	return p.activity.GetOrFetch(ctx, key, p.cfg.ResourceCacheTTL, func(ctx context.Context) (Collection[model.ActivityEvent], error) {
		page := func(ctx context.Context, limit, offset int) ([]dataapi.Activity, error) {
			return p.data.GetActivity(ctx, dataapi.PageParams{User: subject.String(), Limit: limit, Offset: offset})
		}
		// One page past the ledger window is enough to tell whether it was truncated
		pageSize := p.cfg.ActivityPageSize
		maxPages := (p.cfg.LedgerMaxEvents+pageSize-1)/pageSize + 1
		return collect(ctx, p, resourceActivity, pageSize, maxPages, page, dataapi.Activity.Model)
	})
}

func (p *Processor) loadClosedList(ctx context.Context, subject model.Subject) (Collection[model.ClosedPosition], error) {
	key := cache.Key{Resource: resourceClosed, Subject: subject.String()}
	return p.closed.GetOrFetch(ctx, key, p.cfg.ResourceCacheTTL, func(ctx context.Context) (Collection[model.ClosedPosition], error) {
		rows, err := p.data.GetClosedPositions(ctx, dataapi.PageParams{User: subject.String(), Limit: p.cfg.ClosedPageSize})
		if err != nil {
			return Collection[model.ClosedPosition]{}, fmt.Errorf("closed positions: %w", err)
		}
		items := make([]model.ClosedPosition, 0, len(rows))
		for _, r := range rows {
			items = append(items, r.Model())
		}
		return Collection[model.ClosedPosition]{Items: items, Complete: len(rows) < p.cfg.ClosedPageSize}, nil
	})
}

func (p *Processor) loadClosedPaged(ctx context.Context, subject model.Subject) (Collection[model.ClosedPosition], error) {
	key := cache.Key{Resource: resourceClosedPaged, Subject: subject.String()}
	return p.closed.GetOrFetch(ctx, key, p.cfg.ResourceCacheTTL, func(ctx context.Context) (Collection[model.ClosedPosition], error) {
		page := func(ctx context.Context, limit, offset int) ([]dataapi.ClosedPosition, error) {
			return p.data.GetClosedPositions(ctx, dataapi.PageParams{User: subject.String(), Limit: limit, Offset: offset})
		}
		return collect(ctx, p, resourceClosedPaged, p.cfg.ClosedPageSize, p.cfg.ClosedMaxPages, page, dataapi.ClosedPosition.Model)
	})
}

// loadFigure reads one optional authoritative number; nil means unavailable
func (p *Processor) loadFigure(ctx context.Context, subject model.Subject, resource string,
	get func(ctx context.Context, address string) (float64, error)) *float64 {
	key := cache.Key{Resource: resource, Subject: subject.String()}
	v, err := p.figures.GetOrFetch(ctx, key, p.cfg.ResourceCacheTTL, func(ctx context.Context) (float64, error) {
		return get(ctx, subject.String())
	})
	if err != nil {
		entry := p.log.WithError(err).WithFields(logrus.Fields{"wallet": subject.Short(), "resource": resource})
		if errors.Is(err, polymarket.ErrNotFound) {
			entry.Debug("Authoritative figure not published")
		} else {
			entry.Warn("Authoritative figure unavailable")
		}
		return nil
	}
	return &v
}

func (p *Processor) loadProfile(ctx context.Context, subject model.Subject) model.Profile {
	key := cache.Key{Resource: resourceProfile, Subject: subject.String()}
	profile, err := p.profileMem.GetOrFetch(ctx, key, p.cfg.ResourceCacheTTL, func(ctx context.Context) (model.Profile, error) {
		prof, err := p.profiles.GetPublicProfile(ctx, subject.String())
		if errors.Is(err, polymarket.ErrNotFound) {
			return placeholderProfile(subject), nil
		}
		if err != nil {
			return model.Profile{}, err
		}
		return model.Profile{
			Subject:      subject,
			Name:         prof.DisplayLabel(),
			Pseudonym:    prof.Pseudonym,
			ProfileImage: prof.ProfileImage,
		}, nil
	})
	if err != nil {
		p.log.WithError(err).WithField("wallet", subject.Short()).Warn("Profile lookup failed, using placeholder")
		return placeholderProfile(subject)
	}
	return profile
}

func placeholderProfile(subject model.Subject) model.Profile {
	return model.Profile{
		Subject:     subject,
		Name:        subject.Short(),
		Placeholder: true,
	}
}
