// Package fetcher retrieves paginated upstream collections with adaptive
// parallelism, backoff on rate limiting and per-page retries.
package fetcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/liamashdown/walletpnl/internal/config"
	"github.com/liamashdown/walletpnl/internal/metrics"
	"github.com/liamashdown/walletpnl/internal/polymarket"
	"github.com/liamashdown/walletpnl/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// Options tunes batch sizing and retry behaviour
type Options struct {
	InitialBatch int
	MinBatch     int
	MaxRetries   int
	MaxOffset    int
	BackoffStart time.Duration
	BackoffMax   time.Duration
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		InitialBatch: 15,
		MinBatch:     2,
		MaxRetries:   3,
		MaxOffset:    10000,
		BackoffStart: 100 * time.Millisecond,
		BackoffMax:   5 * time.Second,
	}
}

// Fetcher is shared by every paginated resource in the process
type Fetcher struct {
	opts   Options
	logger *logrus.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a fetcher with the given options
func New(opts Options, logger *logrus.Logger) *Fetcher {
	def := DefaultOptions()
	if opts.InitialBatch < 1 {
		opts.InitialBatch = def.InitialBatch
	}
	if opts.MinBatch < 1 {
		opts.MinBatch = 1
	}
	if opts.MinBatch > opts.InitialBatch {
		opts.MinBatch = opts.InitialBatch
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxOffset <= 0 {
		opts.MaxOffset = def.MaxOffset
	}
	if opts.BackoffStart <= 0 {
		opts.BackoffStart = def.BackoffStart
	}
	if opts.BackoffMax < opts.BackoffStart {
		opts.BackoffMax = opts.BackoffStart
	}
	return &Fetcher{opts: opts, logger: logger, sleep: ratelimit.Sleep}
}

// NewFromConfig builds a fetcher from service configuration
func NewFromConfig(cfg *config.Config, logger *logrus.Logger) *Fetcher {
	return New(Options{
		InitialBatch: cfg.FetchInitialBatch,
		MinBatch:     cfg.FetchMinBatch,
		MaxRetries:   cfg.FetchMaxRetries,
		MaxOffset:    cfg.FetchMaxOffset,
		BackoffStart: cfg.FetchBackoffStart,
		BackoffMax:   cfg.FetchBackoffMax,
	}, logger)
}

// PageFunc fetches one page at the given offset
type PageFunc[T any] func(ctx context.Context, limit, offset int) ([]T, error)

// Result is the best-effort outcome of a paginated fetch
type Result[T any] struct {
	Records []T
	// Complete is set when a terminal short page was seen and no page went missing
	Complete bool
	Pages    int
	Missing  []int
	// RateLimited counts batches that hit a 429
	RateLimited int
	// Failed is set when no page could be retrieved at all
	Failed bool
}

type pageResult[T any] struct {
	index int
	data  []T
	err   error
}

// MaxPages returns how many pages of pageSize fit below the offset ceiling
func (f *Fetcher) MaxPages(pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return f.opts.MaxOffset/pageSize + 1
}

// Fetch retrieves up to maxPages pages. It never returns an error; failures
// show up as missing pages and Complete=false.
func Fetch[T any](ctx context.Context, f *Fetcher, resource string, page PageFunc[T], pageSize, maxPages int) Result[T] {
	limit := f.MaxPages(pageSize)
	if maxPages <= 0 || maxPages > limit {
		maxPages = limit
	}

	log := f.logger.WithFields(logrus.Fields{
		"resource":  resource,
		"page_size": pageSize,
		"max_pages": maxPages,
	})

	pages := make(map[int][]T)
	failed := make(map[int]error)
	terminal := -1
	batch := f.opts.InitialBatch
	cleanBatches := 0
	backoff := ratelimit.NewBackoff(f.opts.BackoffStart, f.opts.BackoffMax)
	rateLimitedBatches := 0

	next := 0
	for next < maxPages && terminal < 0 && ctx.Err() == nil {
		n := batch
		if next+n > maxPages {
			n = maxPages - next
		}

		results := runBatch(ctx, page, pageSize, next, n)

		rateLimited := false
		for _, r := range results {
			if r.err != nil {
				if polymarket.IsRateLimited(r.err) {
					rateLimited = true
				}
				failed[r.index] = r.err
				continue
			}
			pages[r.index] = r.data
			if len(r.data) < pageSize && (terminal < 0 || r.index < terminal) {
				terminal = r.index
			}
		}
		next += n

		if rateLimited {
			rateLimitedBatches++
			cleanBatches = 0
			batch /= 2
			if batch < f.opts.MinBatch {
				batch = f.opts.MinBatch
			}
			delay := backoff.Next()
			log.WithFields(logrus.Fields{
				"next_batch": batch,
				"backoff":    delay.String(),
			}).Warn("Rate limited, shrinking batch")
			if err := f.sleep(ctx, delay); err != nil {
				break
			}
			continue
		}

		cleanBatches++
		if cleanBatches >= 2 {
			cleanBatches = 0
			batch += 2
			if batch > f.opts.InitialBatch {
				batch = f.opts.InitialBatch
			}
			backoff.Reset()
		}
	}

	// Retry failed pages one at a time, skipping anything past the end of data
	retried := 0
	failedIdx := make([]int, 0, len(failed))
	for idx := range failed {
		failedIdx = append(failedIdx, idx)
	}
	sort.Ints(failedIdx)

	var missing []int
	for _, idx := range failedIdx {
		if terminal >= 0 && idx > terminal {
			continue
		}
		data, err := retryPage(ctx, f, page, pageSize, idx, backoff, failed[idx])
		retried++
		if err != nil {
			log.WithError(err).WithField("page", idx).Warn("Page permanently missing")
			missing = append(missing, idx)
			continue
		}
		pages[idx] = data
		if len(data) < pageSize && (terminal < 0 || idx < terminal) {
			terminal = idx
		}
	}
	// A retried page may have moved the end of data earlier
	if terminal >= 0 {
		kept := missing[:0]
		for _, idx := range missing {
			if idx <= terminal {
				kept = append(kept, idx)
			}
		}
		missing = kept
	}

	last := maxPages - 1
	if terminal >= 0 {
		last = terminal
	}

	res := Result[T]{RateLimited: rateLimitedBatches, Missing: missing}
	for idx := 0; idx <= last; idx++ {
		data, ok := pages[idx]
		if !ok {
			continue
		}
		res.Pages++
		res.Records = append(res.Records, data...)
	}
	res.Complete = terminal >= 0 && len(missing) == 0 && ctx.Err() == nil
	res.Failed = res.Pages == 0 && len(failed) > 0

	metrics.RecordFetch(resource, len(res.Records), retried, len(missing), rateLimitedBatches, res.Complete)

	entry := log.WithFields(logrus.Fields{
		"records":  len(res.Records),
		"pages":    res.Pages,
		"complete": res.Complete,
	})
	if len(missing) > 0 {
		entry.WithField("missing_pages", missing).Warn("Fetch finished with missing pages")
	} else {
		entry.Debug("Fetch finished")
	}

	return res
}

func runBatch[T any](ctx context.Context, page PageFunc[T], pageSize, start, n int) []pageResult[T] {
	results := make([]pageResult[T], n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx := start + i
			data, err := page(ctx, pageSize, idx*pageSize)
			results[i] = pageResult[T]{index: idx, data: data, err: err}
		}(i)
	}
	wg.Wait()
	return results
}

func retryPage[T any](ctx context.Context, f *Fetcher, page PageFunc[T], pageSize, idx int, backoff *ratelimit.Backoff, lastErr error) ([]T, error) {
	for attempt := 0; attempt < f.opts.MaxRetries; attempt++ {
		if err := f.sleep(ctx, backoff.Next()); err != nil {
			return nil, err
		}
		data, err := page(ctx, pageSize, idx*pageSize)
		if err == nil {
			backoff.Reset()
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
