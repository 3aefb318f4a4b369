package fetcher

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/liamashdown/walletpnl/internal/polymarket"
	"github.com/sirupsen/logrus"
)

// fakeUpstream serves numbered records and can inject per-page failures
type fakeUpstream struct {
	mu        sync.Mutex
	pageSize  int
	pages     map[int]int   // page index -> record count; missing = empty page
	failures  map[int][]error // page index -> errors returned on successive calls
	calls     map[int]int
	callCount int
}

func newFakeUpstream(pageSize int) *fakeUpstream {
	return &fakeUpstream{
		pageSize: pageSize,
		pages:    make(map[int]int),
		failures: make(map[int][]error),
		calls:    make(map[int]int),
	}
}

func (u *fakeUpstream) fullPages(from, to int) {
	for i := from; i <= to; i++ {
		u.pages[i] = u.pageSize
	}
}

func (u *fakeUpstream) page(_ context.Context, limit, offset int) ([]int, error) {
	idx := offset / limit

	u.mu.Lock()
	n := u.calls[idx]
	u.calls[idx]++
	u.callCount++
	var err error
	if errs := u.failures[idx]; n < len(errs) {
		err = errs[n]
	}
	count := u.pages[idx]
	u.mu.Unlock()

	if err != nil {
		return nil, err
	}
	out := make([]int, count)
	for i := range out {
		out[i] = offset + i
	}
	return out, nil
}

func (u *fakeUpstream) probed(idx int) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[idx] > 0
}

func (u *fakeUpstream) total() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.callCount
}

type sleepRecorder struct {
	delays      []time.Duration
	callsAtTime []int
	upstream    *fakeUpstream
}

func newTestFetcher(opts Options, up *fakeUpstream) (*Fetcher, *sleepRecorder) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := New(opts, logger)
	rec := &sleepRecorder{upstream: up}
	f.sleep = func(ctx context.Context, d time.Duration) error {
		rec.delays = append(rec.delays, d)
		rec.callsAtTime = append(rec.callsAtTime, up.total())
		return ctx.Err()
	}
	return f, rec
}

func rateLimited() error {
	return fmt.Errorf("get page: %w", polymarket.ErrRateLimited)
}

func TestFetchStopsAtShortPage(t *testing.T) {
	const pageSize = 100
	up := newFakeUpstream(pageSize)
	up.fullPages(0, 4)
	up.fullPages(6, 9) // must never be read

	opts := DefaultOptions()
	opts.InitialBatch = 3
	f, _ := newTestFetcher(opts, up)

	res := Fetch(context.Background(), f, "trades", up.page, pageSize, 0)

	if len(res.Records) != 5*pageSize {
		t.Fatalf("records = %d, want %d", len(res.Records), 5*pageSize)
	}
	if up.probed(6) {
		t.Error("page 6 should not have been requested")
	}
	if !res.Complete {
		t.Error("expected complete result")
	}
	for i, v := range res.Records {
		if v != i {
			t.Fatalf("records out of order at %d: %d", i, v)
		}
	}
}

func TestFetchStopsAtShortPageDefaultBatch(t *testing.T) {
	const pageSize = 100
	up := newFakeUpstream(pageSize)
	up.fullPages(0, 4)
	up.fullPages(6, 20)

	f, _ := newTestFetcher(DefaultOptions(), up)

	res := Fetch(context.Background(), f, "trades", up.page, pageSize, 0)

	// The first batch of 15 is already in flight when page 5 comes back
	// short; those pages are read but their records are dropped.
	if len(res.Records) != 5*pageSize || !res.Complete {
		t.Fatalf("records = %d complete = %v", len(res.Records), res.Complete)
	}
	if !up.probed(14) {
		t.Error("the whole first batch should have been requested")
	}
	if up.probed(15) {
		t.Error("no batch should start after the short page")
	}
}

func TestFetchDiscardsPagesPastTerminal(t *testing.T) {
	const pageSize = 10
	up := newFakeUpstream(pageSize)
	up.fullPages(0, 1)
	up.pages[2] = 4
	up.fullPages(3, 14) // in flight in the same batch, but past the end of data

	f, _ := newTestFetcher(DefaultOptions(), up)
	res := Fetch(context.Background(), f, "activity", up.page, pageSize, 0)

	if len(res.Records) != 24 {
		t.Errorf("records = %d, want 24", len(res.Records))
	}
	if res.Pages != 3 || !res.Complete {
		t.Errorf("pages = %d complete = %v", res.Pages, res.Complete)
	}
}

func TestFetchAdaptsBatchOnRateLimit(t *testing.T) {
	const pageSize = 10
	up := newFakeUpstream(pageSize)
	up.fullPages(0, 19)
	up.failures[1] = []error{rateLimited()}
	up.failures[9] = []error{rateLimited()}

	opts := DefaultOptions()
	opts.InitialBatch = 8
	opts.MinBatch = 2
	f, rec := newTestFetcher(opts, up)

	res := Fetch(context.Background(), f, "trades", up.page, pageSize, 0)

	if len(res.Records) != 20*pageSize || !res.Complete {
		t.Fatalf("records = %d complete = %v", len(res.Records), res.Complete)
	}
	if res.RateLimited != 2 {
		t.Errorf("rate limited batches = %d, want 2", res.RateLimited)
	}

	wantDelays := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond}
	if len(rec.delays) != len(wantDelays) {
		t.Fatalf("delays = %v, want %v", rec.delays, wantDelays)
	}
	for i, d := range wantDelays {
		if rec.delays[i] != d {
			t.Errorf("delay[%d] = %v, want %v", i, rec.delays[i], d)
		}
	}

	// Batch of 8, then halved to 4 before the second back-off
	if rec.callsAtTime[0] != 8 || rec.callsAtTime[1] != 12 {
		t.Errorf("calls at back-off = %v, want [8 12 ...]", rec.callsAtTime)
	}
}

func TestFetchMissingPageDoesNotFail(t *testing.T) {
	const pageSize = 10
	up := newFakeUpstream(pageSize)
	up.fullPages(0, 3)
	up.pages[4] = 5
	boom := fmt.Errorf("get page: %w", polymarket.ErrUnavailable)
	up.failures[2] = []error{boom, boom, boom, boom}

	f, rec := newTestFetcher(DefaultOptions(), up)
	res := Fetch(context.Background(), f, "positions", up.page, pageSize, 0)

	if len(res.Records) != 3*pageSize+5 {
		t.Errorf("records = %d, want %d", len(res.Records), 3*pageSize+5)
	}
	if res.Complete {
		t.Error("result with missing pages must not be complete")
	}
	if len(res.Missing) != 1 || res.Missing[0] != 2 {
		t.Errorf("missing = %v, want [2]", res.Missing)
	}
	if got := up.calls[2]; got != 4 {
		t.Errorf("page 2 calls = %d, want 1 + 3 retries", got)
	}
	if len(rec.delays) != 3 {
		t.Errorf("retry sleeps = %d, want 3", len(rec.delays))
	}
}

func TestFetchRetryRecoversPage(t *testing.T) {
	const pageSize = 10
	up := newFakeUpstream(pageSize)
	up.fullPages(0, 2)
	up.failures[1] = []error{fmt.Errorf("get page: %w", polymarket.ErrUnavailable)}

	f, _ := newTestFetcher(DefaultOptions(), up)
	res := Fetch(context.Background(), f, "trades", up.page, pageSize, 0)

	if len(res.Records) != 3*pageSize || !res.Complete || len(res.Missing) != 0 {
		t.Errorf("records = %d complete = %v missing = %v", len(res.Records), res.Complete, res.Missing)
	}
}

func TestFetchClampsToMaxOffset(t *testing.T) {
	const pageSize = 50
	up := newFakeUpstream(pageSize)
	up.fullPages(0, 100)

	opts := DefaultOptions()
	opts.MaxOffset = 100
	f, _ := newTestFetcher(opts, up)

	res := Fetch(context.Background(), f, "trades", up.page, pageSize, 1000)

	if res.Pages != 3 {
		t.Errorf("pages = %d, want 3 (offsets 0, 50, 100)", res.Pages)
	}
	if up.probed(3) {
		t.Error("offset 150 is past the ceiling and must not be requested")
	}
	if res.Complete {
		t.Error("hitting the offset ceiling is not a complete fetch")
	}
}

func TestFetchAllPagesFailed(t *testing.T) {
	const pageSize = 10
	up := newFakeUpstream(pageSize)
	boom := fmt.Errorf("get page: %w", polymarket.ErrUnavailable)
	for i := 0; i < 3; i++ {
		up.failures[i] = []error{boom, boom, boom, boom}
	}

	opts := DefaultOptions()
	opts.MaxOffset = 20
	f, _ := newTestFetcher(opts, up)
	res := Fetch(context.Background(), f, "activity", up.page, pageSize, 0)

	if !res.Failed || len(res.Records) != 0 {
		t.Errorf("failed = %v records = %d", res.Failed, len(res.Records))
	}
}

func TestFetchCancelledContext(t *testing.T) {
	up := newFakeUpstream(10)
	up.fullPages(0, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, _ := newTestFetcher(DefaultOptions(), up)
	res := Fetch(ctx, f, "trades", up.page, 10, 0)

	if up.total() != 0 || len(res.Records) != 0 || res.Complete {
		t.Errorf("calls = %d records = %d complete = %v", up.total(), len(res.Records), res.Complete)
	}
}

func TestNewClampsOptions(t *testing.T) {
	f := New(Options{InitialBatch: 4, MinBatch: 10}, logrus.New())
	if f.opts.MinBatch != 4 {
		t.Errorf("min batch = %d, want clamped to 4", f.opts.MinBatch)
	}
	if f.MaxPages(500) != 21 {
		t.Errorf("max pages = %d, want 21", f.MaxPages(500))
	}
}
