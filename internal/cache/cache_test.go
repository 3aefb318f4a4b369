package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memRemote struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemRemote() *memRemote { return &memRemote{data: make(map[string][]byte)} }

func (m *memRemote) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memRemote) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memRemote) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func newTestStore(t *testing.T, remote Remote) (*Store, *fakeClock) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := NewStore(100, remote, logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)

	clock := &fakeClock{t: time.Date(2024, 11, 5, 0, 0, 0, 0, time.UTC)}
	s.now = clock.now
	return s, clock
}

var key = Key{Resource: "dashboard", Subject: "0xabc"}

func TestKeyString(t *testing.T) {
	if key.String() != "dashboard:0xabc" {
		t.Errorf("key = %s", key.String())
	}
}

func TestConcurrentCallersShareOneProducer(t *testing.T) {
	s, _ := newTestStore(t, nil)
	c := New[string](s)

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	producer := func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return "slow result", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], _ = c.GetOrFetch(context.Background(), key, time.Minute, producer)
	}()
	<-started
	go func() {
		defer wg.Done()
		results[1], _ = c.GetOrFetch(context.Background(), key, time.Minute, producer)
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("producer called %d times, want 1", got)
	}
	if results[0] != "slow result" || results[1] != "slow result" {
		t.Errorf("results = %v", results)
	}
}

func TestFreshnessJudgedAtReadTime(t *testing.T) {
	s, clock := newTestStore(t, nil)
	c := New[int](s)

	calls := 0
	producer := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	v, _ := c.GetOrFetch(context.Background(), key, time.Minute, producer)
	clock.advance(30 * time.Second)
	v2, _ := c.GetOrFetch(context.Background(), key, time.Minute, producer)
	if calls != 1 || v != 1 || v2 != 1 {
		t.Fatalf("fresh read should be served from cache: calls=%d v=%d v2=%d", calls, v, v2)
	}

	// Same entry, shorter ttl at read time
	if _, ok := c.Peek(key, 10*time.Second); ok {
		t.Error("entry older than ttl must not be served")
	}

	clock.advance(31 * time.Second)
	v3, _ := c.GetOrFetch(context.Background(), key, time.Minute, producer)
	if calls != 2 || v3 != 2 {
		t.Errorf("stale entry should be refreshed: calls=%d v3=%d", calls, v3)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	s, _ := newTestStore(t, nil)
	c := New[string](s)

	boom := errors.New("upstream down")
	calls := 0
	producer := func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "ok", nil
	}

	if _, err := c.GetOrFetch(context.Background(), key, time.Minute, producer); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	v, err := c.GetOrFetch(context.Background(), key, time.Minute, producer)
	if err != nil || v != "ok" || calls != 2 {
		t.Errorf("v=%q err=%v calls=%d", v, err, calls)
	}
}

func TestRemoteSharedBetweenStores(t *testing.T) {
	remote := newMemRemote()
	type payload struct {
		Total float64 `json:"total"`
	}

	a, _ := newTestStore(t, remote)
	b, clockB := newTestStore(t, remote)

	if _, err := New[payload](a).GetOrFetch(context.Background(), key, time.Minute, func(context.Context) (payload, error) {
		return payload{Total: 12.5}, nil
	}); err != nil {
		t.Fatalf("fill: %v", err)
	}

	got, err := New[payload](b).GetOrFetch(context.Background(), key, time.Minute, func(context.Context) (payload, error) {
		t.Error("producer should not run on a remote hit")
		return payload{}, nil
	})
	if err != nil || got.Total != 12.5 {
		t.Errorf("remote hit = %+v, %v", got, err)
	}

	// Once the shared entry is older than ttl the producer runs again
	clockB.advance(2 * time.Minute)
	ran := false
	New[payload](b).GetOrFetch(context.Background(), key, time.Minute, func(context.Context) (payload, error) {
		ran = true
		return payload{Total: 1}, nil
	})
	if !ran {
		t.Error("stale remote entry should not be served")
	}
}

func TestInvalidate(t *testing.T) {
	remote := newMemRemote()
	s, _ := newTestStore(t, remote)
	c := New[int](s)

	c.GetOrFetch(context.Background(), key, time.Minute, func(context.Context) (int, error) { return 1, nil })
	s.Invalidate(context.Background(), key)

	if _, ok := c.Peek(key, time.Minute); ok {
		t.Error("local entry should be gone")
	}
	if _, ok, _ := remote.Get(context.Background(), key.String()); ok {
		t.Error("remote entry should be gone")
	}
}

func TestNewStoreRejectsZeroSize(t *testing.T) {
	if _, err := NewStore(0, nil, logrus.New()); err == nil {
		t.Error("expected error for zero size")
	}
}

func TestStoreHoldsConfiguredEntryCount(t *testing.T) {
	s, _ := newTestStore(t, nil)
	c := New[int](s)
	ctx := context.Background()

	const n = 80
	for i := 0; i < n; i++ {
		k := Key{Resource: "positions", Subject: fmt.Sprintf("0x%040d", i)}
		if _, err := c.GetOrFetch(ctx, k, time.Minute, func(context.Context) (int, error) { return i, nil }); err != nil {
			t.Fatalf("GetOrFetch %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		k := Key{Resource: "positions", Subject: fmt.Sprintf("0x%040d", i)}
		v, ok := c.Peek(k, time.Minute)
		if !ok || v != i {
			t.Errorf("entry %d evicted below capacity (ok=%v v=%d)", i, ok, v)
		}
	}
}
