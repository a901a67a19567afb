package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pabbly/hookdash/internal/analytics"
	"github.com/pabbly/hookdash/pkg/metrics"
	pkgredis "github.com/pabbly/hookdash/pkg/redis"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, pkgredis.ErrMiss
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *memStore) DeletePattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func filters(start string) analytics.Filters {
	return analytics.Filters{}.Set("startDate", start)
}

func TestGetOrComputeCachesSuccess(t *testing.T) {
	store := newMemStore()
	m := metrics.New(prometheus.NewRegistry())
	c := New(store, 30*time.Second, m)

	var calls atomic.Int32
	compute := func(context.Context) (*analytics.Result, error) {
		calls.Add(1)
		return &analytics.Result{Summary: analytics.Summary{TotalCustomers: 7}}, nil
	}

	res, cached, err := c.GetOrCompute(context.Background(), filters("2024-01-01"), "tok", compute)
	if err != nil || cached || res.Summary.TotalCustomers != 7 {
		t.Fatalf("first: res=%+v cached=%v err=%v", res, cached, err)
	}
	res, cached, err = c.GetOrCompute(context.Background(), filters("2024-01-01"), "tok", compute)
	if err != nil || !cached || res.Summary.TotalCustomers != 7 {
		t.Fatalf("second: res=%+v cached=%v err=%v", res, cached, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("compute ran %d times", calls.Load())
	}
	if store.ttls[Key(filters("2024-01-01"), "tok")] != 30*time.Second {
		t.Errorf("ttl not applied")
	}
	if testutil.ToFloat64(m.CacheHitsTotal) != 1 {
		t.Errorf("hits = %v", testutil.ToFloat64(m.CacheHitsTotal))
	}
}

func TestFailuresAreNotCached(t *testing.T) {
	c := New(newMemStore(), time.Minute, nil)
	boom := errors.New("churn endpoint failed")

	_, _, err := c.GetOrCompute(context.Background(), nil, "tok", func(context.Context) (*analytics.Result, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	var calls int
	_, cached, err := c.GetOrCompute(context.Background(), nil, "tok", func(context.Context) (*analytics.Result, error) {
		calls++
		return &analytics.Result{}, nil
	})
	if err != nil || cached || calls != 1 {
		t.Fatalf("retry after failure: cached=%v calls=%d err=%v", cached, calls, err)
	}
}

func TestConcurrentLoadsShareOneCompute(t *testing.T) {
	c := New(nil, 0, nil)
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(context.Context) (*analytics.Result, error) {
		calls.Add(1)
		<-release
		return &analytics.Result{}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := c.GetOrCompute(context.Background(), filters("2024-02-01"), "tok", compute); err != nil {
				t.Error(err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if calls.Load() != 1 {
		t.Fatalf("compute ran %d times", calls.Load())
	}
}

func TestDisabledCacheDoesNotStore(t *testing.T) {
	c := New(nil, 0, nil)
	if c.Enabled() {
		t.Fatal("nil store should be disabled")
	}
	var calls int
	compute := func(context.Context) (*analytics.Result, error) {
		calls++
		return &analytics.Result{}, nil
	}
	c.GetOrCompute(context.Background(), nil, "tok", compute)
	c.GetOrCompute(context.Background(), nil, "tok", compute)
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
	if n, err := c.Invalidate(context.Background()); n != 0 || err != nil {
		t.Fatalf("invalidate n=%d err=%v", n, err)
	}
}

func TestInvalidateAndKey(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil)
	c.Set(context.Background(), filters("a"), "tok", &analytics.Result{})
	c.Set(context.Background(), filters("b"), "tok", &analytics.Result{})
	store.data["other:key"] = []byte("x")

	n, err := c.Invalidate(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if _, ok := store.data["other:key"]; !ok {
		t.Fatal("unrelated key removed")
	}

	withEmpty := analytics.Filters{}.Set("startDate", "a").Set("planId", "")
	if Key(withEmpty, "tok") != Key(filters("a"), "tok") {
		t.Error("filters producing the same query should share a key")
	}
	if Key(filters("a"), "tok") == Key(filters("b"), "tok") {
		t.Error("different filters share a key")
	}
	if Key(filters("a"), "tok") == Key(filters("a"), "other") || Key(filters("a"), "tok") == Key(filters("a"), "") {
		t.Error("different tokens share a key")
	}
}

func TestEntriesAreScopedToToken(t *testing.T) {
	c := New(newMemStore(), time.Minute, nil)
	var calls atomic.Int32
	compute := func(context.Context) (*analytics.Result, error) {
		calls.Add(1)
		return &analytics.Result{}, nil
	}

	if _, cached, _ := c.GetOrCompute(context.Background(), filters("2024-03-01"), "good", compute); cached {
		t.Fatal("first load reported cached")
	}
	for _, token := range []string{"revoked", ""} {
		if _, cached, _ := c.GetOrCompute(context.Background(), filters("2024-03-01"), token, compute); cached {
			t.Errorf("token %q was served another caller's result", token)
		}
	}
	if _, cached, _ := c.GetOrCompute(context.Background(), filters("2024-03-01"), "good", compute); !cached {
		t.Error("same token should hit")
	}
	if calls.Load() != 3 {
		t.Errorf("compute ran %d times, want 3", calls.Load())
	}
}

func TestConcurrentLoadsWithDifferentTokensDoNotShare(t *testing.T) {
	c := New(nil, 0, nil)
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(context.Context) (*analytics.Result, error) {
		calls.Add(1)
		<-release
		return &analytics.Result{}, nil
	}

	var wg sync.WaitGroup
	for _, token := range []string{"good", "", "good", ""} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.GetOrCompute(context.Background(), filters("2024-02-01"), token, compute)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if calls.Load() != 2 {
		t.Fatalf("compute ran %d times, want one per token", calls.Load())
	}
}

func TestCallerCancellationDoesNotFailSharedLoad(t *testing.T) {
	c := New(nil, 0, nil, WithLoadTimeout(5*time.Second))
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (*analytics.Result, error) {
		close(started)
		select {
		case <-release:
			return &analytics.Result{Summary: analytics.Summary{TotalCustomers: 3}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(firstCtx, filters("2024-04-01"), "tok", compute)
		firstErr <- err
	}()
	<-started

	type outcome struct {
		res *analytics.Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, _, err := c.GetOrCompute(context.Background(), filters("2024-04-01"), "tok", compute)
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller err = %v", err)
	}
	close(release)
	got := <-second
	if got.err != nil || got.res.Summary.TotalCustomers != 3 {
		t.Fatalf("second caller res=%+v err=%v", got.res, got.err)
	}
}

func TestSharedLoadHasItsOwnDeadline(t *testing.T) {
	c := New(nil, 0, nil, WithLoadTimeout(20*time.Millisecond))
	_, _, err := c.GetOrCompute(context.Background(), nil, "tok", func(ctx context.Context) (*analytics.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}
