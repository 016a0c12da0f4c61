package query_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kinship-app/kinship/internal/frontend/query"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestKey_HasPrefix(t *testing.T) {
	tests := []struct {
		name   string
		key    query.Key
		prefix query.Key
		want   bool
	}{
		{"equal", query.Key{"connectionStatus", "u1"}, query.Key{"connectionStatus", "u1"}, true},
		{"prefix", query.Key{"connectionStatus", "u1"}, query.Key{"connectionStatus"}, true},
		{"empty prefix", query.Key{"authUser"}, nil, true},
		{"different", query.Key{"connectionStatus", "u1"}, query.Key{"connectionRequests"}, false},
		{"longer prefix", query.Key{"authUser"}, query.Key{"authUser", "x"}, false},
		{"partial part", query.Key{"connectionStatus", "u12"}, query.Key{"connectionStatus", "u1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.HasPrefix(tt.prefix); got != tt.want {
				t.Errorf("HasPrefix = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFetch_CachesUntilInvalidated(t *testing.T) {
	c := query.New()
	defer c.Close()
	ctx := context.Background()
	key := query.Key{"connectionStatus", "u1"}

	var calls atomic.Int32
	fn := func(context.Context) (string, error) {
		return []string{"a", "b", "c"}[calls.Add(1)-1], nil
	}

	for i := 0; i < 2; i++ {
		got, err := query.Fetch(ctx, c, key, fn)
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if got != "a" {
			t.Errorf("Fetch #%d = %q, want a", i, got)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}

	if n := c.Invalidate(query.Key{"connectionStatus"}); n != 1 {
		t.Errorf("Invalidate = %d, want 1", n)
	}
	st := query.GetState[string](c, key)
	if !st.Stale || st.Data != "a" {
		t.Errorf("after invalidate state = %+v, want stale with old data", st)
	}

	got, _ := query.Fetch(ctx, c, key, fn)
	if got != "b" {
		t.Errorf("Fetch after invalidate = %q, want b", got)
	}
}

func TestFetch_StaleTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := query.New(query.WithStaleTime(time.Minute), query.WithClock(func() time.Time { return now }))
	defer c.Close()
	ctx := context.Background()
	key := query.Key{"authUser"}

	var calls int
	fn := func(context.Context) (int, error) { calls++; return calls, nil }

	query.Fetch(ctx, c, key, fn)
	now = now.Add(30 * time.Second)
	if got, _ := query.Fetch(ctx, c, key, fn); got != 1 {
		t.Errorf("fresh Fetch = %d, want 1", got)
	}
	now = now.Add(time.Minute)
	if got, _ := query.Fetch(ctx, c, key, fn); got != 2 {
		t.Errorf("aged Fetch = %d, want 2", got)
	}
}

func TestFetch_SharesInflight(t *testing.T) {
	c := query.New()
	defer c.Close()
	key := query.Key{"connectionRequests"}

	release := make(chan struct{})
	var calls atomic.Int32
	fn := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = query.Fetch(context.Background(), c, key, fn)
		}(i)
	}
	waitFor(t, func() bool { return query.GetState[int](c, key).Fetching })
	// Give the remaining goroutines time to join the same flight.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	for i, r := range results {
		if r != 7 {
			t.Errorf("results[%d] = %d, want 7", i, r)
		}
	}
}

func TestFetch_LastWriteWins(t *testing.T) {
	c := query.New()
	defer c.Close()
	key := query.Key{"connectionStatus", "u1"}
	ctx := context.Background()

	slow := make(chan struct{})
	slowDone := make(chan string, 1)
	go func() {
		v, _ := query.Fetch(ctx, c, key, func(context.Context) (string, error) {
			<-slow
			return "old", nil
		})
		slowDone <- v
	}()
	waitFor(t, func() bool { return query.GetState[string](c, key).Fetching })

	// Invalidation supersedes the slow fetch; the refetch completes first.
	c.Invalidate(key)
	got, err := query.Fetch(ctx, c, key, func(context.Context) (string, error) { return "new", nil })
	if err != nil || got != "new" {
		t.Fatalf("Fetch = %q, %v", got, err)
	}

	close(slow)
	if v := <-slowDone; v != "old" {
		t.Errorf("slow caller got %q, want its own result", v)
	}
	if st := query.GetState[string](c, key); st.Data != "new" || st.Status != query.StatusSuccess {
		t.Errorf("state = %+v, want new/success", st)
	}
}

func TestFetch_ErrorKeepsData(t *testing.T) {
	c := query.New()
	defer c.Close()
	ctx := context.Background()
	key := query.Key{"authUser"}
	boom := errors.New("boom")

	query.Fetch(ctx, c, key, func(context.Context) (string, error) { return "alice", nil })
	c.Invalidate(key)
	_, err := query.Fetch(ctx, c, key, func(context.Context) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	st := query.GetState[string](c, key)
	if st.Status != query.StatusError || !errors.Is(st.Err, boom) {
		t.Errorf("state = %+v, want error", st)
	}
	if !st.HasData || st.Data != "alice" {
		t.Errorf("data = %q (has=%v), want previous data kept", st.Data, st.HasData)
	}
}

func TestRefetch(t *testing.T) {
	c := query.New()
	defer c.Close()
	ctx := context.Background()
	key := query.Key{"connectionStatus", "u1"}

	if err := c.Refetch(ctx, key); !errors.Is(err, query.ErrNoFetcher) {
		t.Fatalf("Refetch unknown = %v, want ErrNoFetcher", err)
	}

	var calls int
	query.Fetch(ctx, c, key, func(context.Context) (int, error) { calls++; return calls, nil })
	if err := c.Refetch(ctx, key); err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	if got := query.GetState[int](c, key).Data; got != 2 {
		t.Errorf("data = %d, want 2", got)
	}
}

func TestFetch_CallerCancel(t *testing.T) {
	c := query.New()
	defer c.Close()
	key := query.Key{"connectionRequests"}

	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := query.Fetch(ctx, c, key, func(context.Context) (int, error) {
			<-release
			return 1, nil
		})
		errc <- err
	}()
	waitFor(t, func() bool { return query.GetState[int](c, key).Fetching })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	// The shared fetch still lands in the cache.
	close(release)
	waitFor(t, func() bool { return query.GetState[int](c, key).Status == query.StatusSuccess })
}

func TestSetDataAndTypeMismatch(t *testing.T) {
	c := query.New()
	defer c.Close()
	key := query.Key{"profile", "alice"}

	query.SetData(c, key, "seeded")
	got, err := query.Fetch(context.Background(), c, key, func(context.Context) (string, error) {
		t.Fatal("fetcher must not run for seeded data")
		return "", nil
	})
	if err != nil || got != "seeded" {
		t.Fatalf("Fetch = %q, %v", got, err)
	}

	if st := query.GetState[int](c, key); st.HasData {
		t.Errorf("typed state of wrong type reports data: %+v", st)
	}
}

func TestObserve(t *testing.T) {
	c := query.New()
	defer c.Close()

	var mu sync.Mutex
	var seen []string
	unsubscribe := c.Observe(query.Key{"connectionStatus"}, func(k query.Key) {
		mu.Lock()
		seen = append(seen, k.String())
		mu.Unlock()
	})

	query.SetData(c, query.Key{"connectionStatus", "u1"}, 1)
	query.SetData(c, query.Key{"authUser"}, 1)
	c.Invalidate(query.Key{"connectionStatus"})
	unsubscribe()
	unsubscribe()
	query.SetData(c, query.Key{"connectionStatus", "u2"}, 1)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"connectionStatus/u1", "connectionStatus/u1"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestResetAndClose(t *testing.T) {
	c := query.New()
	ctx := context.Background()
	key := query.Key{"authUser"}

	query.SetData(c, key, "alice")
	c.Reset()
	if st := query.GetState[string](c, key); st.Status != query.StatusIdle || st.HasData {
		t.Errorf("after Reset state = %+v, want idle", st)
	}

	c.Close()
	if _, err := query.Fetch(ctx, c, key, func(context.Context) (string, error) { return "x", nil }); !errors.Is(err, query.ErrClosed) {
		t.Errorf("Fetch after Close = %v, want ErrClosed", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}
