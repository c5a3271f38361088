package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/stationwatch/snapshot"
)

// fakeFetcher counts scrapes and can hold them until released.
type fakeFetcher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	outcome snapshot.Outcome
}

func (f *fakeFetcher) Scrape(ctx context.Context, src snapshot.Source) snapshot.Snapshot {
	n := f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.outcome == snapshot.OutcomeFailure {
		return snapshot.Failed(src, errors.New("connection refused"), time.Now())
	}
	return snapshot.Snapshot{
		SourceID: src.ID,
		Locator:  src.Locator,
		Outcome:  snapshot.OutcomeSuccess,
		Counters: snapshot.Counters{Passed: int(n)},
		Slots:    []snapshot.Slot{{Name: "SLOT01", Status: "passed"}},
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var station = snapshot.Source{ID: "ess08", Name: "ESS08", Locator: "http://ess08.local", Enabled: true}

func TestCache_HitWithinTTL(t *testing.T) {
	f := &fakeFetcher{}
	clock := newFakeClock()
	c := New(f, zerolog.Nop(), WithClock(clock.Now))

	first, err := c.GetOrFetch(context.Background(), station)
	require.NoError(t, err)

	clock.Advance(DefaultTTL - time.Second)
	second, err := c.GetOrFetch(context.Background(), station)
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, first, second)
}

func TestCache_ExpiredEntryRescraped(t *testing.T) {
	f := &fakeFetcher{}
	clock := newFakeClock()
	c := New(f, zerolog.Nop(), WithClock(clock.Now), WithTTL(5*time.Second))

	_, err := c.GetOrFetch(context.Background(), station)
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	snap, err := c.GetOrFetch(context.Background(), station)
	require.NoError(t, err)

	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, 2, snap.Counters.Passed)
	assert.Equal(t, 1, c.Len())
}

func TestCache_LocatorChangeIsMiss(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f, zerolog.Nop())

	_, err := c.GetOrFetch(context.Background(), station)
	require.NoError(t, err)

	moved := station
	moved.Locator = "http://ess08-new.local"
	snap, err := c.GetOrFetch(context.Background(), moved)
	require.NoError(t, err)

	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, moved.Locator, snap.Locator)

	stats := c.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, moved.Locator, stats[0].Locator)
}

func TestCache_FailureSnapshotsCached(t *testing.T) {
	f := &fakeFetcher{outcome: snapshot.OutcomeFailure}
	c := New(f, zerolog.Nop())

	for i := 0; i < 3; i++ {
		snap, err := c.GetOrFetch(context.Background(), station)
		require.NoError(t, err)
		assert.Equal(t, snapshot.OutcomeFailure, snap.Outcome)
	}
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestCache_ConcurrentMissesShareScrape(t *testing.T) {
	f := &fakeFetcher{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	c := New(f, zerolog.Nop())

	const callers = 10
	var wg sync.WaitGroup
	results := make([]snapshot.Snapshot, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := c.GetOrFetch(context.Background(), station)
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}

	<-f.started
	// let the other callers pile onto the flight
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, snap := range results {
		assert.Equal(t, 1, snap.Counters.Passed)
	}
}

func TestCache_ContextCancelledWhileWaiting(t *testing.T) {
	f := &fakeFetcher{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := New(f, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, station)
		errCh <- err
	}()

	<-f.started
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("GetOrFetch did not return after cancel")
	}

	// the detached scrape still completes and populates the cache
	close(f.release)
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestCache_ReturnsCopies(t *testing.T) {
	c := New(&fakeFetcher{}, zerolog.Nop())

	snap, err := c.GetOrFetch(context.Background(), station)
	require.NoError(t, err)
	snap.Slots[0].Status = "failing"

	again, err := c.GetOrFetch(context.Background(), station)
	require.NoError(t, err)
	assert.Equal(t, "passed", again.Slots[0].Status)
}

func TestCache_Invalidate(t *testing.T) {
	f := &fakeFetcher{}
	c := New(f, zerolog.Nop())

	other := snapshot.Source{ID: "ess09", Locator: "http://ess09.local"}
	_, _ = c.GetOrFetch(context.Background(), station)
	_, _ = c.GetOrFetch(context.Background(), other)
	require.Equal(t, 2, c.Len())

	assert.True(t, c.Invalidate("ess08"))
	assert.False(t, c.Invalidate("ess08"))
	assert.Equal(t, 1, c.Len())

	_, _ = c.GetOrFetch(context.Background(), station)
	assert.Equal(t, int32(3), f.calls.Load())

	assert.Equal(t, 2, c.InvalidateAll())
	assert.Zero(t, c.Len())
}

func TestCache_Stats(t *testing.T) {
	clock := newFakeClock()
	c := New(&fakeFetcher{}, zerolog.Nop(), WithClock(clock.Now), WithTTL(10*time.Second))

	_, _ = c.GetOrFetch(context.Background(), snapshot.Source{ID: "b", Locator: "http://b"})
	clock.Advance(8 * time.Second)
	_, _ = c.GetOrFetch(context.Background(), snapshot.Source{ID: "a", Locator: "http://a"})
	clock.Advance(3 * time.Second)

	stats := c.Stats()
	require.Len(t, stats, 2)

	assert.Equal(t, "a", stats[0].SourceID)
	assert.Equal(t, int64(3000), stats[0].AgeMs)
	assert.False(t, stats[0].Expired)

	assert.Equal(t, "b", stats[1].SourceID)
	assert.Equal(t, 11*time.Second, stats[1].Age)
	assert.True(t, stats[1].Expired)
}
