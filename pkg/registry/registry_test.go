package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/test/fake_persister"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uA api.UnitID = "aaaa"
	uB api.UnitID = "bbbb"
)

func rec(id api.UnitID, host api.HostID, v api.Version) api.Record {
	return api.Record{
		Unit:    id,
		Handle:  api.Handle{Unit: id, Host: host},
		Version: v,
	}
}

// start runs the registry until the test ends.
func start(t *testing.T, r *Registry) {
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)

	go func() {
		errs <- r.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-errs
	})
}

func newRunning(t *testing.T, opts ...Option) *Registry {
	r, err := New(opts...)
	require.NoError(t, err)
	start(t, r)
	return r
}

func counter(r *Registry, result string) int {
	return int(testutil.ToFloat64(r.m.lookups.WithLabelValues(result)))
}

func TestUpdateLookup(t *testing.T) {
	ctx := context.Background()
	r := newRunning(t)

	err := r.Update(ctx, rec(uA, "h1", 1))
	require.NoError(t, err)

	got, err := r.Lookup(ctx, "c1", uA)
	require.NoError(t, err)
	assert.Equal(t, rec(uA, "h1", 1), got)
}

func TestLookupNotFound(t *testing.T) {
	ctx := context.Background()
	r := newRunning(t)

	_, err := r.Lookup(ctx, "c1", uA)
	require.Error(t, err)

	var nf *api.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, uA, nf.Unit)
	assert.Equal(t, 1, counter(r, "not_found"))

	// Misses aren't tracked, so asking again isn't throttled.
	_, err = r.Lookup(ctx, "c1", uA)
	assert.True(t, api.IsNotFound(err))
	assert.Equal(t, 0, counter(r, "held"))
}

func TestMonotonicVersions(t *testing.T) {
	ctx := context.Background()
	r := newRunning(t)

	require.NoError(t, r.Update(ctx, rec(uA, "h3", 3)))

	// Older version loses, silently.
	require.NoError(t, r.Update(ctx, rec(uA, "h2", 2)))
	got, err := r.Lookup(ctx, "c1", uA)
	require.NoError(t, err)
	assert.Equal(t, rec(uA, "h3", 3), got)

	// Equal version replaces.
	require.NoError(t, r.Update(ctx, rec(uA, "h4", 3)))

	// Newer version replaces.
	require.NoError(t, r.Update(ctx, rec(uA, "h5", 4)))

	recs, err := r.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, []api.Record{rec(uA, "h5", 4)}, recs)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.m.updates.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.m.updates.WithLabelValues("stale")))
}

func TestUpdatePriority(t *testing.T) {
	ctx := context.Background()
	r, err := New()
	require.NoError(t, err)

	// Not running yet, so safe to poke at the map.
	r.records[uA] = rec(uA, "h1", 1)

	type result struct {
		rec api.Record
		err error
	}

	// Queue a lookup, and then an update. Neither can be served yet.
	res := make(chan result, 1)
	go func() {
		rec, err := r.Lookup(ctx, "c1", uA)
		res <- result{rec, err}
	}()
	require.Eventually(t, func() bool {
		return len(r.lookups) == 1
	}, time.Second, time.Millisecond)

	go func() {
		_ = r.Update(ctx, rec(uA, "h2", 2))
	}()
	require.Eventually(t, func() bool {
		return len(r.updates) == 1
	}, time.Second, time.Millisecond)

	start(t, r)

	// The lookup was queued first, but the update was applied before it was
	// served.
	got := <-res
	require.NoError(t, got.err)
	assert.Equal(t, rec(uA, "h2", 2), got.rec)
}

func TestLookupStorm(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	r := newRunning(t, WithClock(clock), WithCooldown(time.Second))
	require.NoError(t, r.Update(ctx, rec(uA, "h1", 1)))

	// The same requester asks for the same unit many times at once.
	n := 10
	answered := make(chan api.Record, n)
	wg := sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := r.Lookup(ctx, "c1", uA)
			if err == nil {
				answered <- rec
			}
		}()
	}

	// One is answered right away, the rest are held.
	require.Eventually(t, func() bool {
		return counter(r, "held") == n-1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, counter(r, "served"))
	require.Eventually(t, func() bool {
		return len(answered) == 1
	}, time.Second, time.Millisecond)

	// Nothing is answered until the cooldown elapses.
	clock.Advance(999 * time.Millisecond)
	assert.Never(t, func() bool {
		return len(answered) > 1
	}, 50*time.Millisecond, time.Millisecond)

	// Then all of the held lookups are answered at once, as one.
	clock.Advance(time.Millisecond)
	wg.Wait()
	assert.Len(t, answered, n)
	assert.Equal(t, 2, counter(r, "served"))
	assert.Equal(t, float64(n-2), testutil.ToFloat64(r.m.coalesced))
}

func TestLookupDistinctRequesters(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	r := newRunning(t, WithClock(clock))
	require.NoError(t, r.Update(ctx, rec(uA, "h1", 1)))
	require.NoError(t, r.Update(ctx, rec(uB, "h1", 1)))

	// Different requesters, or different units, aren't throttled against one
	// another.
	for _, req := range []api.RequesterID{"c1", "c2", "c3"} {
		for _, id := range []api.UnitID{uA, uB} {
			_, err := r.Lookup(ctx, req, id)
			require.NoError(t, err)
		}
	}

	assert.Equal(t, 6, counter(r, "served"))
	assert.Equal(t, 0, counter(r, "held"))
}

func TestHeldLookupReleasedByUpdate(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	r := newRunning(t, WithClock(clock))
	require.NoError(t, r.Update(ctx, rec(uA, "h1", 1)))

	got, err := r.Lookup(ctx, "c1", uA)
	require.NoError(t, err)
	assert.Equal(t, api.Version(1), got.Version)

	res := make(chan api.Record, 1)
	go func() {
		rec, _ := r.Lookup(ctx, "c1", uA)
		res <- rec
	}()

	require.Eventually(t, func() bool {
		return counter(r, "held") == 1
	}, time.Second, time.Millisecond)

	// No need to wait for the cooldown; the answer is different now.
	require.NoError(t, r.Update(ctx, rec(uA, "h2", 2)))

	select {
	case got := <-res:
		assert.Equal(t, rec(uA, "h2", 2), got)
	case <-time.After(time.Second):
		t.Fatal("held lookup was not released by update")
	}

	// And a new version is always served straight away.
	got, err = r.Lookup(ctx, "c2", uA)
	require.NoError(t, err)
	assert.Equal(t, api.Version(2), got.Version)
}

func TestHeldLookupCancelled(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	r := newRunning(t, WithClock(clock))
	require.NoError(t, r.Update(ctx, rec(uA, "h1", 1)))

	_, err := r.Lookup(ctx, "c1", uA)
	require.NoError(t, err)

	lctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = r.Lookup(lctx, "c1", uA)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The loop notices the next time it checks the held lookups.
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return counter(r, "abandoned") == 1
	}, time.Second, time.Millisecond)
}

func TestClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClock()
	r, err := New(WithClock(clock))
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		errs <- r.Run(ctx)
	}()

	// Update blocks until applied, so only once Run has started.
	require.NoError(t, r.Update(context.Background(), rec(uA, "h1", 1)))

	_, err = r.Lookup(context.Background(), "c1", uA)
	require.NoError(t, err)

	// Leave one held when the registry stops.
	held := make(chan error, 1)
	go func() {
		_, err := r.Lookup(context.Background(), "c1", uA)
		held <- err
	}()
	require.Eventually(t, func() bool {
		return counter(r, "held") == 1
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)
	assert.ErrorIs(t, <-held, api.ErrClosed)

	_, err = r.Lookup(context.Background(), "c1", uA)
	assert.ErrorIs(t, err, api.ErrClosed)

	_, err = r.Dump(context.Background())
	assert.ErrorIs(t, err, api.ErrClosed)
}

func TestPersister(t *testing.T) {
	ctx := context.Background()
	p := fake_persister.NewFakePersister(rec(uA, "h1", 7))
	r := newRunning(t, WithPersister(p))

	// Loaded at startup.
	got, err := r.Lookup(ctx, "c1", uA)
	require.NoError(t, err)
	assert.Equal(t, rec(uA, "h1", 7), got)

	// Applied updates are written through.
	require.NoError(t, r.Update(ctx, rec(uB, "h2", 1)))
	pr, ok := p.Get(uB)
	require.True(t, ok)
	assert.Equal(t, rec(uB, "h2", 1), pr)

	// Stale ones aren't.
	require.NoError(t, r.Update(ctx, rec(uA, "h0", 6)))
	assert.Equal(t, 1, p.Puts())

	// Persister failures don't fail the update.
	p.SetFailing(true)
	require.NoError(t, r.Update(ctx, rec(uA, "h3", 8)))

	recs, err := r.Dump(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff([]api.Record{rec(uA, "h3", 8), rec(uB, "h2", 1)}, recs); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
}

func TestPersisterUnavailable(t *testing.T) {
	p := fake_persister.NewFakePersister()
	p.SetFailing(true)

	_, err := New(WithPersister(p))
	assert.ErrorIs(t, err, fake_persister.ErrInjected)
}
