package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvdatafeedhq/tvdatafeed-go/tvdata"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// fakeFetcher scripts GetHistory responses per call number.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	respond func(call int, params tvdata.GetHistoryParams) ([]tvdata.Bar, error)
}

func (f *fakeFetcher) GetHistory(_ context.Context, params tvdata.GetHistoryParams) ([]tvdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.respond(f.calls, params)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func barAt(ts time.Time) tvdata.Bar {
	return tvdata.Bar{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100}
}

// barPair returns a closed bar and the forming bar after it, the shape a
// two-bar poll response takes.
func barPair(closed time.Time, interval tvdata.Interval) []tvdata.Bar {
	return []tvdata.Bar{barAt(closed), barAt(closed.Add(tvdata.IntervalDuration(interval)))}
}

func recvBar(t *testing.T, ch <-chan tvdata.Bar) tvdata.Bar {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a delivered bar")
		return tvdata.Bar{}
	}
}

func assertNoBar(t *testing.T, ch <-chan tvdata.Bar) {
	t.Helper()
	select {
	case b := <-ch:
		t.Fatalf("unexpected bar delivered at %s", b.Timestamp)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	c := NewClient(&fakeFetcher{}, WithLogger(nopLogger{}))

	a, err := c.Subscribe("AAPL", "NASDAQ", tvdata.OneMinute)
	require.NoError(t, err)
	b, err := c.Subscribe("AAPL", "NASDAQ", tvdata.OneMinute)
	require.NoError(t, err)
	assert.Same(t, a, b, "the same triple maps to the same subscription")

	other, err := c.Subscribe("AAPL", "NASDAQ", tvdata.FiveMinute)
	require.NoError(t, err)
	assert.NotSame(t, a, other, "a different interval is a different subscription")

	_, err = c.Subscribe("", "NASDAQ", tvdata.OneMinute)
	assert.Error(t, err)
}

func TestPollDeliversClosedBarExactlyOnce(t *testing.T) {
	closed := time.Date(2023, 6, 1, 9, 30, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		respond: func(_ int, params tvdata.GetHistoryParams) ([]tvdata.Bar, error) {
			assert.Equal(t, 2, params.NBars)
			return barPair(closed, params.Interval), nil
		},
	}
	c := NewClient(fetcher, WithLogger(nopLogger{}))
	s, err := c.Subscribe("AAPL", "NASDAQ", tvdata.OneMinute)
	require.NoError(t, err)

	delivered := make(chan tvdata.Bar, 8)
	c.Attach(s, func(b tvdata.Bar) { delivered <- b })

	c.poll(s)
	got := recvBar(t, delivered)
	assert.Equal(t, closed, got.Timestamp, "the closed bar is delivered, never the forming one")

	// The same closed bar again: novelty check suppresses redelivery.
	c.poll(s)
	assertNoBar(t, delivered)

	// A newer closed bar arrives.
	closed = closed.Add(time.Minute)
	c.poll(s)
	got = recvBar(t, delivered)
	assert.Equal(t, closed, got.Timestamp)
}

func TestPollSkipsWhenOnlyFormingBar(t *testing.T) {
	fetcher := &fakeFetcher{
		respond: func(_ int, _ tvdata.GetHistoryParams) ([]tvdata.Bar, error) {
			return []tvdata.Bar{barAt(time.Now())}, nil
		},
	}
	c := NewClient(fetcher, WithLogger(nopLogger{}))
	s, err := c.Subscribe("AAPL", "NASDAQ", tvdata.OneMinute)
	require.NoError(t, err)

	delivered := make(chan tvdata.Bar, 1)
	c.Attach(s, func(b tvdata.Bar) { delivered <- b })

	c.poll(s)
	assertNoBar(t, delivered)
}

func TestPollRetriesThenSucceeds(t *testing.T) {
	closed := time.Date(2023, 6, 1, 9, 30, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		respond: func(call int, params tvdata.GetHistoryParams) ([]tvdata.Bar, error) {
			if call < 3 {
				return nil, fmt.Errorf("transient failure %d", call)
			}
			return barPair(closed, params.Interval), nil
		},
	}
	c := NewClient(fetcher, WithLogger(nopLogger{}), WithRetryLimit(3))
	s, err := c.Subscribe("AAPL", "NASDAQ", tvdata.OneMinute)
	require.NoError(t, err)

	delivered := make(chan tvdata.Bar, 1)
	c.Attach(s, func(b tvdata.Bar) { delivered <- b })

	c.poll(s)
	recvBar(t, delivered)
	assert.Equal(t, 3, fetcher.callCount())
}

func TestPollExhaustedRetriesSkipsCycle(t *testing.T) {
	fetcher := &fakeFetcher{
		respond: func(call int, _ tvdata.GetHistoryParams) ([]tvdata.Bar, error) {
			return nil, fmt.Errorf("failure %d", call)
		},
	}
	c := NewClient(fetcher, WithLogger(nopLogger{}), WithRetryLimit(2))
	s, err := c.Subscribe("AAPL", "NASDAQ", tvdata.OneMinute)
	require.NoError(t, err)

	delivered := make(chan tvdata.Bar, 1)
	c.Attach(s, func(b tvdata.Bar) { delivered <- b })

	c.poll(s)
	assertNoBar(t, delivered)
	assert.Equal(t, 2, fetcher.callCount())

	// The subscription survives the failed cycle.
	c.reg.mu.Lock()
	_, still := c.reg.seis[s.key()]
	c.reg.mu.Unlock()
	assert.True(t, still)
}

func TestConsumerPanicDetachesOnlyThatConsumer(t *testing.T) {
	closed := time.Date(2023, 6, 1, 9, 30, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		respond: func(_ int, params tvdata.GetHistoryParams) ([]tvdata.Bar, error) {
			return barPair(closed, params.Interval), nil
		},
	}
	c := NewClient(fetcher, WithLogger(nopLogger{}))
	s, err := c.Subscribe("AAPL", "NASDAQ", tvdata.OneMinute)
	require.NoError(t, err)

	delivered := make(chan tvdata.Bar, 8)
	healthy := c.Attach(s, func(b tvdata.Bar) { delivered <- b })
	faulty := c.Attach(s, func(tvdata.Bar) { panic("boom") })

	c.poll(s)
	recvBar(t, delivered)

	select {
	case <-faulty.Done():
	case <-time.After(time.Second):
		t.Fatal("panicking consumer was not shut down")
	}

	c.reg.mu.Lock()
	_, stillFaulty := s.consumers[faulty]
	_, stillHealthy := s.consumers[healthy]
	c.reg.mu.Unlock()
	assert.False(t, stillFaulty, "panicking consumer is detached")
	assert.True(t, stillHealthy, "sibling consumer is unaffected")

	// The sibling keeps receiving on later cycles.
	closed = closed.Add(time.Minute)
	c.poll(s)
	recvBar(t, delivered)
}

func TestDetachDuringDeliveryDropsBar(t *testing.T) {
	c := NewClient(&fakeFetcher{}, WithLogger(nopLogger{}))
	s, err := c.Subscribe("AAPL", "NASDAQ", tvdata.OneMinute)
	require.NoError(t, err)
	cons := c.Attach(s, func(tvdata.Bar) {})

	// Snapshot the consumer set the way a polling cycle does, then detach
	// before the delivery lands.
	c.reg.mu.Lock()
	snapshot := make([]*Consumer, 0, len(s.consumers))
	for member := range s.consumers {
		snapshot = append(snapshot, member)
	}
	c.reg.mu.Unlock()
	require.Len(t, snapshot, 1)

	c.Detach(s, cons)
	<-cons.Done()

	assert.NotPanics(t, func() {
		for _, member := range snapshot {
			member.push(barAt(time.Now()))
		}
	})
}

func TestDetachLastUseShutsDownWorker(t *testing.T) {
	c := NewClient(&fakeFetcher{}, WithLogger(nopLogger{}))
	s1, err := c.Subscribe("AAPL", "NASDAQ", tvdata.OneMinute)
	require.NoError(t, err)
	s2, err := c.Subscribe("MSFT", "NASDAQ", tvdata.OneMinute)
	require.NoError(t, err)

	cons := c.Attach(s1, func(tvdata.Bar) {})
	c.AttachConsumer(s2, cons)

	c.Detach(s1, cons)
	select {
	case <-cons.Done():
		t.Fatal("worker shut down while still attached elsewhere")
	case <-time.After(50 * time.Millisecond):
	}

	c.Detach(s2, cons)
	select {
	case <-cons.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not shut down after the last detach")
	}

	// Both subscriptions lost their last consumer and were dropped.
	c.reg.mu.Lock()
	remaining := len(c.reg.seis)
	c.reg.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestUnsubscribeShutsDownOrphanConsumers(t *testing.T) {
	c := NewClient(&fakeFetcher{}, WithLogger(nopLogger{}))
	s1, err := c.Subscribe("AAPL", "NASDAQ", tvdata.OneMinute)
	require.NoError(t, err)
	s2, err := c.Subscribe("MSFT", "NASDAQ", tvdata.OneMinute)
	require.NoError(t, err)

	orphan := c.Attach(s1, func(tvdata.Bar) {})
	shared := c.Attach(s1, func(tvdata.Bar) {})
	c.AttachConsumer(s2, shared)

	c.Unsubscribe(s1)

	select {
	case <-orphan.Done():
	case <-time.After(time.Second):
		t.Fatal("orphaned consumer was not shut down")
	}
	select {
	case <-shared.Done():
		t.Fatal("consumer still attached to another subscription was shut down")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunLoopDeliversOnSchedule(t *testing.T) {
	closed := time.Date(2023, 6, 1, 9, 30, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		respond: func(_ int, params tvdata.GetHistoryParams) ([]tvdata.Bar, error) {
			return barPair(closed, params.Interval), nil
		},
	}
	c := NewClient(fetcher, WithLogger(nopLogger{}))
	s, err := c.Subscribe("AAPL", "NASDAQ", tvdata.OneMinute)
	require.NoError(t, err)

	delivered := make(chan tvdata.Bar, 1)
	c.Attach(s, func(b tvdata.Bar) { delivered <- b })

	// Pull the group's first deadline into the past so the loop fires
	// immediately instead of one real interval from now.
	c.reg.mu.Lock()
	c.reg.groups[tvdata.OneMinute].nextWake = time.Now().Add(-time.Millisecond)
	c.reg.mu.Unlock()

	c.Start()
	defer c.Stop()

	got := recvBar(t, delivered)
	assert.Equal(t, closed, got.Timestamp)
}

func TestStopAndSubscribeAfterStop(t *testing.T) {
	c := NewClient(&fakeFetcher{}, WithLogger(nopLogger{}))
	c.Start()
	c.Stop()

	_, err := c.Subscribe("AAPL", "NASDAQ", tvdata.OneMinute)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStopWithoutStart(t *testing.T) {
	c := NewClient(&fakeFetcher{}, WithLogger(nopLogger{}))
	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
