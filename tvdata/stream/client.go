// Package stream turns the history fetch client's periodic re-polling into
// a push feed: it tracks live (symbol, exchange, interval) subscriptions,
// wakes once per interval, re-fetches the most recent bars, and fans newly
// closed bars out to attached consumers.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tvdatafeedhq/tvdatafeed-go/tvdata"
)

// HistoryFetcher is the part of the fetch client the scheduler needs. The
// implementation serializes concurrent calls internally, so scheduler
// cycles and on-demand fetches issued by other goroutines never share a
// session.
type HistoryFetcher interface {
	GetHistory(ctx context.Context, params tvdata.GetHistoryParams) ([]tvdata.Bar, error)
}

var _ HistoryFetcher = (*tvdata.Client)(nil)

// ErrStopped is returned by Subscribe after Stop has been called.
var ErrStopped = errors.New("stream client is stopped")

// Client is the live-monitoring scheduler. Construct with NewClient, add
// subscriptions with Subscribe and consumers with Attach, then Start. One
// goroutine runs the polling loop; each consumer callback runs on its own
// goroutine.
type Client struct {
	fetcher HistoryFetcher
	logger  tvdata.Logger

	bufferSize int
	retryLimit int

	reg *registry

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewClient returns a live stream client polling through fetcher, with
// defaults modified by opts.
func NewClient(fetcher HistoryFetcher, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(o)
	}
	if o.logger == nil {
		o.logger = tvdata.DefaultLogger()
	}
	return &Client{
		fetcher:    fetcher,
		logger:     o.logger,
		bufferSize: o.bufferSize,
		retryLimit: o.retryLimit,
		reg:        newRegistry(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Subscribe registers a live subscription for the triple. It is idempotent:
// the same triple always maps to the same Seis. The first poll happens one
// interval after the subscription is created.
func (c *Client) Subscribe(symbol, exchange string, interval tvdata.Interval) (*Seis, error) {
	if symbol == "" {
		return nil, errors.New("empty symbol")
	}
	if interval == "" {
		interval = tvdata.Daily
	}
	select {
	case <-c.stopCh:
		return nil, ErrStopped
	default:
	}
	return c.reg.subscribe(symbol, exchange, interval), nil
}

// Unsubscribe removes the subscription and shuts down consumers that are
// not attached to any other subscription.
func (c *Client) Unsubscribe(s *Seis) {
	c.reg.mu.Lock()
	orphans := make([]*Consumer, 0, len(s.consumers))
	for cons := range s.consumers {
		delete(s.consumers, cons)
		if !c.attachedAnywhereLocked(cons) {
			orphans = append(orphans, cons)
		}
	}
	c.reg.removeLocked(s)
	c.reg.mu.Unlock()

	for _, cons := range orphans {
		cons.shutdown()
	}
}

// Attach creates a Consumer delivering bars from s to callback.
func (c *Client) Attach(s *Seis, callback func(tvdata.Bar)) *Consumer {
	cons := newConsumer(c, callback)
	c.AttachConsumer(s, cons)
	return cons
}

// AttachConsumer attaches an existing Consumer to an additional
// subscription, sharing its queue and worker.
func (c *Client) AttachConsumer(s *Seis, cons *Consumer) {
	c.reg.mu.Lock()
	s.consumers[cons] = struct{}{}
	c.reg.mu.Unlock()
}

// Detach removes the consumer from s. When this was the consumer's last
// subscription its worker is shut down; when s loses its last consumer the
// subscription itself is dropped.
func (c *Client) Detach(s *Seis, cons *Consumer) {
	c.reg.mu.Lock()
	delete(s.consumers, cons)
	lastUse := !c.attachedAnywhereLocked(cons)
	if len(s.consumers) == 0 {
		c.reg.removeLocked(s)
	}
	c.reg.mu.Unlock()

	if lastUse {
		cons.shutdown()
	}
}

// detachEverywhere removes a misbehaving consumer from every subscription
// and shuts it down. Called from the consumer's own worker after a callback
// panic.
func (c *Client) detachEverywhere(cons *Consumer) {
	c.reg.mu.Lock()
	var emptied []*Seis
	for _, s := range c.reg.seis {
		if _, ok := s.consumers[cons]; !ok {
			continue
		}
		delete(s.consumers, cons)
		if len(s.consumers) == 0 {
			emptied = append(emptied, s)
		}
	}
	for _, s := range emptied {
		c.reg.removeLocked(s)
	}
	c.reg.mu.Unlock()

	cons.shutdown()
}

func (c *Client) attachedAnywhereLocked(cons *Consumer) bool {
	for _, s := range c.reg.seis {
		if _, ok := s.consumers[cons]; ok {
			return true
		}
	}
	return false
}

// Start launches the polling loop. It may be called once; subsequent calls
// are no-ops.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

// Stop wakes the polling loop and waits for it to exit. An in-flight poll
// is allowed to complete; nothing is cancelled mid-fetch. Consumers stay
// attached and can be detached individually afterwards.
func (c *Client) Stop() {
	c.Start() // ensure doneCh will be closed even if the loop never ran
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
}

func (c *Client) run() {
	defer close(c.doneCh)
	for {
		if !c.reg.wait(c.stopCh) {
			return
		}
		for _, g := range c.reg.expired(timeNow()) {
			for _, s := range g.members {
				c.poll(s)
				select {
				case <-c.stopCh:
					return
				default:
				}
			}
		}
	}
}

// poll re-fetches the two most recent bars for one subscription and
// delivers the closed one if it is new. Failures are retried up to the
// retry limit and then skipped for this cycle; the subscription stays
// registered and is polled again on its next wake.
func (c *Client) poll(s *Seis) {
	params := tvdata.GetHistoryParams{
		Symbol:   s.Symbol,
		Exchange: s.Exchange,
		Interval: s.Interval,
		NBars:    2,
	}

	var bars []tvdata.Bar
	var err error
	for attempt := 1; attempt <= c.retryLimit; attempt++ {
		bars, err = c.fetcher.GetHistory(context.Background(), params)
		if err == nil {
			break
		}
		c.logger.Warnf("stream: poll %s:%s failed (attempt %d/%d): %v",
			s.Exchange, s.Symbol, attempt, c.retryLimit, err)
	}
	if err != nil {
		c.logger.Errorf("stream: skipping %s:%s for this cycle: %v", s.Exchange, s.Symbol, err)
		return
	}
	if len(bars) < 2 {
		// With fewer than two bars there is no closed bar to deliver: the
		// single returned bar is still forming.
		return
	}

	// The last bar is the currently forming, unclosed one; it is never
	// delivered. The one before it is the most recent closed bar.
	closed := bars[len(bars)-2]

	c.reg.mu.Lock()
	if !closed.Timestamp.After(s.lastBar) {
		c.reg.mu.Unlock()
		return
	}
	s.lastBar = closed.Timestamp
	consumers := make([]*Consumer, 0, len(s.consumers))
	for cons := range s.consumers {
		consumers = append(consumers, cons)
	}
	c.reg.mu.Unlock()

	for _, cons := range consumers {
		cons.push(closed)
	}
}

// timeNow is swapped in tests to control cycle timing.
var timeNow = time.Now
