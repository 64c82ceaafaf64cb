package stream

import (
	"sync"

	"github.com/tvdatafeedhq/tvdatafeed-go/tvdata"
)

// Consumer delivers bars to a user callback on its own goroutine, decoupled
// from the polling loop through a bounded queue. One Consumer may be
// attached to several subscriptions.
//
// A panicking callback detaches the Consumer from every subscription it is
// attached to; sibling consumers and the scheduler are unaffected.
type Consumer struct {
	client   *Client
	callback func(tvdata.Bar)

	mu     sync.Mutex // guards closed and the close of queue against pushes
	closed bool
	queue  chan tvdata.Bar
	done   chan struct{}
}

func newConsumer(client *Client, callback func(tvdata.Bar)) *Consumer {
	c := &Consumer{
		client:   client,
		callback: callback,
		queue:    make(chan tvdata.Bar, client.bufferSize),
		done:     make(chan struct{}),
	}
	go c.work()
	return c
}

// work pulls from the queue and invokes the callback until the queue is
// closed.
func (c *Consumer) work() {
	defer close(c.done)
	for bar := range c.queue {
		if !c.invoke(bar) {
			c.client.detachEverywhere(c)
			// Keep draining so a pending shutdown is still observed.
		}
	}
}

func (c *Consumer) invoke(bar tvdata.Bar) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.client.logger.Errorf("stream: consumer callback panicked, detaching consumer: %v", r)
			ok = false
		}
	}()
	c.callback(bar)
	return true
}

// push enqueues a bar without blocking the polling loop. A full queue means
// the callback cannot keep up; the bar is dropped and logged. A push after
// shutdown is dropped silently: a polling cycle may snapshot the consumer
// set just before a concurrent detach closes the queue.
func (c *Consumer) push(bar tvdata.Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- bar:
	default:
		c.client.logger.Warnf("stream: consumer queue full, dropping bar at %s", bar.Timestamp)
	}
}

// shutdown closes the queue. The worker drains what is already buffered and
// exits; it is never forcibly terminated.
func (c *Consumer) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

// Done is closed once the worker goroutine has exited.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}
