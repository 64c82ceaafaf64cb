package stream

import (
	"github.com/tvdatafeedhq/tvdatafeed-go/tvdata"
)

type options struct {
	logger     tvdata.Logger
	bufferSize int
	retryLimit int
}

func defaultOptions() *options {
	return &options{
		bufferSize: 64,
		retryLimit: 3,
	}
}

// Option is a configuration option for the stream Client
type Option interface {
	apply(*options)
}

type funcOption struct {
	f func(*options)
}

func (fo *funcOption) apply(o *options) {
	fo.f(o)
}

func newFuncOption(f func(*options)) *funcOption {
	return &funcOption{f: f}
}

// WithLogger configures the logger
func WithLogger(logger tvdata.Logger) Option {
	return newFuncOption(func(o *options) {
		o.logger = logger
	})
}

// WithBufferSize configures each consumer's queue capacity. When a queue is
// full, new bars for that consumer are dropped rather than blocking the
// polling loop.
func WithBufferSize(size int) Option {
	return newFuncOption(func(o *options) {
		if size > 0 {
			o.bufferSize = size
		}
	})
}

// WithRetryLimit configures how many times a failed poll of one
// subscription is retried within a cycle before that subscription is
// skipped until its next wake.
func WithRetryLimit(limit int) Option {
	return newFuncOption(func(o *options) {
		if limit > 0 {
			o.retryLimit = limit
		}
	})
}
