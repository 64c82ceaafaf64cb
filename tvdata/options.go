package tvdata

import (
	"time"

	"github.com/tvdatafeedhq/tvdatafeed-go/authn"
)

type options struct {
	logger          Logger
	baseURL         string
	tokens          authn.TokenProvider
	plan            PlanTier
	chunkDelay      time.Duration
	chunkRetryLimit int
	connCreator     connCreator
}

func defaultOptions() *options {
	return &options{
		logger:          newStdLog(),
		baseURL:         defaultBaseURL,
		tokens:          authn.NewDefault(authn.CredentialsParams{}),
		plan:            PlanFree,
		chunkDelay:      3 * time.Second,
		chunkRetryLimit: 3,
		connCreator:     newNhooyrWebsocketConn,
	}
}

// Option is a configuration option for the Client
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
func WithLogger(logger Logger) Option {
	return newFuncOption(func(o *options) {
		o.logger = logger
	})
}

// WithBaseURL configures the websocket endpoint
func WithBaseURL(url string) Option {
	return newFuncOption(func(o *options) {
		o.baseURL = url
	})
}

// WithTokenProvider configures where auth tokens come from and how a
// rejected token is replaced.
func WithTokenProvider(provider authn.TokenProvider) Option {
	return newFuncOption(func(o *options) {
		if provider != nil {
			o.tokens = provider
		}
	})
}

// WithToken configures a fixed bearer token. Such a token cannot be
// refreshed when the upstream rejects it.
func WithToken(token string) Option {
	return newFuncOption(func(o *options) {
		if token != "" {
			o.tokens = authn.StaticToken(token)
		}
	})
}

// WithPlan configures the subscription tier used for chunk sizing. The
// default is the free tier's conservative limit.
func WithPlan(plan PlanTier) Option {
	return newFuncOption(func(o *options) {
		o.plan = plan
	})
}

// WithChunkDelay configures the pause between consecutive chunk fetches of
// a date-range request. The delay is rate-limit courtesy; setting it very
// low invites server-side throttling.
func WithChunkDelay(delay time.Duration) Option {
	return newFuncOption(func(o *options) {
		o.chunkDelay = delay
	})
}

// WithChunkRetryLimit configures how many attempts each chunk gets before
// the fetch gives up on it.
func WithChunkRetryLimit(limit int) Option {
	return newFuncOption(func(o *options) {
		if limit > 0 {
			o.chunkRetryLimit = limit
		}
	})
}

// withConnCreator is used by tests to inject a mock transport.
func withConnCreator(creator connCreator) Option {
	return newFuncOption(func(o *options) {
		o.connCreator = creator
	})
}
