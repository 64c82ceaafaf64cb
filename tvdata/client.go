package tvdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tvdatafeedhq/tvdatafeed-go/authn"
)

// Client fetches historical bar series over the websocket protocol.
//
// Every request runs on its own single-use protocol session: a fresh
// connection with fresh session ids. The client itself is safe for
// concurrent use; requests serialize on an internal lock so two goroutines
// never drive the upstream with the same token at once. The live stream
// client shares this same serialization by calling GetHistory.
type Client struct {
	logger          Logger
	baseURL         string
	tokens          authn.TokenProvider
	plan            PlanTier
	chunkDelay      time.Duration
	chunkRetryLimit int
	connCreator     connCreator

	fetchMu sync.Mutex
}

// NewClient returns a new history fetch client whose default configuration
// is modified by opts.
func NewClient(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(o)
	}
	return &Client{
		logger:          o.logger,
		baseURL:         o.baseURL,
		tokens:          o.tokens,
		plan:            o.plan,
		chunkDelay:      o.chunkDelay,
		chunkRetryLimit: o.chunkRetryLimit,
		connCreator:     o.connCreator,
	}
}

// GetHistoryParams describes one history request.
//
// When Start and End are zero the request is in bounded-count mode and
// returns the NBars most recent bars. Otherwise it is in date-range mode:
// the span is fetched in plan-limit-sized chunks and stitched.
type GetHistoryParams struct {
	Symbol   string
	Exchange string
	Interval Interval
	// NBars is the number of most recent bars in bounded-count mode.
	NBars int
	// Start is the inclusive beginning of the range
	Start time.Time
	// End is the inclusive end of the range
	End time.Time
	// FutContract selects a continuous futures contract: 1 is the front
	// contract, 2 the next. Zero means a plain symbol.
	FutContract int
	// ExtendedSession resolves the symbol with extended trading hours.
	ExtendedSession bool
	// ChunkDays overrides the automatic chunk sizing of date-range mode.
	ChunkDays int
}

func (p GetHistoryParams) rangeMode() bool {
	return !p.Start.IsZero() || !p.End.IsZero()
}

// formatSymbol normalizes to the exchange-qualified form. A symbol that
// already contains the separator passes through unchanged; a futures
// contract offset produces the continuous-contract form EXCHANGE:SYMBOL{N}!.
func formatSymbol(symbol, exchange string, futContract int) (string, error) {
	if strings.Contains(symbol, ":") {
		return symbol, nil
	}
	if futContract < 0 {
		return "", fmt.Errorf("%w: negative futures contract offset %d", ErrInvalidParams, futContract)
	}
	if futContract > 0 {
		return fmt.Sprintf("%s:%s%d!", exchange, symbol, futContract), nil
	}
	return fmt.Sprintf("%s:%s", exchange, symbol), nil
}

func (p GetHistoryParams) validate() (GetHistoryParams, string, error) {
	if p.Symbol == "" {
		return p, "", fmt.Errorf("%w: empty symbol", ErrInvalidParams)
	}
	symbol, err := formatSymbol(p.Symbol, p.Exchange, p.FutContract)
	if err != nil {
		return p, "", err
	}
	if p.Interval == "" {
		p.Interval = Daily
	}
	if p.rangeMode() {
		if p.Start.IsZero() {
			p.Start = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		if now := time.Now(); p.End.IsZero() || p.End.After(now) {
			p.End = now
		}
		if !p.Start.Before(p.End) {
			return p, "", fmt.Errorf("%w: start %s is not before end %s", ErrInvalidParams, p.Start, p.End)
		}
	} else {
		if p.NBars <= 0 {
			p.NBars = 10
		}
	}
	return p, symbol, nil
}

// GetHistory returns the bar series described by params, ordered ascending
// by timestamp and unique per timestamp. It fails with ErrInvalidSymbol,
// ErrAuthRejected or a wrapped transport error.
func (c *Client) GetHistory(ctx context.Context, params GetHistoryParams) ([]Bar, error) {
	params, symbol, err := params.validate()
	if err != nil {
		return nil, err
	}

	// Serialize against other fetches, including the live scheduler's
	// polling cycles: the upstream tolerates one active session per token.
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	if params.rangeMode() {
		return c.getRange(ctx, params, symbol)
	}

	req := seriesRequest{
		symbol:          symbol,
		interval:        params.Interval,
		nBars:           params.NBars,
		extendedSession: params.ExtendedSession,
	}
	return c.fetchSeries(ctx, req)
}

// fetchSeries runs one single-use session for req. When the upstream
// rejects the token it asks the provider for a replacement and retries the
// same request once before giving up.
func (c *Client) fetchSeries(ctx context.Context, req seriesRequest) ([]Bar, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, authn.ErrNoToken) {
			token = authn.AnonymousToken
			c.logger.Warnf("tvdata: no auth token available, using anonymous access; data may be limited")
		} else {
			return nil, fmt.Errorf("acquire token: %w", err)
		}
	}

	bars, err := c.fetchOnce(ctx, token, req)
	if !errors.Is(err, ErrAuthRejected) {
		return bars, err
	}

	c.logger.Warnf("tvdata: auth token rejected, attempting refresh: %v", err)
	fresh, refreshErr := c.tokens.Refresh(ctx, token)
	if refreshErr != nil {
		return nil, fmt.Errorf("%w: refresh failed: %v", ErrAuthRejected, refreshErr)
	}
	return c.fetchOnce(ctx, fresh, req)
}

func (c *Client) fetchOnce(ctx context.Context, token string, req seriesRequest) ([]Bar, error) {
	s, err := openSession(ctx, c.connCreator, c.baseURL, token, c.logger)
	if err != nil {
		return nil, err
	}
	defer s.close()

	if err := s.requestSeries(ctx, req); err != nil {
		return nil, err
	}
	return s.collect(ctx, req)
}

// planTier resolves the tier used for chunk sizing: an explicitly
// configured plan wins, otherwise a tier the token provider learned during
// sign-in, otherwise the free tier.
func (c *Client) planTier() PlanTier {
	if c.plan != PlanFree {
		return c.plan
	}
	if r, ok := c.tokens.(authn.PlanReporter); ok {
		return r.Plan()
	}
	return PlanFree
}

func (c *Client) getRange(ctx context.Context, params GetHistoryParams, symbol string) ([]Bar, error) {
	start, end := params.Start, params.End
	if clamped, ok := clampRangeStart(start, end, params.Interval); ok {
		c.logger.Warnf("tvdata: upstream serves only ~%d days of %s data, clamping range start from %s to %s",
			maxHistoryDays[params.Interval], params.Interval, civilDay(start), civilDay(clamped))
		start = clamped
	}

	planLimit := PlanBarLimit(c.planTier())
	chunkDays := params.ChunkDays
	if chunkDays <= 0 {
		chunkDays = autoChunkDays(planLimit, params.Interval)
		c.logger.Infof("tvdata: auto chunk size: %d calendar days (%d safe bars at %s interval)",
			chunkDays, safeBarCount(planLimit), params.Interval)
	}

	chunks := planChunks(start, end, chunkDays)
	c.logger.Infof("tvdata: range %s -> %s in %d chunks of %d days",
		civilDay(start), civilDay(end), len(chunks), chunkDays)

	var all []Bar
	consecutiveEmpty := 0
	for i, ch := range chunks {
		if i > 0 {
			if err := sleepCtx(ctx, c.chunkDelay); err != nil {
				return nil, err
			}
		}
		c.logger.Infof("tvdata: chunk %d/%d: %s", i+1, len(chunks), ch)

		bars, err := c.fetchChunk(ctx, params, symbol, ch)
		if err != nil {
			// Terminal errors abort the whole fetch: a partial range would
			// break the contiguous trusted span the caller relies on.
			return nil, fmt.Errorf("chunk %d/%d (%s): %w", i+1, len(chunks), ch, err)
		}
		if len(bars) == 0 {
			consecutiveEmpty++
			c.logger.Warnf("tvdata: chunk %d/%d returned no data", i+1, len(chunks))
			// Several consecutive empty chunks usually mean the range has
			// run past the symbol's available history.
			if consecutiveEmpty >= 3 {
				c.logger.Warnf("tvdata: %d consecutive empty chunks, stopping early", consecutiveEmpty)
				break
			}
			continue
		}
		consecutiveEmpty = 0
		all = append(all, bars...)
	}

	return stitchBars(all, start, end), nil
}

// fetchChunk retries transient failures up to the chunk retry limit.
// Symbol and auth failures are terminal and surface immediately;
// fetchSeries has already spent the single allowed token refresh by the
// time ErrAuthRejected reaches here.
func (c *Client) fetchChunk(ctx context.Context, params GetHistoryParams, symbol string, ch chunk) ([]Bar, error) {
	req := seriesRequest{
		symbol:          symbol,
		interval:        params.Interval,
		nBars:           safeBarCount(PlanBarLimit(c.planTier())),
		rangeSpec:       ch.rangeSpec(params.Interval),
		extendedSession: params.ExtendedSession,
	}

	var lastErr error
	for attempt := 1; attempt <= c.chunkRetryLimit; attempt++ {
		bars, err := c.fetchSeries(ctx, req)
		if err == nil {
			return bars, nil
		}
		if errors.Is(err, ErrInvalidSymbol) || errors.Is(err, ErrAuthRejected) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt < c.chunkRetryLimit {
			retryDelay := time.Duration(attempt) * c.chunkDelay
			c.logger.Warnf("tvdata: chunk fetch failed (attempt %d/%d), retrying in %s: %v",
				attempt, c.chunkRetryLimit, retryDelay, err)
			if err := sleepCtx(ctx, retryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// stitchBars merges chunk results into the final series: duplicates are
// dropped first-seen-wins (earlier chunks take precedence), the result is
// sorted ascending and clipped to the requested [start, end] span.
func stitchBars(bars []Bar, start, end time.Time) []Bar {
	seen := make(map[int64]struct{}, len(bars))
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		ts := b.Timestamp.Unix()
		if _, ok := seen[ts]; ok {
			continue
		}
		seen[ts] = struct{}{}
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
