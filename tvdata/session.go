package tvdata

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"time"
)

const (
	defaultBaseURL = "wss://data.tradingview.com/socket.io/websocket"
	defaultOrigin  = "https://data.tradingview.com"
)

// sessionState tracks the protocol session's lifecycle. Sessions are
// single-use: after Completed or a terminal error the connection is torn
// down and a fresh session with new ids is created for the next request.
type sessionState int

const (
	stateNew sessionState = iota
	stateConnected
	stateAuthenticated
	stateSeriesRequested
	stateCompleted
	stateSymbolError
	stateProtocolError
	stateClosed
)

const sessionIDLength = 12

var sessionIDLetters = []byte("abcdefghijklmnopqrstuvwxyz")

// newSessionID generates a fresh per-connection identifier: a fixed prefix
// ("qs_" for quote, "cs_" for chart) plus 12 random lowercase letters.
func newSessionID(prefix string) string {
	b := make([]byte, sessionIDLength)
	for i := range b {
		b[i] = sessionIDLetters[rand.Intn(len(sessionIDLetters))]
	}
	return prefix + string(b)
}

// session owns one transport connection and the two logical sub-sessions
// (quote and chart) multiplexed on it. It drives the handshake message
// sequence and classifies inbound messages while collecting a series.
type session struct {
	conn         conn
	logger       Logger
	token        string
	quoteSession string
	chartSession string
	scanner      frameScanner
	state        sessionState
}

type seriesRequest struct {
	symbol          string // already exchange-qualified
	interval        Interval
	nBars           int
	rangeSpec       string // "r,{startMs}:{endMs}"; empty in bounded-count mode
	extendedSession bool
}

func (r seriesRequest) readTimeout() time.Duration {
	if r.rangeSpec != "" {
		return rangeReadTimeout
	}
	return countReadTimeout
}

type connCreator func(ctx context.Context, u url.URL) (conn, error)

// openSession dials the transport and sends the auth token. The protocol
// sends no explicit ack for set_auth_token; a bad token surfaces later as a
// protocol_error message, so authentication here is fire-and-forget.
func openSession(ctx context.Context, creator connCreator, baseURL, token string, logger Logger) (*session, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	c, err := creator(ctx, *u)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", baseURL, err)
	}

	s := &session{
		conn:         c,
		logger:       logger,
		token:        token,
		quoteSession: newSessionID("qs_"),
		chartSession: newSessionID("cs_"),
		state:        stateConnected,
	}
	if err := s.send(ctx, msgSetAuthToken, token); err != nil {
		s.close()
		return nil, err
	}
	s.state = stateAuthenticated
	return s, nil
}

func (s *session) send(ctx context.Context, method string, params ...interface{}) error {
	frame, err := encodeMessage(method, params...)
	if err != nil {
		return err
	}
	if err := s.conn.writeMessage(ctx, frame); err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}
	return nil
}

// requestSeries sends the full chart/quote setup sequence followed by the
// series-creation request. Bounded-count mode sends create_series with 6
// positional fields; date-range mode appends the range spec as a 7th.
func (s *session) requestSeries(ctx context.Context, req seriesRequest) error {
	quoteParams := make([]interface{}, 0, len(quoteFields)+1)
	quoteParams = append(quoteParams, s.quoteSession)
	for _, f := range quoteFields {
		quoteParams = append(quoteParams, f)
	}

	sessionKind := "regular"
	if req.extendedSession {
		sessionKind = "extended"
	}
	resolveSpec := fmt.Sprintf(`={"symbol":"%s","adjustment":"splits","session":"%s"}`, req.symbol, sessionKind)

	seriesParams := []interface{}{s.chartSession, "s1", "s1", "symbol_1", req.interval, req.nBars}
	if req.rangeSpec != "" {
		seriesParams = append(seriesParams, req.rangeSpec)
	}

	steps := []struct {
		method string
		params []interface{}
	}{
		{msgChartCreateSession, []interface{}{s.chartSession, ""}},
		{msgQuoteCreateSession, []interface{}{s.quoteSession}},
		{msgQuoteSetFields, quoteParams},
		{msgQuoteAddSymbols, []interface{}{s.quoteSession, req.symbol, map[string]interface{}{"flags": []string{"force_permission"}}}},
		{msgQuoteFastSymbols, []interface{}{s.quoteSession, req.symbol}},
		{msgResolveSymbol, []interface{}{s.chartSession, "symbol_1", resolveSpec}},
		{msgCreateSeries, seriesParams},
		{msgSwitchTimezone, []interface{}{s.chartSession, "exchange"}},
	}
	for _, step := range steps {
		if err := s.send(ctx, step.method, step.params...); err != nil {
			return err
		}
	}
	s.state = stateSeriesRequested
	return nil
}

// collect reads inbound frames until the series terminates. Data messages
// are accumulated; heartbeats are echoed back and dropped; series_completed
// ends the collection, symbol_error and protocol_error abort it.
func (s *session) collect(ctx context.Context, req seriesRequest) ([]Bar, error) {
	var bars []Bar
	for {
		readCtx, cancel := context.WithTimeout(ctx, req.readTimeout())
		data, err := s.conn.readMessage(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%w after %d bars", ErrSeriesTimeout, len(bars))
			}
			return nil, fmt.Errorf("read series: %w", err)
		}
		s.scanner.push(data)

		for {
			payload, ok := s.scanner.next()
			if !ok {
				break
			}
			if isHeartbeat(payload) {
				// The upstream expects heartbeats echoed back to keep the
				// socket open.
				if err := s.conn.writeMessage(ctx, encodeFrame(payload)); err != nil {
					s.logger.Warnf("tvdata: heartbeat echo failed: %v", err)
				}
				continue
			}
			m, ok := parseMessage(payload)
			if !ok {
				continue
			}
			switch m.Method {
			case msgSeriesCompleted:
				s.state = stateCompleted
				return bars, nil
			case msgSymbolError:
				s.state = stateSymbolError
				return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, req.symbol)
			case msgProtocolError:
				s.state = stateProtocolError
				return nil, protocolError{reason: m.errorReason()}
			default:
				bars = append(bars, m.seriesBars(s.logger)...)
			}
		}
	}
}

func (s *session) close() {
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed
	if err := s.conn.close(); err != nil {
		s.logger.Warnf("tvdata: closing connection: %v", err)
	}
}
