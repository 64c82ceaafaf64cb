package tvdata

import (
	"encoding/json"
	"time"
)

// Outbound protocol messages are JSON objects {"m": method, "p": params}
// wrapped in a frame. Inbound payloads are the same shape; anything that
// does not parse as one (e.g. the initial session banner) is ignored.

type message struct {
	Method string            `json:"m"`
	Params []json.RawMessage `json:"p"`
}

const (
	msgSetAuthToken       = "set_auth_token"
	msgChartCreateSession = "chart_create_session"
	msgQuoteCreateSession = "quote_create_session"
	msgQuoteSetFields     = "quote_set_fields"
	msgQuoteAddSymbols    = "quote_add_symbols"
	msgQuoteFastSymbols   = "quote_fast_symbols"
	msgResolveSymbol      = "resolve_symbol"
	msgCreateSeries       = "create_series"
	msgSwitchTimezone     = "switch_timezone"

	msgSeriesCompleted = "series_completed"
	msgSymbolError     = "symbol_error"
	msgProtocolError   = "protocol_error"
	msgTimescaleUpdate = "timescale_update"
	msgDataUpdate      = "du"
)

// quoteFields is the fixed field list subscribed on the quote session during
// the handshake.
var quoteFields = []string{
	"ch", "chp", "current_session", "description",
	"local_description", "language", "exchange", "fractional",
	"is_tradable", "lp", "lp_time", "minmov", "minmove2",
	"original_name", "pricescale", "pro_name", "short_name",
	"type", "update_mode", "volume", "currency_code", "rchp", "rtc",
}

func encodeMessage(method string, params ...interface{}) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Method string        `json:"m"`
		Params []interface{} `json:"p"`
	}{Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	return encodeFrame(payload), nil
}

// parseMessage decodes a frame payload. ok is false for payloads that are
// not protocol messages.
func parseMessage(payload []byte) (message, bool) {
	var m message
	if err := json.Unmarshal(payload, &m); err != nil || m.Method == "" {
		return message{}, false
	}
	return m, true
}

// errorReason extracts the server-provided reason from an error message's
// first parameter, if any.
func (m message) errorReason() string {
	if len(m.Params) == 0 {
		return ""
	}
	var reason string
	if err := json.Unmarshal(m.Params[0], &reason); err != nil {
		return ""
	}
	return reason
}

// Series aliases under which data messages nest their bar arrays. The
// upstream uses s1 for series created by this client and sds_1 on some
// chart layouts.
var seriesAliases = []string{"s1", "sds_1"}

type seriesNode struct {
	Bars []barNode `json:"s"`
}

type barNode struct {
	Values []float64 `json:"v"`
}

// seriesBars extracts the bar tuples from a timescale_update or du message.
// The bar array sits at a fixed nested path: params[1].{alias}.s[].v, where
// each v is a 6- or 7-element [timestamp, o, h, l, c, volume, openInterest?]
// tuple. Malformed bar records are skipped, not fatal: the upstream
// occasionally interleaves partial updates.
func (m message) seriesBars(logger Logger) []Bar {
	if m.Method != msgTimescaleUpdate && m.Method != msgDataUpdate {
		return nil
	}
	if len(m.Params) < 2 {
		return nil
	}
	var series map[string]json.RawMessage
	if err := json.Unmarshal(m.Params[1], &series); err != nil {
		return nil
	}

	var node seriesNode
	for _, alias := range seriesAliases {
		raw, ok := series[alias]
		if !ok {
			continue
		}
		// Decode into a fresh node: a failed attempt must not leak
		// partially decoded records into the next alias or the result.
		var decoded seriesNode
		if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Bars != nil {
			node = decoded
			break
		}
	}

	bars := make([]Bar, 0, len(node.Bars))
	for _, b := range node.Bars {
		bar, err := parseBarTuple(b.Values)
		if err != nil {
			logger.Warnf("tvdata: skipping malformed bar: %v", err)
			continue
		}
		bars = append(bars, bar)
	}
	return bars
}

// unixTime converts the wire timestamp (epoch seconds, exchange-local
// instant) to a time.Time.
func unixTime(sec float64) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

func parseBarTuple(v []float64) (Bar, error) {
	if len(v) < 5 {
		return Bar{}, errShortBarTuple
	}
	bar := Bar{
		Timestamp: unixTime(v[0]),
		Open:      v[1],
		High:      v[2],
		Low:       v[3],
		Close:     v[4],
	}
	if len(v) > 5 {
		bar.Volume = v[5]
	}
	if len(v) > 6 {
		oi := v[6]
		bar.OpenInterest = &oi
	}
	return bar, nil
}
