package tvdata

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSymbol is returned when the upstream could not resolve the
	// requested symbol/exchange pair. It is terminal and never retried.
	ErrInvalidSymbol = errors.New("invalid symbol: check the exchange and symbol name")
	// ErrAuthRejected is returned when the upstream rejected the auth token
	// and a replacement could not be obtained.
	ErrAuthRejected = errors.New("auth token rejected")
	// ErrInvalidParams is returned when a history request fails validation.
	ErrInvalidParams = errors.New("invalid history params")
	// ErrSeriesTimeout is returned when the upstream stopped responding
	// before completing a series.
	ErrSeriesTimeout = errors.New("timed out waiting for series data")
)

// errShortBarTuple marks a bar record with fewer than the 5 required OHLC
// elements.
var errShortBarTuple = errors.New("bar tuple has fewer than 5 elements")

// protocolError is the upstream's signal that the current auth token is
// invalid or expired. It is mapped to ErrAuthRejected so callers can use
// errors.Is, while preserving the server-provided reason.
type protocolError struct {
	reason string
}

func (e protocolError) Error() string {
	if e.reason == "" {
		return "protocol error from server"
	}
	return fmt.Sprintf("protocol error from server: %s", e.reason)
}

func (e protocolError) Is(target error) bool {
	return target == ErrAuthRejected
}
