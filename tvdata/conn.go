package tvdata

import (
	"context"
	"time"
)

// conn represents a websocket connection between the client and the upstream
type conn interface {
	// close closes the websocket connection
	close() error
	// readMessage blocks until it reads a single message
	readMessage(ctx context.Context) (data []byte, err error)
	// writeMessage writes a single message
	writeMessage(ctx context.Context, data []byte) error
}

var (
	dialTimeout = 5 * time.Second // Time allowed to establish the websocket connection
	writeWait   = 5 * time.Second // Time allowed to write a message to the peer
)

// Per-request read deadlines. Range chunk responses are paginated server
// side and arrive noticeably slower than bounded-count responses.
var (
	countReadTimeout = 5 * time.Second
	rangeReadTimeout = 30 * time.Second
)
