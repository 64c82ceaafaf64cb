package tvdata

import (
	"bytes"
	"strconv"
)

// The wire framing is ~m~{decimalByteLength}~m~{payload}. Heartbeat payloads
// start with ~h~ and carry a sequence number instead of JSON.

const frameMarker = "~m~"

const heartbeatMarker = "~h~"

// encodeFrame wraps a single payload in the length-prefixed wire form.
func encodeFrame(payload []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(payload) + 2*len(frameMarker) + 10)
	b.WriteString(frameMarker)
	b.WriteString(strconv.Itoa(len(payload)))
	b.WriteString(frameMarker)
	b.Write(payload)
	return b.Bytes()
}

// isHeartbeat reports whether a decoded payload is a keep-alive frame.
func isHeartbeat(payload []byte) bool {
	return bytes.HasPrefix(payload, []byte(heartbeatMarker))
}

// frameScanner splits an inbound byte stream into frame payloads. A single
// read may carry several frames, and a frame boundary may be split across
// reads, so the scanner buffers an incomplete trailing frame until more
// bytes arrive.
type frameScanner struct {
	buf []byte
}

// push appends raw bytes received from the transport.
func (s *frameScanner) push(data []byte) {
	s.buf = append(s.buf, data...)
}

// next returns the next complete frame payload, or ok=false when the buffer
// holds no complete frame. Heartbeat payloads are returned as-is: the caller
// decides whether to echo them, but they are never parsed as messages.
func (s *frameScanner) next() (payload []byte, ok bool) {
	marker := []byte(frameMarker)
	start := bytes.Index(s.buf, marker)
	if start < 0 {
		return nil, false
	}
	rest := s.buf[start+len(marker):]
	lenEnd := bytes.Index(rest, marker)
	if lenEnd < 0 {
		return nil, false
	}
	size, err := strconv.Atoi(string(rest[:lenEnd]))
	if err != nil || size < 0 {
		// Corrupt length prefix: skip past this marker and resync.
		s.buf = s.buf[start+len(marker):]
		return s.next()
	}
	body := rest[lenEnd+len(marker):]
	if len(body) < size {
		return nil, false
	}
	payload = append([]byte(nil), body[:size]...)
	s.buf = body[size:]
	return payload, true
}
