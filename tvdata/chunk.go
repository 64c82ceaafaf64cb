package tvdata

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// chunkMarginFraction is the safety margin applied to the plan's bar limit
// when sizing chunks, so a chunk's nominal bar count stays below the point
// where the server starts truncating responses.
const chunkMarginFraction = 0.8

// intradayBufferMillis is subtracted from both ends of an intraday chunk's
// millisecond range so a bar sitting exactly on the boundary is not clipped.
const intradayBufferMillis = 1_800_000 // 30 minutes

// chunk is one sub-range of a larger date-range fetch, bounded by the
// upstream's per-request bar cap. Chunks are contiguous and non-overlapping
// in nominal boundaries; over-fetch happens only through the intraday
// buffer.
type chunk struct {
	start time.Time
	end   time.Time
}

func (c chunk) String() string {
	return fmt.Sprintf("%s -> %s", civil.DateOf(c.start), civil.DateOf(c.end))
}

// rangeSpec renders the chunk as the series request's range argument.
func (c chunk) rangeSpec(interval Interval) string {
	startMs := c.start.UnixMilli()
	endMs := c.end.UnixMilli()
	if intervalIsIntraday(interval) {
		startMs -= intradayBufferMillis
		endMs -= intradayBufferMillis
	}
	return fmt.Sprintf("r,%d:%d", startMs, endMs)
}

func civilDay(t time.Time) civil.Date {
	return civil.DateOf(t)
}

// safeBarCount applies the safety margin to a plan's per-request limit.
func safeBarCount(planLimit int) int {
	return int(float64(planLimit) * chunkMarginFraction)
}

// autoChunkDays derives the chunk size in calendar days from the account's
// bar budget and the interval's bar density. Never less than one day.
func autoChunkDays(planLimit int, interval Interval) int {
	secs, ok := intervalSeconds[interval]
	if !ok {
		secs = 86400
	}
	days := int(int64(safeBarCount(planLimit)) * secs / 86400)
	if days < 1 {
		days = 1
	}
	return days
}

// planChunks partitions [start, end] into consecutive chunks of chunkDays
// calendar days, the last one clipped to end. A range shorter than one
// chunk yields exactly one chunk.
func planChunks(start, end time.Time, chunkDays int) []chunk {
	var chunks []chunk
	for cur := start; cur.Before(end); {
		next := cur.AddDate(0, 0, chunkDays)
		if next.After(end) {
			next = end
		}
		chunks = append(chunks, chunk{start: cur, end: next})
		cur = next
	}
	return chunks
}

// clampRangeStart pulls the range start forward when it exceeds the
// upstream's historical depth for the interval. Returns the possibly
// adjusted start and whether clamping happened.
func clampRangeStart(start, end time.Time, interval Interval) (time.Time, bool) {
	maxDays, ok := maxHistoryDays[interval]
	if !ok {
		return start, false
	}
	earliest := end.AddDate(0, 0, -maxDays)
	if start.Before(earliest) {
		return earliest, true
	}
	return start, false
}
