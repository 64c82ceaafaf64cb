package tvdata

import (
	"time"

	// Required for easyjson generation
	_ "github.com/mailru/easyjson/gen"
)

//go:generate go install github.com/mailru/easyjson/...@v0.7.7
//go:generate easyjson -all -lower_camel_case $GOFILE

// Interval is the bar resolution, in the upstream's wire notation.
type Interval = string

const (
	OneMinute     Interval = "1"
	ThreeMinute   Interval = "3"
	FiveMinute    Interval = "5"
	FifteenMinute Interval = "15"
	ThirtyMinute  Interval = "30"
	FortyFiveMin  Interval = "45"
	OneHour       Interval = "1H"
	TwoHour       Interval = "2H"
	ThreeHour     Interval = "3H"
	FourHour      Interval = "4H"
	Daily         Interval = "1D"
	Weekly        Interval = "1W"
	Monthly       Interval = "1M"
)

// intervalSeconds maps an interval to the nominal length of one bar.
var intervalSeconds = map[Interval]int64{
	OneMinute:     60,
	ThreeMinute:   180,
	FiveMinute:    300,
	FifteenMinute: 900,
	ThirtyMinute:  1800,
	FortyFiveMin:  2700,
	OneHour:       3600,
	TwoHour:       7200,
	ThreeHour:     10800,
	FourHour:      14400,
	Daily:         86400,
	Weekly:        604800,
	Monthly:       2592000,
}

// IntervalDuration returns the nominal length of one bar of the given
// interval. Unknown intervals default to one day.
func IntervalDuration(interval Interval) time.Duration {
	secs, ok := intervalSeconds[interval]
	if !ok {
		secs = 86400
	}
	return time.Duration(secs) * time.Second
}

func intervalIsIntraday(interval Interval) bool {
	secs, ok := intervalSeconds[interval]
	return ok && secs < 86400
}

// maxHistoryDays is the approximate maximum historical depth the upstream
// serves per interval. Conservative estimates; actual depth varies by symbol.
// Daily and above are missing on purpose: they are essentially unlimited.
var maxHistoryDays = map[Interval]int{
	OneMinute:     180,
	ThreeMinute:   365,
	FiveMinute:    365,
	FifteenMinute: 730,
	ThirtyMinute:  730,
	FortyFiveMin:  730,
	OneHour:       730,
	TwoHour:       730,
	ThreeHour:     730,
	FourHour:      730,
}

// PlanTier is the account capability level, as reported by the upstream.
type PlanTier = string

const (
	PlanPremium PlanTier = "pro_premium"
	PlanProPlus PlanTier = "pro_plus"
	PlanPro     PlanTier = "pro"
	// PlanFree covers both free accounts and the anonymous token.
	PlanFree PlanTier = ""
)

// planBarLimits is the maximum number of bars the upstream serves in a
// single series request, per plan tier.
var planBarLimits = map[PlanTier]int{
	PlanPremium: 20_000,
	PlanProPlus: 10_000,
	PlanPro:     10_000,
	PlanFree:    5_000,
}

// PlanBarLimit returns the per-request bar cap for the given tier. Unknown
// tiers get the free limit.
func PlanBarLimit(tier PlanTier) int {
	if limit, ok := planBarLimits[tier]; ok {
		return limit
	}
	return planBarLimits[PlanFree]
}

// Bar is one OHLCV sample for a fixed time bucket.
//
// OpenInterest is set only when the upstream includes a seventh element in
// the bar record, which it does for futures-style instruments. Its presence
// on the wire is the sole signal: it is never inferred from instrument type.
type Bar struct {
	Timestamp    time.Time `json:"timestamp"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	OpenInterest *float64  `json:"openInterest,omitempty"`
}
