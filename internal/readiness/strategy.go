package readiness

import "time"

// Strategy selects how aggressively readiness checks wait before
// capture proceeds.
type Strategy string

const (
	StrategyStrict Strategy = "strict"
	StrategyNormal Strategy = "normal"
	StrategyEager  Strategy = "eager"
)

// ParseStrategy maps a request string to a Strategy, defaulting to
// normal for unknown or empty values.
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyStrict, StrategyNormal, StrategyEager:
		return Strategy(s)
	default:
		return StrategyNormal
	}
}

// Profile holds the per-strategy tuning knobs. An ImageWait of zero
// skips the image-completeness check entirely.
type Profile struct {
	ImageWait   time.Duration
	MinHeight   int
	WaitVisible bool
	HeightWait  time.Duration
}

// ProfileFor returns the tuning profile for a strategy.
func ProfileFor(s Strategy) Profile {
	switch s {
	case StrategyStrict:
		return Profile{ImageWait: 15 * time.Second, MinHeight: 150, WaitVisible: true, HeightWait: 5 * time.Second}
	case StrategyEager:
		return Profile{ImageWait: 0, MinHeight: 50, WaitVisible: false, HeightWait: time.Second}
	default:
		return Profile{ImageWait: 8 * time.Second, MinHeight: 50, WaitVisible: true, HeightWait: 3 * time.Second}
	}
}
