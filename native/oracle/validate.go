package oracle

import (
	"fmt"
	"math"
)

// FeedBounds carries the per-call validation thresholds. Price and APY
// call sites use different confidence semantics, so the bounds travel with
// the call instead of living as package globals.
type FeedBounds struct {
	// MaxAgeSeconds is the freshness window; snapshots older than this
	// relative to the caller-supplied clock are rejected.
	MaxAgeSeconds int64
	// ConfidenceBound caps the feed's reported uncertainty band.
	ConfidenceBound float64
	// RelativeConfidence interprets ConfidenceBound as a fraction of the
	// decoded reading rather than an absolute amount.
	RelativeConfidence bool
}

// ValidateSnapshot applies the trust checks to a raw feed snapshot and, when
// they all pass, returns the decoded reading unchanged. Checks run in a fixed
// order: source authenticity first, then freshness, then confidence; the
// reading is only decoded once the owner is trusted.
func ValidateSnapshot(snap FeedSnapshot, feedAuthority string, now int64, bounds FeedBounds) (float64, error) {
	if snap.Owner != feedAuthority {
		return 0, fmt.Errorf("%w: owner %q, want %q", ErrInvalidFeedAccount, snap.Owner, feedAuthority)
	}
	if bounds.MaxAgeSeconds > 0 && now-snap.Timestamp > bounds.MaxAgeSeconds {
		return 0, fmt.Errorf("%w: snapshot age %ds exceeds %ds", ErrStaleData, now-snap.Timestamp, bounds.MaxAgeSeconds)
	}
	value, err := snap.Result.Float()
	if err != nil {
		return 0, err
	}
	stdDev, err := snap.StdDev.Float()
	if err != nil {
		return 0, err
	}
	limit := bounds.ConfidenceBound
	if bounds.RelativeConfidence {
		limit = bounds.ConfidenceBound * math.Abs(value)
	}
	if bounds.ConfidenceBound > 0 && math.Abs(stdDev) > limit {
		return 0, fmt.Errorf("%w: std dev %g exceeds bound %g", ErrExceedsConfidenceInterval, stdDev, limit)
	}
	return value, nil
}
