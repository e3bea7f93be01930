package oracle

import "errors"

var (
	// ErrNonFinite indicates a scaled-decimal reading decoded to an
	// infinite or NaN value.
	ErrNonFinite = errors.New("oracle: decoded value is not finite")

	// ErrStaleData indicates the feed snapshot is older than the allowed
	// freshness window.
	ErrStaleData = errors.New("oracle: stale feed data")

	// ErrExceedsConfidenceInterval indicates the feed's reported
	// uncertainty band is wider than the caller allows.
	ErrExceedsConfidenceInterval = errors.New("oracle: feed confidence interval exceeded")

	// ErrInvalidFeedAccount indicates the snapshot's declared owner does
	// not match the registered feed authority.
	ErrInvalidFeedAccount = errors.New("oracle: invalid feed account")

	// ErrAssetNotFound indicates the registry holds no slot for the asset.
	ErrAssetNotFound = errors.New("oracle: asset not found")

	// ErrMaxAssetsReached indicates the dynamic registry is at capacity.
	ErrMaxAssetsReached = errors.New("oracle: max assets reached")

	// ErrPriceChangeExceedsLimit indicates the update breached the bounded
	// volatility rule. It is the only failure with a durable side effect:
	// the facade trips the emergency stop before propagating it.
	ErrPriceChangeExceedsLimit = errors.New("oracle: price change exceeds limit")

	// ErrInvalidValue indicates a negative or non-finite value reached the
	// ledger; the record is left untouched.
	ErrInvalidValue = errors.New("oracle: invalid price value")

	// ErrStopped indicates the emergency stop is engaged and the mutating
	// operation was refused.
	ErrStopped = errors.New("oracle: emergency stop engaged")

	// ErrUnauthorized indicates the caller is not the header authority.
	ErrUnauthorized = errors.New("oracle: unauthorized")

	// ErrDataNotAvailable indicates the asset's record has never been
	// updated.
	ErrDataNotAvailable = errors.New("oracle: data not available")

	// ErrNotInitialized indicates the store has no header; Initialize must
	// run first.
	ErrNotInitialized = errors.New("oracle: not initialized")
)
