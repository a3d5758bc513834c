package models

import "errors"

// Error taxonomy. Detection errors are isolated per symbol per tick; only
// configuration errors are fatal, and only at startup.
var (
	// ErrDataGap means a resolution had missing or insufficient bars; the
	// resolution is excluded from the cycle, not fatal.
	ErrDataGap = errors.New("insufficient bars for resolution")

	// ErrStaleData means the source returned nothing newer than the
	// watermark; the symbol's cycle is skipped and retried next tick.
	ErrStaleData = errors.New("no bars beyond watermark")

	// ErrDelivery means an external sink (alerts or persistence) stayed
	// unreachable after bounded retries.
	ErrDelivery = errors.New("external delivery failed")
)
