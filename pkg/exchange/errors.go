package exchange

import (
	"errors"
	"fmt"
)

// Sentinel errors let callers classify provider failures without inspecting
// venue-specific payloads. Providers wrap these with %w and add context.
var (
	// ErrPriceUnavailable marks a failed or empty price lookup.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrVolatilityUnavailable marks a failed volatility estimate.
	ErrVolatilityUnavailable = errors.New("volatility unavailable")
	// ErrBalanceUnavailable marks a failed wallet balance fetch.
	ErrBalanceUnavailable = errors.New("balance unavailable")
	// ErrPositionUnavailable marks a failed position fetch.
	ErrPositionUnavailable = errors.New("position unavailable")
	// ErrRateLimited marks a venue-side rate limit response.
	ErrRateLimited = errors.New("rate limited")
)

// RejectedError carries the venue's own refusal reason for an order request.
type RejectedError struct {
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange rejected (code %d): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("exchange rejected: %s", e.Reason)
}

// IsRejected reports whether err carries a venue refusal.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
