// Package signal defines the normalized trading signal model shared by the
// intake, arbitration and execution layers.
package signal

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid marks a malformed signal. Wrapped errors carry the field detail.
var ErrInvalid = errors.New("invalid signal")

// Direction is the requested trade direction.
type Direction string

const (
	// DirectionBuy requests long exposure.
	DirectionBuy Direction = "BUY"
	// DirectionSell requests short exposure.
	DirectionSell Direction = "SELL"
)

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// ParseDirection normalizes the ingress vocabulary into a Direction.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG":
		return DirectionBuy, nil
	case "SELL", "SHORT":
		return DirectionSell, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalid, raw)
	}
}

// Signal is one directional trading signal. Immutable once created; identity
// for dedup purposes is (instrument, direction, arrival timestamp).
type Signal struct {
	Instrument string    `json:"instrument"`
	Direction  Direction `json:"direction"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Validate reports whether the signal is well formed.
func (s Signal) Validate() error {
	if strings.TrimSpace(s.Instrument) == "" {
		return fmt.Errorf("%w: instrument is required", ErrInvalid)
	}
	if s.Direction != DirectionBuy && s.Direction != DirectionSell {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalid, s.Direction)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalid)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be in [0, 1], got %v", ErrInvalid, s.Confidence)
	}
	return nil
}

// Key returns the dedup identity string for the signal.
func (s Signal) Key() string {
	return fmt.Sprintf("%s:%s:%d", strings.ToUpper(s.Instrument), s.Direction, s.Timestamp.UnixMilli())
}
