package replay

import (
	"context"

	"relay-api/pkg/signal"
)

// Strategy maps a price tick into at most one trading signal.
type Strategy interface {
	Decide(ctx context.Context, tick Tick) (*signal.Signal, error)
}

// ThresholdStrategy emits a BUY when price rises by at least ThresholdPct
// versus the previous tick and a SELL when it falls by at least as much.
type ThresholdStrategy struct {
	Instrument   string
	ThresholdPct float64
	Confidence   float64

	last float64
}

func (s *ThresholdStrategy) Decide(ctx context.Context, tick Tick) (*signal.Signal, error) {
	prev := s.last
	s.last = tick.Price
	if prev == 0 {
		return nil, nil
	}
	pct := (tick.Price - prev) / prev * 100

	var direction signal.Direction
	switch {
	case pct >= s.ThresholdPct:
		direction = signal.DirectionBuy
	case pct <= -s.ThresholdPct:
		direction = signal.DirectionSell
	default:
		return nil, nil
	}
	return &signal.Signal{
		Instrument: s.Instrument,
		Direction:  direction,
		Timestamp:  tick.At,
		Confidence: s.Confidence,
	}, nil
}
