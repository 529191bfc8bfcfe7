// Package sizing computes trade plans (quantity, stop-loss, take-profit) from
// a price, a volatility estimate and a risk budget. It performs no I/O and is
// deterministic given its inputs.
package sizing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"relay-api/pkg/signal"
)

// ErrZeroStopDistance marks a degenerate stop placement (zero volatility);
// quantity is undefined in that case.
var ErrZeroStopDistance = errors.New("sizing: stop distance is zero")

// ContractSpec carries the instrument's tradeable-unit constraints.
type ContractSpec struct {
	MinQty      float64 `yaml:"min_qty"`
	MaxQty      float64 `yaml:"max_qty"`
	QtyStep     float64 `yaml:"qty_step"`
	MinNotional float64 `yaml:"min_notional"`
	TickSize    float64 `yaml:"tick_size"`
}

// Validate ensures the contract constraints are usable.
func (c ContractSpec) Validate() error {
	if c.MinQty < 0 || c.QtyStep < 0 || c.MinNotional < 0 || c.TickSize < 0 {
		return fmt.Errorf("sizing: contract constraints must not be negative")
	}
	if c.MaxQty > 0 && c.MaxQty < c.MinQty {
		return fmt.Errorf("sizing: max_qty %v below min_qty %v", c.MaxQty, c.MinQty)
	}
	return nil
}

// Inputs collects everything a sizing decision depends on.
type Inputs struct {
	Instrument    string
	Direction     signal.Direction
	EntryPrice    float64
	Volatility    float64 // ATR-like estimate in price units
	ATRMultiplier float64
	Balance       float64
	RiskFraction  float64 // fraction of balance risked per trade, (0, 1]
	MaxExposure   float64 // cap on notional as a fraction of balance, (0, 1]
	RiskReward    float64 // target reward-to-risk ratio
	Contract      ContractSpec
}

// Plan is the computed trade plan. AchievedRR may differ from the configured
// target after quantity clamping and is surfaced rather than discarded.
type Plan struct {
	Instrument   string           `json:"instrument"`
	Direction    signal.Direction `json:"direction"`
	Quantity     float64          `json:"quantity"`
	EntryPrice   float64          `json:"entryPrice"`
	StopLoss     float64          `json:"stopLoss"`
	TakeProfit   float64          `json:"takeProfit"`
	RiskAmount   float64          `json:"riskAmount"`
	RewardAmount float64          `json:"rewardAmount"`
	AchievedRR   float64          `json:"achievedRr"`
}

func (in Inputs) validate() error {
	if strings.TrimSpace(in.Instrument) == "" {
		return fmt.Errorf("sizing: instrument is required")
	}
	if in.Direction != signal.DirectionBuy && in.Direction != signal.DirectionSell {
		return fmt.Errorf("sizing: unknown direction %q", in.Direction)
	}
	if in.EntryPrice <= 0 {
		return fmt.Errorf("sizing: entry price must be positive, got %v", in.EntryPrice)
	}
	if in.Volatility < 0 {
		return fmt.Errorf("sizing: volatility must not be negative, got %v", in.Volatility)
	}
	if in.ATRMultiplier <= 0 {
		return fmt.Errorf("sizing: atr multiplier must be positive, got %v", in.ATRMultiplier)
	}
	if in.Balance < 0 {
		return fmt.Errorf("sizing: balance must not be negative, got %v", in.Balance)
	}
	if in.RiskFraction <= 0 || in.RiskFraction > 1 {
		return fmt.Errorf("sizing: risk fraction must be in (0, 1], got %v", in.RiskFraction)
	}
	if in.MaxExposure <= 0 || in.MaxExposure > 1 {
		return fmt.Errorf("sizing: max exposure must be in (0, 1], got %v", in.MaxExposure)
	}
	if in.RiskReward <= 0 {
		return fmt.Errorf("sizing: risk reward ratio must be positive, got %v", in.RiskReward)
	}
	return in.Contract.Validate()
}

// Compute derives a trade plan.
//
// The stop sits ATRMultiplier volatilities away from entry on the loss side.
// Raw quantity risks RiskFraction of balance over the stop distance, capped
// by MaxExposure of balance in notional terms, then raised to the contract's
// minimum quantity and minimum notional floors, and finally rounded to the
// nearest quantity step (floors re-applied after rounding).
func Compute(in Inputs) (*Plan, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	dist := in.Volatility * in.ATRMultiplier
	if dist == 0 {
		return nil, fmt.Errorf("%w: volatility %v, multiplier %v", ErrZeroStopDistance, in.Volatility, in.ATRMultiplier)
	}

	var stop, target float64
	if in.Direction == signal.DirectionBuy {
		stop = in.EntryPrice - dist
		target = in.EntryPrice + dist*in.RiskReward
	} else {
		stop = in.EntryPrice + dist
		target = in.EntryPrice - dist*in.RiskReward
	}
	if stop <= 0 || target <= 0 {
		return nil, fmt.Errorf("sizing: stop %v or target %v not positive at entry %v", stop, target, in.EntryPrice)
	}
	stop = roundToTick(stop, in.Contract.TickSize)
	target = roundToTick(target, in.Contract.TickSize)

	qty := (in.Balance * in.RiskFraction) / dist
	if maxQty := (in.Balance * in.MaxExposure) / in.EntryPrice; qty > maxQty {
		qty = maxQty
	}
	qty = applyFloors(qty, in.EntryPrice, in.Contract)
	qty = roundToStep(qty, in.Contract.QtyStep)
	qty = applyFloors(qty, in.EntryPrice, in.Contract)
	if in.Contract.MaxQty > 0 && qty > in.Contract.MaxQty {
		qty = roundToStep(in.Contract.MaxQty, in.Contract.QtyStep)
	}
	if qty <= 0 {
		return nil, fmt.Errorf("sizing: computed quantity is zero for %s", in.Instrument)
	}

	risk := qty * math.Abs(in.EntryPrice-stop)
	reward := qty * math.Abs(target-in.EntryPrice)
	achieved := 0.0
	if risk > 0 {
		achieved = reward / risk
	}

	return &Plan{
		Instrument:   in.Instrument,
		Direction:    in.Direction,
		Quantity:     qty,
		EntryPrice:   in.EntryPrice,
		StopLoss:     stop,
		TakeProfit:   target,
		RiskAmount:   risk,
		RewardAmount: reward,
		AchievedRR:   achieved,
	}, nil
}

func applyFloors(qty, entry float64, contract ContractSpec) float64 {
	if contract.MinQty > 0 && qty < contract.MinQty {
		qty = contract.MinQty
	}
	if contract.MinNotional > 0 && qty*entry < contract.MinNotional {
		qty = ceilToStep(contract.MinNotional/entry, contract.QtyStep)
	}
	return qty
}

// roundToStep snaps a quantity to the nearest step.
func roundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Round(qty/step) * step
}

// FloorToStep snaps a quantity down to the previous step. Used when shrinking
// a plan to fit a margin budget, where rounding up would overshoot the cap.
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step+1e-9) * step
}

// ceilToStep snaps a quantity up to the next step so floors stay satisfied.
func ceilToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Ceil(qty/step-1e-9) * step
}

func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}
