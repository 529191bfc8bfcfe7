// Package replay drives a recorded price series through the execution
// pipeline against the paper provider. It exists for tuning risk parameters
// and conflict thresholds offline before pointing the engine at a venue.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	executorpkg "relay-api/pkg/executor"
	"relay-api/pkg/exchange/sim"
)

// Engine wires a Feeder, a Strategy and the pipeline into one session over a
// single instrument.
type Engine struct {
	Feeder     Feeder
	Strategy   Strategy
	Provider   *sim.Provider
	Pipeline   *executorpkg.Executor
	Account    executorpkg.Account
	Instrument string

	InitialBalance float64 // defaults to the provider's balance when zero

	// Optional: write a JSON report to this path after the run.
	OutputPath string
}

// Result summarises one replay session.
type Result struct {
	Steps   int `json:"steps"`
	Signals int `json:"signals"`

	Filled  int `json:"filled"`
	Reduced int `json:"reduced"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	FinalEquity    float64      `json:"finalEquity"`
	MaxDrawdownPct float64      `json:"maxDrawdownPct"`
	Sharpe         float64      `json:"sharpe"`
	EquityCurve    []float64    `json:"equityCurve"`
	Details        []StepDetail `json:"details"`
}

// StepDetail records one executed signal for analysis.
type StepDetail struct {
	Step      int     `json:"step"`
	Direction string  `json:"direction"`
	Status    string  `json:"status"`
	Reason    string  `json:"reason,omitempty"`
	OrderID   string  `json:"orderId,omitempty"`
	Qty       float64 `json:"qty,omitempty"`
	Equity    float64 `json:"equity"`
}

func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if e.Feeder == nil || e.Strategy == nil || e.Provider == nil || e.Pipeline == nil || e.Instrument == "" {
		return nil, fmt.Errorf("replay: engine not fully configured")
	}
	if e.InitialBalance > 0 {
		e.Provider.SetBalance(e.InitialBalance)
	}

	res := &Result{}
	for {
		tick, ok, err := e.Feeder.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		res.Steps++
		e.Provider.SetMarkPrice(e.Instrument, tick.Price)

		sig, err := e.Strategy.Decide(ctx, tick)
		if err != nil {
			return nil, err
		}
		if sig != nil {
			res.Signals++
			outcome := e.Pipeline.Execute(ctx, e.Account, *sig)
			res.tally(outcome)
			equity := e.equity(ctx, tick.Price)
			res.Details = append(res.Details, StepDetail{
				Step:      res.Steps,
				Direction: string(sig.Direction),
				Status:    string(outcome.Status),
				Reason:    outcome.Decision.Reason,
				OrderID:   outcome.OrderID,
				Qty:       planQty(outcome),
				Equity:    equity,
			})
		}
		res.EquityCurve = append(res.EquityCurve, e.equity(ctx, tick.Price))
	}

	if n := len(res.EquityCurve); n > 0 {
		res.FinalEquity = res.EquityCurve[n-1]
		res.MaxDrawdownPct = maxDrawdownPct(res.EquityCurve)
		res.Sharpe = sharpe(res.EquityCurve)
	}

	if e.OutputPath != "" {
		if err := writeReport(e.OutputPath, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *Result) tally(outcome executorpkg.Outcome) {
	switch outcome.Status {
	case executorpkg.StatusFilled:
		r.Filled++
	case executorpkg.StatusReduced:
		r.Reduced++
	case executorpkg.StatusSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

func planQty(outcome executorpkg.Outcome) float64 {
	if outcome.Plan == nil {
		return 0
	}
	return outcome.Plan.Quantity
}

func (e *Engine) equity(ctx context.Context, fallbackPx float64) float64 {
	balance, err := e.Provider.GetBalance(ctx)
	if err != nil {
		return fallbackPx
	}
	return balance.Total
}

func maxDrawdownPct(series []float64) float64 {
	peak := series[0]
	mdd := 0.0
	for _, v := range series {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > mdd {
				mdd = dd
			}
		}
	}
	return mdd * 100
}

func sharpe(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		rets = append(rets, equity[i]/equity[i-1]-1)
	}
	if len(rets) == 0 {
		return 0
	}
	m := 0.0
	for _, r := range rets {
		m += r
	}
	m /= float64(len(rets))
	v := 0.0
	for _, r := range rets {
		d := r - m
		v += d * d
	}
	v /= float64(len(rets))
	sd := math.Sqrt(v)
	if sd == 0 {
		return 0
	}
	return m / sd * math.Sqrt(float64(len(rets)))
}

func writeReport(path string, r *Result) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

var _ Strategy = (*ThresholdStrategy)(nil)
