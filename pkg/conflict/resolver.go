// Package conflict decides how an accepted signal interacts with an account's
// existing position in the same instrument.
package conflict

import (
	"fmt"

	"relay-api/pkg/exchange"
)

// Kind tags the resolver's verdict.
type Kind string

const (
	// KindExecute means no position stands in the way; proceed to sizing.
	KindExecute Kind = "execute"
	// KindIgnore means take no action for this account.
	KindIgnore Kind = "ignore"
	// KindReverse means close the full position and open the opposite side.
	KindReverse Kind = "reverse"
	// KindPartialClose means reduce the position; no new position is opened.
	KindPartialClose Kind = "partial_close"
)

// Decision is the resolver's verdict for one (account, signal) pair. It is
// consumed immediately and never stored beyond the execution attempt.
type Decision struct {
	Kind     Kind    `json:"kind"`
	Reason   string  `json:"reason,omitempty"`
	ClosePct float64 `json:"closePct,omitempty"`
	PnlPct   float64 `json:"pnlPct,omitempty"`
}

// Config carries the P&L band thresholds (percent of entry price) and the
// daily reversal quota. Bands must be monotonic: HighProfitPct >
// BreakevenFloorPct > MaxLossPct.
type Config struct {
	DailyReversalCap  int      `yaml:"daily_reversal_cap"`
	HighProfitPct     *float64 `yaml:"high_profit_pct"`
	BreakevenFloorPct *float64 `yaml:"breakeven_floor_pct"`
	MaxLossPct        *float64 `yaml:"max_loss_pct"`
	PartialClosePct   *float64 `yaml:"partial_close_pct"`
}

const (
	defaultDailyReversalCap  = 3
	defaultHighProfitPct     = 1.0
	defaultBreakevenFloorPct = -0.5
	defaultMaxLossPct        = -2.0
	defaultPartialClosePct   = 50.0
)

func floatPtr(v float64) *float64 { return &v }

// ApplyDefaults fills unset fields with the standard policy values.
func (c *Config) ApplyDefaults() {
	if c.DailyReversalCap == 0 {
		c.DailyReversalCap = defaultDailyReversalCap
	}
	if c.HighProfitPct == nil {
		c.HighProfitPct = floatPtr(defaultHighProfitPct)
	}
	if c.BreakevenFloorPct == nil {
		c.BreakevenFloorPct = floatPtr(defaultBreakevenFloorPct)
	}
	if c.MaxLossPct == nil {
		c.MaxLossPct = floatPtr(defaultMaxLossPct)
	}
	if c.PartialClosePct == nil {
		c.PartialClosePct = floatPtr(defaultPartialClosePct)
	}
}

// Validate ensures the band thresholds form a usable, monotonic policy.
func (c *Config) Validate() error {
	if c.DailyReversalCap < 0 {
		return fmt.Errorf("conflict config: daily_reversal_cap must not be negative")
	}
	if c.HighProfitPct == nil || c.BreakevenFloorPct == nil || c.MaxLossPct == nil || c.PartialClosePct == nil {
		return fmt.Errorf("conflict config: thresholds are not set; call ApplyDefaults first")
	}
	if *c.HighProfitPct <= *c.BreakevenFloorPct {
		return fmt.Errorf("conflict config: high_profit_pct %v must exceed breakeven_floor_pct %v",
			*c.HighProfitPct, *c.BreakevenFloorPct)
	}
	if *c.BreakevenFloorPct <= *c.MaxLossPct {
		return fmt.Errorf("conflict config: breakeven_floor_pct %v must exceed max_loss_pct %v",
			*c.BreakevenFloorPct, *c.MaxLossPct)
	}
	if *c.PartialClosePct <= 0 || *c.PartialClosePct > 100 {
		return fmt.Errorf("conflict config: partial_close_pct must be in (0, 100], got %v", *c.PartialClosePct)
	}
	return nil
}

// Resolver applies the P&L-banded policy against a shared reversal ledger.
// Each account's decision depends only on that account's own position.
type Resolver struct {
	cfg    Config
	ledger *Ledger
}

// NewResolver constructs a resolver. The config must already be defaulted and
// validated.
func NewResolver(cfg Config, ledger *Ledger) *Resolver {
	return &Resolver{cfg: cfg, ledger: ledger}
}

// Ledger exposes the reversal ledger for reporting and claim release.
func (r *Resolver) Ledger() *Ledger {
	return r.ledger
}

// Resolve decides how the incoming side interacts with the account's current
// position, given a freshly fetched mark price.
//
// Flat accounts always Execute. Same-direction signals are always ignored.
// Opposite-direction signals consult the reversal quota first, then the P&L
// bands: at or above the high-profit threshold the position is partially
// closed to lock profit; between the breakeven floor and high profit the
// position is fully reversed (cheap to unwind); between max loss and the
// breakeven floor it is partially closed to cut risk; beyond max loss the
// signal is ignored and the position held.
//
// A Reverse decision has already claimed one unit of the account's daily
// quota; callers must Release the claim if the closing order fails.
func (r *Resolver) Resolve(account string, pos *exchange.Position, price float64, newSide exchange.Side) Decision {
	if pos.IsFlat() {
		return Decision{Kind: KindExecute, Reason: "no open position"}
	}
	if pos.Side == newSide {
		return Decision{Kind: KindIgnore, Reason: "same direction"}
	}

	pnl := pos.PnlPct(price)
	if r.ledger.Exhausted(account) {
		return Decision{Kind: KindIgnore, Reason: "daily reversal limit reached", PnlPct: pnl}
	}

	switch {
	case pnl >= *r.cfg.HighProfitPct:
		return Decision{
			Kind:     KindPartialClose,
			Reason:   fmt.Sprintf("locking profit at %.2f%%", pnl),
			ClosePct: *r.cfg.PartialClosePct,
			PnlPct:   pnl,
		}
	case pnl >= *r.cfg.BreakevenFloorPct:
		if !r.ledger.Reserve(account) {
			return Decision{Kind: KindIgnore, Reason: "daily reversal limit reached", PnlPct: pnl}
		}
		return Decision{
			Kind:     KindReverse,
			Reason:   fmt.Sprintf("reversing near breakeven at %.2f%%", pnl),
			ClosePct: 100,
			PnlPct:   pnl,
		}
	case pnl >= *r.cfg.MaxLossPct:
		return Decision{
			Kind:     KindPartialClose,
			Reason:   fmt.Sprintf("cutting risk at %.2f%%", pnl),
			ClosePct: *r.cfg.PartialClosePct,
			PnlPct:   pnl,
		}
	default:
		return Decision{
			Kind:   KindIgnore,
			Reason: fmt.Sprintf("holding through drawdown at %.2f%%", pnl),
			PnlPct: pnl,
		}
	}
}
