// Package executor runs the resolve-conflict, size-position, place-order
// pipeline for a single account.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"relay-api/pkg/conflict"
	"relay-api/pkg/exchange"
	"relay-api/pkg/signal"
	"relay-api/pkg/sizing"
)

// Executor orchestrates one account's execution pipeline. It is safe for
// concurrent use across accounts; per-account state lives on the Account and
// the shared reversal ledger handles its own locking.
type Executor struct {
	cfg      *Config
	resolver *conflict.Resolver
	now      func() time.Time
}

// Option customises the executor.
type Option func(*Executor)

// WithClock overrides the time source (primarily for testing).
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an executor sharing one conflict resolver across accounts.
func New(cfg *Config, resolver *conflict.Resolver, opts ...Option) *Executor {
	e := &Executor{cfg: cfg, resolver: resolver, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolver exposes the shared conflict resolver.
func (e *Executor) Resolver() *conflict.Resolver {
	return e.resolver
}

// Execute runs the full pipeline for one account. It never panics or returns
// an error; every path ends in a structured Outcome so sibling accounts are
// unaffected.
func (e *Executor) Execute(ctx context.Context, account Account, sig signal.Signal) (out Outcome) {
	started := e.now()
	out = Outcome{
		AccountID:  account.ID,
		Instrument: sig.Instrument,
		Direction:  sig.Direction,
	}
	defer func() {
		out.Elapsed = e.now().Sub(started)
	}()

	fail := func(kind FailKind, err error) Outcome {
		out.Status = StatusFailed
		out.FailKind = kind
		out.Error = err.Error()
		logx.WithContext(ctx).Errorf("executor: account %s %s %s: %s: %v",
			account.ID, sig.Direction, sig.Instrument, kind, err)
		return out
	}

	if err := sig.Validate(); err != nil {
		return fail(FailValidation, err)
	}
	contract, ok := e.cfg.ContractFor(sig.Instrument)
	if !ok {
		return fail(FailValidation, fmt.Errorf("executor: unsupported instrument %q", sig.Instrument))
	}

	price, err := e.fetchPrice(ctx, account, sig.Instrument)
	if err != nil {
		return fail(FailMarketData, err)
	}
	volatility, err := e.fetchVolatility(ctx, account, sig.Instrument)
	if err != nil {
		return fail(FailMarketData, err)
	}
	balance, err := e.fetchBalance(ctx, account)
	if err != nil {
		return fail(FailAccountData, err)
	}
	position, err := e.fetchPosition(ctx, account, sig.Instrument)
	if err != nil {
		return fail(FailAccountData, err)
	}

	decision := e.resolver.Resolve(account.ID, position, price, sideFor(sig.Direction))
	out.Decision = decision

	switch decision.Kind {
	case conflict.KindIgnore:
		out.Status = StatusSkipped
		logx.WithContext(ctx).Infof("executor: account %s skipping %s %s: %s",
			account.ID, sig.Direction, sig.Instrument, decision.Reason)
		return out

	case conflict.KindPartialClose:
		if err := e.closePosition(ctx, account, sig.Instrument, decision.ClosePct); err != nil {
			return fail(classifyOrderErr(err), err)
		}
		out.Status = StatusReduced
		out.Success = true
		logx.WithContext(ctx).Infof("executor: account %s reduced %s by %.0f%%: %s",
			account.ID, sig.Instrument, decision.ClosePct, decision.Reason)
		return out

	case conflict.KindReverse:
		if err := e.closePosition(ctx, account, sig.Instrument, 100); err != nil {
			e.resolver.Ledger().Release(account.ID)
			return fail(classifyOrderErr(err), err)
		}
		logx.WithContext(ctx).Infof("executor: account %s reversed out of %s: %s",
			account.ID, sig.Instrument, decision.Reason)
		// Closed funds are available again for the opposite side.
		if refreshed, balErr := e.fetchBalance(ctx, account); balErr == nil {
			balance = refreshed
		}
	}

	plan, err := sizing.Compute(sizing.Inputs{
		Instrument:    sig.Instrument,
		Direction:     sig.Direction,
		EntryPrice:    price,
		Volatility:    volatility,
		ATRMultiplier: account.Risk.ATRMultiplier,
		Balance:       balance.Available,
		RiskFraction:  account.Risk.RiskFraction,
		MaxExposure:   account.Risk.MaxExposure,
		RiskReward:    account.Risk.RiskReward,
		Contract:      contract,
	})
	if err != nil {
		return fail(FailSizing, err)
	}

	plan, err = fitToMargin(plan, contract, account.Risk, balance.Available)
	if err != nil {
		return fail(FailInsufficientBalance, err)
	}
	out.Plan = plan

	e.pushLeverage(ctx, account, sig.Instrument)

	ack, err := e.placeOrder(ctx, account, exchange.Order{
		Instrument: sig.Instrument,
		Side:       sideFor(sig.Direction),
		Qty:        plan.Quantity,
		StopLoss:   plan.StopLoss,
		TakeProfit: plan.TakeProfit,
	})
	if err != nil {
		return fail(classifyOrderErr(err), err)
	}

	out.Status = StatusFilled
	out.Success = true
	out.OrderID = ack.OrderID
	logx.WithContext(ctx).Infof("executor: account %s opened %s %s qty=%v sl=%v tp=%v order=%s",
		account.ID, sig.Direction, sig.Instrument, plan.Quantity, plan.StopLoss, plan.TakeProfit, ack.OrderID)
	return out
}

// fitToMargin scales the plan down when required margin exceeds the safe
// fraction of available balance. The trade is only refused when no valid
// smaller size exists.
func fitToMargin(plan *sizing.Plan, contract sizing.ContractSpec, risk RiskParams, available float64) (*sizing.Plan, error) {
	leverage := float64(risk.Leverage)
	required := plan.Quantity * plan.EntryPrice / leverage
	budget := available * risk.MarginUseFraction
	if required <= budget {
		return plan, nil
	}

	qty := sizing.FloorToStep(budget*leverage/plan.EntryPrice, contract.QtyStep)
	if qty <= 0 || qty < contract.MinQty || qty*plan.EntryPrice < contract.MinNotional {
		return nil, fmt.Errorf("executor: required margin %.2f exceeds budget %.2f and no valid smaller size exists",
			required, budget)
	}

	scale := qty / plan.Quantity
	fitted := *plan
	fitted.Quantity = qty
	fitted.RiskAmount = plan.RiskAmount * scale
	fitted.RewardAmount = plan.RewardAmount * scale
	return &fitted, nil
}

func (e *Executor) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

func (e *Executor) fetchPrice(ctx context.Context, account Account, instrument string) (float64, error) {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	return account.Provider.GetPrice(callCtx, instrument)
}

func (e *Executor) fetchVolatility(ctx context.Context, account Account, instrument string) (float64, error) {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	return account.Provider.GetVolatility(callCtx, instrument)
}

func (e *Executor) fetchBalance(ctx context.Context, account Account) (*exchange.Balance, error) {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	return account.Provider.GetBalance(callCtx)
}

func (e *Executor) fetchPosition(ctx context.Context, account Account, instrument string) (*exchange.Position, error) {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	return account.Provider.GetPosition(callCtx, instrument)
}

func (e *Executor) closePosition(ctx context.Context, account Account, instrument string, pct float64) error {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	return account.Provider.ClosePosition(callCtx, instrument, pct)
}

func (e *Executor) placeOrder(ctx context.Context, account Account, order exchange.Order) (*exchange.OrderAck, error) {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	return account.Provider.PlaceOrder(callCtx, order)
}

// pushLeverage is best effort; venues reject unchanged leverage and that is
// not a reason to drop the trade.
func (e *Executor) pushLeverage(ctx context.Context, account Account, instrument string) {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	if err := account.Provider.SetLeverage(callCtx, instrument, account.Risk.Leverage); err != nil {
		logx.WithContext(ctx).Infof("executor: account %s set leverage %dx on %s: %v",
			account.ID, account.Risk.Leverage, instrument, err)
	}
}
