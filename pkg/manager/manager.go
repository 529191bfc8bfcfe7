// Package manager fans accepted signals out across the configured account
// fleet and aggregates per-account outcomes into one report.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	arbiterpkg "relay-api/pkg/arbiter"
	"relay-api/pkg/conflict"
	"relay-api/pkg/exchange"
	executorpkg "relay-api/pkg/executor"
	"relay-api/pkg/journal"
	"relay-api/pkg/signal"
)

// Report aggregates one outcome per account for a single signal. Overall
// Success uses at-least-one-succeeded semantics; partial fleet success stays
// visible through the counts rather than being masked as total failure.
type Report struct {
	Signal       signal.Signal        `json:"signal"`
	Outcomes     []executorpkg.Outcome `json:"outcomes"`
	SuccessCount int                  `json:"successCount"`
	FailCount    int                  `json:"failCount"`
	Success      bool                 `json:"success"`
	StartedAt    time.Time            `json:"startedAt"`
	FinishedAt   time.Time            `json:"finishedAt"`
}

// Status is a point-in-time view of the engine for the status endpoint.
type Status struct {
	Accounts    []string                      `json:"accounts"`
	Instruments []arbiterpkg.InstrumentStatus `json:"instruments"`
	Reversals   map[string]int                `json:"reversals"`
	ReversalCap int                           `json:"reversalCap"`
}

// Manager owns the intake gate, the shared executor and the account fleet.
type Manager struct {
	cfg      *Config
	arbiter  *arbiterpkg.Arbiter
	executor *executorpkg.Executor
	accounts []executorpkg.Account

	journal     *journal.Writer
	persistence PersistenceService
	now         func() time.Time

	loopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option customises manager construction.
type Option func(*Manager)

// WithPersistence installs a persistence hook for execution reports.
func WithPersistence(service PersistenceService) Option {
	return func(m *Manager) {
		if service != nil {
			m.persistence = service
		}
	}
}

// WithJournal overrides the journal writer.
func WithJournal(writer *journal.Writer) Option {
	return func(m *Manager) {
		if writer != nil {
			m.journal = writer
		}
	}
}

// WithClock overrides the time source (primarily for testing).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New wires the engine from configuration and already-built exchange
// providers. Every enabled account must resolve to a provider.
func New(cfg *Config, providers map[string]exchange.Provider, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("manager: config is required")
	}

	ledger := conflict.NewLedger(cfg.Pipeline.Conflict.DailyReversalCap)
	resolver := conflict.NewResolver(cfg.Pipeline.Conflict, ledger)

	m := &Manager{
		cfg:         cfg,
		arbiter:     arbiterpkg.New(cfg.Arbiter),
		executor:    executorpkg.New(&cfg.Pipeline, resolver),
		journal:     journal.NewWriter(cfg.JournalDir),
		persistence: newNoopPersistenceService(),
		now:         time.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	for _, accountCfg := range cfg.Accounts {
		if accountCfg.Disabled {
			continue
		}
		provider, ok := providers[accountCfg.Exchange]
		if !ok {
			return nil, fmt.Errorf("manager: account %s references unknown exchange provider %q",
				accountCfg.ID, accountCfg.Exchange)
		}
		m.accounts = append(m.accounts, executorpkg.Account{
			ID:       accountCfg.ID,
			Provider: provider,
			Risk:     cfg.Pipeline.RiskFor(accountCfg.ID),
		})
	}

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Arbiter exposes the intake gate.
func (m *Manager) Arbiter() *arbiterpkg.Arbiter {
	return m.arbiter
}

// Submit gates one raw signal and, when accepted, executes it across the
// fleet. The report is nil when the signal was rejected or buffered.
func (m *Manager) Submit(ctx context.Context, sig signal.Signal) (arbiterpkg.Outcome, *Report) {
	outcome := m.arbiter.Submit(sig)
	if !outcome.Accepted {
		logx.WithContext(ctx).Infof("manager: signal %s %s not executed: %s",
			sig.Direction, sig.Instrument, outcome.Reason)
		return outcome, nil
	}
	return outcome, m.ExecuteSignal(ctx, sig)
}

// ExecuteSignal fans one accepted signal out to every account concurrently.
// Accounts are isolated failure domains: a panic or error in one pipeline
// never blocks or cancels the others, and the report always materialises.
func (m *Manager) ExecuteSignal(ctx context.Context, sig signal.Signal) *Report {
	report := &Report{Signal: sig, StartedAt: m.now()}

	results := make(chan executorpkg.Outcome, len(m.accounts))
	var wg sync.WaitGroup
	for _, account := range m.accounts {
		wg.Add(1)
		go func(account executorpkg.Account) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logx.WithContext(ctx).Errorf("manager: account %s pipeline panic: %v", account.ID, r)
					results <- executorpkg.Outcome{
						AccountID:  account.ID,
						Instrument: sig.Instrument,
						Direction:  sig.Direction,
						Status:     executorpkg.StatusFailed,
						FailKind:   executorpkg.FailInternal,
						Error:      fmt.Sprintf("panic: %v", r),
					}
				}
			}()
			results <- m.executor.Execute(ctx, account, sig)
		}(account)
	}
	wg.Wait()
	close(results)

	for outcome := range results {
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Success {
			report.SuccessCount++
		} else {
			report.FailCount++
		}
	}
	report.Success = report.SuccessCount > 0
	report.FinishedAt = m.now()

	logx.WithContext(ctx).Infof("manager: signal %s %s executed across %d accounts: %d ok, %d failed",
		sig.Direction, sig.Instrument, len(m.accounts), report.SuccessCount, report.FailCount)

	m.recordReport(ctx, report)
	return report
}

func (m *Manager) recordReport(ctx context.Context, report *Report) {
	if _, err := m.journal.WriteSignal(journalRecord(report)); err != nil {
		logx.WithContext(ctx).Errorf("manager: journal write: %v", err)
	}
	logPersistenceError(m.persistence.RecordReport(ctx, report), "record report", map[string]any{
		"instrument": report.Signal.Instrument,
		"direction":  report.Signal.Direction,
	})
}

func journalRecord(report *Report) *journal.SignalRecord {
	rec := &journal.SignalRecord{
		Timestamp:    report.StartedAt,
		Instrument:   report.Signal.Instrument,
		Direction:    string(report.Signal.Direction),
		Confidence:   report.Signal.Confidence,
		SuccessCount: report.SuccessCount,
		FailCount:    report.FailCount,
		Success:      report.Success,
	}
	for _, outcome := range report.Outcomes {
		entry := map[string]any{
			"account": outcome.AccountID,
			"status":  string(outcome.Status),
			"reason":  outcome.Decision.Reason,
		}
		if outcome.OrderID != "" {
			entry["order_id"] = outcome.OrderID
		}
		if outcome.Plan != nil {
			entry["qty"] = outcome.Plan.Quantity
			entry["stop_loss"] = outcome.Plan.StopLoss
			entry["take_profit"] = outcome.Plan.TakeProfit
		}
		if outcome.Error != "" {
			entry["error"] = outcome.Error
		}
		rec.Outcomes = append(rec.Outcomes, entry)
	}
	return rec
}

// StartBufferLoop releases buffered conflicting signals once their cooldown
// expires. It returns immediately; Stop shuts the loop down.
func (m *Manager) StartBufferLoop() {
	m.loopOnce.Do(func() {
		go func() {
			defer close(m.done)
			ticker := time.NewTicker(m.cfg.BufferPollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-m.stop:
					return
				case <-ticker.C:
					for _, sig := range m.arbiter.TakeReady() {
						ctx := context.Background()
						logx.Infof("manager: releasing buffered signal %s %s", sig.Direction, sig.Instrument)
						m.ExecuteSignal(ctx, sig)
					}
				}
			}
		}()
	})
}

// Stop terminates the buffer loop and waits for it to drain.
func (m *Manager) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	m.loopOnce.Do(func() { close(m.done) })
	<-m.done
}

// Status reports the engine's current gate and quota state.
func (m *Manager) Status() Status {
	status := Status{
		Instruments: m.arbiter.Snapshot(),
		Reversals:   m.executor.Resolver().Ledger().Snapshot(),
		ReversalCap: m.executor.Resolver().Ledger().Cap(),
	}
	for _, account := range m.accounts {
		status.Accounts = append(status.Accounts, account.ID)
	}
	return status
}
