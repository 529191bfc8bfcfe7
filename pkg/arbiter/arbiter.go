// Package arbiter is the single gate all incoming signals pass through before
// any account sees them. It rate-limits per instrument and buffers
// opposite-direction signals that arrive inside the cooldown window.
package arbiter

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"relay-api/pkg/signal"
)

// Outcome is the structured accept/reject result for one submission. The
// arbiter never fails; every submission yields an Outcome.
type Outcome struct {
	Accepted bool   `json:"accepted"`
	Buffered bool   `json:"buffered"`
	Reason   string `json:"reason"`
}

type instrumentState struct {
	lastAccepted  time.Time
	lastDirection signal.Direction
}

// InstrumentStatus is a point-in-time view of one instrument's gate state.
type InstrumentStatus struct {
	Instrument       string            `json:"instrument"`
	LastAccepted     time.Time         `json:"lastAccepted"`
	LastDirection    signal.Direction  `json:"lastDirection"`
	CooldownUntil    time.Time         `json:"cooldownUntil"`
	PendingDirection *signal.Direction `json:"pendingDirection,omitempty"`
}

// Arbiter deduplicates and rate-limits signals per instrument. It owns the
// last-accepted timestamps; updates happen under one lock so two concurrent
// submissions cannot both claim the same cooldown window.
type Arbiter struct {
	mu       sync.Mutex
	cooldown time.Duration
	policy   string
	now      func() time.Time

	state   map[string]*instrumentState
	pending map[string]signal.Signal
}

// Option customises the arbiter.
type Option func(*Arbiter)

// WithClock overrides the time source (primarily for testing).
func WithClock(now func() time.Time) Option {
	return func(a *Arbiter) {
		if now != nil {
			a.now = now
		}
	}
}

// New constructs an arbiter. The config must already be defaulted and
// validated.
func New(cfg Config, opts ...Option) *Arbiter {
	a := &Arbiter{
		cooldown: cfg.Cooldown,
		policy:   cfg.BufferPolicy,
		now:      time.Now,
		state:    make(map[string]*instrumentState),
		pending:  make(map[string]signal.Signal),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func canonical(instrument string) string {
	return strings.ToUpper(strings.TrimSpace(instrument))
}

// Submit gates one raw signal. Inside the cooldown window a same-direction
// signal is rejected outright, while an opposite-direction signal is buffered
// for later release. Buffering follows the configured policy; with
// last-wins a newer conflicting signal replaces the buffered one.
func (a *Arbiter) Submit(sig signal.Signal) Outcome {
	if err := sig.Validate(); err != nil {
		return Outcome{Accepted: false, Reason: err.Error()}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := canonical(sig.Instrument)
	now := a.now()

	if state, ok := a.state[key]; ok && now.Sub(state.lastAccepted) < a.cooldown {
		if sig.Direction == state.lastDirection {
			return Outcome{Accepted: false, Reason: "cooldown active"}
		}
		if _, held := a.pending[key]; held && a.policy == PolicyFirstWins {
			return Outcome{Accepted: false, Reason: "conflicting signal already buffered"}
		}
		a.pending[key] = sig
		return Outcome{
			Accepted: false,
			Buffered: true,
			Reason:   fmt.Sprintf("cooldown active; conflicting signal buffered until %s",
				state.lastAccepted.Add(a.cooldown).Format(time.RFC3339)),
		}
	}

	a.acceptLocked(key, sig.Direction, now)
	return Outcome{Accepted: true, Reason: "accepted"}
}

// TakeReady releases buffered signals whose instrument cooldown has expired,
// marking each as accepted. The caller executes them; results are ordered by
// instrument for determinism.
func (a *Arbiter) TakeReady() []signal.Signal {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	var ready []signal.Signal
	for key, sig := range a.pending {
		state := a.state[key]
		if state != nil && now.Sub(state.lastAccepted) < a.cooldown {
			continue
		}
		a.acceptLocked(key, sig.Direction, now)
		ready = append(ready, sig)
	}
	sort.Slice(ready, func(i, j int) bool {
		return canonical(ready[i].Instrument) < canonical(ready[j].Instrument)
	})
	return ready
}

// acceptLocked records the acceptance and drops any buffered signal the new
// acceptance supersedes.
func (a *Arbiter) acceptLocked(key string, direction signal.Direction, now time.Time) {
	a.state[key] = &instrumentState{lastAccepted: now, lastDirection: direction}
	delete(a.pending, key)
}

// Snapshot returns the gate state for every known instrument.
func (a *Arbiter) Snapshot() []InstrumentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]InstrumentStatus, 0, len(a.state))
	for key, state := range a.state {
		status := InstrumentStatus{
			Instrument:    key,
			LastAccepted:  state.lastAccepted,
			LastDirection: state.lastDirection,
			CooldownUntil: state.lastAccepted.Add(a.cooldown),
		}
		if pending, ok := a.pending[key]; ok {
			direction := pending.Direction
			status.PendingDirection = &direction
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}
