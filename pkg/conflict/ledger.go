package conflict

import (
	"sync"
	"time"
)

const dayFormat = "2006-01-02"

// Ledger tracks reversal actions per account per local day. All updates are
// atomic check-and-modify operations so two concurrent signals cannot spend
// the same day's quota twice. Counters reset in place at the local day
// boundary.
type Ledger struct {
	mu     sync.Mutex
	cap    int
	now    func() time.Time
	counts map[string]int
	days   map[string]string
}

// LedgerOption customises ledger construction.
type LedgerOption func(*Ledger)

// WithLedgerClock overrides the time source (primarily for testing).
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger constructs a ledger with the given daily cap. A cap of zero
// disables reversals entirely.
func NewLedger(dailyCap int, opts ...LedgerOption) *Ledger {
	ledger := &Ledger{
		cap:    dailyCap,
		now:    time.Now,
		counts: make(map[string]int),
		days:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger
}

// Cap returns the configured daily cap.
func (l *Ledger) Cap() int {
	return l.cap
}

// Count returns the account's reversal count for the current local day.
func (l *Ledger) Count(account string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(account)
	return l.counts[account]
}

// Exhausted reports whether the account has no reversal quota left today.
func (l *Ledger) Exhausted(account string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(account)
	return l.counts[account] >= l.cap
}

// Reserve atomically claims one reversal from today's quota. It returns false
// when the account is already at the cap. Callers that fail to complete the
// reversal must return the claim with Release.
func (l *Ledger) Reserve(account string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(account)
	if l.counts[account] >= l.cap {
		return false
	}
	l.counts[account]++
	return true
}

// Release returns a previously reserved claim, e.g. when the close order that
// the reversal depends on was rejected.
func (l *Ledger) Release(account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(account)
	if l.counts[account] > 0 {
		l.counts[account]--
	}
}

// Snapshot returns a copy of today's per-account counts for reporting.
func (l *Ledger) Snapshot() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	today := l.now().Format(dayFormat)
	out := make(map[string]int, len(l.counts))
	for account, count := range l.counts {
		if l.days[account] == today {
			out[account] = count
		}
	}
	return out
}

func (l *Ledger) rolloverLocked(account string) {
	today := l.now().Format(dayFormat)
	if l.days[account] != today {
		l.days[account] = today
		l.counts[account] = 0
	}
}
