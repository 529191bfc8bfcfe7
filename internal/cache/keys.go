package cache

import (
	"strings"
	"time"

	"relay-api/internal/config"
)

// Namespace is the Redis key prefix for the relay application.
const Namespace = "relay"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 10*time.Second),
		Medium: durationOrDefault(cfg.Medium, time.Minute),
		Long:   durationOrDefault(cfg.Long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

// Scaled applies a multiplier to a TTL class, useful for half/double TTL variants.
func (t TTLSet) Scaled(class TTLClass, factor float64) time.Duration {
	base := t.Duration(class)
	if base <= 0 || factor <= 0 {
		return base
	}
	return time.Duration(float64(base) * factor)
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// --- Report Keys ------------------------------------------------------------

// ReportLastKey caches the most recent execution report.
func ReportLastKey() string {
	return formatKey("report", "last")
}

// ReportLastByInstrumentKey caches the latest report per instrument.
func ReportLastByInstrumentKey(instrument string) string {
	return formatKey("report", "last", instrument)
}

// ExecutionsRecentKey holds the recent execution list for one account.
func ExecutionsRecentKey(accountID string) string {
	return formatKey("executions", "recent", accountID)
}

// --- Signal Gate Keys -------------------------------------------------------

// SignalGuardKey prevents duplicate ingestion of the same signal identity.
func SignalGuardKey(signalKey string) string {
	return formatKey("ingest", "signal", signalKey)
}

// ReversalCountKey mirrors the in-process reversal ledger for dashboards.
func ReversalCountKey(accountID, day string) string {
	return formatKey("reversals", accountID, day)
}

// --- TTL Helpers ------------------------------------------------------------

// ReportLastTTL returns the TTL for latest report snapshots.
func ReportLastTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// ExecutionsRecentTTL returns the TTL for recent execution lists.
func ExecutionsRecentTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLLong)
}

// SignalGuardTTL returns the TTL for signal idempotency guards.
func SignalGuardTTL() time.Duration {
	return 24 * time.Hour
}

// ReversalCountTTL keeps reversal mirrors through the local day.
func ReversalCountTTL() time.Duration {
	return 48 * time.Hour
}
