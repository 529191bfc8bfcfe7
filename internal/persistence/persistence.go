// Package persistence mirrors execution reports to Postgres and Redis. The
// exchange's own records remain the ground truth; this layer exists for
// dashboards and offline reporting.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"relay-api/internal/cache"
	"relay-api/internal/model"
	"relay-api/pkg/conflict"
	"relay-api/pkg/manager"
)

var _ manager.PersistenceService = (*Service)(nil)

// Service implements the manager persistence hook over the executions table
// and a Redis snapshot cache.
type Service struct {
	executions model.ExecutionsModel
	redis      *redis.Redis
	ttl        cache.TTLSet
}

// New wires the persistence service. Either dependency may be nil; the
// corresponding mirror is skipped.
func New(executions model.ExecutionsModel, r *redis.Redis, ttl cache.TTLSet) *Service {
	return &Service{executions: executions, redis: r, ttl: ttl}
}

// RecordReport stores one row per account outcome and caches the report
// payload for the status surfaces. Row failures do not abort the remaining
// outcomes; all errors are joined.
func (s *Service) RecordReport(ctx context.Context, report *manager.Report) error {
	if report == nil {
		return fmt.Errorf("persistence: nil report")
	}

	var errs []error
	if s.executions != nil {
		for _, outcome := range report.Outcomes {
			row := &model.Executions{
				Instrument: outcome.Instrument,
				Direction:  string(outcome.Direction),
				AccountId:  outcome.AccountID,
				Status:     string(outcome.Status),
				FailKind:   nullString(string(outcome.FailKind)),
				OrderId:    nullString(outcome.OrderID),
				Reason:     nullString(outcome.Decision.Reason),
				Error:      nullString(outcome.Error),
				ExecutedAt: report.FinishedAt,
			}
			if outcome.Decision.PnlPct != 0 {
				row.PnlPct = nullFloat(outcome.Decision.PnlPct)
			}
			if plan := outcome.Plan; plan != nil {
				row.Quantity = nullFloat(plan.Quantity)
				row.EntryPrice = nullFloat(plan.EntryPrice)
				row.StopLoss = nullFloat(plan.StopLoss)
				row.TakeProfit = nullFloat(plan.TakeProfit)
			}
			if err := s.executions.Insert(ctx, row); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if s.redis != nil {
		if err := s.cacheReport(ctx, report); err != nil {
			errs = append(errs, err)
		}
		if err := s.mirrorReversals(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// mirrorReversals bumps the per-account daily reversal counters in Redis so
// dashboards can read quota usage without touching the process.
func (s *Service) mirrorReversals(ctx context.Context, report *manager.Report) error {
	day := report.FinishedAt.Format("2006-01-02")
	var errs []error
	for _, outcome := range report.Outcomes {
		if outcome.Decision.Kind != conflict.KindReverse || !outcome.Success {
			continue
		}
		key := cache.ReversalCountKey(outcome.AccountID, day)
		if _, err := s.redis.IncrCtx(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("persistence: mirror reversal for %s: %w", outcome.AccountID, err))
			continue
		}
		if err := s.redis.ExpireCtx(ctx, key, int(cache.ReversalCountTTL()/time.Second)); err != nil {
			errs = append(errs, fmt.Errorf("persistence: expire reversal mirror for %s: %w", outcome.AccountID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) cacheReport(ctx context.Context, report *manager.Report) error {
	payload, err := msgpack.Marshal(report)
	if err != nil {
		return fmt.Errorf("persistence: encode report: %w", err)
	}
	seconds := int(cache.ReportLastTTL(s.ttl) / time.Second)
	if seconds <= 0 {
		seconds = 60
	}
	if err := s.redis.SetexCtx(ctx, cache.ReportLastKey(), string(payload), seconds); err != nil {
		return fmt.Errorf("persistence: cache report: %w", err)
	}
	// Per-instrument snapshots linger twice as long as the fleet-wide one.
	instrumentSeconds := int(s.ttl.Scaled(cache.TTLMedium, 2) / time.Second)
	if instrumentSeconds <= 0 {
		instrumentSeconds = seconds
	}
	key := cache.ReportLastByInstrumentKey(report.Signal.Instrument)
	if err := s.redis.SetexCtx(ctx, key, string(payload), instrumentSeconds); err != nil {
		return fmt.Errorf("persistence: cache report for %s: %w", report.Signal.Instrument, err)
	}
	return nil
}

// LatestReport returns the most recently cached report, or nil when the
// cache is empty or no Redis is configured.
func (s *Service) LatestReport(ctx context.Context) (*manager.Report, error) {
	if s.redis == nil {
		return nil, nil
	}
	payload, err := s.redis.GetCtx(ctx, cache.ReportLastKey())
	if err != nil {
		return nil, fmt.Errorf("persistence: read cached report: %w", err)
	}
	if payload == "" {
		return nil, nil
	}
	var report manager.Report
	if err := msgpack.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("persistence: decode cached report: %w", err)
	}
	return &report, nil
}

// RecentExecutions returns recent execution rows grouped by account and
// refreshes the per-account Redis mirrors that dashboards read. The mirror is
// best effort; the database result is returned regardless.
func (s *Service) RecentExecutions(ctx context.Context, accountIDs []string, limit int) (map[string][]model.ExecutionRecord, error) {
	if s.executions == nil {
		return nil, nil
	}
	recent, err := s.executions.RecentByAccounts(ctx, accountIDs, limit)
	if err != nil {
		return nil, err
	}
	if s.redis != nil {
		seconds := int(cache.ExecutionsRecentTTL(s.ttl) / time.Second)
		for accountID, rows := range recent {
			payload, err := msgpack.Marshal(rows)
			if err != nil {
				logx.WithContext(ctx).Errorf("persistence: encode executions for %s: %v", accountID, err)
				continue
			}
			if err := s.redis.SetexCtx(ctx, cache.ExecutionsRecentKey(accountID), string(payload), seconds); err != nil {
				logx.WithContext(ctx).Errorf("persistence: mirror executions for %s: %v", accountID, err)
			}
		}
	}
	return recent, nil
}

// InstrumentHistory returns recent execution rows for one instrument.
func (s *Service) InstrumentHistory(ctx context.Context, instrument string, limit int) ([]model.ExecutionRecord, error) {
	if s.executions == nil {
		return nil, nil
	}
	return s.executions.RecentByInstrument(ctx, instrument, limit)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}
