package model

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ ExecutionsModel = (*customExecutionsModel)(nil)

// Executions maps one row of the executions table: a single account's outcome
// for one processed signal.
type Executions struct {
	Id         int64           `db:"id"`
	Instrument string          `db:"instrument"`
	Direction  string          `db:"direction"`
	AccountId  string          `db:"account_id"`
	Status     string          `db:"status"`
	FailKind   sql.NullString  `db:"fail_kind"`
	OrderId    sql.NullString  `db:"order_id"`
	Quantity   sql.NullFloat64 `db:"quantity"`
	EntryPrice sql.NullFloat64 `db:"entry_price"`
	StopLoss   sql.NullFloat64 `db:"stop_loss"`
	TakeProfit sql.NullFloat64 `db:"take_profit"`
	PnlPct     sql.NullFloat64 `db:"pnl_pct"`
	Reason     sql.NullString  `db:"reason"`
	Error      sql.NullString  `db:"error"`
	ExecutedAt time.Time       `db:"executed_at"`
}

// ExecutionRecord provides a nullable-safe representation of an execution
// row. Nullable fields become pointers so callers can detect unset values
// while working with idiomatic Go types.
type ExecutionRecord struct {
	ID         int64
	Instrument string
	Direction  string
	AccountID  string
	Status     string
	FailKind   *string
	OrderID    *string
	Quantity   *float64
	EntryPrice *float64
	StopLoss   *float64
	TakeProfit *float64
	PnlPct     *float64
	Reason     *string
	Error      *string
	ExecutedAt time.Time
}

type (
	// ExecutionsModel is an interface to be customized, add more methods here,
	// and implement the added methods in customExecutionsModel.
	ExecutionsModel interface {
		Insert(ctx context.Context, data *Executions) error
		RecentByAccounts(ctx context.Context, accountIDs []string, limit int) (map[string][]ExecutionRecord, error)
		RecentByInstrument(ctx context.Context, instrument string, limit int) ([]ExecutionRecord, error)
	}

	customExecutionsModel struct {
		conn sqlx.SqlConn
	}
)

// NewExecutionsModel returns a model for the database table.
func NewExecutionsModel(conn sqlx.SqlConn) ExecutionsModel {
	return &customExecutionsModel{conn: conn}
}

// Insert stores one account outcome.
func (m *customExecutionsModel) Insert(ctx context.Context, data *Executions) error {
	const query = `
INSERT INTO public.executions
    (instrument, direction, account_id, status, fail_kind, order_id,
     quantity, entry_price, stop_loss, take_profit, pnl_pct, reason, error, executed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := m.conn.ExecCtx(ctx, query,
		data.Instrument, data.Direction, data.AccountId, data.Status,
		data.FailKind, data.OrderId, data.Quantity, data.EntryPrice,
		data.StopLoss, data.TakeProfit, data.PnlPct, data.Reason,
		data.Error, data.ExecutedAt)
	if err != nil {
		return fmt.Errorf("executions.Insert: %w", err)
	}
	return nil
}

// RecentByAccounts returns recent executions grouped by account ID. When
// accountIDs is empty, it returns executions for every account. Limit
// defaults to 200 when non-positive.
func (m *customExecutionsModel) RecentByAccounts(ctx context.Context, accountIDs []string, limit int) (map[string][]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	const baseQuery = `
SELECT
    id,
    instrument,
    direction,
    account_id,
    status,
    fail_kind,
    order_id,
    quantity,
    entry_price,
    stop_loss,
    take_profit,
    pnl_pct,
    reason,
    error,
    executed_at
FROM public.executions
%s
ORDER BY executed_at DESC
LIMIT %s`

	var (
		args   []any
		clause string
		limArg string
	)
	if len(accountIDs) > 0 {
		clause = "WHERE account_id = ANY($1)"
		args = append(args, pq.Array(accountIDs))
		limArg = "$2"
	} else {
		limArg = "$1"
	}
	args = append(args, limit)

	finalQuery := fmt.Sprintf(baseQuery, clause, limArg)

	var rows []Executions
	if err := m.conn.QueryRowsCtx(ctx, &rows, finalQuery, args...); err != nil {
		return nil, fmt.Errorf("executions.RecentByAccounts query: %w", err)
	}

	result := make(map[string][]ExecutionRecord)
	for i := range rows {
		rec := buildExecutionRecord(&rows[i])
		result[rows[i].AccountId] = append(result[rows[i].AccountId], rec)
	}
	return result, nil
}

// RecentByInstrument returns recent executions for one instrument ordered by
// execution time descending.
func (m *customExecutionsModel) RecentByInstrument(ctx context.Context, instrument string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	const query = `
SELECT
    id,
    instrument,
    direction,
    account_id,
    status,
    fail_kind,
    order_id,
    quantity,
    entry_price,
    stop_loss,
    take_profit,
    pnl_pct,
    reason,
    error,
    executed_at
FROM public.executions
WHERE instrument = $1
ORDER BY executed_at DESC
LIMIT $2`

	var rows []Executions
	if err := m.conn.QueryRowsCtx(ctx, &rows, query, instrument, limit); err != nil {
		return nil, fmt.Errorf("executions.RecentByInstrument query: %w", err)
	}

	result := make([]ExecutionRecord, 0, len(rows))
	for i := range rows {
		result = append(result, buildExecutionRecord(&rows[i]))
	}
	return result, nil
}

func buildExecutionRecord(row *Executions) ExecutionRecord {
	rec := ExecutionRecord{
		ID:         row.Id,
		Instrument: row.Instrument,
		Direction:  row.Direction,
		AccountID:  row.AccountId,
		Status:     row.Status,
		ExecutedAt: row.ExecutedAt,
	}
	if row.FailKind.Valid {
		value := row.FailKind.String
		rec.FailKind = &value
	}
	if row.OrderId.Valid {
		value := row.OrderId.String
		rec.OrderID = &value
	}
	if row.Quantity.Valid {
		value := row.Quantity.Float64
		rec.Quantity = &value
	}
	if row.EntryPrice.Valid {
		value := row.EntryPrice.Float64
		rec.EntryPrice = &value
	}
	if row.StopLoss.Valid {
		value := row.StopLoss.Float64
		rec.StopLoss = &value
	}
	if row.TakeProfit.Valid {
		value := row.TakeProfit.Float64
		rec.TakeProfit = &value
	}
	if row.PnlPct.Valid {
		value := row.PnlPct.Float64
		rec.PnlPct = &value
	}
	if row.Reason.Valid {
		value := row.Reason.String
		rec.Reason = &value
	}
	if row.Error.Valid {
		value := row.Error.String
		rec.Error = &value
	}
	return rec
}
