package types

import (
	"relay-api/internal/model"
	"relay-api/pkg/manager"
)

// SignalRequest is the webhook payload posted by the alerting source.
type SignalRequest struct {
	Instrument string  `json:"instrument"`
	Action     string  `json:"action"`
	Timestamp  int64   `json:"timestamp,optional"` // unix millis; defaults to receive time
	Confidence float64 `json:"confidence,optional"`
	Token      string  `json:"token,optional"`
}

// SignalResponse reports what the gate decided and, when the signal ran,
// the aggregated fleet report.
type SignalResponse struct {
	Accepted bool            `json:"accepted"`
	Buffered bool            `json:"buffered"`
	Reason   string          `json:"reason,omitempty"`
	Report   *manager.Report `json:"report,omitempty"`
}

// StatusRequest narrows the status surface. Both fields are optional;
// instrument adds that instrument's execution history to the response.
type StatusRequest struct {
	Instrument string `form:"instrument,optional"`
	Limit      int    `form:"limit,optional"`
}

// StatusResponse is the engine snapshot surface.
type StatusResponse struct {
	Env               string                             `json:"env"`
	Engine            manager.Status                     `json:"engine"`
	LastReport        *manager.Report                    `json:"lastReport,omitempty"`
	Executions        map[string][]model.ExecutionRecord `json:"executions,omitempty"`
	InstrumentHistory []model.ExecutionRecord            `json:"instrumentHistory,omitempty"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status string `json:"status"`
	Env    string `json:"env"`
}
