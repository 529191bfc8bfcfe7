package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpx"

	"relay-api/internal/svc"
	"relay-api/internal/types"
)

// StatusHandler exposes the engine snapshot: accounts, per-instrument gate
// state, reversal quota usage, the last cached report and recent execution
// history when persistence is configured.
func StatusHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.StatusRequest
		if err := httpx.Parse(r, &req); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}

		resp := types.StatusResponse{
			Env:    svcCtx.Config.Env,
			Engine: svcCtx.Engine.Status(),
		}
		if svcCtx.Persistence != nil {
			report, err := svcCtx.Persistence.LatestReport(r.Context())
			if err != nil {
				logx.WithContext(r.Context()).Errorf("status: latest report: %v", err)
			} else {
				resp.LastReport = report
			}

			executions, err := svcCtx.Persistence.RecentExecutions(r.Context(), nil, req.Limit)
			if err != nil {
				logx.WithContext(r.Context()).Errorf("status: recent executions: %v", err)
			} else {
				resp.Executions = executions
			}

			if req.Instrument != "" {
				history, err := svcCtx.Persistence.InstrumentHistory(r.Context(), req.Instrument, req.Limit)
				if err != nil {
					logx.WithContext(r.Context()).Errorf("status: history for %s: %v", req.Instrument, err)
				} else {
					resp.InstrumentHistory = history
				}
			}
		}
		httpx.OkJsonCtx(r.Context(), w, resp)
	}
}
