package handler

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpx"

	"relay-api/internal/cache"
	"relay-api/internal/svc"
	"relay-api/internal/types"
	"relay-api/pkg/signal"
)

// SignalHandler ingests one webhook alert, gates it and runs it across the
// account fleet. Rejected and buffered signals still return 200 with the
// gate's reason so the alert source never retries blindly.
func SignalHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.SignalRequest
		if err := httpx.Parse(r, &req); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}

		if !authorised(svcCtx, r, req.Token) {
			httpx.WriteJsonCtx(r.Context(), w, http.StatusUnauthorized,
				map[string]string{"error": "invalid webhook token"})
			return
		}

		direction, err := signal.ParseDirection(req.Action)
		if err != nil {
			httpx.WriteJsonCtx(r.Context(), w, http.StatusBadRequest,
				map[string]string{"error": err.Error()})
			return
		}

		ts := time.Now()
		if req.Timestamp > 0 {
			ts = time.UnixMilli(req.Timestamp)
		}
		sig := signal.Signal{
			Instrument: req.Instrument,
			Direction:  direction,
			Timestamp:  ts,
			Confidence: req.Confidence,
		}
		if err := sig.Validate(); err != nil {
			httpx.WriteJsonCtx(r.Context(), w, http.StatusBadRequest,
				map[string]string{"error": err.Error()})
			return
		}

		logx.WithContext(r.Context()).Infof("webhook: received %s %s", sig.Direction, sig.Instrument)

		if duplicateSignal(svcCtx, r, sig) {
			httpx.OkJsonCtx(r.Context(), w, types.SignalResponse{
				Accepted: false,
				Reason:   "duplicate signal",
			})
			return
		}

		outcome, report := svcCtx.Engine.Submit(r.Context(), sig)
		httpx.OkJsonCtx(r.Context(), w, types.SignalResponse{
			Accepted: outcome.Accepted,
			Buffered: outcome.Buffered,
			Reason:   outcome.Reason,
			Report:   report,
		})
	}
}

// signalIdentity derives the idempotency key for one alert. Alert sources
// retry with the same timestamp, so instrument, direction and millisecond
// timestamp pin down one logical signal.
func signalIdentity(sig signal.Signal) string {
	return fmt.Sprintf("%s:%s:%d", sig.Instrument, sig.Direction, sig.Timestamp.UnixMilli())
}

// duplicateSignal claims the signal's guard key in Redis. A lost claim means
// an identical alert was already ingested. Without Redis, or when the claim
// itself fails, the signal passes through.
func duplicateSignal(svcCtx *svc.ServiceContext, r *http.Request, sig signal.Signal) bool {
	if svcCtx.Redis == nil {
		return false
	}
	key := cache.SignalGuardKey(signalIdentity(sig))
	seconds := int(cache.SignalGuardTTL() / time.Second)
	claimed, err := svcCtx.Redis.SetnxExCtx(r.Context(), key, "1", seconds)
	if err != nil {
		logx.WithContext(r.Context()).Errorf("webhook: signal guard: %v", err)
		return false
	}
	if !claimed {
		logx.WithContext(r.Context()).Infof("webhook: dropping duplicate %s %s", sig.Direction, sig.Instrument)
	}
	return !claimed
}

// authorised checks the shared webhook token from the X-Webhook-Token header
// or the body. An empty configured token disables the check.
func authorised(svcCtx *svc.ServiceContext, r *http.Request, bodyToken string) bool {
	want := svcCtx.Config.WebhookToken
	if want == "" {
		return true
	}
	got := r.Header.Get("X-Webhook-Token")
	if got == "" {
		got = bodyToken
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
