package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"relay-api/internal/svc"
	"relay-api/internal/types"
)

func HealthHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.OkJsonCtx(r.Context(), w, types.HealthResponse{
			Status: "ok",
			Env:    svcCtx.Config.Env,
		})
	}
}
