package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"relay-api/internal/config"
	"relay-api/internal/svc"
	"relay-api/pkg/signal"
)

func webhookSignal() signal.Signal {
	return signal.Signal{
		Instrument: "BTCUSDT",
		Direction:  signal.DirectionBuy,
		Timestamp:  time.UnixMilli(1767957600000).UTC(),
	}
}

func TestSignalIdentity(t *testing.T) {
	sig := webhookSignal()
	assert.Equal(t, "BTCUSDT:BUY:1767957600000", signalIdentity(sig),
		"identity pins instrument, direction and millisecond timestamp")

	retry := sig
	assert.Equal(t, signalIdentity(sig), signalIdentity(retry), "a retried alert keeps its identity")

	later := sig
	later.Timestamp = sig.Timestamp.Add(time.Second)
	assert.NotEqual(t, signalIdentity(sig), signalIdentity(later), "a fresh alert gets a fresh identity")
}

func TestDuplicateSignalWithoutRedis(t *testing.T) {
	svcCtx := &svc.ServiceContext{}
	req := httptest.NewRequest(http.MethodPost, "/webhook/signal", nil)

	assert.False(t, duplicateSignal(svcCtx, req, webhookSignal()),
		"without redis every signal passes through")
}

func TestAuthorised(t *testing.T) {
	svcCtx := &svc.ServiceContext{Config: config.Config{WebhookToken: "hunter2"}}

	req := httptest.NewRequest(http.MethodPost, "/webhook/signal", nil)
	req.Header.Set("X-Webhook-Token", "hunter2")
	assert.True(t, authorised(svcCtx, req, ""), "matching header token should pass")

	req = httptest.NewRequest(http.MethodPost, "/webhook/signal", nil)
	req.Header.Set("X-Webhook-Token", "wrong")
	assert.False(t, authorised(svcCtx, req, ""), "wrong header token should fail")

	req = httptest.NewRequest(http.MethodPost, "/webhook/signal", nil)
	assert.True(t, authorised(svcCtx, req, "hunter2"), "body token should work as a fallback")
	assert.False(t, authorised(svcCtx, req, "wrong"), "wrong body token should fail")

	open := &svc.ServiceContext{}
	assert.True(t, authorised(open, req, ""), "an empty configured token disables the check")
}
