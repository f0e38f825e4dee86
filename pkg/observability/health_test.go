package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckerAllHealthy(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(&HealthCheck{
		Name:      "ping",
		CheckFunc: func(context.Context) error { return nil },
	})

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusHealthy, resp.Status)
	assert.Equal(t, "OK", resp.Checks["ping"].Message)
}

func TestHealthCheckerCriticalFailure(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(&HealthCheck{
		Name:      "db",
		Critical:  true,
		CheckFunc: func(context.Context) error { return errors.New("down") },
	})

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
}

func TestHealthCheckerNonCriticalFailureDegrades(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(&HealthCheck{
		Name:      "cache",
		CheckFunc: func(context.Context) error { return errors.New("slow") },
	})

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, resp.Status)
}

func TestHealthCheckerTimeout(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck(&HealthCheck{
		Name:     "stuck",
		Timeout:  20 * time.Millisecond,
		Critical: true,
		CheckFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	hc := NewHealthChecker()
	rec := httptest.NewRecorder()
	HealthHandler(hc)(rec, httptest.NewRequest("GET", "/_health", nil))
	assert.Equal(t, 200, rec.Code)

	hc.RegisterCheck(&HealthCheck{
		Name:      "db",
		Critical:  true,
		CheckFunc: func(context.Context) error { return errors.New("down") },
	})
	rec = httptest.NewRecorder()
	HealthHandler(hc)(rec, httptest.NewRequest("GET", "/_health", nil))
	assert.Equal(t, 503, rec.Code)
}

func TestIdleHandler(t *testing.T) {
	busy := NewBusy()

	rec := httptest.NewRecorder()
	IdleHandler(busy)(rec, httptest.NewRequest("GET", "/_idle", nil))
	assert.Equal(t, 200, rec.Code)

	busy.Add(2)
	rec = httptest.NewRecorder()
	IdleHandler(busy)(rec, httptest.NewRequest("GET", "/_idle", nil))
	assert.Equal(t, 503, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["idle"])
	assert.EqualValues(t, 2, body["pending"])

	busy.Add(-2)
	assert.True(t, busy.Idle())
}
