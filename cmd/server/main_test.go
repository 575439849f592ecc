package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kiranshivaraju/trustgate/internal/leader"
	"github.com/kiranshivaraju/trustgate/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type testCache struct {
	pingErr error
}

func (c *testCache) Ping(_ context.Context) error { return c.pingErr }

type testLeadership struct {
	state leader.State
}

func (l testLeadership) State() leader.State { return l.state }
func (l testLeadership) Holder() string      { return "node-a-1234abcd" }

func callHealth(t *testing.T, h http.HandlerFunc) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_AllOK(t *testing.T) {
	h := healthHandler(storetest.NewMemory(), &testCache{}, testLeadership{state: leader.StateLeading})

	w, body := callHealth(t, h)
	assert.Equal(t, http.StatusOK, w.Code)

	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])

	leadership := data["leadership"].(map[string]any)
	assert.Equal(t, "LEADING", leadership["state"])
	assert.Equal(t, "node-a-1234abcd", leadership["holder_id"])
}

func TestHealthHandler_FollowerIsHealthy(t *testing.T) {
	h := healthHandler(storetest.NewMemory(), &testCache{}, testLeadership{state: leader.StateStopped})

	w, body := callHealth(t, h)
	assert.Equal(t, http.StatusOK, w.Code)
	leadership := body["data"].(map[string]any)["leadership"].(map[string]any)
	assert.Equal(t, "STOPPED", leadership["state"])
}

func TestHealthHandler_Degraded(t *testing.T) {
	tests := []struct {
		name     string
		dbErr    error
		cacheErr error
		database string
		cache    string
	}{
		{"database down", errors.New("connection refused"), nil, "degraded", "ok"},
		{"cache down", nil, errors.New("redis down"), "ok", "degraded"},
		{"both down", errors.New("db down"), errors.New("redis down"), "degraded", "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := storetest.NewMemory()
			st.PingErr = tt.dbErr
			h := healthHandler(st, &testCache{pingErr: tt.cacheErr}, testLeadership{state: leader.StateLeading})

			w, body := callHealth(t, h)
			assert.Equal(t, http.StatusServiceUnavailable, w.Code)

			errObj := body["error"].(map[string]any)
			assert.Equal(t, "DEGRADED", errObj["code"])
			details := errObj["details"].(map[string]any)
			assert.Equal(t, tt.database, details["database"])
			assert.Equal(t, tt.cache, details["cache"])
		})
	}
}

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	clearConfigEnv(t)

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("RECORDS_BASE_URL", "http://localhost:8081")
	t.Setenv("EXTRACTION_PROVIDER", "mock")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

func TestInstanceID_Unique(t *testing.T) {
	a, b := instanceID(), instanceID()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.Contains(a, "-"))
}

// ─── helper: clear env ──────────────────────────────────────────────────────

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "RECORDS_BASE_URL", "EXTRACTION_PROVIDER",
		"ANTHROPIC_API_KEY", "EXTRACTION_SERVICE_URL", "TRUSTGATE_ENV",
	} {
		t.Setenv(key, "")
	}
}
