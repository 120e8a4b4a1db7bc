package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/conductor-labs/delegate/internal/confidence"
	"github.com/conductor-labs/delegate/internal/executor"
	"github.com/conductor-labs/delegate/internal/registry"
	"github.com/conductor-labs/delegate/internal/resources"
	"github.com/conductor-labs/delegate/internal/store"
)

func newTestMux(t *testing.T) (*http.ServeMux, *registry.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := registry.New(logger)
	rt := store.Runtime{
		Ledger: resources.NewLedger(map[string]int{"cpu": 2, "memory": 2}, zap.NewNop()),
		Confidence: confidence.Config{
			MinExecutions: 1,
			LowThreshold:  0.5,
			HighThreshold: 0.7,
		},
	}
	h := NewHandler(reg, nil, executor.New(reg, logger), rt, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, reg
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestRegisterPattern(t *testing.T) {
	mux, reg := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/patterns", map[string]interface{}{
		"name":  "etl",
		"type":  "sequential",
		"steps": []string{"validate", "process", "store"},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, reg.Len())

	// Duplicate is rejected with 409.
	rec = doJSON(t, mux, http.MethodPost, "/api/v1/patterns", map[string]interface{}{
		"name":  "etl",
		"type":  "sequential",
		"steps": []string{"validate"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterPatternValidation(t *testing.T) {
	mux, _ := newTestMux(t)

	// Meta below the domain policy floor.
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/patterns", map[string]interface{}{
		"name":    "orch",
		"type":    "meta",
		"domains": []string{"auth", "data"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown type.
	rec = doJSON(t, mux, http.MethodPost, "/api/v1/patterns", map[string]interface{}{
		"name": "x",
		"type": "quantum",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed JSON.
	badRec := httptest.NewRecorder()
	mux.ServeHTTP(badRec, httptest.NewRequest(http.MethodPost, "/api/v1/patterns",
		bytes.NewBufferString(`{"name":`)))
	assert.Equal(t, http.StatusBadRequest, badRec.Code)
}

func TestListPatterns(t *testing.T) {
	mux, _ := newTestMux(t)

	for _, body := range []map[string]interface{}{
		{"name": "etl", "type": "sequential", "steps": []string{"validate"}},
		{"name": "fan", "type": "parallel", "resource_types": []string{"cpu"}},
	} {
		rec := doJSON(t, mux, http.MethodPost, "/api/v1/patterns", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/patterns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []patternResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rec = doJSON(t, mux, http.MethodGet, "/api/v1/patterns?type=parallel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var parallel []patternResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parallel))
	require.Len(t, parallel, 1)
	assert.Equal(t, "fan", parallel[0].Name)
	assert.Equal(t, "unestablished", parallel[0].Level)
}

func TestDeletePattern(t *testing.T) {
	mux, reg := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/patterns", map[string]interface{}{
		"name": "etl", "type": "sequential", "steps": []string{"validate"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodDelete, "/api/v1/patterns/etl", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, reg.Len())

	// Deleting an absent pattern reports the end state, not an error.
	rec = doJSON(t, mux, http.MethodDelete, "/api/v1/patterns/etl", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "absent")
}

func TestExecuteEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/patterns", map[string]interface{}{
		"name": "etl", "type": "sequential", "steps": []string{"validate", "store"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/v1/execute", map[string]interface{}{
		"domain":     "data",
		"agent_type": "sequential",
		"priority":   2,
		"attributes": map[string]interface{}{
			"required_steps": []string{"validate", "store"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res executor.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "etl", res.Pattern)

	// No matching pattern is a well-formed failed result.
	rec = doJSON(t, mux, http.MethodPost, "/api/v1/execute", map[string]interface{}{
		"domain": "data",
		"attributes": map[string]interface{}{
			"required_steps": []string{"unknown"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "no matching pattern")
}

func TestExecuteRequiresDomain(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/execute", map[string]interface{}{
		"agent_type": "sequential",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	mux, _ := newTestMux(t)
	limited := NewRateLimiter(1, 2, zaptest.NewLogger(t)).Middleware(mux)

	// Burst of 2 passes, the third in the same instant is rejected.
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/patterns", nil)
		req.RemoteAddr = "10.0.0.1:4321"
		limited.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// A different client has its own bucket.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patterns", nil)
	req.RemoteAddr = "10.0.0.2:4321"
	limited.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterDisabled(t *testing.T) {
	mux, _ := newTestMux(t)
	unlimited := NewRateLimiter(0, 0, zaptest.NewLogger(t)).Middleware(mux)

	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/patterns", nil)
		req.RemoteAddr = "10.0.0.1:4321"
		unlimited.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
