package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muneeb-Masood/EC-ML/internal/validation"
)

func setupRouter(engine *Engine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	h := NewHandler(engine)
	h.RegisterRoutes(r)
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	h.RegisterAuditRoutes(v1)
	return r
}

func postJSON(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestDetectFraud_Success(t *testing.T) {
	r := setupRouter(newTestEngine(fixedModel{p: 0.6}, NewMemoryStore()))

	for _, path := range []string{"/detect_fraud", "/v1/detect_fraud"} {
		w := postJSON(t, r, path, quietRequest())
		require.Equal(t, http.StatusOK, w.Code, path)

		body := decode(t, w)
		assert.Equal(t, "tx-1001", body["transaction_id"])
		assert.Equal(t, 0.6, body["ML_fraud_score"])
		assert.Equal(t, true, body["block_transaction"])
		assert.Equal(t, map[string]any{"1": "High ML fraud risk (score: 0.60)"}, body["block_reasons"])
		assert.Contains(t, body, "clusters_info")
		assert.Contains(t, body, "login_anomalies")
		assert.Equal(t, map[string]any{}, body["withdrawal_anomalies"])
	}
}

func TestDetectFraud_AcceptsStringNumbers(t *testing.T) {
	r := setupRouter(newTestEngine(fixedModel{p: 0}, nil))
	raw := `{
	  "transaction_id": "txn_1", "user_id": "user_1", "transaction_type": "withdrawal",
	  "transaction_data": ` + mustJSON(t, features()) + `,
	  "login_data": {
	    "session": {"userId": "user789", "deviceId": "device909", "timestamp": "2025-03-09T09:00:00Z", "latitude": "12.32", "longitude": "120.3"},
	    "device_history_last_3_days": [{"userId": "user126", "deviceId": "device909", "timestamp": "2025-03-09T08:00:00Z"}],
	    "last_user_login": {"userId": "user789", "timestamp": "2025-03-09T08:30:00Z", "latitude": "12.32", "longitude": "122.3"}
	  },
	  "withdrawal_data": {"current_wallet_balance": "2", "withdrawal_amount": "1000", "conversion_rate": "2000",
	    "avg_withdrawal_frequency_14d": "0.428", "withdrawals_24h": "3", "failed_withdrawals_24h": "0"},
	  "geospacial_transaction_data_2d": []
	}`
	req := httptest.NewRequest(http.MethodPost, "/detect_fraud", strings.NewReader(raw))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, map[string]any{
		"large_withdrawal_score":        0.5,
		"withdrawals_limit_flag":        0.0,
		"money_laundering_score":        0.07,
		"failed_withdrawals_limit_flag": 0.0,
	}, body["withdrawal_anomalies"])
	assert.Equal(t, 0.36, body["login_anomalies"].(map[string]any)["unlikely_travel_score"])
	assert.Equal(t, map[string]any{"1": "Large withdrawal (score: 0.50)"}, body["block_reasons"])
}

func TestDetectFraud_BadRequests(t *testing.T) {
	r := setupRouter(newTestEngine(fixedModel{p: 0}, nil))

	tests := []struct {
		name        string
		contentType string
		body        string
		wantError   string
	}{
		{"not json content type", "text/plain", `{}`, "Request must be in JSON format"},
		{"malformed json", "application/json", `{"transaction_id": `, "Request must be in JSON format"},
		{"history not a list", "application/json", `{"login_data": {"device_history_last_3_days": "yesterday"}}`, "Invalid 'login_data.device_history_last_3_days'"},
		{"missing fields", "application/json", `{"transaction_id": "tx"}`, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/detect_fraud", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, http.StatusBadRequest, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.wantError, body["error"])
			assert.NotEmpty(t, body["reason"])
		})
	}
}

func TestDetectFraud_ListErrorReason(t *testing.T) {
	r := setupRouter(newTestEngine(fixedModel{p: 0}, nil))
	req := httptest.NewRequest(http.MethodPost, "/detect_fraud",
		strings.NewReader(`{"login_data": {"device_history_last_3_days": {"a": 1}}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "'login_data.device_history_last_3_days' must be a list", decode(t, w)["reason"])
}

func TestGetVerdict(t *testing.T) {
	store := NewMemoryStore()
	engine := newTestEngine(fixedModel{p: 0.9}, store)
	r := setupRouter(engine)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/verdicts/tx-1001", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	engine.Evaluate(context.Background(), quietRequest(), SourceHTTP)
	engine.Drain()

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/verdicts/tx-1001", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "tx-1001", body["transaction_id"])
	assert.Equal(t, true, body["block_transaction"])
	assert.Equal(t, "http", body["source"])
	assert.Equal(t, 0.9, body["ml_fraud_score"])
}

func TestGetVerdict_AuditDisabled(t *testing.T) {
	r := setupRouter(newTestEngine(fixedModel{p: 0}, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/verdicts/tx-1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListUserVerdicts_Pages(t *testing.T) {
	engine := newTestEngine(fixedModel{p: 0.2}, NewMemoryStore())
	r := setupRouter(engine)

	for _, id := range []string{"tx-a", "tx-b", "tx-c"} {
		req := quietRequest()
		req.TransactionID = id
		engine.Evaluate(context.Background(), req, SourceHTTP)
	}
	engine.Drain()

	get := func(path string) map[string]any {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return decode(t, w)
	}

	first := get("/v1/users/user789/verdicts?limit=2")
	assert.Equal(t, float64(2), first["count"])
	assert.Equal(t, true, first["has_more"])
	cursor := first["next_cursor"].(string)
	require.NotEmpty(t, cursor)

	second := get("/v1/users/user789/verdicts?limit=2&cursor=" + cursor)
	assert.Equal(t, float64(1), second["count"])
	assert.Equal(t, false, second["has_more"])
	assert.Equal(t, "", second["next_cursor"])

	seen := map[string]bool{}
	for _, page := range []map[string]any{first, second} {
		for _, v := range page["verdicts"].([]any) {
			seen[v.(map[string]any)["transaction_id"].(string)] = true
		}
	}
	assert.Equal(t, map[string]bool{"tx-a": true, "tx-b": true, "tx-c": true}, seen)

	empty := get("/v1/users/nobody/verdicts")
	assert.Equal(t, []any{}, empty["verdicts"])
}

func TestListUserVerdicts_BadQuery(t *testing.T) {
	r := setupRouter(newTestEngine(fixedModel{p: 0}, NewMemoryStore()))

	for _, path := range []string{
		"/v1/users/u/verdicts?limit=0",
		"/v1/users/u/verdicts?limit=abc",
		"/v1/users/u/verdicts?cursor=%21%21%21",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, "validation_error", decode(t, w)["error"], path)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
