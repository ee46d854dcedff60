package transactions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test router setup
// ---------------------------------------------------------------------------

func setupHandlerTestRouter(t *testing.T) (*gin.Engine, *MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	handler := NewHandler(NewService(store, stubExplainer{}))

	r := gin.New()
	handler.RegisterRoutes(r.Group("/api"))
	return r, store
}

func doGet(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func seed(t *testing.T, store *MemoryStore, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		level := LevelLow
		var alert *Alert
		if i%3 == 0 {
			level = LevelHigh
			alert = newAlert(level)
		}
		require.NoError(t, store.Append(context.Background(), newTx(level, float64(i)), alert))
	}
}

// ---------------------------------------------------------------------------
// GET /api/metrics
// ---------------------------------------------------------------------------

func TestHandler_GetMetrics(t *testing.T) {
	router, store := setupHandlerTestRouter(t)
	seed(t, store, 6)

	w := doGet(router, "/api/metrics")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(6), resp["total_transactions"])
	assert.Equal(t, float64(2), resp["total_alerts"])
	assert.Equal(t, float64(1), resp["precision_estimate"])
	assert.Contains(t, resp, "transactions_last_60s")
}

// ---------------------------------------------------------------------------
// GET /api/transactions, /api/alerts
// ---------------------------------------------------------------------------

func TestHandler_ListTransactions(t *testing.T) {
	router, store := setupHandlerTestRouter(t)
	seed(t, store, 5)

	w := doGet(router, "/api/transactions?limit=2")
	require.Equal(t, http.StatusOK, w.Code)

	var txs []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txs))
	require.Len(t, txs, 2)
	assert.Equal(t, float64(5), txs[0]["id"])
	for _, key := range []string{"user_id", "country", "amount", "payment_method", "device",
		"ip_risk", "account_age_days", "is_new_device", "ts", "risk", "level"} {
		assert.Contains(t, txs[0], key)
	}
}

func TestHandler_ListEmptyReturnsArray(t *testing.T) {
	router, _ := setupHandlerTestRouter(t)

	for _, path := range []string{"/api/transactions", "/api/alerts"} {
		w := doGet(router, path)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String(), path)
	}
}

func TestHandler_BadLimitFallsBackToDefault(t *testing.T) {
	router, store := setupHandlerTestRouter(t)
	seed(t, store, 3)

	w := doGet(router, "/api/transactions?limit=abc")
	require.Equal(t, http.StatusOK, w.Code)
	var txs []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txs))
	assert.Len(t, txs, 3)
}

func TestHandler_ListAlerts(t *testing.T) {
	router, store := setupHandlerTestRouter(t)
	seed(t, store, 6)

	w := doGet(router, "/api/alerts")
	require.Equal(t, http.StatusOK, w.Code)

	var alerts []Alert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alerts))
	require.Len(t, alerts, 2)
	assert.Equal(t, int64(6), alerts[0].TransactionID)
	assert.Equal(t, LevelHigh, alerts[0].Level)
	assert.NotEmpty(t, alerts[0].Reasons)
}

// ---------------------------------------------------------------------------
// GET /api/explain/:id
// ---------------------------------------------------------------------------

func TestHandler_Explain_200(t *testing.T) {
	router, store := setupHandlerTestRouter(t)
	seed(t, store, 3)

	w := doGet(router, "/api/explain/3")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		OK          bool   `json:"ok"`
		Explanation string `json:"explanation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "Level HIGH. Reasons: stub", resp.Explanation)
}

func TestHandler_Explain_404(t *testing.T) {
	router, _ := setupHandlerTestRouter(t)

	w := doGet(router, "/api/explain/77")
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["ok"])
}

func TestHandler_Explain_400(t *testing.T) {
	router, _ := setupHandlerTestRouter(t)

	for _, id := range []string{"abc", "0", "-4"} {
		w := doGet(router, "/api/explain/"+id)
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
	}
}
