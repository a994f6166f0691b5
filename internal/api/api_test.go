package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/pouladzade/bitrade/internal/market"
	"github.com/pouladzade/bitrade/internal/testsupport"
)

func newTestServer(secret string) (*gin.Engine, *market.Manager) {
	s := testsupport.NewMemoryStore()
	mgr := market.NewManager(s, nil, nil)
	srv := &Server{Manager: mgr, Reader: s, JWTSecret: secret}
	return srv.Router(), mgr
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
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

func createAndStartMarket(t *testing.T, r *gin.Engine) {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v1/cmd/markets", gin.H{
		"market_id": "BTC-USD", "base_asset": "BTC", "quote_asset": "USD",
		"price_precision": 8, "amount_precision": 8,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = doJSON(t, r, http.MethodPost, "/v1/cmd/markets/BTC-USD/start", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	r, mgr := newTestServer("")
	defer mgr.Shutdown()

	createAndStartMarket(t, r)

	for _, dep := range []gin.H{
		{"user_id": "alice", "asset": "USD", "amount": "50000"},
		{"user_id": "bob", "asset": "BTC", "amount": "1"},
	} {
		w := doJSON(t, r, http.MethodPost, "/v1/cmd/deposit", dep, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := doJSON(t, r, http.MethodPost, "/v1/cmd/orders", gin.H{
		"market_id": "BTC-USD", "user_id": "alice",
		"side": "BUY", "order_type": "LIMIT", "time_in_force": "GTC",
		"price": "50000", "base_amount": "1", "quote_amount": "50000",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	require.NotEmpty(t, resp["resting_order_id"])

	w = doJSON(t, r, http.MethodPost, "/v1/cmd/orders", gin.H{
		"market_id": "BTC-USD", "user_id": "bob",
		"side": "SELL", "order_type": "LIMIT", "time_in_force": "GTC",
		"price": "50000", "base_amount": "1",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = decode(t, w)
	require.Len(t, resp["trades"], 1)

	w = doJSON(t, r, http.MethodGet, "/v1/cmd/balance?user_id=alice&asset=BTC", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	bal := decode(t, w)
	require.Equal(t, "1", bal["available"])

	w = doJSON(t, r, http.MethodGet, "/v1/query/trades?market_id=BTC-USD", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	require.EqualValues(t, 1, page["total_count"])

	w = doJSON(t, r, http.MethodGet, "/v1/query/markets/BTC-USD/stats", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	require.Equal(t, "50000", stats["last_price"])
}

func TestAddOrderValidationError(t *testing.T) {
	r, mgr := newTestServer("")
	defer mgr.Shutdown()
	createAndStartMarket(t, r)

	// LIMIT order with price 0 must be rejected as InvalidArgument.
	w := doJSON(t, r, http.MethodPost, "/v1/cmd/orders", gin.H{
		"market_id": "BTC-USD", "user_id": "alice",
		"side": "BUY", "order_type": "LIMIT",
		"price": "0", "base_amount": "1", "quote_amount": "0",
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	require.Equal(t, "InvalidArgument", decode(t, w)["error"])
}

func TestUnknownMarketIsNotFound(t *testing.T) {
	r, mgr := newTestServer("")
	defer mgr.Shutdown()

	w := doJSON(t, r, http.MethodGet, "/v1/query/markets/NOPE-USD", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NotFound", decode(t, w)["error"])
}

func TestAdminAuth(t *testing.T) {
	const secret = "test-secret"
	r, mgr := newTestServer(secret)
	defer mgr.Shutdown()

	body := gin.H{"market_id": "BTC-USD", "base_asset": "BTC", "quote_asset": "USD"}

	w := doJSON(t, r, http.MethodPost, "/v1/cmd/markets", body, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	w = doJSON(t, r, http.MethodPost, "/v1/cmd/markets", body, map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Non-admin commands stay open.
	w = doJSON(t, r, http.MethodPost, "/v1/cmd/deposit", gin.H{
		"user_id": "alice", "asset": "USD", "amount": "10",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
