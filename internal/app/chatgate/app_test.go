package chatgate

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/chatgate/internal/config"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/models"
)

type envelope struct {
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Data   json.RawMessage `json:"data"`
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Env:      "local",
		Storage:  config.Storage{Driver: "json", DataDir: t.TempDir()},
		Sessions: config.Sessions{Driver: "storage", TTL: 24 * time.Hour, Cookie: "session_id"},
		Lock:     config.Lock{Driver: "local"},
		JWTToken: config.JWTToken{JWTSecretKey: "test-secret", TokenTTL: time.Hour},
		LLM:      config.LLM{BaseURL: "http://127.0.0.1:1", Model: "test"},
		Chat:     config.Chat{CreditCost: 10, MaxPromptRunes: 2000, RateLimit: 100, RateBurst: 100},
		Pricing: config.Pricing{
			Currency: "USD", BasicMonthly: 20, BasicYearly: 200, ProMonthly: 50, ProYearly: 500,
		},
		Admins: []string{"admin"},
	}
}

func newTestApp(t *testing.T) http.Handler {
	t.Helper()
	a, err := New(context.Background(), testConfig(t), sl.Discard())
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a.server.Handler
}

func do(t *testing.T, h http.Handler, method, path string, body any, mod func(*http.Request)) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if mod != nil {
		mod(req)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env envelope
	if rr.Header().Get("Content-Type") != "" && rr.Body.Len() > 0 {
		_ = json.Unmarshal(rr.Body.Bytes(), &env)
	}
	return rr, env
}

func register(t *testing.T, h http.Handler, username string) *http.Cookie {
	t.Helper()
	rr, _ := do(t, h, http.MethodPost, "/api/v1/register", map[string]string{
		"username":         username,
		"email":            username + "@example.com",
		"password":         "secret1",
		"confirm_password": "secret1",
	}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr, _ = do(t, h, http.MethodPost, "/api/v1/login", map[string]string{
		"username": username,
		"password": "secret1",
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	for _, c := range rr.Result().Cookies() {
		if c.Name == "session_id" {
			return c
		}
	}
	t.Fatal("session cookie is not set")
	return nil
}

func TestRoutes_SessionRequired(t *testing.T) {
	h := newTestApp(t)

	for _, path := range []string{"/api/v1/me", "/api/v1/trial", "/api/v1/subscription", "/api/v1/orders"} {
		rr, _ := do(t, h, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}

	rr, _ := do(t, h, http.MethodGet, "/api/v1/admin/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRoutes_PublicEndpoints(t *testing.T) {
	h := newTestApp(t)

	rr, env := do(t, h, http.MethodGet, "/api/v1/plans", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, string(env.Data), `"basic"`)

	rr, _ = do(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = do(t, h, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRoutes_RegisterLoginMe(t *testing.T) {
	h := newTestApp(t)
	cookie := register(t, h, "alice")

	rr, env := do(t, h, http.MethodGet, "/api/v1/me", nil, func(r *http.Request) { r.AddCookie(cookie) })
	require.Equal(t, http.StatusOK, rr.Code)

	var me struct {
		Username     string      `json:"username"`
		Subscription models.Plan `json:"subscription"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, models.PlanFree, me.Subscription)

	rr, _ = do(t, h, http.MethodPost, "/api/v1/logout", nil, func(r *http.Request) { r.AddCookie(cookie) })
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = do(t, h, http.MethodGet, "/api/v1/me", nil, func(r *http.Request) { r.AddCookie(cookie) })
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRoutes_OrderApprovalActivatesPlan(t *testing.T) {
	h := newTestApp(t)
	user := register(t, h, "bob")
	register(t, h, "admin")

	withUser := func(r *http.Request) { r.AddCookie(user) }

	rr, env := do(t, h, http.MethodPost, "/api/v1/orders", map[string]string{"plan": "basic"}, withUser)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var order models.Order
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, models.OrderPending, order.Status)

	rr, _ = do(t, h, http.MethodPost, "/api/v1/orders", map[string]string{"plan": "basic"}, withUser)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, env = do(t, h, http.MethodPost, "/api/v1/admin/login", map[string]string{
		"username": "admin",
		"password": "secret1",
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &login))
	require.NotEmpty(t, login.Token)
	withAdmin := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+login.Token) }

	rr, _ = do(t, h, http.MethodPost, "/api/v1/admin/orders/"+order.ID+"/approve", nil, withAdmin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr, _ = do(t, h, http.MethodPost, "/api/v1/admin/orders/"+order.ID+"/reject", nil, withAdmin)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, env = do(t, h, http.MethodGet, "/api/v1/subscription", nil, withUser)
	require.Equal(t, http.StatusOK, rr.Code)
	var sub struct {
		Plan    models.Plan           `json:"subscription"`
		Credits *models.CreditAccount `json:"credits"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sub))
	assert.Equal(t, models.PlanBasic, sub.Plan)
	require.NotNil(t, sub.Credits)
	assert.Positive(t, sub.Credits.CurrentCredits)

	rr, _ = do(t, h, http.MethodGet, "/api/v1/admin/stats", nil, withAdmin)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRoutes_NonAdminCannotGetToken(t *testing.T) {
	h := newTestApp(t)
	register(t, h, "carol")

	rr, _ := do(t, h, http.MethodPost, "/api/v1/admin/login", map[string]string{
		"username": "carol",
		"password": "secret1",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestOffers(t *testing.T) {
	offers := Offers(Prices(config.Pricing{
		Currency: "USD", BasicMonthly: 20, BasicYearly: 200, ProMonthly: 50, ProYearly: 500,
	}))

	assert.Equal(t, []string{
		"basic: 20.00 USD/month or 200.00 USD/year",
		"pro: 50.00 USD/month or 500.00 USD/year",
		"custom: individual offer",
	}, offers)
}
