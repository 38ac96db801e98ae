package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evgenyvinnik/checkout-api/configs"
	"github.com/evgenyvinnik/checkout-api/internal/adapter/http/middleware"
)

func testConfig() configs.Config {
	var cfg configs.Config
	cfg.Security.JWTSecret = "test-secret"
	cfg.Security.Issuer = "checkout-api"
	cfg.Security.Audience = "checkout-clients"
	cfg.Security.TTL = time.Hour
	return cfg
}

func testEngine(cfg configs.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	th := NewTokenHandler(cfg)
	authz := middleware.NewAuthz(cfg)
	r.POST("/v1/token", th.IssueToken)
	r.GET("/protected", authz.Require("orders.write"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func issueToken(t *testing.T, r *gin.Engine, clientID, secret string) string {
	t.Helper()
	form := url.Values{"client_id": {clientID}, "client_secret": {secret}}
	req := httptest.NewRequest(http.MethodPost, "/v1/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.AccessToken)
	return body.AccessToken
}

func TestIssueTokenRejectsBadSecret(t *testing.T) {
	r := testEngine(testConfig())

	form := url.Values{"client_id": {"storefront-web"}, "client_secret": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/v1/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthzRequiresBearerToken(t *testing.T) {
	r := testEngine(testConfig())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthzAllowsTokenWithPerm(t *testing.T) {
	r := testEngine(testConfig())
	token := issueToken(t, r, "storefront-web", "storefront-secret")

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthzForbidsMissingPerm(t *testing.T) {
	r := testEngine(testConfig())
	// svc-analytics only carries orders.read
	token := issueToken(t, r, "svc-analytics", "ana-secret")

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthzRejectsForgedToken(t *testing.T) {
	cfg := testConfig()
	r := testEngine(cfg)

	other := testConfig()
	other.Security.JWTSecret = "different-secret"
	forged := issueToken(t, testEngine(other), "storefront-web", "storefront-secret")

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
