package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmnhd/keyvex-sub008/internal/auth"
)

const (
	testSecret        = "test-secret-key-for-auth-middleware-000"
	testInternalToken = "internal-token-for-tests-0000"
)

func newVerifier(t *testing.T) *auth.Verifier {
	t.Helper()
	v, err := auth.NewVerifier(auth.VerifierConfig{Secret: testSecret})
	require.NoError(t, err)
	return v
}

func signToken(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	token, err := auth.SignHS256(testSecret, userID, ttl)
	require.NoError(t, err)
	return token
}

func userEcho(c *gin.Context) {
	id, _ := GetUserID(c)
	c.JSON(http.StatusOK, gin.H{"user": id, "internal": IsInternal(c)})
}

func TestRequireAuth(t *testing.T) {
	router := gin.New()
	router.GET("/me", RequireAuth(newVerifier(t)), userEcho)

	valid := signToken(t, "user_1", time.Hour)

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantStatus int
		wantCode   string
	}{
		{"valid header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) }, http.StatusOK, ""},
		{"valid cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: valid}) }, http.StatusOK, ""},
		{"valid query", func(r *http.Request) { r.URL.RawQuery = "token=" + valid }, http.StatusOK, ""},
		{"missing", func(*http.Request) {}, http.StatusUnauthorized, CodeAuthMissing},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Token "+valid) }, http.StatusUnauthorized, CodeInvalidAuthHeader},
		{"invalid", func(r *http.Request) { r.Header.Set("Authorization", "Bearer invalid.token.here") }, http.StatusUnauthorized, CodeInvalidToken},
		{"expired", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, "user_1", -time.Hour))
		}, http.StatusUnauthorized, CodeTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
			} else {
				assert.Contains(t, w.Body.String(), `"user":"user_1"`)
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	router := gin.New()
	router.GET("/me", OptionalAuth(newVerifier(t)), userEcho)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":""`)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user_2", time.Hour))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), `"user":"user_2"`)
}

func TestInternalAuth(t *testing.T) {
	router := gin.New()
	router.POST("/step", InternalAuth(testInternalToken), userEcho)

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"valid", testInternalToken, http.StatusOK},
		{"wrong", "nope", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/step", nil)
			if tt.token != "" {
				req.Header.Set(InternalTokenHeader, tt.token)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"internal":true`)
			} else {
				assert.Equal(t, CodeInternalAuth, decodeError(t, w).Code)
			}
		})
	}
}

func TestInternalAuthWithoutConfiguredToken(t *testing.T) {
	router := gin.New()
	router.POST("/step", InternalAuth(""), userEcho)

	req := httptest.NewRequest(http.MethodPost, "/step", nil)
	req.Header.Set(InternalTokenHeader, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireUserOrInternal(t *testing.T) {
	router := gin.New()
	router.POST("/agents/x", RequireUserOrInternal(newVerifier(t), testInternalToken), userEcho)

	req := httptest.NewRequest(http.MethodPost, "/agents/x", nil)
	req.Header.Set(InternalTokenHeader, testInternalToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"internal":true`)

	req = httptest.NewRequest(http.MethodPost, "/agents/x", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user_3", time.Hour))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":"user_3"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/agents/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
