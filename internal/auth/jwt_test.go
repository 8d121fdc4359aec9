package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-session-tokens-0123"

func TestNewVerifier(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{})
	assert.ErrorIs(t, err, ErrNoVerifierKey)

	_, err = NewVerifier(VerifierConfig{PublicKeyPEM: "not a key"})
	assert.Error(t, err)

	v, err := NewVerifier(VerifierConfig{Secret: testSecret})
	require.NoError(t, err)
	assert.Len(t, v.secrets, 1)
}

func TestVerifyHMAC(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{Secret: testSecret})
	require.NoError(t, err)

	token, err := SignHS256(testSecret, "user_123", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user_123", claims.UserID())

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "invalid.token.here", ErrInvalidToken},
		{"wrong secret", mustSign(t, "another-secret-another-secret-0000", "u", time.Hour), ErrInvalidToken},
		{"expired", mustSign(t, testSecret, "u", -time.Hour), ErrTokenExpired},
		{"no subject", mustSign(t, testSecret, "", time.Hour), ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifyRotatedSecret(t *testing.T) {
	const oldSecret = "previous-secret-still-accepted-000000"
	v, err := NewVerifier(VerifierConfig{Secret: testSecret, OldSecret: oldSecret})
	require.NoError(t, err)

	claims, err := v.Verify(mustSign(t, oldSecret, "user_old", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "user_old", claims.UserID())
}

func TestVerifyRejectsAlgorithmSwitch(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{Secret: testSecret})
	require.NoError(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	v, err := NewVerifier(VerifierConfig{PublicKeyPEM: pemKey, Issuer: "https://idp.example.com"})
	require.NoError(t, err)

	sign := func(issuer string) string {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user_rsa",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}

	claims, err := v.Verify(sign("https://idp.example.com"))
	require.NoError(t, err)
	assert.Equal(t, "user_rsa", claims.UserID())

	_, err = v.Verify(sign("https://evil.example.com"))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(mustSign(t, testSecret, "u", time.Hour))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		setup   func(r *http.Request)
		want    string
		wantErr error
	}{
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, "abc", nil},
		{"lowercase bearer", func(r *http.Request) { r.Header.Set("Authorization", "bearer abc") }, "abc", nil},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Token abc") }, "", ErrInvalidToken},
		{"empty bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer  ") }, "", ErrMissingToken},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "from-cookie"}) }, "from-cookie", nil},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=from-query" }, "from-query", nil},
		{"none", func(*http.Request) {}, "", ErrMissingToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(c.Request)

			got, err := TokenFromRequest(c)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func mustSign(t *testing.T, secret, userID string, ttl time.Duration) string {
	t.Helper()
	token, err := SignHS256(secret, userID, ttl)
	require.NoError(t, err)
	return token
}
