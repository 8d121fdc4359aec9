// Keyvex authentication middleware.
// User routes verify identity-provider session tokens; orchestration
// self-calls carry the shared internal token instead.

package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lmnhd/keyvex-sub008/internal/auth"
)

// InternalTokenHeader carries the shared secret on orchestration self-calls.
const InternalTokenHeader = "X-Internal-Token"

// Context keys set by the auth middleware.
const (
	ContextUserID   = "user_id"
	ContextClaims   = "token_claims"
	ContextInternal = "internal_call"
)

// TokenVerifier checks a session token. *auth.Verifier implements it.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// RequireAuth rejects requests without a valid session token.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, verifier) {
			return
		}
		c.Next()
	}
}

// OptionalAuth records the user when a valid token is present and continues
// either way.
func OptionalAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, err := auth.TokenFromRequest(c); err == nil {
			if claims, err := verifier.Verify(token); err == nil {
				setUser(c, claims)
			}
		}
		c.Next()
	}
}

// InternalAuth accepts only requests carrying the internal token.
func InternalAuth(internalToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isInternal(c, internalToken) {
			AbortWithError(c, http.StatusUnauthorized, CodeInternalAuth, "internal token required")
			return
		}
		c.Set(ContextInternal, true)
		c.Next()
	}
}

// RequireUserOrInternal accepts either the internal token or a user session.
func RequireUserOrInternal(verifier TokenVerifier, internalToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isInternal(c, internalToken) {
			c.Set(ContextInternal, true)
			c.Next()
			return
		}
		if !authenticate(c, verifier) {
			return
		}
		c.Next()
	}
}

func isInternal(c *gin.Context, internalToken string) bool {
	got := c.GetHeader(InternalTokenHeader)
	return internalToken != "" && got != "" &&
		subtle.ConstantTimeCompare([]byte(got), []byte(internalToken)) == 1
}

func authenticate(c *gin.Context, verifier TokenVerifier) bool {
	token, err := auth.TokenFromRequest(c)
	if err != nil {
		code := CodeAuthMissing
		if errors.Is(err, auth.ErrInvalidToken) {
			code = CodeInvalidAuthHeader
		}
		AbortWithError(c, http.StatusUnauthorized, code, "authentication required")
		return false
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		code := CodeInvalidToken
		if errors.Is(err, auth.ErrTokenExpired) {
			code = CodeTokenExpired
		}
		AbortWithError(c, http.StatusUnauthorized, code, err.Error())
		return false
	}
	setUser(c, claims)
	return true
}

func setUser(c *gin.Context, claims *auth.Claims) {
	c.Set(ContextUserID, claims.UserID())
	c.Set(ContextClaims, claims)
}

// GetUserID returns the authenticated user id.
func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextUserID)
	return id, id != ""
}

// IsInternal reports whether the request came through the internal token.
func IsInternal(c *gin.Context) bool {
	return c.GetBool(ContextInternal)
}
