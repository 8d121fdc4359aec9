package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// SessionCookie is the cookie the identity provider stores its session token in.
const SessionCookie = "__session"

// TokenFromRequest reads the session token from the Authorization header,
// the session cookie or, for WebSocket upgrades and EventSource, the token
// query parameter.
func TokenFromRequest(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		return bearerToken(header)
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie, nil
	}
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

func bearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
