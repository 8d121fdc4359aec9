// Package auth verifies identity-provider session tokens.
//
// Keyvex does not issue user tokens; the identity provider does. The backend
// only checks the signature (HMAC shared secret with rotation, or an RSA
// public key) and reads the subject as the user id.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrNoVerifierKey = errors.New("no token verification key configured")
	ErrMissingToken  = errors.New("missing token")
)

// Claims are the session token claims the backend relies on. The subject is
// the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string { return c.Subject }

// VerifierConfig selects the verification key.
type VerifierConfig struct {
	Secret       string
	OldSecret    string // accepted during rotation
	PublicKeyPEM string
	Issuer       string // checked when set
}

// Verifier validates session tokens.
type Verifier struct {
	secrets   [][]byte
	publicKey *rsa.PublicKey
	issuer    string
}

// NewVerifier builds a verifier. A public key takes precedence over shared
// secrets.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	v := &Verifier{issuer: cfg.Issuer}
	if cfg.PublicKeyPEM != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse auth public key: %w", err)
		}
		v.publicKey = key
		return v, nil
	}
	for _, s := range []string{cfg.Secret, cfg.OldSecret} {
		if s != "" {
			v.secrets = append(v.secrets, []byte(s))
		}
	}
	if len(v.secrets) == 0 {
		return nil, ErrNoVerifierKey
	}
	return v, nil
}

// Verify parses tokenString and returns its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithLeeway(30 * time.Second)}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	if v.publicKey != nil {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
		return v.parse(tokenString, func(*jwt.Token) (interface{}, error) { return v.publicKey, nil }, opts)
	}

	opts = append(opts, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	var lastErr error
	for _, secret := range v.secrets {
		secret := secret
		claims, err := v.parse(tokenString, func(*jwt.Token) (interface{}, error) { return secret, nil }, opts)
		if err == nil {
			return claims, nil
		}
		lastErr = err
		if errors.Is(err, ErrTokenExpired) {
			break
		}
	}
	return nil, lastErr
}

func (v *Verifier) parse(tokenString string, keyFunc jwt.Keyfunc, opts []jwt.ParserOption) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignHS256 issues an HMAC session token for local development and tests.
func SignHS256(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
