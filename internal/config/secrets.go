// Package config loads and validates Keyvex configuration.
//
// Secrets are validated before the server starts. In production a missing
// or weak secret is fatal; elsewhere it produces a warning and the server
// falls back to development behavior.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/lmnhd/keyvex-sub008/internal/logging"
)

// Environment constants
const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

const (
	MinJWTSecretLength     = 32
	MinInternalTokenLength = 24
	MinDatabaseURLLength   = 10
	MinProviderKeyLength   = 20
)

// SecretRequirement defines a required secret and its validation rules
type SecretRequirement struct {
	Name        string
	EnvVar      string
	Description string
	Required    bool // Required in production
	MinLength   int
	Validator   func(string) error
}

// SecretsConfig holds validated secrets for the application
type SecretsConfig struct {
	// Identity provider token verification. One of the two must be set.
	AuthJWTSecret    string
	AuthJWTSecretOld string
	AuthJWTPublicKey string

	// Shared secret for orchestration self-calls.
	InternalAPIToken string

	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string

	DatabaseURL string

	Environment  string
	IsProduction bool
}

// HasProviderKey reports whether at least one LLM provider is configured.
func (s *SecretsConfig) HasProviderKey() bool {
	return s.AnthropicAPIKey != "" || s.OpenAIAPIKey != "" || s.GeminiAPIKey != ""
}

// SecretsValidationError represents a validation failure
type SecretsValidationError struct {
	Missing  []string
	Invalid  []string
	Warnings []string
}

func (e *SecretsValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing secrets: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid secrets: %s", strings.Join(e.Invalid, ", ")))
	}
	return strings.Join(parts, "; ")
}

func (e *SecretsValidationError) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0
}

// DefaultSecretRequirements returns the secret requirements for the server.
func DefaultSecretRequirements() []SecretRequirement {
	return []SecretRequirement{
		{
			Name:        "Internal API Token",
			EnvVar:      "INTERNAL_API_TOKEN",
			Description: "Shared token authenticating orchestration self-calls",
			Required:    true,
			MinLength:   MinInternalTokenLength,
			Validator:   validateInternalToken,
		},
		{
			Name:        "Database URL",
			EnvVar:      "DATABASE_URL",
			Description: "PostgreSQL connection string",
			Required:    true,
			MinLength:   MinDatabaseURLLength,
			Validator:   validateDatabaseURL,
		},
		{
			Name:        "Anthropic API Key",
			EnvVar:      "ANTHROPIC_API_KEY",
			Description: "Claude models",
			MinLength:   MinProviderKeyLength,
		},
		{
			Name:        "OpenAI API Key",
			EnvVar:      "OPENAI_API_KEY",
			Description: "GPT models",
			MinLength:   MinProviderKeyLength,
		},
		{
			Name:        "Gemini API Key",
			EnvVar:      "GEMINI_API_KEY",
			Description: "Gemini models",
			MinLength:   MinProviderKeyLength,
		},
	}
}

// ValidateSecrets validates all required secrets and returns a SecretsConfig.
// In production a non-nil error is returned when any required secret is
// missing or invalid; callers treat it as fatal.
func ValidateSecrets() (*SecretsConfig, error) {
	isProduction := IsProductionEnvironment()

	cfg := &SecretsConfig{
		Environment:  GetEnvironment(),
		IsProduction: isProduction,
	}

	validationErr := &SecretsValidationError{}
	for _, req := range DefaultSecretRequirements() {
		checkRequirement(req, os.Getenv(req.EnvVar), isProduction, validationErr)
	}

	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")
	cfg.AuthJWTSecretOld = os.Getenv("AUTH_JWT_SECRET_OLD")
	cfg.AuthJWTPublicKey = os.Getenv("AUTH_JWT_PUBLIC_KEY")
	cfg.InternalAPIToken = os.Getenv("INTERNAL_API_TOKEN")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	switch {
	case cfg.AuthJWTPublicKey != "":
		if err := validatePublicKey(cfg.AuthJWTPublicKey); err != nil {
			validationErr.Invalid = append(validationErr.Invalid, "AUTH_JWT_PUBLIC_KEY: "+err.Error())
		}
	case cfg.AuthJWTSecret != "":
		req := SecretRequirement{EnvVar: "AUTH_JWT_SECRET", MinLength: MinJWTSecretLength, Validator: validateJWTSecret}
		checkRequirement(req, cfg.AuthJWTSecret, isProduction, validationErr)
	case isProduction:
		validationErr.Missing = append(validationErr.Missing, "AUTH_JWT_SECRET|AUTH_JWT_PUBLIC_KEY")
	default:
		validationErr.Warnings = append(validationErr.Warnings,
			"no identity provider key configured - user routes will reject every token")
	}

	if !cfg.HasProviderKey() {
		if isProduction {
			validationErr.Missing = append(validationErr.Missing, "ANTHROPIC_API_KEY|OPENAI_API_KEY|GEMINI_API_KEY")
		} else {
			validationErr.Warnings = append(validationErr.Warnings, "no LLM provider key configured - agents will fail")
		}
	}

	if isProduction && validationErr.HasErrors() {
		return nil, validationErr
	}

	if IsStagingEnvironment() && len(validationErr.Missing) > 0 {
		return nil, fmt.Errorf("staging environment requires all production secrets: %s",
			strings.Join(validationErr.Missing, ", "))
	}

	for _, warning := range validationErr.Warnings {
		logging.L().Warn("secret configuration", zap.String("warning", warning))
	}

	return cfg, nil
}

func checkRequirement(req SecretRequirement, value string, isProduction bool, verr *SecretsValidationError) {
	if value == "" {
		if req.Required && isProduction {
			verr.Missing = append(verr.Missing, req.EnvVar)
		} else if req.Required {
			verr.Warnings = append(verr.Warnings,
				fmt.Sprintf("%s not set - using development default (NOT SECURE FOR PRODUCTION)", req.EnvVar))
		}
		return
	}

	if len(value) < req.MinLength {
		if isProduction {
			verr.Invalid = append(verr.Invalid,
				fmt.Sprintf("%s: too short (min %d characters)", req.EnvVar, req.MinLength))
		} else {
			verr.Warnings = append(verr.Warnings,
				fmt.Sprintf("%s: shorter than recommended (%d chars, recommend %d+)", req.EnvVar, len(value), req.MinLength))
		}
	}

	if req.Validator != nil {
		if err := req.Validator(value); err != nil {
			if isProduction {
				verr.Invalid = append(verr.Invalid, fmt.Sprintf("%s: %s", req.EnvVar, err.Error()))
			} else {
				verr.Warnings = append(verr.Warnings,
					fmt.Sprintf("%s: %s (allowed in development)", req.EnvVar, err.Error()))
			}
		}
	}
}

// ValidateAndLogSecrets validates secrets and logs which ones are configured.
func ValidateAndLogSecrets() (*SecretsConfig, error) {
	cfg, err := ValidateSecrets()
	if err != nil {
		logging.L().Error("secrets validation failed", zap.Error(err))
		return nil, err
	}

	log := logging.L()
	log.Info("secrets configuration",
		zap.String("environment", cfg.Environment),
		zap.Bool("auth_hmac", cfg.AuthJWTSecret != ""),
		zap.Bool("auth_hmac_rotation", cfg.AuthJWTSecretOld != ""),
		zap.Bool("auth_rsa", cfg.AuthJWTPublicKey != ""),
		zap.Bool("internal_token", cfg.InternalAPIToken != ""),
		zap.Bool("anthropic", cfg.AnthropicAPIKey != ""),
		zap.Bool("openai", cfg.OpenAIAPIKey != ""),
		zap.Bool("gemini", cfg.GeminiAPIKey != ""),
		zap.Bool("database_url", cfg.DatabaseURL != ""),
	)

	return cfg, nil
}

// GetEnvironment returns the current environment
func GetEnvironment() string {
	for _, key := range []string{"GO_ENV", "KEYVEX_ENV", "ENVIRONMENT", "ENV"} {
		if env := os.Getenv(key); env != "" {
			return strings.ToLower(env)
		}
	}
	return EnvDevelopment
}

// IsProductionEnvironment returns true if running in production
func IsProductionEnvironment() bool {
	env := GetEnvironment()
	return env == EnvProduction || env == "prod"
}

// IsStagingEnvironment returns true if running in staging
func IsStagingEnvironment() bool {
	env := GetEnvironment()
	return env == EnvStaging || env == "stage"
}

// --- Validators ---

var weakSecrets = []string{
	"secret", "jwt-secret", "jwt_secret", "your-secret", "changeme", "password",
	"test", "dev", "example", "default", "placeholder", "replace-me", "keyvex",
}

// validateJWTSecret enforces a strong HMAC verification key.
func validateJWTSecret(secret string) error {
	lower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if strings.Contains(lower, weak) {
			return fmt.Errorf("contains weak/placeholder value %q", weak)
		}
	}

	allAlpha, allDigit := true, true
	for _, c := range secret {
		if !unicode.IsLetter(c) {
			allAlpha = false
		}
		if !unicode.IsDigit(c) {
			allDigit = false
		}
	}
	if allAlpha {
		return errors.New("must contain non-alphabetic characters for sufficient entropy")
	}
	if allDigit {
		return errors.New("must contain non-numeric characters for sufficient entropy")
	}

	if entropy := shannonEntropy(secret); entropy < 3.0 {
		return fmt.Errorf("entropy too low (%.1f bits/char, need >= 3.0)", entropy)
	}
	if hasRepeatingPattern(secret) {
		return errors.New("appears to contain a repeating pattern")
	}
	return nil
}

// validateInternalToken rejects placeholder and low-entropy self-call tokens.
func validateInternalToken(token string) error {
	if hasRepeatingPattern(token) {
		return errors.New("appears to contain a repeating pattern")
	}
	if entropy := shannonEntropy(token); entropy < 3.0 {
		return fmt.Errorf("entropy too low (%.1f bits/char, need >= 3.0)", entropy)
	}
	return nil
}

func validatePublicKey(pemKey string) error {
	if _, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey)); err != nil {
		return fmt.Errorf("not a PEM encoded RSA public key: %w", err)
	}
	return nil
}

// validateDatabaseURL checks for a valid PostgreSQL connection string.
func validateDatabaseURL(rawURL string) error {
	if !strings.HasPrefix(rawURL, "postgres://") && !strings.HasPrefix(rawURL, "postgresql://") {
		return errors.New("must be a PostgreSQL connection URL (postgres:// or postgresql://)")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Hostname() == "" {
		return errors.New("database URL must include a hostname")
	}

	if parsed.User != nil {
		if password, ok := parsed.User.Password(); ok {
			for _, weak := range []string{"password", "postgres", "changeme", "test", "example"} {
				if strings.EqualFold(password, weak) {
					return fmt.Errorf("database password %q is a known default", weak)
				}
			}
		}
	}
	return nil
}

// shannonEntropy calculates Shannon entropy in bits per character.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[rune]float64)
	for _, c := range s {
		freq[c]++
	}
	length := float64(len([]rune(s)))
	entropy := 0.0
	for _, count := range freq {
		p := count / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// hasRepeatingPattern detects simple repeating patterns (e.g., "abcabc").
func hasRepeatingPattern(s string) bool {
	n := len(s)
	if n < 6 {
		return false
	}
	for patLen := 1; patLen <= n/2; patLen++ {
		isRepeat := true
		for i := patLen; i < n; i++ {
			if s[i] != s[i%patLen] {
				isRepeat = false
				break
			}
		}
		if isRepeat {
			return true
		}
	}
	return false
}

// GenerateSecureSecret generates a cryptographically secure random secret
func GenerateSecureSecret(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
