package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"docchat-backend/internal/shared/faults"
)

const defaultTTL = 24 * time.Hour

// Claims represents the identity contained in a JWT.
type Claims struct {
	Sub     string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Exp     int64  `json:"exp,omitempty"`
	Iat     int64  `json:"iat,omitempty"`
}

var (
	errMissingSecret = errors.New("jwt secret not configured")

	// ErrInvalidToken covers malformed tokens and bad signatures.
	ErrInvalidToken = faults.Auth("auth", errors.New("invalid token"))
	// ErrExpiredToken is returned for a well-signed token past its exp.
	ErrExpiredToken = faults.Auth("auth", errors.New("token expired"))
)

// Verifier checks a bearer token and returns its identity.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// HS256 signs and verifies tokens with a shared secret.
type HS256 struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

// NewHS256 builds an HS256 signer/verifier.
func NewHS256(secret []byte) *HS256 {
	return &HS256{Secret: secret, TTL: defaultTTL, Now: time.Now}
}

// NewHS256FromEnv reads JWT_SECRET, falling back to a dev secret outside production.
func NewHS256FromEnv() (*HS256, error) {
	secret, err := secretKey()
	if err != nil {
		return nil, err
	}
	return NewHS256(secret), nil
}

func (h *HS256) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// Sign issues a token for claims, filling iat and exp when unset.
func (h *HS256) Sign(claims Claims) (string, error) {
	if len(h.Secret) == 0 {
		return "", errMissingSecret
	}
	if claims.Sub == "" {
		return "", errors.New("sub is required")
	}

	now := h.now().Unix()
	if claims.Iat == 0 {
		claims.Iat = now
	}
	if claims.Exp == 0 {
		ttl := h.TTL
		if ttl <= 0 {
			ttl = defaultTTL
		}
		claims.Exp = now + int64(ttl/time.Second)
	}

	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return signingInput + "." + sign(signingInput, h.Secret), nil
}

// Verify checks signature, subject and expiry.
func (h *HS256) Verify(token string) (Claims, error) {
	if len(h.Secret) == 0 {
		return Claims{}, errMissingSecret
	}

	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return Claims{}, ErrInvalidToken
	}

	signingInput := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(sign(signingInput, h.Secret))) {
		return Claims{}, ErrInvalidToken
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Sub == "" {
		return Claims{}, ErrInvalidToken
	}
	if claims.Exp > 0 && h.now().Unix() > claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

// SignJWT signs the given claims with HS256 using the configured secret.
func SignJWT(claims Claims) (string, error) {
	h, err := NewHS256FromEnv()
	if err != nil {
		return "", err
	}
	return h.Sign(claims)
}

// VerifyJWT verifies a token against the configured secret.
func VerifyJWT(token string) (Claims, error) {
	h, err := NewHS256FromEnv()
	if err != nil {
		return Claims{}, err
	}
	return h.Verify(token)
}

func sign(input string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(input))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func secretKey() ([]byte, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	env := strings.ToLower(strings.TrimSpace(os.Getenv("ENV")))
	if env == "production" || env == "prod" {
		if secret == "" {
			return nil, fmt.Errorf("%w: JWT_SECRET required in production", errMissingSecret)
		}
	}
	if secret == "" {
		secret = "dev-secret"
	}
	return []byte(secret), nil
}

var _ Verifier = (*HS256)(nil)
