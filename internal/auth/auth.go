// Package auth verifies the shared bearer secrets that guard each service
// tier. Each tier holds its own secret; a token for one is worthless at the
// other.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrAuthDisabled       = errors.New("auth disabled")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const bearerPrefix = "bearer "

// Service validates bearer tokens against one process-wide secret.
type Service struct {
	digest [sha256.Size]byte
	set    bool
}

// NewService builds a service for secret. An empty secret produces a
// service that rejects every request.
func NewService(secret string) *Service {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Service{}
	}
	return &Service{digest: sha256.Sum256([]byte(secret)), set: true}
}

// Enabled reports whether a secret is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.set
}

// Validate checks token against the secret.
// Both sides are hashed first so the comparison is constant time
// regardless of token length.
func (s *Service) Validate(token string) error {
	if !s.Enabled() {
		return ErrAuthDisabled
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissingCredentials
	}
	sum := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(sum[:], s.digest[:]) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// ValidateRequest extracts the bearer token from r and validates it.
func (s *Service) ValidateRequest(r *http.Request) error {
	token := ExtractBearer(r.Header.Get("Authorization"))
	if token == "" {
		if !s.Enabled() {
			return ErrAuthDisabled
		}
		return ErrMissingCredentials
	}
	return s.Validate(token)
}

// ExtractBearer returns the token of a "Bearer <token>" header value. The
// scheme is matched case-insensitively.
func ExtractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// SetBearer sets the Authorization header for an outbound request.
func SetBearer(header http.Header, token string) {
	header.Set("Authorization", "Bearer "+token)
}
