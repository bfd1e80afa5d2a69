// Package identity issues and verifies the bearer tokens that authenticate
// session-scoped requests, compares the admin shared secret, and gates
// registration against the configured domain allowlist.
package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload carried by every session bearer token.
type Claims struct {
	SessionID string `json:"sessionId"`
	ApiKey    string `json:"apiKey"`
	StreamKey string `json:"streamKey"`
	Domain    string `json:"domain"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies session bearer tokens with a process-wide
// HMAC secret. If no secret is configured at boot the caller generates a
// random one (see NewRandomSecret) and must warn operators that restarts
// invalidate outstanding tokens.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer builds an issuer around the given secret.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

// NewRandomSecret generates a 32-byte hex secret, mirroring the teacher's
// random-byte-credential idiom (generateAnonID) but sized for HMAC use.
func NewRandomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random jwt secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Issue mints a signed bearer token for the given session identity.
func (ti *TokenIssuer) Issue(sessionID, apiKey, streamKey, domain string) (string, error) {
	claims := Claims{
		SessionID: sessionID,
		ApiKey:    apiKey,
		StreamKey: streamKey,
		Domain:    domain,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning its claims.
func (ti *TokenIssuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// TokenFromRequest extracts a bearer token from the standard Authorization
// header, falling back to a "token" query parameter. The event stream needs
// the fallback because browsers cannot set custom headers on an
// EventSource connection.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return r.URL.Query().Get("token")
}

// CompareAdminKey performs a constant-time comparison between the
// configured admin key and the value supplied on a request. An empty
// configured key always fails the comparison; callers must check
// configuration separately to distinguish "absent" (503) from "wrong" (403).
func CompareAdminKey(configured, supplied string) bool {
	if configured == "" || supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(supplied)) == 1
}

// DomainAllowlist gates registration against a "*" or comma-separated list
// of allowed origins.
type DomainAllowlist struct {
	wildcard bool
	allowed  map[string]struct{}
}

// NewDomainAllowlist parses the ALLOWED_DOMAINS configuration value.
func NewDomainAllowlist(raw string) *DomainAllowlist {
	raw = strings.TrimSpace(raw)
	if raw == "*" || raw == "" {
		return &DomainAllowlist{wildcard: true}
	}
	allowed := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			allowed[part] = struct{}{}
		}
	}
	return &DomainAllowlist{allowed: allowed}
}

// Allowed reports whether domain may register a session.
func (a *DomainAllowlist) Allowed(domain string) bool {
	if a.wildcard {
		return true
	}
	_, ok := a.allowed[domain]
	return ok
}
