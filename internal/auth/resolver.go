// Package auth – Identity Resolver
//
// This file implements verification of the bearer credentials presented on
// the WebSocket handshake and on the REST API. A credential is a compact
// HS256 JWT whose "sub" claim carries the user ID and whose optional "name"
// claim carries the display name shown to collaborators. Verification is
// strict: unsupported algorithms, bad signatures, expired tokens and
// audience mismatches are each rejected with a distinct sentinel error, all
// of which unwrap to ErrUnauthorized so callers can branch on a single
// value.
//
// A development token (AUTH_DEV_TOKEN) may be configured to resolve to a
// fixed seeded identity without a signing secret. Configuration validation
// refuses to boot production with a dev token set, so the shortcut cannot
// leak past local environments.
//
// Usage:
//
//	r := auth.NewResolver(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience, cfg.Auth.DevToken)
//	id, err := r.Resolve(token)
//	if err != nil { /* errors.Is(err, auth.ErrUnauthorized) == true */ }
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnauthorized is the base sentinel for every credential failure. The
// specific sentinels below wrap it, so errors.Is(err, ErrUnauthorized)
// holds for any of them.
var ErrUnauthorized = errors.New("unauthorized")

var (
	// ErrMissingToken is returned for an empty or blank credential.
	ErrMissingToken = fmt.Errorf("%w: missing token", ErrUnauthorized)

	// ErrMalformedToken is returned when the credential is not a three-part
	// compact JWT or its segments do not decode.
	ErrMalformedToken = fmt.Errorf("%w: malformed token", ErrUnauthorized)

	// ErrUnsupportedAlgorithm is returned when the token header requests
	// anything other than HS256.
	ErrUnsupportedAlgorithm = fmt.Errorf("%w: unsupported signing algorithm", ErrUnauthorized)

	// ErrBadSignature is returned when the HMAC does not verify.
	ErrBadSignature = fmt.Errorf("%w: signature mismatch", ErrUnauthorized)

	// ErrTokenExpired is returned when the "exp" claim is in the past.
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrUnauthorized)

	// ErrAudienceMismatch is returned when a configured audience is absent
	// from the token's "aud" claim.
	ErrAudienceMismatch = fmt.Errorf("%w: audience mismatch", ErrUnauthorized)

	// ErrMissingSubject is returned when the "sub" claim is empty.
	ErrMissingSubject = fmt.Errorf("%w: missing subject", ErrUnauthorized)
)

// Seeded identity resolved for the development token.
const (
	DevUserID   = "dev-user"
	DevUserName = "Dev User"
)

// Identity is the resolved principal attached to a connection or request.
type Identity struct {
	// UserID is the stable user identifier ("sub" claim).
	UserID string
	// DisplayName is the human-readable name ("name" claim). Falls back to
	// the user ID when the claim is absent.
	DisplayName string
}

// Resolver verifies bearer credentials and maps them to identities.
// The zero value rejects everything; construct via NewResolver.
type Resolver struct {
	secret   []byte
	audience string
	devToken string

	// now is a clock hook for tests; defaults to time.Now.
	now func() time.Time
}

// NewResolver builds a Resolver. secret may be empty when only the dev
// token is in use (config validation enforces that at least one is set).
func NewResolver(secret, audience, devToken string) *Resolver {
	return &Resolver{
		secret:   []byte(secret),
		audience: audience,
		devToken: devToken,
		now:      time.Now,
	}
}

// Resolve verifies credential and returns the identity it names.
// All failures unwrap to ErrUnauthorized.
func (r *Resolver) Resolve(credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, ErrMissingToken
	}

	if r.devToken != "" && hmac.Equal([]byte(credential), []byte(r.devToken)) {
		return Identity{UserID: DevUserID, DisplayName: DevUserName}, nil
	}

	if len(r.secret) == 0 {
		// No signing secret configured; the JWT path is disabled.
		return Identity{}, ErrBadSignature
	}

	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return Identity{}, ErrMalformedToken
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Identity{}, ErrMalformedToken
	}
	var header struct {
		Alg string `json:"alg"`
		Typ string `json:"typ"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return Identity{}, ErrMalformedToken
	}
	if header.Alg != "HS256" {
		return Identity{}, ErrUnsupportedAlgorithm
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Identity{}, ErrMalformedToken
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Identity{}, ErrMalformedToken
	}

	mac := hmac.New(sha256.New, r.secret)
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sigBytes, mac.Sum(nil)) {
		return Identity{}, ErrBadSignature
	}

	var claims struct {
		Sub  string          `json:"sub"`
		Name string          `json:"name"`
		Aud  json.RawMessage `json:"aud"`
		Exp  *int64          `json:"exp"`
	}
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return Identity{}, ErrMalformedToken
	}

	if claims.Exp == nil {
		return Identity{}, ErrMalformedToken
	}
	if r.now().Unix() >= *claims.Exp {
		return Identity{}, ErrTokenExpired
	}

	if r.audience != "" && !audienceMatches(claims.Aud, r.audience) {
		return Identity{}, ErrAudienceMismatch
	}

	if strings.TrimSpace(claims.Sub) == "" {
		return Identity{}, ErrMissingSubject
	}

	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name = claims.Sub
	}
	return Identity{UserID: claims.Sub, DisplayName: name}, nil
}

// audienceMatches accepts both the string and string-array forms of "aud".
func audienceMatches(raw json.RawMessage, want string) bool {
	if len(raw) == 0 {
		return false
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single == want
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, a := range many {
			if a == want {
				return true
			}
		}
	}
	return false
}
