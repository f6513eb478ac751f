// Package auth implements the reference table server's bearer-token
// authentication, adapted from the teacher's internal/auth/jwt.go: HS256
// shared-secret validation for dev/testing, RS256 validation against a
// JWKS endpoint for production, and an X-Debug-Sub escape hatch gated by
// DevMode. Dropped relative to the teacher: the app_user upsert and the
// WorkOS tenant-resolution layer, since entities here are scoped by
// (entityType, id) only (spec.md's data model has no tenant concept).
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type ctxKey string

// CtxSubject is the request-context key the middleware attaches the
// validated token subject under.
const CtxSubject ctxKey = "sub"

// Config holds JWT authentication configuration for the table server.
type Config struct {
	HS256Secret string // HMAC secret for HS256 tokens (dev/testing)
	DevMode     bool   // allow X-Debug-Sub to bypass JWT validation (local dev only)
	Issuer      string // upstream IdP issuer
	JWKSURL     string // JWKS endpoint for RS256 validation
	Audience    string // expected audience claim, if any
}

type jwksCache struct {
	mu         sync.RWMutex
	keys       map[string]*rsa.PublicKey
	lastFetch  time.Time
	cacheTTL   time.Duration
	jwksURL    string
	httpClient *http.Client
}

type jwksResponse struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (c *jwksCache) fetchJWKS(forceRefresh bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !forceRefresh && time.Since(c.lastFetch) < c.cacheTTL && len(c.keys) > 0 {
		return nil
	}

	resp, err := c.httpClient.Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("auth: fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: jwks endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("auth: read jwks response: %w", err)
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("auth: parse jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || key.Use != "sig" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
		if err != nil {
			log.Warn().Err(err).Str("kid", key.Kid).Msg("tableserver: failed to decode jwks modulus")
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
		if err != nil {
			log.Warn().Err(err).Str("kid", key.Kid).Msg("tableserver: failed to decode jwks exponent")
			continue
		}
		var eInt int
		for _, b := range eBytes {
			eInt = eInt<<8 | int(b)
		}
		keys[key.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: eInt}
	}

	if len(keys) == 0 {
		return errors.New("auth: no valid RSA signing keys found in jwks")
	}

	c.keys = keys
	c.lastFetch = time.Now()
	return nil
}

func (c *jwksCache) getPublicKey(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	expired := time.Since(c.lastFetch) >= c.cacheTTL
	c.mu.RUnlock()

	if expired {
		if err := c.fetchJWKS(false); err != nil {
			log.Warn().Err(err).Msg("tableserver: failed to refresh expired jwks cache, using stale keys")
		}
	}

	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if ok {
		return key, nil
	}

	if err := c.fetchJWKS(true); err != nil {
		return nil, fmt.Errorf("auth: fetch jwks for missing key %s: %w", kid, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("auth: key id %s not found in jwks after refresh", kid)
}

// Authenticator validates bearer tokens according to Config.
type Authenticator struct {
	cfg  Config
	jwks *jwksCache
}

// New builds an Authenticator, pre-fetching the JWKS if configured.
func New(cfg Config) *Authenticator {
	a := &Authenticator{cfg: cfg}
	if cfg.JWKSURL != "" {
		a.jwks = &jwksCache{
			cacheTTL:   time.Hour,
			jwksURL:    cfg.JWKSURL,
			httpClient: &http.Client{Timeout: 10 * time.Second},
		}
		if err := a.jwks.fetchJWKS(false); err != nil {
			log.Warn().Err(err).Msg("tableserver: failed to pre-fetch jwks, will retry on first request")
		}
	}
	if cfg.DevMode {
		log.Warn().Msg("tableserver: DevMode enabled, X-Debug-Sub bypasses JWT validation")
	}
	return a
}

// ValidateToken validates tokenString against cfg and returns its subject.
func (a *Authenticator) ValidateToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.New("auth: token is empty")
	}

	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
			if a.jwks == nil {
				return nil, errors.New("auth: no jwks configured for RS256 tokens")
			}
			kid, ok := t.Header["kid"].(string)
			if !ok || kid == "" {
				return nil, errors.New("auth: missing kid in token header")
			}
			return a.jwks.getPublicKey(kid)
		case *jwt.SigningMethodHMAC:
			if a.cfg.HS256Secret == "" {
				return nil, errors.New("auth: HS256 secret not configured")
			}
			return []byte(a.cfg.HS256Secret), nil
		default:
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
	})
	if err != nil || !t.Valid {
		return "", fmt.Errorf("auth: jwt validation failed: %w", err)
	}

	if a.cfg.Issuer != "" {
		if iss, ok := claims["iss"].(string); !ok || iss != a.cfg.Issuer {
			return "", fmt.Errorf("auth: invalid issuer: expected %s, got %v", a.cfg.Issuer, claims["iss"])
		}
	}
	if a.cfg.Audience != "" {
		if !audienceMatches(claims["aud"], a.cfg.Audience) {
			return "", fmt.Errorf("auth: invalid audience: expected %s, got %v", a.cfg.Audience, claims["aud"])
		}
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("auth: missing or invalid sub claim")
	}
	return sub, nil
}

func audienceMatches(aud any, expected string) bool {
	switch v := aud.(type) {
	case string:
		return v == expected
	case []interface{}:
		for _, a := range v {
			if s, ok := a.(string); ok && s == expected {
				return true
			}
		}
	}
	return false
}

// Middleware attaches the validated token's subject to the request context
// under CtxSubject, or (DevMode only) the X-Debug-Sub header's value.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := ""
		if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
			tok = h[7:]
		}

		sub := ""
		if a.cfg.DevMode && tok == "" {
			sub = r.Header.Get("X-Debug-Sub")
		}
		if tok != "" {
			var err error
			sub, err = a.ValidateToken(tok)
			if err != nil {
				log.Warn().Err(err).Msg("tableserver: jwt validation failed")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		if sub == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), CtxSubject, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Subject extracts the authenticated subject from request context.
func Subject(ctx context.Context) string {
	if v := ctx.Value(CtxSubject); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
