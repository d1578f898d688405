// Package auth exchanges a signed service-account assertion for a bearer
// token and caches the result per scope set. The cache expires earlier than
// the token itself so a tick never starts with a token about to lapse.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
)

// ErrExchange marks a failed token exchange. Callers treat it as fatal for
// the current tick: no further authenticated call can proceed.
var ErrExchange = errors.New("token exchange failed")

// Scopes required for the document store and the realtime tree store.
var Scopes = []string{
	"https://www.googleapis.com/auth/datastore",
	"https://www.googleapis.com/auth/firebase.database",
}

const defaultCacheTTL = 55 * time.Minute

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

type Provider struct {
	clientEmail string
	privateKey  []byte
	tokenURL    string
	cacheTTL    time.Duration
	now         func() time.Time

	mu     sync.Mutex
	tokens map[string]cachedToken
}

type Options struct {
	// TokenURL overrides the Google token endpoint (used by tests).
	TokenURL string
	// CacheTTL bounds how long an exchanged token is reused. Zero means the
	// default of 55 minutes, shorter than the token's one-hour lifetime.
	CacheTTL time.Duration
	Now      func() time.Time
}

func New(clientEmail, privateKeyPEM string, opts Options) (*Provider, error) {
	pem, err := normalizePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	if clientEmail == "" {
		return nil, errors.New("service account client email is required")
	}
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = google.JWTTokenURL
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Provider{
		clientEmail: clientEmail,
		privateKey:  []byte(pem),
		tokenURL:    tokenURL,
		cacheTTL:    ttl,
		now:         now,
		tokens:      map[string]cachedToken{},
	}, nil
}

// Token returns a bearer token for the default scope set.
func (p *Provider) Token(ctx context.Context) (string, error) {
	return p.TokenForScopes(ctx, Scopes)
}

func (p *Provider) TokenForScopes(ctx context.Context, scopes []string) (string, error) {
	key := strings.Join(scopes, " ")

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.tokens[key]; ok && p.now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	conf := &jwt.Config{
		Email:      p.clientEmail,
		PrivateKey: p.privateKey,
		Scopes:     scopes,
		TokenURL:   p.tokenURL,
	}
	tok, err := conf.TokenSource(ctx).Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchange, err)
	}

	expiresAt := p.now().Add(p.cacheTTL)
	if !tok.Expiry.IsZero() && tok.Expiry.Before(expiresAt) {
		expiresAt = tok.Expiry
	}
	p.tokens[key] = cachedToken{accessToken: tok.AccessToken, expiresAt: expiresAt}
	return tok.AccessToken, nil
}

// normalizePrivateKey accepts keys with literal "\n" escapes (common when the
// PEM is passed through an environment variable) and validates the material.
func normalizePrivateKey(raw string) (string, error) {
	fixed := strings.ReplaceAll(raw, `\n`, "\n")
	if !strings.Contains(fixed, "PRIVATE KEY") {
		return "", errors.New("service account private key is not a valid PEM")
	}
	if _, err := jwtv5.ParseRSAPrivateKeyFromPEM([]byte(fixed)); err != nil {
		return "", fmt.Errorf("parsing service account private key: %w", err)
	}
	return fixed, nil
}
