package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

const wellKnownSuffix = "/.well-known/openid-configuration"

// Config controls validation of inbound bearer tokens.
type Config struct {
	// Issuer is required to match the "iss" claim when non-empty. Discovery
	// fills it from the provider metadata.
	Issuer string
	// AllowedAudiences, when non-empty, requires "aud" to intersect the set.
	AllowedAudiences []string
	// AllowedClients, when non-empty, requires "client_id" (or "azp") to be
	// one of the entries.
	AllowedClients []string
	AllowedAlgs    []string
	Leeway         time.Duration
}

// DefaultConfig returns a Config with safe algorithm and leeway defaults.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

func (c *Config) normalize() {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.Leeway == 0 {
		c.Leeway = 60 * time.Second
	}
}

// ErrUnauthorized indicates the token failed signature, issuer, audience or
// time validation.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrClientNotAllowed indicates a valid token issued to a client outside the
// allow list.
var ErrClientNotAllowed = errors.New("jwtauth: client not allowed")

// Claims is the validated view of a token.
type Claims struct {
	Subject  string
	ClientID string
	Scopes   []string
	Raw      jwt.MapClaims
}

// Validator verifies bearer tokens against a key source.
type Validator struct {
	cfg     Config
	keyfunc jwt.Keyfunc
}

// NewWithKeyfunc builds a Validator around an arbitrary key source.
func NewWithKeyfunc(cfg Config, kf jwt.Keyfunc) (*Validator, error) {
	if kf == nil {
		return nil, errors.New("keyfunc is required")
	}
	cfg.normalize()
	return &Validator{cfg: cfg, keyfunc: restrictAlgs(cfg.AllowedAlgs, kf)}, nil
}

// NewFromJWKS builds a Validator whose keys are fetched, and refreshed in the
// background, from jwksURI.
func NewFromJWKS(ctx context.Context, cfg Config, jwksURI string) (*Validator, error) {
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return NewWithKeyfunc(cfg, kf.Keyfunc)
}

// NewFromDiscovery resolves an OpenID discovery document and validates tokens
// against its issuer and jwks_uri. discoveryURL may be the issuer itself or
// the full .well-known/openid-configuration URL.
func NewFromDiscovery(ctx context.Context, cfg Config, discoveryURL string) (*Validator, error) {
	if discoveryURL == "" {
		return nil, errors.New("discovery url required")
	}
	issuer := strings.TrimSuffix(strings.TrimSuffix(discoveryURL, "/"), wellKnownSuffix)

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = meta.Issuer
	}
	return NewFromJWKS(ctx, cfg, meta.JwksURI)
}

func restrictAlgs(allowed []string, kf jwt.Keyfunc) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if alg := t.Method.Alg(); !slices.Contains(allowed, alg) {
			return nil, fmt.Errorf("disallowed alg: %s", alg)
		}
		return kf(t)
	}
}

// Validate verifies tok and returns its claims.
func (v *Validator) Validate(ctx context.Context, tok string) (*Claims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	parsed, err := jwt.NewParser(opts...).Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}

	if len(v.cfg.AllowedAudiences) > 0 && !audIntersects(claims["aud"], v.cfg.AllowedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}

	clientID, _ := claims["client_id"].(string)
	if clientID == "" {
		clientID, _ = claims["azp"].(string)
	}
	if len(v.cfg.AllowedClients) > 0 && !slices.Contains(v.cfg.AllowedClients, clientID) {
		return nil, fmt.Errorf("%w: %q", ErrClientNotAllowed, clientID)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}

	scope, _ := claims["scope"].(string)
	return &Claims{Subject: sub, ClientID: clientID, Scopes: strings.Fields(scope), Raw: claims}, nil
}

func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(wants, s) {
				return true
			}
		}
	}
	return false
}
