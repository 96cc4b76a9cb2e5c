package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ggoodman/agentcore-runtime-go/internal/jwtauth"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden indicates the caller authenticated but its client is not allowed.
var ErrForbidden = errors.New("forbidden")

// Principal is an authenticated caller.
type Principal struct {
	Subject  string
	ClientID string
	Scopes   []string
	claims   map[string]any
}

// Claims unmarshals the principal's raw token claims into ref.
func (p *Principal) Claims(ref any) error {
	b, err := json.Marshal(p.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Authenticator validates bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// New builds an Authenticator from cfg using OpenID Connect discovery.
func New(ctx context.Context, cfg Config) (Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v, err := jwtauth.NewFromDiscovery(ctx, cfg.jwtConfig(), cfg.DiscoveryURL)
	if err != nil {
		return nil, err
	}
	return &authenticator{v: v}, nil
}

// NewWithKeyfunc builds an Authenticator around a caller-supplied key source,
// bypassing discovery. cfg.DiscoveryURL is ignored.
func NewWithKeyfunc(cfg Config, kf jwt.Keyfunc) (Authenticator, error) {
	v, err := jwtauth.NewWithKeyfunc(cfg.jwtConfig(), kf)
	if err != nil {
		return nil, err
	}
	return &authenticator{v: v}, nil
}

type authenticator struct {
	v *jwtauth.Validator
}

func (a *authenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	c, err := a.v.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, jwtauth.ErrClientNotAllowed) {
			return nil, errors.Join(ErrForbidden, err)
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return &Principal{Subject: c.Subject, ClientID: c.ClientID, Scopes: c.Scopes, claims: c.Raw}, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

type principalKey struct{}

// WithPrincipal returns a child of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
