package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ggoodman/agentcore-runtime-go/internal/jwtauth"
	"github.com/joeshaw/envdecode"
)

// Config describes the JWT authorizer.
type Config struct {
	// DiscoveryURL is the OpenID Connect discovery document (or issuer) URL.
	// ENV: AGENTCORE_JWT_DISCOVERY_URL
	DiscoveryURL string
	// AllowedAudiences restricts the "aud" claim when non-empty.
	// ENV: AGENTCORE_JWT_ALLOWED_AUDIENCES (comma separated)
	AllowedAudiences []string
	// AllowedClients restricts the "client_id" claim when non-empty.
	// ENV: AGENTCORE_JWT_ALLOWED_CLIENTS (comma separated)
	AllowedClients []string
	// AllowedAlgs defaults to RS256.
	AllowedAlgs []string
	// Leeway is the clock skew tolerance, default 60s.
	Leeway time.Duration
}

type envConfig struct {
	DiscoveryURL     string        `env:"AGENTCORE_JWT_DISCOVERY_URL"`
	AllowedAudiences string        `env:"AGENTCORE_JWT_ALLOWED_AUDIENCES"`
	AllowedClients   string        `env:"AGENTCORE_JWT_ALLOWED_CLIENTS"`
	Leeway           time.Duration `env:"AGENTCORE_JWT_LEEWAY,default=60s"`
}

// ConfigFromEnv reads Config from the environment. The boolean is false when
// no discovery URL is configured, meaning authorization is disabled.
func ConfigFromEnv() (Config, bool, error) {
	var ec envConfig
	if err := envdecode.Decode(&ec); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, false, fmt.Errorf("auth: decode env: %w", err)
	}
	cfg := Config{
		DiscoveryURL:     ec.DiscoveryURL,
		AllowedAudiences: splitList(ec.AllowedAudiences),
		AllowedClients:   splitList(ec.AllowedClients),
		Leeway:           ec.Leeway,
	}
	return cfg, cfg.DiscoveryURL != "", nil
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.DiscoveryURL == "" {
		return errors.New("auth: discovery url is required")
	}
	for _, alg := range c.AllowedAlgs {
		if strings.EqualFold(alg, "none") {
			return errors.New(`auth: algorithm "none" is never allowed`)
		}
	}
	return nil
}

func (c Config) jwtConfig() jwtauth.Config {
	return jwtauth.Config{
		AllowedAudiences: append([]string(nil), c.AllowedAudiences...),
		AllowedClients:   append([]string(nil), c.AllowedClients...),
		AllowedAlgs:      append([]string(nil), c.AllowedAlgs...),
		Leeway:           c.Leeway,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
