package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ggoodman/agentcore-runtime-go/auth"
)

// authenticated wraps next with bearer token validation when an
// Authenticator is configured.
func (a *App) authenticated(next http.HandlerFunc) http.HandlerFunc {
	if a.authn == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		header := r.Header.Get(authorizationHeader)
		if header == "" {
			a.log.InfoContext(ctx, "auth.check.missing")
			w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(map[string]string{"error": "invalid_token", "error_description": "missing bearer token"}))
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		tok, ok := auth.BearerToken(header)
		if !ok {
			a.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
			w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(map[string]string{"error": "invalid_token", "error_description": "malformed bearer authorization header"}))
			writeError(w, http.StatusUnauthorized, "malformed bearer authorization header")
			return
		}

		p, err := a.authn.Authenticate(ctx, tok)
		switch {
		case errors.Is(err, auth.ErrForbidden):
			a.log.InfoContext(ctx, "auth.check.forbidden", slog.String("err", err.Error()))
			w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(map[string]string{"error": "insufficient_scope", "error_description": "client not allowed"}))
			writeError(w, http.StatusForbidden, "client not allowed")
			return
		case err != nil:
			a.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(map[string]string{"error": "invalid_token", "error_description": "invalid bearer token"}))
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		next(w, r.WithContext(auth.WithPrincipal(ctx, p)))
	}
}

// buildBearerChallenge builds a Bearer challenge header value:
//
//	Bearer error="...", error_description="..."
func buildBearerChallenge(params map[string]string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	pieces := make([]string, 0, len(params))
	for _, k := range []string{"error", "error_description"} {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
