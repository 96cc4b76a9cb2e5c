// Package auth provides optional inbound bearer token authorization for the
// runtime's invocation and channel routes.
//
// The model mirrors a hosted agent runtime's JWT authorizer: tokens are
// verified against the keys published by an OpenID Connect discovery URL and,
// when configured, must carry one of the allowed audiences and be issued to one
// of the allowed client ids.
//
//	authz, err := auth.New(ctx, auth.Config{
//	    DiscoveryURL:   "https://idp.example/.well-known/openid-configuration",
//	    AllowedClients: []string{"my-web-client"},
//	})
//	if err != nil { log.Fatal(err) }
//
//	app, err := server.New(handler, server.WithAuthenticator(authz))
//
// # Errors
//
// ErrUnauthorized signals an invalid, expired or missing token. ErrForbidden
// signals a valid token issued to a client outside the allow list. The server
// maps them to 401 and 403 respectively.
package auth
