package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/agentcore-runtime-go/auth"
	"github.com/ggoodman/agentcore-runtime-go/health"
	"github.com/ggoodman/agentcore-runtime-go/internal/logctx"
	"github.com/ggoodman/agentcore-runtime-go/reqctx"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	_ http.Handler = (*App)(nil)
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	authorizationHeader   = "authorization"
	wwwAuthenticateHeader = "www-authenticate"

	// DefaultMaxBodyBytes bounds the invocation payload size.
	DefaultMaxBodyBytes = 100 << 20
)

// Handler is the user-supplied agent entrypoint. payload is the raw JSON body
// (nil when the body was empty) and rc is the call's metadata, which is also
// reachable through reqctx.FromContext(ctx).
type Handler func(ctx context.Context, payload json.RawMessage, rc *reqctx.RequestContext) (Result, error)

// ChannelHandler serves one upgraded WebSocket connection. The server closes
// the connection after it returns; returning an error closes it with code 1011.
type ChannelHandler func(ctx context.Context, conn *websocket.Conn, rc *reqctx.RequestContext) error

type newConfig struct {
	logger       *slog.Logger
	registry     *health.Registry
	channel      ChannelHandler
	authn        auth.Authenticator
	debugActions bool
	statusFunc   health.StatusFunc
	maxBodyBytes int64
	checkOrigin  func(r *http.Request) bool
	now          func() time.Time
}

// Option configures an App.
type Option func(*newConfig)

// WithLogger sets the logger used by the server. If not provided, logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(c *newConfig) { c.logger = log }
}

// WithRegistry shares a health.Registry with the server, letting handlers
// register background work that the ping route reports as HealthyBusy.
func WithRegistry(r *health.Registry) Option {
	return func(c *newConfig) { c.registry = r }
}

// WithChannelHandler enables the GET /ws route.
func WithChannelHandler(h ChannelHandler) Option {
	return func(c *newConfig) { c.channel = h }
}

// WithAuthenticator requires a valid bearer token on the invocation and
// channel routes. The ping route is never authenticated.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *newConfig) { c.authn = a }
}

// WithDebugActions enables the _agent_core_app_action payload actions on the
// invocation route.
func WithDebugActions(enabled bool) Option {
	return func(c *newConfig) { c.debugActions = enabled }
}

// WithStatusFunc installs a custom health status callback on the registry.
func WithStatusFunc(fn health.StatusFunc) Option {
	return func(c *newConfig) { c.statusFunc = fn }
}

// WithClock overrides the time source of the default registry. It has no
// effect when WithRegistry is used.
func WithClock(now func() time.Time) Option {
	return func(c *newConfig) { c.now = now }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(c *newConfig) { c.maxBodyBytes = n }
}

// WithCheckOrigin overrides the WebSocket origin check. By default every
// origin is accepted.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(c *newConfig) { c.checkOrigin = fn }
}

// App serves the runtime protocol for one Handler.
type App struct {
	mux          *http.ServeMux
	log          *slog.Logger
	handler      Handler
	channel      ChannelHandler
	registry     *health.Registry
	authn        auth.Authenticator
	debugActions bool
	maxBodyBytes int64
	upgrader     websocket.Upgrader
}

// New constructs an App serving handler.
func New(handler Handler, opts ...Option) (*App, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	cfg := &newConfig{maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.maxBodyBytes <= 0 {
		return nil, fmt.Errorf("max body bytes must be positive, got %d", cfg.maxBodyBytes)
	}

	log := logctx.Wrap(cfg.logger)
	if cfg.registry == nil {
		ropts := []health.Option{health.WithLogger(log)}
		if cfg.now != nil {
			ropts = append(ropts, health.WithClock(cfg.now))
		}
		cfg.registry = health.NewRegistry(ropts...)
	}
	if cfg.statusFunc != nil {
		cfg.registry.SetStatusFunc(cfg.statusFunc)
	}
	if cfg.checkOrigin == nil {
		cfg.checkOrigin = func(*http.Request) bool { return true }
	}

	a := &App{
		log:          log,
		handler:      handler,
		channel:      cfg.channel,
		registry:     cfg.registry,
		authn:        cfg.authn,
		debugActions: cfg.debugActions,
		maxBodyBytes: cfg.maxBodyBytes,
		upgrader:     websocket.Upgrader{CheckOrigin: cfg.checkOrigin},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", a.handlePing)
	mux.HandleFunc("POST /invocations", a.authenticated(a.handleInvocations))
	if a.channel != nil {
		mux.HandleFunc("GET /ws", a.authenticated(a.handleChannel))
	}
	a.mux = mux
	return a, nil
}

// Registry returns the health registry backing the ping route.
func (a *App) Registry() *health.Registry { return a.registry }

// ServeHTTP assigns a request id when the caller did not send one, so log
// records and the RequestContext carry the same id.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(reqctx.RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
		r = r.Clone(r.Context())
		r.Header.Set(reqctx.RequestIDHeader, id)
	}
	a.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  id,
		Method:     r.Method,
		Path:       r.URL.Path,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
	})))
}

// ListenAndServe serves the App on addr until ctx is done, then shuts down
// gracefully, giving in-flight requests up to five seconds to finish.
func (a *App) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.InfoContext(ctx, "server.listen", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		b, _ = json.Marshal(errorBody{Error: fmt.Sprintf("failed to encode response: %v", err)})
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
