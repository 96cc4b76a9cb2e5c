package reqctx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Well-known header names understood by the runtime.
const (
	SessionIDHeader           = "X-Amzn-Bedrock-AgentCore-Runtime-Session-Id"
	RequestIDHeader           = "X-Amzn-Bedrock-AgentCore-Runtime-Request-Id"
	WorkloadAccessTokenHeader = "WorkloadAccessToken"
	OAuth2CallbackURLHeader   = "OAuth2CallbackUrl"
	AuthorizationHeader       = "Authorization"
	CustomHeaderPrefix        = "X-Amzn-Bedrock-AgentCore-Runtime-Custom-"
)

// RequestContext is the metadata of one inbound call.
type RequestContext struct {
	SessionID string
	RequestID string
	// Headers holds the forwarded headers keyed by canonical header name.
	Headers             map[string]string
	WorkloadAccessToken string
	OAuth2CallbackURL   string
}

// Header looks up a forwarded header case-insensitively.
func (rc *RequestContext) Header(name string) (string, bool) {
	if rc == nil || rc.Headers == nil {
		return "", false
	}
	v, ok := rc.Headers[http.CanonicalHeaderKey(name)]
	return v, ok
}

type requestContextKey struct{}

// WithRequestContext returns a child of ctx carrying rc.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext returns the RequestContext attached to ctx. The boolean is false
// when ctx was not derived from a Run scope.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	if !ok || rc == nil {
		return nil, false
	}
	return rc, true
}

// Run calls fn with a context carrying rc. A nested Run shadows the outer
// value for the duration of the inner fn only; the caller's ctx is never
// modified.
func Run(ctx context.Context, rc *RequestContext, fn func(ctx context.Context) error) error {
	return fn(WithRequestContext(ctx, rc))
}

var customPrefixLower = strings.ToLower(CustomHeaderPrefix)

// FilterHeaders keeps the Authorization header and every header under the
// custom namespace. Multi-valued headers are joined with ", ".
func FilterHeaders(h http.Header) map[string]string {
	out := make(map[string]string)
	for k, vs := range h {
		ck := http.CanonicalHeaderKey(k)
		if ck != AuthorizationHeader && !strings.HasPrefix(strings.ToLower(ck), customPrefixLower) {
			continue
		}
		if len(vs) == 0 {
			continue
		}
		out[ck] = strings.Join(vs, ", ")
	}
	return out
}

// FromRequest builds the RequestContext for r. The session id header wins
// over fallbackSessionID, which callers take from the request body. The
// request id is generated when the header is absent.
func FromRequest(r *http.Request, fallbackSessionID string) *RequestContext {
	rc := &RequestContext{
		SessionID:           r.Header.Get(SessionIDHeader),
		RequestID:           r.Header.Get(RequestIDHeader),
		Headers:             FilterHeaders(r.Header),
		WorkloadAccessToken: r.Header.Get(WorkloadAccessTokenHeader),
		OAuth2CallbackURL:   r.Header.Get(OAuth2CallbackURLHeader),
	}
	if rc.SessionID == "" {
		rc.SessionID = fallbackSessionID
	}
	if rc.RequestID == "" {
		rc.RequestID = uuid.NewString()
	}
	return rc
}

// SessionIDFromPayload extracts the "sessionId" field of a JSON object
// payload. Anything that is not an object yields "".
func SessionIDFromPayload(payload []byte) string {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if len(payload) == 0 {
		return ""
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return body.SessionID
}
