package runtimeclient

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/ggoodman/agentcore-runtime-go/reqctx"
	"github.com/google/uuid"
)

const (
	signingService = "bedrock-agentcore"

	// MaxPresignExpires is the longest validity a presigned URL may request.
	MaxPresignExpires = 300 * time.Second

	// SHA-256 of the empty string; upgrade requests carry no body.
	emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	userAgent = "agentcore-runtime-go/runtimeclient"

	qualifierParam = "qualifier"
	expiresParam   = "X-Amz-Expires"
)

var (
	// ErrNoCredentials is returned when signing is requested but no AWS
	// credentials can be resolved.
	ErrNoCredentials = errors.New("runtimeclient: no AWS credentials available")
	// ErrEmptyToken is returned by BearerConnection for an empty token.
	ErrEmptyToken = errors.New("runtimeclient: bearer token is empty")
)

// ExpiresError reports a presign validity outside [1s, MaxPresignExpires].
type ExpiresError struct {
	Expires time.Duration
}

func (e *ExpiresError) Error() string {
	return fmt.Sprintf("runtimeclient: presign expiry %s must be at least 1s and at most %s", e.Expires, MaxPresignExpires)
}

// Connection describes how to open an authenticated WebSocket to a runtime.
type Connection struct {
	// URL always uses the wss scheme.
	URL     string
	Headers map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithCredentials sets the credentials used for SigV4 signing. Without it the
// default AWS credential chain is loaded on first use.
func WithCredentials(p aws.CredentialsProvider) Option {
	return func(c *Client) { c.creds = aws.NewCredentialsCache(p) }
}

// WithClock overrides the signing time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithEndpointResolver overrides the host used for a region.
func WithEndpointResolver(fn func(region string) string) Option {
	return func(c *Client) { c.resolveHost = fn }
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client builds authenticated connection descriptors for hosted runtimes.
// It is safe for concurrent use.
type Client struct {
	now         func() time.Time
	log         *slog.Logger
	resolveHost func(region string) string
	signer      *v4.Signer
	creds       aws.CredentialsProvider
	loadCreds   func() (aws.CredentialsProvider, error)
}

// New constructs a Client.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		now:         time.Now,
		log:         slog.New(slog.DiscardHandler),
		resolveHost: DefaultHost,
		signer:      v4.NewSigner(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resolveHost == nil {
		return nil, errors.New("runtimeclient: endpoint resolver is nil")
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}
	c.loadCreds = sync.OnceValues(func() (aws.CredentialsProvider, error) {
		if c.creds != nil {
			return c.creds, nil
		}
		cfg, err := config.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, err
		}
		return cfg.Credentials, nil
	})
	return c, nil
}

// DefaultHost returns the public runtime endpoint host for region.
func DefaultHost(region string) string {
	return "bedrock-agentcore." + region + ".amazonaws.com"
}

type connConfig struct {
	sessionID string
	qualifier string
	params    map[string]string
	expires   time.Duration
}

// ConnOption configures a single connection descriptor.
type ConnOption func(*connConfig)

// WithSessionID sets the session id. A random one is generated otherwise.
func WithSessionID(id string) ConnOption {
	return func(c *connConfig) { c.sessionID = id }
}

// WithQualifier selects a runtime endpoint via the qualifier query parameter.
func WithQualifier(q string) ConnOption {
	return func(c *connConfig) { c.qualifier = q }
}

// WithQueryParams adds extra query parameters to the URL.
func WithQueryParams(params map[string]string) ConnOption {
	return func(c *connConfig) {
		if c.params == nil {
			c.params = make(map[string]string, len(params))
		}
		for k, v := range params {
			c.params[k] = v
		}
	}
}

// WithExpires sets the validity of a presigned URL. Only PresignedURL uses it.
func WithExpires(d time.Duration) ConnOption {
	return func(c *connConfig) { c.expires = d }
}

func newConnConfig(opts []ConnOption) *connConfig {
	cc := &connConfig{expires: MaxPresignExpires}
	for _, opt := range opts {
		opt(cc)
	}
	if cc.sessionID == "" {
		cc.sessionID = uuid.NewString()
	}
	return cc
}

func (cc *connConfig) query() url.Values {
	q := url.Values{}
	for k, v := range cc.params {
		q.Set(k, v)
	}
	if cc.qualifier != "" {
		q.Set(qualifierParam, cc.qualifier)
	}
	return q
}

// SignedConnection returns a descriptor whose headers carry a SigV4 signature.
func (c *Client) SignedConnection(ctx context.Context, arn string, opts ...ConnOption) (*Connection, error) {
	ra, err := ParseARN(arn)
	if err != nil {
		return nil, err
	}
	cc := newConnConfig(opts)

	creds, err := c.credentials(ctx)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, ra, cc.query())
	if err != nil {
		return nil, err
	}
	if err := c.signer.SignHTTP(ctx, creds, req, emptyPayloadHash, signingService, ra.Region, c.now().UTC()); err != nil {
		return nil, fmt.Errorf("runtimeclient: sign request: %w", err)
	}

	headers := map[string]string{
		"Host":          req.URL.Host,
		"X-Amz-Date":    req.Header.Get("X-Amz-Date"),
		"Authorization": req.Header.Get("Authorization"),
	}
	if tok := req.Header.Get("X-Amz-Security-Token"); tok != "" {
		headers["X-Amz-Security-Token"] = tok
	}
	if err := addHandshakeHeaders(headers, cc.sessionID); err != nil {
		return nil, err
	}

	c.log.DebugContext(ctx, "runtimeclient.signed", slog.String("runtime_id", ra.RuntimeID), slog.String("region", ra.Region), slog.String("session_id", cc.sessionID))
	return &Connection{URL: toWSS(req.URL.String()), Headers: headers}, nil
}

// PresignedURL returns a wss URL carrying the SigV4 signature in its query
// string, for clients that cannot set headers. The session id, qualifier and
// extra parameters are covered by the signature.
func (c *Client) PresignedURL(ctx context.Context, arn string, opts ...ConnOption) (string, error) {
	ra, err := ParseARN(arn)
	if err != nil {
		return "", err
	}
	cc := newConnConfig(opts)
	if cc.expires < time.Second || cc.expires > MaxPresignExpires {
		return "", &ExpiresError{Expires: cc.expires}
	}

	creds, err := c.credentials(ctx)
	if err != nil {
		return "", err
	}

	q := cc.query()
	q.Set(reqctx.SessionIDHeader, cc.sessionID)
	q.Set(expiresParam, strconv.Itoa(int(cc.expires/time.Second)))
	req, err := c.newRequest(ctx, ra, q)
	if err != nil {
		return "", err
	}
	signed, _, err := c.signer.PresignHTTP(ctx, creds, req, emptyPayloadHash, signingService, ra.Region, c.now().UTC())
	if err != nil {
		return "", fmt.Errorf("runtimeclient: presign request: %w", err)
	}

	c.log.DebugContext(ctx, "runtimeclient.presigned", slog.String("runtime_id", ra.RuntimeID), slog.String("region", ra.Region), slog.Duration("expires", cc.expires))
	return toWSS(signed), nil
}

// BearerConnection returns a descriptor authenticated with an OAuth bearer
// token. No AWS credentials are consulted.
func (c *Client) BearerConnection(ctx context.Context, arn string, token string, opts ...ConnOption) (*Connection, error) {
	ra, err := ParseARN(arn)
	if err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	cc := newConnConfig(opts)

	req, err := c.newRequest(ctx, ra, cc.query())
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		"Host":          req.URL.Host,
		"Authorization": "Bearer " + token,
	}
	if err := addHandshakeHeaders(headers, cc.sessionID); err != nil {
		return nil, err
	}

	c.log.DebugContext(ctx, "runtimeclient.bearer", slog.String("runtime_id", ra.RuntimeID), slog.String("session_id", cc.sessionID))
	return &Connection{URL: toWSS(req.URL.String()), Headers: headers}, nil
}

func (c *Client) credentials(ctx context.Context) (aws.Credentials, error) {
	p, err := c.loadCreds()
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("%w: %v", ErrNoCredentials, err)
	}
	if p == nil {
		return aws.Credentials{}, ErrNoCredentials
	}
	creds, err := p.Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("%w: %v", ErrNoCredentials, err)
	}
	if !creds.HasKeys() {
		return aws.Credentials{}, ErrNoCredentials
	}
	return creds, nil
}

// newRequest builds the https form of the runtime's WebSocket endpoint. The
// ARN is a single escaped path segment.
func (c *Client) newRequest(ctx context.Context, ra RuntimeARN, q url.Values) (*http.Request, error) {
	arn := ra.String()
	u := &url.URL{
		Scheme:   "https",
		Host:     c.resolveHost(ra.Region),
		Path:     "/runtimes/" + arn + "/ws",
		RawPath:  "/runtimes/" + url.QueryEscape(arn) + "/ws",
		RawQuery: q.Encode(),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("runtimeclient: build request: %w", err)
	}
	return req, nil
}

func addHandshakeHeaders(h map[string]string, sessionID string) error {
	key, err := websocketKey()
	if err != nil {
		return err
	}
	h[reqctx.SessionIDHeader] = sessionID
	h["Upgrade"] = "websocket"
	h["Connection"] = "Upgrade"
	h["Sec-WebSocket-Version"] = "13"
	h["Sec-WebSocket-Key"] = key
	h["User-Agent"] = userAgent
	return nil
}

func websocketKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("runtimeclient: generate websocket key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

func toWSS(u string) string {
	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return "wss://" + rest
	}
	return u
}
