package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ggoodman/agentcore-runtime-go/reqctx"
	"github.com/ggoodman/agentcore-runtime-go/server"
)

type logBridge struct {
	slog.Handler
	t   testing.TB
	buf *bytes.Buffer
	mu  *sync.Mutex
}

// Handle implements slog.Handler.
func (b *logBridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.Handler.Handle(ctx, rec); err != nil {
		return err
	}
	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}
	b.t.Helper()
	b.t.Log(string(bytes.TrimSuffix(output, []byte("\n"))))
	return nil
}

// WithAttrs implements slog.Handler.
func (b *logBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, Handler: b.Handler.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (b *logBridge) WithGroup(name string) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, Handler: b.Handler.WithGroup(name)}
}

func testLogger(t *testing.T) *slog.Logger {
	b := &logBridge{t: t, buf: &bytes.Buffer{}, mu: &sync.Mutex{}}
	b.Handler = slog.NewTextHandler(b.buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(b)
}

func echoHandler(ctx context.Context, payload json.RawMessage, rc *reqctx.RequestContext) (server.Result, error) {
	return server.Value(map[string]any{"payload": payload, "session_id": rc.SessionID}), nil
}

// mustServer starts an httptest.Server around a new App.
func mustServer(t *testing.T, h server.Handler, opts ...server.Option) *httptest.Server {
	t.Helper()
	opts = append([]server.Option{server.WithLogger(testLogger(t))}, opts...)
	app, err := server.New(h, opts...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := httptest.NewServer(app)
	t.Cleanup(srv.Close)
	return srv
}

// doInvoke posts body to /invocations. Header pairs are applied in order.
func doInvoke(t *testing.T, srv *httptest.Server, body string, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/invocations", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post invocations: %v", err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func mustDecode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var v T
	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("unmarshal json: %v\ninput: %s", err, string(b))
	}
	return v
}

type errorBody struct {
	Error string `json:"error"`
}

type sseEvent struct {
	event string
	data  []byte
}

func readOneSSE(br *bufio.Reader) (sseEvent, error) {
	var (
		event   sseEvent
		dataBuf bytes.Buffer
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return sseEvent{}, io.ErrUnexpectedEOF
			}
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			event.data = append([]byte(nil), dataBuf.Bytes()...)
			return event, nil
		}
		if strings.HasPrefix(line, "event: ") {
			event.event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if strings.HasPrefix(line, "data: ") {
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}
}

// readAllSSE reads events until the body is exhausted.
func readAllSSE(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	br := bufio.NewReader(r)
	var events []sseEvent
	for {
		ev, err := readOneSSE(br)
		if err == io.ErrUnexpectedEOF {
			return events
		}
		if err != nil {
			t.Fatalf("read sse: %v", err)
		}
		events = append(events, ev)
	}
}
