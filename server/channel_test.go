package server_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ggoodman/agentcore-runtime-go/reqctx"
	"github.com/ggoodman/agentcore-runtime-go/server"
	"github.com/gorilla/websocket"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func mustDial(t *testing.T, rawURL string, h http.Header) (*websocket.Conn, *http.Response) {
	t.Helper()
	conn, res, err := websocket.DefaultDialer.Dial(rawURL, h)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, res
}

func TestChannel_EchoAndNormalClose(t *testing.T) {
	sessions := make(chan string, 1)
	srv := mustServer(t, echoHandler, server.WithChannelHandler(func(ctx context.Context, conn *websocket.Conn, rc *reqctx.RequestContext) error {
		if got, ok := reqctx.FromContext(ctx); !ok || got != rc {
			return errors.New("request context not bound")
		}
		sessions <- rc.SessionID
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		return conn.WriteMessage(mt, msg)
	}))

	h := http.Header{}
	h.Set(reqctx.SessionIDHeader, "ws-sess")
	conn, res := mustDial(t, wsURL(srv), h)
	if got := res.Header.Get(reqctx.SessionIDHeader); got != "ws-sess" {
		t.Fatalf("session header not echoed: %q", got)
	}
	if got := <-sessions; got != "ws-sess" {
		t.Fatalf("unexpected session %q", got)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("unexpected echo %q", msg)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("want normal closure got %v", err)
	}
}

func TestChannel_SessionID(t *testing.T) {
	sessions := make(chan string, 2)
	srv := mustServer(t, echoHandler, server.WithChannelHandler(func(ctx context.Context, conn *websocket.Conn, rc *reqctx.RequestContext) error {
		sessions <- rc.SessionID
		return nil
	}))

	t.Run("query parameter", func(t *testing.T) {
		u := wsURL(srv) + "?" + url.Values{reqctx.SessionIDHeader: {"from-query"}}.Encode()
		mustDial(t, u, nil)
		if got := <-sessions; got != "from-query" {
			t.Fatalf("unexpected session %q", got)
		}
	})

	t.Run("generated", func(t *testing.T) {
		_, res := mustDial(t, wsURL(srv), nil)
		got := <-sessions
		if got == "" {
			t.Fatalf("session id must be generated")
		}
		if res.Header.Get(reqctx.SessionIDHeader) != got {
			t.Fatalf("generated session not echoed")
		}
	})
}

func TestChannel_FailureClosesWithInternalError(t *testing.T) {
	cases := map[string]server.ChannelHandler{
		"error": func(ctx context.Context, conn *websocket.Conn, rc *reqctx.RequestContext) error {
			return errors.New("tool crashed")
		},
		"panic": func(ctx context.Context, conn *websocket.Conn, rc *reqctx.RequestContext) error {
			panic("tool crashed")
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := mustServer(t, echoHandler, server.WithChannelHandler(h))
			conn, _ := mustDial(t, wsURL(srv), nil)
			_, _, err := conn.ReadMessage()
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				t.Fatalf("want close error got %v", err)
			}
			if ce.Code != websocket.CloseInternalServerErr || ce.Text != "internal error" {
				t.Fatalf("unexpected close: %d %q", ce.Code, ce.Text)
			}
		})
	}
}

func TestChannel_NotMounted(t *testing.T) {
	srv := mustServer(t, echoHandler)
	_, res, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err == nil {
		t.Fatalf("dial should fail without a channel handler")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404 got %+v", res)
	}
}
