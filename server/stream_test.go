package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/agentcore-runtime-go/reqctx"
	"github.com/ggoodman/agentcore-runtime-go/server"
)

func streamHandler(seq func(yield func(any, error) bool)) server.Handler {
	return func(ctx context.Context, payload json.RawMessage, rc *reqctx.RequestContext) (server.Result, error) {
		return server.Stream(seq), nil
	}
}

func TestStream_ChunksThenDone(t *testing.T) {
	srv := mustServer(t, func(ctx context.Context, payload json.RawMessage, rc *reqctx.RequestContext) (server.Result, error) {
		return server.StreamOf(slices.Values([]string{"a", "b", "c"})), nil
	})

	res := doInvoke(t, srv, `{}`, reqctx.SessionIDHeader, "s1", "Accept", "text/event-stream")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("want 200 got %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cc := res.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("unexpected cache control %q", cc)
	}

	events := readAllSSE(t, res.Body)
	if len(events) != 4 {
		t.Fatalf("want 4 events got %d: %+v", len(events), events)
	}
	for i, want := range []string{`"a"`, `"b"`, `"c"`} {
		if events[i].event != "" || string(events[i].data) != want {
			t.Fatalf("event %d: got %q %s", i, events[i].event, events[i].data)
		}
	}
	if events[3].event != "done" || string(events[3].data) != "{}" {
		t.Fatalf("unexpected terminal event: %q %s", events[3].event, events[3].data)
	}
}

func TestStream_AcceptAmongOthers(t *testing.T) {
	srv := mustServer(t, func(ctx context.Context, payload json.RawMessage, rc *reqctx.RequestContext) (server.Result, error) {
		return server.StreamOf(slices.Values([]string{"a"})), nil
	})

	for _, accept := range []string{"application/json, text/event-stream;q=0.5", "text/event-stream; charset=utf-8, */*"} {
		t.Run(accept, func(t *testing.T) {
			res := doInvoke(t, srv, `{}`, reqctx.SessionIDHeader, "s1", "Accept", accept)
			if res.StatusCode != http.StatusOK {
				t.Fatalf("want 200 got %d", res.StatusCode)
			}
			if events := readAllSSE(t, res.Body); len(events) != 2 || events[1].event != "done" {
				t.Fatalf("unexpected events: %+v", events)
			}
		})
	}
}

func TestStream_NotAcceptable(t *testing.T) {
	var started atomic.Bool
	srv := mustServer(t, streamHandler(func(yield func(any, error) bool) {
		started.Store(true)
		yield("never", nil)
	}))

	for _, accept := range []string{"", "application/json", "*/*", "text/*", "application/json, */*;q=0.1", "text/event-stream;q=0"} {
		t.Run("accept="+accept, func(t *testing.T) {
			headers := []string{reqctx.SessionIDHeader, "s1"}
			if accept != "" {
				headers = append(headers, "Accept", accept)
			}
			res := doInvoke(t, srv, `{}`, headers...)
			if res.StatusCode != http.StatusNotAcceptable {
				t.Fatalf("want 406 got %d", res.StatusCode)
			}
			if body := mustDecode[errorBody](t, res); !strings.Contains(body.Error, "text/event-stream") {
				t.Fatalf("unexpected error: %q", body.Error)
			}
		})
	}
	if started.Load() {
		t.Fatalf("producer must not be started")
	}
}

func TestStream_Failures(t *testing.T) {
	cases := []struct {
		name    string
		seq     func(yield func(any, error) bool)
		chunks  int
		wantErr string
	}{
		{
			name: "yielded error",
			seq: func(yield func(any, error) bool) {
				if !yield("a", nil) {
					return
				}
				yield(nil, errors.New("upstream closed"))
			},
			chunks:  1,
			wantErr: "upstream closed",
		},
		{
			name: "panic",
			seq: func(yield func(any, error) bool) {
				yield("a", nil)
				panic("producer exploded")
			},
			chunks:  1,
			wantErr: "producer exploded",
		},
		{
			name: "unencodable chunk",
			seq: func(yield func(any, error) bool) {
				yield(func() {}, nil)
			},
			chunks:  0,
			wantErr: "failed to encode stream chunk",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := mustServer(t, streamHandler(tc.seq))
			res := doInvoke(t, srv, `{}`, reqctx.SessionIDHeader, "s1", "Accept", "text/event-stream")
			events := readAllSSE(t, res.Body)
			if len(events) != tc.chunks+1 {
				t.Fatalf("want %d events got %d: %+v", tc.chunks+1, len(events), events)
			}
			last := events[len(events)-1]
			if last.event != "error" {
				t.Fatalf("want error event got %q", last.event)
			}
			var body errorBody
			if err := json.Unmarshal(last.data, &body); err != nil {
				t.Fatalf("decode error event: %v", err)
			}
			if !strings.Contains(body.Error, tc.wantErr) {
				t.Fatalf("unexpected error %q", body.Error)
			}
			for _, ev := range events {
				if ev.event == "done" {
					t.Fatalf("done must not follow an error")
				}
			}
		})
	}
}

func TestStream_ClientDisconnect(t *testing.T) {
	var produced atomic.Int32
	finished := make(chan struct{})
	srv := mustServer(t, streamHandler(func(yield func(any, error) bool) {
		defer close(finished)
		for i := 0; i < 100; i++ {
			produced.Add(1)
			if !yield(i, nil) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/invocations", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(reqctx.SessionIDHeader, "s1")
	req.Header.Set("Accept", "text/event-stream")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	br := bufio.NewReader(res.Body)
	for i := 0; i < 2; i++ {
		if _, err := readOneSSE(br); err != nil {
			t.Fatalf("read event %d: %v", i, err)
		}
	}
	cancel()
	_ = res.Body.Close()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatalf("producer kept running after disconnect")
	}
	if n := produced.Load(); n >= 10 {
		t.Fatalf("producer computed %d chunks after disconnect", n)
	}
}
