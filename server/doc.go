// Package server hosts a user-supplied agent handler behind the runtime's fixed
// HTTP protocol. It mounts as a standard net/http handler.
//
// Routes
//
//   - GET /ping reports {"status", "time_of_last_update"} from a health.Registry.
//   - POST /invocations decodes the JSON payload, builds a reqctx.RequestContext
//     from the request headers and calls the Handler. A Value result is written
//     as the JSON body. A Stream result is written as Server-Sent Events when
//     the caller sent "Accept: text/event-stream", and rejected with 406
//     otherwise.
//   - GET /ws upgrades to a WebSocket and hands the connection to the
//     ChannelHandler. The route only exists when WithChannelHandler is used.
//
// Construction
//
//	app, err := server.New(func(ctx context.Context, payload json.RawMessage, rc *reqctx.RequestContext) (server.Result, error) {
//	    return server.Value(map[string]any{"echo": payload, "session": rc.SessionID}), nil
//	})
//	if err != nil { log.Fatal(err) }
//	log.Fatal(app.ListenAndServe(ctx, ":8080"))
//
// # Streaming
//
// A Stream wraps an iter.Seq2[any, error]. Each yielded chunk is framed as
// "data: <json>\n\n". Exhaustion emits "event: done" and a yielded error emits
// "event: error" in its place. Before every chunk the request context is
// checked; once the client has gone away yield returns false and the producer
// is expected to stop without computing further chunks.
//
// # Error Handling
//
// A missing session id yields 400, handler errors and panics yield 500 with
// the error message, and failures after a stream has begun are reported as an
// in-band error event. Channel handler failures close the socket with code
// 1011. A handler can never crash the process.
package server
