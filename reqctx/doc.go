// Package reqctx carries per-invocation metadata through the call graph of a
// single inbound request.
//
// A RequestContext is built once per call from the transport headers and is
// attached to the call's context.Context. Any code running with that context,
// including goroutines started from it, can recover the metadata with
// FromContext without it being threaded through every intermediate function.
//
// Isolation between concurrent calls follows from context immutability: each
// call derives its own child context, so two in-flight invocations never
// observe each other's session metadata.
//
//	err := reqctx.Run(ctx, rc, func(ctx context.Context) error {
//	    if rc, ok := reqctx.FromContext(ctx); ok {
//	        log.Printf("session %s", rc.SessionID)
//	    }
//	    return nil
//	})
//
// # Header filtering
//
// Only the Authorization header and headers under the
// X-Amzn-Bedrock-AgentCore-Runtime-Custom- namespace are forwarded into
// RequestContext.Headers. Every other transport header is dropped before the
// handler sees the request.
package reqctx
