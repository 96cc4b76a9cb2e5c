package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"runtime/debug"
)

type writeFlusher interface {
	io.Writer
	http.Flusher
}

var doneEventData = []byte("{}")

// writeStream drives seq and frames every chunk as a Server-Sent Event. The
// sequence is pulled lazily: once the client disconnects, yield returns false
// and no further chunk is requested.
func (a *App) writeStream(ctx context.Context, w http.ResponseWriter, seq iter.Seq2[any, error]) {
	wf, ok := w.(writeFlusher)
	if !ok {
		a.log.ErrorContext(ctx, "flusher.missing")
		writeError(w, http.StatusInternalServerError, "streaming unsupported by response writer")
		return
	}

	h := w.Header()
	h.Set("Content-Type", eventStreamMediaType.String())
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	var (
		streamErr error
		gone      bool
		stopped   bool
		chunks    int
	)
	yield := func(v any, err error) bool {
		if stopped {
			return false
		}
		switch {
		case err != nil:
			streamErr = err
		case ctx.Err() != nil:
			gone = true
		default:
			b, merr := json.Marshal(v)
			if merr != nil {
				streamErr = fmt.Errorf("failed to encode stream chunk: %w", merr)
				break
			}
			if werr := writeSSEEvent(wf, "", b); werr != nil {
				a.log.DebugContext(ctx, "stream.write.fail", slog.String("err", werr.Error()))
				gone = true
				break
			}
			chunks++
			return true
		}
		stopped = true
		return false
	}

	if perr := a.drive(ctx, seq, yield); perr != nil && streamErr == nil && !gone {
		streamErr = perr
	}

	switch {
	case gone || (streamErr == nil && ctx.Err() != nil):
		a.log.InfoContext(ctx, "stream.disconnect", slog.Int("chunks", chunks))
	case streamErr != nil:
		a.log.ErrorContext(ctx, "stream.fail", slog.Int("chunks", chunks), slog.String("err", streamErr.Error()))
		b, _ := json.Marshal(errorBody{Error: streamErr.Error()})
		_ = writeSSEEvent(wf, "error", b)
	default:
		_ = writeSSEEvent(wf, "done", doneEventData)
		a.log.DebugContext(ctx, "stream.done", slog.Int("chunks", chunks))
	}
}

// drive calls seq directly rather than ranging over it so a panicking
// producer is recovered instead of crashing the server.
func (a *App) drive(ctx context.Context, seq iter.Seq2[any, error], yield func(any, error) bool) (err error) {
	defer func() {
		if p := recover(); p != nil {
			a.log.ErrorContext(ctx, "stream.panic", slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
			err = panicError(p)
		}
	}()
	seq(yield)
	return nil
}

// writeSSEEvent writes one event frame and flushes it. An empty event name
// produces a bare data frame.
func writeSSEEvent(wf writeFlusher, event string, payload []byte) error {
	if event != "" {
		if _, err := fmt.Fprintf(wf, "event: %s\n", event); err != nil {
			return fmt.Errorf("failed to write SSE event name: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
