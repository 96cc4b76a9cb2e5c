package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/agentcore-runtime-go/reqctx"
)

func (a *App) handleInvocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Header.Get("Content-Type") != "" {
		mt, err := contenttype.GetMediaType(r)
		if err != nil || !mt.Matches(jsonMediaType) {
			writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("payload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return
	}

	var payload json.RawMessage
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 {
		if !json.Valid(trimmed) {
			var probe any
			err := json.Unmarshal(trimmed, &probe)
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
			return
		}
		payload = json.RawMessage(trimmed)
	}

	rc := reqctx.FromRequest(r, reqctx.SessionIDFromPayload(payload))
	if rc.SessionID == "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing required field: sessionId (set the %s header or the sessionId body field)", reqctx.SessionIDHeader))
		return
	}
	w.Header().Set(reqctx.SessionIDHeader, rc.SessionID)

	_ = reqctx.Run(ctx, rc, func(ctx context.Context) error {
		a.invoke(ctx, w, r, payload, rc)
		return nil
	})
}

func (a *App) invoke(ctx context.Context, w http.ResponseWriter, r *http.Request, payload json.RawMessage, rc *reqctx.RequestContext) {
	if a.debugActions {
		if action, ok := debugAction(payload); ok {
			a.log.InfoContext(ctx, "invocation.debug_action", slog.String("action", action))
			a.handleDebugAction(ctx, w, action)
			return
		}
	}

	a.log.DebugContext(ctx, "invocation.start", slog.Int("payload_bytes", len(payload)))

	res, err := a.call(ctx, payload, rc)
	if err != nil {
		a.log.ErrorContext(ctx, "invocation.fail", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !res.IsStream() {
		writeJSON(w, http.StatusOK, res.value)
		a.log.DebugContext(ctx, "invocation.ok")
		return
	}

	if !acceptsEventStream(r) {
		a.log.InfoContext(ctx, "invocation.stream.not_acceptable", slog.String("accept", r.Header.Get("Accept")))
		writeError(w, http.StatusNotAcceptable, "streaming response requires Accept: text/event-stream")
		return
	}
	a.writeStream(ctx, w, res.stream)
}

// call runs the handler, converting a panic into an error.
func (a *App) call(ctx context.Context, payload json.RawMessage, rc *reqctx.RequestContext) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			a.log.ErrorContext(ctx, "invocation.panic", slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
			res, err = Result{}, panicError(p)
		}
	}()
	return a.handler(ctx, payload, rc)
}

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return err
	}
	return fmt.Errorf("%v", p)
}

// acceptsEventStream reports whether r explicitly accepts an event stream.
// Wildcard ranges such as */* and text/* do not count, nor does an absent
// Accept header.
func acceptsEventStream(r *http.Request) bool {
	var explicit []string
	for _, v := range r.Header.Values("Accept") {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			mt, err := contenttype.ParseMediaType(part)
			if err != nil || mt.IsWildcard() || !mt.EqualsMIME(eventStreamMediaType) {
				continue
			}
			explicit = append(explicit, part)
		}
	}
	if len(explicit) == 0 {
		return false
	}
	_, _, err := contenttype.GetAcceptableMediaTypeFromHeader(strings.Join(explicit, ", "), eventStreamMediaTypes)
	return err == nil
}
