package server

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/ggoodman/agentcore-runtime-go/reqctx"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const closeWriteTimeout = time.Second

func (a *App) handleChannel(w http.ResponseWriter, r *http.Request) {
	rc := reqctx.FromRequest(r, r.URL.Query().Get(reqctx.SessionIDHeader))
	if rc.SessionID == "" {
		rc.SessionID = uuid.NewString()
	}

	respHeader := http.Header{}
	respHeader.Set(reqctx.SessionIDHeader, rc.SessionID)
	conn, err := a.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		a.log.WarnContext(r.Context(), "channel.upgrade.fail", slog.String("err", err.Error()))
		return
	}
	defer conn.Close()

	_ = reqctx.Run(r.Context(), rc, func(ctx context.Context) error {
		a.log.InfoContext(ctx, "channel.open")
		if err := a.callChannel(ctx, conn, rc); err != nil {
			a.log.ErrorContext(ctx, "channel.fail", slog.String("err", err.Error()))
			closeWith(conn, websocket.CloseInternalServerErr, "internal error")
			return nil
		}
		closeWith(conn, websocket.CloseNormalClosure, "")
		a.log.InfoContext(ctx, "channel.close")
		return nil
	})
}

func (a *App) callChannel(ctx context.Context, conn *websocket.Conn, rc *reqctx.RequestContext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			a.log.ErrorContext(ctx, "channel.panic", slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
			err = panicError(p)
		}
	}()
	return a.channel(ctx, conn, rc)
}

// closeWith sends a close frame. Errors are ignored: the handler may already
// have closed the connection.
func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeWriteTimeout))
}
