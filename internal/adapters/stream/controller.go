// Package stream serves the telephony media stream websocket.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/voicebridge/internal/app"
	"github.com/dkeye/voicebridge/internal/app/call"
	"github.com/dkeye/voicebridge/internal/config"
	"github.com/dkeye/voicebridge/internal/core"
)

type StreamWSController struct {
	Connector core.RoomConnector
	Registry  *app.Registry
	Options   call.Options
	Limiter   *ConnLimiter

	readLimit  int64
	pingPeriod time.Duration
	sendBuffer int
	upgrader   websocket.Upgrader
}

func NewStreamWSController(cfg config.StreamConfig, connector core.RoomConnector, reg *app.Registry, opts call.Options) *StreamWSController {
	return &StreamWSController{
		Connector:  connector,
		Registry:   reg,
		Options:    opts,
		Limiter:    NewConnLimiter(cfg.ConnLimit, cfg.ConnWindow),
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
		sendBuffer: cfg.SendBuffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleStream upgrades the request and bridges the call until either side
// hangs up. It returns as soon as the connection is running.
func (ctl *StreamWSController) HandleStream(ctx context.Context, c *gin.Context) {
	if !ctl.Limiter.Allow(c.ClientIP()) {
		log.Warn().Str("module", "stream").Str("remote", c.ClientIP()).Msg("connection rate limited")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "stream").Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	sid := app.SessionID(uuid.NewString())
	log.Info().Str("module", "stream").Str("sid", string(sid)).Str("remote", c.ClientIP()).Msg("new stream connection")

	conn := NewWsStreamConn(ws, ctl.sendBuffer)
	ctx, cancel := context.WithCancel(ctx)
	sess := call.NewSession(ctx, ctl.Connector, conn, ctl.Options)
	ctl.Registry.Bind(sid, sess, cancel)

	go ctl.serve(ctx, cancel, sid, conn, sess)
}

func (ctl *StreamWSController) serve(ctx context.Context, cancel context.CancelFunc, sid app.SessionID, conn *WsStreamConn, sess *call.Session) {
	defer func() {
		cancel()
		sess.Wait()
		ctl.Registry.Unbind(sid)
		log.Info().Str("module", "stream").Str("sid", string(sid)).Msg("stream connection done")
	}()

	var wg conc.WaitGroup
	wg.Go(func() { ctl.writePump(ctx, sid, conn) })
	wg.Go(func() { ctl.readPump(ctx, sid, conn, sess) })
	wg.Go(func() {
		select {
		case <-sess.Done():
		case <-ctx.Done():
		}
		conn.Close()
	})

	if r := wg.WaitAndRecover(); r != nil {
		log.Error().Str("module", "stream").Str("sid", string(sid)).Str("panic", fmt.Sprint(r.Value)).Msg("stream connection panicked")
		sess.Close(r.AsError())
		conn.Close()
	}
}
