package stream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicebridge/internal/app"
	"github.com/dkeye/voicebridge/internal/app/call"
	"github.com/dkeye/voicebridge/internal/core"
	"github.com/dkeye/voicebridge/internal/protocol"
)

func (ctl *StreamWSController) writePump(ctx context.Context, sid app.SessionID, c *WsStreamConn) {
	defer c.Close()

	var ping <-chan time.Time
	if ctl.pingPeriod > 0 {
		ticker := time.NewTicker(ctl.pingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "stream").Str("sid", string(sid)).Msg("writePump write error")
				return
			}
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("module", "stream").Str("sid", string(sid)).Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump dispatches stream events to the session until the socket fails
// or the call stops. Malformed frames are skipped.
func (ctl *StreamWSController) readPump(ctx context.Context, sid app.SessionID, c *WsStreamConn, sess *call.Session) {
	defer func() {
		sess.Close(core.ErrStreamClosed)
		c.Close()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "stream").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		if stop := ctl.handleMessage(sid, sess, data); stop {
			return
		}
	}
}

func (ctl *StreamWSController) handleMessage(sid app.SessionID, sess *call.Session, data []byte) (stop bool) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		log.Debug().Err(err).Str("module", "stream").Str("sid", string(sid)).Msg("bad stream message")
		return false
	}

	switch msg.Event {
	case protocol.EventConnected:
		log.Info().Str("module", "stream").Str("sid", string(sid)).Str("protocol", msg.Protocol).Msg("stream connected")
	case protocol.EventStart:
		sess.HandleStart(msg.CallSID(), msg.StreamID())
	case protocol.EventMedia:
		if msg.Media != nil {
			sess.HandleMedia(msg.Media.Payload)
		}
	case protocol.EventStop:
		log.Info().Str("module", "stream").Str("sid", string(sid)).Msg("stream stopped")
		sess.HandleStop()
		return true
	case protocol.EventMark:
		if msg.Mark != nil {
			log.Debug().Str("module", "stream").Str("sid", string(sid)).Str("mark", msg.Mark.Name).Msg("mark")
		}
	case protocol.EventDTMF:
		if msg.DTMF != nil {
			log.Info().Str("module", "stream").Str("sid", string(sid)).Str("digit", msg.DTMF.Digit).Msg("dtmf")
		}
	default:
		log.Warn().Str("module", "stream").Str("sid", string(sid)).Str("event", msg.Event).Msg("unknown stream event")
	}
	return false
}
