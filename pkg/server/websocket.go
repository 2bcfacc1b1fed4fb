package server

import (
	"context"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/codemother/codemother/pkg/llm"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamWebSocket reads one chat request from the client, streams the
// generation as text frames and closes with a normal closure. A run the
// engine aborted ends with its error chunk and an internal-error closure. A
// client that goes away detaches from the run.
func (s *Server) streamWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to upgrade to websocket")
		return
	}
	defer conn.Close()

	var body chatRequest
	if err := conn.ReadJSON(&body); err != nil {
		s.closeWith(conn, websocket.CloseUnsupportedData, "invalid request")
		return
	}
	if body.AppID <= 0 || body.Message == "" {
		s.closeWith(conn, websocket.ClosePolicyViolation, "appId and message are required")
		return
	}
	req, err := body.toRequest()
	if err != nil {
		s.closeWith(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(s.opts.Telemetry.WithContext(context.Background()))
	defer cancel()

	// The client sends nothing after the request; a read error means it left.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	chunks, err := s.opts.Generator.Chat(ctx, req)
	if err != nil {
		s.closeWith(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	s.logger.Info().Int64("app_id", req.AppID).Msg("websocket generation started")
	gone := false
	failure := ""
	for chunk := range chunks {
		if gone {
			continue
		}
		if msg, failed := llm.ErrorChunk(chunk); failed {
			failure = msg
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(chunk)); err != nil {
			s.logger.Debug().Err(err).Int64("app_id", req.AppID).Msg("websocket client gone")
			gone = true
			cancel()
		}
	}
	if gone {
		return
	}
	if failure != "" {
		s.logger.Warn().Int64("app_id", req.AppID).Str("error", failure).Msg("websocket generation failed")
		s.closeWith(conn, websocket.CloseInternalServerErr, closeReason(failure))
		return
	}
	s.closeWith(conn, websocket.CloseNormalClosure, "done")
}

// closeReason fits reason into a close frame, whose payload is limited to
// 125 bytes including the status code.
func closeReason(reason string) string {
	const maxLen = 123
	if len(reason) <= maxLen {
		return reason
	}
	cut := reason[:maxLen-3]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}

func (s *Server) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
		s.logger.Debug().Err(err).Msg("failed to send websocket close")
	}
}
