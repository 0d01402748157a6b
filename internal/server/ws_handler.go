package server

import (
	"net/http"
	"time"

	"pow-node/logging"
	"pow-node/pow"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 64 << 20 // 64MB
)

var upgrader = websocket.Upgrader{
	// The coordinator connects from its own origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket serves the coordinator's persistent channel. One
// client at a time: a second connection is closed with a policy
// violation. The writer pump drains the Sender's outbound queue onto
// the socket; the reader parses acks, stamps their receive time and
// forwards them to the Sender.
func (s *Server) handleWebSocket(ctx echo.Context) error {
	if !s.phaseTracker.IsRunning() {
		return echo.NewHTTPError(http.StatusConflict, "PoW is not running")
	}

	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		logging.Error("WebSocket upgrade failed", logging.Transport, "error", err)
		return err
	}

	if !s.connState.TryAttach() {
		logging.Warn("WebSocket connection rejected: another client already connected", logging.Transport)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "another client is already connected"),
			time.Now().Add(wsWriteTimeout))
		_ = conn.Close()
		return nil
	}

	logging.Info("WebSocket connection accepted", logging.Transport)
	defer func() {
		s.connState.Detach()
		_ = conn.Close()
		logging.Info("WebSocket connection closed", logging.Transport)
	}()

	conn.SetReadLimit(wsReadLimit)

	done := make(chan struct{})
	writerErr := make(chan error, 1)
	go s.writeBatches(conn, done, writerErr)

	s.readAcks(conn)
	close(done)
	<-writerErr
	return nil
}

func (s *Server) writeBatches(conn *websocket.Conn, done <-chan struct{}, writerErr chan<- error) {
	defer func() { writerErr <- nil }()

	for {
		select {
		case <-done:
			return
		case message := <-s.wsOut:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(message); err != nil {
				logging.Error("Error sending batch via WebSocket", logging.Transport,
					"type", message.Type, "id", message.Id, "error", err)
				// Unblock the reader so the connection tears down and
				// the Sender falls back to HTTP.
				_ = conn.Close()
				return
			}
			logging.Debug("Sent batch to WebSocket client", logging.Transport,
				"type", message.Type, "id", message.Id)
		}
	}
}

func (s *Server) readAcks(conn *websocket.Conn) {
	for {
		var ack pow.AckMessage
		if err := conn.ReadJSON(&ack); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info("WebSocket connection disconnected by client", logging.Transport)
			} else {
				logging.Error("Error receiving ack via WebSocket", logging.Transport, "error", err)
			}
			return
		}

		if ack.Type != pow.MessageTypeAck {
			continue
		}

		// Receive time is stamped here, never trusted from the peer.
		ack.Timestamp = float64(time.Now().UnixNano()) / float64(time.Second)

		select {
		case s.wsAck <- ack:
			logging.Info("Received ack for batch", logging.Transport, "id", ack.Id)
		default:
			logging.Warn("Ack queue is full, dropping ack", logging.Transport, "id", ack.Id)
		}
	}
}
