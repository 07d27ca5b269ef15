package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eduparlema/llmproxy-chatbot/internal/metrics"
)

const (
	wsPongWait  = 60 * time.Second
	wsWriteWait = 10 * time.Second
)

// handleWebsocket serves a live chat connection. Each text frame is a
// QueryRequest; each reply is a QueryResponse. The user may be fixed for
// the connection with ?user=.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	if !s.trackWebsocket(conn) {
		return
	}
	defer s.untrackWebsocket(conn)

	connUser := r.URL.Query().Get("user")
	log := s.logger.With("remote", r.RemoteAddr, "user", connUser)
	log.Info("websocket connected")

	pongWait := s.wsPongWait
	conn.SetReadLimit(maxBodyBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := r.Context()
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pongWait * 5 / 6)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		var req QueryRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("websocket read failed", "error", err)
			}
			log.Info("websocket closed")
			return
		}
		if connUser != "" {
			req.UserName = connUser
		}
		if req.ignored() {
			s.metrics.Turn(metrics.OutcomeIgnored, 0)
			continue
		}

		// Nothing reads while a turn runs, so pongs cannot extend the
		// deadline; suspend it until the reply is written.
		conn.SetReadDeadline(time.Time{})
		if !s.setWebsocketBusy(conn, true) {
			return
		}
		text, err := s.resolver.Resolve(ctx, req.userID(), req.Text)
		if err != nil {
			log.Info("websocket turn abandoned", "error", err)
			return
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(QueryResponse{Text: text}); err != nil {
			log.Warn("websocket write failed", "error", err)
			return
		}
		if !s.setWebsocketBusy(conn, false) {
			closeWebsocket(conn)
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (s *Server) trackWebsocket(conn *websocket.Conn) bool {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.wsDraining {
		closeWebsocket(conn)
		return false
	}
	s.wsBusy[conn] = false
	s.wsWG.Add(1)
	return true
}

func (s *Server) untrackWebsocket(conn *websocket.Conn) {
	s.wsMu.Lock()
	delete(s.wsBusy, conn)
	s.wsMu.Unlock()
	s.wsWG.Done()
}

// setWebsocketBusy marks conn as mid-turn or idle. It reports false once
// the server is draining, in which case no new turn may start.
func (s *Server) setWebsocketBusy(conn *websocket.Conn, busy bool) bool {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.wsDraining {
		return false
	}
	s.wsBusy[conn] = busy
	return true
}

// drainWebsockets closes idle connections and waits for busy ones to
// deliver their reply.
func (s *Server) drainWebsockets(ctx context.Context) error {
	s.wsMu.Lock()
	s.wsDraining = true
	for conn, busy := range s.wsBusy {
		if !busy {
			closeWebsocket(conn)
		}
	}
	s.wsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func closeWebsocket(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	conn.Close()
}
