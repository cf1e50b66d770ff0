package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/parleyai/parley/internal/identity"
	"github.com/parleyai/parley/internal/stream"
)

// wsControl is an inbound client frame on either socket endpoint.
type wsControl struct {
	Type            string   `json:"type"`
	ConversationIDs []string `json:"conversation_ids,omitempty"`
}

// wsSocket serializes writes to one connection; the read loop and the
// forwarder goroutines write concurrently.
type wsSocket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSocket) writeEvent(ev stream.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

func (s *wsSocket) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

// HandleWS handles GET /chats/ws?conversation_id=<id>: the event stream of a
// single conversation. The socket closes itself right after forwarding a
// terminal event.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		http.Error(w, `{"error":"conversation_id is required"}`, http.StatusBadRequest)
		return
	}
	conv, err := h.repo.GetConversation(r.Context(), conversationID)
	if err != nil || conv == nil {
		http.Error(w, `{"error":"conversation not found"}`, http.StatusNotFound)
		return
	}
	if conv.UserID != userID {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("accept websocket", "error", err, "user_id", userID)
		return
	}
	sock := &wsSocket{conn: ws}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	sess := h.registry.GetOrCreate(conversationID, userID)
	h.logger.Info("stream socket connected", "user_id", userID, "conversation_id", conversationID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.forward(ctx, sock, sess, "", true)
	}()

	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("socket closed by client", "user_id", userID)
			}
			return
		}

		var msg wsControl
		if err := json.Unmarshal(message, &msg); err != nil {
			msg = wsControl{}
		}

		if msg.Type == "ping" && !sess.IsRunning() {
			// Nothing is streaming and nothing will: tell the client and
			// let it drop the connection.
			stopped := stream.Event{Type: stream.EventStopped, ConversationID: conversationID}
			if err := sock.writeEvent(stopped); err != nil {
				h.logger.Debug("write stopped notice", "error", err)
			}
			return
		}

		if err := sock.writeEvent(stream.Event{Type: stream.EventAck}); err != nil {
			h.logger.Debug("write ack", "error", err)
			return
		}

		go h.touchLastSeen(userID)
	}
}

// forward drains the session queue into the socket. When closeOnTerminal is
// set, a terminal event ends the whole connection; otherwise only this
// forwarder stops. A failed write stops forwarding but never the session,
// which keeps buffering for reconnection.
func (h *Handler) forward(ctx context.Context, sock *wsSocket, sess *stream.Session, injectConversationID string, closeOnTerminal bool) {
	for {
		ev, err := sess.Next(ctx)
		if err != nil {
			return
		}
		if injectConversationID != "" {
			ev.ConversationID = injectConversationID
		}
		if err := sock.writeEvent(ev); err != nil {
			h.logger.Debug("forward write failed", "error", err,
				"conversation_id", sess.ConversationID)
			return
		}
		if ev.IsTerminal() {
			if closeOnTerminal {
				if err := sock.conn.Close(websocket.StatusNormalClosure, "stream ended"); err != nil {
					h.logger.Debug("close after terminal event", "error", err)
				}
			}
			return
		}
	}
}

func (h *Handler) touchLastSeen(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.repo.UpdateLastSeen(ctx, userID, time.Now()); err != nil {
		h.logger.Warn("update last seen", "error", err, "user_id", userID)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
