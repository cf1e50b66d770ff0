package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/parleyai/parley/internal/identity"
)

// forwarderHandle identifies one running forwarder so a forwarder that ends
// on its own removes only itself, never a successor from a re-subscribe.
type forwarderHandle struct {
	cancel context.CancelFunc
}

// pongResponse answers a ping on the multiplexed socket.
type pongResponse struct {
	Type                string   `json:"type"`
	ActiveConversations []string `json:"active_conversations"`
}

// HandleWSAll handles GET /chats/ws-all?conversation_ids=<csv>: one socket
// multiplexing any number of conversation streams. Every forwarded event
// carries conversation_id so the client can demultiplex.
func (h *Handler) HandleWSAll(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
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
		if closeErr := ws.Close(websocket.StatusNormalClosure, "socket closed"); closeErr != nil {
			h.logger.Debug("close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())

	var (
		mu         sync.Mutex
		forwarders = make(map[string]*forwarderHandle)
		wg         sync.WaitGroup
	)
	// Disconnect tears down every forwarder before the socket closes.
	defer wg.Wait()
	defer cancel()

	subscribe := func(conversationID string) {
		if conversationID == "" {
			return
		}
		mu.Lock()
		_, exists := forwarders[conversationID]
		mu.Unlock()
		if exists {
			// Re-subscribing to a forwarded conversation is a no-op.
			return
		}

		conv, err := h.repo.GetConversation(ctx, conversationID)
		if err != nil || conv == nil || conv.UserID != userID {
			h.logger.Warn("subscribe rejected",
				"conversation_id", conversationID, "user_id", userID)
			return
		}

		fctx, fcancel := context.WithCancel(ctx)
		handle := &forwarderHandle{cancel: fcancel}
		mu.Lock()
		forwarders[conversationID] = handle
		mu.Unlock()

		sess := h.registry.GetOrCreate(conversationID, userID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.forward(fctx, sock, sess, conversationID, false)
			fcancel()
			mu.Lock()
			if forwarders[conversationID] == handle {
				delete(forwarders, conversationID)
			}
			mu.Unlock()
		}()
	}

	unsubscribe := func(conversationID string) {
		mu.Lock()
		handle, ok := forwarders[conversationID]
		if ok {
			delete(forwarders, conversationID)
		}
		mu.Unlock()
		if ok {
			handle.cancel()
		}
	}

	for _, id := range splitIDs(r.URL.Query().Get("conversation_ids")) {
		subscribe(id)
	}
	h.logger.Info("multiplex socket connected", "user_id", userID)

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
			continue
		}

		switch msg.Type {
		case "subscribe":
			for _, id := range msg.ConversationIDs {
				subscribe(id)
			}
		case "unsubscribe":
			for _, id := range msg.ConversationIDs {
				unsubscribe(id)
			}
		case "ping":
			mu.Lock()
			subscribed := make([]string, 0, len(forwarders))
			for id := range forwarders {
				subscribed = append(subscribed, id)
			}
			mu.Unlock()

			active := []string{}
			for _, id := range subscribed {
				if sess := h.registry.Get(id); sess != nil && sess.IsRunning() {
					active = append(active, id)
				}
			}
			sort.Strings(active)
			if err := sock.writeJSON(pongResponse{Type: "pong", ActiveConversations: active}); err != nil {
				h.logger.Debug("write pong", "error", err)
				return
			}
		}
	}
}

func splitIDs(csv string) []string {
	if csv == "" {
		return nil
	}
	raw := strings.Split(csv, ",")
	ids := make([]string, 0, len(raw))
	for _, id := range raw {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
