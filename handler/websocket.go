package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"aura-chat/internal/domain"
)

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// HandleWebSocket handles GET /ws?participant=. Connecting loads the
// participant's full history into the reconciliation store and opens the
// broker subscription; every reconciled insert involving the participant
// is then pushed in wire form.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	participant := r.URL.Query().Get("participant")
	if participant == "" {
		http.Error(w, "participant is required", http.StatusBadRequest)
		return
	}

	up := h.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "err", err)
		return
	}

	// Register before loading or subscribing: an insert reconciled while
	// history is still streaming in must already reach this connection.
	h.clientMu.Lock()
	if h.clients[participant] == nil {
		h.clients[participant] = make(map[*websocket.Conn]bool)
	}
	h.clients[participant][conn] = true
	h.clientMu.Unlock()

	unregister := func() {
		h.clientMu.Lock()
		delete(h.clients[participant], conn)
		if len(h.clients[participant]) == 0 {
			delete(h.clients, participant)
		}
		h.clientMu.Unlock()
	}

	if err := h.engine.LoadHistory(r.Context(), participant); err != nil {
		h.log.Error("history load failed", "participant", participant, "err", err)
	}
	sub, err := h.engine.Subscribe(participant)
	if err != nil {
		h.log.Error("broker subscribe failed", "participant", participant, "err", err)
		unregister()
		conn.Close()
		return
	}

	h.log.Info("client connected", "participant", participant)

	defer func() {
		unregister()
		sub.Close()
		conn.Close()
		h.log.Info("client disconnected", "participant", participant)
	}()

	// Clients only receive over this socket; the read loop exists to
	// observe close frames and pings.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// HandleBroadcast drains the engine's insert stream and fans each message
// out to the connections of both conversation participants. Run it on a
// single goroutine.
func (h *Handler) HandleBroadcast() {
	for m := range h.Broadcast {
		body, err := domain.EncodeWire(m)
		if err != nil {
			h.log.Error("encode push message", "id", m.ID, "err", err)
			continue
		}

		a, b, err := m.ConversationKey.Participants()
		if err != nil {
			h.log.Error("malformed conversation key on push", "key", m.ConversationKey)
			continue
		}

		h.clientMu.RLock()
		conns := make([]*websocket.Conn, 0, 2)
		for _, participant := range []string{a, b} {
			for conn := range h.clients[participant] {
				conns = append(conns, conn)
			}
		}
		h.clientMu.RUnlock()

		for _, conn := range conns {
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				h.log.Warn("push write failed, dropping client", "err", err)
				conn.Close()
			}
		}
	}
}
