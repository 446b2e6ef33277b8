package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"aura-chat/internal/domain"
	"aura-chat/internal/usecase"
)

// Handler is the gateway between UI clients and the reconciliation layer:
// REST for commands and reads, WebSocket for push of reconciled inserts.
type Handler struct {
	engine    *usecase.Engine
	index     *usecase.Index
	coview    *usecase.CoView
	assistant *usecase.Assistant
	log       *slog.Logger

	allowedOrigins []string

	// Broadcast fan-out to connected WebSocket clients, keyed by
	// participant id. A single goroutine drains Broadcast so the
	// per-connection writes never interleave.
	Broadcast chan domain.Message
	clientMu  sync.RWMutex
	clients   map[string]map[*websocket.Conn]bool
}

// New creates the gateway and attaches it to the engine's insert stream.
func New(engine *usecase.Engine, index *usecase.Index, coview *usecase.CoView, assistant *usecase.Assistant, allowedOrigins []string, log *slog.Logger) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("handler: engine must not be nil")
	}
	if index == nil {
		return nil, errors.New("handler: index must not be nil")
	}
	if coview == nil {
		return nil, errors.New("handler: coview controller must not be nil")
	}
	if assistant == nil {
		return nil, errors.New("handler: assistant must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		engine:         engine,
		index:          index,
		coview:         coview,
		assistant:      assistant,
		log:            log,
		allowedOrigins: allowedOrigins,
		Broadcast:      make(chan domain.Message, 100),
		clients:        make(map[string]map[*websocket.Conn]bool),
	}
	engine.AddListener(func(m domain.Message) {
		h.Broadcast <- m
	})
	return h, nil
}

// SetupRouter configures and returns the HTTP router.
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/conversations", h.ListConversations).Methods("GET")
	r.HandleFunc("/conversations/search", h.SearchConversations).Methods("GET")
	r.HandleFunc("/conversations", h.DeleteConversation).Methods("DELETE")

	r.HandleFunc("/messages", h.GetMessages).Methods("GET")
	r.HandleFunc("/messages", h.PostMessage).Methods("POST")
	r.HandleFunc("/messages/{id}", h.DeleteMessage).Methods("DELETE")

	r.HandleFunc("/sessions", h.StartSession).Methods("POST")
	r.HandleFunc("/sessions", h.GetSession).Methods("GET")
	r.HandleFunc("/sessions", h.LeaveSession).Methods("DELETE")
	r.HandleFunc("/sessions/join", h.JoinSession).Methods("POST")

	r.HandleFunc("/assistant", h.GetAssistantState).Methods("GET")
	r.HandleFunc("/assistant", h.ClearAssistantState).Methods("DELETE")

	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	return r
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response", "err", err)
	}
}

// writeError maps usecase error codes onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
		return
	}
	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidIdentifier, usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorUnresolvedParticipant:
		status = http.StatusNotFound
	case usecase.ErrorPersistence, usecase.ErrorAssistant:
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason})
}

// wireJSON renders a message in the interop wire shape for responses.
func (h *Handler) wireJSON(m domain.Message) json.RawMessage {
	body, err := domain.EncodeWire(m)
	if err != nil {
		h.log.Error("encode wire message", "id", m.ID, "err", err)
		return json.RawMessage("null")
	}
	return body
}

// conversationPair reads the a/b query parameters naming the two sides of
// a conversation.
func conversationPair(r *http.Request) (string, string) {
	q := r.URL.Query()
	return q.Get("a"), q.Get("b")
}
