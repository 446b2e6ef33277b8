package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"aura-chat/internal/domain"
	"aura-chat/internal/usecase"
)

type startSessionRequest struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	MediaSource string `json:"mediaSource"`
	SourceKind  string `json:"sourceKind"`
}

type joinSessionRequest struct {
	ParticipantID string `json:"participantId"`
	MessageID     string `json:"messageId"`
}

type sessionResponse struct {
	Active           bool   `json:"active"`
	MediaSource      string `json:"mediaSource,omitempty"`
	SourceKind       string `json:"sourceKind,omitempty"`
	PlaybackOffsetMs int64  `json:"playbackOffsetMs"`
	PlayableRef      string `json:"playableRef,omitempty"`
}

func toSessionResponse(s usecase.Session, now int64) sessionResponse {
	return sessionResponse{
		Active:           true,
		MediaSource:      s.MediaSource,
		SourceKind:       string(s.SourceKind),
		PlaybackOffsetMs: int64(usecase.PlaybackOffset(s, now) / time.Millisecond),
		PlayableRef:      usecase.PlayableRef(s, now),
	}
}

// viewerPair reads the participant/peer query parameters: the acting
// viewer and the other side of the conversation. Session and composing
// state is local to the viewer, so the pair is not interchangeable the
// way a=&b= is.
func viewerPair(r *http.Request) (string, string) {
	q := r.URL.Query()
	return q.Get("participant"), q.Get("peer")
}

// StartSession handles POST /sessions: emits the session-control message
// through the reconciliation path and activates the sender's local
// session.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
		return
	}
	m, err := h.coview.StartSession(r.Context(), req.SenderID, req.RecipientID, req.MediaSource, domain.SourceKind(req.SourceKind))
	if err != nil {
		h.writeError(w, err)
		return
	}
	s, _ := h.coview.ActiveSession(req.SenderID, m.ConversationKey)
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"message": h.wireJSON(m),
		"session": toSessionResponse(s, time.Now().UnixMilli()),
	})
}

// JoinSession handles POST /sessions/join: any session-control message in
// the store, historical or fresh, is a valid join-point for either
// participant of its conversation.
func (h *Handler) JoinSession(w http.ResponseWriter, r *http.Request) {
	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
		return
	}
	m, ok := h.engine.Store().Get(req.MessageID)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "unknown_message"})
		return
	}
	s, err := h.coview.JoinSession(req.ParticipantID, m)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSessionResponse(s, time.Now().UnixMilli()))
}

// GetSession handles GET /sessions?participant=&peer=: the viewer's
// session-active flag plus the current elapsed-time playback position.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	viewer, peer := viewerPair(r)
	key, err := domain.DeriveKey(viewer, peer)
	if err != nil {
		h.writeError(w, &usecase.Error{Code: usecase.ErrorInvalidIdentifier, Reason: "derive_key", Err: err})
		return
	}
	s, active := h.coview.ActiveSession(viewer, key)
	if !active {
		h.writeJSON(w, http.StatusOK, sessionResponse{Active: false})
		return
	}
	h.writeJSON(w, http.StatusOK, toSessionResponse(s, time.Now().UnixMilli()))
}

// LeaveSession handles DELETE /sessions?participant=&peer=: purely local
// to the viewer, the peer is not notified and the inviting message stays
// in history.
func (h *Handler) LeaveSession(w http.ResponseWriter, r *http.Request) {
	viewer, peer := viewerPair(r)
	key, err := domain.DeriveKey(viewer, peer)
	if err != nil {
		h.writeError(w, &usecase.Error{Code: usecase.ErrorInvalidIdentifier, Reason: "derive_key", Err: err})
		return
	}
	h.coview.LeaveSession(viewer, key)
	w.WriteHeader(http.StatusNoContent)
}

// GetAssistantState handles GET /assistant?participant=&peer=: the
// composing indicator local to the requesting participant.
func (h *Handler) GetAssistantState(w http.ResponseWriter, r *http.Request) {
	viewer, peer := viewerPair(r)
	key, err := domain.DeriveKey(viewer, peer)
	if err != nil {
		h.writeError(w, &usecase.Error{Code: usecase.ErrorInvalidIdentifier, Reason: "derive_key", Err: err})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"composing": h.assistant.Composing(viewer, key)})
}

// ClearAssistantState handles DELETE /assistant?participant=&peer=:
// clears the viewer's indicator on navigation. An in-flight completion
// still lands.
func (h *Handler) ClearAssistantState(w http.ResponseWriter, r *http.Request) {
	viewer, peer := viewerPair(r)
	key, err := domain.DeriveKey(viewer, peer)
	if err != nil {
		h.writeError(w, &usecase.Error{Code: usecase.ErrorInvalidIdentifier, Reason: "derive_key", Err: err})
		return
	}
	h.assistant.ClearComposing(viewer, key)
	w.WriteHeader(http.StatusNoContent)
}
