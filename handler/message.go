package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"aura-chat/internal/domain"
	"aura-chat/internal/usecase"
)

type sendRequest struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Text        string `json:"text"`
}

type summaryResponse struct {
	ConversationKey string              `json:"conversationKey"`
	Participant     participantResponse `json:"participant"`
	LastMessage     json.RawMessage     `json:"lastMessage"`
}

type participantResponse struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl"`
}

func toParticipantResponse(p domain.Participant) participantResponse {
	return participantResponse{
		ID:          p.ID,
		Handle:      p.Handle,
		DisplayName: p.DisplayName,
		PhotoURL:    p.PhotoURL,
	}
}

func (h *Handler) toSummaryResponses(summaries []usecase.Summary) []summaryResponse {
	out := make([]summaryResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, summaryResponse{
			ConversationKey: string(s.ConversationKey),
			Participant:     toParticipantResponse(s.Other),
			LastMessage:     h.wireJSON(s.LastMessage),
		})
	}
	return out
}

// ListConversations handles GET /conversations?participant=
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	participant := r.URL.Query().Get("participant")
	summaries, err := h.index.ListConversations(r.Context(), participant)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.toSummaryResponses(summaries))
}

// SearchConversations handles GET /conversations/search?participant=&q=
// The two result groups never overlap: a directory match with an existing
// conversation only ever appears under "existing".
func (h *Handler) SearchConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.index.Search(r.Context(), q.Get("participant"), q.Get("q"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	fresh := make([]participantResponse, 0, len(result.Fresh))
	for _, p := range result.Fresh {
		fresh = append(fresh, toParticipantResponse(p))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"existing": h.toSummaryResponses(result.Existing),
		"fresh":    fresh,
	})
}

// DeleteConversation handles DELETE /conversations?a=&b=
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	a, b := conversationPair(r)
	key, err := domain.DeriveKey(a, b)
	if err != nil {
		h.writeError(w, &usecase.Error{Code: usecase.ErrorInvalidIdentifier, Reason: "derive_key", Err: err})
		return
	}
	h.engine.DeleteConversation(r.Context(), key)
	w.WriteHeader(http.StatusNoContent)
}

// GetMessages handles GET /messages?a=&b=. It returns the merged, ordered,
// deduplicated timeline between two participants.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	a, b := conversationPair(r)
	key, err := domain.DeriveKey(a, b)
	if err != nil {
		h.writeError(w, &usecase.Error{Code: usecase.ErrorInvalidIdentifier, Reason: "derive_key", Err: err})
		return
	}
	if err := h.engine.LoadConversation(r.Context(), key); err != nil {
		h.writeError(w, err)
		return
	}
	msgs, err := h.engine.Timeline(a, b)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, h.wireJSON(m))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// PostMessage handles POST /messages. The message is visible optimistically
// before the backend append resolves. A command-prefixed text additionally
// dispatches the assistant; its reply arrives asynchronously through the
// same reconciliation path as any other message.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
		return
	}
	m, err := h.engine.Send(r.Context(), req.SenderID, req.RecipientID, req.Text)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if usecase.IsCommand(req.Text) {
		prompt := usecase.ExtractPrompt(req.Text)
		requester := req.SenderID
		go func() {
			// Detached from the request context: navigating away must not
			// cancel the completion, the reply lands either way.
			if _, err := h.assistant.Dispatch(context.Background(), requester, m.ConversationKey, prompt); err != nil {
				h.log.Error("assistant dispatch failed", "key", m.ConversationKey, "err", err)
			}
		}()
	}

	h.writeJSON(w, http.StatusCreated, h.wireJSON(m))
}

// DeleteMessage handles DELETE /messages/{id}. Deleting an absent id is
// not an error.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.engine.Delete(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}
