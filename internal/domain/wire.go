package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// sessionControlKind is the tag value of a co-viewing payload on the wire.
const sessionControlKind = "co_view_invite"

// isoMillis matches the original producer's timestamp rendering: UTC with
// millisecond precision and a literal Z suffix.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// wireMessage is the JSON shape crossing the realtime boundary. senderId is
// null for assistant-authored messages; createdAt is ISO 8601.
type wireMessage struct {
	ID              string              `json:"id"`
	ConversationKey string              `json:"conversationKey"`
	SenderID        *string             `json:"senderId"`
	Text            string              `json:"text"`
	CreatedAt       string              `json:"createdAt"`
	SessionControl  *wireSessionControl `json:"sessionControl,omitempty"`
}

type wireSessionControl struct {
	Kind             string `json:"kind"`
	MediaSource      string `json:"mediaSource"`
	SourceKind       string `json:"sourceKind"`
	SessionStartedAt int64  `json:"sessionStartedAtEpochMs"`
}

// EncodeWire renders a message in the interop wire shape.
func EncodeWire(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	w := wireMessage{
		ID:              m.ID,
		ConversationKey: string(m.ConversationKey),
		Text:            m.Text,
		CreatedAt:       time.UnixMilli(m.CreatedAt).UTC().Format(isoMillis),
	}
	if !m.IsAssistant() {
		sender := m.SenderID
		w.SenderID = &sender
	}
	if sc := m.SessionControl; sc != nil {
		w.SessionControl = &wireSessionControl{
			Kind:             sessionControlKind,
			MediaSource:      sc.MediaSource,
			SourceKind:       string(sc.SourceKind),
			SessionStartedAt: sc.SessionStartedAt,
		}
	}
	return json.Marshal(w)
}

// DecodeWire parses and validates a wire payload. Unknown session-control
// kinds are rejected at this boundary so downstream consumers only ever see
// the explicit tagged variant.
func DecodeWire(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("domain: decode wire message: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, w.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("domain: decode wire createdAt: %w", err)
	}
	m := Message{
		ID:              w.ID,
		ConversationKey: ConversationKey(w.ConversationKey),
		SenderID:        AssistantSenderID,
		Text:            w.Text,
		CreatedAt:       ts.UnixMilli(),
	}
	if w.SenderID != nil {
		m.SenderID = *w.SenderID
	}
	if w.SessionControl != nil {
		if w.SessionControl.Kind != sessionControlKind {
			return Message{}, fmt.Errorf("domain: unknown session control kind %q", w.SessionControl.Kind)
		}
		m.SessionControl = &SessionControl{
			MediaSource:      w.SessionControl.MediaSource,
			SourceKind:       SourceKind(w.SessionControl.SourceKind),
			SessionStartedAt: w.SessionControl.SessionStartedAt,
		}
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
