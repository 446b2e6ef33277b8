package domain

import (
	"errors"
	"fmt"
	"strings"
)

// AssistantSenderID is the reserved sentinel sender for assistant-authored
// messages. It never appears in the participant directory.
const AssistantSenderID = "aura-ai"

// SourceKind classifies the media source of a co-viewing session.
type SourceKind string

const (
	SourceYouTube SourceKind = "youtube"
	SourceFile    SourceKind = "file"
)

// SessionControl is the tagged payload carried only by co-viewing control
// messages. SessionStartedAt is epoch milliseconds; a late joiner derives
// its playback position from elapsed wall-clock time against it.
type SessionControl struct {
	MediaSource      string
	SourceKind       SourceKind
	SessionStartedAt int64
}

// Message is one timeline entry of a two-party conversation. Messages are
// immutable once created; deletion is removal of the record, not mutation.
// ID is assigned by the creator and is the sole deduplication key: two
// messages with the same ID are the same logical message regardless of which
// channel delivered them.
type Message struct {
	ID              string
	ConversationKey ConversationKey
	SenderID        string
	Text            string
	CreatedAt       int64 // epoch milliseconds
	SessionControl  *SessionControl
}

// IsAssistant reports whether the message was authored by the assistant.
func (m Message) IsAssistant() bool {
	return m.SenderID == AssistantSenderID
}

// IsSessionControl reports whether the message carries a co-viewing payload.
func (m Message) IsSessionControl() bool {
	return m.SessionControl != nil
}

// Before defines the total order of a conversation timeline: ascending
// CreatedAt with ID as the tie-break. The order is a pure function of the
// stored messages and never depends on arrival order.
func (m Message) Before(other Message) bool {
	if m.CreatedAt != other.CreatedAt {
		return m.CreatedAt < other.CreatedAt
	}
	return m.ID < other.ID
}

// Validate checks the invariants every message must satisfy before it may
// enter the store, including the session-control tagged variant.
func (m Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("domain: message id must not be empty")
	}
	if _, _, err := m.ConversationKey.Participants(); err != nil {
		return err
	}
	if m.SenderID == "" {
		return errors.New("domain: message sender must not be empty")
	}
	if sc := m.SessionControl; sc != nil {
		if sc.MediaSource == "" {
			return errors.New("domain: session control media source must not be empty")
		}
		switch sc.SourceKind {
		case SourceYouTube, SourceFile:
		default:
			return fmt.Errorf("domain: unknown session source kind %q", sc.SourceKind)
		}
		if sc.SessionStartedAt <= 0 {
			return errors.New("domain: session control start time must be positive")
		}
	}
	return nil
}
