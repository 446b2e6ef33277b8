package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"aura-chat/internal/domain"
)

// inviteText is the body of a session-control message as shown in the
// timeline alongside the payload.
const inviteText = "Let's watch a video together! \U0001F37F"

// Session is the ephemeral, local-only co-viewing state. It is never
// persisted: any session-control message in history is a permanent
// join-point it can be reconstructed from.
type Session struct {
	MediaSource      string
	SourceKind       domain.SourceKind
	SessionStartedAt int64
	JoinedAt         int64
}

// viewerKey scopes session state to one participant's view of one
// conversation. The two sides of a conversation hold independent sessions.
type viewerKey struct {
	participant  string
	conversation domain.ConversationKey
}

// CoView manages the per-viewer co-viewing state machine
// (Idle -> Active -> Idle). There is no distributed playback authority:
// the only shared fact is the session start timestamp carried by the
// control message, and each viewer derives its position from elapsed
// wall-clock time. Leaving is purely local and does not notify the peer.
type CoView struct {
	engine *Engine
	log    *slog.Logger

	mu     sync.Mutex
	active map[viewerKey]Session
}

func NewCoView(engine *Engine, log *slog.Logger) (*CoView, error) {
	if engine == nil {
		return nil, errors.New("usecase: engine must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &CoView{
		engine: engine,
		log:    log,
		active: make(map[viewerKey]Session),
	}, nil
}

// StartSession creates the session-control message, submits it through the
// reconciliation engine and activates the local session. Every participant,
// the initiator included, receives the same message via the push channel.
func (cv *CoView) StartSession(ctx context.Context, senderID, recipientID, mediaSource string, kind domain.SourceKind) (domain.Message, error) {
	if mediaSource == "" {
		return domain.Message{}, newError(ErrorInvalidInput, "empty_media_source", nil)
	}
	switch kind {
	case domain.SourceYouTube, domain.SourceFile:
	default:
		return domain.Message{}, newError(ErrorInvalidInput, "unknown_source_kind", fmt.Errorf("source kind %q", kind))
	}
	key, err := domain.DeriveKey(senderID, recipientID)
	if err != nil {
		return domain.Message{}, newError(ErrorInvalidIdentifier, "derive_key", err)
	}

	startedAt := nowMillis()
	m := domain.Message{
		ID:              newMessageID(),
		ConversationKey: key,
		SenderID:        senderID,
		Text:            inviteText,
		CreatedAt:       startedAt,
		SessionControl: &domain.SessionControl{
			MediaSource:      mediaSource,
			SourceKind:       kind,
			SessionStartedAt: startedAt,
		},
	}
	if err := cv.engine.SubmitControl(ctx, m); err != nil {
		return domain.Message{}, err
	}

	cv.mu.Lock()
	cv.active[viewerKey{senderID, key}] = Session{
		MediaSource:      mediaSource,
		SourceKind:       kind,
		SessionStartedAt: startedAt,
		JoinedAt:         startedAt,
	}
	cv.mu.Unlock()
	return m, nil
}

// JoinSession activates the participant's view of the session described by
// any session-control message, historical or freshly received. The peer's
// session state is untouched.
func (cv *CoView) JoinSession(participant string, m domain.Message) (Session, error) {
	if !m.IsSessionControl() {
		return Session{}, newError(ErrorInvalidInput, "not_session_control", nil)
	}
	if !m.ConversationKey.Involves(participant) {
		return Session{}, newError(ErrorInvalidInput, "not_a_participant", nil)
	}
	s := Session{
		MediaSource:      m.SessionControl.MediaSource,
		SourceKind:       m.SessionControl.SourceKind,
		SessionStartedAt: m.SessionControl.SessionStartedAt,
		JoinedAt:         nowMillis(),
	}
	cv.mu.Lock()
	cv.active[viewerKey{participant, m.ConversationKey}] = s
	cv.mu.Unlock()
	return s, nil
}

// ActiveSession returns the participant's session for a conversation, if
// any.
func (cv *CoView) ActiveSession(participant string, key domain.ConversationKey) (Session, bool) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	s, ok := cv.active[viewerKey{participant, key}]
	return s, ok
}

// LeaveSession returns the participant's view to Idle, discarding local
// playback state. The peer's session and the originating message stay
// untouched.
func (cv *CoView) LeaveSession(participant string, key domain.ConversationKey) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	delete(cv.active, viewerKey{participant, key})
}

// PlaybackOffset is the elapsed-time position: now minus the shared start
// timestamp, clamped to zero. A late joiner always resumes mid-stream;
// there is no pause or seek protocol.
func PlaybackOffset(s Session, now int64) time.Duration {
	elapsed := now - s.SessionStartedAt
	if elapsed < 0 {
		elapsed = 0
	}
	return time.Duration(elapsed) * time.Millisecond
}

var youtubeIDPattern = regexp.MustCompile(`^.*(?:youtu\.be/|v/|/u/\w/|embed/|watch\?)\??v?=?([^#&?]*).*`)

// ParseYouTubeID extracts the 11-character video id from the common
// YouTube URL shapes.
func ParseYouTubeID(source string) (string, bool) {
	m := youtubeIDPattern.FindStringSubmatch(source)
	if m == nil || len(m[1]) != 11 {
		return "", false
	}
	return m[1], true
}

// PlayableRef resolves the session's media source into what the viewer
// should load right now. YouTube sources become an embed URL seeked to the
// elapsed offset; an unparseable link falls back to the raw source string
// rather than failing the session.
func PlayableRef(s Session, now int64) string {
	if s.SourceKind != domain.SourceYouTube {
		return s.MediaSource
	}
	id, ok := ParseYouTubeID(s.MediaSource)
	if !ok {
		return s.MediaSource
	}
	elapsed := int64(PlaybackOffset(s, now) / time.Second)
	return fmt.Sprintf("https://www.youtube-nocookie.com/embed/%s?autoplay=1&mute=1&playsinline=1&rel=0&modestbranding=1&start=%d", id, elapsed)
}
