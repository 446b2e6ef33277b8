package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aura-chat/internal/domain"
)

// DirectoryService resolves participant records.
type DirectoryService interface {
	ListParticipants(ctx context.Context) ([]domain.Participant, error)
	GetParticipant(ctx context.Context, id string) (domain.Participant, bool, error)
}

// PersistenceService is the external message store. Delivery of its writes
// back to connected clients happens through the RealtimeFeed, not here.
type PersistenceService interface {
	LoadConversation(ctx context.Context, key domain.ConversationKey) ([]domain.Message, error)
	LoadForParticipant(ctx context.Context, participant string) ([]domain.Message, error)
	AppendMessage(ctx context.Context, m domain.Message) error
	DeleteMessage(ctx context.Context, id string) error
}

// RealtimeFeed delivers newly persisted messages to connected clients.
// The returned handle scopes the subscription: after Close returns, no
// further onInsert callbacks fire.
type RealtimeFeed interface {
	Publish(ctx context.Context, m domain.Message) error
	Subscribe(participant string, onInsert func(domain.Message)) (io.Closer, error)
}

// Overridable for deterministic tests.
var (
	newMessageID = func() string { return uuid.NewString() }
	nowMillis    = func() int64 { return time.Now().UnixMilli() }
)

// Engine merges the three message inflows (bulk load, optimistic local
// send and live push) into the Store under at-most-once insertion
// semantics. Every message, whatever its origin, passes through Upsert;
// the id-keyed no-overwrite rule is the sole deduplication mechanism.
type Engine struct {
	store       *Store
	persistence PersistenceService
	feed        RealtimeFeed
	log         *slog.Logger

	listenerMu sync.Mutex
	listeners  []func(domain.Message)
}

func NewEngine(store *Store, persistence PersistenceService, feed RealtimeFeed, log *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if persistence == nil {
		return nil, errors.New("usecase: persistence service must not be nil")
	}
	if feed == nil {
		return nil, errors.New("usecase: realtime feed must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, persistence: persistence, feed: feed, log: log}, nil
}

// Store exposes the read side of the engine-owned store.
func (e *Engine) Store() *Store {
	return e.store
}

// AddListener registers a callback invoked for every message that is
// genuinely inserted, regardless of which inflow carried it.
func (e *Engine) AddListener(fn func(domain.Message)) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) notify(m domain.Message) {
	e.listenerMu.Lock()
	listeners := make([]func(domain.Message), len(e.listeners))
	copy(listeners, e.listeners)
	e.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(m)
	}
}

// upsert is the single funnel every inflow goes through.
func (e *Engine) upsert(m domain.Message) bool {
	if err := m.Validate(); err != nil {
		e.log.Warn("dropping invalid message", "id", m.ID, "err", err)
		return false
	}
	inserted := e.store.Upsert(m)
	if inserted {
		e.notify(m)
	}
	return inserted
}

// Send performs an optimistic local append: the message is visible in the
// store before the external append is attempted. On persistence failure the
// optimistic copy is kept and the failure logged; the user is not punished
// for transient connectivity mid-conversation.
func (e *Engine) Send(ctx context.Context, senderID, recipientID, text string) (domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Message{}, newError(ErrorInvalidInput, "empty_text", nil)
	}
	key, err := domain.DeriveKey(senderID, recipientID)
	if err != nil {
		return domain.Message{}, newError(ErrorInvalidIdentifier, "derive_key", err)
	}
	m := domain.Message{
		ID:              newMessageID(),
		ConversationKey: key,
		SenderID:        senderID,
		Text:            text,
		CreatedAt:       nowMillis(),
	}
	e.submit(ctx, m)
	return m, nil
}

// SubmitControl reconciles a pre-built message (e.g. a session-control
// message or an assistant reply) through the same optimistic path as Send.
func (e *Engine) SubmitControl(ctx context.Context, m domain.Message) error {
	if err := m.Validate(); err != nil {
		return newError(ErrorInvalidInput, "invalid_message", err)
	}
	e.submit(ctx, m)
	return nil
}

func (e *Engine) submit(ctx context.Context, m domain.Message) {
	e.upsert(m)
	if err := e.persistence.AppendMessage(ctx, m); err != nil {
		// Optimistic copy stays visible; not rolled back.
		e.log.Error("append failed, keeping optimistic message", "id", m.ID, "err", err)
		return
	}
	if err := e.feed.Publish(ctx, m); err != nil {
		// The echo back to this client is absorbed by dedup anyway; the
		// peer recovers the message on its next bulk load.
		e.log.Error("publish failed", "id", m.ID, "err", err)
	}
}

// LoadHistory bulk-loads every conversation involving the participant.
// Upsert order within the batch is irrelevant: the store re-sorts on read.
func (e *Engine) LoadHistory(ctx context.Context, participant string) error {
	msgs, err := e.persistence.LoadForParticipant(ctx, participant)
	if err != nil {
		return newError(ErrorPersistence, "load_history", err)
	}
	for _, m := range msgs {
		e.upsert(m)
	}
	return nil
}

// LoadConversation bulk-loads a single conversation.
func (e *Engine) LoadConversation(ctx context.Context, key domain.ConversationKey) error {
	msgs, err := e.persistence.LoadConversation(ctx, key)
	if err != nil {
		return newError(ErrorPersistence, "load_conversation", err)
	}
	for _, m := range msgs {
		e.upsert(m)
	}
	return nil
}

// HandlePush reconciles one live feed delivery. A duplicate of an already
// optimistic send is silently absorbed; that is the round-trip contract.
func (e *Engine) HandlePush(m domain.Message) {
	e.upsert(m)
}

// Subscribe attaches the engine to the live feed for every conversation
// involving the participant. The returned handle must be closed when the
// scope changes or the consumer disconnects.
func (e *Engine) Subscribe(participant string) (io.Closer, error) {
	sub, err := e.feed.Subscribe(participant, e.HandlePush)
	if err != nil {
		return nil, newError(ErrorInternal, "feed_subscribe", err)
	}
	return sub, nil
}

// Timeline returns the ordered, deduplicated message sequence between two
// participants. The key is always derived, never concatenated ad hoc.
func (e *Engine) Timeline(a, b string) ([]domain.Message, error) {
	key, err := domain.DeriveKey(a, b)
	if err != nil {
		return nil, newError(ErrorInvalidIdentifier, "derive_key", err)
	}
	return e.store.ListByConversation(key), nil
}

// Delete removes a message locally and from the external store. The local
// removal is not rolled back on backend failure; per-message delete follows
// the same optimistic policy as append.
func (e *Engine) Delete(ctx context.Context, id string) {
	e.store.Remove(id)
	if err := e.persistence.DeleteMessage(ctx, id); err != nil {
		e.log.Error("backend delete failed", "id", id, "err", err)
	}
}

// DeleteConversation removes every message of one conversation. The
// conversation is bulk-loaded first so messages persisted but never seen
// by this process are tombstoned too.
func (e *Engine) DeleteConversation(ctx context.Context, key domain.ConversationKey) {
	if err := e.LoadConversation(ctx, key); err != nil {
		e.log.Error("load before conversation delete failed", "key", key, "err", err)
	}
	for _, m := range e.store.ListByConversation(key) {
		e.Delete(ctx, m.ID)
	}
}
