package usecase

import (
	"sort"
	"sync"

	"aura-chat/internal/domain"
)

// Store is the append-only, deduplicated collection of every message the
// local participant can see, across all conversations. It is owned
// exclusively by the reconciliation engine; nothing else mutates it.
//
// The mutex is held across the check-and-insert of Upsert, which makes the
// at-most-once semantics atomic: a duplicate delivery can never overwrite or
// double-insert regardless of which goroutine carries it.
type Store struct {
	mu       sync.RWMutex
	messages map[string]domain.Message
}

func NewStore() *Store {
	return &Store{messages: make(map[string]domain.Message)}
}

// Upsert inserts the message if its id is unseen and reports whether an
// insert happened. A duplicate id is a no-op, not an overwrite: the first
// writer wins, so a push echo of an optimistic send cannot reset state.
func (s *Store) Upsert(m domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.messages[m.ID]; seen {
		return false
	}
	s.messages[m.ID] = m
	return true
}

// Remove deletes a message by id. Removing an absent id is not an error.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
}

// Get returns a message by id.
func (s *Store) Get(id string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok
}

// Len returns the number of stored messages across all conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// ListByConversation returns the conversation's messages sorted by
// (createdAt, id). The order is a pure function of the stored set, so any
// permutation of upsert calls yields the same sequence.
func (s *Store) ListByConversation(key domain.ConversationKey) []domain.Message {
	s.mu.RLock()
	out := make([]domain.Message, 0, 16)
	for _, m := range s.messages {
		if m.ConversationKey == key {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ConversationKeys returns the distinct keys of every stored conversation
// that involves the participant.
func (s *Store) ConversationKeys(participant string) []domain.ConversationKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[domain.ConversationKey]struct{})
	keys := make([]domain.ConversationKey, 0, 8)
	for _, m := range s.messages {
		if _, dup := seen[m.ConversationKey]; dup {
			continue
		}
		if m.ConversationKey.Involves(participant) {
			seen[m.ConversationKey] = struct{}{}
			keys = append(keys, m.ConversationKey)
		}
	}
	return keys
}

// LastMessage returns the conversation's most recent message by
// (createdAt, id).
func (s *Store) LastMessage(key domain.ConversationKey) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last domain.Message
	found := false
	for _, m := range s.messages {
		if m.ConversationKey != key {
			continue
		}
		if !found || last.Before(m) {
			last = m
			found = true
		}
	}
	return last, found
}
