package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"aura-chat/internal/domain"
)

// Summary is the derived per-conversation listing entry. It is recomputed
// from the store and the directory on every call, never stored.
type Summary struct {
	ConversationKey domain.ConversationKey
	Other           domain.Participant
	LastMessage     domain.Message
}

// SearchResult partitions sidebar search output: conversations to continue
// and directory matches to start fresh with. A participant never appears in
// both groups.
type SearchResult struct {
	Existing []Summary
	Fresh    []domain.Participant
}

// Index derives the set of known conversations for listing and search.
type Index struct {
	store     *Store
	directory DirectoryService
	log       *slog.Logger
}

func NewIndex(store *Store, directory DirectoryService, log *slog.Logger) (*Index, error) {
	if store == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if directory == nil {
		return nil, errors.New("usecase: directory service must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Index{store: store, directory: directory, log: log}, nil
}

// ListConversations returns the participant's conversations most-recent
// first. A conversation whose other side cannot be resolved in the
// directory is excluded rather than failing the whole listing.
func (ix *Index) ListConversations(ctx context.Context, participant string) ([]Summary, error) {
	if participant == "" {
		return nil, newError(ErrorInvalidIdentifier, "empty_participant", domain.ErrInvalidIdentifier)
	}
	summaries := make([]Summary, 0, 8)
	for _, key := range ix.store.ConversationKeys(participant) {
		otherID, ok := key.Other(participant)
		if !ok {
			continue
		}
		other, found, err := ix.directory.GetParticipant(ctx, otherID)
		if err != nil {
			return nil, newError(ErrorInternal, "directory_lookup", err)
		}
		if !found {
			ix.log.Warn("excluding conversation with unresolved participant", "key", key, "participant", otherID)
			continue
		}
		last, hasLast := ix.store.LastMessage(key)
		if !hasLast {
			continue
		}
		summaries = append(summaries, Summary{
			ConversationKey: key,
			Other:           other,
			LastMessage:     last,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[j].LastMessage.Before(summaries[i].LastMessage)
	})
	return summaries, nil
}

// Search filters existing conversations by the query and additionally
// returns directory members matching the query that the participant has no
// conversation with yet, so the caller can render "continue chatting" and
// "start new chat" groups without overlap.
func (ix *Index) Search(ctx context.Context, participant, query string) (SearchResult, error) {
	existing, err := ix.ListConversations(ctx, participant)
	if err != nil {
		return SearchResult{}, err
	}

	matched := existing[:0]
	known := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		known[s.Other.ID] = struct{}{}
		if matchesQuery(s.Other, query) {
			matched = append(matched, s)
		}
	}

	result := SearchResult{Existing: matched}
	if strings.TrimSpace(query) == "" {
		return result, nil
	}

	all, err := ix.directory.ListParticipants(ctx)
	if err != nil {
		return SearchResult{}, newError(ErrorInternal, "directory_list", err)
	}
	for _, p := range all {
		if p.ID == participant {
			continue
		}
		if _, hasConversation := known[p.ID]; hasConversation {
			continue
		}
		if matchesQuery(p, query) {
			result.Fresh = append(result.Fresh, p)
		}
	}
	return result, nil
}

// matchesQuery is case-insensitive over display name and @handle. An empty
// query matches everything.
func matchesQuery(p domain.Participant, query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(p.DisplayName), query) {
		return true
	}
	return strings.Contains(strings.ToLower("@"+p.Handle), query)
}
