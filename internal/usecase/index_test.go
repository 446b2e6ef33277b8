package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"aura-chat/internal/domain"
)

func directoryWith(ids ...string) *fakeDirectory {
	d := &fakeDirectory{}
	for _, id := range ids {
		d.participants = append(d.participants, domain.Participant{
			ID:          id,
			Handle:      id[len("u-"):],
			DisplayName: strTitle(id[len("u-"):]),
		})
	}
	return d
}

func strTitle(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func newTestIndex(t *testing.T, d *fakeDirectory) (*Index, *Store) {
	t.Helper()
	s := NewStore()
	ix, err := NewIndex(s, d, nil)
	require.NoError(t, err)
	return ix, s
}

func TestListConversations_MostRecentFirst(t *testing.T) {
	ix, s := newTestIndex(t, directoryWith("u-alice", "u-bob", "u-carol"))
	s.Upsert(msg("m-1", "u-alice::u-bob", "u-bob", 1000))
	s.Upsert(msg("m-2", "u-alice::u-carol", "u-carol", 2000))
	s.Upsert(msg("m-3", "u-alice::u-bob", "u-alice", 3000))

	got, err := ix.ListConversations(context.Background(), "u-alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "u-bob", got[0].Other.ID)
	require.Equal(t, "m-3", got[0].LastMessage.ID)
	require.Equal(t, "u-carol", got[1].Other.ID)
}

func TestListConversations_UnresolvedParticipantExcluded(t *testing.T) {
	// u-ghost is in the store but not the directory.
	ix, s := newTestIndex(t, directoryWith("u-alice", "u-bob"))
	s.Upsert(msg("m-1", "u-alice::u-bob", "u-bob", 1000))
	s.Upsert(msg("m-2", "u-alice::u-ghost", "u-ghost", 2000))

	got, err := ix.ListConversations(context.Background(), "u-alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "u-bob", got[0].Other.ID)
}

func TestListConversations_EmptyParticipant(t *testing.T) {
	ix, _ := newTestIndex(t, directoryWith("u-alice"))
	_, err := ix.ListConversations(context.Background(), "")

	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInvalidIdentifier, ucErr.Code)
}

func TestSearch_PartitionsWithoutOverlap(t *testing.T) {
	ix, s := newTestIndex(t, directoryWith("u-alice", "u-bob", "u-bonnie"))
	s.Upsert(msg("m-1", "u-alice::u-bob", "u-bob", 1000))

	got, err := ix.Search(context.Background(), "u-alice", "bo")
	require.NoError(t, err)

	// u-bob matches but has a conversation, so it stays under Existing only.
	require.Len(t, got.Existing, 1)
	require.Equal(t, "u-bob", got.Existing[0].Other.ID)
	require.Len(t, got.Fresh, 1)
	require.Equal(t, "u-bonnie", got.Fresh[0].ID)
}

func TestSearch_ExcludesSelf(t *testing.T) {
	ix, _ := newTestIndex(t, directoryWith("u-alice", "u-alicia"))

	got, err := ix.Search(context.Background(), "u-alice", "ali")
	require.NoError(t, err)
	require.Empty(t, got.Existing)
	require.Len(t, got.Fresh, 1)
	require.Equal(t, "u-alicia", got.Fresh[0].ID)
}

func TestSearch_EmptyQueryListsOnly(t *testing.T) {
	ix, s := newTestIndex(t, directoryWith("u-alice", "u-bob", "u-carol"))
	s.Upsert(msg("m-1", "u-alice::u-bob", "u-bob", 1000))

	got, err := ix.Search(context.Background(), "u-alice", "  ")
	require.NoError(t, err)
	require.Len(t, got.Existing, 1)
	require.Empty(t, got.Fresh)
}

func TestSearch_MatchesHandleWithAt(t *testing.T) {
	ix, _ := newTestIndex(t, directoryWith("u-alice", "u-bob"))

	got, err := ix.Search(context.Background(), "u-alice", "@bo")
	require.NoError(t, err)
	require.Len(t, got.Fresh, 1)
	require.Equal(t, "u-bob", got.Fresh[0].ID)
}
