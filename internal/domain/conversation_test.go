package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKey_OrderIndependent(t *testing.T) {
	k1, err := DeriveKey("u-bob", "u-alice")
	require.NoError(t, err)
	k2, err := DeriveKey("u-alice", "u-bob")
	require.NoError(t, err)
	require.Equal(t, k1, k2)
	require.Equal(t, ConversationKey("u-alice::u-bob"), k1)
}

func TestDeriveKey_DistinctPairsDistinctKeys(t *testing.T) {
	k1, err := DeriveKey("u-alice", "u-bob")
	require.NoError(t, err)
	k2, err := DeriveKey("u-alice", "u-carol")
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)
}

func TestDeriveKey_SelfConversation(t *testing.T) {
	k, err := DeriveKey("u-alice", "u-alice")
	require.NoError(t, err)
	require.Equal(t, ConversationKey("u-alice::u-alice"), k)
}

func TestDeriveKey_InvalidIdentifiers(t *testing.T) {
	cases := []struct {
		name string
		a, b string
	}{
		{"empty left", "", "u-bob"},
		{"empty right", "u-alice", ""},
		{"separator in id", "u::alice", "u-bob"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DeriveKey(tc.a, tc.b)
			require.ErrorIs(t, err, ErrInvalidIdentifier)
		})
	}
}

func TestParticipants_RoundTrip(t *testing.T) {
	k, err := DeriveKey("u-bob", "u-alice")
	require.NoError(t, err)
	a, b, err := k.Participants()
	require.NoError(t, err)
	require.Equal(t, "u-alice", a)
	require.Equal(t, "u-bob", b)
}

func TestParticipants_Malformed(t *testing.T) {
	_, _, err := ConversationKey("no-separator").Participants()
	require.Error(t, err)
}

func TestOther(t *testing.T) {
	k := ConversationKey("u-alice::u-bob")

	other, ok := k.Other("u-alice")
	require.True(t, ok)
	require.Equal(t, "u-bob", other)

	other, ok = k.Other("u-bob")
	require.True(t, ok)
	require.Equal(t, "u-alice", other)

	_, ok = k.Other("u-carol")
	require.False(t, ok)
}

func TestInvolves(t *testing.T) {
	k := ConversationKey("u-alice::u-bob")
	require.True(t, k.Involves("u-alice"))
	require.True(t, k.Involves("u-bob"))
	require.False(t, k.Involves("aura-ai"))
}
