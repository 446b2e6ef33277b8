package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// KeySeparator joins the two sorted participant ids of a conversation key.
// It is reserved: no participant identifier may contain it.
const KeySeparator = "::"

// ErrInvalidIdentifier reports a participant identifier that is empty or
// contains the reserved separator.
var ErrInvalidIdentifier = errors.New("domain: invalid participant identifier")

// ConversationKey identifies a two-party conversation. It is derived, never
// stored as its own entity: it is the partition key messages are grouped by.
type ConversationKey string

// DeriveKey returns the canonical key for a conversation between a and b.
// The result is independent of argument order: both ids are sorted
// lexicographically before joining, so DeriveKey(a, b) == DeriveKey(b, a).
// Every conversation-scoped lookup must go through this function; ad hoc
// concatenation of the two ids splits one conversation into two.
func DeriveKey(a, b string) (ConversationKey, error) {
	if err := validateIdentifier(a); err != nil {
		return "", err
	}
	if err := validateIdentifier(b); err != nil {
		return "", err
	}
	pair := []string{a, b}
	sort.Strings(pair)
	return ConversationKey(pair[0] + KeySeparator + pair[1]), nil
}

// Participants splits a key back into its two participant ids.
func (k ConversationKey) Participants() (string, string, error) {
	parts := strings.SplitN(string(k), KeySeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("domain: malformed conversation key %q", string(k))
	}
	return parts[0], parts[1], nil
}

// Other returns the participant on the opposite side of the key from self,
// or false if self is not a member of the conversation.
func (k ConversationKey) Other(self string) (string, bool) {
	a, b, err := k.Participants()
	if err != nil {
		return "", false
	}
	switch self {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// Involves reports whether the participant is one of the key's two sides.
func (k ConversationKey) Involves(participant string) bool {
	_, ok := k.Other(participant)
	return ok
}

func validateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if strings.Contains(id, KeySeparator) {
		return fmt.Errorf("%w: %q contains reserved separator", ErrInvalidIdentifier, id)
	}
	return nil
}
