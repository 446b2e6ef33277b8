package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"aura-chat/internal/domain"
)

type fakeCompletions struct {
	reply   string
	err     error
	prompts []string
	during  func()
}

func (f *fakeCompletions) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.during != nil {
		f.during()
	}
	return f.reply, f.err
}

func newTestAssistant(t *testing.T, c *fakeCompletions) (*Assistant, *Engine) {
	t.Helper()
	e, _, _ := newTestEngine(t)
	a, err := NewAssistant(e, c, nil)
	require.NoError(t, err)
	return a, e
}

func TestIsCommand(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"@aura what's the weather", true},
		{"  @AURA hello", true},
		{"@Aura", true},
		{"hello @aura", false},
		{"@aur", false},
		{"", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, IsCommand(tc.text), "text %q", tc.text)
	}
}

func TestExtractPrompt(t *testing.T) {
	require.Equal(t, "tell me a joke", ExtractPrompt("  @aura   tell me a joke  "))
	require.Equal(t, "", ExtractPrompt("@aura"))
	require.Equal(t, "", ExtractPrompt("not a command"))
}

func TestDispatch_OneReplyPerCommand(t *testing.T) {
	stubIdentity(t, []string{"r-1"}, 5000)
	key := domain.ConversationKey("u-alice::u-bob")
	c := &fakeCompletions{reply: "Here's a thought."}
	a, e := newTestAssistant(t, c)

	reply, err := a.Dispatch(context.Background(), "u-alice", key, "tell me something")
	require.NoError(t, err)
	require.Equal(t, []string{"tell me something"}, c.prompts)
	require.Equal(t, domain.AssistantSenderID, reply.SenderID)
	require.Equal(t, "Here's a thought.", reply.Text)
	require.True(t, reply.IsAssistant())

	timeline, err := e.Timeline("u-alice", "u-bob")
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	require.Equal(t, "r-1", timeline[0].ID)
}

func TestDispatch_FailureYieldsFallback(t *testing.T) {
	stubIdentity(t, []string{"r-1"}, 5000)
	key := domain.ConversationKey("u-alice::u-bob")
	a, e := newTestAssistant(t, &fakeCompletions{err: errors.New("upstream 500")})

	reply, err := a.Dispatch(context.Background(), "u-alice", key, "hello")
	require.NoError(t, err)
	require.Equal(t, fallbackUnavailable, reply.Text)
	require.Equal(t, 1, e.Store().Len())
}

func TestDispatch_EmptyCompletionYieldsFallback(t *testing.T) {
	stubIdentity(t, []string{"r-1"}, 5000)
	key := domain.ConversationKey("u-alice::u-bob")
	a, _ := newTestAssistant(t, &fakeCompletions{reply: "   "})

	reply, err := a.Dispatch(context.Background(), "u-alice", key, "hello")
	require.NoError(t, err)
	require.Equal(t, fallbackEmptyReply, reply.Text)
}

func TestDispatch_EmptyPrompt(t *testing.T) {
	a, _ := newTestAssistant(t, &fakeCompletions{})
	_, err := a.Dispatch(context.Background(), "u-alice", "u-alice::u-bob", "  ")

	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInvalidInput, ucErr.Code)
}

func TestComposing_SetDuringDispatchAndCleared(t *testing.T) {
	stubIdentity(t, []string{"r-1"}, 5000)
	key := domain.ConversationKey("u-alice::u-bob")
	c := &fakeCompletions{reply: "ok"}
	a, _ := newTestAssistant(t, c)
	c.during = func() {
		require.True(t, a.Composing("u-alice", key))
	}

	require.False(t, a.Composing("u-alice", key))
	_, err := a.Dispatch(context.Background(), "u-alice", key, "hello")
	require.NoError(t, err)
	require.False(t, a.Composing("u-alice", key))
}

func TestComposing_LocalToRequester(t *testing.T) {
	stubIdentity(t, []string{"r-1"}, 5000)
	key := domain.ConversationKey("u-alice::u-bob")
	c := &fakeCompletions{reply: "ok"}
	a, _ := newTestAssistant(t, c)
	c.during = func() {
		// The peer polling the same conversation must not see the
		// requester's indicator.
		require.True(t, a.Composing("u-alice", key))
		require.False(t, a.Composing("u-bob", key))
	}

	_, err := a.Dispatch(context.Background(), "u-alice", key, "hello")
	require.NoError(t, err)
}

func TestDispatch_OutsiderRejected(t *testing.T) {
	a, _ := newTestAssistant(t, &fakeCompletions{})
	_, err := a.Dispatch(context.Background(), "u-mallory", "u-alice::u-bob", "hello")

	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInvalidInput, ucErr.Code)
}

func TestClearComposing_ReplyStillReconciled(t *testing.T) {
	stubIdentity(t, []string{"r-1"}, 5000)
	key := domain.ConversationKey("u-alice::u-bob")
	c := &fakeCompletions{reply: "still here"}
	a, e := newTestAssistant(t, c)
	c.during = func() {
		// Viewer navigates away mid-completion.
		a.ClearComposing("u-alice", key)
		require.False(t, a.Composing("u-alice", key))
	}

	reply, err := a.Dispatch(context.Background(), "u-alice", key, "hello")
	require.NoError(t, err)

	_, ok := e.Store().Get(reply.ID)
	require.True(t, ok)
	require.False(t, a.Composing("u-alice", key))
}
