package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"aura-chat/internal/domain"
)

// commandPrefix triggers the assistant when a sent message starts with it.
const commandPrefix = "@aura"

const (
	fallbackUnavailable = "The stars are a bit cloudy tonight. I can't connect right now."
	fallbackEmptyReply  = "I'm sorry, I couldn't think of anything to say right now."
)

// CompletionService produces one assistant reply for a prompt.
type CompletionService interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Assistant detects command-prefixed messages and reconciles exactly one
// assistant-authored reply per command into the same timeline as any other
// message. The composing indicator is scoped to the participant who issued
// the command and never distributed to the peer.
type Assistant struct {
	engine      *Engine
	completions CompletionService
	log         *slog.Logger

	mu        sync.Mutex
	composing map[viewerKey]int
}

func NewAssistant(engine *Engine, completions CompletionService, log *slog.Logger) (*Assistant, error) {
	if engine == nil {
		return nil, errors.New("usecase: engine must not be nil")
	}
	if completions == nil {
		return nil, errors.New("usecase: completion service must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Assistant{
		engine:      engine,
		completions: completions,
		log:         log,
		composing:   make(map[viewerKey]int),
	}, nil
}

// IsCommand reports whether the trimmed, case-insensitive text begins with
// the command prefix.
func IsCommand(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < len(commandPrefix) {
		return false
	}
	return strings.EqualFold(trimmed[:len(commandPrefix)], commandPrefix)
}

// ExtractPrompt returns the command text after the prefix.
func ExtractPrompt(text string) string {
	trimmed := strings.TrimSpace(text)
	if !IsCommand(trimmed) {
		return ""
	}
	return strings.TrimSpace(trimmed[len(commandPrefix):])
}

// Composing reports whether an assistant reply is pending for the
// participant's view of the conversation.
func (a *Assistant) Composing(participant string, key domain.ConversationKey) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.composing[viewerKey{participant, key}] > 0
}

// ClearComposing drops the indicator, e.g. when the viewer navigates away.
// Any in-flight completion still finishes and its reply is still
// reconciled; it simply appears when the conversation is reopened.
func (a *Assistant) ClearComposing(participant string, key domain.ConversationKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.composing, viewerKey{participant, key})
}

func (a *Assistant) setComposing(vk viewerKey, delta int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.composing[vk] + delta
	if n <= 0 {
		delete(a.composing, vk)
		return
	}
	a.composing[vk] = n
}

// Dispatch requests a completion on behalf of the commanding participant
// and reconciles the reply. The timeline never dangles: a failed or empty
// completion is substituted by a single fallback message, so every command
// resolves to exactly one reply.
func (a *Assistant) Dispatch(ctx context.Context, requester string, key domain.ConversationKey, prompt string) (domain.Message, error) {
	if strings.TrimSpace(prompt) == "" {
		return domain.Message{}, newError(ErrorInvalidInput, "empty_prompt", nil)
	}
	if !key.Involves(requester) {
		return domain.Message{}, newError(ErrorInvalidInput, "not_a_participant", nil)
	}

	vk := viewerKey{requester, key}
	a.setComposing(vk, 1)
	defer a.setComposing(vk, -1)

	text, err := a.completions.Complete(ctx, prompt)
	if err != nil {
		a.log.Error("assistant completion failed", "key", key, "err", err)
		text = fallbackUnavailable
	} else if strings.TrimSpace(text) == "" {
		text = fallbackEmptyReply
	}

	reply := domain.Message{
		ID:              newMessageID(),
		ConversationKey: key,
		SenderID:        domain.AssistantSenderID,
		Text:            text,
		CreatedAt:       nowMillis(),
	}
	if err := a.engine.SubmitControl(ctx, reply); err != nil {
		return domain.Message{}, err
	}
	return reply, nil
}
