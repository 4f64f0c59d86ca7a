package handlers

import (
	"context"
	"regexp"

	"github.com/voicegrow/speaker-orchestrator/internal/collaborators"
)

var farewellPattern = regexp.MustCompile(`再见|拜拜|晚安|退下`)

// ChatHandler is the free-form conversation fallback, grounded on
// original_source/server/app/handlers/chat.py: a farewell-phrase
// short-circuit before ever calling the LLM, and best-effort conversation
// history (a history-store failure degrades to a stateless reply rather
// than failing the turn, matching the original's try/except around its
// Redis calls).
type ChatHandler struct {
	llm     collaborators.LLM
	history collaborators.SessionStore
}

func NewChatHandler(llm collaborators.LLM, history collaborators.SessionStore) *ChatHandler {
	return &ChatHandler{llm: llm, history: history}
}

func (h *ChatHandler) Name() string { return "chat" }

func (h *ChatHandler) Handle(ctx context.Context, deviceID string, nlu collaborators.NLUResult) (*HandlerResponse, error) {
	if farewellPattern.MatchString(nlu.RawText) {
		_ = h.history.ClearConversation(ctx, deviceID)
		return &HandlerResponse{Text: "好的，下次再聊，晚安"}, nil
	}

	history, err := h.history.GetConversationContext(ctx, deviceID, 10)
	if err != nil {
		history = nil
	}

	reply, err := h.llm.Chat(ctx, nlu.RawText, history)
	if err != nil {
		return &HandlerResponse{Text: "抱歉，我现在有点走神，没听清你说的话"}, nil
	}

	// best-effort: a lost turn of history never fails the user-facing reply
	_ = h.history.AddToConversation(ctx, deviceID, "user", nlu.RawText)
	_ = h.history.AddToConversation(ctx, deviceID, "assistant", reply)

	return &HandlerResponse{Text: reply}, nil
}
