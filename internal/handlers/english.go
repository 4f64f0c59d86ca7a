package handlers

import (
	"context"
	"fmt"

	"github.com/voicegrow/speaker-orchestrator/internal/collaborators"
)

// EnglishHandler drives the word-of-the-day / lookup / follow-along flows,
// grounded on original_source/server/app/handlers/english.py.
type EnglishHandler struct {
	catalog collaborators.EnglishCatalog
}

func NewEnglishHandler(catalog collaborators.EnglishCatalog) *EnglishHandler {
	return &EnglishHandler{catalog: catalog}
}

func (h *EnglishHandler) Name() string { return "english" }

func (h *EnglishHandler) Handle(ctx context.Context, deviceID string, nlu collaborators.NLUResult) (*HandlerResponse, error) {
	switch nlu.Intent {
	case collaborators.IntentEnglishWord:
		word := nlu.Slots["word"]
		info, err := h.catalog.GetWord(ctx, word)
		if err != nil || info == nil {
			return &HandlerResponse{Text: fmt.Sprintf("我还不认识%s这个单词", word)}, nil
		}
		return &HandlerResponse{
			Text:     fmt.Sprintf("%s的意思是%s，读音是%s", info.Word, info.Translation, info.Phonetic),
			PlayURL:  info.AudioURL,
		}, nil
	case collaborators.IntentEnglishFollow:
		info, err := h.catalog.GetRandomWord(ctx, "")
		if err != nil || info == nil {
			return &HandlerResponse{Text: "现在没有可以跟读的单词"}, nil
		}
		return &HandlerResponse{
			Text:              fmt.Sprintf("请跟我读：%s", info.Word),
			PlayURL:           info.AudioURL,
			ContinueListening: true,
		}, nil
	default: // english_learn
		info, err := h.catalog.GetRandomWord(ctx, "")
		if err != nil || info == nil {
			return &HandlerResponse{Text: "今天还没有准备学习内容"}, nil
		}
		return &HandlerResponse{
			Text:     fmt.Sprintf("我们今天学习这个单词：%s，意思是%s", info.Word, info.Translation),
			PlayURL:  info.AudioURL,
		}, nil
	}
}
