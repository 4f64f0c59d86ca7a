package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/voicegrow/speaker-orchestrator/internal/collaborators"
)

// confirmPhrases/confirmExact/cancelPhrases/cancelExact are the exact
// keyword sets from original_source/server/app/handlers/delete.py: phrases
// are substring-matched, exact entries require an exact (trimmed) match so
// a short ambiguous word like "不" doesn't fire on unrelated sentences that
// merely contain it.
var (
	confirmPhrases = []string{"确认删除", "确定删除", "是的删除", "删除确认"}
	confirmExact   = map[string]bool{"是": true, "对": true, "确认": true, "确定": true, "删除": true, "删": true}
	cancelPhrases  = []string{"不要删除", "取消删除", "不删除"}
	cancelExact    = map[string]bool{"不": true, "不是": true, "取消": true, "算了": true}
)

// maxVoiceDelete caps the number of items a single voice command may
// delete, matching the original's MAX_VOICE_DELETE safety ceiling.
const maxVoiceDelete = 10

// DeleteHandler deletes content by voice, gated behind a multi-turn
// confirmation slot (spec §4.4.6): Handle produces a NeedsConfirmation
// response naming the target whenever the search finds between one and
// maxVoiceDelete matches; HandleConfirmation is
// invoked by the pipeline once the device's next utterance resolves
// against the cancel/confirm keyword sets.
type DeleteHandler struct {
	catalog collaborators.ContentCatalog
}

func NewDeleteHandler(catalog collaborators.ContentCatalog) *DeleteHandler {
	return &DeleteHandler{catalog: catalog}
}

func (h *DeleteHandler) Name() string { return "delete" }

// Handle runs a smart search over the full catalog (spec §8 S8), capped at
// maxVoiceDelete+1 results so a search that returns exactly the cap plus
// one can still be reported as "more than you can delete by voice" instead
// of silently truncating. Zero results apologizes, more than maxVoiceDelete
// refuses; one to maxVoiceDelete queues a confirmation naming every matched
// content id, and re-opens the mic
// (continueListening) so the device's next utterance is heard without a
// fresh wake word.
func (h *DeleteHandler) Handle(ctx context.Context, deviceID string, nlu collaborators.NLUResult) (*HandlerResponse, error) {
	name := nlu.Slots["name"]
	if name == "" {
		return &HandlerResponse{Text: "请说出你想删除的内容名字"}, nil
	}

	results, err := h.catalog.SmartSearch(ctx, name, maxVoiceDelete+1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &HandlerResponse{Text: fmt.Sprintf("我没有找到叫%s的内容", name)}, nil
	}

	ids := make([]string, len(results))
	for i, item := range results {
		ids[i] = item.ID
	}

	var text string
	switch {
	case len(results) > maxVoiceDelete:
		text = fmt.Sprintf("找到的内容超过%d个，没法一次性删除，换个更具体的名字试试吧", maxVoiceDelete)
		return &HandlerResponse{Text: text}, nil
	case len(results) == 1:
		text = fmt.Sprintf("确定要删除《%s》吗？说确认删除或取消", results[0].Title)
	default:
		text = fmt.Sprintf("找到%d个叫%s的内容，确定要全部删除吗？说确认删除或取消", len(results), name)
	}

	return &HandlerResponse{
		Text:              text,
		ContinueListening: true,
		NeedsConfirmation: true,
		PendingActionType: "delete_content",
		PendingActionData: map[string]any{"content_ids": ids},
	}, nil
}

// HandleConfirmation resolves the pending delete once the next utterance
// has been classified (see ResolveConfirmation): confirmed=false cancels,
// confirmed=true soft-deletes every id in data["content_ids"] and reports
// how many were deleted.
func (h *DeleteHandler) HandleConfirmation(ctx context.Context, deviceID string, confirmed bool, data map[string]any) (*HandlerResponse, error) {
	if !confirmed {
		return &HandlerResponse{Text: "好的，已取消删除"}, nil
	}

	rawIDs, _ := data["content_ids"].([]string)
	deleted := 0
	for _, id := range rawIDs {
		ok, err := h.catalog.DeleteContent(ctx, id, false)
		if err != nil {
			return nil, err
		}
		if ok {
			deleted++
		}
	}
	if deleted == 0 {
		return &HandlerResponse{Text: "删除失败，内容可能已经不存在了"}, nil
	}
	return &HandlerResponse{Text: fmt.Sprintf("已经删除%d个内容了", deleted)}, nil
}

// ResolveConfirmation classifies raw text against the keyword sets, for use
// by the pipeline when a pending delete action is outstanding. The
// cancel sets are checked before the confirm sets. Returns
// ok=false when the utterance matches neither set, in which case the
// pending action should be left outstanding rather than treated as a no.
func ResolveConfirmation(text string) (confirmed bool, ok bool) {
	trimmed := strings.TrimSpace(text)
	if cancelExact[trimmed] {
		return false, true
	}
	for _, p := range cancelPhrases {
		if strings.Contains(trimmed, p) {
			return false, true
		}
	}
	if confirmExact[trimmed] {
		return true, true
	}
	for _, p := range confirmPhrases {
		if strings.Contains(trimmed, p) {
			return true, true
		}
	}
	return false, false
}
