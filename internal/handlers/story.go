package handlers

import (
	"context"
	"fmt"

	"github.com/voicegrow/speaker-orchestrator/internal/collaborators"
)

// StoryHandler plays stories, grounded on
// original_source/server/app/handlers/story.py: by name, by category, or a
// random pick when neither slot is present. Enables the play queue so
// subsequent stories auto-advance.
type StoryHandler struct {
	catalog collaborators.ContentCatalog
	queue   collaborators.PlayQueueStore
}

func NewStoryHandler(catalog collaborators.ContentCatalog, queue collaborators.PlayQueueStore) *StoryHandler {
	return &StoryHandler{catalog: catalog, queue: queue}
}

func (h *StoryHandler) Name() string { return "story" }

func (h *StoryHandler) Handle(ctx context.Context, deviceID string, nlu collaborators.NLUResult) (*HandlerResponse, error) {
	var item *collaborators.ContentItem
	var err error

	switch {
	case nlu.Slots["name"] != "":
		item, err = h.catalog.GetContentByName(ctx, collaborators.ContentTypeStory, nlu.Slots["name"])
	case nlu.Slots["category"] != "":
		item, err = h.catalog.GetRandom(ctx, collaborators.ContentTypeStory, nlu.Slots["category"])
	default:
		item, err = h.catalog.GetRandom(ctx, collaborators.ContentTypeStory, "")
	}
	if err != nil {
		return nil, err
	}
	if item == nil {
		return &HandlerResponse{Text: "我没有找到这个故事，换一个试试吧"}, nil
	}

	list, _ := h.catalog.GetContentList(ctx, collaborators.ContentTypeStory, nlu.Slots["category"], 20, true)
	if len(list) > 0 {
		ids := make([]string, 0, len(list))
		startIdx := 0
		for i, it := range list {
			if it.ID == item.ID {
				startIdx = i
			}
			ids = append(ids, it.ID)
		}
		_ = h.queue.SetQueue(ctx, deviceID, ids, startIdx)
	}

	_ = h.catalog.IncrementPlayCount(ctx, item.ID)

	return &HandlerResponse{
		Text:        fmt.Sprintf("正在为你播放故事《%s》", item.Title),
		PlayURL:     item.PlayURL,
		ContentID:   item.ID,
		QueueActive: QueueActiveEnable,
	}, nil
}
