package handlers

import (
	"context"
	"fmt"

	"github.com/voicegrow/speaker-orchestrator/internal/collaborators"
)

// MusicHandler plays music, grounded on
// original_source/server/app/handlers/music.py: by name, by artist
// (queueing every match, with distinct single-vs-multi-result phrasing), by
// category, or random.
type MusicHandler struct {
	catalog collaborators.ContentCatalog
	queue   collaborators.PlayQueueStore
}

func NewMusicHandler(catalog collaborators.ContentCatalog, queue collaborators.PlayQueueStore) *MusicHandler {
	return &MusicHandler{catalog: catalog, queue: queue}
}

func (h *MusicHandler) Name() string { return "music" }

func (h *MusicHandler) Handle(ctx context.Context, deviceID string, nlu collaborators.NLUResult) (*HandlerResponse, error) {
	switch {
	case nlu.Slots["artist"] != "":
		return h.handleByArtist(ctx, deviceID, nlu.Slots["artist"])
	case nlu.Slots["name"] != "":
		item, err := h.catalog.GetContentByName(ctx, collaborators.ContentTypeMusic, nlu.Slots["name"])
		if err != nil {
			return nil, err
		}
		if item == nil {
			return &HandlerResponse{Text: "我没有找到这首歌，换一首试试吧"}, nil
		}
		return h.setupQueueAndRespond(ctx, deviceID, []collaborators.ContentItem{*item}, 0,
			fmt.Sprintf("正在为你播放《%s》", item.Title))
	case nlu.Slots["category"] != "":
		list, err := h.catalog.GetContentList(ctx, collaborators.ContentTypeMusic, nlu.Slots["category"], 20, true)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return &HandlerResponse{Text: "这个分类下暂时没有音乐"}, nil
		}
		return h.setupQueueAndRespond(ctx, deviceID, list, 0,
			fmt.Sprintf("为你找到%d首%s音乐，开始播放", len(list), nlu.Slots["category"]))
	default:
		item, err := h.catalog.GetRandom(ctx, collaborators.ContentTypeMusic, "")
		if err != nil {
			return nil, err
		}
		if item == nil {
			return &HandlerResponse{Text: "我暂时没有找到可以播放的音乐"}, nil
		}
		return h.setupQueueAndRespond(ctx, deviceID, []collaborators.ContentItem{*item}, 0,
			fmt.Sprintf("正在为你播放《%s》", item.Title))
	}
}

func (h *MusicHandler) handleByArtist(ctx context.Context, deviceID, artist string) (*HandlerResponse, error) {
	list, err := h.catalog.SearchByArtist(ctx, artist, collaborators.ContentTypeMusic, 20)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return &HandlerResponse{Text: fmt.Sprintf("我没有找到%s的歌曲", artist)}, nil
	}
	var text string
	if len(list) == 1 {
		text = fmt.Sprintf("正在为你播放%s的《%s》", artist, list[0].Title)
	} else {
		text = fmt.Sprintf("为你找到%d首%s的歌曲，开始播放", len(list), artist)
	}
	return h.setupQueueAndRespond(ctx, deviceID, list, 0, text)
}

// _setup_queue equivalent: enqueues the whole result set and enables
// auto-play, then returns the first item's PlayURL as the immediate action.
func (h *MusicHandler) setupQueueAndRespond(ctx context.Context, deviceID string, list []collaborators.ContentItem, startIndex int, text string) (*HandlerResponse, error) {
	ids := make([]string, len(list))
	for i, it := range list {
		ids[i] = it.ID
	}
	if err := h.queue.SetQueue(ctx, deviceID, ids, startIndex); err != nil {
		return nil, err
	}
	first := list[startIndex]
	_ = h.catalog.IncrementPlayCount(ctx, first.ID)

	return &HandlerResponse{
		Text:        text,
		PlayURL:     first.PlayURL,
		ContentID:   first.ID,
		QueueActive: QueueActiveEnable,
	}, nil
}
