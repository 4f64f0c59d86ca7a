package handlers

import (
	"context"

	"github.com/voicegrow/speaker-orchestrator/internal/collaborators"
	"github.com/voicegrow/speaker-orchestrator/internal/protocol"
)

const defaultVolumeStep = 10

// ControlHandler implements the playback-control response contract of
// spec §4.7 exactly: which responses skip the default interrupt, which
// carry commands instead of a spoken reply, and the unconditional wrap on
// user-initiated next/previous.
type ControlHandler struct {
	queue   collaborators.PlayQueueStore
	catalog collaborators.ContentCatalog
}

func NewControlHandler(queue collaborators.PlayQueueStore, catalog collaborators.ContentCatalog) *ControlHandler {
	return &ControlHandler{queue: queue, catalog: catalog}
}

func (h *ControlHandler) Name() string { return "control" }

func (h *ControlHandler) Handle(ctx context.Context, deviceID string, nlu collaborators.NLUResult) (*HandlerResponse, error) {
	switch nlu.Intent {
	case collaborators.IntentControlPause:
		return &HandlerResponse{Text: "已暂停"}, nil

	case collaborators.IntentControlStop:
		if err := h.queue.ClearQueue(ctx, deviceID); err != nil {
			return nil, err
		}
		return &HandlerResponse{Text: "已停止", QueueActive: QueueActiveDisable}, nil

	case collaborators.IntentControlResume:
		ids, err := h.queue.GetQueue(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		resp := &HandlerResponse{
			SkipInterrupt: true,
			Commands:      []*protocol.Request{protocol.Play()},
		}
		if len(ids) > 0 {
			resp.QueueActive = QueueActiveEnable
		}
		return resp, nil

	case collaborators.IntentControlVolumeUp:
		return &HandlerResponse{
			SkipInterrupt: true,
			Commands:      []*protocol.Request{protocol.VolumeUp(defaultVolumeStep), protocol.Play()},
		}, nil

	case collaborators.IntentControlVolumeDown:
		return &HandlerResponse{
			SkipInterrupt: true,
			Commands:      []*protocol.Request{protocol.VolumeDown(defaultVolumeStep), protocol.Play()},
		}, nil

	case collaborators.IntentControlNext:
		return h.advance(ctx, deviceID, true)

	case collaborators.IntentControlPrevious:
		return h.advance(ctx, deviceID, false)

	default:
		return &HandlerResponse{Text: "我没有听懂这个指令"}, nil
	}
}

// advance attempts up to len(queue) entries in the requested direction,
// skipping unplayable ones, wrapping unconditionally (this is a
// user-initiated command, per spec §4.7's last bullet).
func (h *ControlHandler) advance(ctx context.Context, deviceID string, forward bool) (*HandlerResponse, error) {
	ids, err := h.queue.GetQueue(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	attempts := len(ids)
	if attempts == 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		var id string
		var found bool
		if forward {
			id, found, err = h.queue.GetNext(ctx, deviceID, true)
		} else {
			id, found, err = h.queue.GetPrevious(ctx, deviceID, true)
		}
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		item, err := h.catalog.GetContentByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if item == nil || item.PlayURL == "" {
			continue
		}
		_ = h.catalog.IncrementPlayCount(ctx, item.ID)
		return &HandlerResponse{PlayURL: item.PlayURL, ContentID: item.ID, QueueActive: QueueActiveEnable}, nil
	}

	return &HandlerResponse{Text: "队列里没有可以播放的内容了"}, nil
}
