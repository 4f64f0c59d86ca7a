package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/voicegrow/speaker-orchestrator/internal/collaborators"
)

// SystemHandler answers time/weather queries, grounded on
// original_source/server/app/handlers/system.py. Weather needs an external
// forecast API that is explicitly out of scope for this module, so it
// answers with a placeholder rather than a fabricated forecast — matching
// the original's own TODO-style stub.
type SystemHandler struct {
	now func() time.Time
}

func NewSystemHandler() *SystemHandler {
	return &SystemHandler{now: time.Now}
}

func (h *SystemHandler) Name() string { return "system" }

func (h *SystemHandler) Handle(ctx context.Context, deviceID string, nlu collaborators.NLUResult) (*HandlerResponse, error) {
	switch nlu.Intent {
	case collaborators.IntentSystemTime:
		now := h.now()
		return &HandlerResponse{Text: fmt.Sprintf("现在是%d点%d分", now.Hour(), now.Minute())}, nil
	case collaborators.IntentSystemWeather:
		return &HandlerResponse{Text: "抱歉，我现在还不能查询天气"}, nil
	default:
		return &HandlerResponse{Text: "我没有听懂这个指令"}, nil
	}
}
