// Package handlers implements the per-intent handler roster (spec §4,
// supplemented with the full set from original_source/server/app/handlers/).
// Handlers are pure request/response: they never touch a Session directly,
// so they stay trivially testable and the pipeline's respond step remains
// the only place that translates a HandlerResponse into device commands.
package handlers

import (
	"context"
	"time"

	"github.com/voicegrow/speaker-orchestrator/internal/collaborators"
	"github.com/voicegrow/speaker-orchestrator/internal/protocol"
)

// QueueActiveState is the tri-state replacement for the Python original's
// HandlerResponse.queue_active *bool (None/True/False): a nullable boolean
// conflates "leave the auto-play scheduler alone" with "I have an opinion
// and it's false", which is exactly the bug class spec §9's redesign flags
// call out. Unchanged is the zero value so handlers that don't touch
// queueing don't have to set anything.
type QueueActiveState int

const (
	QueueActiveUnchanged QueueActiveState = iota
	QueueActiveEnable
	QueueActiveDisable
)

// HandlerResponse is the outcome of handling one recognized utterance
// (spec §4.6's respond() contract). If both Text and PlayURL are present,
// the pipeline speaks Text first (as a blocking TTS clip) before starting
// PlayURL; if only Text is present, it's synthesized and played alone.
type HandlerResponse struct {
	Text      string
	PlayURL   string
	ContentID string

	// Commands are executed in order after the PlayURL/Text step — e.g. a
	// bare volume_ctrl or play recovery command that carries no
	// spoken reply of its own.
	Commands []*protocol.Request

	// SkipInterrupt suppresses the default abort_xiaoai+pause sent before
	// every response; true only for the control responses (resume,
	// volume up/down) that must not disturb whatever media is already
	// paused or playing.
	SkipInterrupt bool

	// ContinueListening re-opens the microphone with a silent wake request
	// once this response has been carried out.
	ContinueListening bool

	QueueActive QueueActiveState

	NeedsConfirmation bool
	PendingActionType string
	PendingActionData map[string]any
	PendingActionTTL  time.Duration
}

// Handler is implemented by each of the seven intent handlers.
type Handler interface {
	Name() string
	Handle(ctx context.Context, deviceID string, nlu collaborators.NLUResult) (*HandlerResponse, error)
}

// ConfirmationHandler is implemented by handlers that can own a pending
// multi-turn confirmation slot (currently only delete).
type ConfirmationHandler interface {
	Handler
	HandleConfirmation(ctx context.Context, deviceID string, confirmed bool, data map[string]any) (*HandlerResponse, error)
}

// Registry dual-indexes handlers by intent and by name, matching
// original_source/server/app/handlers/registry.py's HandlerRouter.
type Registry struct {
	byIntent map[collaborators.Intent]Handler
	byName   map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		byIntent: make(map[collaborators.Intent]Handler),
		byName:   make(map[string]Handler),
	}
}

// Register binds a handler under every intent in intents, plus its own name.
func (r *Registry) Register(h Handler, intents ...collaborators.Intent) {
	r.byName[h.Name()] = h
	for _, i := range intents {
		r.byIntent[i] = h
	}
}

func (r *Registry) ForIntent(intent collaborators.Intent) (Handler, bool) {
	h, ok := r.byIntent[intent]
	return h, ok
}

func (r *Registry) ByName(name string) (Handler, bool) {
	h, ok := r.byName[name]
	return h, ok
}
