// Package pipeline implements the per-utterance processing pipeline of
// spec §4.6: ASR -> NLU -> handler dispatch -> device response. Grounded on
// the teacher's pkg/orchestrator/orchestrator.go ProcessAudio/ProcessAudioStream
// methods (transcribe -> LLM -> synthesize, each stage wrapped in a
// sentinel error and logged), generalized here from a fixed LLM-chat shape
// to the full intent-routed handler registry.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/voicegrow/speaker-orchestrator/internal/collaborators"
	"github.com/voicegrow/speaker-orchestrator/internal/handlers"
	"github.com/voicegrow/speaker-orchestrator/internal/logging"
	"github.com/voicegrow/speaker-orchestrator/internal/protocol"
	"github.com/voicegrow/speaker-orchestrator/internal/session"
)

var (
	ErrEmptyTranscription  = errors.New("transcription returned empty text")
	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")
	ErrNoHandler           = errors.New("no handler registered for recognized intent")
)

// apologyText is the fixed phrase spoken whenever a stage of this pipeline
// fails or comes back empty (§4.6 step 1, §7 kinds 1 & 4), matching the
// original's pipeline.py HandlerResponse(text="抱歉，我没有听清楚，请再说一遍").
const apologyText = "抱歉，我没有听清楚，请再说一遍"

// Pipeline wires the collaborators and the handler registry together. It
// holds no per-device state of its own — all of that lives on the Session
// passed into each call — so one Pipeline serves every device.
type Pipeline struct {
	ASR      collaborators.ASR
	NLU      collaborators.NLU
	TTS      collaborators.TTS
	Queue    collaborators.PlayQueueStore
	Registry *handlers.Registry
	Log      logging.Logger

	ReplyTimeout time.Duration
	Language     string
}

// ProcessAudio is the audio-completion entry point (§4.4.4): transcribe the
// buffered recording, then hand the text to ProcessText. An empty
// transcription is not an ASR failure — ASRService.transcribe never raises
// on silence — but per §4.6 step 1 it still gets the fixed apology spoken
// back, the same as a transcription failure or a downstream handler error.
func (p *Pipeline) ProcessAudio(ctx context.Context, sess *session.Session, pcm []byte, sampleRate int) error {
	text, err := p.ASR.Transcribe(ctx, pcm, sampleRate)
	if err != nil {
		p.Log.Error("transcription failed for device %s: %v", sess.DeviceID, err)
		if respErr := p.respond(ctx, sess, &handlers.HandlerResponse{Text: apologyText}); respErr != nil {
			return respErr
		}
		return ErrTranscriptionFailed
	}
	if strings.TrimSpace(text) == "" {
		p.Log.Debug("empty transcription for device %s", sess.DeviceID)
		return p.respond(ctx, sess, &handlers.HandlerResponse{Text: apologyText})
	}
	return p.ProcessText(ctx, sess, text)
}

// ProcessText routes one recognized utterance (§4.4.6): a pending
// confirmation slot, if present, takes priority over fresh NLU routing —
// the device's very next utterance after "确定要删除《X》吗？" is a yes/no,
// not a new command.
func (p *Pipeline) ProcessText(ctx context.Context, sess *session.Session, text string) error {
	sess.SetListenState(session.Processing)

	if pending := sess.GetPendingAction(); pending != nil {
		if pending.IsExpired(time.Now()) {
			sess.ClearPendingAction()
		} else if resp, handled := p.resolvePendingAction(ctx, sess, pending, text); handled {
			sess.ClearPendingAction()
			return p.respond(ctx, sess, resp)
		}
		// unresolved: fall through to ordinary NLU routing, leaving the
		// pending action outstanding for a later utterance to resolve
	}

	nlu, err := p.NLU.Recognize(ctx, text)
	if err != nil {
		p.Log.Error("NLU recognition failed for device %s: %v", sess.DeviceID, err)
		if respErr := p.respond(ctx, sess, &handlers.HandlerResponse{Text: apologyText}); respErr != nil {
			return respErr
		}
		return err
	}

	h, ok := p.Registry.ForIntent(nlu.Intent)
	if !ok {
		p.Log.Warn("no handler for intent %s (device %s)", nlu.Intent, sess.DeviceID)
		if respErr := p.respond(ctx, sess, &handlers.HandlerResponse{Text: apologyText}); respErr != nil {
			return respErr
		}
		return ErrNoHandler
	}

	resp, err := h.Handle(ctx, sess.DeviceID, nlu)
	if err != nil {
		p.Log.Error("handler %s failed for device %s: %v", h.Name(), sess.DeviceID, err)
		if respErr := p.respond(ctx, sess, &handlers.HandlerResponse{Text: apologyText}); respErr != nil {
			return respErr
		}
		return err
	}

	if resp.NeedsConfirmation {
		ttl := resp.PendingActionTTL
		if ttl <= 0 {
			ttl = 30 * time.Second // default pending-action timeout
		}
		sess.SetPendingAction(&session.PendingAction{
			ActionType:  resp.PendingActionType,
			Data:        resp.PendingActionData,
			HandlerName: h.Name(),
			CreatedAt:   time.Now(),
			Timeout:     ttl,
		})
	}

	return p.respond(ctx, sess, resp)
}

func (p *Pipeline) resolvePendingAction(ctx context.Context, sess *session.Session, pending *session.PendingAction, text string) (*handlers.HandlerResponse, bool) {
	confirmed, ok := handlers.ResolveConfirmation(text)
	if !ok {
		return nil, false
	}
	h, found := p.Registry.ByName(pending.HandlerName)
	if !found {
		return nil, false
	}
	ch, ok := h.(handlers.ConfirmationHandler)
	if !ok {
		return nil, false
	}
	resp, err := ch.HandleConfirmation(ctx, sess.DeviceID, confirmed, pending.Data)
	if err != nil {
		p.Log.Error("confirmation handling failed for device %s: %v", sess.DeviceID, err)
		return &handlers.HandlerResponse{Text: "抱歉，处理的时候出了点问题"}, true
	}
	return resp, true
}

const defaultTTSWaitTimeout = 10 * time.Second

// respond carries out a HandlerResponse against the device, in the exact
// five-step order of spec §4.6: (1) interrupt unless the handler asked to
// skip it, (2) speak Text and/or start PlayURL, (3) run any Commands in
// order, (4) reconcile the queue-active tri-state, (5) re-open the mic on
// ContinueListening.
func (p *Pipeline) respond(ctx context.Context, sess *session.Session, resp *handlers.HandlerResponse) error {
	sess.SetListenState(session.Responding)

	if !resp.SkipInterrupt {
		_ = sess.Send(ctx, protocol.AbortXiaoai())
		_ = sess.Send(ctx, protocol.Pause())
	}

	switch {
	case resp.PlayURL != "" && resp.Text != "":
		ttsURL, err := p.TTS.SynthesizeToURL(ctx, resp.Text, p.Language)
		if err != nil {
			p.Log.Error("tts synthesis failed for device %s: %v", sess.DeviceID, err)
			return err
		}
		if _, err := sess.SendAndWait(ctx, protocol.PlayURL(ttsURL), p.replyTimeout()); err != nil {
			return err
		}
		if err := sess.Send(ctx, protocol.PlayURL(resp.PlayURL)); err != nil {
			return err
		}
		sess.SetCurrentContentID(resp.ContentID)

	case resp.PlayURL != "":
		if err := sess.Send(ctx, protocol.PlayURL(resp.PlayURL)); err != nil {
			return err
		}
		sess.SetCurrentContentID(resp.ContentID)

	case resp.Text != "":
		ttsURL, err := p.TTS.SynthesizeToURL(ctx, resp.Text, p.Language)
		if err != nil {
			p.Log.Error("tts synthesis failed for device %s: %v", sess.DeviceID, err)
			return err
		}
		if err := sess.Send(ctx, protocol.PlayURL(ttsURL)); err != nil {
			return err
		}
	}

	for _, cmd := range resp.Commands {
		if err := sess.Send(ctx, cmd); err != nil {
			return err
		}
	}

	switch resp.QueueActive {
	case handlers.QueueActiveEnable:
		sess.SetQueueActive(true)
	case handlers.QueueActiveDisable:
		sess.SetQueueActive(false)
	}

	if resp.ContinueListening {
		_ = sess.Send(ctx, protocol.WakeUp(true))
	}

	sess.SetListenState(session.Idle)
	return nil
}

func (p *Pipeline) replyTimeout() time.Duration {
	if p.ReplyTimeout > 0 {
		return p.ReplyTimeout
	}
	return defaultTTSWaitTimeout
}
