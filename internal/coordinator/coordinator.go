// Package coordinator implements the interaction coordinator of spec
// §4.4: the behavior core that turns inbound device frames (wake word,
// playing-state changes, streaming cloud-ASR instructions, local
// endpointer signals) into listenState transitions and device commands.
// Grounded on the teacher's pkg/orchestrator/managed_stream.go, which
// drives the same shape of state machine (one goroutine owns the inbound
// loop, everything slow is dispatched as a detached task with a
// guaranteed-release finalizer) over a narrower audio-only domain.
package coordinator

import (
	"context"
	"time"

	"github.com/voicegrow/speaker-orchestrator/internal/collaborators"
	"github.com/voicegrow/speaker-orchestrator/internal/config"
	"github.com/voicegrow/speaker-orchestrator/internal/logging"
	"github.com/voicegrow/speaker-orchestrator/internal/pipeline"
	"github.com/voicegrow/speaker-orchestrator/internal/protocol"
	"github.com/voicegrow/speaker-orchestrator/internal/session"
)

const maxAutoPlayAttempts = 5

// Coordinator holds no per-device state of its own (that lives on the
// Session) — one Coordinator serves every device, same shape as Pipeline.
type Coordinator struct {
	Pipeline *pipeline.Pipeline
	Queue    collaborators.PlayQueueStore
	Catalog  collaborators.ContentCatalog
	Log      logging.Logger

	Audio               config.Audio
	InstructionDebounce time.Duration
	AutoPlayGuard       time.Duration
}

// New wires a Coordinator from its collaborators and timing config.
func New(p *pipeline.Pipeline, queue collaborators.PlayQueueStore, catalog collaborators.ContentCatalog, log logging.Logger, cfg config.Config) *Coordinator {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &Coordinator{
		Pipeline:            p,
		Queue:               queue,
		Catalog:             catalog,
		Log:                 log,
		Audio:               cfg.Audio,
		InstructionDebounce: cfg.InstructionDebounce,
		AutoPlayGuard:       cfg.AutoPlayGuard,
	}
}

// OnEvent is the transport.FrameHandlers.OnEvent callback: it dispatches on
// event kind to the three independent sub-handlers of §4.4.1-4.4.3. Exactly
// one of these applies per event.
func (c *Coordinator) OnEvent(sess *session.Session, ev *protocol.Event) {
	switch {
	case ev.IsWakeWord():
		c.handleWakeWord(context.Background(), sess)
	case ev.IsPlayingEvent():
		c.handlePlayingEvent(context.Background(), sess, ev)
	case ev.IsInstruction():
		c.handleInstruction(context.Background(), sess, ev)
	}
}

// OnResponse is the transport.FrameHandlers.OnResponse callback: besides the
// transport layer's own reply-future resolution, the only coordinator-level
// concern is the start_recording rollback of §4.4.1.
func (c *Coordinator) OnResponse(sess *session.Session, resp *protocol.Response) {
	if resp.IsSuccess() {
		c.Log.Debug("device %s acked request %s", sess.DeviceID, resp.ID)
		return
	}
	if sess.ListenState() != session.Woken {
		return
	}
	if resp.ID != sess.StartRecordingID() || resp.ID == "" {
		return
	}
	c.Log.Warn("start_recording failed for device %s, rolling back to idle", sess.DeviceID)
	sess.CancelWakeTimeout()
	sess.SetListenState(session.Idle)
}

// OnStream is the transport.FrameHandlers.OnStream callback: audio frames
// feed the endpointer while Listening; the endpointer's own shouldStop()
// check drives the §4.4.4 transition.
func (c *Coordinator) OnStream(sess *session.Session, stream *protocol.Stream) {
	if !stream.IsAudioStream() {
		return
	}
	if sess.ListenState() != session.Listening && sess.ListenState() != session.Woken {
		return
	}
	if sess.ListenState() == session.Woken {
		sess.CancelWakeTimeout()
		sess.SetListenState(session.Listening)
	}
	sess.Endpointer().Append(stream.Data)
	if sess.Endpointer().ShouldStop() {
		c.handleAudioComplete(context.Background(), sess)
	}
}

// OnRawPCM is the transport.FrameHandlers.OnRawPCM callback for a binary
// frame that failed the Stream JSON decode (§6.1, scenario S9): its bytes
// are still appended to the endpointer as raw PCM, exactly like OnStream
// does for a decoded frame, rather than dropped.
func (c *Coordinator) OnRawPCM(sess *session.Session, pcm []byte) {
	if sess.ListenState() != session.Listening && sess.ListenState() != session.Woken {
		return
	}
	if sess.ListenState() == session.Woken {
		sess.CancelWakeTimeout()
		sess.SetListenState(session.Listening)
	}
	sess.Endpointer().Append(pcm)
	if sess.Endpointer().ShouldStop() {
		c.handleAudioComplete(context.Background(), sess)
	}
}

// handleWakeWord implements §4.4.1.
func (c *Coordinator) handleWakeWord(ctx context.Context, sess *session.Session) {
	sess.SetQueueActive(false)
	sess.CancelAutoPlay()

	_ = sess.Send(ctx, protocol.AbortXiaoai())

	req := protocol.StartRecording(c.Audio.SampleRate)
	sess.SetStartRecordingID(req.ID)
	go func() {
		// fire-and-forget: the reply is observed asynchronously via
		// OnResponse, never blocking this handler or the inbound loop.
		_ = sess.Send(context.Background(), req)
	}()

	sess.SetListenState(session.Woken)
	sess.Endpointer().Start()
	sess.CancelInstructionDebounce()
	sess.SetInstructionDispatched(false)
	sess.SetInstructionText("")
	sess.ScheduleWakeTimeout(c.Audio.WakeTimeout, func() {
		if sess.ListenState() == session.Woken {
			c.Log.Debug("wake timeout for device %s, returning to idle", sess.DeviceID)
			_ = sess.Send(context.Background(), protocol.StopRecording())
			sess.SetListenState(session.Idle)
		}
	})
}

// handlePlayingEvent implements §4.4.2.
func (c *Coordinator) handlePlayingEvent(ctx context.Context, sess *session.Session, ev *protocol.Event) {
	state, ok := ev.GetPlayingState()
	if !ok {
		return
	}
	sess.SetPlayingState(state)

	switch {
	case state == protocol.PlayingStatePlaying && sess.PipelineActive():
		_ = sess.Send(ctx, protocol.AbortXiaoai())
		_ = sess.Send(ctx, protocol.Pause())

	case state == protocol.PlayingStateIdle && sess.QueueActive() && !sess.PipelineActive():
		sess.CancelAutoPlay()
		sess.ScheduleAutoPlay(func(taskCtx context.Context) {
			c.runAutoPlay(taskCtx, sess)
		})
	}
}

// handleInstruction implements §4.4.3's guard ordering and debounce/dispatch
// logic exactly.
func (c *Coordinator) handleInstruction(ctx context.Context, sess *session.Session, ev *protocol.Event) {
	if s := sess.ListenState(); s == session.Woken || s == session.Listening || s == session.Processing {
		return
	}

	if sess.PipelineActive() && ev.IsCloudPlaybackCommand() {
		_ = sess.Send(ctx, protocol.AbortXiaoai())
		_ = sess.Send(ctx, protocol.Pause())
		return
	}

	text, isFinal, ok := ev.GetInstructionText()
	if !ok {
		return
	}

	if !isFinal {
		sess.SetInstructionDispatched(false)
		sess.CancelAutoPlay()
		sess.SetInstructionText(text)
		sess.ScheduleInstructionDebounce(c.InstructionDebounce, func() {
			sess.SetInstructionDispatched(true)
			c.runInstructionComplete(context.Background(), sess)
		})
		return
	}

	if sess.InstructionDispatched() {
		return
	}
	sess.SetInstructionDispatched(true)
	sess.CancelInstructionDebounce()
	sess.CancelAutoPlay()
	sess.SetPipelineActive(true)
	_ = sess.Send(ctx, protocol.AbortXiaoai())
	sess.SetInstructionText(text)
	go c.runInstructionComplete(context.Background(), sess)
}

// runInstructionComplete is the detached "instruction-complete" flow of
// §4.4.3's last paragraph. instructionDispatched is deliberately NOT reset
// in the finalizer — only a fresh non-final partial resets it, marking the
// start of a new round.
func (c *Coordinator) runInstructionComplete(ctx context.Context, sess *session.Session) {
	defer sess.SetPipelineActive(false)

	text := sess.InstructionText()
	sess.SetInstructionText("")

	_ = sess.Send(ctx, protocol.AbortXiaoai())
	_ = sess.Send(ctx, protocol.Pause())

	if err := c.Pipeline.ProcessText(ctx, sess, text); err != nil {
		c.Log.Error("processText failed for device %s: %v", sess.DeviceID, err)
	}
}

// handleAudioComplete implements §4.4.4: the Processing transition happens
// synchronously (on the inbound loop) so a second stream frame arriving
// before the detached task runs can't double-dispatch; everything after
// that runs detached so the inbound loop stays free to observe and
// intercept concurrent cloud events.
func (c *Coordinator) handleAudioComplete(_ context.Context, sess *session.Session) {
	sess.SetListenState(session.Processing)
	go c.runAudioComplete(context.Background(), sess)
}

func (c *Coordinator) runAudioComplete(ctx context.Context, sess *session.Session) {
	defer func() {
		sess.SetPipelineActive(false)
		sess.SetListenState(session.Idle)
	}()

	_ = sess.Send(ctx, protocol.StopRecording())
	pcm := sess.Endpointer().Stop()
	sess.CancelAutoPlay()
	sess.SetPipelineActive(true)

	if err := c.Pipeline.ProcessAudio(ctx, sess, pcm, c.Audio.SampleRate); err != nil {
		c.Log.Error("processAudio failed for device %s: %v", sess.DeviceID, err)
		return
	}
	sess.SetListenState(session.Responding)
}

// runAutoPlay implements §4.4.5. It must exit silently on ctx cancellation
// at every suspension point — cancellation is the normal signal that the
// user has intervened (a fresh wake word, a new instruction), never an
// error condition to surface.
func (c *Coordinator) runAutoPlay(ctx context.Context, sess *session.Session) {
	select {
	case <-time.After(c.AutoPlayGuard):
	case <-ctx.Done():
		return
	}

	if sess.PlayingState() == protocol.PlayingStatePlaying || !sess.QueueActive() || sess.PipelineActive() {
		return
	}

	for attempt := 0; attempt < maxAutoPlayAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, found, err := c.Queue.GetNext(ctx, sess.DeviceID, false)
		if err != nil {
			c.Log.Error("auto-play queue lookup failed for device %s: %v", sess.DeviceID, err)
			return
		}
		if !found {
			sess.SetQueueActive(false)
			return
		}

		item, err := c.Catalog.GetContentByID(ctx, id)
		if err != nil {
			c.Log.Error("auto-play catalog lookup failed for device %s: %v", sess.DeviceID, err)
			return
		}
		if item == nil || item.PlayURL == "" {
			c.Log.Debug("auto-play skipping unplayable item %s for device %s", id, sess.DeviceID)
			continue
		}

		_ = c.Catalog.IncrementPlayCount(ctx, item.ID)
		if err := sess.Send(ctx, protocol.PlayURL(item.PlayURL)); err != nil {
			return
		}
		sess.SetCurrentContentID(item.ID)
		return
	}

	c.Log.Warn("auto-play exhausted %d attempts for device %s, disabling queue", maxAutoPlayAttempts, sess.DeviceID)
	sess.SetQueueActive(false)
}
