// Package session implements the per-device state of §3 and the listening
// state machine transition table of §4.3. A Session is owned by exactly one
// inbound-frame loop plus the detached tasks that loop launches (§5); all
// other access (timers firing, HTTP-triggered sends) goes through the
// mutex-guarded accessors below.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/voicegrow/speaker-orchestrator/internal/endpoint"
	"github.com/voicegrow/speaker-orchestrator/internal/protocol"
)

// ListenState is one of the five states of spec §4.3.
type ListenState string

const (
	Idle       ListenState = "idle"
	Woken      ListenState = "woken"
	Listening  ListenState = "listening"
	Processing ListenState = "processing"
	Responding ListenState = "responding"
)

// Transport is the bidirectional frame channel a Session writes outbound
// Requests to. The connection manager's concrete websocket wrapper
// implements this; sessions never import the transport package, keeping
// the dependency one-directional.
type Transport interface {
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// PendingAction is the one-shot multi-turn-confirmation slot of spec §3.
type PendingAction struct {
	ActionType  string
	Data        map[string]any
	HandlerName string
	CreatedAt   time.Time
	Timeout     time.Duration
}

// IsExpired is a pure time check, per spec §3.
func (p *PendingAction) IsExpired(now time.Time) bool {
	return now.Sub(p.CreatedAt) > p.Timeout
}

// Session is one DeviceSession: all per-device state of spec §3.
type Session struct {
	DeviceID  string
	Transport Transport

	mu sync.Mutex

	listenState  ListenState
	playingState protocol.PlayingState

	endpointer *endpoint.Endpointer

	pendingReplies map[string]chan *protocol.Response

	pendingAction *PendingAction

	instructionText       string
	instructionTimer      *time.Timer
	instructionDispatched bool

	pipelineActive bool
	queueActive    bool

	autoPlayCancel context.CancelFunc

	startRecordingID string

	wakeTimeoutTimer *time.Timer

	currentContentID string

	closeOnce sync.Once
	closed    bool
}

// New creates a Session in the Idle resting state.
func New(deviceID string, transport Transport, params endpoint.Params) *Session {
	return &Session{
		DeviceID:       deviceID,
		Transport:      transport,
		listenState:    Idle,
		playingState:   protocol.PlayingStateIdle,
		endpointer:     endpoint.New(params),
		pendingReplies: make(map[string]chan *protocol.Response),
	}
}

func (s *Session) ListenState() ListenState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenState
}

func (s *Session) SetListenState(state ListenState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenState = state
}

func (s *Session) PlayingState() protocol.PlayingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playingState
}

func (s *Session) SetPlayingState(state protocol.PlayingState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playingState = state
}

func (s *Session) Endpointer() *endpoint.Endpointer {
	return s.endpointer
}

// PipelineActive / SetPipelineActive gate the cloud-playback interception
// (§4.4.2, §4.4.3) and the auto-play scheduler (§4.4.5).
func (s *Session) PipelineActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipelineActive
}

func (s *Session) SetPipelineActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelineActive = active
}

func (s *Session) QueueActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueActive
}

func (s *Session) SetQueueActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueActive = active
}

func (s *Session) InstructionDispatched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instructionDispatched
}

func (s *Session) SetInstructionDispatched(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instructionDispatched = v
}

func (s *Session) InstructionText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instructionText
}

func (s *Session) SetInstructionText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instructionText = text
}

func (s *Session) StartRecordingID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startRecordingID
}

func (s *Session) SetStartRecordingID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startRecordingID = id
}

func (s *Session) CurrentContentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentContentID
}

func (s *Session) SetCurrentContentID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentContentID = id
}

// GetPendingAction / SetPendingAction / ClearPendingAction guard the multi-turn
// confirmation slot of §4.4.6.
func (s *Session) GetPendingAction() *PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingAction
}

func (s *Session) SetPendingAction(p *PendingAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingAction = p
}

func (s *Session) ClearPendingAction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingAction = nil
}

// ScheduleWakeTimeout arms the post-wake no-speech timeout (default 5s).
// Any previously scheduled wake timeout is cancelled first.
func (s *Session) ScheduleWakeTimeout(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wakeTimeoutTimer != nil {
		s.wakeTimeoutTimer.Stop()
	}
	s.wakeTimeoutTimer = time.AfterFunc(d, fn)
}

func (s *Session) CancelWakeTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wakeTimeoutTimer != nil {
		s.wakeTimeoutTimer.Stop()
		s.wakeTimeoutTimer = nil
	}
}

// ScheduleInstructionDebounce (re)arms the 1.5s instruction debounce timer.
func (s *Session) ScheduleInstructionDebounce(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instructionTimer != nil {
		s.instructionTimer.Stop()
	}
	s.instructionTimer = time.AfterFunc(d, fn)
}

func (s *Session) CancelInstructionDebounce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instructionTimer != nil {
		s.instructionTimer.Stop()
		s.instructionTimer = nil
	}
}

// ScheduleAutoPlay arms the auto-play scheduler's guard window (§4.4.5). fn
// is invoked with a context that is cancelled by CancelAutoPlay (or by
// Close); fn must check ctx.Err() at every suspension point and exit
// silently on cancellation (§5: cancellation is the normal signal, never an
// error).
func (s *Session) ScheduleAutoPlay(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.autoPlayCancel != nil {
		s.autoPlayCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.autoPlayCancel = cancel
	s.mu.Unlock()

	go fn(ctx)
}

func (s *Session) CancelAutoPlay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.autoPlayCancel != nil {
		s.autoPlayCancel()
		s.autoPlayCancel = nil
	}
}

func (s *Session) AutoPlayScheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoPlayCancel != nil
}

// RegisterReply registers a one-shot reply channel for a request id. It
// MUST be called before the request is written to the transport, to avoid
// the send-then-register race (spec §9).
func (s *Session) RegisterReply(requestID string) chan *protocol.Response {
	ch := make(chan *protocol.Response, 1)
	s.mu.Lock()
	s.pendingReplies[requestID] = ch
	s.mu.Unlock()
	return ch
}

// ResolveReply delivers a device Response to its registered waiter, if any.
func (s *Session) ResolveReply(resp *protocol.Response) {
	s.mu.Lock()
	ch, ok := s.pendingReplies[resp.ID]
	if ok {
		delete(s.pendingReplies, resp.ID)
	}
	s.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// ReleaseReply removes a registered reply slot without delivering anything,
// used by the timeout/cleanup path of SendRequest.
func (s *Session) ReleaseReply(requestID string) {
	s.mu.Lock()
	delete(s.pendingReplies, requestID)
	s.mu.Unlock()
}

// PendingReplyCount supports the no-leak testable property (§8).
func (s *Session) PendingReplyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingReplies)
}

// Send writes a request to the device without waiting for a reply
// (fire-and-forget, spec §4.2).
func (s *Session) Send(ctx context.Context, req *protocol.Request) error {
	data, err := req.Marshal()
	if err != nil {
		return err
	}
	return s.Transport.WriteMessage(ctx, data)
}

// SendAndWait writes a request and awaits its matching Response up to
// timeout. A timeout yields (nil, nil) — not an error — per spec §4.2.
func (s *Session) SendAndWait(ctx context.Context, req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	ch := s.RegisterReply(req.ID)
	defer s.ReleaseReply(req.ID)

	if err := s.Send(ctx, req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears the session down: cancels all timer handles, releases the
// auto-play task, drops the pending action, and closes the transport. Safe
// to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.instructionTimer != nil {
			s.instructionTimer.Stop()
		}
		if s.wakeTimeoutTimer != nil {
			s.wakeTimeoutTimer.Stop()
		}
		if s.autoPlayCancel != nil {
			s.autoPlayCancel()
		}
		s.pendingAction = nil
		for id, ch := range s.pendingReplies {
			close(ch)
			delete(s.pendingReplies, id)
		}
		s.mu.Unlock()
		err = s.Transport.Close()
	})
	return err
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
