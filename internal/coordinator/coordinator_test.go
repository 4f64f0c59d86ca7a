package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/voicegrow/speaker-orchestrator/internal/collaborators"
	"github.com/voicegrow/speaker-orchestrator/internal/config"
	"github.com/voicegrow/speaker-orchestrator/internal/endpoint"
	"github.com/voicegrow/speaker-orchestrator/internal/handlers"
	"github.com/voicegrow/speaker-orchestrator/internal/logging"
	"github.com/voicegrow/speaker-orchestrator/internal/pipeline"
	"github.com/voicegrow/speaker-orchestrator/internal/protocol"
	"github.com/voicegrow/speaker-orchestrator/internal/session"
)

type fakeTransport struct {
	mu     sync.Mutex
	writes []string
}

func (f *fakeTransport) WriteMessage(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, commandOf(data))
	return nil
}
func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	copy(out, f.writes)
	return out
}

// commandOf pulls the shell string (or bare command name for non-shell
// requests) out of a marshaled wire frame, so assertions can match on the
// underlying device action rather than the full envelope.
func commandOf(data []byte) string {
	var envelope struct {
		Request struct {
			Command string          `json:"command"`
			Payload json.RawMessage `json:"payload"`
		} `json:"Request"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ""
	}
	if envelope.Request.Command != "run_shell" {
		return envelope.Request.Command
	}
	var shell string
	_ = json.Unmarshal(envelope.Request.Payload, &shell)
	return shell
}

type fakeASR struct{ text string }

func (a *fakeASR) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	return a.text, nil
}

type countingHandler struct {
	mu    sync.Mutex
	calls []string
}

func (h *countingHandler) Name() string { return "counter" }
func (h *countingHandler) Handle(ctx context.Context, deviceID string, nlu collaborators.NLUResult) (*handlers.HandlerResponse, error) {
	h.mu.Lock()
	h.calls = append(h.calls, nlu.RawText)
	h.mu.Unlock()
	return &handlers.HandlerResponse{SkipInterrupt: true}, nil
}
func (h *countingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}
func (h *countingHandler) callsSnapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.calls))
	copy(out, h.calls)
	return out
}

type echoNLU struct{}

func (echoNLU) Recognize(ctx context.Context, text string) (collaborators.NLUResult, error) {
	return collaborators.NLUResult{Intent: collaborators.IntentChat, RawText: text}, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *session.Session, *fakeTransport, *countingHandler) {
	t.Helper()
	tr := &fakeTransport{}
	params := endpoint.Params{EnergyThreshold: 0.02, SilenceThreshold: 50 * time.Millisecond, MinDuration: 20 * time.Millisecond, MaxDuration: time.Second}
	sess := session.New("dev1", tr, params)

	h := &countingHandler{}
	reg := handlers.NewRegistry()
	reg.Register(h, collaborators.IntentChat)

	p := &pipeline.Pipeline{
		ASR:      &fakeASR{text: "hi"},
		NLU:      echoNLU{},
		Registry: reg,
		Log:      &logging.NoOpLogger{},
	}

	cfg := config.Default()
	cfg.Audio.SampleRate = 16000
	cfg.Audio.WakeTimeout = 30 * time.Millisecond
	cfg.InstructionDebounce = 30 * time.Millisecond
	cfg.AutoPlayGuard = 30 * time.Millisecond

	queue := collaborators.NewMemoryPlayQueueStore()
	catalog := collaborators.NewMemoryContentCatalog(nil)
	c := New(p, queue, catalog, &logging.NoOpLogger{}, cfg)
	return c, sess, tr, h
}

func TestWakeWord_TimesOutToIdleWithStopRecording(t *testing.T) {
	c, sess, tr, _ := newTestCoordinator(t)

	c.OnEvent(sess, &protocol.Event{Event: "kws"})
	if sess.ListenState() != session.Woken {
		t.Fatalf("expected Woken immediately after kws, got %s", sess.ListenState())
	}

	time.Sleep(80 * time.Millisecond)

	if sess.ListenState() != session.Idle {
		t.Fatalf("expected Idle after wake timeout, got %s", sess.ListenState())
	}
	cmds := tr.commands()
	if len(cmds) < 3 {
		t.Fatalf("expected at least abort/start_recording/stop_recording, got %v", cmds)
	}
	if cmds[0] != "/etc/init.d/mico_aivs_lab restart >/dev/null 2>&1" {
		t.Fatalf("expected abort_xiaoai first, got %q", cmds[0])
	}
	if cmds[1] != "start_recording" {
		t.Fatalf("expected start_recording second, got %q", cmds[1])
	}
	if cmds[len(cmds)-1] != "stop_recording" {
		t.Fatalf("expected stop_recording as the final frame, got %q", cmds[len(cmds)-1])
	}
}

// TestOnRawPCM_FeedsEndpointerJustLikeOnStream models §6.1 scenario S9: a
// binary frame that fails the Stream JSON decode still carries audio, and
// must reach the endpointer (and trip ShouldStop the same way a decoded
// frame would) rather than being dropped.
func TestOnRawPCM_FeedsEndpointerJustLikeOnStream(t *testing.T) {
	c, sess, _, h := newTestCoordinator(t)

	c.OnEvent(sess, &protocol.Event{Event: "kws"})
	if sess.ListenState() != session.Woken {
		t.Fatalf("expected Woken after kws, got %s", sess.ListenState())
	}

	silence := make([]byte, 320)
	c.OnRawPCM(sess, silence)
	if sess.ListenState() != session.Listening {
		t.Fatalf("expected Listening after the first raw PCM frame, got %s", sess.ListenState())
	}

	time.Sleep(80 * time.Millisecond)
	c.OnRawPCM(sess, silence)

	time.Sleep(40 * time.Millisecond)
	if h.callCount() != 1 {
		t.Fatalf("expected raw PCM frames to drive the pipeline to completion, got %d calls", h.callCount())
	}
}

func TestInstruction_DebouncedDispatchThenReset(t *testing.T) {
	c, sess, _, h := newTestCoordinator(t)

	c.handleInstruction(context.Background(), sess, instructionEvent("播放音乐", false))
	time.Sleep(60 * time.Millisecond)
	if h.callCount() != 1 {
		t.Fatalf("expected 1 dispatch after first round settles, got %d", h.callCount())
	}

	c.handleInstruction(context.Background(), sess, instructionEvent("下一首", false))
	c.handleInstruction(context.Background(), sess, instructionEvent("下一首", true))
	time.Sleep(20 * time.Millisecond)

	if h.callCount() != 2 {
		t.Fatalf("expected 2 dispatches total, got %d", h.callCount())
	}
	calls := h.callsSnapshot()
	if calls[0] != "播放音乐" || calls[1] != "下一首" {
		t.Fatalf("expected dispatch order [播放音乐 下一首], got %v", calls)
	}
}

func TestInstruction_DuplicateFinalSuppressed(t *testing.T) {
	c, sess, _, h := newTestCoordinator(t)

	c.handleInstruction(context.Background(), sess, instructionEvent("上一首", false))
	c.handleInstruction(context.Background(), sess, instructionEvent("上一首", true))
	c.handleInstruction(context.Background(), sess, instructionEvent("上一首", true))
	time.Sleep(20 * time.Millisecond)

	if h.callCount() != 1 {
		t.Fatalf("expected exactly one dispatch for duplicate finals, got %d", h.callCount())
	}
}

func TestInstruction_InterceptedDuringPipeline(t *testing.T) {
	c, sess, tr, _ := newTestCoordinator(t)
	sess.SetPipelineActive(true)

	c.handleInstruction(context.Background(), sess, cloudPlaybackEvent())

	cmds := tr.commands()
	if len(cmds) != 2 {
		t.Fatalf("expected exactly 2 outbound frames (abort+pause), got %v", cmds)
	}
	if cmds[0] != "/etc/init.d/mico_aivs_lab restart >/dev/null 2>&1" || cmds[1] != "mphelper pause" {
		t.Fatalf("expected [abort_xiaoai, pause], got %v", cmds)
	}
}

func TestPlayingEvent_InterceptsCloudSeizeDuringPipeline(t *testing.T) {
	c, sess, tr, _ := newTestCoordinator(t)
	sess.SetPipelineActive(true)

	c.handlePlayingEvent(context.Background(), sess, playingEvent("Playing"))

	cmds := tr.commands()
	if len(cmds) != 2 || cmds[0] != "/etc/init.d/mico_aivs_lab restart >/dev/null 2>&1" || cmds[1] != "mphelper pause" {
		t.Fatalf("expected [abort_xiaoai, pause], got %v", cmds)
	}
}

func TestControlVolumeUp_DoesNotInterrupt(t *testing.T) {
	reg := handlers.NewRegistry()
	queue := collaborators.NewMemoryPlayQueueStore()
	ctl := handlers.NewControlHandler(queue, collaborators.NewMemoryContentCatalog(nil))
	reg.Register(ctl, collaborators.IntentControlVolumeUp)

	tr := &fakeTransport{}
	sess := session.New("dev1", tr, endpoint.Params{})

	p := &pipeline.Pipeline{
		ASR:      &fakeASR{},
		NLU:      fixedIntentNLU{collaborators.IntentControlVolumeUp},
		Registry: reg,
		Log:      &logging.NoOpLogger{},
	}

	if err := p.ProcessText(context.Background(), sess, "大声一点"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmds := tr.commands()
	for _, c := range cmds {
		if c == "/etc/init.d/mico_aivs_lab restart >/dev/null 2>&1" || c == "mphelper pause" {
			t.Fatalf("volume-up must not interrupt playback, got %v", cmds)
		}
	}
	if len(cmds) != 2 {
		t.Fatalf("expected [volume_ctrl up, play], got %v", cmds)
	}
}

type fixedIntentNLU struct{ intent collaborators.Intent }

func (n fixedIntentNLU) Recognize(ctx context.Context, text string) (collaborators.NLUResult, error) {
	return collaborators.NLUResult{Intent: n.intent, RawText: text}, nil
}

func instructionEvent(text string, final bool) *protocol.Event {
	result := map[string]any{"text": text}
	if final {
		result["is_stop"] = true
	}
	payload := map[string]any{
		"is_final": false,
		"results":  []any{result},
	}
	inner, _ := json.Marshal(map[string]any{
		"header":  map[string]string{"namespace": "SpeechRecognizer", "name": "Result"},
		"payload": payload,
	})
	wrapped, _ := json.Marshal(map[string]string{"NewLine": string(inner)})
	return &protocol.Event{Event: "instruction", Data: wrapped}
}

func cloudPlaybackEvent() *protocol.Event {
	inner, _ := json.Marshal(map[string]any{
		"header":  map[string]string{"namespace": "AudioPlayer", "name": "Play"},
		"payload": map[string]any{"is_final": true, "results": []any{map[string]any{"text": "", "is_stop": true}}},
	})
	wrapped, _ := json.Marshal(map[string]string{"NewLine": string(inner)})
	return &protocol.Event{Event: "instruction", Data: wrapped}
}

func playingEvent(state string) *protocol.Event {
	data, _ := json.Marshal(state)
	return &protocol.Event{Event: "playing", Data: data}
}
