package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voicegrow/speaker-orchestrator/internal/collaborators"
	"github.com/voicegrow/speaker-orchestrator/internal/endpoint"
	"github.com/voicegrow/speaker-orchestrator/internal/handlers"
	"github.com/voicegrow/speaker-orchestrator/internal/logging"
	"github.com/voicegrow/speaker-orchestrator/internal/protocol"
	"github.com/voicegrow/speaker-orchestrator/internal/session"
)

type fakeTransport struct {
	writes [][]byte
}

func (f *fakeTransport) WriteMessage(ctx context.Context, data []byte) error {
	f.writes = append(f.writes, data)
	return nil
}
func (f *fakeTransport) Close() error { return nil }

type fakeASR struct {
	text string
	err  error
}

func (a *fakeASR) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	return a.text, a.err
}

type fakeNLU struct {
	result collaborators.NLUResult
	err    error
}

func (n *fakeNLU) Recognize(ctx context.Context, text string) (collaborators.NLUResult, error) {
	if n.err != nil {
		return collaborators.NLUResult{}, n.err
	}
	r := n.result
	r.RawText = text
	return r, nil
}

type failingHandler struct{ err error }

func (f *failingHandler) Name() string { return "failing" }
func (f *failingHandler) Handle(ctx context.Context, deviceID string, nlu collaborators.NLUResult) (*handlers.HandlerResponse, error) {
	return nil, f.err
}

type fakeTTS struct{ calls int }

func (f *fakeTTS) SynthesizeToURL(ctx context.Context, text, language string) (string, error) {
	f.calls++
	return "https://tts.example/clip.mp3", nil
}

func newTestPipeline(nlu collaborators.NLU, reg *handlers.Registry) (*Pipeline, *session.Session, *fakeTransport) {
	tr := &fakeTransport{}
	sess := session.New("dev1", tr, endpoint.Params{})
	p := &Pipeline{
		ASR:      &fakeASR{text: "hello"},
		NLU:      nlu,
		TTS:      &fakeTTS{},
		Registry: reg,
		Log:      &logging.NoOpLogger{},
	}
	return p, sess, tr
}

func TestProcessAudio_EmptyTranscriptionSpeaksApology(t *testing.T) {
	reg := handlers.NewRegistry()
	p, sess, tr := newTestPipeline(&fakeNLU{}, reg)
	p.ASR = &fakeASR{text: "   "}

	if err := p.ProcessAudio(context.Background(), sess, []byte{}, 16000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// abort_xiaoai + pause + the synthesized apology, since the apology
	// response never sets SkipInterrupt.
	if len(tr.writes) != 3 {
		t.Fatalf("expected abort+pause+apology (3 writes) for empty transcription, got %d", len(tr.writes))
	}
	if sess.ListenState() != session.Idle {
		t.Fatalf("expected Idle listen state, got %s", sess.ListenState())
	}
}

func TestProcessAudio_TranscriptionErrorSpeaksApology(t *testing.T) {
	reg := handlers.NewRegistry()
	p, sess, tr := newTestPipeline(&fakeNLU{}, reg)
	p.ASR = &fakeASR{err: errors.New("stt unavailable")}

	if err := p.ProcessAudio(context.Background(), sess, []byte{}, 16000); err != ErrTranscriptionFailed {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}
	if len(tr.writes) != 3 {
		t.Fatalf("expected abort+pause+apology (3 writes), got %d", len(tr.writes))
	}
	if sess.ListenState() != session.Idle {
		t.Fatalf("expected Idle listen state, got %s", sess.ListenState())
	}
}

func TestProcessText_NLUErrorSpeaksApology(t *testing.T) {
	reg := handlers.NewRegistry()
	p, sess, tr := newTestPipeline(&fakeNLU{err: errors.New("nlu down")}, reg)

	if err := p.ProcessText(context.Background(), sess, "随便说点什么"); err == nil {
		t.Fatal("expected the NLU error to propagate")
	}
	if len(tr.writes) != 3 {
		t.Fatalf("expected abort+pause+apology (3 writes), got %d", len(tr.writes))
	}
}

func TestProcessText_NoHandlerSpeaksApology(t *testing.T) {
	reg := handlers.NewRegistry()
	nlu := &fakeNLU{result: collaborators.NLUResult{Intent: collaborators.IntentSystemWeather}}
	p, sess, tr := newTestPipeline(nlu, reg)

	if err := p.ProcessText(context.Background(), sess, "今天天气怎么样"); err != ErrNoHandler {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
	if len(tr.writes) != 3 {
		t.Fatalf("expected abort+pause+apology (3 writes), got %d", len(tr.writes))
	}
}

func TestProcessText_HandlerErrorSpeaksApology(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&failingHandler{err: errors.New("handler exploded")}, collaborators.IntentSystemTime)
	nlu := &fakeNLU{result: collaborators.NLUResult{Intent: collaborators.IntentSystemTime}}
	p, sess, tr := newTestPipeline(nlu, reg)

	if err := p.ProcessText(context.Background(), sess, "几点了"); err == nil {
		t.Fatal("expected the handler error to propagate")
	}
	if len(tr.writes) != 3 {
		t.Fatalf("expected abort+pause+apology (3 writes), got %d", len(tr.writes))
	}
}

func TestProcessText_RoutesToHandlerAndSendsPlayText(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&stubTextHandler{text: "现在是三点整"}, collaborators.IntentSystemTime)

	nlu := &fakeNLU{result: collaborators.NLUResult{Intent: collaborators.IntentSystemTime}}
	p, sess, tr := newTestPipeline(nlu, reg)

	if err := p.ProcessText(context.Background(), sess, "几点了"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// abort_xiaoai + pause + the synthesized reply, since this handler never
	// sets SkipInterrupt.
	if len(tr.writes) != 3 {
		t.Fatalf("expected abort+pause+reply (3 writes), got %d", len(tr.writes))
	}
	if sess.ListenState() != session.Idle {
		t.Fatalf("expected Idle listen state after responding, got %s", sess.ListenState())
	}
}

func TestRespond_SkipsInterruptWhenHandlerAsks(t *testing.T) {
	reg := handlers.NewRegistry()
	p, sess, tr := newTestPipeline(&fakeNLU{}, reg)

	if err := p.respond(context.Background(), sess, &handlers.HandlerResponse{
		SkipInterrupt: true,
		Commands:      []*protocol.Request{protocol.Play()},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.writes) != 1 {
		t.Fatalf("expected only the command write (no interrupt), got %d writes", len(tr.writes))
	}
}

func TestRespond_IssuesInterruptByDefault(t *testing.T) {
	reg := handlers.NewRegistry()
	p, sess, tr := newTestPipeline(&fakeNLU{}, reg)

	if err := p.respond(context.Background(), sess, &handlers.HandlerResponse{Text: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.writes) != 3 {
		t.Fatalf("expected abort+pause+reply (3 writes), got %d", len(tr.writes))
	}
}

func TestRespond_SpeaksTextThenPlaysURLWhenBothPresent(t *testing.T) {
	reg := handlers.NewRegistry()
	p, sess, tr := newTestPipeline(&fakeNLU{}, reg)
	p.ReplyTimeout = 50 * time.Millisecond
	tts := p.TTS.(*fakeTTS)

	if err := p.respond(context.Background(), sess, &handlers.HandlerResponse{
		SkipInterrupt: true,
		Text:          "为你播放小红帽",
		PlayURL:       "https://cdn.example/s1.mp3",
		ContentID:     "s1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tts.calls != 1 {
		t.Fatalf("expected exactly one TTS synthesis call, got %d", tts.calls)
	}
	// the TTS clip is awaited (SendAndWait) before the content URL is sent,
	// so both still land as two writes on the fake transport.
	if len(tr.writes) != 2 {
		t.Fatalf("expected tts clip + content url (2 writes), got %d", len(tr.writes))
	}
	if sess.CurrentContentID() != "s1" {
		t.Fatalf("expected current content id to be set, got %q", sess.CurrentContentID())
	}
}

func TestRespond_ContinueListeningSendsSilentWake(t *testing.T) {
	reg := handlers.NewRegistry()
	p, sess, tr := newTestPipeline(&fakeNLU{}, reg)

	if err := p.respond(context.Background(), sess, &handlers.HandlerResponse{
		SkipInterrupt:     true,
		ContinueListening: true,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.writes) != 1 {
		t.Fatalf("expected exactly one write (the silent wake), got %d", len(tr.writes))
	}
}

func TestProcessText_PendingConfirmationTakesPriority(t *testing.T) {
	catalog := collaborators.NewMemoryContentCatalog([]collaborators.ContentItem{
		{ID: "s1", Title: "小红帽"},
	})
	del := handlers.NewDeleteHandler(catalog)
	reg := handlers.NewRegistry()
	reg.Register(del, collaborators.IntentDeleteContent)

	nlu := &fakeNLU{result: collaborators.NLUResult{Intent: collaborators.IntentDeleteContent, Slots: map[string]string{"name": "小红帽"}}}
	p, sess, _ := newTestPipeline(nlu, reg)

	if err := p.ProcessText(context.Background(), sess, "删除小红帽"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.GetPendingAction() == nil {
		t.Fatal("expected a pending action to be set")
	}

	if err := p.ProcessText(context.Background(), sess, "确认删除"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.GetPendingAction() != nil {
		t.Fatal("expected pending action to be cleared after confirmation")
	}
	if _, err := catalog.GetContentByID(context.Background(), "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProcessText_ExpiredPendingActionIsDiscarded(t *testing.T) {
	reg := handlers.NewRegistry()
	p, sess, _ := newTestPipeline(&fakeNLU{result: collaborators.NLUResult{Intent: collaborators.IntentUnknown}}, reg)

	sess.SetPendingAction(&session.PendingAction{
		ActionType:  "delete_content",
		HandlerName: "delete",
		CreatedAt:   time.Now().Add(-time.Hour),
		Timeout:     30 * time.Second,
	})

	_ = p.ProcessText(context.Background(), sess, "随便说点什么")
	if sess.GetPendingAction() != nil {
		t.Fatal("expected expired pending action to be cleared")
	}
}

type stubTextHandler struct{ text string }

func (s *stubTextHandler) Name() string { return "stub" }
func (s *stubTextHandler) Handle(ctx context.Context, deviceID string, nlu collaborators.NLUResult) (*handlers.HandlerResponse, error) {
	return &handlers.HandlerResponse{Text: s.text}, nil
}
