package transport

import (
	"context"
	"testing"
	"time"

	"github.com/voicegrow/speaker-orchestrator/internal/endpoint"
	"github.com/voicegrow/speaker-orchestrator/internal/logging"
	"github.com/voicegrow/speaker-orchestrator/internal/protocol"
	"github.com/voicegrow/speaker-orchestrator/internal/session"
)

type fakeTransport struct {
	writes [][]byte
	closed bool
}

func (f *fakeTransport) WriteMessage(ctx context.Context, data []byte) error {
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func TestManager_GetAfterClose(t *testing.T) {
	m := NewManager(&logging.NoOpLogger{})
	tr := &fakeTransport{}
	s := session.New("dev1", tr, endpoint.Params{})

	m.mu.Lock()
	m.sessions["dev1"] = s
	m.mu.Unlock()

	if _, ok := m.Get("dev1"); !ok {
		t.Fatal("expected session to be registered")
	}

	m.Close("dev1")

	if _, ok := m.Get("dev1"); ok {
		t.Fatal("expected session to be removed after close")
	}
	if !tr.closed {
		t.Fatal("expected underlying transport to be closed")
	}
}

func TestManager_EvictsPriorSessionOnReuse(t *testing.T) {
	m := NewManager(&logging.NoOpLogger{})
	tr1 := &fakeTransport{}
	s1 := session.New("dev1", tr1, endpoint.Params{})

	m.mu.Lock()
	m.sessions["dev1"] = s1
	m.mu.Unlock()

	s2 := m.AcceptWithID("dev1", nil, endpoint.Params{})

	got, ok := m.Get("dev1")
	if !ok || got != s2 {
		t.Fatal("expected the newer session to replace the prior one under the same device id")
	}
}

func TestManager_SendRequestNoSessionReturnsNilNil(t *testing.T) {
	m := NewManager(&logging.NoOpLogger{})
	resp, err := m.SendRequest(context.Background(), "missing", &protocol.Request{ID: "x"}, true, 10*time.Millisecond)
	if err != nil || resp != nil {
		t.Fatalf("expected nil, nil for unknown device, got %v, %v", resp, err)
	}
}

func TestManager_BroadcastSendsToAllSessions(t *testing.T) {
	m := NewManager(&logging.NoOpLogger{})
	tr1 := &fakeTransport{}
	tr2 := &fakeTransport{}
	s1 := session.New("dev1", tr1, endpoint.Params{})
	s2 := session.New("dev2", tr2, endpoint.Params{})

	m.mu.Lock()
	m.sessions["dev1"] = s1
	m.sessions["dev2"] = s2
	m.mu.Unlock()

	m.Broadcast(context.Background(), &protocol.Request{ID: "b1", Command: "get_version"})

	if len(tr1.writes) != 1 || len(tr2.writes) != 1 {
		t.Fatalf("expected broadcast to reach both sessions, got %d and %d writes", len(tr1.writes), len(tr2.writes))
	}
}
