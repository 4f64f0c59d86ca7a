// Package transport implements the connection manager of spec §4.2: the
// registry of live device sessions, atomic accept/evict, request/reply
// matching, and the inbound-frame read loop that feeds the coordinator.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voicegrow/speaker-orchestrator/internal/endpoint"
	"github.com/voicegrow/speaker-orchestrator/internal/logging"
	"github.com/voicegrow/speaker-orchestrator/internal/protocol"
	"github.com/voicegrow/speaker-orchestrator/internal/session"
)

// wsTransport adapts a *websocket.Conn to session.Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (w *wsTransport) WriteMessage(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsTransport) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}

// Manager owns the set of live sessions keyed by device id (spec §4.2).
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	log      logging.Logger
}

func NewManager(log logging.Logger) *Manager {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &Manager{sessions: make(map[string]*session.Session), log: log}
}

// Accept registers a new session for a freshly dialed connection, generating
// a device id. The operation is atomic with respect to concurrent accepts
// and lookups.
func (m *Manager) Accept(conn *websocket.Conn, params endpoint.Params) *session.Session {
	return m.AcceptWithID(uuid.NewString(), conn, params)
}

// AcceptWithID registers a session under an explicit device id, evicting
// (best-effort close) any prior session already registered under that id —
// the "programmatic reuse" path of spec §4.2.
func (m *Manager) AcceptWithID(deviceID string, conn *websocket.Conn, params endpoint.Params) *session.Session {
	tr := &wsTransport{conn: conn}
	sess := session.New(deviceID, tr, params)

	m.mu.Lock()
	if prior, ok := m.sessions[deviceID]; ok {
		go func() {
			if err := prior.Close(); err != nil {
				m.log.Warn("failed to close evicted session %s: %v", deviceID, err)
			}
		}()
	}
	m.sessions[deviceID] = sess
	m.mu.Unlock()

	return sess
}

// Get looks up a session by device id.
func (m *Manager) Get(deviceID string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[deviceID]
	return s, ok
}

// Close removes a session from the registry and tears it down. Send
// failures encountered elsewhere are logged, not escalated into a close —
// the transport layer surfaces disconnection on its own.
func (m *Manager) Close(deviceID string) {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	if ok {
		delete(m.sessions, deviceID)
	}
	m.mu.Unlock()
	if ok {
		if err := s.Close(); err != nil {
			m.log.Warn("error closing session %s: %v", deviceID, err)
		}
	}
}

// SendRequest serializes and writes a request to a device; if waitForReply,
// it also awaits the matching Response up to timeout. A reply-future
// timeout returns (nil, nil), not an error.
func (m *Manager) SendRequest(ctx context.Context, deviceID string, req *protocol.Request, waitForReply bool, timeout time.Duration) (*protocol.Response, error) {
	s, ok := m.Get(deviceID)
	if !ok {
		return nil, nil
	}
	if !waitForReply {
		if err := s.Send(ctx, req); err != nil {
			m.log.Warn("send failed for device %s: %v", deviceID, err)
		}
		return nil, nil
	}
	return s.SendAndWait(ctx, req, timeout)
}

// Broadcast fire-and-forgets a request across every live session.
func (m *Manager) Broadcast(ctx context.Context, req *protocol.Request) {
	m.mu.Lock()
	targets := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	for _, s := range targets {
		if err := s.Send(ctx, req); err != nil {
			m.log.Warn("broadcast send failed for device %s: %v", s.DeviceID, err)
		}
	}
}

// FrameHandlers are the coordinator's callbacks for each inbound frame kind.
// Keeping this a plain struct of funcs (rather than transport importing the
// coordinator package) keeps the dependency one-directional.
type FrameHandlers struct {
	OnEvent    func(sess *session.Session, ev *protocol.Event)
	OnResponse func(sess *session.Session, resp *protocol.Response)
	OnStream   func(sess *session.Session, stream *protocol.Stream)
	OnRawPCM   func(sess *session.Session, pcm []byte)
}

// Serve runs the inbound-frame loop for one session until the connection
// closes or ctx is cancelled. Per §5, this loop must never block on
// pipeline work — handlers are expected to dispatch detached tasks
// themselves for anything long-running.
func (m *Manager) Serve(ctx context.Context, conn *websocket.Conn, sess *session.Session, handlers FrameHandlers) {
	defer m.Close(sess.DeviceID)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		switch msgType {
		case websocket.MessageText:
			ev, resp, ok := protocol.ParseTextMessage(data)
			if !ok {
				m.log.Warn("dropped unparseable frame from device %s", sess.DeviceID)
				continue
			}
			if ev != nil && handlers.OnEvent != nil {
				handlers.OnEvent(sess, ev)
			}
			if resp != nil {
				sess.ResolveReply(resp)
				if handlers.OnResponse != nil {
					handlers.OnResponse(sess, resp)
				}
			}
		case websocket.MessageBinary:
			if stream, ok := protocol.ParseBinaryMessage(data); ok {
				if handlers.OnStream != nil {
					handlers.OnStream(sess, stream)
				}
			} else if handlers.OnRawPCM != nil {
				handlers.OnRawPCM(sess, data)
			}
		}
	}
}
