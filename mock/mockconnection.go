// Package mock implements MockConnection, spec §4.5: a Connection
// extended with the MockRTC control channel, external-connection
// attachment, and the bidirectional traffic proxy bridge used by the
// dynamic-proxy and peer-proxy steps.
package mock

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/n0remac/mockrtc/engine"
	"github.com/n0remac/mockrtc/mockerr"
	"github.com/n0remac/mockrtc/xsync"
)

// ControlChannelLabel is the well-known label of the single control
// channel a MockConnection accepts, per spec §4.5. MockConnection does
// not open this channel itself; it adopts the first channel created
// on the connection with this label.
const ControlChannelLabel = "mockrtc.control-channel"

type controlMessageType string

const (
	controlAttachExternal controlMessageType = "attach-external"
	controlError           controlMessageType = "error"
)

type controlMessage struct {
	Type  controlMessageType `json:"type"`
	ID    string             `json:"id,omitempty"`
	Error string             `json:"error,omitempty"`
}

// ExternalLookup resolves an unassigned external Connection id to its
// Connection, removing it from the owning Peer's registry. It is
// supplied by the peer package so mock never imports peer (peer
// imports mock, not the other way around).
type ExternalLookup func(id string) (*engine.Connection, bool)

// MockConnection is spec §4.5.
type MockConnection struct {
	*engine.Connection

	mu       sync.Mutex
	control  *engine.DataChannelStream
	external *engine.Connection
	lookup   ExternalLookup

	OnExternalAttached xsync.Signal[*engine.Connection]
}

// New wraps conn with the control-channel/proxy behaviour of §4.5.
// lookup is consulted on an attach-external control message.
func New(conn *engine.Connection, lookup ExternalLookup) *MockConnection {
	m := &MockConnection{Connection: conn, lookup: lookup}
	m.OnExternalAttached.Latch()

	conn.OnChannelCreated.On(func(ch *engine.DataChannelStream) {
		if ch.Label() != ControlChannelLabel {
			return
		}
		m.mu.Lock()
		if m.control != nil {
			m.mu.Unlock()
			err := mockerr.New(mockerr.InvalidState, "duplicate control channel on connection "+conn.ID())
			log.Printf("[mock] %v", err)
			_ = conn.Close()
			return
		}
		m.control = ch
		m.mu.Unlock()
		ch.OnReadData(m.handleControlMessage)
	})
	return m
}

func (m *MockConnection) handleControlMessage(msg engine.Message) {
	var cm controlMessage
	if err := json.Unmarshal(msg.Bytes(), &cm); err != nil {
		m.replyError("malformed control message")
		return
	}
	switch cm.Type {
	case controlAttachExternal:
		m.attachExternal(cm.ID)
	case controlError:
		// informational only; nothing to do on receipt.
	default:
		m.replyError("unknown control message type")
	}
}

func (m *MockConnection) attachExternal(id string) {
	m.mu.Lock()
	if m.external != nil {
		m.mu.Unlock()
		err := mockerr.New(mockerr.InvalidState, "duplicate attach-external on connection "+m.ID())
		log.Printf("[mock] %v", err)
		m.replyError(err.Error())
		_ = m.Close()
		return
	}
	m.mu.Unlock()

	if m.lookup == nil {
		m.replyError("no external connection registry available")
		return
	}
	ext, ok := m.lookup(id)
	if !ok {
		m.replyError("unknown external connection id")
		return
	}

	m.mu.Lock()
	m.external = ext
	m.mu.Unlock()
	m.OnExternalAttached.Emit(ext)
}

func (m *MockConnection) replyError(reason string) {
	m.mu.Lock()
	ctrl := m.control
	m.mu.Unlock()
	if ctrl == nil {
		return
	}
	payload, _ := json.Marshal(controlMessage{Type: controlError, Error: reason})
	if err := ctrl.Write(engine.TextMessage(string(payload))); err != nil {
		log.Printf("[mock] control channel error reply failed: %v", err)
	}
}

// External returns the attached external connection, if any.
func (m *MockConnection) External() (*engine.Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.external, m.external != nil
}

// ProxyTrafficTo wires the bidirectional bridge of spec §4.5: every
// existing and future local-created-on-the-external or
// remote-opened-on-either channel gets a mirror channel on the other
// side, piped in both directions. Closing either connection closes
// the peer.
func (m *MockConnection) ProxyTrafficTo(external *engine.Connection) error {
	m.mu.Lock()
	m.external = external
	m.mu.Unlock()

	bridgeChannel := func(source *engine.Connection, target *engine.Connection, ch *engine.DataChannelStream) {
		mirror, err := target.CreateDataChannel(ch.Label())
		if err != nil {
			log.Printf("[mock] proxy bridge: failed to open mirror channel %q: %v", ch.Label(), err)
			return
		}
		ch.OnReadData(func(msg engine.Message) {
			if err := mirror.Write(msg); err != nil {
				log.Printf("[mock] proxy bridge write failed on %q: %v", ch.Label(), err)
			}
		})
		mirror.OnReadData(func(msg engine.Message) {
			if err := ch.Write(msg); err != nil {
				log.Printf("[mock] proxy bridge write failed on %q: %v", ch.Label(), err)
			}
		})
	}

	bridgeIfEligible := func(owner, other *engine.Connection, ch *engine.DataChannelStream) {
		if ch.Label() == ControlChannelLabel {
			return
		}
		if ch.IsLocal() && owner != external {
			return
		}
		bridgeChannel(owner, other, ch)
	}

	for _, ch := range external.Channels() {
		bridgeIfEligible(external, m.Connection, ch)
	}
	for _, ch := range m.Channels() {
		if !ch.IsLocal() {
			bridgeIfEligible(m.Connection, external, ch)
		}
	}
	external.OnChannelCreated.On(func(ch *engine.DataChannelStream) {
		bridgeIfEligible(external, m.Connection, ch)
	})
	m.OnChannelCreated.On(func(ch *engine.DataChannelStream) {
		if !ch.IsLocal() {
			bridgeIfEligible(m.Connection, external, ch)
		}
	})

	closePeer := func() {
		_ = m.Close()
		_ = external.Close()
	}
	m.OnClosed.On(func(struct{}) { closePeer() })
	external.OnClosed.On(func(struct{}) { closePeer() })
	return nil
}

// WaitForDynamicProxy implements spec §4.5's dynamic-proxy behaviour:
// if no external is attached yet, wait for external-connection
// attachment, then bridge to it.
func (m *MockConnection) WaitForDynamicProxy() error {
	if ext, ok := m.External(); ok {
		return m.ProxyTrafficTo(ext)
	}
	done := make(chan *engine.Connection, 1)
	m.OnExternalAttached.On(func(ext *engine.Connection) {
		select {
		case done <- ext:
		default:
		}
	})
	ext := <-done
	return m.ProxyTrafficTo(ext)
}
