// Package peer implements spec §4.7: a Peer is a collection of
// sessions (MockConnections) sharing a step-list provider and recorded
// messages, plus the unassigned-external registry consumed by the
// `attach-external` control message.
package peer

import (
	"context"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/n0remac/mockrtc/engine"
	"github.com/n0remac/mockrtc/events"
	"github.com/n0remac/mockrtc/mock"
	"github.com/n0remac/mockrtc/mockerr"
	"github.com/n0remac/mockrtc/model"
	"github.com/n0remac/mockrtc/steps"
)

// MatchingPeerID is the reserved id of the server's distinguished
// matching peer, per spec §3/§4.8.
const MatchingPeerID = "matching-peer"

// StepsProvider returns the step list to run for conn. A built peer
// ignores conn and returns a fixed list; the matching peer's provider
// (supplied by the mockserver package) blocks on conn reaching
// connected, evaluates rules against it, and returns the winning
// list or `[dynamic-proxy()]`.
type StepsProvider func(ctx context.Context, conn *engine.Connection) ([]steps.Def, error)

// RecordedMessage is one payload recorded on a channel, per spec
// §4.7's recording feature.
type RecordedMessage struct {
	ChannelLabel string
	Data         []byte
	IsBinary     bool
}

// Peer is spec §4.7.
type Peer struct {
	id string

	api        *webrtc.API
	iceServers []string
	bus        *events.Bus

	stepsProvider  StepsProvider
	recordMessages bool
	interp         steps.Interpreter

	mu          sync.Mutex
	connections map[string]*mock.MockConnection
	externals   map[string]*engine.Connection
	messages    map[string][]RecordedMessage
	closed      bool
}

// New builds a Peer. id should be a UUID for a built peer, or
// MatchingPeerID for the server's matching peer.
func New(id string, api *webrtc.API, iceServers []string, bus *events.Bus, recordMessages bool, provider StepsProvider) *Peer {
	p := &Peer{
		id:             id,
		api:            api,
		iceServers:     iceServers,
		bus:            bus,
		stepsProvider:  provider,
		recordMessages: recordMessages,
		connections:    make(map[string]*mock.MockConnection),
		externals:      make(map[string]*engine.Connection),
		messages:       make(map[string][]RecordedMessage),
	}
	p.interp = steps.Interpreter{NewExternal: p.newBareConnection}
	return p
}

// ID returns the peer's id.
func (p *Peer) ID() string { return p.id }

func (p *Peer) newPeerConnection() (*engine.Connection, error) {
	pc, err := engine.NewPeerConnection(p.api, p.iceServers)
	if err != nil {
		return nil, mockerr.Wrap(mockerr.TransportFailure, "create peer connection", err)
	}
	return engine.NewConnection(p.api, pc, model.ConnectionMetadata{}), nil
}

// newBareConnection builds an unwrapped Connection, used for
// peer-proxy's external leg (steps.ExternalFactory).
func (p *Peer) newBareConnection() (*engine.Connection, error) {
	return p.newPeerConnection()
}

func (p *Peer) lookupExternal(id string) (*engine.Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ext, ok := p.externals[id]
	if ok {
		delete(p.externals, id)
	}
	return ext, ok
}

func (p *Peer) register(mc *mock.MockConnection) {
	p.mu.Lock()
	p.connections[mc.ID()] = mc
	p.mu.Unlock()

	attachEventTranslation(p.id, mc.Connection, p.bus)
	mc.OnExternalAttached.On(func(ext *engine.Connection) {
		p.bus.Publish(events.ExternalPeerAttached{
			Base:         events.Base{PeerID: p.id, SessionID: mc.ID(), EventTimestamp: mc.Timing().ExternalAttachTimestamp},
			TimingEvents: mc.Timing(),
			ExternalConnection: externalConnectionInfo(ext),
		})
	})
	if p.recordMessages {
		attachRecording(p, mc.Connection)
	}

	mc.OnClosed.On(func(struct{}) {
		p.mu.Lock()
		delete(p.connections, mc.ID())
		p.mu.Unlock()
	})
}

func (p *Peer) registerExternal(conn *engine.Connection) {
	p.mu.Lock()
	p.externals[conn.ID()] = conn
	p.mu.Unlock()
	conn.OnClosed.On(func(struct{}) {
		p.mu.Lock()
		delete(p.externals, conn.ID())
		p.mu.Unlock()
	})
}

func (p *Peer) runStepRuntime(ctx context.Context, mc *mock.MockConnection) {
	defs, err := p.stepsProvider(ctx, mc.Connection)
	if err != nil {
		log.Printf("[peer] step provider failed for connection %s: %v", mc.ID(), err)
		_ = mc.Close()
		return
	}
	if err := p.interp.Run(ctx, mc, defs); err != nil {
		log.Printf("[peer] step runtime ended with error for connection %s: %v", mc.ID(), err)
	}
}

// CreateOffer implements spec §4.7's createOffer: a new MockConnection
// is registered, event translation attached, and the step runtime
// started asynchronously.
func (p *Peer) CreateOffer(ctx context.Context, opts engine.CreateOfferOptions) (model.SessionDescription, string, error) {
	conn, err := p.newPeerConnection()
	if err != nil {
		return model.SessionDescription{}, "", err
	}
	mc := mock.New(conn, p.lookupExternal)
	p.register(mc)

	desc, err := conn.CreateOffer(ctx, opts)
	if err != nil {
		_ = mc.Close()
		return model.SessionDescription{}, "", err
	}
	go p.runStepRuntime(ctx, mc)
	return desc, mc.ID(), nil
}

// AnswerOffer implements spec §4.7's answerOffer. sessionID selects an
// existing session; an empty sessionID creates a new one.
func (p *Peer) AnswerOffer(ctx context.Context, sessionID string, offer model.SessionDescription, opts engine.AnswerOfferOptions) (model.SessionDescription, string, error) {
	if sessionID != "" {
		mc, err := p.getMockConnection(sessionID)
		if err != nil {
			return model.SessionDescription{}, "", err
		}
		desc, err := mc.AnswerOffer(ctx, offer, opts)
		return desc, mc.ID(), err
	}

	conn, err := p.newPeerConnection()
	if err != nil {
		return model.SessionDescription{}, "", err
	}
	mc := mock.New(conn, p.lookupExternal)
	p.register(mc)

	desc, err := conn.AnswerOffer(ctx, offer, opts)
	if err != nil {
		_ = mc.Close()
		return model.SessionDescription{}, "", err
	}
	go p.runStepRuntime(ctx, mc)
	return desc, mc.ID(), nil
}

// CompleteOffer implements spec §4.7's completeOffer.
func (p *Peer) CompleteOffer(sessionID string, answer model.SessionDescription) error {
	mc, err := p.getMockConnection(sessionID)
	if err != nil {
		return err
	}
	return mc.CompleteOffer(answer)
}

// CreateExternalOffer builds a bare Connection (no step runtime),
// registered in the unassigned-externals map keyed by its id.
func (p *Peer) CreateExternalOffer(ctx context.Context, opts engine.CreateOfferOptions) (model.SessionDescription, string, error) {
	conn, err := p.newPeerConnection()
	if err != nil {
		return model.SessionDescription{}, "", err
	}
	desc, err := conn.CreateOffer(ctx, opts)
	if err != nil {
		_ = conn.Close()
		return model.SessionDescription{}, "", err
	}
	p.registerExternal(conn)
	return desc, conn.ID(), nil
}

// AnswerExternalOffer is the answer-side counterpart of
// CreateExternalOffer.
func (p *Peer) AnswerExternalOffer(ctx context.Context, offer model.SessionDescription, opts engine.AnswerOfferOptions) (model.SessionDescription, string, error) {
	conn, err := p.newPeerConnection()
	if err != nil {
		return model.SessionDescription{}, "", err
	}
	desc, err := conn.AnswerOffer(ctx, offer, opts)
	if err != nil {
		_ = conn.Close()
		return model.SessionDescription{}, "", err
	}
	p.registerExternal(conn)
	return desc, conn.ID(), nil
}

func (p *Peer) getMockConnection(sessionID string) (*mock.MockConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mc, ok := p.connections[sessionID]
	if !ok {
		return nil, mockerr.New(mockerr.NotFound, "unknown session id")
	}
	return mc, nil
}

// GetAllMessages implements spec §4.7's getAllMessages query.
func (p *Peer) GetAllMessages() (map[string][]RecordedMessage, error) {
	if !p.recordMessages {
		return nil, mockerr.New(mockerr.RecordingDisabled, "message recording is disabled on this peer")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]RecordedMessage, len(p.messages))
	for k, v := range p.messages {
		out[k] = append([]RecordedMessage{}, v...)
	}
	return out, nil
}

// GetMessagesOnChannel implements spec §4.7's getMessagesOnChannel
// query.
func (p *Peer) GetMessagesOnChannel(label string) ([]RecordedMessage, error) {
	if !p.recordMessages {
		return nil, mockerr.New(mockerr.RecordingDisabled, "message recording is disabled on this peer")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RecordedMessage{}, p.messages[label]...), nil
}

// Close closes every tracked connection (built and external) in
// parallel, per spec §4.7.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*mock.MockConnection, 0, len(p.connections))
	for _, c := range p.connections {
		conns = append(conns, c)
	}
	exts := make([]*engine.Connection, 0, len(p.externals))
	for _, c := range p.externals {
		exts = append(exts, c)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *mock.MockConnection) { defer wg.Done(); _ = c.Close() }(c)
	}
	for _, c := range exts {
		wg.Add(1)
		go func(c *engine.Connection) { defer wg.Done(); _ = c.Close() }(c)
	}
	wg.Wait()
	return nil
}
