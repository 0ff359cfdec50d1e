// Package mockserver implements the Server of spec §4.8: the peer
// registry, the distinguished matching peer, the rule list, and
// reset/stop lifecycle.
package mockserver

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/n0remac/mockrtc/engine"
	"github.com/n0remac/mockrtc/events"
	"github.com/n0remac/mockrtc/mockerr"
	"github.com/n0remac/mockrtc/peer"
	"github.com/n0remac/mockrtc/steps"
)

// Rule is {matchers[], steps[]} from spec §3, evaluated in insertion
// order by the matching peer.
type Rule struct {
	Matchers []steps.MatcherDef
	Steps    []steps.Def
}

// Server is spec §4.8.
type Server struct {
	api            *webrtc.API
	iceServers     []string
	recordMessages bool
	bus            *events.Bus

	mu           sync.Mutex
	peers        map[string]*peer.Peer
	matchingPeer *peer.Peer
	rules        []Rule
}

// New builds a Server with a fresh matching peer and empty rule list.
func New(api *webrtc.API, iceServers []string, recordMessages bool) *Server {
	s := &Server{
		api:            api,
		iceServers:     iceServers,
		recordMessages: recordMessages,
		bus:            events.NewBus(),
		peers:          make(map[string]*peer.Peer),
	}
	s.matchingPeer = s.newMatchingPeer()
	return s
}

// Bus returns the server's event bus; subscribers receive every kind
// in spec §6's taxonomy.
func (s *Server) Bus() *events.Bus { return s.bus }

func (s *Server) newMatchingPeer() *peer.Peer {
	return peer.New(peer.MatchingPeerID, s.api, s.iceServers, s.bus, s.recordMessages, s.matchStepsProvider)
}

// matchStepsProvider implements spec §4.8's matching path: wait for
// connection-connected (so parsed SDP and metadata are available),
// then evaluate rules in order; the first all-true match supplies the
// step list, or `[dynamic-proxy()]` if none match.
func (s *Server) matchStepsProvider(ctx context.Context, conn *engine.Connection) ([]steps.Def, error) {
	if err := conn.WaitUntilConnected(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	rules := append([]Rule{}, s.rules...)
	s.mu.Unlock()

	for _, r := range rules {
		if steps.Evaluate(r.Matchers, conn) {
			return r.Steps, nil
		}
	}
	return []steps.Def{steps.DynamicProxy()}, nil
}

// CreatePeer implements the admin RPC `createPeer(steps[])` mutation:
// a built peer with a fixed step list, per spec §6.
func (s *Server) CreatePeer(fixedSteps []steps.Def) *peer.Peer {
	id := uuid.NewString()
	provider := func(ctx context.Context, conn *engine.Connection) ([]steps.Def, error) {
		return fixedSteps, nil
	}
	p := peer.New(id, s.api, s.iceServers, s.bus, s.recordMessages, provider)

	s.mu.Lock()
	s.peers[id] = p
	s.mu.Unlock()
	return p
}

// AddRule implements `addRTCRule(matchers[], steps[])`: appends to the
// matching peer's rule list. Returns the rule's position (its index
// in the list after appending), so callers can persist it alongside.
func (s *Server) AddRule(matchers []steps.MatcherDef, stepList []steps.Def) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, Rule{Matchers: matchers, Steps: stepList})
	return len(s.rules) - 1
}

// SetRules implements `setRTCRules(rules[])`: replaces the matching
// peer's rule list wholesale.
func (s *Server) SetRules(rules []Rule) {
	s.mu.Lock()
	s.rules = append([]Rule{}, rules...)
	s.mu.Unlock()
}

// Peer looks up a peer by id, including the matching peer.
func (s *Server) Peer(id string) (*peer.Peer, error) {
	if id == peer.MatchingPeerID {
		s.mu.Lock()
		mp := s.matchingPeer
		s.mu.Unlock()
		return mp, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	if !ok {
		return nil, mockerr.New(mockerr.NotFound, "unknown peer id")
	}
	return p, nil
}

// MatchingPeer returns the distinguished matching peer directly.
func (s *Server) MatchingPeer() *peer.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchingPeer
}

// Reset closes every peer, clears rules, and recreates the matching
// peer, per spec §4.8's reset().
func (s *Server) Reset() {
	s.mu.Lock()
	peers := make([]*peer.Peer, 0, len(s.peers)+1)
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	peers = append(peers, s.matchingPeer)
	s.peers = make(map[string]*peer.Peer)
	s.rules = nil
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *peer.Peer) { defer wg.Done(); _ = p.Close() }(p)
	}
	wg.Wait()

	s.mu.Lock()
	s.matchingPeer = s.newMatchingPeer()
	s.mu.Unlock()
}

// Stop cancels every active step by closing each peer, per spec §5's
// cancellation rules. Unlike Reset, Stop does not recreate the
// matching peer or clear rules; it is meant for process shutdown.
func (s *Server) Stop() {
	s.mu.Lock()
	peers := make([]*peer.Peer, 0, len(s.peers)+1)
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	peers = append(peers, s.matchingPeer)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *peer.Peer) { defer wg.Done(); _ = p.Close() }(p)
	}
	wg.Wait()
}
