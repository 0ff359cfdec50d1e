// Package rpc is the admin/control edge that stands in for the
// out-of-scope GraphQL mutation/subscription surface of spec §6.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/n0remac/mockrtc/engine"
	"github.com/n0remac/mockrtc/events"
	"github.com/n0remac/mockrtc/mockerr"
	"github.com/n0remac/mockrtc/mockserver"
	"github.com/n0remac/mockrtc/model"
	"github.com/n0remac/mockrtc/store"
)

// Upgrader mirrors the teacher's websocket.Upgrader: permissive in
// development, origin-locked in production.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if os.Getenv("MOCKRTC_ENVIRONMENT") != "production" {
			return true
		}
		return origin == os.Getenv("MOCKRTC_ADMIN_ORIGIN")
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// peerProxyAnswerTimeout bounds how long the server waits for a client
// to answer a resolvePeerProxyAnswer round-trip before the peer-proxy
// step fails with a transport-failure error.
const peerProxyAnswerTimeout = 30 * time.Second

// Edge is the admin/control websocket endpoint: one Server, every
// connected control client subscribed to its event bus.
type Edge struct {
	server *mockserver.Server
	store  *store.Store
}

// NewEdge builds an Edge bound to server.
func NewEdge(server *mockserver.Server) *Edge {
	return &Edge{server: server}
}

// NewEdgeWithStore builds an Edge that also persists rule and
// peer-build definitions submitted over addRTCRule/setRTCRules/
// createPeer, so they survive a process restart alongside the
// recorded messages and timing history attachPersistence already
// subscribes st for.
func NewEdgeWithStore(server *mockserver.Server, st *store.Store) *Edge {
	return &Edge{server: server, store: st}
}

// Handler upgrades incoming requests and runs each client's read/write
// pumps, grounded on the teacher's CreateWebsocket/WithWS pair.
func (e *Edge) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[rpc] upgrade failed: %v", err)
			return
		}
		c := &Client{
			edge:    e,
			conn:    conn,
			send:    make(chan []byte, 256),
			pending: make(map[string]chan responseEnvelope),
		}
		c.sub = e.server.Bus().Subscribe(c.forwardEvent)
		go c.WritePump()
		c.ReadPump()
	}
}

// persistRule saves one addRTCRule submission, logging rather than
// failing the call on a store error — persistence is a best-effort
// durability layer, not a requirement of the rule taking effect.
func (e *Edge) persistRule(position int, matchers []matcherDTO, stepList []stepDTO) {
	if e.store == nil {
		return
	}
	matchersJSON, err := json.Marshal(matchers)
	if err != nil {
		log.Printf("[rpc] marshal rule matchers for persistence: %v", err)
		return
	}
	stepsJSON, err := json.Marshal(stepList)
	if err != nil {
		log.Printf("[rpc] marshal rule steps for persistence: %v", err)
		return
	}
	if err := e.store.SaveRule(position, string(matchersJSON), string(stepsJSON)); err != nil {
		log.Printf("[rpc] persist rule: %v", err)
	}
}

// persistRuleSet replaces the persisted rule set to match a
// setRTCRules submission.
func (e *Edge) persistRuleSet(rules []ruleDTO) {
	if e.store == nil {
		return
	}
	stored := make([]store.StoredRule, len(rules))
	for i, r := range rules {
		matchersJSON, err := json.Marshal(r.Matchers)
		if err != nil {
			log.Printf("[rpc] marshal rule matchers for persistence: %v", err)
			return
		}
		stepsJSON, err := json.Marshal(r.Steps)
		if err != nil {
			log.Printf("[rpc] marshal rule steps for persistence: %v", err)
			return
		}
		stored[i] = store.StoredRule{Position: i, MatchersJSON: string(matchersJSON), StepsJSON: string(stepsJSON)}
	}
	if err := e.store.ReplaceRules(stored); err != nil {
		log.Printf("[rpc] persist rule set: %v", err)
	}
}

// persistPeerBuild saves one createPeer(steps[]) submission.
func (e *Edge) persistPeerBuild(peerID string, stepList []stepDTO) {
	if e.store == nil {
		return
	}
	stepsJSON, err := json.Marshal(stepList)
	if err != nil {
		log.Printf("[rpc] marshal peer build steps for persistence: %v", err)
		return
	}
	if err := e.store.SavePeerBuild(peerID, string(stepsJSON)); err != nil {
		log.Printf("[rpc] persist peer build: %v", err)
	}
}

// Client is one connected admin/control websocket, grounded on the
// teacher's WebsocketClient.
type Client struct {
	edge *Edge
	conn *websocket.Conn
	send chan []byte

	mu        sync.Mutex
	pending   map[string]chan responseEnvelope
	nextReqID uint64
	sub       events.Subscription
}

// forwardEvent publishes one core event to the client as an
// eventEnvelope. Called synchronously on the bus's publishing
// goroutine, so it must not block — a full send channel drops the
// event (the client stays connected) instead of stalling the event
// bus.
func (c *Client) forwardEvent(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[rpc] marshal event %s: %v", ev.EventKind(), err)
		return
	}
	env := eventEnvelope{Kind: kindEvent, Event: string(ev.EventKind()), Data: data}
	payload, err := json.Marshal(env)
	if err != nil {
		log.Printf("[rpc] marshal event envelope: %v", err)
		return
	}
	select {
	case c.send <- payload:
	default:
		log.Printf("[rpc] client send buffer full, dropping event %s", ev.EventKind())
	}
}

// ReadPump reads callEnvelopes and responseEnvelopes until the
// connection closes, grounded on the teacher's WebsocketClient.ReadPump.
func (c *Client) ReadPump() {
	defer func() {
		c.edge.server.Bus().Unsubscribe(c.sub)
		close(c.send)
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		switch gjson.GetBytes(message, "kind").String() {
		case string(kindResponse):
			var resp responseEnvelope
			if err := json.Unmarshal(message, &resp); err != nil {
				log.Printf("[rpc] bad response envelope: %v", err)
				continue
			}
			c.deliverResponse(resp)
		case string(kindCall):
			var call callEnvelope
			if err := json.Unmarshal(message, &call); err != nil {
				log.Printf("[rpc] bad call envelope: %v", err)
				continue
			}
			go c.handleCall(call)
		default:
			log.Printf("[rpc] unknown envelope kind in message: %s", message)
		}
	}
}

// WritePump drains the send channel to the socket, grounded on the
// teacher's WebsocketClient.WritePump.
func (c *Client) WritePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (c *Client) enqueue(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[rpc] marshal outgoing envelope: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("[rpc] client send buffer full, dropping envelope")
	}
}

func (c *Client) handleCall(call callEnvelope) {
	result, err := c.dispatch(call)
	resp := responseEnvelope{Kind: kindResponse, ReqID: call.ReqID, OK: err == nil}
	if err != nil {
		resp.Error = err.Error()
	} else if result != nil {
		data, mErr := json.Marshal(result)
		if mErr != nil {
			resp.OK = false
			resp.Error = mErr.Error()
		} else {
			resp.Result = data
		}
	}
	c.enqueue(resp)
}

// dispatch invokes the mockserver.Server/peer.Peer method named by
// call.Op, per spec §6's mutation/query list.
func (c *Client) dispatch(call callEnvelope) (interface{}, error) {
	switch call.Op {
	case OpCreatePeer:
		var p createPeerPayload
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return nil, mockerr.New(mockerr.ProtocolError, "bad createPeer payload")
		}
		built := c.edge.server.CreatePeer(c.toStepDefs(p.Steps))
		c.edge.persistPeerBuild(built.ID(), p.Steps)
		return createPeerResult{PeerID: built.ID()}, nil

	case OpAddRTCRule:
		var p addRTCRulePayload
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return nil, mockerr.New(mockerr.ProtocolError, "bad addRTCRule payload")
		}
		position := c.edge.server.AddRule(toMatcherDefs(p.Matchers), c.toStepDefs(p.Steps))
		c.edge.persistRule(position, p.Matchers, p.Steps)
		return nil, nil

	case OpSetRTCRules:
		var p setRTCRulesPayload
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return nil, mockerr.New(mockerr.ProtocolError, "bad setRTCRules payload")
		}
		rules := make([]mockserver.Rule, len(p.Rules))
		for i, r := range p.Rules {
			rules[i] = mockserver.Rule{Matchers: toMatcherDefs(r.Matchers), Steps: c.toStepDefs(r.Steps)}
		}
		c.edge.server.SetRules(rules)
		c.edge.persistRuleSet(p.Rules)
		return nil, nil

	case OpCreateOffer:
		var p offerPayload
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return nil, mockerr.New(mockerr.ProtocolError, "bad createOffer payload")
		}
		pr, err := c.edge.server.Peer(p.PeerID)
		if err != nil {
			return nil, err
		}
		desc, sessionID, err := pr.CreateOffer(context.Background(), engine.CreateOfferOptions{
			MirrorSDP:           p.MirrorSDP,
			ConnectionMetadata:  p.Metadata,
			ForceSetupChannel:   p.ForceSetupChannel,
		})
		if err != nil {
			return nil, err
		}
		return offerResult{SessionDescription: desc, SessionID: sessionID}, nil

	case OpCreateExternalOffer:
		var p offerPayload
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return nil, mockerr.New(mockerr.ProtocolError, "bad createExternalOffer payload")
		}
		pr, err := c.edge.server.Peer(p.PeerID)
		if err != nil {
			return nil, err
		}
		desc, sessionID, err := pr.CreateExternalOffer(context.Background(), engine.CreateOfferOptions{
			MirrorSDP:          p.MirrorSDP,
			ConnectionMetadata: p.Metadata,
			ForceSetupChannel:  p.ForceSetupChannel,
		})
		if err != nil {
			return nil, err
		}
		return offerResult{SessionDescription: desc, SessionID: sessionID}, nil

	case OpCompleteOffer:
		var p completeOfferPayload
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return nil, mockerr.New(mockerr.ProtocolError, "bad completeOffer payload")
		}
		pr, err := c.edge.server.Peer(p.PeerID)
		if err != nil {
			return nil, err
		}
		return nil, pr.CompleteOffer(p.SessionID, p.Answer)

	case OpAnswerOffer:
		var p offerPayload
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return nil, mockerr.New(mockerr.ProtocolError, "bad answerOffer payload")
		}
		if p.Offer == nil {
			return nil, mockerr.New(mockerr.ProtocolError, "answerOffer requires an offer")
		}
		pr, err := c.edge.server.Peer(p.PeerID)
		if err != nil {
			return nil, err
		}
		desc, sessionID, err := pr.AnswerOffer(context.Background(), p.SessionID, *p.Offer, engine.AnswerOfferOptions{
			MirrorSDP:          p.MirrorSDP,
			ConnectionMetadata: p.Metadata,
		})
		if err != nil {
			return nil, err
		}
		return offerResult{SessionDescription: desc, SessionID: sessionID}, nil

	case OpAnswerExternalOffer:
		var p offerPayload
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return nil, mockerr.New(mockerr.ProtocolError, "bad answerExternalOffer payload")
		}
		if p.Offer == nil {
			return nil, mockerr.New(mockerr.ProtocolError, "answerExternalOffer requires an offer")
		}
		pr, err := c.edge.server.Peer(p.PeerID)
		if err != nil {
			return nil, err
		}
		desc, sessionID, err := pr.AnswerExternalOffer(context.Background(), *p.Offer, engine.AnswerOfferOptions{
			MirrorSDP:          p.MirrorSDP,
			ConnectionMetadata: p.Metadata,
		})
		if err != nil {
			return nil, err
		}
		return offerResult{SessionDescription: desc, SessionID: sessionID}, nil

	case OpGetSeenMessages:
		var p getSeenMessagesPayload
		if err := json.Unmarshal(call.Payload, &p); err != nil {
			return nil, mockerr.New(mockerr.ProtocolError, "bad getSeenMessages payload")
		}
		pr, err := c.edge.server.Peer(p.PeerID)
		if err != nil {
			return nil, err
		}
		if p.ChannelLabel == "" {
			all, err := pr.GetAllMessages()
			if err != nil {
				return nil, err
			}
			return getSeenMessagesResult{Messages: flattenMessages(all)}, nil
		}
		msgs, err := pr.GetMessagesOnChannel(p.ChannelLabel)
		if err != nil {
			return nil, err
		}
		return getSeenMessagesResult{Messages: messagesToDTO(msgs)}, nil

	default:
		return nil, mockerr.New(mockerr.ProtocolError, fmt.Sprintf("unknown op %q", call.Op))
	}
}

func (c *Client) deliverResponse(resp responseEnvelope) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ReqID]
	if ok {
		delete(c.pending, resp.ReqID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	ch <- resp
}

// resolvePeerProxyAnswer implements steps.AnswerResolver by sending the
// client a requestEnvelope and blocking on its responseEnvelope,
// correlated by reqId. It is bound per-client so a peer-proxy step's
// answer always comes back to the control session that built the
// step, per spec §4.6.
func (c *Client) resolvePeerProxyAnswer(offer model.SessionDescription) (model.SessionDescription, error) {
	payload, err := json.Marshal(resolvePeerProxyAnswerPayload{Offer: offer})
	if err != nil {
		return model.SessionDescription{}, mockerr.Wrap(mockerr.Internal, "marshal peer-proxy request", err)
	}
	reqID := fmt.Sprintf("srv-%d", atomic.AddUint64(&c.nextReqID, 1))
	ch := make(chan responseEnvelope, 1)

	c.mu.Lock()
	c.pending[reqID] = ch
	c.mu.Unlock()

	c.enqueue(requestEnvelope{Kind: kindRequest, ReqID: reqID, Method: methodResolvePeerProxyAnswer, Payload: payload})

	select {
	case resp := <-ch:
		if !resp.OK {
			return model.SessionDescription{}, mockerr.New(mockerr.ProtocolError, resp.Error)
		}
		var result resolvePeerProxyAnswerResult
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return model.SessionDescription{}, mockerr.Wrap(mockerr.ProtocolError, "bad peer-proxy answer payload", err)
		}
		return result.Answer, nil
	case <-time.After(peerProxyAnswerTimeout):
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
		return model.SessionDescription{}, mockerr.New(mockerr.TransportFailure, "control client did not answer peer-proxy request in time")
	}
}
