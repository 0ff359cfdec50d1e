// Package events implements the typed event taxonomy of spec §3/§6 and
// a minimal synchronous pub/sub bus. Handlers run synchronously on the
// publishing goroutine and must not block, matching spec §5's
// ordering/concurrency rules for the bus.
package events

import (
	"sort"
	"sync"
	"time"

	"github.com/n0remac/mockrtc/model"
)

// Kind is one of the ten event kinds from spec §3.
type Kind string

const (
	KindPeerConnected         Kind = "peer-connected"
	KindPeerDisconnected      Kind = "peer-disconnected"
	KindExternalPeerAttached  Kind = "external-peer-attached"
	KindDataChannelOpened     Kind = "data-channel-opened"
	KindDataChannelMsgSent    Kind = "data-channel-message-sent"
	KindDataChannelMsgRecv    Kind = "data-channel-message-received"
	KindDataChannelClosed     Kind = "data-channel-closed"
	KindMediaTrackOpened      Kind = "media-track-opened"
	KindMediaTrackStats       Kind = "media-track-stats"
	KindMediaTrackClosed      Kind = "media-track-closed"
)

// Base carries the fields every event shares.
type Base struct {
	PeerID         string
	SessionID      string
	EventTimestamp time.Time
}

// Event is implemented by every concrete event struct below.
type Event interface {
	EventKind() Kind
	Common() Base
}

type ExternalConnectionInfo struct {
	SessionID               string
	LocalSessionDescription  model.SessionDescription
	RemoteSessionDescription model.SessionDescription
	SelectedLocalCandidate   model.Candidate
	SelectedRemoteCandidate  model.Candidate
}

type PeerConnected struct {
	Base
	Metadata                 model.ConnectionMetadata
	TimingEvents              model.TimingEvents
	LocalSessionDescription   model.SessionDescription
	RemoteSessionDescription  model.SessionDescription
	SelectedLocalCandidate    model.Candidate
	SelectedRemoteCandidate   model.Candidate
}

func (e PeerConnected) EventKind() Kind { return KindPeerConnected }
func (e PeerConnected) Common() Base    { return e.Base }

type PeerDisconnected struct {
	Base
	TimingEvents model.TimingEvents
}

func (e PeerDisconnected) EventKind() Kind { return KindPeerDisconnected }
func (e PeerDisconnected) Common() Base    { return e.Base }

type ExternalPeerAttached struct {
	Base
	TimingEvents        model.TimingEvents
	ExternalConnection  ExternalConnectionInfo
}

func (e ExternalPeerAttached) EventKind() Kind { return KindExternalPeerAttached }
func (e ExternalPeerAttached) Common() Base    { return e.Base }

type DataChannelOpened struct {
	Base
	ChannelID       int
	ChannelLabel    string
	ChannelProtocol string
}

func (e DataChannelOpened) EventKind() Kind { return KindDataChannelOpened }
func (e DataChannelOpened) Common() Base    { return e.Base }

// MessageDirection is sent or received, for data-channel message events.
type MessageDirection string

const (
	DirectionSent     MessageDirection = "sent"
	DirectionReceived MessageDirection = "received"
)

type DataChannelMessage struct {
	Base
	ChannelID int
	Direction MessageDirection
	Content   []byte
	IsBinary  bool
}

func (e DataChannelMessage) EventKind() Kind {
	if e.Direction == DirectionSent {
		return KindDataChannelMsgSent
	}
	return KindDataChannelMsgRecv
}
func (e DataChannelMessage) Common() Base { return e.Base }

type DataChannelClosed struct {
	Base
	ChannelID int
}

func (e DataChannelClosed) EventKind() Kind { return KindDataChannelClosed }
func (e DataChannelClosed) Common() Base    { return e.Base }

type MediaTrackOpened struct {
	Base
	TrackMid       string
	TrackType      model.MediaKind
	TrackDirection model.Direction
}

func (e MediaTrackOpened) EventKind() Kind { return KindMediaTrackOpened }
func (e MediaTrackOpened) Common() Base    { return e.Base }

type MediaTrackClosed struct {
	Base
	TrackMid string
}

func (e MediaTrackClosed) EventKind() Kind { return KindMediaTrackClosed }
func (e MediaTrackClosed) Common() Base    { return e.Base }

type MediaTrackStats struct {
	Base
	TrackMid           string
	TotalBytesSent     uint64
	TotalBytesReceived uint64
}

func (e MediaTrackStats) EventKind() Kind { return KindMediaTrackStats }
func (e MediaTrackStats) Common() Base    { return e.Base }

// Handler receives events synchronously, in emission order per
// emitter. It must not block.
type Handler func(Event)

// Bus is a tiny synchronous pub/sub, mirroring the
// CommandRegistry/Hub.Broadcast shape from the teacher's websocket
// package but in-process (no channel hop, no goroutine of its own).
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscription identifies a registered handler for later removal.
type Subscription int

// Subscribe registers a handler and returns a token for Unsubscribe.
func (b *Bus) Subscribe(h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	return Subscription(id)
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, int(sub))
}

// Publish delivers ev to every current subscriber, in registration
// order, synchronously on the caller's goroutine.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
