package events

import (
	"testing"
	"time"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var order []int

	bus.Subscribe(func(Event) { order = append(order, 1) })
	bus.Subscribe(func(Event) { order = append(order, 2) })
	bus.Subscribe(func(Event) { order = append(order, 3) })

	bus.Publish(PeerConnected{Base: Base{PeerID: "p1"}})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected handlers to fire in registration order, got %v", order)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	count := 0
	sub := bus.Subscribe(func(Event) { count++ })

	bus.Publish(PeerConnected{Base: Base{PeerID: "p1"}})
	bus.Unsubscribe(sub)
	bus.Publish(PeerConnected{Base: Base{PeerID: "p1"}})

	if count != 1 {
		t.Errorf("expected exactly 1 delivery before unsubscribe, got %d", count)
	}
}

func TestDataChannelMessageEventKindReflectsDirection(t *testing.T) {
	sent := DataChannelMessage{Direction: DirectionSent}
	if sent.EventKind() != KindDataChannelMsgSent {
		t.Errorf("expected sent direction to map to %s, got %s", KindDataChannelMsgSent, sent.EventKind())
	}

	recv := DataChannelMessage{Direction: DirectionReceived}
	if recv.EventKind() != KindDataChannelMsgRecv {
		t.Errorf("expected received direction to map to %s, got %s", KindDataChannelMsgRecv, recv.EventKind())
	}
}

func TestBaseFieldsFlowThroughCommon(t *testing.T) {
	now := time.Now()
	ev := MediaTrackOpened{
		Base:           Base{PeerID: "p1", SessionID: "s1", EventTimestamp: now},
		TrackMid:       "0",
		TrackType:      "video",
		TrackDirection: "sendrecv",
	}
	if ev.Common().PeerID != "p1" || ev.Common().SessionID != "s1" {
		t.Errorf("expected Common() to expose the embedded Base, got %+v", ev.Common())
	}
	if ev.EventKind() != KindMediaTrackOpened {
		t.Errorf("expected media-track-opened kind, got %s", ev.EventKind())
	}
}
