package steps

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/n0remac/mockrtc/engine"
	"github.com/n0remac/mockrtc/mock"
	"github.com/n0remac/mockrtc/mockerr"
	"github.com/n0remac/mockrtc/model"
)

// ExternalFactory builds a bare Connection for peer-proxy's "external"
// leg. Supplied by the peer package, which owns the pion API/ICE
// server configuration.
type ExternalFactory func() (*engine.Connection, error)

// Interpreter runs a step list against a MockConnection, sequentially,
// per spec §4.6.
type Interpreter struct {
	NewExternal ExternalFactory
}

// Run executes defs in order against mc. Terminal steps (echo,
// peer-proxy, dynamic-proxy) block until connection-closed and must
// be last; Run closes mc once every step has resolved, which is a
// no-op if a terminal step already triggered the close.
func (r Interpreter) Run(ctx context.Context, mc *mock.MockConnection, defs []Def) error {
	for _, d := range defs {
		if err := r.handle(ctx, mc, d); err != nil {
			log.Printf("[steps] step %q failed on connection %s: %v", d.Kind, mc.ID(), err)
			break
		}
	}
	return mc.Close()
}

func (r Interpreter) handle(ctx context.Context, mc *mock.MockConnection, d Def) error {
	switch d.Kind {
	case KindWaitForDuration:
		return waitForDuration(ctx, d.DurationMs)
	case KindWaitForChannel:
		return waitForChannel(mc, d.ChannelLabel)
	case KindWaitForMessage:
		return waitForMessage(mc, d.ChannelLabel)
	case KindWaitForTrack:
		return waitForTrack(mc)
	case KindWaitForMedia:
		return waitForMedia(mc)
	case KindCreateChannel:
		return createChannel(mc, d.ChannelLabel)
	case KindSend:
		return send(mc, d)
	case KindClose:
		return mc.Close()
	case KindEcho:
		return echo(mc)
	case KindPeerProxy:
		return r.peerProxy(ctx, mc, d)
	case KindDynamicProxy:
		return mc.WaitForDynamicProxy()
	default:
		return mockerr.New(mockerr.ProtocolError, "unknown step kind")
	}
}

func waitForDuration(ctx context.Context, ms int) error {
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func labelMatches(label, filter string) bool {
	return filter == "" || label == filter
}

// waitDone blocks until done closes or mc's connection closes,
// whichever comes first. Per spec §5, Server.stop()/Reset() cancels
// every in-progress step by closing the Connection, so every blocking
// wait below must race against mc.OnClosed rather than hang forever.
func waitDone(mc *mock.MockConnection, done chan struct{}) {
	closed := make(chan struct{})
	var once sync.Once
	mc.OnClosed.On(func(struct{}) { once.Do(func() { close(closed) }) })
	select {
	case <-done:
	case <-closed:
	}
}

func waitForChannel(mc *mock.MockConnection, label string) error {
	for _, ch := range mc.Channels() {
		if !ch.IsLocal() && ch.IsOpen() && labelMatches(ch.Label(), label) {
			return nil
		}
	}
	done := make(chan struct{})
	var once sync.Once
	mc.OnRemoteChannelOpen.On(func(ch *engine.DataChannelStream) {
		if labelMatches(ch.Label(), label) {
			once.Do(func() { close(done) })
		}
	})
	waitDone(mc, done)
	return nil
}

func waitForMessage(mc *mock.MockConnection, label string) error {
	var matching []*engine.DataChannelStream
	for _, ch := range mc.Channels() {
		if labelMatches(ch.Label(), label) {
			matching = append(matching, ch)
		}
	}
	if len(matching) == 0 {
		// no existing match: fall back to the next channel created
		// matching the filter, then wait on its first message.
		created := make(chan *engine.DataChannelStream, 1)
		createdDone := make(chan struct{})
		var onceCreate sync.Once
		mc.OnChannelCreated.On(func(ch *engine.DataChannelStream) {
			if labelMatches(ch.Label(), label) {
				onceCreate.Do(func() {
					created <- ch
					close(createdDone)
				})
			}
		})
		waitDone(mc, createdDone)
		select {
		case ch := <-created:
			matching = []*engine.DataChannelStream{ch}
		default:
			return nil
		}
	}

	done := make(chan struct{})
	var once sync.Once
	resolve := func() {
		once.Do(func() {
			for _, ch := range matching {
				ch.Pause()
			}
			close(done)
		})
	}
	for _, ch := range matching {
		ch.OnReadData(func(engine.Message) { resolve() })
	}
	waitDone(mc, done)
	return nil
}

func waitForTrack(mc *mock.MockConnection) error {
	for _, t := range mc.Tracks() {
		if t.IsOpen() {
			return nil
		}
	}
	done := make(chan struct{})
	var once sync.Once
	mc.OnTrackOpen.On(func(*engine.MediaTrackStream) {
		once.Do(func() { close(done) })
	})
	waitDone(mc, done)
	return nil
}

func waitForMedia(mc *mock.MockConnection) error {
	done := make(chan struct{})
	var once sync.Once
	resolve := func() { once.Do(func() { close(done) }) }

	for _, t := range mc.Tracks() {
		if !t.IsLocal() {
			t.OnRTP(func(*rtp.Packet) { resolve() })
		}
	}
	mc.OnRemoteTrackCreated.On(func(t *engine.MediaTrackStream) {
		t.OnRTP(func(*rtp.Packet) { resolve() })
	})
	waitDone(mc, done)
	return nil
}

func createChannel(mc *mock.MockConnection, label string) error {
	ch, err := mc.CreateDataChannel(label)
	if err != nil {
		return err
	}
	if ch.IsOpen() {
		return nil
	}
	done := make(chan struct{})
	var once sync.Once
	ch.OnOpen(func() { once.Do(func() { close(done) }) })
	waitDone(mc, done)
	return nil
}

func send(mc *mock.MockConnection, d Def) error {
	msg := engine.Message{Data: d.Message, IsBinary: d.IsBinary}
	if !d.IsBinary {
		msg = engine.TextMessage(string(d.Message))
	}
	for _, ch := range mc.Channels() {
		if ch.IsOpen() && labelMatches(ch.Label(), d.ChannelLabel) {
			if err := ch.Write(msg); err != nil {
				log.Printf("[steps] send on %q failed: %v", ch.Label(), err)
			}
		}
	}
	return nil
}

func echo(mc *mock.MockConnection) error {
	wireChannel := func(ch *engine.DataChannelStream) {
		ch.OnReadData(func(msg engine.Message) {
			if err := ch.Write(msg); err != nil {
				log.Printf("[steps] echo write failed on %q: %v", ch.Label(), err)
			}
		})
	}
	for _, ch := range mc.Channels() {
		wireChannel(ch)
	}
	mc.OnChannelCreated.On(wireChannel)

	wireTrack := func(remote *engine.MediaTrackStream) {
		if remote.IsLocal() {
			return
		}
		local, err := mc.CreateLocalTrack(remote.Mid(), remote.Kind(), model.DirSendOnly)
		if err != nil {
			log.Printf("[steps] echo: failed to open mirror track for mid %q: %v", remote.Mid(), err)
			return
		}
		remote.OnRTP(func(pkt *rtp.Packet) {
			_ = local.WriteRTP(pkt)
		})
	}
	for _, t := range mc.Tracks() {
		wireTrack(t)
	}
	mc.OnRemoteTrackCreated.On(wireTrack)

	closed := make(chan struct{})
	var once sync.Once
	mc.OnClosed.On(func(struct{}) { once.Do(func() { close(closed) }) })
	<-closed
	return nil
}

func (r Interpreter) peerProxy(ctx context.Context, mc *mock.MockConnection, d Def) error {
	if r.NewExternal == nil {
		return mockerr.New(mockerr.Internal, "peer-proxy: no external connection factory configured")
	}
	if d.ResolveAnswer == nil {
		return mockerr.New(mockerr.Internal, "peer-proxy: no answer resolver supplied")
	}

	external, err := r.NewExternal()
	if err != nil {
		return err
	}
	offer, err := external.CreateOffer(ctx, engine.CreateOfferOptions{
		MirrorSDP: sessionPtr(mc.RemoteDescription()),
	})
	if err != nil {
		return err
	}
	answer, err := d.ResolveAnswer(offer)
	if err != nil {
		return err
	}
	if err := external.CompleteOffer(answer); err != nil {
		return err
	}
	if err := mc.ProxyTrafficTo(external); err != nil {
		return err
	}

	closed := make(chan struct{})
	var once sync.Once
	mc.OnClosed.On(func(struct{}) { once.Do(func() { close(closed) }) })
	<-closed
	return nil
}

func sessionPtr(s model.SessionDescription) *model.SessionDescription { return &s }
