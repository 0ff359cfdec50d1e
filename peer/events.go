package peer

import (
	"sync"
	"time"

	"github.com/n0remac/mockrtc/engine"
	"github.com/n0remac/mockrtc/events"
)

// attachEventTranslation wires conn's internal xsync.Signal callbacks
// into the public event taxonomy of spec §6, publishing onto bus. This
// is the "translate internal signals into the public event taxonomy"
// step of spec §4.7.
func attachEventTranslation(peerID string, conn *engine.Connection, bus *events.Bus) {
	base := func() events.Base {
		return events.Base{PeerID: peerID, SessionID: conn.ID(), EventTimestamp: time.Now()}
	}

	var disconnectOnce sync.Once
	publishDisconnected := func() {
		disconnectOnce.Do(func() {
			bus.Publish(events.PeerDisconnected{Base: base(), TimingEvents: conn.Timing()})
		})
	}

	conn.OnConnected.On(func(struct{}) {
		local, remote := conn.SelectedCandidates()
		bus.Publish(events.PeerConnected{
			Base:                     base(),
			Metadata:                 conn.Metadata(),
			TimingEvents:             conn.Timing(),
			LocalSessionDescription:  conn.LocalDescription(),
			RemoteSessionDescription: conn.RemoteDescription(),
			SelectedLocalCandidate:   local,
			SelectedRemoteCandidate:  remote,
		})
	})
	conn.OnDisconnected.On(func(struct{}) { publishDisconnected() })
	conn.OnClosed.On(func(struct{}) { publishDisconnected() })

	conn.OnChannelCreated.On(func(ch *engine.DataChannelStream) {
		ch.OnOpen(func() {
			bus.Publish(events.DataChannelOpened{
				Base: base(), ChannelID: ch.ID(), ChannelLabel: ch.Label(), ChannelProtocol: ch.Protocol(),
			})
		})
		ch.OnReadData(func(msg engine.Message) {
			bus.Publish(events.DataChannelMessage{
				Base: base(), ChannelID: ch.ID(), Direction: events.DirectionReceived,
				Content: msg.Bytes(), IsBinary: msg.IsBinary,
			})
		})
		ch.OnWroteData(func(msg engine.Message) {
			bus.Publish(events.DataChannelMessage{
				Base: base(), ChannelID: ch.ID(), Direction: events.DirectionSent,
				Content: msg.Bytes(), IsBinary: msg.IsBinary,
			})
		})
		ch.OnClose(func() {
			bus.Publish(events.DataChannelClosed{Base: base(), ChannelID: ch.ID()})
		})
	})

	conn.OnTrackCreated.On(func(t *engine.MediaTrackStream) {
		t.OnOpen(func() {
			bus.Publish(events.MediaTrackOpened{
				Base: base(), TrackMid: t.Mid(), TrackType: t.Kind(), TrackDirection: t.Direction(),
			})
		})
		t.OnStats(func(sent, received uint64) {
			bus.Publish(events.MediaTrackStats{
				Base: base(), TrackMid: t.Mid(), TotalBytesSent: sent, TotalBytesReceived: received,
			})
		})
		t.OnClose(func() {
			bus.Publish(events.MediaTrackClosed{Base: base(), TrackMid: t.Mid()})
		})
	})
}

// externalConnectionInfo snapshots an attached external Connection
// into the event payload shape of spec §6.
func externalConnectionInfo(ext *engine.Connection) events.ExternalConnectionInfo {
	local, remote := ext.SelectedCandidates()
	return events.ExternalConnectionInfo{
		SessionID:                ext.ID(),
		LocalSessionDescription:  ext.LocalDescription(),
		RemoteSessionDescription: ext.RemoteDescription(),
		SelectedLocalCandidate:   local,
		SelectedRemoteCandidate:  remote,
	}
}
