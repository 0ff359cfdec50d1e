package main

import (
	"log"

	"github.com/n0remac/mockrtc/events"
	"github.com/n0remac/mockrtc/mockserver"
	"github.com/n0remac/mockrtc/store"
)

// attachPersistence subscribes st to srv's event bus so recorded
// messages and connect/disconnect timing survive a process restart,
// beyond what the live event bus and Peer.messages give a connected
// control client.
func attachPersistence(srv *mockserver.Server, st *store.Store) {
	srv.Bus().Subscribe(func(ev events.Event) {
		base := ev.Common()
		switch e := ev.(type) {
		case events.PeerConnected:
			if err := st.UpsertTimingEvent(store.StoredTimingEvent{
				PeerID:           base.PeerID,
				SessionID:        base.SessionID,
				StartTime:        e.TimingEvents.StartTime,
				ConnectTimestamp: &e.TimingEvents.ConnectTimestamp,
			}); err != nil {
				log.Printf("[mockrtcd] record connect timing: %v", err)
			}
		case events.PeerDisconnected:
			if err := st.UpsertTimingEvent(store.StoredTimingEvent{
				PeerID:              base.PeerID,
				SessionID:           base.SessionID,
				StartTime:           e.TimingEvents.StartTime,
				DisconnectTimestamp: &e.TimingEvents.DisconnectTimestamp,
			}); err != nil {
				log.Printf("[mockrtcd] record disconnect timing: %v", err)
			}
		case events.DataChannelMessage:
			direction := "sent"
			if e.Direction == events.DirectionReceived {
				direction = "received"
			}
			// DataChannelMessage carries ChannelID, not label; the
			// per-peer recording path (peer/recording.go) is the
			// label-keyed source of truth, this is a flat backstop.
			if err := st.RecordMessage(store.StoredMessage{
				PeerID:       base.PeerID,
				SessionID:    base.SessionID,
				ChannelLabel: "",
				Direction:    direction,
				Content:      e.Content,
				IsBinary:     e.IsBinary,
			}); err != nil {
				log.Printf("[mockrtcd] record message: %v", err)
			}
		}
	})
}
