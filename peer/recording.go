package peer

import (
	"github.com/n0remac/mockrtc/engine"
)

// attachRecording wires a read-data listener onto every channel that
// appends its raw payload to p.messages[label], per spec §4.7's
// recording feature. Only enabled when the peer was built with
// recordMessages on.
func attachRecording(p *Peer, conn *engine.Connection) {
	record := func(ch *engine.DataChannelStream, msg engine.Message) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.messages[ch.Label()] = append(p.messages[ch.Label()], RecordedMessage{
			ChannelLabel: ch.Label(),
			Data:         msg.Bytes(),
			IsBinary:     msg.IsBinary,
		})
	}
	conn.OnChannelCreated.On(func(ch *engine.DataChannelStream) {
		ch.OnReadData(func(msg engine.Message) { record(ch, msg) })
	})
}
