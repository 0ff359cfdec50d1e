package engine

import (
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/n0remac/mockrtc/mockerr"
)

// defaultHighWaterMark bounds the readable queue DataChannelStream
// maintains for Read() callers; backpressure is best-effort since the
// underlying SCTP transport has its own buffering, per spec §4.1.
const defaultHighWaterMark = 256

// DataChannelStream presents a single SCTP data channel as a duplex
// message stream, the engine-package analogue of the teacher's
// sfuPeer.send channel but scoped to one channel instead of one peer.
type DataChannelStream struct {
	mu sync.Mutex

	dc       *webrtc.DataChannel
	isLocal  bool
	isOpen   bool
	closed   bool
	paused   bool
	queue    []Message
	hwm      int

	onOpen      []func()
	onReadData  []func(Message)
	onWroteData []func(Message)
	onClose     []func()
	onError     []func(error)
}

func newDataChannelStream(dc *webrtc.DataChannel, isLocal bool) *DataChannelStream {
	s := &DataChannelStream{dc: dc, isLocal: isLocal, hwm: defaultHighWaterMark}
	s.wire()
	return s
}

func (s *DataChannelStream) wire() {
	if s.dc.ReadyState() == webrtc.DataChannelStateOpen {
		// "immediately-next-tick if already open at construction"
		go func() {
			time.Sleep(0)
			s.handleOpen()
		}()
	}
	s.dc.OnOpen(s.handleOpen)
	s.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		var m Message
		if msg.IsString {
			m = TextMessage(string(msg.Data))
		} else {
			m = BinaryMessage(msg.Data)
		}
		s.handleMessage(m)
	})
	s.dc.OnClose(s.handleClose)
	s.dc.OnError(func(err error) {
		s.mu.Lock()
		handlers := append([]func(error){}, s.onError...)
		s.mu.Unlock()
		for _, h := range handlers {
			h(err)
		}
	})
}

func (s *DataChannelStream) handleOpen() {
	s.mu.Lock()
	if s.isOpen {
		s.mu.Unlock()
		return
	}
	s.isOpen = true
	handlers := append([]func(){}, s.onOpen...)
	s.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

func (s *DataChannelStream) handleMessage(m Message) {
	s.mu.Lock()
	if !s.paused {
		if len(s.queue) >= s.hwm {
			// drop oldest: best-effort backpressure per spec §4.1
			s.queue = s.queue[1:]
		}
		s.queue = append(s.queue, m)
	}
	handlers := append([]func(Message){}, s.onReadData...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(m)
	}
}

func (s *DataChannelStream) handleClose() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.isOpen = false
	handlers := append([]func(){}, s.onClose...)
	s.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

// ID is the channel id, a positive int once negotiated.
func (s *DataChannelStream) ID() int {
	if id := s.dc.ID(); id != nil {
		return int(*id)
	}
	return -1
}

// Label is the data channel label.
func (s *DataChannelStream) Label() string { return s.dc.Label() }

// Protocol is the negotiated sub-protocol string.
func (s *DataChannelStream) Protocol() string { return s.dc.Protocol() }

// IsOpen reports whether channel-open has fired and close has not.
func (s *DataChannelStream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOpen
}

// IsLocal reports whether this stream was created locally
// (createDataChannel) vs observed remotely (OnDataChannel).
func (s *DataChannelStream) IsLocal() bool { return s.isLocal }

// OnOpen registers a channel-open listener.
func (s *DataChannelStream) OnOpen(f func()) {
	s.mu.Lock()
	already := s.isOpen
	s.onOpen = append(s.onOpen, f)
	s.mu.Unlock()
	if already {
		f()
	}
}

// OnReadData registers a listener fired for every inbound message,
// independent of the readable queue, per spec §4.1.
func (s *DataChannelStream) OnReadData(f func(Message)) {
	s.mu.Lock()
	s.onReadData = append(s.onReadData, f)
	s.mu.Unlock()
}

// OnWroteData registers a listener fired for every successful
// outbound message.
func (s *DataChannelStream) OnWroteData(f func(Message)) {
	s.mu.Lock()
	s.onWroteData = append(s.onWroteData, f)
	s.mu.Unlock()
}

// OnClose registers a close listener.
func (s *DataChannelStream) OnClose(f func()) {
	s.mu.Lock()
	already := s.closed
	s.onClose = append(s.onClose, f)
	s.mu.Unlock()
	if already {
		f()
	}
}

// OnError registers an error listener.
func (s *DataChannelStream) OnError(f func(error)) {
	s.mu.Lock()
	s.onError = append(s.onError, f)
	s.mu.Unlock()
}

// Write sends msg over the channel, binary or text depending on
// msg.IsBinary, and fires wrote-data on success.
func (s *DataChannelStream) Write(msg Message) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return mockerr.New(mockerr.InvalidState, "write on closed data channel")
	}
	s.mu.Unlock()

	var err error
	if msg.IsBinary {
		err = s.dc.Send(msg.Data)
	} else {
		err = s.dc.SendText(msg.Text)
	}
	if err != nil {
		return mockerr.Wrap(mockerr.TransportFailure, "data channel write failed", err)
	}

	s.mu.Lock()
	handlers := append([]func(Message){}, s.onWroteData...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

// Read dequeues the oldest buffered message, if any. Paused streams
// queue no new messages (see Pause), so Read on a paused stream only
// returns messages that were queued before the pause.
func (s *DataChannelStream) Read() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Message{}, false
	}
	m := s.queue[0]
	s.queue = s.queue[1:]
	return m, true
}

// Pause stops new inbound messages from entering the readable queue.
// read-data still fires for every message; only the queue is affected.
// Per spec §9's open question, a paused stream is not auto-resumed —
// callers must call Resume explicitly.
func (s *DataChannelStream) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables queueing of inbound messages.
func (s *DataChannelStream) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Close closes the underlying data channel; this also fires OnClose
// via the pion callback, closing both read and write ends.
func (s *DataChannelStream) Close() error {
	if err := s.dc.Close(); err != nil {
		log.Printf("[engine] data channel %q close error: %v", s.Label(), err)
		return mockerr.Wrap(mockerr.TransportFailure, "data channel close failed", err)
	}
	return nil
}
