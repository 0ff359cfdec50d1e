package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/n0remac/mockrtc/mockerr"
	"github.com/n0remac/mockrtc/model"
)

const statsTickInterval = time.Second

// MediaTrackStream is the RTP analogue of DataChannelStream: a duplex
// byte stream carrying RTP payloads for a single m-section, per spec
// §4.2. Exactly one of remote/local is populated depending on
// direction: a receiving stream wraps a *webrtc.TrackRemote, a sending
// one wraps a *webrtc.TrackLocalStaticRTP.
type MediaTrackStream struct {
	mu sync.Mutex

	mid       string
	kind      model.MediaKind
	direction model.Direction
	isLocal   bool

	remote *webrtc.TrackRemote
	local  *webrtc.TrackLocalStaticRTP

	totalBytesSent     uint64
	totalBytesReceived uint64
	lastStatsSent      uint64
	lastStatsReceived  uint64

	open   bool
	closed bool
	stopCh chan struct{}

	onOpen  []func()
	onClose []func()
	onStats []func(sent, received uint64)
	onRTP   []func(*rtp.Packet)
}

func newLocalMediaTrackStream(local *webrtc.TrackLocalStaticRTP, mid string, kind model.MediaKind, direction model.Direction) *MediaTrackStream {
	s := &MediaTrackStream{
		mid: mid, kind: kind, direction: direction, isLocal: true,
		local: local, open: true, stopCh: make(chan struct{}),
	}
	go s.statsLoop()
	return s
}

func newRemoteMediaTrackStream(remote *webrtc.TrackRemote, direction model.Direction) *MediaTrackStream {
	kind := model.MediaAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = model.MediaVideo
	}
	s := &MediaTrackStream{
		mid: remote.RID(), kind: kind, direction: direction, isLocal: false,
		remote: remote, open: true, stopCh: make(chan struct{}),
	}
	if s.mid == "" {
		s.mid = remote.ID()
	}
	go s.readLoop()
	go s.statsLoop()
	return s
}

func (s *MediaTrackStream) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, _, err := s.remote.Read(buf)
		if err != nil {
			s.transitionClosed()
			return
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		atomic.AddUint64(&s.totalBytesReceived, uint64(len(pkt.Payload)))

		s.mu.Lock()
		handlers := append([]func(*rtp.Packet){}, s.onRTP...)
		s.mu.Unlock()
		for _, h := range handlers {
			h(&pkt)
		}
	}
}

func (s *MediaTrackStream) statsLoop() {
	ticker := time.NewTicker(statsTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			sent := atomic.LoadUint64(&s.totalBytesSent)
			received := atomic.LoadUint64(&s.totalBytesReceived)
			s.mu.Lock()
			changed := sent != s.lastStatsSent || received != s.lastStatsReceived
			s.lastStatsSent = sent
			s.lastStatsReceived = received
			handlers := append([]func(sent, received uint64){}, s.onStats...)
			s.mu.Unlock()
			if !changed {
				continue
			}
			for _, h := range handlers {
				h(sent, received)
			}
		}
	}
}

func (s *MediaTrackStream) transitionClosed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.open = false
	close(s.stopCh)
	handlers := append([]func(){}, s.onClose...)
	s.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

// Mid is the m-section's stable media identifier.
func (s *MediaTrackStream) Mid() string { return s.mid }

// Kind is audio or video.
func (s *MediaTrackStream) Kind() model.MediaKind { return s.kind }

// Direction is the negotiated sendrecv/sendonly/recvonly/inactive.
func (s *MediaTrackStream) Direction() model.Direction { return s.direction }

// IsLocal reports whether this stream sends (true) or receives
// (false).
func (s *MediaTrackStream) IsLocal() bool { return s.isLocal }

// IsOpen reports whether the stream is still active.
func (s *MediaTrackStream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// TotalBytesSent is the cumulative bytes written, monotonic
// non-decreasing per spec §8.
func (s *MediaTrackStream) TotalBytesSent() uint64 {
	return atomic.LoadUint64(&s.totalBytesSent)
}

// TotalBytesReceived is the cumulative bytes read.
func (s *MediaTrackStream) TotalBytesReceived() uint64 {
	return atomic.LoadUint64(&s.totalBytesReceived)
}

// OnOpen registers a track-open listener; tracks are open on
// construction in this port (pion hands us a track only once it is
// usable), so the handler fires immediately.
func (s *MediaTrackStream) OnOpen(f func()) {
	s.mu.Lock()
	s.onOpen = append(s.onOpen, f)
	already := s.open
	s.mu.Unlock()
	if already {
		f()
	}
}

// OnClose registers a track-closed listener.
func (s *MediaTrackStream) OnClose(f func()) {
	s.mu.Lock()
	already := s.closed
	s.onClose = append(s.onClose, f)
	s.mu.Unlock()
	if already {
		f()
	}
}

// OnStats registers a listener for per-second stats ticks, suppressed
// when neither counter changed since the last tick.
func (s *MediaTrackStream) OnStats(f func(sent, received uint64)) {
	s.mu.Lock()
	s.onStats = append(s.onStats, f)
	s.mu.Unlock()
}

// OnRTP registers a listener for every inbound RTP packet, used by
// the echo/proxy steps to forward payloads. Only meaningful on
// receiving streams.
func (s *MediaTrackStream) OnRTP(f func(*rtp.Packet)) {
	s.mu.Lock()
	s.onRTP = append(s.onRTP, f)
	s.mu.Unlock()
}

// WriteRTP writes a single RTP packet to a sending stream. A write
// attempted after the raw track reports closed drops silently and
// transitions the stream to closed, mirroring the transport's own
// ordering of "writes fail, then close event" (spec §4.2).
func (s *MediaTrackStream) WriteRTP(pkt *rtp.Packet) error {
	if !s.isLocal {
		return mockerr.New(mockerr.InvalidState, "write on a receiving media track stream")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.local.WriteRTP(pkt); err != nil {
		s.transitionClosed()
		return nil
	}
	atomic.AddUint64(&s.totalBytesSent, uint64(len(pkt.Payload)))
	return nil
}

// WriteBytes wraps a single payload into one outbound RTP packet.
// WriteMany is the _writev analogue: it concatenates multiple chunks
// into one packet first, matching the "_writev combines chunks into a
// single RTP payload send" contract in spec §4.2.
func (s *MediaTrackStream) WriteBytes(payload []byte, seq uint16, timestamp uint32) error {
	pkt := &rtp.Packet{
		Header:  rtp.Header{SequenceNumber: seq, Timestamp: timestamp},
		Payload: payload,
	}
	return s.WriteRTP(pkt)
}

// WriteMany combines chunks into a single RTP payload send.
func (s *MediaTrackStream) WriteMany(chunks [][]byte, seq uint16, timestamp uint32) error {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	combined := make([]byte, 0, total)
	for _, c := range chunks {
		combined = append(combined, c...)
	}
	return s.WriteBytes(combined, seq, timestamp)
}

// Close marks the stream closed. Local static tracks have no Close
// method in pion, and Close does not remove the track from the peer
// connection; a sending track stays attached until the connection
// itself closes.
func (s *MediaTrackStream) Close() {
	s.transitionClosed()
}
