package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/n0remac/mockrtc/mockerr"
	"github.com/n0remac/mockrtc/model"
	"github.com/n0remac/mockrtc/sdpmirror"
	"github.com/n0remac/mockrtc/xsync"
)

// SetupChannelLabel is the temporary data channel opened to force ICE
// gathering when an offer would otherwise carry no m-lines at all, per
// spec §4.3. It is always closed before the local description is
// returned to the caller, so it never reaches the remote's tracked
// channel list.
const SetupChannelLabel = "mockrtc.setup-channel"

// CreateOfferOptions configures Connection.CreateOffer, per spec §4.3
// and §4.4.
type CreateOfferOptions struct {
	// MirrorSDP, if non-nil, selects the SDP Mirror path of §4.4
	// instead of a plain local offer.
	MirrorSDP *model.SessionDescription
	// ConnectionMetadata merges into the Connection's metadata.
	ConnectionMetadata model.ConnectionMetadata
	// ForceSetupChannel forces the temporary setup channel even if
	// the mirror path would otherwise skip it (spec §4.4 step 2's
	// "or the caller forced addDataStream").
	ForceSetupChannel bool
}

// AnswerOfferOptions configures Connection.AnswerOffer.
type AnswerOfferOptions struct {
	MirrorSDP          *model.SessionDescription
	ConnectionMetadata model.ConnectionMetadata
}

// Connection is the per-connection state machine of spec §4.3: one
// ICE/DTLS/SCTP peer connection plus its tracked channels and tracks.
type Connection struct {
	mu sync.Mutex

	id  string
	pc  *webrtc.PeerConnection
	api *webrtc.API

	state    model.ConnectionState
	metadata model.ConnectionMetadata
	timing   model.TimingEvents

	localDesc  model.SessionDescription
	remoteDesc model.SessionDescription

	channels []*DataChannelStream
	tracks   []*MediaTrackStream

	selectedLocal  model.Candidate
	selectedRemote model.Candidate

	closed bool

	OnChannelCreated      xsync.Signal[*DataChannelStream]
	OnLocalChannelCreated xsync.Signal[*DataChannelStream]
	OnRemoteChannelCreated xsync.Signal[*DataChannelStream]
	OnChannelOpen         xsync.Signal[*DataChannelStream]
	OnLocalChannelOpen    xsync.Signal[*DataChannelStream]
	OnRemoteChannelOpen   xsync.Signal[*DataChannelStream]

	OnTrackCreated      xsync.Signal[*MediaTrackStream]
	OnLocalTrackCreated xsync.Signal[*MediaTrackStream]
	OnRemoteTrackCreated xsync.Signal[*MediaTrackStream]
	OnTrackOpen         xsync.Signal[*MediaTrackStream]
	OnLocalTrackOpen    xsync.Signal[*MediaTrackStream]
	OnRemoteTrackOpen   xsync.Signal[*MediaTrackStream]

	OnConnected    xsync.Signal[struct{}]
	OnDisconnected xsync.Signal[struct{}]
	OnFailed       xsync.Signal[struct{}]
	OnClosed       xsync.Signal[struct{}]
}

// NewConnection wraps a freshly built *webrtc.PeerConnection, wiring
// pion's callbacks to the tracked-channel/track bookkeeping and
// lifecycle signals described in spec §4.3.
func NewConnection(api *webrtc.API, pc *webrtc.PeerConnection, metadata model.ConnectionMetadata) *Connection {
	c := &Connection{
		id:       uuid.NewString(),
		pc:       pc,
		api:      api,
		state:    model.StateNew,
		metadata: metadata,
		timing:   model.TimingEvents{StartTime: time.Now()},
	}
	c.OnConnected.Latch()
	c.OnClosed.Latch()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		c.trackRemoteChannel(dc)
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.trackRemoteTrack(remote)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.transitionConnected()
		case webrtc.PeerConnectionStateDisconnected:
			c.transitionDisconnected()
		case webrtc.PeerConnectionStateFailed:
			c.OnFailed.Emit(struct{}{})
		case webrtc.PeerConnectionStateClosed:
			c.transitionClosed()
		}
	})
	return c
}

// ID is the Connection's UUID v4, also the sessionId in the public
// event taxonomy.
func (c *Connection) ID() string { return c.id }

// State is the current lifecycle state.
func (c *Connection) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Metadata is the merged connection metadata.
func (c *Connection) Metadata() model.ConnectionMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata
}

// Timing is a snapshot of the lifecycle timestamps.
func (c *Connection) Timing() model.TimingEvents {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timing
}

// LocalDescription is the last session description this Connection
// produced (offer or answer).
func (c *Connection) LocalDescription() model.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localDesc
}

// RemoteDescription is the last session description set on this
// Connection.
func (c *Connection) RemoteDescription() model.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteDesc
}

// Channels is a snapshot of the currently tracked data channels.
func (c *Connection) Channels() []*DataChannelStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*DataChannelStream{}, c.channels...)
}

// Tracks is a snapshot of the currently tracked media tracks.
func (c *Connection) Tracks() []*MediaTrackStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*MediaTrackStream{}, c.tracks...)
}

// SelectedCandidates returns the negotiated local/remote candidate
// pair, populated once connected.
func (c *Connection) SelectedCandidates() (local, remote model.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedLocal, c.selectedRemote
}

func (c *Connection) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return mockerr.New(mockerr.InvalidState, "operation on closed connection")
	}
	return nil
}

// trackRemoteChannel wraps a pion-observed data channel and appends it
// to the tracked list with isLocal=false, per spec §4.3.
func (c *Connection) trackRemoteChannel(dc *webrtc.DataChannel) *DataChannelStream {
	stream := newDataChannelStream(dc, false)
	c.addChannel(stream)
	return stream
}

// CreateDataChannel opens a new local data channel, appends it to the
// tracked list with isLocal=true, and returns once the stack has
// accepted the creation (not once open — callers wanting open should
// use OnOpen or the wait-for-channel step).
func (c *Connection) CreateDataChannel(label string) (*DataChannelStream, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	dc, err := c.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, mockerr.Wrap(mockerr.TransportFailure, "create data channel", err)
	}
	stream := newDataChannelStream(dc, true)
	c.addChannel(stream)
	return stream, nil
}

func (c *Connection) addChannel(stream *DataChannelStream) {
	c.mu.Lock()
	c.channels = append(c.channels, stream)
	c.mu.Unlock()

	stream.OnClose(func() { c.removeChannel(stream) })
	stream.OnOpen(func() {
		c.OnChannelOpen.Emit(stream)
		if stream.IsLocal() {
			c.OnLocalChannelOpen.Emit(stream)
		} else {
			c.OnRemoteChannelOpen.Emit(stream)
		}
	})

	c.OnChannelCreated.Emit(stream)
	if stream.IsLocal() {
		c.OnLocalChannelCreated.Emit(stream)
	} else {
		c.OnRemoteChannelCreated.Emit(stream)
	}
}

func (c *Connection) removeChannel(stream *DataChannelStream) {
	c.mu.Lock()
	for i, s := range c.channels {
		if s == stream {
			c.channels = append(c.channels[:i], c.channels[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

// trackRemoteTrack wraps a pion-observed remote track and appends it
// to the tracked list with isLocal=false.
func (c *Connection) trackRemoteTrack(remote *webrtc.TrackRemote) *MediaTrackStream {
	stream := newRemoteMediaTrackStream(remote, model.DirRecvOnly)
	c.addTrack(stream)
	return stream
}

// addLocalTrack wraps a local sending track (built during offer/answer
// construction or mirroring) and appends it to the tracked list with
// isLocal=true.
func (c *Connection) addLocalTrack(local *webrtc.TrackLocalStaticRTP, mid string, kind model.MediaKind, direction model.Direction) *MediaTrackStream {
	stream := newLocalMediaTrackStream(local, mid, kind, direction)
	c.addTrack(stream)
	return stream
}

func (c *Connection) addTrack(stream *MediaTrackStream) {
	c.mu.Lock()
	c.tracks = append(c.tracks, stream)
	c.mu.Unlock()

	stream.OnClose(func() { c.removeTrack(stream) })
	stream.OnOpen(func() {
		c.OnTrackOpen.Emit(stream)
		if stream.IsLocal() {
			c.OnLocalTrackOpen.Emit(stream)
		} else {
			c.OnRemoteTrackOpen.Emit(stream)
		}
	})

	c.OnTrackCreated.Emit(stream)
	if stream.IsLocal() {
		c.OnLocalTrackCreated.Emit(stream)
	} else {
		c.OnRemoteTrackCreated.Emit(stream)
	}
}

func (c *Connection) removeTrack(stream *MediaTrackStream) {
	c.mu.Lock()
	for i, s := range c.tracks {
		if s == stream {
			c.tracks = append(c.tracks[:i], c.tracks[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

func (c *Connection) hasMediaOrChannels() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels) > 0 || len(c.tracks) > 0
}

// CreateLocalTrack opens a new local sending media track with the
// given mid/kind/direction, used by the echo step to mirror an
// inbound track back out, and by the mirror path to add tracks for
// unmatched source sections (spec §4.4 step 1).
func (c *Connection) CreateLocalTrack(mid string, kind model.MediaKind, direction model.Direction) (*MediaTrackStream, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	mimeType := webrtc.MimeTypeOpus
	if kind == model.MediaVideo {
		mimeType = webrtc.MimeTypeH264
	}
	local, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mimeType}, mid, mid)
	if err != nil {
		return nil, mockerr.Wrap(mockerr.Internal, "build local track", err)
	}
	if _, err := c.pc.AddTrack(local); err != nil {
		return nil, mockerr.Wrap(mockerr.TransportFailure, "add local track", err)
	}
	return c.addLocalTrack(local, mid, kind, direction), nil
}

// CreateOffer implements spec §4.3's createOffer and the offer half of
// §4.4's mirror rules.
func (c *Connection) CreateOffer(ctx context.Context, opts CreateOfferOptions) (model.SessionDescription, error) {
	if err := c.checkOpen(); err != nil {
		return model.SessionDescription{}, err
	}
	c.mergeMetadata(opts.ConnectionMetadata)

	if opts.MirrorSDP != nil {
		return c.mirrorCreateOffer(ctx, *opts.MirrorSDP, opts.ForceSetupChannel)
	}

	needsSetupChannel := !c.hasMediaOrChannels()
	if needsSetupChannel {
		var desc model.SessionDescription
		err := c.withTemporarySetupChannel(func() error {
			var err error
			desc, err = c.driveLocalOffer(ctx)
			return err
		})
		if err != nil {
			return model.SessionDescription{}, err
		}
		return desc, nil
	}
	return c.driveLocalOffer(ctx)
}

// mirrorCreateOffer implements spec §4.4's offer mirroring rules.
func (c *Connection) mirrorCreateOffer(ctx context.Context, source model.SessionDescription, force bool) (model.SessionDescription, error) {
	if err := c.addMirroredTracks(source); err != nil {
		return model.SessionDescription{}, err
	}

	hasAppSection := false
	for _, sec := range source.MediaSections {
		if sec.Type == model.MediaApplication {
			hasAppSection = true
			break
		}
	}
	nonAppCount := 0
	for _, sec := range source.MediaSections {
		if sec.Type != model.MediaApplication {
			nonAppCount++
		}
	}
	needsSetupChannel := hasAppSection || (nonAppCount == 0 && c.State() == model.StateNew) || force

	var desc model.SessionDescription
	var err error
	if needsSetupChannel {
		err = c.withTemporarySetupChannel(func() error {
			desc, err = c.driveLocalOffer(ctx)
			return err
		})
	} else {
		desc, err = c.driveLocalOffer(ctx)
	}
	if err != nil {
		return model.SessionDescription{}, err
	}

	mirrored, err := sdpmirror.MirrorOffer(desc.SDP, source)
	if err != nil {
		return model.SessionDescription{}, err
	}
	return c.setLocalDescriptionText(model.SDPTypeOffer, mirrored)
}

// addMirroredTracks implements §4.4 step 1: add a local track for
// every non-application source section this Connection does not
// already carry, matched by mid.
func (c *Connection) addMirroredTracks(source model.SessionDescription) error {
	existing := map[string]bool{}
	for _, t := range c.Tracks() {
		existing[t.Mid()] = true
	}
	for _, sec := range source.MediaSections {
		if sec.Type == model.MediaApplication || existing[sec.Mid] {
			continue
		}
		if _, err := c.CreateLocalTrack(sec.Mid, sec.Type, sec.Direction); err != nil {
			return err
		}
	}
	return nil
}

// withTemporarySetupChannel opens the raw setup channel described in
// spec §4.3, runs fn (expected to drive the offer while the channel
// exists so gathering has an m-line to work with), captures the local
// description, then closes the setup channel afterward. It is never
// appended to the tracked channel list, and the already-captured local
// description is not regenerated after the close.
func (c *Connection) withTemporarySetupChannel(fn func() error) error {
	dc, err := c.pc.CreateDataChannel(SetupChannelLabel, nil)
	if err != nil {
		return mockerr.Wrap(mockerr.TransportFailure, "create setup channel", err)
	}
	if err := fn(); err != nil {
		_ = dc.Close()
		return err
	}
	if err := dc.Close(); err != nil {
		log.Printf("[engine] setup channel close error: %v", err)
	}
	return nil
}

// driveLocalOffer runs pion's CreateOffer/SetLocalDescription and
// waits for ICE gathering to finish, per spec §4.3/§4.4 step 3.
func (c *Connection) driveLocalOffer(ctx context.Context) (model.SessionDescription, error) {
	c.mu.Lock()
	c.state = model.StateGathering
	c.mu.Unlock()

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return model.SessionDescription{}, mockerr.Wrap(mockerr.Internal, "create offer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return model.SessionDescription{}, mockerr.Wrap(mockerr.Internal, "set local description", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return model.SessionDescription{}, mockerr.Wrap(mockerr.Internal, "ice gathering", ctx.Err())
	}

	final := c.pc.LocalDescription()
	desc, err := sdpmirror.ToModel(model.SDPTypeOffer, final.SDP)
	if err != nil {
		return model.SessionDescription{}, err
	}
	c.mu.Lock()
	c.localDesc = desc
	c.mu.Unlock()
	return desc, nil
}

// setLocalDescriptionText records a mirrored/rewritten SDP as the
// Connection's local description for bookkeeping purposes. It is
// deliberately NOT re-applied to pc via SetLocalDescription: pion's
// own pristine offer/answer (with the real fingerprint and ICE
// credentials) remains what was actually negotiated locally; the
// rewritten text is only what gets signalled onward.
func (c *Connection) setLocalDescriptionText(t model.SDPType, raw string) (model.SessionDescription, error) {
	desc, err := sdpmirror.ToModel(t, raw)
	if err != nil {
		return model.SessionDescription{}, err
	}
	c.mu.Lock()
	c.localDesc = desc
	c.mu.Unlock()
	return desc, nil
}

// AnswerOffer implements spec §4.3's answerOffer and the answer half
// of §4.4's mirror rules.
func (c *Connection) AnswerOffer(ctx context.Context, offer model.SessionDescription, opts AnswerOfferOptions) (model.SessionDescription, error) {
	if err := c.checkOpen(); err != nil {
		return model.SessionDescription{}, err
	}
	c.mergeMetadata(opts.ConnectionMetadata)

	if err := c.setRemoteDescription(offer); err != nil {
		return model.SessionDescription{}, err
	}

	c.mu.Lock()
	c.state = model.StateGathering
	c.mu.Unlock()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return model.SessionDescription{}, mockerr.Wrap(mockerr.Internal, "create answer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return model.SessionDescription{}, mockerr.Wrap(mockerr.Internal, "set local description", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return model.SessionDescription{}, mockerr.Wrap(mockerr.Internal, "ice gathering", ctx.Err())
	}

	final := c.pc.LocalDescription()
	if opts.MirrorSDP == nil {
		return c.setLocalDescriptionText(model.SDPTypeAnswer, final.SDP)
	}

	mirrored, err := sdpmirror.MirrorAnswer(final.SDP, *opts.MirrorSDP)
	if err != nil {
		return model.SessionDescription{}, err
	}
	return c.setLocalDescriptionText(model.SDPTypeAnswer, mirrored)
}

// CompleteOffer implements spec §4.3's completeOffer.
func (c *Connection) CompleteOffer(answer model.SessionDescription) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.setRemoteDescription(answer)
}

func (c *Connection) setRemoteDescription(desc model.SessionDescription) error {
	sdpType := webrtc.SDPTypeOffer
	if desc.Type == model.SDPTypeAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return mockerr.Wrap(mockerr.Internal, "set remote description", err)
	}
	parsed, err := sdpmirror.ToModel(desc.Type, desc.SDP)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.remoteDesc = parsed
	c.mu.Unlock()
	return nil
}

func (c *Connection) mergeMetadata(other model.ConnectionMetadata) {
	c.mu.Lock()
	c.metadata = c.metadata.Merge(other)
	c.mu.Unlock()
}

func (c *Connection) transitionConnected() {
	c.mu.Lock()
	if c.state == model.StateConnected || c.closed {
		c.mu.Unlock()
		return
	}
	c.state = model.StateConnected
	c.timing.ConnectTimestamp = time.Now()
	if pair, err := c.pc.SCTP().Transport().ICETransport().GetSelectedCandidatePair(); err == nil && pair != nil {
		c.selectedLocal = candidateFromICE(pair.Local)
		c.selectedRemote = candidateFromICE(pair.Remote)
	}
	c.mu.Unlock()
	c.OnConnected.Emit(struct{}{})
}

func (c *Connection) transitionDisconnected() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = model.StateDisconnected
	c.timing.DisconnectTimestamp = time.Now()
	c.mu.Unlock()
	c.OnDisconnected.Emit(struct{}{})
}

func (c *Connection) transitionClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = model.StateClosed
	if c.timing.DisconnectTimestamp.IsZero() {
		c.timing.DisconnectTimestamp = time.Now()
	}
	c.pc = nil
	c.mu.Unlock()
	c.OnClosed.Emit(struct{}{})
}

// Close implements spec §4.3's close semantics: the raw handle is
// cleared first (inside transitionClosed) and connection-closed fires;
// all subsequent method calls then fail via checkOpen.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return nil
	}
	c.transitionClosed()
	if err := pc.Close(); err != nil {
		return mockerr.Wrap(mockerr.TransportFailure, "close connection", err)
	}
	return nil
}

// WaitUntilConnected blocks until connection-connected fires, fails
// the underlying stack reports "failed", or ctx is done, per spec §5.
func (c *Connection) WaitUntilConnected(ctx context.Context) error {
	if c.State() == model.StateConnected {
		return nil
	}
	done := make(chan struct{})
	failed := make(chan struct{})
	c.OnConnected.On(func(struct{}) { closeOnce(done) })
	c.OnFailed.On(func(struct{}) { closeOnce(failed) })
	select {
	case <-done:
		return nil
	case <-failed:
		return mockerr.New(mockerr.TransportFailure, "connection failed while waiting to connect")
	case <-ctx.Done():
		return mockerr.Wrap(mockerr.Internal, "wait until connected", ctx.Err())
	}
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func candidateFromICE(c *webrtc.ICECandidate) model.Candidate {
	if c == nil {
		return model.Candidate{}
	}
	proto := model.ProtoUDP
	if c.Protocol == webrtc.ICEProtocolTCP {
		proto = model.ProtoTCP
	}
	var typ model.CandidateType
	switch c.Typ {
	case webrtc.ICECandidateTypeSrflx:
		typ = model.CandidateSrflx
	case webrtc.ICECandidateTypePrflx:
		typ = model.CandidatePrflx
	case webrtc.ICECandidateTypeRelay:
		typ = model.CandidateRelay
	default:
		typ = model.CandidateHost
	}
	return model.Candidate{Address: c.Address, Port: int(c.Port), Protocol: proto, Type: typ}
}
