package engine

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// NewAPI builds the pion API shared by every Connection in a process:
// Opus for audio, H264 with the common browser-baseline fmtp for
// video, plus pion's default interceptor set (NACK/PLI, RTCP reports,
// twcc). Grounded on the teacher's newSFUAPI, generalized from "one
// SFU's fixed codec table" to "every mock connection's codec table".
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: []webrtc.RTCPFeedback{{Type: "nack"}, {Type: "nack", Parameter: "pli"}, {Type: "goog-remb"}},
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)), nil
}

// NewPeerConnection builds a raw *webrtc.PeerConnection using api and
// the given STUN/TURN server URLs.
func NewPeerConnection(api *webrtc.API, iceServerURLs []string) (*webrtc.PeerConnection, error) {
	cfg := webrtc.Configuration{}
	if len(iceServerURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServerURLs}}
	}
	return api.NewPeerConnection(cfg)
}
