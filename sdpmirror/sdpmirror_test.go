package sdpmirror

import (
	"strings"
	"testing"

	"github.com/n0remac/mockrtc/mockerr"
	"github.com/n0remac/mockrtc/model"
)

const localOfferSDP = `v=0
o=- 1 1 IN IP4 127.0.0.1
s=-
t=0 0
a=msid-semantic: WMS local-stream
m=audio 9 UDP/TLS/RTP/SAVPF 111
c=IN IP4 0.0.0.0
a=mid:0
a=sendrecv
a=rtpmap:111 opus/48000/2
a=fmtp:111 minptime=10;useinbandfec=1
a=ssrc:1111 cname:local-audio
`

const sourceOfferSDP = `v=0
o=- 2 2 IN IP4 127.0.0.1
s=-
t=0 0
a=msid-semantic: WMS remote-stream
m=audio 9 UDP/TLS/RTP/SAVPF 111
c=IN IP4 0.0.0.0
a=mid:0
a=sendrecv
a=rtpmap:111 opus/48000/2
a=fmtp:111 minptime=20;useinbandfec=0
a=ssrc:9999 cname:remote-audio
a=ssrc:9999 msid:remote-stream remote-track
`

func TestMirrorOfferOverwritesMediaAttributes(t *testing.T) {
	out, err := MirrorOffer(localOfferSDP, model.SessionDescription{SDP: sourceOfferSDP})
	if err != nil {
		t.Fatalf("MirrorOffer: %v", err)
	}

	if !strings.Contains(out, "a=fmtp:111 minptime=20;useinbandfec=0") {
		t.Errorf("expected mirrored fmtp line, got:\n%s", out)
	}
	if !strings.Contains(out, "a=ssrc:9999 cname:remote-audio") {
		t.Errorf("expected mirrored ssrc line, got:\n%s", out)
	}
	if strings.Contains(out, "a=ssrc:1111") {
		t.Errorf("expected local ssrc to be dropped, got:\n%s", out)
	}
	if !strings.Contains(out, "WMS remote-stream") {
		t.Errorf("expected mirrored msid-semantic, got:\n%s", out)
	}
	// mid and direction stay the local peer's own.
	if !strings.Contains(out, "a=mid:0") || !strings.Contains(out, "a=sendrecv") {
		t.Errorf("expected local mid/direction preserved, got:\n%s", out)
	}
}

func TestMirrorAnswerMissingMidIsMirrorMismatch(t *testing.T) {
	const sourceWithExtraMid = `v=0
o=- 2 2 IN IP4 127.0.0.1
s=-
t=0 0
m=audio 9 UDP/TLS/RTP/SAVPF 111
a=mid:1
a=sendrecv
a=rtpmap:111 opus/48000/2
`
	_, err := MirrorAnswer(localOfferSDP, model.SessionDescription{SDP: sourceWithExtraMid})
	if err == nil {
		t.Fatal("expected a mirror-mismatch error for a mid absent from the target")
	}
	if !mockerr.Is(err, mockerr.MirrorMismatch) {
		t.Errorf("expected mockerr.MirrorMismatch, got %v", err)
	}
}

func TestMirrorOfferSkipsApplicationSections(t *testing.T) {
	const localWithApp = localOfferSDP + `m=application 9 UDP/DTLS/SCTP webrtc-datachannel
a=mid:1
a=sctp-port:5000
`
	const sourceWithApp = sourceOfferSDP + `m=application 9 UDP/DTLS/SCTP webrtc-datachannel
a=mid:1
a=sctp-port:6000
`
	out, err := MirrorOffer(localWithApp, model.SessionDescription{SDP: sourceWithApp})
	if err != nil {
		t.Fatalf("MirrorOffer: %v", err)
	}
	if !strings.Contains(out, "a=sctp-port:5000") {
		t.Errorf("expected local application section untouched, got:\n%s", out)
	}
	if strings.Contains(out, "a=sctp-port:6000") {
		t.Errorf("did not expect source application section to leak in, got:\n%s", out)
	}
}

func TestToModelParsesMediaSections(t *testing.T) {
	desc, err := ToModel(model.SDPTypeOffer, sourceOfferSDP)
	if err != nil {
		t.Fatalf("ToModel: %v", err)
	}
	if len(desc.MediaSections) != 1 {
		t.Fatalf("expected 1 media section, got %d", len(desc.MediaSections))
	}
	sec := desc.MediaSections[0]
	if sec.Type != model.MediaAudio {
		t.Errorf("expected audio section, got %s", sec.Type)
	}
	if sec.Mid != "0" {
		t.Errorf("expected mid 0, got %q", sec.Mid)
	}
	if sec.Direction != model.DirSendRecv {
		t.Errorf("expected sendrecv, got %s", sec.Direction)
	}
	if len(sec.SSRCs) != 2 {
		t.Fatalf("expected 2 ssrc attributes, got %d", len(sec.SSRCs))
	}
	if sec.SSRCs[0].ID != 9999 || sec.SSRCs[0].Attribute != "cname" || sec.SSRCs[0].Value != "remote-audio" {
		t.Errorf("unexpected first ssrc: %+v", sec.SSRCs[0])
	}
	if desc.MsidSemantic == "" {
		t.Error("expected msid-semantic to be captured")
	}
	if len(sec.RTP) != 1 || sec.RTP[0].PayloadType != 111 || sec.RTP[0].Name != "opus" || sec.RTP[0].ClockRate != 48000 || sec.RTP[0].Channels != 2 {
		t.Errorf("unexpected rtp codecs: %+v", sec.RTP)
	}
	if len(sec.Fmtp) != 1 || sec.Fmtp[0].PayloadType != 111 || sec.Fmtp[0].Parameters != "minptime=20;useinbandfec=0" {
		t.Errorf("unexpected fmtp params: %+v", sec.Fmtp)
	}
}

func TestToModelParsesRtcpAndRtcpFb(t *testing.T) {
	const sdpWithRtcp = `v=0
o=- 1 1 IN IP4 127.0.0.1
s=-
t=0 0
m=video 9 UDP/TLS/RTP/SAVPF 96
c=IN IP4 0.0.0.0
a=mid:0
a=sendrecv
a=rtpmap:96 VP8/90000
a=rtcp:9 IN IP4 0.0.0.0
a=rtcp-fb:96 nack
a=rtcp-fb:* goog-remb
`
	desc, err := ToModel(model.SDPTypeOffer, sdpWithRtcp)
	if err != nil {
		t.Fatalf("ToModel: %v", err)
	}
	sec := desc.MediaSections[0]
	if sec.Rtcp == "" {
		t.Error("expected rtcp attribute to be captured")
	}
	if len(sec.RtcpFb) != 2 {
		t.Fatalf("expected 2 rtcp-fb entries, got %d", len(sec.RtcpFb))
	}
	if sec.RtcpFb[0].PayloadType != 96 || sec.RtcpFb[0].Value != "nack" {
		t.Errorf("unexpected first rtcp-fb: %+v", sec.RtcpFb[0])
	}
	if sec.RtcpFb[1].PayloadType != 0 || sec.RtcpFb[1].Value != "goog-remb" {
		t.Errorf("expected wildcard rtcp-fb to map to payload type 0, got %+v", sec.RtcpFb[1])
	}
}
