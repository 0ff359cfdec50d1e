// Package sdpmirror implements the SDP Mirror transformer from spec
// §4.4: given a foreign SDP, it rewrites a locally generated SDP so it
// negotiates the same media streams (same m-lines, mids, payload
// types, SSRCs, directions) while leaving this peer's own DTLS
// fingerprint, ICE credentials and candidates untouched.
//
// It operates purely on pion/sdp/v3 values and raw SDP text; it has no
// dependency on the engine package so engine can depend on it (not the
// other way around) — engine.Connection drives pion's own
// CreateOffer/CreateAnswer/ICE-gathering dance and hands the resulting
// raw SDP text to this package for the attribute rewrite pass.
package sdpmirror

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/n0remac/mockrtc/mockerr"
	"github.com/n0remac/mockrtc/model"
)

// mirroredAttributeKeys are the a= line keys overwritten wholesale
// from the source section onto the target, per spec §4.4 step 4.
// rtcp-mux/rtcp-rsize are intentionally included under "rtcp".
var mirroredAttributeKeys = map[string]bool{
	"rtpmap":     true,
	"fmtp":       true,
	"rtcp":       true,
	"rtcp-mux":   true,
	"rtcp-rsize": true,
	"rtcp-fb":    true,
	"extmap":     true,
	"ssrc":       true,
	"ssrc-group": true,
	"msid":       true,
}

// Parse unmarshals raw SDP text into pion's structured form.
func Parse(raw string) (*sdp.SessionDescription, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, mockerr.Wrap(mockerr.Internal, "parse sdp", err)
	}
	return &sd, nil
}

// ToModel parses raw SDP text into the spec §3 SessionDescription
// shape used throughout the rest of the codebase.
func ToModel(sdpType model.SDPType, raw string) (model.SessionDescription, error) {
	sd, err := Parse(raw)
	if err != nil {
		return model.SessionDescription{}, err
	}
	out := model.SessionDescription{Type: sdpType, SDP: raw}
	if v, ok := findAttr(sd.Attributes, "msid-semantic"); ok {
		out.MsidSemantic = v
	}
	for _, md := range sd.MediaDescriptions {
		out.MediaSections = append(out.MediaSections, mediaSectionFromSDP(md))
	}
	return out, nil
}

func mediaSectionFromSDP(md *sdp.MediaDescription) model.MediaSection {
	sec := model.MediaSection{
		Protocol: joinProtos(md.MediaName.Protos),
	}
	switch md.MediaName.Media {
	case "audio":
		sec.Type = model.MediaAudio
	case "video":
		sec.Type = model.MediaVideo
	default:
		sec.Type = model.MediaApplication
	}
	for _, fmtStr := range md.MediaName.Formats {
		var pt int
		fmt.Sscanf(fmtStr, "%d", &pt)
		sec.Payloads = append(sec.Payloads, pt)
	}
	for _, a := range md.Attributes {
		switch a.Key {
		case "mid":
			sec.Mid = a.Value
		case "sendrecv":
			sec.Direction = model.DirSendRecv
		case "sendonly":
			sec.Direction = model.DirSendOnly
		case "recvonly":
			sec.Direction = model.DirRecvOnly
		case "inactive":
			sec.Direction = model.DirInactive
		case "extmap":
			sec.Ext = append(sec.Ext, a.Value)
		case "msid":
			sec.MSID = a.Value
		case "ssrc":
			if s, ok := parseSSRCAttr(a.Value); ok {
				sec.SSRCs = append(sec.SSRCs, s)
			}
		case "ssrc-group":
			if g, ok := parseSSRCGroupAttr(a.Value); ok {
				sec.SSRCGroups = append(sec.SSRCGroups, g)
			}
		case "rtpmap":
			if c, ok := parseRtpmapAttr(a.Value); ok {
				sec.RTP = append(sec.RTP, c)
			}
		case "fmtp":
			if p, ok := parseFmtpAttr(a.Value); ok {
				sec.Fmtp = append(sec.Fmtp, p)
			}
		case "rtcp":
			sec.Rtcp = a.Value
		case "rtcp-fb":
			if fb, ok := parseRtcpFbAttr(a.Value); ok {
				sec.RtcpFb = append(sec.RtcpFb, fb)
			}
		}
	}
	return sec
}

// parseRtpmapAttr parses "a=rtpmap:<pt> <encoding>/<clockrate>[/<channels>]".
func parseRtpmapAttr(value string) (model.RTPCodec, bool) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return model.RTPCodec{}, false
	}
	pt, err := strconv.Atoi(fields[0])
	if err != nil {
		return model.RTPCodec{}, false
	}
	c := model.RTPCodec{PayloadType: pt}
	parts := strings.Split(fields[1], "/")
	c.Name = parts[0]
	if len(parts) > 1 {
		fmt.Sscanf(parts[1], "%d", &c.ClockRate)
	}
	if len(parts) > 2 {
		fmt.Sscanf(parts[2], "%d", &c.Channels)
	} else {
		c.Channels = 1
	}
	return c, true
}

// parseFmtpAttr parses "a=fmtp:<pt> <parameters>".
func parseFmtpAttr(value string) (model.FmtpParam, bool) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return model.FmtpParam{}, false
	}
	pt, err := strconv.Atoi(fields[0])
	if err != nil {
		return model.FmtpParam{}, false
	}
	return model.FmtpParam{PayloadType: pt, Parameters: fields[1]}, true
}

// parseRtcpFbAttr parses "a=rtcp-fb:<pt|*> <value>". The "*" wildcard
// maps to PayloadType 0.
func parseRtcpFbAttr(value string) (model.RTCPFeedback, bool) {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return model.RTCPFeedback{}, false
	}
	fb := model.RTCPFeedback{Value: fields[1]}
	if fields[0] != "*" {
		pt, err := strconv.Atoi(fields[0])
		if err != nil {
			return model.RTCPFeedback{}, false
		}
		fb.PayloadType = pt
	}
	return fb, true
}

// parseSSRCAttr parses "a=ssrc:<id> <attribute>:<value>" (e.g.
// "1234 cname:abc" or "1234 msid:stream track").
func parseSSRCAttr(value string) (model.SSRC, bool) {
	fields := strings.SplitN(value, " ", 2)
	id, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return model.SSRC{}, false
	}
	s := model.SSRC{ID: uint32(id)}
	if len(fields) == 2 {
		kv := strings.SplitN(fields[1], ":", 2)
		s.Attribute = kv[0]
		if len(kv) == 2 {
			s.Value = kv[1]
		}
	}
	return s, true
}

// parseSSRCGroupAttr parses "a=ssrc-group:<semantics> <id> <id> ...".
func parseSSRCGroupAttr(value string) (model.SSRCGroup, bool) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return model.SSRCGroup{}, false
	}
	g := model.SSRCGroup{Semantics: fields[0]}
	for _, f := range fields[1:] {
		id, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			continue
		}
		g.SSRCs = append(g.SSRCs, uint32(id))
	}
	return g, true
}

func joinProtos(protos []string) string {
	out := ""
	for i, p := range protos {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}

func findAttr(attrs []sdp.Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func findMediaByMid(sd *sdp.SessionDescription, mid string) *sdp.MediaDescription {
	for _, md := range sd.MediaDescriptions {
		if v, ok := findAttr(md.Attributes, "mid"); ok && v == mid {
			return md
		}
	}
	return nil
}

func mediaKind(md *sdp.MediaDescription) model.MediaKind {
	switch md.MediaName.Media {
	case "audio":
		return model.MediaAudio
	case "video":
		return model.MediaVideo
	default:
		return model.MediaApplication
	}
}

// MirrorOffer overwrites localRaw's non-application media sections
// with the matching media parameters from source, per spec §4.4 step
// 4: msid, protocol, ext, payloads, rtp, fmtp, rtcp, rtcpFb,
// ssrcGroups, ssrcs. Session-level msid-semantic is copied too.
// Fingerprints, ICE ufrag/pwd and candidate lines are left alone.
//
// Unlike answer mirroring, a source mid missing from localRaw is not
// a mirror-mismatch here — step 1 of §4.4 is responsible for having already
// added a matching section before the offer was generated; if it is
// still missing, that call site has a bug, so we surface it as an
// internal error rather than a protocol-level mirror-mismatch.
func MirrorOffer(localRaw string, source model.SessionDescription) (string, error) {
	return mirror(localRaw, source, false)
}

// MirrorAnswer is the answer-side counterpart: same attribute
// overwrite, but a missing mid or a type disagreement for the same
// mid is reported as mockerr.MirrorMismatch, per spec §4.4.
func MirrorAnswer(localRaw string, source model.SessionDescription) (string, error) {
	return mirror(localRaw, source, true)
}

func mirror(localRaw string, source model.SessionDescription, strict bool) (string, error) {
	local, err := Parse(localRaw)
	if err != nil {
		return "", err
	}
	srcSD, err := Parse(source.SDP)
	if err != nil {
		return "", err
	}

	if v, ok := findAttr(srcSD.Attributes, "msid-semantic"); ok {
		local.Attributes = setAttr(local.Attributes, "msid-semantic", v)
	}

	for _, srcMD := range srcSD.MediaDescriptions {
		if srcMD.MediaName.Media == "application" {
			continue
		}
		mid, ok := findAttr(srcMD.Attributes, "mid")
		if !ok {
			continue
		}
		targetMD := findMediaByMid(local, mid)
		if targetMD == nil {
			if strict {
				return "", mockerr.New(mockerr.MirrorMismatch, fmt.Sprintf("mirror-mismatch: mid %q missing in target", mid))
			}
			return "", mockerr.New(mockerr.Internal, fmt.Sprintf("mirror: mid %q not pre-added to local offer", mid))
		}
		if strict && mediaKind(targetMD) != mediaKind(srcMD) {
			return "", mockerr.New(mockerr.MirrorMismatch, fmt.Sprintf("mirror-mismatch: mid %q type differs (target=%s source=%s)", mid, targetMD.MediaName.Media, srcMD.MediaName.Media))
		}

		targetMD.MediaName.Formats = append([]string{}, srcMD.MediaName.Formats...)
		targetMD.MediaName.Protos = append([]string{}, srcMD.MediaName.Protos...)
		targetMD.Attributes = overwriteMirroredAttrs(targetMD.Attributes, srcMD.Attributes)
	}

	out, err := local.Marshal()
	if err != nil {
		return "", mockerr.Wrap(mockerr.Internal, "marshal mirrored sdp", err)
	}
	return string(out), nil
}

// overwriteMirroredAttrs drops every target attribute whose key is in
// mirroredAttributeKeys, then appends the source's attributes of those
// same keys (in source order), leaving direction, mid, fingerprint,
// ice-ufrag/pwd and candidate attributes untouched.
func overwriteMirroredAttrs(target, source []sdp.Attribute) []sdp.Attribute {
	kept := make([]sdp.Attribute, 0, len(target))
	for _, a := range target {
		if !mirroredAttributeKeys[a.Key] {
			kept = append(kept, a)
		}
	}
	for _, a := range source {
		if mirroredAttributeKeys[a.Key] {
			kept = append(kept, a)
		}
	}
	return kept
}

func setAttr(attrs []sdp.Attribute, key, value string) []sdp.Attribute {
	for i, a := range attrs {
		if a.Key == key {
			attrs[i].Value = value
			return attrs
		}
	}
	return append(attrs, sdp.Attribute{Key: key, Value: value})
}
