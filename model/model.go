// Package model holds the wire-level data shapes shared across the
// engine, sdpmirror, steps, mock, peer and mockserver packages: the
// SessionDescription/Candidate/timing shapes from spec §3.
package model

import "time"

// SDPType mirrors the two session description roles.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// MediaKind is the m-section type.
type MediaKind string

const (
	MediaApplication MediaKind = "application"
	MediaAudio       MediaKind = "audio"
	MediaVideo       MediaKind = "video"
)

// Direction is the negotiated a=sendrecv/sendonly/recvonly/inactive.
type Direction string

const (
	DirSendRecv Direction = "sendrecv"
	DirSendOnly Direction = "sendonly"
	DirRecvOnly Direction = "recvonly"
	DirInactive Direction = "inactive"
)

// SSRC is one a=ssrc:<id> <attribute>:<value> line.
type SSRC struct {
	ID        uint32 `json:"id"`
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// SSRCGroup is an a=ssrc-group line: a semantic tying together SSRCs
// (e.g. FID for RTX).
type SSRCGroup struct {
	Semantics string   `json:"semantics"`
	SSRCs     []uint32 `json:"ssrcs"`
}

// RTPCodec is one a=rtpmap:<pt> <encoding>/<clockrate>[/<channels>] line.
type RTPCodec struct {
	PayloadType int    `json:"payloadType"`
	Name        string `json:"name"`
	ClockRate   int    `json:"clockRate"`
	Channels    int    `json:"channels"`
}

// FmtpParam is one a=fmtp:<pt> <parameters> line.
type FmtpParam struct {
	PayloadType int    `json:"payloadType"`
	Parameters  string `json:"parameters"`
}

// RTCPFeedback is one a=rtcp-fb:<pt|*> <value> line. PayloadType is 0
// for the "*" wildcard (applies to every payload type in the section).
type RTCPFeedback struct {
	PayloadType int    `json:"payloadType"`
	Value       string `json:"value"`
}

// MediaSection is the parsed form of one m-line, per spec §3: mid,
// type, direction, payloads, rtp/fmtp/rtcp/rtcpFb, ext,
// ssrcs/ssrcGroups, msid, protocol.
type MediaSection struct {
	Mid        string         `json:"mid"`
	Type       MediaKind      `json:"type"`
	Direction  Direction      `json:"direction"`
	Protocol   string         `json:"protocol"`
	Payloads   []int          `json:"payloads"`
	RTP        []RTPCodec     `json:"rtp"`
	Fmtp       []FmtpParam    `json:"fmtp"`
	Rtcp       string         `json:"rtcp"`
	RtcpFb     []RTCPFeedback `json:"rtcpFb"`
	Ext        []string       `json:"ext"`
	SSRCs      []SSRC         `json:"ssrcs"`
	SSRCGroups []SSRCGroup    `json:"ssrcGroups"`
	MSID       string         `json:"msid"`
}

// SessionDescription is {type, sdp, parsed} from spec §3. Parsed is
// derived from SDP; mutating Parsed without re-serializing SDP is a
// caller bug, not a supported operation — re-serialization happens in
// sdpmirror and engine.Connection, never lazily here.
type SessionDescription struct {
	Type          SDPType        `json:"type"`
	SDP           string         `json:"sdp"`
	MsidSemantic  string         `json:"msidSemantic,omitempty"`
	MediaSections []MediaSection `json:"mediaSections,omitempty"`
}

// CandidateProtocol is udp or tcp.
type CandidateProtocol string

const (
	ProtoUDP CandidateProtocol = "udp"
	ProtoTCP CandidateProtocol = "tcp"
)

// CandidateType is host/srflx/prflx/relay.
type CandidateType string

const (
	CandidateHost   CandidateType = "host"
	CandidateSrflx  CandidateType = "srflx"
	CandidatePrflx  CandidateType = "prflx"
	CandidateRelay  CandidateType = "relay"
)

// Candidate is the selected local/remote ICE candidate, per spec §3.
type Candidate struct {
	Address  string
	Port     int
	Protocol CandidateProtocol
	Type     CandidateType
}

// ConnectionMetadata is free-form per-connection context supplied by
// the control client (userAgent, sourceURL, ...).
type ConnectionMetadata struct {
	UserAgent string
	SourceURL string
	Extra     map[string]string
}

// Merge overlays non-zero fields from other onto m, matching
// Connection.createOffer's "opts.connectionMetadata merges into the
// Connection metadata" behaviour.
func (m ConnectionMetadata) Merge(other ConnectionMetadata) ConnectionMetadata {
	out := m
	if other.UserAgent != "" {
		out.UserAgent = other.UserAgent
	}
	if other.SourceURL != "" {
		out.SourceURL = other.SourceURL
	}
	if len(other.Extra) > 0 {
		merged := make(map[string]string, len(out.Extra)+len(other.Extra))
		for k, v := range out.Extra {
			merged[k] = v
		}
		for k, v := range other.Extra {
			merged[k] = v
		}
		out.Extra = merged
	}
	return out
}

// TimingEvents records the monotonic lifecycle timestamps from spec §3.
type TimingEvents struct {
	StartTime               time.Time
	ConnectTimestamp        time.Time
	ExternalAttachTimestamp time.Time
	DisconnectTimestamp     time.Time
}

// ConnectionState is the Connection lifecycle from spec §3.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateGathering    ConnectionState = "gathering"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateClosed       ConnectionState = "closed"
)
