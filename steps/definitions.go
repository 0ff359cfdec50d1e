// Package steps implements the Handler/Matcher Runtime of spec §4.6:
// a closed set of step and matcher definitions, a definition/
// implementation split (plain data in, dispatch in the interpreter —
// no inheritance hierarchy), and the sequential step interpreter.
package steps

import "github.com/n0remac/mockrtc/model"

// Kind is one of the closed set of step kinds from spec §3.
type Kind string

const (
	KindWaitForDuration Kind = "wait-for-duration"
	KindWaitForChannel  Kind = "wait-for-channel"
	KindWaitForMessage  Kind = "wait-for-message"
	KindWaitForTrack    Kind = "wait-for-track"
	KindWaitForMedia    Kind = "wait-for-media"
	KindCreateChannel   Kind = "create-channel"
	KindSend            Kind = "send"
	KindClose           Kind = "close"
	KindEcho            Kind = "echo"
	KindPeerProxy       Kind = "peer-proxy"
	KindDynamicProxy    Kind = "dynamic-proxy"
)

// TerminalKinds are the step kinds that resolve only on
// connection-closed and must appear last in a valid step list.
var TerminalKinds = map[Kind]bool{
	KindEcho:         true,
	KindPeerProxy:    true,
	KindDynamicProxy: true,
}

// AnswerResolver requests an answer for an offer from the control
// client (peer-proxy's RPC round-trip), per spec §4.6. The rpc
// package supplies the concrete implementation; steps only sees the
// function type.
type AnswerResolver func(offer model.SessionDescription) (model.SessionDescription, error)

// Def is a single step definition: a tagged union over Kind, carrying
// only the fields that kind uses.
type Def struct {
	Kind Kind

	// wait-for-duration
	DurationMs int
	// wait-for-channel, wait-for-message, create-channel, send:
	// optional filter/target label; empty means "any"/"all".
	ChannelLabel string
	// send
	Message []byte
	IsBinary bool
	// peer-proxy
	ResolveAnswer AnswerResolver
}

// WaitForDuration builds a wait-for-duration step.
func WaitForDuration(ms int) Def { return Def{Kind: KindWaitForDuration, DurationMs: ms} }

// WaitForChannel builds a wait-for-channel step; label == "" means any.
func WaitForChannel(label string) Def { return Def{Kind: KindWaitForChannel, ChannelLabel: label} }

// WaitForMessage builds a wait-for-message step.
func WaitForMessage(label string) Def { return Def{Kind: KindWaitForMessage, ChannelLabel: label} }

// WaitForTrack builds a wait-for-track step.
func WaitForTrack() Def { return Def{Kind: KindWaitForTrack} }

// WaitForMedia builds a wait-for-media step.
func WaitForMedia() Def { return Def{Kind: KindWaitForMedia} }

// CreateChannel builds a create-channel step.
func CreateChannel(label string) Def { return Def{Kind: KindCreateChannel, ChannelLabel: label} }

// Send builds a send step with a text payload; label == "" means all.
func Send(label, text string) Def {
	return Def{Kind: KindSend, ChannelLabel: label, Message: []byte(text), IsBinary: false}
}

// SendBytes builds a send step with a binary payload.
func SendBytes(label string, data []byte) Def {
	return Def{Kind: KindSend, ChannelLabel: label, Message: data, IsBinary: true}
}

// Close builds a close step.
func Close() Def { return Def{Kind: KindClose} }

// Echo builds a terminal echo step.
func Echo() Def { return Def{Kind: KindEcho} }

// PeerProxy builds a terminal peer-proxy step.
func PeerProxy(resolve AnswerResolver) Def {
	return Def{Kind: KindPeerProxy, ResolveAnswer: resolve}
}

// DynamicProxy builds a terminal dynamic-proxy step.
func DynamicProxy() Def { return Def{Kind: KindDynamicProxy} }

// MatcherKind is one of the closed set of matcher kinds from spec §3.
type MatcherKind string

const (
	MatcherHasDataChannel  MatcherKind = "has-data-channel"
	MatcherHasVideoTrack   MatcherKind = "has-video-track"
	MatcherHasAudioTrack   MatcherKind = "has-audio-track"
	MatcherHasMediaTrack   MatcherKind = "has-media-track"
	MatcherPageHostname    MatcherKind = "page-hostname"
	MatcherPageRegex       MatcherKind = "page-regex"
	MatcherUserAgentRegex  MatcherKind = "user-agent-regex"
)

// MatcherDef is a single matcher definition, per spec §3.
type MatcherDef struct {
	Kind MatcherKind

	Hostname string
	Source   string
	Flags    string
}

// HasDataChannel matches a connection that negotiated any data channel.
func HasDataChannel() MatcherDef { return MatcherDef{Kind: MatcherHasDataChannel} }

// HasVideoTrack matches a connection that negotiated a video m-section.
func HasVideoTrack() MatcherDef { return MatcherDef{Kind: MatcherHasVideoTrack} }

// HasAudioTrack matches a connection that negotiated an audio m-section.
func HasAudioTrack() MatcherDef { return MatcherDef{Kind: MatcherHasAudioTrack} }

// HasMediaTrack matches a connection that negotiated any media m-section.
func HasMediaTrack() MatcherDef { return MatcherDef{Kind: MatcherHasMediaTrack} }

// PageHostname matches metadata.sourceURL's hostname exactly.
func PageHostname(hostname string) MatcherDef {
	return MatcherDef{Kind: MatcherPageHostname, Hostname: hostname}
}

// PageRegex matches metadata.sourceURL against a regex.
func PageRegex(source, flags string) MatcherDef {
	return MatcherDef{Kind: MatcherPageRegex, Source: source, Flags: flags}
}

// UserAgentRegex matches metadata.userAgent against a regex.
func UserAgentRegex(source, flags string) MatcherDef {
	return MatcherDef{Kind: MatcherUserAgentRegex, Source: source, Flags: flags}
}
