package rpc

import (
	"github.com/n0remac/mockrtc/model"
	"github.com/n0remac/mockrtc/peer"
	"github.com/n0remac/mockrtc/steps"
)

// stepDTO is the wire shape of one steps.Def. peer-proxy's
// ResolveAnswer is never carried over the wire — the edge always binds
// it to the issuing client's own resolvePeerProxyAnswer round-trip.
type stepDTO struct {
	Kind         steps.Kind `json:"kind"`
	DurationMs   int        `json:"durationMs,omitempty"`
	ChannelLabel string     `json:"channelLabel,omitempty"`
	Message      []byte     `json:"message,omitempty"`
	IsBinary     bool       `json:"isBinary,omitempty"`
}

func (c *Client) toStepDef(d stepDTO) steps.Def {
	def := steps.Def{
		Kind:         d.Kind,
		DurationMs:   d.DurationMs,
		ChannelLabel: d.ChannelLabel,
		Message:      d.Message,
		IsBinary:     d.IsBinary,
	}
	if d.Kind == steps.KindPeerProxy {
		def.ResolveAnswer = c.resolvePeerProxyAnswer
	}
	return def
}

func (c *Client) toStepDefs(dtos []stepDTO) []steps.Def {
	out := make([]steps.Def, len(dtos))
	for i, d := range dtos {
		out[i] = c.toStepDef(d)
	}
	return out
}

// matcherDTO is the wire shape of one steps.MatcherDef.
type matcherDTO struct {
	Kind     steps.MatcherKind `json:"kind"`
	Hostname string            `json:"hostname,omitempty"`
	Source   string            `json:"source,omitempty"`
	Flags    string            `json:"flags,omitempty"`
}

func toMatcherDef(d matcherDTO) steps.MatcherDef {
	return steps.MatcherDef{Kind: d.Kind, Hostname: d.Hostname, Source: d.Source, Flags: d.Flags}
}

func toMatcherDefs(dtos []matcherDTO) []steps.MatcherDef {
	out := make([]steps.MatcherDef, len(dtos))
	for i, d := range dtos {
		out[i] = toMatcherDef(d)
	}
	return out
}

type ruleDTO struct {
	Matchers []matcherDTO `json:"matchers"`
	Steps    []stepDTO    `json:"steps"`
}

// createPeerPayload is OpCreatePeer's request shape.
type createPeerPayload struct {
	Steps []stepDTO `json:"steps"`
}

type createPeerResult struct {
	PeerID string `json:"peerId"`
}

// addRTCRulePayload is OpAddRTCRule's request shape.
type addRTCRulePayload struct {
	Matchers []matcherDTO `json:"matchers"`
	Steps    []stepDTO    `json:"steps"`
}

// setRTCRulesPayload is OpSetRTCRules's request shape.
type setRTCRulesPayload struct {
	Rules []ruleDTO `json:"rules"`
}

// offerPayload covers OpCreateOffer/OpCreateExternalOffer/OpAnswerOffer/
// OpAnswerExternalOffer's common fields. SessionID and Offer are unused
// by the create* ops; MirrorSDP and Offer are pointers so "absent" is
// distinguishable from "zero value".
type offerPayload struct {
	PeerID            string                     `json:"peerId"`
	SessionID         string                     `json:"sessionId,omitempty"`
	Offer             *model.SessionDescription  `json:"offer,omitempty"`
	MirrorSDP         *model.SessionDescription  `json:"mirrorSdp,omitempty"`
	Metadata          model.ConnectionMetadata   `json:"metadata"`
	ForceSetupChannel bool                       `json:"forceSetupChannel,omitempty"`
}

type offerResult struct {
	SessionDescription model.SessionDescription `json:"sessionDescription"`
	SessionID          string                    `json:"sessionId"`
}

// completeOfferPayload is OpCompleteOffer's request shape.
type completeOfferPayload struct {
	PeerID    string                    `json:"peerId"`
	SessionID string                    `json:"sessionId"`
	Answer    model.SessionDescription  `json:"answer"`
}

// getSeenMessagesPayload is OpGetSeenMessages's request shape. An empty
// ChannelLabel requests every recorded channel's messages.
type getSeenMessagesPayload struct {
	PeerID       string `json:"peerId"`
	ChannelLabel string `json:"channelLabel,omitempty"`
}

type recordedMessageDTO struct {
	ChannelLabel string `json:"channelLabel"`
	Data         []byte `json:"data"`
	IsBinary     bool   `json:"isBinary"`
}

type getSeenMessagesResult struct {
	Messages []recordedMessageDTO `json:"messages"`
}

func flattenMessages(byChannel map[string][]peer.RecordedMessage) []recordedMessageDTO {
	var out []recordedMessageDTO
	for _, msgs := range byChannel {
		for _, m := range msgs {
			out = append(out, recordedMessageDTO{ChannelLabel: m.ChannelLabel, Data: m.Data, IsBinary: m.IsBinary})
		}
	}
	return out
}

func messagesToDTO(msgs []peer.RecordedMessage) []recordedMessageDTO {
	out := make([]recordedMessageDTO, len(msgs))
	for i, m := range msgs {
		out[i] = recordedMessageDTO{ChannelLabel: m.ChannelLabel, Data: m.Data, IsBinary: m.IsBinary}
	}
	return out
}

// resolvePeerProxyAnswerPayload is the server -> client round-trip
// request body for methodResolvePeerProxyAnswer.
type resolvePeerProxyAnswerPayload struct {
	Offer model.SessionDescription `json:"offer"`
}

type resolvePeerProxyAnswerResult struct {
	Answer model.SessionDescription `json:"answer"`
}
