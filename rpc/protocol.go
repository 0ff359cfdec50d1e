// Package rpc is the admin/control edge that stands in for the
// out-of-scope GraphQL mutation/subscription surface of spec §6: it
// exposes the same mutations, the getSeenMessages query, and the
// ten-kind event subscription over a gorilla/websocket connection
// instead, since the real GraphQL transport is explicitly named as an
// external collaborator the core never implements.
package rpc

import "encoding/json"

// Op is one admin RPC operation name, mirroring spec §6's mutation and
// query names one-to-one.
type Op string

const (
	OpCreatePeer            Op = "createPeer"
	OpAddRTCRule            Op = "addRTCRule"
	OpSetRTCRules           Op = "setRTCRules"
	OpCreateOffer           Op = "createOffer"
	OpCreateExternalOffer   Op = "createExternalOffer"
	OpCompleteOffer         Op = "completeOffer"
	OpAnswerOffer           Op = "answerOffer"
	OpAnswerExternalOffer   Op = "answerExternalOffer"
	OpGetSeenMessages       Op = "getSeenMessages"
)

// envelopeKind distinguishes the four message shapes that flow over
// the connection in either direction: a client-issued call, a
// server-issued response to that call, a server-pushed event, or a
// server-issued round-trip request (used only for peer-proxy's
// answerResolver callback).
type envelopeKind string

const (
	kindCall     envelopeKind = "call"
	kindResponse envelopeKind = "response"
	kindEvent    envelopeKind = "event"
	kindRequest  envelopeKind = "request"
)

// callEnvelope is a client -> server operation invocation.
type callEnvelope struct {
	Kind    envelopeKind    `json:"kind"`
	ReqID   string          `json:"reqId"`
	Op      Op              `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// responseEnvelope answers a callEnvelope or a server-issued
// requestEnvelope, correlated by ReqID.
type responseEnvelope struct {
	Kind    envelopeKind    `json:"kind"`
	ReqID   string          `json:"reqId"`
	OK      bool            `json:"ok"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// eventEnvelope carries one published core event to the client.
// Binary payloads (DataChannelMessage.Content) base64-encode for free
// under encoding/json's []byte handling, matching spec §6's
// "binary payloads base64-encoded" requirement with no extra code.
type eventEnvelope struct {
	Kind  envelopeKind    `json:"kind"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// requestEnvelope is a server -> client round-trip: currently only
// used to resolve peer-proxy's answerResolver callback.
type requestEnvelope struct {
	Kind    envelopeKind    `json:"kind"`
	ReqID   string          `json:"reqId"`
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload"`
}

const methodResolvePeerProxyAnswer = "resolvePeerProxyAnswer"
