package engine

// Message is a single data-channel payload. Exactly one of Text/Data
// is meaningful, selected by IsBinary — this mirrors the wire-level
// binary flag pion's DataChannel.OnMessage already exposes, and it
// must be preserved end-to-end per spec §4.1.
type Message struct {
	Text     string
	Data     []byte
	IsBinary bool
}

// TextMessage builds a text-flagged Message.
func TextMessage(s string) Message {
	return Message{Text: s, IsBinary: false}
}

// BinaryMessage builds a binary-flagged Message.
func BinaryMessage(b []byte) Message {
	return Message{Data: b, IsBinary: true}
}

// Bytes returns the payload as bytes regardless of which field is set.
func (m Message) Bytes() []byte {
	if m.IsBinary {
		return m.Data
	}
	return []byte(m.Text)
}
