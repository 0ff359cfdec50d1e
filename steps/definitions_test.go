package steps

import "testing"

func TestConstructorsSetExpectedKind(t *testing.T) {
	cases := []struct {
		name string
		def  Def
		want Kind
	}{
		{"WaitForDuration", WaitForDuration(500), KindWaitForDuration},
		{"WaitForChannel", WaitForChannel("data"), KindWaitForChannel},
		{"WaitForMessage", WaitForMessage(""), KindWaitForMessage},
		{"WaitForTrack", WaitForTrack(), KindWaitForTrack},
		{"WaitForMedia", WaitForMedia(), KindWaitForMedia},
		{"CreateChannel", CreateChannel("data"), KindCreateChannel},
		{"Send", Send("data", "hi"), KindSend},
		{"SendBytes", SendBytes("data", []byte{1, 2}), KindSend},
		{"Close", Close(), KindClose},
		{"Echo", Echo(), KindEcho},
		{"DynamicProxy", DynamicProxy(), KindDynamicProxy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.def.Kind != tc.want {
				t.Errorf("expected kind %s, got %s", tc.want, tc.def.Kind)
			}
		})
	}
}

func TestSendBytesMarksBinary(t *testing.T) {
	def := SendBytes("data", []byte{1, 2, 3})
	if !def.IsBinary {
		t.Error("expected SendBytes to set IsBinary")
	}
	if Send("data", "hi").IsBinary {
		t.Error("expected Send (text) to leave IsBinary false")
	}
}

func TestTerminalKindsCoversOnlyBlockingSteps(t *testing.T) {
	for _, k := range []Kind{KindEcho, KindPeerProxy, KindDynamicProxy} {
		if !TerminalKinds[k] {
			t.Errorf("expected %s to be a terminal kind", k)
		}
	}
	for _, k := range []Kind{KindWaitForDuration, KindSend, KindClose, KindCreateChannel} {
		if TerminalKinds[k] {
			t.Errorf("did not expect %s to be a terminal kind", k)
		}
	}
}

func TestMatcherConstructors(t *testing.T) {
	if HasDataChannel().Kind != MatcherHasDataChannel {
		t.Error("expected HasDataChannel kind")
	}
	m := PageHostname("example.com")
	if m.Kind != MatcherPageHostname || m.Hostname != "example.com" {
		t.Errorf("unexpected PageHostname matcher: %+v", m)
	}
	r := PageRegex("^/room/", "i")
	if r.Kind != MatcherPageRegex || r.Source != "^/room/" || r.Flags != "i" {
		t.Errorf("unexpected PageRegex matcher: %+v", r)
	}
}
