package steps

import (
	"testing"

	"github.com/n0remac/mockrtc/engine"
	"github.com/n0remac/mockrtc/model"
)

func newTestConnection(t *testing.T, metadata model.ConnectionMetadata) *engine.Connection {
	t.Helper()
	api, err := engine.NewAPI()
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	pc, err := engine.NewPeerConnection(api, nil)
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	conn := engine.NewConnection(api, pc, metadata)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestEvaluatePageHostnameMatchesExactHost(t *testing.T) {
	conn := newTestConnection(t, model.ConnectionMetadata{SourceURL: "https://app.example.com/room/1"})

	if !Evaluate([]MatcherDef{PageHostname("app.example.com")}, conn) {
		t.Error("expected exact hostname match")
	}
	if Evaluate([]MatcherDef{PageHostname("other.example.com")}, conn) {
		t.Error("did not expect a different hostname to match")
	}
}

func TestEvaluatePageRegexCaseInsensitive(t *testing.T) {
	conn := newTestConnection(t, model.ConnectionMetadata{SourceURL: "https://App.Example.com/ROOM"})

	if !Evaluate([]MatcherDef{PageRegex(`app\.example\.com`, "i")}, conn) {
		t.Error("expected case-insensitive regex to match")
	}
	if Evaluate([]MatcherDef{PageRegex(`app\.example\.com`, "")}, conn) {
		t.Error("did not expect a case-sensitive regex to match a differently-cased host")
	}
}

func TestEvaluateUserAgentRegex(t *testing.T) {
	conn := newTestConnection(t, model.ConnectionMetadata{UserAgent: "Mozilla/5.0 Chrome/120"})

	if !Evaluate([]MatcherDef{UserAgentRegex(`Chrome/\d+`, "")}, conn) {
		t.Error("expected user-agent regex to match")
	}
	if Evaluate([]MatcherDef{UserAgentRegex(`Firefox/\d+`, "")}, conn) {
		t.Error("did not expect an unrelated regex to match")
	}
}

func TestEvaluateANDsAllMatchers(t *testing.T) {
	conn := newTestConnection(t, model.ConnectionMetadata{SourceURL: "https://app.example.com", UserAgent: "Chrome/120"})

	defs := []MatcherDef{PageHostname("app.example.com"), UserAgentRegex(`Chrome`, "")}
	if !Evaluate(defs, conn) {
		t.Error("expected both matchers to hold")
	}

	defsWithFailure := []MatcherDef{PageHostname("app.example.com"), UserAgentRegex(`Firefox`, "")}
	if Evaluate(defsWithFailure, conn) {
		t.Error("expected AND semantics to fail when one matcher fails")
	}
}

func TestEvaluateHasDataChannelTrueAfterCreate(t *testing.T) {
	conn := newTestConnection(t, model.ConnectionMetadata{})

	if Evaluate([]MatcherDef{HasDataChannel()}, conn) {
		t.Error("did not expect has-data-channel to match before any channel exists")
	}
	if _, err := conn.CreateDataChannel("test-label"); err != nil {
		t.Fatalf("CreateDataChannel: %v", err)
	}
	if !Evaluate([]MatcherDef{HasDataChannel()}, conn) {
		t.Error("expected has-data-channel to match once a channel is tracked")
	}
}

func TestEvaluatePageHostnameWithNoSourceURL(t *testing.T) {
	conn := newTestConnection(t, model.ConnectionMetadata{})
	if Evaluate([]MatcherDef{PageHostname("app.example.com")}, conn) {
		t.Error("did not expect a match with no sourceURL set")
	}
}
