package mockerr

import (
	"errors"
	"testing"
)

func TestNewCarriesKind(t *testing.T) {
	err := New(NotFound, "no such peer")
	if !Is(err, NotFound) {
		t.Errorf("expected Is(err, NotFound), got %v", err)
	}
	if KindOf(err) != NotFound {
		t.Errorf("expected KindOf == NotFound, got %s", KindOf(err))
	}
}

func TestWrapPreservesCauseAndKind(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(TransportFailure, "create peer connection", cause)

	if !Is(err, TransportFailure) {
		t.Errorf("expected Is(err, TransportFailure), got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestWrapNilErrorBehavesLikeNew(t *testing.T) {
	err := Wrap(Internal, "no cause here", nil)
	if !Is(err, Internal) {
		t.Errorf("expected Is(err, Internal), got %v", err)
	}
	if errors.Unwrap(err) != nil {
		t.Error("expected no wrapped cause when Wrap is called with nil")
	}
}

func TestKindOfDefaultsToInternalForForeignErrors(t *testing.T) {
	plain := errors.New("not ours")
	if KindOf(plain) != Internal {
		t.Errorf("expected Internal for a foreign error, got %s", KindOf(plain))
	}
	if Is(plain, Internal) {
		t.Error("Is should only match errors that actually carry a Kind")
	}
}
