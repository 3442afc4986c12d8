// ABOUTME: Tests for tagged media errors
// ABOUTME: Verifies kind lookup through wrapping and sentinel matching
package mediaerr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindOfThroughWrapping(t *testing.T) {
	base := E(KindMalformedContainer, "scan", "song.wav", io.ErrUnexpectedEOF)
	wrapped := fmt.Errorf("refresh: %w", base)

	if got := KindOf(wrapped); got != KindMalformedContainer {
		t.Errorf("expected %v, got %v", KindMalformedContainer, got)
	}
	if !IsMalformedContainer(wrapped) {
		t.Error("IsMalformedContainer should match wrapped error")
	}
	if IsIOFailure(wrapped) {
		t.Error("IsIOFailure should not match a malformed container")
	}
	if !errors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Error("underlying cause should stay reachable")
	}
}

func TestKindOfSentinel(t *testing.T) {
	err := fmt.Errorf("open: %w", ErrResourceUnavailable)
	if got := KindOf(err); got != KindResourceUnavailable {
		t.Errorf("expected %v, got %v", KindResourceUnavailable, got)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("expected unknown kind, got %v", got)
	}
}

func TestErrorMessage(t *testing.T) {
	err := E(KindCancelled, "decode", "a.mid", nil)
	if err.Error() != "decode a.mid: cancelled" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
