package peer_test

import (
	"testing"

	"github.com/blahgeek/peervpn/internal/peer"
)

func TestApplyEventLegalEdges(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from    peer.State
		event   peer.Event
		want    peer.State
		changed bool
	}{
		{peer.StateInvalid, peer.EventAuthAccepted, peer.StateAuthed, true},
		{peer.StateAuthed, peer.EventHandshakeComplete, peer.StateComplete, true},
		{peer.StateInvalid, peer.EventReset, peer.StateInvalid, false},
		{peer.StateAuthed, peer.EventReset, peer.StateInvalid, true},
		{peer.StateComplete, peer.EventReset, peer.StateInvalid, true},
	}

	for _, c := range cases {
		got, changed := peer.ApplyEvent(c.from, c.event)
		if got != c.want || changed != c.changed {
			t.Errorf("ApplyEvent(%v, %v) = (%v, %v), want (%v, %v)",
				c.from, c.event, got, changed, c.want, c.changed)
		}
	}
}

func TestApplyEventIllegalEdgesAreNoOps(t *testing.T) {
	t.Parallel()

	// Complete never transitions directly to Authed, and Invalid never
	// jumps straight to Complete.
	if got, changed := peer.ApplyEvent(peer.StateComplete, peer.EventAuthAccepted); changed || got != peer.StateComplete {
		t.Errorf("ApplyEvent(Complete, AuthAccepted) = (%v, %v), want no-op", got, changed)
	}
	if got, changed := peer.ApplyEvent(peer.StateInvalid, peer.EventHandshakeComplete); changed || got != peer.StateInvalid {
		t.Errorf("ApplyEvent(Invalid, HandshakeComplete) = (%v, %v), want no-op", got, changed)
	}
}
