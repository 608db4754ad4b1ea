package peer_test

import (
	"testing"

	"github.com/blahgeek/peervpn/internal/peer"
)

func TestSeqAcceptsStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	s := peer.NewSeq(100)
	if !s.Accept(101) {
		t.Fatal("Accept(101) after base 100 = false, want true")
	}
	if !s.Accept(150) {
		t.Fatal("Accept(150) after base 101 = false, want true")
	}
	if s.Get() != 150 {
		t.Errorf("Get() = %d, want 150", s.Get())
	}
}

func TestSeqRejectsDuplicateAndOld(t *testing.T) {
	t.Parallel()

	s := peer.NewSeq(100)
	if s.Accept(100) {
		t.Error("Accept(100) on fresh base 100 = true, want false (duplicate)")
	}
	s.Accept(110)
	if s.Accept(110) {
		t.Error("re-Accept(110) = true, want false (replay)")
	}
	if s.Accept(5) {
		t.Error("Accept(5) far below base = true, want false (too old)")
	}
}

func TestSeqAcceptsOutOfOrderWithinWindow(t *testing.T) {
	t.Parallel()

	s := peer.NewSeq(0)
	s.Accept(10)
	if !s.Accept(8) {
		t.Error("Accept(8) within trailing window = false, want true")
	}
	if s.Accept(8) {
		t.Error("re-Accept(8) = true, want false (already seen)")
	}
}

func TestSeqLargeForwardJumpClearsWindow(t *testing.T) {
	t.Parallel()

	s := peer.NewSeq(0)
	s.Accept(1000)
	if s.Accept(5) {
		t.Error("Accept(5) after a jump far beyond the window = true, want false")
	}
	if !s.Accept(999) {
		t.Error("Accept(999) within the fresh window after the jump = false, want true")
	}
}
