package netio_test

import (
	"testing"

	"github.com/blahgeek/peervpn/internal/netio"
)

func TestSocketLoopbackRoundTrip(t *testing.T) {
	t.Parallel()

	a, err := netio.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen(a): %v", err)
	}
	defer a.Close()

	b, err := netio.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen(b): %v", err)
	}
	defer b.Close()

	payload := []byte("hello over loopback")
	if err := a.Send(payload, b.LocalAddr()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 1500)
	n, from, err := b.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("recovered payload = %q, want %q", buf[:n], payload)
	}
	if from.Addr().String() == "" {
		t.Error("Recv returned an empty sender address")
	}
}

func TestSocketSetHopLimit(t *testing.T) {
	t.Parallel()

	s, err := netio.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer s.Close()

	if err := s.SetHopLimit(32); err != nil {
		t.Errorf("SetHopLimit(32): %v", err)
	}
	if err := s.SetHopLimit(0); err != nil {
		t.Errorf("SetHopLimit(0) (no-op) returned error: %v", err)
	}
}

func TestSocketLocalAddrReportsBoundPort(t *testing.T) {
	t.Parallel()

	s, err := netio.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer s.Close()

	if s.LocalAddr().Port() == 0 {
		t.Error("LocalAddr reported port 0 after binding to :0")
	}
}
