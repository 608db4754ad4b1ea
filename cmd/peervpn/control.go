package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/blahgeek/peervpn/internal/control"
	"github.com/blahgeek/peervpn/internal/peer"
)

// errUnknownVerb is returned for any control-socket request whose verb
// isn't one of the ones newControlServer's handler recognizes.
var errUnknownVerb = errors.New("unknown verb")

// newControlServer wires the verbs cmd/peervpnctl drives against a running
// daemon onto internal/peer.Manager's read-only introspection methods and
// its one write path that doesn't require the owning pump goroutine
// (DialBootstrap — AuthMgt.Start has its own internal bookkeeping and is
// safe to call from any goroutine; everything touching slot state stays
// confined to pumpLoop).
func newControlServer(socketPath string, mgr *peer.Manager, logger *slog.Logger) (*control.Server, error) {
	handler := func(verb string, args []string) (any, error) {
		switch verb {
		case "status":
			return mgr.Status(time.Now()), nil
		case "peers":
			return peerSummaries(mgr), nil
		case "dial":
			if len(args) != 1 {
				return nil, fmt.Errorf("dial: want exactly one address argument")
			}
			ap, err := netip.ParseAddrPort(args[0])
			if err != nil {
				return nil, fmt.Errorf("dial: parse address %q: %w", args[0], err)
			}
			ok := mgr.DialBootstrap(peer.DirectAddr(ap))
			return map[string]bool{"started": ok}, nil
		default:
			return nil, fmt.Errorf("%w: %s", errUnknownVerb, verb)
		}
	}

	return control.Listen(socketPath, handler, logger)
}

// peerSummary is one row of the "peers" verb's response.
type peerSummary struct {
	PeerID PeerIDHex `json:"peer_id"`
	Active bool      `json:"active"`
	Addr   string    `json:"addr,omitempty"`
}

// PeerIDHex renders a peer.PeerID as a quoted 8-digit hex string in JSON
// responses, matching the hex-column convention internal/peer/status.go
// uses for its own text report.
type PeerIDHex uint32

func (id PeerIDHex) String() string {
	return fmt.Sprintf("%08x", uint32(id))
}

func (id PeerIDHex) MarshalJSON() ([]byte, error) {
	return fmt.Appendf(nil, "%q", id.String()), nil
}

// peerSummaries walks every valid slot and reports its activity and
// resolved address, skipping the reserved local slot 0. NextID cycles
// through allocated slots rather than terminating at the end of the table
// (internal/peer/slot.go "NextID"), so the walk is bounded by SlotCount
// and stops the moment it revisits its own starting point.
func peerSummaries(mgr *peer.Manager) []peerSummary {
	var out []peerSummary
	id := peer.LocalPeerID
	for i := 0; i < mgr.SlotCount(); i++ {
		next, ok := mgr.NextID(id)
		if !ok || next == peer.LocalPeerID {
			break
		}
		id = next

		summary := peerSummary{PeerID: PeerIDHex(id), Active: mgr.IsActive(id)}
		if addr, ok := mgr.Resolve(id); ok {
			summary.Addr = addr.String()
		}
		out = append(out, summary)
	}
	return out
}
