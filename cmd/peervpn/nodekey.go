package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/blahgeek/peervpn/internal/peer"
)

// loadNodeID reads the local long-term node key from path and derives the
// 32-byte NodeID identifying this node to the rest of the overlay. The file
// may hold the key as 64 hex characters, as 32 raw bytes, or as an
// arbitrary-length secret to be hashed down to size — in every case the
// NodeID is stable across restarts as long as the file doesn't change.
// An empty path generates a fresh random NodeID, suitable only for
// single-run testing: restarting with no key file changes the node's
// identity, so every existing peer's slot for it goes stale.
func loadNodeID(path string) (peer.NodeID, error) {
	if path == "" {
		return randomNodeID()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return peer.NodeID{}, fmt.Errorf("read node key file %s: %w", path, err)
	}

	return deriveNodeID(raw), nil
}

// deriveNodeID canonicalizes arbitrary key-file content into a NodeID,
// grounded on internal/wire/crypto.go's BLAKE3 keying convention.
func deriveNodeID(raw []byte) peer.NodeID {
	trimmed := strings.TrimSpace(string(raw))

	if decoded, err := hex.DecodeString(trimmed); err == nil && len(decoded) == 32 {
		var id peer.NodeID
		copy(id[:], decoded)
		return id
	}

	if len(raw) == 32 {
		var id peer.NodeID
		copy(id[:], raw)
		return id
	}

	h := blake3.New()
	_, _ = h.Write(raw)
	var id peer.NodeID
	copy(id[:], h.Sum(nil))
	return id
}

func randomNodeID() (peer.NodeID, error) {
	var id peer.NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generate random node id: %w", err)
	}
	return id, nil
}
