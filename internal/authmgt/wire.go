package authmgt

import (
	"encoding/binary"
	"errors"

	"github.com/blahgeek/peervpn/internal/peer"
)

// Message type tags for the three-message handshake (see the package
// comment in authmgt.go for the full exchange). Each message is addressed anonymously at the peer
// manager layer (PeerID 0) and encrypted under the shared network-password
// context, so these tags only distinguish handshake phases, not transport.
const (
	msgHello      = 1
	msgHelloAck   = 2
	msgEstablish  = 3
	pubKeySize    = 32
	nodeIDSize    = 32
	helloSize     = 1 + nodeIDSize + pubKeySize + 2 + 8
	helloAckSize  = helloSize + 4
	establishSize = 1 + nodeIDSize + 4
)

var errShortMessage = errors.New("authmgt: message too short")

type helloMsg struct {
	nodeID peer.NodeID
	pubKey [pubKeySize]byte
	flags  uint16
	seq    uint64
}

func encodeHello(m helloMsg) []byte {
	buf := make([]byte, helloSize)
	buf[0] = msgHello
	copy(buf[1:1+nodeIDSize], m.nodeID[:])
	copy(buf[1+nodeIDSize:1+nodeIDSize+pubKeySize], m.pubKey[:])
	off := 1 + nodeIDSize + pubKeySize
	binary.BigEndian.PutUint16(buf[off:off+2], m.flags)
	binary.BigEndian.PutUint64(buf[off+2:off+10], m.seq)
	return buf
}

func decodeHello(buf []byte) (helloMsg, error) {
	if len(buf) < helloSize || buf[0] != msgHello {
		return helloMsg{}, errShortMessage
	}
	var m helloMsg
	copy(m.nodeID[:], buf[1:1+nodeIDSize])
	copy(m.pubKey[:], buf[1+nodeIDSize:1+nodeIDSize+pubKeySize])
	off := 1 + nodeIDSize + pubKeySize
	m.flags = binary.BigEndian.Uint16(buf[off : off+2])
	m.seq = binary.BigEndian.Uint64(buf[off+2 : off+10])
	return m, nil
}

type helloAckMsg struct {
	helloMsg
	remoteID peer.PeerID
}

func encodeHelloAck(m helloAckMsg) []byte {
	buf := encodeHello(m.helloMsg)
	buf[0] = msgHelloAck
	buf = append(buf, make([]byte, 4)...)
	binary.BigEndian.PutUint32(buf[helloSize:helloAckSize], uint32(m.remoteID))
	return buf
}

func decodeHelloAck(buf []byte) (helloAckMsg, error) {
	if len(buf) < helloAckSize || buf[0] != msgHelloAck {
		return helloAckMsg{}, errShortMessage
	}
	var m helloAckMsg
	copy(m.nodeID[:], buf[1:1+nodeIDSize])
	copy(m.pubKey[:], buf[1+nodeIDSize:1+nodeIDSize+pubKeySize])
	off := 1 + nodeIDSize + pubKeySize
	m.flags = binary.BigEndian.Uint16(buf[off : off+2])
	m.seq = binary.BigEndian.Uint64(buf[off+2 : off+10])
	m.remoteID = peer.PeerID(binary.BigEndian.Uint32(buf[helloSize:helloAckSize]))
	return m, nil
}

type establishMsg struct {
	nodeID   peer.NodeID
	remoteID peer.PeerID
}

func encodeEstablish(m establishMsg) []byte {
	buf := make([]byte, establishSize)
	buf[0] = msgEstablish
	copy(buf[1:1+nodeIDSize], m.nodeID[:])
	binary.BigEndian.PutUint32(buf[1+nodeIDSize:establishSize], uint32(m.remoteID))
	return buf
}

func decodeEstablish(buf []byte) (establishMsg, error) {
	if len(buf) < establishSize || buf[0] != msgEstablish {
		return establishMsg{}, errShortMessage
	}
	var m establishMsg
	copy(m.nodeID[:], buf[1:1+nodeIDSize])
	m.remoteID = peer.PeerID(binary.BigEndian.Uint32(buf[1+nodeIDSize:establishSize]))
	return m, nil
}
