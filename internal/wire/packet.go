// Package wire implements the on-wire packet codec consumed by the peer
// manager as the external "Packet" collaborator: header
// layout, AEAD sealing, and the big-endian encoding the original source
// uses throughout.
//
// Layout: PeerID(4) | Sequence(8) | PayloadType(1) | Options(1) | Length(2)
// | Ciphertext | AEAD tag. The header is passed as associated data to the
// AEAD so tampering with any header field invalidates the tag.
package wire

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the size in bytes of the unencrypted packet header.
const HeaderSize = 4 + 8 + 1 + 1 + 2

// Sentinel errors returned by Decode. None of these are surfaced past the
// peer manager's data-plane boundary: callers treat any
// non-nil error as "drop silently".
var (
	ErrPacketTooShort = errors.New("wire: packet shorter than header + auth tag")
	ErrBufTooSmall    = errors.New("wire: destination buffer too small")
	ErrInvalidLength  = errors.New("wire: header length does not match ciphertext size")
	ErrAuthFailed     = errors.New("wire: hmac/decrypt failure")
)

// Header is the plaintext prefix of every packet.
type Header struct {
	PeerID      uint32
	Sequence    uint64
	PayloadType uint8
	Options     uint8
	Length      uint16
}

// MarshalHeader writes h to buf in wire format. buf must have length ≥ HeaderSize.
func MarshalHeader(h Header, buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrBufTooSmall
	}
	binary.BigEndian.PutUint32(buf[0:4], h.PeerID)
	binary.BigEndian.PutUint64(buf[4:12], h.Sequence)
	buf[12] = h.PayloadType
	buf[13] = h.Options
	binary.BigEndian.PutUint16(buf[14:16], h.Length)
	return nil
}

// UnmarshalHeader reads a Header from the front of buf.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrPacketTooShort
	}
	return Header{
		PeerID:      binary.BigEndian.Uint32(buf[0:4]),
		Sequence:    binary.BigEndian.Uint64(buf[4:12]),
		PayloadType: buf[12],
		Options:     buf[13],
		Length:      binary.BigEndian.Uint16(buf[14:16]),
	}, nil
}

// nonce derives the 12-byte ChaCha20-Poly1305 nonce from a sequence
// number: zero-padded high bytes followed by the big-endian sequence. Each
// slot's CryptoContext uses its own key, and RemoteSeq/Seq guarantee the
// sequence is never reused within an epoch, so (key, nonce)
// pairs never repeat.
func nonce(seq uint64) [12]byte {
	var n [12]byte
	binary.BigEndian.PutUint64(n[4:], seq)
	return n
}

// Encode seals payload under ctx and writes the full wire packet
// (header + ciphertext + tag) into buf, returning the number of bytes
// written. Returns ErrBufTooSmall if buf cannot hold the result.
func Encode(buf []byte, peerID uint32, seq uint64, payloadType, options uint8, payload []byte, ctx *CryptoContext) (int, error) {
	total := HeaderSize + len(payload) + ctx.Overhead()
	if len(buf) < total {
		return 0, ErrBufTooSmall
	}

	h := Header{
		PeerID:      peerID,
		Sequence:    seq,
		PayloadType: payloadType,
		Options:     options,
		Length:      uint16(len(payload)),
	}
	if err := MarshalHeader(h, buf[:HeaderSize]); err != nil {
		return 0, err
	}

	n := nonce(seq)
	sealed := ctx.Seal(buf[:HeaderSize], n[:], payload, buf[:HeaderSize])
	return len(sealed), nil
}

// Decode parses and opens a wire packet. On success it returns the header
// and the plaintext payload; on any failure it returns a sentinel error and
// the caller must drop the packet without advancing any sequence state.
func Decode(buf []byte, ctx *CryptoContext) (Header, []byte, error) {
	if len(buf) < HeaderSize+ctx.Overhead() {
		return Header{}, nil, ErrPacketTooShort
	}

	h, err := UnmarshalHeader(buf)
	if err != nil {
		return Header{}, nil, err
	}

	ciphertext := buf[HeaderSize:]
	if len(ciphertext) != int(h.Length)+ctx.Overhead() {
		return Header{}, nil, ErrInvalidLength
	}

	n := nonce(h.Sequence)
	plaintext, err := ctx.Open(nil, n[:], ciphertext, buf[:HeaderSize])
	if err != nil {
		return Header{}, nil, err
	}

	return h, plaintext, nil
}
