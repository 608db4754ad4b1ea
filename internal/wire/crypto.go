package wire

import (
	"crypto/cipher"
	"crypto/rand"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
)

// CryptoContext holds one slot's symmetric session key material. AEAD sealing/opening is ChaCha20-Poly1305; the anonymous
// (PeerID 0) group context derives its key from the configured network
// password via an unkeyed BLAKE3 hash of netid, a zero byte and the
// password, instead of a per-session handshake.
type CryptoContext struct {
	aead cipher.AEAD
}

// NewCryptoContext returns a context seeded with random key material —
// the state of a freshly reset slot, which can decrypt nothing.
func NewCryptoContext() *CryptoContext {
	c := &CryptoContext{}
	c.ReseedRandom()
	return c
}

// ReseedRandom replaces the session key with fresh random bytes.
func (c *CryptoContext) ReseedRandom() {
	var key [chacha20poly1305.KeySize]byte
	_, _ = rand.Read(key[:])
	c.setKey(key)
}

// SetSessionKeys installs session keys published by AuthMgt at handshake
// completion.
func (c *CryptoContext) SetSessionKeys(key [chacha20poly1305.KeySize]byte) {
	c.setKey(key)
}

func (c *CryptoContext) setKey(key [chacha20poly1305.KeySize]byte) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		panic("wire: chacha20poly1305.New with fixed-size key: " + err.Error())
	}
	c.aead = aead
}

// SetKeysFromPassword derives the shared anonymous-context key from the
// configured network password. The original interface names
// AES-256/SHA-256 as the reference cipher/mac pair; this module uses
// ChaCha20-Poly1305 uniformly for every context (anonymous and per-session
// alike) and BLAKE3 as the password KDF.
func (c *CryptoContext) SetKeysFromPassword(password, netid string) {
	h := blake3.New()
	_, _ = h.Write([]byte(netid))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(password))
	var key [chacha20poly1305.KeySize]byte
	copy(key[:], h.Sum(nil))
	c.setKey(key)
}

// Overhead is the AEAD authentication tag size appended to every
// ciphertext.
func (c *CryptoContext) Overhead() int {
	return c.aead.Overhead()
}

// NonceSize is the AEAD nonce size.
func (c *CryptoContext) NonceSize() int {
	return c.aead.NonceSize()
}

// Seal encrypts and authenticates plaintext, appending the result to dst.
func (c *CryptoContext) Seal(dst, nonce, plaintext, aad []byte) []byte {
	return c.aead.Seal(dst, nonce, plaintext, aad)
}

// Open decrypts and verifies ciphertext, appending the plaintext to dst.
// Returns ErrAuthFailed on HMAC/decrypt failure.
func (c *CryptoContext) Open(dst, nonce, ciphertext, aad []byte) ([]byte, error) {
	out, err := c.aead.Open(dst, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return out, nil
}
