package sigmgr

import (
	"crypto/hmac"
	"fmt"

	"github.com/zeebo/blake3"
)

const blakeMACSize = 32

// BlakeSigner authenticates whole cAdd/cState packets with a BLAKE3 keyed
// MAC appended as a trailer, a lighter-weight alternative to per-publication
// AEAD encryption for collections that only need packet-level integrity
// (§9 "ECDSA, AEAD... behind this capability").
type BlakeSigner struct {
	key [32]byte
}

var _ PacketSigner = (*BlakeSigner)(nil)

// NewBlakeSigner builds a signer from a 32-byte group key.
func NewBlakeSigner(key [32]byte) *BlakeSigner {
	return &BlakeSigner{key: key}
}

func (s *BlakeSigner) mac(body []byte) ([]byte, error) {
	h, err := blake3.NewKeyed(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("sigmgr: blake3 keyed hasher: %w", err)
	}
	h.Write(body)
	return h.Sum(nil)[:blakeMACSize], nil
}

// Sign returns pkt with a BLAKE3 keyed MAC trailer appended.
func (s *BlakeSigner) Sign(pkt []byte) ([]byte, error) {
	tag, err := s.mac(pkt)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(pkt)+blakeMACSize)
	copy(out, pkt)
	copy(out[len(pkt):], tag)
	return out, nil
}

// Validate recomputes the MAC over everything but the trailing tag and
// compares in constant time.
func (s *BlakeSigner) Validate(pkt []byte) bool {
	if len(pkt) < blakeMACSize {
		return false
	}
	body, tag := pkt[:len(pkt)-blakeMACSize], pkt[len(pkt)-blakeMACSize:]
	expected, err := s.mac(body)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, tag)
}
