// Package sigmgr defines the capability-set abstraction the engine uses
// in place of the original's variant-like SigMgrAny / inheritance-based
// validators (§9): a narrow set of methods the engine needs, with
// concrete implementations (null, aead) behind it.
package sigmgr

import "github.com/pollere/syncps/pub"

// PacketSigner signs and validates whole cAdd/cState packets on the wire,
// independent of any per-publication signature.
type PacketSigner interface {
	// Sign returns pkt with a signature appended/applied.
	Sign(pkt []byte) ([]byte, error)
	// Validate reports whether pkt carries a signature this signer
	// accepts.
	Validate(pkt []byte) bool
}

// PubValidator validates individual publications and, for collections
// whose content is encrypted, decrypts a delivered copy (§4.D "Deliver").
type PubValidator interface {
	// Validate reports whether p's signature is acceptable. Certificate
	// lookup, trust-schema checks etc. are the validator's concern, not
	// the engine's.
	Validate(p pub.Publication) bool
	// Encrypts reports whether this collection's publications carry
	// encrypted content that must be decrypted before delivery.
	Encrypts() bool
	// Decrypt returns a plaintext copy of p. Only called when Encrypts
	// is true. Must not mutate p.
	Decrypt(p pub.Publication) (pub.Publication, error)
}
