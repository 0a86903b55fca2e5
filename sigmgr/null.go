package sigmgr

import "github.com/pollere/syncps/pub"

// NullSigner accepts and signs everything, for tests and for collections
// that rely entirely on pub-level validation.
type NullSigner struct{}

var _ PacketSigner = NullSigner{}

func (NullSigner) Sign(pkt []byte) ([]byte, error) { return pkt, nil }
func (NullSigner) Validate([]byte) bool            { return true }

// NullValidator accepts every publication and never encrypts, for tests
// and for collections validated entirely at the packet-signer level.
type NullValidator struct{}

var _ PubValidator = NullValidator{}

func (NullValidator) Validate(pub.Publication) bool { return true }
func (NullValidator) Encrypts() bool                { return false }
func (NullValidator) Decrypt(p pub.Publication) (pub.Publication, error) {
	return p, nil
}
