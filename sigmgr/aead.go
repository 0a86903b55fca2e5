package sigmgr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/pollere/syncps/pub"
)

// AEADValidator decrypts content with AES-GCM for collections whose
// publications carry encrypted content (§9's "ECDSA, AEAD... behind this
// capability"). Per-publication authenticity is a packet-level concern
// handled by a PacketSigner (e.g. BlakeSigner); Validate here only checks
// that content is shaped like something Decrypt can open. Key management
// and distribution are out of scope (§1); a key is handed in whole.
type AEADValidator struct {
	gcm cipher.AEAD
}

var _ PubValidator = (*AEADValidator)(nil)

// NewAEADValidator builds a validator from a 16-byte AES-128 key.
func NewAEADValidator(key [16]byte) (*AEADValidator, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("sigmgr: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sigmgr: gcm: %w", err)
	}
	return &AEADValidator{gcm: gcm}, nil
}

func (v *AEADValidator) Validate(p pub.Publication) bool {
	return len(p.Content()) >= v.gcm.NonceSize()
}

func (v *AEADValidator) Encrypts() bool { return true }

// Decrypt returns a plaintext copy of p, leaving p itself untouched so the
// ciphertext copy can be dropped after delivery (§4.D).
func (v *AEADValidator) Decrypt(p pub.Publication) (pub.Publication, error) {
	ct := p.Content()
	if len(ct) < v.gcm.NonceSize() {
		return nil, fmt.Errorf("sigmgr: ciphertext shorter than nonce")
	}
	nonce, body := ct[:v.gcm.NonceSize()], ct[v.gcm.NonceSize():]
	plain, err := v.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("sigmgr: decrypt: %w", err)
	}
	return pub.New(p.Name(), plain), nil
}

// Encrypt produces the ciphertext content for a publication: a random
// nonce followed by the AES-GCM sealed content.
func (v *AEADValidator) Encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("sigmgr: nonce: %w", err)
	}
	return v.gcm.Seal(nonce, nonce, plain, nil), nil
}
