// Package pub defines the publication wire type and the opaque
// capabilities (§6, §9) the sync engine treats every publication through:
// name/content accessors and a stable wire form. Signature material is
// out of scope here (sigmgr); this package only shapes the bytes.
package pub

import (
	"github.com/spacemeshos/go-scale"

	"github.com/pollere/syncps/codec"
	"github.com/pollere/syncps/iblt"
)

//go:generate scalegen

// Publication is the opaque, immutable, signed object SyncPS
// synchronizes. The core never interprets Content beyond size and bytes;
// application/shim layers give it meaning.
type Publication interface {
	Name() Name
	Content() []byte
	WireBytes() []byte
	Size() int
}

// WirePublication is the concrete Publication used by this module: a name,
// a content blob, and an opaque signature trailer appended by a
// sigmgr.PacketSigner. Two WirePublications are identical iff their wire
// bytes are identical (§3).
type WirePublication struct {
	NameField      Name
	ContentField   []byte
	SignatureField []byte

	wire []byte // cached WireBytes(), populated lazily, invalidated by Seal
}

var _ Publication = (*WirePublication)(nil)

// New builds an unsigned publication. Callers sign it via a
// sigmgr.PacketSigner and call Seal with the signature before publishing.
func New(name Name, content []byte) *WirePublication {
	return &WirePublication{NameField: name, ContentField: content}
}

// Seal attaches a signature and fixes the wire form. Must be called
// exactly once, after the signer has produced sig over the unsigned
// encoding.
func (p *WirePublication) Seal(sig []byte) {
	p.SignatureField = sig
	p.wire = nil
}

func (p *WirePublication) Name() Name      { return p.NameField }
func (p *WirePublication) Content() []byte { return p.ContentField }
func (p *WirePublication) Size() int       { return len(p.WireBytes()) }

// WireBytes returns the encoded form, computing and caching it on first
// call. The cache is invalidated by Seal so resigning recomputes it.
func (p *WirePublication) WireBytes() []byte {
	if p.wire == nil {
		buf, err := codec.Encode(p)
		if err != nil {
			// EncodeScale only fails on a broken io.Writer; codec.Encode's
			// buffer never returns one.
			panic(err)
		}
		p.wire = buf
	}
	return p.wire
}

// Hash returns the 32-bit murmurhash3 of the publication's wire bytes, the
// IBLT element / store key (§3).
func Hash(p Publication) uint32 {
	return iblt.Hash(p.WireBytes())
}

// Parse decodes wire bytes produced by WireBytes back into a
// WirePublication, the inverse a Face implementation needs when a
// publication arrives as a raw datagram rather than already decoded
// (e.g. face/udpface).
func Parse(wire []byte) (*WirePublication, error) {
	p := &WirePublication{}
	if err := codec.Decode(wire, p); err != nil {
		return nil, err
	}
	p.wire = append([]byte(nil), wire...)
	return p, nil
}

// EncodeScale implements scale.Encodable.
func (p *WirePublication) EncodeScale(enc *scale.Encoder) (total int, err error) {
	if n, err := encodeName(enc, p.NameField); err != nil {
		return total, err
	} else {
		total += n
	}
	if n, err := scale.EncodeByteSlice(enc, p.ContentField); err != nil {
		return total, err
	} else {
		total += n
	}
	if n, err := scale.EncodeByteSlice(enc, p.SignatureField); err != nil {
		return total, err
	} else {
		total += n
	}
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (p *WirePublication) DecodeScale(dec *scale.Decoder) (total int, err error) {
	name, n, err := decodeName(dec)
	if err != nil {
		return total, err
	}
	total += n
	p.NameField = name

	content, n, err := scale.DecodeByteSlice(dec)
	if err != nil {
		return total, err
	}
	total += n
	p.ContentField = content

	sig, n, err := scale.DecodeByteSlice(dec)
	if err != nil {
		return total, err
	}
	total += n
	p.SignatureField = sig
	return total, nil
}

// encodeName and decodeName encode a Name as a compact component count
// followed by each component as a length-prefixed byte slice. Name is a
// variable-depth slice-of-slices scalegen doesn't model directly, so the
// name codec is hand-written rather than generated.
func encodeName(enc *scale.Encoder, n Name) (total int, err error) {
	cnt, err := scale.EncodeCompact32(enc, uint32(len(n)))
	if err != nil {
		return total, err
	}
	total += cnt
	for _, c := range n {
		cn, err := scale.EncodeByteSlice(enc, c)
		if err != nil {
			return total, err
		}
		total += cn
	}
	return total, nil
}

func decodeName(dec *scale.Decoder) (Name, int, error) {
	count, total, err := scale.DecodeCompact32(dec)
	if err != nil {
		return nil, total, err
	}
	n := make(Name, 0, count)
	for i := uint32(0); i < count; i++ {
		c, cn, err := scale.DecodeByteSlice(dec)
		if err != nil {
			return nil, total, err
		}
		total += cn
		n = append(n, c)
	}
	return n, total, nil
}
