package engine

import (
	"fmt"

	"github.com/pollere/syncps/codec"
	"github.com/pollere/syncps/pub"
)

// encodeCAddContent packs a list of publications into a cAdd's content blob,
// reusing the codec package's generic struct-slice encoding (the same path
// the teacher uses for its own repeated-field wire types).
func encodeCAddContent(pubs []pub.Publication) ([]byte, error) {
	wire := make([]pub.WirePublication, len(pubs))
	for i, p := range pubs {
		wp, ok := p.(*pub.WirePublication)
		if !ok {
			return nil, fmt.Errorf("engine: cAdd packing requires *pub.WirePublication, got %T", p)
		}
		wire[i] = *wp
	}
	return codec.EncodeSlice[pub.WirePublication, *pub.WirePublication](wire)
}

// decodeCAddContent reverses encodeCAddContent.
func decodeCAddContent(data []byte) ([]*pub.WirePublication, error) {
	wire, err := codec.DecodeSlice[pub.WirePublication, *pub.WirePublication](data)
	if err != nil {
		return nil, err
	}
	out := make([]*pub.WirePublication, len(wire))
	for i := range wire {
		out[i] = &wire[i]
	}
	return out, nil
}
