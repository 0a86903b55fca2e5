package pub_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollere/syncps/pub"
)

func TestNameIsPrefixOf(t *testing.T) {
	base := pub.ParseName("/a/b")
	full := base.Append([]byte("c"))

	assert.True(t, base.IsPrefixOf(full))
	assert.False(t, full.IsPrefixOf(base))
	assert.True(t, base.IsPrefixOf(base))
}

func TestNameAppendTimestampRoundTrips(t *testing.T) {
	now := time.Now()
	n := pub.ParseName("/a/b").AppendTimestamp(now)

	got := n.Timestamp()
	assert.Equal(t, now.UnixMicro(), got.UnixMicro())
}

func TestNameStringParseNameRoundTrips(t *testing.T) {
	n := pub.ParseName("/foo/bar/baz")
	assert.Equal(t, "/foo/bar/baz", n.String())
}

func TestWirePublicationRoundTripsThroughParse(t *testing.T) {
	name := pub.ParseName("/a/b").AppendTimestamp(time.Now())
	p := pub.New(name, []byte("hello"))
	p.Seal([]byte("sig"))

	wire := p.WireBytes()
	got, err := pub.Parse(wire)
	require.NoError(t, err)

	assert.True(t, got.Name().Equal(p.Name()))
	assert.Equal(t, p.Content(), got.Content())
	assert.Equal(t, pub.Hash(p), pub.Hash(got))
}

func TestHashDiffersOnContent(t *testing.T) {
	name := pub.ParseName("/a/b").AppendTimestamp(time.Now())
	p1 := pub.New(name, []byte("one"))
	p2 := pub.New(name, []byte("two"))

	assert.NotEqual(t, pub.Hash(p1), pub.Hash(p2))
}
