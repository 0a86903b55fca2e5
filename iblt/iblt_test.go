package iblt_test

import (
	"encoding/binary"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollere/syncps/iblt"
)

func sortU32(s []uint32) []uint32 {
	out := append([]uint32(nil), s...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestEmptyPeel(t *testing.T) {
	tbl := iblt.New(iblt.DefaultCells, iblt.DefaultHashCount)
	have, need, ok := tbl.Peel()
	require.True(t, ok)
	require.Empty(t, have)
	require.Empty(t, need)
}

func TestInsertEraseRoundTrip(t *testing.T) {
	a := iblt.New(iblt.DefaultCells, iblt.DefaultHashCount)
	h := iblt.Hash([]byte("fresh-element"))
	a.Insert(h)
	a.Erase(h)
	have, need, ok := a.Peel()
	require.True(t, ok)
	require.Empty(t, have)
	require.Empty(t, need)
}

func TestSubtractPeel(t *testing.T) {
	mine := iblt.New(iblt.DefaultCells, iblt.DefaultHashCount)
	theirs := iblt.New(iblt.DefaultCells, iblt.DefaultHashCount)

	shared := iblt.Hash([]byte("shared"))
	onlyMine := iblt.Hash([]byte("only-mine"))
	onlyTheirs := iblt.Hash([]byte("only-theirs"))

	mine.Insert(shared)
	mine.Insert(onlyMine)
	theirs.Insert(shared)
	theirs.Insert(onlyTheirs)

	diff, err := mine.Subtract(theirs)
	require.NoError(t, err)

	have, need, ok := diff.Peel()
	require.True(t, ok)
	require.Equal(t, []uint32{onlyMine}, have)
	require.Equal(t, []uint32{onlyTheirs}, need)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tbl := iblt.New(40, 3)
	for _, s := range []string{"a", "b", "c", "d"} {
		tbl.Insert(iblt.Hash([]byte(s)))
	}
	wire := tbl.Encode()
	decoded, err := iblt.Decode(wire)
	require.NoError(t, err)
	require.Equal(t, wire, decoded.Encode())
}

func TestPeelManyElements(t *testing.T) {
	mine := iblt.New(iblt.DefaultCells, iblt.DefaultHashCount)
	theirs := iblt.New(iblt.DefaultCells, iblt.DefaultHashCount)
	var wantHave, wantNeed []uint32
	for i := 0; i < 10; i++ {
		h := iblt.Hash([]byte{byte('A' + i)})
		mine.Insert(h)
		wantHave = append(wantHave, h)
	}
	for i := 0; i < 10; i++ {
		h := iblt.Hash([]byte{byte('a' + i)})
		theirs.Insert(h)
		wantNeed = append(wantNeed, h)
	}
	diff, err := mine.Subtract(theirs)
	require.NoError(t, err)
	have, need, ok := diff.Peel()
	require.True(t, ok)
	require.Equal(t, sortU32(wantHave), sortU32(have))
	require.Equal(t, sortU32(wantNeed), sortU32(need))
}

func TestEncodeRoundTripsLargeCellCount(t *testing.T) {
	// A single-cell table driven with many distinct elements produces a
	// cell count well outside the signed 8-bit range; the wire encoding
	// must carry it exactly, not clamp it, for Decode(Encode(t)) == t to
	// hold (§8).
	tbl := iblt.New(1, 1)
	const n = 200
	for i := 0; i < n; i++ {
		tbl.Insert(iblt.Hash([]byte{byte(i), byte(i >> 8)}))
	}
	wire := tbl.Encode()

	// wire layout: 8-byte header, then a tag byte (tagCell == 0x01) and a
	// big-endian int16 count for the lone cell.
	require.Equal(t, byte(0x01), wire[8])
	got := int16(binary.BigEndian.Uint16(wire[9:11]))
	require.Equal(t, int16(n), got)

	decoded, err := iblt.Decode(wire)
	require.NoError(t, err)
	require.Equal(t, wire, decoded.Encode())
}

func TestPeelResidueOnOverflow(t *testing.T) {
	// A tiny table overloaded well past its capacity should leave residue
	// rather than silently under-report the difference.
	mine := iblt.New(4, 3)
	theirs := iblt.New(4, 3)
	for i := 0; i < 40; i++ {
		mine.Insert(iblt.Hash([]byte{byte(i)}))
	}
	diff, err := mine.Subtract(theirs)
	require.NoError(t, err)
	_, _, ok := diff.Peel()
	require.False(t, ok)
}
