package iblt

import (
	"encoding/binary"
	"fmt"
)

// Wire format (spec §6): a header of nCells and nHash, then cells in
// order. Each non-empty cell is tagged and written as count:i16,
// keySum:u32, hashSum:u32; runs of empty cells are run-length compressed
// into a single tag followed by the run length as a uvarint, since a sparsely-populated IBLT (the
// common case on a converged collection) is mostly zero cells. count is
// carried at its full int16 range so Decode(Encode(t)) == t holds for
// every reachable cell state, not just |count| <= 127. This is a
// bespoke, compact framing specific to this protocol, not a generic
// struct encoding, so it is implemented directly over encoding/binary
// rather than through a generic marshaler.
const (
	tagZeroRun byte = 0x00
	tagCell    byte = 0x01
)

// Encode serializes the table to its run-length wire form.
func (t *IBLT) Encode() []byte {
	buf := make([]byte, 0, 8+len(t.cells)*10)
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(t.nCells))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(t.nHash))
	buf = append(buf, hdr[:]...)

	i := 0
	for i < len(t.cells) {
		if t.cells[i].isEmpty() {
			j := i
			for j < len(t.cells) && t.cells[j].isEmpty() {
				j++
			}
			buf = append(buf, tagZeroRun)
			buf = appendUvarint(buf, uint64(j-i))
			i = j
			continue
		}
		c := t.cells[i]
		var rec [10]byte
		binary.BigEndian.PutUint16(rec[0:2], uint16(c.count))
		binary.BigEndian.PutUint32(rec[2:6], c.keySum)
		binary.BigEndian.PutUint32(rec[6:10], c.hashSum)
		buf = append(buf, tagCell)
		buf = append(buf, rec[:]...)
		i++
	}
	return buf
}

// Decode parses the run-length wire form produced by Encode. It must
// round-trip exactly: Decode(Encode(t)) == t for any t.
func Decode(data []byte) (*IBLT, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("iblt: short header (%d bytes)", len(data))
	}
	nCells := int(binary.BigEndian.Uint32(data[0:4]))
	nHash := int(binary.BigEndian.Uint32(data[4:8]))
	t := New(nCells, nHash)
	pos := 8
	i := 0
	for i < nCells {
		if pos >= len(data) {
			return nil, fmt.Errorf("iblt: truncated body at cell %d", i)
		}
		tag := data[pos]
		pos++
		switch tag {
		case tagZeroRun:
			n, adv, err := readUvarint(data[pos:])
			if err != nil {
				return nil, fmt.Errorf("iblt: bad zero-run length: %w", err)
			}
			pos += adv
			i += int(n)
		case tagCell:
			if pos+10 > len(data) {
				return nil, fmt.Errorf("iblt: truncated cell at %d", i)
			}
			t.cells[i] = cell{
				count:   int16(binary.BigEndian.Uint16(data[pos : pos+2])),
				keySum:  binary.BigEndian.Uint32(data[pos+2 : pos+6]),
				hashSum: binary.BigEndian.Uint32(data[pos+6 : pos+10]),
			}
			pos += 10
			i++
		default:
			return nil, fmt.Errorf("iblt: unknown tag %#x at cell %d", tag, i)
		}
	}
	if i != nCells {
		return nil, fmt.Errorf("iblt: decoded %d cells, want %d", i, nCells)
	}
	return t, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readUvarint(data []byte) (uint64, int, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, 0, fmt.Errorf("invalid varint")
	}
	return v, n, nil
}
