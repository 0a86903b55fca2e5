package pub

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Name is an ordered sequence of opaque components, NDN-style. The last
// component of a publication's name is always a microsecond timestamp
// added at publish time (§3); for a Prefix used in a subscription it is
// whatever the application put there.
type Name [][]byte

// Prefix is a Name used for longest-prefix matching rather than identity.
type Prefix = Name

// ParseName splits a "/"-separated string into a Name, the convenient form
// applications and tests construct names with. Components are not
// percent-decoded; callers wanting binary components should build a Name
// literal instead.
func ParseName(s string) Name {
	s = strings.Trim(s, "/")
	if s == "" {
		return Name{}
	}
	parts := strings.Split(s, "/")
	n := make(Name, len(parts))
	for i, p := range parts {
		n[i] = []byte(p)
	}
	return n
}

// Append returns a new Name with component appended, leaving n untouched.
func (n Name) Append(component []byte) Name {
	out := make(Name, len(n)+1)
	copy(out, n)
	out[len(n)] = component
	return out
}

// AppendTimestamp returns a new Name with a microsecond-resolution
// timestamp component appended, the form a publication's identity
// component takes (§3).
func (n Name) AppendTimestamp(t time.Time) Name {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.UnixMicro()))
	return n.Append(b[:])
}

// Timestamp decodes the last component as a microsecond timestamp. It
// panics if n is empty (there is no component to decode) and returns the
// zero Time if the last component isn't 8 bytes. Callers normally only
// call this on publication names, which are constructed by
// AppendTimestamp or validated on receipt.
func (n Name) Timestamp() time.Time {
	last := n[len(n)-1]
	if len(last) != 8 {
		return time.Time{}
	}
	micros := binary.BigEndian.Uint64(last)
	return time.UnixMicro(int64(micros))
}

// IsPrefixOf reports whether n is a prefix of other: every component of n
// equals the corresponding component of other, and n is no longer.
func (n Name) IsPrefixOf(other Name) bool {
	if len(n) > len(other) {
		return false
	}
	for i, c := range n {
		if !bytes.Equal(c, other[i]) {
			return false
		}
	}
	return true
}

// Equal reports whether two names have identical components.
func (n Name) Equal(other Name) bool {
	if len(n) != len(other) {
		return false
	}
	for i, c := range n {
		if !bytes.Equal(c, other[i]) {
			return false
		}
	}
	return true
}

// Bytes flattens the name's components into a single length-prefixed byte
// string, suitable for hashing or MACing the name as a whole.
func (n Name) Bytes() []byte {
	var buf bytes.Buffer
	for _, c := range n {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(c)))
		buf.Write(lenBuf[:])
		buf.Write(c)
	}
	return buf.Bytes()
}

// String renders the name back into its "/"-separated form, escaping
// non-printable components as hex.
func (n Name) String() string {
	var b strings.Builder
	for _, c := range n {
		b.WriteByte('/')
		if isPrintable(c) {
			b.Write(c)
		} else {
			fmt.Fprintf(&b, "%%%x", c)
		}
	}
	return b.String()
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
