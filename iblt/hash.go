package iblt

import "github.com/twmb/murmur3"

// seeds for the k cell-selection hash functions and the secondary
// (hashSum) check hash. Fixed and arbitrary, but must be stable across
// the wire since every peer must derive the same cells for the same
// element hash.
var cellSeeds = [...]uint32{0x5bd1e995, 0x85ebca6b, 0xc2b2ae35, 0x27d4eb2f, 0x165667b1}

const checkSeed = 0x9e3779b9

// Hash returns the 32-bit murmurhash3 of a publication's wire bytes, the
// element identity used as both the IBLT key and the store's map key.
func Hash(wireBytes []byte) uint32 {
	return murmur3.SeedSum32(0, wireBytes)
}

// check is the secondary hash ("hash2" in spec terms) used to validate a
// peelable cell: a pure cell's hashSum must equal check(keySum).
func check(h uint32) uint32 {
	var b [4]byte
	b[0] = byte(h)
	b[1] = byte(h >> 8)
	b[2] = byte(h >> 16)
	b[3] = byte(h >> 24)
	return murmur3.SeedSum32(checkSeed, b[:])
}

// cellsFor returns the k cell indices an element hash maps to, each from an
// independently seeded murmur3 so collisions between the k cells for one
// element are unlikely.
func cellsFor(h uint32, nHash, nCells int) []int {
	var b [4]byte
	b[0] = byte(h)
	b[1] = byte(h >> 8)
	b[2] = byte(h >> 16)
	b[3] = byte(h >> 24)
	idx := make([]int, nHash)
	seen := make(map[int]bool, nHash)
	for i := 0; i < nHash; i++ {
		seed := cellSeeds[i%len(cellSeeds)]
		j := int(murmur3.SeedSum32(seed, b[:]) % uint32(nCells))
		// linear probe forward on collision so the k cells for one
		// element are always distinct, keeping peeling effective.
		for seen[j] {
			j = (j + 1) % nCells
		}
		seen[j] = true
		idx[i] = j
	}
	return idx
}
