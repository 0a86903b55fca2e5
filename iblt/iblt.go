// Package iblt implements the Invertible Bloom Lookup Table used by the
// sync engine to compute set differences between a local and a peer
// collection of publication hashes without exchanging the full sets.
package iblt

import "fmt"

// DefaultCells is sized for roughly 80 concurrently active publications,
// per the spec's target capacity.
const DefaultCells = 80

// MaxCells is the practical upper bound kept for wire compactness; cState
// names carrying a larger table would blow past typical MTU budgets.
const MaxCells = 64

// DefaultHashCount is the number of cell-selection hash functions (k).
const DefaultHashCount = 3

// IBLT is an Invertible Bloom Lookup Table over 32-bit element hashes.
// It is not safe for concurrent use; callers (the Collection) serialize
// access to it the same way the engine serializes all other state.
type IBLT struct {
	cells  []cell
	nHash  int
	nCells int
}

// New creates an IBLT with the given cell count and hash-function count.
// A cells value below 1 is replaced by DefaultCells, an nHash value below 1
// by DefaultHashCount.
func New(cells, nHash int) *IBLT {
	if cells < 1 {
		cells = DefaultCells
	}
	if nHash < 1 {
		nHash = DefaultHashCount
	}
	return &IBLT{
		cells:  make([]cell, cells),
		nHash:  nHash,
		nCells: cells,
	}
}

// Clone returns a deep copy, used when a caller needs a scratch IBLT to
// modify without disturbing the original (Peel peels a clone).
func (t *IBLT) Clone() *IBLT {
	out := &IBLT{
		cells:  make([]cell, len(t.cells)),
		nHash:  t.nHash,
		nCells: t.nCells,
	}
	copy(out.cells, t.cells)
	return out
}

// Insert adds element hash h to the table.
func (t *IBLT) Insert(h uint32) {
	h2 := check(h)
	for _, i := range cellsFor(h, t.nHash, t.nCells) {
		t.cells[i].insert(h, h2)
	}
}

// Erase removes element hash h from the table. Erasing an element not
// present leaves the table in an inconsistent state; callers (Collection)
// must only erase hashes they previously inserted.
func (t *IBLT) Erase(h uint32) {
	h2 := check(h)
	for _, i := range cellsFor(h, t.nHash, t.nCells) {
		t.cells[i].erase(h, h2)
	}
}

// Subtract returns a new IBLT representing t - other, cell-wise: counts
// subtract, keySum/hashSum XOR. t and other must share the same geometry
// (cell count and hash count).
func (t *IBLT) Subtract(other *IBLT) (*IBLT, error) {
	if t.nCells != other.nCells || t.nHash != other.nHash {
		return nil, fmt.Errorf("iblt: geometry mismatch: %dx%d vs %dx%d",
			t.nCells, t.nHash, other.nCells, other.nHash)
	}
	out := &IBLT{
		cells:  make([]cell, t.nCells),
		nHash:  t.nHash,
		nCells: t.nCells,
	}
	for i := range t.cells {
		out.cells[i] = cell{
			count:   t.cells[i].count - other.cells[i].count,
			keySum:  t.cells[i].keySum ^ other.cells[i].keySum,
			hashSum: t.cells[i].hashSum ^ other.cells[i].hashSum,
		}
	}
	return out, nil
}

// Peel extracts unique elements from a difference IBLT. have are elements
// unique to the left-hand operand of the Subtract that produced t (count
// == +1 cells), need are elements unique to the right-hand operand (count
// == -1 cells). ok is false if cells remain that could not be peeled
// (residue after an over-large diff): callers must treat have/need as a
// lower bound and rely on a subsequent cState exchange to converge.
func (t *IBLT) Peel() (have, need []uint32, ok bool) {
	work := t.Clone()
	for {
		progressed := false
		for i := range work.cells {
			c := work.cells[i]
			if c.isEmpty() || !c.pure(check) {
				continue
			}
			h := c.keySum
			if c.count == 1 {
				have = append(have, h)
			} else {
				need = append(need, h)
			}
			h2 := check(h)
			for _, j := range cellsFor(h, work.nHash, work.nCells) {
				if c.count == 1 {
					work.cells[j].erase(h, h2)
				} else {
					work.cells[j].insert(h, h2)
				}
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	ok = true
	for _, c := range work.cells {
		if !c.isEmpty() {
			ok = false
			break
		}
	}
	return have, need, ok
}

// Empty reports whether the table has no inserted elements surviving (all
// cells zeroed).
func (t *IBLT) Empty() bool {
	for _, c := range t.cells {
		if !c.isEmpty() {
			return false
		}
	}
	return true
}

// NHash returns the configured hash-function count.
func (t *IBLT) NHash() int { return t.nHash }

// NCells returns the configured cell count.
func (t *IBLT) NCells() int { return t.nCells }
