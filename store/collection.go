// Package store holds the active-publication Collection: the hash-keyed
// map of publications co-owned with an IBLT kept in lockstep (§3, §4.B),
// plus the per-publication delivery-callback table.
package store

import (
	"time"

	"github.com/pollere/syncps/iblt"
	"github.com/pollere/syncps/pub"
)

// DeliveryCB is invoked at most once per locally originated publish that
// requested notification: arrived is true if some peer was observed to
// already have the publication, false if its lifetime expired first
// (§4.C "Delivery-callback reconciliation"). It runs on the engine's own
// run-loop goroutine; it must not call back into a blocking Engine method
// (Publish, Subscribe, ...) synchronously, or the loop deadlocks waiting
// for itself. Hand off to a new goroutine first if a callback needs to.
type DeliveryCB func(hash uint32, arrived bool)

// Entry is one publication's bookkeeping record (§3).
type Entry struct {
	Pub           pub.Publication
	Active        bool // not yet expired
	Local         bool // originated here vs. received from the network
	SuppressUntil time.Time
}

// Collection is the hash -> Entry map for one side of the engine (its own
// publications) or (conceptually, a second instance in a richer deployment)
// a per-peer view; this module uses a single Collection per engine, as
// spec.md §3 describes for the core.
//
// Invariant (I1): the IBLT field always equals the IBLT obtained by
// inserting exactly the hash of every entry with Active == true, plus each
// hash currently inserted by IgnorePub. Every method that flips the Active
// bit updates IBLT in the same call, so callers that go through these
// methods cannot violate that invariant (§9 "IBLT ownership").
type Collection struct {
	Pubs   map[uint32]*Entry
	PubCbs map[uint32]DeliveryCB
	IBLT   *iblt.IBLT
}

// New creates an empty Collection with the given IBLT geometry.
func New(cells, nHash int) *Collection {
	return &Collection{
		Pubs:   make(map[uint32]*Entry),
		PubCbs: make(map[uint32]DeliveryCB),
		IBLT:   iblt.New(cells, nHash),
	}
}

// AddLocal inserts a locally originated publication as active. Returns 0
// (and does nothing) if its hash is already present (I3: at-most-once
// publish).
func (c *Collection) AddLocal(p pub.Publication) uint32 {
	h := pub.Hash(p)
	if _, exists := c.Pubs[h]; exists {
		return 0
	}
	c.Pubs[h] = &Entry{Pub: p, Active: true, Local: true}
	c.IBLT.Insert(h)
	return h
}

// AddNet inserts a network-received publication as active, not local.
// Returns 0 if its hash is already present.
func (c *Collection) AddNet(p pub.Publication) uint32 {
	h := pub.Hash(p)
	if _, exists := c.Pubs[h]; exists {
		return 0
	}
	c.Pubs[h] = &Entry{Pub: p, Active: true, Local: false}
	c.IBLT.Insert(h)
	return h
}

// IgnorePub inserts only hash h into the IBLT, with no backing Entry, so
// peers stop offering a publication this node rejected (malformed,
// invalid signature, or already-expired on arrival). The hash is erased
// again by the caller's expiry timer after lifetime+skew (§3 "Ignored").
func (c *Collection) IgnorePub(h uint32) {
	c.IBLT.Insert(h)
}

// UnignorePub erases a hash previously inserted by IgnorePub. No-op if h
// has a backing Entry (deactivate/erase own that case).
func (c *Collection) UnignorePub(h uint32) {
	if _, exists := c.Pubs[h]; exists {
		return
	}
	c.IBLT.Erase(h)
}

// Deactivate clears the Active bit and erases h from the IBLT, keeping the
// Entry around for dedup (§4.B). Idempotent.
func (c *Collection) Deactivate(h uint32) {
	e, ok := c.Pubs[h]
	if !ok || !e.Active {
		return
	}
	e.Active = false
	c.IBLT.Erase(h)
}

// Erase removes h from the store entirely, erasing it from the IBLT first
// if still active (§4.B).
func (c *Collection) Erase(h uint32) {
	e, ok := c.Pubs[h]
	if !ok {
		return
	}
	if e.Active {
		c.IBLT.Erase(h)
	}
	delete(c.Pubs, h)
	delete(c.PubCbs, h)
}

// Contains reports hash-based membership (§4.B).
func (c *Collection) Contains(p pub.Publication) bool {
	_, ok := c.Pubs[pub.Hash(p)]
	return ok
}

// Get returns the entry for hash h, if any.
func (c *Collection) Get(h uint32) (*Entry, bool) {
	e, ok := c.Pubs[h]
	return e, ok
}

// SetCallback registers a delivery callback for a locally originated
// publish, to be resolved by the engine's delivery-callback reconciliation
// (§4.C).
func (c *Collection) SetCallback(h uint32, cb DeliveryCB) {
	c.PubCbs[h] = cb
}
