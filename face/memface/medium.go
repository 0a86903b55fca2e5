// Package memface is an in-process Face implementation connecting
// multiple engines sharing a simulated broadcast medium, for deterministic
// engine tests. It plays the role the teacher's fakeConduit
// (sync2/rangesync) plays for RangeSetReconciler tests: no sockets, a
// shared clockwork.Clock, and explicit control over delivery order.
package memface

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pollere/syncps/face"
	"github.com/pollere/syncps/pub"
)

// Medium is the shared broadcast channel a set of MemFaces talk over.
// Every Send and Express on one face is delivered synchronously, in call
// order, to every other registered face whose RIT prefix matches — the
// same "one sender reaches all listeners at once" behavior the real
// multicast medium has (§5 Resource policy).
type Medium struct {
	mu    sync.Mutex
	faces []*MemFace
}

// NewMedium creates an empty shared medium.
func NewMedium() *Medium {
	return &Medium{}
}

func (m *Medium) register(f *MemFace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces = append(m.faces, f)
}

func (m *Medium) others(self *MemFace) []*MemFace {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MemFace, 0, len(m.faces)-1)
	for _, f := range m.faces {
		if f != self {
			out = append(out, f)
		}
	}
	return out
}

// NewFace attaches a new MemFace to the medium, using clock for every
// timer it schedules.
func (m *Medium) NewFace(clock clockwork.Clock) *MemFace {
	f := &MemFace{
		medium:  m,
		clock:   clock,
		pending: make(map[uint32]*pendingInterest),
	}
	m.register(f)
	return f
}

type ritEntry struct {
	name       pub.Name
	onInterest face.InterestCB
	onData     face.DataCB
}

type pendingInterest struct {
	name   pub.Name
	cancel func()
	timer  clockwork.Timer
}

// MemFace is a Face backed by a Medium instead of real sockets.
type MemFace struct {
	medium *Medium
	clock  clockwork.Clock

	mu         sync.Mutex
	rit        []ritEntry
	pending    map[uint32]*pendingInterest
	bestCState map[string]pub.Name
	suppressed map[string]bool
}

var _ face.Face = (*MemFace)(nil)

func (f *MemFace) Express(ctx context.Context, interest face.Interest, onTimeout func()) error {
	f.mu.Lock()
	nonce := interest.Nonce
	timer := f.clock.AfterFunc(interest.Lifetime, func() {
		f.mu.Lock()
		_, still := f.pending[nonce]
		delete(f.pending, nonce)
		f.mu.Unlock()
		if still {
			onTimeout()
		}
	})
	f.pending[nonce] = &pendingInterest{name: interest.Name, timer: timer}
	f.mu.Unlock()

	for _, other := range f.medium.others(f) {
		other.deliverInterest(interest)
	}
	return nil
}

func (f *MemFace) AddToRIT(name pub.Name, onInterest face.InterestCB, onData face.DataCB, ready face.ReadyCB) {
	f.mu.Lock()
	f.rit = append(f.rit, ritEntry{name: name, onInterest: onInterest, onData: onData})
	f.mu.Unlock()
	ready(nil)
}

func (f *MemFace) deliverInterest(interest face.Interest) {
	f.mu.Lock()
	matches := make([]InterestCBCopy, 0, 1)
	for _, e := range f.rit {
		if e.name.IsPrefixOf(interest.Name) && e.onInterest != nil {
			matches = append(matches, InterestCBCopy{cb: e.onInterest})
		}
	}
	f.recordPeerCState(interest.Name)
	f.mu.Unlock()
	for _, m := range matches {
		m.cb(interest)
	}
}

// recordPeerCState remembers interest as the most recently observed peer
// cState for its collection, keyed by the name's prefix (every component
// but the trailing IBLT blob), so BestCState can answer §4.C step 6's
// "do we already have a pending peer cState to reply to" check without
// waiting for another cState round. Caller holds f.mu.
func (f *MemFace) recordPeerCState(cstate pub.Name) {
	if len(cstate) == 0 {
		return
	}
	if f.bestCState == nil {
		f.bestCState = make(map[string]pub.Name)
	}
	collection := cstate[:len(cstate)-1]
	f.bestCState[collection.String()] = cstate
}

// InterestCBCopy exists only to snapshot callbacks outside the lock before
// invoking them, avoiding re-entrant deadlocks when a handler calls back
// into the face.
type InterestCBCopy struct{ cb face.InterestCB }

func (f *MemFace) Send(data pub.Publication) error {
	for _, other := range f.medium.others(f) {
		other.deliverData(data)
	}
	// A node also needs to learn its own outstanding interest was
	// satisfied only from a PEER's reply; the protocol never has a node
	// answer its own cState, so Send does not loop back to f itself.
	return nil
}

func (f *MemFace) deliverData(data pub.Publication) {
	f.mu.Lock()
	var cbs []face.DataCB
	for _, e := range f.rit {
		if e.name.IsPrefixOf(data.Name()) && e.onData != nil {
			cbs = append(cbs, e.onData)
		}
	}
	// satisfy any pending Interest this data answers. A cAdd's name is its
	// cState's collection prefix with the last (IBLT) component replaced
	// by a hash, so the match is on that shared prefix rather than full
	// name equality (mirrors NDN Interest/Data matching under a PIT entry
	// with selectors, not exact name equality).
	for nonce, p := range f.pending {
		if len(p.name) == 0 {
			continue
		}
		prefix := p.name[:len(p.name)-1]
		if prefix.IsPrefixOf(data.Name()) {
			p.timer.Stop()
			delete(f.pending, nonce)
		}
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(data)
	}
}

func (f *MemFace) BestCState(collection pub.Name) (pub.Name, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bestCState == nil {
		return nil, false
	}
	n, ok := f.bestCState[collection.String()]
	return n, ok
}

// RecordPeerCState lets test code force the "best" recently observed peer
// cState for a collection, independent of the normal deliverInterest path.
func (f *MemFace) RecordPeerCState(collection pub.Name, cstate pub.Name) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bestCState == nil {
		f.bestCState = make(map[string]pub.Name)
	}
	f.bestCState[collection.String()] = cstate
}

// IsSuppressed reports whether prefix is currently marked suppressed, for
// test assertions on the suppression window (§4.C step 5).
func (f *MemFace) IsSuppressed(prefix pub.Prefix) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suppressed[prefix.String()]
}

func (f *MemFace) UnsuppressCState(prefix pub.Prefix) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.suppressed == nil {
		f.suppressed = make(map[string]bool)
	}
	f.suppressed[prefix.String()] = false
}

func (f *MemFace) Schedule(d time.Duration, cb func()) face.TimerHandle {
	timer := f.clock.AfterFunc(d, cb)
	return timerHandle{timer}
}

func (f *MemFace) OneTime(d time.Duration, cb func()) {
	f.clock.AfterFunc(d, cb)
}

type timerHandle struct{ t clockwork.Timer }

func (h timerHandle) Cancel() { h.t.Stop() }
