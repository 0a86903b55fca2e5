// Package face defines the narrow transport contract the sync engine
// consumes (§4.E): expressing cState interests, registering for inbound
// cStates/cAdds, and scheduling timers. Concrete adapters live in
// face/memface (in-process, for tests) and face/udpface (real UDP
// multicast).
package face

import (
	"context"
	"time"

	"github.com/pollere/syncps/pub"
)

// Interest is an outgoing cState: a name (collection name / IBLT) with a
// nonce and a lifetime (§6 "Wire formats").
type Interest struct {
	Name     pub.Name
	Nonce    uint32
	Lifetime time.Duration
}

// TimerHandle is returned by Schedule; Cancel is synchronous per §5's
// cancellation model (the timer either hasn't fired or has already run to
// completion).
type TimerHandle interface {
	Cancel()
}

// InterestCB handles an inbound Interest (peer cState) matching a
// registered RIT prefix.
type InterestCB func(Interest)

// DataCB handles inbound Data (peer cAdd) matching a registered RIT
// prefix.
type DataCB func(pub.Publication)

// ReadyCB fires once RIT registration completes (or fails).
type ReadyCB func(err error)

// Face is the transport contract the engine is built against (§4.E).
type Face interface {
	// Express sends interest and invokes onTimeout if no Data satisfies
	// it within interest.Lifetime. The face does not limit how many
	// cStates are outstanding; the engine re-expresses only its most
	// recent cState on timeout and ignores timeouts of superseded ones.
	Express(ctx context.Context, interest Interest, onTimeout func()) error

	// AddToRIT registers for inbound Interests and Data whose name falls
	// under name, invoking ready once registration completes. No
	// protocol traffic should be sent before ready fires with a nil
	// error (§4.C "registering").
	AddToRIT(name pub.Name, onInterest InterestCB, onData DataCB, ready ReadyCB)

	// BestCState returns the most specific/newest peer cState name
	// observed for collection, or ok=false if none has been seen.
	BestCState(collection pub.Name) (name pub.Name, ok bool)

	// UnsuppressCState instructs the face to let the next outgoing
	// cState under prefix go out even if the face's own send-dedup would
	// otherwise suppress a repeat.
	UnsuppressCState(prefix pub.Prefix)

	// Send transmits a signed cAdd.
	Send(data pub.Publication) error

	// Schedule runs cb after d, returning a handle that cancels it.
	Schedule(d time.Duration, cb func()) TimerHandle

	// OneTime runs cb after d; it cannot be cancelled.
	OneTime(d time.Duration, cb func())
}
