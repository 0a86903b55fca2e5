// Package engine implements the reconciliation state machine (§4.C): the
// cState/cAdd exchange that keeps every member's Collection converged, the
// local publish/subscribe API, and publication lifecycle timers.
//
// All state the Engine owns is touched from exactly one goroutine, its own
// run loop, the same single-threaded cooperative model sync2's
// MultiPeerReconciler imposes on its state machine. Public methods called
// from other goroutines hand a closure to that loop over a channel and wait
// for it to run; callbacks the Face invokes (on its own goroutine, or a
// timer goroutine) post a closure and return without waiting.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pollere/syncps/face"
	"github.com/pollere/syncps/iblt"
	"github.com/pollere/syncps/metrics"
	"github.com/pollere/syncps/pub"
	"github.com/pollere/syncps/sigmgr"
	"github.com/pollere/syncps/store"
)

// Engine is one collection's reconciliation state machine.
type Engine struct {
	logger         *zap.Logger
	clock          clockwork.Clock
	cfg            Config
	face           face.Face
	collectionName pub.Name
	packetSigner   sigmgr.PacketSigner
	pubValidator   sigmgr.PubValidator

	collection *store.Collection
	subs       *store.Subscriptions
	metrics    metricsVec

	getLifetimeCB GetLifetimeCB
	isExpiredCB   IsExpiredCB
	orderPubCB    OrderPubCB

	rng *rand.Rand

	// state touched only from the run loop goroutine.
	delivering      bool
	registering     bool
	publications    uint64
	scheduledCState face.TimerHandle
	cstateNonce     uint32

	actions chan func()
	stopped chan struct{}
	stopOne sync.Once

	autoStart bool
	startOnce sync.Once
	cancel    context.CancelFunc
	eg        *errgroup.Group
	running   atomic.Bool
}

// New creates an Engine for collectionName, talking through f, signing and
// validating packets and publications with signer/validator. The engine
// does not start its run loop until Start, Run, or WithAutoStart(true) is
// applied (§6 "auto_start").
func New(f face.Face, collectionName pub.Name, signer sigmgr.PacketSigner, validator sigmgr.PubValidator, opts ...Option) *Engine {
	e := &Engine{
		logger:         zap.NewNop(),
		clock:          clockwork.NewRealClock(),
		cfg:            DefaultConfig(),
		face:           f,
		collectionName: collectionName,
		packetSigner:   signer,
		pubValidator:   validator,
		subs:           store.NewSubscriptions(),
		orderPubCB:     func(pub.Publication) bool { return false },
		actions:        make(chan func(), 64),
		stopped:        make(chan struct{}),
	}
	e.getLifetimeCB = e.defaultGetLifetime
	e.isExpiredCB = e.defaultIsExpired
	e.rng = rand.New(rand.NewSource(int64(e.clock.Now().UnixNano())))

	for _, opt := range opts {
		opt(e)
	}
	e.collection = store.New(e.cfg.IBLTCells, e.cfg.IBLTHashCount)
	e.metrics = newMetricsVec(collectionName.String())

	if e.autoStart {
		e.Start()
	}
	return e
}

func (e *Engine) defaultGetLifetime(pub.Publication) time.Duration {
	return e.cfg.MaxPubLifetime
}

func (e *Engine) defaultIsExpired(p pub.Publication, lifetime time.Duration, now time.Time) bool {
	return now.Sub(p.Name().Timestamp()) > lifetime+e.cfg.MaxClockSkew
}

// -- run loop plumbing -------------------------------------------------

// post hands f to the run loop asynchronously; the caller does not wait for
// it to execute. Used by Face-driven callbacks (timers, onInterest, onData)
// so they never block the goroutine that invoked them.
func (e *Engine) post(f func()) {
	select {
	case e.actions <- f:
	case <-e.stopped:
	}
}

// do hands f to the run loop and blocks until it has executed, for public
// API calls whose return value depends on the updated state.
func (e *Engine) do(f func()) {
	done := make(chan struct{})
	e.post(func() {
		f()
		close(done)
	})
	select {
	case <-done:
	case <-e.stopped:
	}
}

func (e *Engine) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-e.actions:
			job()
		}
	}
}

// Start registers with the face and begins the run loop without blocking
// the caller. Safe to call more than once; only the first call has effect.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		var ctx context.Context
		ctx, e.cancel = context.WithCancel(context.Background())
		e.eg, ctx = errgroup.WithContext(ctx)

		e.registering = true
		e.eg.Go(func() error { return e.run(ctx) })
		e.running.Store(true)

		e.face.AddToRIT(e.collectionName, e.onInterestFromFace, e.onDataFromFace, func(err error) {
			e.post(func() {
				if err != nil {
					e.logger.Error("RIT registration failed", zap.Error(err))
					return
				}
				e.registering = false
				e.sendCState()
			})
		})
	})
}

// Run starts the engine (if not already) and blocks until ctx is done, then
// stops it.
func (e *Engine) Run(ctx context.Context) error {
	e.Start()
	<-ctx.Done()
	e.Stop()
	return ctx.Err()
}

// Stop halts the run loop and waits for it to exit. Safe to call more than
// once.
func (e *Engine) Stop() {
	e.stopOne.Do(func() {
		e.running.Store(false)
		close(e.stopped)
		if e.cancel != nil {
			e.cancel()
		}
	})
	if e.eg != nil {
		_ = e.eg.Wait()
	}
}

// -- publish / subscribe API --------------------------------------------

// Publish stores p as a locally originated, active publication and returns
// its hash, or 0 if an identical publication (by wire bytes) is already
// held (§3 "at-most-once publish").
func (e *Engine) Publish(p pub.Publication) uint32 {
	return e.PublishWithCallback(p, nil)
}

// PublishWithCallback is Publish, additionally registering cb to be invoked
// exactly once: arrived=true if some peer is observed to already hold the
// publication before it expires, arrived=false if its lifetime elapses
// first (§4.C "Delivery-callback reconciliation"). cb is never invoked if
// Publish returns 0.
func (e *Engine) PublishWithCallback(p pub.Publication, cb store.DeliveryCB) uint32 {
	var h uint32
	e.do(func() {
		h = e.collection.AddLocal(p)
		if h == 0 {
			return
		}
		e.publications++
		e.metrics.pubsPublished.Inc()
		e.metrics.pubsActive.Inc()
		if cb != nil {
			e.collection.SetCallback(h, cb)
		}
		e.scheduleLocalLifecycle(h, p)
	})
	return h
}

// scheduleLocalLifecycle arms the three timers every stored publication
// gets (§3 "Lifecycle"): delivery-callback-fail at lifetime, deactivate at
// lifetime+skew, erase at lifetime+skew+expirationGB.
func (e *Engine) scheduleLocalLifecycle(h uint32, p pub.Publication) {
	lifetime := e.getLifetimeCB(p)
	skew := e.cfg.MaxClockSkew
	e.face.OneTime(lifetime, func() {
		e.post(func() {
			if cb, ok := e.collection.PubCbs[h]; ok {
				cb(h, false)
				delete(e.collection.PubCbs, h)
			}
		})
	})
	e.face.OneTime(lifetime+skew, func() {
		e.post(func() {
			e.collection.Deactivate(h)
			e.metrics.pubsActive.Dec()
		})
	})
	e.face.OneTime(lifetime+skew+e.cfg.ExpirationGB, func() {
		e.post(func() { e.collection.Erase(h) })
	})
}

// ignorePub inserts h into the collection's IBLT with no backing entry, so
// peers stop offering something this node rejected, and schedules its
// removal after lifetime+skew (§3 "Ignored").
func (e *Engine) ignorePub(h uint32, lifetime time.Duration) {
	e.collection.IgnorePub(h)
	e.face.OneTime(lifetime+e.cfg.MaxClockSkew, func() {
		e.post(func() { e.collection.UnignorePub(h) })
	})
}

// Subscribe registers cb for every publication whose name has prefix as a
// prefix, delivering every already-held, active, network-origin match
// synchronously before returning, then on every future arrival (§4.D).
// Replaces any existing subscription to an equal prefix.
func (e *Engine) Subscribe(prefix pub.Prefix, cb store.DeliverCB) *Engine {
	e.do(func() {
		wrapped := e.wrapDeliver(cb)
		var existing []pub.Publication
		for _, entry := range e.collection.Pubs {
			if entry.Active && !entry.Local && prefix.IsPrefixOf(entry.Pub.Name()) {
				existing = append(existing, entry.Pub)
			}
		}
		e.subs.Subscribe(prefix, wrapped, existing)
	})
	return e
}

// Unsubscribe removes the subscription for prefix, if any.
func (e *Engine) Unsubscribe(prefix pub.Prefix) *Engine {
	e.do(func() { e.subs.Unsubscribe(prefix) })
	return e
}

// wrapDeliver decrypts p first when the collection's validator reports
// encrypted content, per §4.D "Deliver".
func (e *Engine) wrapDeliver(cb store.DeliverCB) store.DeliverCB {
	return func(p pub.Publication) {
		if e.pubValidator.Encrypts() {
			plain, err := e.pubValidator.Decrypt(p)
			if err != nil {
				e.logger.Warn("decrypt on deliver failed", zap.Error(err))
				return
			}
			cb(plain)
			return
		}
		cb(p)
	}
}

// Schedule runs cb after d and returns a handle that cancels it, going
// through the engine's run loop so cb executes with the same serialization
// guarantee every other engine callback gets.
func (e *Engine) Schedule(d time.Duration, cb func()) face.TimerHandle {
	return e.face.Schedule(d, func() { e.post(cb) })
}

// OneTime runs cb after d, through the run loop; it cannot be cancelled.
func (e *Engine) OneTime(d time.Duration, cb func()) {
	e.face.OneTime(d, func() { e.post(cb) })
}

// -- tunable setters (§6) ------------------------------------------------

// CStateLifetime changes the outstanding-cState timeout.
func (e *Engine) CStateLifetime(d time.Duration) *Engine {
	e.do(func() { e.cfg.CStateLifetime = d })
	return e
}

// PubLifetime changes the default publication lifetime used by the default
// GetLifetimeCB.
func (e *Engine) PubLifetime(d time.Duration) *Engine {
	e.do(func() { e.cfg.MaxPubLifetime = d })
	return e
}

// PubExpirationGB changes the grace period between deactivation and final
// erasure from the store.
func (e *Engine) PubExpirationGB(d time.Duration) *Engine {
	e.do(func() { e.cfg.ExpirationGB = d })
	return e
}

// GetLifetimeCb overrides the per-publication lifetime hook at runtime.
func (e *Engine) GetLifetimeCb(cb GetLifetimeCB) *Engine {
	e.do(func() { e.getLifetimeCB = cb })
	return e
}

// IsExpiredCb overrides the expiry test hook at runtime.
func (e *Engine) IsExpiredCb(cb IsExpiredCB) *Engine {
	e.do(func() { e.isExpiredCB = cb })
	return e
}

// OrderPubCb overrides the remote-origin forwarding hook at runtime.
func (e *Engine) OrderPubCb(cb OrderPubCB) *Engine {
	e.do(func() { e.orderPubCB = cb })
	return e
}

// AutoStart controls whether a future New call starts the engine
// immediately; it has no effect on an already-constructed Engine.
func (e *Engine) AutoStart(auto bool) *Engine {
	e.autoStart = auto
	return e
}

// -- cState side: the engine's own outstanding interest ------------------

// sendCState expresses a fresh cState carrying the collection's current
// IBLT, re-expressing on timeout (§4.C "send_cstate"). Only the timeout of
// the most recently expressed cState re-expresses; timeouts of superseded
// ones are ignored.
func (e *Engine) sendCState() {
	if e.registering {
		return
	}
	if e.scheduledCState != nil {
		e.scheduledCState.Cancel()
		e.scheduledCState = nil
	}
	ibltBytes := e.collection.IBLT.Encode()
	name := e.collectionName.Append(ibltBytes)
	e.cstateNonce = e.rng.Uint32()
	interest := face.Interest{Name: name, Nonce: e.cstateNonce, Lifetime: e.cfg.CStateLifetime}
	e.metrics.cStatesSent.Inc()
	nonce := e.cstateNonce
	if err := e.face.Express(context.Background(), interest, func() {
		e.post(func() {
			if e.cstateNonce == nonce {
				e.sendCState()
			}
		})
	}); err != nil {
		e.logger.Warn("express cState failed", zap.Error(err))
	}
}

// sendCStateSoon cancels any pending delayed send and schedules one after
// delay plus a random jitter in [JitterMin, JitterMax), idempotent under
// repeated calls within the window (§4.C steps 5 and 6).
func (e *Engine) sendCStateSoon(delay time.Duration) {
	if e.scheduledCState != nil {
		e.scheduledCState.Cancel()
	}
	jitterRange := e.cfg.JitterMax - e.cfg.JitterMin
	jitter := e.cfg.JitterMin
	if jitterRange > 0 {
		jitter += time.Duration(e.rng.Int63n(int64(jitterRange)))
	}
	e.scheduledCState = e.Schedule(delay+jitter, func() {
		e.scheduledCState = nil
		e.sendCState()
	})
}

// -- cState side: answering a peer's interest ---------------------------

func (e *Engine) onInterestFromFace(interest face.Interest) {
	e.post(func() { e.handleCState(interest.Name) })
}

// handleCState answers an inbound peer cState (§4.C "handle_cstate").
func (e *Engine) handleCState(peerName pub.Name) {
	if len(peerName) == 0 {
		return
	}
	peerIBLT, err := iblt.Decode(peerName[len(peerName)-1])
	if err != nil {
		e.logger.Debug("malformed peer cState, dropping", zap.Error(err))
		return
	}

	diff, err := e.collection.IBLT.Subtract(peerIBLT)
	if err != nil {
		e.logger.Debug("cState geometry mismatch, dropping", zap.Error(err))
		return
	}
	have, need, ok := diff.Peel()
	if !ok {
		e.metrics.peelResidue.Inc()
	}
	if len(have) == 0 && len(need) == 0 && ok {
		// Peer's collection already matches ours exactly; nothing to send.
		return
	}

	// Delivery-callback reconciliation: a pending callback's publication is
	// considered arrived at the peer when the primary diff above, fully
	// peeled, does not list it as something the peer lacks (the have set).
	if ok && len(e.collection.PubCbs) > 0 {
		peerLacks := make(map[uint32]bool, len(have))
		for _, h := range have {
			peerLacks[h] = true
		}
		for h, cb := range e.collection.PubCbs {
			if !peerLacks[h] {
				cb(h, true)
				delete(e.collection.PubCbs, h)
			}
		}
	}

	now := e.clock.Now()
	haveSet := make(map[uint32]bool, len(have))
	for _, h := range have {
		haveSet[h] = true
	}

	var candidates []pub.Publication
	for h := range haveSet {
		entry, ok := e.collection.Get(h)
		if !ok || !entry.Active {
			continue
		}
		if !entry.Local && !e.orderPubCB(entry.Pub) {
			continue
		}
		if entry.SuppressUntil.After(now) {
			continue
		}
		candidates = append(candidates, entry.Pub)
	}

	if len(candidates) == 0 {
		if len(need) > 0 {
			e.face.UnsuppressCState(e.collectionName)
			e.sendCStateSoon(e.cfg.DistDelay)
		}
		return
	}

	sortNewestFirst(candidates)

	packed := make([]pub.Publication, 0, len(candidates))
	size := 0
	for i, p := range candidates {
		if i > 0 && size+p.Size() > e.cfg.MaxPubSize {
			break
		}
		packed = append(packed, p)
		size += p.Size()
	}

	content, err := encodeCAddContent(packed)
	if err != nil {
		e.logger.Error("encode cAdd content failed", zap.Error(err))
		return
	}
	cadd := pub.New(caddName(peerName), content)
	sig, err := e.packetSigner.Sign(cadd.WireBytes())
	if err != nil {
		e.logger.Error("sign cAdd failed", zap.Error(err))
		return
	}
	cadd.Seal(sig)

	for _, p := range packed {
		h := pub.Hash(p)
		if entry, ok := e.collection.Get(h); ok {
			entry.SuppressUntil = now.Add(e.cfg.DistDelay)
		}
	}

	if err := e.face.Send(cadd); err != nil {
		e.logger.Warn("send cAdd failed", zap.Error(err))
		return
	}
	e.metrics.cAddsSent.Inc()
	e.sendCStateSoon(2 * e.cfg.DistDelay)
}

// caddName derives a cAdd's name from the cState it answers: the cState's
// prefix with its last (IBLT) component replaced by a 32-bit murmurhash3 of
// the cState's full name (§6 "Wire formats").
func caddName(cstateName pub.Name) pub.Name {
	prefix := cstateName[:len(cstateName)-1]
	h := iblt.Hash(cstateName.Bytes())
	var b [4]byte
	b[0] = byte(h >> 24)
	b[1] = byte(h >> 16)
	b[2] = byte(h >> 8)
	b[3] = byte(h)
	return prefix.Append(b[:])
}

// sortNewestFirst orders candidates by descending name timestamp, breaking
// ties by ascending hash, the "newest-first, hash-tiebreak" packing order
// (§4.C "pack pubs").
func sortNewestFirst(candidates []pub.Publication) {
	sort := func(i, j int) bool {
		ti, tj := candidates[i].Name().Timestamp(), candidates[j].Name().Timestamp()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return pub.Hash(candidates[i]) < pub.Hash(candidates[j])
	}
	insertionSort(candidates, sort)
}

func insertionSort(s []pub.Publication, less func(i, j int) bool) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// -- cAdd side: receiving a peer's answer --------------------------------

func (e *Engine) onDataFromFace(data pub.Publication) {
	e.post(func() { e.onCAdd(data) })
}

// onCAdd processes an inbound cAdd (§4.C "on_cadd").
func (e *Engine) onCAdd(cadd pub.Publication) {
	if e.registering {
		return
	}
	if !e.packetSigner.Validate(cadd.WireBytes()) {
		e.logger.Debug("cAdd packet signature invalid, dropping")
		return
	}

	e.delivering = true
	initPublications := e.publications

	pubs, err := decodeCAddContent(cadd.Content())
	if err != nil {
		e.logger.Debug("malformed cAdd content, dropping", zap.Error(err))
		e.delivering = false
		return
	}

	now := e.clock.Now()
	addedAny := false
	for _, p := range pubs {
		// a nameless publication is malformed: it has no timestamp component.
		if len(p.Name()) == 0 || e.collection.Contains(p) {
			continue
		}
		lifetime := e.getLifetimeCB(p)
		if e.isExpiredCB(p, lifetime, now) || !e.pubValidator.Validate(p) {
			e.ignorePub(pub.Hash(p), lifetime)
			continue
		}

		h := e.collection.AddNet(p)
		if h == 0 {
			continue
		}
		if !addedAny {
			// first successful add in this cAdd: our outstanding cState
			// (if any) is now answered by this exchange.
			if e.scheduledCState != nil {
				e.scheduledCState.Cancel()
				e.scheduledCState = nil
			}
		}
		addedAny = true
		e.metrics.pubsReceived.Inc()
		e.metrics.pubsActive.Inc()
		metrics.ReportMessageLatency(e.collectionName.String(), now.Sub(p.Name().Timestamp()))
		e.scheduleNetLifecycle(h, p, lifetime)

		if cb, ok := e.subs.FindLongestMatch(p.Name()); ok {
			cb(p)
		}
	}

	e.delivering = false
	if !addedAny {
		return
	}

	if e.publications > initPublications {
		if peerName, ok := e.face.BestCState(e.collectionName); ok {
			e.handleCState(peerName)
			return
		}
	}
	e.sendCStateSoon(e.cfg.DistDelay)
}

// scheduleNetLifecycle arms a network-origin entry's deactivate/erase
// timers; unlike a local publish, there is no delivery callback to fail
// (§3 "Lifecycle").
func (e *Engine) scheduleNetLifecycle(h uint32, p pub.Publication, lifetime time.Duration) {
	skew := e.cfg.MaxClockSkew
	e.face.OneTime(lifetime+skew, func() {
		e.post(func() {
			e.collection.Deactivate(h)
			e.metrics.pubsActive.Dec()
		})
	})
	e.face.OneTime(lifetime+skew+e.cfg.ExpirationGB, func() {
		e.post(func() { e.collection.Erase(h) })
	})
}
