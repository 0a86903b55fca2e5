package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pollere/syncps/codec"
	"github.com/pollere/syncps/engine"
	"github.com/pollere/syncps/face"
	"github.com/pollere/syncps/face/memface"
	"github.com/pollere/syncps/iblt"
	"github.com/pollere/syncps/pub"
	"github.com/pollere/syncps/sigmgr"
)

func testConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.MaxPubLifetime = 2 * time.Second
	cfg.MaxClockSkew = time.Second
	cfg.DistDelay = 50 * time.Millisecond
	cfg.CStateLifetime = 200 * time.Millisecond
	cfg.JitterMin = time.Millisecond
	cfg.JitterMax = 2 * time.Millisecond
	return cfg
}

// newTestEngine starts an Engine on face f, sharing clock, and blocks until
// its RIT registration has completed so the caller can publish/subscribe
// immediately.
func newTestEngine(t *testing.T, f *memface.MemFace, clock clockwork.Clock, collection pub.Name) *engine.Engine {
	t.Helper()
	e := engine.New(f, collection, sigmgr.NullSigner{}, sigmgr.NullValidator{},
		engine.WithClock(clock),
		engine.WithConfig(testConfig()),
	)
	e.Start()
	t.Cleanup(e.Stop)
	settle(e)
	return e
}

// settle is a barrier: it gives the timer callbacks a prior clock.Advance
// fired a moment to post their work, then blocks until every action
// already queued on e's run loop has finished executing.
func settle(e *engine.Engine) {
	// The fake clock runs each AfterFunc callback on a goroutine of its
	// own, so Advance can return before those callbacks have posted to the
	// run loop; yield briefly so they can.
	time.Sleep(10 * time.Millisecond)
	// Unsubscribe from a prefix nothing ever subscribed to: a harmless
	// no-op that still round-trips through the run loop's action channel,
	// so by the time it returns every job queued ahead of it has already
	// run.
	e.Unsubscribe(pub.ParseName("/__settle__"))
}

func TestPublishDuplicateReturnsZero(t *testing.T) {
	medium := memface.NewMedium()
	clock := clockwork.NewFakeClock()
	f := medium.NewFace(clock)
	e := newTestEngine(t, f, clock, pub.ParseName("/test/coll"))

	name := pub.ParseName("/test/coll/obj").AppendTimestamp(clock.Now())
	p := pub.New(name, []byte("hello"))

	h1 := e.Publish(p)
	require.NotZero(t, h1)

	h2 := e.Publish(p)
	assert.Zero(t, h2)
}

func TestSoloPublishDeliveryCallbackFiresFalseOnExpiry(t *testing.T) {
	medium := memface.NewMedium()
	clock := clockwork.NewFakeClock()
	f := medium.NewFace(clock)
	e := newTestEngine(t, f, clock, pub.ParseName("/test/coll"))

	name := pub.ParseName("/test/coll/obj").AppendTimestamp(clock.Now())
	p := pub.New(name, []byte("hello"))

	var arrived bool
	var fired bool
	var mu sync.Mutex
	h := e.PublishWithCallback(p, func(_ uint32, a bool) {
		mu.Lock()
		fired, arrived = true, a
		mu.Unlock()
	})
	require.NotZero(t, h)

	// No peer ever appears, so the publication's lifetime elapses before
	// any reconciliation can observe it elsewhere.
	clock.Advance(testConfig().MaxPubLifetime + time.Millisecond)
	settle(e)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, fired)
	assert.False(t, arrived)
}

func TestTwoPeerConvergenceDeliversToSubscriber(t *testing.T) {
	medium := memface.NewMedium()
	clock := clockwork.NewFakeClock()
	fA := medium.NewFace(clock)
	fB := medium.NewFace(clock)

	collection := pub.ParseName("/test/coll")
	a := newTestEngine(t, fA, clock, collection)
	b := newTestEngine(t, fB, clock, collection)

	var received []pub.Publication
	var mu sync.Mutex
	b.Subscribe(pub.ParseName("/test/coll"), func(p pub.Publication) {
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
	})
	settle(a)
	settle(b)

	name := pub.ParseName("/test/coll/obj").AppendTimestamp(clock.Now())
	p := pub.New(name, []byte("payload"))
	h := a.Publish(p)
	require.NotZero(t, h)

	// Drive the cState/cAdd exchange: both sides' steady-state cStates are
	// already outstanding from Start; advancing past one cStateLifetime
	// guarantees at least one full request/respond round trip on the
	// shared medium.
	for i := 0; i < 5; i++ {
		clock.Advance(testConfig().CStateLifetime)
		settle(a)
		settle(b)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, []byte("payload"), received[0].Content())
}

func TestSubscribeSkipsAlreadyHeldLocalPublication(t *testing.T) {
	medium := memface.NewMedium()
	clock := clockwork.NewFakeClock()
	fA := medium.NewFace(clock)

	collection := pub.ParseName("/test/coll")
	a := newTestEngine(t, fA, clock, collection)

	name := pub.ParseName("/test/coll/held").AppendTimestamp(clock.Now())
	p := pub.New(name, []byte("x"))
	h := a.Publish(p)
	require.NotZero(t, h)

	var delivered int
	a.Subscribe(pub.ParseName("/test/coll"), func(pub.Publication) { delivered++ })
	// a's own local publication is never delivered back to its own
	// subscription (only network-origin entries match §4.D's
	// already-held-matches rule), so nothing should have been delivered.
	assert.Zero(t, delivered)
}

// TestSuppressionWindowBlocksImmediateResend drives a raw peer face (not
// bound to an Engine) that repeatedly expresses the same empty-collection
// cState against a single publishing engine, directly exercising §4.C
// step 5's suppression window: a just-answered entry is withheld from a
// second requester until its SuppressUntil deadline passes (scenario 5).
func TestSuppressionWindowBlocksImmediateResend(t *testing.T) {
	medium := memface.NewMedium()
	clock := clockwork.NewFakeClock()
	fA := medium.NewFace(clock)
	peer := medium.NewFace(clock)

	cfg := testConfig()
	collection := pub.ParseName("/test/coll")
	e := engine.New(fA, collection, sigmgr.NullSigner{}, sigmgr.NullValidator{},
		engine.WithClock(clock), engine.WithConfig(cfg))
	e.Start()
	t.Cleanup(e.Stop)
	settle(e)

	name := collection.Append([]byte("obj")).AppendTimestamp(clock.Now())
	h := e.Publish(pub.New(name, []byte("payload")))
	require.NotZero(t, h)
	settle(e)

	var mu sync.Mutex
	var received int
	peer.AddToRIT(collection, nil, func(pub.Publication) {
		mu.Lock()
		received++
		mu.Unlock()
	}, func(error) {})

	emptyIBLT := iblt.New(cfg.IBLTCells, cfg.IBLTHashCount)
	cstateName := collection.Append(emptyIBLT.Encode())

	expressEmptyCState := func(nonce uint32) {
		err := peer.Express(context.Background(), face.Interest{
			Name:     cstateName,
			Nonce:    nonce,
			Lifetime: time.Second,
		}, func() {})
		require.NoError(t, err)
		settle(e)
	}

	// First request: the entry isn't suppressed yet, so A answers.
	expressEmptyCState(1)
	mu.Lock()
	assert.Equal(t, 1, received)
	mu.Unlock()

	// A second request arriving within the suppression window (no clock
	// advance) must not trigger a second answer for the same entry.
	expressEmptyCState(2)
	mu.Lock()
	assert.Equal(t, 1, received)
	mu.Unlock()

	// Once the suppression window has elapsed, the entry is eligible again.
	clock.Advance(cfg.DistDelay + 10*time.Millisecond)
	settle(e)
	expressEmptyCState(3)
	mu.Lock()
	assert.Equal(t, 2, received)
	mu.Unlock()
}

// TestIgnoreExpiredPublicationNeverDelivered exercises §3's "Ignored" path
// (scenario 6): a cAdd offering a publication that is already expired by
// the time it arrives is neither added to the collection nor delivered to
// subscribers, unlike a fresh publication delivered the same way.
func TestIgnoreExpiredPublicationNeverDelivered(t *testing.T) {
	medium := memface.NewMedium()
	clock := clockwork.NewFakeClock()
	fB := medium.NewFace(clock)
	peer := medium.NewFace(clock)

	cfg := testConfig()
	collection := pub.ParseName("/test/coll")
	b := engine.New(fB, collection, sigmgr.NullSigner{}, sigmgr.NullValidator{},
		engine.WithClock(clock), engine.WithConfig(cfg))
	b.Start()
	t.Cleanup(b.Stop)
	settle(b)

	var mu sync.Mutex
	var received []pub.Publication
	b.Subscribe(collection, func(p pub.Publication) {
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
	})
	settle(b)

	sendCAdd := func(p *pub.WirePublication) {
		content, err := codec.EncodeSlice[pub.WirePublication, *pub.WirePublication]([]pub.WirePublication{*p})
		require.NoError(t, err)
		cadd := pub.New(collection.Append([]byte("cadd")), content)
		require.NoError(t, peer.Send(cadd))
		settle(b)
	}

	expiredTimestamp := clock.Now().Add(-(cfg.MaxPubLifetime + cfg.MaxClockSkew + time.Second))
	expiredName := collection.Append([]byte("stale")).AppendTimestamp(expiredTimestamp)
	sendCAdd(pub.New(expiredName, []byte("too old")))

	mu.Lock()
	assert.Empty(t, received)
	mu.Unlock()

	freshName := collection.Append([]byte("fresh")).AppendTimestamp(clock.Now())
	sendCAdd(pub.New(freshName, []byte("still good")))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, []byte("still good"), received[0].Content())
}

func TestEngineRunStopsOnContextCancel(t *testing.T) {
	medium := memface.NewMedium()
	clock := clockwork.NewFakeClock()
	f := medium.NewFace(clock)
	e := engine.New(f, pub.ParseName("/test/coll"), sigmgr.NullSigner{}, sigmgr.NullValidator{},
		engine.WithClock(clock), engine.WithConfig(testConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
