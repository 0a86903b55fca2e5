// Package udpface is a Face implementation over a UDP multicast group: the
// real "shared broadcast medium" the spec's Face contract models, where
// face/memface is its in-process test double (§4.E).
package udpface

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	multiaddr "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pollere/syncps/face"
	"github.com/pollere/syncps/pub"
)

const (
	kindInterest byte = 0x01
	kindData     byte = 0x02

	maxDatagram = 64 * 1024
)

// Face is a face.Face backed by a UDP multicast socket: every Send/Express
// reaches every other process listening on the same group, mirroring the
// one-to-all medium the reconciliation protocol assumes.
type Face struct {
	id     uuid.UUID
	conn   *net.UDPConn
	group  *net.UDPAddr
	clock  clockwork.Clock
	logger *zap.Logger
	limit  *rate.Limiter

	mu      sync.Mutex
	rit     []ritEntry
	pending map[uint32]*pendingInterest

	bestCState map[string]pub.Name
	suppressed map[string]bool

	readDone chan struct{}
}

var _ face.Face = (*Face)(nil)

type ritEntry struct {
	name       pub.Name
	onInterest face.InterestCB
	onData     face.DataCB
}

type pendingInterest struct {
	name  pub.Name
	timer clockwork.Timer
}

// Option configures a Face at construction.
type Option func(*Face)

// WithLogger sets the face's logger. Default is zap.NewNop().
func WithLogger(l *zap.Logger) Option { return func(f *Face) { f.logger = l } }

// WithClock overrides the face's clock, for deterministic tests.
func WithClock(c clockwork.Clock) Option { return func(f *Face) { f.clock = c } }

// WithRateLimit caps outbound Express/Send calls per second, guarding the
// shared medium against convergence storms the way the original's face
// layer throttles outbound traffic.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(f *Face) { f.limit = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// New joins the UDP multicast group described by maddr (a multiaddr such as
// "/ip4/239.5.5.5/udp/7654"), starting a background reader goroutine that
// dispatches inbound datagrams to registered RIT entries.
func New(maddr multiaddr.Multiaddr, opts ...Option) (*Face, error) {
	network, addrStr, err := manetToUDP(maddr)
	if err != nil {
		return nil, err
	}
	group, err := net.ResolveUDPAddr(network, addrStr)
	if err != nil {
		return nil, fmt.Errorf("udpface: resolve %q: %w", addrStr, err)
	}
	conn, err := net.ListenMulticastUDP(network, nil, group)
	if err != nil {
		return nil, fmt.Errorf("udpface: join multicast group %s: %w", group, err)
	}
	conn.SetReadBuffer(maxDatagram)

	f := &Face{
		id:       uuid.New(),
		conn:     conn,
		group:    group,
		clock:    clockwork.NewRealClock(),
		logger:   zap.NewNop(),
		pending:  make(map[uint32]*pendingInterest),
		readDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	go f.readLoop()
	return f, nil
}

// manetToUDP extracts a "udp"/host:port dial string from a /ip4|ip6/.../udp/port multiaddr.
func manetToUDP(maddr multiaddr.Multiaddr) (network, addr string, err error) {
	var host, port string
	isV6 := false
	multiaddr.ForEach(maddr, func(c multiaddr.Component) bool {
		switch c.Protocol().Code {
		case multiaddr.P_IP4:
			host = c.Value()
		case multiaddr.P_IP6:
			host, isV6 = c.Value(), true
		case multiaddr.P_UDP:
			port = c.Value()
		}
		return true
	})
	if host == "" || port == "" {
		return "", "", fmt.Errorf("udpface: multiaddr %s has no ip/udp component", maddr)
	}
	network = "udp4"
	if isV6 {
		network = "udp6"
	}
	return network, net.JoinHostPort(host, port), nil
}

func (f *Face) wait(ctx context.Context) error {
	if f.limit == nil {
		return nil
	}
	return f.limit.Wait(ctx)
}

// Express broadcasts an Interest datagram and arms a local timer for
// interest.Lifetime; onTimeout fires unless Data matching the interest's
// prefix cancels the pending entry first. Close does not cancel pending
// timers.
func (f *Face) Express(ctx context.Context, interest face.Interest, onTimeout func()) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	datagram, err := encodeInterest(interest)
	if err != nil {
		return err
	}

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

	_, err = f.conn.WriteToUDP(datagram, f.group)
	return err
}

// AddToRIT registers name's interest/data callbacks and reports readiness
// immediately: a multicast socket has no separate registration handshake.
func (f *Face) AddToRIT(name pub.Name, onInterest face.InterestCB, onData face.DataCB, ready face.ReadyCB) {
	f.mu.Lock()
	f.rit = append(f.rit, ritEntry{name: name, onInterest: onInterest, onData: onData})
	f.mu.Unlock()
	ready(nil)
}

// Send broadcasts a signed cAdd datagram.
func (f *Face) Send(data pub.Publication) error {
	if err := f.wait(context.Background()); err != nil {
		return err
	}
	datagram, err := encodeData(data)
	if err != nil {
		return err
	}
	_, err = f.conn.WriteToUDP(datagram, f.group)
	return err
}

func (f *Face) BestCState(collection pub.Name) (pub.Name, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bestCState == nil {
		return nil, false
	}
	n, ok := f.bestCState[collection.String()]
	return n, ok
}

// recordPeerCState remembers interest as the most recently observed peer
// cState for its collection, keyed by the name's prefix (every component
// but the trailing IBLT blob), so BestCState can answer an already-pending
// peer cState without waiting for another round. Caller holds f.mu.
func (f *Face) recordPeerCState(cstate pub.Name) {
	if len(cstate) == 0 {
		return
	}
	if f.bestCState == nil {
		f.bestCState = make(map[string]pub.Name)
	}
	collection := cstate[:len(cstate)-1]
	f.bestCState[collection.String()] = cstate
}

func (f *Face) UnsuppressCState(prefix pub.Prefix) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.suppressed == nil {
		f.suppressed = make(map[string]bool)
	}
	f.suppressed[prefix.String()] = false
}

func (f *Face) Schedule(d time.Duration, cb func()) face.TimerHandle {
	return timerHandle{f.clock.AfterFunc(d, cb)}
}

func (f *Face) OneTime(d time.Duration, cb func()) {
	f.clock.AfterFunc(d, cb)
}

// Close leaves the multicast group and stops the reader goroutine.
func (f *Face) Close() error {
	err := f.conn.Close()
	<-f.readDone
	return err
}

type timerHandle struct{ t clockwork.Timer }

func (h timerHandle) Cancel() { h.t.Stop() }

// readLoop dispatches inbound datagrams to matching RIT entries and
// cancels any pending Interest a cAdd answers, mirroring memface's
// in-process delivery so the wire and in-process test doubles share the
// exact same matching rule (§4.E).
func (f *Face) readLoop() {
	defer close(f.readDone)
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		f.handleDatagram(append([]byte(nil), buf[:n]...))
	}
}

func (f *Face) handleDatagram(datagram []byte) {
	if len(datagram) == 0 {
		return
	}
	switch datagram[0] {
	case kindInterest:
		interest, err := decodeInterest(datagram[1:])
		if err != nil {
			f.logger.Debug("udpface: malformed interest datagram", zap.Error(err))
			return
		}
		f.mu.Lock()
		var cbs []face.InterestCB
		for _, e := range f.rit {
			if e.name.IsPrefixOf(interest.Name) && e.onInterest != nil {
				cbs = append(cbs, e.onInterest)
			}
		}
		f.recordPeerCState(interest.Name)
		f.mu.Unlock()
		for _, cb := range cbs {
			cb(interest)
		}
	case kindData:
		data, err := decodeData(datagram[1:])
		if err != nil {
			f.logger.Debug("udpface: malformed data datagram", zap.Error(err))
			return
		}
		f.mu.Lock()
		var cbs []face.DataCB
		for _, e := range f.rit {
			if e.name.IsPrefixOf(data.Name()) && e.onData != nil {
				cbs = append(cbs, e.onData)
			}
		}
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
	default:
		f.logger.Debug("udpface: unknown datagram kind", zap.Uint8("kind", datagram[0]))
	}
}

// encodeInterest/decodeInterest/encodeData/decodeData frame a cState or
// cAdd for the wire: a one-byte kind tag, then for Interest a big-endian
// nonce and lifetime (milliseconds) followed by the name bytes, for Data
// the publication's own wire bytes (already self-describing via go-scale).
func encodeInterest(i face.Interest) ([]byte, error) {
	nameBytes := i.Name.Bytes()
	out := make([]byte, 1+4+8+len(nameBytes))
	out[0] = kindInterest
	binary.BigEndian.PutUint32(out[1:5], i.Nonce)
	binary.BigEndian.PutUint64(out[5:13], uint64(i.Lifetime.Milliseconds()))
	copy(out[13:], nameBytes)
	return out, nil
}

func decodeInterest(body []byte) (face.Interest, error) {
	if len(body) < 12 {
		return face.Interest{}, fmt.Errorf("udpface: short interest datagram")
	}
	nonce := binary.BigEndian.Uint32(body[0:4])
	lifetimeMS := binary.BigEndian.Uint64(body[4:12])
	name, err := decodeFlattenedName(body[12:])
	if err != nil {
		return face.Interest{}, err
	}
	return face.Interest{
		Name:     name,
		Nonce:    nonce,
		Lifetime: time.Duration(lifetimeMS) * time.Millisecond,
	}, nil
}

func encodeData(p pub.Publication) ([]byte, error) {
	wire := p.WireBytes()
	out := make([]byte, 1+len(wire))
	out[0] = kindData
	copy(out[1:], wire)
	return out, nil
}

func decodeData(body []byte) (pub.Publication, error) {
	return pub.Parse(body)
}

// decodeFlattenedName reverses pub.Name.Bytes' length-prefixed flattening.
func decodeFlattenedName(data []byte) (pub.Name, error) {
	var n pub.Name
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("udpface: truncated name component length")
		}
		l := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < l {
			return nil, fmt.Errorf("udpface: truncated name component")
		}
		n = append(n, append([]byte(nil), data[:l]...))
		data = data[l:]
	}
	return n, nil
}
