package engine

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pollere/syncps/pub"
)

// Option configures an Engine at construction time, mirroring the
// teacher's MultiPeerReconcilerOpt pattern (sync2/multipeer).
type Option func(*Engine)

// WithLogger sets the engine's logger. Default is zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the engine's clock, for deterministic tests.
// Default is clockwork.NewRealClock().
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithConfig overrides the engine's tunables. Default is DefaultConfig().
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// GetLifetimeCB computes a publication's lifetime, default constant
// cfg.MaxPubLifetime (§6 "get_lifetime_cb").
type GetLifetimeCB func(p pub.Publication) time.Duration

// IsExpiredCB reports whether a publication, by its name's timestamp, is
// already past its lifetime at the current time (§6 "is_expired_cb").
type IsExpiredCB func(p pub.Publication, lifetime time.Duration, now time.Time) bool

// OrderPubCB decides, in addition to the default "only forward our own
// publications" rule, whether a given remote-origin publication may also
// be forwarded to other peers (§9 Open Questions #1). The default always
// returns false, preserving spec.md's stated default behavior.
type OrderPubCB func(p pub.Publication) bool

// WithGetLifetimeCB overrides the per-publication lifetime hook.
func WithGetLifetimeCB(cb GetLifetimeCB) Option {
	return func(e *Engine) { e.getLifetimeCB = cb }
}

// WithIsExpiredCB overrides the expiry test hook.
func WithIsExpiredCB(cb IsExpiredCB) Option {
	return func(e *Engine) { e.isExpiredCB = cb }
}

// WithOrderPubCB overrides the remote-origin forwarding hook.
func WithOrderPubCB(cb OrderPubCB) Option {
	return func(e *Engine) { e.orderPubCB = cb }
}

// WithAutoStart starts the engine's run loop immediately on New rather
// than waiting for an explicit Start call (§6 "auto_start").
func WithAutoStart(auto bool) Option {
	return func(e *Engine) { e.autoStart = auto }
}
