package store

import "github.com/pollere/syncps/pub"

// DeliverCB receives a publication dispatched to a matching subscription.
// Like DeliveryCB, it runs on the engine's own run-loop goroutine and must
// not call back into a blocking Engine method synchronously.
type DeliverCB func(p pub.Publication)

type subscription struct {
	prefix pub.Prefix
	cb     DeliverCB
}

// Subscriptions is an ordered prefix table with longest-prefix-match
// dispatch (§4.D). Not safe for concurrent use; the engine's single
// event-loop goroutine owns it.
type Subscriptions struct {
	entries []subscription
}

// NewSubscriptions creates an empty subscription table.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{}
}

// Subscribe inserts or replaces the callback for prefix. existingMatches
// is the set of already-stored, active, network-origin publications whose
// name prefix matches; Subscribe delivers each of them synchronously to cb
// before returning, so subscription order never affects which already-held
// publications get delivered (§4.D).
func (s *Subscriptions) Subscribe(prefix pub.Prefix, cb DeliverCB, existingMatches []pub.Publication) {
	for i := range s.entries {
		if s.entries[i].prefix.Equal(prefix) {
			s.entries[i].cb = cb
			for _, p := range existingMatches {
				cb(p)
			}
			return
		}
	}
	s.entries = append(s.entries, subscription{prefix: prefix, cb: cb})
	for _, p := range existingMatches {
		cb(p)
	}
}

// Unsubscribe removes the entry for prefix, if any.
func (s *Subscriptions) Unsubscribe(prefix pub.Prefix) {
	for i := range s.entries {
		if s.entries[i].prefix.Equal(prefix) {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// FindLongestMatch returns the callback whose prefix is the longest prefix
// of name, and true; or nil, false if none matches.
func (s *Subscriptions) FindLongestMatch(name pub.Name) (DeliverCB, bool) {
	var best *subscription
	for i := range s.entries {
		e := &s.entries[i]
		if !e.prefix.IsPrefixOf(name) {
			continue
		}
		if best == nil || len(e.prefix) > len(best.prefix) {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	return best.cb, true
}
