package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollere/syncps/pub"
	"github.com/pollere/syncps/store"
)

func TestLongestPrefixMatch(t *testing.T) {
	s := store.NewSubscriptions()
	var got1, got2 []string
	s.Subscribe(pub.ParseName("/a"), func(p pub.Publication) {
		got1 = append(got1, p.Name().String())
	}, nil)
	s.Subscribe(pub.ParseName("/a/b"), func(p pub.Publication) {
		got2 = append(got2, p.Name().String())
	}, nil)

	cb, ok := s.FindLongestMatch(pub.ParseName("/a/b/c"))
	require.True(t, ok)
	cb(pub.New(pub.ParseName("/a/b/c"), nil))
	require.Equal(t, []string{"/a/b/c"}, got2)
	require.Empty(t, got1)
}

func TestSubscribeDeliversExistingMatches(t *testing.T) {
	s := store.NewSubscriptions()
	existing := []pub.Publication{
		pub.New(pub.ParseName("/x/1"), nil),
		pub.New(pub.ParseName("/x/2"), nil),
	}
	var delivered []string
	s.Subscribe(pub.ParseName("/x"), func(p pub.Publication) {
		delivered = append(delivered, p.Name().String())
	}, existing)
	require.Equal(t, []string{"/x/1", "/x/2"}, delivered)
}

func TestResubscribeReplacesCallback(t *testing.T) {
	s := store.NewSubscriptions()
	calls := 0
	s.Subscribe(pub.ParseName("/a"), func(pub.Publication) { calls++ }, nil)
	s.Subscribe(pub.ParseName("/a"), func(pub.Publication) { calls += 10 }, nil)

	cb, ok := s.FindLongestMatch(pub.ParseName("/a/b"))
	require.True(t, ok)
	cb(pub.New(pub.ParseName("/a/b"), nil))
	require.Equal(t, 10, calls)
}

func TestUnsubscribeRemoves(t *testing.T) {
	s := store.NewSubscriptions()
	s.Subscribe(pub.ParseName("/a"), func(pub.Publication) {}, nil)
	s.Unsubscribe(pub.ParseName("/a"))
	_, ok := s.FindLongestMatch(pub.ParseName("/a/b"))
	require.False(t, ok)
}
