package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pollere/syncps/iblt"
	"github.com/pollere/syncps/pub"
	"github.com/pollere/syncps/store"
)

func newPub(name string, content string) *pub.WirePublication {
	return pub.New(pub.ParseName(name), []byte(content))
}

func TestAddLocalDuplicateIsNoop(t *testing.T) {
	c := store.New(iblt.DefaultCells, iblt.DefaultHashCount)
	p := newPub("/demo/a", "x")
	h1 := c.AddLocal(p)
	require.NotZero(t, h1)
	h2 := c.AddLocal(p)
	require.Zero(t, h2)
	require.Len(t, c.Pubs, 1)
}

func TestDeactivateErasesFromIBLT(t *testing.T) {
	c := store.New(iblt.DefaultCells, iblt.DefaultHashCount)
	p := newPub("/demo/a", "x")
	h := c.AddLocal(p)

	other := iblt.New(iblt.DefaultCells, iblt.DefaultHashCount)
	diff, err := c.IBLT.Subtract(other)
	require.NoError(t, err)
	have, _, ok := diff.Peel()
	require.True(t, ok)
	require.Contains(t, have, h)

	c.Deactivate(h)
	diff, err = c.IBLT.Subtract(other)
	require.NoError(t, err)
	have, _, ok = diff.Peel()
	require.True(t, ok)
	require.NotContains(t, have, h)

	e, ok := c.Get(h)
	require.True(t, ok)
	require.False(t, e.Active)
}

func TestEraseRemovesEntry(t *testing.T) {
	c := store.New(iblt.DefaultCells, iblt.DefaultHashCount)
	p := newPub("/demo/a", "x")
	h := c.AddLocal(p)
	c.Erase(h)
	_, ok := c.Get(h)
	require.False(t, ok)
}

func TestIgnorePubThenUnignore(t *testing.T) {
	c := store.New(iblt.DefaultCells, iblt.DefaultHashCount)
	h := pub.Hash(newPub("/demo/a", "x"))
	c.IgnorePub(h)
	require.False(t, c.IBLT.Empty())
	c.UnignorePub(h)
	require.True(t, c.IBLT.Empty())
}
