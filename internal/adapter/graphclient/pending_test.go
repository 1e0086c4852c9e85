package graphclient

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphlink/internal/domain"
)

func TestPendingTableTakeOnce(t *testing.T) {
	tbl := newPendingTable()
	p, err := tbl.add("1", TypeQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.len())

	assert.Same(t, p, tbl.take("1"))
	assert.Nil(t, tbl.take("1"))
	assert.Zero(t, tbl.len())
}

func TestPendingTableFailAll(t *testing.T) {
	tbl := newPendingTable()
	p1, _ := tbl.add("1", TypeQuery, nil)
	p2, _ := tbl.add("2", TypeExec, nil)

	assert.Equal(t, 2, tbl.failAll(domain.ErrOffline))
	for _, p := range []*pendingRequest{p1, p2} {
		s := <-p.ch
		assert.True(t, errors.Is(s.err, domain.ErrOffline))
	}

	_, err := tbl.add("3", TypeQuery, nil)
	assert.True(t, errors.Is(err, domain.ErrOffline))
	assert.Zero(t, tbl.failAll(domain.ErrTransport), "a failed table stays empty")
}

func TestRegistryReserveActivate(t *testing.T) {
	r := newRegistry()
	sub := &Subscription{id: "s1"}
	require.NoError(t, r.reserve(sub))

	assert.Nil(t, r.lookup("s1"), "reserved ids receive no pushes")
	r.activate("s1")
	assert.Same(t, sub, r.lookup("s1"))

	r.release("s1")
	assert.Same(t, sub, r.lookup("s1"), "release keeps active entries")

	assert.Same(t, sub, r.remove("s1"))
	assert.Nil(t, r.remove("s1"))
}
