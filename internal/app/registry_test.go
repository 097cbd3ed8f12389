package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplechat/ripple/internal/core"
	"github.com/ripplechat/ripple/internal/domain"
)

func TestRegistryIdentify(t *testing.T) {
	reg := NewRegistry()
	conn := &fakeConn{}
	reg.Bind("c1", conn, nil)

	uid, ok := reg.UserOf("c1")
	require.True(t, ok)
	assert.Equal(t, domain.UnknownUser, uid)

	first, err := reg.Identify("c1", "alice")
	require.NoError(t, err)
	assert.True(t, first)

	// idempotent
	first, err = reg.Identify("c1", "alice")
	require.NoError(t, err)
	assert.False(t, first)

	// second tab of the same user is not "first"
	reg.Bind("c2", &fakeConn{}, nil)
	first, err = reg.Identify("c2", "alice")
	require.NoError(t, err)
	assert.False(t, first)

	assert.Len(t, reg.ConnsOfUser("alice"), 2)
}

func TestRegistryIdentifyRejectsEmpty(t *testing.T) {
	reg := NewRegistry()
	reg.Bind("c1", &fakeConn{}, nil)

	_, err := reg.Identify("c1", "")
	assert.ErrorIs(t, err, ErrEmptyIdentity)
	_, err = reg.Identify("c1", domain.UnknownUser)
	assert.ErrorIs(t, err, ErrEmptyIdentity)
	_, err = reg.Identify("nope", "alice")
	assert.ErrorIs(t, err, ErrUnknownConn)
}

func TestRegistryIdentitySetOnce(t *testing.T) {
	reg := NewRegistry()
	reg.Bind("c1", &fakeConn{}, nil)

	_, err := reg.Identify("c1", "alice")
	require.NoError(t, err)

	// rebinding under a new identity is rejected; the old identity keeps its
	// connection so presence never tracks a user with no live conns
	_, err = reg.Identify("c1", "bob")
	assert.ErrorIs(t, err, ErrIdentityBound)
	assert.Len(t, reg.ConnsOfUser("alice"), 1)
	assert.Empty(t, reg.ConnsOfUser("bob"))

	uid, last := reg.Disconnect("c1")
	assert.Equal(t, domain.UserID("alice"), uid)
	assert.True(t, last)
}

func TestRegistryJoinLeave(t *testing.T) {
	reg := NewRegistry()
	reg.Bind("c1", &fakeConn{}, nil)
	reg.Bind("c2", &fakeConn{}, nil)

	require.True(t, reg.Join("c1", "room_a"))
	require.True(t, reg.Join("c2", "room_a"))
	require.True(t, reg.Join("c1", "room_b"))

	assert.Len(t, reg.MembersOfRoom("room_a"), 2)
	assert.Len(t, reg.MembersOfRoom("room_b"), 1)

	reg.Leave("c1", "room_a")
	assert.Len(t, reg.MembersOfRoom("room_a"), 1)
	assert.Len(t, reg.MembersOfRoom("room_b"), 1)

	assert.False(t, reg.Join("ghost", "room_a"))
}

func TestRegistryDisconnectCleansEverything(t *testing.T) {
	reg := NewRegistry()
	reg.Bind("c1", &fakeConn{}, nil)
	reg.Identify("c1", "alice")
	reg.Join("c1", "room_a")
	reg.Join("c1", "room_b")

	uid, last := reg.Disconnect("c1")
	assert.Equal(t, domain.UserID("alice"), uid)
	assert.True(t, last)

	assert.Empty(t, reg.MembersOfRoom("room_a"))
	assert.Empty(t, reg.MembersOfRoom("room_b"))
	assert.Empty(t, reg.ConnsOfUser("alice"))
	_, ok := reg.UserOf("c1")
	assert.False(t, ok)
}

func TestRegistryDisconnectMultiTab(t *testing.T) {
	reg := NewRegistry()
	reg.Bind("c1", &fakeConn{}, nil)
	reg.Bind("c2", &fakeConn{}, nil)
	reg.Identify("c1", "alice")
	reg.Identify("c2", "alice")

	_, last := reg.Disconnect("c1")
	assert.False(t, last)
	_, last = reg.Disconnect("c2")
	assert.True(t, last)
}

func TestRegistryDisconnectUnidentified(t *testing.T) {
	reg := NewRegistry()
	reg.Bind("c1", &fakeConn{}, nil)

	uid, last := reg.Disconnect("c1")
	assert.Equal(t, domain.UnknownUser, uid)
	assert.False(t, last)
}

func TestRegistryCancel(t *testing.T) {
	reg := NewRegistry()
	fired := false
	reg.Bind("c1", &fakeConn{}, func() { fired = true })

	require.True(t, reg.Cancel("c1"))
	assert.True(t, fired)
	assert.False(t, reg.Cancel("ghost"))
}

func TestRegistryAllConns(t *testing.T) {
	reg := NewRegistry()
	for _, cid := range []core.ConnID{"a", "b", "c"} {
		reg.Bind(cid, &fakeConn{}, nil)
	}
	assert.Len(t, reg.AllConns(), 3)
}
