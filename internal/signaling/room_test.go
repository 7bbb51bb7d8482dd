package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryJoinAssignsHostByOrder(t *testing.T) {
	reg := NewRegistry()

	a, err := reg.Join("abcd1234", "a")
	require.NoError(t, err)
	assert.Equal(t, "ABCD1234", a.RoomID)
	assert.Equal(t, RoleHost, a.Role)
	assert.Equal(t, 1, a.Count)
	assert.Empty(t, a.Other)

	b, err := reg.Join(" ABCD1234 ", "b")
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, b.Role)
	assert.Equal(t, 2, b.Count)
	assert.Equal(t, "a", b.Other)
	assert.Equal(t, "a", b.Host)
}

func TestRegistryThirdJoinHasNoSideEffects(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Join("ROOM", "a")
	require.NoError(t, err)
	_, err = reg.Join("ROOM", "b")
	require.NoError(t, err)

	_, err = reg.Join("ROOM", "c")
	require.ErrorIs(t, err, ErrRoomFull)

	count, full := reg.Lookup("room")
	assert.Equal(t, 2, count)
	assert.True(t, full)
	peer, ok := reg.Peer("ROOM", "a")
	require.True(t, ok)
	assert.Equal(t, "b", peer)
	_, ok = reg.Peer("ROOM", "c")
	assert.False(t, ok)
}

func TestRegistryRejoinIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Join("ROOM", "a")
	require.NoError(t, err)
	again, err := reg.Join("ROOM", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Count)
	assert.Equal(t, RoleHost, again.Role)
}

func TestRegistryLeave(t *testing.T) {
	reg := NewRegistry()
	_, _ = reg.Join("ROOM", "a")
	_, _ = reg.Join("ROOM", "b")

	d, err := reg.Leave("ROOM", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, "b", d.Other)
	assert.False(t, d.Deleted)
	assert.Equal(t, 1, reg.Len())

	// the remaining guest becomes host of the room
	c, err := reg.Join("ROOM", "c")
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, c.Role)
	assert.Equal(t, "b", c.Host)

	_, _ = reg.Leave("ROOM", "c")
	d, err = reg.Leave("ROOM", "b")
	require.NoError(t, err)
	assert.True(t, d.Deleted)
	assert.Equal(t, 0, reg.Len())

	count, full := reg.Lookup("ROOM")
	assert.Zero(t, count)
	assert.False(t, full)

	_, err = reg.Leave("ROOM", "b")
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestRegistryRejectsEmptyID(t *testing.T) {
	_, err := NewRegistry().Join("   ", "a")
	assert.ErrorIs(t, err, ErrEmptyRoomID)
}

func TestGenerateRoomID(t *testing.T) {
	reg := NewRegistry()
	seen := map[string]bool{}
	for range 50 {
		id := GenerateRoomID(reg)
		require.Len(t, id, roomIDLength)
		assert.Regexp(t, `^[A-Z0-9]{8}$`, id)
		assert.Equal(t, id, NormalizeRoomID(id))
		_, err := reg.Join(id, "p-"+id)
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
