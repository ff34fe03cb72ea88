package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetIdentity(t *testing.T) {
	r := NewRegistry()
	alice := ConnID("alice-conn")
	bob := ConnID("bob-conn")
	r.Attach(alice)
	r.Attach(bob)

	changed, err := r.SetIdentity(alice, "alice")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = r.SetIdentity(alice, "ALICE")
	require.NoError(t, err)
	assert.False(t, changed, "same nick case-insensitively is idempotent")

	_, err = r.SetIdentity(bob, "alice")
	assert.ErrorIs(t, err, ErrInUse)

	changed, err = r.SetIdentity(bob, "bob")
	require.NoError(t, err)
	assert.True(t, changed)

	id, ok := r.NickToConn("Bob")
	require.True(t, ok)
	assert.Equal(t, bob, id)
}

func TestSetIdentityRename(t *testing.T) {
	r := NewRegistry()
	c := ConnID("c1")
	r.Attach(c)
	_, err := r.SetIdentity(c, "alice")
	require.NoError(t, err)

	_, err = r.SetIdentity(c, "alicia")
	require.NoError(t, err)

	_, stillHeld := r.NickToConn("alice")
	assert.False(t, stillHeld, "old nick is freed on rename")

	id, ok := r.NickToConn("alicia")
	require.True(t, ok)
	assert.Equal(t, c, id)
}

func TestJoinLeaveSymmetry(t *testing.T) {
	r := NewRegistry()
	c := ConnID("c1")
	r.Attach(c)
	_, _ = r.SetIdentity(c, "alice")

	joined, created := r.Join(c, "#chan", "#chan")
	assert.True(t, joined)
	assert.True(t, created)

	joined, created = r.Join(c, "#chan", "#chan")
	assert.False(t, joined, "re-joining is a no-op")
	assert.False(t, created)

	err := r.Leave(c, "#chan")
	require.NoError(t, err)

	_, ok := r.RoomMembers("#chan")
	assert.False(t, ok, "room is destroyed once empty")

	err = r.Leave(c, "#chan")
	assert.ErrorIs(t, err, ErrNotOnChannel)
}

func TestAudienceDeduplicatesAcrossSharedRooms(t *testing.T) {
	r := NewRegistry()
	alice, bob := ConnID("a"), ConnID("b")
	r.Attach(alice)
	r.Attach(bob)
	_, _ = r.SetIdentity(alice, "alice")
	_, _ = r.SetIdentity(bob, "bob")

	r.Join(alice, "#one", "#one")
	r.Join(bob, "#one", "#one")
	r.Join(alice, "#two", "#two")
	r.Join(bob, "#two", "#two")

	audience := r.Audience(alice)
	require.Len(t, audience, 1, "bob counted once despite sharing two rooms")
	assert.Equal(t, bob, audience[0])
}

func TestDetachCapturesAudienceAndCleansUpRooms(t *testing.T) {
	r := NewRegistry()
	alice, bob, carol := ConnID("a"), ConnID("b"), ConnID("c")
	r.Attach(alice)
	r.Attach(bob)
	r.Attach(carol)
	_, _ = r.SetIdentity(alice, "alice")
	_, _ = r.SetIdentity(bob, "bob")
	_, _ = r.SetIdentity(carol, "carol")

	r.Join(alice, "#chan", "#chan")
	r.Join(bob, "#chan", "#chan")
	r.Join(carol, "#chan", "#chan")
	r.Join(bob, "#other", "#other")
	r.Join(carol, "#other", "#other")

	audience := r.Detach(bob)
	assert.ElementsMatch(t, []ConnID{alice, carol}, audience)

	_, ok := r.Get(bob)
	assert.False(t, ok)

	_, ok = r.NickToConn("bob")
	assert.False(t, ok, "bob's nick is freed")

	members, ok := r.RoomMembers("#other")
	require.True(t, ok, "#other survives because carol remains")
	assert.ElementsMatch(t, []ConnID{carol}, members)

	members, ok = r.RoomMembers("#chan")
	require.True(t, ok)
	assert.ElementsMatch(t, []ConnID{alice, carol}, members)

	newBob := ConnID("new-bob-conn")
	r.Attach(newBob)
	changed, err := r.SetIdentity(newBob, "bob")
	require.NoError(t, err, "the freed nick can be claimed by a new connection")
	assert.True(t, changed)
}

func TestMemberNicksSortedIsAscending(t *testing.T) {
	r := NewRegistry()
	names := []string{"carol", "Alice", "bob"}
	for i, n := range names {
		id := ConnID(n)
		r.Attach(id)
		_, _ = r.SetIdentity(id, n)
		r.Join(id, "#chan", "#chan")
		_ = i
	}

	nicks, ok := r.MemberNicksSorted("#chan")
	require.True(t, ok)
	assert.Equal(t, []string{"Alice", "bob", "carol"}, nicks)
}
