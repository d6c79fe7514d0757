package role

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTag(t *testing.T) {
	pending, target, ok := PendingTag(" Agent ")
	require.True(t, ok)
	assert.Equal(t, PendingAgent, pending)
	assert.Equal(t, Agent, target)

	pending, target, ok = PendingTag("seller")
	require.True(t, ok)
	assert.Equal(t, PendingSeller, pending)
	assert.Equal(t, Seller, target)

	for _, kw := range []string{"admin", "", "pendingagent", "Agents"} {
		_, _, ok := PendingTag(kw)
		assert.False(t, ok, "keyword %q should not be requestable", kw)
	}
}

func TestGrantable(t *testing.T) {
	target, pending, ok := Grantable("ADMIN")
	require.True(t, ok)
	assert.Equal(t, Admin, target)
	assert.Empty(t, pending)

	target, pending, ok = Grantable("agent")
	require.True(t, ok)
	assert.Equal(t, Agent, target)
	assert.Equal(t, PendingAgent, pending)

	_, _, ok = Grantable("user")
	assert.False(t, ok)
}

func TestSetMutations(t *testing.T) {
	s := Set{User}
	s = s.Add(Agent).Add(Agent)
	assert.Equal(t, Set{User, Agent}, s)

	s = s.Remove(Agent, User)
	assert.Equal(t, Set{User}, s, "base tag survives removal")

	assert.True(t, Set{Admin, Seller}.Intersects(Set{Seller}))
	assert.False(t, Set{Admin}.Intersects(Set{}))
}

func TestSetValidate(t *testing.T) {
	_, ok := Set{User, Admin}.Validate()
	assert.True(t, ok)

	bad, ok := Set{User, "owner"}.Validate()
	assert.False(t, ok)
	assert.Equal(t, Role("owner"), bad)
}

func TestActorIsAdmin(t *testing.T) {
	assert.True(t, Actor{Roles: Set{User, Admin}}.IsAdmin())
	assert.False(t, Actor{Roles: Set{User}}.IsAdmin())
}
