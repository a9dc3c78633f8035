package gateway

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkcord/server/internal/models"
)

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry()

	id := r.Register("alice", models.UserSnapshot{ID: "alice"}, &fakeConn{})
	require.NotEmpty(t, id)

	identity, ok := r.IdentityOf(id)
	require.True(t, ok)
	assert.Equal(t, "alice", identity)
	assert.Equal(t, []SessionID{id}, r.SessionsOf("alice"))

	identity, ok = r.Unregister(id)
	require.True(t, ok)
	assert.Equal(t, "alice", identity)
	assert.Empty(t, r.SessionsOf("alice"))

	// Unregistering again is a no-op.
	_, ok = r.Unregister(id)
	assert.False(t, ok)
}

func TestRegistryMultipleSessionsPerIdentity(t *testing.T) {
	r := NewRegistry()

	a := r.Register("alice", models.UserSnapshot{ID: "alice"}, &fakeConn{})
	b := r.Register("alice", models.UserSnapshot{ID: "alice"}, &fakeConn{})
	require.NotEqual(t, a, b)
	assert.Len(t, r.SessionsOf("alice"), 2)

	r.Unregister(a)
	assert.Equal(t, []SessionID{b}, r.SessionsOf("alice"))
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := fmt.Sprintf("user-%d", i%5)
			id := r.Register(identity, models.UserSnapshot{ID: identity}, &fakeConn{})
			r.SessionsOf(identity)
			r.Unregister(id)
			r.Unregister(id)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		assert.Empty(t, r.SessionsOf(fmt.Sprintf("user-%d", i)))
	}
}
