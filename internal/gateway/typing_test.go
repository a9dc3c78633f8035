package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkcord/server/internal/models"
)

func newTestTyping(window time.Duration) (*Typing, *recorder) {
	rec := &recorder{}
	typ := NewTyping(rec)
	typ.window = window
	return typ, rec
}

func TestTypingStartEmitsOnceAndExcludesOrigin(t *testing.T) {
	typ, rec := newTestTyping(time.Minute)

	typ.Start("chan1", "alice", "Alice", "sess-a")
	typ.Start("chan1", "alice", "Alice", "sess-a") // refresh, no new emission

	starts := rec.byType(models.EventTypingStart)
	require.Len(t, starts, 1)
	assert.Equal(t, ChannelRoom("chan1"), starts[0].room)
	assert.Equal(t, SessionID("sess-a"), starts[0].exclude)

	data := starts[0].event.Data.(models.TypingData)
	assert.Equal(t, "alice", data.UserID)
	assert.Equal(t, "Alice", data.DisplayName)
	assert.True(t, typ.Active("chan1", "alice"))
}

func TestTypingExpiresExactlyOnce(t *testing.T) {
	typ, rec := newTestTyping(30 * time.Millisecond)

	typ.Start("chanY", "carol", "Carol", "sess-c")

	require.Eventually(t, func() bool {
		return !typ.Active("chanY", "carol")
	}, time.Second, 5*time.Millisecond)

	// Allow any stale timer to fire before counting.
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, rec.byType(models.EventTypingStop), 1)
}

func TestTypingRefreshExtendsDeadline(t *testing.T) {
	typ, rec := newTestTyping(60 * time.Millisecond)

	typ.Start("chan1", "alice", "Alice", "s1")
	time.Sleep(40 * time.Millisecond)
	typ.Start("chan1", "alice", "Alice", "s1")
	time.Sleep(40 * time.Millisecond)

	// Only 80ms since the first start, but the refresh moved the deadline.
	assert.True(t, typ.Active("chan1", "alice"))
	assert.Empty(t, rec.byType(models.EventTypingStop))

	require.Eventually(t, func() bool {
		return !typ.Active("chan1", "alice")
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, rec.byType(models.EventTypingStop), 1)
}

func TestTypingExplicitStopCancelsExpiry(t *testing.T) {
	typ, rec := newTestTyping(30 * time.Millisecond)

	typ.Start("chan1", "alice", "Alice", "s1")
	typ.Stop("chan1", "alice", "s1")

	require.Len(t, rec.byType(models.EventTypingStop), 1)

	// The cancelled timer must not produce a second stop.
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, rec.byType(models.EventTypingStop), 1)
}

func TestTypingStaleExpiryCannotKillRecreatedEntry(t *testing.T) {
	typ, rec := newTestTyping(time.Minute)
	key := typingKey{channelID: "chan1", identity: "alice"}

	typ.Start("chan1", "alice", "Alice", "s1")
	typ.mu.Lock()
	staleGen := typ.entries[key].gen
	typ.mu.Unlock()

	// The first entry's timer fires but loses the race: by the time it
	// runs, an explicit stop removed the entry and a new start recreated
	// it under the same key.
	typ.Stop("chan1", "alice", "s1")
	typ.Start("chan1", "alice", "Alice", "s1")
	typ.expire(key, staleGen)

	assert.True(t, typ.Active("chan1", "alice"), "recreated entry must survive a stale expiry")
	assert.Len(t, rec.byType(models.EventTypingStop), 1, "only the explicit stop may emit")

	// Same race through the silent clear path.
	typ.mu.Lock()
	staleGen = typ.entries[key].gen
	typ.mu.Unlock()
	typ.Clear("chan1", "alice")
	typ.Start("chan1", "alice", "Alice", "s1")
	typ.expire(key, staleGen)

	assert.True(t, typ.Active("chan1", "alice"))
	assert.Len(t, rec.byType(models.EventTypingStop), 1)
}

func TestTypingClearSuppressesEmissionAndLaterStopIsNoOp(t *testing.T) {
	typ, rec := newTestTyping(time.Minute)

	typ.Start("chan1", "alice", "Alice", "s1")
	typ.Clear("chan1", "alice")

	assert.False(t, typ.Active("chan1", "alice"))
	assert.Empty(t, rec.byType(models.EventTypingStop))

	// A stale explicit stop after the implicit clear stays silent.
	typ.Stop("chan1", "alice", "s1")
	assert.Empty(t, rec.byType(models.EventTypingStop))
}

func TestTypingEntriesAreKeyedByChannelAndIdentity(t *testing.T) {
	typ, rec := newTestTyping(time.Minute)

	typ.Start("chan1", "alice", "Alice", "s1")
	typ.Start("chan2", "alice", "Alice", "s1")
	typ.Start("chan1", "bob", "Bob", "s2")

	assert.Len(t, rec.byType(models.EventTypingStart), 3)

	typ.Stop("chan1", "alice", "s1")
	assert.False(t, typ.Active("chan1", "alice"))
	assert.True(t, typ.Active("chan2", "alice"))
	assert.True(t, typ.Active("chan1", "bob"))
}
