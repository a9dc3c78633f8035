package gateway

import (
	"sync"
	"time"

	"github.com/darkcord/server/internal/models"
)

// TypingWindow is how long a typing entry survives without a refresh.
const TypingWindow = 5 * time.Second

type typingKey struct {
	channelID string
	identity  string
}

type typingEntry struct {
	gen         uint64
	timer       *time.Timer
	origin      SessionID
	displayName string
}

// Typing tracks ephemeral per-(channel, identity) composing state with
// timeout-driven expiry. Entries are keyed by identity, not session: a
// second session of the same identity keeps the state alive.
type Typing struct {
	mu      sync.Mutex
	gen     uint64
	entries map[typingKey]*typingEntry
	window  time.Duration
	sink    sink
}

func NewTyping(s sink) *Typing {
	return &Typing{
		entries: make(map[typingKey]*typingEntry),
		window:  TypingWindow,
		sink:    s,
	}
}

// Start begins or refreshes a typing entry. A fresh entry emits
// typing:start to the channel room, excluding the originating session; a
// refresh only extends the deadline, observers already know.
func (t *Typing) Start(channelID, identity, displayName string, origin SessionID) {
	key := typingKey{channelID: channelID, identity: identity}

	t.mu.Lock()
	entry, exists := t.entries[key]
	if exists {
		entry.timer.Stop()
	} else {
		entry = &typingEntry{origin: origin, displayName: displayName}
		t.entries[key] = entry
	}
	// Generations come from a single coordinator-wide counter and are
	// never reused, so an expiry that already fired and is waiting on
	// the lock can never match a refreshed or recreated entry.
	t.gen++
	entry.gen = t.gen
	gen := entry.gen
	entry.timer = time.AfterFunc(t.window, func() { t.expire(key, gen) })
	t.mu.Unlock()

	if exists {
		return
	}
	t.sink.broadcast(ChannelRoom(channelID), models.NewEvent(models.EventTypingStart, models.TypingData{
		ChannelID:   channelID,
		UserID:      identity,
		DisplayName: displayName,
	}), origin)
}

// Stop clears an entry on an explicit stop signal and emits typing:stop.
// Stopping an absent entry is a no-op with no emission, so a stale stop
// after an implicit clear never double-emits.
func (t *Typing) Stop(channelID, identity string, origin SessionID) {
	if !t.remove(channelID, identity) {
		return
	}
	t.sink.broadcast(ChannelRoom(channelID), models.NewEvent(models.EventTypingStop, models.TypingData{
		ChannelID: channelID,
		UserID:    identity,
	}), origin)
}

// Clear removes an entry without emitting; used when the identity's
// message is accepted into the channel and the message:new broadcast
// already tells observers the composing ended.
func (t *Typing) Clear(channelID, identity string) {
	t.remove(channelID, identity)
}

// Active reports whether a typing entry currently exists.
func (t *Typing) Active(channelID, identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{channelID: channelID, identity: identity}]
	return ok
}

func (t *Typing) remove(channelID, identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{channelID: channelID, identity: identity}
	entry, ok := t.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.entries, key)
	return true
}

func (t *Typing) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok || entry.gen != gen {
		// The entry moved on (refresh, stop, or clear) before the timer
		// fired; this expiry is stale.
		t.mu.Unlock()
		return
	}
	origin := entry.origin
	delete(t.entries, key)
	t.mu.Unlock()

	t.sink.broadcast(ChannelRoom(key.channelID), models.NewEvent(models.EventTypingStop, models.TypingData{
		ChannelID: key.channelID,
		UserID:    key.identity,
	}), origin)
}
