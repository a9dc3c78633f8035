package gateway

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkcord/server/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorded is one captured broadcast.
type recorded struct {
	room    Room
	event   models.Event
	exclude SessionID
}

// recorder is a sink that captures broadcasts for assertions.
type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) broadcast(room Room, ev models.Event, exclude SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{room: room, event: ev, exclude: exclude})
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recorded, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) byType(eventType string) []recorded {
	var out []recorded
	for _, rec := range r.all() {
		if rec.event.Type == eventType {
			out = append(out, rec)
		}
	}
	return out
}

type storedMessage struct {
	channelID string
	authorID  string
	content   string
	edited    bool
}

// fakeStore is an in-memory persistence collaborator.
type fakeStore struct {
	mu        sync.Mutex
	users     map[string]models.UserSnapshot
	servers   map[string][]string          // userID -> server ids
	members   map[string]map[string]bool   // serverID -> userID
	channels  map[string]string            // channelID -> serverID
	messages  map[string]*storedMessage
	reactions map[string]map[string]map[string]bool // messageID -> emoji -> userID
	statuses  map[string]string

	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]models.UserSnapshot),
		servers:   make(map[string][]string),
		members:   make(map[string]map[string]bool),
		channels:  make(map[string]string),
		messages:  make(map[string]*storedMessage),
		reactions: make(map[string]map[string]map[string]bool),
		statuses:  make(map[string]string),
	}
}

// addUser wires a user into a server and returns nothing; tests set up
// channels separately via addChannel.
func (f *fakeStore) addUser(id, displayName string, serverIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = models.UserSnapshot{ID: id, Username: id, DisplayName: displayName, Status: "offline"}
	f.servers[id] = serverIDs
	for _, s := range serverIDs {
		if f.members[s] == nil {
			f.members[s] = make(map[string]bool)
		}
		f.members[s][id] = true
	}
}

func (f *fakeStore) addChannel(channelID, serverID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[channelID] = serverID
}

func (f *fakeStore) UserSnapshot(_ context.Context, userID string) (models.UserSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return models.UserSnapshot{}, models.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) ServerIDs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers[userID], nil
}

func (f *fakeStore) ChannelServer(_ context.Context, channelID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.channels[channelID]
	if !ok {
		return "", models.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) IsServerMember(_ context.Context, serverID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[serverID][userID], nil
}

func (f *fakeStore) SetUserStatus(_ context.Context, userID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[userID] = status
	return nil
}

func (f *fakeStore) status(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[userID]
}

func (f *fakeStore) CreateMessage(_ context.Context, channelID, authorID, content string, _ *string) (string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", time.Time{}, f.createErr
	}
	id := uuid.NewString()
	f.messages[id] = &storedMessage{channelID: channelID, authorID: authorID, content: content}
	return id, time.Now().UTC(), nil
}

func (f *fakeStore) UpdateMessage(_ context.Context, messageID, authorID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok || m.authorID != authorID {
		return models.ErrNotFound
	}
	m.content = content
	m.edited = true
	return nil
}

func (f *fakeStore) DeleteMessage(_ context.Context, messageID, authorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok || m.authorID != authorID {
		return models.ErrNotFound
	}
	delete(f.messages, messageID)
	return nil
}

func (f *fakeStore) MessageChannel(_ context.Context, messageID string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return "", "", models.ErrNotFound
	}
	return m.channelID, m.authorID, nil
}

func (f *fakeStore) ToggleReaction(_ context.Context, messageID, userID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactions[messageID] == nil {
		f.reactions[messageID] = make(map[string]map[string]bool)
	}
	if f.reactions[messageID][emoji] == nil {
		f.reactions[messageID][emoji] = make(map[string]bool)
	}
	if f.reactions[messageID][emoji][userID] {
		delete(f.reactions[messageID][emoji], userID)
	} else {
		f.reactions[messageID][emoji][userID] = true
	}
	return nil
}

func (f *fakeStore) ReactionSummary(_ context.Context, messageID, viewerID string) ([]models.ReactionCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	summary := []models.ReactionCount{}
	for emoji, users := range f.reactions[messageID] {
		if len(users) == 0 {
			continue
		}
		summary = append(summary, models.ReactionCount{
			Emoji:   emoji,
			Count:   len(users),
			Reacted: users[viewerID],
		})
	}
	return summary, nil
}

// fakeConn is an Outbound that captures delivered payloads.
type fakeConn struct {
	mu       sync.Mutex
	payloads [][]byte
	full     bool
	closed   bool
}

func (f *fakeConn) Send(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full || f.closed {
		return false
	}
	f.payloads = append(f.payloads, payload)
	return true
}

func (f *fakeConn) setFull(full bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full = full
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) received(t *testing.T) []models.Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]models.Event, 0, len(f.payloads))
	for _, p := range f.payloads {
		var ev models.Event
		require.NoError(t, json.Unmarshal(p, &ev))
		events = append(events, ev)
	}
	return events
}

func (f *fakeConn) ofType(t *testing.T, eventType string) []models.Event {
	t.Helper()
	var out []models.Event
	for _, ev := range f.received(t) {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func TestConnectJoinsServerRoomsAndSetsOnline(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice", "Alice", "srv1", "srv2")
	gw := New(fs, testLogger())

	conn := &fakeConn{}
	sid, err := gw.Connect(context.Background(), "alice", conn)
	require.NoError(t, err)

	assert.Contains(t, gw.rooms.MembersOf(ServerRoom("srv1")), sid)
	assert.Contains(t, gw.rooms.MembersOf(ServerRoom("srv2")), sid)

	status, count := gw.presence.Status("alice")
	assert.Equal(t, StatusOnline, status)
	assert.Equal(t, 1, count)
	assert.Equal(t, "online", fs.status("alice"))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice", "Alice", "srv1")
	gw := New(fs, testLogger())

	sid, err := gw.Connect(context.Background(), "alice", &fakeConn{})
	require.NoError(t, err)

	gw.Disconnect(context.Background(), sid)
	gw.Disconnect(context.Background(), sid)

	assert.Empty(t, gw.rooms.MembersOf(ServerRoom("srv1")))
	status, count := gw.presence.Status("alice")
	assert.Equal(t, StatusOffline, status)
	assert.Equal(t, 0, count)
}

func TestTwoSessionsOneOfflineEmission(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice", "Alice", "srv1")
	fs.addUser("bob", "Bob", "srv1")
	gw := New(fs, testLogger())

	observer := &fakeConn{}
	_, err := gw.Connect(context.Background(), "bob", observer)
	require.NoError(t, err)

	a1, err := gw.Connect(context.Background(), "alice", &fakeConn{})
	require.NoError(t, err)
	a2, err := gw.Connect(context.Background(), "alice", &fakeConn{})
	require.NoError(t, err)

	gw.Disconnect(context.Background(), a1)
	status, _ := gw.presence.Status("alice")
	assert.Equal(t, StatusOnline, status)

	gw.Disconnect(context.Background(), a2)
	status, _ = gw.presence.Status("alice")
	assert.Equal(t, StatusOffline, status)
	assert.Equal(t, "offline", fs.status("alice"))

	var aliceOffline int
	for _, ev := range observer.ofType(t, models.EventUserStatus) {
		data := ev.Data.(map[string]interface{})
		if data["userId"] == "alice" && data["status"] == "offline" {
			aliceOffline++
		}
	}
	assert.Equal(t, 1, aliceOffline, "exactly one offline emission expected")
}

func TestJoinChannelRequiresMembership(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("alice", "Alice", "srv1")
	fs.addUser("mallory", "Mallory", "srv2")
	fs.addChannel("chan1", "srv1")
	gw := New(fs, testLogger())

	aliceSID, err := gw.Connect(context.Background(), "alice", &fakeConn{})
	require.NoError(t, err)
	mallorySID, err := gw.Connect(context.Background(), "mallory", &fakeConn{})
	require.NoError(t, err)

	require.NoError(t, gw.JoinChannel(context.Background(), aliceSID, "chan1"))

	err = gw.JoinChannel(context.Background(), mallorySID, "chan1")
	require.ErrorIs(t, err, models.ErrUnauthorized)
	assert.NotContains(t, gw.rooms.MembersOf(ChannelRoom("chan1")), mallorySID)

	// Unknown channels take the same denial path.
	err = gw.JoinChannel(context.Background(), aliceSID, "missing")
	require.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestSendThenEditScenario(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("bob", "Bob", "srv1")
	fs.addChannel("chanX", "srv1")
	gw := New(fs, testLogger())

	conn := &fakeConn{}
	sid, err := gw.Connect(context.Background(), "bob", conn)
	require.NoError(t, err)
	require.NoError(t, gw.JoinChannel(context.Background(), sid, "chanX"))

	require.NoError(t, gw.SendMessage(context.Background(), sid, "chanX", "hello", nil))

	created := conn.ofType(t, models.EventMessageNew)
	require.Len(t, created, 1)
	msg := created[0].Data.(map[string]interface{})
	messageID := msg["id"].(string)
	assert.Equal(t, "hello", msg["content"])

	require.NoError(t, gw.EditMessage(context.Background(), sid, messageID, "hello world"))

	edited := conn.ofType(t, models.EventMessageEdited)
	require.Len(t, edited, 1)
	data := edited[0].Data.(map[string]interface{})
	assert.Equal(t, messageID, data["id"])
	assert.Equal(t, "hello world", data["content"])
	assert.Equal(t, true, data["edited"])
}

func TestSlowSessionIsDisconnectedNotOthers(t *testing.T) {
	fs := newFakeStore()
	fs.addUser("bob", "Bob", "srv1")
	fs.addUser("carol", "Carol", "srv1")
	fs.addChannel("chanX", "srv1")
	gw := New(fs, testLogger())

	healthy := &fakeConn{}
	bobSID, err := gw.Connect(context.Background(), "bob", healthy)
	require.NoError(t, err)
	require.NoError(t, gw.JoinChannel(context.Background(), bobSID, "chanX"))

	slow := &fakeConn{}
	carolSID, err := gw.Connect(context.Background(), "carol", slow)
	require.NoError(t, err)
	require.NoError(t, gw.JoinChannel(context.Background(), carolSID, "chanX"))
	slow.setFull(true)

	require.NoError(t, gw.SendMessage(context.Background(), bobSID, "chanX", "hi", nil))

	require.Len(t, healthy.ofType(t, models.EventMessageNew), 1)

	// Teardown of the slow session happens off the broadcast path.
	require.Eventually(t, func() bool {
		_, ok := gw.registry.IdentityOf(carolSID)
		return !ok
	}, time.Second, 10*time.Millisecond)
}
