package gateway

import (
	"sync"

	"github.com/google/uuid"

	"github.com/darkcord/server/internal/models"
)

// SessionID identifies one live connection.
type SessionID string

// Outbound is the delivery half of a connection. Send must not block: it
// reports false when the session cannot accept the payload (buffer full or
// connection closing), and the caller decides what to do with the session.
type Outbound interface {
	Send(payload []byte) bool
	Close()
}

type session struct {
	id       SessionID
	identity string
	user     models.UserSnapshot
	out      Outbound
}

// Registry tracks live sessions and the authenticated identity behind
// each. One identity may own any number of concurrent sessions.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[SessionID]*session
	byIdentity map[string]map[SessionID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[SessionID]*session),
		byIdentity: make(map[string]map[SessionID]struct{}),
	}
}

// Register records a new session for an authenticated identity. It never
// fails; authentication happened upstream.
func (r *Registry) Register(identity string, user models.UserSnapshot, out Outbound) SessionID {
	id := SessionID(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[id] = &session{id: id, identity: identity, user: user, out: out}
	if r.byIdentity[identity] == nil {
		r.byIdentity[identity] = make(map[SessionID]struct{})
	}
	r.byIdentity[identity][id] = struct{}{}
	return id
}

// Unregister removes a session and returns its identity. Unknown ids are a
// no-op; a connection may be torn down more than once during abrupt
// network failure.
func (r *Registry) Unregister(id SessionID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	delete(r.sessions, id)
	delete(r.byIdentity[sess.identity], id)
	if len(r.byIdentity[sess.identity]) == 0 {
		delete(r.byIdentity, sess.identity)
	}
	return sess.identity, true
}

// SessionsOf lists the live sessions owned by an identity.
func (r *Registry) SessionsOf(identity string) []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]SessionID, 0, len(r.byIdentity[identity]))
	for id := range r.byIdentity[identity] {
		ids = append(ids, id)
	}
	return ids
}

// IdentityOf returns the identity behind a session.
func (r *Registry) IdentityOf(id SessionID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	return sess.identity, true
}

func (r *Registry) lookup(id SessionID) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	return sess, ok
}
