package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/darkcord/server/internal/models"
)

// Presence status values. Clients may also set explicit values such as
// "idle" or "dnd"; the aggregator passes them through.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// StatusStore is the slice of persistence the aggregator needs.
type StatusStore interface {
	SetUserStatus(ctx context.Context, userID, status string) error
}

type presenceRecord struct {
	status   string
	sessions int
	servers  []string
}

// Presence derives a single status value per identity from its possibly
// many concurrent sessions. Status is "offline" exactly when the live
// session count is zero.
type Presence struct {
	locks   *keyedMutex
	mu      sync.Mutex
	records map[string]*presenceRecord

	store StatusStore
	sink  sink
	log   *slog.Logger
}

func NewPresence(store StatusStore, s sink, log *slog.Logger) *Presence {
	return &Presence{
		locks:   newKeyedMutex(),
		records: make(map[string]*presenceRecord),
		store:   store,
		sink:    s,
		log:     log,
	}
}

// OnSessionAdded records a new live session. The first session for an
// identity transitions it to online and emits to its server rooms; further
// sessions only bump the count.
func (p *Presence) OnSessionAdded(ctx context.Context, identity string, servers []string) {
	p.locks.lock(identity)
	defer p.locks.unlock(identity)

	p.mu.Lock()
	rec, ok := p.records[identity]
	if !ok {
		rec = &presenceRecord{status: StatusOffline}
		p.records[identity] = rec
	}
	rec.sessions++
	rec.servers = servers
	first := rec.sessions == 1
	if first {
		rec.status = StatusOnline
	}
	p.mu.Unlock()

	if !first {
		return
	}
	p.persist(ctx, identity, StatusOnline)
	p.emit(identity, StatusOnline, servers)
}

// OnSessionRemoved records a closed session. The last session transitions
// the identity to offline with exactly one emission.
func (p *Presence) OnSessionRemoved(ctx context.Context, identity string) {
	p.locks.lock(identity)
	defer p.locks.unlock(identity)

	p.mu.Lock()
	rec, ok := p.records[identity]
	if !ok || rec.sessions == 0 {
		p.mu.Unlock()
		return
	}
	rec.sessions--
	last := rec.sessions == 0
	var servers []string
	if last {
		rec.status = StatusOffline
		servers = rec.servers
		delete(p.records, identity)
	}
	p.mu.Unlock()

	if !last {
		return
	}
	p.persist(ctx, identity, StatusOffline)
	p.emit(identity, StatusOffline, servers)
}

// SetStatus is an explicit override, valid only while the identity has at
// least one live session. It always emits, even when the value is
// unchanged: last write wins from the requester's perspective.
func (p *Presence) SetStatus(ctx context.Context, identity, status string) error {
	p.locks.lock(identity)
	defer p.locks.unlock(identity)

	p.mu.Lock()
	rec, ok := p.records[identity]
	if !ok || rec.sessions == 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: no live session", models.ErrValidation)
	}
	rec.status = status
	servers := rec.servers
	p.mu.Unlock()

	if err := p.store.SetUserStatus(ctx, identity, status); err != nil {
		return fmt.Errorf("persist status: %w", err)
	}
	p.emit(identity, status, servers)
	return nil
}

// Status reports the current derived status and live session count.
func (p *Presence) Status(identity string) (string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[identity]
	if !ok {
		return StatusOffline, 0
	}
	return rec.status, rec.sessions
}

func (p *Presence) persist(ctx context.Context, identity, status string) {
	if err := p.store.SetUserStatus(ctx, identity, status); err != nil {
		p.log.Warn("[PRESENCE] Failed to persist status", "user", identity, "status", status, "error", err)
	}
}

// emit fans the transition out to every server room the identity belongs
// to; presence is a server-wide concept, not a channel one.
func (p *Presence) emit(identity, status string, servers []string) {
	ev := models.NewEvent(models.EventUserStatus, models.UserStatusData{
		UserID: identity,
		Status: status,
	})
	for _, serverID := range servers {
		p.sink.broadcast(ServerRoom(serverID), ev, "")
	}
}
