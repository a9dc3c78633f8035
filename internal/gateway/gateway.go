// Package gateway is the real-time core: it tracks live sessions, room
// membership, presence, and typing state, and runs the persist-then-notify
// broadcast pipeline for message mutations.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/darkcord/server/internal/models"
)

// sink is the internal fan-out contract shared by the components. An empty
// exclude id means deliver to every member.
type sink interface {
	broadcast(room Room, ev models.Event, exclude SessionID)
}

// Publisher mirrors local broadcasts to other gateway instances. Optional;
// a single-process deployment runs without one.
type Publisher interface {
	Publish(room Room, payload []byte)
}

// Gateway is the connection-facing dispatcher. It owns the registries and
// wires an authenticated connection into them on connect, routes client
// events while the connection is active, and tears everything down on
// disconnect.
type Gateway struct {
	store    Store
	registry *Registry
	rooms    *Rooms
	presence *Presence
	typing   *Typing
	pipeline *Pipeline

	publisher Publisher
	log       *slog.Logger
}

func New(store Store, log *slog.Logger) *Gateway {
	g := &Gateway{
		store:    store,
		registry: NewRegistry(),
		rooms:    NewRooms(),
		log:      log,
	}
	g.presence = NewPresence(store, g, log)
	g.typing = NewTyping(g)
	g.pipeline = NewPipeline(store, g, g.typing)
	return g
}

// SetPublisher attaches a cross-process event bridge. Must be called
// before the first connection.
func (g *Gateway) SetPublisher(p Publisher) {
	g.publisher = p
}

// Connect registers an authenticated connection: it enters the session
// registry, joins the server rooms implied by the identity's persisted
// memberships, and feeds the presence aggregator.
func (g *Gateway) Connect(ctx context.Context, identity string, out Outbound) (SessionID, error) {
	user, err := g.store.UserSnapshot(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	servers, err := g.store.ServerIDs(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("load memberships: %w", err)
	}

	id := g.registry.Register(identity, user, out)
	for _, serverID := range servers {
		g.rooms.Join(id, ServerRoom(serverID))
	}
	g.presence.OnSessionAdded(ctx, identity, servers)

	g.log.Info("[GATEWAY] Session connected", "user", identity, "session", id)
	return id, nil
}

// Disconnect tears a session down: leave every joined room, unregister,
// and feed the presence aggregator. Idempotent; the explicit-disconnect
// and heartbeat-timeout paths may both land here.
func (g *Gateway) Disconnect(ctx context.Context, id SessionID) {
	identity, ok := g.registry.Unregister(id)
	if !ok {
		return
	}
	g.rooms.LeaveAll(id)
	g.presence.OnSessionRemoved(ctx, identity)

	g.log.Info("[GATEWAY] Session disconnected", "user", identity, "session", id)
}

// JoinChannel subscribes a session to a channel room after verifying the
// identity belongs to the channel's server.
func (g *Gateway) JoinChannel(ctx context.Context, id SessionID, channelID string) error {
	sess, ok := g.registry.lookup(id)
	if !ok {
		return fmt.Errorf("%w: unknown session", models.ErrUnauthorized)
	}

	serverID, err := g.store.ChannelServer(ctx, channelID)
	if err != nil {
		return fmt.Errorf("%w: channel", models.ErrUnauthorized)
	}
	member, err := g.store.IsServerMember(ctx, serverID, sess.identity)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return fmt.Errorf("%w: not a member", models.ErrUnauthorized)
	}

	g.rooms.Join(id, ChannelRoom(channelID))
	return nil
}

// LeaveChannel unsubscribes a session from a channel room.
func (g *Gateway) LeaveChannel(id SessionID, channelID string) {
	g.rooms.Leave(id, ChannelRoom(channelID))
}

// TypingStart routes a typing signal for the session's identity.
func (g *Gateway) TypingStart(id SessionID, channelID string) {
	sess, ok := g.registry.lookup(id)
	if !ok {
		return
	}
	g.typing.Start(channelID, sess.identity, sess.user.DisplayName, id)
}

// TypingStop routes an explicit stop signal.
func (g *Gateway) TypingStop(id SessionID, channelID string) {
	sess, ok := g.registry.lookup(id)
	if !ok {
		return
	}
	g.typing.Stop(channelID, sess.identity, id)
}

// SendMessage runs the pipeline Send for the session's identity.
func (g *Gateway) SendMessage(ctx context.Context, id SessionID, channelID, content string, replyTo *string) error {
	sess, ok := g.registry.lookup(id)
	if !ok {
		return fmt.Errorf("%w: unknown session", models.ErrUnauthorized)
	}
	return g.pipeline.Send(ctx, id, sess.identity, channelID, content, replyTo)
}

// EditMessage runs the pipeline Edit.
func (g *Gateway) EditMessage(ctx context.Context, id SessionID, messageID, content string) error {
	sess, ok := g.registry.lookup(id)
	if !ok {
		return fmt.Errorf("%w: unknown session", models.ErrUnauthorized)
	}
	return g.pipeline.Edit(ctx, sess.identity, messageID, content)
}

// DeleteMessage runs the pipeline Delete.
func (g *Gateway) DeleteMessage(ctx context.Context, id SessionID, messageID string) error {
	sess, ok := g.registry.lookup(id)
	if !ok {
		return fmt.Errorf("%w: unknown session", models.ErrUnauthorized)
	}
	return g.pipeline.Delete(ctx, sess.identity, messageID)
}

// ToggleReaction runs the pipeline reaction flip.
func (g *Gateway) ToggleReaction(ctx context.Context, id SessionID, messageID, emoji string) error {
	sess, ok := g.registry.lookup(id)
	if !ok {
		return fmt.Errorf("%w: unknown session", models.ErrUnauthorized)
	}
	return g.pipeline.ToggleReaction(ctx, sess.identity, messageID, emoji)
}

// SetStatus routes an explicit presence override.
func (g *Gateway) SetStatus(ctx context.Context, id SessionID, status string) error {
	sess, ok := g.registry.lookup(id)
	if !ok {
		return fmt.Errorf("%w: unknown session", models.ErrUnauthorized)
	}
	return g.presence.SetStatus(ctx, sess.identity, status)
}

// broadcast marshals the event once and delivers it to every current
// member of the room except the excluded session. Delivery to each session
// is a non-blocking buffered handoff; a session that cannot keep up is
// disconnected rather than allowed to stall the others.
func (g *Gateway) broadcast(room Room, ev models.Event, exclude SessionID) {
	payload, err := ev.Encode()
	if err != nil {
		g.log.Error("[GATEWAY] Failed to encode event", "type", ev.Type, "error", err)
		return
	}

	g.deliver(room, payload, exclude)

	if g.publisher != nil {
		g.publisher.Publish(room, payload)
	}
}

// DeliverLocal fans a payload received from another gateway instance out
// to local room members. It never republishes.
func (g *Gateway) DeliverLocal(room Room, payload []byte) {
	g.deliver(room, payload, "")
}

func (g *Gateway) deliver(room Room, payload []byte, exclude SessionID) {
	for _, id := range g.rooms.MembersOf(room) {
		if id == exclude {
			continue
		}
		sess, ok := g.registry.lookup(id)
		if !ok {
			continue
		}
		if !sess.out.Send(payload) {
			g.log.Warn("[GATEWAY] Session send buffer full, disconnecting", "user", sess.identity, "session", id)
			// Tear down off the broadcast path: the caller may hold a
			// per-key lock the teardown also needs.
			go func(id SessionID, out Outbound) {
				g.Disconnect(context.Background(), id)
				out.Close()
			}(id, sess.out)
		}
	}
}
