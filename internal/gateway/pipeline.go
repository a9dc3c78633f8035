package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/darkcord/server/internal/models"
)

// Store is the persistence collaborator consumed by the gateway. Every
// broadcast the pipeline emits corresponds to a row these methods have
// already durably applied.
type Store interface {
	StatusStore
	UserSnapshot(ctx context.Context, userID string) (models.UserSnapshot, error)
	ServerIDs(ctx context.Context, userID string) ([]string, error)
	ChannelServer(ctx context.Context, channelID string) (string, error)
	IsServerMember(ctx context.Context, serverID, userID string) (bool, error)
	CreateMessage(ctx context.Context, channelID, authorID, content string, replyTo *string) (string, time.Time, error)
	UpdateMessage(ctx context.Context, messageID, authorID, content string) error
	DeleteMessage(ctx context.Context, messageID, authorID string) error
	MessageChannel(ctx context.Context, messageID string) (channelID, authorID string, err error)
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) error
	ReactionSummary(ctx context.Context, messageID, viewerID string) ([]models.ReactionCount, error)
}

// Pipeline orchestrates persist-then-notify for message mutations. Each
// operation takes a per-channel lock around the persistence call and the
// broadcast, so all subscribers of a room observe events in the order
// persistence accepted them.
type Pipeline struct {
	store  Store
	sink   sink
	typing *Typing
	locks  *keyedMutex
}

func NewPipeline(store Store, s sink, typing *Typing) *Pipeline {
	return &Pipeline{
		store:  store,
		sink:   s,
		typing: typing,
		locks:  newKeyedMutex(),
	}
}

// Send persists a new message and fans out message:new to the channel room
// plus a low-detail channel:activity signal to the parent server room. The
// author's typing entry for the channel is cleared; the message broadcast
// itself tells observers the composing ended.
func (p *Pipeline) Send(ctx context.Context, origin SessionID, identity, channelID, content string, replyTo *string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("%w: empty message content", models.ErrValidation)
	}

	serverID, err := p.store.ChannelServer(ctx, channelID)
	if err != nil {
		return err
	}

	p.locks.lock(channelID)
	defer p.locks.unlock(channelID)

	id, createdAt, err := p.store.CreateMessage(ctx, channelID, identity, content, replyTo)
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}

	author, err := p.store.UserSnapshot(ctx, identity)
	if err != nil {
		return fmt.Errorf("load author snapshot: %w", err)
	}

	msg := models.Message{
		ID:        id,
		ChannelID: channelID,
		Author:    author,
		Content:   content,
		Timestamp: createdAt.Format(models.TimeLayout),
		ReplyTo:   replyTo,
	}
	p.sink.broadcast(ChannelRoom(channelID), models.NewEvent(models.EventMessageNew, msg), "")
	p.sink.broadcast(ServerRoom(serverID), models.NewEvent(models.EventChannelActivity, models.ChannelActivityData{
		ChannelID: channelID,
		ServerID:  serverID,
	}), origin)

	p.typing.Clear(channelID, identity)
	return nil
}

// Edit rewrites a message. Only the author may edit; a missing row and a
// mismatched author take the same denial path so nothing is confirmed
// about which it was.
func (p *Pipeline) Edit(ctx context.Context, identity, messageID, content string) error {
	channelID, authorID, err := p.store.MessageChannel(ctx, messageID)
	if err != nil {
		return err
	}
	if authorID != identity {
		return models.ErrNotFound
	}

	p.locks.lock(channelID)
	defer p.locks.unlock(channelID)

	if err := p.store.UpdateMessage(ctx, messageID, identity, content); err != nil {
		return err
	}

	p.sink.broadcast(ChannelRoom(channelID), models.NewEvent(models.EventMessageEdited, models.MessageEditedData{
		ID:      messageID,
		Content: content,
		Edited:  true,
	}), "")
	return nil
}

// Delete removes a message under the same authorization rule as Edit.
func (p *Pipeline) Delete(ctx context.Context, identity, messageID string) error {
	channelID, authorID, err := p.store.MessageChannel(ctx, messageID)
	if err != nil {
		return err
	}
	if authorID != identity {
		return models.ErrNotFound
	}

	p.locks.lock(channelID)
	defer p.locks.unlock(channelID)

	if err := p.store.DeleteMessage(ctx, messageID, identity); err != nil {
		return err
	}

	p.sink.broadcast(ChannelRoom(channelID), models.NewEvent(models.EventMessageDeleted, models.MessageDeletedData{
		ID: messageID,
	}), "")
	return nil
}

// ToggleReaction flips one (message, identity, emoji) reaction and emits
// the recomputed summary. The Reacted flag in the broadcast is relative to
// the acting identity; other recipients receive it as-is rather than
// recomputed per viewer.
func (p *Pipeline) ToggleReaction(ctx context.Context, identity, messageID, emoji string) error {
	channelID, _, err := p.store.MessageChannel(ctx, messageID)
	if err != nil {
		return err
	}

	p.locks.lock(channelID)
	defer p.locks.unlock(channelID)

	if err := p.store.ToggleReaction(ctx, messageID, identity, emoji); err != nil {
		return fmt.Errorf("persist reaction: %w", err)
	}

	summary, err := p.store.ReactionSummary(ctx, messageID, identity)
	if err != nil {
		return fmt.Errorf("load reaction summary: %w", err)
	}

	p.sink.broadcast(ChannelRoom(channelID), models.NewEvent(models.EventReactionUpdated, models.ReactionUpdatedData{
		MessageID: messageID,
		Reactions: summary,
	}), "")
	return nil
}
