// Package models defines the wire event envelope and the payloads that
// travel between the gateway and connected clients.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// TimeLayout is the UTC timestamp format used on the wire and in message
// rows, millisecond precision so lexicographic order matches time order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Inbound event types.
const (
	EventRoomJoin       = "room:join"
	EventRoomLeave      = "room:leave"
	EventMessageSend    = "message:send"
	EventMessageEdit    = "message:edit"
	EventMessageDelete  = "message:delete"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventReactionToggle = "reaction:toggle"
	EventStatusUpdate   = "status:update"
)

// Outbound event types.
const (
	EventMessageNew      = "message:new"
	EventMessageEdited   = "message:edited"
	EventMessageDeleted  = "message:deleted"
	EventChannelActivity = "channel:activity"
	EventReactionUpdated = "reaction:updated"
	EventUserStatus      = "user:status"
	EventError           = "error"
)

// Event is the envelope carried on the wire in both directions.
type Event struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEvent wraps a payload in an envelope stamped with the current time.
func NewEvent(eventType string, data interface{}) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
}

// Encode serializes the envelope for delivery.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// InboundEvent is the partially-decoded form of a client frame; Data is
// decoded per event type by the dispatcher.
type InboundEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// UserSnapshot is a point-in-time copy of a user's profile fields, embedded
// in broadcast payloads. It is not a live reference; the fields are read at
// assembly time and may lag later profile changes.
type UserSnapshot struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
	Status      string `json:"status"`
	IsBot       bool   `json:"isBot"`
}

// ReactionCount aggregates one emoji on one message. Reacted is relative to
// the identity the summary was computed for.
type ReactionCount struct {
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	Reacted bool   `json:"reacted"`
}

// Message is the broadcast snapshot assembled for fan-out, distinct from
// the persisted row.
type Message struct {
	ID        string          `json:"id"`
	ChannelID string          `json:"channelId"`
	Author    UserSnapshot    `json:"author"`
	Content   string          `json:"content"`
	Timestamp string          `json:"timestamp"`
	Pinned    bool            `json:"pinned"`
	Edited    bool            `json:"edited"`
	ReplyTo   *string         `json:"replyTo,omitempty"`
	Reactions []ReactionCount `json:"reactions,omitempty"`
}

type MessageEditedData struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Edited  bool   `json:"edited"`
}

type MessageDeletedData struct {
	ID string `json:"id"`
}

type ChannelActivityData struct {
	ChannelID string `json:"channelId"`
	ServerID  string `json:"serverId"`
}

type TypingData struct {
	ChannelID   string `json:"channelId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

type ReactionUpdatedData struct {
	MessageID string          `json:"messageId"`
	Reactions []ReactionCount `json:"reactions"`
}

type UserStatusData struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// Inbound payload shapes.

type SendMessageData struct {
	ChannelID string  `json:"channelId"`
	Content   string  `json:"content"`
	ReplyTo   *string `json:"replyTo,omitempty"`
}

type EditMessageData struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type ToggleReactionData struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}
