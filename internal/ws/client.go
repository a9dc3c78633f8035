package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/darkcord/server/internal/gateway"
	"github.com/darkcord/server/internal/models"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max message size
	maxMessageSize = 512 * 1024 // 512 KB
)

// Client is one websocket connection. It implements gateway.Outbound: the
// gateway hands payloads to the buffered send queue and the write pump
// drains it.
type Client struct {
	gw      *gateway.Gateway
	conn    *websocket.Conn
	send    chan []byte
	session gateway.SessionID
	userID  string
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Send enqueues a payload without blocking. False means the buffer is full
// or the client is closing; the gateway disconnects such sessions.
func (c *Client) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close shuts the send queue down, which ends the write pump.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump pumps inbound frames from the websocket to the gateway. It owns
// teardown: whether the peer disconnected cleanly or the pong deadline
// lapsed, the session leaves through the same idempotent path.
func (c *Client) ReadPump() {
	defer func() {
		c.gw.Disconnect(context.Background(), c.session)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("[WS] Unexpected close", "user", c.userID, "error", err)
			}
			break
		}
		c.handleEvent(message)
	}
}

// WritePump pumps payloads from the send queue to the websocket and keeps
// the connection alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Error("[WS] Failed to write message", "user", c.userID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Error("[WS] Failed to send ping", "user", c.userID, "error", err)
				return
			}
		}
	}
}

func (c *Client) handleEvent(message []byte) {
	var ev models.InboundEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		c.log.Error("[WS] Error unmarshaling event", "user", c.userID, "error", err)
		return
	}

	ctx := context.Background()

	switch ev.Type {
	case models.EventRoomJoin:
		var channelID string
		if err := json.Unmarshal(ev.Data, &channelID); err != nil {
			return
		}
		c.report(c.gw.JoinChannel(ctx, c.session, channelID))

	case models.EventRoomLeave:
		var channelID string
		if err := json.Unmarshal(ev.Data, &channelID); err != nil {
			return
		}
		c.gw.LeaveChannel(c.session, channelID)

	case models.EventMessageSend:
		var data models.SendMessageData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return
		}
		c.report(c.gw.SendMessage(ctx, c.session, data.ChannelID, data.Content, data.ReplyTo))

	case models.EventMessageEdit:
		var data models.EditMessageData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return
		}
		c.report(c.gw.EditMessage(ctx, c.session, data.MessageID, data.Content))

	case models.EventMessageDelete:
		var messageID string
		if err := json.Unmarshal(ev.Data, &messageID); err != nil {
			return
		}
		c.report(c.gw.DeleteMessage(ctx, c.session, messageID))

	case models.EventTypingStart:
		var channelID string
		if err := json.Unmarshal(ev.Data, &channelID); err != nil {
			return
		}
		c.gw.TypingStart(c.session, channelID)

	case models.EventTypingStop:
		var channelID string
		if err := json.Unmarshal(ev.Data, &channelID); err != nil {
			return
		}
		c.gw.TypingStop(c.session, channelID)

	case models.EventReactionToggle:
		var data models.ToggleReactionData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return
		}
		c.report(c.gw.ToggleReaction(ctx, c.session, data.MessageID, data.Emoji))

	case models.EventStatusUpdate:
		var status string
		if err := json.Unmarshal(ev.Data, &status); err != nil {
			return
		}
		c.report(c.gw.SetStatus(ctx, c.session, status))

	default:
		c.log.Warn("[WS] Unknown event type", "type", ev.Type, "user", c.userID)
	}
}

// report routes an operation failure back to this client. Denials stay
// silent so they confirm nothing; validation failures carry their reason;
// anything else comes back as a generic failure notice.
func (c *Client) report(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrUnauthorized) {
		c.log.Debug("[WS] Operation denied", "user", c.userID, "error", err)
		return
	}

	msg := "operation failed"
	if errors.Is(err, models.ErrValidation) {
		msg = err.Error()
	} else {
		c.log.Error("[WS] Operation failed", "user", c.userID, "error", err)
	}

	payload, encErr := models.NewEvent(models.EventError, models.ErrorData{Message: msg}).Encode()
	if encErr != nil {
		return
	}
	c.Send(payload)
}
