// Package bridge mirrors gateway broadcasts across processes over Redis
// pub/sub, so several gateway instances can serve the same rooms. The
// gateway is fully functional without it.
package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/darkcord/server/internal/gateway"
)

const channelPattern = "room:*"

// frame is the cross-instance envelope. Origin lets an instance drop the
// echo of its own publishes.
type frame struct {
	Origin  string          `json:"origin"`
	Kind    uint8           `json:"kind"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

type Bridge struct {
	rdb      *redis.Client
	instance string
	log      *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(redisURL string, log *slog.Logger) (*Bridge, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info("[REDIS] Connected")
	return &Bridge{
		rdb:      rdb,
		instance: uuid.NewString(),
		log:      log,
	}, nil
}

func (b *Bridge) Close() error {
	return b.rdb.Close()
}

// Publish mirrors one already-encoded broadcast payload to the room's
// Redis channel.
func (b *Bridge) Publish(room gateway.Room, payload []byte) {
	f := frame{
		Origin:  b.instance,
		Kind:    uint8(room.Kind),
		RoomID:  room.ID,
		Payload: payload,
	}
	data, err := json.Marshal(f)
	if err != nil {
		b.log.Error("[REDIS] Failed to marshal frame", "room", room.ID, "error", err)
		return
	}

	channel := fmt.Sprintf("room:%d:%s", room.Kind, room.ID)
	if err := b.rdb.Publish(context.Background(), channel, data).Err(); err != nil {
		b.log.Error("[REDIS] Failed to publish", "channel", channel, "error", err)
	}
}

// Run subscribes to every room channel and feeds remote broadcasts into
// the local gateway until the context is cancelled.
func (b *Bridge) Run(ctx context.Context, gw *gateway.Gateway) error {
	pubsub := b.rdb.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("confirm subscription: %w", err)
	}
	b.log.Info("[REDIS] Subscribed", "pattern", channelPattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var f frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				b.log.Error("[REDIS] Error unmarshaling frame", "channel", msg.Channel, "error", err)
				continue
			}
			if f.Origin == b.instance {
				continue
			}
			room := gateway.Room{Kind: gateway.RoomKind(f.Kind), ID: f.RoomID}
			gw.DeliverLocal(room, f.Payload)
		}
	}
}
