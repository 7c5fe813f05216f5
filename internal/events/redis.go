package events

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay shares events between engine processes over a Redis channel.
// Events published locally are sent to Redis; events received from other
// nodes are delivered to the local broker.
type RedisRelay struct {
	rdb     redis.UniversalClient
	channel string
	node    string
	local   Publisher
	log     *zap.Logger
}

// NewRedisRelay creates a relay for node on channel
func NewRedisRelay(rdb redis.UniversalClient, channel, node string, local Publisher, log *zap.Logger) *RedisRelay {
	return &RedisRelay{
		rdb:     rdb,
		channel: channel,
		node:    node,
		local:   local,
		log:     log.Named("relay"),
	}
}

// Publish sends e to the other nodes
func (r *RedisRelay) Publish(ctx context.Context, e Event) {
	if e.Origin == "" {
		e.Origin = r.node
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	payload, err := Encode(e)
	if err != nil {
		r.log.Error("encode event", zap.String("type", string(e.Type)), zap.Error(err))
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.log.Warn("publish event", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

// Run forwards events from other nodes until ctx is done
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.log.Info("relay subscribed", zap.String("channel", r.channel), zap.String("node", r.node))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			e, err := Decode([]byte(msg.Payload))
			if err != nil {
				r.log.Warn("decode event", zap.Error(err))
				continue
			}
			if e.Origin == r.node {
				continue
			}
			r.local.Publish(ctx, e)
		}
	}
}
