package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultRedisChannel = "releasedesk:changes"

// RedisBridge fans changes out to every process sharing a Redis channel.
// Publish only writes to Redis; changes reach the local Broker when they
// come back through the subscription, so each process sees each change once.
type RedisBridge struct {
	Client  *redis.Client
	Channel string
	Origin  string
	Local   Publisher
	Logger  *zap.Logger
}

func (r *RedisBridge) channel() string {
	if r.Channel == "" {
		return DefaultRedisChannel
	}
	return r.Channel
}

func (r *RedisBridge) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

func (r *RedisBridge) Publish(ctx context.Context, c Change) error {
	if c.Origin == "" {
		c.Origin = r.Origin
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := r.Client.Publish(ctx, r.channel(), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Start subscribes and forwards incoming changes to Local until ctx is done
// or stop is called. It returns once the subscription is confirmed.
func (r *RedisBridge) Start(ctx context.Context) (stop func(), err error) {
	sub := r.Client.Subscribe(ctx, r.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", r.channel(), err)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					r.logger().Warn("redis: bad change payload", zap.Error(err))
					continue
				}
				if err := r.Local.Publish(ctx, c); err != nil {
					r.logger().Warn("redis: local publish failed", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		_ = sub.Close()
		<-done
	}, nil
}
