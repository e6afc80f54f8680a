package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis relays changes between instances over a redis pub/sub channel.
// Local listeners are served by an embedded Local feed; changes published by
// this instance are delivered locally at once and echoes from redis skipped.
type Redis struct {
	*Local

	client  *goredis.Client
	channel string
	origin  string
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedis builds a redis relay. Call Start to begin receiving remote changes.
func NewRedis(client *goredis.Client, channel, origin string, logger *zap.Logger) *Redis {
	return &Redis{
		Local:   NewLocal(),
		client:  client,
		channel: channel,
		origin:  origin,
		logger:  logger,
	}
}

// Publish delivers change locally and forwards it to the other instances.
func (r *Redis) Publish(ctx context.Context, change Change) error {
	if change.Origin == "" {
		change.Origin = r.origin
	}
	_ = r.Local.Publish(ctx, change)

	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Start subscribes to the channel and relays remote changes until Stop.
func (r *Redis) Start(ctx context.Context) error {
	pubsub := r.client.Subscribe(context.Background(), r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					r.logger.Warn("dropping malformed change", zap.Error(err))
					continue
				}
				if change.Origin == r.origin {
					continue
				}
				_ = r.Local.Publish(runCtx, change)
			}
		}
	}()

	r.logger.Info("change feed subscribed", zap.String("channel", r.channel))
	return nil
}

// Stop ends the relay and closes every local listener.
func (r *Redis) Stop(context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.Local.Close()
	return nil
}
