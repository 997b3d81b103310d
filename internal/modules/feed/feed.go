// README: Trip update feed over Redis pub/sub.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"ryde/internal/modules/trip"
)

const (
	DefaultChannel = "trips:updates"
	bufferSize     = 16
)

// Feed publishes every changed trip as JSON on one channel and serves
// filtered subscriptions from it. Delivery is at-most-once.
type Feed struct {
	redis   *redis.Client
	channel string
	log     *slog.Logger
}

func New(rdb *redis.Client, channel string, logger *slog.Logger) *Feed {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{redis: rdb, channel: channel, log: logger}
}

func (f *Feed) Publish(ctx context.Context, t trip.Trip) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trip update: %w", err)
	}
	return f.redis.Publish(ctx, f.channel, payload).Err()
}

// Subscribe returns once the Redis subscription is confirmed, so updates
// published after it returns are not missed.
func (f *Feed) Subscribe(ctx context.Context, filter trip.Filter) (<-chan trip.Trip, error) {
	ps := f.redis.Subscribe(ctx, f.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", trip.ErrUnavailable, f.channel, err)
	}

	out := make(chan trip.Trip, bufferSize)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var t trip.Trip
				if err := json.Unmarshal([]byte(msg.Payload), &t); err != nil {
					f.log.WarnContext(ctx, "decode trip update", "error", err)
					continue
				}
				if !filter.Matches(t) {
					continue
				}
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
