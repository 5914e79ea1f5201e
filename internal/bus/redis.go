package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the production [Bus] implementation, backed by a
// github.com/redis/go-redis/v9 client. Grounded on
// original_source/src/tangram/channels.py (redis.asyncio client,
// pub/sub) and history_redis.py (string KV with TTL).
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis dials url (a redis:// connection string, the
// core.redis_url config value) and returns a ready-to-use Bus.
func NewRedis(url string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &Redis{client: client, logger: logger}, nil
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("bus publish %s: %w", channel, err)
	}
	return nil
}

func (r *Redis) PSubscribe(ctx context.Context, pattern string) (<-chan Message, error) {
	sub := r.client.PSubscribe(ctx, pattern)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("bus psubscribe %s: %w", pattern, err)
	}
	return r.relay(ctx, sub, pattern), nil
}

func (r *Redis) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	sub := r.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("bus subscribe %s: %w", channel, err)
	}
	return r.relay(ctx, sub, channel), nil
}

// relay bridges the go-redis pub/sub channel onto a bus.Message
// channel and closes it when ctx is cancelled or the subscription's
// internal channel closes.
func (r *Redis) relay(ctx context.Context, sub *redis.PubSub, label string) <-chan Message {
	out := make(chan Message, 256)
	raw := sub.Channel()
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				default:
					r.logger.Warn("bus subscriber channel full, dropping message", "subscription", label)
				}
			}
		}
	}()
	return out
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("bus get %s: %w", key, err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("bus set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("bus expire %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("bus del %s: %w", key, err)
	}
	return nil
}

func (r *Redis) GeoAdd(ctx context.Context, key string, longitude, latitude float64, member string) error {
	geo := &redis.GeoLocation{Name: member, Longitude: longitude, Latitude: latitude}
	if err := r.client.GeoAdd(ctx, key, geo).Err(); err != nil {
		return fmt.Errorf("bus geoadd %s: %w", key, err)
	}
	return nil
}

func (r *Redis) GeoSearch(ctx context.Context, key string, centerLon, centerLat, radiusKM float64) ([]GeoPoint, error) {
	query := &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  centerLon,
			Latitude:   centerLat,
			Radius:     radiusKM,
			RadiusUnit: "km",
		},
		WithCoord: true,
	}
	locs, err := r.client.GeoSearchLocation(ctx, key, query).Result()
	if err != nil {
		return nil, fmt.Errorf("bus geosearch %s: %w", key, err)
	}
	points := make([]GeoPoint, 0, len(locs))
	for _, l := range locs {
		points = append(points, GeoPoint{Name: l.Name, Longitude: l.Longitude, Latitude: l.Latitude})
	}
	return points, nil
}

func (r *Redis) ZAdd(ctx context.Context, key string, scoreUnixMilli float64, member string) error {
	z := redis.Z{Score: scoreUnixMilli, Member: member}
	if err := r.client.ZAdd(ctx, key, z).Err(); err != nil {
		return fmt.Errorf("bus zadd %s: %w", key, err)
	}
	return nil
}

func (r *Redis) PubSubNumSub(ctx context.Context, channel string) (int64, error) {
	counts, err := r.client.PubSubNumSub(ctx, channel).Result()
	if err != nil {
		return 0, fmt.Errorf("bus pubsub numsub %s: %w", channel, err)
	}
	return counts[channel], nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
