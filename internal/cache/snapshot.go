// Package cache keeps recently computed daily snapshots.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"example.com/healthassistant/internal/aggregate"
	"example.com/healthassistant/internal/events"
)

// SnapshotCache stores daily snapshots per device and date.
type SnapshotCache interface {
	Get(ctx context.Context, deviceID string, date time.Time) (*aggregate.DailySnapshot, error)
	Set(ctx context.Context, snapshot aggregate.DailySnapshot) error
	Invalidate(ctx context.Context, deviceID string, dates ...time.Time) error
	// InvalidateDevice removes every cached date of the device.
	InvalidateDevice(ctx context.Context, deviceID string) error
}

// Noop never holds anything.
type Noop struct{}

func (Noop) Get(context.Context, string, time.Time) (*aggregate.DailySnapshot, error) { return nil, nil }

func (Noop) Set(context.Context, aggregate.DailySnapshot) error { return nil }

func (Noop) Invalidate(context.Context, string, ...time.Time) error { return nil }

func (Noop) InvalidateDevice(context.Context, string) error { return nil }

// DefaultTTL bounds staleness for dates whose invalidation was missed.
const DefaultTTL = 15 * time.Minute

// Redis stores JSON encoded snapshots with a TTL.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedis constructs a Redis cache. A non-positive ttl uses DefaultTTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl, prefix: "health:snapshot"}
}

// Key returns the cache key of a device and date.
func (c *Redis) Key(deviceID string, date time.Time) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, deviceID, events.FormatDate(date))
}

// Get returns nil on a miss.
func (c *Redis) Get(ctx context.Context, deviceID string, date time.Time) (*aggregate.DailySnapshot, error) {
	raw, err := c.client.Get(ctx, c.Key(deviceID, date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot aggregate.DailySnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		// Undecodable entries count as misses.
		return nil, nil
	}
	return &snapshot, nil
}

func (c *Redis) Set(ctx context.Context, snapshot aggregate.DailySnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(snapshot.DeviceID, snapshot.Date), raw, c.ttl).Err()
}

// Invalidate removes the snapshots of every date in one round trip.
func (c *Redis) Invalidate(ctx context.Context, deviceID string, dates ...time.Time) error {
	if len(dates) == 0 {
		return nil
	}
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		keys = append(keys, c.Key(deviceID, d))
	}
	return c.client.Del(ctx, keys...).Err()
}

// InvalidateDevice scans the device's keys and deletes them in batches. With a cluster
// client only the node the scan lands on is covered.
func (c *Redis) InvalidateDevice(ctx context.Context, deviceID string) error {
	pattern := fmt.Sprintf("%s:%s:*", c.prefix, globEscaper.Replace(deviceID))
	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()

	keys := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == scanBatch {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

const scanBatch = 100

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
