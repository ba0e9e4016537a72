package presence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Directory is the cluster-wide view of who is online. The local registry
// stays authoritative for pushes; the directory serves queries that span
// relay instances.
type Directory interface {
	MarkOnline(ctx context.Context, userID string, at time.Time) error
	MarkOffline(ctx context.Context, userID string) error
	OnlineUsers(ctx context.Context) (map[string]time.Time, error)
}

// RedisDirectory keeps online users in a single hash shared by all relay
// instances. Each instance owns its own fields, "<userID>@<instanceID>",
// valued with the connect time in unix milliseconds, so one instance going
// offline for a user leaves the others' entries alone.
type RedisDirectory struct {
	client   *redis.Client
	key      string
	instance string
}

func NewRedisDirectory(client *redis.Client, key, instanceID string) *RedisDirectory {
	return &RedisDirectory{client: client, key: key, instance: instanceID}
}

func (d *RedisDirectory) field(userID string) string {
	return userID + "@" + d.instance
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (d *RedisDirectory) MarkOnline(ctx context.Context, userID string, at time.Time) error {
	return d.client.HSet(ctx, d.key, d.field(userID), at.UnixMilli()).Err()
}

func (d *RedisDirectory) MarkOffline(ctx context.Context, userID string) error {
	return d.client.HDel(ctx, d.key, d.field(userID)).Err()
}

func (d *RedisDirectory) OnlineUsers(ctx context.Context) (map[string]time.Time, error) {
	raw, err := d.client.HGetAll(ctx, d.key).Result()
	if err != nil {
		return nil, err
	}
	return decodeOnline(raw), nil
}

// decodeOnline folds per-instance fields into one entry per user, keeping
// the earliest connect time.
func decodeOnline(raw map[string]string) map[string]time.Time {
	out := make(map[string]time.Time, len(raw))
	for field, value := range raw {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		userID := field
		if i := strings.LastIndexByte(field, '@'); i > 0 {
			userID = field[:i]
		}
		at := time.UnixMilli(ms).UTC()
		if prev, ok := out[userID]; !ok || at.Before(prev) {
			out[userID] = at
		}
	}
	return out
}

// NopDirectory is used when no Redis is configured.
type NopDirectory struct{}

func (NopDirectory) MarkOnline(context.Context, string, time.Time) error { return nil }
func (NopDirectory) MarkOffline(context.Context, string) error           { return nil }
func (NopDirectory) OnlineUsers(context.Context) (map[string]time.Time, error) {
	return nil, nil
}
