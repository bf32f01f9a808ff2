package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPresenceTTL = 24 * time.Hour

// RedisPresence mirrors live room membership into redis sets keyed
// room:<id>:peers so other processes can read occupancy.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPresence(client *redis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	return &RedisPresence{client: client, ttl: ttl}
}

// ConnectRedis opens a client and verifies it with PING.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func presenceKey(roomID string) string {
	return "room:" + roomID + ":peers"
}

func (p *RedisPresence) MemberAdded(ctx context.Context, roomID, participantID string) error {
	key := presenceKey(roomID)
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, key, participantID)
	pipe.Expire(ctx, key, p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPresence) MemberRemoved(ctx context.Context, roomID, participantID string) error {
	key := presenceKey(roomID)
	if err := p.client.SRem(ctx, key, participantID).Err(); err != nil {
		return err
	}
	count, err := p.client.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if count == 0 {
		return p.client.Del(ctx, key).Err()
	}
	return nil
}

// Count returns the mirrored member count of a room.
func (p *RedisPresence) Count(ctx context.Context, roomID string) (int64, error) {
	return p.client.SCard(ctx, presenceKey(roomID)).Result()
}
