package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPresence(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := ConnectRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	defer client.Close()

	room := "presence-test-" + time.Now().Format("150405.000000")
	presence := NewRedisPresence(client, time.Minute)
	reg := newRegistry(WithPresence(presence))

	_, err = reg.AddMember(ctx, room, "a", "A", nil)
	require.NoError(t, err)
	_, err = reg.AddMember(ctx, room, "b", "B", nil)
	require.NoError(t, err)

	count, err := presence.Count(ctx, room)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	ttl, err := client.TTL(ctx, presenceKey(room)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_, err = reg.RemoveMember(ctx, room, "a", nil)
	require.NoError(t, err)
	_, err = reg.RemoveMember(ctx, room, "b", nil)
	require.NoError(t, err)

	exists, err := client.Exists(ctx, presenceKey(room)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
