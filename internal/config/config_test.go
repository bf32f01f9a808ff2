package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustLoadPathAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("env: dev\nredis:\n  enabled: true\n"), 0o600))

	cfg := MustLoadPath(path)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.STUNServers)
	assert.Equal(t, 30*time.Second, cfg.WebRTC.NegotiationTimeout)
	assert.Equal(t, 256, cfg.Relay.EventBuffer)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
}

func TestMustLoadPathMissingFilePanics(t *testing.T) {
	assert.Panics(t, func() {
		MustLoadPath(filepath.Join(t.TempDir(), "absent.yaml"))
	})
}

func TestLoadClientFromEnv(t *testing.T) {
	t.Setenv("MESH_ROOM", "r1")
	t.Setenv("MESH_NAME", "alice")
	t.Setenv("WEBRTC_STUN_SERVERS", "stun:a:3478,stun:b:3478")

	cfg, err := LoadClient()
	require.NoError(t, err)

	assert.Equal(t, "r1", cfg.Room)
	assert.Equal(t, "alice", cfg.Name)
	assert.Equal(t, []string{"stun:a:3478", "stun:b:3478"}, cfg.WebRTC.STUNServers)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.ServerURL)
}
