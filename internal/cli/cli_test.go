package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/immxrtalbeast/meshconf/internal/api/http/converter"
	"github.com/immxrtalbeast/meshconf/internal/config"
	"github.com/immxrtalbeast/meshconf/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyJoinFlagsOverridesEnvironment(t *testing.T) {
	t.Setenv("MESH_ROOM", "from-env")
	t.Setenv("MESH_NAME", "env-name")
	cfg, err := config.LoadClient()
	require.NoError(t, err)

	flagJoinRoom, flagJoinSTUN = "from-flag", []string{"stun:example.org:3478"}
	t.Cleanup(func() { flagJoinRoom, flagJoinSTUN = "", nil })

	applyJoinFlags(cfg)
	assert.Equal(t, "from-flag", cfg.Room)
	assert.Equal(t, "env-name", cfg.Name)
	assert.Equal(t, []string{"stun:example.org:3478"}, cfg.WebRTC.STUNServers)
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/rooms":
			_, _ = w.Write([]byte(`{"rooms":2,"members":5}`))
		case "/api/rooms/missing/participants":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"room not found"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	var stats repository.Stats
	require.NoError(t, getJSON(ctx, srv.URL+"/api/rooms", &stats))
	assert.Equal(t, repository.Stats{Rooms: 2, Members: 5}, stats)

	assert.ErrorIs(t, getJSON(ctx, srv.URL+"/api/rooms/missing/participants", &stats), errRoomNotFound)

	err := getJSON(ctx, srv.URL+"/other", &stats)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRenderParticipants(t *testing.T) {
	var out bytes.Buffer
	renderParticipants(&out, "r1", []converter.ParticipantResponse{
		{ParticipantID: "p-1", DisplayName: "alice", JoinedAt: time.Now()},
		{ParticipantID: "p-2", DisplayName: "bob", JoinedAt: time.Now()},
	})

	text := out.String()
	assert.Contains(t, text, "alice")
	assert.Contains(t, text, "bob")
	assert.Contains(t, text, "p-2")
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "alice (0123abcd)", label("0123abcd-ffff", "alice"))
	assert.Equal(t, "short", label("short", ""))
}
