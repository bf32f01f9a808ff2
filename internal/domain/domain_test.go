package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomOthersInJoinOrder(t *testing.T) {
	room := NewRoom("r1")
	room.Add("c", "C")
	room.Add("a", "A")
	room.Add("b", "B")

	others := room.Others("a")
	require.Len(t, others, 2)
	assert.Equal(t, "c", others[0].ParticipantID)
	assert.Equal(t, "b", others[1].ParticipantID)

	_, ok := room.Remove("c")
	assert.True(t, ok)
	_, ok = room.Remove("c")
	assert.False(t, ok)
	assert.Equal(t, 2, room.Len())
}

func TestPeerEnqueueAfterClose(t *testing.T) {
	peer := NewPeer(1)

	assert.True(t, peer.EnqueueEvent(SignalMessage{Type: TypeUserJoined}))
	assert.False(t, peer.EnqueueEvent(SignalMessage{Type: TypeUserJoined}), "full queue drops")

	assert.True(t, peer.Close())
	assert.False(t, peer.Close())
	assert.False(t, peer.EnqueueEvent(SignalMessage{Type: TypeUserLeft}))
}

func TestPeerClearMembershipOnlyMatchingRoom(t *testing.T) {
	peer := NewPeer(0)
	peer.SetMembership("r2", "alice")
	peer.ClearMembership("r1")
	assert.Equal(t, "r2", peer.RoomID())
	peer.ClearMembership("r2")
	assert.Empty(t, peer.RoomID())
}

func TestSignalMessageWireNames(t *testing.T) {
	msg := SignalMessage{
		Type: TypeOffer,
		To:   "b",
		SDP:  &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"offer","to":"b","sdp":{"type":"offer","sdp":"v=0"}}`, string(raw))

	fwd := msg.Forwarded("a")
	assert.Equal(t, "a", fwd.From)
	assert.Empty(t, fwd.To)
}

func TestExistingUsersAlwaysCarriesParticipants(t *testing.T) {
	raw, err := json.Marshal(SignalMessage{Type: TypeExistingUsers, RoomID: "r1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"existing-users","roomId":"r1","participants":[]}`, string(raw))

	raw, err = json.Marshal(&SignalMessage{Type: TypeUserJoined, ParticipantID: "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user-joined","participantId":"b"}`, string(raw))
}

func TestChatRoundTrip(t *testing.T) {
	peer := NewPeer(0)
	peer.SetMembership("r1", "alice")

	chat := NewChatMessage("r1", peer, "", "hi")
	back := ChatFromSignal(chat.Signal())

	assert.Equal(t, "alice", back.DisplayName)
	assert.Equal(t, peer.ID, back.ParticipantID)
	assert.WithinDuration(t, chat.CreatedAt, back.CreatedAt, time.Millisecond)
}
