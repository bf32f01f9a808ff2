package domain

import (
	"encoding/json"

	"github.com/pion/webrtc/v3"
)

// Message types exchanged between participants and the relay.
const (
	TypeJoinRoom      = "join-room"
	TypeExistingUsers = "existing-users"
	TypeUserJoined    = "user-joined"
	TypeOffer         = "offer"
	TypeAnswer        = "answer"
	TypeICECandidate  = "ice-candidate"
	TypeChatMessage   = "chat-message"
	TypeLeaveRoom     = "leave-room"
	TypeUserLeft      = "user-left"
	TypeError         = "error"
)

// SignalMessage is the single JSON envelope used on the signaling channel.
// Which fields are set depends on Type.
type SignalMessage struct {
	Type          string                     `json:"type"`
	RoomID        string                     `json:"roomId,omitempty"`
	DisplayName   string                     `json:"displayName,omitempty"`
	ParticipantID string                     `json:"participantId,omitempty"`
	Participants  []string                   `json:"participants,omitempty"`
	To            string                     `json:"to,omitempty"`
	From          string                     `json:"from,omitempty"`
	SDP           *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate     *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Message       string                     `json:"message,omitempty"`
	Timestamp     string                     `json:"timestamp,omitempty"`
	Error         string                     `json:"error,omitempty"`
}

// IsDirect reports whether the message is routed to a single participant.
func (m *SignalMessage) IsDirect() bool {
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// Forwarded returns the copy delivered to the recipient of a direct message.
func (m *SignalMessage) Forwarded(from string) SignalMessage {
	return SignalMessage{
		Type:      m.Type,
		From:      from,
		SDP:       m.SDP,
		Candidate: m.Candidate,
	}
}

func ErrorMessage(text string) SignalMessage {
	return SignalMessage{Type: TypeError, Error: text}
}

// MarshalJSON always writes participants for existing-users, so an empty
// room is sent as [] rather than omitted.
func (m SignalMessage) MarshalJSON() ([]byte, error) {
	type plain SignalMessage
	if m.Type != TypeExistingUsers {
		return json.Marshal(plain(m))
	}
	participants := m.Participants
	if participants == nil {
		participants = []string{}
	}
	return json.Marshal(struct {
		plain
		Participants []string `json:"participants"`
	}{plain(m), participants})
}
