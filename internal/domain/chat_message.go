package domain

import (
	"time"
)

type ChatMessage struct {
	RoomID        string
	ParticipantID string
	DisplayName   string
	Content       string
	CreatedAt     time.Time
}

// NewChatMessage stamps a chat line with the relay clock.
func NewChatMessage(roomID string, peer *Peer, displayName, content string) *ChatMessage {
	msg := &ChatMessage{
		RoomID:      roomID,
		DisplayName: displayName,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
	if peer != nil {
		msg.ParticipantID = peer.ID
		if msg.DisplayName == "" {
			msg.DisplayName = peer.DisplayName()
		}
	}
	return msg
}

func (m *ChatMessage) Signal() SignalMessage {
	return SignalMessage{
		Type:          TypeChatMessage,
		RoomID:        m.RoomID,
		ParticipantID: m.ParticipantID,
		DisplayName:   m.DisplayName,
		Message:       m.Content,
		Timestamp:     m.CreatedAt.Format(time.RFC3339Nano),
	}
}

// ChatFromSignal is the inverse of Signal. An unparsable timestamp leaves
// CreatedAt zero.
func ChatFromSignal(msg SignalMessage) ChatMessage {
	chat := ChatMessage{
		RoomID:        msg.RoomID,
		ParticipantID: msg.ParticipantID,
		DisplayName:   msg.DisplayName,
		Content:       msg.Message,
	}
	if ts, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
		chat.CreatedAt = ts
	}
	return chat
}
