package repository

import (
	"context"
	"errors"

	"github.com/immxrtalbeast/meshconf/internal/domain"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrAlreadyMember      = errors.New("participant already in room")
	ErrEmptyRoomID        = errors.New("room id is empty")
	ErrEmptyParticipantID = errors.New("participant id is empty")
)

// MembershipHook runs while the room is still locked, right after the
// membership change. others excludes the changed member and is in join order.
type MembershipHook func(changed domain.Membership, others []domain.Membership)

type RoomRegistry interface {
	AddMember(ctx context.Context, roomID, participantID, displayName string, hook MembershipHook) ([]domain.Membership, error)
	RemoveMember(ctx context.Context, roomID, participantID string, hook MembershipHook) (bool, error)
	ListOthers(ctx context.Context, roomID, excluding string) ([]string, error)
	Members(ctx context.Context, roomID string) ([]domain.Membership, error)
	Stats(ctx context.Context) (Stats, error)
}

type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

// PresenceMirror receives membership changes after they are committed.
type PresenceMirror interface {
	MemberAdded(ctx context.Context, roomID, participantID string) error
	MemberRemoved(ctx context.Context, roomID, participantID string) error
}
