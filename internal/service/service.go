package service

import (
	"context"

	"github.com/immxrtalbeast/meshconf/internal/domain"
	"github.com/immxrtalbeast/meshconf/internal/repository"
)

// RelayInteractor is what the transport layer needs from the relay.
type RelayInteractor interface {
	Connect(ctx context.Context) *domain.Peer
	HandleSignal(ctx context.Context, peer *domain.Peer, message *domain.SignalMessage) error
	Disconnect(ctx context.Context, peer *domain.Peer)
	ListParticipants(ctx context.Context, roomID string) ([]domain.Membership, error)
	Stats(ctx context.Context) (repository.Stats, error)
}
