package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/meshconf/internal/domain"
	"github.com/immxrtalbeast/meshconf/internal/repository"
	"github.com/immxrtalbeast/meshconf/lib/logger/sl"
)

var (
	ErrMessageRequired = errors.New("message is required")
	ErrRoomRequired    = errors.New("roomId is required")
	ErrNotInRoom       = errors.New("not in a room")
	ErrAlreadyInRoom   = errors.New("already in this room")
	ErrUnsupportedType = errors.New("unsupported signal type")
)

// RelayService routes signaling messages between connected peers and keeps
// room membership in the registry. It never inspects SDP, candidates or
// chat text.
type RelayService struct {
	rooms       repository.RoomRegistry
	log         *slog.Logger
	eventBuffer int

	mu    sync.RWMutex
	peers map[string]*domain.Peer

	// serializes chat stamping and fan-out so timestamps match delivery order
	chatMu sync.Mutex
}

func NewRelayService(rooms repository.RoomRegistry, eventBuffer int, log *slog.Logger) *RelayService {
	if log == nil {
		log = slog.Default()
	}
	return &RelayService{
		rooms:       rooms,
		log:         log,
		eventBuffer: eventBuffer,
		peers:       make(map[string]*domain.Peer),
	}
}

// Connect registers a new signaling channel so it can be addressed directly.
func (s *RelayService) Connect(_ context.Context) *domain.Peer {
	peer := domain.NewPeer(s.eventBuffer)

	s.mu.Lock()
	s.peers[peer.ID] = peer
	s.mu.Unlock()

	s.log.Info("peer connected", slog.String("peer_id", peer.ID))
	return peer
}

// Disconnect drops the channel, removes its membership and closes its
// queue. Calling it again is a no-op.
func (s *RelayService) Disconnect(ctx context.Context, peer *domain.Peer) {
	const op = "service.relay.disconnect"
	log := s.log.With(slog.String("op", op), slog.String("peer_id", peer.ID))

	s.mu.Lock()
	if s.peers[peer.ID] == peer {
		delete(s.peers, peer.ID)
	}
	s.mu.Unlock()

	if roomID := peer.RoomID(); roomID != "" {
		if err := s.leave(ctx, peer, roomID); err != nil {
			log.Error("failed to leave room", slog.String("room_id", roomID), sl.Err(err))
		}
	}

	if peer.Close() {
		log.Info("peer disconnected")
	}
}

func (s *RelayService) HandleSignal(ctx context.Context, peer *domain.Peer, message *domain.SignalMessage) error {
	const op = "service.relay.signal"
	if message == nil {
		return ErrMessageRequired
	}
	log := s.log.With(
		slog.String("op", op),
		slog.String("peer_id", peer.ID),
	)

	log.Debug("new signal",
		slog.String("type", message.Type),
		slog.String("room_id", message.RoomID),
		slog.String("to", message.To),
	)

	switch message.Type {
	case domain.TypeJoinRoom:
		return s.join(ctx, peer, message)
	case domain.TypeOffer, domain.TypeAnswer, domain.TypeICECandidate:
		s.forward(peer, message)
		return nil
	case domain.TypeChatMessage:
		return s.chat(ctx, peer, message)
	case domain.TypeLeaveRoom:
		roomID := peer.RoomID()
		if roomID == "" || (message.RoomID != "" && message.RoomID != roomID) {
			log.Debug("leave for a room the peer is not in", slog.String("room_id", message.RoomID))
			return nil
		}
		return s.leave(ctx, peer, roomID)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedType, message.Type)
	}
}

func (s *RelayService) ListParticipants(ctx context.Context, roomID string) ([]domain.Membership, error) {
	return s.rooms.Members(ctx, roomID)
}

func (s *RelayService) Stats(ctx context.Context) (repository.Stats, error) {
	return s.rooms.Stats(ctx)
}

// join replies with existing-users and announces the newcomer from inside
// the registry hook, so every member is reported exactly once: either in
// the newcomer's snapshot or through a later user-joined.
func (s *RelayService) join(ctx context.Context, peer *domain.Peer, message *domain.SignalMessage) error {
	const op = "service.relay.join"
	log := s.log.With(
		slog.String("op", op),
		slog.String("peer_id", peer.ID),
		slog.String("room_id", message.RoomID),
	)

	roomID := message.RoomID
	if roomID == "" {
		return ErrRoomRequired
	}

	switch current := peer.RoomID(); current {
	case "":
	case roomID:
		return ErrAlreadyInRoom
	default:
		if err := s.leave(ctx, peer, current); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	displayName := message.DisplayName
	others, err := s.rooms.AddMember(ctx, roomID, peer.ID, displayName,
		func(joined domain.Membership, others []domain.Membership) {
			peer.SetMembership(roomID, displayName)

			ids := make([]string, 0, len(others))
			for _, other := range others {
				ids = append(ids, other.ParticipantID)
			}
			s.deliver(peer, domain.SignalMessage{
				Type:          domain.TypeExistingUsers,
				RoomID:        roomID,
				ParticipantID: peer.ID,
				Participants:  ids,
			})

			announce := domain.SignalMessage{
				Type:          domain.TypeUserJoined,
				RoomID:        roomID,
				ParticipantID: joined.ParticipantID,
				DisplayName:   joined.DisplayName,
			}
			for _, other := range others {
				s.deliverTo(other.ParticipantID, announce)
			}
		})
	if err != nil {
		log.Warn("join rejected", sl.Err(err))
		return err
	}

	log.Info("peer joined room",
		slog.String("display_name", displayName),
		slog.Int("others", len(others)),
	)
	return nil
}

func (s *RelayService) leave(ctx context.Context, peer *domain.Peer, roomID string) error {
	const op = "service.relay.leave"

	removed, err := s.rooms.RemoveMember(ctx, roomID, peer.ID,
		func(left domain.Membership, others []domain.Membership) {
			peer.ClearMembership(roomID)

			notice := domain.SignalMessage{
				Type:          domain.TypeUserLeft,
				RoomID:        roomID,
				ParticipantID: left.ParticipantID,
				DisplayName:   left.DisplayName,
			}
			for _, other := range others {
				s.deliverTo(other.ParticipantID, notice)
			}
		})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if removed {
		s.log.Info("peer left room",
			slog.String("op", op),
			slog.String("peer_id", peer.ID),
			slog.String("room_id", roomID),
		)
	}
	return nil
}

// forward delivers a direct message. Unknown recipients are dropped.
func (s *RelayService) forward(peer *domain.Peer, message *domain.SignalMessage) {
	if !s.deliverTo(message.To, message.Forwarded(peer.ID)) {
		s.log.Debug("direct message not delivered",
			slog.String("type", message.Type),
			slog.String("from", peer.ID),
			slog.String("to", message.To),
		)
	}
}

// chat broadcasts to the whole room, sender included, stamped with the
// relay clock.
func (s *RelayService) chat(ctx context.Context, peer *domain.Peer, message *domain.SignalMessage) error {
	roomID := message.RoomID
	if roomID == "" {
		roomID = peer.RoomID()
	}
	if roomID == "" {
		return ErrNotInRoom
	}

	members, err := s.rooms.Members(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil
		}
		return err
	}

	s.chatMu.Lock()
	defer s.chatMu.Unlock()

	event := domain.NewChatMessage(roomID, peer, message.DisplayName, message.Message).Signal()
	for _, m := range members {
		s.deliverTo(m.ParticipantID, event)
	}
	return nil
}

func (s *RelayService) lookup(id string) *domain.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers[id]
}

func (s *RelayService) deliverTo(id string, msg domain.SignalMessage) bool {
	peer := s.lookup(id)
	if peer == nil {
		return false
	}
	return s.deliver(peer, msg)
}

func (s *RelayService) deliver(peer *domain.Peer, msg domain.SignalMessage) bool {
	if peer.EnqueueEvent(msg) {
		return true
	}
	s.log.Debug("dropping event", slog.String("peer", peer.ID), slog.String("type", msg.Type))
	return false
}
