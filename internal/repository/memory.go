package repository

import (
	"context"
	"log/slog"
	"sync"

	"github.com/immxrtalbeast/meshconf/internal/domain"
	"github.com/immxrtalbeast/meshconf/lib/logger/sl"
)

// InMemoryRoomRegistry keeps rooms in a map. The map lock only guards
// create, lookup and drop; membership changes lock the room itself so
// different rooms never contend.
type InMemoryRoomRegistry struct {
	mu       sync.RWMutex
	rooms    map[string]*domain.Room
	presence PresenceMirror
	log      *slog.Logger
}

type Option func(*InMemoryRoomRegistry)

func WithPresence(mirror PresenceMirror) Option {
	return func(r *InMemoryRoomRegistry) {
		r.presence = mirror
	}
}

func NewInMemoryRoomRegistry(log *slog.Logger, opts ...Option) *InMemoryRoomRegistry {
	if log == nil {
		log = slog.Default()
	}
	r := &InMemoryRoomRegistry{
		rooms: make(map[string]*domain.Room),
		log:   log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *InMemoryRoomRegistry) AddMember(ctx context.Context, roomID, participantID, displayName string, hook MembershipHook) ([]domain.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if roomID == "" {
		return nil, ErrEmptyRoomID
	}
	if participantID == "" {
		return nil, ErrEmptyParticipantID
	}

	for {
		room := r.getOrCreate(roomID)

		room.Mutex.Lock()
		if room.Closed {
			// lost a race with the last member leaving
			room.Mutex.Unlock()
			continue
		}
		if room.Has(participantID) {
			room.Mutex.Unlock()
			return nil, ErrAlreadyMember
		}

		membership := room.Add(participantID, displayName)
		others := room.Others(participantID)
		if hook != nil {
			hook(membership, others)
		}
		room.Mutex.Unlock()

		r.mirror(ctx, roomID, participantID, true)
		return others, nil
	}
}

// RemoveMember is idempotent; it reports whether a membership was removed.
// The room is dropped when its last member leaves.
func (r *InMemoryRoomRegistry) RemoveMember(ctx context.Context, roomID, participantID string, hook MembershipHook) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}

	room.Mutex.Lock()
	membership, removed := room.Remove(participantID)
	if !removed {
		room.Mutex.Unlock()
		return false, nil
	}
	if hook != nil {
		hook(membership, room.Others(participantID))
	}
	if room.Len() == 0 {
		room.Closed = true
		r.mu.Lock()
		if r.rooms[roomID] == room {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
	}
	room.Mutex.Unlock()

	r.mirror(ctx, roomID, participantID, false)
	return true, nil
}

func (r *InMemoryRoomRegistry) ListOthers(ctx context.Context, roomID, excluding string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return []string{}, nil
	}

	room.Mutex.Lock()
	others := room.Others(excluding)
	room.Mutex.Unlock()

	ids := make([]string, 0, len(others))
	for _, m := range others {
		ids = append(ids, m.ParticipantID)
	}
	return ids, nil
}

func (r *InMemoryRoomRegistry) Members(ctx context.Context, roomID string) ([]domain.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}

	room.Mutex.Lock()
	defer room.Mutex.Unlock()
	if room.Closed {
		return nil, ErrRoomNotFound
	}
	return room.Others(""), nil
}

func (r *InMemoryRoomRegistry) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	r.mu.RLock()
	rooms := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	stats := Stats{Rooms: len(rooms)}
	for _, room := range rooms {
		room.Mutex.Lock()
		stats.Members += room.Len()
		room.Mutex.Unlock()
	}
	return stats, nil
}

func (r *InMemoryRoomRegistry) getOrCreate(roomID string) *domain.Room {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok {
		return room
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok = r.rooms[roomID]; ok {
		return room
	}
	room = domain.NewRoom(roomID)
	r.rooms[roomID] = room
	r.log.Debug("room created", slog.String("room_id", roomID))
	return room
}

func (r *InMemoryRoomRegistry) mirror(ctx context.Context, roomID, participantID string, added bool) {
	if r.presence == nil {
		return
	}
	const op = "repository.registry.mirror"

	var err error
	if added {
		err = r.presence.MemberAdded(ctx, roomID, participantID)
	} else {
		err = r.presence.MemberRemoved(ctx, roomID, participantID)
	}
	if err != nil {
		r.log.Warn("presence mirror failed",
			slog.String("op", op),
			slog.String("room_id", roomID),
			slog.String("participant_id", participantID),
			sl.Err(err),
		)
	}
}
