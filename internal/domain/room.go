package domain

import (
	"sort"
	"sync"
	"time"
)

// Membership ties one participant to one room. Seq orders members by join.
type Membership struct {
	ParticipantID string
	DisplayName   string
	RoomID        string
	Seq           uint64
	JoinedAt      time.Time
}

// Room holds the members of one room. Callers must hold Mutex for every
// method below; the registry owns that locking.
type Room struct {
	Mutex     sync.Mutex
	ID        string
	CreatedAt time.Time

	// Closed is set once the room has been dropped from the registry. A
	// closed room must not gain members.
	Closed bool

	members map[string]*Membership
	seq     uint64
}

func NewRoom(id string) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		members:   make(map[string]*Membership),
	}
}

func (r *Room) Len() int {
	return len(r.members)
}

func (r *Room) Has(participantID string) bool {
	_, ok := r.members[participantID]
	return ok
}

func (r *Room) Add(participantID, displayName string) Membership {
	r.seq++
	m := &Membership{
		ParticipantID: participantID,
		DisplayName:   displayName,
		RoomID:        r.ID,
		Seq:           r.seq,
		JoinedAt:      time.Now().UTC(),
	}
	r.members[participantID] = m
	return *m
}

func (r *Room) Remove(participantID string) (Membership, bool) {
	m, ok := r.members[participantID]
	if !ok {
		return Membership{}, false
	}
	delete(r.members, participantID)
	return *m, true
}

// Others returns every member except excluding, in join order.
func (r *Room) Others(excluding string) []Membership {
	result := make([]Membership, 0, len(r.members))
	for id, m := range r.members {
		if id == excluding {
			continue
		}
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result
}
