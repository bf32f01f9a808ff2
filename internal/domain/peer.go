package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultEventBuffer = 256

// Peer is one connected signaling channel on the relay. It is a room member
// only between join-room and leave-room or disconnect.
type Peer struct {
	ID       string
	JoinedAt time.Time

	mu          sync.RWMutex
	displayName string
	roomID      string
	lastSeen    time.Time
	closed      bool

	// Events is drained by the channel's writer. It is closed by Close.
	Events chan SignalMessage
}

func NewPeer(buffer int) *Peer {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	now := time.Now().UTC()
	return &Peer{
		ID:       uuid.New().String(),
		JoinedAt: now,
		lastSeen: now,
		Events:   make(chan SignalMessage, buffer),
	}
}

func (p *Peer) DisplayName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.displayName
}

// RoomID returns the room the peer currently belongs to, or "".
func (p *Peer) RoomID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.roomID
}

func (p *Peer) SetMembership(roomID, displayName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roomID = roomID
	p.displayName = displayName
}

// ClearMembership forgets the room only if it still matches roomID.
func (p *Peer) ClearMembership(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roomID == roomID {
		p.roomID = ""
	}
}

func (p *Peer) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen = time.Now().UTC()
}

func (p *Peer) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}

// EnqueueEvent never blocks. It returns false when the peer is closed or its
// queue is full, in which case the event is dropped.
func (p *Peer) EnqueueEvent(event SignalMessage) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.Events <- event:
		return true
	default:
		return false
	}
}

// Close closes Events once. It reports whether this call closed it.
func (p *Peer) Close() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	close(p.Events)
	return true
}

func (p *Peer) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
