package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/immxrtalbeast/meshconf/internal/domain"
	"github.com/immxrtalbeast/meshconf/lib/logger/slogdiscard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(opts ...Option) *InMemoryRoomRegistry {
	return NewInMemoryRoomRegistry(slogdiscard.NewDiscardLogger(), opts...)
}

func TestAddMemberReturnsEarlierMembersInOrder(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry()

	others, err := reg.AddMember(ctx, "r1", "a", "A", nil)
	require.NoError(t, err)
	assert.Empty(t, others)

	_, err = reg.AddMember(ctx, "r1", "b", "B", nil)
	require.NoError(t, err)

	others, err = reg.AddMember(ctx, "r1", "c", "C", nil)
	require.NoError(t, err)
	require.Len(t, others, 2)
	assert.Equal(t, "a", others[0].ParticipantID)
	assert.Equal(t, "b", others[1].ParticipantID)

	ids, err := reg.ListOthers(ctx, "r1", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestAddMemberRejectsDuplicatesAndEmptyIDs(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry()

	_, err := reg.AddMember(ctx, "r1", "a", "A", nil)
	require.NoError(t, err)

	_, err = reg.AddMember(ctx, "r1", "a", "A", nil)
	assert.ErrorIs(t, err, ErrAlreadyMember)

	_, err = reg.AddMember(ctx, "", "a", "A", nil)
	assert.ErrorIs(t, err, ErrEmptyRoomID)

	_, err = reg.AddMember(ctx, "r1", "", "A", nil)
	assert.ErrorIs(t, err, ErrEmptyParticipantID)
}

func TestRemoveMemberIsIdempotentAndDropsEmptyRoom(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry()

	_, err := reg.AddMember(ctx, "r1", "a", "A", nil)
	require.NoError(t, err)

	hookCalls := 0
	hook := func(changed domain.Membership, others []domain.Membership) {
		hookCalls++
		assert.Equal(t, "a", changed.ParticipantID)
		assert.Empty(t, others)
	}

	removed, err := reg.RemoveMember(ctx, "r1", "a", hook)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = reg.RemoveMember(ctx, "r1", "a", hook)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 1, hookCalls)

	_, err = reg.Members(ctx, "r1")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	stats, err := reg.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newRegistry().AddMember(ctx, "r1", "a", "A", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// Every participant must observe each other participant exactly once,
// either in its own snapshot or in a later join notification.
func TestConcurrentJoinsSeeEachPeerExactlyOnce(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry()

	const n = 64
	var (
		mu       sync.Mutex
		seen     = make(map[string]map[string]int)
		snapshot = make(map[string][]domain.Membership)
	)
	record := func(observer, observed string) {
		if seen[observer] == nil {
			seen[observer] = make(map[string]int)
		}
		seen[observer][observed]++
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := reg.AddMember(ctx, "r1", id, id, func(changed domain.Membership, others []domain.Membership) {
				mu.Lock()
				defer mu.Unlock()
				snapshot[changed.ParticipantID] = others
				for _, o := range others {
					record(changed.ParticipantID, o.ParticipantID)
					record(o.ParticipantID, changed.ParticipantID)
				}
			})
			assert.NoError(t, err)
		}(fmt.Sprintf("p%02d", i))
	}
	wg.Wait()

	require.Len(t, seen, n)
	for observer, observed := range seen {
		assert.Len(t, observed, n-1, observer)
		for other, count := range observed {
			assert.Equal(t, 1, count, "%s saw %s", observer, other)
		}
	}

	members, err := reg.Members(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, members, n)
	for _, m := range members {
		assert.Len(t, snapshot[m.ParticipantID], int(m.Seq-1))
	}
}

func TestRoomsAreIndependentUnderChurn(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry()

	var wg sync.WaitGroup
	for r := 0; r < 8; r++ {
		for p := 0; p < 16; p++ {
			wg.Add(1)
			go func(room, id string) {
				defer wg.Done()
				for k := 0; k < 20; k++ {
					_, err := reg.AddMember(ctx, room, id, id, nil)
					assert.NoError(t, err)
					removed, err := reg.RemoveMember(ctx, room, id, nil)
					assert.NoError(t, err)
					assert.True(t, removed)
				}
			}(fmt.Sprintf("room-%d", r), fmt.Sprintf("p%d", p))
		}
	}
	wg.Wait()

	stats, err := reg.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Members)
	assert.Equal(t, 0, stats.Rooms)
}

type recordingMirror struct {
	mu      sync.Mutex
	added   []string
	removed []string
	fail    bool
}

func (m *recordingMirror) MemberAdded(_ context.Context, roomID, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, roomID+"/"+participantID)
	if m.fail {
		return errors.New("mirror down")
	}
	return nil
}

func (m *recordingMirror) MemberRemoved(_ context.Context, roomID, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, roomID+"/"+participantID)
	return nil
}

func TestPresenceMirrorIsBestEffort(t *testing.T) {
	ctx := context.Background()
	mirror := &recordingMirror{fail: true}
	reg := newRegistry(WithPresence(mirror))

	_, err := reg.AddMember(ctx, "r1", "a", "A", nil)
	require.NoError(t, err)
	_, err = reg.RemoveMember(ctx, "r1", "a", nil)
	require.NoError(t, err)
	_, err = reg.RemoveMember(ctx, "r1", "a", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"r1/a"}, mirror.added)
	assert.Equal(t, []string{"r1/a"}, mirror.removed)
}
