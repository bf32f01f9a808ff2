package peer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/immxrtalbeast/meshconf/internal/domain"
	"github.com/immxrtalbeast/meshconf/internal/media"
	"github.com/immxrtalbeast/meshconf/lib/logger/slogdiscard"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// relay connects in-process managers. Each participant has an inbox drained
// by its own goroutine, like a signaling channel.
type relay struct {
	mu      sync.Mutex
	inboxes map[string]chan domain.SignalMessage
	sent    map[string][]domain.SignalMessage
	drop    map[string]bool
}

func newRelay() *relay {
	return &relay{
		inboxes: make(map[string]chan domain.SignalMessage),
		sent:    make(map[string][]domain.SignalMessage),
		drop:    make(map[string]bool),
	}
}

type endpoint struct {
	id    string
	relay *relay
}

func (e endpoint) Send(_ context.Context, msg domain.SignalMessage) error {
	msg.From = e.id
	e.relay.mu.Lock()
	e.relay.sent[e.id] = append(e.relay.sent[e.id], msg)
	inbox, ok := e.relay.inboxes[msg.To]
	dropped := e.relay.drop[msg.To]
	e.relay.mu.Unlock()
	if ok && !dropped {
		inbox <- msg
	}
	return nil
}

func (r *relay) count(from, kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, msg := range r.sent[from] {
		if msg.Type == kind {
			n++
		}
	}
	return n
}

type participant struct {
	id      string
	manager *Manager
	media   *media.Controller
	states  *stateLog
	render  *renderLog
}

type stateLog struct {
	mu     sync.Mutex
	events map[string][]LinkState
}

func (s *stateLog) observe(id string, state LinkState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[id] = append(s.events[id], state)
}

func (s *stateLog) count(id string, state LinkState) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.events[id] {
		if st == state {
			n++
		}
	}
	return n
}

type renderLog struct {
	mu      sync.Mutex
	removed map[string]int
}

func (r *renderLog) TrackAdded(string, *webrtc.TrackRemote) {}

func (r *renderLog) ParticipantRemoved(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed[id]++
}

func (r *renderLog) removedCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removed[id]
}

func (r *relay) join(t *testing.T, id string, cfg Config, opts ...Option) *participant {
	t.Helper()
	log := slogdiscard.NewDiscardLogger()

	controller := media.NewController(media.NewSyntheticSource(), log)
	require.NoError(t, controller.AcquireLocal(context.Background()))

	states := &stateLog{events: make(map[string][]LinkState)}
	render := &renderLog{removed: make(map[string]int)}
	opts = append([]Option{WithStateObserver(states.observe), WithRenderer(render)}, opts...)

	manager, err := NewManager(cfg, endpoint{id: id, relay: r}, controller, log, opts...)
	require.NoError(t, err)
	controller.SetSwitcher(manager)

	inbox := make(chan domain.SignalMessage, 256)
	r.mu.Lock()
	r.inboxes[id] = inbox
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-inbox:
				switch msg.Type {
				case domain.TypeOffer:
					_ = manager.HandleOffer(ctx, msg.From, msg.SDP)
				case domain.TypeAnswer:
					_ = manager.HandleAnswer(ctx, msg.From, msg.SDP)
				case domain.TypeICECandidate:
					manager.HandleCandidate(ctx, msg.From, msg.Candidate)
				}
			}
		}
	}()

	t.Cleanup(func() {
		cancel()
		manager.CloseAll()
		controller.Stop()
	})

	return &participant{id: id, manager: manager, media: controller, states: states, render: render}
}

func waitState(t *testing.T, p *participant, remote string, want LinkState) {
	t.Helper()
	require.Eventually(t, func() bool {
		l := p.manager.Link(remote)
		return l != nil && l.State() == want
	}, 5*time.Second, 10*time.Millisecond, "%s -> %s never reached %s", p.id, remote, want)
}

func TestOfferAnswerReachesConnected(t *testing.T) {
	r := newRelay()
	a := r.join(t, "a", Config{})
	b := r.join(t, "b", Config{})

	require.NoError(t, a.manager.Prepare("b"))
	require.NoError(t, b.manager.Offer(context.Background(), "a"))

	waitState(t, b, "a", StateConnected)
	waitState(t, a, "b", StateConnected)

	for _, p := range []*participant{a, b} {
		for _, id := range p.manager.RemoteIDs() {
			audio, video := p.manager.Link(id).SenderCount()
			assert.Equal(t, 1, audio)
			assert.Equal(t, 1, video)
		}
	}

	assert.Equal(t, 1, b.states.count("a", StateHaveLocalOffer))
	assert.Equal(t, 1, a.states.count("b", StateHaveRemoteOffer))
}

func TestRepeatedOfferIsNoop(t *testing.T) {
	r := newRelay()
	a := r.join(t, "a", Config{})
	b := r.join(t, "b", Config{})
	ctx := context.Background()

	require.NoError(t, b.manager.Offer(ctx, "a"))
	require.NoError(t, b.manager.Offer(ctx, "a"))
	waitState(t, b, "a", StateConnected)
	require.NoError(t, b.manager.Offer(ctx, "a"))

	assert.Equal(t, 1, r.count("b", domain.TypeOffer))
	audio, video := b.manager.Link("a").SenderCount()
	assert.Equal(t, 1, audio)
	assert.Equal(t, 1, video)
	assert.Len(t, a.manager.RemoteIDs(), 1)
}

func TestCandidatesWaitForRemoteDescription(t *testing.T) {
	r := newRelay()
	a := r.join(t, "a", Config{})
	ctx := context.Background()

	require.NoError(t, a.manager.Prepare("x"))
	mid := "0"
	var index uint16
	early := webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}
	a.manager.HandleCandidate(ctx, "x", &early)
	a.manager.HandleCandidate(ctx, "nobody", &early)

	l := a.manager.Link("x")
	l.candMu.Lock()
	assert.Len(t, l.remotePending, 1)
	l.candMu.Unlock()
	assert.Nil(t, a.manager.Link("nobody"), "candidates never create links")

	remote, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer remote.Close()
	_, err = remote.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo)
	require.NoError(t, err)
	offer, err := remote.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, remote.SetLocalDescription(offer))

	require.NoError(t, a.manager.HandleOffer(ctx, "x", &offer))
	assert.Equal(t, StateConnected, l.State())

	l.candMu.Lock()
	assert.Empty(t, l.remotePending)
	assert.True(t, l.remoteSet)
	l.candMu.Unlock()

	bad := webrtc.ICECandidateInit{Candidate: "not a candidate"}
	a.manager.HandleCandidate(ctx, "x", &bad)
	assert.Equal(t, StateConnected, l.State())
	assert.Equal(t, 1, r.count("a", domain.TypeAnswer))
}

func TestUnexpectedNegotiationSteps(t *testing.T) {
	r := newRelay()
	a := r.join(t, "a", Config{})
	ctx := context.Background()

	sdp := &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}
	assert.ErrorIs(t, a.manager.HandleAnswer(ctx, "ghost", sdp), ErrLinkNotFound)

	require.NoError(t, a.manager.Prepare("b"))
	assert.ErrorIs(t, a.manager.HandleAnswer(ctx, "b", sdp), ErrUnexpectedState)

	garbage := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"}
	assert.ErrorIs(t, a.manager.HandleOffer(ctx, "c", garbage), ErrNegotiation)
}

func TestScreenShareReplacesTrackOnEveryLink(t *testing.T) {
	r := newRelay()
	a := r.join(t, "a", Config{})
	r.join(t, "b", Config{})
	r.join(t, "c", Config{})
	ctx := context.Background()

	require.NoError(t, a.manager.Offer(ctx, "b"))
	require.NoError(t, a.manager.Offer(ctx, "c"))
	waitState(t, a, "b", StateConnected)
	waitState(t, a, "c", StateConnected)

	camera := a.media.CameraStream().Video
	offers := r.count("a", domain.TypeOffer)

	require.NoError(t, a.media.StartScreenShare(ctx))
	screen := a.media.ScreenStream().Video
	for _, id := range []string{"b", "c"} {
		_, video := a.manager.Link(id).OutboundTracks()
		assert.Same(t, screen, video, id)
	}

	// a link created while sharing starts on the screen
	d := r.join(t, "d", Config{})
	require.NoError(t, a.manager.Offer(ctx, "d"))
	waitState(t, d, "a", StateConnected)
	_, video := a.manager.Link("d").OutboundTracks()
	assert.Same(t, screen, video)

	require.NoError(t, a.media.StopScreenShare(ctx))
	for _, id := range []string{"b", "c", "d"} {
		_, video := a.manager.Link(id).OutboundTracks()
		assert.Same(t, camera, video, id)
		audioCount, videoCount := a.manager.Link(id).SenderCount()
		assert.Equal(t, 1, audioCount)
		assert.Equal(t, 1, videoCount)
	}

	assert.Equal(t, offers+1, r.count("a", domain.TypeOffer), "only the new link negotiated")
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := newRelay()
	a := r.join(t, "a", Config{})
	b := r.join(t, "b", Config{})

	require.NoError(t, b.manager.Offer(context.Background(), "a"))
	waitState(t, a, "b", StateConnected)
	l := a.manager.Link("b")

	a.manager.Remove("b")
	a.manager.Remove("b")

	assert.Nil(t, a.manager.Link("b"))
	assert.Equal(t, StateClosed, l.State())
	assert.Equal(t, 1, a.render.removedCount("b"))
	assert.Equal(t, 1, a.states.count("b", StateClosed))

	// a track switch must skip closed links
	require.NoError(t, a.manager.ReplaceVideoTrack(context.Background(), nil))
}

func TestCloseAllRefusesNewLinks(t *testing.T) {
	r := newRelay()
	a := r.join(t, "a", Config{})

	require.NoError(t, a.manager.Prepare("b"))
	require.NoError(t, a.manager.Prepare("c"))
	a.manager.CloseAll()

	assert.Empty(t, a.manager.RemoteIDs())
	assert.ErrorIs(t, a.manager.Prepare("d"), ErrManagerClosed)
	assert.Equal(t, 1, a.render.removedCount("b"))
	assert.Equal(t, 1, a.render.removedCount("c"))
}

func TestNegotiationTimeoutFailsLink(t *testing.T) {
	r := newRelay()
	a := r.join(t, "a", Config{NegotiationTimeout: 50 * time.Millisecond})
	r.join(t, "b", Config{})
	r.mu.Lock()
	r.drop["b"] = true
	r.mu.Unlock()

	require.NoError(t, a.manager.Offer(context.Background(), "b"))
	waitState(t, a, "b", StateFailed)
	assert.Equal(t, 1, a.states.count("b", StateFailed))

	a.manager.Remove("b")
	assert.Nil(t, a.manager.Link("b"))
}

func TestDataChannelEnvelopes(t *testing.T) {
	r := newRelay()
	received := make(chan string, 1)
	a := r.join(t, "a", Config{}, WithDataHandler(func(from, kind string, payload msgpack.RawMessage) {
		var text string
		if err := DecodePayload(payload, &text); err == nil {
			received <- from + ":" + kind + ":" + text
		}
	}))
	b := r.join(t, "b", Config{})

	assert.ErrorIs(t, b.manager.SendData("a", "note", "x"), ErrLinkNotFound)

	require.NoError(t, b.manager.Offer(context.Background(), "a"))
	waitState(t, a, "b", StateConnected)

	opened := assert.Eventually(t, func() bool {
		return b.manager.SendData("a", "note", "hello") == nil
	}, 5*time.Second, 50*time.Millisecond)
	if !opened {
		t.Skip("no ICE connectivity between in-process peers")
	}

	select {
	case got := <-received:
		assert.Equal(t, "b:note:hello", got)
	case <-time.After(5 * time.Second):
		t.Fatal("envelope not delivered")
	}
}
