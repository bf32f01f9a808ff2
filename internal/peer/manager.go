// Package peer keeps one WebRTC connection per remote participant and
// drives the offer, answer and candidate exchange for each of them.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/immxrtalbeast/meshconf/internal/domain"
	"github.com/immxrtalbeast/meshconf/lib/logger/pionlog"
	"github.com/immxrtalbeast/meshconf/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

var (
	ErrNegotiation        = errors.New("negotiation failed")
	ErrUnexpectedState    = errors.New("unexpected link state")
	ErrLinkNotFound       = errors.New("peer link not found")
	ErrManagerClosed      = errors.New("peer manager closed")
	ErrDataChannelNotOpen = errors.New("data channel not open")
)

const linkEventBuffer = 32

// Signaler delivers protocol messages to the relay.
type Signaler interface {
	Send(ctx context.Context, msg domain.SignalMessage) error
}

// TrackSource supplies the outbound tracks a new link must carry.
type TrackSource interface {
	WithOutboundTracks(fn func(audio, video webrtc.TrackLocal) error) error
}

// Renderer receives remote media as it appears and disappears.
type Renderer interface {
	TrackAdded(participantID string, track *webrtc.TrackRemote)
	ParticipantRemoved(participantID string)
}

// StateObserver is told about every link state change. It must not block.
type StateObserver func(participantID string, state LinkState)

type Option func(*Manager)

func WithRenderer(r Renderer) Option {
	return func(m *Manager) { m.renderer = r }
}

func WithStateObserver(fn StateObserver) Option {
	return func(m *Manager) { m.onState = fn }
}

func WithDataHandler(fn DataHandler) Option {
	return func(m *Manager) { m.onData = fn }
}

// Manager owns the set of links keyed by remote participant id.
type Manager struct {
	api      *webrtc.API
	cfg      Config
	signaler Signaler
	tracks   TrackSource
	renderer Renderer
	onState  StateObserver
	onData   DataHandler
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	links  map[string]*Link
	closed bool
}

func NewManager(cfg Config, signaler Signaler, tracks TrackSource, log *slog.Logger, opts ...Option) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	settings := webrtc.SettingEngine{LoggerFactory: pionlog.NewFactory(log)}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		api:      webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithSettingEngine(settings)),
		cfg:      cfg,
		signaler: signaler,
		tracks:   tracks,
		renderer: discardRenderer{},
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		links:    make(map[string]*Link),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Prepare creates the link for a participant expected to offer, so its
// offer finds the connection object already in place.
func (m *Manager) Prepare(remoteID string) error {
	_, err := m.getOrCreate(remoteID)
	return err
}

// Offer starts negotiation towards remoteID. It does nothing unless the
// link is still NEW, so repeated calls never add tracks or offers.
func (m *Manager) Offer(ctx context.Context, remoteID string) error {
	const op = "peer.manager.offer"

	l, err := m.getOrCreate(remoteID)
	if err != nil {
		return err
	}

	l.negMu.Lock()
	defer l.negMu.Unlock()

	if l.State() != StateNew {
		return nil
	}

	if err := m.attach(l); err != nil {
		return m.negotiationErr(l, op, err)
	}

	dc, err := l.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return m.negotiationErr(l, op, err)
	}
	m.bindDataChannel(l, dc)

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return m.negotiationErr(l, op, err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return m.negotiationErr(l, op, err)
	}
	if !l.transition(StateNew, StateHaveLocalOffer) {
		return nil
	}
	m.notify(l, StateHaveLocalOffer)

	if err := m.signaler.Send(ctx, domain.SignalMessage{Type: domain.TypeOffer, To: remoteID, SDP: &offer}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.sendPendingCandidates(l)

	l.armTimeout(m.cfg.NegotiationTimeout, func() {
		l.log.Warn("no answer before timeout", slog.Duration("timeout", m.cfg.NegotiationTimeout))
		m.notify(l, StateFailed)
	})
	return nil
}

// HandleOffer answers a remote offer, creating the link if needed.
func (m *Manager) HandleOffer(ctx context.Context, from string, sdp *webrtc.SessionDescription) error {
	const op = "peer.manager.handleOffer"
	if sdp == nil {
		return fmt.Errorf("%s: %w: empty sdp", op, ErrNegotiation)
	}

	l, err := m.getOrCreate(from)
	if err != nil {
		return err
	}

	l.negMu.Lock()
	defer l.negMu.Unlock()

	if state := l.State(); state != StateNew {
		return fmt.Errorf("%s: %w: %s", op, ErrUnexpectedState, state)
	}

	if err := m.attach(l); err != nil {
		return m.negotiationErr(l, op, err)
	}
	if err := l.pc.SetRemoteDescription(*sdp); err != nil {
		return m.negotiationErr(l, op, err)
	}
	if !l.transition(StateNew, StateHaveRemoteOffer) {
		return nil
	}
	m.notify(l, StateHaveRemoteOffer)
	l.remoteDescriptionSet()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return m.negotiationErr(l, op, err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return m.negotiationErr(l, op, err)
	}

	if err := m.signaler.Send(ctx, domain.SignalMessage{Type: domain.TypeAnswer, To: from, SDP: &answer}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.sendPendingCandidates(l)

	if l.transition(StateHaveRemoteOffer, StateConnected) {
		m.notify(l, StateConnected)
	}
	return nil
}

// HandleAnswer completes an offer this side sent.
func (m *Manager) HandleAnswer(_ context.Context, from string, sdp *webrtc.SessionDescription) error {
	const op = "peer.manager.handleAnswer"
	if sdp == nil {
		return fmt.Errorf("%s: %w: empty sdp", op, ErrNegotiation)
	}

	l := m.Link(from)
	if l == nil {
		return fmt.Errorf("%s: %w: %s", op, ErrLinkNotFound, from)
	}

	l.negMu.Lock()
	defer l.negMu.Unlock()

	if state := l.State(); state != StateHaveLocalOffer {
		return fmt.Errorf("%s: %w: %s", op, ErrUnexpectedState, state)
	}

	if err := l.pc.SetRemoteDescription(*sdp); err != nil {
		return m.negotiationErr(l, op, err)
	}
	l.stopTimeout()
	l.remoteDescriptionSet()

	if l.transition(StateHaveLocalOffer, StateConnected) {
		m.notify(l, StateConnected)
	}
	return nil
}

// HandleCandidate applies a trickled candidate on a best-effort basis.
// Candidates for unknown links are dropped, bad ones are logged and
// dropped, and neither affects the link.
func (m *Manager) HandleCandidate(_ context.Context, from string, candidate *webrtc.ICECandidateInit) {
	if candidate == nil {
		return
	}
	l := m.Link(from)
	if l == nil {
		m.log.Debug("candidate for unknown link", slog.String("from", from))
		return
	}
	l.addRemoteCandidate(*candidate)
}

// ReplaceVideoTrack swaps the outbound video on every link without
// renegotiation.
func (m *Manager) ReplaceVideoTrack(_ context.Context, track webrtc.TrackLocal) error {
	var errs []error
	for _, l := range m.snapshot() {
		if err := l.replaceVideo(track); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.RemoteID, err))
		}
	}
	return errors.Join(errs...)
}

// Remove closes and forgets the link. Removing twice is a no-op.
func (m *Manager) Remove(remoteID string) {
	m.mu.Lock()
	l, ok := m.links[remoteID]
	delete(m.links, remoteID)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.closeLink(l)
}

// CloseAll tears down every link and refuses new ones.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.links = make(map[string]*Link)
	m.mu.Unlock()

	for _, l := range links {
		m.closeLink(l)
	}
	m.cancel()
}

func (m *Manager) Link(remoteID string) *Link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.links[remoteID]
}

// States returns the state of every link.
func (m *Manager) States() map[string]LinkState {
	result := make(map[string]LinkState)
	for _, l := range m.snapshot() {
		result[l.RemoteID] = l.State()
	}
	return result
}

// RemoteIDs returns the ids of every link, sorted.
func (m *Manager) RemoteIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (m *Manager) snapshot() []*Link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	return links
}

// getOrCreate inserts the link before returning it, so at most one
// connection object ever exists per remote id.
func (m *Manager) getOrCreate(remoteID string) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if l, ok := m.links[remoteID]; ok {
		return l, nil
	}

	l, err := m.newLink(remoteID)
	if err != nil {
		return nil, err
	}
	m.links[remoteID] = l
	return l, nil
}

func (m *Manager) newLink(remoteID string) (*Link, error) {
	pc, err := m.api.NewPeerConnection(webrtc.Configuration{ICEServers: m.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	l := &Link{
		RemoteID: remoteID,
		pc:       pc,
		log:      m.log.With(slog.String("remote_id", remoteID)),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan linkEvent, linkEventBuffer),
		state:    StateNew,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		l.push(linkEvent{kind: eventLocalCandidate, candidate: c})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		l.push(linkEvent{kind: eventRemoteTrack, track: track})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		l.push(linkEvent{kind: eventConnectionState, pcState: state})
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		l.push(linkEvent{kind: eventDataChannel, channel: dc})
	})

	go m.run(l)

	l.log.Debug("link created")
	m.notify(l, StateNew)
	return l, nil
}

// run processes a link's callbacks one at a time until it closes.
func (m *Manager) run(l *Link) {
	for {
		select {
		case <-l.ctx.Done():
			return
		case ev := <-l.events:
			m.handleEvent(l, ev)
		}
	}
}

func (m *Manager) handleEvent(l *Link, ev linkEvent) {
	switch ev.kind {
	case eventLocalCandidate:
		candidate := ev.candidate.ToJSON()
		if l.queueLocalCandidate(candidate) {
			m.sendCandidate(l, candidate)
		}
	case eventRemoteTrack:
		l.log.Debug("remote track", slog.String("kind", ev.track.Kind().String()), slog.String("track", ev.track.ID()))
		m.renderer.TrackAdded(l.RemoteID, ev.track)
	case eventConnectionState:
		l.log.Debug("connection state", slog.String("state", ev.pcState.String()))
		if ev.pcState == webrtc.PeerConnectionStateFailed && l.setState(StateFailed) {
			l.log.Warn("peer link failed")
			m.notify(l, StateFailed)
		}
	case eventDataChannel:
		if ev.channel.Label() == dataChannelLabel {
			m.bindDataChannel(l, ev.channel)
		}
	case eventData:
		m.dispatchData(l, ev.data)
	}
}

func (m *Manager) attach(l *Link) error {
	if m.tracks == nil {
		return nil
	}
	return m.tracks.WithOutboundTracks(l.attach)
}

func (m *Manager) sendPendingCandidates(l *Link) {
	for _, candidate := range l.localDescriptionSent() {
		m.sendCandidate(l, candidate)
	}
}

func (m *Manager) sendCandidate(l *Link, candidate webrtc.ICECandidateInit) {
	err := m.signaler.Send(l.ctx, domain.SignalMessage{
		Type:      domain.TypeICECandidate,
		To:        l.RemoteID,
		Candidate: &candidate,
	})
	if err != nil && l.ctx.Err() == nil {
		l.log.Debug("failed to send candidate", sl.Err(err))
	}
}

// negotiationErr drops errors caused by the link being torn down.
func (m *Manager) negotiationErr(l *Link, op string, err error) error {
	if l.ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, ErrNegotiation, err)
}

func (m *Manager) closeLink(l *Link) {
	if !l.close() {
		return
	}
	l.log.Debug("link closed")
	m.renderer.ParticipantRemoved(l.RemoteID)
	m.notify(l, StateClosed)
}

func (m *Manager) notify(l *Link, state LinkState) {
	if m.onState != nil {
		m.onState(l.RemoteID, state)
	}
}

type discardRenderer struct{}

func (discardRenderer) TrackAdded(_ string, track *webrtc.TrackRemote) {
	go func() {
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
		}
	}()
}

func (discardRenderer) ParticipantRemoved(string) {}
