// Package session joins a room through the relay and keeps the set of peer
// links in step with the room membership it announces.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/immxrtalbeast/meshconf/internal/domain"
	"github.com/immxrtalbeast/meshconf/internal/media"
	"github.com/immxrtalbeast/meshconf/internal/peer"
	"github.com/immxrtalbeast/meshconf/internal/signaling"
	"github.com/immxrtalbeast/meshconf/lib/logger/sl"
	"golang.org/x/sync/errgroup"
)

var (
	ErrAlreadyJoined = errors.New("session already joined")
	ErrNotJoined     = errors.New("session not joined")
	ErrJoinRejected  = errors.New("join rejected by relay")
	ErrLeft          = errors.New("session left")
)

type Participant struct {
	ID          string
	DisplayName string
}

type RosterEvent struct {
	Participant Participant
	Joined      bool
}

type ChatHandler func(msg domain.ChatMessage)

type RosterHandler func(ev RosterEvent)

type Option func(*options)

type options struct {
	onChat    ChatHandler
	onRoster  RosterHandler
	peerOpts  []peer.Option
	maxOffers int
}

func WithChatHandler(fn ChatHandler) Option {
	return func(o *options) { o.onChat = fn }
}

func WithRosterHandler(fn RosterHandler) Option {
	return func(o *options) { o.onRoster = fn }
}

// WithPeerOptions forwards options to the peer link manager.
func WithPeerOptions(opts ...peer.Option) Option {
	return func(o *options) { o.peerOpts = append(o.peerOpts, opts...) }
}

// WithMaxParallelOffers bounds how many offers go out at once on join.
func WithMaxParallelOffers(n int) Option {
	return func(o *options) { o.maxOffers = n }
}

type joinResult struct {
	participants []string
	err          error
}

// Session is one participant's presence in one room.
type Session struct {
	channel signaling.Channel
	media   *media.Controller
	peers   *peer.Manager
	opts    options
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	roomID  string
	selfID  string
	roster  map[string]string
	joined  bool
	pending chan joinResult
	started bool
	leaving bool
	err     error

	done      chan struct{}
	leaveOnce sync.Once
}

// New wires a session over an open signaling channel. The media controller
// is owned by the session from here on.
func New(channel signaling.Channel, controller *media.Controller, cfg peer.Config, log *slog.Logger, opts ...Option) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	peers, err := peer.NewManager(cfg, channel, controller, log, o.peerOpts...)
	if err != nil {
		return nil, err
	}
	controller.SetSwitcher(peers)

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		channel: channel,
		media:   controller,
		peers:   peers,
		opts:    o,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		roster:  make(map[string]string),
		done:    make(chan struct{}),
	}, nil
}

// Join acquires local media, asks the relay for a place in roomID and
// waits for the list of participants already there. Offers to each of them
// are sent before Join returns.
func (s *Session) Join(ctx context.Context, roomID, displayName string) ([]string, error) {
	const op = "session.join"
	log := s.log.With(slog.String("op", op), slog.String("room_id", roomID))

	s.mu.Lock()
	if s.leaving {
		s.mu.Unlock()
		return nil, ErrLeft
	}
	if s.joined || s.pending != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	result := make(chan joinResult, 1)
	s.pending = result
	s.mu.Unlock()

	fail := func(err error) ([]string, error) {
		s.mu.Lock()
		if s.pending == result {
			s.pending = nil
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.media.AcquireLocal(ctx); err != nil {
		log.Error("failed to acquire local media", sl.Err(err))
		return fail(err)
	}

	s.mu.Lock()
	if s.leaving {
		s.mu.Unlock()
		return fail(ErrLeft)
	}
	if !s.started {
		s.started = true
		go s.run()
	}
	s.mu.Unlock()

	join := domain.SignalMessage{Type: domain.TypeJoinRoom, RoomID: roomID, DisplayName: displayName}
	if err := s.channel.Send(ctx, join); err != nil {
		return fail(err)
	}

	select {
	case res := <-result:
		if res.err != nil {
			return fail(res.err)
		}
		log.Info("joined room", slog.String("participant_id", s.SelfID()), slog.Int("others", len(res.participants)))
		return res.participants, nil
	case <-s.done:
		return fail(s.Err())
	case <-ctx.Done():
		return fail(ctx.Err())
	}
}

// SendChat posts a chat line to the room. The relay stamps it and echoes it
// back to every member, this one included.
func (s *Session) SendChat(ctx context.Context, text string) error {
	s.mu.Lock()
	roomID, joined := s.roomID, s.joined
	s.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}
	return s.channel.Send(ctx, domain.SignalMessage{Type: domain.TypeChatMessage, RoomID: roomID, Message: text})
}

// Leave announces the departure, closes every link, releases local media
// and closes the channel. It is idempotent.
func (s *Session) Leave(ctx context.Context) error {
	const op = "session.leave"

	s.leaveOnce.Do(func() {
		s.mu.Lock()
		s.leaving = true
		roomID, joined, started := s.roomID, s.joined, s.started
		s.joined = false
		s.mu.Unlock()

		if joined {
			err := s.channel.Send(ctx, domain.SignalMessage{Type: domain.TypeLeaveRoom, RoomID: roomID})
			if err != nil && !errors.Is(err, signaling.ErrRelayUnreachable) {
				s.log.Warn("failed to announce leave", slog.String("op", op), sl.Err(err))
			}
		}

		s.cancel()
		s.peers.CloseAll()
		s.media.Stop()
		if err := s.channel.Close(); err != nil {
			s.log.Debug("close signaling channel", slog.String("op", op), sl.Err(err))
		}

		if started {
			<-s.done
		} else {
			s.finish(ErrLeft)
		}
		s.log.Info("left room", slog.String("op", op), slog.String("room_id", roomID))
	})
	return nil
}

// Done is closed when the session stops receiving from the relay.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the session ended: ErrLeft after Leave, or an error
// wrapping signaling.ErrRelayUnreachable when the relay went away.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Media() *media.Controller {
	return s.media
}

func (s *Session) Peers() *peer.Manager {
	return s.peers
}

func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Roster returns the other participants the relay has announced, sorted by
// id. Names are only known for participants that joined after this one.
func (s *Session) Roster() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Participant, 0, len(s.roster))
	for id, name := range s.roster {
		out = append(out, Participant{ID: id, DisplayName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// run dispatches relay messages in arrival order until the channel ends.
func (s *Session) run() {
	for msg := range s.channel.Incoming() {
		s.dispatch(msg)
	}

	s.mu.Lock()
	leaving := s.leaving
	s.mu.Unlock()
	if leaving {
		s.finish(ErrLeft)
		return
	}
	s.log.Warn("relay closed the signaling channel")
	s.finish(fmt.Errorf("session: %w", signaling.ErrRelayUnreachable))
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.joined = false
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending != nil {
		pending <- joinResult{err: err}
	}
	close(s.done)
}

func (s *Session) dispatch(msg domain.SignalMessage) {
	log := s.log.With(slog.String("type", msg.Type))

	switch msg.Type {
	case domain.TypeExistingUsers:
		s.onExistingUsers(msg)

	case domain.TypeUserJoined:
		if msg.ParticipantID == "" {
			return
		}
		s.setRoster(msg.ParticipantID, msg.DisplayName, true)
		if err := s.peers.Prepare(msg.ParticipantID); err != nil {
			log.Debug("failed to prepare link", sl.Err(err))
		}

	case domain.TypeUserLeft:
		if msg.ParticipantID == "" {
			return
		}
		s.setRoster(msg.ParticipantID, "", false)
		s.peers.Remove(msg.ParticipantID)

	case domain.TypeOffer:
		if err := s.peers.HandleOffer(s.ctx, msg.From, msg.SDP); err != nil {
			log.Warn("failed to answer offer", slog.String("from", msg.From), sl.Err(err))
		}

	case domain.TypeAnswer:
		if err := s.peers.HandleAnswer(s.ctx, msg.From, msg.SDP); err != nil {
			log.Warn("failed to apply answer", slog.String("from", msg.From), sl.Err(err))
		}

	case domain.TypeICECandidate:
		s.peers.HandleCandidate(s.ctx, msg.From, msg.Candidate)

	case domain.TypeChatMessage:
		if s.opts.onChat != nil {
			s.opts.onChat(domain.ChatFromSignal(msg))
		}

	case domain.TypeError:
		s.mu.Lock()
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()
		if pending != nil {
			pending <- joinResult{err: fmt.Errorf("%w: %s", ErrJoinRejected, msg.Error)}
			return
		}
		log.Warn("relay reported an error", slog.String("error", msg.Error))

	default:
		log.Debug("ignoring message")
	}
}

// onExistingUsers offers to every earlier member. Newcomers always offer
// and earlier members only answer, so two participants never offer to each
// other.
func (s *Session) onExistingUsers(msg domain.SignalMessage) {
	s.mu.Lock()
	s.selfID = msg.ParticipantID
	s.roomID = msg.RoomID
	s.joined = true
	for id := range s.roster {
		delete(s.roster, id)
	}
	for _, id := range msg.Participants {
		s.roster[id] = ""
	}
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	var g errgroup.Group
	if s.opts.maxOffers > 0 {
		g.SetLimit(s.opts.maxOffers)
	}
	for _, id := range msg.Participants {
		id := id
		g.Go(func() error {
			if err := s.peers.Offer(s.ctx, id); err != nil {
				s.log.Warn("failed to offer", slog.String("remote_id", id), sl.Err(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if pending != nil {
		pending <- joinResult{participants: msg.Participants}
	}
}

func (s *Session) setRoster(id, name string, joined bool) {
	s.mu.Lock()
	if joined {
		s.roster[id] = name
	} else {
		if known, ok := s.roster[id]; ok && name == "" {
			name = known
		}
		delete(s.roster, id)
	}
	s.mu.Unlock()

	if s.opts.onRoster != nil {
		s.opts.onRoster(RosterEvent{Participant: Participant{ID: id, DisplayName: name}, Joined: joined})
	}
}
