package peer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/immxrtalbeast/meshconf/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

type eventKind int

const (
	eventLocalCandidate eventKind = iota
	eventRemoteTrack
	eventConnectionState
	eventDataChannel
	eventData
)

// linkEvent carries one callback from the connection object to the link's
// event loop.
type linkEvent struct {
	kind      eventKind
	candidate *webrtc.ICECandidate
	track     *webrtc.TrackRemote
	pcState   webrtc.PeerConnectionState
	channel   *webrtc.DataChannel
	data      []byte
}

// Link is the connection to one remote participant.
type Link struct {
	RemoteID string

	pc     *webrtc.PeerConnection
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	events chan linkEvent

	// negMu keeps offer, answer and remote description steps from overlapping.
	negMu sync.Mutex

	stateMu sync.RWMutex
	state   LinkState
	timer   *time.Timer

	// candMu orders remote candidates against the remote description and
	// local candidates against the outgoing offer or answer.
	candMu        sync.Mutex
	remoteSet     bool
	remotePending []webrtc.ICECandidateInit
	localSent     bool
	localPending  []webrtc.ICECandidateInit

	senderMu    sync.Mutex
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender

	dcMu sync.RWMutex
	dc   *webrtc.DataChannel

	closeOnce sync.Once
}

func (l *Link) State() LinkState {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

// setState moves the link forward unless it already ended.
func (l *Link) setState(next LinkState) bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.state.terminal() {
		return false
	}
	l.state = next
	return true
}

// transition changes state only from the expected one.
func (l *Link) transition(from, to LinkState) bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.state != from {
		return false
	}
	l.state = to
	return true
}

// armTimeout fails the link if it is still waiting for an answer after d.
func (l *Link) armTimeout(d time.Duration, onFail func()) {
	if d <= 0 {
		return
	}
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	l.timer = time.AfterFunc(d, func() {
		if l.transition(StateHaveLocalOffer, StateFailed) {
			onFail()
		}
	})
}

func (l *Link) stopTimeout() {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// OutboundTracks returns what the link currently sends.
func (l *Link) OutboundTracks() (audio, video webrtc.TrackLocal) {
	l.senderMu.Lock()
	defer l.senderMu.Unlock()
	if l.audioSender != nil {
		audio = l.audioSender.Track()
	}
	if l.videoSender != nil {
		video = l.videoSender.Track()
	}
	return audio, video
}

// SenderCount returns the number of outbound audio and video senders.
func (l *Link) SenderCount() (audio, video int) {
	for _, s := range l.pc.GetSenders() {
		if s.Track() == nil {
			continue
		}
		switch s.Track().Kind() {
		case webrtc.RTPCodecTypeAudio:
			audio++
		case webrtc.RTPCodecTypeVideo:
			video++
		}
	}
	return audio, video
}

// attach adds each outbound track once. A later call with a different
// video track swaps it in place.
func (l *Link) attach(audio, video webrtc.TrackLocal) error {
	l.senderMu.Lock()
	defer l.senderMu.Unlock()

	if audio != nil && l.audioSender == nil {
		sender, err := l.pc.AddTrack(audio)
		if err != nil {
			return err
		}
		l.audioSender = sender
		go drainRTCP(sender)
	}

	if video == nil {
		return nil
	}
	if l.videoSender == nil {
		sender, err := l.pc.AddTrack(video)
		if err != nil {
			return err
		}
		l.videoSender = sender
		go drainRTCP(sender)
		return nil
	}
	if l.videoSender.Track() != video {
		return l.videoSender.ReplaceTrack(video)
	}
	return nil
}

// replaceVideo swaps the outbound video without renegotiating. Links that
// have not attached yet are skipped; they read the current source when
// they do.
func (l *Link) replaceVideo(track webrtc.TrackLocal) error {
	l.senderMu.Lock()
	defer l.senderMu.Unlock()

	if l.videoSender == nil || l.State().terminal() {
		return nil
	}
	if l.videoSender.Track() == track {
		return nil
	}
	return l.videoSender.ReplaceTrack(track)
}

// addRemoteCandidate applies a candidate or holds it until the remote
// description is set. Rejected candidates are logged and dropped.
func (l *Link) addRemoteCandidate(candidate webrtc.ICECandidateInit) {
	l.candMu.Lock()
	defer l.candMu.Unlock()

	if !l.remoteSet {
		l.remotePending = append(l.remotePending, candidate)
		return
	}
	l.applyCandidate(candidate)
}

// remoteDescriptionSet flushes buffered candidates in arrival order.
func (l *Link) remoteDescriptionSet() {
	l.candMu.Lock()
	defer l.candMu.Unlock()

	l.remoteSet = true
	pending := l.remotePending
	l.remotePending = nil
	for _, candidate := range pending {
		l.applyCandidate(candidate)
	}
}

func (l *Link) applyCandidate(candidate webrtc.ICECandidateInit) {
	if err := l.pc.AddICECandidate(candidate); err != nil {
		l.log.Debug("dropping remote candidate", slog.String("candidate", candidate.Candidate), sl.Err(err))
	}
}

// queueLocalCandidate reports whether the candidate may be sent now.
func (l *Link) queueLocalCandidate(candidate webrtc.ICECandidateInit) bool {
	l.candMu.Lock()
	defer l.candMu.Unlock()

	if l.localSent {
		return true
	}
	l.localPending = append(l.localPending, candidate)
	return false
}

// localDescriptionSent returns the candidates gathered before the offer or
// answer went out; later ones are sent directly.
func (l *Link) localDescriptionSent() []webrtc.ICECandidateInit {
	l.candMu.Lock()
	defer l.candMu.Unlock()

	l.localSent = true
	pending := l.localPending
	l.localPending = nil
	return pending
}

func (l *Link) setDataChannel(dc *webrtc.DataChannel) {
	l.dcMu.Lock()
	defer l.dcMu.Unlock()
	l.dc = dc
}

func (l *Link) dataChannel() *webrtc.DataChannel {
	l.dcMu.RLock()
	defer l.dcMu.RUnlock()
	return l.dc
}

// push hands a callback to the event loop, or drops it once the link is
// closing.
func (l *Link) push(ev linkEvent) {
	select {
	case l.events <- ev:
	case <-l.ctx.Done():
	}
}

// close is idempotent. It cancels in-flight negotiation and releases the
// connection.
func (l *Link) close() bool {
	closed := false
	l.closeOnce.Do(func() {
		closed = true
		l.cancel()

		l.stateMu.Lock()
		l.state = StateClosed
		if l.timer != nil {
			l.timer.Stop()
		}
		l.stateMu.Unlock()

		if err := l.pc.Close(); err != nil {
			l.log.Debug("close peer connection", sl.Err(err))
		}
	})
	return closed
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
