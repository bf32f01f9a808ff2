package peer

import (
	"errors"
	"fmt"

	"github.com/immxrtalbeast/meshconf/lib/logger/sl"
	"github.com/pion/webrtc/v3"
	"github.com/vmihailenco/msgpack/v5"
)

const dataChannelLabel = "data"

// Envelope is the frame sent on the per-link data channel.
type Envelope struct {
	Kind    string             `msgpack:"kind"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// DataHandler receives decoded envelopes from remote participants.
type DataHandler func(participantID, kind string, payload msgpack.RawMessage)

// DecodePayload unpacks an envelope payload into v.
func DecodePayload(payload msgpack.RawMessage, v any) error {
	return msgpack.Unmarshal(payload, v)
}

func encodeEnvelope(kind string, payload any) ([]byte, error) {
	env := Envelope{Kind: kind}
	if payload != nil {
		raw, err := msgpack.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return msgpack.Marshal(&env)
}

// SendData sends one envelope to remoteID over its data channel.
func (m *Manager) SendData(remoteID, kind string, payload any) error {
	l := m.Link(remoteID)
	if l == nil {
		return fmt.Errorf("%w: %s", ErrLinkNotFound, remoteID)
	}

	frame, err := encodeEnvelope(kind, payload)
	if err != nil {
		return err
	}
	return sendFrame(l, frame)
}

// BroadcastData sends one envelope to every link whose channel is open.
func (m *Manager) BroadcastData(kind string, payload any) error {
	frame, err := encodeEnvelope(kind, payload)
	if err != nil {
		return err
	}

	var errs []error
	for _, l := range m.snapshot() {
		if err := sendFrame(l, frame); err != nil && !errors.Is(err, ErrDataChannelNotOpen) {
			errs = append(errs, fmt.Errorf("%s: %w", l.RemoteID, err))
		}
	}
	return errors.Join(errs...)
}

func sendFrame(l *Link, frame []byte) error {
	dc := l.dataChannel()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrDataChannelNotOpen
	}
	return dc.Send(frame)
}

func (m *Manager) bindDataChannel(l *Link, dc *webrtc.DataChannel) {
	l.setDataChannel(dc)
	dc.OnOpen(func() {
		l.log.Debug("data channel open")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.push(linkEvent{kind: eventData, data: msg.Data})
	})
}

func (m *Manager) dispatchData(l *Link, frame []byte) {
	var env Envelope
	if err := msgpack.Unmarshal(frame, &env); err != nil {
		l.log.Debug("dropping malformed data frame", sl.Err(err))
		return
	}
	if m.onData == nil {
		return
	}
	m.onData(l.RemoteID, env.Kind, env.Payload)
}
