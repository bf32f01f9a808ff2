// Package signaling carries protocol messages between a participant and
// the relay.
package signaling

import (
	"context"
	"errors"

	"github.com/immxrtalbeast/meshconf/internal/domain"
)

// ErrRelayUnreachable means no further signaling is possible on the channel.
var ErrRelayUnreachable = errors.New("relay unreachable")

// Channel is an ordered, reliable duplex message stream to the relay.
// Incoming is closed when the channel ends for any reason.
type Channel interface {
	Send(ctx context.Context, msg domain.SignalMessage) error
	Incoming() <-chan domain.SignalMessage
	Close() error
}
