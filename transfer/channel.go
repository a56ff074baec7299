package transfer

import "errors"

// ErrChannelClosed indicates a send on a closed channel.
var ErrChannelClosed = errors.New("channel closed")

// Channel is the encrypted frames' transport. Implementations carry
// opaque byte frames between exactly two peers, preserving frame
// boundaries. Delivery may fail silently; reliability is layered above
// through acknowledgements and retries.
type Channel interface {
	// Send transmits one frame to the peer.
	Send(frame []byte) error

	// SetReceiveHandler registers the callback invoked for each inbound
	// frame. The handler must not block; transfers copy the frame into
	// their event queue and return.
	SetReceiveHandler(handler func(frame []byte))

	// SetBackpressureHandler registers the callback invoked when the
	// channel saturates (true) and when it drains (false).
	SetBackpressureHandler(handler func(saturated bool))

	// SetCloseHandler registers the callback invoked when the channel
	// goes away, with the cause if known.
	SetCloseHandler(handler func(err error))

	// Close tears the channel down.
	Close() error
}
