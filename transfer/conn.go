package transfer

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/pqxfer/limits"
)

// maxConnFrame bounds inbound frames on a network channel. Envelope
// encoding overhead on top of the largest data frame fits well inside
// this.
const maxConnFrame = limits.MaxFrameSize

// ConnChannel adapts a stream connection into a frame-preserving
// Channel using a four-byte big-endian length prefix.
type ConnChannel struct {
	conn net.Conn

	mu      sync.Mutex
	started bool
	closed  bool

	receiveHandler      func([]byte)
	backpressureHandler func(bool)
	closeHandler        func(error)

	writeMu sync.Mutex
}

// NewConnChannel wraps conn. Call Start after registering handlers to
// begin the read loop.
func NewConnChannel(conn net.Conn) *ConnChannel {
	return &ConnChannel{conn: conn}
}

// Start launches the read loop. Frames arriving before Start are
// buffered by the operating system.
func (c *ConnChannel) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	go c.readLoop()
}

func (c *ConnChannel) readLoop() {
	var header [4]byte
	for {
		if _, err := io.ReadFull(c.conn, header[:]); err != nil {
			c.fail(err)
			return
		}
		length := binary.BigEndian.Uint32(header[:])
		if length == 0 || length > maxConnFrame {
			c.fail(fmt.Errorf("inbound frame length %d out of range", length))
			return
		}

		frame := make([]byte, length)
		if _, err := io.ReadFull(c.conn, frame); err != nil {
			c.fail(err)
			return
		}

		c.mu.Lock()
		handler := c.receiveHandler
		c.mu.Unlock()
		if handler != nil {
			handler(frame)
		}
	}
}

func (c *ConnChannel) fail(err error) {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	handler := c.closeHandler
	c.mu.Unlock()

	if alreadyClosed {
		return
	}
	c.conn.Close()
	logrus.WithFields(logrus.Fields{
		"function": "readLoop",
		"remote":   c.conn.RemoteAddr(),
		"error":    err,
	}).Debug("Connection channel closed")
	if handler != nil {
		handler(err)
	}
}

// Send transmits one length-prefixed frame.
func (c *ConnChannel) Send(frame []byte) error {
	if len(frame) == 0 || len(frame) > maxConnFrame {
		return fmt.Errorf("outbound frame length %d out of range", len(frame))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.mu.Unlock()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(frame)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// SetReceiveHandler registers the inbound frame callback.
func (c *ConnChannel) SetReceiveHandler(handler func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiveHandler = handler
}

// SetBackpressureHandler registers the saturation callback. Stream
// connections surface backpressure through blocking writes instead, so
// the handler is retained but never invoked.
func (c *ConnChannel) SetBackpressureHandler(handler func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backpressureHandler = handler
}

// SetCloseHandler registers the callback for connection teardown.
func (c *ConnChannel) SetCloseHandler(handler func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeHandler = handler
}

// Close shuts the connection down.
func (c *ConnChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
