package transfer

import (
	"sync"
)

// pipeEnd is one side of an in-process channel pair. Frames cross
// through a buffered queue drained by a pump goroutine, so Send never
// runs the peer's handler on the caller's stack.
type pipeEnd struct {
	mu        sync.Mutex
	peer      *pipeEnd
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once

	receiveHandler      func([]byte)
	backpressureHandler func(bool)
	closeHandler        func(error)

	// transform, when set, may mutate or drop outbound frames. Tests
	// use it to inject corruption and loss.
	transform func([]byte) ([]byte, bool)
}

// NewPipe returns two connected in-process channels. Frames sent on one
// end arrive at the other in order.
func NewPipe() (Channel, Channel) {
	a := newPipeEnd()
	b := newPipeEnd()
	a.peer = b
	b.peer = a
	go a.pump()
	go b.pump()
	return a, b
}

func newPipeEnd() *pipeEnd {
	return &pipeEnd{
		queue: make(chan []byte, 256),
		done:  make(chan struct{}),
	}
}

func (p *pipeEnd) pump() {
	for {
		select {
		case frame := <-p.queue:
			p.mu.Lock()
			handler := p.receiveHandler
			p.mu.Unlock()
			if handler != nil {
				handler(frame)
			}
		case <-p.done:
			return
		}
	}
}

func (p *pipeEnd) Send(frame []byte) error {
	select {
	case <-p.done:
		return ErrChannelClosed
	default:
	}

	p.mu.Lock()
	transform := p.transform
	p.mu.Unlock()

	out := append([]byte(nil), frame...)
	if transform != nil {
		var drop bool
		out, drop = transform(out)
		if drop {
			return nil
		}
	}

	select {
	case p.peer.queue <- out:
		return nil
	case <-p.peer.done:
		return ErrChannelClosed
	}
}

func (p *pipeEnd) SetReceiveHandler(handler func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receiveHandler = handler
}

func (p *pipeEnd) SetBackpressureHandler(handler func(bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backpressureHandler = handler
}

func (p *pipeEnd) SetCloseHandler(handler func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeHandler = handler
}

// setTransform installs a frame interceptor for tests.
func (p *pipeEnd) setTransform(f func([]byte) ([]byte, bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transform = f
}

// setSaturated drives the backpressure handler, for tests.
func (p *pipeEnd) setSaturated(saturated bool) {
	p.mu.Lock()
	handler := p.backpressureHandler
	p.mu.Unlock()
	if handler != nil {
		handler(saturated)
	}
}

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		handler := p.closeHandler
		p.mu.Unlock()
		if handler != nil {
			handler(nil)
		}
		p.peer.closeOnce.Do(func() {
			close(p.peer.done)
			p.peer.mu.Lock()
			peerHandler := p.peer.closeHandler
			p.peer.mu.Unlock()
			if peerHandler != nil {
				peerHandler(ErrChannelClosed)
			}
		})
	})
	return nil
}
