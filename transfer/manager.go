package transfer

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Manager tracks concurrent transfers sharing one configuration. Each
// transfer runs over its own channel with fully independent session
// keys; the manager only provides bookkeeping and teardown.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	senders   map[uuid.UUID]*Sender
	receivers []*Receiver
}

// NewManager returns a manager applying cfg to every transfer it
// starts.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:     cfg.normalized(),
		senders: make(map[uuid.UUID]*Sender),
	}
}

// Send starts an outgoing transfer of the file at path over channel.
func (m *Manager) Send(channel Channel, path string) (*Sender, error) {
	s, err := NewSender(channel, path, m.cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.senders[s.ID()] = s
	m.mu.Unlock()

	s.OnComplete(func(error) {
		m.mu.Lock()
		delete(m.senders, s.ID())
		m.mu.Unlock()
	})
	return s, nil
}

// Receive starts listening for one incoming transfer on channel.
func (m *Manager) Receive(channel Channel) *Receiver {
	r := NewReceiver(channel, m.cfg)
	r.Start()

	m.mu.Lock()
	m.receivers = append(m.receivers, r)
	m.mu.Unlock()
	return r
}

// Active returns how many transfers have not yet finished.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.senders)
	for _, r := range m.receivers {
		select {
		case <-r.done:
		default:
			n++
		}
	}
	return n
}

// CancelAll cancels every transfer still running.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	senders := make([]*Sender, 0, len(m.senders))
	for _, s := range m.senders {
		senders = append(senders, s)
	}
	receivers := append([]*Receiver(nil), m.receivers...)
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "CancelAll",
		"count":    len(senders) + len(receivers),
	}).Info("Cancelling active transfers")

	for _, s := range senders {
		s.Cancel()
	}
	for _, r := range receivers {
		select {
		case <-r.done:
		default:
			r.Cancel()
		}
	}
}
