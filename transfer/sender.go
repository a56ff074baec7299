package transfer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/pqxfer/chunk"
	"github.com/opd-ai/pqxfer/flow"
	"github.com/opd-ai/pqxfer/ratchet"
	"github.com/opd-ai/pqxfer/storage"
	"github.com/opd-ai/pqxfer/wire"
)

// Sender drives the outgoing side of one transfer.
type Sender struct {
	cfg      Config
	channel  Channel
	filePath string

	sess     *session
	splitter *chunk.Splitter
	manifest *chunk.Manifest
	ctrl     *flow.Controller
	speed    *speedTracker

	state    State
	finished bool
	result   error

	events chan event
	done   chan struct{}

	mu                sync.Mutex
	progressCallback  func(Progress)
	completeCallbacks []func(error)
}

// NewSender prepares a transfer of the file at path over channel. Call
// Start to begin.
func NewSender(channel Channel, path string, cfg Config) (*Sender, error) {
	cfg = cfg.normalized()
	if cfg.Identity == nil {
		return nil, errors.New("sender requires an identity to sign metadata")
	}

	s := &Sender{
		cfg:      cfg,
		channel:  channel,
		filePath: path,
		sess:     newSession(uuid.New(), ratchet.RoleInitiator),
		speed:    newSpeedTracker(cfg.TimeProvider),
		events:   make(chan event, 512),
		done:     make(chan struct{}),
	}
	return s, nil
}

// ID returns the transfer identifier.
func (s *Sender) ID() uuid.UUID { return s.sess.id }

// OnProgress registers a callback invoked from the event loop as chunks
// are acknowledged.
func (s *Sender) OnProgress(f func(Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressCallback = f
}

// OnComplete registers a callback invoked once the transfer finishes,
// with nil on success and a *TransferError otherwise. Callbacks run in
// registration order.
func (s *Sender) OnComplete(f func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeCallbacks = append(s.completeCallbacks, f)
}

// Fingerprint returns the session fingerprint for out-of-band
// comparison, empty until the handshake completes.
func (s *Sender) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.fingerprint
}

// State returns the current lifecycle phase.
func (s *Sender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start splits the source file and opens the handshake. The transfer
// then runs on its own goroutine until completion or failure.
func (s *Sender) Start() error {
	splitter, err := chunk.Split(s.filePath, chunk.Config{ChunkSize: s.cfg.ChunkSize})
	if err != nil {
		return fmt.Errorf("preparing source file: %w", err)
	}
	s.splitter = splitter
	s.manifest = splitter.Manifest()

	s.sess.log.WithFields(logrus.Fields{
		"function":    "Start",
		"file_name":   s.manifest.FileName,
		"file_size":   s.manifest.FileSize,
		"chunk_count": s.manifest.ChunkCount,
	}).Info("Starting outgoing transfer")

	s.channel.SetReceiveHandler(func(frame []byte) {
		s.post(event{frame: frame})
	})
	s.channel.SetBackpressureHandler(func(saturated bool) {
		s.post(event{op: func() { s.onBackpressure(saturated) }})
	})
	s.channel.SetCloseHandler(func(err error) {
		s.post(event{op: func() { s.onChannelClosed(err) }})
	})

	go s.run()

	s.post(event{op: s.sendHandshakeInit})
	return nil
}

// Wait blocks until the transfer finishes and returns its result.
func (s *Sender) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Pause suspends chunk dispatch locally. In-flight chunks may still be
// acknowledged.
func (s *Sender) Pause() {
	s.post(event{op: func() {
		if s.state != StateTransferring {
			return
		}
		s.ctrl.SetPaused(true)
		s.setState(StatePaused)
	}})
}

// Resume lifts a Pause.
func (s *Sender) Resume() {
	s.post(event{op: func() {
		if s.state != StatePaused {
			return
		}
		s.ctrl.SetPaused(false)
		s.setState(StateTransferring)
		s.dispatch()
	}})
}

// Cancel abandons the transfer, notifying the peer on a best-effort
// basis.
func (s *Sender) Cancel() {
	s.post(event{op: func() {
		if s.finished {
			return
		}
		s.notifyControl(wire.OpCancel, "sender cancelled")
		s.finish(failure(ReasonCancelled, nil))
	}})
}

func (s *Sender) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Sender) run() {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.events:
			if ev.op != nil {
				ev.op()
			} else {
				s.handleFrame(ev.frame)
			}
		case <-ticker.C:
			s.tick()
		case <-s.done:
			return
		}
		if s.finished {
			return
		}
	}
}

func (s *Sender) sendHandshakeInit() {
	init, err := s.sess.beginInitiator()
	if err != nil {
		s.finish(failure(ReasonHandshakeFailed, err))
		return
	}
	if err := s.sendPlain(wire.MsgHandshakeInit, init); err != nil {
		s.finish(failure(ReasonChannelLost, err))
	}
}

func (s *Sender) handleFrame(data []byte) {
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		s.sess.log.WithError(err).Warn("Dropping undecodable frame")
		return
	}
	if env.TransferID != s.sess.id {
		s.sess.log.WithField("frame_transfer_id", env.TransferID).
			Warn("Dropping frame for unknown transfer")
		return
	}

	switch env.Type {
	case wire.MsgHandshakeResponse:
		s.onHandshakeResponse(env)
	case wire.MsgMetadataAck:
		s.onMetadataAck(env)
	case wire.MsgAck:
		s.onAck(env)
	case wire.MsgControl:
		s.onControl(env)
	default:
		s.finish(failure(ReasonProtocolError,
			fmt.Errorf("unexpected %s message from receiver", env.Type)))
	}
}

func (s *Sender) onHandshakeResponse(env *wire.Envelope) {
	if s.state != StateHandshaking {
		return
	}

	var resp wire.HandshakeResponse
	if err := env.DecodeBody(&resp); err != nil {
		s.finish(failure(ReasonProtocolError, err))
		return
	}
	if err := s.sess.completeInitiator(&resp); err != nil {
		s.finish(failure(ReasonHandshakeFailed, err))
		return
	}

	kemPublic, err := s.sess.generateRatchetKEM()
	if err != nil {
		s.finish(failure(ReasonHandshakeFailed, err))
		return
	}

	metadata := &wire.Metadata{
		FileName:         s.manifest.FileName,
		FileSize:         s.manifest.FileSize,
		ChunkSize:        s.manifest.ChunkSize,
		ChunkCount:       s.manifest.ChunkCount,
		FileDigest:       s.manifest.FileDigest[:],
		ChunkDigests:     make([][]byte, 0, s.manifest.ChunkCount),
		RatchetKEMPublic: kemPublic,
	}
	for i := range s.manifest.Chunks {
		digest := s.manifest.Chunks[i].Digest
		metadata.ChunkDigests = append(metadata.ChunkDigests, digest[:])
	}
	if err := wire.SignMetadata(s.cfg.Identity, metadata); err != nil {
		s.finish(failure(ReasonProtocolError, err))
		return
	}

	if err := s.sendSealed(wire.MsgMetadata, metadata); err != nil {
		s.finish(failure(ReasonChannelLost, err))
		return
	}
	s.setState(StateNegotiating)
}

func (s *Sender) onMetadataAck(env *wire.Envelope) {
	if s.state != StateNegotiating {
		return
	}

	var ack wire.MetadataAck
	if err := s.sess.recvCipher.Open(env, &ack); err != nil {
		s.finish(failure(ReasonProtocolError, err))
		return
	}
	if !ack.Accept {
		s.finish(failure(ReasonVerificationRequired, errors.New(ack.Reason)))
		return
	}

	if err := s.sess.buildEngine(ack.RatchetKEMPublic, s.cfg.Ratchet); err != nil {
		s.finish(failure(ReasonHandshakeFailed, err))
		return
	}

	ctrl, err := flow.NewController(s.manifest.ChunkCount, s.cfg.Flow)
	if err != nil {
		s.finish(failure(ReasonProtocolError, err))
		return
	}
	s.ctrl = ctrl

	if len(ack.Have) > 0 {
		have, err := storage.BitmapFromBytes(ack.Have, s.manifest.ChunkCount)
		if err != nil {
			s.finish(failure(ReasonProtocolError, fmt.Errorf("resume bitmap: %w", err)))
			return
		}
		for i := uint64(0); i < s.manifest.ChunkCount; i++ {
			if have.IsSet(i) {
				s.ctrl.MarkHave(i)
			}
		}
		s.sess.log.WithFields(logrus.Fields{
			"function":     "onMetadataAck",
			"chunks_held":  have.Count(),
			"chunks_total": s.manifest.ChunkCount,
		}).Info("Resuming transfer, skipping chunks the receiver holds")
	}

	s.setState(StateTransferring)
	s.dispatch()
}

// dispatch seals and transmits everything the flow controller allows.
// Each transmission, including a retry, draws a fresh message key from
// the ratchet; the receiver's skipped-key cache covers the superseded
// ones.
func (s *Sender) dispatch() {
	if s.state != StateTransferring {
		return
	}

	for _, index := range s.ctrl.NextBatch() {
		payload, err := s.splitter.ReadChunk(index)
		if err != nil {
			s.finish(failure(ReasonProtocolError, err))
			return
		}

		compressed := false
		if s.cfg.Compress {
			payload, compressed = chunk.Compress(payload)
		}

		key, err := s.sess.engine.NextSendKey()
		if err != nil {
			s.finish(failure(ReasonProtocolError, err))
			return
		}

		frame, err := s.sess.transcoder.EncodeChunk(key, index, payload, compressed)
		if err != nil {
			key.Consume()
			s.finish(failure(ReasonProtocolError, err))
			return
		}

		env, err := wire.NewEnvelope(wire.MsgData, s.sess.id, frame)
		if err != nil {
			key.Consume()
			s.finish(failure(ReasonProtocolError, err))
			return
		}
		data, err := env.Encode()
		if err != nil {
			key.Consume()
			s.finish(failure(ReasonProtocolError, err))
			return
		}

		sendErr := s.channel.Send(data)
		key.Consume()
		if sendErr != nil {
			s.finish(failure(ReasonChannelLost, sendErr))
			return
		}
	}
}

func (s *Sender) onAck(env *wire.Envelope) {
	if s.state != StateTransferring && s.state != StatePaused {
		return
	}

	var ack wire.Ack
	if err := s.sess.recvCipher.Open(env, &ack); err != nil {
		s.sess.log.WithError(err).Warn("Dropping unauthenticated ack")
		return
	}
	if err := s.ctrl.Ack(ack.ChunkIndex); err != nil {
		s.sess.log.WithFields(logrus.Fields{
			"function":    "onAck",
			"chunk_index": ack.ChunkIndex,
			"error":       err,
		}).Warn("Ignoring unexpected acknowledgement")
		return
	}

	s.reportProgress()
	s.dispatch()
}

func (s *Sender) onControl(env *wire.Envelope) {
	if s.sess.recvCipher == nil {
		return
	}

	var ctl wire.Control
	if err := s.sess.recvCipher.Open(env, &ctl); err != nil {
		s.sess.log.WithError(err).Warn("Dropping unauthenticated control message")
		return
	}
	if err := ctl.Validate(); err != nil {
		s.finish(failure(ReasonProtocolError, err))
		return
	}

	s.sess.log.WithFields(logrus.Fields{
		"function": "onControl",
		"op":       ctl.Op,
	}).Debug("Control message from receiver")

	switch ctl.Op {
	case wire.OpPause:
		if s.state == StateTransferring {
			s.ctrl.SetPaused(true)
			s.setState(StatePaused)
		}
	case wire.OpResume:
		if s.state == StatePaused {
			s.ctrl.SetPaused(false)
			s.setState(StateTransferring)
			s.dispatch()
		}
	case wire.OpCancel:
		s.finish(failure(ReasonCancelled, errors.New(ctl.Detail)))
	case wire.OpDone:
		s.finish(nil)
	case wire.OpIntegrityFail:
		s.finish(failure(ReasonIntegrityFailed, errors.New(ctl.Detail)))
	}
}

func (s *Sender) tick() {
	if s.state != StateTransferring && s.state != StatePaused {
		return
	}

	if failed := s.ctrl.CheckTimeouts(); len(failed) > 0 {
		s.notifyControl(wire.OpCancel, "chunk delivery exhausted retries")
		s.finish(failure(ReasonPermanentlyStalled,
			fmt.Errorf("%d chunks undeliverable", len(failed))))
		return
	}
	s.dispatch()
}

func (s *Sender) onBackpressure(saturated bool) {
	if s.ctrl == nil {
		return
	}
	s.ctrl.SetSaturated(saturated)
	if !saturated {
		s.dispatch()
	}
}

func (s *Sender) onChannelClosed(err error) {
	if s.finished {
		return
	}
	s.finish(failure(ReasonChannelLost, err))
}

func (s *Sender) reportProgress() {
	acked := s.ctrl.Acked()
	bytes := acked * uint64(s.manifest.ChunkSize)
	if bytes > s.manifest.FileSize {
		bytes = s.manifest.FileSize
	}

	s.mu.Lock()
	callback := s.progressCallback
	s.mu.Unlock()
	if callback == nil {
		return
	}
	callback(Progress{
		TransferredBytes: bytes,
		TotalBytes:       s.manifest.FileSize,
		ChunksDone:       acked,
		ChunkCount:       s.manifest.ChunkCount,
		Speed:            s.speed.update(bytes),
	})
}

func (s *Sender) notifyControl(op wire.ControlOp, detail string) {
	if s.sess.sendCipher == nil {
		return
	}
	if err := s.sendSealed(wire.MsgControl, &wire.Control{Op: op, Detail: detail}); err != nil {
		s.sess.log.WithError(err).Debug("Control notification not delivered")
	}
}

func (s *Sender) sendPlain(msgType wire.MessageType, body interface{}) error {
	env, err := wire.NewEnvelope(msgType, s.sess.id, body)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return s.channel.Send(data)
}

func (s *Sender) sendSealed(msgType wire.MessageType, body interface{}) error {
	env, err := s.sess.sendCipher.Seal(msgType, body)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return s.channel.Send(data)
}

func (s *Sender) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// finish ends the transfer exactly once: key material is wiped on every
// path through here, success and failure alike.
func (s *Sender) finish(err error) {
	if s.finished {
		return
	}
	s.finished = true

	if err == nil {
		s.setState(StateCompleted)
	} else {
		var terr *TransferError
		if errors.As(err, &terr) && terr.Reason == ReasonCancelled {
			s.setState(StateCancelled)
		} else {
			s.setState(StateFailed)
		}
	}

	s.sess.destroy()
	if s.splitter != nil {
		s.splitter.Close()
	}

	s.mu.Lock()
	s.result = err
	callbacks := append([]func(error){}, s.completeCallbacks...)
	s.mu.Unlock()

	entry := s.sess.log.WithField("function", "finish")
	if err != nil {
		entry.WithError(err).Warn("Transfer ended without completing")
	} else {
		entry.Info("Transfer completed")
	}

	close(s.done)
	for _, callback := range callbacks {
		callback(err)
	}
}
