package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/pqxfer/chunk"
	"github.com/opd-ai/pqxfer/ratchet"
	"github.com/opd-ai/pqxfer/storage"
	"github.com/opd-ai/pqxfer/wire"
)

// Offer describes an incoming file so the application can decide whether
// to accept it and verify the peer out of band.
type Offer struct {
	FileName   string
	FileSize   uint64
	ChunkSize  uint32
	ChunkCount uint64

	// PeerIdentity is the sender's Ed25519 public key from the signed
	// metadata.
	PeerIdentity []byte

	// Fingerprint is the session fingerprint; comparing it with the
	// sender over another channel defeats an interposed attacker.
	Fingerprint string

	// Resuming is true when a matching partial transfer was found on
	// disk; ChunksHeld counts the chunks it already contains.
	Resuming   bool
	ChunksHeld uint64
}

// Receiver drives the incoming side of one transfer.
type Receiver struct {
	cfg     Config
	channel Channel

	sess      *session
	metadata  *wire.Metadata
	assembler *chunk.Assembler
	received  *storage.Bitmap
	record    *storage.TransferRecord
	speed     *speedTracker

	state    State
	finished bool
	result   error
	outPath  string

	events chan event
	done   chan struct{}

	mu                sync.Mutex
	offerCallback     func(Offer) bool
	progressCallback  func(Progress)
	completeCallbacks []func(error)
}

// NewReceiver prepares to accept one transfer over channel. Call Start
// to begin listening for the sender's handshake.
func NewReceiver(channel Channel, cfg Config) *Receiver {
	return &Receiver{
		cfg:     cfg.normalized(),
		channel: channel,
		events:  make(chan event, 512),
		done:    make(chan struct{}),
	}
}

// OnOffer registers the acceptance policy. When no callback is set every
// offer is accepted.
func (r *Receiver) OnOffer(f func(Offer) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offerCallback = f
}

// OnProgress registers a callback invoked as verified chunks arrive.
func (r *Receiver) OnProgress(f func(Progress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progressCallback = f
}

// OnComplete registers a callback invoked once the transfer finishes,
// with nil on success and a *TransferError otherwise. Callbacks run in
// registration order.
func (r *Receiver) OnComplete(f func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completeCallbacks = append(r.completeCallbacks, f)
}

// State returns the current lifecycle phase.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Path returns where the finished file was written, empty before
// completion.
func (r *Receiver) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outPath
}

// Fingerprint returns the session fingerprint for out-of-band
// comparison, empty until the handshake completes.
func (r *Receiver) Fingerprint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return ""
	}
	return r.sess.fingerprint
}

// Start begins listening for the sender's handshake.
func (r *Receiver) Start() {
	r.speed = newSpeedTracker(r.cfg.TimeProvider)

	r.channel.SetReceiveHandler(func(frame []byte) {
		r.post(event{frame: frame})
	})
	r.channel.SetCloseHandler(func(err error) {
		r.post(event{op: func() { r.onChannelClosed(err) }})
	})
	r.channel.SetBackpressureHandler(func(bool) {})

	go r.run()
}

// Wait blocks until the transfer finishes and returns its result.
func (r *Receiver) Wait() error {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Pause asks the sender to stop dispatching chunks.
func (r *Receiver) Pause() {
	r.post(event{op: func() {
		if r.state != StateTransferring {
			return
		}
		r.notifyControl(wire.OpPause, "")
		r.setState(StatePaused)
	}})
}

// Resume lifts a Pause.
func (r *Receiver) Resume() {
	r.post(event{op: func() {
		if r.state != StatePaused {
			return
		}
		r.notifyControl(wire.OpResume, "")
		r.setState(StateTransferring)
	}})
}

// Cancel abandons the transfer permanently, discarding the partial file
// and its resume record.
func (r *Receiver) Cancel() {
	r.post(event{op: func() {
		if r.finished {
			return
		}
		r.notifyControl(wire.OpCancel, "receiver cancelled")
		r.discardPartial()
		r.finish(failure(ReasonCancelled, nil))
	}})
}

func (r *Receiver) post(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Receiver) run() {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-r.events:
			if ev.op != nil {
				ev.op()
			} else {
				r.handleFrame(ev.frame)
			}
		case <-ticker.C:
			// The receiver has no retry timers; the tick keeps the
			// loop responsive if the channel goes quiet.
		case <-r.done:
			return
		}
		if r.finished {
			return
		}
	}
}

func (r *Receiver) handleFrame(data []byte) {
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		logrus.WithError(err).Warn("Dropping undecodable frame")
		return
	}
	if r.sess != nil && env.TransferID != r.sess.id {
		r.sess.log.WithField("frame_transfer_id", env.TransferID).
			Warn("Dropping frame for unknown transfer")
		return
	}

	switch env.Type {
	case wire.MsgHandshakeInit:
		r.onHandshakeInit(env)
	case wire.MsgMetadata:
		r.onMetadata(env)
	case wire.MsgData:
		r.onData(env)
	case wire.MsgControl:
		r.onControl(env)
	default:
		r.fail(failure(ReasonProtocolError,
			fmt.Errorf("unexpected %s message from sender", env.Type)))
	}
}

func (r *Receiver) onHandshakeInit(env *wire.Envelope) {
	if r.sess != nil {
		return
	}

	var init wire.HandshakeInit
	if err := env.DecodeBody(&init); err != nil {
		r.fail(failure(ReasonProtocolError, err))
		return
	}

	sess := newSession(env.TransferID, ratchet.RoleResponder)
	resp, err := sess.respond(&init)
	if err != nil {
		sess.destroy()
		r.fail(failure(ReasonHandshakeFailed, err))
		return
	}
	r.sess = sess

	if err := r.sendPlain(wire.MsgHandshakeResponse, resp); err != nil {
		r.fail(failure(ReasonChannelLost, err))
		return
	}
	r.setState(StateNegotiating)
}

func (r *Receiver) onMetadata(env *wire.Envelope) {
	if r.state != StateNegotiating {
		return
	}

	var metadata wire.Metadata
	if err := r.sess.recvCipher.Open(env, &metadata); err != nil {
		r.fail(failure(ReasonProtocolError, err))
		return
	}
	if err := wire.VerifyMetadata(&metadata); err != nil {
		r.rejectOffer(err.Error())
		return
	}
	if err := metadata.Validate(); err != nil {
		r.rejectOffer(err.Error())
		return
	}

	prior := r.findResumable(&metadata)

	offer := Offer{
		FileName:     metadata.FileName,
		FileSize:     metadata.FileSize,
		ChunkSize:    metadata.ChunkSize,
		ChunkCount:   metadata.ChunkCount,
		PeerIdentity: metadata.SenderIdentity,
		Fingerprint:  r.sess.fingerprint,
	}
	if prior != nil {
		offer.Resuming = true
		offer.ChunksHeld = prior.Received.Count()
	}

	r.mu.Lock()
	accept := r.offerCallback
	r.mu.Unlock()
	if accept != nil && !accept(offer) {
		r.rejectOffer("offer declined")
		return
	}

	if err := r.acceptOffer(&metadata, prior); err != nil {
		r.fail(failure(ReasonProtocolError, err))
		return
	}
}

// findResumable looks for an interrupted transfer of the same file from
// the same sender identity.
func (r *Receiver) findResumable(metadata *wire.Metadata) *storage.TransferRecord {
	records, err := r.cfg.Store.List()
	if err != nil {
		logrus.WithError(err).Warn("Resume lookup failed, starting fresh")
		return nil
	}
	for _, rec := range records {
		if rec.Completed {
			continue
		}
		if !bytes.Equal(rec.FileDigest, metadata.FileDigest) {
			continue
		}
		if rec.FileSize != metadata.FileSize || rec.ChunkSize != metadata.ChunkSize {
			continue
		}
		if !bytes.Equal(rec.PeerIdentity, metadata.SenderIdentity) {
			r.sess.log.WithField("function", "findResumable").
				Warn("Partial transfer exists but sender identity differs, not resuming")
			continue
		}
		return rec
	}
	return nil
}

func (r *Receiver) acceptOffer(metadata *wire.Metadata, prior *storage.TransferRecord) error {
	safeName, err := chunk.SanitizeFileName(metadata.FileName)
	if err != nil {
		return err
	}

	var digest [chunk.DigestSize]byte
	copy(digest[:], metadata.FileDigest)

	// A resumed transfer reopens its recorded partial file; a new one
	// claims a fresh file so it can never collide with another transfer
	// or clobber something already in the download directory.
	var assembler *chunk.Assembler
	if prior != nil {
		assembler, err = chunk.NewAssembler(prior.FilePath, metadata.FileSize, metadata.ChunkSize, metadata.ChunkCount, digest)
	} else {
		assembler, err = chunk.NewExclusiveAssembler(filepath.Join(r.cfg.DownloadDir, safeName),
			metadata.FileSize, metadata.ChunkSize, metadata.ChunkCount, digest)
	}
	if err != nil {
		return err
	}
	r.assembler = assembler
	r.metadata = metadata

	if prior != nil {
		r.received = prior.Received.Clone()
		if err := r.cfg.Store.Delete(prior.ID); err != nil {
			r.sess.log.WithError(err).Warn("Stale resume record not deleted")
		}
	} else {
		r.received = storage.NewBitmap(metadata.ChunkCount)
	}

	kemPublic, err := r.sess.generateRatchetKEM()
	if err != nil {
		return err
	}
	if err := r.sess.buildEngine(metadata.RatchetKEMPublic, r.cfg.Ratchet); err != nil {
		return err
	}

	r.record = &storage.TransferRecord{
		ID:           r.sess.id,
		FileName:     safeName,
		FilePath:     assembler.Path(),
		FileSize:     metadata.FileSize,
		ChunkSize:    metadata.ChunkSize,
		ChunkCount:   metadata.ChunkCount,
		FileDigest:   append([]byte(nil), metadata.FileDigest...),
		PeerIdentity: append([]byte(nil), metadata.SenderIdentity...),
		Received:     r.received,
	}
	r.persistRecord()

	ack := &wire.MetadataAck{
		Accept:           true,
		RatchetKEMPublic: kemPublic,
	}
	if r.received.Count() > 0 {
		ack.Have = append([]byte(nil), r.received.Bits...)
	}
	if err := r.sendSealed(wire.MsgMetadataAck, ack); err != nil {
		return err
	}

	r.sess.log.WithFields(logrus.Fields{
		"function":    "acceptOffer",
		"file_name":   safeName,
		"file_size":   metadata.FileSize,
		"chunk_count": metadata.ChunkCount,
		"chunks_held": r.received.Count(),
	}).Info("Accepted incoming transfer")

	r.setState(StateTransferring)

	// A resumed transfer may already hold every chunk.
	if r.received.Complete() {
		r.finalize()
	}
	return nil
}

func (r *Receiver) rejectOffer(reason string) {
	ack := &wire.MetadataAck{Accept: false, Reason: reason}
	if err := r.sendSealed(wire.MsgMetadataAck, ack); err != nil {
		r.sess.log.WithError(err).Debug("Rejection not delivered")
	}
	r.fail(failure(ReasonVerificationRequired, errors.New(reason)))
}

func (r *Receiver) onData(env *wire.Envelope) {
	if r.state != StateTransferring && r.state != StatePaused {
		return
	}

	var frame wire.DataFrame
	if err := env.DecodeBody(&frame); err != nil {
		r.sess.log.WithError(err).Warn("Dropping malformed data frame")
		return
	}
	if frame.ChunkIndex >= r.metadata.ChunkCount {
		r.sess.log.WithField("chunk_index", frame.ChunkIndex).
			Warn("Dropping data frame with out-of-range index")
		return
	}

	// A retransmission that crossed with our ack: confirm again without
	// touching the ratchet.
	if r.received.IsSet(frame.ChunkIndex) {
		r.sendAck(frame.ChunkIndex)
		return
	}

	key, err := r.sess.engine.KeyForReceive(frame.Markers)
	if err != nil {
		r.sess.log.WithFields(logrus.Fields{
			"function":    "onData",
			"chunk_index": frame.ChunkIndex,
			"error":       err,
		}).Warn("No message key for data frame, dropping")
		return
	}

	payload, err := r.sess.transcoder.DecodeChunk(key, &frame)
	if err != nil {
		key.Consume()
		return
	}
	key.Consume()

	if frame.Compressed {
		payload, err = chunk.Decompress(payload)
		if err != nil {
			r.sess.log.WithError(err).Warn("Chunk decompression failed, dropping")
			return
		}
	}

	var want [chunk.DigestSize]byte
	copy(want[:], r.metadata.ChunkDigests[frame.ChunkIndex])
	if chunk.DigestBytes(payload) != want {
		r.sess.log.WithFields(logrus.Fields{
			"function":    "onData",
			"chunk_index": frame.ChunkIndex,
		}).Warn("Chunk digest mismatch, dropping for retry")
		return
	}

	if err := r.assembler.WriteChunk(frame.ChunkIndex, payload); err != nil {
		r.fail(failure(ReasonProtocolError, err))
		return
	}
	r.received.Set(frame.ChunkIndex)
	r.persistRecord()
	r.sendAck(frame.ChunkIndex)
	r.reportProgress()

	if r.received.Complete() {
		r.finalize()
	}
}

func (r *Receiver) finalize() {
	err := r.assembler.Finalize()
	r.assembler = nil
	if err != nil {
		if errors.Is(err, chunk.ErrIntegrityMismatch) {
			// The file is gone; the record goes with it so the next
			// attempt starts clean.
			r.cfg.Store.Delete(r.record.ID)
			r.notifyControl(wire.OpIntegrityFail, "whole-file digest mismatch")
			r.fail(failure(ReasonIntegrityFailed, err))
			return
		}
		r.fail(failure(ReasonProtocolError, err))
		return
	}

	r.record.Completed = true
	r.persistRecord()

	r.mu.Lock()
	r.outPath = r.record.FilePath
	r.mu.Unlock()

	r.notifyControl(wire.OpDone, "")
	r.finish(nil)
}

func (r *Receiver) onControl(env *wire.Envelope) {
	if r.sess == nil || r.sess.recvCipher == nil {
		return
	}

	var ctl wire.Control
	if err := r.sess.recvCipher.Open(env, &ctl); err != nil {
		r.sess.log.WithError(err).Warn("Dropping unauthenticated control message")
		return
	}
	if err := ctl.Validate(); err != nil {
		r.fail(failure(ReasonProtocolError, err))
		return
	}

	switch ctl.Op {
	case wire.OpCancel:
		// Sender abandoned the transfer. An exhausted-retries cancel
		// keeps the partial file so a later attempt can resume; an
		// explicit cancel could too, and the distinction does not
		// matter here.
		r.fail(failure(ReasonCancelled, errors.New(ctl.Detail)))
	case wire.OpPause, wire.OpResume:
		// Dispatch control flows receiver-to-sender; ignore echoes.
	default:
		r.fail(failure(ReasonProtocolError,
			fmt.Errorf("unexpected %s from sender", ctl.Op)))
	}
}

// onChannelClosed ends the transfer when the channel drops, keeping the
// partial file and resume record so a reconnected sender can pick up
// from the persisted bitmap.
func (r *Receiver) onChannelClosed(err error) {
	if r.finished {
		return
	}
	r.fail(failure(ReasonChannelLost, err))
}

func (r *Receiver) sendAck(index uint64) {
	if err := r.sendSealed(wire.MsgAck, &wire.Ack{ChunkIndex: index}); err != nil {
		r.sess.log.WithError(err).Debug("Ack not delivered, sender will retry")
	}
}

func (r *Receiver) persistRecord() {
	if r.record == nil {
		return
	}
	r.record.UpdatedAt = r.cfg.TimeProvider.Now()
	if err := r.cfg.Store.Put(r.record); err != nil {
		r.sess.log.WithError(err).Warn("Transfer record not persisted")
	}
}

func (r *Receiver) reportProgress() {
	done := r.received.Count()
	transferred := done * uint64(r.metadata.ChunkSize)
	if transferred > r.metadata.FileSize {
		transferred = r.metadata.FileSize
	}

	r.mu.Lock()
	callback := r.progressCallback
	r.mu.Unlock()
	if callback == nil {
		return
	}
	callback(Progress{
		TransferredBytes: transferred,
		TotalBytes:       r.metadata.FileSize,
		ChunksDone:       done,
		ChunkCount:       r.metadata.ChunkCount,
		Speed:            r.speed.update(transferred),
	})
}

func (r *Receiver) notifyControl(op wire.ControlOp, detail string) {
	if r.sess == nil || r.sess.sendCipher == nil {
		return
	}
	if err := r.sendSealed(wire.MsgControl, &wire.Control{Op: op, Detail: detail}); err != nil {
		r.sess.log.WithError(err).Debug("Control notification not delivered")
	}
}

// discardPartial removes the partial file and resume record on a
// permanent cancel.
func (r *Receiver) discardPartial() {
	if r.assembler != nil {
		r.assembler.Abort()
		r.assembler = nil
	}
	if r.record != nil {
		r.cfg.Store.Delete(r.record.ID)
	}
}

func (r *Receiver) sendPlain(msgType wire.MessageType, body interface{}) error {
	env, err := wire.NewEnvelope(msgType, r.sess.id, body)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return r.channel.Send(data)
}

func (r *Receiver) sendSealed(msgType wire.MessageType, body interface{}) error {
	env, err := r.sess.sendCipher.Seal(msgType, body)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return r.channel.Send(data)
}

func (r *Receiver) setState(state State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// fail ends the transfer with an error, keeping any partial file and
// resume record so a later attempt can pick up where this one stopped.
func (r *Receiver) fail(err error) {
	r.finish(err)
}

// finish ends the transfer exactly once, wiping key material on every
// path.
func (r *Receiver) finish(err error) {
	if r.finished {
		return
	}
	r.finished = true

	if err == nil {
		r.setState(StateCompleted)
	} else {
		var terr *TransferError
		if errors.As(err, &terr) && terr.Reason == ReasonCancelled {
			r.setState(StateCancelled)
		} else {
			r.setState(StateFailed)
		}
	}

	if r.sess != nil {
		r.sess.destroy()
	}
	if r.assembler != nil {
		// Keep the partial file for resume.
		r.assembler.Close()
		r.assembler = nil
	}

	r.mu.Lock()
	r.result = err
	callbacks := append([]func(error){}, r.completeCallbacks...)
	r.mu.Unlock()

	var entry *logrus.Entry
	if r.sess != nil {
		entry = r.sess.log.WithField("function", "finish")
	} else {
		entry = logrus.WithField("function", "finish")
	}
	if err != nil {
		entry.WithError(err).Warn("Incoming transfer ended without completing")
	} else {
		entry.Info("Incoming transfer completed")
	}

	close(r.done)
	for _, callback := range callbacks {
		callback(err)
	}
}
