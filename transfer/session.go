package transfer

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/nike"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/pqxfer/crypto"
	"github.com/opd-ai/pqxfer/ratchet"
	"github.com/opd-ai/pqxfer/wire"
)

// session holds the cryptographic state of one transfer from handshake
// to teardown. It is owned by a single event loop and never locked.
type session struct {
	id   uuid.UUID
	role ratchet.Role

	// Handshake state, cleared as phases complete.
	pending  *crypto.PendingHandshake
	root     *crypto.RootKey
	localDH  nike.PrivateKey
	remoteDH []byte

	// ratchetKEM is this side's static ratchet KEM pair; the public
	// half travels in the metadata exchange.
	ratchetKEM kem.PrivateKey

	engine     *ratchet.Engine
	sendCipher *wire.ControlCipher
	recvCipher *wire.ControlCipher
	transcoder *wire.FrameTranscoder

	fingerprint string

	log *logrus.Entry
}

func newSession(id uuid.UUID, role ratchet.Role) *session {
	return &session{
		id:         id,
		role:       role,
		transcoder: wire.NewFrameTranscoder(id),
		log: logrus.WithFields(logrus.Fields{
			"transfer_id": id,
			"role":        role,
		}),
	}
}

// beginInitiator produces the opening handshake message.
func (s *session) beginInitiator() (*wire.HandshakeInit, error) {
	pub, pending, err := crypto.Initiate()
	if err != nil {
		return nil, fmt.Errorf("initiating handshake: %w", err)
	}
	s.pending = pending
	return &wire.HandshakeInit{KEMPublic: pub.KEMPublic, DHPublic: pub.DHPublic}, nil
}

// completeInitiator consumes the peer's response, deriving the session
// root and the control ciphers.
func (s *session) completeInitiator(resp *wire.HandshakeResponse) error {
	root, dhPrivate, err := crypto.Finalize(&crypto.ResponseMaterial{
		KEMCiphertext: resp.KEMCiphertext,
		DHPublic:      resp.DHPublic,
	}, s.pending)
	s.pending = nil
	if err != nil {
		return fmt.Errorf("finalizing handshake: %w", err)
	}

	s.root = root
	s.localDH = dhPrivate
	s.remoteDH = append([]byte(nil), resp.DHPublic...)
	return s.deriveSessionState(wire.LabelControlInitiator, wire.LabelControlResponder)
}

// respond consumes the peer's opening message and produces the
// handshake response, deriving the session root and control ciphers.
func (s *session) respond(init *wire.HandshakeInit) (*wire.HandshakeResponse, error) {
	resp, root, dhPrivate, err := crypto.Respond(&crypto.PublicMaterial{
		KEMPublic: init.KEMPublic,
		DHPublic:  init.DHPublic,
	})
	if err != nil {
		return nil, fmt.Errorf("responding to handshake: %w", err)
	}

	s.root = root
	s.localDH = dhPrivate
	s.remoteDH = append([]byte(nil), init.DHPublic...)
	if err := s.deriveSessionState(wire.LabelControlResponder, wire.LabelControlInitiator); err != nil {
		return nil, err
	}
	return &wire.HandshakeResponse{KEMCiphertext: resp.KEMCiphertext, DHPublic: resp.DHPublic}, nil
}

// deriveSessionState builds the control ciphers and fingerprint once
// the root exists.
func (s *session) deriveSessionState(sendLabel, recvLabel string) error {
	var err error
	if s.sendCipher, err = wire.NewControlCipher(s.root, sendLabel, s.id); err != nil {
		return err
	}
	if s.recvCipher, err = wire.NewControlCipher(s.root, recvLabel, s.id); err != nil {
		return err
	}
	if s.fingerprint, err = crypto.Fingerprint(s.root); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"function":    "deriveSessionState",
		"fingerprint": s.fingerprint,
	}).Info("Session keys established")
	return nil
}

// generateRatchetKEM creates this side's static ratchet KEM pair and
// returns the public half for the metadata exchange.
func (s *session) generateRatchetKEM() ([]byte, error) {
	pub, private, err := crypto.KEMScheme().GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating ratchet KEM pair: %w", err)
	}
	s.ratchetKEM = private
	return pub.MarshalBinary()
}

// buildEngine constructs the ratchet engine from the handshake output
// and the peer's ratchet KEM public key, then destroys the session root:
// from here on only the derived chains and control keys exist.
func (s *session) buildEngine(remoteKEMPublic []byte, cfg ratchet.Config) error {
	engine, err := ratchet.NewEngine(s.root, s.role, s.localDH, s.remoteDH, s.ratchetKEM, remoteKEMPublic, cfg)
	if err != nil {
		return fmt.Errorf("building ratchet engine: %w", err)
	}
	s.engine = engine
	s.localDH = nil // owned by the engine now
	s.root.Destroy()
	return nil
}

// destroy wipes every piece of key material the session still holds.
// Safe to call at any phase and more than once.
func (s *session) destroy() {
	if s.pending != nil {
		s.pending.Destroy()
		s.pending = nil
	}
	if s.engine != nil {
		s.engine.Destroy()
		s.engine = nil
	}
	if s.sendCipher != nil {
		s.sendCipher.Destroy()
	}
	if s.recvCipher != nil {
		s.recvCipher.Destroy()
	}
	if s.root != nil {
		s.root.Destroy()
	}
	if s.localDH != nil {
		s.localDH.Reset()
		s.localDH = nil
	}
}
