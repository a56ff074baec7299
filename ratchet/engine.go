package ratchet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/katzenpost/hpqc/kem"
	"github.com/katzenpost/hpqc/nike"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/pqxfer/crypto"
)

// Role distinguishes the two ends of a session so both derive mirrored
// sending and receiving chains from the shared root.
type Role uint8

const (
	// RoleInitiator is the side that started the handshake (the sender).
	RoleInitiator Role = iota
	// RoleResponder is the side that answered it (the receiver).
	RoleResponder
)

// String returns a stable name for logging.
func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Chain derivation labels. Each engine's send chain uses its own role's
// label and its receive chain the peer's, so the two sides agree.
const (
	labelInitiatorChain = "pqxfer-chain-initiator-v1"
	labelResponderChain = "pqxfer-chain-responder-v1"
	labelMessageKey     = "pqxfer-message-key-v1"
	labelChainAdvance   = "pqxfer-chain-advance-v1"
	labelRootDH         = "pqxfer-root-dh-mix-v1"
	labelRootPQ         = "pqxfer-root-pq-mix-v1"
)

var (
	// ErrMissingKey indicates the engine cannot locate a key for the
	// presented epoch markers: the message is from a destroyed chain
	// position or beyond the skip tolerance.
	ErrMissingKey = errors.New("no key available for epoch markers")

	// ErrPreviousKeyUnconsumed indicates a second send key was requested
	// before the previous one was marked consumed. Producing it would
	// open a key-reuse race between concurrent senders.
	ErrPreviousKeyUnconsumed = errors.New("previous send key not yet consumed")

	// ErrEngineDestroyed indicates use of the engine after Destroy.
	ErrEngineDestroyed = errors.New("ratchet engine destroyed")
)

// Engine owns the RatchetState of one session. All mutation happens behind
// its lock; key material never leaves except through MessageKey values.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	role Role

	rootKey   [32]byte
	sendChain [32]byte
	sendIndex uint64
	recvChain [32]byte
	recvIndex uint64

	dhEpoch uint64
	pqEpoch uint64
	dhSteps uint64

	localDH        nike.PrivateKey
	remoteDHPublic nike.PublicKey
	localKEM       kem.PrivateKey
	remoteKEM      kem.PublicKey

	// Epoch material re-sent on every frame of the current epoch.
	currentDHPublic  []byte
	currentKEMCipher []byte

	skipped     *skippedKeyCache
	outstanding *MessageKey
	destroyed   bool
}

// NewEngine seeds a ratchet engine from a handshake-derived root key and
// the session's ratchet key material. The root key bytes are copied; the
// caller remains responsible for destroying its RootKey.
func NewEngine(root *crypto.RootKey, role Role, localDH nike.PrivateKey, remoteDHPublic []byte, localKEM kem.PrivateKey, remoteKEMPublic []byte, cfg Config) (*Engine, error) {
	rootBytes, err := root.Key()
	if err != nil {
		return nil, fmt.Errorf("seeding ratchet: %w", err)
	}

	remoteDH, err := crypto.DHScheme().UnmarshalBinaryPublicKey(remoteDHPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid remote ratchet DH key: %w", err)
	}
	remoteKEM, err := crypto.KEMScheme().UnmarshalBinaryPublicKey(remoteKEMPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid remote ratchet KEM key: %w", err)
	}

	e := &Engine{
		cfg:            cfg.normalized(),
		role:           role,
		rootKey:        *rootBytes,
		localDH:        localDH,
		remoteDHPublic: remoteDH,
		localKEM:       localKEM,
		remoteKEM:      remoteKEM,
		skipped:        newSkippedKeyCache(cfg.normalized().SkippedKeyCapacity),
	}
	e.currentDHPublic = crypto.DHScheme().DerivePublicKey(localDH).Bytes()

	if err := e.deriveChains(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":            "NewEngine",
		"role":                role,
		"dh_ratchet_interval": e.cfg.DHRatchetInterval,
		"pq_ratchet_interval": e.cfg.PQRatchetInterval,
	}).Debug("Ratchet engine seeded")

	return e, nil
}

// deriveChains rederives both chain keys from the current root, wiping
// the prior values.
func (e *Engine) deriveChains() error {
	sendLabel, recvLabel := labelInitiatorChain, labelResponderChain
	if e.role == RoleResponder {
		sendLabel, recvLabel = labelResponderChain, labelInitiatorChain
	}

	send, err := crypto.DeriveKey(e.rootKey[:], sendLabel)
	if err != nil {
		return err
	}
	recv, err := crypto.DeriveKey(e.rootKey[:], recvLabel)
	if err != nil {
		crypto.WipeKey(&send)
		return err
	}

	crypto.WipeKey(&e.sendChain)
	crypto.WipeKey(&e.recvChain)
	e.sendChain = send
	e.recvChain = recv
	e.sendIndex = 0
	e.recvIndex = 0
	return nil
}

// stepChain advances a chain key one position, returning the message key
// for the current position. The prior chain value is destroyed before
// returning; no chain key is ever used twice.
func stepChain(chain *[32]byte) ([32]byte, error) {
	msgKey, err := crypto.DeriveKey(chain[:], labelMessageKey)
	if err != nil {
		return [32]byte{}, err
	}
	next, err := crypto.DeriveKey(chain[:], labelChainAdvance)
	if err != nil {
		crypto.WipeKey(&msgKey)
		return [32]byte{}, err
	}
	crypto.WipeKey(chain)
	*chain = next
	return msgKey, nil
}

// NextSendKey produces the key for the next outgoing message, performing
// any DH or PQ ratchet step that falls due first. It refuses to produce a
// second key before the previous one is consumed.
func (e *Engine) NextSendKey() (*MessageKey, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return nil, ErrEngineDestroyed
	}
	if e.outstanding != nil && !e.outstanding.consumed {
		return nil, ErrPreviousKeyUnconsumed
	}

	if e.sendIndex >= e.cfg.DHRatchetInterval {
		if err := e.performSendRatchet(); err != nil {
			return nil, err
		}
	}

	index := e.sendIndex
	msgKey, err := stepChain(&e.sendChain)
	if err != nil {
		return nil, err
	}
	e.sendIndex++

	mk := &MessageKey{
		key: msgKey,
		markers: EpochMarkers{
			DHEpoch:       e.dhEpoch,
			PQEpoch:       e.pqEpoch,
			ChainIndex:    index,
			DHPublic:      e.currentDHPublic,
			KEMCiphertext: e.currentKEMCipher,
		},
		seq:    crypto.NewNonceSequencer(),
		engine: e,
		send:   true,
	}
	e.outstanding = mk
	return mk, nil
}

// performSendRatchet runs one asymmetric ratchet step, and every
// PQRatchetInterval-th step additionally mixes in a fresh ML-KEM
// encapsulation. Caller holds the lock.
func (e *Engine) performSendRatchet() error {
	e.dhSteps++

	if e.dhSteps%e.cfg.PQRatchetInterval == 0 {
		ciphertext, pqSecret, err := crypto.KEMScheme().Encapsulate(e.remoteKEM)
		if err != nil {
			return fmt.Errorf("pq ratchet encapsulation: %w", err)
		}
		if err := e.mixRoot(pqSecret, labelRootPQ); err != nil {
			return err
		}
		e.pqEpoch++
		e.currentKEMCipher = ciphertext
		logrus.WithFields(logrus.Fields{
			"function": "performSendRatchet",
			"pq_epoch": e.pqEpoch,
		}).Debug("Sparse PQ ratchet step performed")
	}

	_, dhPriv, err := crypto.DHScheme().GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("dh ratchet key generation: %w", err)
	}

	dhSecret := crypto.DHScheme().DeriveSecret(dhPriv, e.remoteDHPublic)
	if err := e.mixRoot(dhSecret, labelRootDH); err != nil {
		dhPriv.Reset()
		return err
	}

	e.localDH.Reset()
	e.localDH = dhPriv
	e.currentDHPublic = crypto.DHScheme().DerivePublicKey(dhPriv).Bytes()
	e.dhEpoch++

	logrus.WithFields(logrus.Fields{
		"function": "performSendRatchet",
		"dh_epoch": e.dhEpoch,
	}).Debug("DH ratchet step performed")

	return e.deriveChains()
}

// mixRoot folds fresh secret material into the root key and wipes both
// the input and the prior root. Caller holds the lock.
func (e *Engine) mixRoot(secret []byte, label string) error {
	defer crypto.ZeroBytes(secret)

	combined := make([]byte, 0, len(e.rootKey)+len(secret))
	combined = append(combined, e.rootKey[:]...)
	combined = append(combined, secret...)
	defer crypto.ZeroBytes(combined)

	newRoot, err := crypto.DeriveKey(combined, label)
	if err != nil {
		return err
	}
	crypto.WipeKey(&e.rootKey)
	e.rootKey = newRoot
	return nil
}

// KeyForReceive locates the key for an incoming message's epoch markers,
// advancing the receiving ratchet as needed. Messages beyond the current
// chain position have intermediate keys cached for later out-of-order
// arrival; messages from destroyed positions yield ErrMissingKey.
func (e *Engine) KeyForReceive(m EpochMarkers) (*MessageKey, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return nil, ErrEngineDestroyed
	}

	if m.DHEpoch > e.dhEpoch {
		if err := e.followRatchet(m); err != nil {
			return nil, err
		}
	}

	if m.DHEpoch < e.dhEpoch || m.ChainIndex < e.recvIndex {
		// Only the skipped-key cache can still serve this frame.
		key, ok := e.skipped.take(skippedKeyID{dhEpoch: m.DHEpoch, chainIndex: m.ChainIndex})
		if !ok {
			return nil, ErrMissingKey
		}
		mk := &MessageKey{key: *key, markers: m, seq: crypto.NewNonceSequencer()}
		crypto.WipeKey(key)
		return mk, nil
	}

	if m.ChainIndex-e.recvIndex > uint64(e.cfg.SkippedKeyCapacity) {
		return nil, fmt.Errorf("%w: gap of %d exceeds skip tolerance", ErrMissingKey, m.ChainIndex-e.recvIndex)
	}

	// Derive forward, caching the keys for the gap.
	for e.recvIndex < m.ChainIndex {
		skippedKey, err := stepChain(&e.recvChain)
		if err != nil {
			return nil, err
		}
		e.skipped.put(skippedKeyID{dhEpoch: e.dhEpoch, chainIndex: e.recvIndex}, skippedKey)
		crypto.WipeKey(&skippedKey)
		e.recvIndex++
	}

	msgKey, err := stepChain(&e.recvChain)
	if err != nil {
		return nil, err
	}
	e.recvIndex++

	return &MessageKey{key: msgKey, markers: m, seq: crypto.NewNonceSequencer()}, nil
}

// followRatchet advances the receiving side to the sender's epoch using
// the public material in the markers. Keys for the unreceived tail of the
// outgoing chain are cached first so late frames can still decrypt.
// Caller holds the lock.
func (e *Engine) followRatchet(m EpochMarkers) error {
	if m.DHEpoch != e.dhEpoch+1 {
		return fmt.Errorf("%w: peer at DH epoch %d, local %d", ErrMissingKey, m.DHEpoch, e.dhEpoch)
	}
	if len(m.DHPublic) != crypto.DHScheme().PublicKeySize() || crypto.IsZeroKey(m.DHPublic) {
		return fmt.Errorf("%w: ratchet public key missing from markers", ErrMissingKey)
	}

	// Cache the remainder of the old chain. Chains end exactly at the
	// DH ratchet interval, so the tail length is known.
	for e.recvIndex < e.cfg.DHRatchetInterval {
		skippedKey, err := stepChain(&e.recvChain)
		if err != nil {
			return err
		}
		e.skipped.put(skippedKeyID{dhEpoch: e.dhEpoch, chainIndex: e.recvIndex}, skippedKey)
		crypto.WipeKey(&skippedKey)
		e.recvIndex++
	}

	if m.PQEpoch == e.pqEpoch+1 {
		if len(m.KEMCiphertext) != crypto.KEMScheme().CiphertextSize() {
			return fmt.Errorf("%w: PQ ratchet ciphertext missing from markers", ErrMissingKey)
		}
		pqSecret, err := crypto.KEMScheme().Decapsulate(e.localKEM, m.KEMCiphertext)
		if err != nil {
			return fmt.Errorf("pq ratchet decapsulation: %w", err)
		}
		if err := e.mixRoot(pqSecret, labelRootPQ); err != nil {
			return err
		}
		e.pqEpoch++
	} else if m.PQEpoch != e.pqEpoch {
		return fmt.Errorf("%w: peer at PQ epoch %d, local %d", ErrMissingKey, m.PQEpoch, e.pqEpoch)
	}

	remoteDH, err := crypto.DHScheme().UnmarshalBinaryPublicKey(m.DHPublic)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingKey, err)
	}

	dhSecret := crypto.DHScheme().DeriveSecret(e.localDH, remoteDH)
	if err := e.mixRoot(dhSecret, labelRootDH); err != nil {
		return err
	}

	e.remoteDHPublic = remoteDH
	e.dhEpoch++

	logrus.WithFields(logrus.Fields{
		"function": "followRatchet",
		"dh_epoch": e.dhEpoch,
		"pq_epoch": e.pqEpoch,
	}).Debug("Receiving ratchet advanced to peer epoch")

	return e.deriveChains()
}

// sendKeyConsumed releases the engine to produce the next send key.
func (e *Engine) sendKeyConsumed(mk *MessageKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.outstanding == mk {
		e.outstanding = nil
	}
}

// SkippedKeyCount reports the current size of the out-of-order cache.
func (e *Engine) SkippedKeyCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.skipped.len()
}

// RootFingerprint exposes a non-reversible fingerprint of the current
// root key, used by tests to assert session isolation.
func (e *Engine) RootFingerprint() ([32]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return [32]byte{}, ErrEngineDestroyed
	}
	return crypto.DeriveKey(e.rootKey[:], "pqxfer-ratchet-fingerprint-v1")
}

// Destroy wipes every piece of key material the engine holds. The engine
// is unusable afterwards.
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return
	}

	crypto.WipeKey(&e.rootKey)
	crypto.WipeKey(&e.sendChain)
	crypto.WipeKey(&e.recvChain)
	e.skipped.destroy()
	if e.localDH != nil {
		e.localDH.Reset()
	}
	e.localKEM = nil
	if e.outstanding != nil {
		crypto.WipeKey(&e.outstanding.key)
		e.outstanding.consumed = true
		e.outstanding = nil
	}
	e.destroyed = true

	logrus.WithFields(logrus.Fields{
		"function": "Destroy",
	}).Debug("Ratchet engine destroyed")
}
