package wire

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/pqxfer/crypto"
	"github.com/opd-ai/pqxfer/limits"
	"github.com/opd-ai/pqxfer/ratchet"
)

// dataAD binds a chunk ciphertext to its transfer and slot. A frame
// replayed under another transfer ID or chunk index fails AEAD
// verification even when the key and nonce would otherwise match.
func dataAD(transferID uuid.UUID, chunkIndex uint64) []byte {
	ad := make([]byte, 16+8)
	copy(ad, transferID[:])
	binary.BigEndian.PutUint64(ad[16:], chunkIndex)
	return ad
}

// controlAD binds a sealed control-plane body to its transfer and
// message type.
func controlAD(transferID uuid.UUID, msgType MessageType) []byte {
	ad := make([]byte, 16+1)
	copy(ad, transferID[:])
	ad[16] = byte(msgType)
	return ad
}

// FrameTranscoder seals chunk payloads into data frames and opens them
// again, using single-use ratchet message keys supplied per call.
type FrameTranscoder struct {
	transferID uuid.UUID
}

// NewFrameTranscoder returns a transcoder for one transfer.
func NewFrameTranscoder(transferID uuid.UUID) *FrameTranscoder {
	return &FrameTranscoder{transferID: transferID}
}

// EncodeChunk seals payload under key into a data frame carrying the
// key's epoch markers. The key is not consumed here: a retry of the same
// chunk re-encodes with a fresh nonce from the same key, and the caller
// consumes the key once the chunk is acknowledged or abandoned.
func (t *FrameTranscoder) EncodeChunk(key *ratchet.MessageKey, chunkIndex uint64, payload []byte, compressed bool) (*DataFrame, error) {
	if err := limits.ValidateChunk(payload); err != nil {
		return nil, err
	}

	raw, err := key.Key()
	if err != nil {
		return nil, fmt.Errorf("sealing chunk %d: %w", chunkIndex, err)
	}
	nonce, err := key.NextNonce()
	if err != nil {
		return nil, fmt.Errorf("sealing chunk %d: %w", chunkIndex, err)
	}

	ciphertext, err := crypto.Seal(raw, nonce, payload, dataAD(t.transferID, chunkIndex))
	if err != nil {
		return nil, fmt.Errorf("sealing chunk %d: %w", chunkIndex, err)
	}

	return &DataFrame{
		ChunkIndex: chunkIndex,
		Markers:    key.Markers(),
		Nonce:      nonce[:],
		Ciphertext: ciphertext,
		Compressed: compressed,
	}, nil
}

// DecodeChunk opens a data frame with the message key its markers
// resolved to, returning the payload still compressed if the frame says
// so. The key is not consumed; the caller consumes it after digest
// verification succeeds.
func (t *FrameTranscoder) DecodeChunk(key *ratchet.MessageKey, frame *DataFrame) ([]byte, error) {
	if len(frame.Nonce) != limits.NonceSize {
		return nil, fmt.Errorf("%w: nonce length %d", ErrMalformedMessage, len(frame.Nonce))
	}
	if err := limits.ValidateFrame(frame.Ciphertext); err != nil {
		return nil, err
	}

	raw, err := key.Key()
	if err != nil {
		return nil, fmt.Errorf("opening chunk %d: %w", frame.ChunkIndex, err)
	}

	var nonce crypto.Nonce
	copy(nonce[:], frame.Nonce)

	payload, err := crypto.Open(raw, nonce, frame.Ciphertext, dataAD(t.transferID, frame.ChunkIndex))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "DecodeChunk",
			"transfer_id": t.transferID,
			"chunk_index": frame.ChunkIndex,
		}).Warn("Data frame failed authentication")
		return nil, err
	}
	return payload, nil
}

// ControlCipher seals and opens the control-plane messages of one
// direction of one transfer. Its key is derived from the session root
// with a per-direction label, and its nonce sequencer spans the whole
// transfer, so nonces stay unique across every control message sent
// under the key.
type ControlCipher struct {
	mu         sync.Mutex
	key        [32]byte
	seq        *crypto.NonceSequencer
	transferID uuid.UUID
	destroyed  bool
}

// Control key derivation labels, one per direction so that the two sides
// never seal under the same key.
const (
	LabelControlInitiator = "pqxfer-ctrl-initiator-v1"
	LabelControlResponder = "pqxfer-ctrl-responder-v1"
)

// NewControlCipher derives a control key from the session root under the
// given direction label.
func NewControlCipher(root *crypto.RootKey, label string, transferID uuid.UUID) (*ControlCipher, error) {
	raw, err := root.Key()
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveKey(raw[:], label)
	if err != nil {
		return nil, fmt.Errorf("deriving control key: %w", err)
	}
	return &ControlCipher{
		key:        key,
		seq:        crypto.NewNonceSequencer(),
		transferID: transferID,
	}, nil
}

// Seal encodes body and seals it into an envelope of the given type.
func (c *ControlCipher) Seal(msgType MessageType, body interface{}) (*Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil, crypto.ErrKeyDestroyed
	}

	plaintext, err := encMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msgType, err)
	}

	nonce, err := c.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("sealing %s: %w", msgType, err)
	}

	ciphertext, err := crypto.Seal(&c.key, nonce, plaintext, controlAD(c.transferID, msgType))
	if err != nil {
		return nil, fmt.Errorf("sealing %s: %w", msgType, err)
	}

	return NewEnvelope(msgType, c.transferID, &Sealed{Nonce: nonce[:], Ciphertext: ciphertext})
}

// Open unseals an envelope sealed by the peer's counterpart cipher and
// decodes the plaintext into out.
func (c *ControlCipher) Open(env *Envelope, out interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return crypto.ErrKeyDestroyed
	}

	var sealed Sealed
	if err := env.DecodeBody(&sealed); err != nil {
		return err
	}
	if len(sealed.Nonce) != limits.NonceSize {
		return fmt.Errorf("%w: nonce length %d", ErrMalformedMessage, len(sealed.Nonce))
	}

	var nonce crypto.Nonce
	copy(nonce[:], sealed.Nonce)

	plaintext, err := crypto.Open(&c.key, nonce, sealed.Ciphertext, controlAD(c.transferID, env.Type))
	if err != nil {
		return err
	}

	if err := decMode.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: %s body: %v", ErrMalformedMessage, env.Type, err)
	}
	return nil
}

// Destroy wipes the control key. Further use returns ErrKeyDestroyed.
func (c *ControlCipher) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return
	}
	crypto.WipeKey(&c.key)
	c.destroyed = true
}
