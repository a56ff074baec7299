package wire

import (
	"fmt"

	"github.com/opd-ai/pqxfer/chunk"
	"github.com/opd-ai/pqxfer/limits"
	"github.com/opd-ai/pqxfer/ratchet"
)

// HandshakeInit carries the initiator's ephemeral public material. It is
// the only message sent before any key exists.
type HandshakeInit struct {
	KEMPublic []byte `cbor:"ek"`
	DHPublic  []byte `cbor:"ed"`
}

// HandshakeResponse carries the responder's encapsulation against the
// initiator's KEM key plus the responder's ephemeral DH public key.
type HandshakeResponse struct {
	KEMCiphertext []byte `cbor:"ct"`
	DHPublic      []byte `cbor:"ed"`
}

// Sealed wraps an encrypted message body together with the nonce it was
// sealed under. Every non-handshake envelope body is a Sealed.
type Sealed struct {
	Nonce      []byte `cbor:"n"`
	Ciphertext []byte `cbor:"c"`
}

// Metadata announces the file on offer. It is signed by the sender's
// identity key over its canonical encoding; see SignMetadata.
type Metadata struct {
	FileName   string   `cbor:"fn"`
	FileSize   uint64   `cbor:"fs"`
	ChunkSize  uint32   `cbor:"cs"`
	ChunkCount uint64   `cbor:"cc"`
	FileDigest []byte   `cbor:"fd"`
	ChunkDigests [][]byte `cbor:"cd"`

	// RatchetKEMPublic is the sender's static ratchet KEM public key,
	// encapsulated against on every sparse post-quantum rekey.
	RatchetKEMPublic []byte `cbor:"rk"`

	SenderIdentity []byte `cbor:"id"`
	Signature      []byte `cbor:"sig,omitempty"`
}

// Validate checks internal consistency of peer-supplied metadata before
// any of it is acted on.
func (m *Metadata) Validate() error {
	if _, err := chunk.SanitizeFileName(m.FileName); err != nil {
		return err
	}
	if err := limits.CheckChunkSize(int(m.ChunkSize)); err != nil {
		return err
	}
	if m.FileSize == 0 {
		return fmt.Errorf("%w: zero file size", ErrMalformedMessage)
	}

	wantChunks := (m.FileSize + uint64(m.ChunkSize) - 1) / uint64(m.ChunkSize)
	if m.ChunkCount != wantChunks {
		return fmt.Errorf("%w: chunk count %d does not match size %d/%d",
			ErrMalformedMessage, m.ChunkCount, m.FileSize, m.ChunkSize)
	}
	if uint64(len(m.ChunkDigests)) != m.ChunkCount {
		return fmt.Errorf("%w: %d chunk digests for %d chunks",
			ErrMalformedMessage, len(m.ChunkDigests), m.ChunkCount)
	}
	if len(m.FileDigest) != chunk.DigestSize {
		return fmt.Errorf("%w: file digest length %d", ErrMalformedMessage, len(m.FileDigest))
	}
	for i, d := range m.ChunkDigests {
		if len(d) != chunk.DigestSize {
			return fmt.Errorf("%w: chunk %d digest length %d", ErrMalformedMessage, i, len(d))
		}
	}
	return nil
}

// MetadataAck is the receiver's answer to a Metadata offer. Have is a
// bitmap of chunk indices already held from an earlier attempt; the
// sender skips those.
type MetadataAck struct {
	Accept bool   `cbor:"ok"`
	Reason string `cbor:"why,omitempty"`
	Have   []byte `cbor:"hv,omitempty"`

	// RatchetKEMPublic is the receiver's static ratchet KEM public key.
	RatchetKEMPublic []byte `cbor:"rk,omitempty"`
}

// DataFrame carries one encrypted chunk. Markers locate the message key;
// the ciphertext is bound to the transfer and chunk index through the
// AEAD additional data, so a frame replayed into another transfer or
// slot fails authentication.
type DataFrame struct {
	ChunkIndex uint64               `cbor:"ix"`
	Markers    ratchet.EpochMarkers `cbor:"m"`
	Nonce      []byte               `cbor:"n"`
	Ciphertext []byte               `cbor:"c"`
	Compressed bool                 `cbor:"z,omitempty"`
}

// Ack confirms one chunk was received, decrypted, and digest-verified.
type Ack struct {
	ChunkIndex uint64 `cbor:"ix"`
}

// ControlOp enumerates transfer lifecycle signals.
type ControlOp uint8

const (
	// OpPause asks the peer to stop sending until OpResume.
	OpPause ControlOp = iota + 1

	// OpResume lifts an earlier OpPause.
	OpResume

	// OpCancel abandons the transfer permanently.
	OpCancel

	// OpDone reports the receiver finalized the file successfully.
	OpDone

	// OpIntegrityFail reports the assembled file failed whole-file
	// verification and was discarded.
	OpIntegrityFail
)

func (op ControlOp) valid() bool {
	return op >= OpPause && op <= OpIntegrityFail
}

// String returns a stable name for logging.
func (op ControlOp) String() string {
	switch op {
	case OpPause:
		return "pause"
	case OpResume:
		return "resume"
	case OpCancel:
		return "cancel"
	case OpDone:
		return "done"
	case OpIntegrityFail:
		return "integrity_fail"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(op))
	}
}

// Control carries one lifecycle signal.
type Control struct {
	Op     ControlOp `cbor:"op"`
	Detail string    `cbor:"d,omitempty"`
}

// Validate rejects control messages outside the known operation set.
func (c *Control) Validate() error {
	if !c.Op.valid() {
		return fmt.Errorf("%w: control op %d", ErrMalformedMessage, uint8(c.Op))
	}
	return nil
}
