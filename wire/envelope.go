package wire

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/opd-ai/pqxfer/limits"
)

// MessageType tags the variant carried in an Envelope body. The set is
// closed: decoding rejects any value outside it.
type MessageType uint8

const (
	// MsgHandshakeInit opens a session with the initiator's ephemeral
	// public material. Plaintext; no keys exist yet.
	MsgHandshakeInit MessageType = iota + 1

	// MsgHandshakeResponse completes key agreement with the responder's
	// encapsulation and ephemeral public key. Plaintext.
	MsgHandshakeResponse

	// MsgMetadata announces the file being offered. Sealed under the
	// sender's control key.
	MsgMetadata

	// MsgMetadataAck accepts or rejects an offer and reports which
	// chunks the receiver already holds. Sealed under the receiver's
	// control key.
	MsgMetadataAck

	// MsgData carries one encrypted chunk.
	MsgData

	// MsgAck confirms receipt and verification of one chunk. Sealed
	// under the receiver's control key.
	MsgAck

	// MsgControl carries pause, resume, cancel, completion, and failure
	// notifications. Sealed under the originator's control key.
	MsgControl
)

func (t MessageType) valid() bool {
	return t >= MsgHandshakeInit && t <= MsgControl
}

// String returns a stable name for logging.
func (t MessageType) String() string {
	switch t {
	case MsgHandshakeInit:
		return "handshake_init"
	case MsgHandshakeResponse:
		return "handshake_response"
	case MsgMetadata:
		return "metadata"
	case MsgMetadataAck:
		return "metadata_ack"
	case MsgData:
		return "data"
	case MsgAck:
		return "ack"
	case MsgControl:
		return "control"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ErrUnknownMessageType indicates an Envelope tagged outside the closed
// variant set.
var ErrUnknownMessageType = errors.New("unknown message type")

// ErrMalformedMessage indicates bytes that do not decode as the claimed
// message.
var ErrMalformedMessage = errors.New("malformed message")

// ErrMessageTooLarge indicates an encoded message exceeding the frame
// limit.
var ErrMessageTooLarge = errors.New("message exceeds frame limit")

// Envelope is the outermost wire structure. Body holds the canonical CBOR
// encoding of the variant named by Type, sealed for every type except the
// two handshake messages.
type Envelope struct {
	Type       MessageType `cbor:"t"`
	TransferID uuid.UUID   `cbor:"x"`
	Body       []byte      `cbor:"b"`
}

// NewEnvelope encodes body as the given variant.
func NewEnvelope(msgType MessageType, transferID uuid.UUID, body interface{}) (*Envelope, error) {
	if !msgType.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, uint8(msgType))
	}

	encoded, err := encMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", msgType, err)
	}

	return &Envelope{Type: msgType, TransferID: transferID, Body: encoded}, nil
}

// Encode serializes the envelope, refusing output beyond the frame limit.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := encMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	if len(data) > limits.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	return data, nil
}

// DecodeEnvelope parses and validates an envelope received from the peer.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedMessage)
	}
	if len(data) > limits.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !env.Type.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, uint8(env.Type))
	}
	if len(env.Body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedMessage)
	}

	return &env, nil
}

// DecodeBody parses the envelope body into the variant struct for its
// type. Callers pass the struct matching env.Type; a mismatch surfaces as
// ErrMalformedMessage.
func (e *Envelope) DecodeBody(out interface{}) error {
	if err := decMode.Unmarshal(e.Body, out); err != nil {
		return fmt.Errorf("%w: %s body: %v", ErrMalformedMessage, e.Type, err)
	}
	return nil
}
