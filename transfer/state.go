package transfer

import "fmt"

// State is the lifecycle phase of a transfer.
type State uint8

const (
	// StateHandshaking covers key agreement.
	StateHandshaking State = iota
	// StateNegotiating covers the metadata offer and its answer.
	StateNegotiating
	// StateTransferring covers the data phase.
	StateTransferring
	// StatePaused indicates the data phase is suspended.
	StatePaused
	// StateCompleted indicates the file arrived and verified.
	StateCompleted
	// StateFailed indicates the transfer was abandoned; see the
	// FailureReason delivered with completion.
	StateFailed
	// StateCancelled indicates either side cancelled.
	StateCancelled
)

// String returns a stable name for logging.
func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateNegotiating:
		return "negotiating"
	case StateTransferring:
		return "transferring"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// FailureReason classifies why a transfer ended without completing.
// Values are stable strings suitable for logs and user display.
type FailureReason string

const (
	// ReasonHandshakeFailed covers key agreement errors, including
	// degenerate peer keys.
	ReasonHandshakeFailed FailureReason = "handshake-failed"

	// ReasonVerificationRequired indicates the receiver declined the
	// offer, typically pending out-of-band identity verification.
	ReasonVerificationRequired FailureReason = "peer-verification-required"

	// ReasonIntegrityFailed indicates the assembled file did not match
	// the announced digest and was discarded.
	ReasonIntegrityFailed FailureReason = "integrity-failed"

	// ReasonPermanentlyStalled indicates chunk delivery exhausted its
	// retries.
	ReasonPermanentlyStalled FailureReason = "permanently-stalled"

	// ReasonCancelled indicates an explicit cancel from either side.
	ReasonCancelled FailureReason = "cancelled"

	// ReasonChannelLost indicates the underlying channel went away
	// mid-transfer.
	ReasonChannelLost FailureReason = "channel-lost"

	// ReasonProtocolError covers malformed or out-of-phase peer
	// messages.
	ReasonProtocolError FailureReason = "protocol-error"
)

// TransferError carries the failure classification alongside the
// underlying cause.
type TransferError struct {
	Reason FailureReason
	Err    error
}

// Error implements the error interface.
func (e *TransferError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *TransferError) Unwrap() error { return e.Err }

func failure(reason FailureReason, err error) *TransferError {
	return &TransferError{Reason: reason, Err: err}
}
