package storage

import (
	"errors"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// ErrNotFound indicates no record exists for the requested transfer.
var ErrNotFound = errors.New("transfer record not found")

// TransferRecord is the durable state of one incoming transfer. It holds
// no key material: resuming always performs a fresh handshake and only
// the partial file and received bitmap carry over.
type TransferRecord struct {
	ID         uuid.UUID `cbor:"id"`
	FileName   string    `cbor:"fn"`
	FilePath   string    `cbor:"fp"`
	FileSize   uint64    `cbor:"fs"`
	ChunkSize  uint32    `cbor:"cs"`
	ChunkCount uint64    `cbor:"cc"`
	FileDigest []byte    `cbor:"fd"`

	// PeerIdentity pins the sender's identity key; a resumed transfer
	// from a different identity is rejected.
	PeerIdentity []byte `cbor:"pid"`

	Received  *Bitmap   `cbor:"rx"`
	Completed bool      `cbor:"done"`
	UpdatedAt time.Time `cbor:"at"`
}

// Store persists transfer records keyed by transfer ID.
type Store interface {
	// Put inserts or replaces a record.
	Put(rec *TransferRecord) error

	// Get returns the record for id, or ErrNotFound.
	Get(id uuid.UUID) (*TransferRecord, error)

	// Delete removes the record for id. Deleting an absent record is
	// not an error.
	Delete(id uuid.UUID) error

	// List returns every stored record.
	List() ([]*TransferRecord, error)

	// Close releases the backing resources.
	Close() error
}

func encodeRecord(rec *TransferRecord) ([]byte, error) {
	return cbor.Marshal(rec)
}

func decodeRecord(data []byte) (*TransferRecord, error) {
	var rec TransferRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
