// Package types holds the enums and sentinel errors shared between the
// WAL core and the document collection that sits on top of it.
package types

import "errors"

// EntryType classifies a WALEntry within its transaction.
type EntryType string

const (
	EntryBegin    EntryType = "BEGIN"
	EntryData     EntryType = "DATA"
	EntryCommit   EntryType = "COMMIT"
	EntryRollback EntryType = "ROLLBACK"
)

// Operation is the data-store mutation a DATA entry carries.
type Operation string

const (
	OpInsert   Operation = "INSERT"
	OpUpdate   Operation = "UPDATE"
	OpDelete   Operation = "DELETE"
	OpCommit   Operation = "COMMIT"
	OpRollback Operation = "ROLLBACK"
)

// CheckpointTransactionID is the reserved transaction id used only by
// checkpoint marker entries; it never names a real transaction.
const CheckpointTransactionID = "CHECKPOINT"

// CheckpointCollection is the reserved collection name on a checkpoint
// marker entry.
const CheckpointCollection = "*"

var (
	// ErrKeyNotFound is returned when a document does not exist (or has expired).
	ErrKeyNotFound = errors.New("collection: key not found")
	// ErrDataCorruption is returned when a checksum fails verification.
	ErrDataCorruption = errors.New("collection: data corruption detected")
)
