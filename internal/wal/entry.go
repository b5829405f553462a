package wal

import (
	"time"

	"github.com/vedmalex/collection-store/pkg/types"
)

// EntryData is the opaque payload a WALEntry carries: a key plus the
// old/new values a DATA entry mutates, or the small checkpoint-marker
// object for a CHECKPOINT entry. It is a plain string-keyed map rather
// than an interface{} so the payload always serializes as a JSON object;
// the values it holds are not checked for serializability.
type EntryData map[string]interface{}

// WALEntry is the atomic log record.
type WALEntry struct {
	TransactionID  string         `json:"transactionId"`
	SequenceNumber uint64         `json:"sequenceNumber"`
	Timestamp      int64          `json:"timestamp"` // wall-clock milliseconds, informational only
	Type           types.EntryType `json:"type"`
	CollectionName string         `json:"collectionName"`
	Operation      types.Operation `json:"operation"`
	Data           EntryData      `json:"data"`
	Checksum       string         `json:"checksum"`
}

// IsCheckpoint reports whether this entry is a checkpoint marker rather
// than part of a recoverable transaction.
func (e *WALEntry) IsCheckpoint() bool {
	return e.TransactionID == types.CheckpointTransactionID
}

// build assigns defaults to a freshly constructed entry: a wall-clock
// timestamp and an empty checksum.
func build(e *WALEntry) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	e.Checksum = ""
}

// NewCheckpointMarkerEntry builds the CHECKPOINT marker entry: type
// DATA, reserved transaction id, reserved collection name, operation
// COMMIT, payload {key: "checkpoint", checkpointId}.
func NewCheckpointMarkerEntry(checkpointID string) *WALEntry {
	e := &WALEntry{
		TransactionID:  types.CheckpointTransactionID,
		Type:           types.EntryData,
		CollectionName: types.CheckpointCollection,
		Operation:      types.OpCommit,
		Data: EntryData{
			"key":          "checkpoint",
			"checkpointId": checkpointID,
		},
	}
	build(e)
	return e
}

// CompressedEntry is the wire/storage form of a WALEntry when the
// Compression Codec has applied a codec to its payload.
type CompressedEntry struct {
	TransactionID      string          `json:"transactionId"`
	SequenceNumber     uint64          `json:"sequenceNumber"`
	Timestamp          int64           `json:"timestamp"`
	Type               types.EntryType `json:"type"`
	CollectionName     string          `json:"collectionName"`
	Operation          types.Operation `json:"operation"`
	Checksum           string          `json:"checksum"`
	CompressedData     string          `json:"compressedData"`
	CompressionAlgorithm string        `json:"compressionAlgorithm"`
	OriginalSize       int             `json:"originalSize"`
	CompressedSize     int             `json:"compressedSize"`
	CompressionRatio   float64         `json:"compressionRatio"`
}

// IsCompressedForm reports whether a decoded JSON object carries the
// three tag fields that distinguish a compressed entry.
func IsCompressedForm(hasCompressedData, hasAlgorithm, hasOriginalSize bool) bool {
	return hasCompressedData && hasAlgorithm && hasOriginalSize
}

// Checkpoint is an ephemeral value object describing a snapshot
// boundary. Its durability comes from the CHECKPOINT marker entry
// written into the log; Checkpoint itself is never persisted directly
// by the core.
type Checkpoint struct {
	CheckpointID    string
	Timestamp       time.Time
	SequenceNumber  uint64
	TransactionIDs  []string // populated by the coordinator; core leaves it empty
}
