package wal

import "errors"

var (
	// ErrClosed is returned by Append once the Store has been closed.
	// Flush does not check for a closed Store: after Close its buffer is
	// already empty and it returns nil.
	ErrClosed = errors.New("wal: store is closed")

	// ErrCorruptEntry marks a JSON parse failure or checksum mismatch.
	// Readers skip the offending line; it is never returned to a caller
	// of ReadFrom, only logged as a warning.
	ErrCorruptEntry = errors.New("wal: corrupt entry")

	// ErrDecompressionFailure is returned when a claimed-compressed entry
	// cannot be materialised back into a plain WALEntry.
	ErrDecompressionFailure = errors.New("wal: decompression failure")

	// ErrSequenceInvariantViolation marks a duplicate or non-monotonic
	// sequence number observed during recovery.
	ErrSequenceInvariantViolation = errors.New("wal: sequence invariant violation")
)
