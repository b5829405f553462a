package wal

import (
	"context"
	"sync"

	"github.com/vedmalex/collection-store/pkg/config"
	"github.com/vedmalex/collection-store/pkg/types"
)

// Store is the capability set both Log Store backends implement.
// FileWALManager and MemoryWALManager are the two variants; callers
// depend only on this interface.
type Store interface {
	// Append assigns the entry a sequence number and buffers it,
	// force-flushing when the entry is a COMMIT/ROLLBACK or the buffer
	// is full. Calls after Close return ErrClosed.
	Append(ctx context.Context, entry *WALEntry) error

	// ReadFrom returns all entries with SequenceNumber >= seq, ascending.
	// Malformed or checksum-failing records are skipped with a warning.
	ReadFrom(ctx context.Context, seq uint64) ([]*WALEntry, error)

	// TruncateBelow removes every entry with SequenceNumber < seq.
	TruncateBelow(ctx context.Context, seq uint64) error

	// Flush forces buffered entries to the substrate immediately.
	Flush(ctx context.Context) error

	// Close performs a final flush and releases the substrate; terminal.
	Close() error

	// CurrentSequence returns the last sequence number assigned.
	CurrentSequence() uint64
}

// forceFlush reports whether appending an entry of this type must
// force-flush the buffer synchronously before Append returns: COMMIT
// and ROLLBACK are the durability commitment to the caller.
func forceFlush(t types.EntryType) bool {
	return t == types.EntryCommit || t == types.EntryRollback
}

// sequencer owns the monotonic counter shared by a Store instance. Each
// method takes its own mutex; the backends additionally call next under
// their own lock so assigning a sequence and enqueuing the entry happen
// together.
type sequencer struct {
	mu      sync.Mutex
	counter uint64
}

func (s *sequencer) next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return s.counter
}

func (s *sequencer) current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// setIfHigher advances the counter to seq if seq is larger, used at
// startup when scanning an existing log to recover the high-water mark.
func (s *sequencer) setIfHigher(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.counter {
		s.counter = seq
	}
}

// prepareEntry assigns the next sequence number and, when enabled,
// signs the entry and runs it through the Compression Codec. It returns
// the form that should actually be buffered/persisted: either the
// *WALEntry unchanged or a *CompressedEntry.
//
// Shared by both backends so checksum/compression behavior never drifts
// between the file-backed and in-memory Log Store.
func prepareEntry(entry *WALEntry, seq *sequencer, cfg config.WALConfig, codec *Codec) (interface{}, error) {
	entry.SequenceNumber = seq.next()
	build(entry)

	if cfg.EnableChecksums {
		sum, err := sign(entry)
		if err != nil {
			return nil, err
		}
		entry.Checksum = sum
	}

	if cfg.EnableCompression && codec != nil {
		return codec.Compress(entry)
	}
	return entry, nil
}
