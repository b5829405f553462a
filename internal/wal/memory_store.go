package wal

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/vedmalex/collection-store/pkg/config"
)

// MemoryWALManager is the in-memory Log Store backend used by tests and
// by MemoryConfig. It has no true I/O suspension point but keeps the
// same Store signature as FileWALManager so callers are substitutable
// between the two.
type MemoryWALManager struct {
	cfg   config.WALConfig
	codec *Codec
	seq   sequencer

	mu      sync.Mutex
	buffer  []interface{} // prepared (plain or compressed) forms awaiting flush
	flushed []interface{} // durable substrate: entries already "flushed"
	closed  bool
}

// NewMemoryWALManager constructs an in-memory Store from cfg.
func NewMemoryWALManager(cfg config.WALConfig) *MemoryWALManager {
	return &MemoryWALManager{
		cfg:     cfg,
		codec:   NewCodec(cfg.Compression),
		buffer:  make([]interface{}, 0, cfg.MaxBufferSize),
		flushed: make([]interface{}, 0),
	}
}

func (m *MemoryWALManager) Append(ctx context.Context, entry *WALEntry) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	prepared, err := prepareEntry(entry, &m.seq, m.cfg, m.codec)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	m.buffer = append(m.buffer, prepared)
	shouldFlush := forceFlush(entry.Type) || len(m.buffer) >= m.cfg.MaxBufferSize
	m.mu.Unlock()

	if shouldFlush {
		return m.Flush(ctx)
	}
	return nil
}

func (m *MemoryWALManager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buffer) == 0 {
		return nil
	}
	m.flushed = append(m.flushed, m.buffer...)
	m.buffer = make([]interface{}, 0, m.cfg.MaxBufferSize)
	return nil
}

// ReadFrom sees both flushed and still-buffered entries: the in-memory
// backend has no durability boundary, so nothing is hidden pre-flush.
func (m *MemoryWALManager) ReadFrom(ctx context.Context, seq uint64) ([]*WALEntry, error) {
	m.mu.Lock()
	all := make([]interface{}, 0, len(m.flushed)+len(m.buffer))
	all = append(all, m.flushed...)
	all = append(all, m.buffer...)
	m.mu.Unlock()

	entries := make([]*WALEntry, 0, len(all))
	for _, v := range all {
		plain, sequenceNumber, ok := m.materialise(v)
		if !ok {
			continue
		}
		if sequenceNumber < seq {
			continue
		}
		entries = append(entries, plain)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SequenceNumber < entries[j].SequenceNumber
	})
	return entries, nil
}

// materialise decompresses v if needed and verifies its checksum,
// reporting ok=false for anything that should be skipped.
func (m *MemoryWALManager) materialise(v interface{}) (*WALEntry, uint64, bool) {
	plain, err := m.codec.Decompress(v)
	if err != nil {
		log.Printf("wal: skipping entry that failed to decompress: %v", err)
		return nil, 0, false
	}
	if m.cfg.EnableChecksums && !verify(plain) {
		log.Printf("wal: skipping entry with bad checksum at sequence %d", plain.SequenceNumber)
		return nil, 0, false
	}
	return plain, plain.SequenceNumber, true
}

func (m *MemoryWALManager) TruncateBelow(ctx context.Context, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Buffered entries are flushed first, as the file backend does, so
	// none below seq survive in the buffer.
	m.flushed = append(m.flushed, m.buffer...)
	m.buffer = make([]interface{}, 0, m.cfg.MaxBufferSize)

	survivors := make([]interface{}, 0, len(m.flushed))
	for _, v := range m.flushed {
		plain, sequenceNumber, ok := m.materialise(v)
		_ = plain
		if ok && sequenceNumber >= seq {
			survivors = append(survivors, v)
		}
	}
	m.flushed = survivors
	return nil
}

func (m *MemoryWALManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.Flush(context.Background())
}

func (m *MemoryWALManager) CurrentSequence() uint64 {
	return m.seq.current()
}
