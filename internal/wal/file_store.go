package wal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vedmalex/collection-store/pkg/config"
)

// FileWALManager is the file-backed Log Store. On-disk format is
// newline-delimited JSON: one object per line, plain or compressed.
type FileWALManager struct {
	cfg   config.WALConfig
	codec *Codec
	seq   sequencer

	mu     sync.Mutex
	file   *os.File
	buffer []interface{}
	closed bool

	flushTimer *time.Ticker
	stopTimer  chan struct{}
	timerWG    sync.WaitGroup
}

// OpenFileWALManager opens or creates the log file at cfg.Path, ensuring
// its directory exists, and scans it once to recover the sequence
// counter high-water mark.
func OpenFileWALManager(cfg config.WALConfig) (*FileWALManager, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("wal: create directory: %w", err)
		}
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open log file: %w", err)
	}

	m := &FileWALManager{
		cfg:    cfg,
		codec:  NewCodec(cfg.Compression),
		file:   f,
		buffer: make([]interface{}, 0, cfg.MaxBufferSize),
	}

	if err := m.recoverSequenceCounter(); err != nil {
		f.Close()
		return nil, err
	}

	if cfg.FlushIntervalMS > 0 {
		m.startFlushTimer(cfg.FlushInterval())
	}

	return m, nil
}

func (m *FileWALManager) recoverSequenceCounter() error {
	entries, err := m.readAllLocked()
	if err != nil {
		return err
	}
	for _, e := range entries {
		m.seq.setIfHigher(e.SequenceNumber)
	}
	return nil
}

func (m *FileWALManager) startFlushTimer(interval time.Duration) {
	m.flushTimer = time.NewTicker(interval)
	m.stopTimer = make(chan struct{})
	m.timerWG.Add(1)
	go func() {
		defer m.timerWG.Done()
		for {
			select {
			case <-m.flushTimer.C:
				// A tick on an empty buffer is a no-op.
				if err := m.Flush(context.Background()); err != nil {
					log.Printf("wal: periodic flush failed: %v", err)
				}
			case <-m.stopTimer:
				return
			}
		}
	}()
}

func (m *FileWALManager) Append(ctx context.Context, entry *WALEntry) error {
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

// Flush writes buffered entries to the substrate in sequence order and
// fsyncs. On a write failure the buffer is left intact so the caller may
// retry.
func (m *FileWALManager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

func (m *FileWALManager) flushLocked() error {
	if len(m.buffer) == 0 {
		return nil
	}

	var out bytes.Buffer
	for _, v := range m.buffer {
		line, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("wal: marshal entry: %w", err)
		}
		out.Write(line)
		out.WriteByte('\n')
	}

	if _, err := m.file.Write(out.Bytes()); err != nil {
		return fmt.Errorf("wal: write: %w", err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}

	m.buffer = make([]interface{}, 0, m.cfg.MaxBufferSize)
	return nil
}

// ReadFrom always includes already-flushed entries; unflushed buffered
// entries are not visible to the file backend until they are flushed.
func (m *FileWALManager) ReadFrom(ctx context.Context, seq uint64) ([]*WALEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.readAllLocked()
	if err != nil {
		return nil, err
	}

	out := entries[:0:0]
	for _, e := range entries {
		if e.SequenceNumber >= seq {
			out = append(out, e)
		}
	}
	return out, nil
}

// readAllLocked scans the substrate once, skipping malformed lines and
// checksum failures with a warning, and must be called with m.mu held.
func (m *FileWALManager) readAllLocked() ([]*WALEntry, error) {
	if _, err := m.file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("wal: seek to start: %w", err)
	}
	defer m.file.Seek(0, 2) //nolint:errcheck // best-effort restore to append position

	var entries []*WALEntry
	scanner := bufio.NewScanner(m.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		decoded, err := decodeLine(line)
		if err != nil {
			log.Printf("wal: skipping malformed entry: %v", err)
			continue
		}

		plain, err := m.codec.Decompress(decoded)
		if err != nil {
			log.Printf("wal: skipping entry that failed to decompress: %v", err)
			continue
		}

		if m.cfg.EnableChecksums && !verify(plain) {
			log.Printf("wal: skipping entry with bad checksum at sequence %d", plain.SequenceNumber)
			continue
		}

		entries = append(entries, plain)
	}
	// A truncated final write arrives as a last line that fails to decode
	// and is skipped above. A scanner error (such as bufio.ErrTooLong) is
	// treated the same as EOF: everything valid that came before it is
	// kept.
	if err := scanner.Err(); err != nil {
		log.Printf("wal: trailing read error ignored: %v", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SequenceNumber < entries[j].SequenceNumber
	})
	return entries, nil
}

// decodeLine parses one NDJSON line and returns either a *WALEntry or a
// *CompressedEntry depending on the tag fields present.
func decodeLine(line []byte) (interface{}, error) {
	var probe struct {
		CompressedData       *string `json:"compressedData"`
		CompressionAlgorithm *string `json:"compressionAlgorithm"`
		OriginalSize         *int    `json:"originalSize"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}

	if IsCompressedForm(probe.CompressedData != nil, probe.CompressionAlgorithm != nil, probe.OriginalSize != nil) {
		var ce CompressedEntry
		if err := json.Unmarshal(line, &ce); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
		}
		return &ce, nil
	}

	var e WALEntry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return &e, nil
}

// TruncateBelow rewrites the log with the surviving suffix via a
// write-then-rename to a sibling temp file, so the old or the new log
// is durable at any observation point a crash might land on.
func (m *FileWALManager) TruncateBelow(ctx context.Context, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flushLocked(); err != nil {
		return err
	}

	entries, err := m.readAllLocked()
	if err != nil {
		return err
	}

	var survivors []*WALEntry
	for _, e := range entries {
		if e.SequenceNumber >= seq {
			survivors = append(survivors, e)
		}
	}

	if len(survivors) == 0 {
		if err := m.file.Close(); err != nil {
			return fmt.Errorf("wal: close before removal: %w", err)
		}
		if err := os.Remove(m.cfg.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("wal: remove log: %w", err)
		}
		f, err := os.OpenFile(m.cfg.Path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("wal: recreate log: %w", err)
		}
		m.file = f
		return nil
	}

	tmpPath := m.cfg.Path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("wal: create temp log: %w", err)
	}

	var out bytes.Buffer
	for _, e := range survivors {
		line, err := json.Marshal(e)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("wal: marshal surviving entry: %w", err)
		}
		out.Write(line)
		out.WriteByte('\n')
	}
	if _, err := tmp.Write(out.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("wal: write temp log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("wal: fsync temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("wal: close temp log: %w", err)
	}

	if err := m.file.Close(); err != nil {
		return fmt.Errorf("wal: close old log: %w", err)
	}
	if err := os.Rename(tmpPath, m.cfg.Path); err != nil {
		return fmt.Errorf("wal: rename temp log into place: %w", err)
	}

	f, err := os.OpenFile(m.cfg.Path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("wal: reopen log after truncate: %w", err)
	}
	m.file = f
	return nil
}

func (m *FileWALManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTimer != nil {
		m.flushTimer.Stop()
		close(m.stopTimer)
		m.timerWG.Wait()
	}

	if err := m.Flush(context.Background()); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}

func (m *FileWALManager) CurrentSequence() uint64 {
	return m.seq.current()
}
