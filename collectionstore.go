// Package collectionstore is the root of a durable, crash-recoverable
// document collection store built on the internal/wal Write-Ahead Log
// core: a thin facade that wires configuration to the storage layers
// and exposes a small, stable API to callers.
package collectionstore

import (
	"context"
	"fmt"

	"github.com/vedmalex/collection-store/internal/collection"
	"github.com/vedmalex/collection-store/internal/wal"
	"github.com/vedmalex/collection-store/pkg/config"
)

// Store is an open collection store: one named collection durable
// through a Log Store, recovered from any prior crash at Open time.
type Store struct {
	cfg        *config.Config
	log        wal.Store
	collection *collection.Collection
	checkpoint *wal.CheckpointEngine
}

// Open opens or creates a collection store per cfg, runs crash recovery,
// and returns a ready-to-use Store. A nil cfg uses config.DefaultConfig().
func Open(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	store, err := newLogStore(cfg.WAL)
	if err != nil {
		return nil, fmt.Errorf("collectionstore: open log store: %w", err)
	}

	coll := collection.New("default", store)

	if _, err := coll.Recover(context.Background()); err != nil {
		coll.Close()
		return nil, fmt.Errorf("collectionstore: recovery: %w", err)
	}

	return &Store{
		cfg:        cfg,
		log:        store,
		collection: coll,
		checkpoint: wal.NewCheckpointEngine(store),
	}, nil
}

// OpenMemory opens an in-memory store with no durability, for tests.
func OpenMemory() (*Store, error) {
	return Open(config.MemoryConfig())
}

// OpenDisk opens a file-backed, durable store rooted at dataDir.
func OpenDisk(dataDir string) (*Store, error) {
	return Open(config.DiskConfig(dataDir))
}

func newLogStore(cfg config.WALConfig) (wal.Store, error) {
	if cfg.Path == ":memory:" {
		return wal.NewMemoryWALManager(cfg), nil
	}
	return wal.OpenFileWALManager(cfg)
}

// Put inserts or updates a document, durable via a BEGIN/DATA/COMMIT
// transaction before the call returns.
func (s *Store) Put(ctx context.Context, key string, data map[string]interface{}) (*collection.Document, error) {
	return s.collection.Put(ctx, key, data)
}

// Get retrieves a document by key.
func (s *Store) Get(ctx context.Context, key string) (*collection.Document, error) {
	return s.collection.Get(ctx, key)
}

// GetAsOf retrieves a document as of a past transaction (time-travel read).
func (s *Store) GetAsOf(key string, asOfTx uint64) (*collection.Document, error) {
	return s.collection.GetAsOf(key, asOfTx)
}

// Delete removes a document, durable via a BEGIN/DATA/COMMIT transaction.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.collection.Delete(ctx, key)
}

// Scan returns documents with key in [start, end) in ascending order.
func (s *Store) Scan(ctx context.Context, start, end string, limit int) ([]*collection.Document, error) {
	return s.collection.Scan(ctx, start, end, limit)
}

// Checkpoint writes a checkpoint marker and returns it; the caller is
// responsible for proving durability elsewhere before calling Truncate.
func (s *Store) Checkpoint(ctx context.Context) (*wal.Checkpoint, error) {
	return s.checkpoint.CreateCheckpoint(ctx)
}

// Truncate discards log entries with sequence number below seq. Callers
// must have already proven the data they cover is durable elsewhere
// (typically: below a prior Checkpoint's SequenceNumber + 1).
func (s *Store) Truncate(ctx context.Context, seq uint64) error {
	return s.log.TruncateBelow(ctx, seq)
}

// Close flushes and closes the underlying Log Store.
func (s *Store) Close() error {
	return s.collection.Close()
}
