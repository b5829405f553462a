package wal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CheckpointEngine flushes the Store, appends a CHECKPOINT marker
// entry, and returns a Checkpoint value the coordinator can later use
// to bound a TruncateBelow call.
type CheckpointEngine struct {
	store Store
}

// NewCheckpointEngine builds a CheckpointEngine bound to store.
func NewCheckpointEngine(store Store) *CheckpointEngine {
	return &CheckpointEngine{store: store}
}

// CreateCheckpoint flushes the Store, appends the marker entry, and
// returns the resulting Checkpoint. Its SequenceNumber equals the
// post-append counter, so the coordinator typically calls
// TruncateBelow(checkpoint.SequenceNumber + 1) once it has proven the
// data store durably reflects everything up to that point.
func (c *CheckpointEngine) CreateCheckpoint(ctx context.Context) (*Checkpoint, error) {
	if err := c.store.Flush(ctx); err != nil {
		return nil, fmt.Errorf("wal: flush before checkpoint: %w", err)
	}

	checkpointID := uuid.NewString()
	marker := NewCheckpointMarkerEntry(checkpointID)

	if err := c.store.Append(ctx, marker); err != nil {
		return nil, fmt.Errorf("wal: append checkpoint marker: %w", err)
	}
	if err := c.store.Flush(ctx); err != nil {
		return nil, fmt.Errorf("wal: flush checkpoint marker: %w", err)
	}

	return &Checkpoint{
		CheckpointID:   checkpointID,
		Timestamp:      time.UnixMilli(marker.Timestamp),
		SequenceNumber: c.store.CurrentSequence(),
	}, nil
}
