package wal

import (
	"context"
	"fmt"
	"sort"

	"github.com/vedmalex/collection-store/pkg/types"
)

// Collaborator is the data-store hook the Recovery Engine drives during
// replay/rollback. entries are always DATA entries: ascending sequence
// order for Replay, descending for Rollback.
type Collaborator interface {
	Replay(ctx context.Context, transactionID string, entries []*WALEntry) error
	Rollback(ctx context.Context, transactionID string, entries []*WALEntry) error
}

// Report summarises one Recover pass.
type Report struct {
	Replayed   []string
	RolledBack []string
}

// Recover scans the Store from sequence 0, groups entries by
// transaction id, and replays or rolls back each group via collaborator.
// Checkpoint markers participate in the scan but are no-ops.
func Recover(ctx context.Context, store Store, collaborator Collaborator) (*Report, error) {
	entries, err := store.ReadFrom(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("wal: read log for recovery: %w", err)
	}

	groups := make(map[string][]*WALEntry)
	order := make([]string, 0)
	seenSeq := make(map[uint64]bool)

	for _, e := range entries {
		if seenSeq[e.SequenceNumber] {
			return nil, fmt.Errorf("%w: duplicate sequence %d", ErrSequenceInvariantViolation, e.SequenceNumber)
		}
		seenSeq[e.SequenceNumber] = true

		if e.IsCheckpoint() {
			continue
		}
		if _, exists := groups[e.TransactionID]; !exists {
			order = append(order, e.TransactionID)
		}
		groups[e.TransactionID] = append(groups[e.TransactionID], e)
	}

	report := &Report{}

	for _, txID := range order {
		group := groups[txID]

		hasCommit := false
		hasRollback := false
		var dataEntries []*WALEntry
		for _, e := range group {
			switch e.Type {
			case types.EntryCommit:
				hasCommit = true
			case types.EntryRollback:
				hasRollback = true
			case types.EntryData:
				dataEntries = append(dataEntries, e)
			}
		}

		if hasCommit && !hasRollback {
			sort.Slice(dataEntries, func(i, j int) bool {
				return dataEntries[i].SequenceNumber < dataEntries[j].SequenceNumber
			})
			if err := collaborator.Replay(ctx, txID, dataEntries); err != nil {
				return nil, fmt.Errorf("wal: replay transaction %s: %w", txID, err)
			}
			report.Replayed = append(report.Replayed, txID)
			continue
		}

		sort.Slice(dataEntries, func(i, j int) bool {
			return dataEntries[i].SequenceNumber > dataEntries[j].SequenceNumber
		})
		if err := collaborator.Rollback(ctx, txID, dataEntries); err != nil {
			return nil, fmt.Errorf("wal: rollback transaction %s: %w", txID, err)
		}
		report.RolledBack = append(report.RolledBack, txID)
	}

	return report, nil
}
