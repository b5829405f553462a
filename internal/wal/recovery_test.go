package wal

import (
	"context"
	"testing"

	"github.com/vedmalex/collection-store/pkg/types"
)

// fakeCollaborator records what the Recovery Engine decided for each
// transaction, without touching any real data store.
type fakeCollaborator struct {
	replayed   map[string][]*WALEntry
	rolledBack map[string][]*WALEntry
}

func newFakeCollaborator() *fakeCollaborator {
	return &fakeCollaborator{
		replayed:   make(map[string][]*WALEntry),
		rolledBack: make(map[string][]*WALEntry),
	}
}

func (f *fakeCollaborator) Replay(ctx context.Context, transactionID string, entries []*WALEntry) error {
	f.replayed[transactionID] = entries
	return nil
}

func (f *fakeCollaborator) Rollback(ctx context.Context, transactionID string, entries []*WALEntry) error {
	f.rolledBack[transactionID] = entries
	return nil
}

func appendTx(t *testing.T, ctx context.Context, store Store, txID string, types_ ...types.EntryType) {
	t.Helper()
	for _, et := range types_ {
		op := types.OpInsert
		if et == types.EntryCommit {
			op = types.OpCommit
		} else if et == types.EntryRollback {
			op = types.OpRollback
		}
		e := &WALEntry{TransactionID: txID, Type: et, CollectionName: "docs", Operation: op, Data: EntryData{"key": "k"}}
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestRecoverReplaysCommittedTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWALManager(memConfig())

	appendTx(t, ctx, store, "tx-1", types.EntryBegin, types.EntryData, types.EntryData, types.EntryCommit)

	collab := newFakeCollaborator()
	report, err := Recover(ctx, store, collab)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(report.Replayed) != 1 || report.Replayed[0] != "tx-1" {
		t.Fatalf("expected tx-1 replayed, got %v", report.Replayed)
	}
	if len(report.RolledBack) != 0 {
		t.Fatalf("expected no rollbacks, got %v", report.RolledBack)
	}
	if len(collab.replayed["tx-1"]) != 2 {
		t.Fatalf("expected 2 DATA entries replayed, got %d", len(collab.replayed["tx-1"]))
	}
	for i := 1; i < len(collab.replayed["tx-1"]); i++ {
		if collab.replayed["tx-1"][i-1].SequenceNumber > collab.replayed["tx-1"][i].SequenceNumber {
			t.Fatal("replay entries should be in ascending sequence order")
		}
	}
}

func TestRecoverRollsBackCrashBeforeCommit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWALManager(memConfig())

	// BEGIN + DATA written, never reaches COMMIT: simulates a crash
	// mid-transaction (the S2 scenario).
	appendTx(t, ctx, store, "tx-1", types.EntryBegin, types.EntryData)

	collab := newFakeCollaborator()
	report, err := Recover(ctx, store, collab)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(report.Replayed) != 0 {
		t.Fatalf("expected no replays, got %v", report.Replayed)
	}
	if len(report.RolledBack) != 1 || report.RolledBack[0] != "tx-1" {
		t.Fatalf("expected tx-1 rolled back, got %v", report.RolledBack)
	}
}

func TestRecoverRollsBackExplicitRollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWALManager(memConfig())

	appendTx(t, ctx, store, "tx-1", types.EntryBegin, types.EntryData, types.EntryRollback)

	collab := newFakeCollaborator()
	report, err := Recover(ctx, store, collab)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(report.RolledBack) != 1 || report.RolledBack[0] != "tx-1" {
		t.Fatalf("expected explicit rollback of tx-1, got %v", report.RolledBack)
	}

	entries := collab.rolledBack["tx-1"]
	if len(entries) != 1 {
		t.Fatalf("expected 1 DATA entry undone, got %d", len(entries))
	}
}

func TestRecoverRollbackOrderIsDescending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWALManager(memConfig())

	appendTx(t, ctx, store, "tx-1", types.EntryBegin, types.EntryData, types.EntryData, types.EntryData)

	collab := newFakeCollaborator()
	if _, err := Recover(ctx, store, collab); err != nil {
		t.Fatalf("recover: %v", err)
	}

	entries := collab.rolledBack["tx-1"]
	if len(entries) != 3 {
		t.Fatalf("expected 3 DATA entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].SequenceNumber < entries[i].SequenceNumber {
			t.Fatal("rollback entries should be in descending sequence order")
		}
	}
}

func TestRecoverSkipsCheckpointMarkers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWALManager(memConfig())

	appendTx(t, ctx, store, "tx-1", types.EntryBegin, types.EntryData, types.EntryCommit)
	marker := NewCheckpointMarkerEntry("cp-1")
	if err := store.Append(ctx, marker); err != nil {
		t.Fatalf("append checkpoint: %v", err)
	}

	collab := newFakeCollaborator()
	report, err := Recover(ctx, store, collab)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(report.Replayed) != 1 {
		t.Fatalf("checkpoint marker should not be treated as its own transaction, got %v", report.Replayed)
	}
	if _, ok := collab.replayed[types.CheckpointTransactionID]; ok {
		t.Fatal("checkpoint marker must never reach the collaborator")
	}
}

func TestRecoverMultipleTransactionsIndependently(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWALManager(memConfig())

	appendTx(t, ctx, store, "tx-1", types.EntryBegin, types.EntryData, types.EntryCommit)
	appendTx(t, ctx, store, "tx-2", types.EntryBegin, types.EntryData)
	appendTx(t, ctx, store, "tx-3", types.EntryBegin, types.EntryData, types.EntryCommit)

	collab := newFakeCollaborator()
	report, err := Recover(ctx, store, collab)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(report.Replayed) != 2 {
		t.Fatalf("expected 2 committed transactions replayed, got %v", report.Replayed)
	}
	if len(report.RolledBack) != 1 || report.RolledBack[0] != "tx-2" {
		t.Fatalf("expected tx-2 rolled back, got %v", report.RolledBack)
	}
}

// duplicatingStore wraps a Store and returns an extra copy of the first
// entry on ReadFrom, so its SequenceNumber collides with itself.
type duplicatingStore struct {
	Store
}

func (d *duplicatingStore) ReadFrom(ctx context.Context, fromSeq uint64) ([]*WALEntry, error) {
	entries, err := d.Store.ReadFrom(ctx, fromSeq)
	if err != nil || len(entries) == 0 {
		return entries, err
	}
	dup := *entries[0]
	return append(entries, &dup), nil
}

func TestRecoverDetectsDuplicateSequenceNumber(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWALManager(memConfig())
	appendTx(t, ctx, store, "tx-1", types.EntryBegin, types.EntryCommit)

	wrapped := &duplicatingStore{Store: store}
	_, err := Recover(ctx, wrapped, newFakeCollaborator())
	if err == nil {
		t.Fatal("expected duplicate sequence number to be rejected")
	}
}
