package wal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/vedmalex/collection-store/pkg/config"
	"github.com/vedmalex/collection-store/pkg/types"
)

func fileConfig(t *testing.T) config.WALConfig {
	t.Helper()
	dir := t.TempDir()
	return config.WALConfig{
		Path:              filepath.Join(dir, "wal.log"),
		MaxBufferSize:     100,
		EnableChecksums:   true,
		EnableCompression: false,
	}
}

func TestFileEmptyLogStartsAtZero(t *testing.T) {
	cfg := fileConfig(t)
	store, err := OpenFileWALManager(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if store.CurrentSequence() != 0 {
		t.Fatalf("expected sequence 0 on empty log, got %d", store.CurrentSequence())
	}
	entries, err := store.ReadFrom(context.Background(), 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestFileAppendFlushPersistsAndReopens(t *testing.T) {
	ctx := context.Background()
	cfg := fileConfig(t)

	store, err := OpenFileWALManager(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for _, et := range []types.EntryType{types.EntryBegin, types.EntryData, types.EntryCommit} {
		e := &WALEntry{TransactionID: "tx-1", Type: et, CollectionName: "docs", Operation: types.OpInsert, Data: EntryData{"key": "k"}}
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenFileWALManager(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.CurrentSequence() != 3 {
		t.Fatalf("expected sequence counter to recover to 3, got %d", reopened.CurrentSequence())
	}
	entries, err := reopened.ReadFrom(ctx, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 persisted entries, got %d", len(entries))
	}
}

func TestFileCorruptTrailingLineIsSkipped(t *testing.T) {
	ctx := context.Background()
	cfg := fileConfig(t)

	store, err := OpenFileWALManager(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e := &WALEntry{TransactionID: "tx-1", Type: types.EntryCommit, CollectionName: "docs", Operation: types.OpCommit, Data: EntryData{"key": "k"}}
	if err := store.Append(ctx, e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	if _, err := f.WriteString(`{"transactionId":"tx-2","sequenceNumber":2,"checksum":"deadbeef"`); err != nil {
		t.Fatalf("write truncated line: %v", err)
	}
	f.Close()

	reopened, err := OpenFileWALManager(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.ReadFrom(ctx, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the truncated trailing line to be skipped, kept %d entries", len(entries))
	}
}

func TestFileChecksumMismatchIsSkipped(t *testing.T) {
	ctx := context.Background()
	cfg := fileConfig(t)

	store, err := OpenFileWALManager(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	good := &WALEntry{TransactionID: "tx-1", Type: types.EntryCommit, CollectionName: "docs", Operation: types.OpCommit, Data: EntryData{"key": "k"}}
	if err := store.Append(ctx, good); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	corrupt := `{"transactionId":"tx-2","sequenceNumber":2,"timestamp":1,"type":"DATA","collectionName":"docs","operation":"INSERT","data":{"key":"k2"},"checksum":"0000000000000000000000000000000000000000000000000000000000000000"}` + "\n"
	if _, err := f.WriteString(corrupt); err != nil {
		t.Fatalf("write corrupt line: %v", err)
	}
	f.Close()

	reopened, err := OpenFileWALManager(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.ReadFrom(ctx, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected corrupt-checksum entry to be skipped, kept %d entries", len(entries))
	}
}

func TestFileTruncateBelowIsCrashSafe(t *testing.T) {
	ctx := context.Background()
	cfg := fileConfig(t)

	store, err := OpenFileWALManager(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	for i := 0; i < 5; i++ {
		e := &WALEntry{TransactionID: "tx-1", Type: types.EntryCommit, CollectionName: "docs", Operation: types.OpCommit, Data: EntryData{"key": "k"}}
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if err := store.TruncateBelow(ctx, 3); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	if _, err := os.Stat(cfg.Path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file should not survive a successful truncate")
	}

	entries, err := store.ReadFrom(ctx, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 survivors, got %d", len(entries))
	}
	for _, e := range entries {
		if e.SequenceNumber < 3 {
			t.Fatalf("found surviving entry with seq %d < 3", e.SequenceNumber)
		}
	}
}

func TestFileTruncateAllRemovesLog(t *testing.T) {
	ctx := context.Background()
	cfg := fileConfig(t)

	store, err := OpenFileWALManager(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	for i := 0; i < 3; i++ {
		e := &WALEntry{TransactionID: "tx-1", Type: types.EntryCommit, CollectionName: "docs", Operation: types.OpCommit, Data: EntryData{"key": "k"}}
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if err := store.TruncateBelow(ctx, 100); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	entries, err := store.ReadFrom(ctx, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty log after truncating everything, got %d entries", len(entries))
	}
	if store.CurrentSequence() != 3 {
		t.Fatalf("CurrentSequence should survive truncation, got %d", store.CurrentSequence())
	}
}
