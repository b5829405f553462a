package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"

	"github.com/vedmalex/collection-store/internal/wal"
	"github.com/vedmalex/collection-store/pkg/types"
)

// Collection is a single named document collection backed by a Log
// Store. It plays two roles against the WAL core: the transaction
// coordinator that submits BEGIN/DATA/COMMIT entries on every
// mutation, and the data-store collaborator the Recovery Engine
// drives at startup (wal.Collaborator).
type Collection struct {
	name  string
	store wal.Store

	mu   sync.RWMutex
	docs map[string]*Document

	indexMu sync.RWMutex
	index   *btree.BTree

	versions *versionManager

	txCounter atomic.Uint64

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New creates a Collection named name, durable through store.
func New(name string, store wal.Store) *Collection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Collection{
		name:     name,
		store:    store,
		docs:     make(map[string]*Document),
		index:    newIndex(),
		versions: newVersionManager(),
		bgCancel: cancel,
	}

	c.bgWG.Add(1)
	go c.ttlCleaner(ctx)

	return c
}

// Recover replays the WAL into this collection at startup. It must be
// called before any Put/Get/Delete on a freshly opened Collection.
func (c *Collection) Recover(ctx context.Context) (*wal.Report, error) {
	return wal.Recover(ctx, c.store, c)
}

func (c *Collection) nextTxID() string {
	return fmt.Sprintf("tx-%d", c.txCounter.Add(1))
}

// Put inserts or updates a document as a single auto-committed
// transaction: BEGIN, DATA, COMMIT.
func (c *Collection) Put(ctx context.Context, key string, data map[string]interface{}) (*Document, error) {
	// Data is kept in its JSON form, so a document reads back the same
	// before and after a round trip through the file backend's log.
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("collection: marshal document data: %w", err)
	}
	data = nil
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("collection: normalize document data: %w", err)
	}

	txID := c.nextTxID()
	op := types.OpInsert
	if c.has(key) {
		op = types.OpUpdate
	}

	if err := c.appendBegin(ctx, txID); err != nil {
		return nil, err
	}

	now := time.Now()
	doc := &Document{
		ID:        key,
		Data:      data,
		Version:   c.txCounter.Load(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok := c.get(key); ok {
		doc.CreatedAt = existing.CreatedAt
	}
	doc.Checksum = checksum(doc)

	if err := c.appendData(ctx, txID, op, key, doc); err != nil {
		return nil, err
	}

	c.applyPut(key, doc)

	if err := c.appendCommit(ctx, txID); err != nil {
		return nil, err
	}

	return doc, nil
}

// Get retrieves a document by key: ErrKeyNotFound if absent or expired,
// ErrDataCorruption if its checksum does not verify.
func (c *Collection) Get(ctx context.Context, key string) (*Document, error) {
	doc, ok := c.get(key)
	if !ok {
		return nil, types.ErrKeyNotFound
	}
	if doc.Expired(time.Now()) {
		return nil, types.ErrKeyNotFound
	}
	if !verifyChecksum(doc) {
		return nil, types.ErrDataCorruption
	}
	return doc, nil
}

// GetAsOf retrieves a document as it existed as of transaction asOfTx
// (time-travel read via the MVCC version chain).
func (c *Collection) GetAsOf(key string, asOfTx uint64) (*Document, error) {
	return c.versions.get(key, asOfTx)
}

// Delete removes a document as a single auto-committed transaction.
func (c *Collection) Delete(ctx context.Context, key string) error {
	if !c.has(key) {
		return types.ErrKeyNotFound
	}

	txID := c.nextTxID()
	if err := c.appendBegin(ctx, txID); err != nil {
		return err
	}
	if err := c.appendData(ctx, txID, types.OpDelete, key, nil); err != nil {
		return err
	}

	c.applyDelete(key, c.txCounter.Load())

	return c.appendCommit(ctx, txID)
}

// Scan returns documents with key in [start, end) in ascending key
// order, honoring TTL expiry. end == "" means unbounded.
func (c *Collection) Scan(ctx context.Context, start, end string, limit int) ([]*Document, error) {
	var docs []*Document
	count := 0

	c.indexMu.RLock()
	defer c.indexMu.RUnlock()

	c.index.AscendGreaterOrEqual(indexItem{key: start}, func(item btree.Item) bool {
		key := item.(indexItem).key
		if end != "" && key >= end {
			return false
		}
		if limit > 0 && count >= limit {
			return false
		}
		if doc, ok := c.get(key); ok && !doc.Expired(time.Now()) {
			docs = append(docs, doc)
			count++
		}
		return true
	})

	return docs, nil
}

// Close stops the TTL sweep and closes the underlying Store.
func (c *Collection) Close() error {
	c.bgCancel()
	c.bgWG.Wait()
	return c.store.Close()
}

// --- wal.Collaborator ---

// Replay applies a committed transaction's DATA entries in ascending
// sequence order.
func (c *Collection) Replay(ctx context.Context, transactionID string, entries []*wal.WALEntry) error {
	for _, e := range entries {
		if err := c.applyEntry(e); err != nil {
			return err
		}
	}
	return nil
}

// Rollback undoes an uncommitted or explicitly rolled-back
// transaction's DATA entries in descending sequence order. Because
// entries are visited newest-first, undoing each one restores the state
// as of just before the transaction began.
func (c *Collection) Rollback(ctx context.Context, transactionID string, entries []*wal.WALEntry) error {
	for _, e := range entries {
		if err := c.undoEntry(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) applyEntry(e *wal.WALEntry) error {
	key, _ := e.Data["key"].(string)
	switch e.Operation {
	case types.OpInsert, types.OpUpdate:
		doc, err := decodeDocument(e.Data)
		if err != nil {
			return err
		}
		c.applyPut(key, doc)
	case types.OpDelete:
		c.applyDelete(key, e.SequenceNumber)
	}
	return nil
}

// undoEntry reverses a DATA entry during rollback: an INSERT/UPDATE is
// undone by restoring the old value carried on the entry (or removing
// the key if there was none), and a DELETE is undone by restoring the
// deleted document.
func (c *Collection) undoEntry(e *wal.WALEntry) error {
	key, _ := e.Data["key"].(string)
	switch e.Operation {
	case types.OpInsert, types.OpUpdate:
		if old, ok := e.Data["old"]; ok && old != nil {
			oldDoc, err := decodeDocument(map[string]interface{}{"new": old})
			if err == nil {
				c.applyPut(key, oldDoc)
				return nil
			}
		}
		c.removeFromIndexes(key)
	case types.OpDelete:
		// The deleted document travels on the entry as its old value;
		// without one the key simply stays absent.
		if old, ok := e.Data["old"]; ok && old != nil {
			oldDoc, err := decodeDocument(map[string]interface{}{"new": old})
			if err == nil {
				c.applyPut(key, oldDoc)
			}
		}
	}
	return nil
}

// documentToMap reduces a Document to the plain map shape DATA entries
// carry, so replay/rollback behave identically whether the entry came
// straight from an in-memory buffer or round-tripped through the
// file backend's JSON log.
func documentToMap(d *Document) map[string]interface{} {
	return map[string]interface{}{
		"id":   d.ID,
		"data": d.Data,
	}
}

func decodeDocument(data map[string]interface{}) (*Document, error) {
	raw, ok := data["new"]
	if !ok {
		return nil, fmt.Errorf("collection: DATA entry missing new value")
	}
	fields, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("collection: DATA entry new value has unexpected shape")
	}
	doc := &Document{Data: make(map[string]interface{})}
	if id, ok := fields["id"].(string); ok {
		doc.ID = id
	}
	if payload, ok := fields["data"].(map[string]interface{}); ok {
		doc.Data = payload
	}
	doc.Checksum = checksum(doc)
	return doc, nil
}

func (c *Collection) applyPut(key string, doc *Document) {
	c.mu.Lock()
	c.docs[key] = doc
	c.mu.Unlock()

	c.indexMu.Lock()
	c.index.ReplaceOrInsert(indexItem{key: key})
	c.indexMu.Unlock()

	c.versions.addVersion(key, doc, doc.Version)
}

func (c *Collection) applyDelete(key string, txID uint64) {
	c.mu.Lock()
	delete(c.docs, key)
	c.mu.Unlock()

	c.removeFromIndexes(key)
	c.versions.markDeleted(key, txID)
}

func (c *Collection) removeFromIndexes(key string) {
	c.mu.Lock()
	delete(c.docs, key)
	c.mu.Unlock()

	c.indexMu.Lock()
	c.index.Delete(indexItem{key: key})
	c.indexMu.Unlock()
}

func (c *Collection) get(key string) (*Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[key]
	return doc, ok
}

func (c *Collection) has(key string) bool {
	_, ok := c.get(key)
	return ok
}

func (c *Collection) appendBegin(ctx context.Context, txID string) error {
	return c.store.Append(ctx, &wal.WALEntry{
		TransactionID:  txID,
		Type:           types.EntryBegin,
		CollectionName: c.name,
		Operation:      types.OpInsert,
	})
}

func (c *Collection) appendData(ctx context.Context, txID string, op types.Operation, key string, doc *Document) error {
	data := wal.EntryData{"key": key}
	if old, ok := c.get(key); ok {
		data["old"] = documentToMap(old)
	}
	if doc != nil {
		data["new"] = documentToMap(doc)
	}
	return c.store.Append(ctx, &wal.WALEntry{
		TransactionID:  txID,
		Type:           types.EntryData,
		CollectionName: c.name,
		Operation:      op,
		Data:           data,
	})
}

func (c *Collection) appendCommit(ctx context.Context, txID string) error {
	return c.store.Append(ctx, &wal.WALEntry{
		TransactionID:  txID,
		Type:           types.EntryCommit,
		CollectionName: c.name,
		Operation:      types.OpCommit,
	})
}

func (c *Collection) ttlCleaner(ctx context.Context) {
	defer c.bgWG.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanExpired(ctx)
		}
	}
}

func (c *Collection) cleanExpired(ctx context.Context) {
	now := time.Now()
	var expired []string

	c.mu.RLock()
	for k, v := range c.docs {
		if v.Expired(now) {
			expired = append(expired, k)
		}
	}
	c.mu.RUnlock()

	for _, k := range expired {
		_ = c.Delete(ctx, k)
	}
}
