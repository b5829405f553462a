package collection

import (
	"sync"
	"time"

	"github.com/vedmalex/collection-store/pkg/types"
)

// versionManager tracks a bounded history of versions per key, letting
// callers read a document as of a past transaction. Retention is capped
// at 10 versions per key to avoid unbounded memory growth.
type versionManager struct {
	mu       sync.RWMutex
	versions map[string][]*versionedDocument
}

type versionedDocument struct {
	TxID      uint64
	Document  *Document
	Deleted   bool
	Timestamp time.Time
}

func newVersionManager() *versionManager {
	return &versionManager{versions: make(map[string][]*versionedDocument)}
}

func (m *versionManager) addVersion(key string, doc *Document, txID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.versions[key] = append(m.versions[key], &versionedDocument{
		TxID:      txID,
		Document:  doc,
		Timestamp: time.Now(),
	})
	if v := m.versions[key]; len(v) > 10 {
		m.versions[key] = v[len(v)-10:]
	}
}

func (m *versionManager) markDeleted(key string, txID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.versions[key] = append(m.versions[key], &versionedDocument{
		TxID:      txID,
		Deleted:   true,
		Timestamp: time.Now(),
	})
	if v := m.versions[key]; len(v) > 10 {
		m.versions[key] = v[len(v)-10:]
	}
}

// get returns the document as of asOfTx: the most recent non-deleted
// version whose transaction id does not exceed asOfTx.
func (m *versionManager) get(key string, asOfTx uint64) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.versions[key]
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		if v.TxID <= asOfTx && !v.Deleted {
			return v.Document, nil
		}
	}
	return nil, types.ErrKeyNotFound
}

func (m *versionManager) versionCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.versions[key])
}
