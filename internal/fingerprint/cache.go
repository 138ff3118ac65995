package fingerprint

import (
	"sync"
	"time"

	"github.com/corona10/goimagehash"
)

// Record is a cached fingerprint for one reference file. Size and ModTime identify the file
// version the hash was computed from.
type Record struct {
	Path    string           `json:"path"`
	Size    int64            `json:"size"`
	ModTime time.Time        `json:"mod_time"`
	Hash    uint64           `json:"hash"`
	Kind    goimagehash.Kind `json:"kind"`
}

// Fresh reports whether the record was computed from a file with the given size and modification time
func (r Record) Fresh(size int64, modTime time.Time) bool {
	return r.Size == size && r.ModTime.Equal(modTime)
}

// ImageHash rebuilds the fingerprint stored in the record
func (r Record) ImageHash() *goimagehash.ImageHash {
	return goimagehash.NewImageHash(r.Hash, r.Kind)
}

// Cache stores fingerprints across builds
type Cache interface {
	// Get returns the record for path, if any
	Get(path string) (Record, bool, error)

	// Put stores a record, replacing any previous one for the same path
	Put(record Record) error
}

// MemoryCache is an in-process Cache. It is safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryCache creates an empty MemoryCache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{records: make(map[string]Record)}
}

// Get returns the record for path
func (m *MemoryCache) Get(path string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[path]
	return rec, ok, nil
}

// Put stores a record
func (m *MemoryCache) Put(record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.Path] = record
	return nil
}
