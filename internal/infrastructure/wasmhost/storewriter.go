package wasmhost

import (
	"time"

	"github.com/cis-project/cis/internal/domain/memory"
)

// StoreWriter adapts memory.Store to the MemoryWriter interface the host
// function table needs (memory.Store.Set/Delete use a richer shape than
// the ptr/len host calls care about).
type StoreWriter struct {
	Store  *memory.Store
	Domain memory.Domain
}

// Set implements MemoryWriter.
func (w StoreWriter) Set(key string, value []byte) error {
	w.Store.Set(memory.Entry{Key: key, Value: value, Domain: w.Domain, UpdatedAt: time.Now().UTC()})
	return nil
}

// Delete implements MemoryWriter.
func (w StoreWriter) Delete(key string) (bool, error) {
	return w.Store.Delete(key), nil
}
