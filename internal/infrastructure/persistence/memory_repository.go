package persistence

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/cis-project/cis/internal/domain/memory"
	"github.com/cis-project/cis/internal/infrastructure/persistence/models"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// MemoryRepository persists memory.Entry rows and the per-(key,node)
// VectorClock components that back them (spec.md §6 `memory_entries`,
// `vector_clocks`).
type MemoryRepository struct {
	db *gorm.DB
}

// NewMemoryRepository wraps db.
func NewMemoryRepository(db *gorm.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

// SaveEntry upserts e.
func (r *MemoryRepository) SaveEntry(e memory.Entry) error {
	row := models.MemoryEntryModel{
		Key:       e.Key,
		Value:     e.Value,
		Domain:    string(e.Domain),
		Category:  e.Category,
		CreatedAt: e.CreatedAt.UnixNano(),
		UpdatedAt: e.UpdatedAt.UnixNano(),
		Version:   int64(e.Version),
	}
	if err := r.db.Save(&row).Error; err != nil {
		return cerr.Database(fmt.Sprintf("saving memory entry %q", e.Key), err)
	}
	return nil
}

// GetEntry loads the entry for key.
func (r *MemoryRepository) GetEntry(key string) (memory.Entry, error) {
	var row models.MemoryEntryModel
	if err := r.db.First(&row, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return memory.Entry{}, cerr.NotFound(fmt.Sprintf("memory entry %q not found", key))
		}
		return memory.Entry{}, cerr.Database(fmt.Sprintf("loading memory entry %q", key), err)
	}
	return entryFromRow(row), nil
}

// ListEntries loads every persisted entry, for startup rehydration of a
// memory.Store.
func (r *MemoryRepository) ListEntries() ([]memory.Entry, error) {
	var rows []models.MemoryEntryModel
	if err := r.db.Find(&rows).Error; err != nil {
		return nil, cerr.Database("listing memory entries", err)
	}
	entries := make([]memory.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entryFromRow(row))
	}
	return entries, nil
}

func entryFromRow(row models.MemoryEntryModel) memory.Entry {
	return memory.Entry{
		Key:       row.Key,
		Value:     row.Value,
		Domain:    memory.Domain(row.Domain),
		Category:  row.Category,
		Version:   int(row.Version),
		CreatedAt: nanosToTime(row.CreatedAt),
		UpdatedAt: nanosToTime(row.UpdatedAt),
	}
}

// SaveVectorClock upserts every (key, node) component of clock.
func (r *MemoryRepository) SaveVectorClock(key string, clock *memory.VectorClock) error {
	for node, counter := range clock.GetAll() {
		row := models.VectorClockModel{Key: key, NodeID: node, Counter: counter}
		if err := r.db.Save(&row).Error; err != nil {
			return cerr.Database(fmt.Sprintf("saving vector clock %q/%q", key, node), err)
		}
	}
	return nil
}

// LoadVectorClock reconstructs the VectorClock for key from its persisted
// components.
func (r *MemoryRepository) LoadVectorClock(key string) (*memory.VectorClock, error) {
	var rows []models.VectorClockModel
	if err := r.db.Where("key = ?", key).Find(&rows).Error; err != nil {
		return nil, cerr.Database(fmt.Sprintf("loading vector clock %q", key), err)
	}
	clock := memory.NewVectorClock()
	components := make(map[string]uint64, len(rows))
	for _, row := range rows {
		components[row.NodeID] = row.Counter
	}
	clock.Merge(components)
	return clock, nil
}
