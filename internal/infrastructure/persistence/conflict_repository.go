package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/cis-project/cis/internal/domain/memory"
	"github.com/cis-project/cis/internal/infrastructure/persistence/models"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// ConflictRepository persists memory.ConflictRecord rows (spec.md §6
// `conflicts`). versions is stored JSON-encoded since ConflictVersion is a
// small, rarely-queried nested structure — a BLOB column, not a separate
// table, matching spec.md's exact schema.
type ConflictRepository struct {
	db *gorm.DB
}

// NewConflictRepository wraps db.
func NewConflictRepository(db *gorm.DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

// Save upserts record.
func (r *ConflictRepository) Save(record *memory.ConflictRecord) error {
	versions, err := json.Marshal(record.Versions)
	if err != nil {
		return cerr.Serialization(fmt.Sprintf("marshalling conflict versions for %q", record.ConflictID), err)
	}

	row := models.ConflictModel{
		ConflictID: record.ConflictID,
		Key:        record.Key,
		Versions:   versions,
		DetectedAt: record.DetectedAt.UnixNano(),
	}
	if record.ResolvedAt != nil {
		nanos := record.ResolvedAt.UnixNano()
		row.ResolvedAt = &nanos
	}
	if record.ChosenResolution != nil {
		row.Chosen = record.ChosenResolution.Choice
	}

	if err := r.db.Save(&row).Error; err != nil {
		return cerr.Database(fmt.Sprintf("saving conflict %q", record.ConflictID), err)
	}
	return nil
}

// Get loads the conflict record named by conflictID.
func (r *ConflictRepository) Get(conflictID string) (*memory.ConflictRecord, error) {
	var row models.ConflictModel
	if err := r.db.First(&row, "conflict_id = ?", conflictID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, cerr.NotFound(fmt.Sprintf("conflict %q not found", conflictID))
		}
		return nil, cerr.Database(fmt.Sprintf("loading conflict %q", conflictID), err)
	}
	return recordFromRow(row)
}

// ListUnresolved returns every conflict record without a resolution.
func (r *ConflictRepository) ListUnresolved() ([]*memory.ConflictRecord, error) {
	var rows []models.ConflictModel
	if err := r.db.Where("resolved_at IS NULL").Find(&rows).Error; err != nil {
		return nil, cerr.Database("listing unresolved conflicts", err)
	}
	records := make([]*memory.ConflictRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := recordFromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordFromRow(row models.ConflictModel) (*memory.ConflictRecord, error) {
	var versions []memory.ConflictVersion
	if err := json.Unmarshal(row.Versions, &versions); err != nil {
		return nil, cerr.Serialization(fmt.Sprintf("unmarshalling conflict versions for %q", row.ConflictID), err)
	}
	record := &memory.ConflictRecord{
		ConflictID: row.ConflictID,
		Key:        row.Key,
		Versions:   versions,
		DetectedAt: nanosToTime(row.DetectedAt),
	}
	if row.ResolvedAt != nil {
		resolvedAt := nanosToTime(*row.ResolvedAt)
		record.ResolvedAt = &resolvedAt
		record.ChosenResolution = &memory.Resolution{Choice: row.Chosen}
	}
	return record, nil
}
