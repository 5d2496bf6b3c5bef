package persistence

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cis-project/cis/internal/domain/dagrun"
	"github.com/cis-project/cis/internal/infrastructure/dagfile"
	"github.com/cis-project/cis/internal/infrastructure/persistence/models"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// DagRunRepository write-throughs every run mutation to `dag_runs`
// (spec.md §4.6: "every run mutation write-throughs to a SQLite table").
type DagRunRepository struct {
	db *gorm.DB
}

// NewDagRunRepository wraps db.
func NewDagRunRepository(db *gorm.DB) *DagRunRepository {
	return &DagRunRepository{db: db}
}

// Save upserts run's full JSON payload.
func (r *DagRunRepository) Save(run *dagrun.DagRun) error {
	payload, err := dagfile.MarshalRun(run)
	if err != nil {
		return err
	}
	row := models.DagRunModel{
		RunID:     run.RunID,
		Payload:   payload,
		Status:    string(run.Status),
		UpdatedAt: time.Now().UTC().UnixNano(),
	}
	if err := r.db.Save(&row).Error; err != nil {
		return cerr.Database(fmt.Sprintf("saving dag run %q", run.RunID), err)
	}
	return nil
}

// Get loads and deserializes the run named by runID.
func (r *DagRunRepository) Get(runID string) (*dagrun.DagRun, error) {
	var row models.DagRunModel
	if err := r.db.First(&row, "run_id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, cerr.NotFound(fmt.Sprintf("dag run %q not found", runID))
		}
		return nil, cerr.Database(fmt.Sprintf("loading dag run %q", runID), err)
	}
	return dagfile.UnmarshalRun(row.Payload)
}

// ListNonTerminal returns every run not in a terminal status, used to
// rehydrate in-memory scheduler state on startup (spec.md §4.6: "On
// startup the scheduler rehydrates all non-terminal runs").
func (r *DagRunRepository) ListNonTerminal() ([]*dagrun.DagRun, error) {
	var rows []models.DagRunModel
	terminal := []string{string(dagrun.StatusCompleted), string(dagrun.StatusFailed), string(dagrun.StatusCancelled)}
	if err := r.db.Where("status NOT IN ?", terminal).Find(&rows).Error; err != nil {
		return nil, cerr.Database("listing non-terminal dag runs", err)
	}

	runs := make([]*dagrun.DagRun, 0, len(rows))
	for _, row := range rows {
		run, err := dagfile.UnmarshalRun(row.Payload)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Delete removes the run record for runID.
func (r *DagRunRepository) Delete(runID string) error {
	if err := r.db.Delete(&models.DagRunModel{}, "run_id = ?", runID).Error; err != nil {
		return cerr.Database(fmt.Sprintf("deleting dag run %q", runID), err)
	}
	return nil
}
