package service

import (
	"context"

	"github.com/cis-project/cis/internal/domain/dagrun"
	"github.com/cis-project/cis/internal/infrastructure/persistence"
)

// schedulerRepoAdapter satisfies scheduler.Repository over
// *persistence.DagRunRepository, whose gorm-backed methods are
// synchronous and take no context — SQLite write-through is always a
// local disk call here, so there is nothing for a context to cancel
// mid-call, unlike the DHT's network RPCs.
type schedulerRepoAdapter struct {
	repo *persistence.DagRunRepository
}

// NewSchedulerRepository adapts repo to scheduler.Repository, for
// cmd/cisd to pass straight into scheduler.New.
func NewSchedulerRepository(repo *persistence.DagRunRepository) *schedulerRepoAdapter {
	return &schedulerRepoAdapter{repo: repo}
}

func (a *schedulerRepoAdapter) Save(ctx context.Context, run *dagrun.DagRun) error {
	return a.repo.Save(run)
}

func (a *schedulerRepoAdapter) Get(ctx context.Context, runID string) (*dagrun.DagRun, error) {
	return a.repo.Get(runID)
}

func (a *schedulerRepoAdapter) ListNonTerminal(ctx context.Context) ([]*dagrun.DagRun, error) {
	return a.repo.ListNonTerminal()
}

func (a *schedulerRepoAdapter) Delete(ctx context.Context, runID string) error {
	return a.repo.Delete(runID)
}
