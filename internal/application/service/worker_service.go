package service

import (
	"sort"

	"github.com/cis-project/cis/internal/infrastructure/agentpool"
)

// WorkerService is spec.md §4.8's local-worker-facing facade:
// list/inspect/stop long-lived worker processes on the local node — the
// PTY-backed agent sessions agentpool.Pool holds.
type WorkerService struct {
	pool *agentpool.Pool
}

// NewWorkerService wraps pool.
func NewWorkerService(pool *agentpool.Pool) *WorkerService {
	return &WorkerService{pool: pool}
}

// WorkerInfo is a read-only projection of one live agent session, the
// shape a front-end actually wants (session identity and liveness)
// rather than the pool's internal *agentpool.Entry.
type WorkerInfo struct {
	SessionID string
	AgentKind string
	State     string
	Alive     bool
	PID       int
}

// List returns every live worker process, optionally filtered by
// ListOptions.Filters["agent_kind"].
func (s *WorkerService) List(opts ListOptions) PaginatedResult[WorkerInfo] {
	var infos []WorkerInfo
	for _, e := range s.pool.All() {
		if !opts.matches("agent_kind", e.Session.AgentType) {
			continue
		}
		infos = append(infos, workerInfoOf(e))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return paginate(infos, opts)
}

// Inspect returns one worker's info.
func (s *WorkerService) Inspect(sessionID string) (WorkerInfo, error) {
	e, ok := s.pool.Get(sessionID)
	if !ok {
		return WorkerInfo{}, notFound("worker", sessionID)
	}
	return workerInfoOf(e), nil
}

// Stop terminates sessionID's underlying process and evicts it from the
// pool unconditionally, regardless of its keep_alive setting.
func (s *WorkerService) Stop(sessionID string) error {
	return s.pool.Release(sessionID, false)
}

func workerInfoOf(e *agentpool.Entry) WorkerInfo {
	return WorkerInfo{
		SessionID: e.Session.SessionID.String(),
		AgentKind: e.Session.AgentType,
		State:     string(e.Session.State),
		Alive:     e.Process.Alive(),
		PID:       e.Session.PID,
	}
}
