package agentpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cis-project/cis/internal/domain/sandbox"
	"github.com/cis-project/cis/internal/domain/session"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// Spawner starts the external process backing one agent kind. Concrete
// wiring (which binary, which flags) is supplied by the caller, keeping
// Pool itself provider-agnostic (spec.md §3's agent_type/runtime_kind are
// opaque strings to this layer).
type Spawner func(ctx context.Context, agentKind, workspaceDir string) (*Process, error)

// Entry pairs a domain session record with the live process backing it.
type Entry struct {
	Session *session.AgentSession
	Process *Process
	fd      *sandbox.FDGuard
}

// Pool owns a bounded set of AgentSessions (spec.md §4.5 "Agent session
// pool"). It is safe for concurrent use: a writer-mutex guards the pool
// index itself, but a session, once acquired, is mutated only by its
// holder (spec.md §7 "Session pool: writer-mutex on the pool index;
// sessions, once acquired, are mutated only by their holder").
type Pool struct {
	mu        sync.Mutex
	entries   map[string]*Entry // keyed by session.ID.String()
	maxAgents int
	spawn     Spawner
	logger    *zap.Logger
	policy    *sandbox.Policy
	fdCount   atomic.Uint32
	maxFD     uint32
}

// NewPool builds a Pool bounded at maxAgents live sessions.
func NewPool(maxAgents int, spawn Spawner, logger *zap.Logger) *Pool {
	if maxAgents <= 0 {
		maxAgents = 1
	}
	return &Pool{entries: make(map[string]*Entry), maxAgents: maxAgents, spawn: spawn, logger: logger}
}

// SetSandbox wires a filesystem policy and FD cap into the pool, so every
// spawned agent's workspaceDir is checked against the sandbox whitelist
// and accounted against maxFD (spec.md §4.1) before a process is started.
// Left unset, Acquire spawns unconditionally — the nil-is-a-no-op
// convention this codebase uses for optional collaborators elsewhere.
func (p *Pool) SetSandbox(policy *sandbox.Policy, maxFD uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
	p.maxFD = maxFD
}

// Acquire implements spec.md §4.5's acquire(agent_kind, reuse_id?): if
// reuseID names an alive+idle session, it is bound and returned; else an
// idle session of agentKind is reused; else a new one is spawned
// (respecting max_agents); else it fails with a CodeExecution "exhausted"
// error the executor's backoff logic can recognize.
func (p *Pool) Acquire(ctx context.Context, dagRunID, taskID, agentKind, workspaceDir string, reuseID string) (*Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if reuseID != "" {
		if e, ok := p.entries[reuseID]; ok && e.Session.State.IsAvailable() {
			if err := e.Session.Transition(session.StateBusy); err != nil {
				return nil, err
			}
			return e, nil
		}
	}

	for _, e := range p.entries {
		if e.Session.AgentType == agentKind && e.Session.State.IsAvailable() {
			if err := e.Session.Transition(session.StateBusy); err != nil {
				return nil, err
			}
			return e, nil
		}
	}

	if len(p.entries) >= p.maxAgents {
		return nil, cerr.Execution(fmt.Sprintf("agent pool exhausted: %d/%d agents in use", len(p.entries), p.maxAgents))
	}

	var fdGuard *sandbox.FDGuard
	if p.policy != nil {
		real, err := p.policy.ValidatePath(workspaceDir, sandbox.Write)
		if err != nil {
			return nil, err
		}
		workspaceDir = real
		fdGuard, err = sandbox.TryAllocateFD(&p.fdCount, p.maxFD)
		if err != nil {
			return nil, err
		}
	}

	proc, err := p.spawn(ctx, agentKind, workspaceDir)
	if err != nil {
		if fdGuard != nil {
			fdGuard.Release()
		}
		return nil, err
	}

	id := session.NewID(dagRunID, taskID)
	sess := session.New(id, agentKind, agentKind, workspaceDir, nil)
	if err := sess.Transition(session.StateIdle); err != nil {
		_ = proc.Close()
		if fdGuard != nil {
			fdGuard.Release()
		}
		return nil, err
	}
	if err := sess.Transition(session.StateBusy); err != nil {
		_ = proc.Close()
		if fdGuard != nil {
			fdGuard.Release()
		}
		return nil, err
	}

	e := &Entry{Session: sess, Process: proc, fd: fdGuard}
	p.entries[id.String()] = e
	if p.logger != nil {
		p.logger.Info("agent session spawned", zap.String("session_id", id.String()), zap.String("agent_kind", agentKind))
	}
	return e, nil
}

// Release returns a session to Idle (or terminates it) per spec.md
// §4.7.f: "Release the session with keep_alive = node.keep_agent."
func (p *Pool) Release(sessionID string, keepAlive bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[sessionID]
	if !ok {
		return cerr.NotFound("session " + sessionID + " not found in pool")
	}

	e.Session.KeepAlive = keepAlive
	if !keepAlive {
		return p.terminateLocked(sessionID)
	}
	return e.Session.Transition(session.StateIdle)
}

// HealthCheck probes every live session's process liveness, transitioning
// dead ones to Error and evicting them (spec.md §4.5 health_check()).
func (p *Pool) HealthCheck() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []string
	for id, e := range p.entries {
		if e.Process.Alive() {
			continue
		}
		_ = e.Session.Transition(session.StateError)
		if p.logger != nil {
			p.logger.Warn("agent session failed health check, evicting", zap.String("session_id", id))
		}
		_ = p.terminateLocked(id)
		evicted = append(evicted, id)
	}
	return evicted
}

// CleanupIdle terminates every Idle session that has sat unused longer
// than idleTimeout (spec.md §4.5 cleanup_idle(idle_timeout)).
func (p *Pool) CleanupIdle(idleTimeout time.Duration) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	var reaped []string
	for id, e := range p.entries {
		if e.Session.State != session.StateIdle {
			continue
		}
		if e.Session.IdleFor(now) < idleTimeout {
			continue
		}
		_ = p.terminateLocked(id)
		reaped = append(reaped, id)
	}
	return reaped
}

// Get returns the entry for sessionID, if present.
func (p *Pool) Get(sessionID string) (*Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[sessionID]
	return e, ok
}

// Len reports how many sessions the pool currently holds.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// All returns every entry currently held by the pool, for
// WorkerService's process-wide listing (spec.md §4.8 "WorkerService:
// list/inspect/stop long-lived worker processes on the local node").
func (p *Pool) All() []*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	all := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		all = append(all, e)
	}
	return all
}

// Shutdown terminates every held session, for process exit.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.entries {
		_ = p.terminateLocked(id)
	}
}

// terminateLocked closes the process and transitions the session to
// Shutdown, then drops it from the index. Callers must hold p.mu.
func (p *Pool) terminateLocked(sessionID string) error {
	e, ok := p.entries[sessionID]
	if !ok {
		return nil
	}
	_ = e.Session.Transition(session.StateShutdown)
	err := e.Process.Close()
	if e.fd != nil {
		e.fd.Release()
	}
	delete(p.entries, sessionID)
	return err
}
