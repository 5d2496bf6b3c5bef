// Package executor implements the multi-agent DAG executor (spec.md
// §4.7): the per-run driver loop that turns Ready tasks into dispatched
// agent work, honors each task's decision Level, enforces the conflict
// guard before any memory read, and folds the outcome back through the
// scheduler. Grounded on
// _examples/original_source/cis-core/src/agent/executor.rs for the
// compile-time SafeMemoryContext-enforcement pattern (AgentExecutor::
// execute(task, memory: SafeMemoryContext) cannot be called without
// first obtaining a context from the guard) and on
// _examples/original_source/cis-core/src/scheduler/
// multi_agent_executor_unified.rs for the EventDriven/Polling dual
// dispatch modes, adapted to the teacher's worker-pool-plus-semaphore
// idiom for bounding concurrency.
package executor

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cis-project/cis/internal/application/scheduler"
	"github.com/cis-project/cis/internal/domain/dagrun"
	"github.com/cis-project/cis/internal/domain/memory/guard"
	"github.com/cis-project/cis/internal/domain/task"
	"github.com/cis-project/cis/internal/infrastructure/agentpool"
	"github.com/cis-project/cis/internal/infrastructure/eventbus"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// Mode picks how the driver loop learns that new work became Ready
// (spec.md §4.7 "Scheduling modes"). Correctness is identical either way;
// EventDriven only lowers latency by waking on the scheduler's own
// node.status_changed events instead of waiting for the next poll tick.
type Mode string

const (
	Polling     Mode = "polling"
	EventDriven Mode = "event_driven"
)

// Config controls one Executor (spec.md §4.7).
type Config struct {
	DefaultRuntime         string
	MaxConcurrentTasks     int
	TaskTimeout            time.Duration
	AutoCleanup            bool
	EnableContextInjection bool
	SchedulingMode         Mode
	PollInterval           time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.SchedulingMode == "" {
		c.SchedulingMode = Polling
	}
	return c
}

// SkillRunner executes a skill-backed task (spec.md §4.2 "WASM runtime &
// host API") in place of dispatching it to the PTY agent pool. The
// concrete implementation (infrastructure/wasmhost.Runner) loads t's
// skill_id as a WASM module and instantiates it against a Host scoped to
// memCtx; this package only depends on the narrow seam, the same
// convention Dispatcher/DecisionSource already use.
type SkillRunner interface {
	RunSkill(ctx context.Context, t *task.Task, memCtx guard.SafeMemoryContext) (map[string]any, error)
}

// Executor drives one or more dag runs to completion against a shared
// Scheduler and agentpool.Pool.
type Executor struct {
	cfg        Config
	sched      *scheduler.Scheduler
	pool       *agentpool.Pool
	guard      *guard.ConflictGuard
	bus        eventbus.Bus
	dispatcher Dispatcher
	decisions  DecisionSource
	skills     SkillRunner
	logger     *zap.Logger
}

// New builds an Executor. dispatcher and decisions may be nil, in which
// case PTYDispatcher and NoDecisionSource are used; cg, bus, and skills
// may also be nil (context injection is then skipped, events are not
// published, and a task.IsSkillTask() task fails with CodeSkill rather
// than silently falling through to the agent pool), exercising the same
// nil-is-a-no-op convention the teacher uses elsewhere for optional
// collaborators.
func New(cfg Config, sched *scheduler.Scheduler, pool *agentpool.Pool, cg *guard.ConflictGuard, bus eventbus.Bus, dispatcher Dispatcher, decisions DecisionSource, skills SkillRunner, logger *zap.Logger) *Executor {
	if dispatcher == nil {
		dispatcher = NewPTYDispatcher()
	}
	if decisions == nil {
		decisions = NoDecisionSource{}
	}
	return &Executor{
		cfg:        cfg.withDefaults(),
		sched:      sched,
		pool:       pool,
		guard:      cg,
		bus:        bus,
		dispatcher: dispatcher,
		decisions:  decisions,
		skills:     skills,
		logger:     logger,
	}
}

// Run drives runID to completion: it repeatedly claims every currently
// Ready task (capped at MaxConcurrentTasks in flight), dispatches each on
// its own goroutine, and returns once every node has reached a terminal
// status. It returns ctx.Err() if ctx is cancelled first; in-flight tasks
// are still drained before Run returns.
func (e *Executor) Run(ctx context.Context, runID string) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if e.bus != nil {
		cancelHandler := func(_ context.Context, ev eventbus.Event) {
			payload, ok := ev.Payload().(map[string]string)
			if !ok || payload["run_id"] != runID {
				return
			}
			cancelRun()
		}
		e.bus.Subscribe(scheduler.EventRunCancelled, cancelHandler)
		defer e.bus.Unsubscribe(scheduler.EventRunCancelled, cancelHandler)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.cfg.MaxConcurrentTasks)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	wake := make(chan struct{}, 1)
	if e.cfg.SchedulingMode == EventDriven && e.bus != nil {
		handler := func(_ context.Context, _ eventbus.Event) {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
		e.bus.Subscribe(scheduler.EventNodeStatusChanged, handler)
		e.bus.Subscribe(scheduler.EventRunCreated, handler)
		defer e.bus.Unsubscribe(scheduler.EventNodeStatusChanged, handler)
		defer e.bus.Unsubscribe(scheduler.EventRunCreated, handler)
	}

	var loopErr error
	for {
		run, err := e.sched.Get(runID)
		if err != nil {
			loopErr = err
			break
		}
		if run.AllTerminal() {
			break
		}

		ready, err := e.sched.ReadyTasks(runID)
		if err != nil {
			loopErr = err
			break
		}

		for _, taskID := range ready {
			t, ok := run.Dag.Tasks[taskID]
			if !ok {
				continue
			}
			// Claim synchronously: transitioning Ready->Running here, before
			// the goroutine starts, is what keeps ReadyTasks() from handing
			// the same node to two loop ticks.
			if err := e.sched.UpdateNodeStatus(runCtx, runID, taskID, dagrun.NodeRunning, ""); err != nil {
				continue
			}
			e.publishTask(runCtx, eventbus.EventTaskStarted, runID, taskID, "")

			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				loopErr = runCtx.Err()
			}
			if loopErr != nil {
				break
			}

			wg.Add(1)
			go func(tk *task.Task) {
				defer wg.Done()
				defer func() { <-sem }()
				e.runTask(runCtx, runID, run, tk)
			}(t)
		}
		if loopErr != nil {
			break
		}

		select {
		case <-runCtx.Done():
			loopErr = runCtx.Err()
		case <-ticker.C:
		case <-wake:
		}
		if loopErr != nil {
			break
		}
	}

	wg.Wait()
	return loopErr
}

// runTask carries one claimed (already Running) task from context
// injection through dispatch to its final status.
func (e *Executor) runTask(ctx context.Context, runID string, run *dagrun.DagRun, t *task.Task) {
	taskCtx := ctx
	if e.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, e.cfg.TaskTimeout)
		defer cancel()
	}

	memCtx, err := e.buildContext(t)
	if err != nil {
		if cerr.Is(err, cerr.CodeMemoryConflict) {
			e.finishBlocked(ctx, runID, t)
			return
		}
		e.finishFailed(ctx, runID, t, err)
		return
	}

	prompt := BuildPrompt(t, run, memCtx, e.cfg.EnableContextInjection)

	action, err := e.resolveLevelAction(taskCtx, ctx, runID, t)
	if err != nil {
		e.finishFailed(ctx, runID, t, err)
		return
	}

	switch action {
	case task.ActionSkip:
		if err := e.sched.UpdateNodeStatus(ctx, runID, t.ID, dagrun.NodeSkipped, t.FailureType); err != nil && e.logger != nil {
			e.logger.Warn("failed to mark task skipped", zap.String("task_id", t.ID), zap.Error(err))
		}
		e.publishTask(ctx, eventbus.EventTaskSkipped, runID, t.ID, "")
		return
	case task.ActionAbort:
		e.finishFailed(ctx, runID, t, cerr.Execution("task aborted by decision policy"))
		return
	}

	if t.IsSkillTask() {
		e.dispatchSkill(taskCtx, ctx, runID, t, memCtx)
		return
	}

	e.dispatchAndFinish(taskCtx, ctx, runID, run, t, prompt)
}

// dispatchSkill routes a skill-backed task (spec.md §4.2) through the
// wired SkillRunner instead of the PTY agent pool, recording its decoded
// skill_result on success exactly as dispatchAndFinish records an agent's
// text reply.
func (e *Executor) dispatchSkill(taskCtx, baseCtx context.Context, runID string, t *task.Task, memCtx guard.SafeMemoryContext) {
	if e.skills == nil {
		e.finishFailed(baseCtx, runID, t, cerr.Skill(fmt.Sprintf("no skill runner configured for skill_id %q", t.SkillID)))
		return
	}

	result, err := e.skills.RunSkill(taskCtx, t, memCtx)
	if err != nil {
		e.finishFailed(baseCtx, runID, t, err)
		return
	}

	t.SkillResult = result
	if err := e.sched.UpdateNodeStatus(baseCtx, runID, t.ID, dagrun.NodeCompleted, ""); err != nil && e.logger != nil {
		e.logger.Warn("failed to mark skill task completed", zap.String("task_id", t.ID), zap.Error(err))
	}
	e.publishTask(baseCtx, eventbus.EventTaskCompleted, runID, t.ID, "")
}

// buildContext snapshots t's declared Inputs through the conflict guard.
// A task with no guard wired, context injection disabled, or no declared
// inputs skips straight through with an empty context (spec.md §4.7.c).
func (e *Executor) buildContext(t *task.Task) (guard.SafeMemoryContext, error) {
	if e.guard == nil || !e.cfg.EnableContextInjection || len(t.Inputs) == 0 {
		return guard.SafeMemoryContext{}, nil
	}
	return e.guard.CheckAndCreateContext(t.Inputs)
}

// resolveLevelAction honors t.Level (spec.md §4.7.d): Mechanical always
// executes immediately (retry/backoff happens inside dispatch);
// Recommended awaits a decision up to its own timeout and falls back to
// default_action; Confirmed and Arbitrated await a decision with no
// executor-imposed timeout and no default — a caller that never decides
// leaves the task waiting until the run's ctx is cancelled.
func (e *Executor) resolveLevelAction(taskCtx, baseCtx context.Context, runID string, t *task.Task) (task.Action, error) {
	switch t.Level.Kind {
	case "recommended":
		timeout := time.Duration(t.Level.TimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		decisionCtx, cancel := context.WithTimeout(baseCtx, timeout)
		defer cancel()
		action, err := e.decisions.AwaitDecision(decisionCtx, runID, t.ID)
		if err != nil {
			def := t.Level.DefaultAction
			if def == "" {
				def = task.ActionExecute
			}
			return def, nil
		}
		return action, nil
	case "confirmed", "arbitrated":
		return e.decisions.AwaitDecision(baseCtx, runID, t.ID)
	default: // "mechanical" and unset
		return task.ActionExecute, nil
	}
}

// dispatchAndFinish acquires an agent session, dispatches the prompt
// (with retry for Mechanical tasks), runs rollback commands on failure,
// releases the session, and applies the final node status — spec.md
// §4.7.b, e, f, g in one place since they share the acquired Entry.
func (e *Executor) dispatchAndFinish(taskCtx, baseCtx context.Context, runID string, run *dagrun.DagRun, t *task.Task, prompt string) {
	agentKind := t.AgentRuntime
	if agentKind == "" {
		agentKind = e.cfg.DefaultRuntime
	}

	reuseID := ""
	if t.ReuseAgent != "" {
		if bound, ok := run.SessionBindings[t.ReuseAgent]; ok {
			reuseID = bound
		} else {
			reuseID = t.ReuseAgent
		}
	}

	entry, err := e.pool.Acquire(baseCtx, runID, t.ID, agentKind, t.WorkspaceDir, reuseID)
	if err != nil {
		if cerr.Is(err, cerr.CodeExecution) {
			// Pool exhausted: back off to Ready rather than failing the
			// task outright; a later loop tick will retry once a session
			// frees up.
			if backErr := e.sched.UpdateNodeStatus(baseCtx, runID, t.ID, dagrun.NodeReady, ""); backErr != nil && e.logger != nil {
				e.logger.Warn("failed to back off exhausted task", zap.String("task_id", t.ID), zap.Error(backErr))
			}
			return
		}
		e.finishFailed(baseCtx, runID, t, err)
		return
	}

	if err := e.sched.BindSession(baseCtx, runID, t.ID, entry.Session.SessionID.String()); err != nil && e.logger != nil {
		e.logger.Warn("failed to bind session", zap.String("task_id", t.ID), zap.Error(err))
	}
	e.publishSession(baseCtx, eventbus.EventSessionAcquired, entry)

	var out string
	var dispatchErr error
	if t.Level.Kind == "mechanical" || t.Level.Kind == "" {
		out, dispatchErr = e.dispatchWithRetry(taskCtx, entry.Process, prompt, t.Level.Retry)
	} else {
		out, dispatchErr = e.dispatcher.Dispatch(taskCtx, entry.Process, prompt)
	}

	if dispatchErr != nil && len(t.Rollback) > 0 {
		e.runRollback(baseCtx, t)
	}

	if err := e.pool.Release(entry.Session.SessionID.String(), t.KeepAgent); err != nil && e.logger != nil {
		e.logger.Warn("failed to release agent session", zap.String("session_id", entry.Session.SessionID.String()), zap.Error(err))
	}
	e.publishSession(baseCtx, eventbus.EventSessionReleased, entry)

	if dispatchErr != nil {
		e.finishFailed(baseCtx, runID, t, dispatchErr)
		return
	}

	t.Result = out
	if err := e.sched.UpdateNodeStatus(baseCtx, runID, t.ID, dagrun.NodeCompleted, ""); err != nil && e.logger != nil {
		e.logger.Warn("failed to mark task completed", zap.String("task_id", t.ID), zap.Error(err))
	}
	e.publishTask(baseCtx, eventbus.EventTaskCompleted, runID, t.ID, "")
}

// dispatchWithRetry retries a Mechanical-level dispatch up to retries
// times with exponential backoff (spec.md §3 Level::Mechanical{retry}).
func (e *Executor) dispatchWithRetry(ctx context.Context, proc *agentpool.Process, prompt string, retries uint8) (string, error) {
	backoff := 250 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= int(retries); attempt++ {
		out, err := e.dispatcher.Dispatch(ctx, proc, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == int(retries) {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", lastErr
}

// runRollback executes t.Rollback's shell commands best-effort; their
// outcome is logged only and never changes the task's final status
// (spec.md §3 "rollback commands do not themselves affect node status").
func (e *Executor) runRollback(ctx context.Context, t *task.Task) {
	for _, cmd := range t.Rollback {
		c := exec.CommandContext(ctx, "sh", "-c", cmd)
		c.Dir = t.WorkspaceDir
		if err := c.Run(); err != nil && e.logger != nil {
			e.logger.Warn("rollback command failed", zap.String("task_id", t.ID), zap.String("command", cmd), zap.Error(err))
		}
	}
}

func (e *Executor) finishBlocked(ctx context.Context, runID string, t *task.Task) {
	if err := e.sched.UpdateNodeStatus(ctx, runID, t.ID, dagrun.NodeBlocked, ""); err != nil && e.logger != nil {
		e.logger.Warn("failed to mark task blocked", zap.String("task_id", t.ID), zap.Error(err))
	}
	e.publishTask(ctx, eventbus.EventTaskBlocked, runID, t.ID, "unresolved memory conflicts on declared inputs")
}

func (e *Executor) finishFailed(ctx context.Context, runID string, t *task.Task, cause error) {
	t.Error = cause.Error()
	if err := e.sched.UpdateNodeStatus(ctx, runID, t.ID, dagrun.NodeFailed, t.FailureType); err != nil && e.logger != nil {
		e.logger.Warn("failed to mark task failed", zap.String("task_id", t.ID), zap.Error(err))
	}
	e.publishTask(ctx, eventbus.EventTaskFailed, runID, t.ID, cause.Error())
}

func (e *Executor) publishTask(ctx context.Context, eventType, runID, taskID, errMsg string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, eventbus.NewEvent(eventType, eventbus.TaskPayload{RunID: runID, TaskID: taskID, Error: errMsg}))
}

func (e *Executor) publishSession(ctx context.Context, eventType string, entry *agentpool.Entry) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, eventbus.NewEvent(eventType, eventbus.SessionPayload{
		SessionID: entry.Session.SessionID.String(),
		AgentKind: entry.Session.AgentType,
		State:     string(entry.Session.State),
	}))
}
