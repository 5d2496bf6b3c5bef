package executor

import (
	"context"
	"time"

	"github.com/cis-project/cis/internal/domain/task"
	"github.com/cis-project/cis/internal/infrastructure/agentpool"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// Dispatcher sends a prompt to an already-acquired agent process and
// returns its reply. It is the executor's only seam onto agentpool.Process,
// kept narrow so tests can substitute a fake without spawning a real PTY.
type Dispatcher interface {
	Dispatch(ctx context.Context, proc *agentpool.Process, prompt string) (string, error)
}

// PTYDispatcher is the default Dispatcher: it writes prompt to the
// process's PTY and reads back whatever the agent writes until output
// goes quiet for QuietWindow, grounded on
// _examples/joeycumines-go-utilpkg/prompt/termtest/console.go's
// Expect(ctx, snapshot, Contains(...)) idiom — adapted to a plain
// idle-detection heuristic since agentpool.Process exposes a raw output
// buffer rather than a pattern matcher.
type PTYDispatcher struct {
	PollInterval time.Duration
	QuietWindow  time.Duration
}

// NewPTYDispatcher builds a PTYDispatcher with practical polling defaults.
func NewPTYDispatcher() *PTYDispatcher {
	return &PTYDispatcher{PollInterval: 50 * time.Millisecond, QuietWindow: 300 * time.Millisecond}
}

func (d *PTYDispatcher) pollInterval() time.Duration {
	if d.PollInterval > 0 {
		return d.PollInterval
	}
	return 50 * time.Millisecond
}

func (d *PTYDispatcher) quietWindow() time.Duration {
	if d.QuietWindow > 0 {
		return d.QuietWindow
	}
	return 300 * time.Millisecond
}

// Dispatch implements Dispatcher.
func (d *PTYDispatcher) Dispatch(ctx context.Context, proc *agentpool.Process, prompt string) (string, error) {
	start := len(proc.Output())
	if _, err := proc.Write([]byte(prompt + "\n")); err != nil {
		return "", cerr.Execution("writing prompt to agent process: " + err.Error())
	}

	ticker := time.NewTicker(d.pollInterval())
	defer ticker.Stop()

	last := start
	quietSince := time.Now()
	for {
		select {
		case <-ctx.Done():
			return safeSlice(proc.Output(), start), ctx.Err()
		case <-ticker.C:
			out := proc.Output()
			if len(out) > last {
				last = len(out)
				quietSince = time.Now()
				continue
			}
			if !proc.Alive() || time.Since(quietSince) >= d.quietWindow() {
				return safeSlice(out, start), nil
			}
		}
	}
}

func safeSlice(s string, from int) string {
	if from >= len(s) {
		return ""
	}
	return s[from:]
}

// DecisionSource resolves what to do about a Recommended/Confirmed/
// Arbitrated-level task — typically a human operator or an arbitration
// front-end observing the event bus and calling back in (spec.md §4.7.d).
type DecisionSource interface {
	AwaitDecision(ctx context.Context, runID, taskID string) (task.Action, error)
}

// NoDecisionSource is the default DecisionSource when nothing is wired:
// it never resolves, so Recommended tasks always fall through to their
// default_action on timeout, and Confirmed/Arbitrated tasks (which have no
// default) fail once their context is cancelled.
type NoDecisionSource struct{}

// AwaitDecision blocks until ctx is done and then reports that error.
func (NoDecisionSource) AwaitDecision(ctx context.Context, runID, taskID string) (task.Action, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
