// Package agentpool owns the bounded pool of PTY-backed external agent
// processes described in spec.md §4.5 "Agent session pool". Process, the
// PTY wrapper, is grounded on
// _examples/joeycumines-go-utilpkg/prompt/termtest/console.go's Console
// type: a mutex-guarded output buffer fed by a background read loop, a
// ptmx master handed to github.com/creack/pty, and a once-guarded Close
// that cancels, kills, and waits for the child. Pool, the bounded
// acquire/release/health_check/cleanup_idle manager, is CIS's own
// addition on top of that primitive, following the teacher's worker-pool
// map-plus-mutex idiom used elsewhere in this repo.
package agentpool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	cerr "github.com/cis-project/cis/pkg/errors"
)

const readLoopExitTimeout = 2 * time.Second

// Process is one live PTY-attached external agent process.
type Process struct {
	mu     sync.RWMutex
	output bytes.Buffer
	ptm    *os.File
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	waitOnce sync.Once
	exitCh   chan struct{}
	exitCode int
	exitErr  error
}

// StartProcess launches command/args inside workspaceDir, attached to a
// new PTY, with env appended to the current process's environment.
func StartProcess(ctx context.Context, command string, args []string, workspaceDir string, env []string) (*Process, error) {
	if command == "" {
		return nil, cerr.InvalidInput("agent process requires a non-empty command")
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = workspaceDir
	cmd.Env = append(os.Environ(), env...)
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	ptm, err := pty.Start(cmd)
	if err != nil {
		cancel()
		return nil, cerr.Execution(fmt.Sprintf("starting agent process %q: %v", command, err))
	}

	p := &Process{
		ptm:    ptm,
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
		exitCh: make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

// Write sends raw bytes to the agent's PTY master (its stdin).
func (p *Process) Write(b []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || p.ptm == nil {
		return 0, io.ErrClosedPipe
	}
	return p.ptm.Write(b)
}

// Output returns everything the process has written so far.
func (p *Process) Output() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.output.String()
}

// Alive reports whether the process has not yet exited or been killed.
func (p *Process) Alive() bool {
	select {
	case <-p.exitCh:
		return false
	default:
		p.mu.RLock()
		closed := p.closed
		p.mu.RUnlock()
		return !closed
	}
}

// Wait blocks until the process exits, returning its exit code.
func (p *Process) Wait(ctx context.Context) (int, error) {
	p.waitProcess()
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-p.exitCh:
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.exitCode, p.exitErr
	}
}

func (p *Process) waitProcess() {
	p.waitOnce.Do(func() {
		go func() {
			err := p.cmd.Wait()
			p.mu.Lock()
			p.exitErr = err
			if err != nil {
				var exitErr *exec.ExitError
				if errors.As(err, &exitErr) {
					p.exitCode = exitErr.ExitCode()
				} else {
					p.exitCode = -1
				}
			}
			p.mu.Unlock()
			close(p.exitCh)
		}()
	})
}

// Close terminates the process and releases its PTY file descriptor on
// every exit path, the invariant spec.md §3 names explicitly: "their
// release must free both file descriptors and child processes on every
// exit path."
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	var errs []error
	if p.ptm != nil {
		if err := p.ptm.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		p.waitProcess()
	}

	select {
	case <-p.done:
	case <-time.After(readLoopExitTimeout):
		errs = append(errs, errors.New("timeout waiting for agent process read loop to exit"))
	}

	if len(errs) > 0 {
		return cerr.Execution(fmt.Sprintf("closing agent process: %v", errors.Join(errs...)))
	}
	return nil
}

func (p *Process) readLoop() {
	defer close(p.done)
	buf := make([]byte, 4096)
	for {
		p.mu.RLock()
		ptm := p.ptm
		closed := p.closed
		p.mu.RUnlock()
		if ptm == nil || closed {
			return
		}

		n, err := ptm.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.output.Write(buf[:n])
			p.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}
