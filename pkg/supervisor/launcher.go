package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/z-roworld/livekit-agent/pkg/procutil"
)

var (
	// ErrRunnerBinaryUnset indicates the agent-runner binary path was not configured.
	ErrRunnerBinaryUnset = errors.New("supervisor: agent-runner binary path is empty")
	// ErrRunnerBinaryMissing indicates the agent-runner binary does not exist.
	ErrRunnerBinaryMissing = errors.New("supervisor: agent-runner binary not found")
)

// ProcessHandle represents a running agent-runner process.
type ProcessHandle interface {
	// Stop asks the process to exit, escalating to a kill when the
	// context expires before it does.
	Stop(ctx context.Context) error
	PID() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// Launcher abstracts process creation for the agent runner.
type Launcher interface {
	Launch(ctx context.Context, binary string, args []string) (ProcessHandle, error)
}

// ExecLauncher spawns real OS processes. Runner output is passed through to
// the control plane's own stdout/stderr so agent logs stay visible.
type ExecLauncher struct{}

func (ExecLauncher) Launch(ctx context.Context, binary string, args []string) (ProcessHandle, error) {
	if strings.TrimSpace(binary) == "" {
		return nil, ErrRunnerBinaryUnset
	}
	if _, err := os.Stat(binary); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunnerBinaryMissing, binary)
		}
		return nil, fmt.Errorf("supervisor: stat agent-runner: %w", err)
	}

	// The process must outlive the join request, so it gets its own context.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("supervisor: start agent-runner: %w", err)
	}

	handle := &execHandle{
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go handle.wait()
	return handle, nil
}

type execHandle struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	done    chan struct{}
	waitErr error
}

func (h *execHandle) wait() {
	h.waitErr = h.cmd.Wait()
	close(h.done)
}

func (h *execHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := procutil.GracefulTerminate(h.cmd.Process); err != nil {
		h.cancel()
	}

	select {
	case <-h.done:
		return h.exitError()
	case <-ctx.Done():
		// Escalate: CommandContext kills on cancel.
		h.cancel()
		<-h.done
		return nil
	}
}

func (h *execHandle) exitError() error {
	var exitErr *exec.ExitError
	if h.waitErr == nil || errors.As(h.waitErr, &exitErr) || errors.Is(h.waitErr, context.Canceled) {
		return nil
	}
	return h.waitErr
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}

// stopTimeout bounds how long Stop waits for a runner's graceful exit.
const stopTimeout = 5 * time.Second
