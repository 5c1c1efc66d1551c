package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// SlotEnv carries the slot number to a worker process.
const SlotEnv = "ECHOTEST_WORKER_SLOT"

// ExecLauncher starts workers as child processes of Path. Each child gets
// Args followed by "--slot N".
type ExecLauncher struct {
	Path   string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecLauncher returns a launcher that re-executes the running binary
// with args.
func NewExecLauncher(args ...string) (*ExecLauncher, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &ExecLauncher{
		Path:   path,
		Args:   args,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, nil
}

// Launch starts the worker for slot. The child is not tied to ctx: the
// supervisor stops workers itself so they can shut down gracefully.
func (l *ExecLauncher) Launch(_ context.Context, slot int) (Process, error) {
	args := append(append([]string{}, l.Args...), "--slot", strconv.Itoa(slot))
	cmd := exec.Command(l.Path, args...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	env := l.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(append([]string{}, env...), SlotEnv+"="+strconv.Itoa(slot))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", l.Path, err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}
