package transcode

import (
	"io"
	"os/exec"

	"github.com/pkg/errors"
)

// Process is a running transcoder as seen by the supervisor.
type Process interface {
	Pid() int
	Stdin() io.WriteCloser
	Stderr() io.Reader
	// Terminate asks the process and its children to exit.
	Terminate() error
	// Kill forcibly ends the process and its children.
	Kill() error
	// Wait blocks until the process exited. It must only be called after
	// Stderr reached EOF.
	Wait() error
}

// Launcher spawns transcoder processes.
type Launcher interface {
	Launch(args []string) (Process, error)
}

// ExecLauncher runs Binary as a child process in its own process group.
type ExecLauncher struct {
	Binary string
}

func (l ExecLauncher) Launch(args []string) (Process, error) {
	cmd := exec.Command(l.Binary, args...)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdin pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, errors.Wrap(err, "stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, errors.Wrapf(err, "start %s", l.Binary)
	}
	return &execProcess{cmd: cmd, stdin: stdin, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr io.Reader
}

func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }
func (p *execProcess) Terminate() error      { return terminate(p.cmd.Process) }
func (p *execProcess) Kill() error           { return kill(p.cmd.Process) }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }

// ExitCode extracts the exit status from a Wait error, -1 if the process
// did not exit normally. Works for *exec.ExitError.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}
