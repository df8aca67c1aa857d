// Package transcodetest provides an in-memory transcoder for tests.
package transcodetest

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/voc/audio-ingest/transcode"
)

// ExitError mimics the exit status of a real process.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }
func (e *ExitError) ExitCode() int { return e.Code }

// Process records its input and exits when told to.
type Process struct {
	Args []string

	pid     int
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	// when set, Terminate is recorded but ignored
	ignoreTerminate bool

	mutex       sync.Mutex
	input       bytes.Buffer
	stdinClosed bool
	terminated  bool
	killed      bool

	exitOnce sync.Once
	exitErr  error
	exited   chan struct{}
}

func newProcess(pid int, args []string, ignoreTerminate bool) *Process {
	p := &Process{
		Args:            args,
		pid:             pid,
		ignoreTerminate: ignoreTerminate,
		exited:          make(chan struct{}),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	go p.read()
	return p
}

func (p *Process) read() {
	buf := make([]byte, 64*1024)
	for {
		n, err := p.stdinR.Read(buf)
		if n > 0 {
			p.mutex.Lock()
			p.input.Write(buf[:n])
			p.mutex.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) Pid() int              { return p.pid }
func (p *Process) Stdin() io.WriteCloser { return stdin{p} }
func (p *Process) Stderr() io.Reader     { return p.stderrR }

type stdin struct {
	p *Process
}

func (s stdin) Write(b []byte) (int, error) {
	return s.p.stdinW.Write(b)
}

func (s stdin) Close() error {
	s.p.mutex.Lock()
	s.p.stdinClosed = true
	s.p.mutex.Unlock()
	return s.p.stdinW.Close()
}

func (p *Process) Terminate() error {
	p.mutex.Lock()
	p.terminated = true
	ignore := p.ignoreTerminate
	p.mutex.Unlock()
	if !ignore {
		p.Exit(255)
	}
	return nil
}

func (p *Process) Kill() error {
	p.mutex.Lock()
	p.killed = true
	p.mutex.Unlock()
	p.Exit(-1)
	return nil
}

func (p *Process) Wait() error {
	<-p.exited
	return p.exitErr
}

// Emit writes a diagnostic line. It blocks until the line was read.
func (p *Process) Emit(line string) {
	io.WriteString(p.stderrW, line+"\n")
}

// Exit ends the process with code. Later calls are ignored.
func (p *Process) Exit(code int) {
	p.exitOnce.Do(func() {
		if code != 0 {
			p.exitErr = &ExitError{Code: code}
		}
		p.stderrW.Close()
		p.stdinR.CloseWithError(io.ErrClosedPipe)
		close(p.exited)
	})
}

// Exited is closed once the process exited.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Input returns a copy of everything written to stdin so far.
func (p *Process) Input() []byte {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]byte(nil), p.input.Bytes()...)
}

func (p *Process) StdinClosed() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.stdinClosed
}

func (p *Process) Terminated() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.terminated
}

func (p *Process) Killed() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.killed
}

// Launcher hands out fake processes.
type Launcher struct {
	// Err fails every launch when set
	Err error
	// IgnoreTerminate makes processes survive Terminate
	IgnoreTerminate bool

	mutex     sync.Mutex
	processes []*Process
	launched  chan *Process
}

func NewLauncher() *Launcher {
	return &Launcher{launched: make(chan *Process, 64)}
}

func (l *Launcher) Launch(args []string) (transcode.Process, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	p := newProcess(1000+len(l.processes), args, l.IgnoreTerminate)
	l.processes = append(l.processes, p)
	select {
	case l.launched <- p:
	default:
	}
	return p, nil
}

// Launched delivers processes in launch order.
func (l *Launcher) Launched() <-chan *Process {
	return l.launched
}

func (l *Launcher) Processes() []*Process {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]*Process(nil), l.processes...)
}

// Last returns the most recently launched process or nil.
func (l *Launcher) Last() *Process {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if len(l.processes) == 0 {
		return nil
	}
	return l.processes[len(l.processes)-1]
}
