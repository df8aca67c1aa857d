package transcode

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultKillTimeout = 5 * time.Second
	// longer diagnostic lines are split into chunks of this size
	maxLineSize = 64 * 1024
)

// Events are invoked from supervisor goroutines. Each fires at most once.
type Events struct {
	// a diagnostic line matched the fatal vocabulary
	Fatal func(line string)
	// the process exited, for whatever reason
	Exit func(err error)
	// writing to the process input failed
	WriteFailed func(err error)
}

type Config struct {
	ID            string
	Args          []string
	Launcher      Launcher
	Classifier    *Classifier
	KillTimeout   time.Duration
	HighWaterMark int
	Events        Events
	// the transcoder pulls its input itself, stdin is closed right away
	NoInput bool
}

// Supervisor owns one transcoder process: it feeds its input, watches its
// diagnostics and reports its exit.
type Supervisor struct {
	conf   Config
	proc   Process
	writer *Writer
	log    zerolog.Logger

	fatalOnce sync.Once
	stopOnce  sync.Once
	exited    chan struct{}
	exitErr   error
	done      sync.WaitGroup
}

// Start spawns the transcoder. An error means no process is running.
func Start(conf Config) (*Supervisor, error) {
	if conf.KillTimeout <= 0 {
		conf.KillTimeout = DefaultKillTimeout
	}
	logger := log.With().Str("context", "transcode").Str("stream", conf.ID).Logger()

	proc, err := conf.Launcher.Launch(conf.Args)
	if err != nil {
		return nil, errors.Wrapf(err, "launch transcoder for %s", conf.ID)
	}
	s := &Supervisor{
		conf:   conf,
		proc:   proc,
		log:    logger.With().Int("pid", proc.Pid()).Logger(),
		exited: make(chan struct{}),
	}
	if conf.NoInput {
		if err := proc.Stdin().Close(); err != nil {
			s.log.Debug().Err(err).Msg("transcode: close stdin")
		}
	} else {
		s.writer = NewWriter(proc.Stdin(), conf.HighWaterMark, s.log, s.writeFailed)
	}
	// source and relay urls may carry stream keys
	s.log.Info().Msg("transcode: started")
	s.log.Debug().Strs("args", conf.Args).Msg("transcode: arguments")

	s.done.Add(1)
	go s.monitor(proc.Stderr())
	return s, nil
}

func (s *Supervisor) Pid() int {
	return s.proc.Pid()
}

// Write hands a frame to the transcoder input. False means the input is
// saturated, the frame was still accepted. Without input the frame is dropped.
func (s *Supervisor) Write(frame []byte) bool {
	if s.writer == nil {
		return true
	}
	return s.writer.Write(frame)
}

func (s *Supervisor) Buffered() int {
	if s.writer == nil {
		return 0
	}
	return s.writer.Buffered()
}

func (s *Supervisor) Written() int64 {
	if s.writer == nil {
		return 0
	}
	return s.writer.Written()
}

// Exited is closed when the process is gone.
func (s *Supervisor) Exited() <-chan struct{} {
	return s.exited
}

// ExitErr returns the exit result once Exited is closed.
func (s *Supervisor) ExitErr() error {
	<-s.exited
	return s.exitErr
}

// Stop closes the process input and asks it to terminate. If it is still
// running after the kill timeout it is killed. Stop does not block and may
// be called more than once.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		if s.writer != nil {
			s.writer.Close()
		}

		select {
		case <-s.exited:
			return
		default:
		}
		s.log.Debug().Msg("transcode: terminate")
		if err := s.proc.Terminate(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.log.Error().Err(err).Msg("transcode: terminate")
		}

		s.done.Add(1)
		go s.killAfter(s.conf.KillTimeout)
	})
}

// Wait blocks until the process exited and all supervisor goroutines are done.
func (s *Supervisor) Wait() {
	s.done.Wait()
	if s.writer != nil {
		<-s.writer.Done()
	}
}

func (s *Supervisor) killAfter(timeout time.Duration) {
	defer s.done.Done()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.exited:
	case <-timer.C:
		s.log.Warn().Dur("timeout", timeout).Msg("transcode: kill")
		if err := s.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.log.Error().Err(err).Msg("transcode: kill")
		}
	}
}

func (s *Supervisor) monitor(stderr io.Reader) {
	defer s.done.Done()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.log.Info().Msg(line)
		if pattern, ok := s.conf.Classifier.Fatal(line); ok {
			s.fatalOnce.Do(func() {
				s.log.Error().Str("pattern", pattern).Msg("transcode: fatal output")
				if s.conf.Events.Fatal != nil {
					s.conf.Events.Fatal(line)
				}
			})
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn().Err(err).Msg("transcode: stderr")
		// keep the pipe drained so the process never blocks on it
		io.Copy(io.Discard, stderr)
	}

	err := s.proc.Wait()
	s.exitErr = err
	close(s.exited)
	if err != nil {
		s.log.Info().Err(err).Int("code", ExitCode(err)).Msg("transcode: exited")
	} else {
		s.log.Info().Int("code", 0).Msg("transcode: exited")
	}
	if s.conf.Events.Exit != nil {
		s.conf.Events.Exit(err)
	}
}

func (s *Supervisor) writeFailed(err error) {
	if s.conf.Events.WriteFailed != nil {
		s.conf.Events.WriteFailed(err)
	}
}

// scanLines splits on \n and on the \r progress updates the encoder emits.
// A line that fills the scan buffer is returned as is, so scanning goes on.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF || len(data) >= maxLineSize {
		return len(data), data, nil
	}
	return 0, nil, nil
}
