package process

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anacondaforge/buildworker/logger"
)

// State is the lifecycle state of a Supervisor's child process.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateCompleted
	StateTimedOut
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// KilledExitCode is reported when the supervisor kills the child itself,
// either because of I/O inactivity or because the sink requested
// termination. It is distinct from the build script's own exit codes
// (0, 11, 12).
const KilledExitCode = 13

// Sink is the destination for the child's merged stdout+stderr stream. It
// is also consulted between reads for an out-of-band termination request
// (for example: the build coordinator told the log sink to abort the
// build).
type Sink interface {
	WriteLine(line []byte) (int, error)
	Terminated() bool
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Path      string
	Args      []string
	Env       []string
	Dir       string
	Sink      Sink
	IOTimeout time.Duration

	// PollInterval governs how often the watchdog checks for inactivity
	// and Sink.Terminated(). It defaults to one second.
	PollInterval time.Duration

	// GracePeriod is how long the supervisor waits after an interrupt
	// before escalating to a kill. It is passed to process.Config as
	// SignalGracePeriod; if zero, the kill follows the interrupt immediately.
	GracePeriod time.Duration
}

// Supervisor spawns a single command, feeds its merged output to a Sink
// line by line, and kills it if no output byte is observed for longer
// than IOTimeout.
type Supervisor struct {
	conf   SupervisorConfig
	logger logger.Logger
	proc   *Process

	mu         sync.Mutex
	state      State
	lastActive time.Time
}

// NewSupervisor returns a Supervisor ready to Wait.
func NewSupervisor(l logger.Logger, c SupervisorConfig) *Supervisor {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return &Supervisor{
		conf:   c,
		logger: l,
		state:  StateStarting,
	}
}

// State reports the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

// Wait runs the child to completion (or until killed) and returns its exit
// code. A non-nil error is only returned for failures to spawn the
// process; once it has started, Wait always returns a valid exit code.
func (s *Supervisor) Wait(ctx context.Context) (int, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lw := &lineWriter{sink: s.conf.Sink, onActivity: s.touch}

	s.proc = New(s.logger, Config{
		Path:              s.conf.Path,
		Args:              s.conf.Args,
		Env:               s.conf.Env,
		Dir:               s.conf.Dir,
		Stdout:            lw,
		Stderr:            lw,
		SignalGracePeriod: s.conf.GracePeriod,
	})

	s.touch()
	s.setState(StateRunning)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- s.proc.Run(runCtx)
	}()

	select {
	case <-s.proc.Started():
	case err := <-runErrCh:
		return 0, fmt.Errorf("process failed to start: %w", err)
	}

	killed := s.watch(s.proc.Done(), cancel)

	if err := <-runErrCh; err != nil {
		return 0, err
	}
	lw.flush()

	if killed {
		if s.State() != StateTimedOut {
			s.setState(StateKilled)
		}
		return KilledExitCode, nil
	}

	ws := s.proc.WaitStatus()
	if ws.Signaled() {
		s.setState(StateKilled)
		return KilledExitCode, nil
	}

	s.setState(StateCompleted)
	return ws.ExitStatus(), nil
}

// watch polls for I/O inactivity and sink-requested termination, cancelling
// runCancel (which triggers Process.Run's interrupt/kill escalation) the
// moment either fires. It returns once the child has exited on its own
// (done is closed) or once it intervened, in which case it returns true.
func (s *Supervisor) watch(done <-chan struct{}, runCancel context.CancelFunc) bool {
	if s.conf.IOTimeout <= 0 {
		<-done
		return false
	}

	ticker := time.NewTicker(s.conf.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return false
		case <-ticker.C:
			if s.conf.Sink != nil && s.conf.Sink.Terminated() {
				s.logger.Warn("[Supervisor] Sink requested termination")
				runCancel()
				return true
			}
			if s.idleSince() >= s.conf.IOTimeout {
				s.setState(StateTimedOut)
				s.logger.Warn("[Supervisor] No output for %s, exceeding iotimeout of %s",
					s.idleSince(), s.conf.IOTimeout)
				runCancel()
				return true
			}
		}
	}
}

// lineWriter splits an arbitrary byte stream into lines (retaining
// terminators) and forwards each complete line to sink.WriteLine, calling
// onActivity whenever it observes a non-empty write from the child.
// Partial lines are held until a newline arrives or flush is called.
type lineWriter struct {
	mu         sync.Mutex
	sink       Sink
	onActivity func()
	buf        bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if w.onActivity != nil {
		w.onActivity()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		b := w.buf.Bytes()
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			break
		}
		line := make([]byte, i+1)
		copy(line, b[:i+1])
		w.buf.Next(i + 1)
		if _, err := w.sink.WriteLine(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// flush forwards any unterminated trailing partial line to the sink.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	rest := w.buf.Bytes()
	line := make([]byte, len(rest))
	copy(line, rest)
	w.buf.Reset()
	w.sink.WriteLine(line)
}
