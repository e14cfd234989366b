// Package process runs and manages a single child process: the rendered
// build script. It owns process-group signal delivery (interrupt then
// terminate) but not the inactivity-timeout policy, which lives in
// Supervisor.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/anacondaforge/buildworker/logger"
)

type Signal int

const (
	SIGHUP  Signal = 1
	SIGINT  Signal = 2
	SIGQUIT Signal = 3
	SIGTERM Signal = 15
	SIGKILL Signal = 9
)

var signalMap = map[string]Signal{
	"SIGHUP":  SIGHUP,
	"SIGINT":  SIGINT,
	"SIGQUIT": SIGQUIT,
	"SIGTERM": SIGTERM,
	"SIGKILL": SIGKILL,
}

var ErrNotWaitStatus = errors.New(
	"unimplemented for systems where exec.ExitError.Sys() is not syscall.WaitStatus",
)

type WaitStatus interface {
	ExitStatus() int
	Signaled() bool
	Signal() syscall.Signal
}

func (s Signal) String() string {
	for k, sig := range signalMap {
		if sig == s {
			return k
		}
	}
	return strconv.FormatInt(int64(s), 10)
}

func ParseSignal(sig string) (Signal, error) {
	s, ok := signalMap[strings.ToUpper(sig)]
	if !ok {
		return Signal(0), fmt.Errorf("unknown signal %q", sig)
	}
	return s, nil
}

// Config configures a Process.
type Config struct {
	Path              string
	Args              []string
	Env               []string
	Stdin             io.Reader
	Stdout            io.Writer
	Stderr            io.Writer
	Dir               string
	InterruptSignal   Signal
	SignalGracePeriod time.Duration
}

// Process is an operating-system-level process.
type Process struct {
	waitResult error
	status     syscall.WaitStatus
	conf       Config
	logger     logger.Logger
	command    *exec.Cmd

	mu            sync.Mutex
	pid           int
	started, done chan struct{}
}

// New returns a new instance of Process.
func New(l logger.Logger, c Config) *Process {
	return &Process{
		logger: l,
		conf:   c,
	}
}

// Pid is the pid of the running process.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// WaitResult returns the raw error returned by the underlying Wait() call.
func (p *Process) WaitResult() error {
	return p.waitResult
}

// WaitStatus returns the status of the Wait() call.
func (p *Process) WaitStatus() WaitStatus {
	return p.status
}

// Run starts the command and blocks until it finishes, is interrupted via
// ctx, or fails to start. When ctx is cancelled, the process is sent
// InterruptSignal; if it hasn't exited after SignalGracePeriod, it is
// force-terminated.
func (p *Process) Run(ctx context.Context) error {
	if p.command != nil {
		return fmt.Errorf("process is already running")
	}

	p.command = exec.Command(p.conf.Path, p.conf.Args...)
	p.setupProcessGroup()

	if p.conf.Dir != "" {
		if _, err := os.Stat(p.conf.Dir); os.IsNotExist(err) {
			return fmt.Errorf("process working directory %q doesn't exist", p.conf.Dir)
		}
		p.command.Dir = p.conf.Dir
	}

	p.mu.Lock()
	if p.done == nil {
		p.done = make(chan struct{})
	}
	if p.started == nil {
		p.started = make(chan struct{})
	}
	p.mu.Unlock()

	// Copy the current environment and merge in the new ones, so the
	// child gets PATH etc. Ours takes precedence over the inherited one.
	p.command.Env = append(os.Environ(), p.conf.Env...)

	p.command.Stdin = p.conf.Stdin
	p.command.Stdout = p.conf.Stdout
	p.command.Stderr = p.conf.Stderr

	if err := p.command.Start(); err != nil {
		return fmt.Errorf("error starting command: %w", err)
	}

	if err := p.postStart(); err != nil {
		p.logger.Error("[Process] postStart failed: %v", err)
	}

	p.mu.Lock()
	p.pid = p.command.Process.Pid
	p.mu.Unlock()

	close(p.started)

	go func() {
		if ctx == nil {
			return
		}

		select {
		case <-p.Done(): // process exited of its own accord
			return
		case <-ctx.Done():
			p.logger.Debug("[Process] Context done, terminating. pid=%d", p.pid)
			if err := p.Interrupt(); err != nil {
				p.logger.Warn("[Process] Failed termination: %v", err)
			}

			select {
			case <-p.Done(): // process exited after being interrupted
				return
			case <-time.After(p.conf.SignalGracePeriod):
				p.logger.Warn("[Process] Has not terminated in time, killing. pid=%d", p.pid)
				if err := p.Terminate(); err != nil {
					p.logger.Error("[Process] error sending SIGKILL: %s", err)
					return
				}
			}
		}
	}()

	p.logger.Info("[Process] Process is running with PID: %d", p.pid)

	p.waitResult = p.command.Wait()

	close(p.done)

	if p.waitResult != nil {
		exitErr := new(exec.ExitError)
		if !errors.As(p.waitResult, &exitErr) {
			return fmt.Errorf("unexpected error type %T: %w", p.waitResult, p.waitResult)
		}

		switch ws := exitErr.Sys().(type) {
		case syscall.WaitStatus: // posix
			p.status = ws
		default: // not-posix
			return ErrNotWaitStatus
		}
	}

	exitSignal := "nil"
	if p.status.Signaled() {
		exitSignal = SignalString(p.status.Signal())
	}
	p.logger.Info("Process with PID: %d finished with Exit Status: %d, Signal: %s",
		p.pid, p.status.ExitStatus(), exitSignal)

	return nil
}

// Done returns a channel that is closed when the process finishes.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	if p.done == nil {
		p.done = make(chan struct{})
	}
	d := p.done
	p.mu.Unlock()
	return d
}

// Started returns a channel that is closed when the process is started.
func (p *Process) Started() <-chan struct{} {
	p.mu.Lock()
	if p.started == nil {
		p.started = make(chan struct{})
	}
	d := p.started
	p.mu.Unlock()
	return d
}

// Interrupt the process on platforms that support it, terminate otherwise.
func (p *Process) Interrupt() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.command == nil || p.command.Process == nil {
		p.logger.Debug("[Process] No process to interrupt yet")
		return nil
	}

	if err := p.interruptProcessGroup(); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			p.logger.Warn("[Process] Process %d has already exited", p.pid)
			return nil
		}

		p.logger.Error("[Process] Failed to interrupt process %d: %v", p.pid, err)

		if termErr := p.terminateProcessGroup(); termErr != nil {
			return termErr
		}
	}

	return nil
}

// Terminate the process.
func (p *Process) Terminate() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.command == nil || p.command.Process == nil {
		p.logger.Debug("[Process] No process to terminate yet")
		return nil
	}

	return p.terminateProcessGroup()
}
