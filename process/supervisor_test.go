package process_test

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/anacondaforge/buildworker/logger"
	"github.com/anacondaforge/buildworker/process"
)

type fakeSink struct {
	mu         sync.Mutex
	lines      [][]byte
	terminated bool
}

func (f *fakeSink) WriteLine(line []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(line))
	copy(cp, line)
	f.lines = append(f.lines, cp)
	return len(line), nil
}

func (f *fakeSink) Terminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

func (f *fakeSink) setTerminated() {
	f.mu.Lock()
	f.terminated = true
	f.mu.Unlock()
}

func (f *fakeSink) joined() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []byte
	for _, l := range f.lines {
		out = append(out, l...)
	}
	return string(out)
}

func TestSupervisorCompletes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}

	sink := &fakeSink{}
	sup := process.NewSupervisor(logger.Discard, process.SupervisorConfig{
		Path:      "sh",
		Args:      []string{"-c", "echo one; echo two"},
		Sink:      sink,
		IOTimeout: time.Second,
	})

	code, err := sup.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if sup.State() != process.StateCompleted {
		t.Fatalf("state = %v, want completed", sup.State())
	}
	if got, want := sink.joined(), "one\ntwo\n"; got != want {
		t.Fatalf("sink output = %q, want %q", got, want)
	}
}

func TestSupervisorNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}

	sink := &fakeSink{}
	sup := process.NewSupervisor(logger.Discard, process.SupervisorConfig{
		Path:      "sh",
		Args:      []string{"-c", "exit 11"},
		Sink:      sink,
		IOTimeout: time.Second,
	})

	code, err := sup.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if code != 11 {
		t.Fatalf("code = %d, want 11", code)
	}
}

func TestSupervisorIOTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}

	sink := &fakeSink{}
	sup := process.NewSupervisor(logger.Discard, process.SupervisorConfig{
		Path:         "sh",
		Args:         []string{"-c", "echo hi; sleep 30"},
		Sink:         sink,
		IOTimeout:    200 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	})

	start := time.Now()
	code, err := sup.Wait(context.Background())
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if code != process.KilledExitCode {
		t.Fatalf("code = %d, want %d", code, process.KilledExitCode)
	}
	if sup.State() != process.StateTimedOut {
		t.Fatalf("state = %v, want timed_out", sup.State())
	}
	if elapsed > 5*time.Second {
		t.Fatalf("took %v, expected the idle timeout to fire quickly", elapsed)
	}
}

func TestSupervisorSinkTermination(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}

	sink := &fakeSink{}
	sup := process.NewSupervisor(logger.Discard, process.SupervisorConfig{
		Path:         "sh",
		Args:         []string{"-c", "while true; do echo tick; sleep 0.05; done"},
		Sink:         sink,
		IOTimeout:    10 * time.Second,
		PollInterval: 20 * time.Millisecond,
	})

	go func() {
		time.Sleep(150 * time.Millisecond)
		sink.setTerminated()
	}()

	code, err := sup.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if code != process.KilledExitCode {
		t.Fatalf("code = %d, want %d", code, process.KilledExitCode)
	}
	if sup.State() != process.StateKilled {
		t.Fatalf("state = %v, want killed", sup.State())
	}
}
