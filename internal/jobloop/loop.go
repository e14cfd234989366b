// Package jobloop drives the worker's pop -> announce -> build -> classify
// -> finish cycle: an infinite loop, interruptible only by context
// cancellation or a fatal coordinator error.
package jobloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/anacondaforge/buildworker/internal/buildlog"
	"github.com/anacondaforge/buildworker/internal/buildscript"
	"github.com/anacondaforge/buildworker/internal/coordinatorapi"
	"github.com/anacondaforge/buildworker/internal/journal"
	"github.com/anacondaforge/buildworker/logger"
	"github.com/anacondaforge/buildworker/process"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

const (
	// sleepTime is how long the loop waits after finding an empty queue
	// before polling again.
	sleepTime = 10 * time.Second

	defaultIOTimeout = 300 * time.Second

	scriptDir = "build_scripts"
	dataDir   = "build_data"
	logDir    = "build_logs"
)

// Coordinator is the subset of the coordinator client the job loop needs.
type Coordinator interface {
	buildlog.Server
	PopBuildJob(ctx context.Context, username, queue, workerID string) (*coordinatorapi.JobDescriptor, error)
	FetchBuildSource(ctx context.Context, username, queue, workerID, jobID string, offset int64) (io.ReadCloser, error)
	FinishBuild(ctx context.Context, username, queue, workerID, jobID string, failed bool, status string) error
}

// Config configures a Loop.
type Config struct {
	Logger      logger.Logger
	Coordinator Coordinator
	Journal     *journal.Journal

	Username, Queue, WorkerID, Platform, Hostname string

	// QuietLogs suppresses bare-\r progress-bar lines from the build log.
	QuietLogs bool
}

// Loop runs jobs for a single registered worker, one at a time.
type Loop struct {
	logger    logger.Logger
	coord     Coordinator
	journal   *journal.Journal
	username  string
	queue     string
	workerID  string
	platform  string
	hostname  string
	quietLogs bool
}

// New returns a Loop ready to Run.
func New(c Config) *Loop {
	return &Loop{
		logger:    c.Logger,
		coord:     c.Coordinator,
		journal:   c.Journal,
		username:  c.Username,
		queue:     c.Queue,
		workerID:  c.WorkerID,
		platform:  c.Platform,
		hostname:  c.Hostname,
		quietLogs: c.QuietLogs,
	}
}

// Run pops and executes jobs until ctx is cancelled or the coordinator
// reports the worker itself is gone (coordinatorapi.ErrNotFound), which is
// treated as fatal since there is nothing left to deregister.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := l.coord.PopBuildJob(ctx, l.username, l.queue, l.workerID)
		if err != nil {
			if errors.Is(err, coordinatorapi.ErrNotFound) {
				return fmt.Errorf("jobloop: this worker can no longer pop jobs off the queue; did someone remove it manually? %w", err)
			}
			l.logger.Warn("Failed to pop build job, retrying in %s: %s", sleepTime, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleepTime):
			}
			continue
		}

		if !job.HasJob() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleepTime):
			}
			continue
		}

		// A job that has been popped runs to completion even if ctx is
		// cancelled meanwhile; ctx is checked again before the next pop.
		l.runJob(context.WithoutCancel(ctx), job)
	}
}

// runJob announces, builds, classifies, and finishes a single job. Errors
// that occur along the way are logged and reported to the coordinator as a
// failed build rather than propagated, since one bad job must never stop
// the loop.
func (l *Loop) runJob(ctx context.Context, job *coordinatorapi.JobDescriptor) {
	jobID := job.Job.ID
	runID := uuid.New().String()

	l.logger.Info("Starting build, %s, %s (run %s)", jobID, job.JobName, runID)
	if err := l.journal.Starting(jobID, job.JobName); err != nil {
		l.logger.Warn("Failed to write journal entry: %s", err)
	}

	failed, status := l.build(ctx, job)

	if err := l.coord.FinishBuild(ctx, l.username, l.queue, l.workerID, jobID, failed, status); err != nil {
		l.logger.Warn("Failed to report outcome of build %s: %s", jobID, err)
	}

	if err := l.journal.Finished(jobID, job.JobName); err != nil {
		l.logger.Warn("Failed to write journal entry: %s", err)
	}
}

func (l *Loop) build(ctx context.Context, job *coordinatorapi.JobDescriptor) (failed bool, status string) {
	jobID := job.Job.ID

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered while building %s: %v\n%s", jobID, r, debug.Stack())
			failed, status = true, "error"
		}
	}()

	scriptPath, err := buildscript.Generate(scriptDir, job, buildscript.Options{})
	if err != nil {
		l.logger.Error("Failed to generate build script for %s: %s", jobID, err)
		return true, "error"
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		l.logger.Error("Failed to create %s: %s", logDir, err)
		return true, "error"
	}
	sink, err := buildlog.New(l.logger, l.coord, l.username, l.queue, l.workerID, jobID,
		filepath.Join(logDir, jobID+".log"), l.quietLogs)
	if err != nil {
		l.logger.Error("Failed to open build log for %s: %s", jobID, err)
		return true, "error"
	}
	defer sink.Close()

	sink.WriteLine([]byte(fmt.Sprintf("Building on worker %s (platform %s)\n", l.hostname, l.platform)))
	sink.WriteLine([]byte(fmt.Sprintf("Starting build %s\n", job.JobName)))

	args := []string{"--api-token", job.UploadToken}
	if job.GitOAuthToken != "" {
		args = append(args, "--git-oauth-token", job.GitOAuthToken)
	} else {
		tarball, err := l.fetchBuildSource(ctx, jobID)
		if err != nil {
			l.logger.Error("Failed to fetch build source for %s: %s", jobID, err)
			return true, "error"
		}
		args = append(args, "--build-tarball", tarball)
	}

	iotimeout := defaultIOTimeout
	if job.BuildItemInfo.IOTimeout > 0 {
		iotimeout = time.Duration(job.BuildItemInfo.IOTimeout) * time.Second
	}

	l.logger.Info("Running command: %s %s", scriptPath, args)
	sup := process.NewSupervisor(l.logger, process.SupervisorConfig{
		Path:      scriptPath,
		Args:      args,
		Sink:      sink,
		IOTimeout: iotimeout,
	})

	exitCode, err := sup.Wait(ctx)
	if err != nil {
		l.logger.Error("Build script for %s failed to run: %s", jobID, err)
		return true, "error"
	}
	l.logger.Info("Build script for %s exited with code %d", jobID, exitCode)

	switch exitCode {
	case 0:
		l.logger.Info("Build %s succeeded", job.JobName)
		return false, "success"
	case 11:
		l.logger.Error("Build %s errored", job.JobName)
		return true, "error"
	case 12:
		l.logger.Error("Build %s failed", job.JobName)
		return true, "failure"
	default:
		l.logger.Error("Unknown build exit status %d for %s", exitCode, job.JobName)
		return true, "error"
	}
}

func (l *Loop) fetchBuildSource(ctx context.Context, jobID string) (string, error) {
	l.logger.Info("Fetching build data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("jobloop: creating %s: %w", dataDir, err)
	}

	rc, err := l.coord.FetchBuildSource(ctx, l.username, l.queue, l.workerID, jobID, 0)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	path := filepath.Join(dataDir, jobID+".tar.bz2")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("jobloop: creating %s: %w", path, err)
	}
	defer f.Close()

	n, err := io.Copy(f, rc)
	if err != nil {
		return "", fmt.Errorf("jobloop: writing %s: %w", path, err)
	}
	l.logger.Info("Wrote %s of build data to %s", humanize.Bytes(uint64(n)), path)

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}
