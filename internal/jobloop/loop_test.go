package jobloop

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacondaforge/buildworker/internal/coordinatorapi"
	"github.com/anacondaforge/buildworker/internal/journal"
	"github.com/anacondaforge/buildworker/logger"
)

type fakeCoordinator struct {
	jobs        []*coordinatorapi.JobDescriptor
	popErr      error
	finishCalls []finishCall
	source      string
}

type finishCall struct {
	jobID  string
	failed bool
	status string
}

func (f *fakeCoordinator) PopBuildJob(ctx context.Context, username, queue, workerID string) (*coordinatorapi.JobDescriptor, error) {
	if f.popErr != nil {
		return nil, f.popErr
	}
	if len(f.jobs) == 0 {
		return &coordinatorapi.JobDescriptor{}, nil
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, nil
}

func (f *fakeCoordinator) FetchBuildSource(ctx context.Context, username, queue, workerID, jobID string, offset int64) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader([]byte(f.source))), nil
}

func (f *fakeCoordinator) FinishBuild(ctx context.Context, username, queue, workerID, jobID string, failed bool, status string) error {
	f.finishCalls = append(f.finishCalls, finishCall{jobID, failed, status})
	return nil
}

func (f *fakeCoordinator) LogBuildOutputStructured(ctx context.Context, username, queue, workerID, jobID string, msg []byte, metadata map[string]any) (bool, error) {
	return false, nil
}

func runInTempDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

func newLoop(t *testing.T, coord *fakeCoordinator) (*Loop, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.csv")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("journal.Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })

	l := New(Config{
		Logger:      logger.Discard,
		Coordinator: coord,
		Journal:     j,
		Username:    "alice",
		Queue:       "main",
		WorkerID:    "w-1",
		Platform:    "linux-64",
		Hostname:    "host-1",
	})
	return l, path
}

func jobWithScript(id, script string) *coordinatorapi.JobDescriptor {
	return &coordinatorapi.JobDescriptor{
		Job:         &coordinatorapi.Job{ID: id},
		JobName:     "build-" + id,
		UploadToken: "tok",
		BuildItemInfo: coordinatorapi.BuildItemInfo{
			Platform: "linux-64",
			Engine:   "python",
			Instructions: coordinatorapi.Instructions{
				Script: script,
			},
		},
	}
}

func TestRunJobReportsSuccess(t *testing.T) {
	if os.Getenv("BUILDWORKER_SKIP_SUBPROCESS_TESTS") != "" {
		t.Skip("subprocess execution disabled")
	}
	runInTempDir(t)

	coord := &fakeCoordinator{source: "tarball-bytes"}
	l, _ := newLoop(t, coord)

	job := jobWithScript("job-a", "exit 0")
	l.runJob(context.Background(), job)

	if len(coord.finishCalls) != 1 {
		t.Fatalf("finishCalls = %v, want 1 call", coord.finishCalls)
	}
	got := coord.finishCalls[0]
	if got.jobID != "job-a" || got.failed || got.status != "success" {
		t.Fatalf("finishCall = %+v, want {job-a false success}", got)
	}
}

func TestRunJobClassifiesErrorExitCode(t *testing.T) {
	runInTempDir(t)

	coord := &fakeCoordinator{source: "tarball-bytes"}
	l, _ := newLoop(t, coord)

	job := jobWithScript("job-b", "exit 11")
	l.runJob(context.Background(), job)

	got := coord.finishCalls[0]
	if !got.failed || got.status != "error" {
		t.Fatalf("finishCall = %+v, want failed=true status=error", got)
	}
}

func TestRunJobClassifiesFailureExitCode(t *testing.T) {
	runInTempDir(t)

	coord := &fakeCoordinator{source: "tarball-bytes"}
	l, _ := newLoop(t, coord)

	job := jobWithScript("job-c", "exit 12")
	l.runJob(context.Background(), job)

	got := coord.finishCalls[0]
	if !got.failed || got.status != "failure" {
		t.Fatalf("finishCall = %+v, want failed=true status=failure", got)
	}
}

func TestRunJobWritesJournalEntries(t *testing.T) {
	runInTempDir(t)

	coord := &fakeCoordinator{source: "tarball-bytes"}
	l, journalPath := newLoop(t, coord)

	job := jobWithScript("job-d", "exit 0")
	l.runJob(context.Background(), job)

	b, err := os.ReadFile(journalPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := "starting build, job-d, build-job-d\nfinished build, job-d, build-job-d\n"
	if string(b) != want {
		t.Fatalf("journal contents = %q, want %q", string(b), want)
	}
}

func TestRunStopsOnNotFound(t *testing.T) {
	runInTempDir(t)

	coord := &fakeCoordinator{popErr: coordinatorapi.ErrNotFound}
	l, _ := newLoop(t, coord)

	err := l.Run(context.Background())
	if !errors.Is(err, coordinatorapi.ErrNotFound) {
		t.Fatalf("Run() error = %v, want wrapping ErrNotFound", err)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	runInTempDir(t)

	coord := &fakeCoordinator{}
	l, _ := newLoop(t, coord)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Run(ctx)
	if err == nil {
		t.Fatalf("Run() error = nil, want context.Canceled")
	}
}
