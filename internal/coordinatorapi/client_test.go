package coordinatorapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/anacondaforge/buildworker/logger"
)

func checkBearer(t *testing.T, req *http.Request, token string) bool {
	t.Helper()
	if auth := req.Header.Get("Authorization"); auth != fmt.Sprintf("Bearer %s", token) {
		t.Errorf("bad Authorization header %q", auth)
		return false
	}
	return true
}

func TestRegisterAndRemoveWorker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if !checkBearer(t, req, "llamas") {
			http.Error(rw, "bad auth", http.StatusUnauthorized)
			return
		}
		switch {
		case req.Method == http.MethodPost && req.URL.Path == "/build-worker/alice/main/register":
			fmt.Fprint(rw, `{"worker_id":"w-1"}`)
		case req.Method == http.MethodDelete && req.URL.Path == "/build-worker/alice/main/w-1":
			rw.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
			http.Error(rw, "not found", http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(logger.Discard, Config{Endpoint: server.URL, Token: "llamas"})

	workerID, err := c.RegisterWorker(context.Background(), "alice", "main", "linux-64", "worker-host")
	if err != nil {
		t.Fatalf("RegisterWorker() error = %v", err)
	}
	if workerID != "w-1" {
		t.Fatalf("workerID = %q, want %q", workerID, "w-1")
	}

	if err := c.RemoveWorker(context.Background(), "alice", "main", workerID); err != nil {
		t.Fatalf("RemoveWorker() error = %v", err)
	}
}

func TestPopBuildJobEmptyQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		fmt.Fprint(rw, `{"job":null}`)
	}))
	defer server.Close()

	c := NewClient(logger.Discard, Config{Endpoint: server.URL, Token: "llamas"})

	job, err := c.PopBuildJob(context.Background(), "alice", "main", "w-1")
	if err != nil {
		t.Fatalf("PopBuildJob() error = %v", err)
	}
	if job.HasJob() {
		t.Fatalf("HasJob() = true, want false for empty queue response")
	}
}

func TestPopBuildJobNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		http.Error(rw, "no such worker", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(logger.Discard, Config{Endpoint: server.URL, Token: "llamas"})

	_, err := c.PopBuildJob(context.Background(), "alice", "main", "w-1")
	if err != ErrNotFound {
		t.Fatalf("PopBuildJob() error = %v, want ErrNotFound", err)
	}
}

func TestPopBuildJobWithJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		fmt.Fprint(rw, `{
			"job": {"_id": "job-123"},
			"job_name": "build #4",
			"build_info": {"build_no": 4, "channels": ["main"]},
			"build_item_info": {"platform": "linux-64", "engine": "python=3.10",
				"instructions": {"script": "echo hi"}, "iotimeout": 120},
			"upload_token": "tok-abc",
			"owner": {"login": "alice"},
			"package": {"name": "mypkg"}
		}`)
	}))
	defer server.Close()

	c := NewClient(logger.Discard, Config{Endpoint: server.URL, Token: "llamas"})

	job, err := c.PopBuildJob(context.Background(), "alice", "main", "w-1")
	if err != nil {
		t.Fatalf("PopBuildJob() error = %v", err)
	}
	if !job.HasJob() {
		t.Fatalf("HasJob() = false, want true")
	}
	if job.Job.ID != "job-123" {
		t.Fatalf("job.Job.ID = %q, want job-123", job.Job.ID)
	}
	if job.BuildItemInfo.IOTimeout != 120 {
		t.Fatalf("IOTimeout = %d, want 120", job.BuildItemInfo.IOTimeout)
	}
}

func TestLogBuildOutputStructured(t *testing.T) {
	var gotMsg, gotSection string
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/build-worker/alice/main/w-1/jobs/job-123/tagged-log" {
			t.Errorf("unexpected path %s", req.URL.Path)
		}
		body, _ := io.ReadAll(req.Body)
		vals, _ := url.ParseQuery(string(body))
		gotMsg = vals.Get("msg")
		gotSection = vals.Get("section")
		fmt.Fprint(rw, `{"terminated":false}`)
	}))
	defer server.Close()

	c := NewClient(logger.Discard, Config{Endpoint: server.URL, Token: "llamas"})

	terminated, err := c.LogBuildOutputStructured(context.Background(), "alice", "main", "w-1", "job-123",
		[]byte("hello\n"), map[string]any{"section": "install"})
	if err != nil {
		t.Fatalf("LogBuildOutputStructured() error = %v", err)
	}
	if terminated {
		t.Fatalf("terminated = true, want false")
	}
	if gotMsg != "hello\n" {
		t.Fatalf("msg = %q, want %q", gotMsg, "hello\n")
	}
	if gotSection != "install" {
		t.Fatalf("section = %q, want install", gotSection)
	}
}

func TestFinishBuild(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/build-worker/alice/main/w-1/jobs/job-123/finish" {
			t.Errorf("unexpected path %s", req.URL.Path)
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(logger.Discard, Config{Endpoint: server.URL, Token: "llamas"})

	if err := c.FinishBuild(context.Background(), "alice", "main", "w-1", "job-123", true, "error"); err != nil {
		t.Fatalf("FinishBuild() error = %v", err)
	}
}
