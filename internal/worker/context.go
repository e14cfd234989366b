// Package worker implements the on-disk registration context a build
// worker runs inside of: a single-key lock file recording the worker_id
// the coordinator assigned, paired with an OS-level advisory lock so two
// worker processes can't race the same working directory.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/anacondaforge/buildworker/logger"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// StateFile is the lock document's filename, relative to the worker's cwd.
const StateFile = "worker.yaml"

// ErrLockHeld is returned by Enter when StateFile already exists and
// --clean was not requested.
var ErrLockHeld = errors.New("worker: lock file exists; pass --clean to remove it")

// Registrar is the subset of the coordinator client the worker context
// needs to register and deregister itself.
type Registrar interface {
	RegisterWorker(ctx context.Context, username, queue, platform, hostname string) (string, error)
	RemoveWorker(ctx context.Context, username, queue, workerID string) error
}

type stateDoc struct {
	WorkerID string `yaml:"worker_id"`
}

// Context owns the lifecycle of a single worker registration: entering
// claims a worker_id and records it to disk, exiting always releases both.
type Context struct {
	logger    logger.Logger
	registrar Registrar

	username, queue, platform, hostname string
	cwd                                 string

	stateFile string
	flock     *flock.Flock
}

// New returns a worker Context rooted at cwd. username/queue/platform/hostname
// are the fields sent to the coordinator's register endpoint.
func New(l logger.Logger, registrar Registrar, username, queue, platform, hostname, cwd string) *Context {
	return &Context{
		logger:    l,
		registrar: registrar,
		username:  username,
		queue:     queue,
		platform:  platform,
		hostname:  hostname,
		cwd:       cwd,
	}
}

// EnterResult is the outcome of Enter.
type EnterResult struct {
	// WorkerID is the id the coordinator assigned this worker. Empty when
	// Cleaned is true.
	WorkerID string

	// Cleaned is true when Enter found an existing lock file under a
	// --clean request, removed it, and deregistered its worker_id. The
	// caller should exit cleanly without starting a job loop.
	Cleaned bool
}

// Enter changes into cwd and establishes the worker's registration:
//
//   - If StateFile already exists and clean is true, the worker_id it
//     names is deregistered, the file is removed, and EnterResult.Cleaned
//     is true.
//   - If StateFile already exists and clean is false, ErrLockHeld is
//     returned.
//   - Otherwise, a new worker_id is registered with the coordinator and
//     recorded to StateFile.
func (c *Context) Enter(ctx context.Context, clean bool) (EnterResult, error) {
	if err := os.Chdir(c.cwd); err != nil {
		return EnterResult{}, fmt.Errorf("worker: changing to %s: %w", c.cwd, err)
	}

	c.stateFile = StateFile

	if _, err := os.Stat(c.stateFile); err == nil {
		doc, err := readState(c.stateFile)
		if err != nil {
			return EnterResult{}, err
		}

		if !clean {
			return EnterResult{}, ErrLockHeld
		}

		if err := c.registrar.RemoveWorker(ctx, c.username, c.queue, doc.WorkerID); err != nil {
			return EnterResult{}, fmt.Errorf("worker: deregistering %s: %w", doc.WorkerID, err)
		}
		c.logger.Info("Un-registered worker %s", doc.WorkerID)

		if err := os.Remove(c.stateFile); err != nil {
			return EnterResult{}, fmt.Errorf("worker: removing %s: %w", c.stateFile, err)
		}
		c.logger.Info("Removed %s", c.stateFile)

		return EnterResult{Cleaned: true}, nil
	} else if !os.IsNotExist(err) {
		return EnterResult{}, fmt.Errorf("worker: checking %s: %w", c.stateFile, err)
	}

	fl := flock.New(c.stateFile + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return EnterResult{}, fmt.Errorf("worker: acquiring lock: %w", err)
	}
	if !locked {
		return EnterResult{}, ErrLockHeld
	}
	c.flock = fl

	workerID, err := c.registrar.RegisterWorker(ctx, c.username, c.queue, c.platform, c.hostname)
	if err != nil {
		fl.Unlock()
		return EnterResult{}, fmt.Errorf("worker: registering: %w", err)
	}

	if err := writeState(c.stateFile, stateDoc{WorkerID: workerID}); err != nil {
		fl.Unlock()
		return EnterResult{}, err
	}

	return EnterResult{WorkerID: workerID}, nil
}

// Exit deregisters workerID and removes the lock file. It is safe to call
// even if Enter returned Cleaned or an error, and should run on every exit
// path (normal return, fatal error, or signal).
func (c *Context) Exit(ctx context.Context, workerID string) error {
	c.logger.Info("Removing worker %s", workerID)

	err := c.registrar.RemoveWorker(ctx, c.username, c.queue, workerID)
	if err != nil {
		c.logger.Warn("Failed to deregister worker %s: %s", workerID, err)
	}

	if c.stateFile != "" {
		if rmErr := os.Remove(c.stateFile); rmErr != nil && !os.IsNotExist(rmErr) {
			c.logger.Warn("Failed to remove %s: %s", c.stateFile, rmErr)
			if err == nil {
				err = rmErr
			}
		}
	}

	if c.flock != nil {
		c.flock.Unlock()
	}

	return err
}

func readState(path string) (stateDoc, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return stateDoc{}, fmt.Errorf("worker: reading %s: %w", path, err)
	}
	var doc stateDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return stateDoc{}, fmt.Errorf("worker: parsing %s: %w", path, err)
	}
	return doc, nil
}

func writeState(path string, doc stateDoc) error {
	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("worker: encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("worker: writing %s: %w", path, err)
	}
	return nil
}
