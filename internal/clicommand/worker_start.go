package clicommand

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/anacondaforge/buildworker/internal/cliconfig"
	"github.com/anacondaforge/buildworker/internal/config"
	"github.com/anacondaforge/buildworker/internal/coordinatorapi"
	"github.com/anacondaforge/buildworker/internal/jobloop"
	"github.com/anacondaforge/buildworker/internal/journal"
	"github.com/anacondaforge/buildworker/internal/worker"
	"github.com/urfave/cli"
)

const workerDescription = `Usage:

   build-worker worker [options...]

Description:

Registers with the coordinator, records the worker_id in --cwd's
worker.yaml, and runs the pop/build/finish loop until interrupted. Fails
if worker.yaml already exists; --clean deregisters and removes it, then
exits without running any jobs. SIGINT/SIGTERM trigger a graceful
deregistration once the in-flight job finishes.

Example:

    $ build-worker worker --username acme --queue main --platform linux-64`

var showTracebackFlag = cli.BoolFlag{
	Name:   "show-traceback",
	Usage:  "Recover a panic in the worker command, log it with a full stack trace, and exit with status 1",
	EnvVar: "BUILD_WORKER_SHOW_TRACEBACK",
}

var quietLogsFlag = cli.BoolFlag{
	Name:   "quiet-logs",
	Usage:  "Drop bare carriage-return progress-bar lines from the build log",
	EnvVar: "BUILD_WORKER_QUIET_LOGS",
}

var cleanFlag = cli.BoolFlag{
	Name:   "clean",
	Usage:  "Deregister and remove a stale worker.yaml, then exit without running any jobs",
	EnvVar: "BUILD_WORKER_CLEAN",
}

// WorkerCommand registers (if needed) and runs the job loop.
var WorkerCommand = cli.Command{
	Name:        "worker",
	Usage:       "Runs the build worker's job loop",
	Description: workerDescription,
	Flags: append(append(append(append([]cli.Flag{}, globalFlags...), apiFlags...), workerIdentityFlags...),
		cleanFlag, showTracebackFlag, quietLogsFlag),
	Action: func(c *cli.Context) (err error) {
		cfg := &config.Config{}
		loader := cliconfig.Loader{CLI: c, Config: cfg}
		if loadErr := loader.Load(); loadErr != nil {
			return NewExitError(1, loadErr)
		}

		l := CreateLogger(cfg)

		defer func() {
			if cfg.ShowTraceback {
				if r := recover(); r != nil {
					l.Error("Unhandled panic: %v\n%s", r, debug.Stack())
					err = NewExitError(1, fmt.Errorf("worker: unhandled panic: %v", r))
				}
			}
		}()

		client := coordinatorapi.NewClient(l, coordinatorapi.Config{
			Endpoint:     cfg.Endpoint,
			Token:        cfg.Token,
			DisableHTTP2: cfg.DisableHTTP2,
			DebugHTTP:    cfg.DebugHTTP,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-signals
			l.Notice("Received %s, finishing the current job then shutting down", sig)
			cancel()
		}()

		wc := worker.New(l, client, cfg.Username, cfg.Queue, cfg.Platform, cfg.Hostname, cfg.Cwd)
		result, enterErr := wc.Enter(ctx, cfg.Clean)
		if enterErr != nil {
			return NewExitError(1, fmt.Errorf("entering worker context: %w", enterErr))
		}
		if result.Cleaned {
			l.Info("Cleaned stale worker registration; exiting without running any jobs")
			return nil
		}
		defer wc.Exit(context.Background(), result.WorkerID)

		j, jErr := journal.Open(journal.Filename)
		if jErr != nil {
			return NewExitError(1, jErr)
		}
		defer j.Close()

		loop := jobloop.New(jobloop.Config{
			Logger:      l,
			Coordinator: client,
			Journal:     j,
			Username:    cfg.Username,
			Queue:       cfg.Queue,
			WorkerID:    result.WorkerID,
			Platform:    cfg.Platform,
			Hostname:    cfg.Hostname,
			QuietLogs:   cfg.QuietLogs,
		})

		if runErr := loop.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			return NewExitError(1, runErr)
		}
		return nil
	},
}
