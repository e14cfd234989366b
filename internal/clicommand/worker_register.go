package clicommand

import (
	"context"
	"fmt"

	"github.com/anacondaforge/buildworker/internal/cliconfig"
	"github.com/anacondaforge/buildworker/internal/config"
	"github.com/anacondaforge/buildworker/internal/coordinatorapi"
	"github.com/anacondaforge/buildworker/internal/worker"
	"github.com/urfave/cli"
)

const registerDescription = `Usage:

   build-worker register [options...]

Description:

Registers this worker with the coordinator and writes its assigned
worker_id to worker.yaml in --cwd. It does not run any jobs; use
"build-worker worker" for that.`

// RegisterCommand registers the worker and exits without running the job
// loop.
var RegisterCommand = cli.Command{
	Name:        "register",
	Usage:       "Registers this worker with the coordinator",
	Description: registerDescription,
	Flags:       append(append(append([]cli.Flag{}, globalFlags...), apiFlags...), workerIdentityFlags...),
	Action: func(c *cli.Context) error {
		cfg := &config.Config{}
		loader := cliconfig.Loader{CLI: c, Config: cfg}
		if err := loader.Load(); err != nil {
			return NewExitError(1, err)
		}

		l := CreateLogger(cfg)
		client := coordinatorapi.NewClient(l, coordinatorapi.Config{
			Endpoint:     cfg.Endpoint,
			Token:        cfg.Token,
			DisableHTTP2: cfg.DisableHTTP2,
			DebugHTTP:    cfg.DebugHTTP,
		})

		ctx := context.Background()
		wc := worker.New(l, client, cfg.Username, cfg.Queue, cfg.Platform, cfg.Hostname, cfg.Cwd)
		result, err := wc.Enter(ctx, false)
		if err != nil {
			return NewExitError(1, fmt.Errorf("registering worker: %w", err))
		}

		l.Info("Registered worker %s", result.WorkerID)
		return nil
	},
}
