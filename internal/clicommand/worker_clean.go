package clicommand

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anacondaforge/buildworker/internal/cliconfig"
	"github.com/anacondaforge/buildworker/internal/config"
	"github.com/anacondaforge/buildworker/internal/coordinatorapi"
	"github.com/anacondaforge/buildworker/internal/worker"
	"github.com/urfave/cli"
)

const cleanDescription = `Usage:

   build-worker clean [options...]

Description:

Deregisters whatever worker_id is recorded in --cwd's worker.yaml,
removes the lock file, and exits. Equivalent to "build-worker worker
--clean" but never starts the job loop. Fails if no worker.yaml is
present.`

// CleanCommand is equivalent to passing --clean to WorkerCommand without
// running any jobs afterward.
var CleanCommand = cli.Command{
	Name:        "clean",
	Usage:       "Deregisters a stale worker and removes its lock file",
	Description: cleanDescription,
	Flags:       append(append(append([]cli.Flag{}, globalFlags...), apiFlags...), workerIdentityFlags...),
	Action: func(c *cli.Context) error {
		cfg := &config.Config{}
		loader := cliconfig.Loader{CLI: c, Config: cfg}
		if err := loader.Load(); err != nil {
			return NewExitError(1, err)
		}

		if _, err := os.Stat(filepath.Join(cfg.Cwd, worker.StateFile)); os.IsNotExist(err) {
			return NewExitError(1, fmt.Errorf("no %s found in %s", worker.StateFile, cfg.Cwd))
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
		result, err := wc.Enter(ctx, true)
		if err != nil {
			return NewExitError(1, fmt.Errorf("cleaning worker lock: %w", err))
		}
		if !result.Cleaned {
			return NewExitError(1, fmt.Errorf("no %s found in %s", worker.StateFile, cfg.Cwd))
		}
		return nil
	},
}
