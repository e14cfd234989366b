package clicommand

import "github.com/urfave/cli"

// BuildWorkerCommands is the worker's full CLI command tree.
var BuildWorkerCommands = []cli.Command{
	RegisterCommand,
	WorkerCommand,
	CleanCommand,
}
