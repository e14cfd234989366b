// Command build-worker registers with a build-coordination service, drains
// its job queue, and runs each job as a supervised subprocess.
package main

import (
	"fmt"
	"os"

	"github.com/anacondaforge/buildworker/internal/clicommand"
	"github.com/urfave/cli"
)

const appHelpTemplate = `Usage:
  {{.Name}} <command> [options...]

Available commands are:

  {{range .Commands}}{{.Name}}{{with .ShortName}}, {{.}}{{end}}{{ "\t" }}{{.Usage}}
  {{end}}
Use "{{.Name}} <command> --help" for more information about a command.
`

const commandHelpTemplate = `{{.Description}}

Options:

{{range .VisibleFlags}}  {{.}}
{{end}}`

func main() {
	cli.AppHelpTemplate = appHelpTemplate
	cli.CommandHelpTemplate = commandHelpTemplate

	app := cli.NewApp()
	app.Name = "build-worker"
	app.Usage = "Runs build jobs dequeued from a build-coordination service"
	app.Commands = clicommand.BuildWorkerCommands
	app.ErrWriter = os.Stderr

	app.CommandNotFound = func(c *cli.Context, command string) {
		fmt.Fprintf(app.ErrWriter, "build-worker: unknown subcommand %q\n", command)
		fmt.Fprintf(app.ErrWriter, "Run '%s --help' for usage.\n", c.App.Name)
		os.Exit(1)
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(clicommand.PrintMessageAndReturnExitCode(err))
	}
}
