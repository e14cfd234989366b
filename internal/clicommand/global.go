package clicommand

import (
	"os"

	"github.com/anacondaforge/buildworker/internal/config"
	"github.com/anacondaforge/buildworker/logger"
	"github.com/urfave/cli"
)

var globalFlags = []cli.Flag{
	cli.BoolFlag{
		Name:   "debug",
		Usage:  "Enable debug logging. Synonym for --log-level debug",
		EnvVar: "BUILD_WORKER_DEBUG",
	},
	cli.StringFlag{
		Name:   "log-level",
		Value:  "info",
		Usage:  "Minimum log level to print: debug, notice, info, warn, error",
		EnvVar: "BUILD_WORKER_LOG_LEVEL",
	},
	cli.BoolFlag{
		Name:   "no-color",
		Usage:  "Don't colorize log output",
		EnvVar: "BUILD_WORKER_NO_COLOR",
	},
}

var apiFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "endpoint",
		Value:  "https://api.anaconda.org",
		Usage:  "The build-coordination service endpoint",
		EnvVar: "BUILD_WORKER_ENDPOINT",
	},
	cli.StringFlag{
		Name:   "token",
		Usage:  "The access token used to authenticate with the coordinator",
		EnvVar: "BUILD_WORKER_TOKEN",
	},
	cli.BoolFlag{
		Name:   "no-http2",
		Usage:  "Disable HTTP/2 when talking to the coordinator",
		EnvVar: "BUILD_WORKER_NO_HTTP2",
	},
	cli.BoolFlag{
		Name:   "debug-http",
		Usage:  "Log the headers of requests and responses sent to the coordinator",
		EnvVar: "BUILD_WORKER_DEBUG_HTTP",
	},
}

var workerIdentityFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "username",
		Usage:  "The account the worker builds on behalf of",
		EnvVar: "BUILD_WORKER_USERNAME",
	},
	cli.StringFlag{
		Name:   "queue",
		Usage:  "The build queue this worker drains",
		EnvVar: "BUILD_WORKER_QUEUE",
	},
	cli.StringFlag{
		Name:   "platform",
		Usage:  "The platform string this worker builds for, e.g. linux-64",
		EnvVar: "BUILD_WORKER_PLATFORM",
	},
	cli.StringFlag{
		Name:   "hostname",
		Usage:  "The hostname reported to the coordinator at registration",
		EnvVar: "BUILD_WORKER_HOSTNAME",
	},
	cli.StringFlag{
		Name:   "cwd",
		Value:  ".",
		Usage:  "Directory holding the worker's lock file, logs, and scratch data",
		EnvVar: "BUILD_WORKER_CWD",
	},
}

// CreateLogger builds a console logger honoring cfg's debug/log-level/color
// settings.
func CreateLogger(cfg *config.Config) logger.Logger {
	printer := logger.NewTextPrinter(os.Stderr)
	printer.Colors = !cfg.NoColor

	l := logger.NewConsoleLogger(printer, os.Exit)

	level := logger.INFO
	if cfg.LogLevel != "" {
		if parsed, err := logger.LevelFromString(cfg.LogLevel); err == nil {
			level = parsed
		}
	}
	if cfg.Debug {
		level = logger.DEBUG
	}
	l.SetLevel(level)

	return l
}
