// Package config defines the worker's flat configuration surface, loaded
// from CLI flags (with environment variable fallbacks) by internal/cliconfig.
package config

// Config holds every setting the register/worker/clean commands share.
type Config struct {
	Debug    bool   `cli:"debug"`
	LogLevel string `cli:"log-level"`
	NoColor  bool   `cli:"no-color"`

	Endpoint     string `cli:"endpoint" validate:"required"`
	Token        string `cli:"token" validate:"required"`
	DisableHTTP2 bool   `cli:"no-http2"`
	DebugHTTP    bool   `cli:"debug-http"`

	Username string `cli:"username" validate:"required"`
	Queue    string `cli:"queue" validate:"required"`
	Platform string `cli:"platform" validate:"required"`
	Hostname string `cli:"hostname" validate:"required"`
	Cwd      string `cli:"cwd"`

	Clean         bool `cli:"clean"`
	ShowTraceback bool `cli:"show-traceback"`
	QuietLogs     bool `cli:"quiet-logs"`
}
