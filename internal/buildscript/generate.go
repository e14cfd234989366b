// Package buildscript renders a job descriptor into a single executable
// build script (POSIX shell on Unix, batch on Windows) whose exit code
// reports the outcome: 0 success, 11 error, 12 failure.
package buildscript

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/anacondaforge/buildworker/internal/coordinatorapi"
)

// Options toggles optional preamble sections of the generated script, used
// by tests and by pre-staged runs that don't need a fresh checkout.
type Options struct {
	IgnoreSetupBuild       bool
	IgnoreFetchBuildSource bool
}

var npyRe = regexp.MustCompile(`(?i)numpy[=\s]+(\d+)\.(\d+)`)

type envVar struct {
	Name  string
	Value string
}

type templateData struct {
	CondaNpy               string
	BuildEnvPathDecl       string
	EnvVars                []envVar
	UploadLabelArgs        string
	IgnoreSetupBuild       bool
	IgnoreFetchBuildSource bool

	Install, Test, BeforeScript, Script                 string
	AfterError, AfterFailure, AfterSuccess, AfterScript string
}

// Generate renders job into an executable build script under scriptDir,
// named after the job id, and returns its path.
func Generate(scriptDir string, job *coordinatorapi.JobDescriptor, opts Options) (string, error) {
	if !job.HasJob() {
		return "", fmt.Errorf("buildscript: job descriptor carries no job")
	}

	windows := runtime.GOOS == "windows"
	data := newTemplateData(job, opts, windows)

	ext, tmpl := ".sh", posixTemplate
	if windows {
		ext, tmpl = ".bat", batchTemplate
	}

	if err := os.MkdirAll(scriptDir, 0o755); err != nil {
		return "", fmt.Errorf("buildscript: creating %s: %w", scriptDir, err)
	}

	path := filepath.Join(scriptDir, job.Job.ID+ext)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return "", fmt.Errorf("buildscript: creating %s: %w", path, err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return "", fmt.Errorf("buildscript: rendering %s: %w", path, err)
	}
	return path, nil
}

func newTemplateData(job *coordinatorapi.JobDescriptor, opts Options, windows bool) templateData {
	instr := job.BuildItemInfo.Instructions

	data := templateData{
		IgnoreSetupBuild:       opts.IgnoreSetupBuild,
		IgnoreFetchBuildSource: opts.IgnoreFetchBuildSource,
		Install:                removeCondaNRoot(instr.Install),
		Test:                   removeCondaNRoot(instr.Test),
		BeforeScript:           removeCondaNRoot(instr.BeforeScript),
		Script:                 removeCondaNRoot(instr.Script),
		AfterError:             removeCondaNRoot(instr.AfterError),
		AfterFailure:           removeCondaNRoot(instr.AfterFailure),
		AfterSuccess:           removeCondaNRoot(instr.AfterSuccess),
		AfterScript:            removeCondaNRoot(instr.AfterScript),
	}

	if windows {
		data.BuildEnvPathDecl = `"%WORKING_DIR%\env"`
	} else {
		data.BuildEnvPathDecl = `"${WORKING_DIR}/env"`
	}

	if m := npyRe.FindStringSubmatch(job.BuildItemInfo.Engine); m != nil {
		data.CondaNpy = m[1] + m[2]
	}

	channels := job.BuildInfo.Channels
	if instr.BuildTargets != nil && len(instr.BuildTargets.Channels) > 0 {
		channels = instr.BuildTargets.Channels
	}
	labels := make([]string, 0, len(channels))
	for _, c := range channels {
		labels = append(labels, "--label "+c)
	}
	data.UploadLabelArgs = strings.Join(labels, " ")

	env := job.BuildItemInfo.EnvVars()
	names := make([]string, 0, len(env))
	for k := range env {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		data.EnvVars = append(data.EnvVars, envVar{Name: k, Value: env[k]})
	}

	return data
}
