package buildscript

import (
	"fmt"
	"path/filepath"
	"strings"
)

// removeCondaNRoot neutralizes `conda install`/`conda update` invocations
// that target the root environment via `-n root` or `--name root`: running
// arbitrary build instructions against root would corrupt the toolchain
// every other build on the host depends on.
//
// A line is suspect iff it invokes a binary named conda, the first
// (non---debug) argument is install or update, and -n/--name root appears
// anywhere afterward as whitespace-delimited tokens (so rootlike and
// root-tools are left alone).
func removeCondaNRoot(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return cmd
	}
	if filepath.Base(fields[0]) != "conda" {
		return cmd
	}

	idx := 1
	if idx < len(fields) && fields[idx] == "--debug" {
		idx++
	}
	if idx >= len(fields) {
		return cmd
	}
	switch fields[idx] {
	case "install", "update":
	default:
		return cmd
	}

	rest := fields[idx+1:]
	for i := 0; i < len(rest)-1; i++ {
		if (rest[i] == "-n" || rest[i] == "--name") && rest[i+1] == "root" {
			return fmt.Sprintf("echo NOT RUNNING %s", shellQuote(cmd))
		}
	}
	return cmd
}

// shellQuote renders s as a single POSIX-shell-safe quoted argument. It is
// also safe to drop into the batch template, where single quotes carry no
// special meaning.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
