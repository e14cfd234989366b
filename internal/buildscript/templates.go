package buildscript

import "text/template"

const posixSource = `#!/bin/bash
set -o pipefail
{{if .CondaNpy}}
export CONDA_NPY={{.CondaNpy}}
{{end -}}
{{range .EnvVars}}
export {{.Name}}={{.Value}}
{{end -}}

WORKING_DIR="$(pwd)"
BUILD_ENV_PATH={{.BuildEnvPathDecl}}

API_TOKEN=
GIT_OAUTH_TOKEN=
BUILD_TARBALL=

while [ $# -gt 0 ]; do
  case "$1" in
    --api-token) API_TOKEN="$2"; shift 2 ;;
    --git-oauth-token) GIT_OAUTH_TOKEN="$2"; shift 2 ;;
    --build-tarball) BUILD_TARBALL="$2"; shift 2 ;;
    *) shift ;;
  esac
done

{{if not .IgnoreFetchBuildSource -}}
if [ -z "$GIT_OAUTH_TOKEN" ]; then
  if [ -z "$BUILD_TARBALL" ] || [ ! -f "$BUILD_TARBALL" ]; then
    echo "No source: --build-tarball missing or unreadable"
    echo "Exit BUILD_RESULT=error"
    exit 11
  fi
fi
{{end -}}
{{if not .IgnoreSetupBuild -}}
# Environment setup against $BUILD_ENV_PATH would run here on a full checkout.
{{end}}
run_after_script() {
{{if .AfterScript}}  {{.AfterScript}}
{{end -}}
  :
}

{{if .Install -}}
{{.Install}}
if [ $? -ne 0 ]; then
{{if .AfterError}}  {{.AfterError}}
{{end -}}
{{if .AfterScript}}  {{.AfterScript}}
{{end -}}
  echo "Exit BUILD_RESULT=error"
  exit 11
fi
{{end -}}
{{if .Test -}}
{{.Test}}
if [ $? -ne 0 ]; then
{{if .AfterFailure}}  {{.AfterFailure}}
{{end -}}
{{if .AfterScript}}  {{.AfterScript}}
{{end -}}
  echo "Exit BUILD_RESULT=failure"
  exit 12
fi
{{end -}}
{{if .BeforeScript -}}
{{.BeforeScript}}
{{end -}}
{{if .Script -}}
{{.Script}}
if [ $? -ne 0 ]; then
{{if .AfterFailure}}  {{.AfterFailure}}
{{end -}}
{{if .AfterScript}}  {{.AfterScript}}
{{end -}}
  echo "Exit BUILD_RESULT=failure"
  exit 12
fi
{{end -}}
{{if .UploadLabelArgs}}# upload labels: {{.UploadLabelArgs}}
{{end -}}
{{if .AfterSuccess}}{{.AfterSuccess}}
{{end -}}
{{if .AfterScript}}{{.AfterScript}}
{{end -}}
echo "Exit BUILD_RESULT=success"
exit 0
`

const batchSource = `@echo off
SETLOCAL ENABLEDELAYEDEXPANSION
{{if .CondaNpy}}
SET CONDA_NPY={{.CondaNpy}}
{{end -}}
{{range .EnvVars}}
SET {{.Name}}={{.Value}}
{{end -}}

SET WORKING_DIR=%CD%
SET BUILD_ENV_PATH={{.BuildEnvPathDecl}}

SET API_TOKEN=
SET GIT_OAUTH_TOKEN=
SET BUILD_TARBALL=

:parse_args
IF "%1"=="" GOTO args_done
IF "%1"=="--api-token" (SET API_TOKEN=%2 & SHIFT & SHIFT & GOTO parse_args)
IF "%1"=="--git-oauth-token" (SET GIT_OAUTH_TOKEN=%2 & SHIFT & SHIFT & GOTO parse_args)
IF "%1"=="--build-tarball" (SET BUILD_TARBALL=%2 & SHIFT & SHIFT & GOTO parse_args)
SHIFT
GOTO parse_args
:args_done

{{if not .IgnoreFetchBuildSource -}}
IF "%GIT_OAUTH_TOKEN%"=="" (
  IF NOT EXIST "%BUILD_TARBALL%" (
    ECHO No source: --build-tarball missing or unreadable
    ECHO Exit BUILD_RESULT=error
    EXIT /B 11
  )
)
{{end -}}
{{if not .IgnoreSetupBuild -}}
REM Environment setup against %BUILD_ENV_PATH% would run here on a full checkout.
{{end}}
{{if .Install -}}
{{.Install}}
IF NOT !ERRORLEVEL! == 0 (
{{if .AfterError}}  {{.AfterError}}
{{end -}}
{{if .AfterScript}}  {{.AfterScript}}
{{end -}}
  ECHO Exit BUILD_RESULT=error
  EXIT /B 11
)
{{end -}}
{{if .Test -}}
{{.Test}}
IF NOT !ERRORLEVEL! == 0 (
{{if .AfterFailure}}  {{.AfterFailure}}
{{end -}}
{{if .AfterScript}}  {{.AfterScript}}
{{end -}}
  ECHO Exit BUILD_RESULT=failure
  EXIT /B 12
)
{{end -}}
{{if .BeforeScript -}}
{{.BeforeScript}}
{{end -}}
{{if .Script -}}
{{.Script}}
IF NOT !ERRORLEVEL! == 0 (
{{if .AfterFailure}}  {{.AfterFailure}}
{{end -}}
{{if .AfterScript}}  {{.AfterScript}}
{{end -}}
  ECHO Exit BUILD_RESULT=failure
  EXIT /B 12
)
{{end -}}
{{if .UploadLabelArgs}}REM upload labels: {{.UploadLabelArgs}}
{{end -}}
{{if .AfterSuccess}}{{.AfterSuccess}}
{{end -}}
{{if .AfterScript}}{{.AfterScript}}
{{end -}}
ECHO Exit BUILD_RESULT=success
EXIT /B 0
`

var posixTemplate = template.Must(template.New("posix-build-script").Parse(posixSource))
var batchTemplate = template.Must(template.New("batch-build-script").Parse(batchSource))
