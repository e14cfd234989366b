package clicommand

import (
	"errors"
	"testing"
)

func TestExitErrorCode(t *testing.T) {
	err := NewExitError(17, errors.New("boom"))
	if err.Code() != 17 {
		t.Errorf("Code() = %d, want 17", err.Code())
	}
	if err.Error() != "boom" {
		t.Errorf("Error() = %q, want %q", err.Error(), "boom")
	}
}

func TestExitErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewExitError(1, inner)
	if !errors.Is(err, inner) {
		t.Errorf("errors.Is(err, inner) = false, want true")
	}
}

func TestPrintMessageAndReturnExitCodeWithExitError(t *testing.T) {
	err := NewExitError(12, errors.New("failure"))
	if code := PrintMessageAndReturnExitCode(err); code != 12 {
		t.Errorf("PrintMessageAndReturnExitCode() = %d, want 12", code)
	}
}

func TestPrintMessageAndReturnExitCodeWithPlainError(t *testing.T) {
	if code := PrintMessageAndReturnExitCode(errors.New("failure")); code != 1 {
		t.Errorf("PrintMessageAndReturnExitCode() = %d, want 1", code)
	}
}

func TestPrintMessageAndReturnExitCodeWithNil(t *testing.T) {
	if code := PrintMessageAndReturnExitCode(nil); code != 0 {
		t.Errorf("PrintMessageAndReturnExitCode() = %d, want 0", code)
	}
}
