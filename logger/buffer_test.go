package logger_test

import (
	"testing"

	"github.com/anacondaforge/buildworker/logger"
	"github.com/google/go-cmp/cmp"
)

func TestBuffer(t *testing.T) {
	l := logger.NewBuffer()
	l.Info("hello %s", "world")
	func(x logger.Logger) {
		x.Debug("foo bar")
	}(l)
	want := []string{
		"[info] hello world",
		"[debug] foo bar",
	}
	if diff := cmp.Diff(want, l.Messages); diff != "" {
		t.Errorf("l.Messages mismatch (-want +got):\n%s", diff)
	}
}
