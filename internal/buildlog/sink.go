// Package buildlog implements the writable byte sink that build output is
// piped through: it detects inline section metadata, buffers small writes,
// and tees everything to a local file and to the build coordinator.
package buildlog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/anacondaforge/buildworker/internal/metadata"
	"github.com/anacondaforge/buildworker/logger"
	"github.com/anacondaforge/buildworker/process"
)

// BufSize is the threshold, in bytes: once the buffer holds at least this
// many bytes, WriteLine forces a flush.
const BufSize = 72

// MaxWriteFailures is the number of consecutive flush failures tolerated
// before the sink gives up and reports the build as terminated.
const MaxWriteFailures = 5

// Server is the subset of the coordinator client the sink needs.
type Server interface {
	LogBuildOutputStructured(ctx context.Context, username, queue, workerID, jobID string, msg []byte, metadata map[string]any) (bool, error)
}

// Sink writes build output to a local file and, in buffered chunks, to the
// build coordinator. It implements process.Sink so a Supervisor can drive a
// child process directly into it.
type Sink struct {
	server Server
	logger logger.Logger

	username, queue, workerID, jobID string
	quiet                            bool

	mu            sync.Mutex
	buf           process.Buffer
	fd            *os.File
	metadataMap   metadata.Map
	writeFailures int
	terminated    bool
	closed        bool
}

// New opens a sink that tees to filename (truncated if it exists) and to
// the coordinator's structured log endpoint for (username, queue, workerID,
// jobID). quiet, if true, drops lines that look like an in-place terminal
// overwrite (trailing bare \r).
func New(l logger.Logger, server Server, username, queue, workerID, jobID, filename string, quiet bool) (*Sink, error) {
	fd, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("buildlog: opening %s: %w", filename, err)
	}

	l.Info("Writing build log to %s", filename)

	return &Sink{
		server:      server,
		logger:      l,
		username:    username,
		queue:       queue,
		workerID:    workerID,
		jobID:       jobID,
		quiet:       quiet,
		fd:          fd,
		metadataMap: metadata.Map{"section": "dequeue_build"},
	}, nil
}

// Metadata returns a copy of the sink's current section metadata.
func (s *Sink) Metadata() metadata.Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(metadata.Map, len(s.metadataMap))
	for k, v := range s.metadataMap {
		out[k] = v
	}
	return out
}

// Terminated reports whether the coordinator asked for the build to stop,
// or whether the write-failure budget has been exhausted.
func (s *Sink) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Writable always reports true.
func (s *Sink) Writable() bool { return true }

// Readable always reports false.
func (s *Sink) Readable() bool { return false }

func (s *Sink) updateMetadata(m metadata.Map) {
	for k, v := range m {
		s.metadataMap[k] = v
	}
	if section, ok := m["section"]; ok {
		s.logger.Info("Started section %v", section)
	}
}

// WriteLine writes a single line (including its terminator, if any) to the
// sink. It returns the byte length of line, even when the line is filtered
// out or consumed as metadata, so callers can account for bytes uniformly.
//
// The whole argument is treated as one candidate metadata line: it is
// consumed as metadata only if all of it, apart from one trailing line
// terminator, decodes. Otherwise it is written as ordinary content.
func (s *Sink) WriteLine(line []byte) (int, error) {
	n := len(line)

	s.mu.Lock()
	defer s.mu.Unlock()

	if metadata.IsMetadataLine(line) {
		if m, err := metadata.Decode(line); err == nil {
			s.flushLocked()
			s.updateMetadata(m)
			s.logger.Debug("Consumed %d bytes of build output metadata", n)
			return n, nil
		}
		// Malformed metadata line: falls through and is written as
		// ordinary content.
	}

	if s.quiet && bytes.HasSuffix(line, []byte("\r")) && !bytes.HasSuffix(line, []byte("\r\n")) {
		return n, nil
	}

	s.buf.Write(line)
	if s.buf.Len() >= BufSize {
		s.flushLocked()
	}
	return n, nil
}

// WriteLines is a convenience wrapper over WriteLine.
func (s *Sink) WriteLines(lines [][]byte) (int, error) {
	total := 0
	for _, line := range lines {
		n, err := s.WriteLine(line)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Flush drains the buffer to the local file and to the coordinator.
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

func (s *Sink) flushLocked() {
	msg := s.buf.ReadAndTruncate()
	if len(msg) == 0 {
		return
	}

	if _, err := s.fd.Write(msg); err != nil {
		s.logger.Warn("Failed to write build log to local file: %v", err)
	}

	terminated := false
	snapshot := make(metadata.Map, len(s.metadataMap))
	for k, v := range s.metadataMap {
		snapshot[k] = v
	}

	t, err := s.server.LogBuildOutputStructured(context.Background(),
		s.username, s.queue, s.workerID, s.jobID, msg, snapshot)
	if err != nil {
		s.writeFailures++
		s.logger.Warn("Failed to write log to server, %d attempts remaining", MaxWriteFailures-s.writeFailures)
		if s.writeFailures > MaxWriteFailures {
			terminated = true
			s.logger.Error("Failed to write log to server %d times in a row, terminating build", MaxWriteFailures)
		}
	} else {
		s.writeFailures = 0
		terminated = t
	}

	s.logger.Debug("Wrote %d bytes of build output to anaconda-server", len(msg))

	if terminated {
		s.terminated = true
		s.logger.Info("anaconda-server responded that the build should be terminated")
	}

	if err := s.fd.Sync(); err != nil {
		s.logger.Warn("Failed to sync build log file: %v", err)
	}
}

// Close flushes any remaining buffered output and releases the file handle.
// It is safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.flushLocked()
	return s.fd.Close()
}
