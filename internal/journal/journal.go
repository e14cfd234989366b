// Package journal appends a plain-text record of every build the worker
// starts and finishes, independent of whatever the coordinator itself
// records, so an operator can reconstruct job history from the local disk
// alone.
package journal

import (
	"fmt"
	"os"
	"sync"
)

// Filename is the journal's name, relative to the worker's cwd.
const Filename = "journal.csv"

// Journal is an append-only log of build starts and finishes.
type Journal struct {
	mu sync.Mutex
	f  *os.File
}

// Open opens (creating if necessary) the journal file at path for
// appending.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: opening %s: %w", path, err)
	}
	return &Journal{f: f}, nil
}

// Starting records that jobID/jobName has begun.
func (j *Journal) Starting(jobID, jobName string) error {
	return j.writeLine(fmt.Sprintf("starting build, %s, %s\n", jobID, jobName))
}

// Finished records that jobID/jobName has completed, regardless of outcome.
func (j *Journal) Finished(jobID, jobName string) error {
	return j.writeLine(fmt.Sprintf("finished build, %s, %s\n", jobID, jobName))
}

func (j *Journal) writeLine(line string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.WriteString(line); err != nil {
		return fmt.Errorf("journal: writing: %w", err)
	}
	return j.f.Sync()
}

// Close releases the underlying file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
