// Package stopsignal implements the stop marker: a file whose presence in the
// working directory means "stop requested". The workflow process polls it
// between listings, so it is a cooperative request and never a preemption.
package stopsignal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kiranshivaraju/autolister/internal/filestore"
)

const (
	// JobMarkerName stops the running workflow process.
	JobMarkerName = "bot_stop_signal.txt"
	// SchedulerMarkerName stops the scheduler loop.
	SchedulerMarkerName = "scheduler_stop_signal.txt"
)

type Marker struct {
	path string
}

func New(dir, name string) *Marker {
	return &Marker{path: filepath.Join(dir, name)}
}

func (m *Marker) Path() string {
	return m.path
}

// Set writes the marker. Setting an already present marker is not an error.
func (m *Marker) Set() error {
	body := []byte(fmt.Sprintf("STOP requested at %s\n", time.Now().Format(time.RFC3339)))
	if err := filestore.WriteBytes(m.path, body); err != nil {
		return fmt.Errorf("set stop marker: %w", err)
	}
	return nil
}

func (m *Marker) Clear() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear stop marker: %w", err)
	}
	return nil
}

func (m *Marker) Requested() bool {
	return filestore.Exists(m.path)
}
