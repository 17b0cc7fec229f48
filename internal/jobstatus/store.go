package jobstatus

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/kiranshivaraju/autolister/internal/filestore"
)

// Store serialises this process's reads and writes of the status document.
// The workflow child writes the same file; whole-file atomic renames keep its
// writes and ours from tearing each other.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, FileName), now: time.Now}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the current document. A missing or unreadable document reads
// as idle.
func (s *Store) Load() JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save overwrites the document, stamping updated_at.
func (s *Store) Save(st JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(st)
}

// Update applies fn to the current document and persists the result as one
// read-modify-write under the store lock.
func (s *Store) Update(fn func(*JobStatus)) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.load()
	fn(&st)
	if err := s.save(st); err != nil {
		return st, err
	}
	return st, nil
}

// Reset overwrites the document with the idle snapshot.
func (s *Store) Reset() (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Idle(s.now())
	if err := s.save(st); err != nil {
		return st, err
	}
	return st, nil
}

func (s *Store) load() JobStatus {
	var st JobStatus
	if err := filestore.ReadJSON(s.path, &st); err != nil {
		if !filestore.IsNotExist(err) {
			slog.Warn("job status unreadable, treating as idle", "path", s.path, "error", err)
		}
		return Idle(s.now())
	}
	if st.State == "" {
		st.State = StateIdle
	}
	return st
}

func (s *Store) save(st JobStatus) error {
	st.UpdatedAt = filestore.NewTimestamp(s.now())
	if err := filestore.WriteJSON(s.path, st); err != nil {
		return fmt.Errorf("save job status: %w", err)
	}
	return nil
}
