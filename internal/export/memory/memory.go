// Package memory is an in-memory RowAppender used in tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"kopilka/internal/export"
)

type Store struct {
	mu      sync.Mutex
	rows    []export.Row
	failErr error
}

var _ export.RowAppender = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// FailWith makes every subsequent Append return err. Pass nil to recover.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Append stores the row and returns a synthetic reference.
func (s *Store) Append(_ context.Context, row export.Row) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return "", s.failErr
	}
	s.rows = append(s.rows, row)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []export.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]export.Row(nil), s.rows...)
}
