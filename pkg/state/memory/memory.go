// Package memory is a process-local state.Store. State is lost on restart.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/exportd/pkg/state"
)

// Store keeps state in memory.
type Store struct {
	mu    sync.RWMutex
	st    state.State
	saves int
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

func (s *Store) Load(ctx context.Context) (state.State, error) {
	if err := ctx.Err(); err != nil {
		return state.State{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Clone(), nil
}

func (s *Store) Save(ctx context.Context, st state.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = st.Clone()
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *Store) Close() error {
	return nil
}
