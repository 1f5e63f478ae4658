// Package badger persists reconciler state in an embedded BadgerDB so the
// re-sync and config flags survive restarts.
//
// Key Namespace:
//
//	Data Type        Prefix  Key Format    Value Type
//	=================================================
//	Engine state     "st:"   st:engine     state.State (JSON)
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/exportd/pkg/state"
)

const (
	prefixState = "st:"
)

func keyEngineState() []byte {
	return []byte(prefixState + "engine")
}

// Config configures the badger store.
type Config struct {
	// DBPath is the database directory.
	DBPath string `mapstructure:"db_path"`

	// InMemory runs badger without touching disk. Intended for tests.
	InMemory bool `mapstructure:"in_memory"`
}

// Store is a state.Store backed by BadgerDB.
type Store struct {
	db *badger.DB
}

// New opens (or creates) the database described by cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("badger state store requires db_path")
		}
		opts = badger.DefaultOptions(cfg.DBPath)
	}

	// A single small record: keep the footprint and log noise down.
	opts = opts.
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithBlockCacheSize(1 << 20).
		WithIndexCacheSize(1 << 20).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	return &Store{db: db}, nil
}

// Load implements state.Store.
func (s *Store) Load(ctx context.Context) (state.State, error) {
	if err := ctx.Err(); err != nil {
		return state.State{}, err
	}

	var st state.State

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyEngineState())
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	if err != nil {
		return state.State{}, fmt.Errorf("failed to load engine state: %w", err)
	}

	return st, nil
}

// Save implements state.Store.
func (s *Store) Save(ctx context.Context, st state.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode engine state: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyEngineState(), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save engine state: %w", err)
	}
	return nil
}

// Close implements state.Store.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}
