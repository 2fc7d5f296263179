// Package storage implements the durable session store (C11): the
// concrete key-value backend behind the FSM's persist-on-every-mutation
// requirement, plus the raw replay blob the replay archive indexes.
package storage

import "context"

// Store is the durable key-value capability the FSM depends on. Keys
// follow the layout the boundary adapter's routes expose: "session:{id}"
// and "replay:{id}".
type Store interface {
	SaveSession(ctx context.Context, id string, blob []byte) error
	LoadSession(ctx context.Context, id string) ([]byte, error)
	DeleteSession(ctx context.Context, id string) error
	SaveReplay(ctx context.Context, id string, blob []byte) error
	LoadReplay(ctx context.Context, id string) ([]byte, error)
}

// ErrNotFound is returned by Load* when no value exists for the given id.
type ErrNotFound struct{ Key string }

func (e *ErrNotFound) Error() string { return "storage: not found: " + e.Key }
