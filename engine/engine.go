package engine

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates that no record exists for the key
	ErrNotFound = errors.New("key not found")
	// ErrCorrupted indicates that the engine could not recognize the
	// stored state. The only recovery path is a format, which destroys
	// all stored data.
	ErrCorrupted = errors.New("stored state is corrupted")
	// ErrNoSpace indicates that the engine could not find room for a
	// record even after reclaiming invalidated space
	ErrNoSpace = errors.New("storage is out of space")
	// ErrReclaimFailed indicates that space reclamation failed partway
	// through a mutation, leaving the stored state unknown. There is no
	// safe way to continue operating; callers must halt.
	ErrReclaimFailed = errors.New("could not reclaim space")
)

// Engine is the contract between the storage services and a concrete
// storage engine. Implementations are not safe for concurrent use: an
// engine instance is owned exclusively by the storage task for the
// lifetime of the process.
//
// Keys are the engine's native fixed-width key space. Logical keys are
// mapped into it by the caller; the engine neither detects nor resolves
// collisions.
//
// Get, Put and Delete may only be called after a successful Mount or
// Format; implementations report an error rather than assume it.
type Engine interface {
	// Mount prepares the engine for use. It returns ErrCorrupted if the
	// stored state is unrecognizable, in which case the caller may
	// Format and Mount again. Any other error is unrecoverable.
	Mount(ctx context.Context) error
	// Format destroys all stored data and writes a fresh empty state.
	Format(ctx context.Context) error
	// Get returns the value stored for key, or ErrNotFound.
	Get(ctx context.Context, key uint64) ([]byte, error)
	// Put durably stores value under key, replacing any prior value.
	Put(ctx context.Context, key uint64, value []byte) error
	// Delete removes the value stored for key. It returns ErrNotFound
	// if no value is stored; callers that want idempotent delete treat
	// that as success.
	Delete(ctx context.Context, key uint64) error
}
