// Package boltkv implements a transactional storage engine over a
// bbolt database file. It serves host-side deployments where the
// "flash" is a filesystem rather than a raw device: gets run inside a
// read transaction, mutations run inside a write transaction that only
// becomes durable on commit. A database file that bbolt rejects as
// corrupted is reported as engine.ErrCorrupted so the storage task can
// reformat; any other mount failure is unrecoverable.
package boltkv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/finchkb/nvstore/engine"
)

// records is the single bucket holding every record, keyed by the
// engine's native 64-bit key in big-endian order.
var records = []byte("records")

// ErrNotMounted indicates that an operation ran before a successful
// Mount or Format opened the database.
var ErrNotMounted = errors.New("engine is not mounted")

// Options contains configuration for an Engine
type Options struct {
	Logger *zap.Logger
	// Path is the location of the database file.
	Path string
}

var _ engine.Engine = (*Engine)(nil)

// Engine is the transactional engine. Like the log-structured engines
// it is owned exclusively by the storage task and is not safe for
// concurrent use.
type Engine struct {
	logger *zap.Logger
	path   string
	db     *bolt.DB
}

// New creates a transactional engine backed by the database file at
// options.Path. The file is not touched until Mount or Format.
func New(options Options) *Engine {
	logger := options.Logger

	if logger == nil {
		logger = zap.L()
	}

	return &Engine{logger: logger, path: options.Path}
}

func (eng *Engine) open() error {
	db, err := bolt.Open(eng.path, 0666, nil)

	if err != nil {
		if errors.Is(err, bolt.ErrInvalid) || errors.Is(err, bolt.ErrVersionMismatch) || errors.Is(err, bolt.ErrChecksum) {
			eng.logger.Warn("database file is corrupted", zap.String("path", eng.path), zap.Error(err))

			return engine.ErrCorrupted
		}

		return fmt.Errorf("could not open database at %s: %s", eng.path, err.Error())
	}

	if err := db.Update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucketIfNotExists(records)

		return err
	}); err != nil {
		db.Close()

		return fmt.Errorf("could not ensure records bucket exists: %s", err.Error())
	}

	eng.db = db

	return nil
}

// Mount implements engine.Engine.Mount
func (eng *Engine) Mount(ctx context.Context) error {
	if eng.db != nil {
		return nil
	}

	return eng.open()
}

// Format implements engine.Engine.Format. It destroys the database
// file and creates a fresh empty one.
func (eng *Engine) Format(ctx context.Context) error {
	if eng.db != nil {
		if err := eng.db.Close(); err != nil {
			return fmt.Errorf("could not close database: %s", err.Error())
		}

		eng.db = nil
	}

	if err := os.Remove(eng.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove database at %s: %s", eng.path, err.Error())
	}

	return eng.open()
}

// Close releases the database file. The firmware never shuts down but
// host-side tooling does.
func (eng *Engine) Close() error {
	if eng.db == nil {
		return nil
	}

	err := eng.db.Close()
	eng.db = nil

	return err
}

func (eng *Engine) ready() error {
	if eng.db == nil {
		return ErrNotMounted
	}

	return nil
}

func encodeKey(key uint64) []byte {
	var encoded [8]byte

	binary.BigEndian.PutUint64(encoded[:], key)

	return encoded[:]
}

// Get implements engine.Engine.Get
func (eng *Engine) Get(ctx context.Context, key uint64) ([]byte, error) {
	if err := eng.ready(); err != nil {
		return nil, err
	}

	var value []byte

	if err := eng.db.View(func(txn *bolt.Tx) error {
		stored := txn.Bucket(records).Get(encodeKey(key))

		if stored == nil {
			return engine.ErrNotFound
		}

		value = make([]byte, len(stored))
		copy(value, stored)

		return nil
	}); err != nil {
		return nil, err
	}

	return value, nil
}

// Put implements engine.Engine.Put. The write transaction batches the
// record write and only becomes durable on commit.
func (eng *Engine) Put(ctx context.Context, key uint64, value []byte) error {
	if err := eng.ready(); err != nil {
		return err
	}

	if err := eng.db.Update(func(txn *bolt.Tx) error {
		return txn.Bucket(records).Put(encodeKey(key), value)
	}); err != nil {
		return fmt.Errorf("could not store record for key %#x: %s", key, err.Error())
	}

	return nil
}

// Delete implements engine.Engine.Delete
func (eng *Engine) Delete(ctx context.Context, key uint64) error {
	if err := eng.ready(); err != nil {
		return err
	}

	return eng.db.Update(func(txn *bolt.Tx) error {
		bucket := txn.Bucket(records)
		encoded := encodeKey(key)

		if bucket.Get(encoded) == nil {
			return engine.ErrNotFound
		}

		return bucket.Delete(encoded)
	})
}
