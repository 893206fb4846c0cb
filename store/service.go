// Package store multiplexes typed configuration records from many
// independent services onto one exclusively-owned storage engine. Each
// Service owns a bounded request queue and a doorbell; Clients enqueue
// requests and await a correlated response on a private channel; the
// Task is the single goroutine that owns the engine, mounts it at
// startup and drains whichever service's doorbell fires.
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/finchkb/nvstore/engine"
	"github.com/finchkb/nvstore/utils/log"
)

type requestKind int

const (
	requestRead requestKind = iota
	requestWrite
	requestDelete
)

func (kind requestKind) String() string {
	switch kind {
	case requestRead:
		return "read"
	case requestWrite:
		return "write"
	case requestDelete:
		return "delete"
	}

	return "unknown"
}

type request[T any] struct {
	kind  requestKind
	value T
	// reply is this request's private response channel. It has capacity
	// one and receives exactly one response, so sending never blocks
	// the task even when the requester has abandoned the request.
	reply chan<- response[T]
}

type response[T any] struct {
	value T
	err   error
}

// ServiceOptions contains configuration for a Service
type ServiceOptions struct {
	Logger *zap.Logger
	// Name identifies the service in logs.
	Name string
	// ID is the service's permanent numeric identity.
	ID ServiceID
	// Version is the manually-assigned schema version of the stored
	// type. Bump it whenever the type's encoded shape changes; a
	// mismatch with the stored version resets the service's data at
	// startup.
	Version uint32
	// MaxSize bounds the encoded size of a stored value.
	MaxSize int
	// QueueCapacity bounds the request queue. A full queue blocks
	// submitting clients rather than dropping requests.
	QueueCapacity int
}

// Service is the per-record-type façade over the storage engine. It
// never touches the engine on its own: the storage task calls
// initialize once at startup and drain whenever the doorbell rings.
type Service[T any] struct {
	logger   *zap.Logger
	name     string
	id       ServiceID
	version  uint32
	maxSize  int
	requests chan request[T]
	doorbell chan struct{}
}

func newService[T any](options ServiceOptions) (*Service[T], error) {
	logger := options.Logger

	if logger == nil {
		logger = zap.L()
	}

	if options.Name == "" {
		return nil, fmt.Errorf("service name is required")
	}

	if options.MaxSize <= 0 {
		return nil, fmt.Errorf("max size %d must be positive", options.MaxSize)
	}

	if options.QueueCapacity <= 0 {
		return nil, fmt.Errorf("queue capacity %d must be positive", options.QueueCapacity)
	}

	return &Service[T]{
		logger:   logger.With(zap.String("service", options.Name)),
		name:     options.Name,
		id:       options.ID,
		version:  options.Version,
		maxSize:  options.MaxSize,
		requests: make(chan request[T], options.QueueCapacity),
		doorbell: make(chan struct{}, 1),
	}, nil
}

// Name returns the service's log name.
func (service *Service[T]) Name() string {
	return service.name
}

func (service *Service[T]) ring() {
	select {
	case service.doorbell <- struct{}{}:
	default:
	}
}

func (service *Service[T]) wake() <-chan struct{} {
	return service.doorbell
}

// fingerprint is the metadata record contents: the schema version in
// fixed-width form. Purely a staleness check, never used to transform
// stored data.
func (service *Service[T]) fingerprint() []byte {
	var encoded [4]byte

	binary.BigEndian.PutUint32(encoded[:], service.version)

	return encoded[:]
}

// initialize compares the stored schema fingerprint against the
// compiled-in one and resets the service's records when they differ or
// the stored one is unreadable. Reading a value encoded under an old
// schema would silently misinterpret its bytes, which is strictly
// worse than losing the value.
func (service *Service[T]) initialize(ctx context.Context, eng engine.Engine) error {
	logger := log.WithContext(ctx, service.logger)
	current := service.fingerprint()

	stored, err := eng.Get(ctx, EngineKey(service.id, KindMetadata))

	if err == nil && bytes.Equal(stored, current) {
		return nil
	}

	if err != nil {
		logger.Warn("could not read stored schema version", zap.Error(err))
	} else {
		logger.Warn("stored schema version differs", zap.Binary("stored", stored), zap.Uint32("current", service.version))
	}

	logger.Warn("deleting old data and updating stored schema version")

	if err := eng.Delete(ctx, EngineKey(service.id, KindData)); err != nil && !errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("could not delete data record for %s: %s", service.name, err.Error())
	}

	if err := eng.Delete(ctx, EngineKey(service.id, KindMetadata)); err != nil && !errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("could not delete metadata record for %s: %s", service.name, err.Error())
	}

	if err := eng.Put(ctx, EngineKey(service.id, KindMetadata), current); err != nil {
		return fmt.Errorf("could not store schema version for %s: %s", service.name, err.Error())
	}

	return nil
}

// drain processes every currently-queued request before returning.
// Requests are handled strictly in submission order. A non-nil error
// means the storage state is unknown and the task must halt.
func (service *Service[T]) drain(ctx context.Context, eng engine.Engine) error {
	for {
		select {
		case req := <-service.requests:
			if err := service.handle(ctx, eng, req); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// handle executes one request against the engine and delivers the
// response. Every failure collapses to ErrNotFound or ErrRequestFailed
// at the client boundary; the specifics only reach the log. The
// returned error is reserved for unrecoverable conditions.
func (service *Service[T]) handle(ctx context.Context, eng engine.Engine, req request[T]) error {
	logger := log.WithContext(ctx, service.logger).With(zap.Stringer("operation", req.kind))

	var resp response[T]
	var fatal error

	switch req.kind {
	case requestRead:
		stored, err := eng.Get(ctx, EngineKey(service.id, KindData))

		switch {
		case errors.Is(err, engine.ErrNotFound):
			resp.err = ErrNotFound
		case err != nil:
			logger.Error("could not read record", zap.Error(err))

			resp.err = ErrRequestFailed
		default:
			if err := cbor.Unmarshal(stored, &resp.value); err != nil {
				logger.Error("could not decode record", zap.Error(err))

				resp.err = ErrRequestFailed
			}
		}
	case requestWrite:
		encoded, err := cbor.Marshal(req.value)

		switch {
		case err != nil:
			logger.Error("could not encode record", zap.Error(err))

			resp.err = ErrRequestFailed
		case len(encoded) > service.maxSize:
			// Storage is never touched when the value does not fit.
			logger.Error("encoded record exceeds size bound", zap.Int("encoded", len(encoded)), zap.Int("bound", service.maxSize))

			resp.err = ErrRequestFailed
		default:
			if err := eng.Put(ctx, EngineKey(service.id, KindData), encoded); err != nil {
				logger.Error("could not write record", zap.Error(err))

				resp.err = ErrRequestFailed

				if errors.Is(err, engine.ErrReclaimFailed) {
					fatal = err
				}
			}
		}
	case requestDelete:
		// Deleting an absent record succeeds: delete is idempotent.
		if err := eng.Delete(ctx, EngineKey(service.id, KindData)); err != nil && !errors.Is(err, engine.ErrNotFound) {
			logger.Error("could not delete record", zap.Error(err))

			resp.err = ErrRequestFailed

			if errors.Is(err, engine.ErrReclaimFailed) {
				fatal = err
			}
		}
	}

	req.reply <- resp

	return fatal
}
