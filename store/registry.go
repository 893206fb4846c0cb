package store

import (
	"context"
	"fmt"

	"github.com/finchkb/nvstore/engine"
)

// endpoint is the type-erased view of a Service the Task works with.
type endpoint interface {
	Name() string
	wake() <-chan struct{}
	initialize(ctx context.Context, eng engine.Engine) error
	drain(ctx context.Context, eng engine.Engine) error
}

// Registry is the explicit set of storage services the Task
// initializes and polls. Registration happens during startup, before
// the Task runs; the Registry is not safe for concurrent mutation.
type Registry struct {
	endpoints []endpoint
	owners    map[ServiceID]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{owners: map[ServiceID]string{}}
}

// Register creates a service and adds it to the registry. Services are
// initialized in registration order. A service ID can only ever be
// registered once: IDs are permanent, and reusing one would hand the
// old owner's stored bytes to the new owner.
func Register[T any](registry *Registry, options ServiceOptions) (*Service[T], error) {
	if owner, ok := registry.owners[options.ID]; ok {
		return nil, fmt.Errorf("service id %d is already registered to %s", options.ID, owner)
	}

	service, err := newService[T](options)

	if err != nil {
		return nil, fmt.Errorf("could not create service %s: %s", options.Name, err.Error())
	}

	registry.owners[options.ID] = options.Name
	registry.endpoints = append(registry.endpoints, service)

	return service, nil
}
