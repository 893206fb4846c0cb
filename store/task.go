package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/finchkb/nvstore/engine"
	"github.com/finchkb/nvstore/utils/log"
)

// TaskOptions contains configuration for a Task
type TaskOptions struct {
	Logger   *zap.Logger
	Engine   engine.Engine
	Registry *Registry
}

// Task is the single goroutine that owns the storage engine. It mounts
// (or formats) the engine once, initializes every registered service
// in registration order, then loops forever waiting for any service's
// doorbell and draining that service's queue. Nothing else may touch
// the engine while the task runs.
type Task struct {
	logger   *zap.Logger
	eng      engine.Engine
	registry *Registry
}

// NewTask creates a storage task
func NewTask(options TaskOptions) *Task {
	logger := options.Logger

	if logger == nil {
		logger = zap.L()
	}

	return &Task{
		logger:   logger,
		eng:      options.Engine,
		registry: options.Registry,
	}
}

// Run executes the task until ctx is cancelled or the storage state
// becomes unknown. On firmware this loop never exits; cancellation is
// the host-side stop path. Any returned error other than the context's
// means there is no safe way to continue and the process must halt.
func (task *Task) Run(ctx context.Context) error {
	ctx = log.WithFields(ctx, zap.String("component", "storage"))

	if err := task.startup(ctx); err != nil {
		return err
	}

	return task.serve(ctx)
}

// startup mounts the engine, reformatting when the stored state is
// unrecognizable, and initializes every registered service before any
// request is accepted.
func (task *Task) startup(ctx context.Context) error {
	logger := log.WithContext(ctx, task.logger)

	err := task.eng.Mount(ctx)

	if errors.Is(err, engine.ErrCorrupted) {
		logger.Warn("stored state is corrupted, reformatting")

		if err := task.eng.Format(ctx); err != nil {
			return fmt.Errorf("could not format storage: %s", err.Error())
		}

		err = task.eng.Mount(ctx)
	}

	if err != nil {
		return fmt.Errorf("could not mount storage: %s", err.Error())
	}

	for _, service := range task.registry.endpoints {
		logger.Info("initializing service", zap.String("service", service.Name()))

		if err := service.initialize(ctx, task.eng); err != nil {
			return fmt.Errorf("could not initialize service %s: %s", service.Name(), err.Error())
		}
	}

	return nil
}

// serve waits for the first doorbell to fire among all registered
// services, fully drains that service's queue, then waits again. FIFO
// holds within a service; no ordering or fairness holds across
// services beyond "whichever doorbell is observed first is drained
// first". The wait set is sized by registration, so absent services
// need no placeholder slots.
func (task *Task) serve(ctx context.Context) error {
	cases := make([]reflect.SelectCase, 0, len(task.registry.endpoints)+1)

	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})

	for _, service := range task.registry.endpoints {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(service.wake()),
		})
	}

	for {
		chosen, _, _ := reflect.Select(cases)

		if chosen == 0 {
			return ctx.Err()
		}

		service := task.registry.endpoints[chosen-1]

		if err := service.drain(ctx, task.eng); err != nil {
			return fmt.Errorf("storage state is unknown after a failed mutation for %s: %s", service.Name(), err.Error())
		}
	}
}
