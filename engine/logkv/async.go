package logkv

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/finchkb/nvstore/engine"
	"github.com/finchkb/nvstore/flash"
)

var _ engine.Engine = (*AsyncEngine)(nil)

// AsyncEngine drives the log-structured step machine against a device
// that may report flash.ErrNotReady. Each machine step either finishes
// the logical operation or hands back the one flash operation it needs
// next; the driver performs that operation, retrying while the device
// is not ready, and feeds the result into the next step. After the
// machine reports a terminal outcome the driver drains the trailing
// writes the machine queued without awaiting, since skipping that
// drain loses the appended record silently.
//
// Like the synchronous Engine it is owned exclusively by the storage
// task and is not safe for concurrent use.
type AsyncEngine struct {
	logger *zap.Logger
	region *flash.Region
}

// NewAsync creates a continuation-driven log-structured engine over a
// region
func NewAsync(options Options) *AsyncEngine {
	logger := options.Logger

	if logger == nil {
		logger = zap.L()
	}

	return &AsyncEngine{logger: logger, region: options.Region}
}

// perform executes one I/O request, retrying while the device reports
// that it is not ready. Any other error is terminal for the request.
func (eng *AsyncEngine) perform(ctx context.Context, request flash.IORequest) flash.IOResult {
	for {
		if err := ctx.Err(); err != nil {
			return flash.IOResult{Err: err}
		}

		result := eng.region.Do(request)

		if errors.Is(result.Err, flash.ErrNotReady) {
			eng.logger.Debug("device not ready, retrying", zap.Int("op", int(request.Op)), zap.Int("page", request.Page), zap.Int("offset", request.Offset))

			continue
		}

		return result
	}
}

// run drives a machine to its terminal outcome and then drains the
// trailing queued I/O.
func (eng *AsyncEngine) run(ctx context.Context, machine *Machine) ([]byte, error) {
	step := machine.Step(flash.IOResult{})

	for !step.Done {
		step = machine.Step(eng.perform(ctx, *step.IO))
	}

	if step.Err != nil {
		return nil, step.Err
	}

	for _, request := range machine.Trailing() {
		if result := eng.perform(ctx, request); result.Err != nil {
			return nil, fmt.Errorf("could not complete queued write to page %d: %s", request.Page, result.Err.Error())
		}
	}

	return step.Value, nil
}

// Mount implements engine.Engine.Mount
func (eng *AsyncEngine) Mount(ctx context.Context) error {
	_, err := eng.run(ctx, newMachine(opMount, 0, nil, eng.region.PageSize(), eng.region.PageCount()))

	return err
}

// Format implements engine.Engine.Format
func (eng *AsyncEngine) Format(ctx context.Context) error {
	_, err := eng.run(ctx, newMachine(opFormat, 0, nil, eng.region.PageSize(), eng.region.PageCount()))

	return err
}

// Get implements engine.Engine.Get
func (eng *AsyncEngine) Get(ctx context.Context, key uint64) ([]byte, error) {
	return eng.run(ctx, newMachine(opGet, key, nil, eng.region.PageSize(), eng.region.PageCount()))
}

// Put implements engine.Engine.Put
func (eng *AsyncEngine) Put(ctx context.Context, key uint64, value []byte) error {
	_, err := eng.run(ctx, newMachine(opPut, key, value, eng.region.PageSize(), eng.region.PageCount()))

	return err
}

// Delete implements engine.Engine.Delete
func (eng *AsyncEngine) Delete(ctx context.Context, key uint64) error {
	_, err := eng.run(ctx, newMachine(opDelete, key, nil, eng.region.PageSize(), eng.region.PageCount()))

	return err
}
