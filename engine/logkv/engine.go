// Package logkv implements a log-structured storage engine over a
// flash region. Records are appended to pages; updates invalidate the
// old record in place and append a new one; reclamation erases pages
// that hold only invalidated records. Reclamation runs as part of
// every mutation because the region is small enough that deferring it
// risks exhausting space before the next write.
//
// The package provides two drivers over the same on-flash format: a
// synchronous Engine for devices whose primitives block, and an
// AsyncEngine that drives a step machine for devices that may report
// flash.ErrNotReady and require the operation to be retried.
package logkv

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/finchkb/nvstore/engine"
	"github.com/finchkb/nvstore/flash"
)

// Options contains configuration for a synchronous Engine
type Options struct {
	Logger *zap.Logger
	Region *flash.Region
}

var _ engine.Engine = (*Engine)(nil)

// Engine is the synchronous log-structured engine. It is not safe for
// concurrent use; the storage task owns it exclusively.
type Engine struct {
	logger *zap.Logger
	region *flash.Region
}

// New creates a synchronous log-structured engine over a region
func New(options Options) *Engine {
	logger := options.Logger

	if logger == nil {
		logger = zap.L()
	}

	return &Engine{logger: logger, region: options.Region}
}

// scan reads every page in the region and parses its entries. raw
// holds the page images so callers can verify and extract values.
func (eng *Engine) scan(ctx context.Context) (pages []pageInfo, raw [][]byte, err error) {
	pages = make([]pageInfo, eng.region.PageCount())
	raw = make([][]byte, eng.region.PageCount())

	for p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		buf := make([]byte, eng.region.PageSize())

		if err := eng.region.Read(p, 0, buf); err != nil {
			return nil, nil, fmt.Errorf("could not read page %d: %s", p, err.Error())
		}

		raw[p] = buf
		pages[p] = parsePage(buf)
	}

	return pages, raw, nil
}

// invalidate programs the state byte of an entry to the dead state
// without erasing the page.
func (eng *Engine) invalidate(page int, entry entryInfo) error {
	if err := eng.region.Write(page, entry.off, []byte{stateDead}); err != nil {
		return fmt.Errorf("could not invalidate entry for key %#x on page %d: %s", entry.key, page, err.Error())
	}

	return nil
}

// reclaim erases every page that holds only invalidated entries and
// resets its parse info. It runs on every mutation, never deferred.
func (eng *Engine) reclaim(ctx context.Context, pages []pageInfo) error {
	for _, p := range reclaimable(pages) {
		if err := ctx.Err(); err != nil {
			return err
		}

		eng.logger.Debug("reclaim page", zap.Int("page", p), zap.Int("entries", len(pages[p].entries)))

		if err := eng.region.Erase(p); err != nil {
			return fmt.Errorf("%w: page %d: %s", engine.ErrReclaimFailed, p, err.Error())
		}

		pages[p] = pageInfo{}
	}

	return nil
}

// Mount implements engine.Engine.Mount
func (eng *Engine) Mount(ctx context.Context) error {
	pages, raw, err := eng.scan(ctx)

	if err != nil {
		return err
	}

	for p, info := range pages {
		if info.corrupt {
			eng.logger.Warn("page does not parse", zap.Int("page", p))

			return engine.ErrCorrupted
		}
	}

	page, entry, ok := findLive(pages, markerKey)

	if !ok {
		return engine.ErrCorrupted
	}

	value, err := verifyEntry(raw[page], entry)

	if err != nil || string(value) != string(markerValue) {
		return engine.ErrCorrupted
	}

	return nil
}

// Format implements engine.Engine.Format
func (eng *Engine) Format(ctx context.Context) error {
	for p := 0; p < eng.region.PageCount(); p++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := eng.region.Erase(p); err != nil {
			return fmt.Errorf("could not erase page %d: %s", p, err.Error())
		}
	}

	if err := eng.region.Write(0, 0, encodeEntry(markerKey, markerValue)); err != nil {
		return fmt.Errorf("could not write format marker: %s", err.Error())
	}

	return nil
}

// Get implements engine.Engine.Get
func (eng *Engine) Get(ctx context.Context, key uint64) ([]byte, error) {
	pages, raw, err := eng.scan(ctx)

	if err != nil {
		return nil, err
	}

	page, entry, ok := findLive(pages, key)

	if !ok {
		return nil, engine.ErrNotFound
	}

	value, err := verifyEntry(raw[page], entry)

	if err != nil {
		return nil, err
	}

	result := make([]byte, len(value))
	copy(result, value)

	return result, nil
}

// Put implements engine.Engine.Put. The order is fixed: invalidate the
// old record, reclaim, then append the new record.
func (eng *Engine) Put(ctx context.Context, key uint64, value []byte) error {
	if len(value) > maxValueSize || entrySize(value) > eng.region.PageSize() {
		return engine.ErrNoSpace
	}

	pages, _, err := eng.scan(ctx)

	if err != nil {
		return err
	}

	if page, entry, ok := findLive(pages, key); ok {
		if err := eng.invalidate(page, entry); err != nil {
			return err
		}

		markDead(pages, page, entry)
	}

	if err := eng.reclaim(ctx, pages); err != nil {
		return err
	}

	target, ok := appendTarget(pages, entrySize(value), eng.region.PageSize())

	if !ok {
		return engine.ErrNoSpace
	}

	if err := eng.region.Write(target, pages[target].free, encodeEntry(key, value)); err != nil {
		return fmt.Errorf("could not append entry for key %#x to page %d: %s", key, target, err.Error())
	}

	return nil
}

// Delete implements engine.Engine.Delete
func (eng *Engine) Delete(ctx context.Context, key uint64) error {
	pages, _, err := eng.scan(ctx)

	if err != nil {
		return err
	}

	page, entry, ok := findLive(pages, key)

	if !ok {
		return engine.ErrNotFound
	}

	if err := eng.invalidate(page, entry); err != nil {
		return err
	}

	markDead(pages, page, entry)

	return eng.reclaim(ctx, pages)
}

// markDead updates the parse info after an entry is invalidated so
// reclamation and append-target selection see the new state.
func markDead(pages []pageInfo, page int, entry entryInfo) {
	for i, e := range pages[page].entries {
		if e.off == entry.off {
			pages[page].entries[i].live = false

			return
		}
	}
}
