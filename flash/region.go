package flash

import (
	"fmt"

	"go.uber.org/zap"
)

// RegionOptions contains configuration for a Region.
type RegionOptions struct {
	Logger *zap.Logger
	Device Device
	Config RegionConfig
}

// Region presents a configured sub-range of a device as a sequence of
// pages, one page per erase unit. All engine I/O goes through a Region;
// page indexes and offsets are translated to absolute device addresses
// here. Failures pass through unmodified. Retry policy belongs to the
// caller.
type Region struct {
	logger   *zap.Logger
	device   Device
	start    int64
	pageSize int
	pages    int
}

// NewRegion validates the region configuration and returns a Region
// over it. An invalid configuration is an error, not a panic: callers
// treat it as fatal at startup.
func NewRegion(options RegionOptions) (*Region, error) {
	logger := options.Logger

	if logger == nil {
		logger = zap.L()
	}

	if err := options.Config.Validate(options.Device); err != nil {
		return nil, fmt.Errorf("could not validate region config: %s", err.Error())
	}

	pageSize := options.Device.EraseUnit()

	return &Region{
		logger:   logger,
		device:   options.Device,
		start:    options.Config.Start,
		pageSize: pageSize,
		pages:    int((options.Config.End - options.Config.Start) / int64(pageSize)),
	}, nil
}

// PageCount returns the number of pages in the region.
func (region *Region) PageCount() int {
	return region.pages
}

// PageSize returns the size of one page in bytes.
func (region *Region) PageSize() int {
	return region.pageSize
}

func (region *Region) address(page int, off int) (int64, error) {
	if page < 0 || page >= region.pages {
		return 0, ErrOutOfBounds
	}

	if off < 0 || off > region.pageSize {
		return 0, ErrOutOfBounds
	}

	return region.start + int64(page)*int64(region.pageSize) + int64(off), nil
}

// Read reads len(buf) bytes from a page starting at off.
func (region *Region) Read(page int, off int, buf []byte) error {
	addr, err := region.address(page, off)

	if err != nil {
		return err
	}

	if off+len(buf) > region.pageSize {
		return ErrOutOfBounds
	}

	region.logger.Debug("read page", zap.Int("page", page), zap.Int("offset", off), zap.Int("length", len(buf)))

	return region.device.ReadAt(addr, buf)
}

// Write programs data into a page starting at off.
func (region *Region) Write(page int, off int, data []byte) error {
	addr, err := region.address(page, off)

	if err != nil {
		return err
	}

	if off+len(data) > region.pageSize {
		return ErrOutOfBounds
	}

	region.logger.Debug("program page", zap.Int("page", page), zap.Int("offset", off), zap.Int("length", len(data)))

	return region.device.ProgramAt(addr, data)
}

// Erase erases one page, resetting it to the erased state.
func (region *Region) Erase(page int) error {
	addr, err := region.address(page, 0)

	if err != nil {
		return err
	}

	region.logger.Debug("erase page", zap.Int("page", page))

	return region.device.EraseRange(addr, addr+int64(region.pageSize))
}

// Do performs one I/O request. It is the bridge between the
// continuation-driven engine protocol and the region primitives.
func (region *Region) Do(request IORequest) IOResult {
	switch request.Op {
	case OpRead:
		buf := make([]byte, request.Length)

		if err := region.Read(request.Page, request.Offset, buf); err != nil {
			return IOResult{Err: err}
		}

		return IOResult{Data: buf}
	case OpWrite:
		return IOResult{Err: region.Write(request.Page, request.Offset, request.Data)}
	case OpErase:
		return IOResult{Err: region.Erase(request.Page)}
	}

	return IOResult{Err: fmt.Errorf("unknown I/O op %d", request.Op)}
}
