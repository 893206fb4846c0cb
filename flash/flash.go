package flash

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady indicates that the device could not service the
	// operation yet and the caller should retry it. Only asynchronous
	// devices report this; callers driving a synchronous engine treat
	// it as a terminal failure.
	ErrNotReady = errors.New("device is not ready")
	// ErrOutOfBounds indicates that an operation addressed memory
	// outside the device or outside the configured region.
	ErrOutOfBounds = errors.New("address is out of bounds")
)

// Device is a byte-oriented erase-before-write (NOR-style) non-volatile
// memory. Erase resets a range to the erased state (all ones). Program
// can only clear bits within previously erased memory; programming a
// byte that is not in the erased state produces the bitwise AND of the
// old and new values, which is how the hardware behaves.
type Device interface {
	// ReadAt reads len(buf) bytes starting at addr.
	ReadAt(addr int64, buf []byte) error
	// ProgramAt programs data starting at addr.
	ProgramAt(addr int64, data []byte) error
	// EraseRange erases [start, end). Both bounds must be aligned to
	// the device's erase unit.
	EraseRange(start, end int64) error
	// EraseUnit returns the size of the smallest erasable unit.
	EraseUnit() int
	// Size returns the device capacity in bytes.
	Size() int64
}

// RegionConfig describes the sub-range of a device reserved for
// configuration storage.
type RegionConfig struct {
	// Start is the first byte of the region.
	Start int64
	// End is one past the last byte of the region.
	End int64
}

// Validate checks the region against the device geometry. An invalid
// region is a fatal startup error for the storage subsystem.
func (config RegionConfig) Validate(device Device) error {
	eraseUnit := int64(device.EraseUnit())

	if config.Start >= config.End {
		return fmt.Errorf("region end %#x must be greater than region start %#x", config.End, config.Start)
	}

	if config.Start%eraseUnit != 0 {
		return fmt.Errorf("region start %#x must be a multiple of the erase unit %#x", config.Start, eraseUnit)
	}

	if (config.End-config.Start)%eraseUnit != 0 {
		return fmt.Errorf("region size %#x must be a multiple of the erase unit %#x", config.End-config.Start, eraseUnit)
	}

	if config.End > device.Size() {
		return fmt.Errorf("region end %#x exceeds device size %#x", config.End, device.Size())
	}

	return nil
}
