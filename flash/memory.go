package flash

import (
	"fmt"
	"sync"
)

const erasedByte = 0xFF

var _ Device = (*MemoryDevice)(nil)

// MemoryDevice is an in-memory emulation of a NOR flash device. It
// enforces NOR program semantics: programming ANDs new bits into the
// existing contents, so a bit can only be set again by erasing the
// whole erase unit. Tests and the default runtime configuration use it.
type MemoryDevice struct {
	mu        sync.Mutex
	data      []byte
	eraseUnit int
}

// NewMemoryDevice creates an erased in-memory device of size bytes with
// the given erase unit. size must be a positive multiple of eraseUnit.
func NewMemoryDevice(size int, eraseUnit int) (*MemoryDevice, error) {
	if eraseUnit <= 0 || size <= 0 || size%eraseUnit != 0 {
		return nil, fmt.Errorf("device size %d must be a positive multiple of the erase unit %d", size, eraseUnit)
	}

	data := make([]byte, size)

	for i := range data {
		data[i] = erasedByte
	}

	return &MemoryDevice{data: data, eraseUnit: eraseUnit}, nil
}

// ReadAt implements Device.ReadAt
func (device *MemoryDevice) ReadAt(addr int64, buf []byte) error {
	device.mu.Lock()
	defer device.mu.Unlock()

	if addr < 0 || addr+int64(len(buf)) > int64(len(device.data)) {
		return ErrOutOfBounds
	}

	copy(buf, device.data[addr:])

	return nil
}

// ProgramAt implements Device.ProgramAt
func (device *MemoryDevice) ProgramAt(addr int64, data []byte) error {
	device.mu.Lock()
	defer device.mu.Unlock()

	if addr < 0 || addr+int64(len(data)) > int64(len(device.data)) {
		return ErrOutOfBounds
	}

	for i, b := range data {
		device.data[addr+int64(i)] &= b
	}

	return nil
}

// EraseRange implements Device.EraseRange
func (device *MemoryDevice) EraseRange(start, end int64) error {
	device.mu.Lock()
	defer device.mu.Unlock()

	if start < 0 || end > int64(len(device.data)) || start >= end {
		return ErrOutOfBounds
	}

	if start%int64(device.eraseUnit) != 0 || end%int64(device.eraseUnit) != 0 {
		return fmt.Errorf("erase range [%#x, %#x) is not aligned to the erase unit %#x", start, end, device.eraseUnit)
	}

	for i := start; i < end; i++ {
		device.data[i] = erasedByte
	}

	return nil
}

// EraseUnit implements Device.EraseUnit
func (device *MemoryDevice) EraseUnit() int {
	return device.eraseUnit
}

// Size implements Device.Size
func (device *MemoryDevice) Size() int64 {
	return int64(len(device.data))
}
