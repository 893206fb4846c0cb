package flash

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

var _ Device = (*MmapDevice)(nil)

// MmapDevice is a file-backed emulated NOR flash device mapped into
// memory. It gives the storage subsystem durable state on a host
// filesystem: the file holds the raw flash image, byte for byte, and
// every program or erase is flushed before returning so the image
// survives an abrupt exit. A fresh file is initialized to the erased
// state.
type MmapDevice struct {
	path      string
	file      *os.File
	data      mmap.MMap
	eraseUnit int
}

// OpenMmapDevice opens or creates a flash image file of size bytes.
// size must be a positive multiple of eraseUnit. An existing file of a
// different size is rejected rather than resized, since truncation
// would corrupt the stored image.
func OpenMmapDevice(path string, size int, eraseUnit int) (*MmapDevice, error) {
	if eraseUnit <= 0 || size <= 0 || size%eraseUnit != 0 {
		return nil, fmt.Errorf("device size %d must be a positive multiple of the erase unit %d", size, eraseUnit)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)

	if err != nil {
		return nil, fmt.Errorf("could not open flash image %s: %s", path, err.Error())
	}

	info, err := file.Stat()

	if err != nil {
		file.Close()

		return nil, fmt.Errorf("could not stat flash image %s: %s", path, err.Error())
	}

	fresh := info.Size() == 0

	if fresh {
		if err := file.Truncate(int64(size)); err != nil {
			file.Close()

			return nil, fmt.Errorf("could not size flash image %s: %s", path, err.Error())
		}
	} else if info.Size() != int64(size) {
		file.Close()

		return nil, fmt.Errorf("flash image %s is %d bytes, expected %d", path, info.Size(), size)
	}

	data, err := mmap.Map(file, mmap.RDWR, 0)

	if err != nil {
		file.Close()

		return nil, fmt.Errorf("could not map flash image %s: %s", path, err.Error())
	}

	device := &MmapDevice{path: path, file: file, data: data, eraseUnit: eraseUnit}

	if fresh {
		if err := device.EraseRange(0, int64(size)); err != nil {
			device.Close()

			return nil, fmt.Errorf("could not initialize flash image %s: %s", path, err.Error())
		}
	}

	return device, nil
}

// ReadAt implements Device.ReadAt
func (device *MmapDevice) ReadAt(addr int64, buf []byte) error {
	if addr < 0 || addr+int64(len(buf)) > int64(len(device.data)) {
		return ErrOutOfBounds
	}

	copy(buf, device.data[addr:])

	return nil
}

// ProgramAt implements Device.ProgramAt
func (device *MmapDevice) ProgramAt(addr int64, data []byte) error {
	if addr < 0 || addr+int64(len(data)) > int64(len(device.data)) {
		return ErrOutOfBounds
	}

	for i, b := range data {
		device.data[addr+int64(i)] &= b
	}

	return device.data.Flush()
}

// EraseRange implements Device.EraseRange
func (device *MmapDevice) EraseRange(start, end int64) error {
	if start < 0 || end > int64(len(device.data)) || start >= end {
		return ErrOutOfBounds
	}

	if start%int64(device.eraseUnit) != 0 || end%int64(device.eraseUnit) != 0 {
		return fmt.Errorf("erase range [%#x, %#x) is not aligned to the erase unit %#x", start, end, device.eraseUnit)
	}

	for i := start; i < end; i++ {
		device.data[i] = erasedByte
	}

	return device.data.Flush()
}

// EraseUnit implements Device.EraseUnit
func (device *MmapDevice) EraseUnit() int {
	return device.eraseUnit
}

// Size implements Device.Size
func (device *MmapDevice) Size() int64 {
	return int64(len(device.data))
}

// Close unmaps and closes the flash image.
func (device *MmapDevice) Close() error {
	var err error

	if device.data != nil {
		if e := device.data.Unmap(); e != nil {
			err = e
		}

		device.data = nil
	}

	if device.file != nil {
		if e := device.file.Close(); e != nil {
			err = e
		}

		device.file = nil
	}

	return err
}
