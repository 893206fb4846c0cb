package flash_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finchkb/nvstore/flash"
)

func newDevice(t *testing.T, size, eraseUnit int) *flash.MemoryDevice {
	t.Helper()

	device, err := flash.NewMemoryDevice(size, eraseUnit)

	require.NoError(t, err)

	return device
}

func TestRegionConfigValidate(t *testing.T) {
	device := newDevice(t, 8192, 1024)

	testCases := map[string]struct {
		config flash.RegionConfig
		valid  bool
	}{
		"whole device": {
			config: flash.RegionConfig{Start: 0, End: 8192},
			valid:  true,
		},
		"aligned sub-range": {
			config: flash.RegionConfig{Start: 1024, End: 4096},
			valid:  true,
		},
		"empty": {
			config: flash.RegionConfig{Start: 2048, End: 2048},
			valid:  false,
		},
		"inverted": {
			config: flash.RegionConfig{Start: 4096, End: 1024},
			valid:  false,
		},
		"unaligned start": {
			config: flash.RegionConfig{Start: 100, End: 4096},
			valid:  false,
		},
		"unaligned length": {
			config: flash.RegionConfig{Start: 1024, End: 4196},
			valid:  false,
		},
		"past device end": {
			config: flash.RegionConfig{Start: 0, End: 16384},
			valid:  false,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			err := testCase.config.Validate(device)

			if testCase.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRegionReadWriteErase(t *testing.T) {
	device := newDevice(t, 8192, 1024)

	region, err := flash.NewRegion(flash.RegionOptions{
		Logger: zap.NewNop(),
		Device: device,
		Config: flash.RegionConfig{Start: 1024, End: 5120},
	})

	require.NoError(t, err)
	assert.Equal(t, 4, region.PageCount())
	assert.Equal(t, 1024, region.PageSize())

	require.NoError(t, region.Write(1, 16, []byte("hello")))

	buf := make([]byte, 5)

	require.NoError(t, region.Read(1, 16, buf))
	assert.Equal(t, []byte("hello"), buf)

	// The write landed at the absolute device address
	absolute := make([]byte, 5)

	require.NoError(t, device.ReadAt(1024+1024+16, absolute))
	assert.Equal(t, []byte("hello"), absolute)

	require.NoError(t, region.Erase(1))
	require.NoError(t, region.Read(1, 16, buf))
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 5), buf)
}

// TestNORProgramSemantics verifies that programming can only clear
// bits: rewriting without an erase ANDs the old and new contents.
func TestNORProgramSemantics(t *testing.T) {
	device := newDevice(t, 2048, 1024)

	require.NoError(t, device.ProgramAt(10, []byte{0xF0}))
	require.NoError(t, device.ProgramAt(10, []byte{0x0F}))

	buf := make([]byte, 1)

	require.NoError(t, device.ReadAt(10, buf))
	assert.Equal(t, []byte{0x00}, buf)

	require.NoError(t, device.EraseRange(0, 1024))
	require.NoError(t, device.ReadAt(10, buf))
	assert.Equal(t, []byte{0xFF}, buf)
}

func TestRegionOutOfBounds(t *testing.T) {
	device := newDevice(t, 4096, 1024)

	region, err := flash.NewRegion(flash.RegionOptions{
		Logger: zap.NewNop(),
		Device: device,
		Config: flash.RegionConfig{Start: 0, End: 2048},
	})

	require.NoError(t, err)

	buf := make([]byte, 16)

	assert.ErrorIs(t, region.Read(-1, 0, buf), flash.ErrOutOfBounds)
	assert.ErrorIs(t, region.Read(2, 0, buf), flash.ErrOutOfBounds)
	assert.ErrorIs(t, region.Read(0, 1020, buf), flash.ErrOutOfBounds)
	assert.ErrorIs(t, region.Write(0, 1020, buf), flash.ErrOutOfBounds)
	assert.ErrorIs(t, region.Erase(2), flash.ErrOutOfBounds)
}

func TestUnalignedErase(t *testing.T) {
	device := newDevice(t, 4096, 1024)

	assert.Error(t, device.EraseRange(100, 1124))
}

func TestRegionDo(t *testing.T) {
	device := newDevice(t, 4096, 1024)

	region, err := flash.NewRegion(flash.RegionOptions{
		Logger: zap.NewNop(),
		Device: device,
		Config: flash.RegionConfig{Start: 0, End: 4096},
	})

	require.NoError(t, err)

	result := region.Do(flash.IORequest{Op: flash.OpWrite, Page: 2, Offset: 8, Data: []byte("abc")})
	require.NoError(t, result.Err)

	result = region.Do(flash.IORequest{Op: flash.OpRead, Page: 2, Offset: 8, Length: 3})
	require.NoError(t, result.Err)
	assert.Equal(t, []byte("abc"), result.Data)

	result = region.Do(flash.IORequest{Op: flash.OpErase, Page: 2})
	require.NoError(t, result.Err)

	result = region.Do(flash.IORequest{Op: flash.OpRead, Page: 2, Offset: 8, Length: 3})
	require.NoError(t, result.Err)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 3), result.Data)
}

// TestMmapDevicePersistence reopens a flash image file and expects the
// programmed contents to survive, like flash across a power cycle.
func TestMmapDevicePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")

	device, err := flash.OpenMmapDevice(path, 4096, 1024)

	require.NoError(t, err)

	// A fresh image starts erased
	buf := make([]byte, 4)

	require.NoError(t, device.ReadAt(0, buf))
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 4), buf)

	require.NoError(t, device.ProgramAt(100, []byte("keep")))
	require.NoError(t, device.Close())

	reopened, err := flash.OpenMmapDevice(path, 4096, 1024)

	require.NoError(t, err)

	defer reopened.Close()

	require.NoError(t, reopened.ReadAt(100, buf))
	assert.Equal(t, []byte("keep"), buf)
}

func TestMmapDeviceSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")

	device, err := flash.OpenMmapDevice(path, 4096, 1024)

	require.NoError(t, err)
	require.NoError(t, device.Close())

	_, err = flash.OpenMmapDevice(path, 8192, 1024)

	assert.Error(t, err)
}
