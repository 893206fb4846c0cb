package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchkb/nvstore/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Flash.Device)
	assert.Equal(t, 65536, cfg.Flash.Size)
	assert.Equal(t, 4096, cfg.Flash.EraseUnit)
	assert.Equal(t, "logkv", cfg.Engine.Driver)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8, cfg.QueueCapacity)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvstore.yaml")

	contents := `
flash:
  device: mmap
  image: /var/lib/nvstore/flash.img
  size: 131072
  erase_unit: 4096
  region_start: 4096
  region_end: 69632
engine:
  driver: logkv-async
log_level: debug
queue_capacity: 16
`

	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, "mmap", cfg.Flash.Device)
	assert.Equal(t, "/var/lib/nvstore/flash.img", cfg.Flash.Image)
	assert.Equal(t, 131072, cfg.Flash.Size)
	assert.Equal(t, int64(4096), cfg.Flash.RegionStart)
	assert.Equal(t, int64(69632), cfg.Flash.RegionEnd)
	assert.Equal(t, "logkv-async", cfg.Engine.Driver)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 16, cfg.QueueCapacity)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NVSTORE_LOG_LEVEL", "debug")
	t.Setenv("NVSTORE_FLASH_DEVICE", "mmap")

	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "mmap", cfg.Flash.Device)
}

func TestValidate(t *testing.T) {
	base := func() config.Config {
		cfg, err := config.Load("")

		require.NoError(t, err)

		return cfg
	}

	t.Run("unknown device", func(t *testing.T) {
		cfg := base()
		cfg.Flash.Device = "eeprom"

		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := base()
		cfg.Engine.Driver = "tickv"

		assert.Error(t, cfg.Validate())
	})

	t.Run("boltkv requires a path", func(t *testing.T) {
		cfg := base()
		cfg.Engine.Driver = "boltkv"
		cfg.Engine.Path = ""

		assert.Error(t, cfg.Validate())
	})

	t.Run("erase unit must be a power of two", func(t *testing.T) {
		cfg := base()
		cfg.Flash.EraseUnit = 3000

		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown log level", func(t *testing.T) {
		cfg := base()
		cfg.LogLevel = "verbose"

		assert.Error(t, cfg.Validate())
	})

	t.Run("queue capacity must be positive", func(t *testing.T) {
		cfg := base()
		cfg.QueueCapacity = 0

		assert.Error(t, cfg.Validate())
	})
}
