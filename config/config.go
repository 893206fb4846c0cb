// Package config loads runtime configuration for host-side deployments
// of the storage subsystem: flash image geometry, engine selection and
// log verbosity. On firmware these choices are fixed at build time;
// the host tooling reads them from a file with environment overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Flash describes the emulated flash device and the sub-range of it
// reserved for configuration storage.
type Flash struct {
	// Device selects the device implementation: "memory" or "mmap".
	Device string `mapstructure:"device"`
	// Image is the flash image file path, for the mmap device.
	Image string `mapstructure:"image"`
	// Size is the device capacity in bytes.
	Size int `mapstructure:"size"`
	// EraseUnit is the erase-unit size in bytes. Power of two.
	EraseUnit int `mapstructure:"erase_unit"`
	// RegionStart and RegionEnd bound the storage region [start, end).
	// Both must be erase-unit aligned.
	RegionStart int64 `mapstructure:"region_start"`
	RegionEnd   int64 `mapstructure:"region_end"`
}

// Engine selects the storage engine driver.
type Engine struct {
	// Driver is one of "logkv", "logkv-async" or "boltkv".
	Driver string `mapstructure:"driver"`
	// Path is the database file path, for the boltkv driver.
	Path string `mapstructure:"path"`
}

// Config is the root runtime configuration.
type Config struct {
	Flash  Flash  `mapstructure:"flash"`
	Engine Engine `mapstructure:"engine"`
	// LogLevel is one of "debug", "info", "warn" or "error".
	LogLevel string `mapstructure:"log_level"`
	// QueueCapacity bounds each service's request queue.
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// Load reads configuration from the file at path, if any, applying
// defaults first and NVSTORE_-prefixed environment overrides last. An
// empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("flash.device", "memory")
	v.SetDefault("flash.image", "nvstore.img")
	v.SetDefault("flash.size", 65536)
	v.SetDefault("flash.erase_unit", 4096)
	v.SetDefault("flash.region_start", 0)
	v.SetDefault("flash.region_end", 65536)
	v.SetDefault("engine.driver", "logkv")
	v.SetDefault("engine.path", "nvstore.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("queue_capacity", 8)

	v.SetEnvPrefix("NVSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("could not read config file %s: %s", path, err.Error())
		}
	}

	var config Config

	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("could not unmarshal config: %s", err.Error())
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("could not validate config: %s", err.Error())
	}

	return config, nil
}

// Validate checks enumerations and geometry that do not need a live
// device. Region alignment against the device is checked again by
// flash.RegionConfig.Validate at setup.
func (config Config) Validate() error {
	switch config.Flash.Device {
	case "memory", "mmap":
	default:
		return fmt.Errorf("unknown flash device %q", config.Flash.Device)
	}

	switch config.Engine.Driver {
	case "logkv", "logkv-async", "boltkv":
	default:
		return fmt.Errorf("unknown engine driver %q", config.Engine.Driver)
	}

	if config.Engine.Driver == "boltkv" && config.Engine.Path == "" {
		return fmt.Errorf("engine path is required for the boltkv driver")
	}

	if config.Flash.EraseUnit <= 0 || config.Flash.EraseUnit&(config.Flash.EraseUnit-1) != 0 {
		return fmt.Errorf("erase unit %d must be a power of two", config.Flash.EraseUnit)
	}

	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", config.LogLevel)
	}

	if config.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity %d must be positive", config.QueueCapacity)
	}

	return nil
}
