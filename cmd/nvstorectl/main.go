// nvstorectl mounts a flash image or database file and reads, writes,
// deletes or dumps the configuration records stored in it. It is the
// host-side provisioning and inspection tool for storage images.
//
//	nvstorectl [-c config.yaml] get <record>
//	nvstorectl [-c config.yaml] set <record> <json>
//	nvstorectl [-c config.yaml] delete <record>
//	nvstorectl [-c config.yaml] dump
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/finchkb/nvstore/config"
	"github.com/finchkb/nvstore/engine"
	"github.com/finchkb/nvstore/engine/boltkv"
	"github.com/finchkb/nvstore/engine/logkv"
	"github.com/finchkb/nvstore/flash"
	"github.com/finchkb/nvstore/records"
	"github.com/finchkb/nvstore/store"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "configuration file path")
	pflag.Parse()

	args := pflag.Args()

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: nvstorectl [-c config.yaml] get|set|delete|dump [record] [json]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)

	if err != nil {
		fmt.Fprintf(os.Stderr, "nvstorectl: %s\n", err.Error())
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.LogLevel)

	if err != nil {
		fmt.Fprintf(os.Stderr, "nvstorectl: %s\n", err.Error())
		os.Exit(1)
	}

	defer logger.Sync()

	if err := run(cfg, logger, args); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)

	if err != nil {
		return nil, fmt.Errorf("could not parse log level %q: %s", level, err.Error())
	}

	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(parsed)

	return loggerConfig.Build()
}

// buildEngine assembles the device, region and engine driver selected
// by the configuration. The returned cleanup releases the device.
func buildEngine(cfg config.Config, logger *zap.Logger) (engine.Engine, func(), error) {
	if cfg.Engine.Driver == "boltkv" {
		eng := boltkv.New(boltkv.Options{Logger: logger, Path: cfg.Engine.Path})

		return eng, func() { eng.Close() }, nil
	}

	var device flash.Device
	cleanup := func() {}

	switch cfg.Flash.Device {
	case "memory":
		memory, err := flash.NewMemoryDevice(cfg.Flash.Size, cfg.Flash.EraseUnit)

		if err != nil {
			return nil, nil, fmt.Errorf("could not create memory device: %s", err.Error())
		}

		device = memory
	case "mmap":
		mapped, err := flash.OpenMmapDevice(cfg.Flash.Image, cfg.Flash.Size, cfg.Flash.EraseUnit)

		if err != nil {
			return nil, nil, fmt.Errorf("could not open flash image: %s", err.Error())
		}

		device = mapped
		cleanup = func() { mapped.Close() }
	}

	region, err := flash.NewRegion(flash.RegionOptions{
		Logger: logger,
		Device: device,
		Config: flash.RegionConfig{Start: cfg.Flash.RegionStart, End: cfg.Flash.RegionEnd},
	})

	if err != nil {
		cleanup()

		return nil, nil, fmt.Errorf("could not create region: %s", err.Error())
	}

	if cfg.Engine.Driver == "logkv-async" {
		return logkv.NewAsync(logkv.Options{Logger: logger, Region: region}), cleanup, nil
	}

	return logkv.New(logkv.Options{Logger: logger, Region: region}), cleanup, nil
}

func run(cfg config.Config, logger *zap.Logger, args []string) error {
	eng, cleanup, err := buildEngine(cfg, logger)

	if err != nil {
		return err
	}

	defer cleanup()

	registry := store.NewRegistry()
	services, err := records.RegisterAll(registry, logger, cfg.QueueCapacity)

	if err != nil {
		return err
	}

	task := store.NewTask(store.TaskOptions{Logger: logger, Engine: eng, Registry: registry})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskDone := make(chan error, 1)

	go func() {
		taskDone <- task.Run(ctx)

		// A task that exits on its own, like a failed mount at startup,
		// must unblock any request still awaiting a response or the
		// process hangs instead of halting.
		cancel()
	}()

	err = execute(ctx, services, args)

	cancel()

	if taskErr := <-taskDone; taskErr != nil && !errors.Is(taskErr, context.Canceled) {
		return taskErr
	}

	return err
}

func execute(ctx context.Context, services *records.Services, args []string) error {
	command := args[0]

	if command == "dump" {
		if err := show[records.BacklightConfig](ctx, store.NewClient(services.Backlight), "backlight"); err != nil {
			return err
		}

		return show[records.UnderglowConfig](ctx, store.NewClient(services.Underglow), "underglow")
	}

	if len(args) < 2 {
		return fmt.Errorf("%s requires a record name", command)
	}

	switch args[1] {
	case "backlight":
		return executeRecord[records.BacklightConfig](ctx, store.NewClient(services.Backlight), command, args[2:])
	case "underglow":
		return executeRecord[records.UnderglowConfig](ctx, store.NewClient(services.Underglow), command, args[2:])
	}

	return fmt.Errorf("unknown record %q", args[1])
}

func executeRecord[T any](ctx context.Context, client *store.Client[T], command string, args []string) error {
	switch command {
	case "get":
		value, err := client.Read(ctx)

		if err != nil {
			return err
		}

		return print(value)
	case "set":
		if len(args) != 1 {
			return fmt.Errorf("set requires a JSON value")
		}

		var value T

		if err := json.Unmarshal([]byte(args[0]), &value); err != nil {
			return fmt.Errorf("could not parse value: %s", err.Error())
		}

		return client.Write(ctx, value)
	case "delete":
		return client.Delete(ctx)
	}

	return fmt.Errorf("unknown command %q", command)
}

func show[T any](ctx context.Context, client *store.Client[T], name string) error {
	value, err := client.Read(ctx)

	if errors.Is(err, store.ErrNotFound) {
		fmt.Printf("%s: not stored\n", name)

		return nil
	}

	if err != nil {
		return err
	}

	fmt.Printf("%s: ", name)

	return print(value)
}

func print(value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")

	if err != nil {
		return err
	}

	fmt.Println(string(encoded))

	return nil
}
