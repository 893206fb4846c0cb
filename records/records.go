// Package records declares the compiled-in table of configuration
// records the firmware persists, and the registration helper that
// builds the service registry the storage task polls.
//
// Service IDs are append-only: new records take the next free ID, and
// an ID is never reordered or reused even when its record is retired,
// or stored bytes belonging to the old owner would be misread as the
// new owner's. Schema versions are bumped by hand whenever a record's
// encoded shape changes; a bump resets that record's stored data on
// the next boot.
package records

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/finchkb/nvstore/store"
)

// Service IDs. Append-only, never reuse.
const (
	BacklightConfigID store.ServiceID = 0
	UnderglowConfigID store.ServiceID = 1
)

// BacklightConfig is the persisted state of the per-key backlight.
// Integer CBOR map keys keep the encoding small; like the IDs above
// they are append-only.
type BacklightConfig struct {
	Enabled    bool  `cbor:"1,keyasint"`
	Brightness uint8 `cbor:"2,keyasint"`
	Effect     uint8 `cbor:"3,keyasint"`
	Speed      uint8 `cbor:"4,keyasint"`
}

// BacklightConfigVersion is the schema version of BacklightConfig.
const BacklightConfigVersion uint32 = 1

// BacklightConfigMaxSize bounds the encoded size of a BacklightConfig.
const BacklightConfigMaxSize = 32

// UnderglowConfig is the persisted state of the case underglow strip.
type UnderglowConfig struct {
	Enabled    bool  `cbor:"1,keyasint"`
	Brightness uint8 `cbor:"2,keyasint"`
	Effect     uint8 `cbor:"3,keyasint"`
	Speed      uint8 `cbor:"4,keyasint"`
	Hue        uint8 `cbor:"5,keyasint"`
	Saturation uint8 `cbor:"6,keyasint"`
}

// UnderglowConfigVersion is the schema version of UnderglowConfig.
const UnderglowConfigVersion uint32 = 1

// UnderglowConfigMaxSize bounds the encoded size of an UnderglowConfig.
const UnderglowConfigMaxSize = 48

// Services holds one service handle per compiled-in record type.
// Application code creates clients from these with store.NewClient.
type Services struct {
	Backlight *store.Service[BacklightConfig]
	Underglow *store.Service[UnderglowConfig]
}

// RegisterAll registers every compiled-in record with the registry.
// queueCapacity is the per-service request queue bound.
func RegisterAll(registry *store.Registry, logger *zap.Logger, queueCapacity int) (*Services, error) {
	backlight, err := store.Register[BacklightConfig](registry, store.ServiceOptions{
		Logger:        logger,
		Name:          "backlight-config",
		ID:            BacklightConfigID,
		Version:       BacklightConfigVersion,
		MaxSize:       BacklightConfigMaxSize,
		QueueCapacity: queueCapacity,
	})

	if err != nil {
		return nil, fmt.Errorf("could not register backlight config: %s", err.Error())
	}

	underglow, err := store.Register[UnderglowConfig](registry, store.ServiceOptions{
		Logger:        logger,
		Name:          "underglow-config",
		ID:            UnderglowConfigID,
		Version:       UnderglowConfigVersion,
		MaxSize:       UnderglowConfigMaxSize,
		QueueCapacity: queueCapacity,
	})

	if err != nil {
		return nil, fmt.Errorf("could not register underglow config: %s", err.Error())
	}

	return &Services{Backlight: backlight, Underglow: underglow}, nil
}
