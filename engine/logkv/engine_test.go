package logkv_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/finchkb/nvstore/engine"
	"github.com/finchkb/nvstore/engine/logkv"
	"github.com/finchkb/nvstore/flash"
)

const (
	testPageSize  = 512
	testPageCount = 8
)

func newTestRegion(t *testing.T) *flash.Region {
	t.Helper()

	device, err := flash.NewMemoryDevice(testPageCount*testPageSize, testPageSize)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	region, err := flash.NewRegion(flash.RegionOptions{
		Logger: zap.NewNop(),
		Device: device,
		Config: flash.RegionConfig{Start: 0, End: testPageCount * testPageSize},
	})

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	return region
}

// drivers runs each test against both engines over the same format.
var drivers = map[string]func(*flash.Region) engine.Engine{
	"sync": func(region *flash.Region) engine.Engine {
		return logkv.New(logkv.Options{Logger: zap.NewNop(), Region: region})
	},
	"async": func(region *flash.Region) engine.Engine {
		return logkv.NewAsync(logkv.Options{Logger: zap.NewNop(), Region: region})
	},
}

func newFormattedEngine(t *testing.T, newEngine func(*flash.Region) engine.Engine) (engine.Engine, *flash.Region) {
	t.Helper()

	region := newTestRegion(t)
	eng := newEngine(region)

	if err := eng.Format(context.Background()); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if err := eng.Mount(context.Background()); err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	return eng, region
}

func TestEngineRoundTrip(t *testing.T) {
	for name, newEngine := range drivers {
		t.Run(name, func(t *testing.T) {
			eng, _ := newFormattedEngine(t, newEngine)
			ctx := context.Background()

			if err := eng.Put(ctx, 100, []byte("first")); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if err := eng.Put(ctx, 200, []byte("other")); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			value, err := eng.Get(ctx, 100)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if diff := cmp.Diff([]byte("first"), value); diff != "" {
				t.Fatalf("value differs: %s", diff)
			}

			// Overwrite replaces the prior value
			if err := eng.Put(ctx, 100, []byte("second")); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			value, err = eng.Get(ctx, 100)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if diff := cmp.Diff([]byte("second"), value); diff != "" {
				t.Fatalf("value differs: %s", diff)
			}

			// The other key is untouched
			value, err = eng.Get(ctx, 200)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if diff := cmp.Diff([]byte("other"), value); diff != "" {
				t.Fatalf("value differs: %s", diff)
			}
		})
	}
}

func TestEngineGetNotFound(t *testing.T) {
	for name, newEngine := range drivers {
		t.Run(name, func(t *testing.T) {
			eng, _ := newFormattedEngine(t, newEngine)

			if _, err := eng.Get(context.Background(), 42); !errors.Is(err, engine.ErrNotFound) {
				t.Fatalf("expected err to be ErrNotFound, got %#v", err)
			}
		})
	}
}

func TestEngineDelete(t *testing.T) {
	for name, newEngine := range drivers {
		t.Run(name, func(t *testing.T) {
			eng, _ := newFormattedEngine(t, newEngine)
			ctx := context.Background()

			if err := eng.Put(ctx, 7, []byte("value")); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if err := eng.Delete(ctx, 7); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if _, err := eng.Get(ctx, 7); !errors.Is(err, engine.ErrNotFound) {
				t.Fatalf("expected err to be ErrNotFound, got %#v", err)
			}

			if err := eng.Delete(ctx, 7); !errors.Is(err, engine.ErrNotFound) {
				t.Fatalf("expected err to be ErrNotFound, got %#v", err)
			}
		})
	}
}

func TestEngineMountUnformatted(t *testing.T) {
	for name, newEngine := range drivers {
		t.Run(name, func(t *testing.T) {
			region := newTestRegion(t)
			eng := newEngine(region)

			if err := eng.Mount(context.Background()); !errors.Is(err, engine.ErrCorrupted) {
				t.Fatalf("expected err to be ErrCorrupted, got %#v", err)
			}

			if err := eng.Format(context.Background()); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if err := eng.Mount(context.Background()); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}
		})
	}
}

func TestEngineMountGarbage(t *testing.T) {
	for name, newEngine := range drivers {
		t.Run(name, func(t *testing.T) {
			region := newTestRegion(t)

			// An entry with a state byte that is neither free, live nor
			// invalidated does not parse.
			if err := region.Write(0, 0, bytes.Repeat([]byte{0x13}, 32)); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			eng := newEngine(region)

			if err := eng.Mount(context.Background()); !errors.Is(err, engine.ErrCorrupted) {
				t.Fatalf("expected err to be ErrCorrupted, got %#v", err)
			}
		})
	}
}

func TestEnginePutOversize(t *testing.T) {
	for name, newEngine := range drivers {
		t.Run(name, func(t *testing.T) {
			eng, _ := newFormattedEngine(t, newEngine)

			// An entry must fit in one page
			oversize := make([]byte, testPageSize)

			if err := eng.Put(context.Background(), 9, oversize); !errors.Is(err, engine.ErrNoSpace) {
				t.Fatalf("expected err to be ErrNoSpace, got %#v", err)
			}
		})
	}
}

// TestEngineReclaim repeatedly rewrites one key far beyond the raw
// region capacity. Reclamation must keep freeing the space held by
// invalidated entries or the region exhausts after a few dozen writes.
func TestEngineReclaim(t *testing.T) {
	for name, newEngine := range drivers {
		t.Run(name, func(t *testing.T) {
			eng, _ := newFormattedEngine(t, newEngine)
			ctx := context.Background()

			var value []byte

			for i := 0; i < 1000; i++ {
				value = []byte(fmt.Sprintf("value-%04d-%s", i, bytes.Repeat([]byte{'x'}, 50)))

				if err := eng.Put(ctx, 55, value); err != nil {
					t.Fatalf("expected err to be nil on write %d, got %#v", i, err)
				}
			}

			stored, err := eng.Get(ctx, 55)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if diff := cmp.Diff(value, stored); diff != "" {
				t.Fatalf("value differs: %s", diff)
			}
		})
	}
}

// TestEnginePersistence remounts a fresh engine instance over the same
// region, the storage equivalent of a power cycle.
func TestEnginePersistence(t *testing.T) {
	for name, newEngine := range drivers {
		t.Run(name, func(t *testing.T) {
			eng, region := newFormattedEngine(t, newEngine)
			ctx := context.Background()

			if err := eng.Put(ctx, 3, []byte("survives")); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			remounted := newEngine(region)

			if err := remounted.Mount(ctx); err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			value, err := remounted.Get(ctx, 3)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			if diff := cmp.Diff([]byte("survives"), value); diff != "" {
				t.Fatalf("value differs: %s", diff)
			}
		})
	}
}
