package store

import (
	"github.com/dchest/siphash"
)

// ServiceID is the numeric identity of a storage service. IDs are
// assigned once and never reordered or reused across firmware
// revisions: a later service reusing an earlier ID would misread the
// old owner's stored bytes as its own.
type ServiceID uint8

// RecordKind distinguishes the two records a service stores.
type RecordKind uint8

const (
	// KindData is the serialized current value of the service's type.
	KindData RecordKind = iota
	// KindMetadata is the schema-version fingerprint for the service's
	// type, used for staleness detection only.
	KindMetadata
)

// SipHash-2-4 seed for mapping logical keys into the engine's native
// key space. The seed and the key layout must never change: records
// are only reachable through this mapping, so changing either makes
// every previously stored record permanently unreachable.
const (
	hashSeed0 uint64 = 0x6e7673746f726530
	hashSeed1 uint64 = 0x6e7673746f726531
)

// EngineKey maps a logical key to the engine's native 64-bit key
// space. Collisions are neither detected nor resolved; the key space
// in practice is far too small for that to matter.
func EngineKey(id ServiceID, kind RecordKind) uint64 {
	return siphash.Hash(hashSeed0, hashSeed1, []byte{byte(id), byte(kind)})
}
