package logkv

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// On-flash layout. Each page holds a packed sequence of entries:
//
//	state   1 byte   0xFF free, 0xA5 live, 0x00 invalidated
//	key     8 bytes  big-endian engine key
//	length  2 bytes  big-endian value length
//	crc     4 bytes  big-endian CRC-32 (IEEE) over key, length, value
//	value   length bytes
//
// The state byte exploits NOR program semantics: a live entry is
// invalidated by programming its state byte to zero without erasing
// the page. A state byte of 0xFF marks the start of free space.
const (
	headerSize = 15

	stateFree = 0xFF
	stateLive = 0xA5
	stateDead = 0x00
)

// markerKey identifies the format marker entry written by Format. Its
// presence is how Mount recognizes a formatted region. The constant
// must never change or existing images become unmountable.
const markerKey uint64 = 0x6e76_6c6f_676b_7631

// markerValue is the format marker payload. Bumping it invalidates
// every existing image, so it only changes with the entry layout.
var markerValue = []byte("logkv1")

// maxValueSize is the largest value length the 2-byte length field can
// carry. The real bound is tighter: an entry must fit in one page.
const maxValueSize = 0xFFFF

// encodeEntry returns the full on-flash encoding of a live entry.
func encodeEntry(key uint64, value []byte) []byte {
	entry := make([]byte, headerSize+len(value))

	entry[0] = stateLive
	binary.BigEndian.PutUint64(entry[1:9], key)
	binary.BigEndian.PutUint16(entry[9:11], uint16(len(value)))
	binary.BigEndian.PutUint32(entry[11:15], entryChecksum(key, value))
	copy(entry[headerSize:], value)

	return entry
}

func entryChecksum(key uint64, value []byte) uint32 {
	var header [10]byte

	binary.BigEndian.PutUint64(header[0:8], key)
	binary.BigEndian.PutUint16(header[8:10], uint16(len(value)))

	crc := crc32.NewIEEE()
	crc.Write(header[:])
	crc.Write(value)

	return crc.Sum32()
}

// entrySize returns the on-flash footprint of a value.
func entrySize(value []byte) int {
	return headerSize + len(value)
}

// parsePage scans one page image and describes the entries it holds.
// A page that does not parse is marked corrupt; its entries up to the
// corruption point are still reported so reclamation can count them.
func parsePage(raw []byte) pageInfo {
	info := pageInfo{free: len(raw)}

	off := 0

	for off+headerSize <= len(raw) {
		state := raw[off]

		if state == stateFree {
			info.free = off

			return info
		}

		if state != stateLive && state != stateDead {
			info.corrupt = true

			return info
		}

		key := binary.BigEndian.Uint64(raw[off+1 : off+9])
		length := int(binary.BigEndian.Uint16(raw[off+9 : off+11]))

		if off+headerSize+length > len(raw) {
			info.corrupt = true

			return info
		}

		info.entries = append(info.entries, entryInfo{
			off:    off,
			key:    key,
			length: length,
			live:   state == stateLive,
		})

		off += headerSize + length
	}

	// Too little room left for another header. Anything but erased
	// bytes here is a torn write.
	for _, b := range raw[off:] {
		if b != stateFree {
			info.corrupt = true

			return info
		}
	}

	info.free = off

	return info
}

// verifyEntry checks the stored checksum of an entry against its
// contents. raw is the page image containing the entry.
func verifyEntry(raw []byte, entry entryInfo) ([]byte, error) {
	stored := binary.BigEndian.Uint32(raw[entry.off+11 : entry.off+15])
	value := raw[entry.off+headerSize : entry.off+headerSize+entry.length]

	if stored != entryChecksum(entry.key, value) {
		return nil, fmt.Errorf("entry checksum mismatch for key %#x", entry.key)
	}

	return value, nil
}

type entryInfo struct {
	off    int
	key    uint64
	length int
	live   bool
}

type pageInfo struct {
	entries []entryInfo
	// free is the offset of the first free byte, or the page size if
	// the page has no usable space left
	free int
	// corrupt is set when the page contents do not parse
	corrupt bool
}

// findLive returns the location of the live entry for key, scanning
// pages in order. Exactly one live entry per key is maintained by the
// engines; if corruption produced more than one the first wins.
func findLive(pages []pageInfo, key uint64) (page int, entry entryInfo, ok bool) {
	for p, info := range pages {
		for _, e := range info.entries {
			if e.live && e.key == key {
				return p, e, true
			}
		}
	}

	return 0, entryInfo{}, false
}

// reclaimable lists pages that hold at least one entry and no live
// entries. Erasing them frees the space held by invalidated records.
func reclaimable(pages []pageInfo) []int {
	var candidates []int

	for p, info := range pages {
		if len(info.entries) == 0 && !info.corrupt {
			continue
		}

		live := false

		for _, e := range info.entries {
			if e.live {
				live = true

				break
			}
		}

		if !live {
			candidates = append(candidates, p)
		}
	}

	return candidates
}

// appendTarget picks the first page with room for size more bytes.
func appendTarget(pages []pageInfo, size int, pageSize int) (int, bool) {
	for p, info := range pages {
		if info.corrupt {
			continue
		}

		if pageSize-info.free >= size {
			return p, true
		}
	}

	return 0, false
}
