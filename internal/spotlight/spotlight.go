/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package spotlight decodes macOS Spotlight store.db page streams into
// property records.
package spotlight

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/compress/lz4block"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/model"
)

// Attribute kinds from the sidecar *.header metadata file.
type AttrKind int

const (
	AttrInt16 AttrKind = iota
	AttrInt32
	AttrInt64
	AttrBool
	AttrByte
	AttrFloat32
	AttrFloat64
	AttrDate
	AttrGUID
	AttrString
	AttrBinary
	AttrList
	AttrMultiValue
)

// PropertyMeta is one entry of the sidecar metadata: the property index's
// name and value kind.
type PropertyMeta struct {
	Name string
	Kind AttrKind
}

// Header is the parsed sidecar metadata file, keyed by property index.
type Header map[uint64]PropertyMeta

const pageHeaderSize = 20

// lz4CompressedMagic / lz4UncompressedMagic are the two 4-byte block-kind
// tags interleaved in a store.db page payload: "bv41" marks an
// LZ4-compressed chunk, "bv4-" an already-decompressed one.
const (
	lz4CompressedMagic   uint32 = 0x31347662 // "bv41"
	lz4UncompressedMagic uint32 = 0x2d347662 // "bv4-"
)

// DecompressPage reads one store.db page's header and decompresses its
// body into the raw record stream. It stops once uncompressedSize-20
// bytes have been produced, matching the header's reported size.
func DecompressPage(page []byte) ([]byte, error) {
	if len(page) < pageHeaderSize {
		return nil, errs.ErrParseShort
	}
	usedSize := binary.LittleEndian.Uint32(page[8:12])
	uncompressedSize := binary.LittleEndian.Uint32(page[16:20])
	if int(usedSize) > len(page) {
		return nil, errs.ErrParseCorrupt
	}
	body := page[pageHeaderSize:usedSize]

	target := int(uncompressedSize) - pageHeaderSize
	if target < 0 {
		return nil, errs.ErrParseCorrupt
	}
	out := make([]byte, 0, target)

	off := 0
	for len(out) < target {
		if off+4 > len(body) {
			break
		}
		magic := binary.LittleEndian.Uint32(body[off : off+4])
		off += 4
		switch magic {
		case lz4CompressedMagic:
			if off+8 > len(body) {
				return nil, errs.ErrParseShort
			}
			uncompLen := binary.LittleEndian.Uint32(body[off : off+4])
			compLen := binary.LittleEndian.Uint32(body[off+4 : off+8])
			off += 8
			if off+int(compLen) > len(body) {
				return nil, errs.ErrParseShort
			}
			chunk, err := lz4block.DecompressBlock(body[off:off+int(compLen)], int(uncompLen))
			if err != nil {
				return nil, errs.ErrDecompressionFailure
			}
			out = append(out, chunk...)
			off += int(compLen)

		case lz4UncompressedMagic:
			if off+4 > len(body) {
				return nil, errs.ErrParseShort
			}
			rawLen := binary.LittleEndian.Uint32(body[off : off+4])
			off += 4
			if off+int(rawLen) > len(body) {
				return nil, errs.ErrParseShort
			}
			out = append(out, body[off:off+int(rawLen)]...)
			off += int(rawLen)

		default:
			return out, errs.ErrParseCorrupt
		}
	}
	if len(out) > target {
		out = out[:target]
	}
	return out, nil
}

// ReadVarint decodes one Spotlight variable-length integer: the first
// byte's leading ones give the count of big-endian extension bytes. It
// returns the value and the number of bytes consumed.
func ReadVarint(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, errs.ErrParseShort
	}
	first := b[0]
	var extra int
	var value uint64
	switch {
	case first&0x80 == 0x00:
		return uint64(first), 1, nil
	case first&0xC0 == 0x80:
		extra = 1
		value = uint64(first & 0x3F)
	case first&0xE0 == 0xC0:
		extra = 2
		value = uint64(first & 0x1F)
	case first&0xF0 == 0xE0:
		extra = 3
		value = uint64(first & 0x0F)
	case first&0xF8 == 0xF0:
		extra = 4
		value = uint64(first & 0x07)
	case first&0xFC == 0xF8:
		extra = 5
		value = uint64(first & 0x03)
	case first&0xFE == 0xFC:
		extra = 6
		value = uint64(first & 0x01)
	case first == 0xFE:
		extra = 7
		value = 0
	case first == 0xFF:
		extra = 8
		value = 0
	default:
		return 0, 0, errs.ErrParseCorrupt
	}
	if 1+extra > len(b) {
		return 0, 0, errs.ErrParseShort
	}
	for i := 0; i < extra; i++ {
		value = value<<8 | uint64(b[1+i])
	}
	return value, 1 + extra, nil
}

// ParseRecords walks a decompressed property-page payload and header
// metadata into SpotlightEntry records Corrupt
// individual records are skipped (fail-soft); the scan stops cleanly at
// the end of the buffer.
func ParseRecords(data []byte, header Header, sourceDir string) []model.SpotlightEntry {
	var out []model.SpotlightEntry
	off := 0
	for off+4 <= len(data) {
		recLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
		start := off + 4
		if recLen <= 0 || start+recLen > len(data) {
			break
		}
		rec := data[start : start+recLen]
		entry, ok := parseRecord(rec, header, sourceDir)
		if ok {
			out = append(out, entry)
		}
		off = start + recLen
	}
	return out
}

func parseRecord(rec []byte, header Header, sourceDir string) (model.SpotlightEntry, bool) {
	off := 0
	inode, n, err := ReadVarint(rec[off:])
	if err != nil {
		return model.SpotlightEntry{}, false
	}
	off += n
	if off >= len(rec) {
		return model.SpotlightEntry{}, false
	}
	flags := rec[off]
	off += 1

	storeID, n, err := ReadVarint(rec[off:])
	if err != nil {
		return model.SpotlightEntry{}, false
	}
	off += n

	parentInode, n, err := ReadVarint(rec[off:])
	if err != nil {
		return model.SpotlightEntry{}, false
	}
	off += n

	lastUpdated, n, err := ReadVarint(rec[off:])
	if err != nil {
		return model.SpotlightEntry{}, false
	}
	off += n

	values := make(map[string]interface{})
	var lastIndex uint64
	for off < len(rec) {
		delta, n, err := ReadVarint(rec[off:])
		if err != nil {
			break
		}
		off += n
		propIndex := lastIndex + delta
		lastIndex = propIndex

		meta, known := header[propIndex]
		val, consumed, ok := decodeValue(rec[off:], meta, known)
		if !ok {
			break
		}
		off += consumed
		name := meta.Name
		if name == "" {
			name = "prop_" + itoa(propIndex)
		}
		values[name] = val
	}

	return model.SpotlightEntry{
		Inode:       inode,
		ParentInode: parentInode,
		Flags:       flags,
		StoreID:     storeID,
		LastUpdated: byteprim.UnixToISO8601(int64(lastUpdated), 0),
		Values:      values,
		SourceDir:   sourceDir,
	}, true
}

func decodeValue(b []byte, meta PropertyMeta, known bool) (interface{}, int, bool) {
	kind := meta.Kind
	if !known {
		kind = AttrBinary
	}
	switch kind {
	case AttrInt16:
		if len(b) < 2 {
			return nil, 0, false
		}
		return int16(binary.LittleEndian.Uint16(b[:2])), 2, true
	case AttrInt32:
		if len(b) < 4 {
			return nil, 0, false
		}
		return int32(binary.LittleEndian.Uint32(b[:4])), 4, true
	case AttrInt64:
		if len(b) < 8 {
			return nil, 0, false
		}
		return int64(binary.LittleEndian.Uint64(b[:8])), 8, true
	case AttrBool:
		if len(b) < 1 {
			return nil, 0, false
		}
		return b[0] != 0, 1, true
	case AttrByte:
		if len(b) < 1 {
			return nil, 0, false
		}
		return b[0], 1, true
	case AttrFloat32:
		if len(b) < 4 {
			return nil, 0, false
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b[:4])), 4, true
	case AttrFloat64:
		if len(b) < 8 {
			return nil, 0, false
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b[:8])), 8, true
	case AttrDate:
		if len(b) < 8 {
			return nil, 0, false
		}
		sec := math.Float64frombits(binary.LittleEndian.Uint64(b[:8]))
		return byteprim.CocoaToISO8601(sec), 8, true
	case AttrGUID:
		if len(b) < 16 {
			return nil, 0, false
		}
		g, _ := byteprim.GUIDLE(b[:16])
		return g, 16, true
	case AttrString:
		n, consumed, err := ReadVarint(b)
		if err != nil {
			return nil, 0, false
		}
		total := consumed + int(n)
		if total > len(b) {
			return nil, 0, false
		}
		s, _ := byteprim.ExtractUTF8(append(b[consumed:total:total], 0))
		return s, total, true
	case AttrBinary, AttrList, AttrMultiValue:
		n, consumed, err := ReadVarint(b)
		if err != nil {
			return nil, 0, false
		}
		total := consumed + int(n)
		if total > len(b) {
			return nil, 0, false
		}
		return append([]byte(nil), b[consumed:total]...), total, true
	default:
		return nil, 0, false
	}
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
