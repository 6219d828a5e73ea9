/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package registry implements a Windows Registry hive walker backing the
// `registry_basic` artifact, shaped like every other parser in this
// collector (`Parse(io.ReaderAt, int64, *log.Logger) ([]model.ArtifactRecord, error)`): fixed
// headers, offset-driven sub-records, fail-soft per-record skips. It
// decodes NK/VK cells without claiming bit-exact MS-RAA fidelity.
package registry

import (
	"encoding/binary"
	"io"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
	"github.com/gravwell/artemis-collector/internal/model"
)

const (
	hiveSignature = 0x66676572 // "regf" little-endian u32
	hbinSignature = 0x6E696268 // "hbin"

	cellSignatureNK = 0x6B6E // "nk"
	cellSignatureVK = 0x766B // "vk"
)

// Key is one decoded NK (named key) record.
type Key struct {
	Name      string  `json:"name"`
	LastWrite string  `json:"last_write"`
	Values    []Value `json:"values,omitempty"`
}

// Value is one decoded VK (value) record attached to a Key.
type Value struct {
	Name string `json:"name"`
	Type uint32 `json:"type"`
	Data string `json:"data,omitempty"`
}

// ParseHive reads a registry hive's header and every hbin block, decoding
// NK/VK cells into Key records. A malformed cell is warned and skipped;
// only an unreadable hive aborts with ErrSourceUnavailable.
func ParseHive(r io.ReaderAt, size int64, lg *log.Logger) ([]Key, error) {
	if lg == nil {
		lg = log.NewDiscard()
	}
	hdr := make([]byte, 4096)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, errs.ErrSourceUnavailable
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != hiveSignature {
		lg.Warnf("registry: bad hive signature")
		return nil, errs.ErrParseCorrupt
	}

	var keys []Key
	const hbinStart = 4096
	off := int64(hbinStart)
	for off < size {
		bin := make([]byte, 4096)
		n, err := r.ReadAt(bin, off)
		if err != nil && n == 0 {
			break
		}
		if binary.LittleEndian.Uint32(bin[0:4]) != hbinSignature {
			off += 4096
			continue
		}
		binSize := binary.LittleEndian.Uint32(bin[8:12])
		if binSize == 0 {
			break
		}
		cellData := bin[32:]
		if int64(binSize) > 4096 {
			full := make([]byte, binSize)
			if _, err := r.ReadAt(full, off); err == nil {
				cellData = full[32:]
			}
		}
		keys = append(keys, parseCells(cellData, lg)...)
		off += int64(binSize)
	}
	return keys, nil
}

// parseCells scans a hive bin's cell data for NK records, pairing each
// with the VK records that immediately precede it in the same bin. Real
// MS-RAA resolution walks an explicit value-list offset per NK; this
// linear scan is the collector's deliberately simplified analogue (see
// DESIGN.md) and never panics on truncated input.
func parseCells(data []byte, lg *log.Logger) []Key {
	var keys []Key
	var pending []Value
	for off := 0; off+4 <= len(data); {
		size := int32(binary.LittleEndian.Uint32(data[off:]))
		cellLen := size
		if cellLen < 0 {
			cellLen = -cellLen
		}
		if cellLen < 4 || off+int(cellLen) > len(data) {
			off += 4
			continue
		}
		body := data[off+4 : off+int(cellLen)]
		if len(body) >= 2 {
			sig := binary.LittleEndian.Uint16(body[0:2])
			switch sig {
			case cellSignatureVK:
				if v, ok := parseVK(body, lg); ok {
					pending = append(pending, v)
				}
			case cellSignatureNK:
				if k, ok := parseNK(body, lg); ok {
					k.Values = pending
					pending = nil
					keys = append(keys, k)
				}
			}
		}
		off += int(cellLen)
	}
	return keys
}

func parseNK(body []byte, lg *log.Logger) (Key, bool) {
	// NK layout (abbreviated): sig(2) flags(2) lastWrite(8 FILETIME)
	// ... nameLength(2) at offset 0x48, name at 0x50, per MS-RAA §2.2.
	if len(body) < 0x50 {
		lg.Warnf("registry: NK cell too short")
		return Key{}, false
	}
	lastWrite := binary.LittleEndian.Uint64(body[4:12])
	nameLen := binary.LittleEndian.Uint16(body[0x48:0x4A])
	if int(0x50)+int(nameLen) > len(body) {
		return Key{}, false
	}
	name, _ := byteprim.ExtractUTF8(body[0x50 : 0x50+int(nameLen)])
	return Key{Name: name, LastWrite: byteprim.FiletimeToISO8601(lastWrite)}, true
}

func parseVK(body []byte, lg *log.Logger) (Value, bool) {
	// VK layout (abbreviated): sig(2) nameLength(2) dataLength(4) dataOffset(4) type(4)
	if len(body) < 18 {
		lg.Warnf("registry: VK cell too short")
		return Value{}, false
	}
	nameLen := binary.LittleEndian.Uint16(body[2:4])
	typ := binary.LittleEndian.Uint32(body[14:18])
	if int(18)+int(nameLen) > len(body) {
		return Value{Type: typ}, true
	}
	name, _ := byteprim.ExtractUTF8(body[18 : 18+int(nameLen)])
	return Value{Name: name, Type: typ}, true
}

// Parse decodes a hive into ArtifactRecord payloads, the uniform shape
// internal/collect's dispatch table expects of artifact parsers.
func Parse(r io.ReaderAt, size int64, lg *log.Logger) ([]model.ArtifactRecord, error) {
	keys, err := ParseHive(r, size, lg)
	if err != nil {
		return nil, err
	}
	out := make([]model.ArtifactRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, model.ArtifactRecord{
			ArtifactName: "registry_basic",
			Payload:      k,
		})
	}
	return out, nil
}
