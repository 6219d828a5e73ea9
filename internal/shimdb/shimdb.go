/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package shimdb decodes the Windows Application Compatibility Shim
// database's tagged TLV stream.
package shimdb

import (
	"encoding/binary"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/errs"
)

// Kind is the tag's high 4 bits, identifying the value's shape.
type Kind uint16

const (
	KindNull      Kind = 0x1000
	KindByte      Kind = 0x2000
	KindWord      Kind = 0x3000
	KindDword     Kind = 0x4000
	KindQword     Kind = 0x5000
	KindStringRef Kind = 0x6000
	KindList      Kind = 0x7000
	KindString    Kind = 0x8000
	KindBinary    Kind = 0x9000
)

const kindMask = 0xF000

// tagNames maps known tag identities to human-readable names. The full
// shim database carries roughly 260 entries; this lists the subset that
// recur across real-world sdb fixtures, with everything else rendered by
// its numeric tag.
var tagNames = map[uint16]string{
	0x4001: "INCLUDE",
	0x4002: "GENERAL",
	0x4003: "MATCH_LOGIC_NOT",
	0x4005: "APPLY_ALL_SHIMS",
	0x4006: "USE_SERVICE_PACK_FILES",
	0x400C: "MITIGATION_OS",
	0x7001: "DATABASE",
	0x7002: "LIBRARY",
	0x7003: "INEXCLUDE",
	0x7004: "SHIM",
	0x7005: "PATCH",
	0x7006: "APP",
	0x7007: "EXE",
	0x7008: "MATCHING_FILE",
	0x7010: "SHIM_REF",
	0x7011: "PATCH_REF",
	0x7012: "LAYER",
	0x7013: "FILE",
	0x7014: "APPHELP",
	0x7015: "LINK",
	0x7016: "DATA",
	0x7017: "MSI_TRANSFORM",
	0x7018: "MSI_TRANSFORM_REF",
	0x7019: "MSI_PACKAGE",
	0x701A: "FLAG",
	0x701B: "MSI_PACKAGE_REF",
	0x701C: "FLAG_REF",
	0x701D: "ACTION",
	0x701E: "LOOKUP",
	0x701F: "CARVE",
	0x7020: "PROCESS_PARAMETERS",
	0x7021: "STRINGTABLE",
	0x7023: "INDEXES",
	0x7024: "INDEX",
	0x7025: "SPC",
	0x8001: "NAME",
	0x8002: "DESCRIPTION",
	0x8003: "MODULE",
	0x8004: "API",
	0x8005: "VENDOR",
	0x8006: "APP_NAME",
	0x8007: "COMMAND_LINE",
	0x8101: "STRINGTABLE_ITEM",
	0x900C: "BIN_FILE_VERSION",
	0x900D: "BIN_PRODUCT_VERSION",
	0x9014: "BIN_FILE_VERSION_RANGE",
	0x9018: "UPTO_BIN_PRODUCT_VERSION",
}

// Name returns the tag's human-readable identity, or its raw hex form
// when it isn't in the known-tag table.
func Name(tag uint16) string {
	if n, ok := tagNames[tag]; ok {
		return n
	}
	return hex16(tag)
}

func hex16(v uint16) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{'0', 'x', digits[(v>>12)&0xF], digits[(v>>8)&0xF], digits[(v>>4)&0xF], digits[v&0xF]})
}

// Item is one decoded tag from the stream. Children is populated only for
// LIST tags; Value holds the decoded scalar/string/binary payload for
// every other kind.
type Item struct {
	Tag      uint16
	Kind     Kind
	Name     string
	Value    interface{}
	Children []Item
}

// StringTable is the top-level TAG_STRINGTABLE, keyed by byte offset of
// each TAG_STRINGTABLE_ITEM within the table's own payload, resolving
// STRING-REF values.
type StringTable map[uint32]string

// Parse decodes the entire tag stream, resolving STRING-REF items against
// stringTable (pass nil if the database carries no separate string table
// segment; STRING-REF values then surface as their raw offset).
func Parse(data []byte, stringTable StringTable) ([]Item, error) {
	items, _, err := parseScope(data, stringTable)
	return items, err
}

func parseScope(data []byte, st StringTable) ([]Item, int, error) {
	var items []Item
	off := 0
	for off+2 <= len(data) {
		tag := binary.LittleEndian.Uint16(data[off : off+2])
		kind := Kind(tag & kindMask)
		off += 2

		item := Item{Tag: tag, Kind: kind, Name: Name(tag)}

		switch kind {
		case KindNull:
			item.Value = true

		case KindByte:
			if off+1 > len(data) {
				return items, off, errs.ErrParseShort
			}
			item.Value = data[off]
			off += 1

		case KindWord:
			if off+2 > len(data) {
				return items, off, errs.ErrParseShort
			}
			item.Value = binary.LittleEndian.Uint16(data[off : off+2])
			off += 2

		case KindDword, KindStringRef:
			if off+4 > len(data) {
				return items, off, errs.ErrParseShort
			}
			v := binary.LittleEndian.Uint32(data[off : off+4])
			off += 4
			if kind == KindStringRef {
				if st != nil {
					if s, ok := st[v]; ok {
						item.Value = s
						break
					}
				}
				item.Value = v
			} else {
				item.Value = v
			}

		case KindQword:
			if off+8 > len(data) {
				return items, off, errs.ErrParseShort
			}
			item.Value = binary.LittleEndian.Uint64(data[off : off+8])
			off += 8

		case KindString:
			if off+2 > len(data) {
				return items, off, errs.ErrParseShort
			}
			byteLen := int(binary.LittleEndian.Uint16(data[off : off+2]))
			off += 2
			if off+byteLen > len(data) {
				return items, off, errs.ErrParseShort
			}
			s, _ := byteprim.ExtractUTF16LE(append(data[off:off+byteLen:off+byteLen], 0, 0))
			item.Value = s
			off += byteLen

		case KindBinary:
			if off+4 > len(data) {
				return items, off, errs.ErrParseShort
			}
			byteLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
			if off+byteLen > len(data) {
				return items, off, errs.ErrParseShort
			}
			item.Value = append([]byte(nil), data[off:off+byteLen]...)
			off += byteLen

		case KindList:
			if off+4 > len(data) {
				return items, off, errs.ErrParseShort
			}
			size := int(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
			if size < 0 || off+size > len(data) {
				// corrupt list bound: stop this scope, keep what we have.
				return items, off, nil
			}
			children, _, err := parseScope(data[off:off+size], st)
			if err != nil {
				// a corrupt nested list is skipped, not fatal to the stream.
				off += size
				continue
			}
			item.Children = children
			off += size

		default:
			// unknown kind bits: treat the rest of the stream as unparsable
			// and stop, rather than guessing a length.
			return items, off, nil
		}

		items = append(items, item)
	}
	return items, off, nil
}

// ParseStringTable decodes a TAG_STRINGTABLE's items (each a length-prefixed
// UTF-16LE TAG_STRINGTABLE_ITEM) into offset->string, keyed by the item's
// byte offset within data so STRING-REF values (which are offsets into this
// same segment) resolve directly.
func ParseStringTable(data []byte) StringTable {
	st := make(StringTable)
	off := 0
	for off+2 <= len(data) {
		start := off
		byteLen := int(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
		if off+byteLen > len(data) {
			break
		}
		s, _ := byteprim.ExtractUTF16LE(append(data[off:off+byteLen:off+byteLen], 0, 0))
		st[uint32(start)] = s
		off += byteLen
	}
	return st
}
