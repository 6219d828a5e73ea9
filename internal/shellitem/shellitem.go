/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package shellitem decodes Windows Explorer shellbag items: six
// tagged-variant binary layouts (directory, volume, variable, MTP,
// network, URI) sharing a common (size, type-byte) header. Any other type
// byte decodes as VariantUnknown.
package shellitem

import (
	"encoding/binary"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/model"
)

// Variant names used in model.ShellItem.Variant.
const (
	VariantDirectory      = "directory"
	VariantVolume         = "volume"
	VariantVariable       = "variable"
	VariantMTP            = "mtp"
	VariantNetwork        = "network"
	VariantURI            = "uri"
	VariantUnknown        = "unknown"
)

// decoder recognizes a shellitem by its type byte (the byte after the
// 2-byte size prefix) and decodes its payload.
type decoder struct {
	matches func(typeByte byte) bool
	decode  func(body []byte) model.ShellItem
}

// table is the ordered (signature, decoder) candidate list: decoding
// scans it in order so new variants can be appended without touching the
// dispatch core.
var table = []decoder{
	{matches: func(b byte) bool { return b&0x70 == 0x30 }, decode: decodeFileEntry},
	{matches: func(b byte) bool { return b == 0x2F || b&0x70 == 0x20 }, decode: decodeVolume},
	{matches: func(b byte) bool { return b == 0x01 }, decode: decodeVariable},
	{matches: func(b byte) bool { return b == 0x61 }, decode: decodeMTP},
	{matches: func(b byte) bool { return b&0xF0 == 0x40 }, decode: decodeNetwork},
	{matches: func(b byte) bool { return b == 0x00 }, decode: decodeURI},
}

// Decode parses one shellitem: a 2-byte LE size, a 1-byte type/indicator,
// then a type-specific body. It never panics on malformed input; an
// unrecognized item yields VariantUnknown with the raw bytes captured in
// Extra, and input shorter than 3 bytes or than its declared size returns
// an error.
func Decode(data []byte) (model.ShellItem, int, error) {
	if len(data) < 3 {
		return model.ShellItem{}, 0, errs.ErrParseShort
	}
	size := int(binary.LittleEndian.Uint16(data[0:2]))
	if size < 3 || size > len(data) {
		return model.ShellItem{}, 0, errs.ErrParseCorrupt
	}
	typeByte := data[2]
	body := data[3:size]

	for _, d := range table {
		if d.matches(typeByte) {
			item := d.decode(body)
			return item, size, nil
		}
	}
	return model.ShellItem{Variant: VariantUnknown, Extra: hexDump(body)}, size, nil
}

func hexDump(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, len(b)*2)
	for _, v := range b {
		out = append(out, digits[v>>4], digits[v&0xF])
	}
	return string(out)
}

// decodeFileEntry handles the directory/file shellitem: inline DOS name,
// FAT date fields, and an optional MFT entry/sequence extension block.
func decodeFileEntry(body []byte) model.ShellItem {
	item := model.ShellItem{Variant: VariantDirectory}
	if len(body) < 12 {
		return item
	}
	modDate := binary.LittleEndian.Uint16(body[4:6])
	modTime := binary.LittleEndian.Uint16(body[6:8])
	item.Modified = fatTimestamp(modDate, modTime)

	name, n := byteprim.ExtractUTF8(body[12:])
	off := 12 + n
	item.Value = name

	// extension block (if present) trails the short name, 16-bit aligned,
	// and carries FILETIME created/accessed timestamps plus the MFT
	// entry/sequence when the item refers to an NTFS file.
	if off+2 <= len(body) {
		off += off % 2
	}
	if off+4 <= len(body) {
		extSize := int(binary.LittleEndian.Uint16(body[off : off+2]))
		if extSize > 0 && off+extSize <= len(body) {
			ext := body[off : off+extSize]
			if len(ext) >= 26 {
				created := binary.LittleEndian.Uint64(ext[8:16])
				accessed := binary.LittleEndian.Uint64(ext[16:24])
				item.Created = byteprim.FiletimeToISO8601(created)
				item.Accessed = byteprim.FiletimeToISO8601(accessed)
			}
			if len(ext) >= 26+8 {
				item.MFTEntry = binary.LittleEndian.Uint64(ext[len(ext)-8:]) & 0x0000FFFFFFFFFFFF
				item.MFTSeq = uint16(binary.LittleEndian.Uint64(ext[len(ext)-8:]) >> 48)
			}
		}
	}
	return item
}

func decodeVolume(body []byte) model.ShellItem {
	name, _ := byteprim.ExtractUTF8(body)
	return model.ShellItem{Variant: VariantVolume, Value: name}
}

func decodeVariable(body []byte) model.ShellItem {
	s, _ := byteprim.ExtractUTF16LE(append(body, 0, 0))
	return model.ShellItem{Variant: VariantVariable, Value: s}
}

func decodeMTP(body []byte) model.ShellItem {
	return model.ShellItem{Variant: VariantMTP, Extra: hexDump(body)}
}

func decodeNetwork(body []byte) model.ShellItem {
	name, _ := byteprim.ExtractUTF8(body)
	return model.ShellItem{Variant: VariantNetwork, Value: name}
}

func decodeURI(body []byte) model.ShellItem {
	s, _ := byteprim.ExtractUTF8(body)
	return model.ShellItem{Variant: VariantURI, Value: s}
}

// fatTimestamp converts a DOS/FAT (date, time) pair into ISO-8601. FAT
// dates have no timezone; the collector treats them as UTC, matching the
// rest of the pipeline's FILETIME conversions.
func fatTimestamp(date, time uint16) string {
	year := int(date>>9) + 1980
	month := int(date>>5) & 0xF
	day := int(date) & 0x1F
	hour := int(time >> 11)
	minute := int(time>>5) & 0x3F
	second := (int(time) & 0x1F) * 2
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return ""
	}
	return isoDate(year, month, day, hour, minute, second)
}

func isoDate(y, mo, d, h, mi, s int) string {
	pad := func(v, width int) []byte {
		digits := "0123456789"
		b := make([]byte, width)
		for i := width - 1; i >= 0; i-- {
			b[i] = digits[v%10]
			v /= 10
		}
		return b
	}
	out := make([]byte, 0, 24)
	out = append(out, pad(y, 4)...)
	out = append(out, '-')
	out = append(out, pad(mo, 2)...)
	out = append(out, '-')
	out = append(out, pad(d, 2)...)
	out = append(out, 'T')
	out = append(out, pad(h, 2)...)
	out = append(out, ':')
	out = append(out, pad(mi, 2)...)
	out = append(out, ':')
	out = append(out, pad(s, 2)...)
	out = append(out, ".000Z"...)
	return string(out)
}
