/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package byteprim gives every higher-level parser one dialect for
// endian-aware fixed-width reads, NUL-terminated string extraction, GUID
// formatting, and Windows FILETIME conversion.
package byteprim

import (
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf16"

	"github.com/gravwell/artemis-collector/internal/errs"
)

// ReadU8 reads one byte and returns the remaining slice.
func ReadU8(b []byte) (byte, []byte, error) {
	if len(b) < 1 {
		return 0, b, errs.ErrParseShort
	}
	return b[0], b[1:], nil
}

// ReadU16LE reads a little-endian uint16 and returns the remaining slice.
func ReadU16LE(b []byte) (uint16, []byte, error) {
	if len(b) < 2 {
		return 0, b, errs.ErrParseShort
	}
	return binary.LittleEndian.Uint16(b), b[2:], nil
}

// ReadU16BE reads a big-endian uint16 and returns the remaining slice.
func ReadU16BE(b []byte) (uint16, []byte, error) {
	if len(b) < 2 {
		return 0, b, errs.ErrParseShort
	}
	return binary.BigEndian.Uint16(b), b[2:], nil
}

// ReadU32LE reads a little-endian uint32 and returns the remaining slice.
func ReadU32LE(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, b, errs.ErrParseShort
	}
	return binary.LittleEndian.Uint32(b), b[4:], nil
}

// ReadU32BE reads a big-endian uint32 and returns the remaining slice.
func ReadU32BE(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, b, errs.ErrParseShort
	}
	return binary.BigEndian.Uint32(b), b[4:], nil
}

// ReadU64LE reads a little-endian uint64 and returns the remaining slice.
func ReadU64LE(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, b, errs.ErrParseShort
	}
	return binary.LittleEndian.Uint64(b), b[8:], nil
}

// ReadU64BE reads a big-endian uint64 and returns the remaining slice.
func ReadU64BE(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, b, errs.ErrParseShort
	}
	return binary.BigEndian.Uint64(b), b[8:], nil
}

// EncodeU16LE, EncodeU32LE, EncodeU64LE exist so the read/encode
// round-trip property has something concrete to test against; the
// collector itself never needs to emit these wire formats.
func EncodeU16LE(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func EncodeU32LE(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func EncodeU64LE(v uint64) []byte { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); return b }
func EncodeU16BE(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }
func EncodeU32BE(v uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }
func EncodeU64BE(v uint64) []byte { b := make([]byte, 8); binary.BigEndian.PutUint64(b, v); return b }

// ExtractUTF16LE reads 2-byte units from b until a U+0000 unit or the end of
// the buffer, decoding with the standard replacement character for invalid
// sequences, and returns the decoded string plus bytes consumed (including a
// terminating NUL pair if one was present).
func ExtractUTF16LE(b []byte) (string, int) {
	units := make([]uint16, 0, len(b)/2)
	consumed := 0
	for len(b) >= 2 {
		u := binary.LittleEndian.Uint16(b)
		consumed += 2
		b = b[2:]
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units)), consumed
}

// ExtractUTF8 reads 1-byte units from b until a NUL byte or the end of the
// buffer, with the same semantics as ExtractUTF16LE over bytes instead of
// 16-bit units.
func ExtractUTF8(b []byte) (string, int) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), i + 1
		}
	}
	return string(b), len(b)
}

// GUIDLE formats a 16-byte mixed-endian Microsoft GUID (the common on-disk
// form: the first three fields little-endian, the last two big-endian).
func GUIDLE(b []byte) (string, error) {
	if len(b) < 16 {
		return "", errs.ErrParseShort
	}
	d1 := binary.LittleEndian.Uint32(b[0:4])
	d2 := binary.LittleEndian.Uint16(b[4:6])
	d3 := binary.LittleEndian.Uint16(b[6:8])
	return fmt.Sprintf("%08x-%04x-%04x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		d1, d2, d3, b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15]), nil
}

// GUIDBE formats all 16 bytes of b big-endian in canonical GUID form,
// without the mixed-endian reordering GUIDLE applies to the first three fields.
func GUIDBE(b []byte) (string, error) {
	if len(b) < 16 {
		return "", errs.ErrParseShort
	}
	d1 := binary.BigEndian.Uint32(b[0:4])
	d2 := binary.BigEndian.Uint16(b[4:6])
	d3 := binary.BigEndian.Uint16(b[6:8])
	return fmt.Sprintf("%08x-%04x-%04x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		d1, d2, d3, b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15]), nil
}

const epochDiff int64 = 11644473600 // seconds between 1601-01-01 and 1970-01-01

// FiletimeToUnix converts a Windows FILETIME (100ns ticks since 1601-01-01)
// to Unix epoch seconds. Values outside the representable ISO-8601 range
// collapse to 0 (1970-01-01T00:00:00.000Z) at the ISO8601 boundary, not here.
func FiletimeToUnix(ft uint64) int64 {
	return int64(ft/10_000_000) - epochDiff
}

// UnixToFiletime is FiletimeToUnix's inverse, used only to exercise the
// round-trip property in tests.
func UnixToFiletime(t int64) uint64 {
	return uint64((t + epochDiff) * 10_000_000)
}

const epochFallback = "1970-01-01T00:00:00.000Z"

var (
	minISO = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	maxISO = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// UnixToISO8601 renders Unix epoch seconds (UTC, millisecond precision) as
// "YYYY-MM-DDTHH:MM:SS.sssZ", falling back to the epoch string for values
// outside the representable range.
func UnixToISO8601(sec int64, nsec int64) string {
	t := time.Unix(sec, nsec).UTC()
	if t.Before(minISO) || t.After(maxISO) {
		return epochFallback
	}
	return t.Format("2006-01-02T15:04:05.000Z")
}

// FiletimeToISO8601 converts a raw FILETIME straight to the emitted
// timestamp form; zero renders as the empty string.
func FiletimeToISO8601(ft uint64) string {
	if ft == 0 {
		return ""
	}
	return UnixToISO8601(FiletimeToUnix(ft), 0)
}

// CocoaToISO8601 converts a macOS/Cocoa epoch (seconds since 2001-01-01,
// used by Spotlight and HFS+ "Date" fields) to the emitted timestamp form.
func CocoaToISO8601(sec float64) string {
	const cocoaToUnix = 978307200
	whole := int64(sec)
	frac := sec - float64(whole)
	return UnixToISO8601(whole+cocoaToUnix, int64(frac*1e9))
}

// OLEDateToISO8601 converts an OLE Automation date (days since 1899-12-30,
// used by ESE "DateTime" columns) to the emitted timestamp form.
func OLEDateToISO8601(days float64) string {
	const oleToUnixDays = 25569 // days between 1899-12-30 and 1970-01-01
	sec := (days - oleToUnixDays) * 86400
	whole := int64(sec)
	frac := sec - float64(whole)
	return UnixToISO8601(whole, int64(frac*1e9))
}

// ExtractU32Hex renders a 32-bit value as a "0x"-prefixed hex string, used
// for unrecognized enum values that still need a stable string form.
func ExtractU32Hex(v uint32) string {
	return fmt.Sprintf("0x%08X", v)
}
