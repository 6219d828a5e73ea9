/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package lzvn decodes Apple's LZVN byte-oriented compression format
// (the libfsecompression variant), used by compressed macOS file
// payloads.
package lzvn

import "github.com/gravwell/artemis-collector/internal/errs"

type opcode byte

const (
	opSmallDistance opcode = iota
	opLargeDistance
	opMediumDistance
	opPreviousDistance
	opSmallLiteral
	opLargeLiteral
	opSmallMatch
	opLargeMatch
	opNop
	opEndOfStream
	opUndefined
)

// table maps each of the 256 possible opcode bytes to its opcode kind, per
// https://github.com/lzfse/lzfse/blob/master/src/lzvn_decode_base.c
var table = [256]opcode{
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opEndOfStream, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opNop, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opNop, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opUndefined, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opUndefined, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opUndefined, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opUndefined, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opUndefined, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opPreviousDistance, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opPreviousDistance, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opPreviousDistance, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opPreviousDistance, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opPreviousDistance, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opPreviousDistance, opLargeDistance,
	opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined,
	opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opPreviousDistance, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opPreviousDistance, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opPreviousDistance, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opPreviousDistance, opLargeDistance,
	opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance,
	opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance,
	opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance,
	opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opPreviousDistance, opLargeDistance,
	opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opPreviousDistance, opLargeDistance,
	opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined,
	opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined,
	opLargeLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral,
	opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral,
	opLargeMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch,
	opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch,
}

// Decompress decodes an LZVN byte stream. It never panics on malformed
// input; a corrupt opcode yields errs.ErrParseCorrupt and whatever output was
// produced so far is discarded.
func Decompress(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src)*2)
	var distance uint32
	i := 0
	for i < len(src) {
		op := src[i]
		i++
		switch table[op] {
		case opEndOfStream:
			return out, nil
		case opNop:
			continue
		case opUndefined:
			return nil, errs.ErrParseCorrupt
		}

		var literal, match uint32
		switch table[op] {
		case opSmallDistance:
			if i >= len(src) {
				return nil, errs.ErrParseShort
			}
			literal = uint32(op&0xc0) >> 6
			match = uint32(op&0x38)>>3 + 3
			distance = (uint32(op&0x7) << 8) | uint32(src[i])
			i++
		case opLargeDistance:
			if i+1 >= len(src) {
				return nil, errs.ErrParseShort
			}
			literal = uint32(op&0xc0) >> 6
			match = uint32(op&0x38)>>3 + 3
			distance = (uint32(src[i+1]) << 8) | uint32(src[i])
			i += 2
		case opMediumDistance:
			if i+1 >= len(src) {
				return nil, errs.ErrParseShort
			}
			opValue := src[i]
			literal = uint32(op&0x18) >> 3
			match = (uint32(op&0x7)<<2 | uint32(opValue&0x3)) + 3
			distance = (uint32(src[i+1]) << 6) | (uint32(opValue&0xfc) >> 2)
			i += 2
		case opPreviousDistance:
			literal = uint32(op&0xc0) >> 6
			match = uint32(op&0x38)>>3 + 3
		case opSmallLiteral:
			literal = uint32(op & 0xf)
		case opLargeLiteral:
			if i >= len(src) {
				return nil, errs.ErrParseShort
			}
			literal = uint32(src[i]) + 16
			i++
		case opSmallMatch:
			match = uint32(op & 0xf)
		case opLargeMatch:
			if i >= len(src) {
				return nil, errs.ErrParseShort
			}
			match = uint32(src[i]) + 16
			i++
		}

		if literal > 0 {
			end := i + int(literal)
			if end > len(src) {
				return nil, errs.ErrParseShort
			}
			out = append(out, src[i:end]...)
			i = end
		}

		if match > 0 {
			if distance == 0 || int(distance) > len(out) {
				return nil, errs.ErrParseCorrupt
			}
			matchOffset := len(out) - int(distance)
			// overlapping copies require byte-at-a-time semantics
			for n := uint32(0); n < match; n++ {
				out = append(out, out[matchOffset])
				matchOffset++
			}
		}
	}
	return out, nil
}
