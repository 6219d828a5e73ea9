/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package lz4block decodes the standard LZ4 block format (no frame
// header/checksum), as used by macOS Spotlight store pages.
// github.com/klauspost/compress ships a streaming LZ4-frame reader but
// not a bare block decoder with our required exact-length contract, so
// this is a small token-loop implementation in the same spirit as
// klauspost/compress's block codecs.
package lz4block

import "github.com/gravwell/artemis-collector/internal/errs"

// DecompressBlock decodes one raw LZ4 block, stopping once expectedLen
// bytes have been produced. Producing a shorter or longer stream than
// expectedLen is an error.
func DecompressBlock(src []byte, expectedLen int) ([]byte, error) {
	out := make([]byte, 0, expectedLen)
	i := 0
	for i < len(src) {
		if len(out) >= expectedLen {
			break
		}
		token := src[i]
		i++

		litLen := int(token >> 4)
		if litLen == 0xf {
			for {
				if i >= len(src) {
					return nil, errs.ErrParseShort
				}
				b := src[i]
				i++
				litLen += int(b)
				if b != 0xff {
					break
				}
			}
		}
		if i+litLen > len(src) {
			return nil, errs.ErrParseShort
		}
		out = append(out, src[i:i+litLen]...)
		i += litLen

		if len(out) >= expectedLen || i >= len(src) {
			break // final sequence has no match part
		}
		if i+2 > len(src) {
			return nil, errs.ErrParseShort
		}
		backOffset := int(src[i]) | int(src[i+1])<<8
		i += 2
		if backOffset == 0 || backOffset > len(out) {
			return nil, errs.ErrParseCorrupt
		}

		matchLen := int(token & 0xf)
		if matchLen == 0xf {
			for {
				if i >= len(src) {
					return nil, errs.ErrParseShort
				}
				b := src[i]
				i++
				matchLen += int(b)
				if b != 0xff {
					break
				}
			}
		}
		matchLen += 4

		matchPos := len(out) - backOffset
		for n := 0; n < matchLen; n++ {
			out = append(out, out[matchPos])
			matchPos++
		}
	}
	if len(out) != expectedLen {
		return nil, errs.ErrDecompressionFailure
	}
	return out, nil
}

// Spotlight magic markers identifying whether a chunk inside a store.db
// page is an LZ4-compressed block ("bv41") or an already-decompressed raw
// block ("bv4-").
const (
	SpotlightCompressedMagic   uint32 = 0x31347662 // "bv41"
	SpotlightUncompressedMagic uint32 = 0x2d347662 // "bv4-"
)
