/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package lzvn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	opByteEOS          = 0x06
	opByteSmallLiteral = 0xE0 // 0xE0|n emits n literals
)

func TestDecompressLiteralsOnly(t *testing.T) {
	src := []byte{opByteSmallLiteral | 5, 'H', 'e', 'l', 'l', 'o', opByteEOS}
	out, err := Decompress(src)
	require.NoError(t, err)
	require.Equal(t, []byte("Hello"), out)
}

func TestDecompressSmallDistanceOverlap(t *testing.T) {
	// emit "ab", then a small-distance match: opcode 0x00 carries
	// literal=0, match=3, distance=(0<<8)|next byte=1 — a classic
	// run-length overlap copy of the last byte.
	src := []byte{opByteSmallLiteral | 2, 'a', 'b', 0x00, 0x01, opByteEOS}
	out, err := Decompress(src)
	require.NoError(t, err)
	require.Equal(t, []byte("abbbb"), out)
}

func TestDecompressPreviousDistance(t *testing.T) {
	// opcode 0x46 is PreviousDistance: one embedded literal plus a
	// 3-byte match reusing the distance set by the prior opcode.
	src := []byte{
		opByteSmallLiteral | 2, 'x', 'y',
		0x00, 0x01, // match 3 at distance 1 -> "xyyyy"
		0x46, 'z', // literal 'z', then match 3 at the carried distance 1
		opByteEOS,
	}
	out, err := Decompress(src)
	require.NoError(t, err)
	require.Equal(t, []byte("xyyyyzzzz"), out)
}

func TestDecompressUndefinedOpcodeFails(t *testing.T) {
	_, err := Decompress([]byte{0x1E})
	require.Error(t, err)
}

func TestDecompressBadDistanceFails(t *testing.T) {
	// a match before any output exists cannot reference backward.
	_, err := Decompress([]byte{0x00, 0x05, opByteEOS})
	require.Error(t, err)
}

func TestDecompressTruncatedLiteralFails(t *testing.T) {
	_, err := Decompress([]byte{opByteSmallLiteral | 4, 'a'})
	require.Error(t, err)
}

func TestDecompressEmptyInput(t *testing.T) {
	out, err := Decompress(nil)
	require.NoError(t, err)
	require.Empty(t, out)
}
