/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package lz4block

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecompressLiteralsOnly(t *testing.T) {
	src := []byte{0x50, 'H', 'e', 'l', 'l', 'o'}
	out, err := DecompressBlock(src, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("Hello"), out)
}

func TestDecompressOverlappingMatch(t *testing.T) {
	// token: 2 literals, match length 0+4; back-offset 1 makes the copy
	// overlap its own output (run-length semantics).
	src := []byte{0x20, 'a', 'b', 0x01, 0x00}
	out, err := DecompressBlock(src, 6)
	require.NoError(t, err)
	require.Equal(t, []byte("abbbbb"), out)
}

func TestDecompressExtendedLiteralLength(t *testing.T) {
	// literal length 15 + 0xFF + 3 = 273
	payload := bytes.Repeat([]byte{'z'}, 273)
	src := append([]byte{0xF0, 0xFF, 0x03}, payload...)
	out, err := DecompressBlock(src, 273)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDecompressWrongLengthFails(t *testing.T) {
	src := []byte{0x30, 'a', 'b', 'c'}
	_, err := DecompressBlock(src, 5)
	require.Error(t, err)
}

func TestDecompressBadOffsetFails(t *testing.T) {
	// back-offset points before the start of the output.
	src := []byte{0x10, 'a', 0x09, 0x00}
	_, err := DecompressBlock(src, 6)
	require.Error(t, err)
}

func TestDecompressTruncatedFails(t *testing.T) {
	_, err := DecompressBlock([]byte{0x40, 'a'}, 4)
	require.Error(t, err)
}
