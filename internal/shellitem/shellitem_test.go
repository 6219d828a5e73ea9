/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shellitem

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeVolume(t *testing.T) {
	body := []byte("C:\\\x00")
	var data []byte
	data = append(data, 0, 0) // size placeholder
	data = append(data, 0x2F)
	data = append(data, body...)
	binary.LittleEndian.PutUint16(data[0:2], uint16(len(data)))

	item, n, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, VariantVolume, item.Variant)
	require.Equal(t, "C:\\", item.Value)
}

func TestDecodeTruncatedReturnsShortError(t *testing.T) {
	_, _, err := Decode([]byte{1})
	require.Error(t, err)
}

func TestDecodeUnknownVariantFallback(t *testing.T) {
	data := []byte{5, 0, 0xFF, 0xAA, 0xBB}
	item, n, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, VariantUnknown, item.Variant)
	require.NotEmpty(t, item.Extra)
}
