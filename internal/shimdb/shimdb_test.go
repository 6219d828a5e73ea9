/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shimdb

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func u16le(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func u32le(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }

func TestParseScalarTags(t *testing.T) {
	var data []byte
	data = append(data, u16le(uint16(KindDword)|1)...)
	data = append(data, u32le(42)...)
	data = append(data, u16le(uint16(KindNull)|2)...)

	items, err := Parse(data, nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, uint32(42), items[0].Value)
	require.Equal(t, true, items[1].Value)
}

func TestParseListNesting(t *testing.T) {
	var inner []byte
	inner = append(inner, u16le(uint16(KindByte)|3)...)
	inner = append(inner, byte(7))

	var data []byte
	data = append(data, u16le(uint16(KindList)|0x7004)...)
	data = append(data, u32le(uint32(len(inner)))...)
	data = append(data, inner...)

	items, err := Parse(data, nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "SHIM", items[0].Name)
	require.Len(t, items[0].Children, 1)
	require.Equal(t, byte(7), items[0].Children[0].Value)
}

func TestStringRefResolvesAgainstTable(t *testing.T) {
	strTable := []byte{}
	strTable = append(strTable, u16le(4)...)
	strTable = append(strTable, []byte{'t', 0, 'e', 0}...)
	st := ParseStringTable(strTable)

	var data []byte
	data = append(data, u16le(uint16(KindStringRef)|0x0001)...)
	data = append(data, u32le(0)...)

	items, err := Parse(data, st)
	require.NoError(t, err)
	require.Equal(t, "te", items[0].Value)
}

func TestTruncatedStreamReturnsShortError(t *testing.T) {
	data := append(u16le(uint16(KindDword)|1), byte(1), byte(2))
	_, err := Parse(data, nil)
	require.Error(t, err)
}
