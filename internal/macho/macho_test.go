/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package macho

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildThin64(t *testing.T) []byte {
	t.Helper()
	header := make([]byte, 32)
	binary.LittleEndian.PutUint32(header[0:4], 0xFEEDFACF)
	binary.LittleEndian.PutUint32(header[4:8], 0x01000007) // x86_64
	binary.LittleEndian.PutUint32(header[8:12], 3)
	binary.LittleEndian.PutUint32(header[12:16], 2) // MH_EXECUTE
	binary.LittleEndian.PutUint32(header[16:20], 1) // ncmds
	binary.LittleEndian.PutUint32(header[20:24], 56)
	binary.LittleEndian.PutUint32(header[24:28], 0x1) // NOUNDEFS

	seg := make([]byte, 56)
	binary.LittleEndian.PutUint32(seg[0:4], lcSegment64)
	binary.LittleEndian.PutUint32(seg[4:8], 56)
	copy(seg[8:24], "__TEXT")
	binary.LittleEndian.PutUint64(seg[24:32], 0x100000000)
	binary.LittleEndian.PutUint64(seg[32:40], 0x1000)
	binary.LittleEndian.PutUint64(seg[40:48], 0)
	binary.LittleEndian.PutUint64(seg[48:56], 0x1000)

	return append(header, seg...)
}

func TestParseThinMachO(t *testing.T) {
	data := buildThin64(t)
	infos, err := ParseFile(data)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "x86_64", infos[0].CPUType)
	require.Equal(t, "MH_EXECUTE", infos[0].FileType)
	require.Contains(t, infos[0].Flags, "NOUNDEFS")
	require.Len(t, infos[0].Segments, 1)
	require.Equal(t, "__TEXT", infos[0].Segments[0].Name)
}

func TestParseTruncatedHeader(t *testing.T) {
	_, err := ParseFile([]byte{0x01, 0x02})
	require.Error(t, err)
}
