/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package registry

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/log"
)

func buildNKCell(name string, lastWrite uint64) []byte {
	body := make([]byte, 0x50+len(name))
	binary.LittleEndian.PutUint16(body[0:2], cellSignatureNK)
	binary.LittleEndian.PutUint64(body[4:12], lastWrite)
	binary.LittleEndian.PutUint16(body[0x48:0x4A], uint16(len(name)))
	copy(body[0x50:], name)

	cell := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(cell[0:4], uint32(len(cell)))
	copy(cell[4:], body)
	return cell
}

func buildVKCell(name string, typ uint32) []byte {
	body := make([]byte, 18+len(name))
	binary.LittleEndian.PutUint16(body[0:2], cellSignatureVK)
	binary.LittleEndian.PutUint16(body[2:4], uint16(len(name)))
	binary.LittleEndian.PutUint32(body[14:18], typ)
	copy(body[18:], name)

	cell := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(cell[0:4], uint32(len(cell)))
	copy(cell[4:], body)
	return cell
}

func buildHive(cells ...[]byte) []byte {
	hive := make([]byte, 4096*2)
	binary.LittleEndian.PutUint32(hive[0:4], hiveSignature)

	bin := hive[4096:]
	binary.LittleEndian.PutUint32(bin[0:4], hbinSignature)
	binary.LittleEndian.PutUint32(bin[8:12], 4096)
	off := 32
	for _, c := range cells {
		off += copy(bin[off:], c)
	}
	return hive
}

func TestParseHiveDecodesKeysAndValues(t *testing.T) {
	ft := byteprim.UnixToFiletime(1667969026)
	hive := buildHive(
		buildVKCell("Enabled", 4),
		buildNKCell("Run", ft),
	)
	keys, err := ParseHive(bytes.NewReader(hive), int64(len(hive)), nil)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, "Run", keys[0].Name)
	require.Equal(t, "2022-11-09T04:43:46.000Z", keys[0].LastWrite)
	require.Len(t, keys[0].Values, 1)
	require.Equal(t, "Enabled", keys[0].Values[0].Name)
	require.Equal(t, uint32(4), keys[0].Values[0].Type)
}

func TestParseHiveRejectsBadSignature(t *testing.T) {
	hive := make([]byte, 8192)
	_, err := ParseHive(bytes.NewReader(hive), int64(len(hive)), nil)
	require.Error(t, err)
}

func TestParseCellsSurvivesGarbage(t *testing.T) {
	data := bytes.Repeat([]byte{0xFF}, 4096)
	keys := parseCells(data, log.NewDiscard())
	require.Empty(t, keys)
}
