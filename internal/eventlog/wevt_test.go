/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package eventlog

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/model"
)

const (
	testRsrcOff = 0x200
	testRsrcRVA = 0x1000
)

var testGUIDBytes = []byte{
	0x11, 0x11, 0x11, 0x11, 0x22, 0x22, 0x33, 0x33,
	0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0x00, 0x11,
}

// buildTestPE assembles a minimal PE image whose .rsrc section carries one
// MESSAGETABLE resource and one WEVT_TEMPLATE resource.
func buildTestPE(t *testing.T) []byte {
	t.Helper()
	file := make([]byte, testRsrcOff+0x600)

	// DOS + PE + COFF headers, one section, no optional header.
	file[0], file[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(file[0x3C:], 0x80)
	binary.LittleEndian.PutUint32(file[0x80:], 0x00004550)
	binary.LittleEndian.PutUint16(file[0x86:], 1) // section count
	binary.LittleEndian.PutUint16(file[0x94:], 0) // optional header size

	sec := file[0x98:]
	copy(sec, ".rsrc")
	binary.LittleEndian.PutUint32(sec[8:12], 0x600)       // virtual size
	binary.LittleEndian.PutUint32(sec[12:16], testRsrcRVA)
	binary.LittleEndian.PutUint32(sec[16:20], 0x600)      // raw size
	binary.LittleEndian.PutUint32(sec[20:24], testRsrcOff)

	rsrc := file[testRsrcOff:]

	// directory layout inside .rsrc
	const (
		wevtNameStr = 0x040
		msgNameDir  = 0x080
		msgLangDir  = 0x0A0
		msgLeaf     = 0x0C0
		wevtNameDir = 0x0E0
		wevtLangDir = 0x100
		wevtLeaf    = 0x120
		msgData     = 0x140
		wevtData    = 0x200
	)

	putDir := func(off int, entries ...[2]uint32) {
		binary.LittleEndian.PutUint16(rsrc[off+14:], uint16(len(entries)))
		for i, e := range entries {
			binary.LittleEndian.PutUint32(rsrc[off+16+i*8:], e[0])
			binary.LittleEndian.PutUint32(rsrc[off+16+i*8+4:], e[1])
		}
	}

	// root: a named WEVT_TEMPLATE entry plus RT_MESSAGETABLE (type 11).
	binary.LittleEndian.PutUint16(rsrc[12:], 1) // one named entry
	binary.LittleEndian.PutUint16(rsrc[14:], 1) // one id entry
	binary.LittleEndian.PutUint32(rsrc[16:], 0x80000000|wevtNameStr)
	binary.LittleEndian.PutUint32(rsrc[20:], 0x80000000|wevtNameDir)
	binary.LittleEndian.PutUint32(rsrc[24:], rtMessageTable)
	binary.LittleEndian.PutUint32(rsrc[28:], 0x80000000|msgNameDir)

	binary.LittleEndian.PutUint16(rsrc[wevtNameStr:], uint16(len(wevtResourceName)))
	for i, r := range wevtResourceName {
		binary.LittleEndian.PutUint16(rsrc[wevtNameStr+2+i*2:], uint16(r))
	}

	putDir(msgNameDir, [2]uint32{1, 0x80000000 | msgLangDir})
	putDir(msgLangDir, [2]uint32{0x409, msgLeaf})
	putDir(wevtNameDir, [2]uint32{1, 0x80000000 | wevtLangDir})
	putDir(wevtLangDir, [2]uint32{0x409, wevtLeaf})

	// message table: one block, message id 100.
	text := "Logon by %1 succeeded"
	entryLen := 4 + len(text)*2 + 2 // padded with a trailing NUL pair
	binary.LittleEndian.PutUint32(rsrc[msgData:], 1)
	binary.LittleEndian.PutUint32(rsrc[msgData+4:], 100)
	binary.LittleEndian.PutUint32(rsrc[msgData+8:], 100)
	binary.LittleEndian.PutUint32(rsrc[msgData+12:], 16)
	entry := rsrc[msgData+16:]
	binary.LittleEndian.PutUint16(entry[0:], uint16(entryLen))
	binary.LittleEndian.PutUint16(entry[2:], 1) // unicode
	for i, r := range text {
		binary.LittleEndian.PutUint16(entry[4+i*2:], uint16(r))
	}
	msgDataLen := 16 + entryLen

	// WEVT_TEMPLATE: CRIM -> one provider -> WEVT -> EVNT -> TEMP.
	crim := rsrc[wevtData:]
	const (
		wevtBlock = 40
		evntBlock = 72
		tempBlock = 136
		itemsOff  = 184
		nameOff   = 204
	)
	binary.LittleEndian.PutUint32(crim[0:], sigCRIM)
	binary.LittleEndian.PutUint32(crim[12:], 1) // provider count
	copy(crim[16:], testGUIDBytes)
	binary.LittleEndian.PutUint32(crim[32:], wevtBlock)

	binary.LittleEndian.PutUint32(crim[wevtBlock:], sigWEVT)
	binary.LittleEndian.PutUint32(crim[wevtBlock+12:], 1) // element count
	binary.LittleEndian.PutUint32(crim[wevtBlock+16:], evntBlock)

	binary.LittleEndian.PutUint32(crim[evntBlock:], sigEVNT)
	binary.LittleEndian.PutUint32(crim[evntBlock+8:], 1) // event count
	def := crim[evntBlock+16:]
	binary.LittleEndian.PutUint16(def[0:], 4624)
	def[2] = 3
	binary.LittleEndian.PutUint32(def[16:], 100)       // message id
	binary.LittleEndian.PutUint32(def[20:], tempBlock) // template offset

	binary.LittleEndian.PutUint32(crim[tempBlock:], sigTEMP)
	binary.LittleEndian.PutUint32(crim[tempBlock+8:], 1) // descriptor count
	binary.LittleEndian.PutUint32(crim[tempBlock+16:], itemsOff)
	desc := crim[itemsOff:]
	desc[4] = 1 // win:UnicodeString
	binary.LittleEndian.PutUint32(desc[16:], nameOff)
	binary.LittleEndian.PutUint32(crim[nameOff:], 4+8)
	for i, r := range "User" {
		binary.LittleEndian.PutUint16(crim[nameOff+4+i*2:], uint16(r))
	}
	crimLen := nameOff + 12

	putLeaf := func(leafOff, dataOff, size int) {
		binary.LittleEndian.PutUint32(rsrc[leafOff:], uint32(testRsrcRVA+dataOff))
		binary.LittleEndian.PutUint32(rsrc[leafOff+4:], uint32(size))
	}
	putLeaf(msgLeaf, msgData, msgDataLen)
	putLeaf(wevtLeaf, wevtData, crimLen)

	return file
}

func TestLoadTemplateFileExtractsBothResources(t *testing.T) {
	tmpl, err := LoadTemplateFile(buildTestPE(t), nil)
	require.NoError(t, err)

	require.Equal(t, "Logon by %1 succeeded", tmpl.MessageTable[100])

	guid, err := byteprim.GUIDLE(testGUIDBytes)
	require.NoError(t, err)
	defs, ok := tmpl.WevtTemplate[guid]
	require.True(t, ok)
	def, ok := defs["4624_3"]
	require.True(t, ok)
	require.Equal(t, uint32(100), def.MessageID)
	require.Len(t, def.Elements, 1)
	require.Equal(t, "User", def.Elements[0].Name)
	require.Equal(t, "win:UnicodeString", def.Elements[0].InputType)
}

func TestLoadTemplateFileRejectsNonPE(t *testing.T) {
	_, err := LoadTemplateFile([]byte("not a portable executable"), nil)
	require.Error(t, err)
}

func TestExtractedTemplateDrivesMerger(t *testing.T) {
	tmpl, err := LoadTemplateFile(buildTestPE(t), nil)
	require.NoError(t, err)
	guid, _ := byteprim.GUIDLE(testGUIDBytes)

	res := Resources{
		Providers: map[string]ProviderInfo{guid: {MessageFiles: []string{"sys.dll"}}},
		Templates: map[string]Template{"sys.dll": tmpl},
	}
	m := NewMerger(res)
	out := m.Render(model.EventLogRecord{
		RecordID: 9, EventID: 4624, Version: 3, ProviderGUID: guid,
		EventData: map[string]interface{}{"User": "alice"},
	})
	require.Equal(t, "Logon by alice succeeded", out.Message)
}
