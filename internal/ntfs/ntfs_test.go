/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ntfs

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/rawdisk"
)

// buildMFTRecord assembles a minimal in-use $MFT entry carrying a single
// resident $FILE_NAME attribute.
func buildMFTRecord(t *testing.T, seq uint16, isDir bool, name string, parentIndex uint64, parentSeq uint16) []byte {
	t.Helper()
	buf := make([]byte, 1024)
	copy(buf, "FILE0")
	binary.LittleEndian.PutUint16(buf[16:18], seq)
	binary.LittleEndian.PutUint16(buf[20:22], 56) // attribute list offset
	flags := uint16(0x1)
	if isDir {
		flags |= 0x2
	}
	binary.LittleEndian.PutUint16(buf[22:24], flags)

	nameUTF16 := make([]byte, 0, len(name)*2)
	for _, r := range name {
		nameUTF16 = binary.LittleEndian.AppendUint16(nameUTF16, uint16(r))
	}
	content := make([]byte, 66+len(nameUTF16))
	parentRef := parentIndex | uint64(parentSeq)<<48
	binary.LittleEndian.PutUint64(content[0:8], parentRef)
	ft := byteprim.UnixToFiletime(1667969026)
	for off := 8; off < 40; off += 8 {
		binary.LittleEndian.PutUint64(content[off:off+8], ft)
	}
	binary.LittleEndian.PutUint64(content[48:56], 699) // real size
	content[64] = byte(len(name))
	content[65] = 3 // Win32+DOS namespace

	attr := buf[56:]
	binary.LittleEndian.PutUint32(attr[0:4], attrFileName)
	attrLen := 24 + len(content)
	binary.LittleEndian.PutUint32(attr[4:8], uint32(attrLen))
	attr[8] = 0 // resident
	binary.LittleEndian.PutUint32(attr[16:20], uint32(len(content)))
	binary.LittleEndian.PutUint16(attr[20:22], 24)
	copy(attr[24:], content)

	dataAttr := attr[attrLen:]
	binary.LittleEndian.PutUint32(dataAttr[0:4], attrData)
	binary.LittleEndian.PutUint32(dataAttr[4:8], 24)
	dataAttr[8] = 0
	binary.LittleEndian.PutUint32(dataAttr[16:20], 699) // resident content size

	binary.LittleEndian.PutUint32(dataAttr[24:], attrEnd)
	return buf
}

func volumeFor(t *testing.T, records ...[]byte) *Volume {
	t.Helper()
	var img []byte
	for _, r := range records {
		img = append(img, r...)
	}
	path := filepath.Join(t.TempDir(), "mft.img")
	require.NoError(t, os.WriteFile(path, img, 0o644))
	rd, err := rawdisk.Open(path, 512, nil)
	require.NoError(t, err)
	t.Cleanup(func() { rd.Close() })
	return NewVolume(rd, 0, 1024, nil)
}

func TestWalkFilesEmitsRecordWithResolvedPath(t *testing.T) {
	rec := buildMFTRecord(t, 7, false, "test.aut", rootMFTIndex, 5)
	v := volumeFor(t, rec)

	out, err := v.WalkFiles(0, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, uint64(0), out[0].MFTIndex)
	require.Equal(t, uint16(7), out[0].Sequence)
	require.Equal(t, `\test.aut`, out[0].FullPath)
	require.Equal(t, "2022-11-09T04:43:46.000Z", out[0].FilenameCreated)
	require.Equal(t, int64(699), out[0].FileSize)
	require.False(t, out[0].IsIndx)
}

func TestResolvePathTerminatesOnCycle(t *testing.T) {
	// records 1 and 2 name each other as parents; the walk must stop at
	// the revisit and return the prefix accumulated so far.
	rec0 := buildMFTRecord(t, 1, false, "leaf.txt", 1, 1)
	rec1 := buildMFTRecord(t, 1, true, "dirA", 2, 1)
	rec2 := buildMFTRecord(t, 1, true, "dirB", 1, 1)
	v := volumeFor(t, rec0, rec1, rec2)

	path := v.ResolvePath(1, 1, "leaf.txt")
	require.NotEmpty(t, path)
	require.Contains(t, path, "leaf.txt")
	require.Contains(t, path, "dirA")
}

func TestResolvePathUsesCache(t *testing.T) {
	rec0 := buildMFTRecord(t, 1, false, "a.bin", rootMFTIndex, 5)
	v := volumeFor(t, rec0)

	first := v.ResolvePath(rootMFTIndex, 5, "a.bin")
	second := v.ResolvePath(rootMFTIndex, 5, "a.bin")
	require.Equal(t, first, second)
}

func TestParseRecordRejectsBadSignature(t *testing.T) {
	buf := make([]byte, 1024)
	copy(buf, "BAAD")
	_, err := parseRecord(0, buf)
	require.Error(t, err)
}

func TestParseIndxSlackRecoversDeletedEntry(t *testing.T) {
	const (
		parentRefVal = uint64(5066549581655421)
		childRefVal  = uint64(8589934608)
	)
	data := make([]byte, 384)
	header := data[indxHeaderSize:]
	binary.LittleEndian.PutUint32(header[0:4], 16)   // offset to first entry
	binary.LittleEndian.PutUint32(header[4:8], 128)  // live record bytes
	binary.LittleEndian.PutUint32(header[8:12], 384) // allocated bytes

	// live entry region: the enclosing directory's parent reference at
	// entryStart+16.
	binary.LittleEndian.PutUint64(data[56:64], parentRefVal)

	// slack region starts at 128: a recovered entry with the child
	// reference 16 bytes ahead of the matched parent reference.
	slackBase := 128
	binary.LittleEndian.PutUint64(data[slackBase+16:], childRefVal)
	binary.LittleEndian.PutUint64(data[slackBase+32:], parentRefVal)
	body := data[slackBase+40:]
	ft := byteprim.UnixToFiletime(1667969026)
	for off := 0; off < 32; off += 8 {
		binary.LittleEndian.PutUint64(body[off:off+8], ft)
	}
	binary.LittleEndian.PutUint64(body[40:48], 699)
	body[56] = 8 // name length
	body[57] = 3 // namespace
	for i, r := range "test.aut" {
		binary.LittleEndian.PutUint16(body[58+i*2:], uint16(r))
	}

	out := ParseIndxSlack(data, `\test`, 1)
	require.Len(t, out, 1)
	rec := out[0]
	require.True(t, rec.IsIndx)
	require.Equal(t, childRefVal, rec.MFTIndex)
	require.Equal(t, parentRefVal, rec.ParentMFTIndex)
	require.Equal(t, `\test\test.aut`, rec.FullPath)
	require.Equal(t, "2022-11-09T04:43:46.000Z", rec.FilenameCreated)
	require.Equal(t, int64(699), rec.FileSize)
}

func TestParseIndxSlackGarbageNeverLoops(t *testing.T) {
	data := make([]byte, 512)
	for i := range data {
		data[i] = 0xAA
	}
	out := ParseIndxSlack(data, `\junk`, 1)
	require.Empty(t, out)
}
