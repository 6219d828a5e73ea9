/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package outlook

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

type bufferAt struct{ b []byte }

func (r bufferAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.b)) {
		return 0, nil
	}
	n := copy(p, r.b[off:])
	return n, nil
}

func buildUnicodeHeader(nbtOff, bbtOff uint64) []byte {
	b := make([]byte, 564)
	binary.LittleEndian.PutUint32(b[0:4], headerMagic)
	binary.LittleEndian.PutUint16(b[10:12], verUnicode)
	skip := 4 + 4*8
	n := rootOffsetUnicode + skip
	binary.LittleEndian.PutUint64(b[n:n+8], nbtOff)
	binary.LittleEndian.PutUint64(b[n+8:n+16], 0) // bid, unused by header parse
	binary.LittleEndian.PutUint64(b[n+16:n+24], bbtOff)
	binary.LittleEndian.PutUint64(b[n+24:n+32], 0)
	return b
}

func TestParseHeaderDetectsUnicodeFormat(t *testing.T) {
	raw := buildUnicodeHeader(512, 1024)
	hdr, err := ParseHeader(bufferAt{raw}, nil)
	require.NoError(t, err)
	require.Equal(t, FormatUnicode64, hdr.Format)
	require.Equal(t, uint64(512), hdr.RootNBT.IB)
	require.Equal(t, uint64(1024), hdr.RootBBT.IB)
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	raw := make([]byte, 564)
	_, err := ParseHeader(bufferAt{raw}, nil)
	require.Error(t, err)
}

func TestNodeIDTypeAndNumber(t *testing.T) {
	nid := NodeID(nidTypeFolder | (7 << 5))
	require.True(t, nid.IsFolder())
	require.Equal(t, uint32(7), nid.Number())
}

// buildHeapPage constructs a single-page heap (cells: 0=BTH header,
// 1=unused/empty, 2=PC leaf array with one Unicode-string property,
// 3=the UTF-16LE string bytes) enough to exercise
// parsePropertyContext/String without a real PST fixture.
func buildHeapPage(t *testing.T) []byte {
	t.Helper()
	page := make([]byte, 256)
	page[2] = heapSigByte
	page[3] = clientSigBTH
	binary.LittleEndian.PutUint32(page[4:8], 0<<5) // hidUserRoot: cell index 0

	// cell 0: BTH header -> hidRoot points at cell 2
	bth := make([]byte, 8)
	binary.LittleEndian.PutUint32(bth[4:8], 2<<5)

	// cell 2: one PC entry (tag 0x3001 DisplayName, type PtUnicode, hnid -> cell 3)
	entry := make([]byte, 8)
	binary.LittleEndian.PutUint16(entry[0:2], tagDisplayName)
	binary.LittleEndian.PutUint16(entry[2:4], uint16(PtUnicode))
	binary.LittleEndian.PutUint32(entry[4:8], 3<<5)

	// cell 3: UTF-16LE "Inbox"
	name := []byte{'I', 0, 'n', 0, 'b', 0, 'o', 0, 'x', 0}

	off0 := 8 // cells live past the fixed heap header
	off1 := off0 + len(bth)
	off2 := off1 // cell 1 is empty
	off3 := off2 + len(entry)
	off4 := off3 + len(name)
	offs := []int{off0, off1, off2, off3, off4}

	copy(page[off0:], bth)
	copy(page[off2:], entry)
	copy(page[off3:], name)

	// page map trailer: cAlloc=4 cells -> 5 boundary offsets
	cAlloc := 4
	tail := page[len(page)-2-2*(cAlloc+1):]
	for i, o := range offs {
		binary.LittleEndian.PutUint16(tail[2*i:], uint16(o))
	}
	binary.LittleEndian.PutUint16(page[len(page)-2:], uint16(cAlloc))
	return page
}

func TestParsePropertyContextReadsUnicodeString(t *testing.T) {
	page := buildHeapPage(t)
	h, err := parseHeap(page, nil)
	require.NoError(t, err)

	pc, err := parsePropertyContext(h, nil)
	require.NoError(t, err)
	require.Equal(t, "Inbox", pc.String(tagDisplayName))
}

func TestSplitRecipients(t *testing.T) {
	require.Equal(t, []string{"Alice", "Bob"}, splitRecipients("Alice; Bob"))
	require.Nil(t, splitRecipients(""))
}
