/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ese

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildCatalogPage constructs a single-page fake ESE database whose page 4
// contains one MSysObjects-shaped table row plus one column row, enough to
// exercise readCatalog's dispatch without a real ESEDB fixture.
func buildCatalogPage(t *testing.T) []byte {
	t.Helper()
	db := make([]byte, pageSize*11)

	page := db[catalogPageID*pageSize : (catalogPageID+1)*pageSize]
	avail := page[40:]

	tableRow := make([]byte, 0, 32)
	tableRow = binary.LittleEndian.AppendUint32(tableRow, catalogObjTable)
	tableRow = binary.LittleEndian.AppendUint32(tableRow, 10) // root page
	tableRow = binary.LittleEndian.AppendUint32(tableRow, 0)  // col type unused
	tableRow = append(tableRow, []byte("MyTable\x00")...)

	colRow := make([]byte, 0, 32)
	colRow = binary.LittleEndian.AppendUint32(colRow, catalogObjColumn)
	colRow = binary.LittleEndian.AppendUint32(colRow, 0)
	colRow = binary.LittleEndian.AppendUint32(colRow, uint32(ColLong))
	colRow = append(colRow, []byte("Count\x00")...)

	off1 := copy(avail, tableRow)
	off2 := off1 + copy(avail[off1:], colRow)
	_ = off2

	// tag descriptors, growing backward from the page tail.
	writeTag := func(pos, off, size int) {
		val := uint32(off&0x1FFF) | uint32(size&0x1FFF)<<13
		binary.LittleEndian.PutUint32(page[len(page)-4*pos-4:len(page)-4*pos], val)
	}
	writeTag(1, 0, off1)
	writeTag(2, off1, off2-off1)

	// leaf page flag for root page 10
	leafPage := db[10*pageSize : 11*pageSize]
	binary.LittleEndian.PutUint32(leafPage[32:36], 0x2)

	return db
}

type bufferAt struct{ b []byte }

func (r bufferAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, r.b[off:])
	return n, nil
}

func TestCatalogReadsTableAndColumn(t *testing.T) {
	db := buildCatalogPage(t)
	cat, err := Open(bufferAt{db}, nil)
	require.NoError(t, err)

	tbl, ok := cat.Table("MyTable")
	require.True(t, ok)
	require.Equal(t, uint32(10), tbl.RootPage)
	require.Len(t, tbl.Columns, 1)
	require.Equal(t, "Count", tbl.Columns[0].Name)
}

func TestPagesOfFindsLeaf(t *testing.T) {
	db := buildCatalogPage(t)
	cat, err := Open(bufferAt{db}, nil)
	require.NoError(t, err)

	tbl, _ := cat.Table("MyTable")
	batches, err := cat.PagesOf(tbl)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, []uint32{10}, batches[0])
}

func TestDecodePageRowsSkipsCorruptTags(t *testing.T) {
	page := make([]byte, pageSize)
	// a single nonsense tag near the tail should not panic and should be
	// skipped rather than producing an out-of-bounds row.
	binary.LittleEndian.PutUint32(page[len(page)-4:], 0x1FFF<<13|0x1FFF)
	rows, err := decodePageRows(page)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestDecodePageRowsTooShort(t *testing.T) {
	_, err := decodePageRows(bytes.Repeat([]byte{0}, 10))
	require.Error(t, err)
}
