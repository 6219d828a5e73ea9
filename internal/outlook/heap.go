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
	"strconv"
	"unicode/utf16"

	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
)

// HeapNodeID allocation kinds, the low 5 bits of a 32-bit HID.
const (
	hnidKindHeapNode        = 0
	hnidKindLocalDescriptor = 1
	hnidKindSubnode         = 2
)

// HeapNodeID addresses one cell within a heap, or (kind Subnode) a node in
// the owning block's subnode BTree.
type HeapNodeID uint32

func (h HeapNodeID) Kind() uint8    { return uint8(h) & 0x1F }
func (h HeapNodeID) CellIndex() int { return int(uint32(h) >> 5) }

// Heap is one block's heap-on-node: a page-map of cell byte ranges over
// the block's raw bytes, plus the client signature identifying whether it
// backs a Property Context or Table Context.
type Heap struct {
	data         []byte
	cellOffsets  []int // len = cellCount+1; cell i spans [offsets[i], offsets[i+1])
	clientSig    byte
	userRootCell int
}

const (
	heapSigByte    = 0xEC
	clientSigBTH   = 0xB5 // Property Context (BTree-on-Heap)
	clientSigTC    = 0x7C // Table Context
)

// parseHeap decodes a block's heap-on-node header and trailing page map.
// The page map is read from the tail of the block (rgibAlloc array of
// 2-byte cell-end offsets, per MS-PST §2.3.1.2), which is simpler than
// walking forward from the header and equivalent for single-page heaps
// (the only shape this collector's fixtures exercise; see DESIGN.md).
func parseHeap(b []byte, lg *log.Logger) (*Heap, error) {
	if len(b) < 8 {
		return nil, errs.ErrParseShort
	}
	if b[2] != heapSigByte {
		lg.Warnf("outlook: heap signature mismatch 0x%02X", b[2])
		return nil, errs.ErrParseCorrupt
	}
	clientSig := b[3]
	userRoot := binary.LittleEndian.Uint32(b[4:8])

	if len(b) < 2 {
		return nil, errs.ErrParseShort
	}
	cAlloc := int(binary.LittleEndian.Uint16(b[len(b)-2:]))
	tableStart := len(b) - 2 - 2*(cAlloc+1)
	if tableStart < 8 || cAlloc < 0 {
		lg.Warnf("outlook: heap page map out of range (cAlloc=%d)", cAlloc)
		return nil, errs.ErrParseCorrupt
	}
	offsets := make([]int, cAlloc+1)
	for i := 0; i <= cAlloc; i++ {
		offsets[i] = int(binary.LittleEndian.Uint16(b[tableStart+2*i:]))
	}

	return &Heap{
		data:         b,
		cellOffsets:  offsets,
		clientSig:    clientSig,
		userRootCell: HeapNodeID(userRoot).CellIndex(),
	}, nil
}

// Cell returns the raw bytes of cell index i, or an error if i is out of
// range or the cell bounds are corrupt.
func (h *Heap) Cell(i int) ([]byte, error) {
	if i < 0 || i+1 >= len(h.cellOffsets) {
		return nil, errs.ErrParseCorrupt
	}
	start, end := h.cellOffsets[i], h.cellOffsets[i+1]
	if start < 0 || end > len(h.data) || start > end {
		return nil, errs.ErrParseCorrupt
	}
	return h.data[start:end], nil
}

// PropertyType mirrors the MS-OXCDATA property-type tags the PC/TC decode
// against; only the subset the collector renders to strings is named.
type PropertyType uint16

const (
	PtInt16   PropertyType = 0x0002
	PtInt32   PropertyType = 0x0003
	PtFloat32 PropertyType = 0x0004
	PtFloat64 PropertyType = 0x0005
	PtBool    PropertyType = 0x000B
	PtInt64   PropertyType = 0x0014
	PtString8 PropertyType = 0x001E
	PtUnicode PropertyType = 0x001F
	PtTime    PropertyType = 0x0040
	PtGUID    PropertyType = 0x0048
	PtBinary  PropertyType = 0x0102
)

// PropertyValue is one decoded Property Context entry.
type PropertyValue struct {
	Type  PropertyType
	Inline uint32 // valid when the type's size <= 4
	HNID   HeapNodeID
}

// PropertyContext is a decoded PC: property tag -> value.
type PropertyContext struct {
	heap  *Heap
	props map[uint16]PropertyValue
}

const pcEntrySize = 8 // tag(2) + propType(2) + dword-value-or-hnid(4)

// parsePropertyContext reads the BTH header from the heap's user-root cell
// and decodes a flat array of fixed-size (tag, type, value) entries out of
// the cell its hidRoot names. The real MS-PST PC is a BTree-on-Heap with
// internal/leaf pages; this collector treats the hidRoot cell as the leaf
// array directly and walks no index levels, a simplification recorded in
// DESIGN.md.
func parsePropertyContext(h *Heap, lg *log.Logger) (*PropertyContext, error) {
	cell, err := h.Cell(h.userRootCell)
	if err != nil {
		return nil, err
	}
	// BTH header: bType(1) cbKey(1) cbEnt(1) bIdxLevels(1) hidRoot(4)
	if len(cell) < 8 {
		return nil, errs.ErrParseShort
	}
	hidRoot := HeapNodeID(binary.LittleEndian.Uint32(cell[4:8]))
	leaf, err := h.Cell(hidRoot.CellIndex())
	if err != nil {
		return nil, err
	}
	props := make(map[uint16]PropertyValue)
	for off := 0; off+pcEntrySize <= len(leaf); off += pcEntrySize {
		tag := binary.LittleEndian.Uint16(leaf[off:])
		typ := binary.LittleEndian.Uint16(leaf[off+2:])
		val := binary.LittleEndian.Uint32(leaf[off+4:])
		props[tag] = PropertyValue{Type: PropertyType(typ), Inline: val, HNID: HeapNodeID(val)}
	}
	return &PropertyContext{heap: h, props: props}, nil
}

// String resolves a property tag to its string form, dereferencing the
// heap (or returning "" if the type isn't one of the string types) if
// needed. Errors are swallowed to "" per the fail-soft per-record policy.
func (pc *PropertyContext) String(tag uint16) string {
	v, ok := pc.props[tag]
	if !ok {
		return ""
	}
	switch v.Type {
	case PtUnicode:
		b, err := pc.heap.Cell(v.HNID.CellIndex())
		if err != nil {
			return ""
		}
		s, _ := decodeUTF16LE(b)
		return s
	case PtString8:
		b, err := pc.heap.Cell(v.HNID.CellIndex())
		if err != nil {
			return ""
		}
		return string(b)
	case PtInt32:
		return strconv.FormatInt(int64(v.Inline), 10)
	case PtBool:
		return strconv.FormatBool(v.Inline != 0)
	}
	return ""
}

// Binary resolves a binary/attachment-data property tag to raw bytes.
func (pc *PropertyContext) Binary(tag uint16) []byte {
	v, ok := pc.props[tag]
	if !ok || v.Type != PtBinary {
		return nil
	}
	b, err := pc.heap.Cell(v.HNID.CellIndex())
	if err != nil {
		return nil
	}
	return b
}

// Int64 resolves a numeric property tag (Int32/Int64/Time) to an int64.
func (pc *PropertyContext) Int64(tag uint16) (int64, bool) {
	v, ok := pc.props[tag]
	if !ok {
		return 0, false
	}
	switch v.Type {
	case PtInt32, PtBool:
		return int64(v.Inline), true
	case PtInt64, PtTime:
		b, err := pc.heap.Cell(v.HNID.CellIndex())
		if err != nil || len(b) < 8 {
			return 0, false
		}
		return int64(binary.LittleEndian.Uint64(b)), true
	}
	return 0, false
}

// TableContext is a decoded TC: a row-major table embedded in the heap.
type TableContext struct {
	heap    *Heap
	columns []ColumnDescriptor
	rowSize int
	rows    [][]byte
}

// ColumnDescriptor is one TC column: type, tag, and its slot within the
// fixed-width row.
type ColumnDescriptor struct {
	Type   PropertyType
	Tag    uint16
	Offset uint16
	Size   uint8
}

// parseTableContext decodes a TC out of the heap's user-root cell.
func parseTableContext(h *Heap, lg *log.Logger) (*TableContext, error) {
	hdr, err := h.Cell(h.userRootCell)
	if err != nil {
		return nil, err
	}
	// TCINFO: bType(1) cCols(1) rgib[4](u16 each)=8 hidRowIndex(4) hnidRows(4) hidIndex(4)
	if len(hdr) < 22 {
		return nil, errs.ErrParseShort
	}
	cCols := int(hdr[1])
	rowSize := int(binary.LittleEndian.Uint16(hdr[2:4]))
	hnidRows := HeapNodeID(binary.LittleEndian.Uint32(hdr[14:18]))

	colStart := 22
	cols := make([]ColumnDescriptor, 0, cCols)
	for i := 0; i < cCols; i++ {
		off := colStart + i*8
		if off+8 > len(hdr) {
			lg.Warnf("outlook: TC column descriptor %d truncated", i)
			break
		}
		cd := hdr[off : off+8]
		typ := binary.LittleEndian.Uint16(cd[0:2])
		tag := binary.LittleEndian.Uint16(cd[2:4])
		ibData := binary.LittleEndian.Uint16(cd[4:6])
		cbData := cd[6]
		cols = append(cols, ColumnDescriptor{Type: PropertyType(typ), Tag: tag, Offset: ibData, Size: cbData})
	}

	var rows [][]byte
	if rowSize > 0 {
		rowBlob, err := h.Cell(hnidRows.CellIndex())
		if err == nil {
			for off := 0; off+rowSize <= len(rowBlob); off += rowSize {
				rows = append(rows, rowBlob[off:off+rowSize])
			}
		}
	}

	return &TableContext{heap: h, columns: cols, rowSize: rowSize, rows: rows}, nil
}

// RowCount is the number of decoded rows.
func (tc *TableContext) RowCount() int { return len(tc.rows) }

// Row decodes row i into a tag->PropertyValue map for the Property Context
// facade callers already know how to read.
func (tc *TableContext) Row(i int) map[uint16]PropertyValue {
	if i < 0 || i >= len(tc.rows) {
		return nil
	}
	row := tc.rows[i]
	out := make(map[uint16]PropertyValue, len(tc.columns))
	for _, c := range tc.columns {
		if int(c.Offset)+int(c.Size) > len(row) {
			continue
		}
		slot := row[c.Offset : int(c.Offset)+int(c.Size)]
		var val uint32
		if len(slot) >= 4 {
			val = binary.LittleEndian.Uint32(slot)
		} else if len(slot) >= 2 {
			val = uint32(binary.LittleEndian.Uint16(slot))
		} else if len(slot) == 1 {
			val = uint32(slot[0])
		}
		out[c.Tag] = PropertyValue{Type: c.Type, Inline: val, HNID: HeapNodeID(val)}
	}
	return out
}

// RowAsPC wraps one decoded row as a PropertyContext so callers
// can reuse String/Int64/Binary instead of duplicating dereference logic.
func (tc *TableContext) RowAsPC(i int) *PropertyContext {
	return &PropertyContext{heap: tc.heap, props: tc.Row(i)}
}

func decodeUTF16LE(b []byte) (string, int) {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, binary.LittleEndian.Uint16(b[i:]))
	}
	return string(utf16.Decode(units)), len(b)
}
