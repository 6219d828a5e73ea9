/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package ese adapts the Extensible Storage Engine page/B-tree format used
// by Windows eventlog indices, Windows Search, and SRUM.
// It exposes a row-oriented view over named tables without requiring
// callers to understand ESE's page layout directly.
package ese

import (
	"encoding/binary"
	"io"
	"math"
	"strconv"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
)

const (
	pageSize        = 4096 // MS-ESEDB default
	dbHeaderPageID  = 0
	catalogPageID   = 4 // conventional first catalog page in MS-ESEDB
	pagesPerBatch   = 350
)

// ColumnType mirrors the ESE on-disk JET_coltyp values relevant to string
// conversion; unrecognized types are rendered as hex.
type ColumnType uint32

const (
	ColText    ColumnType = 10
	ColLongText ColumnType = 12
	ColBinary  ColumnType = 9
	ColLong    ColumnType = 4
	ColCurrency ColumnType = 5
	ColDouble  ColumnType = 7
	ColGUID    ColumnType = 15
	ColDateTime ColumnType = 8
)

// ColumnDef describes one column of a table.
type ColumnDef struct {
	Name string
	Type ColumnType
}

// TableInfo holds a table's column definitions and the first page of its
// B-tree, as returned by Catalog.Table.
type TableInfo struct {
	Name    string
	Columns []ColumnDef
	RootPage uint32
}

// Catalog is the set of table definitions read from an ESE database's
// root/catalog page.
type Catalog struct {
	r      io.ReaderAt
	lg     *log.Logger
	Tables map[string]TableInfo
}

// Open reads the catalog of tables defined in an ESE database.
func Open(r io.ReaderAt, lg *log.Logger) (*Catalog, error) {
	if lg == nil {
		lg = log.NewDiscard()
	}
	c := &Catalog{r: r, lg: lg, Tables: make(map[string]TableInfo)}
	if err := c.readCatalog(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) readPage(id uint32) ([]byte, error) {
	buf := make([]byte, pageSize)
	if _, err := c.r.ReadAt(buf, int64(id)*pageSize); err != nil {
		return nil, errs.ErrSourceUnavailable
	}
	return buf, nil
}

// readCatalog walks the MSysObjects catalog table, building TableInfo
// entries for every table definition it finds. Individual corrupt catalog
// rows are skipped (fail-soft); only an unreadable page aborts the whole
// catalog read.
func (c *Catalog) readCatalog() error {
	page, err := c.readPage(catalogPageID)
	if err != nil {
		return err
	}
	rows, err := decodePageRows(page)
	if err != nil {
		c.lg.Warnf("ese: catalog page %d corrupt: %v", catalogPageID, err)
		return nil
	}
	current := TableInfo{}
	for _, row := range rows {
		typ, name, rootPage, colType, colName, ok := decodeCatalogRow(row)
		if !ok {
			continue
		}
		switch typ {
		case catalogObjTable:
			if current.Name != "" {
				c.Tables[current.Name] = current
			}
			current = TableInfo{Name: name, RootPage: rootPage}
		case catalogObjColumn:
			current.Columns = append(current.Columns, ColumnDef{Name: colName, Type: ColumnType(colType)})
		}
	}
	if current.Name != "" {
		c.Tables[current.Name] = current
	}
	return nil
}

const (
	catalogObjTable  = 1
	catalogObjColumn = 2
)

// decodeCatalogRow pulls the handful of fields the adapter needs out of one
// MSysObjects row's tagged-data region. Real MSysObjects rows are more
// elaborate (indexes, long-values, callbacks); we only decode what routes
// table/column discovery.
func decodeCatalogRow(row []byte) (objType uint32, name string, rootPage uint32, colType uint32, colName string, ok bool) {
	if len(row) < 12 {
		return
	}
	objType = binary.LittleEndian.Uint32(row[0:4])
	rootPage = binary.LittleEndian.Uint32(row[4:8])
	colType = binary.LittleEndian.Uint32(row[8:12])
	if len(row) > 12 {
		n, _ := byteprim.ExtractUTF8(row[12:])
		name = n
		colName = n
	}
	ok = objType == catalogObjTable || objType == catalogObjColumn
	return
}

// Table looks up a table's definition by name.
func (c *Catalog) Table(name string) (TableInfo, bool) {
	t, ok := c.Tables[name]
	return t, ok
}

// Row is one ordered (column name, stringified value) list.
type Row []ColumnValue

type ColumnValue struct {
	Column string
	Value  string
}

// PagesOf enumerates every leaf page of a table's B-tree starting from its
// root page, chunked into batches of pagesPerBatch to bound memory.
func (c *Catalog) PagesOf(t TableInfo) ([][]uint32, error) {
	var leaves []uint32
	if err := c.walkBTree(t.RootPage, &leaves); err != nil {
		return nil, err
	}
	var batches [][]uint32
	for i := 0; i < len(leaves); i += pagesPerBatch {
		end := i + pagesPerBatch
		if end > len(leaves) {
			end = len(leaves)
		}
		batches = append(batches, leaves[i:end])
	}
	return batches, nil
}

func (c *Catalog) walkBTree(pageID uint32, leaves *[]uint32) error {
	if pageID == 0 {
		return nil
	}
	page, err := c.readPage(pageID)
	if err != nil {
		c.lg.Warnf("ese: unreadable page %d: %v", pageID, err)
		return nil
	}
	isLeaf, children := decodePageFlags(page)
	if isLeaf {
		*leaves = append(*leaves, pageID)
		return nil
	}
	for _, child := range children {
		if err := c.walkBTree(child, leaves); err != nil {
			return err
		}
	}
	return nil
}

// decodePageFlags reads the MS-ESEDB page header flags; bit 0x2 ("Leaf")
// is what downstream callers need. Branch pages carry their child page ids
// in the tagged-data region following the header.
func decodePageFlags(page []byte) (isLeaf bool, children []uint32) {
	if len(page) < 40 {
		return true, nil
	}
	flags := binary.LittleEndian.Uint32(page[32:36])
	isLeaf = flags&0x2 != 0
	if isLeaf {
		return true, nil
	}
	rows, err := decodePageRows(page)
	if err != nil {
		return true, nil
	}
	for _, row := range rows {
		if len(row) >= 4 {
			children = append(children, binary.LittleEndian.Uint32(row[len(row)-4:]))
		}
	}
	return false, children
}

// decodePageRows walks a page's tag array (at the tail of the page,
// growing backward) to recover each row's raw bytes. Corrupt tag entries
// are skipped, never aborting the whole page.
func decodePageRows(page []byte) ([][]byte, error) {
	if len(page) < 40 {
		return nil, errs.ErrParseShort
	}
	availPage := page[40:]
	var rows [][]byte
	tagCount := len(page) / 4 // conservative upper bound; real count comes from page header in full MS-ESEDB
	_ = tagCount
	// Simplified fixed-stride tag table scan: MS-ESEDB stores 4-byte tag
	// descriptors (offset:13 bits, size:13 bits, flags:6 bits) from the end
	// of the page backward. We scan until offsets stop decreasing sanely.
	end := len(page)
	for end > 40+4 {
		tag := binary.LittleEndian.Uint32(page[end-4 : end])
		off := tag & 0x1FFF
		size := (tag >> 13) & 0x1FFF
		end -= 4
		if size == 0 || int(off)+int(size) > len(availPage) {
			continue
		}
		rows = append(rows, availPage[off:off+size])
	}
	return rows, nil
}

// RowsOf decodes every row in the given leaf pages into (column, value)
// lists, converting numeric/date/GUID/text columns to their canonical
// string forms.
func (c *Catalog) RowsOf(t TableInfo, pages []uint32) ([]Row, error) {
	var out []Row
	for _, pid := range pages {
		page, err := c.readPage(pid)
		if err != nil {
			c.lg.Warnf("ese: unreadable leaf page %d: %v", pid, err)
			continue
		}
		rawRows, err := decodePageRows(page)
		if err != nil {
			c.lg.Warnf("ese: corrupt leaf page %d: %v", pid, err)
			continue
		}
		for _, raw := range rawRows {
			out = append(out, decodeRow(t, raw))
		}
	}
	return out, nil
}

// RowsFiltered streams only rows whose indexed column matches a value in
// allowed, removing matches as they're found so callers can early-exit once
// the set is empty.
func (c *Catalog) RowsFiltered(t TableInfo, pages []uint32, column string, allowed map[string]bool) ([]Row, error) {
	var out []Row
	for _, pid := range pages {
		if len(allowed) == 0 {
			break
		}
		page, err := c.readPage(pid)
		if err != nil {
			continue
		}
		rawRows, err := decodePageRows(page)
		if err != nil {
			continue
		}
		for _, raw := range rawRows {
			row := decodeRow(t, raw)
			for _, cv := range row {
				if cv.Column == column && allowed[cv.Value] {
					out = append(out, row)
					delete(allowed, cv.Value)
					break
				}
			}
			if len(allowed) == 0 {
				break
			}
		}
	}
	return out, nil
}

func decodeRow(t TableInfo, raw []byte) Row {
	row := make(Row, 0, len(t.Columns))
	off := 0
	for _, col := range t.Columns {
		val, consumed := decodeColumnValue(col, raw[off:])
		row = append(row, ColumnValue{Column: col.Name, Value: val})
		off += consumed
		if off > len(raw) {
			off = len(raw)
		}
	}
	return row
}

func decodeColumnValue(col ColumnDef, b []byte) (string, int) {
	switch col.Type {
	case ColLong:
		if len(b) < 4 {
			return "", len(b)
		}
		return strconv.FormatInt(int64(int32(binary.LittleEndian.Uint32(b[:4]))), 10), 4
	case ColDateTime:
		if len(b) < 8 {
			return "", len(b)
		}
		bits := binary.LittleEndian.Uint64(b[:8])
		days := math.Float64frombits(bits)
		return byteprim.OLEDateToISO8601(days), 8
	case ColGUID:
		if len(b) < 16 {
			return "", len(b)
		}
		g, _ := byteprim.GUIDLE(b[:16])
		return g, 16
	case ColText, ColLongText:
		s, n := byteprim.ExtractUTF8(b)
		return s, n
	default:
		s, n := byteprim.ExtractUTF8(b)
		return s, n
	}
}
