/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package outlook implements the Outlook PST/OST engine: two cooperating
// B-trees (Node BTree, Block BTree) layered over the file, a heap-on-node
// allocator carrying Property Context and Table Context tables, and
// folder/message/attachment extraction on top of those. Layouts follow
// MS-PST; libpff is the cross-check for the underdocumented corners.
package outlook

import (
	"encoding/binary"
	"io"

	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
)

// FormatType is the file-header-derived variant every subsequent read
// branches on.
type FormatType int

const (
	FormatUnknown FormatType = iota
	FormatANSI32             // legacy PST, 32-bit offsets
	FormatUnicode64          // 64-bit offsets, 512-byte BTree pages
	FormatUnicode64_4k       // 64-bit offsets, 4KiB BTree pages
)

const headerMagic = 0x4E444221 // "!BDN" little-endian u32

// wVer values from the header that select the format, per MS-PST §2.2.2.6.
const (
	verANSI       = 14
	verANSI2      = 15
	verUnicode    = 23
	verUnicode4k  = 36
	verUnicode4k2 = 37
)

// geometry holds the per-format sizes every BTree/heap read needs.
type geometry struct {
	format       FormatType
	pageSize     int
	bidSize      int // bytes in a BID/NID-as-offset field
	brefSize     int // ib + bid
	branchEntry  int // key + bref
	nbtLeafEntry int
	bbtLeafEntry int
	trailerSize  int
}

func geometryFor(f FormatType) geometry {
	switch f {
	case FormatANSI32:
		return geometry{format: f, pageSize: 512, bidSize: 4, brefSize: 8, branchEntry: 12, nbtLeafEntry: 16, bbtLeafEntry: 12, trailerSize: 12}
	case FormatUnicode64_4k:
		return geometry{format: f, pageSize: 4096, bidSize: 8, brefSize: 16, branchEntry: 24, nbtLeafEntry: 32, bbtLeafEntry: 24, trailerSize: 24}
	default: // FormatUnicode64
		return geometry{format: f, pageSize: 512, bidSize: 8, brefSize: 16, branchEntry: 24, nbtLeafEntry: 32, bbtLeafEntry: 24, trailerSize: 24}
	}
}

// BREF is a (offset, block/node id) pair; the file-offset half is only
// meaningful for BBT entries (NBT entries carry data/sub BIDs instead).
type BREF struct {
	IB  uint64
	BID uint64
}

// Header is the parsed fixed portion of a PST/OST file header needed to
// locate the two root BTree pages.
type Header struct {
	Format      FormatType
	RootNBT     BREF
	RootBBT     BREF
}

// Root offsets of the ROOT struct within the header, per MS-PST §2.2.2.7.1.
// These are approximate to the public MS-PST layout (see DESIGN.md for the
// fidelity tradeoff this module makes in the absence of a real fixture).
const (
	rootOffsetANSI    = 0x4C
	rootOffsetUnicode = 0xA8
)

// ParseHeader reads and validates a PST/OST file header, returning the
// detected FormatType and the two BTree roots.
func ParseHeader(r io.ReaderAt, lg *log.Logger) (Header, error) {
	if lg == nil {
		lg = log.NewDiscard()
	}
	buf := make([]byte, 564)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return Header{}, errs.ErrSourceUnavailable
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != headerMagic {
		lg.Warnf("outlook: bad header magic 0x%08X", magic)
		return Header{}, errs.ErrParseCorrupt
	}
	wVer := binary.LittleEndian.Uint16(buf[10:12])

	var format FormatType
	switch wVer {
	case verANSI, verANSI2:
		format = FormatANSI32
	case verUnicode:
		format = FormatUnicode64
	case verUnicode4k, verUnicode4k2:
		format = FormatUnicode64_4k
	default:
		lg.Warnf("outlook: unrecognized header wVer %d", wVer)
		return Header{}, errs.ErrParseCorrupt
	}

	g := geometryFor(format)
	rootOff := rootOffsetUnicode
	if format == FormatANSI32 {
		rootOff = rootOffsetANSI
	}
	// ROOT struct: dwReserved(4) ibFileEof ibAMapLast cbAMapFree cbPMapFree,
	// then BREFNBT, then BREFBBT, each field width = g.bidSize.
	skip := 4 + 4*g.bidSize
	nbtOff := rootOff + skip
	bbtOff := nbtOff + g.brefSize
	if bbtOff+g.brefSize > len(buf) {
		return Header{}, errs.ErrParseShort
	}
	nbt, err := readBREF(buf[nbtOff:], g)
	if err != nil {
		return Header{}, err
	}
	bbt, err := readBREF(buf[bbtOff:], g)
	if err != nil {
		return Header{}, err
	}
	return Header{Format: format, RootNBT: nbt, RootBBT: bbt}, nil
}

func readBREF(b []byte, g geometry) (BREF, error) {
	if len(b) < g.brefSize {
		return BREF{}, errs.ErrParseShort
	}
	if g.bidSize == 8 {
		ib := binary.LittleEndian.Uint64(b[0:8])
		bid := binary.LittleEndian.Uint64(b[8:16])
		return BREF{IB: ib, BID: bid}, nil
	}
	ib := uint64(binary.LittleEndian.Uint32(b[0:4]))
	bid := uint64(binary.LittleEndian.Uint32(b[4:8]))
	return BREF{IB: ib, BID: bid}, nil
}

// NID node-type tags, the low 5 bits of a NodeID, per MS-PST §2.3.4.1.
const (
	nidTypeFolder        = 0x02
	nidTypeSearchFolder  = 0x03
	nidTypeMessage       = 0x04
	nidTypeAttachment    = 0x05
	nidTypeAssocMessage  = 0x06
	nidTypeMessageSubtbl = 0x07
)

// NodeID decodes a 32-bit PST node id into its type tag and number.
type NodeID uint32

func (n NodeID) Type() uint8   { return uint8(n) & 0x1F }
func (n NodeID) Number() uint32 { return uint32(n) >> 5 }

func (n NodeID) IsFolder() bool     { return n.Type() == nidTypeFolder }
func (n NodeID) IsMessage() bool    { return n.Type() == nidTypeMessage || n.Type() == nidTypeAssocMessage }
func (n NodeID) IsAttachment() bool { return n.Type() == nidTypeAttachment }

// blockIsInternal reports whether a BID addresses an internal ("XBLOCK"
// fan-out / heap metadata) block rather than a leaf external data block,
// per MS-PST §2.2.2.8: bit 1 of the BID is the internal marker.
func blockIsInternal(bid uint64) bool { return bid&0x2 != 0 }
