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
	"io"

	"github.com/minio/highwayhash"

	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
)

// pageChecksumKey seeds the highwayhash page fingerprint used to diagnose
// duplicate block IDs across BTree chains: two leaves with the same BID
// but different page contents indicate a corrupt or forged BBT.
var pageChecksumKey = make([]byte, 32)

func pageChecksum(b []byte) uint64 {
	return highwayhash.Sum64(b, pageChecksumKey)
}

// LeafNodeData is one resolved Node BTree entry: a NodeID mapped to the
// block holding its data and, optionally, its subnode tree, plus the
// parent node (used by folder enumeration to find children).
type LeafNodeData struct {
	NID       NodeID
	DataBID   uint64
	SubBID    uint64
	ParentNID uint32
}

// LeafBlockData is one resolved Block BTree entry.
type LeafBlockData struct {
	BID        uint64
	Offset     uint64
	Size       uint16
	TotalSize  uint16
	Internal   bool
	RefCount   uint16
}

// pageTrailer is the constant-size footer every BTree page carries; the
// walker reads only the entry count and cLevel (0 = leaf).
type pageTrailer struct {
	numEntries int
	level      uint8
}

func readTrailer(page []byte, g geometry) pageTrailer {
	t := page[len(page)-g.trailerSize:]
	return pageTrailer{numEntries: int(t[0]), level: t[3]}
}

// walkNBT walks the Node BTree rooted at root, building a map from NodeID
// to LeafNodeData; the map keeps no order. A corrupt branch page is warned and skipped (fail-soft);
// an unreadable page aborts the walk with the I/O error.
func walkNBT(r io.ReaderAt, g geometry, root BREF, lg *log.Logger) (map[uint32]LeafNodeData, error) {
	out := make(map[uint32]LeafNodeData)
	var walk func(off uint64) error
	walk = func(off uint64) error {
		page := make([]byte, g.pageSize)
		if _, err := r.ReadAt(page, int64(off)); err != nil {
			return errs.ErrSourceUnavailable
		}
		t := readTrailer(page, g)
		if t.level > 0 {
			entries, err := decodeBranchEntries(page, g, t.numEntries)
			if err != nil {
				lg.Warnf("outlook: NBT branch page at %d corrupt: %v", off, err)
				return nil
			}
			for _, e := range entries {
				if err := walk(e.ib); err != nil {
					return err
				}
			}
			return nil
		}
		leaves, err := decodeNBTLeaves(page, g, t.numEntries)
		if err != nil {
			lg.Warnf("outlook: NBT leaf page at %d corrupt: %v", off, err)
			return nil
		}
		for _, l := range leaves {
			out[uint32(l.NID)] = l
		}
		return nil
	}
	if err := walk(root.IB); err != nil {
		return nil, err
	}
	return out, nil
}

// walkBBT walks the Block BTree the same way walkNBT walks the NBT,
// fingerprinting each leaf page so duplicate block IDs reached through
// different BTree chains can be told apart from genuinely re-linked pages.
func walkBBT(r io.ReaderAt, g geometry, root BREF, lg *log.Logger) (map[uint64]LeafBlockData, error) {
	out := make(map[uint64]LeafBlockData)
	seenPage := make(map[uint64]uint64) // BID -> checksum of the page that defined it
	var walk func(off uint64) error
	walk = func(off uint64) error {
		page := make([]byte, g.pageSize)
		if _, err := r.ReadAt(page, int64(off)); err != nil {
			return errs.ErrSourceUnavailable
		}
		t := readTrailer(page, g)
		if t.level > 0 {
			entries, err := decodeBranchEntries(page, g, t.numEntries)
			if err != nil {
				lg.Warnf("outlook: BBT branch page at %d corrupt: %v", off, err)
				return nil
			}
			for _, e := range entries {
				if err := walk(e.ib); err != nil {
					return err
				}
			}
			return nil
		}
		leaves, err := decodeBBTLeaves(page, g, t.numEntries)
		if err != nil {
			lg.Warnf("outlook: BBT leaf page at %d corrupt: %v", off, err)
			return nil
		}
		sum := pageChecksum(page)
		for _, l := range leaves {
			if prev, dup := seenPage[l.BID]; dup && prev != sum {
				lg.Warnf("outlook: BID %#x defined by conflicting BBT pages, keeping first", l.BID)
				continue
			}
			seenPage[l.BID] = sum
			out[l.BID] = l
		}
		return nil
	}
	if err := walk(root.IB); err != nil {
		return nil, err
	}
	return out, nil
}

type branchEntry struct {
	key uint64
	ib  uint64
}

func decodeBranchEntries(page []byte, g geometry, n int) ([]branchEntry, error) {
	if n*g.branchEntry > len(page) {
		return nil, errs.ErrParseShort
	}
	out := make([]branchEntry, 0, n)
	for i := 0; i < n; i++ {
		e := page[i*g.branchEntry : (i+1)*g.branchEntry]
		key := readUint(e[:g.bidSize])
		bref := e[g.bidSize:]
		ib := readUint(bref[:g.bidSize])
		out = append(out, branchEntry{key: key, ib: ib})
	}
	return out, nil
}

func decodeNBTLeaves(page []byte, g geometry, n int) ([]LeafNodeData, error) {
	if n*g.nbtLeafEntry > len(page) {
		return nil, errs.ErrParseShort
	}
	out := make([]LeafNodeData, 0, n)
	for i := 0; i < n; i++ {
		e := page[i*g.nbtLeafEntry : (i+1)*g.nbtLeafEntry]
		nid := uint32(readUint(e[:g.bidSize]))
		rest := e[g.bidSize:]
		dataBID := readUint(rest[:g.bidSize])
		subBID := readUint(rest[g.bidSize : 2*g.bidSize])
		parent := binary.LittleEndian.Uint32(rest[2*g.bidSize:])
		if nid == 0 {
			continue
		}
		out = append(out, LeafNodeData{NID: NodeID(nid), DataBID: dataBID, SubBID: subBID, ParentNID: parent})
	}
	return out, nil
}

func decodeBBTLeaves(page []byte, g geometry, n int) ([]LeafBlockData, error) {
	if n*g.bbtLeafEntry > len(page) {
		return nil, errs.ErrParseShort
	}
	out := make([]LeafBlockData, 0, n)
	for i := 0; i < n; i++ {
		e := page[i*g.bbtLeafEntry : (i+1)*g.bbtLeafEntry]
		ib := readUint(e[:g.bidSize])
		bid := readUint(e[g.bidSize : 2*g.bidSize])
		rest := e[2*g.bidSize:]
		if len(rest) < 4 {
			continue
		}
		size := binary.LittleEndian.Uint16(rest[0:2])
		total := binary.LittleEndian.Uint16(rest[2:4])
		if bid == 0 {
			continue
		}
		out = append(out, LeafBlockData{BID: bid, Offset: ib, Size: size, TotalSize: total, Internal: blockIsInternal(bid)})
	}
	return out, nil
}

func readUint(b []byte) uint64 {
	if len(b) == 4 {
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}
