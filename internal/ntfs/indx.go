/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ntfs

import (
	"bytes"
	"encoding/binary"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/model"
)

const indxHeaderSize = 24

// ParseIndxSlack searches the allocation slack of an $INDX ($I30) attribute
// for recovered $FILE_NAME entries belonging to deleted children of
// `directory`. Within each INDX block it treats the bytes from the block's
// recordSize up to its allocatedSize as slack; every live block carries the
// enclosing directory's parent MFT reference at a fixed offset, and the
// miner scans the slack for that same 8-byte reference. On a hit it reads
// the child MFT reference 16 bytes before the match and decodes the entry
// that starts at the match. The next block begins allocatedSize+24 bytes on.
//
// Failed parses advance one byte and retry; the miner never loops forever
// because each successful or failed attempt consumes at least one byte.
func ParseIndxSlack(data []byte, directory string, depth int) []model.RawMftRecord {
	var out []model.RawMftRecord
	buf := data
	minParentSize := 64

	for len(buf) > minParentSize {
		parentRef, recordSize, allocatedSize, ok := mftParentReference(buf)
		if !ok || recordSize == 0 || allocatedSize < recordSize || int(recordSize) > len(buf) {
			break
		}
		rest := buf[recordSize:]
		if int(allocatedSize-recordSize) > len(rest) {
			break
		}
		slack := rest[:allocatedSize-recordSize]

		for len(slack) > 0 {
			idx := bytes.Index(slack, parentRef)
			if idx < 0 {
				break
			}
			// the recovered index entry's own header (child MFT
			// reference + entry sizes) precedes the matched parent
			// reference by 16 bytes when intact.
			var childRef uint64
			if idx >= 16 {
				childRef = binary.LittleEndian.Uint64(slack[idx-16 : idx-8])
			}
			entry := slack[idx:]
			slack = slack[idx+1:]

			rec, consumed, ok := parseSlackEntry(entry, childRef, parentRef, directory, depth)
			if !ok {
				continue
			}
			out = append(out, rec)
			if consumed <= len(slack) {
				slack = slack[:0] // each slack block yields at most one record in this scan pass
			}
		}

		next := int(allocatedSize) + indxHeaderSize
		if next > len(buf) {
			break
		}
		buf = buf[next:]
	}
	return out
}

// mftParentReference reads the directory's parent MFT reference out of the
// first live INDX entry, plus the record/allocated sizes from the INDX
// header.
func mftParentReference(data []byte) (parentRef []byte, recordSize, allocatedSize uint32, ok bool) {
	if len(data) < indxHeaderSize+12 {
		return nil, 0, 0, false
	}
	header := data[indxHeaderSize:]
	offsetSize := binary.LittleEndian.Uint32(header[0:4])
	recordSize = binary.LittleEndian.Uint32(header[4:8])
	allocatedSize = binary.LittleEndian.Uint32(header[8:12])

	entryStart := int(offsetSize) + indxHeaderSize
	const parentOffsetInEntry = 16
	need := entryStart + parentOffsetInEntry + 8
	if need > len(data) {
		return nil, 0, 0, false
	}
	parentRef = data[entryStart+parentOffsetInEntry : entryStart+parentOffsetInEntry+8]
	return parentRef, recordSize, allocatedSize, true
}

// parseSlackEntry decodes one recovered $FILE_NAME-shaped record starting
// at a located parent-reference match in slack space.
func parseSlackEntry(entry []byte, childRef uint64, parentRef []byte, directory string, depth int) (model.RawMftRecord, int, bool) {
	// entry begins at the parent reference; the remaining $FILE_NAME body
	// (timestamps, sizes, flags, name) follows it in the live layout.
	body := entry[len(parentRef):]
	if len(body) < 66 {
		return model.RawMftRecord{}, 0, false
	}
	created := binary.LittleEndian.Uint64(body[0:8])
	modified := binary.LittleEndian.Uint64(body[8:16])
	changed := binary.LittleEndian.Uint64(body[16:24])
	accessed := binary.LittleEndian.Uint64(body[24:32])
	// allocated size (8 bytes) skipped
	size := binary.LittleEndian.Uint64(body[40:48])
	flags := binary.LittleEndian.Uint32(body[48:52])
	// extended flags (4 bytes) skipped
	nameLen := body[56]
	if nameLen == 0 {
		return model.RawMftRecord{}, 0, false
	}
	nameStart := 58
	nameBytes := int(nameLen) * 2
	if nameStart+nameBytes > len(body) {
		return model.RawMftRecord{}, 0, false
	}
	name, _ := byteprim.ExtractUTF16LE(append(body[nameStart:nameStart+nameBytes:nameStart+nameBytes], 0, 0))

	// recovered entries keep the full 64-bit file references: the
	// sequence half is part of what identifies a deleted child, and
	// masking it would collide distinct generations of the same index.
	parentRefVal := binary.LittleEndian.Uint64(parentRef)

	rec := model.RawMftRecord{
		MFTIndex:         childRef,
		ParentMFTIndex:   parentRefVal,
		FullPath:         directory + `\` + name,
		FilenameCreated:  byteprim.FiletimeToISO8601(created),
		FilenameModified: byteprim.FiletimeToISO8601(modified),
		FilenameChanged:  byteprim.FiletimeToISO8601(changed),
		FilenameAccessed: byteprim.FiletimeToISO8601(accessed),
		FileSize:         int64(size),
		AttributeFlags:   flags,
		IsIndx:           true,
	}
	_ = depth
	return rec, nameStart + nameBytes, true
}
