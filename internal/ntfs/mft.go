/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package ntfs walks $MFT entries over a rawdisk.Reader, resolves parent
// chains into full paths with a cycle-bounded visited set, and mines
// $INDX allocation slack for recovered deleted entries.
package ntfs

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
	"github.com/gravwell/artemis-collector/internal/model"
	"github.com/gravwell/artemis-collector/internal/rawdisk"
)

const (
	rootMFTIndex    = 5
	defaultRecSize  = 1024
	attrStandardInfo uint32 = 0x10
	attrFileName     uint32 = 0x30
	attrData         uint32 = 0x80
	attrEnd          uint32 = 0xFFFFFFFF
)

// Volume wraps a rawdisk.Reader with the geometry needed to walk $MFT.
type Volume struct {
	r          *rawdisk.Reader
	mftStart   int64
	recordSize int
	lg         *log.Logger

	pathCache map[string]string // "{index}_{sequence}" -> resolved path
}

// NewVolume opens a Volume over an already-opened raw reader. mftStart is
// the byte offset of $MFT entry 0 and recordSize is the per-record size
// (usually 1024).
func NewVolume(r *rawdisk.Reader, mftStart int64, recordSize int, lg *log.Logger) *Volume {
	if recordSize <= 0 {
		recordSize = defaultRecSize
	}
	if lg == nil {
		lg = log.NewDiscard()
	}
	return &Volume{r: r, mftStart: mftStart, recordSize: recordSize, lg: lg, pathCache: make(map[string]string)}
}

// StandardInfo holds the four $STANDARD_INFORMATION timestamps and attribute flags.
type StandardInfo struct {
	Created, Modified, Changed, Accessed string
	AttributeFlags                       uint32
}

// FileNameAttr holds a decoded $FILE_NAME attribute.
type FileNameAttr struct {
	ParentIndex, ParentSequence                   uint64
	Name                                           string
	Namespace                                      byte
	Created, Modified, Changed, Accessed          string
	AllocatedSize, RealSize                        uint64
	Flags                                          uint32
}

// Record is one parsed $MFT entry.
type Record struct {
	Index      uint64
	Sequence   uint16
	InUse      bool
	IsDir      bool
	Standard   *StandardInfo
	FileNames  []FileNameAttr
	DataSize   int64
	ADS        []model.ADSEntry
}

// ReadRecord reads and parses the $MFT entry at the given index.
func (v *Volume) ReadRecord(index uint64) (*Record, error) {
	buf := make([]byte, v.recordSize)
	if err := v.r.ResolveMFTIndex(v.mftStart, v.recordSize, int64(index)); err != nil {
		return nil, errs.ErrSourceUnavailable
	}
	if _, err := io.ReadFull(v.r, buf); err != nil {
		return nil, errs.ErrParseShort
	}
	return parseRecord(index, buf)
}

func parseRecord(index uint64, buf []byte) (*Record, error) {
	// accepts "FILE0"/"FILE*" style signatures: first three bytes "FIL"
	if len(buf) < 48 || !(buf[0] == 'F' && buf[1] == 'I' && buf[2] == 'L') {
		return nil, errs.ErrParseCorrupt
	}

	seq := binary.LittleEndian.Uint16(buf[16:18])
	flags := binary.LittleEndian.Uint16(buf[22:24])
	attrOffset := binary.LittleEndian.Uint16(buf[20:22])

	rec := &Record{
		Index:    index,
		Sequence: seq,
		InUse:    flags&0x1 != 0,
		IsDir:    flags&0x2 != 0,
	}

	off := int(attrOffset)
	for off+8 <= len(buf) {
		attrType := binary.LittleEndian.Uint32(buf[off : off+4])
		if attrType == attrEnd {
			break
		}
		if off+4 > len(buf) {
			break
		}
		attrLen := binary.LittleEndian.Uint32(buf[off+4 : off+8])
		if attrLen == 0 || int(attrLen) > len(buf)-off {
			break // corrupt attribute length; stop walking this record, not the whole volume
		}
		body := buf[off : off+int(attrLen)]

		switch attrType {
		case attrStandardInfo:
			if si := parseStandardInfo(body); si != nil {
				rec.Standard = si
			}
		case attrFileName:
			if fn, err := parseFileName(body); err == nil {
				rec.FileNames = append(rec.FileNames, *fn)
			}
		case attrData:
			rec.DataSize = parseDataSize(body)
		}
		off += int(attrLen)
	}
	return rec, nil
}

func attrResidentContent(body []byte) []byte {
	if len(body) < 24 {
		return nil
	}
	nonResident := body[8]
	if nonResident != 0 {
		return nil
	}
	contentSize := binary.LittleEndian.Uint32(body[16:20])
	contentOffset := binary.LittleEndian.Uint16(body[20:22])
	end := int(contentOffset) + int(contentSize)
	if end > len(body) || int(contentOffset) > end {
		return nil
	}
	return body[contentOffset:end]
}

func parseStandardInfo(body []byte) *StandardInfo {
	content := attrResidentContent(body)
	if len(content) < 32 {
		return nil
	}
	created := binary.LittleEndian.Uint64(content[0:8])
	modified := binary.LittleEndian.Uint64(content[8:16])
	changed := binary.LittleEndian.Uint64(content[16:24])
	accessed := binary.LittleEndian.Uint64(content[24:32])
	var flags uint32
	if len(content) >= 36 {
		flags = binary.LittleEndian.Uint32(content[32:36])
	}
	return &StandardInfo{
		Created:        byteprim.FiletimeToISO8601(created),
		Modified:       byteprim.FiletimeToISO8601(modified),
		Changed:        byteprim.FiletimeToISO8601(changed),
		Accessed:       byteprim.FiletimeToISO8601(accessed),
		AttributeFlags: flags,
	}
}

func parseFileName(body []byte) (*FileNameAttr, error) {
	content := attrResidentContent(body)
	if len(content) < 66 {
		return nil, errs.ErrParseShort
	}
	parentRef := binary.LittleEndian.Uint64(content[0:8])
	parentIndex := parentRef & 0x0000FFFFFFFFFFFF
	parentSeq := uint64(parentRef >> 48)

	created := binary.LittleEndian.Uint64(content[8:16])
	modified := binary.LittleEndian.Uint64(content[16:24])
	changed := binary.LittleEndian.Uint64(content[24:32])
	accessed := binary.LittleEndian.Uint64(content[32:40])
	allocSize := binary.LittleEndian.Uint64(content[40:48])
	realSize := binary.LittleEndian.Uint64(content[48:56])
	flags := binary.LittleEndian.Uint32(content[56:60])
	nameLen := content[64]
	namespace := content[65]

	nameStart := 66
	nameBytes := int(nameLen) * 2
	if nameStart+nameBytes > len(content) {
		return nil, errs.ErrParseShort
	}
	name, _ := byteprim.ExtractUTF16LE(append(content[nameStart:nameStart+nameBytes:nameStart+nameBytes], 0, 0))

	return &FileNameAttr{
		ParentIndex:    parentIndex,
		ParentSequence: parentSeq,
		Name:           name,
		Namespace:      namespace,
		Created:        byteprim.FiletimeToISO8601(created),
		Modified:       byteprim.FiletimeToISO8601(modified),
		Changed:        byteprim.FiletimeToISO8601(changed),
		Accessed:       byteprim.FiletimeToISO8601(accessed),
		AllocatedSize:  allocSize,
		RealSize:       realSize,
		Flags:          flags,
	}, nil
}

func parseDataSize(body []byte) int64 {
	if len(body) < 16 {
		return 0
	}
	nonResident := body[8]
	if nonResident == 0 {
		return int64(binary.LittleEndian.Uint32(body[16:20]))
	}
	if len(body) < 56 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(body[48:56]))
}

// ResolvePath walks parent references upward from (index, sequence) until it
// reaches the root, an empty parent, or re-encounters a visited
// (index, sequence) pair. Forged or corrupt records can chain parents
// into a loop; on a cycle it returns the partial path accumulated so far
// rather than failing.
func (v *Volume) ResolvePath(index uint64, sequence uint16, name string) string {
	visited := make(map[string]bool)
	parts := []string{name}

	curIndex, curSeq := index, sequence
	for {
		key := fmt.Sprintf("%d_%d", curIndex, curSeq)
		if cached, ok := v.pathCache[key]; ok {
			if len(cached) > 0 && cached[0] == '\\' {
				cached = cached[1:]
			}
			parts = append(parts, cached)
			break
		}
		if visited[key] || curIndex == rootMFTIndex || curIndex == 0 {
			break
		}
		visited[key] = true

		rec, err := v.ReadRecord(curIndex)
		if err != nil || len(rec.FileNames) == 0 {
			v.lg.Warnf("ntfs: failed to resolve parent mft index %d: %v", curIndex, err)
			break
		}
		fn := rec.FileNames[0]
		parts = append(parts, fn.Name)
		curIndex, curSeq = fn.ParentIndex, uint16(fn.ParentSequence)
	}

	v.pathCache[fmt.Sprintf("%d_%d", index, sequence)] = joinReverse(parts[1:])
	return joinReverse(parts)
}

func joinReverse(parts []string) string {
	out := ""
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] == "" {
			continue
		}
		out += `\` + parts[i]
	}
	if out == "" {
		return `\`
	}
	return out
}

// WalkFiles enumerates every in-use, non-directory $MFT entry as a
// RawMftRecord, in MFT-index order.
func (v *Volume) WalkFiles(start, count uint64) ([]model.RawMftRecord, error) {
	var out []model.RawMftRecord
	for i := start; i < start+count; i++ {
		rec, err := v.ReadRecord(i)
		if err != nil {
			continue // fail-soft: skip unreadable/corrupt records
		}
		if !rec.InUse || rec.IsDir || len(rec.FileNames) == 0 {
			continue
		}
		fn := rec.FileNames[0]
		full := v.ResolvePath(fn.ParentIndex, uint16(fn.ParentSequence), fn.Name)
		out = append(out, model.RawMftRecord{
			MFTIndex:         rec.Index,
			Sequence:         rec.Sequence,
			ParentMFTIndex:   fn.ParentIndex,
			FullPath:         full,
			StdCreated:       rec.stdOr(fn, "created"),
			StdModified:      rec.stdOr(fn, "modified"),
			StdChanged:       rec.stdOr(fn, "changed"),
			StdAccessed:      rec.stdOr(fn, "accessed"),
			FilenameCreated:  fn.Created,
			FilenameModified: fn.Modified,
			FilenameChanged:  fn.Changed,
			FilenameAccessed: fn.Accessed,
			FileSize:         rec.DataSize,
			AttributeFlags:   fn.Flags,
			ADS:              rec.ADS,
			IsIndx:           false,
		})
	}
	return out, nil
}

func (r *Record) stdOr(fn FileNameAttr, field string) string {
	if r.Standard == nil {
		switch field {
		case "created":
			return fn.Created
		case "modified":
			return fn.Modified
		case "changed":
			return fn.Changed
		default:
			return fn.Accessed
		}
	}
	switch field {
	case "created":
		return r.Standard.Created
	case "modified":
		return r.Standard.Modified
	case "changed":
		return r.Standard.Changed
	default:
		return r.Standard.Accessed
	}
}
