/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package outlook

import (
	"encoding/base64"
	"io"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
	"github.com/gravwell/artemis-collector/internal/model"
)

// Well-known MAPI property tags the collector reads out of folder/message
// Property Contexts, per MS-OXPROPS.
const (
	tagDisplayName     = 0x3001
	tagContentCount    = 0x3602
	tagSubfolders      = 0x360A
	tagSubject         = 0x0037
	tagBody            = 0x1000
	tagSenderName      = 0x0C1A
	tagDisplayTo       = 0x0E04
	tagDeliveryTime    = 0x0E06
	tagAttachFilename  = 0x3704
	tagAttachSize      = 0x0E20
	tagAttachMimeTag   = 0x370E
	tagAttachDataBin   = 0x3701
)

// messageBatchLimit bounds how many messages are resolved per batch.
const messageBatchLimit = 200

// Reader is an opened PST/OST file: its two resolved BTrees plus the
// format geometry every subsequent block read depends on.
type Reader struct {
	r      io.ReaderAt
	lg     *log.Logger
	g      geometry
	header Header
	nbt    map[uint32]LeafNodeData
	bbt    map[uint64]LeafBlockData
}

// Open parses the header and builds the in-memory NBT/BBT maps, once per
// file A malformed header aborts with ErrParseCorrupt;
//(c) this package never panics on untrusted input.
func Open(r io.ReaderAt, lg *log.Logger) (*Reader, error) {
	if lg == nil {
		lg = log.NewDiscard()
	}
	hdr, err := ParseHeader(r, lg)
	if err != nil {
		return nil, err
	}
	g := geometryFor(hdr.Format)
	nbt, err := walkNBT(r, g, hdr.RootNBT, lg)
	if err != nil {
		return nil, err
	}
	bbt, err := walkBBT(r, g, hdr.RootBBT, lg)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, lg: lg, g: g, header: hdr, nbt: nbt, bbt: bbt}, nil
}

// Format reports the detected FormatType.
func (rd *Reader) Format() FormatType { return rd.header.Format }

// readBlock fetches the raw bytes of a block by BID, decompressing it if
// the Block BTree entry marks it as compressed in-file (total size differs
// from stored size). The on-disk compression is a proprietary
// byte-substitution scheme treated as opaque, matching libpff's
// boundary.
func (rd *Reader) readBlock(bid uint64) ([]byte, error) {
	leaf, ok := rd.bbt[bid]
	if !ok {
		return nil, errs.ErrParseCorrupt
	}
	raw := make([]byte, leaf.Size)
	if _, err := rd.r.ReadAt(raw, int64(leaf.Offset)); err != nil {
		return nil, errs.ErrSourceUnavailable
	}
	if leaf.TotalSize > leaf.Size {
		return decompressBlock(raw, int(leaf.TotalSize))
	}
	return raw, nil
}

// decompressBlock expands a compressed PST block to targetLen. No
// substitution table ships with this module (the codec is opaque,
// matching libpff); blocks that arrive uncompressed (the common case)
// pass through unchanged, and a genuinely compressed block that can't
// reach targetLen fails soft with ErrDecompressionFailure rather than
// fabricating bytes.
func decompressBlock(raw []byte, targetLen int) ([]byte, error) {
	if len(raw) == targetLen {
		return raw, nil
	}
	return nil, errs.ErrDecompressionFailure
}

func (rd *Reader) heapForNode(nid uint32) (*Heap, error) {
	leaf, ok := rd.nbt[nid]
	if !ok {
		rd.lg.Warnf("outlook: node %#x not found in NBT", nid)
		return nil, errs.ErrParseCorrupt
	}
	raw, err := rd.readBlock(leaf.DataBID)
	if err != nil {
		return nil, err
	}
	return parseHeap(raw, rd.lg)
}

// Folder is one decoded PST folder: its own properties plus the child
// folder/message/associated-message table contexts.
type Folder struct {
	NID          uint32
	Name         string
	MessageCount int64
	HasSubfolders bool
	Subfolders   []Folder
	messages     *TableContext
}

// RootFolder returns the file's root folder (NID 0x122, the well-known
// root-folder node id per MS-PST §2.4.3) with its subfolder tree resolved
// recursively.
func (rd *Reader) RootFolder() (*Folder, error) {
	const rootFolderNID = 0x122
	return rd.ReadFolder(rootFolderNID)
}

// ReadFolder decodes one folder node: its display name/counters, and its
// direct subfolders (resolved recursively). A malformed folder logs warn
// and returns an (empty-children) Folder rather than failing the whole
// walk.
func (rd *Reader) ReadFolder(nid uint32) (*Folder, error) {
	heap, err := rd.heapForNode(nid)
	if err != nil {
		rd.lg.Warnf("outlook: folder %#x: %v", nid, err)
		return &Folder{NID: nid}, nil
	}
	pc, err := parsePropertyContext(heap, rd.lg)
	if err != nil {
		rd.lg.Warnf("outlook: folder %#x property context: %v", nid, err)
		return &Folder{NID: nid}, nil
	}
	f := &Folder{NID: nid, Name: pc.String(tagDisplayName)}
	if count, ok := pc.Int64(tagContentCount); ok {
		f.MessageCount = count
	}

	// Child folders and messages are themselves nodes in the NBT whose
	// ParentNID equals this folder's node number; the hierarchy table
	// embedded in the folder's own heap (a further TC) is the bit-exact
	// MS-PST mechanism, but walking the NBT by parent achieves the same
	// externally observed enumeration for every fixture this collector
	// has been exercised against (see DESIGN.md).
	for childNID, leaf := range rd.nbt {
		if leaf.ParentNID != nid {
			continue
		}
		id := NodeID(childNID)
		switch {
		case id.IsFolder():
			child, err := rd.ReadFolder(childNID)
			if err != nil {
				rd.lg.Warnf("outlook: subfolder %#x of %#x: %v", childNID, nid, err)
				continue
			}
			f.Subfolders = append(f.Subfolders, *child)
			f.HasSubfolders = true
		case id.IsMessage():
			// messages are collected lazily through ReadMessages, which
			// re-scans the NBT by parent; nothing to do at folder-decode
			// time beyond counting.
		}
	}
	return f, nil
}

// ReadMessages resolves this folder's messages in batches of up to
// messageBatchLimit and returns them all in one slice. includeAttachments
// controls whether attachment bytes are resolved inline.
func (rd *Reader) ReadMessages(f *Folder, folderPath string, includeAttachments bool) ([]model.OutlookMessage, error) {
	var nids []uint32
	for childNID, leaf := range rd.nbt {
		if leaf.ParentNID == f.NID && NodeID(childNID).IsMessage() {
			nids = append(nids, childNID)
		}
	}

	var out []model.OutlookMessage
	for start := 0; start < len(nids); start += messageBatchLimit {
		end := start + messageBatchLimit
		if end > len(nids) {
			end = len(nids)
		}
		for _, nid := range nids[start:end] {
			msg, err := rd.readMessage(nid, folderPath, includeAttachments)
			if err != nil {
				rd.lg.Warnf("outlook: message %#x in %q: %v", nid, folderPath, err)
				continue
			}
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (rd *Reader) readMessage(nid uint32, folderPath string, includeAttachments bool) (*model.OutlookMessage, error) {
	heap, err := rd.heapForNode(nid)
	if err != nil {
		return nil, err
	}
	pc, err := parsePropertyContext(heap, rd.lg)
	if err != nil {
		return nil, err
	}
	msg := &model.OutlookMessage{
		Subject:    pc.String(tagSubject),
		Body:       pc.String(tagBody),
		From:       pc.String(tagSenderName),
		To:         splitRecipients(pc.String(tagDisplayTo)),
		Recipients: splitRecipients(pc.String(tagDisplayTo)),
		FolderPath: folderPath,
	}
	if t, ok := pc.Int64(tagDeliveryTime); ok {
		msg.DeliveredTime = byteprim.FiletimeToISO8601(uint64(t))
	}

	if includeAttachments {
		for attachNID, aleaf := range rd.nbt {
			if aleaf.ParentNID == nid && NodeID(attachNID).IsAttachment() {
				att, err := rd.readAttachment(attachNID)
				if err != nil {
					rd.lg.Warnf("outlook: attachment %#x of message %#x: %v", attachNID, nid, err)
					continue
				}
				msg.Attachments = append(msg.Attachments, *att)
			}
		}
	}
	return msg, nil
}

func (rd *Reader) readAttachment(nid uint32) (*model.OutlookAttachment, error) {
	heap, err := rd.heapForNode(nid)
	if err != nil {
		return nil, err
	}
	pc, err := parsePropertyContext(heap, rd.lg)
	if err != nil {
		return nil, err
	}
	data := pc.Binary(tagAttachDataBin)
	size, _ := pc.Int64(tagAttachSize)
	return &model.OutlookAttachment{
		Name:       pc.String(tagAttachFilename),
		Size:       size,
		Mime:       pc.String(tagAttachMimeTag),
		Extension:  extOf(pc.String(tagAttachFilename)),
		DataBase64: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// ReadAttachmentByID is the entry point for resolving one attachment by
// its node id directly, without
// going through readMessage's embedded loop (used by the script host and
// by callers re-fetching one attachment on demand).
func (rd *Reader) ReadAttachmentByID(nid uint32) (*model.OutlookAttachment, error) {
	return rd.readAttachment(nid)
}

func splitRecipients(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ';' {
			if i > start {
				out = append(out, trimSpace(s[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

func extOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i:]
		}
	}
	return ""
}

// Close is a no-op; Reader does not own rd.r's lifetime (the caller opened
// it and is responsible for closing it), matching internal/ese's Catalog.
func (rd *Reader) Close() error { return nil }
