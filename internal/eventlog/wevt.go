/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package eventlog

import (
	"encoding/binary"
	"strconv"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
)

// This file extracts the two PE resources the merger consumes: the
// MESSAGETABLE resource (message-id -> format string) and the
// WEVT_TEMPLATE resource (provider GUID -> event definitions).

const (
	rtMessageTable   = 11 // RT_MESSAGETABLE
	wevtResourceName = "WEVT_TEMPLATE"
)

// LoadTemplateFile parses one PE message/template file's resources into a
// Template the merger can resolve against. A PE whose .rsrc section holds
// neither resource yields an empty Template, not an error; a file that is
// not a PE, or that has no .rsrc section, fails.
func LoadTemplateFile(data []byte, lg *log.Logger) (Template, error) {
	if lg == nil {
		lg = log.NewDiscard()
	}
	tmpl := Template{
		MessageTable: make(map[uint32]string),
		WevtTemplate: make(map[string]map[string]Definition),
	}

	rsrcOff, rsrcRVA, err := parsePESections(data)
	if err != nil {
		return tmpl, err
	}
	rsrc := data[rsrcOff:]

	walkResourceType(rsrc, rsrcRVA, func(typeID uint32, typeName string, leaf []byte) {
		switch {
		case typeID == rtMessageTable:
			parseMessageTable(leaf, tmpl.MessageTable, lg)
		case typeName == wevtResourceName:
			parseWevtTemplate(leaf, tmpl.WevtTemplate, lg)
		}
	})
	return tmpl, nil
}

// parsePESections reads the COFF section table and locates the .rsrc
// section, returning its file offset and virtual address (needed to map
// resource-data RVAs back to file offsets).
func parsePESections(data []byte) (int, uint32, error) {
	if len(data) < 0x40 || data[0] != 'M' || data[1] != 'Z' {
		return 0, 0, errs.ErrParseCorrupt
	}
	peOff := int(binary.LittleEndian.Uint32(data[0x3C:0x40]))
	if peOff < 0 || peOff+24 > len(data) || binary.LittleEndian.Uint32(data[peOff:peOff+4]) != 0x00004550 {
		return 0, 0, errs.ErrParseCorrupt
	}
	numSections := int(binary.LittleEndian.Uint16(data[peOff+6 : peOff+8]))
	optSize := int(binary.LittleEndian.Uint16(data[peOff+20 : peOff+22]))
	secTable := peOff + 24 + optSize

	rsrcOff := -1
	var rsrcRVA uint32
	for i := 0; i < numSections; i++ {
		off := secTable + i*40
		if off+40 > len(data) {
			return 0, 0, errs.ErrParseShort
		}
		sec := data[off : off+40]
		if string(trimNUL(sec[0:8])) == ".rsrc" {
			rsrcOff = int(binary.LittleEndian.Uint32(sec[20:24]))
			rsrcRVA = binary.LittleEndian.Uint32(sec[12:16])
		}
	}
	if rsrcOff < 0 || rsrcOff >= len(data) {
		return 0, 0, errs.ErrParseCorrupt
	}
	return rsrcOff, rsrcRVA, nil
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// walkResourceType walks the three-level .rsrc directory (type -> name ->
// language) and calls emit once per leaf data entry under a type node.
func walkResourceType(rsrc []byte, rsrcRVA uint32, emit func(typeID uint32, typeName string, leaf []byte)) {
	for _, e := range dirEntries(rsrc, 0) {
		typeID := e.id
		typeName := e.name
		if !e.isDir {
			continue
		}
		for _, nameEnt := range dirEntries(rsrc, e.offset) {
			if !nameEnt.isDir {
				if leaf := leafData(rsrc, nameEnt.offset, rsrcRVA); leaf != nil {
					emit(typeID, typeName, leaf)
				}
				continue
			}
			for _, langEnt := range dirEntries(rsrc, nameEnt.offset) {
				if langEnt.isDir {
					continue
				}
				if leaf := leafData(rsrc, langEnt.offset, rsrcRVA); leaf != nil {
					emit(typeID, typeName, leaf)
				}
			}
		}
	}
}

type rsrcEntry struct {
	id     uint32
	name   string
	offset int
	isDir  bool
}

// dirEntries decodes one IMAGE_RESOURCE_DIRECTORY's entry list at dirOff
// within the .rsrc section. Corrupt counts or out-of-range offsets yield
// an empty list rather than an error; resource trees are untrusted input.
func dirEntries(rsrc []byte, dirOff int) []rsrcEntry {
	if dirOff+16 > len(rsrc) {
		return nil
	}
	numNamed := int(binary.LittleEndian.Uint16(rsrc[dirOff+12 : dirOff+14]))
	numID := int(binary.LittleEndian.Uint16(rsrc[dirOff+14 : dirOff+16]))
	total := numNamed + numID
	if total > 4096 {
		return nil
	}
	var out []rsrcEntry
	for i := 0; i < total; i++ {
		off := dirOff + 16 + i*8
		if off+8 > len(rsrc) {
			break
		}
		nameField := binary.LittleEndian.Uint32(rsrc[off : off+4])
		dataField := binary.LittleEndian.Uint32(rsrc[off+4 : off+8])
		e := rsrcEntry{
			offset: int(dataField &^ 0x80000000),
			isDir:  dataField&0x80000000 != 0,
		}
		if nameField&0x80000000 != 0 {
			e.name = resourceName(rsrc, int(nameField&^0x80000000))
		} else {
			e.id = nameField
		}
		out = append(out, e)
	}
	return out
}

// resourceName reads a length-prefixed UTF-16 resource name.
func resourceName(rsrc []byte, off int) string {
	if off+2 > len(rsrc) {
		return ""
	}
	n := int(binary.LittleEndian.Uint16(rsrc[off : off+2]))
	end := off + 2 + n*2
	if end > len(rsrc) {
		return ""
	}
	s, _ := byteprim.ExtractUTF16LE(append(rsrc[off+2:end:end], 0, 0))
	return s
}

// leafData resolves an IMAGE_RESOURCE_DATA_ENTRY's RVA, relative to the
// .rsrc section's own virtual address, into the section's raw bytes.
func leafData(rsrc []byte, dataOff int, rsrcRVA uint32) []byte {
	if dataOff+16 > len(rsrc) {
		return nil
	}
	rva := binary.LittleEndian.Uint32(rsrc[dataOff : dataOff+4])
	size := binary.LittleEndian.Uint32(rsrc[dataOff+4 : dataOff+8])
	if rva < rsrcRVA {
		return nil
	}
	start := int(rva - rsrcRVA)
	end := start + int(size)
	if start > len(rsrc) || end > len(rsrc) || start > end {
		return nil
	}
	return rsrc[start:end]
}

// parseMessageTable decodes a MESSAGE_RESOURCE_DATA blob into the
// message-id -> string map: a block count, then (lowID, highID,
// entry-offset) triples, then length-prefixed entries whose flags word
// selects ANSI vs UTF-16LE text.
func parseMessageTable(data []byte, out map[uint32]string, lg *log.Logger) {
	if len(data) < 4 {
		return
	}
	numBlocks := binary.LittleEndian.Uint32(data[0:4])
	if numBlocks > 1<<20 {
		lg.Warnf("eventlog: implausible message table block count %d", numBlocks)
		return
	}
	for i := uint32(0); i < numBlocks; i++ {
		off := 4 + int(i)*12
		if off+12 > len(data) {
			return
		}
		lowID := binary.LittleEndian.Uint32(data[off : off+4])
		highID := binary.LittleEndian.Uint32(data[off+4 : off+8])
		entryOff := int(binary.LittleEndian.Uint32(data[off+8 : off+12]))
		for id := lowID; id <= highID; id++ {
			if entryOff+4 > len(data) {
				break
			}
			length := int(binary.LittleEndian.Uint16(data[entryOff : entryOff+2]))
			flags := binary.LittleEndian.Uint16(data[entryOff+2 : entryOff+4])
			if length < 4 || entryOff+length > len(data) {
				break
			}
			text := data[entryOff+4 : entryOff+length]
			if flags&0x1 != 0 {
				s, _ := byteprim.ExtractUTF16LE(text)
				out[id] = trimMessage(s)
			} else {
				s, _ := byteprim.ExtractUTF8(text)
				out[id] = trimMessage(s)
			}
			entryOff += length
		}
	}
}

func trimMessage(s string) string {
	for len(s) > 0 {
		c := s[len(s)-1]
		if c == '\r' || c == '\n' || c == 0 {
			s = s[:len(s)-1]
			continue
		}
		break
	}
	return s
}

// WEVT_TEMPLATE structure signatures.
const (
	sigCRIM uint32 = 0x4D495243 // "CRIM"
	sigWEVT uint32 = 0x54564557 // "WEVT"
	sigEVNT uint32 = 0x544E5645 // "EVNT"
	sigTTBL uint32 = 0x4C425454 // "TTBL"
	sigTEMP uint32 = 0x504D4554 // "TEMP"
)

const eventDefinitionSize = 48

// parseWevtTemplate decodes a WEVT_TEMPLATE ("CRIM") blob: per-provider
// GUID descriptors, each pointing at a "WEVT" block whose element list
// includes the "EVNT" event-definition table. Definitions are keyed
// "eventId_version" to match the merger's lookup.
func parseWevtTemplate(data []byte, out map[string]map[string]Definition, lg *log.Logger) {
	if len(data) < 16 || binary.LittleEndian.Uint32(data[0:4]) != sigCRIM {
		return
	}
	numProviders := binary.LittleEndian.Uint32(data[12:16])
	if numProviders > 1<<16 {
		lg.Warnf("eventlog: implausible WEVT provider count %d", numProviders)
		return
	}
	for i := uint32(0); i < numProviders; i++ {
		off := 16 + int(i)*20
		if off+20 > len(data) {
			return
		}
		guid, err := byteprim.GUIDLE(data[off : off+16])
		if err != nil {
			continue
		}
		provOff := int(binary.LittleEndian.Uint32(data[off+16 : off+20]))
		defs := parseProviderBlock(data, provOff, lg)
		if len(defs) > 0 {
			out[guid] = defs
		}
	}
}

// parseProviderBlock walks one provider's "WEVT" element descriptors
// looking for the EVNT table; offsets are relative to the CRIM blob base.
func parseProviderBlock(data []byte, off int, lg *log.Logger) map[string]Definition {
	if off < 0 || off+16 > len(data) || binary.LittleEndian.Uint32(data[off:off+4]) != sigWEVT {
		return nil
	}
	numElements := int(binary.LittleEndian.Uint32(data[off+12 : off+16]))
	if numElements > 64 {
		return nil
	}
	defs := make(map[string]Definition)
	for i := 0; i < numElements; i++ {
		descOff := off + 16 + i*8
		if descOff+8 > len(data) {
			break
		}
		elemOff := int(binary.LittleEndian.Uint32(data[descOff : descOff+4]))
		if elemOff < 0 || elemOff+4 > len(data) {
			continue
		}
		if binary.LittleEndian.Uint32(data[elemOff:elemOff+4]) == sigEVNT {
			parseEventTable(data, elemOff, defs, lg)
		}
	}
	return defs
}

// parseEventTable decodes the EVNT block's fixed-width event definitions:
// event id, version, and the message id the merger resolves through the
// message table. Template elements (substitution slots) are resolved from
// the definition's template offset when one is present.
func parseEventTable(data []byte, off int, defs map[string]Definition, lg *log.Logger) {
	if off+16 > len(data) {
		return
	}
	numEvents := int(binary.LittleEndian.Uint32(data[off+8 : off+12]))
	if numEvents > 1<<16 {
		lg.Warnf("eventlog: implausible EVNT event count %d", numEvents)
		return
	}
	for i := 0; i < numEvents; i++ {
		defOff := off + 16 + i*eventDefinitionSize
		if defOff+eventDefinitionSize > len(data) {
			return
		}
		d := data[defOff : defOff+eventDefinitionSize]
		eventID := binary.LittleEndian.Uint16(d[0:2])
		version := d[2]
		messageID := binary.LittleEndian.Uint32(d[16:20])
		templateOff := int(binary.LittleEndian.Uint32(d[20:24]))

		def := Definition{MessageID: messageID}
		if templateOff > 0 {
			def.Elements = parseTemplateElements(data, templateOff)
		}
		key := strconv.FormatUint(uint64(eventID), 10) + "_" + strconv.Itoa(int(version))
		defs[key] = def
	}
}

// parseTemplateElements pulls the substitution slots out of a "TEMP"
// block's item descriptors: per slot an input type and a name read from
// the trailing name table. The binary-XML fragment between the TEMP
// header and the descriptors is not re-rendered here — the merger only
// needs (name, input-type, substitution-id) per slot.
func parseTemplateElements(data []byte, off int) []Element {
	if off+4 > len(data) {
		return nil
	}
	if binary.LittleEndian.Uint32(data[off:off+4]) == sigTTBL {
		// TTBL wraps one or more TEMP blocks; the first follows the
		// 12-byte table header.
		off += 12
	}
	if off+40 > len(data) || binary.LittleEndian.Uint32(data[off:off+4]) != sigTEMP {
		return nil
	}
	numDescriptors := int(binary.LittleEndian.Uint32(data[off+8 : off+12]))
	itemsOff := int(binary.LittleEndian.Uint32(data[off+16 : off+20]))
	if numDescriptors > 256 || itemsOff <= 0 {
		return nil
	}
	var out []Element
	for i := 0; i < numDescriptors; i++ {
		descOff := itemsOff + i*20
		if descOff+20 > len(data) {
			break
		}
		d := data[descOff : descOff+20]
		inType := d[4]
		nameOff := int(binary.LittleEndian.Uint32(d[16:20]))
		out = append(out, Element{
			Name:           templateItemName(data, nameOff),
			InputType:      inputTypeName(inType),
			SubstitutionID: i,
		})
	}
	return out
}

// templateItemName reads a size-prefixed UTF-16LE item name (the 4-byte
// prefix counts the whole field, itself included).
func templateItemName(data []byte, off int) string {
	if off <= 0 || off+4 > len(data) {
		return ""
	}
	size := int(binary.LittleEndian.Uint32(data[off : off+4]))
	if size < 4 || off+size > len(data) {
		return ""
	}
	s, _ := byteprim.ExtractUTF16LE(data[off+4 : off+size])
	return s
}

// inputTypeName maps the manifest input-type byte to its win: name; the
// merger records it on each Element for downstream consumers.
func inputTypeName(t byte) string {
	switch t {
	case 1:
		return "win:UnicodeString"
	case 2:
		return "win:AnsiString"
	case 4:
		return "win:UInt8"
	case 6:
		return "win:UInt16"
	case 8:
		return "win:UInt32"
	case 10:
		return "win:UInt64"
	case 7:
		return "win:Int32"
	case 9:
		return "win:Int64"
	case 11:
		return "win:Float"
	case 12:
		return "win:Double"
	case 13:
		return "win:Boolean"
	case 14:
		return "win:Binary"
	case 15:
		return "win:GUID"
	case 17:
		return "win:FILETIME"
	case 21:
		return "win:HexInt64"
	default:
		return "win:UInt32"
	}
}
