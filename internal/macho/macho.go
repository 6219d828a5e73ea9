/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package macho parses mach_header_64 load commands and embedded
// code-signature blobs, including entitlement plists and the CMS cert
// blob.
package macho

import (
	"encoding/base64"
	"encoding/binary"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/model"
)

const (
	magic64      uint32 = 0xFEEDFACF
	magic64BE    uint32 = 0xCFFAEDFE
	fatMagic     uint32 = 0xCAFEBABE
	fatMagicBE   uint32 = 0xBEBAFECA

	lcSegment64     uint32 = 0x19
	lcCodeSignature uint32 = 0x1D

	csMagicEmbeddedSignature uint32 = 0xFADE0C02
	csMagicEntitlements      uint32 = 0xFADE7171
	csMagicBlobWrapper       uint32 = 0xFADE0B01 // CMS cert blob
)

var cpuTypeNames = map[uint32]string{
	0x00000007: "x86",
	0x01000007: "x86_64",
	0x0000000C: "arm",
	0x0100000C: "arm64",
}

var fileTypeNames = map[uint32]string{
	1: "MH_OBJECT",
	2: "MH_EXECUTE",
	6: "MH_DYLIB",
	7: "MH_DYLINKER",
	8: "MH_BUNDLE",
}

var flagBits = []struct {
	mask uint32
	name string
}{
	{0x1, "NOUNDEFS"},
	{0x4, "DYLDLINK"},
	{0x80, "TWOLEVEL"},
	{0x200000, "PIE"},
	{0x100, "FORCE_FLAT"},
}

// ParseFile parses a (possibly fat/universal) Mach-O image, returning one
// MachoInfo per architecture slice.
func ParseFile(data []byte) ([]model.MachoInfo, error) {
	if len(data) < 4 {
		return nil, errs.ErrParseShort
	}
	magic := binary.BigEndian.Uint32(data[0:4])
	switch magic {
	case fatMagic, fatMagicBE:
		return parseFat(data)
	default:
		info, err := parseThin(data)
		if err != nil {
			return nil, err
		}
		return []model.MachoInfo{info}, nil
	}
}

func parseFat(data []byte) ([]model.MachoInfo, error) {
	if len(data) < 8 {
		return nil, errs.ErrParseShort
	}
	count := binary.BigEndian.Uint32(data[4:8])
	var out []model.MachoInfo
	off := 8
	for i := uint32(0); i < count; i++ {
		if off+20 > len(data) {
			break
		}
		fileOff := binary.BigEndian.Uint32(data[off+8 : off+12])
		fileSize := binary.BigEndian.Uint32(data[off+12 : off+16])
		off += 20
		if int(fileOff)+int(fileSize) > len(data) {
			continue // corrupt slice entry: skip, keep scanning the fat header
		}
		info, err := parseThin(data[fileOff : fileOff+fileSize])
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// parseThin parses a single 64-bit mach_header_64 image and its load
// commands. 32-bit Mach-O is out of scope: the collector targets modern
// macOS binaries, which are exclusively 64-bit.
func parseThin(data []byte) (model.MachoInfo, error) {
	if len(data) < 32 {
		return model.MachoInfo{}, errs.ErrParseShort
	}
	magicBytes := data[0:4]
	bo := binary.ByteOrder(binary.LittleEndian)
	if magicBytes[0] == 0xCF {
		bo = binary.LittleEndian
	} else if magicBytes[0] == 0xFE {
		bo = binary.BigEndian
	}

	cpuType := bo.Uint32(data[4:8])
	cpuSubtype := bo.Uint32(data[8:12]) &^ 0x80000000
	fileType := bo.Uint32(data[12:16])
	ncmds := bo.Uint32(data[16:20])
	flags := bo.Uint32(data[24:28])

	info := model.MachoInfo{
		CPUType:    cpuName(cpuType),
		CPUSubtype: byteprim.ExtractU32Hex(cpuSubtype),
		FileType:   fileTypeName(fileType),
		Flags:      decodeFlags(flags),
	}

	off := 32 // sizeof(mach_header_64)
	for i := uint32(0); i < ncmds && off+8 <= len(data); i++ {
		cmd := bo.Uint32(data[off : off+4])
		cmdsize := bo.Uint32(data[off+4 : off+8])
		if cmdsize < 8 || off+int(cmdsize) > len(data) {
			break // corrupt load command table: stop, keep what's parsed so far
		}
		body := data[off : off+int(cmdsize)]
		info.LoadCmds = append(info.LoadCmds, loadCmdName(cmd))

		switch cmd {
		case lcSegment64:
			if seg, ok := parseSegment64(body, bo); ok {
				info.Segments = append(info.Segments, seg)
			}
		case lcCodeSignature:
			if len(body) >= 16 {
				sigOff := bo.Uint32(body[8:12])
				sigSize := bo.Uint32(body[12:16])
				if int(sigOff)+int(sigSize) <= len(data) {
					info.CodeSig = parseCodeSignature(data[sigOff : sigOff+sigSize])
				}
			}
		}
		off += int(cmdsize)
	}
	return info, nil
}

func parseSegment64(body []byte, bo binary.ByteOrder) (model.MachoSegment, bool) {
	if len(body) < 56 {
		return model.MachoSegment{}, false
	}
	name, _ := byteprim.ExtractUTF8(body[8:24])
	return model.MachoSegment{
		Name:       name,
		VMAddr:     bo.Uint64(body[24:32]),
		VMSize:     bo.Uint64(body[32:40]),
		FileOffset: bo.Uint64(body[40:48]),
		FileSize:   bo.Uint64(body[48:56]),
	}, true
}

// parseCodeSignature walks the SuperBlob index for the embedded
// entitlements blob; a cert/CMS blob is surfaced opaquely as base64 since
// its ASN.1 contents are out of scope here.
func parseCodeSignature(blob []byte) *model.MachoCodeSignature {
	if len(blob) < 12 {
		return nil
	}
	magic := binary.BigEndian.Uint32(blob[0:4])
	if magic != csMagicEmbeddedSignature {
		return nil
	}
	count := binary.BigEndian.Uint32(blob[8:12])
	sig := &model.MachoCodeSignature{}

	off := 12
	for i := uint32(0); i < count && off+8 <= len(blob); i++ {
		indexType := binary.BigEndian.Uint32(blob[off : off+4])
		indexOff := binary.BigEndian.Uint32(blob[off+4 : off+8])
		off += 8
		if int(indexOff)+8 > len(blob) {
			continue
		}
		sub := blob[indexOff:]
		subMagic := binary.BigEndian.Uint32(sub[0:4])
		subLen := binary.BigEndian.Uint32(sub[4:8])
		if int(subLen) > len(sub) {
			continue
		}
		_ = indexType
		switch subMagic {
		case csMagicEntitlements:
			plist := sub[8:subLen]
			sig.EntitlementsPlist, _ = byteprim.ExtractUTF8(append(plist, 0))
			sig.EntitlementsBlob = base64.RawURLEncoding.EncodeToString(plist)
		case csMagicBlobWrapper:
			sig.CertBlobBase64 = base64.RawURLEncoding.EncodeToString(sub[8:subLen])
		}
	}
	return sig
}

func cpuName(v uint32) string {
	if n, ok := cpuTypeNames[v]; ok {
		return n
	}
	return byteprim.ExtractU32Hex(v)
}

func fileTypeName(v uint32) string {
	if n, ok := fileTypeNames[v]; ok {
		return n
	}
	return byteprim.ExtractU32Hex(v)
}

func loadCmdName(v uint32) string {
	switch v {
	case lcSegment64:
		return "LC_SEGMENT_64"
	case lcCodeSignature:
		return "LC_CODE_SIGNATURE"
	case 0x2:
		return "LC_SYMTAB"
	case 0xC:
		return "LC_LOAD_DYLIB"
	case 0xD:
		return "LC_ID_DYLIB"
	case 0xE:
		return "LC_LOAD_DYLINKER"
	case 0x80000028:
		return "LC_MAIN"
	default:
		return byteprim.ExtractU32Hex(v)
	}
}

func decodeFlags(flags uint32) []string {
	var out []string
	for _, f := range flagBits {
		if flags&f.mask != 0 {
			out = append(out, f.name)
		}
	}
	return out
}

