/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package model holds the collector's canonical in-memory record types.
// Records, once constructed, are treated as immutable by every downstream
// consumer (the output pipeline never mutates a pushed record).
package model

// ArtifactRecord is the envelope every parser hands to the output
// pipeline: an artifact tag plus an opaque, JSON-compatible payload.
type ArtifactRecord struct {
	ArtifactName  string      `json:"artifact_name"`
	Payload       interface{} `json:"payload"`
	CollectedAt   string      `json:"collected_at"`
	EndpointID    string      `json:"endpoint_id"`
	CollectionID  string      `json:"collection_id"`
}

// FileInfo is emitted once per visited filesystem entry.
type FileInfo struct {
	FullPath  string `json:"full_path"`
	Directory string `json:"directory"`
	Filename  string `json:"filename"`
	Extension string `json:"extension"`

	Created  string `json:"created"`
	Modified string `json:"modified"`
	Changed  string `json:"changed"`
	Accessed string `json:"accessed"`

	Size  int64 `json:"size"`
	Inode uint64 `json:"inode"`
	Mode  uint32 `json:"mode"`
	UID   uint32 `json:"uid"`
	GID   uint32 `json:"gid"`

	MD5    string `json:"md5,omitempty"`
	SHA1   string `json:"sha1,omitempty"`
	SHA256 string `json:"sha256,omitempty"`

	IsFile    bool `json:"is_file"`
	IsDir     bool `json:"is_dir"`
	IsSymlink bool `json:"is_symlink"`
	Depth     int  `json:"depth"`

	Executable interface{} `json:"executable,omitempty"`
	YaraHits   []string    `json:"yara_hits,omitempty"`
}

// ADSEntry is an NTFS alternate data stream attached to a RawMftRecord.
type ADSEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// RawMftRecord is emitted once per $MFT entry, or per entry recovered from
// $INDX allocation slack (IsIndx true).
type RawMftRecord struct {
	MFTIndex       uint64     `json:"mft_index"`
	Sequence       uint16     `json:"sequence"`
	ParentMFTIndex uint64     `json:"parent_mft_index"`
	FullPath       string     `json:"full_path"`

	StdCreated  string `json:"std_created"`
	StdModified string `json:"std_modified"`
	StdChanged  string `json:"std_changed"`
	StdAccessed string `json:"std_accessed"`

	FilenameCreated  string `json:"filename_created"`
	FilenameModified string `json:"filename_modified"`
	FilenameChanged  string `json:"filename_changed"`
	FilenameAccessed string `json:"filename_accessed"`

	FileSize        int64      `json:"file_size"`
	AttributeFlags  uint32     `json:"attribute_flags"`
	ADS             []ADSEntry `json:"ads,omitempty"`
	IsIndx          bool       `json:"is_indx"`
}

// EventLogRecord is emitted once per evtx chunk row.
type EventLogRecord struct {
	RecordID     uint64                 `json:"record_id"`
	Timestamp    string                 `json:"timestamp"`
	ProviderName string                 `json:"provider_name"`
	ProviderGUID string                 `json:"provider_guid"`
	EventID      uint16                 `json:"event_id"`
	Version      uint8                  `json:"version"`
	EventData    map[string]interface{} `json:"event_data"`
	Sections     map[string]map[string]interface{} `json:"sections,omitempty"`
}

// EventMessage is derived from an EventLogRecord plus template resources.
type EventMessage struct {
	RecordID     uint64 `json:"record_id"`
	Message      string `json:"message"`
	SourceFile   string `json:"source_file"`
	ProviderName string `json:"provider_name"`
	ProviderGUID string `json:"provider_guid"`
}

// OutlookAttachment belongs to an OutlookMessage.
type OutlookAttachment struct {
	Name       string                 `json:"name"`
	Size       int64                  `json:"size"`
	Mime       string                 `json:"mime"`
	Extension  string                 `json:"extension"`
	DataBase64 string                 `json:"data_base64"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// OutlookMessage is emitted once per message read out of a PST/OST file.
type OutlookMessage struct {
	Subject        string                 `json:"subject"`
	Body           string                 `json:"body"`
	From           string                 `json:"from"`
	To             []string               `json:"to"`
	DeliveredTime  string                 `json:"delivered_time"`
	Recipients     []string               `json:"recipients"`
	Attachments    []OutlookAttachment    `json:"attachments,omitempty"`
	Properties     map[string]interface{} `json:"properties,omitempty"`
	FolderPath     string                 `json:"folder_path"`
	SourceFile     string                 `json:"source_file"`
	YaraHits       []string               `json:"yara_hits,omitempty"`
}

// ShellItem is emitted once per shellitem decoded from a bag or MRU.
type ShellItem struct {
	Variant    string                 `json:"variant"`
	Value      interface{}            `json:"value"`
	Created    string                 `json:"created"`
	Modified   string                 `json:"modified"`
	Accessed   string                 `json:"accessed"`
	Extra      string                 `json:"extra,omitempty"`
	MFTEntry   uint64                 `json:"mft_entry,omitempty"`
	MFTSeq     uint16                 `json:"mft_sequence,omitempty"`
	Properties []map[string]interface{} `json:"properties,omitempty"`
}

// SrumRow is emitted once per ESE row in an SRUM table.
type SrumRow struct {
	Table     string                 `json:"table"`
	Timestamp string                 `json:"timestamp"`
	AppID     string                 `json:"app_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Fields    map[string]string      `json:"fields"`
}

// SearchEntry is emitted once per Windows Search Gatherer row.
type SearchEntry struct {
	DocumentID   int64                  `json:"document_id"`
	Path         string                 `json:"path"`
	LastModified string                 `json:"last_modified"`
	Properties   map[string]interface{} `json:"properties"`
}

// SpotlightEntry is emitted once per Spotlight store.db record.
type SpotlightEntry struct {
	Inode       uint64                 `json:"inode"`
	ParentInode uint64                 `json:"parent_inode"`
	Flags       uint8                  `json:"flags"`
	StoreID     uint64                 `json:"store_id"`
	LastUpdated string                 `json:"last_updated"`
	Values      map[string]interface{} `json:"values"`
	SourceDir   string                 `json:"source_dir"`
}

// MachoSegment describes one Mach-O load-command segment.
type MachoSegment struct {
	Name       string `json:"name"`
	VMAddr     uint64 `json:"vm_addr"`
	VMSize     uint64 `json:"vm_size"`
	FileOffset uint64 `json:"file_offset"`
	FileSize   uint64 `json:"file_size"`
}

// MachoCodeSignature carries the parsed embedded-signature blob.
type MachoCodeSignature struct {
	EntitlementsPlist string `json:"entitlements_plist,omitempty"`
	EntitlementsBlob  string `json:"entitlements_blob_base64,omitempty"`
	CertBlobBase64    string `json:"cert_blob_base64,omitempty"`
}

// MachoInfo is emitted once per thin Mach-O image (a fat/universal binary
// yields one MachoInfo per architecture slice).
type MachoInfo struct {
	CPUType    string                `json:"cpu_type"`
	CPUSubtype string                `json:"cpu_subtype"`
	FileType   string                `json:"file_type"`
	Flags      []string              `json:"flags"`
	Segments   []MachoSegment        `json:"segments"`
	LoadCmds   []string              `json:"load_commands"`
	CodeSig    *MachoCodeSignature   `json:"code_signature,omitempty"`
}
