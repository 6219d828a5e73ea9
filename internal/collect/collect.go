/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package collect is the collection driver: it reads the ordered
// artifact list out of a parsed config.Collection, dispatches each
// entry's artifact_name tag to the matching parser package, and feeds
// the resulting records through one internal/output.Session per
// artifact. Artifacts run sequentially, one source at a time, with a
// per-artifact log line on success or failure.
package collect

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/google/uuid"

	"github.com/gravwell/artemis-collector/internal/cloud"
	"github.com/gravwell/artemis-collector/internal/cloud/awsupload"
	"github.com/gravwell/artemis-collector/internal/cloud/azureupload"
	"github.com/gravwell/artemis-collector/internal/cloud/gcsupload"
	"github.com/gravwell/artemis-collector/internal/config"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/ese"
	"github.com/gravwell/artemis-collector/internal/eventlog"
	"github.com/gravwell/artemis-collector/internal/fsutil"
	"github.com/gravwell/artemis-collector/internal/log"
	"github.com/gravwell/artemis-collector/internal/macho"
	"github.com/gravwell/artemis-collector/internal/model"
	"github.com/gravwell/artemis-collector/internal/ntfs"
	"github.com/gravwell/artemis-collector/internal/outlook"
	"github.com/gravwell/artemis-collector/internal/output"
	"github.com/gravwell/artemis-collector/internal/platform"
	"github.com/gravwell/artemis-collector/internal/rawdisk"
	"github.com/gravwell/artemis-collector/internal/registry"
	"github.com/gravwell/artemis-collector/internal/script"
	"github.com/gravwell/artemis-collector/internal/shellitem"
	"github.com/gravwell/artemis-collector/internal/shimdb"
	"github.com/gravwell/artemis-collector/internal/spotlight"
)

// Driver runs one collection file's artifact list to completion.
type Driver struct {
	hostname string
	platform string
	lg       *log.Logger
}

// New builds a Driver. hostname is recorded in every artifact's output
// envelope; the host platform is probed once via internal/platform.
func New(hostname string, lg *log.Logger) *Driver {
	if lg == nil {
		lg = log.NewDiscard()
	}
	return &Driver{hostname: hostname, platform: platform.Probe().String(), lg: lg}
}

// handlerFunc decodes one artifact's options and pushes its records
// through sess. A returned error aborts just this artifact (only I/O
// catastrophes abort); the driver logs it and continues.
type handlerFunc func(d *Driver, coll *config.Collection, a config.Artifact, sess *output.Session) error

var handlers = map[string]handlerFunc{
	"files":            (*Driver).collectFiles,
	"registry_basic":   (*Driver).collectRegistry,
	"macho":            (*Driver).collectMacho,
	"shimdb":           (*Driver).collectShimdb,
	"spotlight":        (*Driver).collectSpotlight,
	"shellitem_bag":    (*Driver).collectShellItems,
	"outlook_message":  (*Driver).collectOutlook,
	"ese_table":        (*Driver).collectESE,
	"srum":             (*Driver).collectSrum,
	"windows_search":   (*Driver).collectSearch,
	"eventlog_message": (*Driver).collectEventlog,
	"ntfs_mft":         (*Driver).collectNTFS,
	"script":           (*Driver).collectScript,
}

// Run dispatches every artifact in coll in collection-file order,
// sequentially — the pipeline is single-threaded per artifact and
// artifacts never overlap.
func (d *Driver) Run(coll *config.Collection) error {
	out := coll.Output
	if out.CollectionID == "" {
		out.CollectionID = uuid.NewString()
	}
	if out.EndpointID == "" {
		out.EndpointID = uuid.NewString()
	}

	writer, err := d.buildWriter(out)
	if err != nil {
		return err
	}
	defer writer.Close()

	filter := d.buildFilter(out)

	for _, a := range coll.Artifacts {
		handler, ok := handlers[a.Name]
		if !ok {
			d.lg.Warnf("collect: unknown artifact_name %q, skipping", a.Name)
			continue
		}
		meta := output.NewMetadata(out, d.hostname, d.platform)
		meta.ArtifactName = a.Name
		sess := output.NewSession(a.Name, out, writer, d.lg, filter, meta, heavyPerRecord(a.Name))
		if err := handler(d, coll, a, sess); err != nil {
			d.lg.Errorf("collect: artifact %q failed: %v", a.Name, err)
			continue
		}
		if err := sess.Finish(); err != nil {
			d.lg.Errorf("collect: artifact %q finish failed: %v", a.Name, err)
			continue
		}
		d.lg.Info("artifact collected",
			log.KV("artifact", a.Name),
			log.KV("collection", out.CollectionID))
	}
	return nil
}

// heavyPerRecord selects the 1,000-record flush threshold for artifacts
// whose per-record work (hashing, decompression, BTree traversal) is
// heavy.
func heavyPerRecord(artifactName string) bool {
	switch artifactName {
	case "files", "outlook_message", "ese_table", "srum", "windows_search", "ntfs_mft":
		return true
	default:
		return false
	}
}

// buildFilter wraps the collection file's filter script (if any) as the
// pipeline's FilterFunc. A failing filter emits the unfiltered batch, per
// the error-handling policy; a null return drops the batch.
func (d *Driver) buildFilter(out config.Output) output.FilterFunc {
	if out.FilterScript == "" {
		return nil
	}
	name := out.FilterName
	if name == "" {
		name = "filter"
	}
	host := script.New(d.lg, 30*time.Second)
	return func(records []interface{}) []interface{} {
		filtered, err := host.RunFilter(name, out.FilterScript, records)
		if err != nil {
			d.lg.Warnf("collect: filter script %q failed: %v; emitting unfiltered batch", name, err)
			return records
		}
		return filtered
	}
}

func (d *Driver) buildWriter(out config.Output) (output.Writer, error) {
	meta := map[string]string{
		"endpoint_id":   out.EndpointID,
		"collection_id": out.CollectionID,
		"hostname":      d.hostname,
	}
	switch out.Kind {
	case config.OutputAWS:
		creds, err := awsupload.DecodeCredentials(out.APIKey)
		if err != nil {
			return nil, err
		}
		up, err := awsupload.New(creds, d.lg)
		if err != nil {
			return nil, err
		}
		return output.NewCloudWriter(up, meta), nil
	case config.OutputGCP:
		raw, err := decodeAPIKeyJSON(out.APIKey)
		if err != nil {
			return nil, err
		}
		if err := gcsupload.DecodeServiceAccount(raw); err != nil {
			return nil, err
		}
		up, err := gcsupload.New(raw, out.URL, d.lg)
		if err != nil {
			return nil, err
		}
		return output.NewCloudWriter(up, meta), nil
	case config.OutputAzure:
		up, err := azureupload.New(out.URL, d.lg)
		if err != nil {
			return nil, err
		}
		return output.NewCloudWriter(up, meta), nil
	}
	dir := out.Directory
	if dir == "" {
		dir = "."
	}
	return output.NewLocalWriter(dir, out.Compress)
}

func decodeAPIKeyJSON(apiKey string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(apiKey)
	if err != nil {
		return nil, errs.ErrConfig
	}
	return raw, nil
}

// --- files -------------------------------------------------------------

type filesOptions struct {
	Root     string `toml:"root"`
	Include  string `toml:"include"`
	Exclude  string `toml:"exclude"`
	MaxDepth int    `toml:"max_depth"`
	MD5      bool   `toml:"md5"`
	SHA1     bool   `toml:"sha1"`
	SHA256   bool   `toml:"sha256"`
}

func (d *Driver) collectFiles(coll *config.Collection, a config.Artifact, sess *output.Session) error {
	var opts filesOptions
	if err := coll.DecodeOptions(a, &opts); err != nil {
		return errs.ErrConfig
	}
	inc, err := fsutil.CompileGlob(opts.Include)
	if err != nil {
		return errs.ErrConfig
	}
	exc, err := fsutil.CompileGlob(opts.Exclude)
	if err != nil {
		return errs.ErrConfig
	}
	walkOpts := fsutil.WalkOptions{
		Root:     opts.Root,
		MaxDepth: opts.MaxDepth,
		Include:  inc,
		Exclude:  exc,
		Hashes:   fsutil.HashSet{MD5: opts.MD5, SHA1: opts.SHA1, SHA256: opts.SHA256},
	}
	return fsutil.Walk(walkOpts, d.lg, func(fi model.FileInfo) {
		if err := sess.Push(fi); err != nil {
			d.lg.Warnf("collect: files push failed: %v", err)
		}
	})
}

// --- registry ------------------------------------------------------------

type registryOptions struct {
	Path string `toml:"path"`
}

func (d *Driver) collectRegistry(coll *config.Collection, a config.Artifact, sess *output.Session) error {
	var opts registryOptions
	if err := coll.DecodeOptions(a, &opts); err != nil {
		return errs.ErrConfig
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		return errs.ErrSourceUnavailable
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return errs.ErrSourceUnavailable
	}
	keys, err := registry.ParseHive(f, fi.Size(), d.lg)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := sess.Push(k); err != nil {
			d.lg.Warnf("collect: registry push failed: %v", err)
		}
	}
	return nil
}

// --- macho -----------------------------------------------------------

type machoOptions struct {
	Path string `toml:"path"`
}

func (d *Driver) collectMacho(coll *config.Collection, a config.Artifact, sess *output.Session) error {
	var opts machoOptions
	if err := coll.DecodeOptions(a, &opts); err != nil {
		return errs.ErrConfig
	}
	data, err := os.ReadFile(opts.Path)
	if err != nil {
		return errs.ErrSourceUnavailable
	}
	infos, err := macho.ParseFile(data)
	if err != nil {
		d.lg.Warnf("collect: macho %s: %v", opts.Path, err)
		return nil
	}
	for _, info := range infos {
		if err := sess.Push(info); err != nil {
			d.lg.Warnf("collect: macho push failed: %v", err)
		}
	}
	return nil
}

// --- shimdb ------------------------------------------------------------

type shimdbOptions struct {
	Path string `toml:"path"`
}

func (d *Driver) collectShimdb(coll *config.Collection, a config.Artifact, sess *output.Session) error {
	var opts shimdbOptions
	if err := coll.DecodeOptions(a, &opts); err != nil {
		return errs.ErrConfig
	}
	data, err := os.ReadFile(opts.Path)
	if err != nil {
		return errs.ErrSourceUnavailable
	}
	st := shimdb.ParseStringTable(data)
	items, err := shimdb.Parse(data, st)
	if err != nil {
		d.lg.Warnf("collect: shimdb %s: %v", opts.Path, err)
		return nil
	}
	for _, it := range items {
		if err := sess.Push(it); err != nil {
			d.lg.Warnf("collect: shimdb push failed: %v", err)
		}
	}
	return nil
}

// --- spotlight -----------------------------------------------------------

type spotlightOptions struct {
	StoreDBPath string `toml:"store_db_path"`
	HeaderPath  string `toml:"header_path"`
	PageSize    int    `toml:"page_size"`
}

func (d *Driver) collectSpotlight(coll *config.Collection, a config.Artifact, sess *output.Session) error {
	var opts spotlightOptions
	if err := coll.DecodeOptions(a, &opts); err != nil {
		return errs.ErrConfig
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 4096
	}
	data, err := os.ReadFile(opts.StoreDBPath)
	if err != nil {
		return errs.ErrSourceUnavailable
	}
	header := loadSpotlightHeader(opts.HeaderPath, d.lg)

	for off := 0; off+pageSize <= len(data); off += pageSize {
		page := data[off : off+pageSize]
		decoded, derr := spotlight.DecompressPage(page)
		if derr != nil {
			d.lg.Warnf("collect: spotlight page at %d: %v", off, derr)
			continue
		}
		for _, entry := range spotlight.ParseRecords(decoded, header, opts.StoreDBPath) {
			if err := sess.Push(entry); err != nil {
				d.lg.Warnf("collect: spotlight push failed: %v", err)
			}
		}
	}
	return nil
}

// loadSpotlightHeader reads the sidecar property-metadata file; records
// parsed without one fall back to index-named binary values, so a missing
// or corrupt sidecar degrades the artifact rather than aborting it.
func loadSpotlightHeader(path string, lg *log.Logger) spotlight.Header {
	if path == "" {
		return spotlight.Header{}
	}
	h, err := spotlight.LoadHeader(path)
	if err != nil {
		lg.Warnf("collect: spotlight header sidecar %q: %v; proceeding with an empty property table", path, err)
		return spotlight.Header{}
	}
	return h
}

// --- shellitem -----------------------------------------------------------

type shellitemOptions struct {
	Path string `toml:"path"`
}

func (d *Driver) collectShellItems(coll *config.Collection, a config.Artifact, sess *output.Session) error {
	var opts shellitemOptions
	if err := coll.DecodeOptions(a, &opts); err != nil {
		return errs.ErrConfig
	}
	data, err := os.ReadFile(opts.Path)
	if err != nil {
		return errs.ErrSourceUnavailable
	}
	for len(data) > 0 {
		item, consumed, derr := shellitem.Decode(data)
		if derr != nil || consumed <= 0 {
			d.lg.Warnf("collect: shellitem bag %s: %v", opts.Path, derr)
			break
		}
		if err := sess.Push(item); err != nil {
			d.lg.Warnf("collect: shellitem push failed: %v", err)
		}
		data = data[consumed:]
	}
	return nil
}

// --- outlook -------------------------------------------------------------

type outlookOptions struct {
	Path               string `toml:"path"`
	IncludeAttachments bool   `toml:"include_attachments"`
}

func (d *Driver) collectOutlook(coll *config.Collection, a config.Artifact, sess *output.Session) error {
	var opts outlookOptions
	if err := coll.DecodeOptions(a, &opts); err != nil {
		return errs.ErrConfig
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		return errs.ErrSourceUnavailable
	}
	defer f.Close()

	rd, err := outlook.Open(f, d.lg)
	if err != nil {
		return err
	}
	root, err := rd.RootFolder()
	if err != nil {
		return err
	}
	return d.walkOutlookFolder(rd, root, "/", opts.IncludeAttachments, sess, opts.Path)
}

func (d *Driver) walkOutlookFolder(rd *outlook.Reader, f *outlook.Folder, path string, includeAttachments bool, sess *output.Session, sourceFile string) error {
	folderPath := path + f.Name
	msgs, err := rd.ReadMessages(f, folderPath, includeAttachments)
	if err != nil {
		d.lg.Warnf("collect: outlook folder %q: %v", folderPath, err)
	}
	for _, m := range msgs {
		m.SourceFile = sourceFile
		if err := sess.Push(m); err != nil {
			d.lg.Warnf("collect: outlook push failed: %v", err)
		}
	}
	for i := range f.Subfolders {
		if err := d.walkOutlookFolder(rd, &f.Subfolders[i], folderPath+"/", includeAttachments, sess, sourceFile); err != nil {
			d.lg.Warnf("collect: outlook subfolder: %v", err)
		}
	}
	return nil
}

// --- ese/srum --------------------------------------------------------

type eseOptions struct {
	Path  string `toml:"path"`
	Table string `toml:"table"`
}

func (d *Driver) collectESE(coll *config.Collection, a config.Artifact, sess *output.Session) error {
	var opts eseOptions
	if err := coll.DecodeOptions(a, &opts); err != nil {
		return errs.ErrConfig
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		return errs.ErrSourceUnavailable
	}
	defer f.Close()

	cat, err := ese.Open(f, d.lg)
	if err != nil {
		return err
	}
	table, ok := cat.Table(opts.Table)
	if !ok {
		d.lg.Warnf("collect: ese table %q not found in %s", opts.Table, opts.Path)
		return nil
	}
	pageBatches, err := cat.PagesOf(table)
	if err != nil {
		return err
	}
	for _, pages := range pageBatches {
		rows, err := cat.RowsOf(table, pages)
		if err != nil {
			d.lg.Warnf("collect: ese rows: %v", err)
			continue
		}
		for _, row := range rows {
			rec := model.SrumRow{Table: opts.Table, Fields: make(map[string]string, len(row))}
			for _, cv := range row {
				rec.Fields[cv.Column] = cv.Value
			}
			if err := sess.Push(rec); err != nil {
				d.lg.Warnf("collect: ese push failed: %v", err)
			}
		}
	}
	return nil
}

// --- srum --------------------------------------------------------------

type srumOptions struct {
	Path  string `toml:"path"`
	Table string `toml:"table"`
}

// srumIDMapTable is the SRUM lookup table mapping IdIndex values to the
// application path / user SID strings the per-table AppId/UserId columns
// reference.
const srumIDMapTable = "SruDbIdMapTable"

func (d *Driver) collectSrum(coll *config.Collection, a config.Artifact, sess *output.Session) error {
	var opts srumOptions
	if err := coll.DecodeOptions(a, &opts); err != nil {
		return errs.ErrConfig
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		return errs.ErrSourceUnavailable
	}
	defer f.Close()

	cat, err := ese.Open(f, d.lg)
	if err != nil {
		return err
	}
	idMap := d.loadSrumIDMap(cat)

	table, ok := cat.Table(opts.Table)
	if !ok {
		d.lg.Warnf("collect: srum table %q not found in %s", opts.Table, opts.Path)
		return nil
	}
	pageBatches, err := cat.PagesOf(table)
	if err != nil {
		return err
	}
	for _, pages := range pageBatches {
		rows, err := cat.RowsOf(table, pages)
		if err != nil {
			d.lg.Warnf("collect: srum rows: %v", err)
			continue
		}
		for _, row := range rows {
			rec := model.SrumRow{Table: opts.Table, Fields: make(map[string]string, len(row))}
			for _, cv := range row {
				rec.Fields[cv.Column] = cv.Value
				switch cv.Column {
				case "TimeStamp":
					rec.Timestamp = cv.Value
				case "AppId":
					rec.AppID = resolveSrumID(idMap, cv.Value)
				case "UserId":
					rec.UserID = resolveSrumID(idMap, cv.Value)
				}
			}
			if err := sess.Push(rec); err != nil {
				d.lg.Warnf("collect: srum push failed: %v", err)
			}
		}
	}
	return nil
}

// loadSrumIDMap reads SruDbIdMapTable into an IdIndex -> IdBlob map. A
// missing or unreadable map table leaves AppId/UserId unresolved (raw
// index values), never failing the artifact.
func (d *Driver) loadSrumIDMap(cat *ese.Catalog) map[string]string {
	out := make(map[string]string)
	table, ok := cat.Table(srumIDMapTable)
	if !ok {
		return out
	}
	pageBatches, err := cat.PagesOf(table)
	if err != nil {
		return out
	}
	for _, pages := range pageBatches {
		rows, err := cat.RowsOf(table, pages)
		if err != nil {
			continue
		}
		for _, row := range rows {
			var idx, blob string
			for _, cv := range row {
				switch cv.Column {
				case "IdIndex":
					idx = cv.Value
				case "IdBlob":
					blob = cv.Value
				}
			}
			if idx != "" {
				out[idx] = blob
			}
		}
	}
	return out
}

func resolveSrumID(idMap map[string]string, raw string) string {
	if resolved, ok := idMap[raw]; ok && resolved != "" {
		return resolved
	}
	return raw
}

// --- windows search ----------------------------------------------------

type searchOptions struct {
	Path        string   `toml:"path"`
	Table       string   `toml:"table"`
	DocumentIDs []string `toml:"document_ids"`
}

func (d *Driver) collectSearch(coll *config.Collection, a config.Artifact, sess *output.Session) error {
	var opts searchOptions
	if err := coll.DecodeOptions(a, &opts); err != nil {
		return errs.ErrConfig
	}
	if opts.Table == "" {
		opts.Table = "SystemIndex_Gthr"
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		return errs.ErrSourceUnavailable
	}
	defer f.Close()

	cat, err := ese.Open(f, d.lg)
	if err != nil {
		return err
	}
	table, ok := cat.Table(opts.Table)
	if !ok {
		d.lg.Warnf("collect: search table %q not found in %s", opts.Table, opts.Path)
		return nil
	}
	pageBatches, err := cat.PagesOf(table)
	if err != nil {
		return err
	}

	allowed := make(map[string]bool, len(opts.DocumentIDs))
	for _, id := range opts.DocumentIDs {
		allowed[id] = true
	}

	for _, pages := range pageBatches {
		var rows []ese.Row
		var rerr error
		if len(opts.DocumentIDs) > 0 {
			if len(allowed) == 0 {
				break
			}
			rows, rerr = cat.RowsFiltered(table, pages, "DocumentID", allowed)
		} else {
			rows, rerr = cat.RowsOf(table, pages)
		}
		if rerr != nil {
			d.lg.Warnf("collect: search rows: %v", rerr)
			continue
		}
		for _, row := range rows {
			entry := model.SearchEntry{Properties: make(map[string]interface{}, len(row))}
			for _, cv := range row {
				entry.Properties[cv.Column] = cv.Value
				switch cv.Column {
				case "DocumentID":
					if id, err := strconv.ParseInt(cv.Value, 10, 64); err == nil {
						entry.DocumentID = id
					}
				case "FileName":
					entry.Path = cv.Value
				case "LastModified":
					entry.LastModified = cv.Value
				}
			}
			if err := sess.Push(entry); err != nil {
				d.lg.Warnf("collect: search push failed: %v", err)
			}
		}
	}
	return nil
}

// --- eventlog ----------------------------------------------------------

type eventlogOptions struct {
	RecordsPath   string   `toml:"records_path"`
	ProvidersPath string   `toml:"providers_path"`
	TemplateFiles []string `toml:"template_files"`
}

// collectEventlog renders already-decoded eventlog records against
// provider template resources: the record stream is JSON lines of
// model.EventLogRecord, providers a JSON map of providerGuid ->
// {message_files, parameter_files, registry_path}, and template_files the
// PE files whose MESSAGETABLE / WEVT_TEMPLATE resources back the merge.
func (d *Driver) collectEventlog(coll *config.Collection, a config.Artifact, sess *output.Session) error {
	var opts eventlogOptions
	if err := coll.DecodeOptions(a, &opts); err != nil {
		return errs.ErrConfig
	}
	recData, err := os.ReadFile(opts.RecordsPath)
	if err != nil {
		return errs.ErrSourceUnavailable
	}

	res := eventlog.Resources{
		Providers: make(map[string]eventlog.ProviderInfo),
		Templates: make(map[string]eventlog.Template),
	}
	if opts.ProvidersPath != "" {
		if err := loadEventlogProviders(opts.ProvidersPath, &res); err != nil {
			d.lg.Warnf("collect: eventlog providers %q: %v", opts.ProvidersPath, err)
		}
	}
	for _, tf := range opts.TemplateFiles {
		pe, err := os.ReadFile(tf)
		if err != nil {
			d.lg.Warnf("collect: eventlog template file %q: %v", tf, err)
			continue
		}
		tmpl, err := eventlog.LoadTemplateFile(pe, d.lg)
		if err != nil {
			d.lg.Warnf("collect: eventlog template file %q: %v", tf, err)
			continue
		}
		res.Templates[tf] = tmpl
	}

	merger := eventlog.NewMerger(res)
	for _, line := range bytes.Split(recData, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec model.EventLogRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			d.lg.Warnf("collect: eventlog record parse: %v", err)
			continue
		}
		msg := merger.Render(rec)
		msg.SourceFile = opts.RecordsPath
		if err := sess.Push(msg); err != nil {
			d.lg.Warnf("collect: eventlog push failed: %v", err)
		}
	}
	return nil
}

func loadEventlogProviders(path string, res *eventlog.Resources) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errs.ErrSourceUnavailable
	}
	var raw map[string]struct {
		MessageFiles   []string `json:"message_files"`
		ParameterFiles []string `json:"parameter_files"`
		RegistryPath   string   `json:"registry_path"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return errs.ErrParseCorrupt
	}
	for guid, p := range raw {
		res.Providers[guid] = eventlog.ProviderInfo{
			MessageFiles:   p.MessageFiles,
			ParameterFiles: p.ParameterFiles,
			RegistryPath:   p.RegistryPath,
		}
	}
	return nil
}

// --- ntfs --------------------------------------------------------------

type ntfsOptions struct {
	Device     string `toml:"device"`
	SectorSize int    `toml:"sector_size"`
	MFTStart   int64  `toml:"mft_start"`
	RecordSize int    `toml:"record_size"`
	StartIndex uint64 `toml:"start_index"`
	Count      uint64 `toml:"count"`
}

func (d *Driver) collectNTFS(coll *config.Collection, a config.Artifact, sess *output.Session) error {
	var opts ntfsOptions
	if err := coll.DecodeOptions(a, &opts); err != nil {
		return errs.ErrConfig
	}
	rd, err := rawdisk.Open(opts.Device, opts.SectorSize, d.lg)
	if err != nil {
		return err
	}
	defer rd.Close()

	recordSize := opts.RecordSize
	if recordSize <= 0 {
		recordSize = 1024
	}
	vol := ntfs.NewVolume(rd, opts.MFTStart, recordSize, d.lg)
	count := opts.Count
	if count == 0 {
		count = 1 << 20
	}
	records, err := vol.WalkFiles(opts.StartIndex, count)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := sess.Push(rec); err != nil {
			d.lg.Warnf("collect: ntfs push failed: %v", err)
		}
	}
	return nil
}

// --- script --------------------------------------------------------------

type scriptOptions struct {
	Path    string `toml:"path"`
	Source  string `toml:"source"`
	Timeout int    `toml:"timeout_seconds"`
}

func (d *Driver) collectScript(coll *config.Collection, a config.Artifact, sess *output.Session) error {
	var opts scriptOptions
	if err := coll.DecodeOptions(a, &opts); err != nil {
		return errs.ErrConfig
	}
	source := opts.Source
	if source == "" && opts.Path != "" {
		b, err := os.ReadFile(opts.Path)
		if err != nil {
			return errs.ErrSourceUnavailable
		}
		source = string(b)
	}
	if source == "" {
		return fmt.Errorf("collect: script artifact %q has no source or path", a.Name)
	}

	timeout := time.Duration(opts.Timeout) * time.Second
	host := script.New(d.lg, timeout)
	val, err := host.Run(a.Name, source)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrScript, err)
	}
	if val == nil {
		return nil
	}
	return sess.Push(val)
}

// Compile-time checks that every provider adapter satisfies the upload
// capability buildWriter hands to output.NewCloudWriter.
var (
	_ cloud.ResumableUpload = (*awsupload.Uploader)(nil)
	_ cloud.ResumableUpload = (*gcsupload.Uploader)(nil)
	_ cloud.ResumableUpload = (*azureupload.Uploader)(nil)
)
