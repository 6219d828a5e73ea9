/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package output implements the per-artifact ring-buffer/serialize/flush
// pipeline: batches of records are accumulated in
// memory, serialized to JSON or JSONL, optionally wrapped in an envelope
// and passed through a user filter script, then handed to a Writer — a
// local file (plain or gzip) or one of the cloud multipart uploaders.
package output

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/gravwell/artemis-collector/internal/config"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
)

const (
	lightThreshold = 10000
	heavyThreshold = 1000
)

// Writer is the destination a Session flushes serialized batches to.
// Cloud uploaders (internal/cloud/*) and the local file writer both
// implement it.
type Writer interface {
	WriteBatch(artifactName string, b []byte) error
	Close() error
}

// FilterFunc mirrors the script host's `(batch) -> batch | null` filter
// callable: nil means "drop the batch", otherwise it's a replacement list.
type FilterFunc func(records []interface{}) []interface{}

// Envelope wraps a flushed batch with its collection metadata.
type Envelope struct {
	Metadata Metadata      `json:"metadata"`
	Data     []interface{} `json:"data"`
}

type Metadata struct {
	EndpointID   string `json:"endpoint_id"`
	CollectionID string `json:"collection_id"`
	ArtifactName string `json:"artifact_name"`
	StartTime    string `json:"start_time"`
	Hostname     string `json:"hostname"`
	Platform     string `json:"platform"`
}

// Session is a single artifact's ring buffer and flush driver.
type Session struct {
	artifactName string
	out          config.Output
	writer       Writer
	lg           *log.Logger
	filter       FilterFunc
	meta         Metadata
	threshold    int

	batch []interface{}
}

// NewSession builds a Session for one artifact. heavyPerRecord selects the
// 1,000-record threshold (heavy per-record work or timeline output
// enabled); otherwise the 10,000-record threshold applies.
func NewSession(artifactName string, out config.Output, w Writer, lg *log.Logger, filter FilterFunc, meta Metadata, heavyPerRecord bool) *Session {
	if lg == nil {
		lg = log.NewDiscard()
	}
	threshold := lightThreshold
	if heavyPerRecord || out.Timeline {
		threshold = heavyThreshold
	}
	return &Session{
		artifactName: artifactName,
		out:          out,
		writer:       w,
		lg:           lg,
		filter:       filter,
		meta:         meta,
		threshold:    threshold,
	}
}

// Push appends one record to the batch, flushing automatically once the
// threshold is reached.
func (s *Session) Push(record interface{}) error {
	s.batch = append(s.batch, record)
	if len(s.batch) >= s.threshold {
		return s.Flush()
	}
	return nil
}

// Flush serializes and writes the current batch, then clears it. An empty
// batch is a no-op.
func (s *Session) Flush() error {
	if len(s.batch) == 0 {
		return nil
	}
	batch := s.batch
	s.batch = nil

	if s.filter != nil {
		filtered := s.filter(batch)
		if filtered == nil {
			s.lg.Infof("output: filter script dropped batch for artifact %s", s.artifactName)
			return nil
		}
		batch = filtered
	}

	var payload interface{} = batch
	if s.out.URL != "" || s.meta.EndpointID != "" || s.meta.CollectionID != "" {
		payload = Envelope{Metadata: s.meta, Data: batch}
	}

	b, err := serialize(payload, s.out.Format)
	if err != nil {
		s.lg.Warnf("output: serialization failed for artifact %s: %v", s.artifactName, err)
		return errs.ErrSerializationFailure
	}

	if err := s.writer.WriteBatch(s.artifactName, b); err != nil {
		s.lg.Errorf("output: flush failed for artifact %s: %v", s.artifactName, err)
		return errs.ErrRemoteUpload
	}
	return nil
}

// Finish flushes any remaining records and emits a terminator record so
// streaming consumers can detect end-of-artifact.
func (s *Session) Finish() error {
	if err := s.Flush(); err != nil {
		return err
	}
	term := map[string]interface{}{"_terminator": true, "artifact_name": s.artifactName}
	b, err := serialize(term, s.out.Format)
	if err != nil {
		return errs.ErrSerializationFailure
	}
	return s.writer.WriteBatch(s.artifactName, b)
}

func serialize(v interface{}, format config.OutputFormat) ([]byte, error) {
	if format == config.FormatJSONL {
		list, ok := v.([]interface{})
		if !ok {
			if env, ok := v.(Envelope); ok {
				var buf bytes.Buffer
				for _, r := range env.Data {
					line, err := json.Marshal(r)
					if err != nil {
						return nil, err
					}
					buf.Write(line)
					buf.WriteByte('\n')
				}
				return buf.Bytes(), nil
			}
			return json.Marshal(v)
		}
		var buf bytes.Buffer
		for _, r := range list {
			line, err := json.Marshal(r)
			if err != nil {
				return nil, err
			}
			buf.Write(line)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	}
	return json.Marshal(v)
}

// LocalWriter writes batches as files under a directory, one file per
// flush, optionally gzip-compressed.
type LocalWriter struct {
	dir      string
	compress bool
	seq      map[string]int
}

// NewLocalWriter builds a LocalWriter rooted at dir, creating it if
// necessary.
func NewLocalWriter(dir string, compress bool) (*LocalWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.ErrSourceUnavailable
	}
	return &LocalWriter{dir: dir, compress: compress, seq: make(map[string]int)}, nil
}

func (w *LocalWriter) WriteBatch(artifactName string, b []byte) error {
	w.seq[artifactName]++
	ext := ".json"
	if w.compress {
		ext += ".gz"
	}
	name := artifactName + "-" + padSeq(w.seq[artifactName]) + ext
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return errs.ErrRemoteUpload
	}
	defer f.Close()

	var dst io.Writer = f
	var gz *gzip.Writer
	if w.compress {
		gz = gzip.NewWriter(f)
		dst = gz
	}
	if _, err := dst.Write(b); err != nil {
		return errs.ErrRemoteUpload
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return errs.ErrRemoteUpload
		}
	}
	return nil
}

func (w *LocalWriter) Close() error { return nil }

func padSeq(n int) string {
	digits := "0123456789"
	b := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		b[i] = digits[n%10]
		n /= 10
	}
	return string(b)
}

// NewMetadata builds the Metadata block for a session's envelopes.
func NewMetadata(out config.Output, hostname, platform string) Metadata {
	return Metadata{
		EndpointID:   out.EndpointID,
		CollectionID: out.CollectionID,
		ArtifactName: out.Name,
		StartTime:    time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Hostname:     hostname,
		Platform:     platform,
	}
}
