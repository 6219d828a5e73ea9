/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package errs defines the collector's error-kind taxonomy and a helper
// the driver uses to decide whether an error means "skip this record",
// "skip this artifact", or "abort the process".
package errs

import "errors"

// Kind classifies an error for the collection driver's propagation policy.
type Kind int

const (
	KindUnknown Kind = iota
	KindSourceUnavailable
	KindParseShort
	KindParseCorrupt
	KindDecompressionFailure
	KindSerializationFailure
	KindRemoteUpload
	KindScript
	KindConfig
)

// classified pairs a sentinel with the Kind it reports through As/Is.
type classified struct {
	error
	kind Kind
}

func (c classified) Unwrap() error { return c.error }

func wrap(kind Kind, msg string) error {
	return classified{error: errors.New(msg), kind: kind}
}

var (
	// ErrSourceUnavailable: the artifact's file or device cannot be opened.
	// The artifact is skipped; collection continues.
	ErrSourceUnavailable = wrap(KindSourceUnavailable, "source unavailable")

	// ErrParseShort: a fixed-width read ran past the end of the buffer.
	ErrParseShort = wrap(KindParseShort, "parse short: buffer underrun")

	// ErrParseCorrupt: structurally invalid data (bad signature, bad
	// offset, checksum mismatch).
	ErrParseCorrupt = wrap(KindParseCorrupt, "parse corrupt")

	// ErrDecompressionFailure: a codec could not produce the requested
	// output; dependent parsers surface this as a per-record skip.
	ErrDecompressionFailure = wrap(KindDecompressionFailure, "decompression failure")

	// ErrSerializationFailure: a batch could not be marshaled; the batch
	// is dropped.
	ErrSerializationFailure = wrap(KindSerializationFailure, "serialization failure")

	// ErrRemoteUpload: the cloud uploader exhausted its retry budget.
	ErrRemoteUpload = wrap(KindRemoteUpload, "remote upload failed")

	// ErrScript: a script threw or failed to compile.
	ErrScript = wrap(KindScript, "script error")

	// ErrConfig: the TOML collection file could not be loaded; this is the
	// only error kind that aborts the whole process.
	ErrConfig = wrap(KindConfig, "configuration error")
)

// KindOf walks err's Unwrap chain looking for a classified sentinel.
func KindOf(err error) Kind {
	for err != nil {
		if c, ok := err.(classified); ok {
			return c.kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return KindUnknown
}

// Fatal reports whether err's kind should abort the whole process rather
// than just the current artifact or record.
func Fatal(err error) bool {
	return KindOf(err) == KindConfig
}
