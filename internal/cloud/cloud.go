/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package cloud defines the ResumableUpload capability shared by the
// three provider adapters in internal/cloud/awsupload, gcsupload, and
// azureupload.
package cloud

import "context"

// PartTag identifies one uploaded part/block for the final commit call:
// an ETag for AWS, a generated block id for Azure, empty for GCP (whose
// commit ignores the tags and closes the session with an empty PUT).
type PartTag string

// SessionHandle is an opaque provider-specific upload session.
type SessionHandle interface {
	// Filename is the object's destination path/key, used for logging.
	Filename() string
}

// ResumableUpload is the unified multipart/resumable capability every
// provider adapter implements.
type ResumableUpload interface {
	Begin(ctx context.Context, filename string, metadata map[string]string) (SessionHandle, error)
	UploadPart(ctx context.Context, handle SessionHandle, b []byte, partID int) (PartTag, error)
	Complete(ctx context.Context, handle SessionHandle, parts []PartTag) error
}

const maxRetries = 15
