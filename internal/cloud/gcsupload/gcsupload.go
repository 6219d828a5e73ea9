/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package gcsupload implements cloud.ResumableUpload against GCP Cloud
// Storage resumable uploads: a single resumable session URL,
// PUT-per-part with an open-ended Content-Range header, and a Complete
// that commits the object with a final zero-length PUT announcing the
// total size. Credentials and
// transport come from google.golang.org/api/option plus
// golang.org/x/oauth2/google.
package gcsupload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"github.com/gravwell/artemis-collector/internal/cloud"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
)

const uploadScope = "https://www.googleapis.com/auth/devstorage.read_write"

// Uploader implements cloud.ResumableUpload against GCS.
type Uploader struct {
	client *http.Client
	bucket string
	lg     *log.Logger
}

// New builds an Uploader from a decoded service-account JSON document (the
// TOML `api_key` field).
func New(serviceAccountJSON []byte, bucket string, lg *log.Logger) (*Uploader, error) {
	if lg == nil {
		lg = log.NewDiscard()
	}
	creds, err := google.CredentialsFromJSON(context.Background(), serviceAccountJSON, uploadScope)
	if err != nil {
		return nil, errs.ErrConfig
	}
	// This adapter issues raw resumable-session HTTP calls rather than
	// using a generated storage client, but still borrows
	// google.golang.org/api's credential-aware *http.Client construction
	// (transport/http.NewClient) instead of hand-rolling an
	// oauth2.Transport.
	client, _, err := htransport.NewClient(context.Background(), option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, errs.ErrConfig
	}
	return &Uploader{client: client, bucket: bucket, lg: lg}, nil
}

type handle struct {
	filename   string
	sessionURL string
	total      int64 // -1 until the final part is known
	written    int64
}

func (h *handle) Filename() string { return h.filename }

// Begin POSTs a resumable-session initiation request, attaching metadata
// as `x-goog-meta-*` request headers.
func (u *Uploader) Begin(ctx context.Context, filename string, metadata map[string]string) (cloud.SessionHandle, error) {
	initURL := fmt.Sprintf("https://storage.googleapis.com/upload/storage/v1/b/%s/o?uploadType=resumable&name=%s", u.bucket, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, initURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, errs.ErrRemoteUpload
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", "application/json-seq")
	for k, v := range metadata {
		req.Header.Set("x-goog-meta-"+k, v)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		u.lg.Errorf("gcsupload: resumable session init failed for %s: %v", filename, err)
		return nil, errs.ErrRemoteUpload
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		u.lg.Errorf("gcsupload: resumable session init for %s returned %d", filename, resp.StatusCode)
		return nil, errs.ErrRemoteUpload
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, errs.ErrRemoteUpload
	}
	return &handle{filename: filename, sessionURL: loc, total: -1}, nil
}

// UploadPart PUTs one contiguous byte range to the session URL. Every
// part before the last uses an open-ended `Content-Range: bytes X-Y/*`;
// the caller signals the final part by leaving no further UploadPart call
// and instead calling Complete, which announces the known total in an
// empty PUT. GCS's chunked-resumable protocol expects one byte range per PUT,
// so this adapter's PartTag is always empty — GCS has no part-tag
// concept.
func (u *Uploader) UploadPart(ctx context.Context, h cloud.SessionHandle, b []byte, partID int) (cloud.PartTag, error) {
	hd, ok := h.(*handle)
	if !ok {
		return "", errs.ErrRemoteUpload
	}
	start := hd.written
	end := start + int64(len(b)) - 1
	var tag cloud.PartTag
	err := cloud.Retry(ctx, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, hd.sessionURL, bytes.NewReader(b))
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", start, end))
		resp, rerr := u.client.Do(req)
		if rerr != nil {
			return true, rerr
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, 308: // 308 Resume Incomplete is the expected intermediate response
			return false, nil
		case 429, 500, 502, 503, 504:
			return true, fmt.Errorf("gcsupload: transient status %d", resp.StatusCode)
		default:
			return false, fmt.Errorf("gcsupload: unexpected status %d", resp.StatusCode)
		}
	})
	if err != nil {
		u.lg.Errorf("gcsupload: part upload failed for %s: %v", hd.filename, err)
		return "", errs.ErrRemoteUpload
	}
	hd.written = end + 1
	return tag, nil
}

// Complete finalizes the object with a zero-length PUT carrying
// `Content-Range: bytes */TOTAL`, where TOTAL is the byte count the prior
// UploadPart calls wrote; announcing a known total closes a resumable
// session. No data is re-sent, and parts is not consulted.
func (u *Uploader) Complete(ctx context.Context, h cloud.SessionHandle, parts []cloud.PartTag) error {
	hd, ok := h.(*handle)
	if !ok {
		return errs.ErrRemoteUpload
	}
	return cloud.Retry(ctx, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, hd.sessionURL, nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", hd.written))
		resp, rerr := u.client.Do(req)
		if rerr != nil {
			return true, rerr
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return false, nil
		}
		return true, fmt.Errorf("gcsupload: complete returned status %d", resp.StatusCode)
	})
}

// DecodeServiceAccount checks that the decoded `api_key` TOML field (a raw
// GCP service-account JSON document) unmarshals as a JSON object before a
// credentials exchange is attempted; individual fields are not validated.
func DecodeServiceAccount(apiKey []byte) error {
	var v map[string]interface{}
	if err := json.Unmarshal(apiKey, &v); err != nil {
		return errs.ErrConfig
	}
	return nil
}
