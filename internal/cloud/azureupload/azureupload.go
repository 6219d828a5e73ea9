/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package azureupload implements cloud.ResumableUpload against Azure
// Blob Storage's Put Block / Put Block List operations. The collector
// authenticates with a SAS URL (carried in the Output `url` field, not
// `api_key`), so requests are built and sent with
// github.com/Azure/go-autorest/autorest's HTTP pipeline helpers rather
// than the classic storage.Client, which expects account-key auth
// incompatible with a bare SAS URL.
package azureupload

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/go-autorest/autorest"

	"github.com/gravwell/artemis-collector/internal/cloud"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
)

// Uploader implements cloud.ResumableUpload against a container reached
// through a caller-supplied SAS URL.
type Uploader struct {
	client autorest.Client
	sasURL *url.URL
	lg     *log.Logger
}

// New builds an Uploader from the container (or account) SAS URL carried
// in the collection file's Output.URL field.
func New(sasURL string, lg *log.Logger) (*Uploader, error) {
	if lg == nil {
		lg = log.NewDiscard()
	}
	u, err := url.Parse(sasURL)
	if err != nil {
		return nil, errs.ErrConfig
	}
	return &Uploader{client: autorest.NewClientWithUserAgent("artemis-collector"), sasURL: u, lg: lg}, nil
}

// blockIDWidth is the fixed width every generated block id is padded to
// before base64url-encoding: "a base64url-encoded
// block id of fixed width ... padded, to ensure all block ids have equal
// length".
const blockIDWidth = 5

type handle struct {
	blobURL  *url.URL
	blockIDs []string
}

func (h *handle) Filename() string { return h.blobURL.Path }

// Begin composes the destination blob URL (the SAS URL's base plus
// filename as the blob name), carrying the original SAS query string
// forward onto every subsequent Put Block / Put Block List call.
func (u *Uploader) Begin(ctx context.Context, filename string, metadata map[string]string) (cloud.SessionHandle, error) {
	blob := *u.sasURL
	blob.Path = strings.TrimSuffix(blob.Path, "/") + "/" + filename
	return &handle{blobURL: &blob}, nil
}

// UploadPart issues a Put Block request for one contiguous range. The
// part tag returned is the same fixed-width base64url-encoded block id
// the caller must pass back to Complete in order.
func (u *Uploader) UploadPart(ctx context.Context, h cloud.SessionHandle, b []byte, partID int) (cloud.PartTag, error) {
	hd, ok := h.(*handle)
	if !ok {
		return "", errs.ErrRemoteUpload
	}
	blockID := encodeBlockID(partID)

	err := cloud.Retry(ctx, func() (bool, error) {
		q := hd.blobURL.Query()
		q.Set("comp", "block")
		q.Set("blockid", blockID)
		req, err := autorest.Prepare(&http.Request{},
			autorest.AsPut(),
			autorest.WithBaseURL(hd.blobURL.Scheme+"://"+hd.blobURL.Host),
			autorest.WithPath(hd.blobURL.Path),
			autorest.WithBytes(&b),
		)
		if err != nil {
			return false, err
		}
		req.URL.RawQuery = q.Encode()
		req = req.WithContext(ctx)

		resp, serr := u.client.Do(req)
		if serr != nil {
			return true, serr
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusCreated {
			return false, nil
		}
		if resp.StatusCode >= 500 {
			return true, fmt.Errorf("azureupload: put block returned %d", resp.StatusCode)
		}
		return false, fmt.Errorf("azureupload: put block returned %d", resp.StatusCode)
	})
	if err != nil {
		u.lg.Errorf("azureupload: UploadPart %d failed for %s: %v", partID, hd.blobURL.Path, err)
		return "", errs.ErrRemoteUpload
	}
	hd.blockIDs = append(hd.blockIDs, blockID)
	return cloud.PartTag(blockID), nil
}

// blockListXML is the `?comp=blocklist` request body:
// an ordered list of `<Latest>{id}</Latest>` entries.
type blockListXML struct {
	XMLName xml.Name `xml:"BlockList"`
	Latest  []string `xml:"Latest"`
}

// Complete PUTs the ordered block-id list, committing the blob.
func (u *Uploader) Complete(ctx context.Context, h cloud.SessionHandle, parts []cloud.PartTag) error {
	hd, ok := h.(*handle)
	if !ok {
		return errs.ErrRemoteUpload
	}
	ids := make([]string, len(parts))
	for i, p := range parts {
		ids[i] = string(p)
	}
	body, err := xml.Marshal(blockListXML{Latest: ids})
	if err != nil {
		return errs.ErrSerializationFailure
	}

	return cloud.Retry(ctx, func() (bool, error) {
		q := hd.blobURL.Query()
		q.Set("comp", "blocklist")
		req, err := autorest.Prepare(&http.Request{},
			autorest.AsPut(),
			autorest.WithBaseURL(hd.blobURL.Scheme+"://"+hd.blobURL.Host),
			autorest.WithPath(hd.blobURL.Path),
			autorest.WithBytes(&body),
		)
		if err != nil {
			return false, err
		}
		req.URL.RawQuery = q.Encode()
		req = req.WithContext(ctx)
		req.Header.Set("Content-Type", "application/xml")

		resp, serr := u.client.Do(req)
		if serr != nil {
			return true, serr
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusCreated {
			return false, nil
		}
		if resp.StatusCode >= 500 {
			return true, fmt.Errorf("azureupload: put block list returned %d", resp.StatusCode)
		}
		return false, fmt.Errorf("azureupload: put block list returned %d", resp.StatusCode)
	})
}

// encodeBlockID renders partID as a fixed-width, base64url-encoded block
// id, e.g. partID 5 -> base64url("blockid-00005").
func encodeBlockID(partID int) string {
	raw := fmt.Sprintf("blockid-%0*d", blockIDWidth, partID)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}
