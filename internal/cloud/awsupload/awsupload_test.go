/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package awsupload

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/artemis-collector/internal/cloud"
)

const createMultipartResponse = `<?xml version="1.0" encoding="UTF-8"?>
<InitiateMultipartUploadResult>
  <Bucket>forensics</Bucket>
  <Key>files-000001.json</Key>
  <UploadId>upload-123</UploadId>
</InitiateMultipartUploadResult>`

const completeResponse = `<?xml version="1.0" encoding="UTF-8"?>
<CompleteMultipartUploadResult>
  <Bucket>forensics</Bucket>
  <Key>files-000001.json</Key>
  <ETag>"final"</ETag>
</CompleteMultipartUploadResult>`

// mockS3 implements the three multipart endpoints and counts methods.
type mockS3 struct {
	posts, puts int
}

func (m *mockS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		m.posts++
		w.Header().Set("Content-Type", "application/xml")
		if r.URL.Query().Has("uploadId") {
			w.Write([]byte(completeResponse))
			return
		}
		w.Write([]byte(createMultipartResponse))
	case http.MethodPut:
		m.puts++
		w.Header().Set("ETag", `"whatever"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func testCredentials(endpoint string) string {
	raw := `{"bucket":"forensics","region":"us-east-1","key":"k","secret":"s","endpoint":"` + endpoint + `"}`
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func TestMultipartHappyPath(t *testing.T) {
	mock := &mockS3{}
	srv := httptest.NewServer(mock)
	defer srv.Close()

	creds, err := DecodeCredentials(testCredentials(srv.URL))
	require.NoError(t, err)
	up, err := New(creds, nil)
	require.NoError(t, err)

	ctx := context.Background()
	h, err := up.Begin(ctx, "files-000001.json", map[string]string{"endpoint_id": "ep-1"})
	require.NoError(t, err)
	require.Equal(t, "files-000001.json", h.Filename())

	part := bytes.Repeat([]byte{'x'}, 5<<20)
	tag, err := up.UploadPart(ctx, h, part, 1)
	require.NoError(t, err)
	require.Equal(t, cloud.PartTag(`"whatever"`), tag)

	require.NoError(t, up.Complete(ctx, h, []cloud.PartTag{tag}))

	// exactly two POSTs (create + complete) and one PUT; no retries.
	require.Equal(t, 2, mock.posts)
	require.Equal(t, 1, mock.puts)
}

func TestDecodeCredentialsRejectsGarbage(t *testing.T) {
	_, err := DecodeCredentials("not base64!!")
	require.Error(t, err)

	_, err = DecodeCredentials(base64.StdEncoding.EncodeToString([]byte("not json")))
	require.Error(t, err)
}
