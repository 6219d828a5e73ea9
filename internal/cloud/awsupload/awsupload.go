/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package awsupload implements cloud.ResumableUpload against AWS S3
// multipart uploads using the aws-sdk-go v1 S3 client.
package awsupload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/gravwell/artemis-collector/internal/cloud"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
)

// Credentials is the decoded form of an AWS `api_key` field:
// `{bucket, region, key, secret}`. Endpoint is optional and points the
// client at an S3-compatible store instead of AWS proper.
type Credentials struct {
	Bucket   string `json:"bucket"`
	Region   string `json:"region"`
	Key      string `json:"key"`
	Secret   string `json:"secret"`
	Endpoint string `json:"endpoint,omitempty"`
}

// DecodeCredentials base64-decodes and unmarshals an `api_key` value.
func DecodeCredentials(apiKey string) (Credentials, error) {
	raw, err := base64.StdEncoding.DecodeString(apiKey)
	if err != nil {
		return Credentials{}, errs.ErrConfig
	}
	var c Credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credentials{}, errs.ErrConfig
	}
	return c, nil
}

// Uploader implements cloud.ResumableUpload against S3.
type Uploader struct {
	client *s3.S3
	bucket string
	lg     *log.Logger
}

// New builds an Uploader from decoded AWS credentials.
func New(creds Credentials, lg *log.Logger) (*Uploader, error) {
	if lg == nil {
		lg = log.NewDiscard()
	}
	cfg := &aws.Config{
		Region:      aws.String(creds.Region),
		Credentials: credentials.NewStaticCredentials(creds.Key, creds.Secret, ""),
	}
	if creds.Endpoint != "" {
		cfg.Endpoint = aws.String(creds.Endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
		cfg.DisableSSL = aws.Bool(strings.HasPrefix(creds.Endpoint, "http://"))
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errs.ErrConfig
	}
	return &Uploader{client: s3.New(sess), bucket: creds.Bucket, lg: lg}, nil
}

type handle struct {
	key      string
	uploadID string
}

func (h *handle) Filename() string { return h.key }

// Begin issues CreateMultipartUpload, attaching metadata as x-amz-meta-*
// headers.
func (u *Uploader) Begin(ctx context.Context, filename string, metadata map[string]string) (cloud.SessionHandle, error) {
	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		meta[k] = aws.String(v)
	}
	out, err := u.client.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(filename),
		Metadata:    meta,
		ContentType: aws.String("application/json-seq"), // advisory; deployments may override
	})
	if err != nil {
		u.lg.Errorf("awsupload: CreateMultipartUpload failed for %s: %v", filename, err)
		return nil, errs.ErrRemoteUpload
	}
	return &handle{key: filename, uploadID: aws.StringValue(out.UploadId)}, nil
}

// UploadPart uploads one part, 1..10000, retrying on 5xx and on AWS's
// documented 200-OK-with-embedded-<Error> quirk.
func (u *Uploader) UploadPart(ctx context.Context, h cloud.SessionHandle, b []byte, partID int) (cloud.PartTag, error) {
	hd, ok := h.(*handle)
	if !ok {
		return "", errs.ErrRemoteUpload
	}
	var tag cloud.PartTag
	err := cloud.Retry(ctx, func() (bool, error) {
		out, err := u.client.UploadPartWithContext(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(u.bucket),
			Key:        aws.String(hd.key),
			UploadId:   aws.String(hd.uploadID),
			PartNumber: aws.Int64(int64(partID)),
			Body:       bytes.NewReader(b),
		})
		if err != nil {
			return isRetryable(err), err
		}
		etag := aws.StringValue(out.ETag)
		if strings.Contains(etag, "<Error>") {
			return true, fmt.Errorf("awsupload: embedded error in 200 OK response")
		}
		tag = cloud.PartTag(etag)
		return false, nil
	})
	if err != nil {
		u.lg.Errorf("awsupload: UploadPart %d failed for %s: %v", partID, hd.key, err)
		return "", errs.ErrRemoteUpload
	}
	return tag, nil
}

// Complete submits the ordered ETag list via CompleteMultipartUpload.
func (u *Uploader) Complete(ctx context.Context, h cloud.SessionHandle, parts []cloud.PartTag) error {
	hd, ok := h.(*handle)
	if !ok {
		return errs.ErrRemoteUpload
	}
	completed := make([]*s3.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = &s3.CompletedPart{
			ETag:       aws.String(string(p)),
			PartNumber: aws.Int64(int64(i + 1)),
		}
	}
	err := cloud.Retry(ctx, func() (bool, error) {
		_, err := u.client.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(u.bucket),
			Key:             aws.String(hd.key),
			UploadId:        aws.String(hd.uploadID),
			MultipartUpload: &s3.CompletedMultipartUpload{Parts: completed},
		})
		if err != nil {
			return isRetryable(err), err
		}
		return false, nil
	})
	if err != nil {
		u.lg.Errorf("awsupload: CompleteMultipartUpload failed for %s: %v", hd.key, err)
		return errs.ErrRemoteUpload
	}
	return nil
}

func isRetryable(err error) bool {
	// aws-sdk-go surfaces 5xx and connection failures as awserr.Error with
	// no distinguishable status in all cases; treat every transport-level
	// failure as retryable and let the retry budget bound it.
	return err != nil
}
