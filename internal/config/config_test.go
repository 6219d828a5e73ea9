/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleCollection = `
[Output]
name = "nightly"
directory = "/tmp/out"
format = "jsonl"
compress = true
endpoint_id = "ep-1"
collection_id = "coll-1"
output = "local"

[[artifacts]]
artifact_name = "files"
[artifacts.Options]
root = "/etc"
max_depth = 3
md5 = true

[[artifacts]]
artifact_name = "ntfs_mft"
[artifacts.Options]
device = "C"
`

func TestLoadBytesParsesOutputAndArtifacts(t *testing.T) {
	c, err := LoadBytes([]byte(sampleCollection))
	require.NoError(t, err)
	require.Equal(t, "nightly", c.Output.Name)
	require.Equal(t, FormatJSONL, c.Output.Format)
	require.True(t, c.Output.Compress)
	require.Equal(t, OutputLocal, c.Output.Kind)
	require.Len(t, c.Artifacts, 2)
	require.Equal(t, "files", c.Artifacts[0].Name)
	require.Equal(t, "ntfs_mft", c.Artifacts[1].Name)
}

func TestDecodeOptionsPerArtifact(t *testing.T) {
	c, err := LoadBytes([]byte(sampleCollection))
	require.NoError(t, err)

	var opts struct {
		Root     string `toml:"root"`
		MaxDepth int    `toml:"max_depth"`
		MD5      bool   `toml:"md5"`
	}
	require.NoError(t, c.DecodeOptions(c.Artifacts[0], &opts))
	require.Equal(t, "/etc", opts.Root)
	require.Equal(t, 3, opts.MaxDepth)
	require.True(t, opts.MD5)
}

func TestLoadBytesRejectsOversizedInput(t *testing.T) {
	huge := make([]byte, maxConfigSize+1)
	_, err := LoadBytes(huge)
	require.ErrorIs(t, err, ErrConfigFileTooLarge)
}

func TestLoadBytesRejectsBadTOML(t *testing.T) {
	_, err := LoadBytes([]byte("[Output\nname="))
	require.Error(t, err)
}
