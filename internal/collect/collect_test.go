/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package collect

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/artemis-collector/internal/config"
)

func TestRunCollectsFilesArtifactToLocalOutput(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "evidence.txt"), []byte("finding"), 0o644))
	outDir := filepath.Join(t.TempDir(), "out")

	coll, err := config.LoadBytes([]byte(`
[Output]
name = "test"
directory = "` + filepath.ToSlash(outDir) + `"
format = "json"
output = "local"
endpoint_id = "ep-1"
collection_id = "coll-1"

[[artifacts]]
artifact_name = "files"
[artifacts.Options]
root = "` + filepath.ToSlash(src) + `"
sha256 = true
`))
	require.NoError(t, err)

	d := New("testhost", nil)
	require.NoError(t, d.Run(coll))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	b, err := os.ReadFile(filepath.Join(outDir, entries[0].Name()))
	require.NoError(t, err)
	body := string(b)
	require.Contains(t, body, "evidence.txt")
	require.Contains(t, body, `"endpoint_id":"ep-1"`)
	require.Contains(t, body, "testhost")
}

func TestRunSkipsUnknownArtifacts(t *testing.T) {
	outDir := t.TempDir()
	coll, err := config.LoadBytes([]byte(`
[Output]
directory = "` + filepath.ToSlash(outDir) + `"
output = "local"

[[artifacts]]
artifact_name = "not_a_real_artifact"
`))
	require.NoError(t, err)

	d := New("h", nil)
	require.NoError(t, d.Run(coll))
}

func TestScriptArtifactPushesReturnValue(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	coll, err := config.LoadBytes([]byte(`
[Output]
directory = "` + filepath.ToSlash(outDir) + `"
output = "local"
endpoint_id = "ep-2"

[[artifacts]]
artifact_name = "script"
[artifacts.Options]
source = "({verdict: 'clean', count: 3})"
timeout_seconds = 5
`))
	require.NoError(t, err)

	d := New("h", nil)
	require.NoError(t, d.Run(coll))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var all strings.Builder
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(outDir, e.Name()))
		require.NoError(t, err)
		all.Write(b)
	}
	require.Contains(t, all.String(), "clean")
}
