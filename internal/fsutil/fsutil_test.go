/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/artemis-collector/internal/model"
)

func seedTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "mid.log"), []byte("world"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "deep", "leaf.txt"), []byte("!"), 0o644))
	return root
}

func collectPaths(t *testing.T, opts WalkOptions) []model.FileInfo {
	t.Helper()
	var out []model.FileInfo
	require.NoError(t, Walk(opts, nil, func(fi model.FileInfo) { out = append(out, fi) }))
	return out
}

func TestWalkVisitsPreorder(t *testing.T) {
	root := seedTree(t)
	out := collectPaths(t, WalkOptions{Root: root})

	var names []string
	for _, fi := range out {
		names = append(names, fi.Filename)
	}
	require.Contains(t, names, "top.txt")
	require.Contains(t, names, "mid.log")
	require.Contains(t, names, "leaf.txt")
}

func TestWalkRespectsMaxDepth(t *testing.T) {
	root := seedTree(t)
	out := collectPaths(t, WalkOptions{Root: root, MaxDepth: 1})
	for _, fi := range out {
		require.LessOrEqual(t, fi.Depth, 1)
		require.NotEqual(t, "leaf.txt", fi.Filename)
	}
}

func TestWalkIncludeFilter(t *testing.T) {
	root := seedTree(t)
	inc, err := CompileGlob("**.txt")
	require.NoError(t, err)
	out := collectPaths(t, WalkOptions{Root: root, Include: inc})
	for _, fi := range out {
		if fi.IsFile {
			require.Equal(t, ".txt", fi.Extension)
		}
	}
}

func TestWalkComputesRequestedHashes(t *testing.T) {
	root := seedTree(t)
	out := collectPaths(t, WalkOptions{Root: root, Hashes: HashSet{SHA256: true}})
	for _, fi := range out {
		if fi.Filename == "top.txt" {
			require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", fi.SHA256)
			require.Empty(t, fi.MD5)
		}
	}
}

func TestWalkMissingRootFails(t *testing.T) {
	err := Walk(WalkOptions{Root: filepath.Join(t.TempDir(), "nope")}, nil, func(model.FileInfo) {})
	require.Error(t, err)
}

func TestCompileGlobEmptyMeansNil(t *testing.T) {
	g, err := CompileGlob("")
	require.NoError(t, err)
	require.Nil(t, g)
}
