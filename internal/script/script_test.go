/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package script

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunReturnsExportedValue(t *testing.T) {
	h := New(nil, 5*time.Second)
	val, err := h.Run("t", `({count: 2, names: ["a", "b"]})`)
	require.NoError(t, err)
	m, ok := val.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, int64(2), m["count"])
}

func TestRunNullReturnsNothing(t *testing.T) {
	h := New(nil, 5*time.Second)
	val, err := h.Run("t", `null`)
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestRunSurfacesThrownErrors(t *testing.T) {
	h := New(nil, 5*time.Second)
	_, err := h.Run("t", `throw new Error("boom")`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestScriptCanCatchBindingErrors(t *testing.T) {
	h := New(nil, 5*time.Second)
	val, err := h.Run("t", `
		var out = "uncaught";
		try {
			read_file("/definitely/not/a/real/path-xyz");
		} catch (e) {
			out = "caught";
		}
		out`)
	require.NoError(t, err)
	require.Equal(t, "caught", val)
}

func TestReadLinesBinding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))

	h := New(nil, 5*time.Second)
	val, err := h.Run("t", `read_lines("`+path+`", 1, 1)`)
	require.NoError(t, err)
	lines, ok := val.([]string)
	require.True(t, ok)
	require.Equal(t, []string{"two"}, lines)
}

func TestStatBinding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, []byte("abcd"), 0o644))

	h := New(nil, 5*time.Second)
	val, err := h.Run("t", `stat("`+path+`").size`)
	require.NoError(t, err)
	require.Equal(t, int64(4), val)
}

func TestTimeoutAbortsScript(t *testing.T) {
	h := New(nil, 50*time.Millisecond)
	_, err := h.Run("t", `for(;;){}`)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestHashFileBinding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	h := New(nil, 5*time.Second)
	val, err := h.Run("t", `hash_file("`+path+`", "sha256").sha256`)
	require.NoError(t, err)
	require.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", val)
}

func TestRunFilterReplacesBatch(t *testing.T) {
	h := New(nil, 5*time.Second)
	out, err := h.RunFilter("f", `batch.filter(function(r) { return r !== "drop-me" })`, []interface{}{"keep", "drop-me"})
	require.NoError(t, err)
	require.Equal(t, []interface{}{"keep"}, out)
}

func TestRunFilterNullDropsBatch(t *testing.T) {
	h := New(nil, 5*time.Second)
	out, err := h.RunFilter("f", `null`, []interface{}{"a"})
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestRunFilterNonArrayIsError(t *testing.T) {
	h := New(nil, 5*time.Second)
	_, err := h.RunFilter("f", `"oops"`, []interface{}{"a"})
	require.Error(t, err)
}
