/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package rawdisk

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/artemis-collector/internal/platform"
)

func writeBacking(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "volume.img")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func TestReadSpanningSectorBoundary(t *testing.T) {
	path, data := writeBacking(t, 4096*4)
	r, err := Open(path, 512, nil)
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 1024)
	_, err = r.Seek(300, io.SeekStart)
	require.NoError(t, err)
	n, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	require.Equal(t, 1024, n)
	require.Equal(t, data[300:1324], buf)
}

func TestReadAtDoesNotMoveCursor(t *testing.T) {
	path, data := writeBacking(t, 8192)
	r, err := Open(path, 4096, nil)
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 16)
	_, err = r.ReadAt(buf, 5000)
	require.NoError(t, err)
	require.Equal(t, data[5000:5016], buf)

	head := make([]byte, 4)
	_, err = r.Read(head)
	require.NoError(t, err)
	require.Equal(t, data[:4], head)
}

func TestCacheEvictionKeepsReadsCorrect(t *testing.T) {
	// touch well over defaultCacheDepth sectors, then re-read the
	// earliest ones; evicted entries must be re-fetched, not aliased.
	path, data := writeBacking(t, 512*200)
	r, err := Open(path, 512, nil)
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 512)
	for i := 0; i < 200; i++ {
		_, err := r.ReadAt(buf, int64(i)*512)
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		_, err := r.ReadAt(buf, int64(i)*512)
		require.NoError(t, err)
		require.Equal(t, data[i*512:(i+1)*512], buf)
	}
}

func TestWriteIsRefused(t *testing.T) {
	path, _ := writeBacking(t, 512)
	r, err := Open(path, 512, nil)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Write([]byte("nope"))
	require.Error(t, err)
}

func TestOpenMissingDeviceFails(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent"), 512, nil)
	require.Error(t, err)
}

func TestResolveMFTIndexSeeks(t *testing.T) {
	path, data := writeBacking(t, 4096*8)
	r, err := Open(path, 4096, nil)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.ResolveMFTIndex(4096, 1024, 3))
	buf := make([]byte, 8)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	require.Equal(t, data[4096+3*1024:4096+3*1024+8], buf)
}

func TestVolumePathPerPlatform(t *testing.T) {
	require.Equal(t, `\\.\C:`, VolumePath(platform.Windows, "C"))
	require.Equal(t, "/dev/rdisk2", VolumePath(platform.Macos, "disk2"))
	require.Equal(t, "/dev/sda1", VolumePath(platform.Linux, "sda1"))
}
