/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

//go:build linux || darwin

package fsutil

import (
	"io/fs"
	"syscall"

	"github.com/gravwell/artemis-collector/internal/model"
)

// fillPlatformStat populates the uid/gid/inode/mode fields syscall.Stat_t
// exposes on Unix platforms.
func fillPlatformStat(fi *model.FileInfo, info fs.FileInfo) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	fi.Inode = uint64(st.Ino)
	fi.Mode = uint32(st.Mode)
	fi.UID = st.Uid
	fi.GID = st.Gid
}
