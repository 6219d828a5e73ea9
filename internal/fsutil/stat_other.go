/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

//go:build !linux && !darwin

package fsutil

import (
	"io/fs"

	"github.com/gravwell/artemis-collector/internal/model"
)

// fillPlatformStat sets only Mode on platforms other than Linux and Darwin;
// inode/uid/gid stay 0 there.
func fillPlatformStat(fi *model.FileInfo, info fs.FileInfo) {
	fi.Mode = uint32(info.Mode())
}
