/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package fsutil backs the "files" artifact: a WalkDir-style preorder
// traversal that emits one model.FileInfo per visited entry, with
// github.com/gobwas/glob include/exclude path filters and single-pass
// multi-hash support.
package fsutil

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"

	"github.com/gravwell/artemis-collector/internal/byteprim"
	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
	"github.com/gravwell/artemis-collector/internal/model"
)

// HashSet selects which of MD5/SHA1/SHA256 to compute per visited file.
type HashSet struct {
	MD5, SHA1, SHA256 bool
}

// WalkOptions configures one fsutil.Walk call.
type WalkOptions struct {
	Root      string
	MaxDepth  int // 0 means unbounded
	Include   glob.Glob
	Exclude   glob.Glob
	Hashes    HashSet
	FollowSymlinks bool
}

// Walk emits one model.FileInfo per visited entry in WalkDir preorder,
// calling emit for each. A single unreadable entry is warned and skipped;
// only a failure to open the root itself returns an error.
func Walk(opts WalkOptions, lg *log.Logger, emit func(model.FileInfo)) error {
	if lg == nil {
		lg = log.NewDiscard()
	}
	if _, err := os.Lstat(opts.Root); err != nil {
		return errs.ErrSourceUnavailable
	}

	return filepath.WalkDir(opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			lg.Warnf("fsutil: skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		depth := relDepth(opts.Root, path)
		if opts.MaxDepth > 0 && depth > opts.MaxDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if opts.Exclude != nil && opts.Exclude.Match(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if opts.Include != nil && !d.IsDir() && !opts.Include.Match(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			lg.Warnf("fsutil: stat failed for %s: %v", path, err)
			return nil
		}
		fi := toFileInfo(path, info, depth, opts.Hashes, lg)
		emit(fi)
		return nil
	})
}

func relDepth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return 0
	}
	if rel == "." {
		return 0
	}
	depth := 1
	for _, c := range rel {
		if c == filepath.Separator {
			depth++
		}
	}
	return depth
}

func toFileInfo(path string, info fs.FileInfo, depth int, hashes HashSet, lg *log.Logger) model.FileInfo {
	mode := info.Mode()
	fi := model.FileInfo{
		FullPath:  path,
		Directory: filepath.Dir(path),
		Filename:  info.Name(),
		Extension: filepath.Ext(info.Name()),
		Size:      info.Size(),
		IsDir:     mode.IsDir(),
		IsSymlink: mode&os.ModeSymlink != 0,
		IsFile:    mode.IsRegular(),
		Depth:     depth,
		Modified:  byteprim.UnixToISO8601(info.ModTime().Unix(), int64(info.ModTime().Nanosecond())),
	}
	fillPlatformStat(&fi, info)

	if fi.IsFile && (hashes.MD5 || hashes.SHA1 || hashes.SHA256) {
		if err := fillHashes(&fi, path, hashes); err != nil {
			lg.Warnf("fsutil: hashing failed for %s: %v", path, err)
		}
	}
	return fi
}

// fillHashes computes the requested subset of MD5/SHA1/SHA256 over the
// file's contents in a single pass. Hash fields are left empty, never
// partial, on any read failure.
func fillHashes(fi *model.FileInfo, path string, hashes HashSet) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sums, err := HashFile(f, hashes)
	if err != nil {
		return err
	}
	fi.MD5 = sums["md5"]
	fi.SHA1 = sums["sha1"]
	fi.SHA256 = sums["sha256"]
	return nil
}

// CompileGlob compiles a glob pattern, returning nil (meaning "match
// everything"/"match nothing is caller's job") for an empty pattern.
func CompileGlob(pattern string) (glob.Glob, error) {
	if pattern == "" {
		return nil, nil
	}
	return glob.Compile(pattern, '/')
}

// HashFile computes the requested subset of MD5/SHA1/SHA256 over r in a
// single pass, keyed by algorithm name, for callers (the script host's
// `hash_file` binding) that have an open single file rather than a walk
// target.
func HashFile(r io.Reader, hashes HashSet) (map[string]string, error) {
	var writers []io.Writer
	md5h, sha1h, sha256h := md5.New(), sha1.New(), sha256.New()
	if hashes.MD5 {
		writers = append(writers, md5h)
	}
	if hashes.SHA1 {
		writers = append(writers, sha1h)
	}
	if hashes.SHA256 {
		writers = append(writers, sha256h)
	}
	if len(writers) == 0 {
		return map[string]string{}, nil
	}
	if _, err := io.Copy(io.MultiWriter(writers...), r); err != nil {
		return nil, err
	}
	out := make(map[string]string, 3)
	if hashes.MD5 {
		out["md5"] = hex.EncodeToString(md5h.Sum(nil))
	}
	if hashes.SHA1 {
		out["sha1"] = hex.EncodeToString(sha1h.Sum(nil))
	}
	if hashes.SHA256 {
		out["sha256"] = hex.EncodeToString(sha256h.Sum(nil))
	}
	return out, nil
}
