/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package rawdisk implements the raw-volume reader: a seekable byte
// stream over a volume device (or a backing file in tests),
// aligned to a sector size, with a small bounded sector cache so NTFS
// traversal doesn't re-read the same MFT sectors from the block device.
package rawdisk

import (
	"io"
	"os"

	"github.com/gravwell/artemis-collector/internal/errs"
	"github.com/gravwell/artemis-collector/internal/log"
	"github.com/gravwell/artemis-collector/internal/platform"
)

const (
	DefaultSectorSize = 4096
	defaultCacheDepth = 64
)

// ErrReadOnly is returned by Write; raw volumes are read-only in this collector.
var ErrReadOnly = errs.ErrSourceUnavailable

// VolumePath returns the platform-appropriate device path for a raw volume
// identifier (e.g. "C" on Windows, "disk2" on macOS/Linux).
func VolumePath(p platform.Platform, ident string) string {
	switch p {
	case platform.Windows:
		return `\\.\` + ident + `:`
	case platform.Macos:
		return "/dev/r" + ident
	default:
		return "/dev/" + ident
	}
}

// Reader is a Seek+Read view over a block device, or any file, aligned to
// sectorSize, backed by a small FIFO sector cache.
type Reader struct {
	f          *os.File
	sectorSize int
	pos        int64
	size       int64

	cacheOrder []int64          // FIFO eviction order
	cache      map[int64][]byte // sector index -> sector bytes
	lg         *log.Logger
}

// Open opens path (a device node or a plain file standing in for one in
// tests) for raw, sector-aligned reads.
func Open(path string, sectorSize int, lg *log.Logger) (*Reader, error) {
	if sectorSize <= 0 {
		sectorSize = DefaultSectorSize
	}
	if lg == nil {
		lg = log.NewDiscard()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.ErrSourceUnavailable
	}
	var size int64
	if fi, serr := f.Stat(); serr == nil {
		size = fi.Size()
	}
	return &Reader{
		f:          f,
		sectorSize: sectorSize,
		size:       size,
		cache:      make(map[int64][]byte, defaultCacheDepth),
		lg:         lg,
	}, nil
}

func (r *Reader) Close() error { return r.f.Close() }

func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var np int64
	switch whence {
	case io.SeekStart:
		np = offset
	case io.SeekCurrent:
		np = r.pos + offset
	case io.SeekEnd:
		np = r.size + offset
	default:
		return r.pos, os.ErrInvalid
	}
	if np < 0 {
		return r.pos, os.ErrInvalid
	}
	r.pos = np
	return r.pos, nil
}

// Write always fails; raw volumes are never written.
func (r *Reader) Write([]byte) (int, error) { return 0, ErrReadOnly }

func (r *Reader) Read(p []byte) (n int, err error) {
	n, err = r.ReadAt(p, r.pos)
	r.pos += int64(n)
	return
}

// ReadAt splits the requested range into aligned sector fetches, serving
// each from the cache when possible.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	want := len(p)
	written := 0
	for written < want {
		abs := off + int64(written)
		sectorIdx := abs / int64(r.sectorSize)
		sectorOff := int(abs % int64(r.sectorSize))

		sec, err := r.sector(sectorIdx)
		if err != nil {
			if written > 0 {
				return written, nil
			}
			return 0, err
		}
		n := copy(p[written:], sec[sectorOff:])
		if n == 0 {
			break
		}
		written += n
	}
	if written < want {
		return written, io.EOF
	}
	return written, nil
}

func (r *Reader) sector(idx int64) ([]byte, error) {
	if data, ok := r.cache[idx]; ok {
		return data, nil
	}
	buf := make([]byte, r.sectorSize)
	n, err := r.f.ReadAt(buf, idx*int64(r.sectorSize))
	if err != nil && n == 0 {
		return nil, errs.ErrSourceUnavailable
	}
	buf = buf[:n]
	r.pushSector(idx, buf)
	return buf, nil
}

func (r *Reader) pushSector(idx int64, data []byte) {
	if len(r.cacheOrder) >= defaultCacheDepth {
		oldest := r.cacheOrder[0]
		r.cacheOrder = r.cacheOrder[1:]
		delete(r.cache, oldest)
	}
	r.cacheOrder = append(r.cacheOrder, idx)
	r.cache[idx] = data
}

// ResolveMFTIndex seeks to the byte offset of the MFT entry with the given
// index, given the bytes-per-MFT-record of the volume (usually 1024).
func (r *Reader) ResolveMFTIndex(mftStart int64, recordSize int, index int64) error {
	_, err := r.Seek(mftStart+index*int64(recordSize), io.SeekStart)
	return err
}

// SectorSize reports the configured sector alignment.
func (r *Reader) SectorSize() int { return r.sectorSize }
