//go:build linux

package fsprobe

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// filesystems known to support reflink/CoW clones via FICLONE.
var cowCapableMagic = map[int64]bool{
	0x9123683E: true, // Btrfs
	0x58465342: true, // XFS (with reflink=1)
	0x794C7630: true, // OverlayFS
}

func probeCOW(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	return cowCapableMagic[int64(st.Type)]
}

func statDevice(path string) (uint64, bool) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, false
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(st.Dev), true
}

func linkCountOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Nlink)
	}
	return 1
}

func sparseRegionsOf(path string) ([]Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	fd := int(f.Fd())
	var regions []Region
	var offset int64
	for offset < size {
		dataStart, err := unix.Seek(fd, offset, unix.SEEK_DATA)
		if err != nil {
			// ENXIO means no more data; SEEK_HOLE/DATA unsupported falls
			// back to treating the whole file as one allocated region.
			if len(regions) == 0 {
				regions = append(regions, Region{Offset: 0, Length: size})
			}
			return regions, nil
		}
		holeStart, err := unix.Seek(fd, dataStart, unix.SEEK_HOLE)
		if err != nil {
			holeStart = size
		}
		regions = append(regions, Region{Offset: dataStart, Length: holeStart - dataStart})
		offset = holeStart
	}
	return regions, nil
}

// CloneFile attempts a reflink clone of src into dst via the FICLONE
// ioctl, returning false (not an error) if the filesystem doesn't
// support it so the caller can fall back to a regular copy.
func CloneFile(dst, src *os.File) (bool, error) {
	err := unix.IoctlFileClone(int(dst.Fd()), int(src.Fd()))
	if err != nil {
		return false, nil
	}
	return true, nil
}
