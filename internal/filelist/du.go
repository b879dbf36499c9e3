package filelist

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Stat is the subset of lstat(2) the builders need.
type Stat struct {
	Dev    uint64
	Ino    uint64
	Nlink  uint64
	Blocks int64 // 512-byte units
	Mode   uint32
}

// Inode identifies a file across hard links.
type Inode struct {
	Dev uint64
	Ino uint64
}

// Inode returns the identity of the stat'ed object.
func (s Stat) Inode() Inode {
	return Inode{Dev: s.Dev, Ino: s.Ino}
}

// IsDir reports whether the object is a directory.
func (s Stat) IsDir() bool {
	return s.Mode&unix.S_IFMT == unix.S_IFDIR
}

// IsSymlink reports whether the object is a symbolic link.
func (s Stat) IsSymlink() bool {
	return s.Mode&unix.S_IFMT == unix.S_IFLNK
}

// Lstat stats path without following a final symlink.
func Lstat(path string) (Stat, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return Stat{}, err
	}
	return Stat{
		Dev:    uint64(st.Dev),
		Ino:    uint64(st.Ino),
		Nlink:  uint64(st.Nlink),
		Blocks: int64(st.Blocks),
		Mode:   uint32(st.Mode),
	}, nil
}

// DiskUsage estimates the installed size of the listed entries in bytes, the
// way `du -ks` followed by *1024 would. Hard-linked files are counted once.
//
// A size of 0 marks a virtual package to apk, so a non-empty list never
// reports 0; an empty list does.
func DiskUsage(list List) (int64, error) {
	seen := make(map[Inode]bool)

	var kib int64
	for _, e := range list {
		st, err := Lstat(e.Path)
		if err != nil {
			return 0, fmt.Errorf("failed to stat %s: %w", e.Path, err)
		}

		if !st.IsDir() && !st.IsSymlink() {
			if seen[st.Inode()] {
				continue
			}
			seen[st.Inode()] = true
		}
		kib += st.Blocks / 2
	}

	size := kib * 1024
	if size == 0 && len(list) > 0 {
		size = 1
	}
	return size, nil
}
