package archive

import (
	"archive/tar"
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"os"

	"github.com/ralt/apkbuild/internal/filelist"
	"github.com/ralt/apkbuild/internal/models"
	"github.com/ralt/apkbuild/internal/utils"
	"github.com/sirupsen/logrus"
)

// WriteDataSegment writes the gzip'd data archive of files to w. The root
// entry is skipped and directories are added without their children; every
// entry is normalized and regular files and symlinks carry their SHA-1.
func WriteDataSegment(ctx context.Context, w io.Writer, files filelist.List, n *Normalizer) error {
	gw, err := utils.NewGzipWriter(w, n.Epoch())
	if err != nil {
		return err
	}
	tw := tar.NewWriter(gw)

	// first archived name of every multiply-linked inode
	links := make(map[filelist.Inode]string)

	for _, e := range files {
		if e.Name == "" {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := addDataEntry(tw, e, n, links); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return &models.BuildError{Type: models.ErrArchive, Err: err}
	}
	if err := gw.Close(); err != nil {
		return &models.BuildError{Type: models.ErrArchive, Err: err}
	}
	return nil
}

func addDataEntry(tw *tar.Writer, e filelist.Entry, n *Normalizer, links map[filelist.Inode]string) error {
	fi, err := os.Lstat(e.Path)
	if err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: e.Path, Err: err}
	}

	if fi.Mode()&os.ModeSocket != 0 {
		logrus.Warnf("Skipping %s since it is a socket", e.Name)
		return nil
	}

	var link string
	if fi.Mode()&os.ModeSymlink != 0 {
		link, err = os.Readlink(e.Path)
		if err != nil {
			return &models.BuildError{Type: models.ErrFileSystem, Path: e.Path, Err: err}
		}
	}

	hdr, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return &models.BuildError{Type: models.ErrArchive, Path: e.Path, Err: err}
	}
	hdr.Name = e.Name
	if fi.IsDir() {
		hdr.Name += "/"
	}

	var checksum string
	switch {
	case fi.Mode().IsRegular():
		st, err := filelist.Lstat(e.Path)
		if err != nil {
			return &models.BuildError{Type: models.ErrFileSystem, Path: e.Path, Err: err}
		}
		if st.Nlink > 1 {
			if first, ok := links[st.Inode()]; ok {
				hdr.Typeflag = tar.TypeLink
				hdr.Linkname = first
				hdr.Size = 0
				break
			}
			links[st.Inode()] = e.Name
		}

		checksum, err = utils.HashFile(e.Path, sha1.New())
		if err != nil {
			return &models.BuildError{Type: models.ErrFileSystem, Path: e.Path, Err: fmt.Errorf("failed to hash: %w", err)}
		}
	case fi.Mode()&os.ModeSymlink != 0:
		checksum = utils.SHA1Hex([]byte(link))
	}

	logrus.Debugf("Adding %s", hdr.Name)

	if err := tw.WriteHeader(n.WithChecksum(hdr, checksum)); err != nil {
		return &models.BuildError{Type: models.ErrArchive, Path: e.Path, Err: err}
	}

	if hdr.Typeflag != tar.TypeReg || hdr.Size == 0 {
		return nil
	}
	return copyContent(tw, e.Path, hdr.Size)
}

// copyContent streams a regular file into the current tar entry.
func copyContent(tw *tar.Writer, path string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: path, Err: err}
	}
	defer f.Close()

	buf := make([]byte, utils.ChunkSize)
	written, err := io.CopyBuffer(tw, io.LimitReader(f, size), buf)
	if err != nil {
		return &models.BuildError{Type: models.ErrArchive, Path: path, Err: err}
	}
	if written != size {
		return &models.BuildError{Type: models.ErrFileSystem, Path: path, Err: fmt.Errorf("file changed size while archiving: expected %d bytes, read %d", size, written)}
	}
	return nil
}
