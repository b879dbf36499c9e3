package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ralt/apkbuild/internal/models"
)

// PKGInfoName is the name of the control record inside the control segment.
const PKGInfoName = ".PKGINFO"

// ScriptletSuffixes lists the lifecycle hooks apk runs.
var ScriptletSuffixes = []string{
	"pre-install",
	"pre-upgrade",
	"pre-deinstall",
	"post-install",
	"post-upgrade",
	"post-deinstall",
	"trigger",
}

// Scriptlet is a lifecycle hook found on disk.
type Scriptlet struct {
	Suffix string // e.g. "post-install"
	Path   string
}

// ArchiveName is the name of the scriptlet inside the control segment.
func (s Scriptlet) ArchiveName() string {
	return "." + s.Suffix
}

// FindScriptlets returns the hooks of pkgname present in dir, sorted by
// suffix. A missing dir holds no scriptlets.
func FindScriptlets(dir, pkgname string) ([]Scriptlet, error) {
	if dir == "" {
		return nil, nil
	}

	var found []Scriptlet
	for _, suffix := range ScriptletSuffixes {
		path := filepath.Join(dir, pkgname+"."+suffix)
		st, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, &models.BuildError{Type: models.ErrFileSystem, Path: path, Err: err}
		}
		if !st.Mode().IsRegular() {
			continue
		}
		found = append(found, Scriptlet{Suffix: suffix, Path: path})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].ArchiveName() < found[j].ArchiveName()
	})
	return found, nil
}

// WriteControlSegment packs the control record and the scriptlets into an
// uncompressed tar stream, end-of-archive marker included.
func WriteControlSegment(pkginfo []byte, scriptlets []Scriptlet, n *Normalizer) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	hdr := n.Normalize(&tar.Header{
		Name:     PKGInfoName,
		Typeflag: tar.TypeReg,
		Mode:     0644,
		Size:     int64(len(pkginfo)),
	})
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, &models.BuildError{Type: models.ErrArchive, Err: err}
	}
	if _, err := tw.Write(pkginfo); err != nil {
		return nil, &models.BuildError{Type: models.ErrArchive, Err: err}
	}

	for _, s := range scriptlets {
		if err := addScriptlet(tw, s, n); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, &models.BuildError{Type: models.ErrArchive, Err: err}
	}
	return buf.Bytes(), nil
}

func addScriptlet(tw *tar.Writer, s Scriptlet, n *Normalizer) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: s.Path, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: s.Path, Err: err}
	}

	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return &models.BuildError{Type: models.ErrArchive, Path: s.Path, Err: err}
	}
	hdr.Name = s.ArchiveName()

	if err := tw.WriteHeader(n.Scriptlet(hdr)); err != nil {
		return &models.BuildError{Type: models.ErrArchive, Path: s.Path, Err: err}
	}
	written, err := io.Copy(tw, io.LimitReader(f, hdr.Size))
	if err != nil {
		return &models.BuildError{Type: models.ErrArchive, Path: s.Path, Err: err}
	}
	if written != hdr.Size {
		return &models.BuildError{Type: models.ErrFileSystem, Path: s.Path, Err: fmt.Errorf("short read: %d of %d bytes", written, hdr.Size)}
	}
	return nil
}
