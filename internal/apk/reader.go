package apk

import (
	"archive/tar"
	"bufio"
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ralt/apkbuild/internal/archive"
	"github.com/ralt/apkbuild/internal/models"
	"github.com/ralt/apkbuild/internal/pkginfo"
	"github.com/ralt/apkbuild/internal/utils"
)

const signaturePrefix = ".SIGN."

// DataEntry is one data segment entry with its recorded and computed
// checksums. Entries without content (directories, hard links) carry neither.
type DataEntry struct {
	Name     string
	Typeflag byte
	Recorded string
	Computed string
}

// Package is a package file read back from disk.
type Package struct {
	Info *models.Package

	// Scriptlets holds the control entry names other than .PKGINFO
	Scriptlets []string

	// SignatureName is the signature entry name, empty when unsigned
	SignatureName string
	Signature     []byte

	// Control is the compressed control segment exactly as stored
	Control []byte
	// DataHash is the SHA-256 of the compressed data segment as stored
	DataHash string

	Entries []DataEntry
}

// segmentReader feeds the gzip reader byte by byte so it never reads past the
// end of a member, and copies every consumed byte to sink.
type segmentReader struct {
	r    *bufio.Reader
	sink io.Writer
}

func (s *segmentReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.sink.Write(p[:n])
	}
	return n, err
}

func (s *segmentReader) ReadByte() (byte, error) {
	b, err := s.r.ReadByte()
	if err == nil {
		s.sink.Write([]byte{b})
	}
	return b, err
}

// Open reads a package file in a single streaming pass.
func Open(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &models.BuildError{Type: models.ErrFileSystem, Path: path, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &models.BuildError{Type: models.ErrFileSystem, Path: path, Err: err}
	}

	pkg, err := Read(f)
	if err != nil {
		return nil, &models.BuildError{Type: models.ErrPackageParse, Path: path, Err: err}
	}
	pkg.Info.Size = fi.Size()
	return pkg, nil
}

// Read parses the gzip members of a package stream: an optional signature
// block, the control segment and the data segment.
func Read(r io.Reader) (*Package, error) {
	var first bytes.Buffer
	sr := &segmentReader{r: bufio.NewReaderSize(r, utils.ChunkSize), sink: &first}

	zr, err := gzip.NewReader(sr)
	if err != nil {
		return nil, fmt.Errorf("failed to read first segment: %w", err)
	}
	defer zr.Close()
	zr.Multistream(false)

	firstTar, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress first segment: %w", err)
	}

	pkg := &Package{}
	controlRaw := first.Bytes()
	controlTar := firstTar

	name, content, err := firstEntry(firstTar)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(name, signaturePrefix) {
		pkg.SignatureName = name
		pkg.Signature = content

		var control bytes.Buffer
		sr.sink = &control
		if err := zr.Reset(sr); err != nil {
			return nil, fmt.Errorf("missing control segment: %w", err)
		}
		zr.Multistream(false)
		if controlTar, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("failed to decompress control segment: %w", err)
		}
		controlRaw = control.Bytes()
	}
	pkg.Control = append([]byte(nil), controlRaw...)

	if err := pkg.readControl(controlTar); err != nil {
		return nil, err
	}

	hasher := sha256.New()
	sr.sink = hasher
	if err := zr.Reset(sr); err != nil {
		return nil, fmt.Errorf("missing data segment: %w", err)
	}
	zr.Multistream(false)
	if err := pkg.readData(zr); err != nil {
		return nil, err
	}
	// drain the member so its trailer reaches the hasher
	if _, err := io.Copy(io.Discard, zr); err != nil {
		return nil, fmt.Errorf("failed to decompress data segment: %w", err)
	}
	pkg.DataHash = hex.EncodeToString(hasher.Sum(nil))

	sr.sink = io.Discard
	if err := zr.Reset(sr); err != io.EOF {
		if err == nil {
			return nil, errors.New("unexpected segment after data segment")
		}
		return nil, fmt.Errorf("trailing data after data segment: %w", err)
	}

	pkg.Info.ControlSHA1 = utils.SHA1Hex(pkg.Control)
	return pkg, nil
}

// firstEntry returns the name and content of the first entry of a tar stream.
func firstEntry(tarData []byte) (string, []byte, error) {
	tr := tar.NewReader(bytes.NewReader(tarData))
	hdr, err := tr.Next()
	if err != nil {
		return "", nil, fmt.Errorf("failed to read first entry: %w", err)
	}
	content, err := io.ReadAll(tr)
	if err != nil {
		return "", nil, err
	}
	return hdr.Name, content, nil
}

func (p *Package) readControl(tarData []byte) error {
	tr := tar.NewReader(bytes.NewReader(tarData))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read control segment: %w", err)
		}

		if hdr.Name != archive.PKGInfoName {
			p.Scriptlets = append(p.Scriptlets, hdr.Name)
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		if p.Info, err = pkginfo.Parse(data); err != nil {
			return fmt.Errorf("invalid %s: %w", archive.PKGInfoName, err)
		}
	}

	if p.Info == nil {
		return fmt.Errorf("%s not found in control segment", archive.PKGInfoName)
	}
	return nil
}

func (p *Package) readData(r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read data segment: %w", err)
		}

		e := DataEntry{
			Name:     hdr.Name,
			Typeflag: hdr.Typeflag,
			Recorded: hdr.PAXRecords[archive.ChecksumRecord],
		}
		switch hdr.Typeflag {
		case tar.TypeReg:
			if e.Computed, err = utils.HashReader(tr, sha1.New()); err != nil {
				return fmt.Errorf("failed to read %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			e.Computed = utils.SHA1Hex([]byte(hdr.Linkname))
		}
		p.Entries = append(p.Entries, e)
	}
}
