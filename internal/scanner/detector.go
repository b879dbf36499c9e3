package scanner

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// IndexName is the file name of a repository index
const IndexName = "APKINDEX.tar.gz"

// Gzip magic bytes; packages and indexes are both concatenated gzip members
var gzipMagic = []byte{0x1F, 0x8B}

// DetectPackageType determines the package type based on magic bytes and file name
func DetectPackageType(path string) (PackageType, error) {
	f, err := os.Open(path)
	if err != nil {
		return TypeUnknown, err
	}
	defer f.Close()

	header := make([]byte, len(gzipMagic))
	n, err := io.ReadFull(f, header)
	if err != nil && n == 0 {
		if err == io.EOF {
			return TypeUnknown, nil
		}
		return TypeUnknown, err
	}
	if !bytes.Equal(header[:n], gzipMagic) {
		return TypeUnknown, nil
	}

	switch {
	case filepath.Base(path) == IndexName:
		return TypeIndex, nil
	case filepath.Ext(path) == ".apk":
		return TypeApk, nil
	}
	return TypeUnknown, nil
}
