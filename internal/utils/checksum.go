package utils

import (
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// ChunkSize is the read size used when streaming file contents.
const ChunkSize = 16 * 1024

// HashReader streams r through h in ChunkSize reads and returns the hex digest.
func HashReader(r io.Reader, h hash.Hash) (string, error) {
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the hex digest of the file at path.
func HashFile(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return HashReader(f, h)
}

// SHA1Hex returns the hex SHA-1 of data.
func SHA1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
