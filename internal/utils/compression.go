package utils

import (
	"bytes"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
)

// NewGzipWriter returns a gzip writer at best compression whose member header
// carries epoch as its timestamp instead of the wall clock, so that equal
// input always compresses to equal bytes.
func NewGzipWriter(w io.Writer, epoch int64) (*gzip.Writer, error) {
	gw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	gw.ModTime = time.Unix(epoch, 0)
	return gw, nil
}

// GzipCompress compresses data into a single gzip member stamped with epoch.
func GzipCompress(data []byte, epoch int64) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewGzipWriter(&buf, epoch)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
